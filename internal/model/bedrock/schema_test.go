package bedrock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDocumentFromRawDefaultsOnEmptyInput(t *testing.T) {
	doc := documentFromRaw(nil)
	require.NotNil(t, doc)
}

func TestDocumentFromRawParsesObject(t *testing.T) {
	doc := documentFromRaw([]byte(`{"type":"object","properties":{"path":{"type":"string"}}}`))
	require.NotNil(t, doc)
}
