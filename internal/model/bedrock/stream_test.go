package bedrock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeref32ReturnsZeroForNil(t *testing.T) {
	require.Equal(t, int32(0), deref32(nil))
}

func TestDeref32ReturnsPointee(t *testing.T) {
	v := int32(42)
	require.Equal(t, int32(42), deref32(&v))
}
