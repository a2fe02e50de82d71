package anthropic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tenex-chat/tenex-kernel/internal/kernelerrors"
)

func TestSanitizeToolNameReplacesDisallowedRunes(t *testing.T) {
	require.Equal(t, "list_files", sanitizeToolName("list_files"))
	require.Equal(t, "list_files_v2", sanitizeToolName("list files.v2"))
	require.Equal(t, "a_b_c", sanitizeToolName("a/b c"))
}

func TestTranslateErrWrapsAsStreamInterrupt(t *testing.T) {
	cause := kernelerrors.New(kernelerrors.KindExecution, "boom")
	wrapped := translateErr(cause)
	require.Error(t, wrapped)
	kerr, ok := wrapped.(*kernelerrors.Error)
	require.True(t, ok)
	require.Equal(t, kernelerrors.KindStreamInterrupt, kerr.Kind)
}
