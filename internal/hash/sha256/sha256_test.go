package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashIsDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.Hash([]byte("<html>corpus</html>"))
	require.NoError(t, err)
	b, err := h.Hash([]byte("<html>corpus</html>"))
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, 64)

	c, err := h.Hash([]byte("<html>other</html>"))
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}
