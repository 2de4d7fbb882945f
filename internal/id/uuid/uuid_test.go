package uuid

import (
	"testing"

	guuid "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	g := New()
	a, err := g.NewID()
	require.NoError(t, err)
	require.NotEqual(t, guuid.Nil, a)

	b, err := g.NewID()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.Equal(t, guuid.Version(7), a.Version())
}
