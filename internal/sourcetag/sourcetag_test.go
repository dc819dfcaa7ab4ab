package sourcetag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRemove(t *testing.T) {
	root := t.TempDir()

	ok, err := IsTaggedAsSource(root)
	require.NoError(t, err)
	require.False(t, ok)

	m, err := Write(root, "1.0.0")
	require.NoError(t, err)
	require.NotEmpty(t, m.SourceID)
	require.NotEmpty(t, m.TaggedDate)
	require.Equal(t, "1.0.0", m.AppVersion)

	got, ok, err := Read(root)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, m, got)

	require.NoError(t, Remove(root))

	ok, err = IsTaggedAsSource(root)
	require.NoError(t, err)
	require.False(t, ok)
}
