package manifest_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kopia/imageintact/manifest"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))
}

func TestBuild_FreshCopy(t *testing.T) {
	src := t.TempDir()

	writeFile(t, filepath.Join(src, "a.jpg"), 1<<20)
	writeFile(t, filepath.Join(src, "video", "b.mov"), 2<<20)
	writeFile(t, filepath.Join(src, "c.nef"), 25<<20)
	writeFile(t, filepath.Join(src, ".DS_Store"), 10)
	writeFile(t, filepath.Join(src, "node_modules", "x.jpg"), 10)

	classifier := manifest.NewDefaultClassifier()

	opts := manifest.BuildOptions{
		SourceRoot: src,
		Exclusion:  manifest.NewExclusionPolicy(true, true, classifier),
		Filter:     manifest.NewTypeFilter(nil),
		Classifier: classifier,
	}

	m, err := manifest.Build(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, 3, m.Len())

	byPath := map[string]manifest.Entry{}
	for _, e := range m.Entries() {
		byPath[e.RelativePath] = e
	}

	require.Contains(t, byPath, "a.jpg")
	require.Contains(t, byPath, "video/b.mov")
	require.Contains(t, byPath, "c.nef")
}

func TestBuild_FilteredByExtension(t *testing.T) {
	src := t.TempDir()

	writeFile(t, filepath.Join(src, "a.jpg"), 1024)
	writeFile(t, filepath.Join(src, "c.nef"), 1024)

	classifier := manifest.NewDefaultClassifier()

	opts := manifest.BuildOptions{
		SourceRoot: src,
		Exclusion:  manifest.NewExclusionPolicy(true, true, classifier),
		Filter:     manifest.NewTypeFilter([]string{"nef"}),
		Classifier: classifier,
	}

	m, err := manifest.Build(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())
	require.Equal(t, "c.nef", m.Entries()[0].RelativePath)
}

func TestBuild_Deterministic(t *testing.T) {
	src := t.TempDir()

	for i := 0; i < 20; i++ {
		writeFile(t, filepath.Join(src, "dir", string(rune('a'+i))+".jpg"), 1024)
	}

	classifier := manifest.NewDefaultClassifier()
	opts := manifest.BuildOptions{
		SourceRoot: src,
		Exclusion:  manifest.NewExclusionPolicy(true, true, classifier),
		Filter:     manifest.NewTypeFilter(nil),
		Classifier: classifier,
	}

	m1, err := manifest.Build(context.Background(), opts)
	require.NoError(t, err)

	m2, err := manifest.Build(context.Background(), opts)
	require.NoError(t, err)

	require.Equal(t, m1.Entries(), m2.Entries())
}

func TestBuild_EmptyFileSentinel(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "empty.jpg"), 0)

	classifier := manifest.NewDefaultClassifier()
	opts := manifest.BuildOptions{
		SourceRoot: src,
		Exclusion:  manifest.NewExclusionPolicy(true, true, classifier),
		Filter:     manifest.NewTypeFilter(nil),
		Classifier: classifier,
	}

	m, err := manifest.Build(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())
	require.Equal(t, "empty-file-0-bytes", m.Entries()[0].Digest)
}
