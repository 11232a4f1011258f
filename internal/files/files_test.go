package files

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "registry.json")

	require.NoError(t, WriteFileAtomic(path, []byte(`{"versions":[]}`), 0644))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"versions":[]}`, string(data))

	require.NoError(t, WriteFileAtomic(path, []byte(`{"versions":["v1"]}`), 0644))
	data, _ = os.ReadFile(path)
	assert.Equal(t, `{"versions":["v1"]}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestWriteAtomic_FailureKeepsOriginal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	require.NoError(t, WriteFileAtomic(path, []byte("old"), 0644))

	err := WriteAtomic(path, 0644, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errors.New("boom")
	})
	require.Error(t, err)

	data, _ := os.ReadFile(path)
	assert.Equal(t, "old", string(data))
	assert.True(t, FileExists(path))
}

func TestDiscovery(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)

	for i, name := range []string{"b.csv", "a.xlsx", "notes.txt"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
		stamp := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, stamp, stamp))
	}
	for i, name := range []string{"v2", "v1"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.Mkdir(path, 0755))
		stamp := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, stamp, stamp))
	}

	datasets, err := FindDatasets(dir)
	require.NoError(t, err)
	require.Len(t, datasets, 2)
	assert.Equal(t, "b.csv", datasets[0].Name)
	assert.Equal(t, "a.xlsx", datasets[1].Name)

	dirs, err := ListDirectories(dir)
	require.NoError(t, err)
	require.Len(t, dirs, 2)
	assert.Equal(t, "v2", dirs[0].Name)
	assert.True(t, dirs[0].IsDir)

	latest, ok, err := LatestDataset(dir)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "a.xlsx"), latest)

	single, ok, err := LatestDataset(filepath.Join(dir, "b.csv"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "b.csv"), single)

	_, ok = GetLatestFile(nil)
	assert.False(t, ok)
}
