package fingerprint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/dirsync/internal/syncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, time.June, 3, 10, 0, 0, 0, time.Local)

// newTree builds root/{a/b, c} with files and pins every directory mtime to base.
func newTree(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "foo")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "c"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b", "note.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("top"), 0o644))

	for _, d := range []string{root, filepath.Join(root, "a"), filepath.Join(root, "a", "b"), filepath.Join(root, "c")} {
		require.NoError(t, os.Chtimes(d, base, base))
	}
	return root
}

func TestCompute_Deterministic(t *testing.T) {
	root := newTree(t)

	first, err := Compute(root)
	require.NoError(t, err)
	second, err := Compute(root)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "Tue Jun  3 10:00:00 2025", first)
}

func TestCompute_TakesMaxAcrossDirectories(t *testing.T) {
	root := newTree(t)
	later := base.Add(3 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "a", "b"), later, later))

	fp, err := Compute(root)
	require.NoError(t, err)
	assert.Equal(t, Format(later), fp)
}

func TestCompute_NewSubdirectoryChangesFingerprint(t *testing.T) {
	root := newTree(t)
	before, err := Compute(root)
	require.NoError(t, err)

	require.NoError(t, os.Mkdir(filepath.Join(root, "c", "new"), 0o755))
	// mkdir bumps c's mtime to now, well past the pinned base
	after, err := Compute(root)
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
}

func TestCompute_FileMtimesIgnored(t *testing.T) {
	root := newTree(t)
	before, err := Compute(root)
	require.NoError(t, err)

	// rewrite an existing file in place; its directory mtime is restored so only
	// the file itself looks modified
	note := filepath.Join(root, "a", "b", "note.txt")
	require.NoError(t, os.WriteFile(note, []byte("changed content"), 0o644))
	future := base.Add(24 * time.Hour)
	require.NoError(t, os.Chtimes(note, future, future))
	require.NoError(t, os.Chtimes(filepath.Join(root, "a", "b"), base, base))

	after, err := Compute(root)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCompute_Errors(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		_, err := Compute(filepath.Join(t.TempDir(), "missing"))
		assert.ErrorIs(t, err, syncerr.ErrFilesystem)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("root is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file.txt")
		require.NoError(t, os.WriteFile(file, nil, 0o644))

		_, err := Compute(file)
		assert.ErrorIs(t, err, syncerr.ErrFilesystem)
	})
}

func TestSentinelNeverMatches(t *testing.T) {
	fp, err := Compute(newTree(t))
	require.NoError(t, err)
	assert.NotEqual(t, Sentinel, fp)
}
