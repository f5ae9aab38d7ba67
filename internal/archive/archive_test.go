package archive

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/openmined/dirsync/internal/syncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeka/zip"
)

const password = "correct horse battery staple"

// tree: foo/{docs/{a.txt, deep/b.bin}, empty/, top.txt}
func newTree(t *testing.T) (string, map[string][]byte) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "foo")
	files := map[string][]byte{
		"docs/a.txt":      []byte("alpha"),
		"docs/deep/b.bin": bytes.Repeat([]byte{0x00, 0xff, 0x7f}, 4096),
		"top.txt":         []byte("top level"),
	}
	for name, data := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, data, 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	return root, files
}

func names(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func TestBuild_WalkOrderAndEntries(t *testing.T) {
	root, _ := newTree(t)
	out := filepath.Join(t.TempDir(), "out", "foo.zip")

	a, err := NewBuilder(out).Build(t.Context(), root, password)
	require.NoError(t, err)

	assert.Equal(t, out, a.Path)
	assert.Positive(t, a.Size)
	assert.Equal(t, 3, a.Files())
	// subdirectories first (pre-order), then files, relative to the root
	assert.Equal(t, []string{
		"docs/",
		"docs/deep/",
		"docs/deep/b.bin",
		"docs/a.txt",
		"empty/",
		"top.txt",
	}, names(a.Entries))
	assert.Equal(t, filepath.Join(root, "docs", "a.txt"), a.Entries[3].SourcePath)
	assert.NoFileExists(t, out+partSuffix)
}

func TestBuild_MembersEncrypted(t *testing.T) {
	root, _ := newTree(t)
	out := filepath.Join(t.TempDir(), "foo.zip")
	_, err := NewBuilder(out).Build(t.Context(), root, password)
	require.NoError(t, err)

	r, err := zip.OpenReader(out)
	require.NoError(t, err)
	defer r.Close()

	require.NotEmpty(t, r.File)
	for _, f := range r.File {
		assert.True(t, f.IsEncrypted(), f.Name)
	}
}

func TestExtract_DirectoriesOnlyWrongPassword(t *testing.T) {
	root := filepath.Join(t.TempDir(), "foo")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	out := filepath.Join(t.TempDir(), "foo.zip")
	a, err := NewBuilder(out).Build(t.Context(), root, "right")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/", "a/b/"}, names(a.Entries))

	dst := filepath.Join(t.TempDir(), "restore")
	_, err = Extract(out, "WRONG", dst)
	assert.ErrorIs(t, err, syncerr.ErrArchive)
	assert.NoDirExists(t, dst)

	_, err = List(out, "WRONG")
	assert.ErrorIs(t, err, syncerr.ErrArchive)

	_, err = Extract(out, "right", dst)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(dst, "a", "b"))
}

func TestRoundTrip_EmptyTree(t *testing.T) {
	root := filepath.Join(t.TempDir(), "foo")
	require.NoError(t, os.MkdirAll(root, 0o755))
	out := filepath.Join(t.TempDir(), "foo.zip")

	a, err := NewBuilder(out).Build(t.Context(), root, password)
	require.NoError(t, err)
	assert.Equal(t, []string{"./"}, names(a.Entries))
	assert.Zero(t, a.Files())

	dst := filepath.Join(t.TempDir(), "restore")
	extracted, err := Extract(out, password, dst)
	require.NoError(t, err)
	assert.Len(t, extracted, 1)
	restored, err := os.ReadDir(dst)
	require.NoError(t, err)
	assert.Empty(t, restored)

	other := filepath.Join(t.TempDir(), "other")
	_, err = Extract(out, "not the password", other)
	assert.ErrorIs(t, err, syncerr.ErrArchive)
	assert.NoDirExists(t, other)
}

func TestExtract_NoMembersIsEmptyTree(t *testing.T) {
	out := filepath.Join(t.TempDir(), "empty.zip")
	f, err := os.Create(out)
	require.NoError(t, err)
	require.NoError(t, zip.NewWriter(f).Close())
	require.NoError(t, f.Close())

	dst := filepath.Join(t.TempDir(), "restore")
	entries, err := Extract(out, password, dst)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.DirExists(t, dst)
}

func TestExtract_RefusesUnencryptedArchive(t *testing.T) {
	out := filepath.Join(t.TempDir(), "plain.zip")
	f, err := os.Create(out)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	_, err = zw.Create("a/")
	require.NoError(t, err)
	w, err := zw.Create("a/plain.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("plain"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	dst := filepath.Join(t.TempDir(), "restore")
	_, err = Extract(out, password, dst)
	assert.ErrorIs(t, err, syncerr.ErrArchive)
	assert.ErrorIs(t, err, ErrNotEncrypted)
	assert.NoDirExists(t, dst)

	_, err = List(out, password)
	assert.ErrorIs(t, err, ErrNotEncrypted)
}

func TestRoundTrip(t *testing.T) {
	root, files := newTree(t)
	out := filepath.Join(t.TempDir(), "foo.zip")
	built, err := NewBuilder(out).Build(t.Context(), root, password)
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "restore")
	extracted, err := Extract(out, password, dst)
	require.NoError(t, err)
	assert.Equal(t, names(built.Entries), names(extracted))

	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(dst, filepath.FromSlash(name)))
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
	assert.DirExists(t, filepath.Join(dst, "empty"))

	// same relative path set on both sides
	var restored []string
	require.NoError(t, filepath.Walk(dst, func(p string, info os.FileInfo, err error) error {
		require.NoError(t, err)
		rel, _ := filepath.Rel(dst, p)
		if rel != "." {
			restored = append(restored, filepath.ToSlash(rel))
		}
		return nil
	}))
	var source []string
	for _, n := range names(built.Entries) {
		source = append(source, filepath.ToSlash(filepath.Clean(n)))
	}
	sort.Strings(restored)
	sort.Strings(source)
	assert.Equal(t, source, restored)

	// no staging leftovers beside dst
	siblings, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, siblings, 1)
}

func TestExtract_WrongPassword(t *testing.T) {
	root, _ := newTree(t)
	out := filepath.Join(t.TempDir(), "foo.zip")
	_, err := NewBuilder(out).Build(t.Context(), root, password)
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "restore")
	_, err = Extract(out, "not the password", dst)
	assert.ErrorIs(t, err, syncerr.ErrArchive)
	assert.NoDirExists(t, dst, "no partial output")
}

func TestExtract_OverwritesExisting(t *testing.T) {
	root, files := newTree(t)
	out := filepath.Join(t.TempDir(), "foo.zip")
	_, err := NewBuilder(out).Build(t.Context(), root, password)
	require.NoError(t, err)

	dst := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dst, "top.txt"), []byte("stale"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "unrelated.txt"), []byte("keep"), 0o644))

	_, err = Extract(out, password, dst)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dst, "top.txt"))
	require.NoError(t, err)
	assert.Equal(t, files["top.txt"], got)
	assert.FileExists(t, filepath.Join(dst, "unrelated.txt"))
}

func TestList(t *testing.T) {
	root, _ := newTree(t)
	out := filepath.Join(t.TempDir(), "foo.zip")
	built, err := NewBuilder(out).Build(t.Context(), root, password)
	require.NoError(t, err)

	entries, err := List(out, password)
	require.NoError(t, err)
	assert.Equal(t, names(built.Entries), names(entries))
	assert.Equal(t, int64(len("alpha")), entries[3].Size)

	_, err = List(out, "wrong")
	assert.ErrorIs(t, err, syncerr.ErrArchive)

	// without a password only names are read
	entries, err = List(out, "")
	require.NoError(t, err)
	assert.Len(t, entries, len(built.Entries))

	_, err = List(filepath.Join(t.TempDir(), "missing.zip"), password)
	assert.ErrorIs(t, err, syncerr.ErrFilesystem)
}

func TestBuild_Exclude(t *testing.T) {
	root, _ := newTree(t)
	out := filepath.Join(t.TempDir(), "foo.zip")

	a, err := NewBuilder(out, WithExclude("docs/deep", "**/*.txt")).Build(t.Context(), root, password)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/", "empty/"}, names(a.Entries))
}

func TestBuild_IgnoreFile(t *testing.T) {
	root, _ := newTree(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, IgnoreFileName), []byte("# build output\ndeep/\ncache/\nlogs/\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cache"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "cache", "x.tmp"), []byte("x"), 0o644))
	// a plain file is not matched by a directory-only rule
	require.NoError(t, os.WriteFile(filepath.Join(root, "logs"), []byte("l"), 0o644))
	out := filepath.Join(t.TempDir(), "foo.zip")

	a, err := NewBuilder(out).Build(t.Context(), root, password)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"docs/",
		"docs/a.txt",
		"empty/",
		IgnoreFileName,
		"logs",
		"top.txt",
	}, names(a.Entries))
}

func TestBuild_SkipsOwnOutputInsideRoot(t *testing.T) {
	root, _ := newTree(t)
	out := filepath.Join(root, "foo.zip")

	first, err := NewBuilder(out).Build(t.Context(), root, password)
	require.NoError(t, err)
	second, err := NewBuilder(out).Build(t.Context(), root, password)
	require.NoError(t, err)

	assert.Equal(t, names(first.Entries), names(second.Entries))
	assert.NotContains(t, names(second.Entries), "foo.zip")
}

func TestBuild_Overwrites(t *testing.T) {
	root, _ := newTree(t)
	out := filepath.Join(t.TempDir(), "foo.zip")
	require.NoError(t, os.WriteFile(out, []byte("old junk"), 0o644))

	_, err := NewBuilder(out).Build(t.Context(), root, password)
	require.NoError(t, err)

	_, err = List(out, password)
	assert.NoError(t, err)
}

func TestBuild_Errors(t *testing.T) {
	root, _ := newTree(t)

	t.Run("empty password", func(t *testing.T) {
		_, err := NewBuilder(filepath.Join(t.TempDir(), "a.zip")).Build(t.Context(), root, "")
		assert.ErrorIs(t, err, syncerr.ErrArchive)
		assert.ErrorIs(t, err, ErrEmptyPassword)
	})

	t.Run("missing root", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "a.zip")
		_, err := NewBuilder(out).Build(t.Context(), filepath.Join(root, "nope"), password)
		assert.ErrorIs(t, err, syncerr.ErrFilesystem)
		assert.NoFileExists(t, out)
	})

	t.Run("bad exclude pattern", func(t *testing.T) {
		_, err := NewBuilder(filepath.Join(t.TempDir(), "a.zip"), WithExclude("[")).Build(t.Context(), root, password)
		assert.ErrorIs(t, err, syncerr.ErrArchive)
	})

	t.Run("canceled context removes partial", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "a.zip")
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		_, err := NewBuilder(out).Build(ctx, root, password)
		assert.ErrorIs(t, err, syncerr.ErrArchive)
		assert.NoFileExists(t, out)
		assert.NoFileExists(t, out+partSuffix)
	})
}

func TestBuild_Progress(t *testing.T) {
	root, _ := newTree(t)
	var seen []string
	_, err := NewBuilder(filepath.Join(t.TempDir(), "a.zip"), WithProgress(func(e Entry) {
		seen = append(seen, e.Name)
	})).Build(t.Context(), root, password)
	require.NoError(t, err)
	assert.Len(t, seen, 6)
}
