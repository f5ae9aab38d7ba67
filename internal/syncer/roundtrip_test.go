package syncer

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/dirsync/internal/config"
	"github.com/openmined/dirsync/internal/devserver"
	"github.com/openmined/dirsync/internal/state"
	"github.com/openmined/dirsync/internal/syncerr"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const remoteToken = "remote-token"

type testEnv struct {
	cfg    *config.Config
	remote *devserver.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "foo")
	writeTree(t, dir, map[string]string{
		"notes.txt":         "hello",
		"docs/readme.md":    "# readme",
		"docs/deep/data.db": "binary-ish \x00\x01",
	})
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0o755))
	pinTree(t, dir, time.Date(2025, 6, 3, 10, 0, 0, 0, time.Local))

	remote := devserver.New(devserver.Config{Token: remoteToken}, afero.NewMemMapFs())
	ts := httptest.NewServer(remote.Handler())
	t.Cleanup(ts.Close)

	work := t.TempDir()
	cfg := &config.Config{
		TrackedDir:  dir,
		Password:    "correct horse battery staple",
		AccessToken: remoteToken,
		ServerURL:   ts.URL,
		StateDBPath: filepath.Join(work, "state.db"),
		ArchivePath: filepath.Join(work, "archive", "foo.zip"),
	}
	require.NoError(t, cfg.Validate())

	return &testEnv{cfg: cfg, remote: remote}
}

func (e *testEnv) open(t *testing.T, opts ...Option) *Syncer {
	t.Helper()
	s, closeFn, err := Open(t.Context(), e.cfg, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { closeFn() })
	return s
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

// pinTree sets every directory mtime so fingerprints are predictable
func pinTree(t *testing.T, root string, at time.Time) {
	t.Helper()
	require.NoError(t, filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() {
			return err
		}
		return os.Chtimes(p, at, at)
	}))
}

func storedFingerprint(t *testing.T, cfg *config.Config) (string, bool) {
	t.Helper()
	store, err := state.Open(cfg.StateDBPath)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.EnsureInitialized(t.Context()))
	fp, ok, err := store.Get(t.Context(), cfg.TrackedDir)
	require.NoError(t, err)
	return fp, ok
}

func TestPush_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	s := env.open(t)

	first, err := s.Push(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Done, first.State)
	assert.Equal(t, "Tue Jun  3 10:00:00 2025", first.Fingerprint)
	require.NotNil(t, first.Archive)
	assert.Equal(t, 3, first.Archive.Files())
	assert.NoFileExists(t, env.cfg.ArchivePath)

	objects, err := env.remote.Objects()
	require.NoError(t, err)
	assert.Equal(t, []string{"/foo.zip"}, objects)

	var states []State
	second, err := env.open(t, recordStates(&states)).Push(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Unchanged, second.State)
	assert.Equal(t, []State{Fingerprinting, Comparing, Unchanged}, states)
	assert.Zero(t, env.remote.Pending())

	fp, ok := storedFingerprint(t, env.cfg)
	require.True(t, ok)
	assert.Equal(t, first.Fingerprint, fp)
}

func TestPush_NewDirectoryTriggersSync(t *testing.T) {
	env := newTestEnv(t)
	s := env.open(t)

	_, err := s.Push(t.Context())
	require.NoError(t, err)

	require.NoError(t, os.Mkdir(filepath.Join(env.cfg.TrackedDir, "added"), 0o755))
	pinTree(t, env.cfg.TrackedDir, time.Date(2025, 6, 4, 8, 30, 0, 0, time.Local))

	res, err := s.Push(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Done, res.State)
	assert.Equal(t, "Tue Jun  3 10:00:00 2025", res.Previous)
	assert.Equal(t, "Wed Jun  4 08:30:00 2025", res.Fingerprint)
}

func TestPush_RejectedAuthorizationKeepsState(t *testing.T) {
	env := newTestEnv(t)
	s := env.open(t)
	_, err := s.Push(t.Context())
	require.NoError(t, err)

	pinTree(t, env.cfg.TrackedDir, time.Date(2025, 7, 1, 0, 0, 0, 0, time.Local))

	// a token the remote rejects fails the run at authorization
	env.cfg.AccessToken = "revoked"
	res, err := env.open(t).Push(t.Context())
	require.ErrorIs(t, err, syncerr.ErrAuthorization)
	assert.Equal(t, RequestingUpload, res.AbortedIn)

	fp, _ := storedFingerprint(t, env.cfg)
	assert.Equal(t, "Tue Jun  3 10:00:00 2025", fp)
}

func TestPush_MissingTrackedDir(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.RemoveAll(env.cfg.TrackedDir))

	res, err := env.open(t).Push(t.Context())
	require.ErrorIs(t, err, syncerr.ErrFilesystem)
	assert.Equal(t, Fingerprinting, res.AbortedIn)

	_, ok := storedFingerprint(t, env.cfg)
	assert.False(t, ok)
}

func TestPush_ConcurrentRunIsLockedOut(t *testing.T) {
	env := newTestEnv(t)

	other, err := state.Open(env.cfg.StateDBPath)
	require.NoError(t, err)
	defer other.Close()
	unlock, err := other.Lock()
	require.NoError(t, err)
	defer unlock()

	_, err = env.open(t).Push(t.Context())
	require.ErrorIs(t, err, syncerr.ErrStateStore)
	assert.ErrorIs(t, err, state.ErrLocked)
}

func TestPull_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.open(t).Push(t.Context())
	require.NoError(t, err)

	var states []State
	dest := filepath.Join(t.TempDir(), "restored")
	res, err := env.open(t, recordStates(&states)).Pull(t.Context(), dest)
	require.NoError(t, err)
	assert.Equal(t, Done, res.State)
	assert.Equal(t, []State{RequestingDownload, Downloading, Extracting, Done}, states)
	assert.NoFileExists(t, env.cfg.ArchivePath)

	for name, want := range map[string]string{
		"notes.txt":         "hello",
		"docs/readme.md":    "# readme",
		"docs/deep/data.db": "binary-ish \x00\x01",
	} {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(name)))
		require.NoError(t, err, name)
		assert.Equal(t, want, string(got), name)
	}
	assert.DirExists(t, filepath.Join(dest, "empty"))
}

func TestPull_WrongPassword(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.open(t).Push(t.Context())
	require.NoError(t, err)
	before, _ := storedFingerprint(t, env.cfg)

	env.cfg.Password = "wrong"
	dest := filepath.Join(t.TempDir(), "restored")
	res, err := env.open(t).Pull(t.Context(), dest)
	require.ErrorIs(t, err, syncerr.ErrArchive)
	assert.Equal(t, Extracting, res.AbortedIn)
	assert.NoDirExists(t, dest)
	assert.NoFileExists(t, env.cfg.ArchivePath)

	after, _ := storedFingerprint(t, env.cfg)
	assert.Equal(t, before, after)
}

func TestPull_LeavesPushArchiveAlone(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.open(t).Push(t.Context())
	require.NoError(t, err)

	// an archive a concurrent push is still uploading
	require.NoError(t, os.MkdirAll(filepath.Dir(env.cfg.ArchivePath), 0o755))
	require.NoError(t, os.WriteFile(env.cfg.ArchivePath, []byte("in flight"), 0o644))

	dest := filepath.Join(t.TempDir(), "restored")
	res, err := env.open(t).Pull(t.Context(), dest)
	require.NoError(t, err)
	assert.Equal(t, Done, res.State)

	data, err := os.ReadFile(env.cfg.ArchivePath)
	require.NoError(t, err)
	assert.Equal(t, "in flight", string(data))

	leftovers, err := os.ReadDir(filepath.Dir(env.cfg.ArchivePath))
	require.NoError(t, err)
	assert.Len(t, leftovers, 1, "pull download removed")
}

func TestPull_EmptyTreeRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.RemoveAll(env.cfg.TrackedDir))
	require.NoError(t, os.MkdirAll(env.cfg.TrackedDir, 0o755))
	pinTree(t, env.cfg.TrackedDir, time.Date(2025, 6, 3, 10, 0, 0, 0, time.Local))

	pushed, err := env.open(t).Push(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Done, pushed.State)
	assert.Zero(t, pushed.Archive.Files())

	dest := filepath.Join(t.TempDir(), "restored")
	res, err := env.open(t).Pull(t.Context(), dest)
	require.NoError(t, err)
	assert.Equal(t, Done, res.State)
	assert.DirExists(t, dest)
	restored, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Empty(t, restored)

	env.cfg.Password = "wrong"
	other := filepath.Join(t.TempDir(), "other")
	_, err = env.open(t).Pull(t.Context(), other)
	require.ErrorIs(t, err, syncerr.ErrArchive)
	assert.NoDirExists(t, other)
}

func TestPullArchivePath(t *testing.T) {
	assert.Equal(t, "/work/foo.pull-0123abcd.zip", pullArchivePath("/work/foo.zip", "0123abcd-ffff"))
	assert.Equal(t, "/work/foo.pull-0123abcd", pullArchivePath("/work/foo", "0123abcd-ffff"))
}

func TestPull_MissingObject(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.open(t).Pull(t.Context(), t.TempDir())
	require.ErrorIs(t, err, syncerr.ErrNotFound)
	assert.Equal(t, RequestingDownload, res.AbortedIn)
}

func TestPull_NoDestination(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.open(t).Pull(t.Context(), "")
	assert.ErrorIs(t, err, ErrNoDestination)
}
