package main

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openmined/dirsync/internal/archive"
	"github.com/openmined/dirsync/internal/devserver"
	"github.com/openmined/dirsync/internal/version"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	cliToken    = "cli-token"
	cliPassword = "cli-password"
)

type cliEnv struct {
	dir    string
	work   string
	remote *devserver.Server
	env    []string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "photos")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "2025"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2025", "a.jpg"), []byte("jpeg"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.txt"), []byte("a.jpg"), 0o644))

	remote := devserver.New(devserver.Config{Token: cliToken}, afero.NewMemMapFs())
	ts := httptest.NewServer(remote.Handler())
	t.Cleanup(ts.Close)

	work := t.TempDir()
	return &cliEnv{
		dir:    dir,
		work:   work,
		remote: remote,
		env: []string{
			"DIRSYNC_DIR=" + dir,
			"DIRSYNC_PASSWORD=" + cliPassword,
			"DIRSYNC_ACCESS_TOKEN=" + cliToken,
			"DIRSYNC_SERVER_URL=" + ts.URL,
			"DIRSYNC_STATE_DB=" + filepath.Join(work, "state.db"),
			"DIRSYNC_ARCHIVE=" + filepath.Join(work, "photos.zip"),
		},
	}
}

func TestVersionCommand_PrintsDetailedVersion(t *testing.T) {
	cmd := &cobra.Command{Use: "dirsync"}
	cmd.AddCommand(newVersionCmd())

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	require.Equal(t, version.Detailed(), strings.TrimSpace(out.String()))
}

func TestCLI_PushPullStatus(t *testing.T) {
	e := newCLIEnv(t)

	out, code := runCLI(t, e.env, "push")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "done photos.zip (2 files")

	objects, err := e.remote.Objects()
	require.NoError(t, err)
	assert.Equal(t, []string{"/photos.zip"}, objects)

	out, code = runCLI(t, e.env, "push")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "unchanged")

	out, code = runCLI(t, e.env, "status")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, e.dir)
	assert.Contains(t, out, "up to date")

	dest := filepath.Join(t.TempDir(), "restore")
	out, code = runCLI(t, e.env, "pull", "--dest", dest)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "done photos.zip")

	data, err := os.ReadFile(filepath.Join(dest, "2025", "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))
}

func TestCLI_FlagsOverrideEnv(t *testing.T) {
	e := newCLIEnv(t)

	out, code := runCLI(t, e.env, "push", "--object", "backups/photos-v2.zip")
	require.Equal(t, 0, code, out)

	objects, err := e.remote.Objects()
	require.NoError(t, err)
	assert.Equal(t, []string{"/backups/photos-v2.zip"}, objects)
}

func TestCLI_PushWithoutPassword(t *testing.T) {
	e := newCLIEnv(t)
	env := append(e.env, "DIRSYNC_PASSWORD=")

	out, code := runCLI(t, env, "push")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "password is required")
}

func TestCLI_PushRejectedToken(t *testing.T) {
	e := newCLIEnv(t)
	env := append(e.env, "DIRSYNC_ACCESS_TOKEN=wrong")

	out, code := runCLI(t, env, "push")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "aborted in requesting-upload")
	assert.Contains(t, out, "authorization error")
}

func TestCLI_StatusMissingDir(t *testing.T) {
	e := newCLIEnv(t)
	missing := filepath.Join(e.work, "gone")
	env := append(e.env, "DIRSYNC_DIR="+missing)

	out, code := runCLI(t, env, "status")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "missing "+missing)
}

func TestCLI_PullRequiresDest(t *testing.T) {
	e := newCLIEnv(t)
	out, code := runCLI(t, e.env, "pull")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "--dest is required")
}

func TestCLI_ConfigFileAndShow(t *testing.T) {
	e := newCLIEnv(t)
	cfgPath := filepath.Join(e.work, "dirsync.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("object_path: from-file.zip\nexclude:\n  - '**/*.tmp'\n"), 0o644))

	out, code := runCLI(t, e.env, "--config", cfgPath, "config", "show")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "object_path: from-file.zip")
	assert.Contains(t, out, "**/*.tmp")
	assert.NotContains(t, out, cliPassword)
	assert.NotContains(t, out, cliToken)
}

func TestCLI_LogFileFromConfig(t *testing.T) {
	e := newCLIEnv(t)
	logPath := filepath.Join(e.work, "logs", "custom.log")
	cfgPath := filepath.Join(e.work, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log_file: "+logPath+"\n"), 0o600))

	out, code := runCLI(t, e.env, "--config", cfgPath, "push")
	require.Equal(t, 0, code, out)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "push done")
}

func TestCLI_LogFileFromEnv(t *testing.T) {
	e := newCLIEnv(t)
	logPath := filepath.Join(e.work, "env.log")
	env := append(e.env, "DIRSYNC_LOG_FILE="+logPath)

	out, code := runCLI(t, env, "push")
	require.Equal(t, 0, code, out)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "archive built")
}

func TestCLI_ListArchive(t *testing.T) {
	e := newCLIEnv(t)
	archivePath := filepath.Join(e.work, "listed.zip")
	_, err := archive.NewBuilder(archivePath).Build(t.Context(), e.dir, cliPassword)
	require.NoError(t, err)

	out, code := runCLI(t, e.env, "list", archivePath)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "2025/")
	assert.Contains(t, out, "2025/a.jpg")
	assert.Contains(t, out, "index.txt")
	assert.Contains(t, out, "3 entries")

	env := append(e.env, "DIRSYNC_PASSWORD=nope")
	out, code = runCLI(t, env, "list", archivePath)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "archive error")
}

func TestCLI_BareNonInteractivePrintsHelp(t *testing.T) {
	out, code := runCLI(t, nil, "--verbose")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "push")
}
