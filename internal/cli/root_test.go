package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leafsii/redisdb/internal/backup"
	"github.com/leafsii/redisdb/internal/record"
	"github.com/leafsii/redisdb/internal/syncmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "redisdb", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{{"serve"}, {"get"}, {"set"}, {"dump"}, {"backup", "show"}, {"backup", "clear"}}

	for _, path := range commands {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"env", "log-level", "backend", "namespace", "key", "mode", "dont-save", "backup"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}

	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	assert.NotNil(t, serve.Flags().Lookup("addr"))
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func memoryArgs(backupPath string, args ...string) []string {
	return append(args,
		"--backend", "memory",
		"--namespace", "app",
		"--log-level", "error",
		"--backup", backupPath,
	)
}

func TestSetAndDumpWithMemoryBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.json")

	_, err := run(t, memoryArgs(path, "set", "count", "1")...)
	require.NoError(t, err)

	// Each command dials a fresh in-memory store.
	out, err := run(t, memoryArgs(path, "dump")...)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", out)
}

func TestSetRejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.json")
	_, err := run(t, memoryArgs(path, "set", "name", "bot")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestGetMissingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.json")
	_, err := run(t, memoryArgs(path, "get", "nope")...)
	assert.ErrorIs(t, err, syncmap.ErrKeyNotFound)
}

func TestLiveSetClearsCrashBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.json")
	require.NoError(t, backup.Open(path, nil).Save(record.Record{"count": 2, record.CrashedKey: true}))

	_, err := run(t, memoryArgs(path, "set", "other", "true", "--mode", "live")...)
	require.NoError(t, err)

	out, err := run(t, "backup", "show", "--backup", path)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", out)
}

func TestLiveSetRecoversCrashWhileRedisDown(t *testing.T) {
	t.Setenv("REDISHOST", "127.0.0.1")
	t.Setenv("REDISPORT", "1")
	t.Setenv("REDISPASSWORD", "")
	path := filepath.Join(t.TempDir(), "backup.json")
	require.NoError(t, backup.Open(path, nil).Save(record.Record{"count": 2, record.CrashedKey: true}))

	_, err := run(t, "set", "other", "true",
		"--backend", "redis",
		"--mode", "live",
		"--namespace", "app",
		"--log-level", "error",
		"--backup", path,
	)
	require.NoError(t, err)

	saved, err := backup.Open(path, nil).Load()
	require.NoError(t, err)
	assert.Equal(t, record.Record{"count": float64(2), "other": true, record.CrashedKey: true}, saved)
}

func TestBackupShowAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.json")
	require.NoError(t, backup.Open(path, nil).Save(record.Record{"a": "b"}))

	out, err := run(t, "backup", "show", "--backup", path)
	require.NoError(t, err)
	assert.Equal(t, "{\n    \"a\": \"b\"\n}\n", out)

	out, err = run(t, "backup", "clear", "--backup", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(data))
}

func TestBuildServer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.json")
	root := NewRootCommand()
	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	require.NoError(t, serve.ParseFlags(memoryArgs(path, "--addr", "127.0.0.1:0")))

	a, err := newApp(serve, false)
	require.NoError(t, err)
	ctx := commandContext(serve)

	server, err := a.buildServer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", server.Addr)

	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mode":"live"`)

	require.NoError(t, a.shutdown(ctx))
}
