package syncmap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/leafsii/redisdb/internal/backup"
	"github.com/leafsii/redisdb/internal/record"
	"github.com/leafsii/redisdb/pkg/kv/kvtest"
	"github.com/leafsii/redisdb/pkg/kv/memory"
	"github.com/stretchr/testify/require"
)

// fixture is one remote store and one backup file shared by successive
// "process runs" in a test.
type fixture struct {
	remote *memory.Store
	backup *backup.File
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		remote: memory.New(),
		backup: backup.Open(filepath.Join(t.TempDir(), "backup.json"), nil),
	}
}

// connect returns a fresh fault-injecting connection to the shared remote.
func (f *fixture) connect() *kvtest.Flaky {
	return kvtest.NewFlaky(f.remote)
}

func (f *fixture) options(store *kvtest.Flaky, namespace string) Options {
	return Options{Namespace: namespace, Store: store, Backup: f.backup}
}

func (f *fixture) seedRemote(t *testing.T, namespace, key string, r record.Record) {
	t.Helper()
	data, err := r.Marshal()
	require.NoError(t, err)
	require.NoError(t, f.remote.HSet(context.Background(), namespace, key, data))
}

func (f *fixture) remoteRecord(t *testing.T, namespace, key string) record.Record {
	t.Helper()
	data, err := f.remote.HGet(context.Background(), namespace, key)
	require.NoError(t, err)
	r, err := record.Parse(data)
	require.NoError(t, err)
	return r
}

func (f *fixture) seedBackup(t *testing.T, r record.Record) {
	t.Helper()
	require.NoError(t, f.backup.Save(r))
}

// backupRecord reads the backup file without the initialize-on-missing
// side effect of backup.File.Load.
func (f *fixture) backupRecord(t *testing.T) record.Record {
	t.Helper()
	data, err := os.ReadFile(f.backup.Path())
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	r, err := record.Parse(data)
	require.NoError(t, err)
	return r
}
