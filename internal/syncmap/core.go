// Package syncmap keeps an in-memory record synchronized with a field of a
// remote hash, falling back to a local backup file whenever the remote
// store cannot be written.
package syncmap

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/leafsii/redisdb/internal/backup"
	"github.com/leafsii/redisdb/internal/lifecycle"
	"github.com/leafsii/redisdb/internal/metrics"
	"github.com/leafsii/redisdb/internal/record"
	"github.com/leafsii/redisdb/pkg/kv"
	"go.uber.org/zap"
)

var (
	// ErrKeyNotFound is returned by Get for keys absent from the record.
	ErrKeyNotFound = errors.New("key not found")
	// ErrClosed is returned by writes, loads and flushes after Close.
	ErrClosed = errors.New("mapping closed")
	// ErrReservedKey is returned by Set for the key the crash marker uses.
	ErrReservedKey = errors.New("reserved key")
)

// Backup snapshot reasons, used as the metrics label.
const (
	reasonReadFailed  = "read_failed"
	reasonWriteFailed = "write_failed"
	reasonShutdown    = "shutdown_failed"
)

// Options configures a Mapping, Live or Reader.
type Options struct {
	Namespace string
	// Key is the hash field holding the record. Defaults to Namespace.
	Key   string
	Store kv.Store
	// Backup defaults to backup.json in the working directory.
	Backup *backup.File
	// DontSave disables every remote and backup write.
	DontSave bool
	// Hooks receives the Close callback when set.
	Hooks   *lifecycle.Hooks
	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
}

// isRemoteFailure is the single place where every remote error kind is
// collapsed into "remote unavailable". A canceled or expired context is
// treated the same way so a shutdown deadline never loses data.
func isRemoteFailure(err error) bool {
	return errors.Is(err, kv.ErrBackendUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// core holds what every mapping kind shares: the remote location, the
// backup file and the remote read/write primitives.
type core struct {
	namespace string
	key       string
	store     kv.Store
	backup    *backup.File
	logger    *zap.SugaredLogger
	metrics   *metrics.Metrics
}

func newCore(opts Options) (*core, error) {
	if opts.Namespace == "" {
		return nil, errors.New("syncmap: namespace is required")
	}
	if opts.Store == nil {
		return nil, errors.New("syncmap: store is required")
	}
	if opts.Key == "" {
		opts.Key = opts.Namespace
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Backup == nil {
		opts.Backup = backup.Open(backup.DefaultPath, opts.Logger)
	}

	return &core{
		namespace: opts.Namespace,
		key:       opts.Key,
		store:     opts.Store,
		backup:    opts.Backup,
		logger: opts.Logger.With(
			"namespace", opts.Namespace,
			"key", opts.Key,
			"session", uuid.NewString(),
		),
		metrics: opts.Metrics,
	}, nil
}

// ensureField creates the remote field as {} when it does not exist yet.
func (c *core) ensureField(ctx context.Context) error {
	ok, err := c.store.HExists(ctx, c.namespace, c.key)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	c.logger.Infow("Initializing remote record")
	return c.store.HSet(ctx, c.namespace, c.key, []byte("{}"))
}

// fetch reads and parses the remote field. An unparsable value is reported
// as a serialization RemoteError.
func (c *core) fetch(ctx context.Context) (record.Record, error) {
	data, err := c.store.HGet(ctx, c.namespace, c.key)
	if err != nil {
		return nil, err
	}
	r, err := record.Parse(data)
	if err != nil {
		return nil, &kv.RemoteError{Op: "hget", Kind: kv.KindSerialization, Err: err}
	}
	return r, nil
}

// read initializes the field if needed and fetches it.
func (c *core) read(ctx context.Context) (record.Record, error) {
	if err := c.ensureField(ctx); err != nil {
		return nil, err
	}
	return c.fetch(ctx)
}

func (c *core) push(ctx context.Context, r record.Record) error {
	data, err := r.Marshal()
	if err != nil {
		return err
	}
	if err := c.store.HSet(ctx, c.namespace, c.key, data); err != nil {
		return err
	}
	c.metrics.RecordRemoteWrite(ctx, c.namespace, c.key)
	return nil
}

func (c *core) noteFailure(ctx context.Context, op string, err error) {
	kind := kv.KindOf(err).String()
	c.logger.Warnw("Remote store unavailable", "op", op, "kind", kind, "error", err)
	c.metrics.RecordRemoteFailure(ctx, op, kind)
}

// fallback records the remote failure and writes snapshot to the backup.
// Only a failed backup write is returned.
func (c *core) fallback(ctx context.Context, op string, cause error, snapshot record.Record, reason string) error {
	c.noteFailure(ctx, op, cause)
	if err := c.backup.Save(snapshot); err != nil {
		c.logger.Errorw("Failed to write local backup", "path", c.backup.Path(), "error", err)
		return fmt.Errorf("write backup %s: %w", c.backup.Path(), err)
	}
	c.metrics.RecordBackupSnapshot(ctx, reason)
	c.logger.Infow("Saved record to local backup", "path", c.backup.Path(), "reason", reason)
	return nil
}

func (c *core) ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

func (c *core) close() error {
	if err := c.store.Close(); err != nil {
		return fmt.Errorf("close remote store: %w", err)
	}
	return nil
}

func (c *core) hookName(kind string) string {
	return fmt.Sprintf("%s %s/%s", kind, c.namespace, c.key)
}

// normalized returns r re-decoded from its JSON encoding, or r itself when
// it cannot be encoded.
func normalized(r record.Record) record.Record {
	data, err := r.Marshal()
	if err != nil {
		return r
	}
	out, err := record.Parse(data)
	if err != nil {
		return r
	}
	return out
}

// pendingBackup returns what a backup contributes at load: a crash
// snapshot without its marker, or any other backup as is.
func pendingBackup(saved record.Record) record.Record {
	if saved.Crashed() {
		return saved.WithoutCrashed()
	}
	return saved
}

// getValue looks key up in r and returns a deep copy of its value.
func getValue(r record.Record, key string) (any, error) {
	v, ok := r[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	return record.CloneValue(v), nil
}

func normalizeValue(key string, value any) (any, error) {
	if key == record.CrashedKey {
		return nil, fmt.Errorf("set %q: %w", key, ErrReservedKey)
	}
	v, err := record.Normalize(value)
	if err != nil {
		return nil, fmt.Errorf("set %q: %w", key, err)
	}
	return v, nil
}
