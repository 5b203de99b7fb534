package syncmap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/leafsii/redisdb/internal/record"
)

// Live is a write-through synchronized record. Every Set is pushed to the
// remote store; a failed push leaves a crash-marked snapshot in the backup,
// which the next Live session adopts in place of the remote copy.
type Live struct {
	mu       sync.Mutex
	c        *core
	current  record.Record
	dontSave bool
	closed   bool

	state  State
	source State
	// degraded is set while the backup may hold a crash snapshot newer
	// than the remote copy.
	degraded bool
}

// NewLive loads the record and registers Close on opts.Hooks. The session
// owns opts.Store and closes it on failure.
func NewLive(ctx context.Context, opts Options) (*Live, error) {
	c, err := newCore(opts)
	if err != nil {
		return nil, err
	}

	l := &Live{c: c, current: record.New(), dontSave: opts.DontSave}
	if err := l.load(ctx); err != nil {
		_ = c.close()
		return nil, err
	}
	l.state = StateLive

	if opts.Hooks != nil {
		opts.Hooks.Register(c.hookName("live"), l.Close)
	}
	c.metrics.SessionOpened(ctx)
	return l, nil
}

func (l *Live) load(ctx context.Context) error {
	l.state = StateLoading

	if len(l.current) == 0 {
		saved, err := l.c.backup.Load()
		if err != nil {
			return err
		}
		if saved.Crashed() {
			l.current = saved.WithoutCrashed()
			l.state = StateBackupAuthoritative
			l.source = StateBackupAuthoritative
			l.degraded = true
			l.c.logger.Warnw("Previous session crashed, restoring record from local backup",
				"path", l.c.backup.Path(), "entries", len(l.current))
			l.c.metrics.RecordCrashRecovery(ctx, l.c.namespace, l.c.key)
			return nil
		}
	}

	remote, err := l.c.read(ctx)
	if err != nil {
		if isRemoteFailure(err) {
			l.c.noteFailure(ctx, "load", err)
		}
		return fmt.Errorf("load %s/%s: %w", l.c.namespace, l.c.key, err)
	}
	l.current = remote
	l.state = StateRemoteAuthoritative
	l.source = StateRemoteAuthoritative
	return nil
}

// Get returns a copy of the value stored under key.
func (l *Live) Get(key string) (any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return getValue(l.current, key)
}

// Set stores value under key and writes the whole record to the remote
// store. If the write fails the record is saved to the backup with the
// crash marker; only a failed backup write is returned.
func (l *Live) Set(ctx context.Context, key string, value any) error {
	v, err := normalizeValue(key, value)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.current[key] = v
	if l.dontSave {
		return nil
	}
	return l.writeThrough(ctx, reasonWriteFailed)
}

func (l *Live) writeThrough(ctx context.Context, reason string) error {
	if err := l.c.push(ctx, l.current); err != nil {
		if !isRemoteFailure(err) {
			return err
		}
		l.degraded = true
		return l.c.fallback(ctx, "hset", err, l.current.WithCrashed(), reason)
	}

	if l.degraded {
		if err := l.c.backup.Clear(); err != nil {
			return fmt.Errorf("clear backup: %w", err)
		}
		l.degraded = false
		l.c.logger.Infow("Remote store caught up, cleared local backup", "path", l.c.backup.Path())
	}
	return nil
}

func (l *Live) Contains(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.current[key]
	return ok
}

func (l *Live) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current.Keys()
}

func (l *Live) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.current)
}

// Snapshot returns a deep copy of the in-memory record.
func (l *Live) Snapshot() record.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current.Clone()
}

// State returns the current lifecycle stage.
func (l *Live) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Source reports which copy was adopted at load: StateRemoteAuthoritative
// or StateBackupAuthoritative.
func (l *Live) Source() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.source
}

// Close pushes the record one last time unless saving is disabled and
// closes the remote store. A failed push leaves a crash snapshot and ends
// in StateCrashedShutdown. Later calls are no-ops.
func (l *Live) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.c.metrics.SessionClosed(ctx)

	var errs []error
	l.state = StateCleanShutdown
	if !l.dontSave {
		err := l.writeThrough(ctx, reasonShutdown)
		if err != nil {
			errs = append(errs, err)
		}
		if err != nil || l.degraded {
			l.state = StateCrashedShutdown
		}
	}
	if err := l.c.close(); err != nil {
		errs = append(errs, err)
	}

	l.c.logger.Infow("Live session closed", "state", l.state.String())
	return errors.Join(errs...)
}

// Ping checks the remote store.
func (l *Live) Ping(ctx context.Context) error {
	return l.c.ping(ctx)
}

func (l *Live) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		Namespace:  l.c.namespace,
		Key:        l.c.key,
		Mode:       "live",
		State:      l.state.String(),
		Source:     l.source.String(),
		Degraded:   l.degraded,
		DontSave:   l.dontSave,
		BackupPath: l.c.backup.Path(),
		Entries:    len(l.current),
	}
}
