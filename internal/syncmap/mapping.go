package syncmap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/leafsii/redisdb/internal/record"
	"github.com/leafsii/redisdb/pkg/kv"
)

// Mapping is a write-on-checkpoint synchronized record. Reads and writes
// go to memory; SaveIfDirty pushes the record when the remote copy differs.
type Mapping struct {
	mu       sync.Mutex
	c        *core
	current  record.Record
	dontSave bool
	closed   bool
}

// New loads the record, applying any pending backup, and registers Close
// on opts.Hooks. The mapping owns opts.Store and closes it on failure.
func New(ctx context.Context, opts Options) (*Mapping, error) {
	c, err := newCore(opts)
	if err != nil {
		return nil, err
	}

	m := &Mapping{c: c, current: record.New(), dontSave: opts.DontSave}
	if _, err := m.Load(ctx, true); err != nil {
		_ = c.close()
		return nil, err
	}

	if opts.Hooks != nil {
		opts.Hooks.Register(c.hookName("mapping"), m.Close)
	}
	c.metrics.SessionOpened(ctx)
	return m, nil
}

// Get returns a copy of the value stored under key.
func (m *Mapping) Get(key string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return getValue(m.current, key)
}

// Set stores value under key and, unless saving is disabled, runs
// SaveIfDirty. Remote failures are absorbed by the backup.
func (m *Mapping) Set(ctx context.Context, key string, value any) error {
	v, err := normalizeValue(key, value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.current[key] = v
	if m.dontSave {
		return nil
	}
	return m.saveIfDirty(ctx)
}

func (m *Mapping) Contains(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.current[key]
	return ok
}

func (m *Mapping) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Keys()
}

func (m *Mapping) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.current)
}

// Snapshot returns a deep copy of the in-memory record.
func (m *Mapping) Snapshot() record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Clone()
}

// Load replaces the in-memory record with the remote copy, creating the
// remote field as {} when absent. With applyBackup, a non-empty backup that
// differs from the remote copy is adopted, and the backup is then cleared.
//
// When the remote store is unreachable a non-empty backup stands in for it
// and is kept; without one the remote failure is returned.
func (m *Mapping) Load(ctx context.Context, applyBackup bool) (record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if err := m.load(ctx, applyBackup); err != nil {
		return nil, err
	}
	return m.current.Clone(), nil
}

func (m *Mapping) load(ctx context.Context, applyBackup bool) error {
	remote, err := m.c.read(ctx)
	if err != nil {
		if !isRemoteFailure(err) {
			return fmt.Errorf("load %s/%s: %w", m.c.namespace, m.c.key, err)
		}
		return m.loadFromBackupOnly(ctx, applyBackup, err)
	}
	m.current = remote

	if !applyBackup {
		return nil
	}

	saved, err := m.c.backup.Load()
	if err != nil {
		return err
	}
	if len(saved) == 0 {
		return nil
	}

	pending := pendingBackup(saved)
	if len(pending) > 0 && !record.Equal(pending, remote) {
		m.c.logger.Warnw("Local backup differs from remote record, adopting backup",
			"path", m.c.backup.Path(), "entries", len(pending))
		m.c.metrics.RecordBackupAdoption(ctx, m.c.namespace, m.c.key)
		m.current = pending
	}

	if err := m.c.backup.Clear(); err != nil {
		return fmt.Errorf("clear backup: %w", err)
	}
	return nil
}

func (m *Mapping) loadFromBackupOnly(ctx context.Context, applyBackup bool, cause error) error {
	m.c.noteFailure(ctx, "load", cause)
	if !applyBackup {
		return fmt.Errorf("load %s/%s: %w", m.c.namespace, m.c.key, cause)
	}

	saved, err := m.c.backup.Load()
	if err != nil {
		return err
	}
	pending := pendingBackup(saved)
	if len(pending) == 0 {
		return fmt.Errorf("load %s/%s: remote unavailable and no local backup: %w",
			m.c.namespace, m.c.key, cause)
	}

	m.c.logger.Warnw("Remote record unavailable, using local backup",
		"path", m.c.backup.Path(), "entries", len(pending))
	m.c.metrics.RecordBackupAdoption(ctx, m.c.namespace, m.c.key)
	m.current = pending
	return nil
}

// SaveIfDirty writes the in-memory record when it differs from the remote
// copy. Remote failures are not returned: the record is written to the
// backup instead, and only a failed backup write is an error.
func (m *Mapping) SaveIfDirty(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return m.saveIfDirty(ctx)
}

func (m *Mapping) saveIfDirty(ctx context.Context) error {
	remote, err := m.c.fetch(ctx)
	switch {
	case errors.Is(err, kv.ErrNotFound):
	case err != nil:
		if !isRemoteFailure(err) {
			return err
		}
		return m.c.fallback(ctx, "hget", err, m.current, reasonReadFailed)
	case record.Equal(remote, m.current):
		m.c.metrics.RecordRemoteSkip(ctx, m.c.namespace, m.c.key)
		return nil
	}

	if err := m.c.push(ctx, m.current); err != nil {
		if !isRemoteFailure(err) {
			return err
		}
		return m.c.fallback(ctx, "hset", err, m.current, reasonWriteFailed)
	}
	m.c.logger.Debugw("Saved record to remote", "entries", len(m.current))
	return nil
}

// Session reloads the record, runs fn against it and flushes the result
// on every exit path, panics included. fn must not call back into m.
// The error from fn takes precedence over a flush error.
func (m *Mapping) Session(ctx context.Context, fn func(r record.Record) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if err := m.load(ctx, true); err != nil {
		return err
	}

	defer func() {
		if m.dontSave {
			return
		}
		p := recover()
		m.current = normalized(m.current)
		flushErr := m.saveIfDirty(ctx)
		if p != nil {
			if flushErr != nil {
				m.c.logger.Errorw("Flush after panic failed", "error", flushErr)
			}
			panic(p)
		}
		if err == nil {
			err = flushErr
		}
	}()

	return fn(m.current)
}

// Close flushes the record unless saving is disabled and closes the remote
// store. Later calls are no-ops.
func (m *Mapping) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.c.metrics.SessionClosed(ctx)

	var errs []error
	if !m.dontSave {
		if err := m.saveIfDirty(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.c.close(); err != nil {
		errs = append(errs, err)
	}
	m.c.logger.Infow("Mapping closed")
	return errors.Join(errs...)
}

// Flush is SaveIfDirty under the name the admin surface uses.
func (m *Mapping) Flush(ctx context.Context) error {
	return m.SaveIfDirty(ctx)
}

// Ping checks the remote store.
func (m *Mapping) Ping(ctx context.Context) error {
	return m.c.ping(ctx)
}

func (m *Mapping) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := "open"
	if m.closed {
		state = "closed"
	}
	return Status{
		Namespace:  m.c.namespace,
		Key:        m.c.key,
		Mode:       "checkpoint",
		State:      state,
		DontSave:   m.dontSave,
		BackupPath: m.c.backup.Path(),
		Entries:    len(m.current),
	}
}
