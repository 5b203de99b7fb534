package syncmap

import (
	"context"
	"fmt"
	"sync"

	"github.com/leafsii/redisdb/internal/record"
)

// Reader gives read-only access to the remote record. It never writes the
// record back and never touches the backup.
type Reader struct {
	c      *core
	mu     sync.Mutex
	closed bool
}

// NewReader binds a Reader to opts.Store. Backup, DontSave and Hooks are ignored.
func NewReader(opts Options) (*Reader, error) {
	c, err := newCore(opts)
	if err != nil {
		return nil, err
	}
	return &Reader{c: c}, nil
}

// Open fetches the current remote record, creating the field as {} when
// it does not exist.
func (r *Reader) Open(ctx context.Context) (record.Record, error) {
	rec, err := r.c.read(ctx)
	if err != nil {
		if isRemoteFailure(err) {
			r.c.noteFailure(ctx, "open", err)
		}
		return nil, fmt.Errorf("read %s/%s: %w", r.c.namespace, r.c.key, err)
	}
	return rec, nil
}

// View opens the record and passes it to fn. Changes fn makes are discarded.
func (r *Reader) View(ctx context.Context, fn func(rec record.Record) error) error {
	rec, err := r.Open(ctx)
	if err != nil {
		return err
	}
	return fn(rec)
}

// Close closes the remote store once.
func (r *Reader) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.c.close()
}
