package kvtest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/leafsii/redisdb/pkg/kv"
)

// ErrInjected is the cause wrapped into failures produced by Flaky.
var ErrInjected = errors.New("connection refused (injected)")

// Flaky wraps a Store and fails every call with a network RemoteError
// while it is down. It counts hash reads and writes so tests can assert
// how often the remote was touched.
type Flaky struct {
	kv.Store

	down   atomic.Bool
	kind   atomic.Int32
	hsets  atomic.Int64
	hgets  atomic.Int64
	closed atomic.Bool

	mu      sync.Mutex
	failOps map[string]bool
}

// NewFlaky wraps inner. The wrapper starts healthy.
func NewFlaky(inner kv.Store) *Flaky {
	f := &Flaky{Store: inner}
	f.kind.Store(int32(kv.KindNetwork))
	return f
}

// SetDown toggles whether every call fails.
func (f *Flaky) SetDown(down bool) {
	f.down.Store(down)
}

// SetKind selects the failure kind reported while down.
func (f *Flaky) SetKind(kind kv.Kind) {
	f.kind.Store(int32(kind))
}

// FailOnly restricts failures to the named operations (e.g. "hset").
// With no names every operation fails while down.
func (f *Flaky) FailOnly(ops ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOps = make(map[string]bool, len(ops))
	for _, op := range ops {
		f.failOps[op] = true
	}
}

// HSetCalls returns how many HSet calls reached the wrapper.
func (f *Flaky) HSetCalls() int64 {
	return f.hsets.Load()
}

// HGetCalls returns how many HGet calls reached the wrapper.
func (f *Flaky) HGetCalls() int64 {
	return f.hgets.Load()
}

// Closed reports whether Close was called.
func (f *Flaky) Closed() bool {
	return f.closed.Load()
}

func (f *Flaky) fail(op string) error {
	if !f.down.Load() {
		return nil
	}
	f.mu.Lock()
	restricted := len(f.failOps) > 0 && !f.failOps[op]
	f.mu.Unlock()
	if restricted {
		return nil
	}
	return &kv.RemoteError{Op: op, Kind: kv.Kind(f.kind.Load()), Err: ErrInjected}
}

func (f *Flaky) Exists(ctx context.Context, keys ...string) (int64, error) {
	if err := f.fail("exists"); err != nil {
		return 0, err
	}
	return f.Store.Exists(ctx, keys...)
}

func (f *Flaky) Keys(ctx context.Context, pattern string) ([]string, error) {
	if err := f.fail("keys"); err != nil {
		return nil, err
	}
	return f.Store.Keys(ctx, pattern)
}

func (f *Flaky) Del(ctx context.Context, keys ...string) (int64, error) {
	if err := f.fail("del"); err != nil {
		return 0, err
	}
	return f.Store.Del(ctx, keys...)
}

func (f *Flaky) HSet(ctx context.Context, key string, field string, value []byte) error {
	f.hsets.Add(1)
	if err := f.fail("hset"); err != nil {
		return err
	}
	return f.Store.HSet(ctx, key, field, value)
}

func (f *Flaky) HGet(ctx context.Context, key string, field string) ([]byte, error) {
	f.hgets.Add(1)
	if err := f.fail("hget"); err != nil {
		return nil, err
	}
	return f.Store.HGet(ctx, key, field)
}

func (f *Flaky) HExists(ctx context.Context, key string, field string) (bool, error) {
	if err := f.fail("hexists"); err != nil {
		return false, err
	}
	return f.Store.HExists(ctx, key, field)
}

func (f *Flaky) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	if err := f.fail("hdel"); err != nil {
		return 0, err
	}
	return f.Store.HDel(ctx, key, fields...)
}

func (f *Flaky) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	if err := f.fail("hgetall"); err != nil {
		return nil, err
	}
	return f.Store.HGetAll(ctx, key)
}

func (f *Flaky) Ping(ctx context.Context) error {
	if err := f.fail("ping"); err != nil {
		return err
	}
	return f.Store.Ping(ctx)
}

// Close marks the wrapper closed but keeps the inner store's data, so a
// test can "restart" against the same remote state.
func (f *Flaky) Close() error {
	f.closed.Store(true)
	return nil
}
