package syncmap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/leafsii/redisdb/internal/lifecycle"
	"github.com/leafsii/redisdb/internal/record"
	"github.com/leafsii/redisdb/pkg/kv"
	"github.com/leafsii/redisdb/pkg/kv/kvtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dialRecorder struct {
	f     *fixture
	calls atomic.Int32
	mu    sync.Mutex
	conns []*kvtest.Flaky
	err   error
}

func (d *dialRecorder) dial(ctx context.Context) (kv.Store, error) {
	d.calls.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	conn := d.f.connect()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func TestRegistryReturnsOneInstancePerKind(t *testing.T) {
	f := newFixture(t)
	d := &dialRecorder{f: f}
	reg := NewRegistry(d.dial, f.backup, nil, nil, nil)
	ctx := context.Background()

	m1, err := reg.Mapping(ctx, Target{Namespace: "app"})
	require.NoError(t, err)
	m2, err := reg.Mapping(ctx, Target{Namespace: "other"})
	require.NoError(t, err)
	assert.Same(t, m1, m2)
	assert.Equal(t, "app", m2.Status().Namespace)

	l, err := reg.Live(ctx, Target{Namespace: "live"})
	require.NoError(t, err)
	l2, err := reg.Live(ctx, Target{Namespace: "live"})
	require.NoError(t, err)
	assert.Same(t, l, l2)

	assert.Equal(t, int32(2), d.calls.Load())
}

func TestRegistryCoalescesConcurrentFirstCalls(t *testing.T) {
	f := newFixture(t)
	d := &dialRecorder{f: f}
	reg := NewRegistry(d.dial, f.backup, nil, nil, nil)
	ctx := context.Background()

	const n = 16
	got := make([]*Reader, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rd, err := reg.Reader(ctx, Target{Namespace: "app"})
			assert.NoError(t, err)
			got[i] = rd
		}(i)
	}
	wg.Wait()

	for _, rd := range got {
		assert.Same(t, got[0], rd)
	}
	assert.Equal(t, int32(1), d.calls.Load())
}

func TestRegistryDialErrorIsNotCached(t *testing.T) {
	f := newFixture(t)
	d := &dialRecorder{f: f, err: errors.New("dial refused")}
	reg := NewRegistry(d.dial, f.backup, nil, nil, nil)
	ctx := context.Background()

	_, err := reg.Live(ctx, Target{Namespace: "app"})
	require.Error(t, err)

	d.mu.Lock()
	d.err = nil
	d.mu.Unlock()

	l, err := reg.Live(ctx, Target{Namespace: "app"})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestRegistryCloseClosesEverything(t *testing.T) {
	f := newFixture(t)
	d := &dialRecorder{f: f}
	hooks := lifecycle.New(nil)
	reg := NewRegistry(d.dial, f.backup, hooks, nil, nil)
	ctx := context.Background()

	_, err := reg.Reader(ctx, Target{Namespace: "r"})
	require.NoError(t, err)
	m, err := reg.Mapping(ctx, Target{Namespace: "m"})
	require.NoError(t, err)
	_, err = reg.Live(ctx, Target{Namespace: "l"})
	require.NoError(t, err)
	assert.Equal(t, 2, hooks.Len())

	require.NoError(t, m.Set(ctx, "a", 1))
	require.NoError(t, reg.Close(ctx))
	for _, conn := range d.conns {
		assert.True(t, conn.Closed())
	}
	assert.Equal(t, record.Record{"a": float64(1)}, f.remoteRecord(t, "m", "m"))

	// Hooks running afterwards find everything closed already.
	require.NoError(t, hooks.Run(ctx))
	require.NoError(t, reg.Close(ctx))

	_, err = reg.Mapping(ctx, Target{Namespace: "m"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReaderOpenAndView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := f.connect()

	rd, err := NewReader(f.options(store, "app"))
	require.NoError(t, err)

	got, err := rd.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, record.Record{}, got)
	writes := store.HSetCalls()

	f.seedRemote(t, "app", "app", record.Record{"a": 1})
	err = rd.View(ctx, func(r record.Record) error {
		assert.Equal(t, float64(1), r["a"])
		r["b"] = 2
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, writes, store.HSetCalls())
	assert.Equal(t, record.Record{"a": float64(1)}, f.remoteRecord(t, "app", "app"))
	assert.Nil(t, f.backupRecord(t))

	require.NoError(t, rd.Close(ctx))
	require.NoError(t, rd.Close(ctx))
	assert.True(t, store.Closed())
}

func TestReaderRemoteDown(t *testing.T) {
	f := newFixture(t)
	store := f.connect()
	rd, err := NewReader(f.options(store, "app"))
	require.NoError(t, err)

	store.SetDown(true)
	_, err = rd.Open(context.Background())
	assert.ErrorIs(t, err, kv.ErrBackendUnavailable)
}
