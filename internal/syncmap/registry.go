package syncmap

import (
	"context"
	"errors"
	"sync"

	"github.com/leafsii/redisdb/internal/backup"
	"github.com/leafsii/redisdb/internal/lifecycle"
	"github.com/leafsii/redisdb/internal/metrics"
	"github.com/leafsii/redisdb/pkg/kv"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Dialer opens a connection to the remote store. Each instance built by a
// Registry gets its own store.
type Dialer func(ctx context.Context) (kv.Store, error)

// Target names the record an instance is bound to.
type Target struct {
	Namespace string
	Key       string
	DontSave  bool
}

type kind string

const (
	kindReader  kind = "reader"
	kindMapping kind = "mapping"
	kindLive    kind = "live"
)

type closer func(ctx context.Context) error

// Registry builds at most one Reader, Mapping and Live for its lifetime.
// The first call for a kind decides the Target; later calls return the
// same instance whatever they ask for.
type Registry struct {
	dial    Dialer
	backup  *backup.File
	hooks   *lifecycle.Hooks
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	group singleflight.Group

	mu        sync.Mutex
	instances map[string]any
	closers   []closer
	closed    bool
}

func NewRegistry(dial Dialer, bf *backup.File, hooks *lifecycle.Hooks, logger *zap.SugaredLogger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{
		dial:      dial,
		backup:    bf,
		hooks:     hooks,
		logger:    logger,
		metrics:   m,
		instances: make(map[string]any),
	}
}

func (r *Registry) options(store kv.Store, t Target) Options {
	return Options{
		Namespace: t.Namespace,
		Key:       t.Key,
		Store:     store,
		Backup:    r.backup,
		DontSave:  t.DontSave,
		Hooks:     r.hooks,
		Logger:    r.logger,
		Metrics:   r.metrics,
	}
}

func (r *Registry) Reader(ctx context.Context, t Target) (*Reader, error) {
	v, err := r.instance(kindReader, func() (any, closer, error) {
		store, err := r.dial(ctx)
		if err != nil {
			return nil, nil, err
		}
		rd, err := NewReader(r.options(store, t))
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return rd, rd.Close, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Reader), nil
}

func (r *Registry) Mapping(ctx context.Context, t Target) (*Mapping, error) {
	v, err := r.instance(kindMapping, func() (any, closer, error) {
		store, err := r.dial(ctx)
		if err != nil {
			return nil, nil, err
		}
		m, err := New(ctx, r.options(store, t))
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Mapping), nil
}

func (r *Registry) Live(ctx context.Context, t Target) (*Live, error) {
	v, err := r.instance(kindLive, func() (any, closer, error) {
		store, err := r.dial(ctx)
		if err != nil {
			return nil, nil, err
		}
		l, err := NewLive(ctx, r.options(store, t))
		if err != nil {
			return nil, nil, err
		}
		return l, l.Close, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Live), nil
}

func (r *Registry) lookup(k kind) (any, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, ErrClosed
	}
	inst, ok := r.instances[string(k)]
	return inst, ok, nil
}

// instance returns the cached instance of kind k, building it once.
// Concurrent first calls share one build.
func (r *Registry) instance(k kind, build func() (any, closer, error)) (any, error) {
	if inst, ok, err := r.lookup(k); err != nil || ok {
		return inst, err
	}

	v, err, _ := r.group.Do(string(k), func() (any, error) {
		if inst, ok, err := r.lookup(k); err != nil || ok {
			return inst, err
		}

		inst, closeFn, err := build()
		if err != nil {
			r.logger.Errorw("Failed to build instance", "kind", string(k), "error", err)
			return nil, err
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			_ = closeFn(context.Background())
			return nil, ErrClosed
		}
		r.instances[string(k)] = inst
		r.closers = append(r.closers, closeFn)
		r.mu.Unlock()

		r.logger.Debugw("Instance built", "kind", string(k))
		return inst, nil
	})
	return v, err
}

// Close closes every instance in reverse build order. Later calls are no-ops.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	closers := r.closers
	r.closers = nil
	r.instances = make(map[string]any)
	r.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
