// Package lifecycle runs registered cleanup callbacks once when the
// process terminates normally or is asked to stop.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// Hook is a cleanup callback.
type Hook func(ctx context.Context) error

type namedHook struct {
	name string
	fn   Hook
}

// Hooks is an ordered set of exit callbacks. Run executes them at most once.
type Hooks struct {
	mu     sync.Mutex
	hooks  []namedHook
	ran    bool
	logger *zap.SugaredLogger
}

// New returns an empty hook set.
func New(logger *zap.SugaredLogger) *Hooks {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hooks{logger: logger}
}

// Register adds fn. Hooks registered after Run are ignored.
func (h *Hooks) Register(name string, fn Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ran {
		h.logger.Warnw("Exit hook registered after shutdown, ignoring", "hook", name)
		return
	}
	h.hooks = append(h.hooks, namedHook{name: name, fn: fn})
}

// Len returns the number of registered hooks.
func (h *Hooks) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.hooks)
}

// Run executes every hook in reverse registration order. A failing hook
// does not stop the others; all errors are joined. Later calls are no-ops.
func (h *Hooks) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.ran {
		h.mu.Unlock()
		return nil
	}
	h.ran = true
	hooks := h.hooks
	h.hooks = nil
	h.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		hk := hooks[i]
		if err := hk.fn(ctx); err != nil {
			h.logger.Errorw("Exit hook failed", "hook", hk.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", hk.name, err))
			continue
		}
		h.logger.Debugw("Exit hook completed", "hook", hk.name)
	}
	return errors.Join(errs...)
}

// WaitForSignal blocks until SIGINT/SIGTERM arrives or ctx is done and
// returns the signal, or nil when ctx ended first.
func WaitForSignal(ctx context.Context) os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)

	select {
	case sig := <-ch:
		return sig
	case <-ctx.Done():
		return nil
	}
}
