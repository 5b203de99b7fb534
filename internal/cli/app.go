package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/leafsii/redisdb/internal/api"
	"github.com/leafsii/redisdb/internal/backup"
	"github.com/leafsii/redisdb/internal/config"
	"github.com/leafsii/redisdb/internal/lifecycle"
	"github.com/leafsii/redisdb/internal/log"
	"github.com/leafsii/redisdb/internal/metrics"
	"github.com/leafsii/redisdb/internal/syncmap"
	"github.com/leafsii/redisdb/pkg/kv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	// Backends register themselves with kv.
	_ "github.com/leafsii/redisdb/pkg/kv/memory"
	_ "github.com/leafsii/redisdb/pkg/kv/postgres"
	_ "github.com/leafsii/redisdb/pkg/kv/redis"
)

// app is everything a command needs, built from config.
type app struct {
	cfg            *config.Config
	logger         *zap.SugaredLogger
	hooks          *lifecycle.Hooks
	metrics        *metrics.Metrics
	metricsHandler http.Handler
	registry       *syncmap.Registry
}

func newApp(cmd *cobra.Command, withMetrics bool) (*app, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := log.NewSugar(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		hooks:  lifecycle.New(logger),
	}

	if withMetrics {
		a.metrics, a.metricsHandler, err = metrics.Setup("redisdb")
		if err != nil {
			return nil, fmt.Errorf("setup metrics: %w", err)
		}
	}

	a.registry = syncmap.NewRegistry(a.dial, backup.Open(cfg.Sync.BackupPath, logger), a.hooks, logger, a.metrics)
	return a, nil
}

// dial skips the startup probe: a mapping must be constructible while the
// remote store is down so the local backup can stand in. /readyz still pings.
func (a *app) dial(ctx context.Context) (kv.Store, error) {
	cfg := a.cfg.KVConfig(func(msg string, fields ...any) {
		a.logger.Infow(msg, fields...)
	})
	cfg.SkipStartupProbe = true
	return kv.NewStoreFromConfig(cfg)
}

func (a *app) target() syncmap.Target {
	return syncmap.Target{
		Namespace: a.cfg.Sync.Namespace,
		Key:       a.cfg.Sync.Key,
		DontSave:  a.cfg.Sync.DontSave,
	}
}

// mapping returns the read-write mapping for the configured mode.
func (a *app) mapping(ctx context.Context) (api.Mapping, error) {
	if a.cfg.Sync.Mode == config.ModeCheckpoint {
		m, err := a.registry.Mapping(ctx, a.target())
		if err != nil {
			return nil, err
		}
		return m, nil
	}

	l, err := a.registry.Live(ctx, a.target())
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (a *app) reader(ctx context.Context) (*syncmap.Reader, error) {
	return a.registry.Reader(ctx, a.target())
}

// shutdown runs the exit hooks, then closes whatever the registry built
// that has no hook.
func (a *app) shutdown(ctx context.Context) error {
	err := errors.Join(a.hooks.Run(ctx), a.registry.Close(ctx))
	_ = a.logger.Sync()
	return err
}
