package postgres

import (
	"context"
	"fmt"

	"github.com/leafsii/redisdb/pkg/kv"
)

func init() {
	kv.RegisterBackend(kv.BackendPostgres, func(cfg kv.Config) (kv.Store, error) {
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres DSN is required when backend is 'postgres'")
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
		defer cancel()
		return New(ctx, cfg.PostgresDSN)
	})
}
