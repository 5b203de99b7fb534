package redis

import (
	"fmt"

	"github.com/leafsii/redisdb/pkg/kv"
	"github.com/redis/go-redis/v9"
)

func init() {
	kv.RegisterBackend(kv.BackendRedis, func(cfg kv.Config) (kv.Store, error) {
		if cfg.RedisURL != "" {
			if cfg.SkipStartupProbe {
				opt, err := redis.ParseURL(cfg.RedisURL)
				if err != nil {
					return nil, fmt.Errorf("parse redis url: %w", err)
				}
				return NewWithClient(redis.NewClient(opt)), nil
			}
			return NewFromURL(cfg.RedisURL)
		}
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis address is required when backend is 'redis'")
		}
		opts := Options{
			Addr:                cfg.RedisAddr,
			Password:            cfg.RedisPassword,
			DB:                  cfg.RedisDB,
			ClientName:          cfg.ClientName,
			HealthCheckInterval: cfg.HealthCheckInterval,
			DialTimeout:         cfg.DialTimeout,
		}
		if cfg.SkipStartupProbe {
			return NewLazy(opts), nil
		}
		return New(opts)
	})
}
