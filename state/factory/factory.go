// Package factory builds the configured solve-history backend.
package factory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/PipeOpsHQ/quiz-agent/state"
	redisstore "github.com/PipeOpsHQ/quiz-agent/state/redis"
	sqlitestore "github.com/PipeOpsHQ/quiz-agent/state/sqlite"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

type Config struct {
	Backend       string        `env:"STATE_BACKEND" envDefault:"sqlite"`
	SQLitePath    string        `env:"SQLITE_PATH" envDefault:"./.quiz-agent/state.db"`
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RedisTTL      time.Duration `env:"REDIS_TTL" envDefault:"72h"`
}

// FromEnv reads Config from the environment and opens the store.
func FromEnv(ctx context.Context) (state.Store, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse state config: %w", err)
	}
	return New(ctx, cfg)
}

// New returns a nil Store and no error for the "none" backend.
func New(ctx context.Context, cfg Config) (state.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendSQLite:
		return sqlitestore.New(cfg.SQLitePath)
	case BackendRedis:
		return redisstore.New(ctx, cfg.RedisAddr,
			redisstore.WithPassword(cfg.RedisPassword),
			redisstore.WithDB(cfg.RedisDB),
			redisstore.WithTTL(cfg.RedisTTL),
		)
	case BackendNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported STATE_BACKEND %q (use sqlite, redis, or none)", cfg.Backend)
	}
}
