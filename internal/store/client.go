package store

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowmesh/jobbroker/internal/config"
)

// Store wraps a go-redis/v9 client with the broker's key layout and
// operations. It standardizes on v9 everywhere; the teacher's
// internal/redisclient (go-redis/v8) is not reused, see DESIGN.md.
type Store struct {
	rdb *redis.Client
}

// New constructs a Store from Store configuration, pinging Redis before
// returning so misconfiguration fails at startup rather than on first use.
func New(ctx context.Context, cfg config.Store) (*Store, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse store.url: %w", err)
	}
	if cfg.Username != "" {
		opt.Username = cfg.Username
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opt.DB = cfg.DB
	}
	poolSize := cfg.PoolSizeMultiplier * runtime.NumCPU()
	if poolSize <= 0 {
		poolSize = 10 * runtime.NumCPU()
	}
	opt.PoolSize = poolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.DialTimeout = cfg.DialTimeout
	opt.ReadTimeout = cfg.ReadTimeout
	opt.WriteTimeout = cfg.WriteTimeout
	opt.MaxRetries = cfg.MaxRetries

	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping store: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.rdb.Close() }

// Raw exposes the underlying client for packages that need a primitive this
// Store does not wrap (e.g. the readiness check's PING).
func (s *Store) Raw() *redis.Client { return s.rdb }
