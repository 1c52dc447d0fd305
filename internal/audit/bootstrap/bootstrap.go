// Package bootstrap builds the audit store and service from configuration. The HTTP server and
// the auditctl CLI share it so both see the same backend and policy.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"storefront/internal/platform/config"
	"storefront/internal/platform/postgres"
	platformredis "storefront/internal/platform/redis"
	audit "storefront/pkg/platform/audit"
	"storefront/pkg/platform/audit/policy"
	"storefront/pkg/platform/audit/service"
	"storefront/pkg/platform/audit/store/memory"
	pgstore "storefront/pkg/platform/audit/store/postgres"
	redisstore "storefront/pkg/platform/audit/store/redis"
)

// Store is an opened audit store and the function releasing its connections.
type Store struct {
	audit.Store
	Close func() error
}

// OpenStore opens the store selected by cfg.Store.Driver.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Store, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		logger.Warn("audit records are kept in memory and lost on restart")
		return &Store{Store: memory.NewInMemoryStore(), Close: func() error { return nil }}, nil

	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		s := pgstore.New(db)
		if cfg.Database.EnsureSchema {
			if err := s.EnsureSchema(ctx); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return &Store{Store: s, Close: db.Close}, nil

	case config.StoreRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		s := redisstore.New(client.Client, redisstore.WithPrefix(cfg.Redis.KeyPrefix))
		return &Store{Store: s, Close: client.Close}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// NewPolicy builds the policy engine from the configured table.
func NewPolicy(cfg *config.Config) (*policy.Engine, error) {
	engine, err := policy.New(cfg.Audit.Policy)
	if err != nil {
		return nil, fmt.Errorf("audit policy: %w", err)
	}
	return engine, nil
}

// NewService builds the audit service on store. Metrics are registered on reg when non-nil.
func NewService(store audit.Store, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*service.Service, error) {
	engine, err := NewPolicy(cfg)
	if err != nil {
		return nil, err
	}
	return service.New(store,
		service.WithLogger(logger),
		service.WithMetrics(service.NewMetrics(reg)),
		service.WithPolicy(engine),
		service.WithWriteTimeout(cfg.Audit.WriteTimeout),
		service.WithRetry(cfg.Audit.RetryAttempts, cfg.Audit.RetryDelay),
		service.WithBreaker(service.BreakerSettings{
			FailureThreshold: cfg.Audit.BreakerFailures,
			OpenTimeout:      cfg.Audit.BreakerOpenTimeout,
		}),
		service.WithAsyncLimit(cfg.Audit.AsyncLimit),
	)
}
