package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-booking-ai/internal/bookings"
	appconfig "github.com/wolfman30/clinic-booking-ai/internal/config"
	"github.com/wolfman30/clinic-booking-ai/internal/conversation"
	"github.com/wolfman30/clinic-booking-ai/internal/messaging"
	"github.com/wolfman30/clinic-booking-ai/internal/patients"
	"github.com/wolfman30/clinic-booking-ai/pkg/logging"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// BuildLocker serializes turns per address across processes when Redis is
// available. A nil result keeps the orchestrator's in-process lock.
func BuildLocker(redisClient *redis.Client, cfg *appconfig.Config, logger *logging.Logger) conversation.Locker {
	if redisClient == nil || cfg == nil {
		return nil
	}
	return conversation.NewRedisLocker(redisClient, cfg.SessionLockTTL, logger)
}

// Stores groups the persistence backends selected by STORE_BACKEND.
type Stores struct {
	Backend  string
	Patients patients.Repository
	Sessions conversation.SessionStore
	Bookings bookings.Store
	// Messages is nil for the memory backend.
	Messages messaging.MessageLog
}

// BuildStores picks Postgres or in-memory persistence. Postgres requires a pool.
func BuildStores(cfg *appconfig.Config, pool *pgxpool.Pool, logger *logging.Logger) (Stores, error) {
	if cfg == nil {
		return Stores{}, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch cfg.StoreBackend {
	case StoreBackendMemory:
		logger.Warn("using in-memory stores; data is lost on restart")
		return Stores{
			Backend:  StoreBackendMemory,
			Patients: patients.NewInMemoryRepository(),
			Sessions: conversation.NewMemorySessionStore(),
			Bookings: bookings.NewMemoryStore(),
		}, nil
	case StoreBackendPostgres, "":
		if pool == nil {
			return Stores{}, fmt.Errorf("bootstrap: postgres store backend requires DATABASE_URL")
		}
		return Stores{
			Backend:  StoreBackendPostgres,
			Patients: patients.NewPostgresRepository(pool),
			Sessions: conversation.NewPostgresSessionStore(pool),
			Bookings: bookings.NewPostgresStore(pool),
			Messages: messaging.NewStore(pool),
		}, nil
	default:
		return Stores{}, fmt.Errorf("bootstrap: unknown store backend %q", cfg.StoreBackend)
	}
}

// BuildPostgresPool connects when DATABASE_URL is set; otherwise it returns nil.
func BuildPostgresPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	return pool, nil
}
