package vardiff

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bardlex/gojds/pkg/retry"
)

// StoreConfig holds Redis connection configuration for the vardiff store.
type StoreConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// TTL bounds how long a disconnected channel's difficulty survives.
	TTL time.Duration
}

// RedisStore persists per-key difficulty so a reconnecting channel resumes
// where it left off instead of restarting from the default. All operations
// are best-effort: a store failure is logged and the tracker carries on with
// its in-memory state.
type RedisStore struct {
	rdb         *redis.Client
	ttl         time.Duration
	logger      *slog.Logger
	retryConfig *retry.Config
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg *StoreConfig, logger *slog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	return &RedisStore{
		rdb:         rdb,
		ttl:         ttl,
		logger:      logger,
		retryConfig: retry.StoreConfig(),
	}, nil
}

func storeKey(key Key) string {
	return fmt.Sprintf("vardiff:difficulty:%s", key)
}

// SaveDifficulty records the key's current difficulty.
func (s *RedisStore) SaveDifficulty(ctx context.Context, key Key, difficulty float64) {
	err := retry.Do(ctx, s.retryConfig, func() error {
		return s.rdb.Set(ctx, storeKey(key), difficulty, s.ttl).Err()
	})
	if err != nil {
		s.logger.Error("failed to save vardiff difficulty",
			"key", key.String(), "error", err)
	}
}

// LoadDifficulty returns the stored difficulty for the key, if any.
func (s *RedisStore) LoadDifficulty(ctx context.Context, key Key) (float64, bool) {
	difficulty, err := s.rdb.Get(ctx, storeKey(key)).Float64()
	if err == redis.Nil {
		return 0, false
	}
	if err != nil {
		s.logger.Error("failed to load vardiff difficulty",
			"key", key.String(), "error", err)
		return 0, false
	}
	return difficulty, true
}

// DeleteDifficulty removes the stored difficulty for the key.
func (s *RedisStore) DeleteDifficulty(ctx context.Context, key Key) {
	if err := s.rdb.Del(ctx, storeKey(key)).Err(); err != nil {
		s.logger.Error("failed to delete vardiff difficulty",
			"key", key.String(), "error", err)
	}
}

// Health checks Redis connectivity.
func (s *RedisStore) Health(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
