package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/reviewflow/internal/tlsutil"
)

// =============================================================================
// Redis run store
// =============================================================================

// RedisConfig configures RedisStore.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	// KeyPrefix namespaces every key, e.g. "reviewflow:".
	KeyPrefix string
	// TTL expires records; 0 keeps them.
	TTL time.Duration
	// TLS enables a TLS connection with the hardened client settings.
	TLS        bool
	TLSOptions tlsutil.Options
}

// RedisStore keeps each record as a JSON string under <prefix>run:<id> and
// indexes run ids in the sorted set <prefix>runs scored by finish time.
type RedisStore struct {
	client *redis.Client
	config RedisConfig
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, config RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := &redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	}
	if config.TLS {
		tlsCfg, err := tlsutil.ClientConfig(config.TLSOptions)
		if err != nil {
			return nil, fmt.Errorf("redis tls: %w", err)
		}
		opts.TLSConfig = tlsCfg
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := &RedisStore{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "redis_store")),
	}
	s.logger.Info("redis run store initialized",
		zap.String("addr", config.Addr),
		zap.Duration("ttl", config.TTL),
	)
	return s, nil
}

func (s *RedisStore) recordKey(runID string) string {
	return s.config.KeyPrefix + "run:" + runID
}

func (s *RedisStore) indexKey() string {
	return s.config.KeyPrefix + "runs"
}

func (s *RedisStore) Save(ctx context.Context, rec *RunRecord) error {
	if err := rec.validate(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("redis store is closed")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(rec.RunID), data, s.config.TTL)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(rec.FinishedAt.UnixNano()),
			Member: rec.RunID,
		})
		return nil
	})
	if err != nil {
		s.logger.Error("save run record failed", zap.String("run_id", rec.RunID), zap.Error(err))
		return fmt.Errorf("save run record: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, runID string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.New("redis store is closed")
	}

	val, err := s.client.Get(ctx, s.recordKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run record: %w", err)
	}
	var rec RunRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("decode run record %s: %w", runID, err)
	}
	return &rec, nil
}

// List reads the index newest first. Index entries whose record expired are
// removed as they are found.
func (s *RedisStore) List(ctx context.Context, limit int) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.New("redis store is closed")
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list run ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load run records: %w", err)
	}

	out := make([]*RunRecord, 0, len(vals))
	var stale []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var rec RunRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			s.logger.Warn("skipping undecodable run record", zap.String("run_id", ids[i]), zap.Error(err))
			continue
		}
		out = append(out, &rec)
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(), stale...).Err(); err != nil {
			s.logger.Debug("prune run index failed", zap.Error(err))
		}
	}
	return out, nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("redis store is closed")
	}
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Debug("closing redis run store")
	return s.client.Close()
}
