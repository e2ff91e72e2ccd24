package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/reviewflow/config"
)

// Open builds the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.HistoryLimit), nil
	case "redis":
		r := cfg.Redis
		return NewRedisStore(ctx, RedisConfig{
			Addr:         r.Addr,
			Password:     r.Password,
			DB:           r.DB,
			PoolSize:     r.PoolSize,
			MinIdleConns: r.MinIdleConns,
			KeyPrefix:    r.KeyPrefix,
			TTL:          cfg.TTL,
			TLS:          r.TLS,
		}, logger)
	case "database":
		d := cfg.Database
		pool := DefaultPoolConfig()
		if d.MaxOpenConns > 0 {
			pool.MaxOpenConns = d.MaxOpenConns
		}
		if d.MaxIdleConns > 0 {
			pool.MaxIdleConns = d.MaxIdleConns
		}
		if d.ConnMaxLifetime > 0 {
			pool.ConnMaxLifetime = d.ConnMaxLifetime
		}
		return OpenDatabaseStore(ctx, d.Driver, d.DSN(), pool, logger)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}

// OpRecorder receives one call per store operation. *metrics.Collector
// implements it.
type OpRecorder interface {
	RecordStoreOp(backend, operation string, duration time.Duration, err error)
}

// Instrumented reports every call of the wrapped store to rec.
type Instrumented struct {
	inner   Store
	backend string
	rec     OpRecorder
}

var _ Store = (*Instrumented)(nil)

func NewInstrumented(inner Store, backend string, rec OpRecorder) *Instrumented {
	return &Instrumented{inner: inner, backend: backend, rec: rec}
}

func (s *Instrumented) Save(ctx context.Context, rec *RunRecord) error {
	start := time.Now()
	err := s.inner.Save(ctx, rec)
	s.rec.RecordStoreOp(s.backend, "save", time.Since(start), err)
	return err
}

func (s *Instrumented) Get(ctx context.Context, runID string) (*RunRecord, error) {
	start := time.Now()
	rec, err := s.inner.Get(ctx, runID)
	s.rec.RecordStoreOp(s.backend, "get", time.Since(start), err)
	return rec, err
}

func (s *Instrumented) List(ctx context.Context, limit int) ([]*RunRecord, error) {
	start := time.Now()
	recs, err := s.inner.List(ctx, limit)
	s.rec.RecordStoreOp(s.backend, "list", time.Since(start), err)
	return recs, err
}

func (s *Instrumented) Close() error {
	return s.inner.Close()
}
