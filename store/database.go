package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// =============================================================================
// SQL run store
// =============================================================================

// PoolConfig configures the connection pool.
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig returns pool defaults sized for a single CLI process.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:    2,
		MaxOpenConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
	}
}

// runRow is the table layout. Queryable columns are denormalized; the full
// record is kept as JSON in Payload.
type runRow struct {
	RunID      string `gorm:"primaryKey;size:64"`
	Graph      string `gorm:"size:128;index"`
	Status     string `gorm:"size:32;index"`
	Error      string `gorm:"type:text"`
	Units      int
	Warnings   int
	StartedAt  time.Time
	FinishedAt time.Time `gorm:"index"`
	DurationMS int64
	Payload    string `gorm:"type:text"`
}

func (runRow) TableName() string { return "run_records" }

const saveRetries = 3

// DatabaseStore persists records through gorm on postgres, mysql or sqlite.
type DatabaseStore struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	config PoolConfig
	// retryBackoff is the first wait of withTransactionRetry; it doubles per attempt.
	retryBackoff time.Duration
	logger       *zap.Logger
	mu           sync.RWMutex
	closed       bool
}

// Dialector returns the gorm dialector for driver ("postgres", "mysql" or
// "sqlite"). sqlite is the pure-Go driver; dsn is the file path or ":memory:".
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// OpenDatabaseStore opens the database for driver and dsn and migrates the
// run_records schema to the latest version.
func OpenDatabaseStore(ctx context.Context, driver, dsn string, config PoolConfig, logger *zap.Logger) (*DatabaseStore, error) {
	dialector, err := Dialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s, err := NewDatabaseStore(db, config, logger)
	if err != nil {
		return nil, err
	}
	if err := migrateStore(ctx, s, driver, dsn); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate run_records: %w", err)
	}
	return s, nil
}

// NewDatabaseStore configures the pool of db. The run_records table must
// already exist; OpenDatabaseStore creates it.
func NewDatabaseStore(db *gorm.DB, config PoolConfig, logger *zap.Logger) (*DatabaseStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	s := &DatabaseStore{
		db:           db,
		sqlDB:        sqlDB,
		config:       config,
		retryBackoff: 100 * time.Millisecond,
		logger:       logger.With(zap.String("component", "database_store")),
	}
	s.logger.Info("database run store initialized",
		zap.String("dialect", db.Dialector.Name()),
		zap.Int("max_open_conns", config.MaxOpenConns),
	)
	return s, nil
}

// DB returns the gorm handle.
func (s *DatabaseStore) DB() *gorm.DB {
	return s.db
}

func (s *DatabaseStore) Save(ctx context.Context, rec *RunRecord) error {
	if err := rec.validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	row := runRow{
		RunID:      rec.RunID,
		Graph:      rec.Graph,
		Status:     string(rec.Status),
		Error:      rec.Error,
		Units:      rec.Units,
		Warnings:   len(rec.Warnings),
		StartedAt:  rec.StartedAt.UTC(),
		FinishedAt: rec.FinishedAt.UTC(),
		DurationMS: rec.Duration.Milliseconds(),
		Payload:    string(payload),
	}
	return s.withTransactionRetry(ctx, saveRetries, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	})
}

func (s *DatabaseStore) Get(ctx context.Context, runID string) (*RunRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var row runRow
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run record: %w", err)
	}
	return decodeRow(row)
}

func (s *DatabaseStore) List(ctx context.Context, limit int) ([]*RunRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Order("finished_at DESC").Order("run_id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []runRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list run records: %w", err)
	}
	out := make([]*RunRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeRow(row)
		if err != nil {
			s.logger.Warn("skipping undecodable run record", zap.String("run_id", row.RunID), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeRow(row runRow) (*RunRecord, error) {
	var rec RunRecord
	if err := json.Unmarshal([]byte(row.Payload), &rec); err != nil {
		return nil, fmt.Errorf("decode run record %s: %w", row.RunID, err)
	}
	return &rec, nil
}

// Ping checks the connection.
func (s *DatabaseStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.sqlDB.PingContext(ctx)
}

func (s *DatabaseStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Debug("closing database run store")
	return s.sqlDB.Close()
}

func (s *DatabaseStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("database store is closed")
	}
	return nil
}

// =============================================================================
// Transactions
// =============================================================================

func (s *DatabaseStore) withTransactionRetry(ctx context.Context, maxRetries int, fn func(tx *gorm.DB) error) error {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if err := s.checkOpen(); err != nil {
			return err
		}
		err := s.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return err
		}

		s.logger.Warn("transaction failed, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
		)

		backoff := time.Duration(1<<uint(i)) * s.retryBackoff
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("transaction failed after %d retries: %w", maxRetries, lastErr)
}

// isRetryableError matches deadlocks, serialization failures, lock timeouts
// and dropped connections across the supported drivers.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"deadlock",
		"serialization failure", "40001",
		"connection reset", "connection refused", "broken pipe", "bad connection",
		"lock timeout", "lock wait timeout",
		"database is locked",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
