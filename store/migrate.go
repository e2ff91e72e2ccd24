package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// =============================================================================
// Embedded migrations
// =============================================================================

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// MigrationsTable records the applied schema version.
const MigrationsTable = "run_records_schema"

// MigrationInfo summarizes the schema state of a database.
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Migrator applies the versioned run_records schema with golang-migrate.
type Migrator struct {
	migrate *migrate.Migrate
	dialect string
	logger  *zap.Logger
}

// NewMigrator binds the embedded migrations for dialect ("postgres", "mysql"
// or "sqlite") to db. The postgres and mysql drivers close db on Close; the
// sqlite driver leaves it open.
func NewMigrator(db *sql.DB, dialect string, logger *zap.Logger) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		driver database.Driver
		err    error
	)
	switch dialect {
	case "postgres":
		driver, err = pgxmigrate.WithInstance(db, &pgxmigrate.Config{MigrationsTable: MigrationsTable})
	case "mysql":
		driver, err = mysql.WithInstance(db, &mysql.Config{MigrationsTable: MigrationsTable})
	case "sqlite":
		driver, err = newSQLiteDriver(db, MigrationsTable)
	default:
		return nil, fmt.Errorf("unsupported migration dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s migration driver: %w", dialect, err)
	}

	source, err := iofs.New(migrationsFS, "migrations/"+dialect)
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, dialect, driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.LockTimeout = 15 * time.Second
	m.Log = migrateLogger{logger.Sugar()}

	return &Migrator{
		migrate: m,
		dialect: dialect,
		logger:  logger.With(zap.String("component", "migrator"), zap.String("dialect", dialect)),
	}, nil
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := m.migrate.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Debug("schema is up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}
	m.logger.Info("migrations applied")
	return nil
}

// Steps applies (n > 0) or rolls back (n < 0) n migrations.
func (m *Migrator) Steps(ctx context.Context, n int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.migrate.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration steps failed: %w", err)
	}
	return nil
}

// Version returns the applied version, 0 when nothing is applied.
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// Info compares the applied version with the embedded migrations.
func (m *Migrator) Info(ctx context.Context) (*MigrationInfo, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	versions, err := availableVersions(m.dialect)
	if err != nil {
		return nil, err
	}
	applied := 0
	for _, v := range versions {
		if v <= current {
			applied++
		}
	}
	return &MigrationInfo{
		CurrentVersion:    current,
		Dirty:             dirty,
		TotalMigrations:   len(versions),
		AppliedMigrations: applied,
		PendingMigrations: len(versions) - applied,
	}, nil
}

// Close releases the migration source and database driver.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	return errors.Join(srcErr, dbErr)
}

func availableVersions(dialect string) ([]uint, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations/"+dialect)
	if err != nil {
		return nil, err
	}
	seen := make(map[uint]bool)
	for _, e := range entries {
		var v uint
		if _, err := fmt.Sscanf(e.Name(), "%d_", &v); err != nil {
			continue
		}
		seen[v] = true
	}
	versions := make([]uint, 0, len(seen))
	for v := range seen {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// migrateStore applies the schema for the store's driver. sqlite migrates on
// the store's own handle, since a :memory: database exists only on its
// connection; postgres and mysql get a dedicated handle that the migrator closes.
func migrateStore(ctx context.Context, s *DatabaseStore, driver, dsn string) error {
	db := s.sqlDB
	if driver != "sqlite" {
		name := "pgx"
		if driver == "mysql" {
			name = "mysql"
		}
		own, err := sql.Open(name, dsn)
		if err != nil {
			return fmt.Errorf("open migration connection: %w", err)
		}
		db = own
	}

	m, err := NewMigrator(db, driver, s.logger)
	if err != nil {
		if db != s.sqlDB {
			_ = db.Close()
		}
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			s.logger.Warn("failed to close migrator", zap.Error(err))
		}
	}()

	if err := m.Up(ctx); err != nil {
		return err
	}
	version, _, err := m.Version(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("run_records schema ready", zap.Uint("version", version))
	return nil
}

type migrateLogger struct {
	l *zap.SugaredLogger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.l.Debugf(strings.TrimSuffix(format, "\n"), v...)
}

func (l migrateLogger) Verbose() bool { return false }

// =============================================================================
// sqlite migration driver
// =============================================================================

// sqliteDriver implements database.Driver on an open handle of the pure-Go
// sqlite driver. Close leaves the handle open.
type sqliteDriver struct {
	db     *sql.DB
	table  string
	locked atomic.Bool
}

var _ database.Driver = (*sqliteDriver)(nil)

func newSQLiteDriver(db *sql.DB, table string) (*sqliteDriver, error) {
	if err := db.Ping(); err != nil {
		return nil, err
	}
	d := &sqliteDriver{db: db, table: table}
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (version INTEGER NOT NULL, dirty BOOLEAN NOT NULL);
CREATE UNIQUE INDEX IF NOT EXISTS %s_version ON %s (version);`, table, table, table)
	if _, err := db.Exec(query); err != nil {
		return nil, &database.Error{OrigErr: err, Query: []byte(query)}
	}
	return d, nil
}

func (d *sqliteDriver) Open(string) (database.Driver, error) {
	return nil, errors.New("sqlite migration driver works on an open handle only")
}

func (d *sqliteDriver) Close() error { return nil }

func (d *sqliteDriver) Lock() error {
	if !d.locked.CompareAndSwap(false, true) {
		return database.ErrLocked
	}
	return nil
}

func (d *sqliteDriver) Unlock() error {
	if !d.locked.CompareAndSwap(true, false) {
		return database.ErrNotLocked
	}
	return nil
}

func (d *sqliteDriver) Run(migration io.Reader) error {
	query, err := io.ReadAll(migration)
	if err != nil {
		return err
	}
	tx, err := d.db.Begin()
	if err != nil {
		return &database.Error{OrigErr: err, Err: "transaction start failed"}
	}
	if _, err := tx.Exec(string(query)); err != nil {
		_ = tx.Rollback()
		return &database.Error{OrigErr: err, Err: "migration failed", Query: query}
	}
	if err := tx.Commit(); err != nil {
		return &database.Error{OrigErr: err, Err: "transaction commit failed"}
	}
	return nil
}

func (d *sqliteDriver) SetVersion(version int, dirty bool) error {
	tx, err := d.db.Begin()
	if err != nil {
		return &database.Error{OrigErr: err, Err: "transaction start failed"}
	}
	if _, err := tx.Exec("DELETE FROM " + d.table); err != nil {
		_ = tx.Rollback()
		return &database.Error{OrigErr: err, Err: "clear version failed"}
	}
	// NilVersion with dirty set still has to be recorded.
	if version >= 0 || (version == database.NilVersion && dirty) {
		if _, err := tx.Exec("INSERT INTO "+d.table+" (version, dirty) VALUES (?, ?)", version, dirty); err != nil {
			_ = tx.Rollback()
			return &database.Error{OrigErr: err, Err: "set version failed"}
		}
	}
	if err := tx.Commit(); err != nil {
		return &database.Error{OrigErr: err, Err: "transaction commit failed"}
	}
	return nil
}

func (d *sqliteDriver) Version() (int, bool, error) {
	var (
		version int
		dirty   bool
	)
	err := d.db.QueryRow("SELECT version, dirty FROM "+d.table+" LIMIT 1").Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return database.NilVersion, false, nil
	}
	if err != nil {
		return 0, false, &database.Error{OrigErr: err, Err: "read version failed"}
	}
	return version, dirty, nil
}

func (d *sqliteDriver) Drop() error {
	rows, err := d.db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return &database.Error{OrigErr: err, Err: "list tables failed"}
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, t := range tables {
		if _, err := d.db.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return &database.Error{OrigErr: err, Err: "drop table failed"}
		}
	}
	return nil
}
