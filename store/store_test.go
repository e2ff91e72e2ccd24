package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/reviewflow/config"
	"github.com/BaSui01/reviewflow/workflow"
)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func record(id string, finished time.Time) *RunRecord {
	return &RunRecord{
		RunID:      id,
		Graph:      "paper_review",
		Status:     workflow.ExecutionStatusPartial,
		Warnings:   []workflow.Warning{{Code: workflow.ErrValidationWarning, Step: "length_guard", Message: "gave up"}},
		Partials:   []PartialRecord{{Step: "sync_extraction", Converge: "length_guard", Failed: []string{"analyze_results"}}},
		Path:       []string{"convert_md", "length_guard"},
		Units:      2,
		Snapshot:   map[string]any{"title": "A Paper"},
		StartedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
		Duration:   time.Minute,
	}
}

func setupRedis(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(t.Context(), RedisConfig{Addr: mr.Addr(), KeyPrefix: "test:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func setupDatabase(t *testing.T) *DatabaseStore {
	t.Helper()
	pool := DefaultPoolConfig()
	// every connection to :memory: is a separate database
	pool.MaxOpenConns = 1
	s, err := OpenDatabaseStore(t.Context(), "sqlite", ":memory:", pool, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func backends(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory":   NewMemoryStore(0),
		"redis":    setupRedis(t),
		"database": setupDatabase(t),
	}
}

// ---------------------------------------------------------------------------
// Store contract
// ---------------------------------------------------------------------------

func TestStore_SaveGet(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			now := time.Now().Truncate(time.Millisecond)
			require.NoError(t, s.Save(ctx, record("run-1", now)))

			got, err := s.Get(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, "paper_review", got.Graph)
			assert.Equal(t, workflow.ExecutionStatusPartial, got.Status)
			assert.Equal(t, []string{"convert_md", "length_guard"}, got.Path)
			assert.Equal(t, "A Paper", got.Snapshot["title"])
			require.Len(t, got.Warnings, 1)
			assert.Equal(t, workflow.ErrValidationWarning, got.Warnings[0].Code)
			require.Len(t, got.Partials, 1)
			assert.Equal(t, []string{"analyze_results"}, got.Partials[0].Failed)
			assert.True(t, now.Equal(got.FinishedAt))
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(t.Context(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			rec := record("run-1", time.Now())
			require.NoError(t, s.Save(ctx, rec))
			rec.Status = workflow.ExecutionStatusCompleted
			require.NoError(t, s.Save(ctx, rec))

			got, err := s.Get(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, workflow.ExecutionStatusCompleted, got.Status)

			all, err := s.List(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			base := time.Now().Truncate(time.Second)
			for i := 0; i < 4; i++ {
				require.NoError(t, s.Save(ctx, record(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Second))))
			}

			all, err := s.List(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 4)
			assert.Equal(t, "run-3", all[0].RunID)
			assert.Equal(t, "run-0", all[3].RunID)

			top, err := s.List(ctx, 2)
			require.NoError(t, err)
			require.Len(t, top, 2)
			assert.Equal(t, "run-3", top[0].RunID)
			assert.Equal(t, "run-2", top[1].RunID)
		})
	}
}

func TestStore_RejectsInvalidRecord(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, s.Save(t.Context(), &RunRecord{}))
			assert.Error(t, s.Save(t.Context(), nil))
		})
	}
}

// ---------------------------------------------------------------------------
// Backend specifics
// ---------------------------------------------------------------------------

func TestMemoryStore_Limit(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Save(ctx, record(fmt.Sprintf("run-%d", i), now.Add(time.Duration(i)*time.Second))))
	}
	assert.Equal(t, 2, s.Len())
	_, err := s.Get(ctx, "run-0")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, record("run-1", time.Now())))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	got.Status = workflow.ExecutionStatusFailed

	again, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionStatusPartial, again.Status)
}

func TestRedisStore_TTLAndPrune(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(t.Context(), RedisConfig{Addr: mr.Addr(), KeyPrefix: "rf:", TTL: time.Minute}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	ctx := t.Context()
	require.NoError(t, s.Save(ctx, record("old", time.Now().Add(-time.Hour))))
	assert.True(t, mr.Exists("rf:run:old"))
	assert.Equal(t, time.Minute, mr.TTL("rf:run:old"))

	mr.FastForward(2 * time.Minute)
	require.NoError(t, s.Save(ctx, record("new", time.Now())))

	list, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].RunID)

	members, err := mr.ZMembers("rf:runs")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, members)
}

func TestRedisStore_ConnectFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(t.Context(), RedisConfig{Addr: addr}, zap.NewNop())
	assert.Error(t, err)
}

func TestRedisStore_Closed(t *testing.T) {
	s := setupRedis(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Error(t, s.Save(t.Context(), record("run-1", time.Now())))
	_, err := s.Get(t.Context(), "run-1")
	assert.Error(t, err)
}

func TestDatabaseStore_Closed(t *testing.T) {
	s := setupDatabase(t)
	require.NoError(t, s.Ping(t.Context()))
	require.NoError(t, s.Close())

	assert.Error(t, s.Save(t.Context(), record("run-1", time.Now())))
	assert.Error(t, s.Ping(t.Context()))
}

func TestDatabaseStore_NilDB(t *testing.T) {
	_, err := NewDatabaseStore(nil, DefaultPoolConfig(), nil)
	assert.Error(t, err)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Deadlock found when trying to get lock"), true},
		{errors.New("ERROR: could not serialize access (SQLSTATE 40001)"), true},
		{errors.New("database is locked"), true},
		{errors.New("driver: bad connection"), true},
		{errors.New("duplicate key value violates unique constraint"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryableError(tt.err), "%v", tt.err)
	}
}

func TestDialector(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql", "sqlite"} {
		d, err := Dialector(driver, "dsn")
		require.NoError(t, err)
		assert.Equal(t, driver, d.Name())
	}
	_, err := Dialector("oracle", "dsn")
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Factory and instrumentation
// ---------------------------------------------------------------------------

func TestOpen(t *testing.T) {
	ctx := t.Context()

	s, err := Open(ctx, config.StoreConfig{Backend: "memory", HistoryLimit: 5}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	mr := miniredis.RunT(t)
	cfg := config.DefaultStoreConfig()
	cfg.Backend = "redis"
	cfg.Redis.Addr = mr.Addr()
	s, err = Open(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)
	require.NoError(t, s.Close())

	cfg = config.DefaultStoreConfig()
	cfg.Backend = "database"
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = ":memory:"
	cfg.Database.MaxOpenConns = 1
	s, err = Open(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &DatabaseStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, config.StoreConfig{Backend: "s3"}, nil)
	assert.Error(t, err)
}

type opRecorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *opRecorder) RecordStoreOp(backend, operation string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := "ok"
	if err != nil {
		status = "err"
	}
	r.ops = append(r.ops, backend+"/"+operation+"/"+status)
}

func TestInstrumented(t *testing.T) {
	rec := &opRecorder{}
	s := NewInstrumented(NewMemoryStore(0), "memory", rec)
	ctx := t.Context()

	require.NoError(t, s.Save(ctx, record("run-1", time.Now())))
	_, _ = s.Get(ctx, "missing")
	_, _ = s.List(ctx, 0)
	require.NoError(t, s.Close())

	assert.Equal(t, []string{"memory/save/ok", "memory/get/err", "memory/list/ok"}, rec.ops)
}

// ---------------------------------------------------------------------------
// NewRunRecord
// ---------------------------------------------------------------------------

func TestNewRunRecord(t *testing.T) {
	g, err := workflow.NewBuilder("tiny").
		AddStep(workflow.Func("write", func(context.Context, workflow.View) (workflow.Delta, error) {
			return workflow.Delta{"title": "T", "pages": []string{"p1"}}, nil
		}).WithReads("input_path").WithWrites("title", "pages")).
		AddEdge("write", workflow.End).
		SetEntry("write").
		Build()
	require.NoError(t, err)

	res, runErr := workflow.NewExecutor(g, workflow.Options{}, nil).
		Execute(t.Context(), workflow.NewState(map[string]any{"input_path": "a.txt"}), "")
	require.NoError(t, runErr)

	rec := NewRunRecord(res, nil, "pages")
	assert.Equal(t, res.RunID, rec.RunID)
	assert.Equal(t, "tiny", rec.Graph)
	assert.Equal(t, workflow.ExecutionStatusCompleted, rec.Status)
	assert.Equal(t, []string{"write"}, rec.Path)
	require.Len(t, rec.Trace, 1)
	assert.Equal(t, workflow.UnitStep, rec.Trace[0].Kind)
	assert.Equal(t, workflow.ExecutionStatusCompleted, rec.Trace[0].Status)
	assert.Equal(t, []string{"pages", "title"}, rec.Trace[0].Written)
	assert.Equal(t, "T", rec.Snapshot["title"])
	assert.NotContains(t, rec.Snapshot, "pages")
	assert.False(t, rec.FinishedAt.IsZero())
	assert.Empty(t, rec.Error)
}

func TestNewRunRecord_Failure(t *testing.T) {
	res := &workflow.Result{
		RunID:  "r",
		Graph:  "g",
		Status: workflow.ExecutionStatusFailed,
		Partials: []*workflow.PartialFailure{{
			Step:     "s",
			Converge: "c",
			Failed:   []string{"b"},
			Errors:   map[string]error{"b": errors.New("boom")},
		}},
		Duration: time.Second,
	}
	rec := NewRunRecord(res, errors.New("fatal"))
	assert.Equal(t, "fatal", rec.Error)
	require.Len(t, rec.Partials, 1)
	assert.Equal(t, "boom", rec.Partials[0].Errors["b"])
	assert.Equal(t, time.Second, rec.FinishedAt.Sub(rec.StartedAt))
	assert.Nil(t, rec.Snapshot)
	assert.Empty(t, rec.Trace)
}
