package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/BaSui01/reviewflow/workflow"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run record not found")

// PartialRecord is the persisted form of a *workflow.PartialFailure.
type PartialRecord struct {
	Step     string            `json:"step"`
	Converge string            `json:"converge"`
	Failed   []string          `json:"failed"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// RunRecord is the diagnostic record of one finished run. It is kept for
// inspection only; runs are never resumed from it.
type RunRecord struct {
	RunID      string                   `json:"run_id"`
	Graph      string                   `json:"graph"`
	Status     workflow.ExecutionStatus `json:"status"`
	Error      string                   `json:"error,omitempty"`
	Warnings   []workflow.Warning       `json:"warnings,omitempty"`
	Partials   []PartialRecord          `json:"partials,omitempty"`
	Path       []string                 `json:"path,omitempty"`
	Trace      []workflow.UnitExecution `json:"trace,omitempty"`
	Units      int                      `json:"units"`
	Snapshot   map[string]any           `json:"snapshot,omitempty"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
	Duration   time.Duration            `json:"duration"`
}

// NewRunRecord builds a record from the result of Executor.Execute. Fields
// named in omit are left out of the snapshot.
func NewRunRecord(res *workflow.Result, runErr error, omit ...string) *RunRecord {
	rec := &RunRecord{
		RunID:    res.RunID,
		Graph:    res.Graph,
		Status:   res.Status,
		Warnings: res.Warnings,
		Units:    res.Units,
		Duration: res.Duration,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	for _, p := range res.Partials {
		pr := PartialRecord{
			Step:     p.Step,
			Converge: p.Converge,
			Failed:   append([]string(nil), p.Failed...),
		}
		if len(p.Errors) > 0 {
			pr.Errors = make(map[string]string, len(p.Errors))
			for id, err := range p.Errors {
				pr.Errors[id] = err.Error()
			}
		}
		rec.Partials = append(rec.Partials, pr)
	}
	if res.History != nil {
		rec.Path = res.History.Path()
		for _, u := range res.History.GetUnits() {
			rec.Trace = append(rec.Trace, *u)
		}
		rec.StartedAt = res.History.StartTime
		rec.FinishedAt = res.History.EndTime
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
		rec.StartedAt = rec.FinishedAt.Add(-res.Duration)
	}
	if res.State != nil {
		snap := res.State.Snapshot()
		for _, f := range omit {
			delete(snap, f)
		}
		rec.Snapshot = snap
	}
	return rec
}

func (r *RunRecord) validate() error {
	if r == nil {
		return errors.New("run record is nil")
	}
	if r.RunID == "" {
		return errors.New("run record has no run id")
	}
	return nil
}

// Store persists run records.
type Store interface {
	Save(ctx context.Context, rec *RunRecord) error
	Get(ctx context.Context, runID string) (*RunRecord, error)
	// List returns up to limit records, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*RunRecord, error)
	Close() error
}

// newestFirst sorts by FinishedAt descending, then run id for stability.
func newestFirst(recs []*RunRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].FinishedAt.Equal(recs[j].FinishedAt) {
			return recs[i].FinishedAt.After(recs[j].FinishedAt)
		}
		return recs[i].RunID < recs[j].RunID
	})
}

func notFound(runID string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, runID)
}
