package workflow

import (
	"sort"
	"sync"
	"time"
)

// ExecutionStatus is the status of a run or of one unit within it.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusPartial   ExecutionStatus = "partial"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// UnitKind classifies history entries.
type UnitKind string

const (
	UnitStep  UnitKind = "step"
	UnitBatch UnitKind = "batch"
	UnitGuard UnitKind = "guard"
)

// UnitExecution records one executed unit.
type UnitExecution struct {
	Name         string          `json:"name"`
	Kind         UnitKind        `json:"kind"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	Duration     time.Duration   `json:"duration"`
	Status       ExecutionStatus `json:"status"`
	StateVersion uint64          `json:"state_version"`
	Branches     int             `json:"branches,omitempty"`
	Failed       []string        `json:"failed,omitempty"`
	Written      []string        `json:"written,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// ExecutionHistory records the path a run took through the graph.
type ExecutionHistory struct {
	RunID     string           `json:"run_id"`
	GraphName string           `json:"graph_name"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	Duration  time.Duration    `json:"duration"`
	Status    ExecutionStatus  `json:"status"`
	Units     []*UnitExecution `json:"units"`
	Error     string           `json:"error,omitempty"`
	mu        sync.RWMutex
}

// NewExecutionHistory starts the history of a run.
func NewExecutionHistory(runID, graphName string) *ExecutionHistory {
	return &ExecutionHistory{
		RunID:     runID,
		GraphName: graphName,
		StartTime: time.Now(),
		Status:    ExecutionStatusRunning,
	}
}

// RecordStart appends a running unit entry.
func (h *ExecutionHistory) RecordStart(name string, kind UnitKind) *UnitExecution {
	h.mu.Lock()
	defer h.mu.Unlock()

	u := &UnitExecution{
		Name:      name,
		Kind:      kind,
		StartTime: time.Now(),
		Status:    ExecutionStatusRunning,
	}
	h.Units = append(h.Units, u)
	return u
}

// RecordBranches sets the batch width and failed branch keys of a unit.
func (h *ExecutionHistory) RecordBranches(u *UnitExecution, width int, failed []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	u.Branches = width
	u.Failed = failed
}

// RecordEnd closes a unit entry.
func (h *ExecutionHistory) RecordEnd(u *UnitExecution, state *State, written []string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	u.EndTime = time.Now()
	u.Duration = u.EndTime.Sub(u.StartTime)
	u.Written = written
	if state != nil {
		u.StateVersion = state.Version()
	}
	switch {
	case err != nil:
		u.Status = ExecutionStatusFailed
		u.Error = err.Error()
	case len(u.Failed) > 0:
		u.Status = ExecutionStatusPartial
	default:
		u.Status = ExecutionStatusCompleted
	}
}

// Complete marks the run as finished.
func (h *ExecutionHistory) Complete(status ExecutionStatus, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.EndTime = time.Now()
	h.Duration = h.EndTime.Sub(h.StartTime)
	h.Status = status
	if err != nil {
		h.Error = err.Error()
	}
}

// GetUnits returns a copy of the unit entries.
func (h *ExecutionHistory) GetUnits() []*UnitExecution {
	h.mu.RLock()
	defer h.mu.RUnlock()

	units := make([]*UnitExecution, len(h.Units))
	copy(units, h.Units)
	return units
}

// Path returns the names of the executed units in order.
func (h *ExecutionHistory) Path() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	path := make([]string, len(h.Units))
	for i, u := range h.Units {
		path[i] = u.Name
	}
	return path
}

// Count returns how many times a unit ran.
func (h *ExecutionHistory) Count(name string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, u := range h.Units {
		if u.Name == name {
			n++
		}
	}
	return n
}

// ExecutionHistoryStore keeps the histories of recent runs in memory.
type ExecutionHistoryStore struct {
	histories map[string]*ExecutionHistory
	limit     int
	mu        sync.RWMutex
}

// NewExecutionHistoryStore creates a store keeping at most limit histories.
// limit <= 0 keeps everything.
func NewExecutionHistoryStore(limit int) *ExecutionHistoryStore {
	return &ExecutionHistoryStore{
		histories: make(map[string]*ExecutionHistory),
		limit:     limit,
	}
}

// Save stores a history, evicting the oldest one when the store is full.
func (s *ExecutionHistoryStore) Save(history *ExecutionHistory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[history.RunID] = history
	if s.limit > 0 && len(s.histories) > s.limit {
		var oldest *ExecutionHistory
		for _, h := range s.histories {
			if oldest == nil || h.StartTime.Before(oldest.StartTime) {
				oldest = h
			}
		}
		delete(s.histories, oldest.RunID)
	}
}

// Get returns the history of a run.
func (s *ExecutionHistoryStore) Get(runID string) (*ExecutionHistory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.histories[runID]
	return h, ok
}

// ListByStatus returns the runs with status, newest first.
func (s *ExecutionHistoryStore) ListByStatus(status ExecutionStatus) []*ExecutionHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*ExecutionHistory
	for _, h := range s.histories {
		if h.Status == status {
			result = append(result, h)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartTime.After(result[j].StartTime) })
	return result
}

// Len returns the number of stored histories.
func (s *ExecutionHistoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.histories)
}
