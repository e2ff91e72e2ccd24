package workflow

import (
	"context"
	"time"
)

// =============================================================================
// Run events
// =============================================================================

// EventType is the type of a run event.
type EventType string

const (
	EventNodeStart    EventType = "node_start"
	EventNodeComplete EventType = "node_complete"
	EventNodeError    EventType = "node_error"
	EventFanOut       EventType = "fan_out"
	EventMerge        EventType = "merge"
	EventRepair       EventType = "repair"
)

// Event describes a step of a run as it happens.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Node      string    `json:"node,omitempty"`
	Version   uint64    `json:"version"`
	Width     int       `json:"width,omitempty"`
	Failed    []string  `json:"failed,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Fields    []string  `json:"fields,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Error     error     `json:"-"`
}

// EventEmitter receives run events. It is called from the executor goroutine
// and must not block.
type EventEmitter func(Event)

type eventEmitterKey struct{}

// WithEventEmitter stores an EventEmitter in the context passed to Execute.
func WithEventEmitter(ctx context.Context, emitter EventEmitter) context.Context {
	if emitter == nil {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, eventEmitterKey{}, emitter)
}

func eventEmitterFromContext(ctx context.Context) (EventEmitter, bool) {
	if ctx == nil {
		return nil, false
	}
	emit, ok := ctx.Value(eventEmitterKey{}).(EventEmitter)
	return emit, ok && emit != nil
}

// Observer receives execution measurements. internal/metrics provides a
// Prometheus implementation.
type Observer interface {
	StepFinished(step string, duration time.Duration, err error)
	BatchFinished(converge string, width, failed int, duration time.Duration)
	RepairAttempted(guard string, violations int)
	RunFinished(graph string, status ExecutionStatus, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) StepFinished(string, time.Duration, error)          {}
func (nopObserver) BatchFinished(string, int, int, time.Duration)      {}
func (nopObserver) RepairAttempted(string, int)                        {}
func (nopObserver) RunFinished(string, ExecutionStatus, time.Duration) {}
