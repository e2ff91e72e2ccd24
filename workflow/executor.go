package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BaSui01/reviewflow/workflow"

// Result is the outcome of a run. On a fatal error State holds the state at
// failure time.
type Result struct {
	RunID    string            `json:"run_id"`
	Graph    string            `json:"graph"`
	Status   ExecutionStatus   `json:"status"`
	State    *State            `json:"-"`
	Warnings []Warning         `json:"warnings,omitempty"`
	Partials []*PartialFailure `json:"partials,omitempty"`
	History  *ExecutionHistory `json:"history,omitempty"`
	Units    int               `json:"units"`
	Duration time.Duration     `json:"duration"`
}

// Executor drives runs of a Graph.
type Executor struct {
	graph     *Graph
	opts      Options
	logger    *zap.Logger
	tracer    trace.Tracer
	observer  Observer
	breakers  *CircuitBreakerRegistry
	histories *ExecutionHistoryStore
	merger    *Merger
}

// NewExecutor creates an executor for graph.
func NewExecutor(graph *Graph, opts Options, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	e := &Executor{
		graph:    graph,
		opts:     opts,
		logger:   logger.With(zap.String("component", "executor"), zap.String("graph", graph.Name())),
		tracer:   otel.Tracer(instrumentationName),
		observer: nopObserver{},
		merger:   NewMerger(graph.Schema()),
	}
	if opts.CircuitBreaker != nil {
		e.breakers = NewCircuitBreakerRegistry(*opts.CircuitBreaker, logger)
	}
	return e
}

// WithObserver sets the metrics observer.
func (e *Executor) WithObserver(o Observer) *Executor {
	if o != nil {
		e.observer = o
	}
	return e
}

// WithTracer overrides the tracer taken from the global provider.
func (e *Executor) WithTracer(t trace.Tracer) *Executor {
	if t != nil {
		e.tracer = t
	}
	return e
}

// WithHistoryStore keeps the history of every run in store.
func (e *Executor) WithHistoryStore(store *ExecutionHistoryStore) *Executor {
	e.histories = store
	return e
}

// Breakers returns the per-step circuit breakers, or nil when disabled.
func (e *Executor) Breakers() *CircuitBreakerRegistry {
	return e.breakers
}

type run struct {
	id      string
	state   *State
	history *ExecutionHistory
	result  *Result
	emit    EventEmitter
	units   int
	logger  *zap.Logger
}

type unit struct {
	node  string
	from  string
	batch *RouteDecision
}

// Execute runs the graph from entry (the graph entry when empty) on initial.
// It returns a Result in every case; err is the first fatal error, or a
// *PartialFailure when the partial policy is PartialAbort.
func (e *Executor) Execute(ctx context.Context, initial *State, entry string) (*Result, error) {
	if initial == nil {
		initial = NewState(nil)
	}
	if entry == "" {
		entry = e.graph.Entry()
	}
	runID := uuid.NewString()
	start := time.Now()

	r := &run{
		id:      runID,
		state:   initial.bind(e.graph.Schema()),
		history: NewExecutionHistory(runID, e.graph.Name()),
		logger:  e.logger.With(zap.String("run_id", runID)),
	}
	r.result = &Result{RunID: runID, Graph: e.graph.Name(), History: r.history}
	r.emit, _ = eventEmitterFromContext(ctx)

	if e.opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Deadline)
		defer cancel()
	}
	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.graph", e.graph.Name()),
		attribute.String("workflow.run_id", runID),
		attribute.String("workflow.entry", entry),
	))
	defer span.End()

	r.logger.Info("starting run", zap.String("entry", entry))

	err := e.loop(ctx, r, entry)

	res := r.result
	res.State = r.state
	res.Warnings = r.state.Warnings()
	res.Units = r.units
	res.Duration = time.Since(start)
	switch {
	case err != nil:
		res.Status = ExecutionStatusFailed
	case len(res.Partials) > 0:
		res.Status = ExecutionStatusPartial
	default:
		res.Status = ExecutionStatusCompleted
	}
	r.history.Complete(res.Status, err)
	if e.histories != nil {
		e.histories.Save(r.history)
	}
	e.observer.RunFinished(e.graph.Name(), res.Status, res.Duration)

	span.SetAttributes(
		attribute.String("workflow.status", string(res.Status)),
		attribute.Int("workflow.units", res.Units),
		attribute.Int("workflow.warnings", len(res.Warnings)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("run failed",
			zap.Int("units", res.Units),
			zap.Duration("duration", res.Duration),
			zap.Error(err),
		)
		return res, err
	}
	r.logger.Info("run completed",
		zap.String("status", string(res.Status)),
		zap.Int("units", res.Units),
		zap.Int("warnings", len(res.Warnings)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (e *Executor) loop(ctx context.Context, r *run, entry string) error {
	if _, ok := e.graph.Node(entry); !ok {
		return &Error{Code: ErrInvalidGraph, Step: entry, Message: "entry node does not exist"}
	}

	queue := []unit{{node: entry}}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return interrupted(err)
		}
		if r.units >= e.opts.MaxSteps {
			return &Error{Code: ErrMaxStepsExceeded, Message: fmt.Sprintf("run exceeded %d units", e.opts.MaxSteps)}
		}
		u := queue[0]
		queue = queue[1:]
		r.units++

		if u.batch != nil {
			if err := e.runBatch(ctx, r, u.from, *u.batch); err != nil {
				return err
			}
			queue = append(queue, unit{node: u.batch.Converge})
			continue
		}

		node, ok := e.graph.Node(u.node)
		if !ok {
			return &Error{Code: ErrInvalidGraph, Step: u.node, Message: "scheduled node does not exist"}
		}
		var err error
		if node.Kind == NodeGuard {
			err = e.runGuard(ctx, r, node.Guard)
		} else {
			err = e.runStep(ctx, r, node.Step)
		}
		if err != nil {
			return err
		}

		decision, err := e.graph.route(node, r.state)
		if err != nil {
			return err
		}
		switch decision.Kind {
		case RouteTerminal:
			return nil
		case RouteNext:
			queue = append(queue, unit{node: decision.Next})
		case RouteParallel, RouteFanOut:
			e.emit(r, Event{Type: EventFanOut, Node: node.Name, Width: decision.Width()})
			r.logger.Debug("fan-out",
				zap.String("from", node.Name),
				zap.String("kind", decision.Kind.String()),
				zap.Int("width", decision.Width()),
				zap.String("converge", decision.Converge),
			)
			if decision.Width() == 0 {
				queue = append(queue, unit{node: decision.Converge})
				continue
			}
			d := decision
			queue = append(queue, unit{batch: &d, from: node.Name})
		}
	}
	return nil
}

// =============================================================================
// Single steps
// =============================================================================

func (e *Executor) runStep(ctx context.Context, r *run, spec *StepSpec) error {
	rec := r.history.RecordStart(spec.Name, UnitStep)
	e.emit(r, Event{Type: EventNodeStart, Node: spec.Name})

	var delta Delta
	err := func() error {
		if missing := r.state.Missing(spec.Reads); len(missing) > 0 {
			return missingDependency(spec.Name, missing)
		}
		var err error
		delta, err = e.invoke(ctx, spec, newView(r.state, spec.Reads, spec.Optional))
		if err != nil {
			return err
		}
		next, err := r.state.Apply(spec.Name, delta)
		if err != nil {
			return err
		}
		r.state = next
		return nil
	}()

	r.history.RecordEnd(rec, r.state, delta.Fields(), err)
	if err != nil {
		e.emit(r, Event{Type: EventNodeError, Node: spec.Name, Error: err})
		return err
	}
	e.emit(r, Event{Type: EventNodeComplete, Node: spec.Name, Fields: delta.Fields()})
	return nil
}

// invoke calls a step with retries, timeout, breaker and panic recovery. It is
// safe to call from branch goroutines.
func (e *Executor) invoke(ctx context.Context, spec *StepSpec, view View) (Delta, error) {
	params := e.opts.params(spec.Name)
	ctx, span := e.tracer.Start(ctx, "workflow.step", trace.WithAttributes(
		attribute.String("workflow.step", spec.Name),
		attribute.String("workflow.branch", view.Branch()),
		attribute.Int64("workflow.state_version", int64(view.Version())),
	))
	defer span.End()

	var breaker *CircuitBreaker
	if e.breakers != nil {
		breaker = e.breakers.Get(spec.Name)
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= params.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := params.RetryDelay << (attempt - 1)
			if delay > 0 {
				select {
				case <-ctx.Done():
					lastErr = ctx.Err()
				case <-time.After(delay):
				}
			}
			if ctx.Err() != nil {
				break
			}
		}
		if breaker != nil {
			if err := breaker.Allow(); err != nil {
				lastErr = err
				break
			}
		}

		delta, err := e.call(ctx, spec, view, params.Timeout)
		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			if verr := spec.checkDelta(delta); verr != nil {
				span.RecordError(verr)
				span.SetStatus(codes.Error, verr.Error())
				e.observer.StepFinished(spec.Name, time.Since(start), verr)
				return nil, verr
			}
			span.SetAttributes(attribute.Int("workflow.attempts", attempt+1))
			e.observer.StepFinished(spec.Name, time.Since(start), nil)
			return delta, nil
		}

		if breaker != nil {
			breaker.RecordFailure()
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < params.MaxRetries {
			e.logger.Debug("retrying step",
				zap.String("step", spec.Name),
				zap.String("branch", view.Branch()),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
		}
	}

	err := lastErr
	if GetErrorCode(err) != ErrStepFailure {
		err = stepFailure(spec.Name, lastErr)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.observer.StepFinished(spec.Name, time.Since(start), err)
	return nil, err
}

func (e *Executor) call(ctx context.Context, spec *StepSpec, view View, timeout time.Duration) (delta Delta, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			delta = nil
			err = fmt.Errorf("panic in step %s: %v", spec.Name, rec)
		}
	}()
	return spec.Step.Invoke(ctx, view)
}

// =============================================================================
// Batches
// =============================================================================

func batchName(from string, kind RouteKind) string {
	return from + ":" + kind.String()
}

func (e *Executor) runBatch(ctx context.Context, r *run, from string, d RouteDecision) error {
	name := batchName(from, d.Kind)
	rec := r.history.RecordStart(name, UnitBatch)
	start := time.Now()

	results, written, err := e.dispatch(ctx, r, name, d)
	failed, errs, succeeded := splitResults(results)
	r.history.RecordBranches(rec, d.Width(), failed)
	e.observer.BatchFinished(d.Converge, d.Width(), len(failed), time.Since(start))
	if err != nil {
		r.history.RecordEnd(rec, r.state, written, err)
		e.emit(r, Event{Type: EventNodeError, Node: name, Error: err})
		return err
	}
	r.history.RecordEnd(rec, r.state, written, nil)

	if len(failed) == 0 {
		return nil
	}
	pf := &PartialFailure{
		Step:      name,
		Converge:  d.Converge,
		Succeeded: succeeded,
		Failed:    failed,
		Errors:    errs,
	}
	r.result.Partials = append(r.result.Partials, pf)
	r.logger.Warn("batch finished with failed branches",
		zap.String("batch", name),
		zap.Strings("failed", failed),
		zap.Int("succeeded", len(succeeded)),
	)
	if e.opts.PartialPolicy == PartialAbort {
		return pf
	}
	r.state = r.state.withWarning(Warning{
		Code:    ErrPartialFailure,
		Step:    name,
		Fields:  failed,
		Message: fmt.Sprintf("%d of %d branches failed, continuing with partial results", len(failed), d.Width()),
	})
	return nil
}

// dispatch resolves, runs and merges a batch. Successful deltas are applied
// even when some branches failed; the caller decides what failures mean.
func (e *Executor) dispatch(ctx context.Context, r *run, name string, d RouteDecision) ([]BranchResult, []string, error) {
	state := r.state
	branches := make([]Branch, 0, len(d.Branches))
	checked := make(map[string]bool)
	for _, bs := range d.Branches {
		spec, ok := e.graph.Step(bs.Step)
		if !ok {
			return nil, nil, &Error{Code: ErrInvalidGraph, Step: bs.Step, Message: "branch step is not registered"}
		}
		if d.Kind == RouteFanOut && spec.Kind != InvokeFanOut {
			return nil, nil, &Error{Code: ErrInvalidGraph, Step: bs.Step, Message: "step is not fan-out capable"}
		}
		if !checked[spec.Name] {
			if missing := state.Missing(spec.Reads); len(missing) > 0 {
				return nil, nil, missingDependency(spec.Name, missing)
			}
			checked[spec.Name] = true
		}
		view := newView(state, spec.Reads, spec.Optional).withItem(bs.ID(), bs.Item)
		branches = append(branches, Branch{
			Spec: bs,
			Run: func(ctx context.Context) (Delta, error) {
				return e.invoke(ctx, spec, view)
			},
		})
	}

	concurrency := e.opts.MaxConcurrency
	if d.Kind == RouteFanOut {
		concurrency = e.opts.concurrencyFor(d.Branches[0].Step)
	}
	results := NewDispatcher(concurrency, e.logger).Dispatch(ctx, branches)

	for _, res := range results {
		if res.Err != nil && IsStructural(res.Err) {
			return results, nil, res.Err
		}
	}

	merged, err := e.merger.Merge(results)
	if err != nil {
		return results, nil, err
	}
	next, err := r.state.applyMerge(merged)
	if err != nil {
		return results, nil, err
	}
	r.state = next
	written := merged.Delta.Fields()
	e.emit(r, Event{Type: EventMerge, Node: name, Width: d.Width(), Fields: written, Failed: failedKeys(results)})
	return results, written, nil
}

func splitResults(results []BranchResult) (failed []string, errs map[string]error, succeeded []BranchResult) {
	errs = make(map[string]error)
	for _, res := range results {
		if res.Err != nil {
			failed = append(failed, res.Key)
			errs[res.Key] = res.Err
			continue
		}
		succeeded = append(succeeded, res)
	}
	return failed, errs, succeeded
}

func failedKeys(results []BranchResult) []string {
	failed, _, _ := splitResults(results)
	return failed
}

// =============================================================================
// Guards
// =============================================================================

func (e *Executor) runGuard(ctx context.Context, r *run, g *GuardSpec) error {
	rec := r.history.RecordStart(g.Name, UnitGuard)
	e.emit(r, Event{Type: EventNodeStart, Node: g.Name})

	err := e.guardLoop(ctx, r, g)
	r.history.RecordEnd(rec, r.state, nil, err)
	if err != nil {
		e.emit(r, Event{Type: EventNodeError, Node: g.Name, Error: err})
		return err
	}
	e.emit(r, Event{Type: EventNodeComplete, Node: g.Name})
	return nil
}

func (e *Executor) guardLoop(ctx context.Context, r *run, g *GuardSpec) error {
	check, _ := e.graph.Step(g.Check)
	maxAttempts := g.attempts(e.opts)

	for attempt := 0; ; attempt++ {
		if err := e.runStep(ctx, r, check); err != nil {
			return err
		}
		violations := Violations(r.state, g.Violations)
		if len(violations) == 0 {
			return nil
		}
		if attempt >= maxAttempts {
			r.state = r.state.withWarning(Warning{
				Code:     ErrValidationWarning,
				Step:     g.Name,
				Fields:   violations,
				Attempts: attempt,
				Message:  "violations remain after repair attempts",
			})
			r.logger.Warn("guard exhausted repair attempts",
				zap.String("guard", g.Name),
				zap.Strings("violations", violations),
				zap.Int("attempts", attempt),
			)
			return nil
		}

		e.observer.RepairAttempted(g.Name, len(violations))
		e.emit(r, Event{Type: EventRepair, Node: g.Name, Attempt: attempt + 1, Fields: violations})
		d := RouteDecision{Kind: RouteFanOut, Branches: g.violationBranches(violations), Converge: g.Name}
		results, _, err := e.dispatch(ctx, r, batchName(g.Name, RouteFanOut), d)
		if err != nil {
			return err
		}
		for _, res := range results {
			if res.Err == nil {
				continue
			}
			r.state = r.state.withWarning(Warning{
				Code:     ErrValidationWarning,
				Step:     g.Repair,
				Fields:   []string{res.Key},
				Attempts: attempt + 1,
				Message:  "repair failed: " + res.Err.Error(),
			})
		}
	}
}

func (e *Executor) emit(r *run, ev Event) {
	if r.emit == nil {
		return
	}
	ev.RunID = r.id
	ev.Version = r.state.Version()
	ev.Timestamp = time.Now()
	r.emit(ev)
}
