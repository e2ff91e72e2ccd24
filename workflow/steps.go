package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ============================================================
// Step contract
// ============================================================

// Step is a named unit of work. It reads a View restricted to its declared
// inputs and returns a Delta over its declared outputs.
type Step interface {
	Name() string
	Invoke(ctx context.Context, view View) (Delta, error)
}

// StepFunc is the function form of a step.
type StepFunc func(ctx context.Context, view View) (Delta, error)

// FuncStep adapts a StepFunc to Step.
type FuncStep struct {
	name string
	fn   StepFunc
}

// NewFuncStep creates a function step.
func NewFuncStep(name string, fn StepFunc) *FuncStep {
	return &FuncStep{name: name, fn: fn}
}

func (s *FuncStep) Name() string { return s.name }

func (s *FuncStep) Invoke(ctx context.Context, view View) (Delta, error) {
	return s.fn(ctx, view)
}

// InvocationKind tells whether a step may be used as a fan-out branch.
type InvocationKind int

const (
	InvokeSync InvocationKind = iota
	InvokeFanOut
)

func (k InvocationKind) String() string {
	if k == InvokeFanOut {
		return "fan-out"
	}
	return "sync"
}

// StepSpec registers a step together with its field contract.
type StepSpec struct {
	Name string
	Step Step
	// Reads must all be present before the step runs.
	Reads []string
	// Optional fields are visible when present but never required.
	Optional []string
	// Writes bounds the delta the step may return.
	Writes []string
	// Repairs lists written fields the step may overwrite although another step owns them.
	Repairs []string
	Kind    InvocationKind
}

// Func is a shorthand for building a StepSpec around a StepFunc.
func Func(name string, fn StepFunc) StepSpec {
	return StepSpec{Name: name, Step: NewFuncStep(name, fn)}
}

// WithReads sets the required inputs.
func (s StepSpec) WithReads(fields ...string) StepSpec {
	s.Reads = fields
	return s
}

// WithOptional sets the optional inputs.
func (s StepSpec) WithOptional(fields ...string) StepSpec {
	s.Optional = fields
	return s
}

// WithWrites sets the declared outputs.
func (s StepSpec) WithWrites(fields ...string) StepSpec {
	s.Writes = fields
	return s
}

// WithRepairs authorizes overwriting the given outputs.
func (s StepSpec) WithRepairs(fields ...string) StepSpec {
	s.Repairs = fields
	return s
}

// AsFanOut marks the step as usable in fan-out batches.
func (s StepSpec) AsFanOut() StepSpec {
	s.Kind = InvokeFanOut
	return s
}

func (s *StepSpec) validate() error {
	if s.Name == "" {
		return fmt.Errorf("step name is empty")
	}
	if s.Name == End {
		return fmt.Errorf("step name %q is reserved", End)
	}
	if s.Step == nil {
		return fmt.Errorf("step %s has no implementation", s.Name)
	}
	writes := toSet(s.Writes)
	for _, f := range s.Repairs {
		if !writes[f] {
			return fmt.Errorf("step %s repairs %s which it does not write", s.Name, f)
		}
	}
	if writes[FieldWarnings] {
		return fmt.Errorf("step %s writes reserved field %s", s.Name, FieldWarnings)
	}
	return nil
}

// checkDelta rejects writes outside the declared output set.
func (s *StepSpec) checkDelta(delta Delta) error {
	if len(delta) == 0 {
		return nil
	}
	writes := toSet(s.Writes)
	var undeclared []string
	for _, f := range delta.Fields() {
		if !writes[f] {
			undeclared = append(undeclared, f)
		}
	}
	if len(undeclared) > 0 {
		return &Error{
			Code:    ErrContractViolation,
			Step:    s.Name,
			Fields:  undeclared,
			Message: "delta writes undeclared fields",
		}
	}
	return nil
}

// ============================================================
// Registry
// ============================================================

// Registry holds the registered steps by name.
type Registry struct {
	steps map[string]*StepSpec
	mu    sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{steps: make(map[string]*StepSpec)}
}

// Register validates and adds a step. Names must be unique.
func (r *Registry) Register(spec StepSpec) error {
	if err := spec.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.steps[spec.Name]; exists {
		return fmt.Errorf("step already registered: %s", spec.Name)
	}
	s := spec
	r.steps[spec.Name] = &s
	return nil
}

// Get returns a registered step.
func (r *Registry) Get(name string) (*StepSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.steps[name]
	return s, ok
}

// Names returns the registered step names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.steps))
	for name := range r.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered steps.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.steps)
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}
