package workflow

import (
	"sort"
)

const (
	// InputWriter owns every field of the initial state.
	InputWriter = "$input"
	// ExecutorWriter owns records the executor adds itself, such as warnings.
	ExecutorWriter = "$executor"
)

// Delta is a partial state update returned by a step.
type Delta map[string]any

// Fields returns the sorted field names written by the delta.
func (d Delta) Fields() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Getter is implemented by State and View.
type Getter interface {
	Get(field string) (any, bool)
}

// Lookup reads a typed field value. It reports false when the field is absent
// or holds a value of another type.
func Lookup[T any](g Getter, field string) (T, bool) {
	var zero T
	v, ok := g.Get(field)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// LookupOr reads a typed field value, falling back to def.
func LookupOr[T any](g Getter, field string, def T) T {
	if v, ok := Lookup[T](g, field); ok {
		return v
	}
	return def
}

// State is an immutable, versioned record threaded through a run.
// Every write produces a new version; older versions stay valid for readers.
type State struct {
	version uint64
	fields  map[string]any
	writers map[string]string
	schema  *Schema
}

// NewState creates version 0 of a state. All fields are owned by InputWriter.
func NewState(fields map[string]any) *State {
	s := &State{
		fields:  make(map[string]any, len(fields)),
		writers: make(map[string]string, len(fields)),
	}
	for k, v := range fields {
		s.fields[k] = v
		s.writers[k] = InputWriter
	}
	return s
}

// Version returns the state version. It grows by one on every apply.
func (s *State) Version() uint64 {
	return s.version
}

// Get returns the value of a field.
func (s *State) Get(field string) (any, bool) {
	v, ok := s.fields[field]
	return v, ok
}

// Has reports whether a field is present.
func (s *State) Has(field string) bool {
	_, ok := s.fields[field]
	return ok
}

// Values returns the present values of the requested fields.
func (s *State) Values(fields ...string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := s.fields[f]; ok {
			out[f] = v
		}
	}
	return out
}

// Missing returns the requested fields that are absent, in request order.
func (s *State) Missing(fields []string) []string {
	var missing []string
	for _, f := range fields {
		if _, ok := s.fields[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

// Fields returns all present field names, sorted.
func (s *State) Fields() []string {
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Writer returns the step owning a field.
func (s *State) Writer(field string) string {
	return s.writers[field]
}

// Snapshot copies the field map for serialization.
func (s *State) Snapshot() map[string]any {
	out := make(map[string]any, len(s.fields))
	for k, v := range s.fields {
		out[k] = v
	}
	return out
}

// Warnings returns the warnings recorded so far.
func (s *State) Warnings() []Warning {
	w, _ := Lookup[[]Warning](s, FieldWarnings)
	return w
}

// Apply returns a new version with delta applied on behalf of writer.
//
// Fields with a reducer fold the update into the current value. Other fields are
// replaced, which is only allowed for the owning step or a step authorized to
// repair the field. Write-once fields reject a second write.
func (s *State) Apply(writer string, delta Delta) (*State, error) {
	return s.apply(delta, func(string) string { return writer })
}

func (s *State) applyMerge(m MergeResult) (*State, error) {
	return s.apply(m.Delta, func(field string) string { return m.Writers[field] })
}

func (s *State) apply(delta Delta, writerOf func(field string) string) (*State, error) {
	next := s.clone()
	next.version = s.version + 1

	for _, field := range delta.Fields() {
		update := delta[field]
		writer := writerOf(field)
		current, exists := s.fields[field]

		if spec, ok := s.schema.Field(field); ok && spec.Once && exists {
			return nil, fieldConflict(writer, field, "field is write-once and already set by "+s.writers[field])
		}

		if reduce := s.schema.reducer(field); reduce != nil {
			v, err := reduce(current, update)
			if err != nil {
				return nil, &Error{Code: ErrContractViolation, Step: writer, Field: field, Message: "reducer rejected update", Cause: err}
			}
			next.fields[field] = v
			if !exists {
				next.writers[field] = writer
			}
			continue
		}

		if exists {
			owner := s.writers[field]
			if owner != writer && !s.schema.mayRepair(writer, field) {
				return nil, fieldConflict(writer, field, "already written by "+owner+" and step is not authorized to repair it")
			}
		} else {
			next.writers[field] = writer
		}
		next.fields[field] = update
	}
	return next, nil
}

// withWarning appends a warning record. It bypasses ownership checks.
func (s *State) withWarning(w Warning) *State {
	next := s.clone()
	next.version = s.version + 1
	next.fields[FieldWarnings] = append(append([]Warning(nil), s.Warnings()...), w)
	if _, ok := next.writers[FieldWarnings]; !ok {
		next.writers[FieldWarnings] = ExecutorWriter
	}
	return next
}

// bind attaches a schema to the state without changing its version.
func (s *State) bind(schema *Schema) *State {
	c := s.clone()
	c.schema = schema
	return c
}

func (s *State) clone() *State {
	c := &State{
		version: s.version,
		fields:  make(map[string]any, len(s.fields)+4),
		writers: make(map[string]string, len(s.writers)+4),
		schema:  s.schema,
	}
	for k, v := range s.fields {
		c.fields[k] = v
	}
	for k, v := range s.writers {
		c.writers[k] = v
	}
	return c
}
