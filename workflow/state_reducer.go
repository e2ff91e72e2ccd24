package workflow

import (
	"fmt"
	"reflect"
)

// Reducer defines how to fold an update into the current value of a field.
type Reducer[T any] func(current T, update T) T

// FieldReducer is the untyped form of a Reducer used by the state container.
type FieldReducer func(current, update any) (any, error)

// ReduceWith adapts a typed reducer to field values. An absent current value
// is passed to the reducer as the zero value of T.
func ReduceWith[T any](r Reducer[T]) FieldReducer {
	return func(current, update any) (any, error) {
		u, ok := update.(T)
		if !ok {
			return nil, fmt.Errorf("reducer expects %T, got %T", *new(T), update)
		}
		var c T
		if current != nil {
			c, ok = current.(T)
			if !ok {
				return nil, fmt.Errorf("reducer expects %T, current value is %T", *new(T), current)
			}
		}
		return r(c, u), nil
	}
}

// Built-in reducers

// LastValueReducer returns the most recent value (default).
func LastValueReducer[T any]() Reducer[T] {
	return func(_, update T) T {
		return update
	}
}

// AppendReducer appends slices together.
func AppendReducer[T any]() Reducer[[]T] {
	return func(current, update []T) []T {
		result := make([]T, 0, len(current)+len(update))
		result = append(result, current...)
		result = append(result, update...)
		return result
	}
}

// MergeMapReducer merges maps, with update values taking precedence.
func MergeMapReducer[K comparable, V any]() Reducer[map[K]V] {
	return func(current, update map[K]V) map[K]V {
		result := make(map[K]V, len(current)+len(update))
		for k, v := range current {
			result[k] = v
		}
		for k, v := range update {
			result[k] = v
		}
		return result
	}
}

// SumReducer sums numeric values.
func SumReducer[T ~int | ~int64 | ~float64]() Reducer[T] {
	return func(current, update T) T {
		return current + update
	}
}

// MaxReducer keeps the maximum value.
func MaxReducer[T ~int | ~int64 | ~float64]() Reducer[T] {
	return func(current, update T) T {
		if update > current {
			return update
		}
		return current
	}
}

// =============================================================================
// Schema
// =============================================================================

// FieldKind is the shape of a state field.
type FieldKind int

const (
	// FieldAuto infers the kind from the value.
	FieldAuto FieldKind = iota
	FieldScalar
	FieldList
	FieldMap
)

func (k FieldKind) String() string {
	switch k {
	case FieldScalar:
		return "scalar"
	case FieldList:
		return "list"
	case FieldMap:
		return "map"
	default:
		return "auto"
	}
}

// MergePolicy decides how several branch writes of one field are combined at a
// convergence point.
type MergePolicy int

const (
	// MergeDefault appends lists, unions maps and rejects conflicting scalars.
	MergeDefault MergePolicy = iota
	// MergeAppend concatenates list values in branch submission order.
	MergeAppend
	// MergeUnion unions map keys; the same key with different values conflicts.
	MergeUnion
	// MergePrimary takes the value written by the designated primary branch.
	MergePrimary
	// MergeStrict rejects any differing values, whatever the kind.
	MergeStrict
)

// FieldWarnings is the reserved list field holding Warning records.
const FieldWarnings = "_warnings"

// FieldSpec declares the behavior of one state field.
type FieldSpec struct {
	Name string
	Kind FieldKind
	// Reduce folds sequential writes. Nil means replace.
	Reduce FieldReducer
	// Merge combines concurrent writes at a convergence point.
	Merge MergePolicy
	// Primary names the branch key or step whose write wins under MergePrimary.
	Primary string
	// Once marks a field that may be written a single time.
	Once bool
}

// Schema holds field declarations plus the repair authorizations collected at build time.
type Schema struct {
	fields    map[string]FieldSpec
	repairers map[string]map[string]bool
}

// NewSchema creates a schema with the given field declarations.
func NewSchema(specs ...FieldSpec) *Schema {
	s := &Schema{
		fields:    make(map[string]FieldSpec, len(specs)+1),
		repairers: make(map[string]map[string]bool),
	}
	s.fields[FieldWarnings] = FieldSpec{
		Name:   FieldWarnings,
		Kind:   FieldList,
		Reduce: ReduceWith(AppendReducer[Warning]()),
		Merge:  MergeAppend,
	}
	for _, spec := range specs {
		s.Define(spec)
	}
	return s
}

// Define adds or replaces a field declaration.
func (s *Schema) Define(spec FieldSpec) *Schema {
	s.fields[spec.Name] = spec
	return s
}

// Field returns the declaration of a field.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	if s == nil {
		return FieldSpec{}, false
	}
	spec, ok := s.fields[name]
	return spec, ok
}

// Fields returns all declared field names.
func (s *Schema) Fields() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	return names
}

func (s *Schema) clone() *Schema {
	c := NewSchema()
	if s == nil {
		return c
	}
	for name, spec := range s.fields {
		c.fields[name] = spec
	}
	for field, steps := range s.repairers {
		m := make(map[string]bool, len(steps))
		for step := range steps {
			m[step] = true
		}
		c.repairers[field] = m
	}
	return c
}

func (s *Schema) authorize(step string, fields []string) {
	for _, f := range fields {
		if s.repairers[f] == nil {
			s.repairers[f] = make(map[string]bool)
		}
		s.repairers[f][step] = true
	}
}

func (s *Schema) mayRepair(step, field string) bool {
	if s == nil {
		return false
	}
	return s.repairers[field][step]
}

func (s *Schema) reducer(field string) FieldReducer {
	spec, ok := s.Field(field)
	if !ok {
		return nil
	}
	return spec.Reduce
}

func (s *Schema) kindOf(field string, value any) FieldKind {
	if spec, ok := s.Field(field); ok && spec.Kind != FieldAuto {
		return spec.Kind
	}
	return inferKind(value)
}

func (s *Schema) policyOf(field string, value any) MergePolicy {
	if spec, ok := s.Field(field); ok && spec.Merge != MergeDefault {
		return spec.Merge
	}
	switch s.kindOf(field, value) {
	case FieldList:
		return MergeAppend
	case FieldMap:
		return MergeUnion
	default:
		return MergeStrict
	}
}

func inferKind(value any) FieldKind {
	if value == nil {
		return FieldScalar
	}
	switch reflect.TypeOf(value).Kind() {
	case reflect.Slice, reflect.Array:
		return FieldList
	case reflect.Map:
		return FieldMap
	default:
		return FieldScalar
	}
}
