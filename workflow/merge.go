package workflow

import (
	"fmt"
	"reflect"
)

// MergeResult is the combined delta of a batch together with the writer
// credited for each field.
type MergeResult struct {
	Delta   Delta
	Writers map[string]string
	// Contributors lists the branch keys that wrote each field.
	Contributors map[string][]string
}

// Merger combines branch deltas at a convergence point.
type Merger struct {
	schema *Schema
}

// NewMerger creates a merger using the field policies of schema.
func NewMerger(schema *Schema) *Merger {
	return &Merger{schema: schema}
}

type contribution struct {
	key   string
	step  string
	value any
}

// Merge consumes every successful branch result. Failed results are skipped.
// List fields are concatenated in branch order, map fields are unioned,
// scalars written by a single branch pass through and scalars written by
// several branches need a primary policy or identical values.
func (m *Merger) Merge(results []BranchResult) (MergeResult, error) {
	byField := make(map[string][]contribution)
	var order []string
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		for _, field := range r.Delta.Fields() {
			if _, seen := byField[field]; !seen {
				order = append(order, field)
			}
			byField[field] = append(byField[field], contribution{key: r.Key, step: r.Step, value: r.Delta[field]})
		}
	}

	out := MergeResult{
		Delta:        make(Delta, len(byField)),
		Writers:      make(map[string]string, len(byField)),
		Contributors: make(map[string][]string, len(byField)),
	}
	for _, field := range order {
		contribs := byField[field]
		keys := make([]string, len(contribs))
		for i, c := range contribs {
			keys[i] = c.key
		}
		out.Contributors[field] = keys

		value, writer, err := m.mergeField(field, contribs)
		if err != nil {
			return MergeResult{}, err
		}
		out.Delta[field] = value
		out.Writers[field] = writer
	}
	return out, nil
}

func (m *Merger) mergeField(field string, contribs []contribution) (any, string, error) {
	first := contribs[0]
	if len(contribs) == 1 {
		return first.value, first.step, nil
	}

	switch m.schema.policyOf(field, first.value) {
	case MergeAppend:
		v, err := appendValues(contribs)
		if err != nil {
			return nil, "", fieldConflict(first.step, field, err.Error())
		}
		return v, first.step, nil
	case MergeUnion:
		v, err := unionValues(field, contribs)
		if err != nil {
			return nil, "", err
		}
		return v, first.step, nil
	case MergePrimary:
		spec, _ := m.schema.Field(field)
		for _, c := range contribs {
			if c.key == spec.Primary || c.step == spec.Primary {
				return c.value, c.step, nil
			}
		}
		return strictValue(field, contribs)
	default:
		return strictValue(field, contribs)
	}
}

func strictValue(field string, contribs []contribution) (any, string, error) {
	first := contribs[0]
	for _, c := range contribs[1:] {
		if !reflect.DeepEqual(first.value, c.value) {
			return nil, "", fieldConflict(c.step, field,
				fmt.Sprintf("branches %s and %s wrote different values and no merge policy is declared", first.key, c.key))
		}
	}
	return first.value, first.step, nil
}

func appendValues(contribs []contribution) (any, error) {
	firstType := reflect.TypeOf(contribs[0].value)
	sameType := firstType != nil && firstType.Kind() == reflect.Slice
	for _, c := range contribs[1:] {
		if reflect.TypeOf(c.value) != firstType {
			sameType = false
			break
		}
	}

	if sameType {
		out := reflect.MakeSlice(firstType, 0, 0)
		for _, c := range contribs {
			out = reflect.AppendSlice(out, reflect.ValueOf(c.value))
		}
		return out.Interface(), nil
	}

	var out []any
	for _, c := range contribs {
		rv := reflect.ValueOf(c.value)
		if !rv.IsValid() {
			continue
		}
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			out = append(out, c.value)
			continue
		}
		for i := 0; i < rv.Len(); i++ {
			out = append(out, rv.Index(i).Interface())
		}
	}
	return out, nil
}

// unionValues merges map contributions key by key. Nil contributions leave
// the union unchanged.
func unionValues(field string, contribs []contribution) (any, error) {
	present := contribs[:0:0]
	for _, c := range contribs {
		if c.value != nil {
			present = append(present, c)
		}
	}
	if len(present) == 0 {
		return nil, nil
	}
	contribs = present

	firstType := reflect.TypeOf(contribs[0].value)
	if firstType.Kind() != reflect.Map {
		return nil, fieldConflict(contribs[0].step, field, "union policy on a non-map value")
	}
	out := reflect.MakeMap(firstType)
	owner := make(map[any]string)
	for _, c := range contribs {
		rv := reflect.ValueOf(c.value)
		if rv.Type() != firstType {
			return nil, fieldConflict(c.step, field, fmt.Sprintf("branch %s wrote %s, expected %s", c.key, rv.Type(), firstType))
		}
		iter := rv.MapRange()
		for iter.Next() {
			k, v := iter.Key(), iter.Value()
			if existing := out.MapIndex(k); existing.IsValid() {
				if !reflect.DeepEqual(existing.Interface(), v.Interface()) {
					return nil, fieldConflict(c.step, field,
						fmt.Sprintf("key %v written with different values by branches %s and %s", k.Interface(), owner[k.Interface()], c.key))
				}
				continue
			}
			out.SetMapIndex(k, v)
			owner[k.Interface()] = c.key
		}
	}
	return out.Interface(), nil
}
