package workflow

import "sort"

// View is the read-only window a step or router gets on a State version.
// Only declared fields are visible; everything else reads as absent.
type View struct {
	state   *State
	allowed map[string]bool
	item    map[string]any
	branch  string
}

func newView(state *State, fields []string, optional []string) View {
	allowed := make(map[string]bool, len(fields)+len(optional))
	for _, f := range fields {
		allowed[f] = true
	}
	for _, f := range optional {
		allowed[f] = true
	}
	return View{state: state, allowed: allowed}
}

// NewView builds a view over the given fields. It is used by tests and by
// callers that drive a router directly.
func NewView(state *State, fields ...string) View {
	return newView(state, fields, nil)
}

// NewItemView builds a fan-out branch view carrying item.
func NewItemView(state *State, branch string, item map[string]any, fields ...string) View {
	return newView(state, fields, nil).withItem(branch, item)
}

func (v View) withItem(branch string, item map[string]any) View {
	v.branch = branch
	v.item = item
	return v
}

// Get returns a declared field's value.
func (v View) Get(field string) (any, bool) {
	if !v.allowed[field] || v.state == nil {
		return nil, false
	}
	return v.state.Get(field)
}

// Has reports whether a declared field is present.
func (v View) Has(field string) bool {
	_, ok := v.Get(field)
	return ok
}

// Fields returns the visible present fields, sorted.
func (v View) Fields() []string {
	var out []string
	for f := range v.allowed {
		if v.state != nil && v.state.Has(f) {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// Version returns the version of the underlying state.
func (v View) Version() uint64 {
	if v.state == nil {
		return 0
	}
	return v.state.Version()
}

// Branch returns the fan-out branch key, or "" outside fan-out.
func (v View) Branch() string {
	return v.branch
}

// Item returns a value of the per-branch item slice.
func (v View) Item(key string) (any, bool) {
	val, ok := v.item[key]
	return val, ok
}

// ItemString returns a string item value, or "".
func (v View) ItemString(key string) string {
	s, _ := v.item[key].(string)
	return s
}
