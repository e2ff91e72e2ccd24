package workflow

import (
	"fmt"
	"strconv"
)

// End is the terminal marker usable as an edge target.
const End = "__end__"

// RouteKind tags the variant held by a RouteDecision.
type RouteKind int

const (
	// RouteNext continues with a single node.
	RouteNext RouteKind = iota
	// RouteParallel runs a static set of independent steps, then converges.
	RouteParallel
	// RouteFanOut runs one branch per discovered item, then converges.
	RouteFanOut
	// RouteTerminal ends the run.
	RouteTerminal
)

func (k RouteKind) String() string {
	switch k {
	case RouteNext:
		return "next"
	case RouteParallel:
		return "parallel"
	case RouteFanOut:
		return "fan_out"
	case RouteTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// BranchSpec is one unit of a parallel or fan-out decision.
type BranchSpec struct {
	// Step is the registered step to invoke.
	Step string `json:"step"`
	// Key identifies the branch within its batch. It defaults to the step name.
	Key string `json:"key"`
	// Item is the per-branch input slice, visible through View.Item.
	Item map[string]any `json:"item,omitempty"`
}

// ID returns the branch identifier reported in failures.
func (b BranchSpec) ID() string {
	if b.Key != "" {
		return b.Key
	}
	return b.Step
}

// RouteDecision is the tagged result of a routing function.
type RouteDecision struct {
	Kind     RouteKind    `json:"kind"`
	Next     string       `json:"next,omitempty"`
	Branches []BranchSpec `json:"branches,omitempty"`
	Converge string       `json:"converge,omitempty"`
}

// Goto continues with a single node. Goto(End) is the same as Terminal.
func Goto(next string) RouteDecision {
	if next == End {
		return Terminal()
	}
	return RouteDecision{Kind: RouteNext, Next: next}
}

// Terminal ends the run.
func Terminal() RouteDecision {
	return RouteDecision{Kind: RouteTerminal}
}

// Parallel runs the given steps concurrently and converges on converge.
func Parallel(converge string, steps ...string) RouteDecision {
	branches := make([]BranchSpec, len(steps))
	for i, s := range steps {
		branches[i] = BranchSpec{Step: s, Key: s}
	}
	return RouteDecision{Kind: RouteParallel, Branches: branches, Converge: converge}
}

// FanOut runs step once per item and converges on converge. An empty item list
// yields a decision with zero branches, which routes directly to converge.
// Branch keys come from keyField when the item carries a string there, and from
// the item position otherwise.
func FanOut(step, converge string, items []map[string]any, keyField string) RouteDecision {
	branches := make([]BranchSpec, len(items))
	for i, item := range items {
		key := ""
		if keyField != "" {
			key, _ = item[keyField].(string)
		}
		if key == "" {
			key = step + "#" + strconv.Itoa(i)
		}
		branches[i] = BranchSpec{Step: step, Key: key, Item: item}
	}
	return RouteDecision{Kind: RouteFanOut, Branches: branches, Converge: converge}
}

// Width returns the number of branches the decision spawns.
func (d RouteDecision) Width() int {
	return len(d.Branches)
}

// Targets returns every node the decision may schedule.
func (d RouteDecision) Targets() []string {
	switch d.Kind {
	case RouteNext:
		return []string{d.Next}
	case RouteParallel, RouteFanOut:
		out := make([]string, 0, len(d.Branches)+1)
		seen := make(map[string]bool)
		for _, b := range d.Branches {
			if !seen[b.Step] {
				seen[b.Step] = true
				out = append(out, b.Step)
			}
		}
		return append(out, d.Converge)
	default:
		return nil
	}
}

func (d RouteDecision) validate() error {
	switch d.Kind {
	case RouteNext:
		if d.Next == "" {
			return fmt.Errorf("next decision without target")
		}
	case RouteParallel, RouteFanOut:
		if d.Converge == "" {
			return fmt.Errorf("%s decision without convergence node", d.Kind)
		}
		keys := make(map[string]bool, len(d.Branches))
		for _, b := range d.Branches {
			if b.Step == "" {
				return fmt.Errorf("%s decision has a branch without step", d.Kind)
			}
			if keys[b.ID()] {
				return fmt.Errorf("%s decision has duplicate branch key %s", d.Kind, b.ID())
			}
			keys[b.ID()] = true
		}
	case RouteTerminal:
	default:
		return fmt.Errorf("unknown route kind %d", d.Kind)
	}
	return nil
}

// RouteFunc decides the next unit of work. It must not have side effects:
// two calls on identical views return identical decisions.
type RouteFunc func(view View) (RouteDecision, error)

// Router is a conditional edge leaving a node.
type Router struct {
	Name string
	// Reads are the fields the router needs. They must be present when it runs.
	Reads []string
	// Optional fields are visible when present.
	Optional []string
	// Targets lists every node the router may choose, End included.
	Targets []string
	Route   RouteFunc
}

// Decide runs the router against state and checks the decision against the
// declared targets.
func (r *Router) Decide(state *State) (RouteDecision, error) {
	if missing := state.Missing(r.Reads); len(missing) > 0 {
		return RouteDecision{}, missingDependency(r.Name, missing)
	}
	decision, err := r.Route(newView(state, r.Reads, r.Optional))
	if err != nil {
		return RouteDecision{}, fmt.Errorf("router %s: %w", r.Name, err)
	}
	if err := decision.validate(); err != nil {
		return RouteDecision{}, &Error{Code: ErrInvalidGraph, Step: r.Name, Message: err.Error()}
	}
	allowed := toSet(r.Targets)
	for _, t := range decision.Targets() {
		if !allowed[t] {
			return RouteDecision{}, &Error{
				Code:    ErrInvalidGraph,
				Step:    r.Name,
				Field:   t,
				Message: "router chose an undeclared target",
			}
		}
	}
	return decision, nil
}

// Switch builds a router choosing between targets by the string value of a
// discriminant field. Unknown values go to fallback.
func Switch(name, field string, cases map[string]string, fallback string) Router {
	targets := make([]string, 0, len(cases)+1)
	seen := make(map[string]bool)
	for _, t := range cases {
		if !seen[t] {
			seen[t] = true
			targets = append(targets, t)
		}
	}
	if fallback != "" && !seen[fallback] {
		targets = append(targets, fallback)
	}
	return Router{
		Name:    name,
		Reads:   []string{field},
		Targets: targets,
		Route: func(view View) (RouteDecision, error) {
			v, _ := Lookup[string](view, field)
			if next, ok := cases[v]; ok {
				return Goto(next), nil
			}
			if fallback == "" {
				return RouteDecision{}, fmt.Errorf("no route for %s=%q", field, v)
			}
			return Goto(fallback), nil
		},
	}
}
