package workflow

import "sort"

// NodeKind distinguishes step nodes from guard nodes.
type NodeKind string

const (
	NodeStep  NodeKind = "step"
	NodeGuard NodeKind = "guard"
)

// Node is a schedulable vertex of a Graph. A node has at most one outgoing
// route: a static edge, a static parallel group, or a router. A node without
// an outgoing route ends the run.
type Node struct {
	Name  string
	Kind  NodeKind
	Step  *StepSpec
	Guard *GuardSpec

	next   string
	group  *RouteDecision
	router *Router
}

// HasRoute reports whether the node has an outgoing route.
func (n *Node) HasRoute() bool {
	return n.next != "" || n.group != nil || n.router != nil
}

// successors lists the nodes the node may schedule, End excluded.
func (n *Node) successors() []string {
	var out []string
	switch {
	case n.next != "":
		out = append(out, n.next)
	case n.group != nil:
		out = append(out, n.group.Targets()...)
	case n.router != nil:
		out = append(out, n.router.Targets...)
	}
	if n.Guard != nil {
		out = append(out, n.Guard.Check, n.Guard.Repair)
	}
	filtered := out[:0]
	for _, s := range out {
		if s != End {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// Graph is a validated, immutable workflow definition.
type Graph struct {
	name   string
	entry  string
	nodes  map[string]*Node
	steps  *Registry
	schema *Schema
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Entry returns the entry node.
func (g *Graph) Entry() string { return g.entry }

// Schema returns the field schema, repair authorizations included.
func (g *Graph) Schema() *Schema { return g.schema }

// Node returns a node by name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Step returns a registered step.
func (g *Graph) Step(name string) (*StepSpec, bool) {
	return g.steps.Get(name)
}

// Nodes returns all node names, sorted.
func (g *Graph) Nodes() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Successors returns the nodes reachable in one hop from name.
func (g *Graph) Successors(name string) []string {
	n, ok := g.nodes[name]
	if !ok {
		return nil
	}
	return n.successors()
}

// reachable walks the graph breadth-first from the entry node.
func (g *Graph) reachable() map[string]bool {
	seen := map[string]bool{g.entry: true}
	queue := []string{g.entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.Successors(cur) {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

// route resolves the outgoing decision of a node against state.
func (g *Graph) route(n *Node, state *State) (RouteDecision, error) {
	switch {
	case n.next != "":
		return Goto(n.next), nil
	case n.group != nil:
		return *n.group, nil
	case n.router != nil:
		return n.router.Decide(state)
	default:
		return Terminal(), nil
	}
}
