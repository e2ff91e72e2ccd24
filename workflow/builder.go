package workflow

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Builder provides a fluent API for constructing workflow graphs. Errors are
// collected and reported together by Build.
type Builder struct {
	name     string
	logger   *zap.Logger
	registry *Registry
	schema   *Schema
	guards   map[string]*GuardSpec
	order    []string
	edges    map[string]string
	groups   map[string]*RouteDecision
	routers  map[string]*Router
	entry    string
	errs     []error
}

// NewBuilder creates a builder for a graph called name.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:     name,
		logger:   zap.NewNop(),
		registry: NewRegistry(),
		schema:   NewSchema(),
		guards:   make(map[string]*GuardSpec),
		edges:    make(map[string]string),
		groups:   make(map[string]*RouteDecision),
		routers:  make(map[string]*Router),
	}
}

// WithLogger sets a custom logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	if logger != nil {
		b.logger = logger.With(zap.String("component", "graph_builder"))
	}
	return b
}

// WithSchema sets the field schema.
func (b *Builder) WithSchema(schema *Schema) *Builder {
	if schema != nil {
		b.schema = schema
	}
	return b
}

// AddStep registers a step node.
func (b *Builder) AddStep(spec StepSpec) *Builder {
	if _, dup := b.guards[spec.Name]; dup {
		b.errs = append(b.errs, fmt.Errorf("duplicate node name: %s", spec.Name))
		return b
	}
	if err := b.registry.Register(spec); err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.order = append(b.order, spec.Name)
	return b
}

// AddSteps registers several step nodes.
func (b *Builder) AddSteps(specs ...StepSpec) *Builder {
	for _, s := range specs {
		b.AddStep(s)
	}
	return b
}

// AddGuard registers a retry guard node.
func (b *Builder) AddGuard(g GuardSpec) *Builder {
	if _, dup := b.registry.Get(g.Name); dup {
		b.errs = append(b.errs, fmt.Errorf("duplicate node name: %s", g.Name))
		return b
	}
	if _, dup := b.guards[g.Name]; dup {
		b.errs = append(b.errs, fmt.Errorf("duplicate node name: %s", g.Name))
		return b
	}
	guard := g
	b.guards[g.Name] = &guard
	b.order = append(b.order, g.Name)
	return b
}

// AddEdge adds a static edge. to may be End.
func (b *Builder) AddEdge(from, to string) *Builder {
	if b.hasRoute(from) {
		b.errs = append(b.errs, fmt.Errorf("node %s already has an outgoing route", from))
		return b
	}
	b.edges[from] = to
	return b
}

// AddParallel runs members concurrently after from and converges on converge.
func (b *Builder) AddParallel(from, converge string, members ...string) *Builder {
	if b.hasRoute(from) {
		b.errs = append(b.errs, fmt.Errorf("node %s already has an outgoing route", from))
		return b
	}
	d := Parallel(converge, members...)
	b.groups[from] = &d
	return b
}

// AddRouter attaches a conditional route to from.
func (b *Builder) AddRouter(from string, r Router) *Builder {
	if b.hasRoute(from) {
		b.errs = append(b.errs, fmt.Errorf("node %s already has an outgoing route", from))
		return b
	}
	if r.Name == "" {
		r.Name = from + ".router"
	}
	if r.Route == nil {
		b.errs = append(b.errs, fmt.Errorf("router %s has no route function", r.Name))
		return b
	}
	router := r
	b.routers[from] = &router
	return b
}

// SetEntry sets the entry node.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

func (b *Builder) hasRoute(from string) bool {
	_, e := b.edges[from]
	_, g := b.groups[from]
	_, r := b.routers[from]
	return e || g || r
}

// Build validates the definition and returns an immutable Graph.
func (b *Builder) Build() (*Graph, error) {
	schema := b.schema.clone()
	g := &Graph{
		name:   b.name,
		entry:  b.entry,
		nodes:  make(map[string]*Node, len(b.order)),
		steps:  b.registry,
		schema: schema,
	}
	for _, name := range b.order {
		if guard, ok := b.guards[name]; ok {
			g.nodes[name] = &Node{Name: name, Kind: NodeGuard, Guard: guard}
			continue
		}
		spec, _ := b.registry.Get(name)
		g.nodes[name] = &Node{Name: name, Kind: NodeStep, Step: spec}
		if len(spec.Repairs) > 0 {
			schema.authorize(name, spec.Repairs)
		}
	}
	for from, to := range b.edges {
		if n, ok := g.nodes[from]; ok {
			n.next = to
		}
	}
	for from, d := range b.groups {
		if n, ok := g.nodes[from]; ok {
			n.group = d
		}
	}
	for from, r := range b.routers {
		if n, ok := g.nodes[from]; ok {
			n.router = r
		}
	}

	errs := append([]error(nil), b.errs...)
	errs = append(errs, b.validate(g)...)
	if len(errs) > 0 {
		return nil, &Error{Code: ErrInvalidGraph, Message: "graph " + b.name + " is invalid", Cause: errors.Join(errs...)}
	}

	b.logger.Info("workflow graph built",
		zap.String("name", b.name),
		zap.Int("nodes", len(g.nodes)),
		zap.String("entry", g.entry),
	)
	return g, nil
}

func (b *Builder) validate(g *Graph) []error {
	var errs []error
	if len(g.nodes) == 0 {
		return append(errs, fmt.Errorf("graph has no nodes"))
	}
	if g.entry == "" {
		return append(errs, fmt.Errorf("entry node not set"))
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return append(errs, fmt.Errorf("entry node does not exist: %s", g.entry))
	}

	exists := func(name string) bool {
		_, ok := g.nodes[name]
		return ok || name == End
	}

	for _, from := range sortedKeys(b.edges) {
		to := b.edges[from]
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("edge references non-existent source node: %s", from))
		}
		if !exists(to) {
			errs = append(errs, fmt.Errorf("edge references non-existent target node: %s", to))
		}
	}
	for _, from := range sortedKeys(b.groups) {
		d := b.groups[from]
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("parallel group references non-existent source node: %s", from))
		}
		errs = append(errs, b.validateGroup(g, from, d)...)
	}
	for _, from := range sortedKeys(b.routers) {
		r := b.routers[from]
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("router references non-existent source node: %s", from))
		}
		if len(r.Targets) == 0 {
			errs = append(errs, fmt.Errorf("router %s declares no targets", r.Name))
		}
		for _, t := range r.Targets {
			if !exists(t) {
				errs = append(errs, fmt.Errorf("router %s targets non-existent node: %s", r.Name, t))
			}
		}
	}
	for _, name := range sortedKeys(b.guards) {
		if err := b.guards[name].validate(b.registry); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs
	}

	reached := g.reachable()
	for _, name := range g.Nodes() {
		if !reached[name] {
			errs = append(errs, fmt.Errorf("node %s is not reachable from entry %s", name, g.entry))
		}
	}
	return errs
}

// validateGroup checks that the members of a static parallel group can run
// concurrently: no member reads what another writes and no two members write
// the same field unless the field accumulates through a reducer.
func (b *Builder) validateGroup(g *Graph, from string, d *RouteDecision) []error {
	var errs []error
	if len(d.Branches) < 2 {
		errs = append(errs, fmt.Errorf("parallel group after %s needs at least two members", from))
	}
	if g.nodes[d.Converge] == nil {
		errs = append(errs, fmt.Errorf("parallel group after %s converges on unknown node %q", from, d.Converge))
	}
	var members []*StepSpec
	for _, br := range d.Branches {
		spec, ok := b.registry.Get(br.Step)
		if !ok {
			errs = append(errs, fmt.Errorf("parallel group after %s references unknown step %s", from, br.Step))
			continue
		}
		members = append(members, spec)
	}
	for i := 0; i < len(members); i++ {
		for j := 0; j < len(members); j++ {
			if i == j {
				continue
			}
			a, c := members[i], members[j]
			writes := toSet(c.Writes)
			for _, f := range append(append([]string(nil), a.Reads...), a.Optional...) {
				if writes[f] {
					errs = append(errs, fmt.Errorf("parallel members %s and %s are dependent: %s reads %s", a.Name, c.Name, a.Name, f))
				}
			}
			if i < j {
				for _, f := range a.Writes {
					if writes[f] && g.schema.reducer(f) == nil {
						errs = append(errs, fmt.Errorf("parallel members %s and %s both write %s", a.Name, c.Name, f))
					}
				}
			}
		}
	}
	return errs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
