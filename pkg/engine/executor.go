package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/orneryd/onegraph/pkg/graph"
	"github.com/orneryd/onegraph/pkg/logging"
	"github.com/orneryd/onegraph/pkg/model"
	"github.com/orneryd/onegraph/pkg/proxy"
	"github.com/orneryd/onegraph/pkg/repository"
	"github.com/orneryd/onegraph/pkg/telemetry"
)

// DefaultMaxMatches bounds the bindings produced for one pattern.
const DefaultMaxMatches = 10000

// Binding maps the elements of one pattern onto proxy elements. Create
// elements map to what was committed for this binding.
type Binding struct {
	Pattern       int
	Nodes         map[graph.NodeIndex]proxy.ProxyNodeID
	Relationships map[graph.EdgeIndex]proxy.ProxyRelationshipID
}

// ExecuteResult summarizes one Execute call.
type ExecuteResult struct {
	Bindings             []Binding
	NodesCreated         int
	RelationshipsCreated int
}

// Executor runs compiled patterns against a graph proxy. Match elements are
// bound to repository data pulled in through the proxy; Create elements are
// written to the repository once per binding and registered with the proxy.
//
// Patterns run in order. A node aliased in an earlier pattern only matches
// what the alias was bound to there.
type Executor struct {
	repo       repository.Repository
	proxy      *proxy.GraphProxy
	maxMatches int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMaxMatches caps the bindings per pattern. Non-positive values keep
// the default.
func WithMaxMatches(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxMatches = n
		}
	}
}

// NewExecutor creates an executor. p must be a proxy over repo.
func NewExecutor(repo repository.Repository, p *proxy.GraphProxy, opts ...ExecutorOption) *Executor {
	e := &Executor{repo: repo, proxy: p, maxMatches: DefaultMaxMatches}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute binds and commits every pattern in order.
func (e *Executor) Execute(ctx context.Context, patterns []*model.Pattern) (res *ExecuteResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, "engine.execute", attribute.Int("patterns", len(patterns)))
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		telemetry.ExecutionsTotal.WithLabelValues(result).Inc()
		telemetry.EndSpan(span, err)
	}()

	log := logging.FromContext(ctx)
	res = &ExecuteResult{}
	aliases := make(map[string]map[uint64]struct{})

	for pi, p := range patterns {
		pr := &patternRun{
			exec:    e,
			pattern: p,
			aliases: aliases,
		}
		bindings, err := pr.match(ctx)
		if err != nil {
			return nil, fmt.Errorf("pattern %d: %w", pi, err)
		}
		for _, b := range bindings {
			nodes, rels, err := pr.create(ctx, b)
			if err != nil {
				return nil, fmt.Errorf("pattern %d: %w", pi, err)
			}
			res.NodesCreated += nodes
			res.RelationshipsCreated += rels
			b.Pattern = pi
			res.Bindings = append(res.Bindings, b)
		}
		for _, b := range bindings {
			pr.recordAliases(b)
		}
		log.Debug("pattern executed", "pattern", pi, "bindings", len(bindings))
	}

	span.SetAttributes(
		attribute.Int("bindings", len(res.Bindings)),
		attribute.Int("nodes_created", res.NodesCreated),
		attribute.Int("relationships_created", res.RelationshipsCreated))
	return res, nil
}

// patternRun holds the per-pattern matching state.
type patternRun struct {
	exec    *Executor
	pattern *model.Pattern
	aliases map[string]map[uint64]struct{}

	order    []graph.NodeIndex // Match nodes in pattern order
	bindings []Binding
}

func (r *patternRun) match(ctx context.Context) ([]Binding, error) {
	for _, n := range r.pattern.NodeIDs() {
		if r.pattern.Node(n).Status == model.StatusMatch {
			r.order = append(r.order, n)
		}
	}
	if len(r.order) == 0 {
		return []Binding{newBinding()}, nil
	}

	// A Match relationship touching a Create node can never be satisfied.
	for i, rel := range r.pattern.Relationships() {
		if rel.Status != model.StatusMatch {
			continue
		}
		e := graph.NewEdgeIndex(i)
		if r.pattern.Node(r.pattern.SourceIndex(e)).Status == model.StatusCreate ||
			r.pattern.Node(r.pattern.TargetIndex(e)).Status == model.StatusCreate {
			return nil, nil
		}
	}

	if err := r.bind(ctx, 0, newBinding()); err != nil {
		return nil, err
	}
	return r.bindings, nil
}

// bind extends b with a candidate for r.order[i], depth first.
func (r *patternRun) bind(ctx context.Context, i int, b Binding) error {
	if len(r.bindings) >= r.exec.maxMatches {
		return nil
	}
	if i == len(r.order) {
		ok, err := r.bindRelationships(ctx, b)
		if err != nil || !ok {
			return err
		}
		r.bindings = append(r.bindings, b.clone())
		return nil
	}

	n := r.order[i]
	candidates, err := r.candidates(ctx, n, b)
	if err != nil {
		return err
	}
	for _, c := range candidates {
		if !r.accepts(n, c) {
			continue
		}
		b.Nodes[n] = c
		if err := r.bind(ctx, i+1, b); err != nil {
			return err
		}
		delete(b.Nodes, n)
	}
	return nil
}

// candidates lists the proxy nodes n may bind to. A node reached through a
// Match relationship from a bound node is drawn from that node's
// neighbors; otherwise from its id, and failing that from the proxy roots.
func (r *patternRun) candidates(ctx context.Context, n graph.NodeIndex, b Binding) ([]proxy.ProxyNodeID, error) {
	p := r.exec.proxy
	it := r.pattern.InEdges(n)
	for e, ok := it.Next(); ok; e, ok = it.Next() {
		rel := r.pattern.Relationship(e)
		if rel.Status != model.StatusMatch {
			continue
		}
		src, bound := b.Nodes[r.pattern.SourceIndex(e)]
		if !bound {
			continue
		}
		if err := p.RetrieveOutEdges(ctx, src); err != nil {
			return nil, err
		}
		var out []proxy.ProxyNodeID
		edges := p.OutEdges(src)
		for pe, ok := edges.Next(); ok; pe, ok = edges.Next() {
			if !relationshipMatches(rel, p.Relationship(pe)) {
				continue
			}
			if t := p.TargetIndex(pe); !slices.Contains(out, t) {
				out = append(out, t)
			}
		}
		return out, nil
	}

	node := r.pattern.Node(n)
	if node.ID != nil {
		id, err := p.Materialize(ctx, *node.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []proxy.ProxyNodeID{id}, nil
	}

	if set, ok := r.aliases[node.Alias]; ok && node.Alias != "" {
		ids := slices.Sorted(maps.Keys(set))
		return r.materialize(ctx, ids)
	}

	roots := p.Roots()
	ids := make([]uint64, len(roots))
	for i, root := range roots {
		ids[i] = root.StoreID()
	}
	return r.materialize(ctx, ids)
}

func (r *patternRun) materialize(ctx context.Context, ids []uint64) ([]proxy.ProxyNodeID, error) {
	out := make([]proxy.ProxyNodeID, 0, len(ids))
	for _, id := range ids {
		pid, err := r.exec.proxy.Materialize(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, pid)
	}
	return out, nil
}

// accepts checks id, labels, properties and alias restrictions of n
// against candidate c.
func (r *patternRun) accepts(n graph.NodeIndex, c proxy.ProxyNodeID) bool {
	want := r.pattern.Node(n)
	got := r.exec.proxy.Node(c)

	if want.ID != nil && *want.ID != c.StoreID() {
		return false
	}
	for _, l := range want.Labels {
		if !slices.Contains(got.Labels, l) {
			return false
		}
	}
	for _, prop := range want.Properties {
		v, ok := got.Property(prop.Name)
		if !ok {
			return false
		}
		if prop.Value != nil && !prop.Value.Equal(v) {
			return false
		}
	}
	if want.Alias != "" {
		if set, ok := r.aliases[want.Alias]; ok {
			if _, in := set[c.StoreID()]; !in {
				return false
			}
		}
	}
	return true
}

// bindRelationships finds a distinct proxy relationship for every Match
// relationship of the pattern once all Match nodes are bound.
func (r *patternRun) bindRelationships(ctx context.Context, b Binding) (bool, error) {
	clear(b.Relationships)
	var rels []graph.EdgeIndex
	for i, rel := range r.pattern.Relationships() {
		if rel.Status != model.StatusMatch {
			continue
		}
		e := graph.NewEdgeIndex(i)
		if err := r.exec.proxy.RetrieveOutEdges(ctx, b.Nodes[r.pattern.SourceIndex(e)]); err != nil {
			return false, err
		}
		rels = append(rels, e)
	}
	return r.assignRelationships(rels, b, make(map[proxy.ProxyRelationshipID]bool)), nil
}

// assignRelationships binds rels in order, backtracking when a proxy
// relationship is already taken by an earlier one.
func (r *patternRun) assignRelationships(rels []graph.EdgeIndex, b Binding, used map[proxy.ProxyRelationshipID]bool) bool {
	if len(rels) == 0 {
		return true
	}
	p := r.exec.proxy
	e := rels[0]
	rel := r.pattern.Relationship(e)
	src := b.Nodes[r.pattern.SourceIndex(e)]
	dst := b.Nodes[r.pattern.TargetIndex(e)]

	edges := p.OutEdges(src)
	for pe, ok := edges.Next(); ok; pe, ok = edges.Next() {
		if used[pe] || p.TargetIndex(pe) != dst || !relationshipMatches(rel, p.Relationship(pe)) {
			continue
		}
		used[pe] = true
		b.Relationships[e] = pe
		if r.assignRelationships(rels[1:], b, used) {
			return true
		}
		delete(used, pe)
		delete(b.Relationships, e)
	}
	return false
}

// create commits the Create elements of the pattern for binding b.
func (r *patternRun) create(ctx context.Context, b Binding) (nodes, rels int, err error) {
	p := r.exec.proxy
	for _, n := range r.pattern.NodeIDs() {
		node := r.pattern.Node(n)
		if node.Status != model.StatusCreate {
			continue
		}
		storeID, err := r.exec.repo.CreateNode(ctx, node.Labels, model.PropertiesMap(node.Properties))
		if err != nil {
			return nodes, rels, fmt.Errorf("failed to create node: %w", err)
		}
		b.Nodes[n] = p.AddCreatedNode(node.Clone(), storeID)
		nodes++
	}
	if nodes > 0 {
		telemetry.CreatedElementsTotal.WithLabelValues("node").Add(float64(nodes))
	}

	for i, rel := range r.pattern.Relationships() {
		if rel.Status != model.StatusCreate {
			continue
		}
		e := graph.NewEdgeIndex(i)
		src, srcOK := b.Nodes[r.pattern.SourceIndex(e)]
		dst, dstOK := b.Nodes[r.pattern.TargetIndex(e)]
		if !srcOK || !dstOK {
			return nodes, rels, fmt.Errorf("relationship %s has an unbound endpoint", e)
		}
		var typ string
		if len(rel.Labels) > 0 {
			typ = rel.Labels[0]
		}
		storeID, err := r.exec.repo.CreateRelationship(ctx, src.StoreID(), dst.StoreID(), typ,
			model.PropertiesMap(rel.Properties))
		if err != nil {
			return nodes, rels, fmt.Errorf("failed to create relationship: %w", err)
		}
		b.Relationships[e] = p.AddCreatedRelationship(rel.Clone(), src, dst, storeID)
		rels++
	}
	if rels > 0 {
		telemetry.CreatedElementsTotal.WithLabelValues("relationship").Add(float64(rels))
	}
	return nodes, rels, nil
}

// recordAliases narrows later patterns to what aliased nodes bound to.
func (r *patternRun) recordAliases(b Binding) {
	for n, id := range b.Nodes {
		alias := r.pattern.Node(n).Alias
		if alias == "" {
			continue
		}
		set, ok := r.aliases[alias]
		if !ok {
			set = make(map[uint64]struct{})
			r.aliases[alias] = set
		}
		set[id.StoreID()] = struct{}{}
	}
}

// relationshipMatches reports whether got carries one of want's labels.
// An unlabeled pattern relationship matches any type.
func relationshipMatches(want, got *model.Relationship) bool {
	if len(want.Labels) == 0 {
		return true
	}
	for _, l := range want.Labels {
		if got.HasLabel(l) {
			return true
		}
	}
	return false
}

func newBinding() Binding {
	return Binding{
		Nodes:         make(map[graph.NodeIndex]proxy.ProxyNodeID),
		Relationships: make(map[graph.EdgeIndex]proxy.ProxyRelationshipID),
	}
}

func (b Binding) clone() Binding {
	return Binding{
		Pattern:       b.Pattern,
		Nodes:         maps.Clone(b.Nodes),
		Relationships: maps.Clone(b.Relationships),
	}
}
