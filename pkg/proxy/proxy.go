// Package proxy virtualizes a repository-backed graph as an in-memory one.
//
// A GraphProxy starts with only the identities of the nodes matching its
// label scope. Nodes, relationships and adjacency are pulled from the
// repository on demand by RetrieveOutEdges and RetrieveInEdges, and linked
// into an adjacency arena shared with every live iterator: growth committed
// after an iterator was created but before its first step is visible to it.
//
// A GraphProxy is not safe for concurrent use.
package proxy

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/orneryd/onegraph/pkg/graph"
	"github.com/orneryd/onegraph/pkg/logging"
	"github.com/orneryd/onegraph/pkg/model"
	"github.com/orneryd/onegraph/pkg/repository"
	"github.com/orneryd/onegraph/pkg/telemetry"
)

type direction int

const (
	outbound direction = iota
	inbound
)

func (d direction) String() string {
	if d == outbound {
		return "out"
	}
	return "in"
}

// shared is the state iterators hold on to.
type shared struct {
	adj       graph.Adjacency
	nodeStore []uint64
	edgeStore []uint64
}

// GraphProxy is a lazily materialized view of a repository.
type GraphProxy struct {
	repo   repository.Repository
	labels []string
	roots  []uint64

	shared *shared
	nodes  []model.Node
	rels   []model.Relationship

	nodeSlots map[uint64]int
	edgeSlots map[uint64]int
	fetched   [2][]bool
}

var (
	_ graph.ContainerGraph[ProxyNodeID, ProxyRelationshipID, model.Node, model.Relationship] = (*GraphProxy)(nil)
	_ graph.Growable[ProxyNodeID]                                                             = (*GraphProxy)(nil)
)

// New creates a proxy scoped to the nodes carrying all of labels (every node
// when labels is empty). Only their identities are fetched.
func New(ctx context.Context, repo repository.Repository, labels []string) (*GraphProxy, error) {
	ids, err := repo.FetchNodeIDsWithLabels(ctx, labels)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch root nodes: %w", err)
	}
	logging.FromContext(ctx).Debug("graph proxy created", "labels", labels, "roots", len(ids))

	return &GraphProxy{
		repo:      repo,
		labels:    slices.Clone(labels),
		roots:     ids,
		shared:    &shared{},
		nodeSlots: make(map[uint64]int),
		edgeSlots: make(map[uint64]int),
	}, nil
}

// Labels returns the label scope the proxy was created with.
func (p *GraphProxy) Labels() []string { return slices.Clone(p.labels) }

// Roots returns the scoped identities in repository order, resolved where
// already materialized.
func (p *GraphProxy) Roots() []ProxyNodeID {
	out := make([]ProxyNodeID, len(p.roots))
	for i, storeID := range p.roots {
		out[i] = p.Resolve(unretrieved(storeID))
	}
	return out
}

// Resolve returns the current form of id: the materialized id if the node
// has a local slot, the ToRetrieve placeholder otherwise.
func (p *GraphProxy) Resolve(id ProxyNodeID) ProxyNodeID {
	if slot, ok := p.nodeSlots[id.storeID]; ok {
		return p.nodeID(slot)
	}
	return unretrieved(id.storeID)
}

// Lookup returns the placeholder or materialized id for a store identity.
func (p *GraphProxy) Lookup(storeID uint64) ProxyNodeID {
	return p.Resolve(unretrieved(storeID))
}

// LocalNode returns the materialized id for storeID.
func (p *GraphProxy) LocalNode(storeID uint64) (ProxyNodeID, bool) {
	slot, ok := p.nodeSlots[storeID]
	if !ok {
		return ProxyNodeID{}, false
	}
	return p.nodeID(slot), true
}

// LocalRelationship returns the mirrored id for a relationship storeID.
func (p *GraphProxy) LocalRelationship(storeID uint64) (ProxyRelationshipID, bool) {
	slot, ok := p.edgeSlots[storeID]
	if !ok {
		return ProxyRelationshipID{}, false
	}
	return ProxyRelationshipID{memID: slot, storeID: storeID}, true
}

// StoreNodeID returns the repository identity of a materialized node.
func (p *GraphProxy) StoreNodeID(id ProxyNodeID) uint64 {
	return p.shared.nodeStore[p.mustSlot(id)]
}

func (p *GraphProxy) nodeID(slot int) ProxyNodeID {
	return ProxyNodeID{memID: slot, storeID: p.shared.nodeStore[slot]}
}

// mustSlot validates id against the local mirror. Unknown ids are a
// programming error.
func (p *GraphProxy) mustSlot(id ProxyNodeID) int {
	if id.toRetrieve || id.memID < 0 || id.memID >= len(p.nodes) {
		panic(fmt.Sprintf("proxy: node %s is not materialized", id))
	}
	if p.shared.nodeStore[id.memID] != id.storeID {
		panic(fmt.Sprintf("proxy: node %s does not belong to this proxy", id))
	}
	return id.memID
}

func (p *GraphProxy) mustEdgeSlot(id ProxyRelationshipID) int {
	if id.memID < 0 || id.memID >= len(p.rels) || p.shared.edgeStore[id.memID] != id.storeID {
		panic(fmt.Sprintf("proxy: relationship %s is not mirrored", id))
	}
	return id.memID
}

// ============================================================================
// Materialization
// ============================================================================

func (p *GraphProxy) addNode(storeID uint64, node model.Node, adjacencyKnown bool) int {
	idx := p.shared.adj.AddVertex()
	p.shared.nodeStore = append(p.shared.nodeStore, storeID)
	p.nodes = append(p.nodes, node)
	p.fetched[outbound] = append(p.fetched[outbound], adjacencyKnown)
	p.fetched[inbound] = append(p.fetched[inbound], adjacencyKnown)
	p.nodeSlots[storeID] = idx.Index()
	telemetry.MirroredNodesTotal.Inc()
	return idx.Index()
}

func (p *GraphProxy) addEdge(storeID uint64, rel model.Relationship, src, dst int) int {
	idx := p.shared.adj.AddEdge(graph.NewNodeIndex(src), graph.NewNodeIndex(dst))
	p.shared.edgeStore = append(p.shared.edgeStore, storeID)
	p.rels = append(p.rels, rel)
	p.edgeSlots[storeID] = idx.Index()
	telemetry.MirroredEdgesTotal.Inc()
	return idx.Index()
}

// Materialize fetches a node record without its adjacency. It is a no-op
// for nodes already mirrored.
func (p *GraphProxy) Materialize(ctx context.Context, storeID uint64) (ProxyNodeID, error) {
	if slot, ok := p.nodeSlots[storeID]; ok {
		return p.nodeID(slot), nil
	}
	rec, err := p.repo.FetchNode(ctx, storeID)
	if err != nil {
		return ProxyNodeID{}, fmt.Errorf("failed to materialize node %d: %w", storeID, err)
	}
	node, err := nodeFromRecord(rec)
	if err != nil {
		return ProxyNodeID{}, err
	}
	return p.nodeID(p.addNode(storeID, node, false)), nil
}

// RetrieveOutEdges implements graph.Growable.
func (p *GraphProxy) RetrieveOutEdges(ctx context.Context, source ProxyNodeID) error {
	return p.retrieve(ctx, source.storeID, outbound)
}

// RetrieveInEdges implements graph.Growable.
func (p *GraphProxy) RetrieveInEdges(ctx context.Context, target ProxyNodeID) error {
	return p.retrieve(ctx, target.storeID, inbound)
}

// retrieve mirrors one direction of storeID's adjacency. Every repository
// read happens before the first mutation, so a failed retrieval leaves the
// proxy unchanged.
func (p *GraphProxy) retrieve(ctx context.Context, storeID uint64, dir direction) (err error) {
	slot, known := p.nodeSlots[storeID]
	if known && p.fetched[dir][slot] {
		telemetry.RetrievalsTotal.WithLabelValues(dir.String(), "cached").Inc()
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, "proxy.retrieve",
		attribute.Int64("node", int64(storeID)),
		attribute.String("direction", dir.String()))
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		telemetry.RetrievalsTotal.WithLabelValues(dir.String(), result).Inc()
		telemetry.EndSpan(span, err)
	}()

	var self *model.Node
	if !known {
		rec, err := p.repo.FetchNode(ctx, storeID)
		if err != nil {
			return fmt.Errorf("failed to fetch node %d: %w", storeID, err)
		}
		n, err := nodeFromRecord(rec)
		if err != nil {
			return err
		}
		self = &n
	}

	var records []*repository.EdgeRecord
	if dir == outbound {
		records, err = p.repo.FetchOutEdges(ctx, storeID)
	} else {
		records, err = p.repo.FetchInEdges(ctx, storeID)
	}
	if err != nil {
		return fmt.Errorf("failed to fetch %s edges of node %d: %w", dir, storeID, err)
	}

	type pendingEdge struct {
		rec *repository.EdgeRecord
		rel model.Relationship
	}
	var edges []pendingEdge
	endpoints := make(map[uint64]model.Node)
	var endpointOrder []uint64
	seen := make(map[uint64]bool, len(records))
	for _, rec := range records {
		near, other := rec.Source, rec.Target
		if dir == inbound {
			near, other = other, near
		}
		if near != storeID {
			return fmt.Errorf("%w: %s edge %d of node %d has endpoint %d",
				repository.ErrInvalidData, dir, rec.ID, storeID, near)
		}
		if _, dup := p.edgeSlots[rec.ID]; dup || seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		rel, err := relationshipFromRecord(rec)
		if err != nil {
			return err
		}
		edges = append(edges, pendingEdge{rec: rec, rel: rel})

		if other == storeID {
			continue
		}
		if _, ok := p.nodeSlots[other]; ok {
			continue
		}
		if _, ok := endpoints[other]; ok {
			continue
		}
		orec, err := p.repo.FetchNode(ctx, other)
		if err != nil {
			return fmt.Errorf("failed to fetch endpoint %d of edge %d: %w", other, rec.ID, err)
		}
		n, err := nodeFromRecord(orec)
		if err != nil {
			return err
		}
		endpoints[other] = n
		endpointOrder = append(endpointOrder, other)
	}

	// Commit.
	if self != nil {
		slot = p.addNode(storeID, *self, false)
	}
	for _, id := range endpointOrder {
		p.addNode(id, endpoints[id], false)
	}
	for _, e := range edges {
		p.addEdge(e.rec.ID, e.rel, p.nodeSlots[e.rec.Source], p.nodeSlots[e.rec.Target])
	}
	p.fetched[dir][slot] = true

	logging.FromContext(ctx).Debug("retrieved edges",
		"node", storeID, "direction", dir.String(),
		"edges", len(edges), "new_nodes", len(endpointOrder))
	return nil
}

// AddCreatedNode registers a node the caller has just committed to the
// repository. Its adjacency is considered known.
func (p *GraphProxy) AddCreatedNode(node model.Node, storeID uint64) ProxyNodeID {
	if slot, ok := p.nodeSlots[storeID]; ok {
		return p.nodeID(slot)
	}
	id := storeID
	node.ID = &id
	return p.nodeID(p.addNode(storeID, node, true))
}

// AddCreatedRelationship registers a relationship the caller has just
// committed to the repository. Both endpoints must be materialized.
func (p *GraphProxy) AddCreatedRelationship(rel model.Relationship, source, target ProxyNodeID, storeID uint64) ProxyRelationshipID {
	if slot, ok := p.edgeSlots[storeID]; ok {
		return ProxyRelationshipID{memID: slot, storeID: storeID}
	}
	src := p.mustSlot(source)
	dst := p.mustSlot(target)
	return ProxyRelationshipID{memID: p.addEdge(storeID, rel, src, dst), storeID: storeID}
}

// ============================================================================
// graph.Traversable
// ============================================================================

// OutEdges iterates the mirrored outbound relationships of source. The
// chain head is read on the first step.
func (p *GraphProxy) OutEdges(source ProxyNodeID) graph.EdgeIterator[ProxyRelationshipID] {
	slot := p.mustSlot(source)
	return &EdgeIterator{chain: p.shared.adj.LazyOutChain(graph.NewNodeIndex(slot)), shared: p.shared}
}

// InEdges iterates the mirrored inbound relationships of target.
func (p *GraphProxy) InEdges(target ProxyNodeID) graph.EdgeIterator[ProxyRelationshipID] {
	slot := p.mustSlot(target)
	return &EdgeIterator{chain: p.shared.adj.LazyInChain(graph.NewNodeIndex(slot)), shared: p.shared}
}

// SourceIndex returns the source node of edge.
func (p *GraphProxy) SourceIndex(edge ProxyRelationshipID) ProxyNodeID {
	slot := p.mustEdgeSlot(edge)
	return p.nodeID(p.shared.adj.Edge(graph.NewEdgeIndex(slot)).Source.Index())
}

// TargetIndex returns the target node of edge.
func (p *GraphProxy) TargetIndex(edge ProxyRelationshipID) ProxyNodeID {
	slot := p.mustEdgeSlot(edge)
	return p.nodeID(p.shared.adj.Edge(graph.NewEdgeIndex(slot)).Target.Index())
}

// NodesLen is the number of materialized nodes.
func (p *GraphProxy) NodesLen() int { return len(p.nodes) }

// EdgesLen is the number of mirrored relationships.
func (p *GraphProxy) EdgesLen() int { return len(p.rels) }

// NodeIDs lists materialized nodes in materialization order.
func (p *GraphProxy) NodeIDs() []ProxyNodeID {
	out := make([]ProxyNodeID, len(p.nodes))
	for i := range p.nodes {
		out[i] = p.nodeID(i)
	}
	return out
}

// InDegree counts mirrored inbound relationships.
func (p *GraphProxy) InDegree(node ProxyNodeID) int { return graph.Count(p.InEdges(node)) }

// OutDegree counts mirrored outbound relationships.
func (p *GraphProxy) OutDegree(node ProxyNodeID) int { return graph.Count(p.OutEdges(node)) }

// IsRetrieved reports whether one direction of id's adjacency is mirrored.
func (p *GraphProxy) IsRetrieved(id ProxyNodeID, out bool) bool {
	slot, ok := p.nodeSlots[id.storeID]
	if !ok {
		return false
	}
	if out {
		return p.fetched[outbound][slot]
	}
	return p.fetched[inbound][slot]
}

// ============================================================================
// graph.ContainerGraph
// ============================================================================

func (p *GraphProxy) Node(id ProxyNodeID) *model.Node    { return &p.nodes[p.mustSlot(id)] }
func (p *GraphProxy) NodeMut(id ProxyNodeID) *model.Node { return &p.nodes[p.mustSlot(id)] }

func (p *GraphProxy) Relationship(id ProxyRelationshipID) *model.Relationship {
	return &p.rels[p.mustEdgeSlot(id)]
}

func (p *GraphProxy) RelationshipMut(id ProxyRelationshipID) *model.Relationship {
	return &p.rels[p.mustEdgeSlot(id)]
}

// EdgeIterator walks one mirrored adjacency chain.
type EdgeIterator struct {
	chain  *graph.Chain
	shared *shared
}

// Next yields the next relationship, most recently linked first.
func (it *EdgeIterator) Next() (ProxyRelationshipID, bool) {
	e, ok := it.chain.Next()
	if !ok {
		return ProxyRelationshipID{}, false
	}
	return ProxyRelationshipID{memID: e.Index(), storeID: it.shared.edgeStore[e.Index()]}, true
}

// ============================================================================
// Record conversion
// ============================================================================

func nodeFromRecord(rec *repository.NodeRecord) (model.Node, error) {
	props, err := model.PropertiesFromMap(rec.Properties)
	if err != nil {
		return model.Node{}, fmt.Errorf("node %d: %w: %v", rec.ID, repository.ErrInvalidData, err)
	}
	id := rec.ID
	n := model.NewNode(model.StatusMatch, &id)
	n.Labels = slices.Clone(rec.Labels)
	n.Properties = props
	return n, nil
}

func relationshipFromRecord(rec *repository.EdgeRecord) (model.Relationship, error) {
	props, err := model.PropertiesFromMap(rec.Properties)
	if err != nil {
		return model.Relationship{}, fmt.Errorf("edge %d: %w: %v", rec.ID, repository.ErrInvalidData, err)
	}
	r := model.NewRelationship(model.StatusMatch, rec.Type)
	r.Properties = props
	return r, nil
}
