package graph

import (
	"fmt"
	"strconv"
)

// NodeIndex is a dense handle into a graph's vertex arena.
//
// Handles are plain values: copy them freely, compare them with ==, use them
// as map keys. A handle is only meaningful for the graph that issued it.
type NodeIndex struct {
	index int
}

// NewNodeIndex wraps a raw arena position.
func NewNodeIndex(index int) NodeIndex {
	return NodeIndex{index: index}
}

// Index returns the raw arena position.
func (n NodeIndex) Index() int { return n.index }

func (n NodeIndex) String() string { return "n" + strconv.Itoa(n.index) }

// EdgeIndex is a dense handle into a graph's edge arena.
type EdgeIndex struct {
	index int
}

// NewEdgeIndex wraps a raw arena position.
func NewEdgeIndex(index int) EdgeIndex {
	return EdgeIndex{index: index}
}

// Index returns the raw arena position.
func (e EdgeIndex) Index() int { return e.index }

func (e EdgeIndex) String() string { return "e" + strconv.Itoa(e.index) }

// VertexData holds the heads of a vertex's outbound and inbound chains.
type VertexData struct {
	firstOutbound EdgeIndex
	firstInbound  EdgeIndex
	hasOutbound   bool
	hasInbound    bool
}

// FirstOutboundEdge returns the most recently added outbound edge, if any.
func (v VertexData) FirstOutboundEdge() (EdgeIndex, bool) {
	return v.firstOutbound, v.hasOutbound
}

// FirstInboundEdge returns the most recently added inbound edge, if any.
func (v VertexData) FirstInboundEdge() (EdgeIndex, bool) {
	return v.firstInbound, v.hasInbound
}

// EdgeData is one record of the edge arena. Besides its endpoints it carries
// the links continuing the source's outbound chain and the target's inbound
// chain.
type EdgeData struct {
	Source NodeIndex
	Target NodeIndex

	nextOutbound    EdgeIndex
	nextInbound     EdgeIndex
	hasNextOutbound bool
	hasNextInbound  bool
}

// NextOutboundEdge returns the next edge in the source's outbound chain.
func (e EdgeData) NextOutboundEdge() (EdgeIndex, bool) {
	return e.nextOutbound, e.hasNextOutbound
}

// NextInboundEdge returns the next edge in the target's inbound chain.
func (e EdgeData) NextInboundEdge() (EdgeIndex, bool) {
	return e.nextInbound, e.hasNextInbound
}

// Adjacency is the pair of arenas backing a graph. Graph owns one
// exclusively; the proxy graph shares one with its live iterators.
type Adjacency struct {
	vertices []VertexData
	edges    []EdgeData
}

// AddVertex appends a vertex with empty adjacency.
func (a *Adjacency) AddVertex() NodeIndex {
	index := len(a.vertices)
	a.vertices = append(a.vertices, VertexData{})
	return NodeIndex{index: index}
}

// AddEdge appends an edge and makes it the new head of both the source's
// outbound chain and the target's inbound chain.
//
// Both handles must have been issued by this arena; anything else is a
// programming error and panics.
func (a *Adjacency) AddEdge(source, target NodeIndex) EdgeIndex {
	a.mustVertex(source)
	a.mustVertex(target)

	index := EdgeIndex{index: len(a.edges)}
	src := &a.vertices[source.index]
	dst := &a.vertices[target.index]
	a.edges = append(a.edges, EdgeData{
		Source:          source,
		Target:          target,
		nextOutbound:    src.firstOutbound,
		hasNextOutbound: src.hasOutbound,
		nextInbound:     dst.firstInbound,
		hasNextInbound:  dst.hasInbound,
	})

	// src and dst alias when source == target (self loop).
	src.firstOutbound, src.hasOutbound = index, true
	dst.firstInbound, dst.hasInbound = index, true
	return index
}

// Vertex returns a copy of the vertex record.
func (a *Adjacency) Vertex(id NodeIndex) VertexData {
	a.mustVertex(id)
	return a.vertices[id.index]
}

// Edge returns a copy of the edge record.
func (a *Adjacency) Edge(id EdgeIndex) EdgeData {
	a.mustEdge(id)
	return a.edges[id.index]
}

// VerticesLen is the number of vertex records.
func (a *Adjacency) VerticesLen() int { return len(a.vertices) }

// EdgesLen is the number of edge records.
func (a *Adjacency) EdgesLen() int { return len(a.edges) }

// OutChain starts an outbound walk at the vertex's current head.
func (a *Adjacency) OutChain(source NodeIndex) *Chain {
	a.mustVertex(source)
	c := &Chain{adj: a, node: source, outbound: true, started: true}
	c.cur, c.ok = a.vertices[source.index].FirstOutboundEdge()
	return c
}

// InChain starts an inbound walk at the vertex's current head.
func (a *Adjacency) InChain(target NodeIndex) *Chain {
	a.mustVertex(target)
	c := &Chain{adj: a, node: target, started: true}
	c.cur, c.ok = a.vertices[target.index].FirstInboundEdge()
	return c
}

// LazyOutChain is like OutChain but reads the head on the first step, so
// edges linked between creation and first step are observed.
func (a *Adjacency) LazyOutChain(source NodeIndex) *Chain {
	return &Chain{adj: a, node: source, outbound: true}
}

// LazyInChain is the inbound counterpart of LazyOutChain.
func (a *Adjacency) LazyInChain(target NodeIndex) *Chain {
	return &Chain{adj: a, node: target}
}

func (a *Adjacency) mustVertex(id NodeIndex) {
	if id.index < 0 || id.index >= len(a.vertices) {
		panic(fmt.Sprintf("graph: node index %d out of range [0,%d)", id.index, len(a.vertices)))
	}
}

func (a *Adjacency) mustEdge(id EdgeIndex) {
	if id.index < 0 || id.index >= len(a.edges) {
		panic(fmt.Sprintf("graph: edge index %d out of range [0,%d)", id.index, len(a.edges)))
	}
}

// Chain walks one intrusive adjacency list. It keeps a pointer to the arena,
// never a copy, so records appended after creation stay reachable.
type Chain struct {
	adj      *Adjacency
	node     NodeIndex
	outbound bool
	started  bool
	cur      EdgeIndex
	ok       bool
}

// Next yields the current edge and advances along the chain.
func (c *Chain) Next() (EdgeIndex, bool) {
	if !c.started {
		c.started = true
		v := c.adj.Vertex(c.node)
		if c.outbound {
			c.cur, c.ok = v.FirstOutboundEdge()
		} else {
			c.cur, c.ok = v.FirstInboundEdge()
		}
	}
	if !c.ok {
		return EdgeIndex{}, false
	}
	current := c.cur
	edge := c.adj.edges[current.index]
	if c.outbound {
		c.cur, c.ok = edge.NextOutboundEdge()
	} else {
		c.cur, c.ok = edge.NextInboundEdge()
	}
	return current, true
}

// Graph is the fully resident adjacency-list graph. It is not safe for
// concurrent mutation.
type Graph struct {
	adj Adjacency
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{}
}

// AddVertex appends a vertex with empty adjacency. O(1).
func (g *Graph) AddVertex() NodeIndex { return g.adj.AddVertex() }

// AddEdge links source to target. O(1). Panics on foreign handles.
func (g *Graph) AddEdge(source, target NodeIndex) EdgeIndex {
	return g.adj.AddEdge(source, target)
}

// Vertex returns the vertex record.
func (g *Graph) Vertex(id NodeIndex) VertexData { return g.adj.Vertex(id) }

// Edge returns the edge record.
func (g *Graph) Edge(id EdgeIndex) EdgeData { return g.adj.Edge(id) }

// OutEdges enumerates the outbound chain, most recent first.
func (g *Graph) OutEdges(source NodeIndex) EdgeIterator[EdgeIndex] {
	return g.adj.OutChain(source)
}

// InEdges enumerates the inbound chain, most recent first.
func (g *Graph) InEdges(target NodeIndex) EdgeIterator[EdgeIndex] {
	return g.adj.InChain(target)
}

// Successors enumerates the targets of the outbound chain.
func (g *Graph) Successors(source NodeIndex) *Neighbors {
	return &Neighbors{adj: &g.adj, chain: g.adj.OutChain(source), outbound: true}
}

// Ancestors enumerates the sources of the inbound chain.
func (g *Graph) Ancestors(target NodeIndex) *Neighbors {
	return &Neighbors{adj: &g.adj, chain: g.adj.InChain(target)}
}

// SourceIndex returns the edge's source vertex.
func (g *Graph) SourceIndex(edge EdgeIndex) NodeIndex { return g.adj.Edge(edge).Source }

// TargetIndex returns the edge's target vertex.
func (g *Graph) TargetIndex(edge EdgeIndex) NodeIndex { return g.adj.Edge(edge).Target }

// NodesLen is the number of vertices.
func (g *Graph) NodesLen() int { return g.adj.VerticesLen() }

// EdgesLen is the number of edges.
func (g *Graph) EdgesLen() int { return g.adj.EdgesLen() }

// NodeIDs returns every vertex handle in creation order.
func (g *Graph) NodeIDs() []NodeIndex {
	ids := make([]NodeIndex, g.NodesLen())
	for i := range ids {
		ids[i] = NodeIndex{index: i}
	}
	return ids
}

// InDegree counts the inbound chain. O(degree).
func (g *Graph) InDegree(node NodeIndex) int { return Count(g.InEdges(node)) }

// OutDegree counts the outbound chain. O(degree).
func (g *Graph) OutDegree(node NodeIndex) int { return Count(g.OutEdges(node)) }

// Neighbors yields the far endpoint of each edge of a chain.
type Neighbors struct {
	adj      *Adjacency
	chain    *Chain
	outbound bool
}

// Next yields the next neighbor vertex.
func (n *Neighbors) Next() (NodeIndex, bool) {
	e, ok := n.chain.Next()
	if !ok {
		return NodeIndex{}, false
	}
	edge := n.adj.edges[e.index]
	if n.outbound {
		return edge.Target, true
	}
	return edge.Source, true
}

// Collect exhausts the iterator.
func (n *Neighbors) Collect() []NodeIndex {
	var out []NodeIndex
	for v, ok := n.Next(); ok; v, ok = n.Next() {
		out = append(out, v)
	}
	return out
}

var _ Traversable[NodeIndex, EdgeIndex] = (*Graph)(nil)
