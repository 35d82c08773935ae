// Package graph provides the in-memory topology kernel of onegraph.
//
// A graph is an arena of vertex records and an arena of edge records. Vertices
// and edges refer to each other through dense integer handles (NodeIndex,
// EdgeIndex) rather than pointers. Each vertex stores the head of two intrusive
// singly-linked lists threaded through the edge arena: its outbound chain and
// its inbound chain.
//
// Key Properties:
//   - AddVertex and AddEdge are O(1)
//   - Neighbor enumeration is O(degree), lazily, one edge per step
//   - Enumeration order is most-recently-inserted first
//   - Degrees are counted by exhausting the iterator (no cached counter)
//
// Example:
//
//	g := graph.New()
//	a := g.AddVertex()
//	b := g.AddVertex()
//	e := g.AddEdge(a, b)
//
//	it := g.OutEdges(a)
//	for edge, ok := it.Next(); ok; edge, ok = it.Next() {
//		fmt.Println(g.TargetIndex(edge)) // b
//	}
//
// The traits in this file are shared by the kernel Graph, the generic
// Container and the proxy graph in pkg/proxy.
package graph

import "context"

// MemGraphID is a handle with a dense integer index into an owning arena.
type MemGraphID interface {
	comparable
	Index() int
}

// EdgeIterator is a lazy, finite edge sequence. Next returns false once the
// chain is exhausted; iterators are not restartable.
type EdgeIterator[E MemGraphID] interface {
	Next() (E, bool)
}

// Traversable exposes forward/backward edge traversal and node/edge
// containment over a graph representation.
type Traversable[N MemGraphID, E MemGraphID] interface {
	OutEdges(source N) EdgeIterator[E]
	InEdges(target N) EdgeIterator[E]
	SourceIndex(edge E) N
	TargetIndex(edge E) N
	NodesLen() int
	EdgesLen() int
	NodeIDs() []N
	InDegree(node N) int
	OutDegree(node N) int
}

// ContainerGraph is a Traversable graph that also owns node and relationship
// payloads addressed by the same handles.
type ContainerGraph[N MemGraphID, E MemGraphID, NODE any, REL any] interface {
	Traversable[N, E]
	Node(id N) *NODE
	NodeMut(id N) *NODE
	Relationship(id E) *REL
	RelationshipMut(id E) *REL
}

// Growable is implemented by graphs that materialize adjacency on demand.
// Retrieval is idempotent: a second call for the same node is a no-op.
type Growable[N MemGraphID] interface {
	RetrieveOutEdges(ctx context.Context, source N) error
	RetrieveInEdges(ctx context.Context, target N) error
}

// Count exhausts it and returns the number of edges it yielded.
func Count[E MemGraphID](it EdgeIterator[E]) int {
	n := 0
	for _, ok := it.Next(); ok; _, ok = it.Next() {
		n++
	}
	return n
}

// Collect exhausts it and returns the yielded edges in iteration order.
func Collect[E MemGraphID](it EdgeIterator[E]) []E {
	var out []E
	for e, ok := it.Next(); ok; e, ok = it.Next() {
		out = append(out, e)
	}
	return out
}
