package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_SmallGraph(t *testing.T) {
	g := New()
	n0 := g.AddVertex()
	n1 := g.AddVertex()
	n2 := g.AddVertex()

	e0 := g.AddEdge(n0, n1)
	e1 := g.AddEdge(n1, n2)
	e2 := g.AddEdge(n0, n2)

	ed0 := g.Edge(e0)
	assert.Equal(t, n0, ed0.Source)
	assert.Equal(t, n1, ed0.Target)
	_, hasNext := ed0.NextOutboundEdge()
	assert.False(t, hasNext)

	head, ok := g.Vertex(n0).FirstOutboundEdge()
	require.True(t, ok)
	assert.Equal(t, e2, head)

	ed2 := g.Edge(e2)
	assert.Equal(t, n0, ed2.Source)
	assert.Equal(t, n2, ed2.Target)
	next, ok := ed2.NextOutboundEdge()
	require.True(t, ok)
	assert.Equal(t, e0, next)

	assert.Equal(t, []NodeIndex{n2, n1}, g.Successors(n0).Collect())
	// e2 (n0->n2) was added after e1 (n1->n2), so it heads the inbound chain.
	assert.Equal(t, []NodeIndex{n0, n1}, g.Ancestors(n2).Collect())
	assert.Equal(t, n0, g.SourceIndex(e0))
	assert.Equal(t, n2, g.TargetIndex(e1))
}

func TestGraph_OutEdgesReverseInsertionOrder(t *testing.T) {
	g := New()
	source := g.AddVertex()
	a := g.AddVertex()
	b := g.AddVertex()
	c := g.AddVertex()

	ea := g.AddEdge(source, a)
	eb := g.AddEdge(source, b)
	ec := g.AddEdge(source, c)

	assert.Equal(t, []EdgeIndex{ec, eb, ea}, Collect(g.OutEdges(source)))
	assert.Equal(t, []NodeIndex{c, b, a}, g.Successors(source).Collect())
}

func TestGraph_DegreeMatchesEnumeration(t *testing.T) {
	g := New()
	nodes := make([]NodeIndex, 6)
	for i := range nodes {
		nodes[i] = g.AddVertex()
	}

	check := func() {
		t.Helper()
		for _, n := range g.NodeIDs() {
			assert.Equal(t, Count(g.OutEdges(n)), g.OutDegree(n), "out degree of %s", n)
			assert.Equal(t, Count(g.InEdges(n)), g.InDegree(n), "in degree of %s", n)
		}
	}

	pairs := [][2]int{{0, 1}, {0, 2}, {1, 2}, {2, 0}, {3, 3}, {4, 5}, {0, 1}}
	for _, p := range pairs {
		g.AddEdge(nodes[p[0]], nodes[p[1]])
		check()
	}

	assert.Equal(t, 3, g.OutDegree(nodes[0]))
	assert.Equal(t, 2, g.InDegree(nodes[2]))
	assert.Equal(t, 2, g.InDegree(nodes[1]))
	assert.Equal(t, 0, g.InDegree(nodes[4]))
}

func TestGraph_SelfLoop(t *testing.T) {
	g := New()
	n := g.AddVertex()
	other := g.AddVertex()
	g.AddEdge(n, other)
	loop := g.AddEdge(n, n)

	assert.Equal(t, 2, g.OutDegree(n))
	assert.Equal(t, 1, g.InDegree(n))

	head, ok := g.Vertex(n).FirstInboundEdge()
	require.True(t, ok)
	assert.Equal(t, loop, head)
}

func TestGraph_NodeIDsCreationOrder(t *testing.T) {
	g := New()
	assert.Empty(t, g.NodeIDs())

	a := g.AddVertex()
	b := g.AddVertex()
	c := g.AddVertex()
	g.AddEdge(c, a)
	g.AddEdge(b, a)

	assert.Equal(t, []NodeIndex{a, b, c}, g.NodeIDs())
	assert.Equal(t, 3, g.NodesLen())
	assert.Equal(t, 2, g.EdgesLen())
}

func TestGraph_ForeignHandlePanics(t *testing.T) {
	g := New()
	n := g.AddVertex()

	assert.Panics(t, func() { g.AddEdge(n, NewNodeIndex(7)) })
	assert.Panics(t, func() { g.Edge(NewEdgeIndex(0)) })
	assert.Panics(t, func() { g.OutEdges(NewNodeIndex(-1)) })
}

func TestGraph_IteratorIsNotRestartable(t *testing.T) {
	g := New()
	a := g.AddVertex()
	b := g.AddVertex()
	g.AddEdge(a, b)

	it := g.OutEdges(a)
	assert.Equal(t, 1, Count(it))
	_, ok := it.Next()
	assert.False(t, ok)
}

func TestAdjacency_LazyChainSeesLaterEdges(t *testing.T) {
	var adj Adjacency
	a := adj.AddVertex()
	b := adj.AddVertex()

	eager := adj.OutChain(a)
	lazy := adj.LazyOutChain(a)
	e := adj.AddEdge(a, b)

	_, ok := eager.Next()
	assert.False(t, ok, "eager chain captured the empty head")

	got, ok := lazy.Next()
	require.True(t, ok)
	assert.Equal(t, e, got)
}

func TestContainer_Payloads(t *testing.T) {
	c := NewContainer[string, int]()
	alice := c.AddNode("alice")
	bob := c.AddNode("bob")
	knows := c.AddRelationship(42, alice, bob)

	assert.Equal(t, "alice", *c.Node(alice))
	*c.NodeMut(bob) = "robert"
	assert.Equal(t, []string{"alice", "robert"}, c.Nodes())
	assert.Equal(t, 42, *c.Relationship(knows))
	assert.Equal(t, bob, c.TargetIndex(knows))
	assert.Equal(t, 1, c.OutDegree(alice))

	clone := c.Clone(nil, func(r int) int { return r + 1 })
	*clone.NodeMut(alice) = "alicia"
	clone.AddRelationship(7, bob, alice)

	assert.Equal(t, "alice", *c.Node(alice))
	assert.Equal(t, 43, *clone.Relationship(knows))
	assert.Equal(t, 1, c.EdgesLen())
	assert.Equal(t, 2, clone.EdgesLen())
	assert.Equal(t, 0, c.OutDegree(bob))
}
