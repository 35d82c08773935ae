package graph

// Container is a Graph whose vertices and edges carry payloads. Payload i of
// the node slice belongs to NodeIndex i, and likewise for relationships.
//
// Patterns built by the traversal state machine are Containers of
// model.Node / model.Relationship.
type Container[N any, R any] struct {
	graph         Graph
	nodes         []N
	relationships []R
}

// NewContainer creates an empty payload graph.
func NewContainer[N any, R any]() *Container[N, R] {
	return &Container[N, R]{}
}

// AddNode appends a vertex carrying node.
func (c *Container[N, R]) AddNode(node N) NodeIndex {
	id := c.graph.AddVertex()
	c.nodes = append(c.nodes, node)
	return id
}

// AddRelationship links source to target with a relationship payload.
func (c *Container[N, R]) AddRelationship(rel R, source, target NodeIndex) EdgeIndex {
	id := c.graph.AddEdge(source, target)
	c.relationships = append(c.relationships, rel)
	return id
}

// Node returns the payload of a vertex.
func (c *Container[N, R]) Node(id NodeIndex) *N { return &c.nodes[id.index] }

// NodeMut returns the payload of a vertex for mutation.
func (c *Container[N, R]) NodeMut(id NodeIndex) *N { return &c.nodes[id.index] }

// Relationship returns the payload of an edge.
func (c *Container[N, R]) Relationship(id EdgeIndex) *R { return &c.relationships[id.index] }

// RelationshipMut returns the payload of an edge for mutation.
func (c *Container[N, R]) RelationshipMut(id EdgeIndex) *R { return &c.relationships[id.index] }

// Nodes returns the node payloads in creation order. The slice is shared.
func (c *Container[N, R]) Nodes() []N { return c.nodes }

// Relationships returns the relationship payloads in creation order.
func (c *Container[N, R]) Relationships() []R { return c.relationships }

// Topology exposes the underlying kernel graph.
func (c *Container[N, R]) Topology() *Graph { return &c.graph }

func (c *Container[N, R]) OutEdges(source NodeIndex) EdgeIterator[EdgeIndex] {
	return c.graph.OutEdges(source)
}

func (c *Container[N, R]) InEdges(target NodeIndex) EdgeIterator[EdgeIndex] {
	return c.graph.InEdges(target)
}

func (c *Container[N, R]) SourceIndex(edge EdgeIndex) NodeIndex { return c.graph.SourceIndex(edge) }
func (c *Container[N, R]) TargetIndex(edge EdgeIndex) NodeIndex { return c.graph.TargetIndex(edge) }
func (c *Container[N, R]) NodesLen() int                        { return c.graph.NodesLen() }
func (c *Container[N, R]) EdgesLen() int                        { return c.graph.EdgesLen() }
func (c *Container[N, R]) NodeIDs() []NodeIndex                 { return c.graph.NodeIDs() }
func (c *Container[N, R]) InDegree(node NodeIndex) int          { return c.graph.InDegree(node) }
func (c *Container[N, R]) OutDegree(node NodeIndex) int         { return c.graph.OutDegree(node) }

// Clone copies the topology and payload slices. Payloads are copied by value;
// callers with reference-typed payload fields deep-copy through cloneNode and
// cloneRel, which may be nil.
func (c *Container[N, R]) Clone(cloneNode func(N) N, cloneRel func(R) R) *Container[N, R] {
	out := &Container[N, R]{
		graph: Graph{adj: Adjacency{
			vertices: append([]VertexData(nil), c.graph.adj.vertices...),
			edges:    append([]EdgeData(nil), c.graph.adj.edges...),
		}},
		nodes:         make([]N, len(c.nodes)),
		relationships: make([]R, len(c.relationships)),
	}
	for i, n := range c.nodes {
		if cloneNode != nil {
			n = cloneNode(n)
		}
		out.nodes[i] = n
	}
	for i, r := range c.relationships {
		if cloneRel != nil {
			r = cloneRel(r)
		}
		out.relationships[i] = r
	}
	return out
}

var _ ContainerGraph[NodeIndex, EdgeIndex, struct{}, struct{}] = (*Container[struct{}, struct{}])(nil)
