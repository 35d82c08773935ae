package engine

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/onegraph/pkg/graph"
	"github.com/orneryd/onegraph/pkg/gremlin"
	"github.com/orneryd/onegraph/pkg/model"
	"github.com/orneryd/onegraph/pkg/proxy"
	"github.com/orneryd/onegraph/pkg/repository"
	"github.com/orneryd/onegraph/pkg/telemetry"
)

type world struct {
	repo              *repository.MemoryRepository
	marko, vadas, lop uint64
}

// newWorld builds marko -knows-> vadas, marko -created-> lop,
// vadas -created-> lop.
func newWorld(t *testing.T) *world {
	t.Helper()
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	t.Cleanup(func() { repo.Close() })

	w := &world{repo: repo}
	var err error
	w.marko, err = repo.CreateNode(ctx, []string{"Person"}, map[string]any{"name": "marko"})
	require.NoError(t, err)
	w.vadas, err = repo.CreateNode(ctx, []string{"Person"}, map[string]any{"name": "vadas"})
	require.NoError(t, err)
	w.lop, err = repo.CreateNode(ctx, []string{"Software"}, map[string]any{"name": "lop"})
	require.NoError(t, err)

	for _, e := range []struct {
		src, dst uint64
		typ      string
	}{
		{w.marko, w.vadas, "knows"},
		{w.marko, w.lop, "created"},
		{w.vadas, w.lop, "created"},
	} {
		_, err = repo.CreateRelationship(ctx, e.src, e.dst, e.typ, nil)
		require.NoError(t, err)
	}
	return w
}

func (w *world) execute(t *testing.T, labels []string, bc gremlin.Bytecode) (*ExecuteResult, *proxy.GraphProxy) {
	t.Helper()
	ctx := context.Background()
	patterns, err := Compile(ctx, bc)
	require.NoError(t, err)

	p, err := proxy.New(ctx, w.repo, labels)
	require.NoError(t, err)
	res, err := NewExecutor(w.repo, p).Execute(ctx, patterns)
	require.NoError(t, err)
	return res, p
}

func boundStoreIDs(res *ExecuteResult, pattern int, node int) []uint64 {
	var out []uint64
	for _, b := range res.Bindings {
		if b.Pattern != pattern {
			continue
		}
		if id, ok := b.Nodes[graph.NewNodeIndex(node)]; ok {
			out = append(out, id.StoreID())
		}
	}
	return out
}

func TestExecute_NestedMatch(t *testing.T) {
	w := newWorld(t)
	res, _ := w.execute(t, nil, nestedMatch(w.marko))

	require.Len(t, res.Bindings, 3)
	assert.Equal(t, []uint64{w.marko}, boundStoreIDs(res, 0, 0))
	assert.Equal(t, []uint64{w.vadas}, boundStoreIDs(res, 1, 1))
	assert.Equal(t, []uint64{w.vadas}, boundStoreIDs(res, 2, 0), "b keeps its earlier binding")
	assert.Equal(t, []uint64{w.lop}, boundStoreIDs(res, 2, 1))
	assert.Zero(t, res.NodesCreated)
	assert.Zero(t, res.RelationshipsCreated)

	for _, b := range res.Bindings[1:] {
		assert.Len(t, b.Relationships, 1)
	}
}

func TestExecute_WildcardUsesRoots(t *testing.T) {
	w := newWorld(t)
	res, p := w.execute(t, []string{"Person"}, gremlin.Bytecode{
		gremlin.V{},
		gremlin.OutE{Labels: []string{"created"}},
		gremlin.V{},
	})

	require.Len(t, res.Bindings, 2)
	assert.ElementsMatch(t, []uint64{w.marko, w.vadas}, boundStoreIDs(res, 0, 0))
	assert.Equal(t, []uint64{w.lop, w.lop}, boundStoreIDs(res, 0, 1))

	for _, b := range res.Bindings {
		rel := b.Relationships[graph.NewEdgeIndex(0)]
		assert.True(t, p.Relationship(rel).HasLabel("created"))
	}
}

func TestExecute_AnyOfEdgeLabels(t *testing.T) {
	w := newWorld(t)
	res, _ := w.execute(t, nil, gremlin.Bytecode{
		vid(w.marko),
		gremlin.OutE{Labels: []string{"knows", "created"}},
		gremlin.V{},
	})
	assert.ElementsMatch(t, []uint64{w.vadas, w.lop}, boundStoreIDs(res, 0, 1))
}

func TestExecute_CreateRelationship(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	before := testutil.ToFloat64(telemetry.CreatedElementsTotal.WithLabelValues("relationship"))

	res, p := w.execute(t, nil, gremlin.Bytecode{
		vid(w.lop),
		gremlin.AddE{Label: "usedBy"},
		vid(w.vadas),
	})

	require.Len(t, res.Bindings, 1)
	assert.Equal(t, 1, res.RelationshipsCreated)
	assert.InDelta(t, before+1, testutil.ToFloat64(telemetry.CreatedElementsTotal.WithLabelValues("relationship")), 0.001)

	edges, err := w.repo.FetchOutEdges(ctx, w.lop)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "usedBy", edges[0].Type)
	assert.Equal(t, w.vadas, edges[0].Target)

	rel := res.Bindings[0].Relationships[graph.NewEdgeIndex(0)]
	assert.Equal(t, edges[0].ID, rel.StoreID())
	lop := res.Bindings[0].Nodes[graph.NewNodeIndex(0)]
	assert.Equal(t, []uint64{w.vadas}, collectTargets(p, lop))
}

func TestExecute_CreateNodeWithProperty(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	res, p := w.execute(t, nil, gremlin.Bytecode{
		gremlin.AddV{Label: "Person"},
		gremlin.Property{Name: "name", Value: gremlin.String("josh")},
	})

	assert.Equal(t, 1, res.NodesCreated)
	count, err := w.repo.NodeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	id := res.Bindings[0].Nodes[graph.NewNodeIndex(0)]
	rec, err := w.repo.FetchNode(ctx, id.StoreID())
	require.NoError(t, err)
	assert.Equal(t, []string{"Person"}, rec.Labels)
	assert.Equal(t, map[string]any{"name": "josh"}, rec.Properties)

	node := p.Node(id)
	require.NotNil(t, node.ID)
	assert.Equal(t, id.StoreID(), *node.ID)
	assert.True(t, p.IsRetrieved(id, true), "created nodes have known adjacency")
}

func TestExecute_CreatePerBinding(t *testing.T) {
	w := newWorld(t)
	res, _ := w.execute(t, []string{"Person"}, gremlin.Bytecode{
		gremlin.V{},
		gremlin.AddE{Label: "owns"},
		gremlin.AddV{Label: "Account"},
	})

	assert.Len(t, res.Bindings, 2)
	assert.Equal(t, 2, res.NodesCreated)
	assert.Equal(t, 2, res.RelationshipsCreated)
}

func TestExecute_NoMatchNoCreate(t *testing.T) {
	w := newWorld(t)
	res, _ := w.execute(t, nil, gremlin.Bytecode{
		vid(999),
		gremlin.AddE{Label: "x"},
		gremlin.AddV{Label: "Ghost"},
	})

	assert.Empty(t, res.Bindings)
	assert.Zero(t, res.NodesCreated)
	count, err := w.repo.NodeCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestExecute_MatchEdgeFromCreatedNode(t *testing.T) {
	w := newWorld(t)
	res, _ := w.execute(t, nil, gremlin.Bytecode{
		gremlin.AddV{Label: "New"},
		gremlin.OutE{Labels: []string{"knows"}},
		gremlin.V{},
	})
	assert.Empty(t, res.Bindings)
	assert.Zero(t, res.NodesCreated)
}

func TestExecute_ParallelRelationshipsBindDistinctEdges(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	twoKnows := func() []*model.Pattern {
		p := model.NewPattern()
		src := p.AddNode(model.NewNode(model.StatusMatch, ptr(w.marko)))
		dst := p.AddNode(model.NewNode(model.StatusMatch, ptr(w.vadas)))
		p.AddRelationship(model.NewRelationship(model.StatusMatch, "knows"), src, dst)
		p.AddRelationship(model.NewRelationship(model.StatusMatch, "knows"), src, dst)
		return []*model.Pattern{p}
	}
	execute := func() *ExecuteResult {
		p, err := proxy.New(ctx, w.repo, nil)
		require.NoError(t, err)
		res, err := NewExecutor(w.repo, p).Execute(ctx, twoKnows())
		require.NoError(t, err)
		return res
	}

	assert.Empty(t, execute().Bindings, "one stored edge cannot satisfy two pattern relationships")

	_, err := w.repo.CreateRelationship(ctx, w.marko, w.vadas, "knows", nil)
	require.NoError(t, err)

	res := execute()
	require.Len(t, res.Bindings, 1)
	rels := res.Bindings[0].Relationships
	require.Len(t, rels, 2)
	assert.NotEqual(t, rels[graph.NewEdgeIndex(0)], rels[graph.NewEdgeIndex(1)])
}

func TestExecute_MaxMatches(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	patterns, err := Compile(ctx, gremlin.Bytecode{gremlin.V{}})
	require.NoError(t, err)

	p, err := proxy.New(ctx, w.repo, nil)
	require.NoError(t, err)
	res, err := NewExecutor(w.repo, p, WithMaxMatches(2)).Execute(ctx, patterns)
	require.NoError(t, err)
	assert.Len(t, res.Bindings, 2)
}

func TestExecute_RepositoryError(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	patterns, err := Compile(ctx, gremlin.Bytecode{vid(w.marko), gremlin.AddE{Label: ""}, vid(w.lop)})
	require.NoError(t, err)

	p, err := proxy.New(ctx, w.repo, nil)
	require.NoError(t, err)
	_, err = NewExecutor(w.repo, p).Execute(ctx, patterns)
	assert.ErrorIs(t, err, repository.ErrInvalidData)
}

func collectTargets(p *proxy.GraphProxy, n proxy.ProxyNodeID) []uint64 {
	var out []uint64
	for _, e := range graph.Collect(p.OutEdges(n)) {
		out = append(out, p.TargetIndex(e).StoreID())
	}
	return out
}
