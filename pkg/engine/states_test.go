package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/onegraph/pkg/cache"
	"github.com/orneryd/onegraph/pkg/graph"
	"github.com/orneryd/onegraph/pkg/gremlin"
	"github.com/orneryd/onegraph/pkg/model"
)

var patternOpts = cmp.Options{
	cmp.Comparer(func(a, b model.PropertyValue) bool { return a.Equal(b) }),
	cmpopts.EquateEmpty(),
}

func ptr(v uint64) *uint64 { return &v }

func vid(id uint64) gremlin.V {
	return gremlin.V{ID: gremlin.ValueRef(gremlin.Int64(int64(id)))}
}

func aliasNode(id *uint64, alias string) model.Node {
	n := model.NewNode(model.StatusMatch, id)
	n.Alias = alias
	return n
}

func compile(t *testing.T, bc gremlin.Bytecode) []*model.Pattern {
	t.Helper()
	patterns, err := Compile(context.Background(), bc)
	require.NoError(t, err)
	return patterns
}

func assertPattern(t *testing.T, p *model.Pattern, nodes []model.Node, rels []model.Relationship) {
	t.Helper()
	if diff := cmp.Diff(nodes, p.Nodes(), patternOpts); diff != "" {
		t.Errorf("nodes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(rels, p.Relationships(), patternOpts); diff != "" {
		t.Errorf("relationships mismatch (-want +got):\n%s", diff)
	}
}

func requireStepError(t *testing.T, err error, index int) *StepError {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	var se *StepError
	require.True(t, errors.As(err, &se), "expected *StepError, got %T", err)
	assert.Equal(t, index, se.Index)
	return se
}

// =============================================================================
// Pattern tagging
// =============================================================================

func TestCompile_OutEdgeIsMatch(t *testing.T) {
	patterns := compile(t, gremlin.Bytecode{
		vid(7),
		gremlin.As{Alias: "x"},
		gremlin.OutE{Labels: []string{"KNOWS"}},
		gremlin.V{},
	})
	require.Len(t, patterns, 1)
	p := patterns[0]

	assertPattern(t, p,
		[]model.Node{aliasNode(ptr(7), "x"), model.NewNode(model.StatusMatch, nil)},
		[]model.Relationship{model.NewRelationship(model.StatusMatch, "KNOWS")})

	e := graph.NewEdgeIndex(0)
	assert.Equal(t, graph.NewNodeIndex(0), p.SourceIndex(e))
	assert.Equal(t, graph.NewNodeIndex(1), p.TargetIndex(e))
	assert.Nil(t, p.Node(p.TargetIndex(e)).ID, "second vertex is a wildcard")
}

func TestCompile_AddEdgeIsCreate(t *testing.T) {
	patterns := compile(t, gremlin.Bytecode{
		vid(7),
		gremlin.As{Alias: "x"},
		gremlin.AddE{Label: "KNOWS"},
		gremlin.V{},
	})
	require.Len(t, patterns, 1)

	assertPattern(t, patterns[0],
		[]model.Node{aliasNode(ptr(7), "x"), model.NewNode(model.StatusMatch, nil)},
		[]model.Relationship{model.NewRelationship(model.StatusCreate, "KNOWS")})
}

func TestCompile_AddVertexWithProperty(t *testing.T) {
	patterns := compile(t, gremlin.Bytecode{
		gremlin.AddV{Label: "person"},
		gremlin.Property{Name: "age", Value: gremlin.Int32(29)},
	})
	require.Len(t, patterns, 1)

	want := model.NewNode(model.StatusCreate, nil)
	want.Labels = []string{"person"}
	want.AddProperty("age", model.Int64Value(29))
	assertPattern(t, patterns[0], []model.Node{want}, nil)
}

func TestCompile_AddVertexWithoutLabel(t *testing.T) {
	patterns := compile(t, gremlin.Bytecode{gremlin.AddV{}, gremlin.Property{Name: "gone", Value: gremlin.Null()}})
	require.Len(t, patterns, 1)

	node := patterns[0].Node(graph.NewNodeIndex(0))
	assert.Empty(t, node.Labels)
	require.Len(t, node.Properties, 1)
	assert.Equal(t, "gone", node.Properties[0].Name)
	assert.Nil(t, node.Properties[0].Value)
}

func TestCompile_AddVertexAfterEdges(t *testing.T) {
	patterns := compile(t, gremlin.Bytecode{
		vid(1),
		gremlin.AddE{Label: "created"},
		gremlin.AddV{Label: "software"},
		gremlin.OutE{Labels: []string{"uses"}},
		gremlin.AddV{Label: "library"},
	})
	require.Len(t, patterns, 1)

	software := model.NewNode(model.StatusCreate, nil)
	software.Labels = []string{"software"}
	library := model.NewNode(model.StatusCreate, nil)
	library.Labels = []string{"library"}

	assertPattern(t, patterns[0],
		[]model.Node{model.NewNode(model.StatusMatch, ptr(1)), software, library},
		[]model.Relationship{
			model.NewRelationship(model.StatusCreate, "created"),
			model.NewRelationship(model.StatusMatch, "uses"),
		})
}

func TestCompile_Empty(t *testing.T) {
	patterns := compile(t, nil)
	assert.Empty(t, patterns)
}

// =============================================================================
// Invalid transitions
// =============================================================================

func TestNextState_PropertyAfterMatchVertex(t *testing.T) {
	c := NewStateContext()
	next, err := NextState(matchVertexState{vid: ptr(1)}, gremlin.Property{Name: "name", Value: gremlin.String("x")}, c)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Nil(t, next)

	_, err = Compile(context.Background(), gremlin.Bytecode{
		vid(1),
		gremlin.Property{Name: "name", Value: gremlin.String("x")},
	})
	se := requireStepError(t, err, 1)
	assert.Equal(t, "property", se.Step.Op())
}

func TestNextState_SetProperty(t *testing.T) {
	c := NewStateContext()
	s := setPropertyState{name: "name", value: gremlin.String("x")}

	next, err := NextState(s, gremlin.V{}, c)
	require.NoError(t, err)
	assert.Equal(t, "matchVertex", next.String())

	next, err = NextState(s, gremlin.Empty{}, c)
	require.NoError(t, err)
	assert.Equal(t, "end", next.String())

	for _, step := range []gremlin.Step{
		gremlin.Property{Name: "age", Value: gremlin.Int64(1)},
		gremlin.As{Alias: "x"},
		gremlin.AddV{Label: "a"},
		gremlin.OutE{},
		gremlin.AddE{Label: "e"},
		gremlin.Match{},
	} {
		next, err := NextState(s, step, c)
		assert.ErrorIs(t, err, ErrInvalid, step.Op())
		assert.Nil(t, next)
	}
}

func TestCompile_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		bc    gremlin.Bytecode
		index int
	}{
		{"edge first", gremlin.Bytecode{gremlin.OutE{Labels: []string{"knows"}}}, 0},
		{"property first", gremlin.Bytecode{gremlin.Property{Name: "a", Value: gremlin.Int64(1)}}, 0},
		{"vertex after vertex", gremlin.Bytecode{vid(1), gremlin.V{}}, 1},
		{"edge after edge", gremlin.Bytecode{vid(1), gremlin.OutE{}, gremlin.AddE{Label: "x"}}, 2},
		{"step after end", gremlin.Bytecode{gremlin.AddV{Label: "a"}, gremlin.Empty{}, gremlin.V{}}, 2},
		{"property after property", gremlin.Bytecode{
			gremlin.AddV{Label: "person"},
			gremlin.Property{Name: "name", Value: gremlin.String("marko")},
			gremlin.Property{Name: "age", Value: gremlin.Int32(29)},
		}, 2},
		{"alias after property", gremlin.Bytecode{
			gremlin.AddV{Label: "person"},
			gremlin.Property{Name: "name", Value: gremlin.String("marko")},
			gremlin.As{Alias: "x"},
		}, 2},
		{"edge after property", gremlin.Bytecode{
			gremlin.AddV{Label: "person"},
			gremlin.Property{Name: "name", Value: gremlin.String("marko")},
			gremlin.AddE{Label: "knows"},
		}, 2},
		{"match after edge", gremlin.Bytecode{vid(1), gremlin.OutE{}, gremlin.Match{}}, 2},
		{"edge after match", gremlin.Bytecode{vid(1), gremlin.Match{}, gremlin.OutE{}}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patterns, err := Compile(context.Background(), tt.bc)
			requireStepError(t, err, tt.index)
			assert.Nil(t, patterns)
		})
	}
}

func TestCompile_AliasWithEmptyStack(t *testing.T) {
	// The nested traversal's pattern is popped when match closes, leaving
	// nothing for the outer As to name.
	_, err := Compile(context.Background(), gremlin.Bytecode{
		gremlin.Match{Traversals: []gremlin.Bytecode{{gremlin.As{Alias: "a"}}}},
		gremlin.As{Alias: "b"},
	})
	se := requireStepError(t, err, 1)
	assert.Contains(t, se.Error(), "pattern stack is empty")
}

func TestCompile_NestedError(t *testing.T) {
	_, err := Compile(context.Background(), gremlin.Bytecode{
		vid(1),
		gremlin.Match{Traversals: []gremlin.Bytecode{
			{gremlin.As{Alias: "a"}, gremlin.OutE{}, gremlin.V{}},
			{gremlin.OutE{}},
		}},
	})
	se := requireStepError(t, err, 1)
	assert.Contains(t, se.Error(), "match traversal 1")
}

// =============================================================================
// Aliases and nested match
// =============================================================================

func nestedMatch(a uint64) gremlin.Bytecode {
	return gremlin.Bytecode{
		vid(a),
		gremlin.As{Alias: "a"},
		gremlin.Match{Traversals: []gremlin.Bytecode{
			{gremlin.As{Alias: "a"}, gremlin.OutE{Labels: []string{"knows"}}, gremlin.V{}, gremlin.As{Alias: "b"}},
			{gremlin.As{Alias: "b"}, gremlin.OutE{Labels: []string{"created"}}, gremlin.V{}},
		}},
	}
}

func TestCompile_NestedMatch(t *testing.T) {
	c, err := CompileContext(context.Background(), nestedMatch(1))
	require.NoError(t, err)

	patterns := c.Patterns()
	require.Len(t, patterns, 3)
	assert.Equal(t, 1, c.Depth(), "nested patterns are popped")

	assertPattern(t, patterns[0], []model.Node{aliasNode(ptr(1), "a")}, nil)
	assertPattern(t, patterns[1],
		[]model.Node{aliasNode(ptr(1), "a"), aliasNode(nil, "b")},
		[]model.Relationship{model.NewRelationship(model.StatusMatch, "knows")})
	assertPattern(t, patterns[2],
		[]model.Node{aliasNode(nil, "b"), model.NewNode(model.StatusMatch, nil)},
		[]model.Relationship{model.NewRelationship(model.StatusMatch, "created")})

	active, ok := c.ActiveNode()
	assert.True(t, ok)
	assert.Equal(t, graph.NewNodeIndex(0), active, "outer position is restored")
	assert.IsType(t, gremlin.Match{}, c.PreviousStep())

	a, ok := c.Alias("a")
	require.True(t, ok)
	assert.Equal(t, 0, a.Pattern)
	assert.Equal(t, ptr(1), a.ID)

	b, ok := c.Alias("b")
	require.True(t, ok)
	assert.Equal(t, 1, b.Pattern)
	assert.Equal(t, graph.NewNodeIndex(1), b.Node)
	assert.Len(t, c.Aliases(), 2)
}

func TestCompile_MatchThenVertex(t *testing.T) {
	patterns := compile(t, gremlin.Bytecode{
		vid(1),
		gremlin.Match{Traversals: []gremlin.Bytecode{{gremlin.As{Alias: "n"}}}},
		gremlin.V{},
	})
	// V after match has no As or Empty before it, so nothing is added.
	require.Len(t, patterns, 2)
	assert.Equal(t, 1, patterns[0].NodesLen())
	assert.Equal(t, 1, patterns[1].NodesLen())
}

func TestHandleStep_IgnoresEdgeStates(t *testing.T) {
	c := NewStateContext()
	require.NoError(t, HandleStep(matchOutEdgeState{labels: []string{"x"}}, gremlin.OutE{Labels: []string{"x"}}, c))
	require.NoError(t, HandleStep(addEdgeState{label: "x"}, gremlin.AddE{Label: "x"}, c))
	require.NoError(t, HandleStep(Start(), gremlin.Empty{}, c))
	assert.Empty(t, c.Patterns())
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "start", Start().String())
	assert.Equal(t, "matchVertex", matchVertexState{}.String())
	assert.Equal(t, "end", endState{}.String())
}

// =============================================================================
// Compiler
// =============================================================================

func TestCompiler_Cache(t *testing.T) {
	pc := cache.NewPatternCache(10, 0)
	cp := NewCompiler(WithCache(pc))
	ctx := context.Background()

	first, err := cp.Compile(ctx, nestedMatch(1))
	require.NoError(t, err)
	second, err := cp.Compile(ctx, nestedMatch(1))
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assertPattern(t, second[i], first[i].Nodes(), first[i].Relationships())
	}
	stats := pc.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)

	_, err = cp.Compile(ctx, gremlin.Bytecode{gremlin.OutE{}})
	requireStepError(t, err, 0)
	assert.Equal(t, 1, pc.Len(), "rejected traversals are not cached")
}

func TestCompiler_CacheKeepsValueTypes(t *testing.T) {
	pc := cache.NewPatternCache(10, 0)
	cp := NewCompiler(WithCache(pc))
	ctx := context.Background()

	weight := func(v gremlin.GValue) model.ValueKind {
		t.Helper()
		patterns, err := cp.Compile(ctx, gremlin.Bytecode{
			gremlin.AddV{Label: "edge"},
			gremlin.Property{Name: "w", Value: v},
		})
		require.NoError(t, err)
		node := patterns[0].Node(graph.NewNodeIndex(0))
		got, ok := node.Property("w")
		require.True(t, ok)
		return got.Kind()
	}

	assert.Equal(t, model.KindInt64, weight(gremlin.Int64(1)))
	assert.Equal(t, model.KindFloat64, weight(gremlin.Double(1)))
	assert.Equal(t, uint64(0), pc.Stats().Hits)
	assert.Equal(t, 2, pc.Len())
}

func TestCompiler_NoCache(t *testing.T) {
	patterns, err := NewCompiler().Compile(context.Background(), gremlin.Bytecode{gremlin.AddV{Label: "a"}})
	require.NoError(t, err)
	assert.Len(t, patterns, 1)
}

func TestWithTraversalID(t *testing.T) {
	ctx, id := WithTraversalID(context.Background())
	assert.Len(t, id, 36)

	same, again := WithTraversalID(ctx)
	assert.Equal(t, id, again)
	got, ok := TraversalID(same)
	assert.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = TraversalID(context.Background())
	assert.False(t, ok)
}
