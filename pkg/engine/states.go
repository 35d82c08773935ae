package engine

import (
	"fmt"
	"slices"

	"github.com/orneryd/onegraph/pkg/gremlin"
	"github.com/orneryd/onegraph/pkg/model"
)

// State is one position of the traversal state machine. The set of states
// is closed; NextState and HandleStep dispatch on the concrete type.
type State interface {
	fmt.Stringer
	isState()
}

type startState struct{}

type matchVertexState struct {
	vid *uint64
}

type addVertexState struct {
	label string
}

type aliasVertexState struct {
	alias string
}

type matchOutEdgeState struct {
	labels []string
}

type addEdgeState struct {
	label string
}

type setPropertyState struct {
	name  string
	value gremlin.GValue
}

type matchState struct {
	traversals []gremlin.Bytecode
}

type endState struct{}

func (startState) isState()        {}
func (matchVertexState) isState()  {}
func (addVertexState) isState()    {}
func (aliasVertexState) isState()  {}
func (matchOutEdgeState) isState() {}
func (addEdgeState) isState()      {}
func (setPropertyState) isState()  {}
func (matchState) isState()        {}
func (endState) isState()          {}

func (startState) String() string        { return "start" }
func (matchVertexState) String() string  { return "matchVertex" }
func (addVertexState) String() string    { return "addVertex" }
func (aliasVertexState) String() string  { return "aliasVertex" }
func (matchOutEdgeState) String() string { return "matchOutEdge" }
func (addEdgeState) String() string      { return "addEdge" }
func (setPropertyState) String() string  { return "setProperty" }
func (matchState) String() string        { return "match" }
func (endState) String() string          { return "end" }

// Start returns the initial state.
func Start() State { return startState{} }

func newMatchVertexState(s gremlin.V) matchVertexState {
	if id, ok := s.ID.StoreID(); ok {
		return matchVertexState{vid: &id}
	}
	return matchVertexState{}
}

// NextState returns the state that handles step when the machine is in
// state s. Steps the state cannot transition on yield ErrInvalid.
func NextState(s State, step gremlin.Step, c *StateContext) (State, error) {
	var next State
	switch s.(type) {
	case startState:
		switch st := step.(type) {
		case gremlin.V:
			next = newMatchVertexState(st)
		case gremlin.AddV:
			next = addVertexState{label: st.Label}
		case gremlin.As:
			next = aliasVertexState{alias: st.Alias}
		case gremlin.Match:
			next = matchState{traversals: st.Traversals}
		}

	case matchVertexState:
		switch st := step.(type) {
		case gremlin.OutE:
			next = matchOutEdgeState{labels: st.Labels}
		case gremlin.As:
			next = aliasVertexState{alias: st.Alias}
		case gremlin.Match:
			next = matchState{traversals: st.Traversals}
		case gremlin.AddE:
			next = addEdgeState{label: st.Label}
		}

	case addVertexState:
		switch st := step.(type) {
		case gremlin.Property:
			next = setPropertyState{name: st.Name, value: st.Value}
		case gremlin.As:
			next = aliasVertexState{alias: st.Alias}
		case gremlin.AddE:
			next = addEdgeState{label: st.Label}
		case gremlin.OutE:
			next = matchOutEdgeState{labels: st.Labels}
		case gremlin.V:
			next = newMatchVertexState(st)
		case gremlin.Empty:
			next = endState{}
		}

	case aliasVertexState:
		switch st := step.(type) {
		case gremlin.OutE:
			next = matchOutEdgeState{labels: st.Labels}
		case gremlin.AddE:
			next = addEdgeState{label: st.Label}
		case gremlin.V:
			next = newMatchVertexState(st)
		case gremlin.Match:
			next = matchState{traversals: st.Traversals}
		case gremlin.As:
			next = aliasVertexState{alias: st.Alias}
		case gremlin.Empty:
			next = endState{}
		}

	case matchOutEdgeState, addEdgeState:
		switch st := step.(type) {
		case gremlin.V:
			next = newMatchVertexState(st)
		case gremlin.AddV:
			next = addVertexState{label: st.Label}
		}

	case setPropertyState:
		switch st := step.(type) {
		case gremlin.V:
			next = newMatchVertexState(st)
		case gremlin.Empty:
			next = endState{}
		}

	case matchState:
		switch st := step.(type) {
		case gremlin.Empty:
			next = endState{}
		case gremlin.V:
			next = newMatchVertexState(st)
		case gremlin.As:
			next = aliasVertexState{alias: st.Alias}
		}

	case endState:
	}

	if next == nil {
		return nil, fmt.Errorf("%w: %s cannot follow %s state", ErrInvalid, stepName(step), s)
	}
	return next, nil
}

func stepName(step gremlin.Step) string {
	if step == nil {
		return "<nil>"
	}
	if _, ok := step.(gremlin.Empty); ok {
		return "end of traversal"
	}
	return step.Op()
}

// HandleStep applies step, the step that led into state s, to c. Steps a
// state does not react to are ignored.
func HandleStep(s State, step gremlin.Step, c *StateContext) error {
	switch st := s.(type) {
	case matchVertexState:
		return st.handle(c)
	case addVertexState:
		return st.handle(c)
	case aliasVertexState:
		return st.handle(c)
	case setPropertyState:
		return st.handle(c)
	case matchState:
		return st.handle(c)
	default:
		// start, end and edge states wait for the next vertex.
		return nil
	}
}

func (s matchVertexState) handle(c *StateContext) error {
	node := model.NewNode(model.StatusMatch, cloneID(s.vid))

	switch prev := c.previous.(type) {
	case gremlin.As, gremlin.Empty:
		c.initPattern(node)
	case gremlin.OutE:
		return c.extend(model.NewRelationship(model.StatusMatch, prev.Labels...), node)
	case gremlin.AddE:
		return c.extend(model.NewRelationship(model.StatusCreate, prev.Label), node)
	}
	return nil
}

func (s addVertexState) handle(c *StateContext) error {
	node := model.NewNode(model.StatusCreate, nil)
	if s.label != "" {
		node.Labels = []string{s.label}
	}

	switch prev := c.previous.(type) {
	case gremlin.As, gremlin.Empty:
		c.initPattern(node)
	case gremlin.AddE:
		return c.extend(model.NewRelationship(model.StatusCreate, prev.Label), node)
	case gremlin.OutE:
		return c.extend(model.NewRelationship(model.StatusMatch, prev.Labels...), node)
	}
	return nil
}

func (s aliasVertexState) handle(c *StateContext) error {
	if _, ok := c.previous.(gremlin.Empty); ok {
		// Start of a (nested) traversal: root a new pattern at the node the
		// alias refers to, or at a wildcard if the alias is new.
		node := model.NewNode(model.StatusMatch, nil)
		node.Alias = s.alias
		b, bound := c.aliases[s.alias]
		if bound {
			node.ID = cloneID(b.ID)
			node.Labels = slices.Clone(b.Labels)
		}
		c.initPattern(node)
		if !bound {
			c.bindAlias(s.alias)
		}
		return nil
	}

	if _, err := c.activePattern(); err != nil {
		return err
	}
	if !c.hasNode {
		return nil
	}
	c.bindAlias(s.alias)
	return nil
}

// bindAlias names the active node of the active pattern.
func (c *StateContext) bindAlias(alias string) {
	p := c.stack[len(c.stack)-1]
	node := p.NodeMut(c.nodeIndex)
	node.Alias = alias
	c.aliases[alias] = AliasBinding{
		ID:      cloneID(node.ID),
		Labels:  slices.Clone(node.Labels),
		Pattern: c.patternIndex(p),
		Node:    c.nodeIndex,
	}
}

func (s setPropertyState) handle(c *StateContext) error {
	if _, ok := c.previous.(gremlin.AddV); !ok {
		return nil
	}

	p, err := c.activePattern()
	if err != nil {
		return err
	}
	if !c.hasNode {
		return nil
	}
	node := p.NodeMut(c.nodeIndex)
	if v, ok := propertyValue(s.value); ok {
		node.AddProperty(s.name, v)
	} else {
		node.Properties = append(node.Properties, model.Property{Name: s.name})
	}
	return nil
}

// handle runs every nested traversal against the shared context. Each one
// starts from a clean previous step; the sub-patterns it pushes are popped
// when it closes and the outer position is restored.
func (s matchState) handle(c *StateContext) error {
	savedNode, savedHas := c.nodeIndex, c.hasNode
	savedPrev := c.previous
	depth := len(c.stack)

	for i, bc := range s.traversals {
		c.previous = gremlin.Empty{}
		err := run(c, bc)
		c.popTo(depth)
		if err != nil {
			return fmt.Errorf("match traversal %d: %w", i, err)
		}
	}

	c.nodeIndex, c.hasNode = savedNode, savedHas
	c.previous = savedPrev
	return nil
}

func cloneID(id *uint64) *uint64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
