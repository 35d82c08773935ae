// Package engine compiles Gremlin-style traversal bytecode into pattern
// graphs and executes those patterns against a graph proxy.
//
// Compilation is a state machine. Each step is handled by the state it
// transitions into, which inspects the previous step to decide what the
// current one means: a vertex lookup after As starts a new pattern, the same
// lookup after OutE extends the active one with a Match relationship, after
// AddE with a Create relationship.
package engine

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/orneryd/onegraph/pkg/graph"
	"github.com/orneryd/onegraph/pkg/gremlin"
	"github.com/orneryd/onegraph/pkg/model"
)

// ErrInvalid is returned when a step is not legal in the current state, or
// when a step needs a pattern and the pattern stack is empty.
var ErrInvalid = errors.New("invalid traversal")

// StepError locates a compilation failure.
type StepError struct {
	Index int
	Step  gremlin.Step
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d %s: %v", e.Index, gremlin.Format(e.Step), e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// AliasBinding records what an As step named.
type AliasBinding struct {
	// ID and Labels are copied from the aliased pattern node.
	ID     *uint64
	Labels []string
	// Pattern is the index into StateContext.Patterns of the owning pattern.
	Pattern int
	Node    graph.NodeIndex
}

// StateContext is the mutable state threaded through one compilation.
type StateContext struct {
	// stack holds the patterns under construction; appends go to the last.
	stack []*model.Pattern
	// patterns holds every pattern ever pushed, in creation order.
	patterns []*model.Pattern

	nodeIndex graph.NodeIndex
	hasNode   bool

	previous gremlin.Step
	aliases  map[string]AliasBinding
}

// NewStateContext creates an empty context positioned before the first step.
func NewStateContext() *StateContext {
	return &StateContext{
		previous: gremlin.Empty{},
		aliases:  make(map[string]AliasBinding),
	}
}

// Patterns returns every pattern in creation order.
func (c *StateContext) Patterns() []*model.Pattern { return slices.Clone(c.patterns) }

// Depth is the number of patterns on the stack.
func (c *StateContext) Depth() int { return len(c.stack) }

// ActiveNode returns the node the traversal is positioned at.
func (c *StateContext) ActiveNode() (graph.NodeIndex, bool) { return c.nodeIndex, c.hasNode }

// PreviousStep returns the step that led into the current state.
func (c *StateContext) PreviousStep() gremlin.Step { return c.previous }

// Alias returns the binding recorded for name.
func (c *StateContext) Alias(name string) (AliasBinding, bool) {
	b, ok := c.aliases[name]
	return b, ok
}

// Aliases returns a copy of all alias bindings.
func (c *StateContext) Aliases() map[string]AliasBinding { return maps.Clone(c.aliases) }

// activePattern returns the last pattern on the stack.
func (c *StateContext) activePattern() (*model.Pattern, error) {
	if len(c.stack) == 0 {
		return nil, fmt.Errorf("%w: pattern stack is empty", ErrInvalid)
	}
	return c.stack[len(c.stack)-1], nil
}

// initPattern pushes a new pattern rooted at node and makes it active.
func (c *StateContext) initPattern(node model.Node) {
	p := model.NewPattern()
	c.nodeIndex = p.AddNode(node)
	c.hasNode = true
	c.stack = append(c.stack, p)
	c.patterns = append(c.patterns, p)
}

// extend appends rel and node to the active pattern, connecting the active
// node to the new one, and advances the active node. Without an active node
// it does nothing.
func (c *StateContext) extend(rel model.Relationship, node model.Node) error {
	if !c.hasNode {
		return nil
	}
	p, err := c.activePattern()
	if err != nil {
		return err
	}
	nid := p.AddNode(node)
	p.AddRelationship(rel, c.nodeIndex, nid)
	c.nodeIndex = nid
	return nil
}

// popTo drops stack entries above depth. Popped patterns stay in the
// creation-ordered output.
func (c *StateContext) popTo(depth int) {
	if depth < len(c.stack) {
		clear(c.stack[depth:])
		c.stack = c.stack[:depth]
	}
}

// patternIndex finds p in the creation-ordered list.
func (c *StateContext) patternIndex(p *model.Pattern) int {
	return slices.Index(c.patterns, p)
}

// propertyValue converts a bytecode scalar. Null has no property value.
func propertyValue(v gremlin.GValue) (model.PropertyValue, bool) {
	if v.IsNull() {
		return model.PropertyValue{}, false
	}
	pv, err := model.ValueFromAny(v.Interface())
	return pv, err == nil
}
