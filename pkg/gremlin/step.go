// Package gremlin defines the traversal bytecode consumed by the state
// machine in pkg/engine.
//
// Steps form a closed set. The text parser that produces them lives outside
// this module; bytecode can also be decoded from GraphSON 3 JSON with
// DecodeBytecode.
package gremlin

import (
	"fmt"
	"strings"
)

// Step is one unit of traversal bytecode.
type Step interface {
	// Op is the Gremlin operator name ("V", "outE", ...).
	Op() string
	isStep()
}

// Bytecode is an ordered step sequence.
type Bytecode []Step

// V looks up a vertex; a nil ID matches any vertex.
type V struct {
	ID *GValueOrVertex
}

// OutE follows outbound edges carrying any of Labels.
type OutE struct {
	Labels []string
}

// AddE creates an edge from the current vertex.
type AddE struct {
	Label string
}

// AddV creates a vertex.
type AddV struct {
	Label string
}

// As names the current traversal position.
type As struct {
	Alias string
}

// Match evaluates nested traversals as sub-patterns.
type Match struct {
	Traversals []Bytecode
}

// Property sets a property on the current element.
type Property struct {
	Name  string
	Value GValue
}

// Empty is the sentinel for "no previous / no next step".
type Empty struct{}

func (V) Op() string        { return "V" }
func (OutE) Op() string     { return "outE" }
func (AddE) Op() string     { return "addE" }
func (AddV) Op() string     { return "addV" }
func (As) Op() string       { return "as" }
func (Match) Op() string    { return "match" }
func (Property) Op() string { return "property" }
func (Empty) Op() string    { return "" }

func (V) isStep()        {}
func (OutE) isStep()     {}
func (AddE) isStep()     {}
func (AddV) isStep()     {}
func (As) isStep()       {}
func (Match) isStep()    {}
func (Property) isStep() {}
func (Empty) isStep()    {}

// Format renders a step the way a Gremlin console would.
func Format(s Step) string { return format(s, GValue.String) }

func format(s Step, value func(GValue) string) string {
	switch st := s.(type) {
	case V:
		if st.ID == nil {
			return "V()"
		}
		if st.ID.Vertex != nil {
			return fmt.Sprintf("V(v[%s])", value(st.ID.Vertex.ID))
		}
		return fmt.Sprintf("V(%s)", value(st.ID.Value))
	case OutE:
		return fmt.Sprintf("outE(%s)", quoteAll(st.Labels))
	case AddE:
		return fmt.Sprintf("addE(%q)", st.Label)
	case AddV:
		return fmt.Sprintf("addV(%q)", st.Label)
	case As:
		return fmt.Sprintf("as(%q)", st.Alias)
	case Match:
		parts := make([]string, len(st.Traversals))
		for i, t := range st.Traversals {
			parts[i] = "__." + t.render(value)
		}
		return "match(" + strings.Join(parts, ", ") + ")"
	case Property:
		return fmt.Sprintf("property(%q, %s)", st.Name, value(st.Value))
	case Empty, nil:
		return "<empty>"
	default:
		return s.Op() + "(?)"
	}
}

func (b Bytecode) String() string { return b.render(GValue.String) }

// Canonical renders b with typed values. Two bytecodes compile to the same
// patterns exactly when their canonical renderings are equal.
func (b Bytecode) Canonical() string { return b.render(GValue.Typed) }

func (b Bytecode) render(value func(GValue) string) string {
	parts := make([]string, len(b))
	for i, s := range b {
		parts[i] = format(s, value)
	}
	return strings.Join(parts, ".")
}

func quoteAll(labels []string) string {
	q := make([]string, len(labels))
	for i, l := range labels {
		q[i] = fmt.Sprintf("%q", l)
	}
	return strings.Join(q, ", ")
}
