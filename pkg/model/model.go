// Package model defines the pattern data model produced by the traversal
// state machine: nodes and relationships tagged with a persistence intent.
//
// A Status of Match means the element must already exist in the graph; a
// Status of Create means executing the pattern creates it. A Pattern is a
// small payload graph (graph.Container) of such elements.
package model

import (
	"fmt"
	"slices"

	"github.com/orneryd/onegraph/pkg/graph"
)

// Status records whether a pattern element is matched or created.
type Status int

const (
	// StatusMatch marks an element that must already exist.
	StatusMatch Status = iota
	// StatusCreate marks an element created as a side effect.
	StatusCreate
)

func (s Status) String() string {
	switch s {
	case StatusMatch:
		return "Match"
	case StatusCreate:
		return "Create"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Property is a named, optionally valued attribute. A nil Value means the
// property is present without a value.
type Property struct {
	Name  string
	Value *PropertyValue
}

// NewProperty builds a property with a value.
func NewProperty(name string, value PropertyValue) Property {
	return Property{Name: name, Value: &value}
}

// Node is a vertex of a pattern.
type Node struct {
	// ID, when set, binds the node to a store identity.
	ID *uint64
	// Alias is the traversal label attached by an As step.
	Alias      string
	Labels     []string
	Properties []Property
	Status     Status
}

// NewNode creates a node with the given status and optional identity.
func NewNode(status Status, id *uint64) Node {
	return Node{Status: status, ID: id}
}

// SetID binds the node to a store identity; nil makes it a wildcard.
func (n *Node) SetID(id *uint64) { n.ID = id }

// HasID reports whether the node is bound to a store identity.
func (n *Node) HasID() bool { return n.ID != nil }

// AddProperty appends a property; duplicates are kept in order.
func (n *Node) AddProperty(name string, value PropertyValue) {
	n.Properties = append(n.Properties, NewProperty(name, value))
}

// Property returns the last value recorded for name.
func (n *Node) Property(name string) (PropertyValue, bool) {
	return lookup(n.Properties, name)
}

// Clone deep-copies the node.
func (n Node) Clone() Node {
	out := n
	if n.ID != nil {
		id := *n.ID
		out.ID = &id
	}
	out.Labels = slices.Clone(n.Labels)
	out.Properties = cloneProperties(n.Properties)
	return out
}

// Relationship is an edge of a pattern.
type Relationship struct {
	Labels     []string
	Properties []Property
	Status     Status
}

// NewRelationship creates a relationship with the given labels and status.
func NewRelationship(status Status, labels ...string) Relationship {
	return Relationship{Status: status, Labels: slices.Clone(labels)}
}

// AddProperty appends a property.
func (r *Relationship) AddProperty(name string, value PropertyValue) {
	r.Properties = append(r.Properties, NewProperty(name, value))
}

// Property returns the last value recorded for name.
func (r *Relationship) Property(name string) (PropertyValue, bool) {
	return lookup(r.Properties, name)
}

// HasLabel reports whether label is one of the relationship's labels.
func (r *Relationship) HasLabel(label string) bool {
	return slices.Contains(r.Labels, label)
}

// Clone deep-copies the relationship.
func (r Relationship) Clone() Relationship {
	out := r
	out.Labels = slices.Clone(r.Labels)
	out.Properties = cloneProperties(r.Properties)
	return out
}

// Pattern is a small graph of nodes and relationships under construction.
type Pattern = graph.Container[Node, Relationship]

// NewPattern creates an empty pattern.
func NewPattern() *Pattern {
	return graph.NewContainer[Node, Relationship]()
}

// ClonePattern deep-copies a pattern, payloads included.
func ClonePattern(p *Pattern) *Pattern {
	return p.Clone(Node.Clone, Relationship.Clone)
}

// PropertiesMap flattens a property list; later duplicates win and
// valueless properties map to nil.
func PropertiesMap(props []Property) map[string]any {
	out := make(map[string]any, len(props))
	for _, p := range props {
		if p.Value == nil {
			out[p.Name] = nil
			continue
		}
		out[p.Name] = p.Value.Any()
	}
	return out
}

// PropertiesFromMap converts a decoded property map into a property list
// sorted by name.
func PropertiesFromMap(m map[string]any) ([]Property, error) {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	slices.Sort(names)

	props := make([]Property, 0, len(m))
	for _, name := range names {
		raw := m[name]
		if raw == nil {
			props = append(props, Property{Name: name})
			continue
		}
		v, err := ValueFromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		props = append(props, NewProperty(name, v))
	}
	return props, nil
}

func lookup(props []Property, name string) (PropertyValue, bool) {
	for i := len(props) - 1; i >= 0; i-- {
		if props[i].Name == name && props[i].Value != nil {
			return *props[i].Value, true
		}
	}
	return PropertyValue{}, false
}

func cloneProperties(props []Property) []Property {
	if props == nil {
		return nil
	}
	out := make([]Property, len(props))
	for i, p := range props {
		out[i] = Property{Name: p.Name}
		if p.Value != nil {
			v := p.Value.Clone()
			out[i].Value = &v
		}
	}
	return out
}
