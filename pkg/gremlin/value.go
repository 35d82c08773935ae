package gremlin

import (
	"fmt"

	"github.com/orneryd/onegraph/pkg/convert"
)

// GValue is a Gremlin scalar as carried by bytecode arguments: nil, bool,
// int32, int64, float32, float64 or string.
type GValue struct {
	v any
}

func Int32(v int32) GValue      { return GValue{v: v} }
func Int64(v int64) GValue      { return GValue{v: v} }
func Float(v float32) GValue    { return GValue{v: v} }
func Double(v float64) GValue   { return GValue{v: v} }
func String(v string) GValue    { return GValue{v: v} }
func Bool(v bool) GValue        { return GValue{v: v} }
func Null() GValue              { return GValue{} }
func (g GValue) IsNull() bool   { return g.v == nil }
func (g GValue) Interface() any { return g.v }

// Uint64 converts integral, non-negative values to a store identity.
// Floats convert only when they hold an exact integer.
func (g GValue) Uint64() (uint64, bool) { return convert.ToUint64(g.v) }

func (g GValue) String() string {
	if g.v == nil {
		return "null"
	}
	if s, ok := g.v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprint(g.v)
}

// Typed renders g prefixed with its GraphSON numeric type, so 1 as g:Int64
// and 1 as g:Double render differently.
func (g GValue) Typed() string {
	var tag string
	switch g.v.(type) {
	case int32:
		tag = "g:Int32"
	case int64:
		tag = "g:Int64"
	case float32:
		tag = "g:Float"
	case float64:
		tag = "g:Double"
	default:
		return g.String()
	}
	return tag + "(" + g.String() + ")"
}

// Vertex is a resolved vertex reference.
type Vertex struct {
	ID    GValue
	Label string
}

// GValueOrVertex is a vertex identity given either as a raw value or as an
// already resolved vertex.
type GValueOrVertex struct {
	Value  GValue
	Vertex *Vertex
}

// ValueRef wraps a raw identity.
func ValueRef(v GValue) *GValueOrVertex { return &GValueOrVertex{Value: v} }

// VertexRef wraps a resolved vertex.
func VertexRef(v Vertex) *GValueOrVertex { return &GValueOrVertex{Vertex: &v} }

// StoreID extracts the store identity, if the reference carries one.
func (r *GValueOrVertex) StoreID() (uint64, bool) {
	if r == nil {
		return 0, false
	}
	if r.Vertex != nil {
		return r.Vertex.ID.Uint64()
	}
	return r.Value.Uint64()
}
