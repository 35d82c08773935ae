package gremlin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/orneryd/onegraph/pkg/convert"
)

var (
	// ErrUnknownStep is returned for operators outside the supported set.
	ErrUnknownStep = errors.New("unknown step")
	// ErrMalformedBytecode is returned when the JSON does not describe
	// valid bytecode or a step has the wrong arguments.
	ErrMalformedBytecode = errors.New("malformed bytecode")
)

// cardinality is the optional leading argument of property().
type cardinality string

// DecodeBytecode decodes GraphSON 3 bytecode. Accepted shapes:
//
//	{"@type":"g:Bytecode","@value":{"step":[["V",1],["outE","knows"]]}}
//	{"step":[["V",1],["outE","knows"]]}
//	[["V",1],["outE","knows"]]
//
// Source instructions are ignored.
func DecodeBytecode(data []byte) (Bytecode, error) {
	return ReadBytecode(bytes.NewReader(data))
}

// ReadBytecode decodes one GraphSON bytecode document from r.
func ReadBytecode(r io.Reader) (Bytecode, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBytecode, err)
	}
	return bytecodeFrom(raw)
}

func bytecodeFrom(raw any) (Bytecode, error) {
	switch x := raw.(type) {
	case []any:
		return stepsFrom(x)
	case map[string]any:
		if t, ok := x["@type"]; ok {
			if t != "g:Bytecode" {
				return nil, fmt.Errorf("%w: expected g:Bytecode, got %v", ErrMalformedBytecode, t)
			}
			return bytecodeFrom(x["@value"])
		}
		steps, ok := x["step"]
		if !ok {
			// source-only bytecode
			return Bytecode{}, nil
		}
		list, ok := steps.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: step must be a list", ErrMalformedBytecode)
		}
		return stepsFrom(list)
	default:
		return nil, fmt.Errorf("%w: unexpected %T", ErrMalformedBytecode, raw)
	}
}

func stepsFrom(list []any) (Bytecode, error) {
	out := make(Bytecode, 0, len(list))
	for i, item := range list {
		inst, ok := item.([]any)
		if !ok || len(inst) == 0 {
			return nil, fmt.Errorf("%w: instruction %d is not a non-empty list", ErrMalformedBytecode, i)
		}
		op, ok := inst[0].(string)
		if !ok {
			return nil, fmt.Errorf("%w: instruction %d has no operator", ErrMalformedBytecode, i)
		}
		args := make([]any, 0, len(inst)-1)
		for _, a := range inst[1:] {
			v, err := decodeArg(a)
			if err != nil {
				return nil, fmt.Errorf("instruction %d %q: %w", i, op, err)
			}
			args = append(args, v)
		}
		step, err := stepFrom(op, args)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		out = append(out, step)
	}
	return out, nil
}

func stepFrom(op string, args []any) (Step, error) {
	bad := func(format string, a ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrMalformedBytecode, op, fmt.Sprintf(format, a...))
	}

	switch op {
	case "V":
		switch len(args) {
		case 0:
			return V{}, nil
		case 1:
			switch a := args[0].(type) {
			case GValue:
				return V{ID: ValueRef(a)}, nil
			case Vertex:
				return V{ID: VertexRef(a)}, nil
			}
			return nil, bad("id must be a value or vertex, got %T", args[0])
		default:
			return nil, bad("expected at most one id, got %d", len(args))
		}

	case "outE":
		labels := make([]string, 0, len(args))
		for _, a := range args {
			s, ok := stringArg(a)
			if !ok {
				return nil, bad("labels must be strings")
			}
			labels = append(labels, s)
		}
		return OutE{Labels: labels}, nil

	case "addE":
		if len(args) != 1 {
			return nil, bad("expected one label, got %d", len(args))
		}
		s, ok := stringArg(args[0])
		if !ok {
			return nil, bad("label must be a string")
		}
		return AddE{Label: s}, nil

	case "addV":
		switch len(args) {
		case 0:
			return AddV{}, nil
		case 1:
			s, ok := stringArg(args[0])
			if !ok {
				return nil, bad("label must be a string")
			}
			return AddV{Label: s}, nil
		default:
			return nil, bad("expected at most one label, got %d", len(args))
		}

	case "as":
		if len(args) != 1 {
			return nil, bad("expected one alias, got %d", len(args))
		}
		s, ok := stringArg(args[0])
		if !ok {
			return nil, bad("alias must be a string")
		}
		return As{Alias: s}, nil

	case "match":
		traversals := make([]Bytecode, 0, len(args))
		for _, a := range args {
			bc, ok := a.(Bytecode)
			if !ok {
				return nil, bad("arguments must be traversals, got %T", a)
			}
			traversals = append(traversals, bc)
		}
		return Match{Traversals: traversals}, nil

	case "property":
		if len(args) == 3 {
			if _, ok := args[0].(cardinality); !ok {
				return nil, bad("three arguments require a leading cardinality")
			}
			args = args[1:]
		}
		if len(args) != 2 {
			return nil, bad("expected key and value, got %d arguments", len(args))
		}
		name, ok := stringArg(args[0])
		if !ok {
			return nil, bad("key must be a string")
		}
		value, ok := args[1].(GValue)
		if !ok {
			return nil, bad("value must be a scalar, got %T", args[1])
		}
		return Property{Name: name, Value: value}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStep, op)
	}
}

func stringArg(a any) (string, bool) {
	g, ok := a.(GValue)
	if !ok {
		return "", false
	}
	s, ok := g.v.(string)
	return s, ok
}

// decodeArg returns a GValue, Vertex, Bytecode or cardinality.
func decodeArg(raw any) (any, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case json.Number:
		n, ok := convert.Number(x)
		if !ok {
			return nil, fmt.Errorf("%w: invalid number %q", ErrMalformedBytecode, x)
		}
		if i, isInt := n.(int64); isInt {
			return Int64(i), nil
		}
		return Double(n.(float64)), nil
	case map[string]any:
		return decodeTyped(x)
	default:
		return nil, fmt.Errorf("%w: unsupported argument %T", ErrMalformedBytecode, raw)
	}
}

func decodeTyped(m map[string]any) (any, error) {
	t, ok := m["@type"].(string)
	if !ok {
		if _, isBytecode := m["step"]; isBytecode {
			return bytecodeFrom(m)
		}
		return nil, fmt.Errorf("%w: untyped object argument", ErrMalformedBytecode)
	}
	v := m["@value"]

	switch t {
	case "g:Int32":
		n, err := number(t, v)
		if err != nil {
			return nil, err
		}
		i, err := n.Int64()
		if err != nil || i < math.MinInt32 || i > math.MaxInt32 {
			return nil, fmt.Errorf("%w: %s out of range: %v", ErrMalformedBytecode, t, n)
		}
		return Int32(int32(i)), nil
	case "g:Int64":
		n, err := number(t, v)
		if err != nil {
			return nil, err
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedBytecode, t, err)
		}
		return Int64(i), nil
	case "g:Float", "g:Double":
		n, err := number(t, v)
		if err != nil {
			return nil, err
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedBytecode, t, err)
		}
		if t == "g:Float" {
			return Float(float32(f)), nil
		}
		return Double(f), nil
	case "g:Vertex":
		body, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: g:Vertex value must be an object", ErrMalformedBytecode)
		}
		id, err := decodeArg(body["id"])
		if err != nil {
			return nil, err
		}
		idv, ok := id.(GValue)
		if !ok {
			return nil, fmt.Errorf("%w: g:Vertex id must be a scalar", ErrMalformedBytecode)
		}
		label, _ := body["label"].(string)
		return Vertex{ID: idv, Label: label}, nil
	case "g:Bytecode":
		return bytecodeFrom(m)
	case "g:Cardinality":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: g:Cardinality value must be a string", ErrMalformedBytecode)
		}
		return cardinality(s), nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %s", ErrMalformedBytecode, t)
	}
}

func number(t string, v any) (json.Number, error) {
	n, ok := v.(json.Number)
	if !ok {
		return "", fmt.Errorf("%w: %s value must be a number", ErrMalformedBytecode, t)
	}
	return n, nil
}
