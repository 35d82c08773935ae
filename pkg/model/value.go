package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/orneryd/onegraph/pkg/convert"
)

// ErrUnsupportedValue is returned when a Go value has no property encoding.
var ErrUnsupportedValue = errors.New("unsupported property value")

// ValueKind discriminates PropertyValue.
type ValueKind int

const (
	KindBool ValueKind = iota + 1
	KindInt64
	KindFloat64
	KindString
	KindList
)

func (k ValueKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindList:
		return "list"
	default:
		return "invalid"
	}
}

// PropertyValue is a scalar or list property value. The zero value is
// invalid; build values with the constructors.
type PropertyValue struct {
	kind ValueKind
	b    bool
	i    int64
	f    float64
	s    string
	list []PropertyValue
}

func BoolValue(v bool) PropertyValue       { return PropertyValue{kind: KindBool, b: v} }
func Int64Value(v int64) PropertyValue     { return PropertyValue{kind: KindInt64, i: v} }
func Float64Value(v float64) PropertyValue { return PropertyValue{kind: KindFloat64, f: v} }
func StringValue(v string) PropertyValue   { return PropertyValue{kind: KindString, s: v} }

// ListValue copies items into a list value.
func ListValue(items ...PropertyValue) PropertyValue {
	return PropertyValue{kind: KindList, list: append([]PropertyValue(nil), items...)}
}

// Kind returns the value's discriminator.
func (v PropertyValue) Kind() ValueKind { return v.kind }

// IsValid reports whether the value was built by a constructor.
func (v PropertyValue) IsValid() bool { return v.kind != 0 }

func (v PropertyValue) Bool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v PropertyValue) Int64() (int64, bool)     { return v.i, v.kind == KindInt64 }
func (v PropertyValue) Float64() (float64, bool) { return v.f, v.kind == KindFloat64 }
func (v PropertyValue) Str() (string, bool)      { return v.s, v.kind == KindString }

// List returns a copy of the list items.
func (v PropertyValue) List() ([]PropertyValue, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return append([]PropertyValue(nil), v.list...), true
}

// Any converts the value to the plain Go type used by repositories.
func (v PropertyValue) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt64:
		return v.i
	case KindFloat64:
		return v.f
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Any()
		}
		return out
	default:
		return nil
	}
}

// Clone deep-copies list values.
func (v PropertyValue) Clone() PropertyValue {
	if v.kind == KindList {
		return ListValue(v.list...)
	}
	return v
}

// Equal compares kind and content. Integral floats equal the same int64 so
// values round-tripped through JSON still compare equal.
func (v PropertyValue) Equal(o PropertyValue) bool {
	if v.kind != o.kind {
		if n, ok := numeric(v); ok {
			if m, ok := numeric(o); ok {
				return n == m
			}
		}
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindInt64:
		return v.i == o.i
	case KindFloat64:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func (v PropertyValue) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt64:
		return strconv.FormatInt(v.i, 10)
	case KindFloat64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "null"
	}
}

func numeric(v PropertyValue) (float64, bool) {
	switch v.kind {
	case KindInt64:
		return float64(v.i), true
	case KindFloat64:
		return v.f, true
	}
	return 0, false
}

// ValueFromAny converts a decoded Go value into a PropertyValue. Integers
// become int64 values and decimals float64 values.
func ValueFromAny(raw any) (PropertyValue, error) {
	switch x := raw.(type) {
	case PropertyValue:
		return x, nil
	case bool:
		return BoolValue(x), nil
	case string:
		return StringValue(x), nil
	case []any:
		items := make([]PropertyValue, len(x))
		for i, item := range x {
			v, err := ValueFromAny(item)
			if err != nil {
				return PropertyValue{}, err
			}
			items[i] = v
		}
		return PropertyValue{kind: KindList, list: items}, nil
	case []string:
		items := make([]PropertyValue, len(x))
		for i, item := range x {
			items[i] = StringValue(item)
		}
		return PropertyValue{kind: KindList, list: items}, nil
	}

	n, ok := convert.Number(raw)
	if !ok {
		return PropertyValue{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, raw)
	}
	if i, isInt := n.(int64); isInt {
		return Int64Value(i), nil
	}
	return Float64Value(n.(float64)), nil
}
