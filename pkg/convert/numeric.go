// Package convert normalizes the numeric values that reach the graph from
// Go callers, JSON documents and GraphSON arguments.
//
// Stored properties hold integers as int64 and decimals as float64 no matter
// how they arrived. Number performs that mapping. ToInt64, ToFloat64 and
// ToUint64 extract one representation and report whether the input converts
// without loss.
//
// Example:
//
//	if n, ok := convert.Number(raw); ok {
//		props[key] = n // int64 or float64
//	}
//
//	if id, ok := convert.ToUint64(arg); ok {
//		node, err := repo.FetchNode(ctx, id)
//	}
package convert

import (
	"encoding/json"
	"math"
	"strconv"
)

// Number maps a numeric value onto int64 or float64. Integral Go types and
// integral json.Number text become int64; floats become float64.
// Returns (nil, false) for non-numeric input and for unsigned values
// beyond MaxInt64.
func Number(v any) (any, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
		if f, err := x.Float64(); err == nil {
			return f, true
		}
		return nil, false
	}
	if i, ok := ToInt64(v); ok {
		return i, true
	}
	return nil, false
}

// ToInt64 converts integral values to int64. Floats are rejected, and
// unsigned values must fit.
func ToInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case int16:
		return int64(val), true
	case int8:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint8:
		return int64(val), true
	case uint:
		if uint64(val) <= math.MaxInt64 {
			return int64(val), true
		}
	case uint64:
		if val <= math.MaxInt64 {
			return int64(val), true
		}
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, true
		}
	}
	return 0, false
}

// ToFloat64 converts any numeric value to float64.
func ToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case uint:
		return float64(val), true
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f, true
		}
		return 0, false
	}
	if i, ok := ToInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

// ToUint64 converts non-negative integral values to uint64. Floats convert
// only when they hold an exact integer.
func ToUint64(v any) (uint64, bool) {
	switch val := v.(type) {
	case uint64:
		return val, true
	case uint:
		return uint64(val), true
	case float64:
		return floatToUint64(val)
	case float32:
		return floatToUint64(float64(val))
	case json.Number:
		if u, err := strconv.ParseUint(val.String(), 10, 64); err == nil {
			return u, true
		}
		if f, err := val.Float64(); err == nil {
			return floatToUint64(f)
		}
		return 0, false
	}
	if i, ok := ToInt64(v); ok && i >= 0 {
		return uint64(i), true
	}
	return 0, false
}

func floatToUint64(f float64) (uint64, bool) {
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt64 {
		return 0, false
	}
	return uint64(f), true
}
