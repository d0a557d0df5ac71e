// Package value implements the engine's dynamic value system: a closed,
// tagged sum type standing in for the source system's string-tagged
// "PLValue" (spec.md Design Notes). Every column value, staged write, and
// query result flows through Value so the core never needs reflection or
// function-name dispatch on an open type set.
package value

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Kind enumerates the closed set of physical value types the engine
// understands. The query layer (out of core scope) converts its own
// literals to and from Kind at the boundary.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindTimestamp
	KindArray
	KindStruct
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindTimestamp:
		return "timestamp"
	case KindArray:
		return "array"
	case KindStruct:
		return "struct"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Value is a closed tagged union over the column types spec.md §3 defines.
// Only the field matching Kind is meaningful; all others are zero.
type Value struct {
	Kind      Kind
	Int       int64
	Float     float64
	Bool      bool
	Str       string
	Timestamp time.Time
	Array     []Value
	Struct    map[string]Value
	Err       error
}

// Null is the canonical null value.
func Null() Value { return Value{Kind: KindNull} }

// Int constructs an integer value.
func Int(v int64) Value { return Value{Kind: KindInt, Int: v} }

// Float constructs a floating-point value.
func Float(v float64) Value { return Value{Kind: KindFloat, Float: v} }

// Bool constructs a boolean value.
func Bool(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// String constructs a string value.
func String(v string) Value { return Value{Kind: KindString, Str: v} }

// Timestamp constructs a timestamp value.
func Timestamp(v time.Time) Value { return Value{Kind: KindTimestamp, Timestamp: v} }

// Array constructs an array value.
func Array(vs []Value) Value { return Value{Kind: KindArray, Array: vs} }

// Struct constructs a struct value from named fields.
func Struct(fields map[string]Value) Value { return Value{Kind: KindStruct, Struct: fields} }

// Error constructs an error-carrying value, used by the query layer to
// propagate evaluation failures without a side-channel panic.
func Error(err error) Value { return Value{Kind: KindError, Err: err} }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// IsError reports whether v carries an evaluation error.
func (v Value) IsError() bool { return v.Kind == KindError }

// Equal reports deep equality between two values of the same kind.
// Values of differing kinds are never equal, including Int vs. Float.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindInt:
		return a.Int == b.Int
	case KindFloat:
		return a.Float == b.Float
	case KindBool:
		return a.Bool == b.Bool
	case KindString:
		return a.Str == b.Str
	case KindTimestamp:
		return a.Timestamp.Equal(b.Timestamp)
	case KindArray:
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if !Equal(a.Array[i], b.Array[i]) {
				return false
			}
		}
		return true
	case KindStruct:
		if len(a.Struct) != len(b.Struct) {
			return false
		}
		for k, av := range a.Struct {
			bv, ok := b.Struct[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	case KindError:
		return a.Err != nil && b.Err != nil && a.Err.Error() == b.Err.Error()
	default:
		return false
	}
}

// Less orders two values of the same kind for index and sort purposes.
// It panics if called on KindStruct, KindArray, KindError, or KindNull,
// or across mismatched kinds — callers (index, planner) only invoke it
// after a kind check.
func Less(a, b Value) bool {
	if a.Kind != b.Kind {
		panic(fmt.Sprintf("value: Less called across kinds %s and %s", a.Kind, b.Kind))
	}
	switch a.Kind {
	case KindInt:
		return a.Int < b.Int
	case KindFloat:
		return a.Float < b.Float
	case KindBool:
		return !a.Bool && b.Bool
	case KindString:
		return a.Str < b.Str
	case KindTimestamp:
		return a.Timestamp.Before(b.Timestamp)
	default:
		panic(fmt.Sprintf("value: Less unsupported for kind %s", a.Kind))
	}
}

// canonicalize returns a deterministic, hashable representation of v. It is
// used by the timeline's canonical_serialize step (spec.md §4.2) and by the
// planner's cache-key construction — both require stable byte output across
// runs, independent of Go's map iteration order.
func canonicalize(v Value) string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindInt:
		return fmt.Sprintf("i:%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("f:%g", v.Float)
	case KindBool:
		return fmt.Sprintf("b:%t", v.Bool)
	case KindString:
		return fmt.Sprintf("s:%q", v.Str)
	case KindTimestamp:
		return fmt.Sprintf("t:%d", v.Timestamp.UTC().UnixMicro())
	case KindArray:
		parts := make([]string, len(v.Array))
		for i, e := range v.Array {
			parts[i] = canonicalize(e)
		}
		return "a:[" + joinComma(parts) + "]"
	case KindStruct:
		keys := make([]string, 0, len(v.Struct))
		for k := range v.Struct {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%q:%s", k, canonicalize(v.Struct[k]))
		}
		return "o:{" + joinComma(parts) + "}"
	case KindError:
		if v.Err == nil {
			return "e:"
		}
		return "e:" + v.Err.Error()
	default:
		return "?"
	}
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

// Canonical returns the deterministic byte encoding used for Merkle hashing
// and cache fingerprinting.
func Canonical(v Value) []byte {
	return []byte(canonicalize(v))
}

// wireValue is the JSON-serializable mirror of Value used for on-disk
// persistence (timeline payloads, snapshots). Canonical is deliberately a
// one-way hashing format; wireValue is the reversible counterpart so a
// commit record's payload can be reloaded after a process restart.
type wireValue struct {
	Kind      Kind                 `json:"kind"`
	Int       int64                `json:"int,omitempty"`
	Float     float64              `json:"float,omitempty"`
	Bool      bool                 `json:"bool,omitempty"`
	Str       string               `json:"str,omitempty"`
	Timestamp *time.Time           `json:"timestamp,omitempty"`
	Array     []wireValue          `json:"array,omitempty"`
	Struct    map[string]wireValue `json:"struct,omitempty"`
	ErrText   string               `json:"err,omitempty"`
}

func toWire(v Value) wireValue {
	w := wireValue{Kind: v.Kind, Int: v.Int, Float: v.Float, Bool: v.Bool, Str: v.Str}
	if v.Kind == KindTimestamp {
		ts := v.Timestamp.UTC()
		w.Timestamp = &ts
	}
	if v.Array != nil {
		w.Array = make([]wireValue, len(v.Array))
		for i, e := range v.Array {
			w.Array[i] = toWire(e)
		}
	}
	if v.Struct != nil {
		w.Struct = make(map[string]wireValue, len(v.Struct))
		for k, e := range v.Struct {
			w.Struct[k] = toWire(e)
		}
	}
	if v.Kind == KindError && v.Err != nil {
		w.ErrText = v.Err.Error()
	}
	return w
}

func fromWire(w wireValue) Value {
	v := Value{Kind: w.Kind, Int: w.Int, Float: w.Float, Bool: w.Bool, Str: w.Str}
	if w.Timestamp != nil {
		v.Timestamp = *w.Timestamp
	}
	if w.Array != nil {
		v.Array = make([]Value, len(w.Array))
		for i, e := range w.Array {
			v.Array[i] = fromWire(e)
		}
	}
	if w.Struct != nil {
		v.Struct = make(map[string]Value, len(w.Struct))
		for k, e := range w.Struct {
			v.Struct[k] = fromWire(e)
		}
	}
	if w.Kind == KindError && w.ErrText != "" {
		v.Err = fmt.Errorf("%s", w.ErrText)
	}
	return v
}

// Encode serializes v to a reversible JSON representation, suitable for
// persisting a commit payload to disk.
func Encode(v Value) ([]byte, error) {
	return json.Marshal(toWire(v))
}

// Decode reverses Encode.
func Decode(data []byte) (Value, error) {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return Value{}, fmt.Errorf("value: decode: %w", err)
	}
	return fromWire(w), nil
}

// Record is a row: an unordered mapping from column name to typed value, plus
// the implicit bookkeeping columns spec.md §3 introduces when time-travel is
// enabled.
type Record struct {
	Values    map[string]Value
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Get returns the named column's value, or Null if absent.
func (r Record) Get(col string) Value {
	if v, ok := r.Values[col]; ok {
		return v
	}
	return Null()
}

// Clone returns a copy of r with its own Values map, suitable for staging
// in a transaction's private write buffer without aliasing the caller's
// map. Nested Array and Struct values are shared, not copied.
func (r Record) Clone() Record {
	values := make(map[string]Value, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	return Record{Values: values, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}
