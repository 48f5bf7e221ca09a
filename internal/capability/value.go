// Package capability implements the schemaless capability/requirement bag
// described by the broker's matching contract: a small tagged-variant value
// type plus the comparison rules used to decide whether a worker satisfies a
// job's declared requirements.
package capability

import "encoding/json"

// Value is a capability or requirement value. It is one of Scalar, List, or
// Map, the three exported concrete types below; comparison code
// type-switches on them.
type Value interface {
	isValue()
}

// Scalar wraps a string, float64, or bool leaf value.
type Scalar struct {
	Str     string
	Num     float64
	Bool    bool
	IsStr   bool
	IsNum   bool
	IsBool  bool
}

func (Scalar) isValue() {}

// List wraps an ordered collection of values.
type List struct {
	Items []Value
}

func (List) isValue() {}

// Map wraps a nested bag of named values.
type Map struct {
	Fields map[string]Value
}

func (Map) isValue() {}

// Str builds a string Scalar.
func Str(s string) Value { return Scalar{Str: s, IsStr: true} }

// Num builds a numeric Scalar.
func Num(n float64) Value { return Scalar{Num: n, IsNum: true} }

// Bool builds a boolean Scalar.
func Bool(b bool) Value { return Scalar{Bool: b, IsBool: true} }

// ListOf builds a List from the given values.
func ListOf(vs ...Value) Value { return List{Items: vs} }

// MapOf builds a Map from the given fields.
func MapOf(fields map[string]Value) Value { return Map{Fields: fields} }

// IsAllSentinel reports whether v is the literal string "all", which waives
// a hardware/model check per the matcher's documented semantics.
func IsAllSentinel(v Value) bool {
	s, ok := v.(Scalar)
	return ok && s.IsStr && s.Str == "all"
}

// FromJSON decodes an arbitrary JSON value into a capability.Value.
func FromJSON(raw []byte) (Value, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return FromInterface(v), nil
}

// FromInterface converts a decoded JSON value (string/float64/bool/[]interface{}/map[string]interface{})
// into the tagged Value representation, recursively.
func FromInterface(v interface{}) Value {
	switch t := v.(type) {
	case string:
		return Str(t)
	case float64:
		return Num(t)
	case bool:
		return Bool(t)
	case []interface{}:
		items := make([]Value, 0, len(t))
		for _, e := range t {
			items = append(items, FromInterface(e))
		}
		return List{Items: items}
	case map[string]interface{}:
		fields := make(map[string]Value, len(t))
		for k, e := range t {
			fields[k] = FromInterface(e)
		}
		return Map{Fields: fields}
	default:
		return nil
	}
}

// ToInterface converts a Value back to a plain interface{} tree, for JSON
// re-encoding (e.g. building the Lua script's input table).
func ToInterface(v Value) interface{} {
	switch t := v.(type) {
	case Scalar:
		switch {
		case t.IsStr:
			return t.Str
		case t.IsNum:
			return t.Num
		case t.IsBool:
			return t.Bool
		}
		return nil
	case List:
		out := make([]interface{}, 0, len(t.Items))
		for _, it := range t.Items {
			out = append(out, ToInterface(it))
		}
		return out
	case Map:
		out := make(map[string]interface{}, len(t.Fields))
		for k, it := range t.Fields {
			out[k] = ToInterface(it)
		}
		return out
	default:
		return nil
	}
}

// AsNumber returns the scalar's numeric value and whether it is numeric.
func AsNumber(v Value) (float64, bool) {
	s, ok := v.(Scalar)
	if !ok || !s.IsNum {
		return 0, false
	}
	return s.Num, true
}

// AsString returns the scalar's string value and whether it is a string.
func AsString(v Value) (string, bool) {
	s, ok := v.(Scalar)
	if !ok || !s.IsStr {
		return "", false
	}
	return s.Str, true
}

// Items returns v's elements if it is a List, or a single-element slice if
// it is a Scalar (so callers can treat "array or scalar" uniformly), or nil.
func Items(v Value) ([]Value, bool) {
	switch t := v.(type) {
	case List:
		return t.Items, true
	case Scalar:
		return []Value{t}, true
	default:
		return nil, false
	}
}
