// Package props provides the closed structured-value type used for node and
// edge properties and for document metadata. A Value is one of: null, bool,
// number, string, array, or map. The closed variant keeps heterogeneous
// property maps lossless in a statically-typed store and serializes them
// through plain JSON, so any runtime can read the persisted blobs back.
package props

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	// KindNull is the JSON null value.
	KindNull Kind = iota
	// KindBool is a boolean.
	KindBool
	// KindNumber is a float64 number.
	KindNumber
	// KindString is a string.
	KindString
	// KindArray is an ordered list of Values.
	KindArray
	// KindMap is a string-keyed map of Values.
	KindMap
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value holds exactly one of the closed set of property variants.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	a    []Value
	m    Map
}

// Map is a string-keyed property map.
type Map map[string]Value

// Null returns the null Value.
func Null() Value { return Value{kind: KindNull} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a numeric Value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Int returns a numeric Value from an integer.
func Int(n int64) Value { return Value{kind: KindNumber, n: float64(n)} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array returns an array Value.
func Array(vals ...Value) Value { return Value{kind: KindArray, a: vals} }

// Object returns a map Value.
func Object(m Map) Value { return Value{kind: KindMap, m: m} }

// Kind returns the variant held by the Value.
func (v Value) Kind() Kind { return v.kind }

// BoolVal returns the boolean payload. Valid only for KindBool.
func (v Value) BoolVal() bool { return v.b }

// NumberVal returns the numeric payload. Valid only for KindNumber.
func (v Value) NumberVal() float64 { return v.n }

// StringVal returns the string payload. Valid only for KindString.
func (v Value) StringVal() string { return v.s }

// ArrayVal returns the array payload. Valid only for KindArray.
func (v Value) ArrayVal() []Value { return v.a }

// MapVal returns the map payload. Valid only for KindMap.
func (v Value) MapVal() Map { return v.m }

// Equal reports deep equality of two Values.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindArray:
		if len(v.a) != len(o.a) {
			return false
		}
		for i := range v.a {
			if !v.a[i].Equal(o.a[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return v.m.Equal(o.m)
	}
	return false
}

// Equal reports deep equality of two Maps.
func (m Map) Equal(o Map) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Merge returns a new Map with o's entries layered over m, key-wise
// last-write-wins. Neither input is modified.
func (m Map) Merge(o Map) Map {
	out := make(Map, len(m)+len(o))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy of the map. Values are immutable from the
// caller's perspective, so a shallow copy is enough.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		if v.a == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.a)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	}
	return nil, fmt.Errorf("props: unknown kind %d", v.kind)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	val, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// FromAny converts a decoded-JSON value (nil, bool, json.Number, float64,
// string, []any, map[string]any) into a Value. Anything outside the closed
// set is rejected.
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("props: bad number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case float64:
		return Number(t), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case string:
		return String(t), nil
	case []any:
		arr := make([]Value, len(t))
		for i, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			arr[i] = v
		}
		return Array(arr...), nil
	case map[string]any:
		m := make(Map, len(t))
		for k, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Object(m), nil
	default:
		return Value{}, fmt.Errorf("props: unsupported value type %T", raw)
	}
}

// ToAny converts a Value back into plain Go values suitable for
// encoding/json or caller inspection.
func (v Value) ToAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.a))
		for i, e := range v.a {
			out[i] = e.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.ToAny()
		}
		return out
	}
	return nil
}

// MapFromJSON decodes a JSON object into a Map. An empty input yields nil.
func MapFromJSON(data []byte) (Map, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	m := make(Map, len(raw))
	for k, e := range raw {
		v, err := FromAny(e)
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

// CanonicalJSON renders the Value with recursively sorted map keys and a
// fixed number format, so identical values always produce identical bytes.
// Used for content-derived ids.
func (v Value) CanonicalJSON() []byte {
	var buf bytes.Buffer
	v.canonical(&buf)
	return buf.Bytes()
}

// CanonicalJSON renders the Map with sorted keys. A nil map renders as {}.
func (m Map) CanonicalJSON() []byte {
	var buf bytes.Buffer
	Object(m).canonical(&buf)
	return buf.Bytes()
}

func (v Value) canonical(buf *bytes.Buffer) {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		buf.WriteString(strconv.FormatFloat(v.n, 'g', -1, 64))
	case KindString:
		b, _ := json.Marshal(v.s)
		buf.Write(b)
	case KindArray:
		buf.WriteByte('[')
		for i, e := range v.a {
			if i > 0 {
				buf.WriteByte(',')
			}
			e.canonical(buf)
		}
		buf.WriteByte(']')
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			v.m[k].canonical(buf)
		}
		buf.WriteByte('}')
	}
}
