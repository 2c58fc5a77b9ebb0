package types

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// NonSerializablePrefix marks values that could not be serialized into a
// checkpoint. Variables carrying this marker are never restored.
const NonSerializablePrefix = "<non-serializable:"

// Kind identifies the concrete type held by a Variable
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
	KindMap
	KindOpaque // non-serializable placeholder
)

// Variable is a tagged union over the value types a workflow variable may
// hold. All checkpoint serialization goes through this type.
type Variable struct {
	Kind  Kind
	Str   string
	Int   int64
	Float float64
	Bool  bool
	List  []Variable
	Map   map[string]Variable
}

func Null() Variable                     { return Variable{Kind: KindNull} }
func Str(s string) Variable              { return Variable{Kind: KindString, Str: s} }
func Int(i int64) Variable               { return Variable{Kind: KindInt, Int: i} }
func Float(f float64) Variable           { return Variable{Kind: KindFloat, Float: f} }
func Bool(b bool) Variable               { return Variable{Kind: KindBool, Bool: b} }
func List(items ...Variable) Variable    { return Variable{Kind: KindList, List: items} }
func Map(m map[string]Variable) Variable { return Variable{Kind: KindMap, Map: m} }

// Opaque builds the placeholder for a value that cannot be serialized
func Opaque(typeName string) Variable {
	return Variable{Kind: KindOpaque, Str: fmt.Sprintf("%s %s>", NonSerializablePrefix, typeName)}
}

// IsOpaque reports whether the variable is a non-serializable placeholder
func (v Variable) IsOpaque() bool {
	return v.Kind == KindOpaque
}

// Equal compares two variables structurally
func (v Variable) Equal(o Variable) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindString, KindOpaque:
		return v.Str == o.Str
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindBool:
		return v.Bool == o.Bool
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(o.Map) {
			return false
		}
		for k, vv := range v.Map {
			ov, ok := o.Map[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON encodes the variable as its natural JSON value. Opaque
// placeholders encode as their marker string.
func (v Variable) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindString, KindOpaque:
		return json.Marshal(v.Str)
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return nil, fmt.Errorf("non-finite float is not serializable")
		}
		return json.Marshal(v.Float)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	case KindMap:
		if v.Map == nil {
			return []byte("{}"), nil
		}
		// Stable key order keeps checkpoint blobs diffable
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			vb, err := json.Marshal(v.Map[k])
			if err != nil {
				return nil, err
			}
			b.Write(vb)
		}
		b.WriteByte('}')
		return []byte(b.String()), nil
	}
	return nil, fmt.Errorf("unknown variable kind %d", v.Kind)
}

// UnmarshalJSON decodes a natural JSON value into the union. Strings that
// carry the non-serializable marker decode as opaque placeholders.
func (v *Variable) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromDecoded(raw)
	return nil
}

func fromDecoded(raw any) Variable {
	switch val := raw.(type) {
	case nil:
		return Null()
	case string:
		if strings.HasPrefix(val, NonSerializablePrefix) {
			return Variable{Kind: KindOpaque, Str: val}
		}
		return Str(val)
	case bool:
		return Bool(val)
	case json.Number:
		if i, err := val.Int64(); err == nil && !strings.ContainsAny(val.String(), ".eE") {
			return Int(i)
		}
		f, _ := val.Float64()
		return Float(f)
	case []any:
		items := make([]Variable, len(val))
		for i, item := range val {
			items[i] = fromDecoded(item)
		}
		return Variable{Kind: KindList, List: items}
	case map[string]any:
		m := make(map[string]Variable, len(val))
		for k, item := range val {
			m[k] = fromDecoded(item)
		}
		return Variable{Kind: KindMap, Map: m}
	}
	return Opaque(fmt.Sprintf("%T", raw))
}

// FromGo converts an arbitrary Go value into a Variable. Primitives take the
// fast path; everything else is tentatively JSON-serialized and replaced by
// an opaque placeholder when that fails.
func FromGo(value any) Variable {
	switch val := value.(type) {
	case nil:
		return Null()
	case string:
		if strings.HasPrefix(val, NonSerializablePrefix) {
			return Variable{Kind: KindOpaque, Str: val}
		}
		return Str(val)
	case bool:
		return Bool(val)
	case int:
		return Int(int64(val))
	case int32:
		return Int(int64(val))
	case int64:
		return Int(val)
	case float32:
		return Float(float64(val))
	case float64:
		return Float(val)
	case Variable:
		return val
	}

	data, err := json.Marshal(value)
	if err != nil {
		return Opaque(fmt.Sprintf("%T", value))
	}
	var v Variable
	if err := v.UnmarshalJSON(data); err != nil {
		return Opaque(fmt.Sprintf("%T", value))
	}
	return v
}
