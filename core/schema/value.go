package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueType is the tag of an attribute value.
type ValueType int

const (
	// TypeAny accepts every value type. Only meaningful for attribute definitions.
	TypeAny ValueType = iota
	TypeString
	TypeNumber
	TypeBool
)

// String returns the type name.
func (t ValueType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBool:
		return "bool"
	default:
		return "any"
	}
}

// ParseValueType parses a type name as used in definition files.
func ParseValueType(s string) (ValueType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return TypeAny, nil
	case "string":
		return TypeString, nil
	case "number", "int", "float":
		return TypeNumber, nil
	case "bool", "boolean":
		return TypeBool, nil
	default:
		return TypeAny, fmt.Errorf("unknown attribute type %q", s)
	}
}

// Value is a tagged attribute value: a string, a number or a boolean.
// The zero Value is unset.
type Value struct {
	typ ValueType
	str string
	num float64
	b   bool
}

// String returns a string value.
func String(s string) Value {
	return Value{typ: TypeString, str: s}
}

// Number returns a numeric value.
func Number(n float64) Value {
	return Value{typ: TypeNumber, num: n}
}

// Int returns a numeric value from an integer.
func Int(n int64) Value {
	return Value{typ: TypeNumber, num: float64(n)}
}

// Bool returns a boolean value.
func Bool(b bool) Value {
	return Value{typ: TypeBool, b: b}
}

// Type returns the value's tag. Unset values report TypeAny.
func (v Value) Type() ValueType {
	return v.typ
}

// IsSet reports whether the value holds anything.
func (v Value) IsSet() bool {
	return v.typ != TypeAny
}

// IsEmpty reports whether the value is unset or an empty string.
func (v Value) IsEmpty() bool {
	return v.typ == TypeAny || (v.typ == TypeString && v.str == "")
}

// Text returns the canonical textual form of the value.
func (v Value) Text() string {
	switch v.typ {
	case TypeString:
		return v.str
	case TypeNumber:
		return formatNumber(v.num)
	case TypeBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// String implements fmt.Stringer.
func (v Value) String() string {
	return v.Text()
}

// AsString returns the string payload.
func (v Value) AsString() (string, bool) {
	return v.str, v.typ == TypeString
}

// AsNumber returns the numeric payload.
func (v Value) AsNumber() (float64, bool) {
	return v.num, v.typ == TypeNumber
}

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) {
	return v.b, v.typ == TypeBool
}

// Interface returns the payload as a plain Go value, or nil when unset.
func (v Value) Interface() any {
	switch v.typ {
	case TypeString:
		return v.str
	case TypeNumber:
		if v.num == math.Trunc(v.num) && math.Abs(v.num) < 1<<53 {
			return int64(v.num)
		}
		return v.num
	case TypeBool:
		return v.b
	default:
		return nil
	}
}

// Equal reports whether both values have the same tag and payload.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeString:
		return v.str == o.str
	case TypeNumber:
		return v.num == o.num
	case TypeBool:
		return v.b == o.b
	default:
		return true
	}
}

// ValueOf converts a plain Go value (as decoded from JSON or YAML) into a Value.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

// Coerce interprets text as a value of the given type.
// TypeAny yields a string value.
func Coerce(text string, t ValueType) (Value, error) {
	switch t {
	case TypeNumber:
		n, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%q is not a number", text)
		}
		return Number(n), nil
	case TypeBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Value{}, fmt.Errorf("%q is not a boolean", text)
		}
		return Bool(b), nil
	default:
		return String(text), nil
	}
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// Values maps attribute names to values.
type Values map[string]Value

// Clone returns a shallow copy.
func (vs Values) Clone() Values {
	out := make(Values, len(vs))
	for k, v := range vs {
		out[k] = v
	}
	return out
}

// Merge returns a copy of vs with every entry of other applied on top.
func (vs Values) Merge(other Values) Values {
	out := vs.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Text returns the textual form of the named value, or "" when absent.
func (vs Values) Text(name string) string {
	return vs[name].Text()
}

// Equal reports whether both maps hold the same entries.
func (vs Values) Equal(other Values) bool {
	if len(vs) != len(other) {
		return false
	}
	for k, v := range vs {
		o, ok := other[k]
		if !ok || !v.Equal(o) {
			return false
		}
	}
	return true
}
