package interp

import (
	"strconv"
)

// ValueType identifies the variant stored in a Value.
type ValueType int

const (
	TypeNull ValueType = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeBuiltin
	TypeRef
)

// Handle is an opaque identifier for a heap-allocated composite tracked
// by the collector. It is an index into the object table, not a pointer.
// The zero Handle is never issued.
type Handle uint64

// NoHandle is the invalid handle.
const NoHandle Handle = 0

// Value is the Sable representation of a runtime value.
//
// Primitive variants (null, bool, int, float, string, builtin) are copied
// by value. TypeRef values carry a Handle into the collector's object
// table and are copied by reference: every code path that copies or drops
// a TypeRef Value must keep the object's reference count in parity.
type Value struct {
	Type    ValueType
	Bool    bool
	Int     int64
	Float   float64
	Str     string
	Builtin string
	Ref     Handle
}

// NullValue returns the null value.
func NullValue() Value {
	return Value{Type: TypeNull}
}

// BoolValue creates a boolean value.
func BoolValue(b bool) Value {
	return Value{Type: TypeBool, Bool: b}
}

// IntValue creates an integer value.
func IntValue(n int64) Value {
	return Value{Type: TypeInt, Int: n}
}

// FloatValue creates a float value.
func FloatValue(f float64) Value {
	return Value{Type: TypeFloat, Float: f}
}

// StringValue creates a string value.
func StringValue(s string) Value {
	return Value{Type: TypeString, Str: s}
}

// BuiltinValue creates a reference to a named builtin function.
func BuiltinValue(name string) Value {
	return Value{Type: TypeBuiltin, Builtin: name}
}

// RefValue creates a managed reference to the object with the given handle.
func RefValue(h Handle) Value {
	if h == NoHandle {
		panic("RefValue: invalid handle")
	}
	return Value{Type: TypeRef, Ref: h}
}

// IsNull returns true if the value is null.
func (v Value) IsNull() bool {
	return v.Type == TypeNull
}

// IsRef returns true if the value is a managed reference.
func (v Value) IsRef() bool {
	return v.Type == TypeRef
}

// IsTruthy returns true for values considered "true" in conditionals.
// Only null and false are falsy.
func (v Value) IsTruthy() bool {
	switch v.Type {
	case TypeNull:
		return false
	case TypeBool:
		return v.Bool
	default:
		return true
	}
}

// TypeName returns the language-level type name of the value.
func (v Value) TypeName() string {
	switch v.Type {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeBuiltin:
		return "builtin"
	case TypeRef:
		return "ref"
	default:
		return "?"
	}
}

// AsString converts the value to a display string. Managed references
// render as "<ref:N>"; use GarbageCollector.Render for payload contents.
func (v Value) AsString() string {
	switch v.Type {
	case TypeNull:
		return "null"
	case TypeBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case TypeInt:
		return strconv.FormatInt(v.Int, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case TypeString:
		return v.Str
	case TypeBuiltin:
		return "<builtin " + v.Builtin + ">"
	case TypeRef:
		return "<ref:" + strconv.FormatUint(uint64(v.Ref), 10) + ">"
	default:
		return ""
	}
}

// sizeOf estimates the memory footprint of a value in bytes, for the
// collector's heap accounting. Handles are counted at the referring site
// only as the handle itself; payload sizes are tracked per object.
func sizeOf(v Value) int64 {
	const valueBase = 16
	if v.Type == TypeString {
		return valueBase + int64(len(v.Str))
	}
	return valueBase
}
