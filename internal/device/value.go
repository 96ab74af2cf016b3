package device

import (
	"fmt"
	"slices"

	"github.com/smazurov/hald/internal/hal"
)

// ValueType tags the sum-typed property value: string, signed 64-bit
// integer, unsigned 64-bit integer, double, boolean, string-list.
type ValueType int

// Property value types.
const (
	TypeString ValueType = iota
	TypeInt64
	TypeUint64
	TypeDouble
	TypeBool
	TypeStrlist
)

// String returns a human-readable name for the type, used in log lines and
// rule-engine diagnostics.
func (t ValueType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt64:
		return "int64"
	case TypeUint64:
		return "uint64"
	case TypeDouble:
		return "double"
	case TypeBool:
		return "bool"
	case TypeStrlist:
		return "strlist"
	default:
		return "unknown"
	}
}

// Value is a tagged union holding exactly one of the property payload types.
// The zero Value is a string with an empty payload.
type Value struct {
	typ  ValueType
	str  string
	i64  int64
	u64  uint64
	dbl  float64
	bln  bool
	list []string
}

// String constructs a string-typed Value.
func String(s string) Value { return Value{typ: TypeString, str: s} }

// Int64 constructs a signed 64-bit integer Value.
func Int64(v int64) Value { return Value{typ: TypeInt64, i64: v} }

// Uint64 constructs an unsigned 64-bit integer Value.
func Uint64(v uint64) Value { return Value{typ: TypeUint64, u64: v} }

// Double constructs a double-precision float Value.
func Double(v float64) Value { return Value{typ: TypeDouble, dbl: v} }

// Bool constructs a boolean Value.
func Bool(v bool) Value { return Value{typ: TypeBool, bln: v} }

// Strlist constructs a string-list Value. The slice is copied.
func Strlist(v []string) Value {
	return Value{typ: TypeStrlist, list: slices.Clone(v)}
}

// Type reports the value's tag.
func (v Value) Type() ValueType { return v.typ }

// AsString returns the string payload, or hal.ErrWrongType if v is not a
// string.
func (v Value) AsString() (string, error) {
	if v.typ != TypeString {
		return "", fmt.Errorf("%w: want string, have %s", hal.ErrWrongType, v.typ)
	}
	return v.str, nil
}

// AsInt64 returns the int64 payload, or hal.ErrWrongType.
func (v Value) AsInt64() (int64, error) {
	if v.typ != TypeInt64 {
		return 0, fmt.Errorf("%w: want int64, have %s", hal.ErrWrongType, v.typ)
	}
	return v.i64, nil
}

// AsUint64 returns the uint64 payload, or hal.ErrWrongType.
func (v Value) AsUint64() (uint64, error) {
	if v.typ != TypeUint64 {
		return 0, fmt.Errorf("%w: want uint64, have %s", hal.ErrWrongType, v.typ)
	}
	return v.u64, nil
}

// AsDouble returns the double payload, or hal.ErrWrongType.
func (v Value) AsDouble() (float64, error) {
	if v.typ != TypeDouble {
		return 0, fmt.Errorf("%w: want double, have %s", hal.ErrWrongType, v.typ)
	}
	return v.dbl, nil
}

// AsBool returns the boolean payload, or hal.ErrWrongType.
func (v Value) AsBool() (bool, error) {
	if v.typ != TypeBool {
		return false, fmt.Errorf("%w: want bool, have %s", hal.ErrWrongType, v.typ)
	}
	return v.bln, nil
}

// AsStrlist returns a copy of the string-list payload, or hal.ErrWrongType.
func (v Value) AsStrlist() ([]string, error) {
	if v.typ != TypeStrlist {
		return nil, fmt.Errorf("%w: want strlist, have %s", hal.ErrWrongType, v.typ)
	}
	return slices.Clone(v.list), nil
}

// Equal reports whether two values have the same type and payload. Used to
// implement the "setting a property to its current value is a no-op"
// invariant.
func (v Value) Equal(other Value) bool {
	if v.typ != other.typ {
		return false
	}
	switch v.typ {
	case TypeString:
		return v.str == other.str
	case TypeInt64:
		return v.i64 == other.i64
	case TypeUint64:
		return v.u64 == other.u64
	case TypeDouble:
		return v.dbl == other.dbl
	case TypeBool:
		return v.bln == other.bln
	case TypeStrlist:
		return slices.Equal(v.list, other.list)
	default:
		return false
	}
}

// GoString renders the value for logging/diagnostics, independent of its type.
func (v Value) GoString() string {
	switch v.typ {
	case TypeString:
		return v.str
	case TypeInt64:
		return fmt.Sprintf("%d", v.i64)
	case TypeUint64:
		return fmt.Sprintf("%d", v.u64)
	case TypeDouble:
		return fmt.Sprintf("%g", v.dbl)
	case TypeBool:
		return fmt.Sprintf("%t", v.bln)
	case TypeStrlist:
		return fmt.Sprintf("%v", v.list)
	default:
		return ""
	}
}
