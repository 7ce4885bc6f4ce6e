package value

import (
	"bytes"
	"fmt"
	"math"

	"github.com/componentkit/enclave/errors"
)

// Kind identifies the type carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt32
	KindInt64
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindString
	KindBytes
	KindArray
	KindComponentRef
)

var kindNames = [...]string{
	"null", "bool", "int32", "int64", "uint32", "uint64",
	"float32", "float64", "string", "bytes", "array", "component-ref",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return int(k) < len(kindNames)
}

// Value is the tagged union exchanged across language borders. Scalars are
// stored inline; strings, bytes and arrays own their backing storage.
// The zero Value is null.
type Value struct {
	kind Kind
	num  uint64
	str  string
	raw  []byte
	arr  []Value
	ref  string
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(v bool) Value {
	var n uint64
	if v {
		n = 1
	}
	return Value{kind: KindBool, num: n}
}

// Int32 returns a 32-bit signed integer value.
func Int32(v int32) Value { return Value{kind: KindInt32, num: uint64(uint32(v))} }

// Int64 returns a 64-bit signed integer value.
func Int64(v int64) Value { return Value{kind: KindInt64, num: uint64(v)} }

// Uint32 returns a 32-bit unsigned integer value.
func Uint32(v uint32) Value { return Value{kind: KindUint32, num: uint64(v)} }

// Uint64 returns a 64-bit unsigned integer value.
func Uint64(v uint64) Value { return Value{kind: KindUint64, num: v} }

// Float32 returns a 32-bit float value.
func Float32(v float32) Value {
	return Value{kind: KindFloat32, num: uint64(math.Float32bits(v))}
}

// Float64 returns a 64-bit float value.
func Float64(v float64) Value {
	return Value{kind: KindFloat64, num: math.Float64bits(v)}
}

// String returns a string value.
func String(v string) Value { return Value{kind: KindString, str: v} }

// Bytes returns a bytes value. The input is copied so later mutation of b
// does not reach the Value.
func Bytes(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindBytes, raw: cp}
}

// Array returns an array value holding the given elements.
func Array(elems ...Value) Value {
	cp := make([]Value, len(elems))
	copy(cp, elems)
	return Value{kind: KindArray, arr: cp}
}

// ComponentRef returns a reference to a registered component by id.
func ComponentRef(componentID string) Value {
	return Value{kind: KindComponentRef, ref: componentID}
}

// Kind returns the tag of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload, or false for other kinds.
func (v Value) AsBool() bool { return v.kind == KindBool && v.num != 0 }

// AsInt32 returns the int32 payload, or 0 for other kinds.
func (v Value) AsInt32() int32 {
	if v.kind != KindInt32 {
		return 0
	}
	return int32(uint32(v.num))
}

// AsInt64 returns the int64 payload, or 0 for other kinds.
func (v Value) AsInt64() int64 {
	if v.kind != KindInt64 {
		return 0
	}
	return int64(v.num)
}

// AsUint32 returns the uint32 payload, or 0 for other kinds.
func (v Value) AsUint32() uint32 {
	if v.kind != KindUint32 {
		return 0
	}
	return uint32(v.num)
}

// AsUint64 returns the uint64 payload, or 0 for other kinds.
func (v Value) AsUint64() uint64 {
	if v.kind != KindUint64 {
		return 0
	}
	return v.num
}

// AsFloat32 returns the float32 payload, or 0 for other kinds.
func (v Value) AsFloat32() float32 {
	if v.kind != KindFloat32 {
		return 0
	}
	return math.Float32frombits(uint32(v.num))
}

// AsFloat64 returns the float64 payload, or 0 for other kinds.
func (v Value) AsFloat64() float64 {
	if v.kind != KindFloat64 {
		return 0
	}
	return math.Float64frombits(v.num)
}

// AsString returns the string payload, or "" for other kinds.
func (v Value) AsString() string {
	if v.kind != KindString {
		return ""
	}
	return v.str
}

// AsBytes returns the bytes payload. The returned slice is the Value's own
// storage; use DeepCopy first if the caller may mutate it.
func (v Value) AsBytes() []byte {
	if v.kind != KindBytes {
		return nil
	}
	return v.raw
}

// AsArray returns the array elements, or nil for other kinds.
func (v Value) AsArray() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.arr
}

// AsComponentRef returns the referenced component id, or "".
func (v Value) AsComponentRef() string {
	if v.kind != KindComponentRef {
		return ""
	}
	return v.ref
}

// Matches reports whether the value is exactly the expected kind.
// Null only satisfies KindNull; a declared float64 parameter never
// accepts a null in its place.
func (v Value) Matches(expected Kind) bool {
	return v.kind == expected
}

// CheckKind returns an error unless the value satisfies the expected kind.
func (v Value) CheckKind(expected Kind) error {
	if v.Matches(expected) {
		return nil
	}
	return errors.New(errors.PhaseValue, errors.KindInvalidParameter).
		Detail("expected %s, got %s", expected, v.kind).
		Build()
}

// DeepCopy returns a value sharing no mutable storage with v.
func (v Value) DeepCopy() Value {
	switch v.kind {
	case KindBytes:
		return Bytes(v.raw)
	case KindArray:
		cp := make([]Value, len(v.arr))
		for i, e := range v.arr {
			cp[i] = e.DeepCopy()
		}
		return Value{kind: KindArray, arr: cp}
	default:
		return v
	}
}

// Destroy wipes owned storage and resets the value to null. Byte payloads
// are zeroed before release so secrets do not linger in freed buffers.
// Destroying one of two deep copies never affects the other.
func (v *Value) Destroy() {
	switch v.kind {
	case KindBytes:
		for i := range v.raw {
			v.raw[i] = 0
		}
	case KindArray:
		for i := range v.arr {
			v.arr[i].Destroy()
		}
	}
	*v = Value{}
}

// Equal reports deep equality of two values.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindComponentRef:
		return v.ref == o.ref
	default:
		return v.num == o.num
	}
}

// Size returns the payload size in bytes, used for budget accounting.
func (v Value) Size() uint64 {
	switch v.kind {
	case KindNull:
		return 0
	case KindBool:
		return 1
	case KindInt32, KindUint32, KindFloat32:
		return 4
	case KindInt64, KindUint64, KindFloat64:
		return 8
	case KindString:
		return uint64(len(v.str))
	case KindBytes:
		return uint64(len(v.raw))
	case KindArray:
		var total uint64 = 8
		for _, e := range v.arr {
			total += e.Size()
		}
		return total
	case KindComponentRef:
		return uint64(len(v.ref))
	default:
		return 0
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%v", v.AsBool())
	case KindInt32:
		return fmt.Sprintf("%d", v.AsInt32())
	case KindInt64:
		return fmt.Sprintf("%d", v.AsInt64())
	case KindUint32:
		return fmt.Sprintf("%d", v.AsUint32())
	case KindUint64:
		return fmt.Sprintf("%d", v.AsUint64())
	case KindFloat32:
		return fmt.Sprintf("%g", v.AsFloat32())
	case KindFloat64:
		return fmt.Sprintf("%g", v.AsFloat64())
	case KindString:
		return fmt.Sprintf("%q", v.str)
	case KindBytes:
		return fmt.Sprintf("bytes[%d]", len(v.raw))
	case KindArray:
		return fmt.Sprintf("array[%d]", len(v.arr))
	case KindComponentRef:
		return fmt.Sprintf("ref(%s)", v.ref)
	default:
		return "invalid"
	}
}
