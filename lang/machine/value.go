// Package machine defines the data model shared between the compiler and the
// virtual machine: the Value tagged union consumed and produced by both, and
// the executable Chunk that the compiler emits and the VM runs. The VM
// interpreter loop itself lives with the embedding host.
package machine

import (
	"fmt"
	"math"
	"strconv"
)

// Kind discriminates the payload of a Value.
type Kind uint8

// List of value kinds.
const (
	KindNil Kind = iota
	KindBool
	KindI32
	KindI64
	KindU32
	KindU64
	KindF64
	KindString
	KindArray
	KindFunction
)

var kindNames = [...]string{
	KindNil:      "nil",
	KindBool:     "bool",
	KindI32:      "i32",
	KindI64:      "i64",
	KindU32:      "u32",
	KindU64:      "u64",
	KindF64:      "f64",
	KindString:   "string",
	KindArray:    "array",
	KindFunction: "function",
}

func (k Kind) String() string {
	if int(k) >= len(kindNames) {
		return fmt.Sprintf("<invalid Kind %d>", k)
	}
	return kindNames[k]
}

// Value is the tagged union manipulated by the VM and stored in constant
// pools. It is a small comparable struct: numeric payloads share the bits
// field, strings compare structurally through the str field, and arrays
// compare by reference. Two Values are equal iff their Go == comparison is
// true, which is what the constant pool relies on for deduplication.
type Value struct {
	kind Kind
	bits uint64
	str  string
	arr  *Array
}

// An Array is the runtime array object referenced by array Values. The
// compiler only ever creates empty prototypes; population happens in the VM.
type Array struct {
	Elems []Value
}

// Nil returns the nil value.
func Nil() Value { return Value{kind: KindNil} }

// Bool returns a boolean value.
func Bool(b bool) Value {
	var bits uint64
	if b {
		bits = 1
	}
	return Value{kind: KindBool, bits: bits}
}

// I32 returns a 32-bit signed integer value.
func I32(v int32) Value { return Value{kind: KindI32, bits: uint64(uint32(v))} }

// I64 returns a 64-bit signed integer value.
func I64(v int64) Value { return Value{kind: KindI64, bits: uint64(v)} }

// U32 returns a 32-bit unsigned integer value.
func U32(v uint32) Value { return Value{kind: KindU32, bits: uint64(v)} }

// U64 returns a 64-bit unsigned integer value.
func U64(v uint64) Value { return Value{kind: KindU64, bits: v} }

// F64 returns a 64-bit float value.
func F64(v float64) Value { return Value{kind: KindF64, bits: math.Float64bits(v)} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// ArrayRef returns a value referencing the provided array object.
func ArrayRef(a *Array) Value { return Value{kind: KindArray, arr: a} }

// FuncRef returns a value referencing a function by its index in the unit's
// function table.
func FuncRef(index uint32) Value { return Value{kind: KindFunction, bits: uint64(index)} }

// Kind returns the kind of the value.
func (v Value) Kind() Kind { return v.kind }

// AsBool returns the boolean payload; valid only for KindBool.
func (v Value) AsBool() bool { return v.bits != 0 }

// AsI32 returns the i32 payload; valid only for KindI32.
func (v Value) AsI32() int32 { return int32(uint32(v.bits)) }

// AsI64 returns the i64 payload; valid only for KindI64.
func (v Value) AsI64() int64 { return int64(v.bits) }

// AsU32 returns the u32 payload; valid only for KindU32.
func (v Value) AsU32() uint32 { return uint32(v.bits) }

// AsU64 returns the u64 payload; valid only for KindU64.
func (v Value) AsU64() uint64 { return v.bits }

// AsF64 returns the f64 payload; valid only for KindF64.
func (v Value) AsF64() float64 { return math.Float64frombits(v.bits) }

// AsString returns the string payload; valid only for KindString.
func (v Value) AsString() string { return v.str }

// AsArray returns the array payload; valid only for KindArray.
func (v Value) AsArray() *Array { return v.arr }

// AsFuncIndex returns the function table index; valid only for KindFunction.
func (v Value) AsFuncIndex() uint32 { return uint32(v.bits) }

// IsTruthy reports whether the value is considered true in a condition:
// false and nil are falsy, everything else is truthy.
func (v Value) IsTruthy() bool {
	switch v.kind {
	case KindNil:
		return false
	case KindBool:
		return v.bits != 0
	default:
		return true
	}
}

// String renders the value for disassembly and debugging.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.bits != 0 {
			return "true"
		}
		return "false"
	case KindI32:
		return strconv.FormatInt(int64(v.AsI32()), 10)
	case KindI64:
		return strconv.FormatInt(v.AsI64(), 10)
	case KindU32:
		return strconv.FormatUint(uint64(v.AsU32()), 10)
	case KindU64:
		return strconv.FormatUint(v.AsU64(), 10)
	case KindF64:
		return strconv.FormatFloat(v.AsF64(), 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.str)
	case KindArray:
		return fmt.Sprintf("array(%p)", v.arr)
	case KindFunction:
		return fmt.Sprintf("function#%d", v.AsFuncIndex())
	default:
		return fmt.Sprintf("<invalid Value kind %d>", v.kind)
	}
}
