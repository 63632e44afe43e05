package engine

import (
	"fmt"
	"math/big"
	"slices"
)

// DateEpoch is the day number of 1970-01-01 in the date type.
const DateEpoch = 1 << 31

// Value is an immutable, possibly null, instance of a [Type].
type Value struct {
	typ   *Type
	null  bool
	num   int64    // integers, timestamp, date, boolean
	flt   float64  // float, double
	bytes []byte   // ascii, text, blob
	big   *big.Int // varint
	elems []Value  // tuple components, list/set elements, map values, UDT fields
	keys  []Value  // map keys, parallel to elems
}

// Entry is one key/value pair of a map.
type Entry struct {
	Key   Value
	Value Value
}

// Null returns the null value of type t.
func Null(t *Type) Value { return Value{typ: t, null: true} }

func NewTinyInt(v int8) Value     { return Value{typ: TinyIntType, num: int64(v)} }
func NewSmallInt(v int16) Value   { return Value{typ: SmallIntType, num: int64(v)} }
func NewInt(v int32) Value        { return Value{typ: IntType, num: int64(v)} }
func NewBigInt(v int64) Value     { return Value{typ: BigIntType, num: v} }
func NewCounter(v int64) Value    { return Value{typ: CounterType, num: v} }
func NewFloat(v float32) Value    { return Value{typ: FloatType, flt: float64(v)} }
func NewDouble(v float64) Value   { return Value{typ: DoubleType, flt: v} }
func NewTimestamp(ms int64) Value { return Value{typ: TimestampType, num: ms} }
func NewDate(days uint32) Value   { return Value{typ: DateType, num: int64(days)} }
func NewASCII(s string) Value     { return Value{typ: ASCIIType, bytes: []byte(s)} }
func NewText(s string) Value      { return Value{typ: TextType, bytes: []byte(s)} }

func NewBlob(b []byte) Value {
	return Value{typ: BlobType, bytes: slices.Clone(b)}
}

func NewBoolean(v bool) Value {
	var n int64
	if v {
		n = 1
	}
	return Value{typ: BooleanType, num: n}
}

func NewVarint(v *big.Int) Value {
	return Value{typ: VarintType, big: new(big.Int).Set(v)}
}

// FromInt64 builds a value of integer-like type t from v, truncating v to
// the width of t in two's complement.
func FromInt64(t *Type, v int64) Value {
	switch t.kind {
	case TinyInt:
		v = int64(int8(v))
	case SmallInt:
		v = int64(int16(v))
	case Int:
		v = int64(int32(v))
	case Date:
		v = int64(uint32(v))
	case BigInt, Counter, Timestamp:
	case Varint:
		return Value{typ: t, big: big.NewInt(v)}
	default:
		panic("engine: FromInt64 on " + t.String())
	}
	return Value{typ: t, num: v}
}

// FromFloat64 builds a float or double value of type t.
func FromFloat64(t *Type, v float64) Value {
	switch t.kind {
	case Float:
		v = float64(float32(v))
	case Double:
	default:
		panic("engine: FromFloat64 on " + t.String())
	}
	return Value{typ: t, flt: v}
}

// FromBytes builds an ascii, text or blob value of type t.
func FromBytes(t *Type, b []byte) Value {
	switch t.kind {
	case ASCII, Text, Blob:
	default:
		panic("engine: FromBytes on " + t.String())
	}
	return Value{typ: t, bytes: slices.Clone(b)}
}

// NewTuple builds a tuple of type t. Null components are allowed.
func NewTuple(t *Type, elems ...Value) Value {
	if t.kind != Tuple || len(elems) != len(t.elems) {
		panic(fmt.Sprintf("engine: %d components for %s", len(elems), t))
	}
	return Value{typ: t, elems: slices.Clone(elems)}
}

// NewList builds a list of type t.
func NewList(t *Type, elems ...Value) Value {
	if t.kind != List {
		panic("engine: NewList of " + t.String())
	}
	return Value{typ: t, elems: slices.Clone(elems)}
}

// NewSet builds a set of type t. Elements are ordered and deduplicated
// under [Compare].
func NewSet(t *Type, elems ...Value) Value {
	if t.kind != Set {
		panic("engine: NewSet of " + t.String())
	}
	s := slices.Clone(elems)
	slices.SortStableFunc(s, Compare)
	s = slices.CompactFunc(s, func(a, b Value) bool { return Compare(a, b) == 0 })
	return Value{typ: t, elems: s}
}

// NewMap builds a map of type t. Entries are ordered by key under
// [Compare]; when keys collide the later entry wins.
func NewMap(t *Type, entries ...Entry) Value {
	if t.kind != Map {
		panic("engine: NewMap of " + t.String())
	}
	e := slices.Clone(entries)
	slices.SortStableFunc(e, func(a, b Entry) int { return Compare(a.Key, b.Key) })
	keys := make([]Value, 0, len(e))
	vals := make([]Value, 0, len(e))
	for i, ent := range e {
		if i+1 < len(e) && Compare(ent.Key, e[i+1].Key) == 0 {
			continue
		}
		keys = append(keys, ent.Key)
		vals = append(vals, ent.Value)
	}
	return Value{typ: t, keys: keys, elems: vals}
}

// NewUDT builds a structure of type t with field values in declared order.
func NewUDT(t *Type, fields ...Value) Value {
	if t.kind != UDT || len(fields) != len(t.fields) {
		panic(fmt.Sprintf("engine: %d fields for %s", len(fields), t))
	}
	return Value{typ: t, elems: slices.Clone(fields)}
}

func (v Value) Type() *Type  { return v.typ }
func (v Value) IsNull() bool { return v.null }

// Int64 returns an integer, timestamp, date or counter value.
func (v Value) Int64() int64 {
	if v.typ.kind == Varint {
		return v.big.Int64()
	}
	return v.num
}

// Big returns a copy of a varint value.
func (v Value) Big() *big.Int {
	if v.big == nil {
		return big.NewInt(v.num)
	}
	return new(big.Int).Set(v.big)
}

// Float64 returns a float or double value.
func (v Value) Float64() float64 { return v.flt }

// Bool returns a boolean value.
func (v Value) Bool() bool { return v.num != 0 }

// Bytes returns the contents of an ascii, text or blob value.
func (v Value) Bytes() []byte { return v.bytes }

// Text returns the contents of an ascii, text or blob value as a string.
func (v Value) Text() string { return string(v.bytes) }

// Elems returns tuple components, list or set elements, or UDT fields in
// declared order.
func (v Value) Elems() []Value { return v.elems }

// Entries returns the entries of a map in key order.
func (v Value) Entries() []Entry {
	out := make([]Entry, len(v.keys))
	for i := range v.keys {
		out[i] = Entry{Key: v.keys[i], Value: v.elems[i]}
	}
	return out
}

// Field returns the named field of a UDT value.
func (v Value) Field(name string) (Value, bool) {
	i := v.typ.FieldIndex(name)
	if i < 0 {
		return Value{}, false
	}
	return v.elems[i], true
}

// Equal reports whether a and b have equal types and identical serialized
// forms. Two nulls of equal type are equal.
func Equal(a, b Value) bool {
	if !a.typ.Equal(b.typ) || a.null != b.null {
		return false
	}
	return a.null || Compare(a, b) == 0
}
