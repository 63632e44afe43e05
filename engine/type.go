package engine

import (
	"fmt"
	"strings"
)

// Kind identifies the shape of an engine type.
type Kind int

const (
	Invalid Kind = iota
	TinyInt
	SmallInt
	Int
	BigInt
	Varint
	Float
	Double
	Boolean
	ASCII
	Text
	Blob
	Counter
	Timestamp
	Date
	Tuple
	List
	Set
	Map
	UDT
)

var kindNames = [...]string{
	Invalid:   "invalid",
	TinyInt:   "tinyint",
	SmallInt:  "smallint",
	Int:       "int",
	BigInt:    "bigint",
	Varint:    "varint",
	Float:     "float",
	Double:    "double",
	Boolean:   "boolean",
	ASCII:     "ascii",
	Text:      "text",
	Blob:      "blob",
	Counter:   "counter",
	Timestamp: "timestamp",
	Date:      "date",
	Tuple:     "tuple",
	List:      "list",
	Set:       "set",
	Map:       "map",
	UDT:       "udt",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// IsInteger reports whether values of kind k are integral numbers.
func (k Kind) IsInteger() bool {
	switch k {
	case TinyInt, SmallInt, Int, BigInt, Varint, Counter:
		return true
	}
	return false
}

// IsCollection reports whether k is list, set or map.
func (k Kind) IsCollection() bool {
	return k == List || k == Set || k == Map
}

// Field is a named component of a user-defined type.
type Field struct {
	Name string
	Type *Type
}

// Type describes an engine type. Types are immutable once built.
type Type struct {
	kind   Kind
	elems  []*Type // list/set element, map key and value, tuple components
	name   string  // UDT name
	fields []Field // UDT fields in declared order
	frozen bool
}

// Scalar types.
var (
	TinyIntType   = &Type{kind: TinyInt}
	SmallIntType  = &Type{kind: SmallInt}
	IntType       = &Type{kind: Int}
	BigIntType    = &Type{kind: BigInt}
	VarintType    = &Type{kind: Varint}
	FloatType     = &Type{kind: Float}
	DoubleType    = &Type{kind: Double}
	BooleanType   = &Type{kind: Boolean}
	ASCIIType     = &Type{kind: ASCII}
	TextType      = &Type{kind: Text}
	BlobType      = &Type{kind: Blob}
	CounterType   = &Type{kind: Counter}
	TimestampType = &Type{kind: Timestamp}
	DateType      = &Type{kind: Date}
)

var scalarTypes = map[string]*Type{
	"tinyint":   TinyIntType,
	"smallint":  SmallIntType,
	"int":       IntType,
	"bigint":    BigIntType,
	"varint":    VarintType,
	"float":     FloatType,
	"double":    DoubleType,
	"boolean":   BooleanType,
	"ascii":     ASCIIType,
	"text":      TextType,
	"varchar":   TextType,
	"blob":      BlobType,
	"counter":   CounterType,
	"timestamp": TimestampType,
	"date":      DateType,
}

// ListOf returns the type list<elem>.
func ListOf(elem *Type) *Type {
	return &Type{kind: List, elems: []*Type{elem}}
}

// SetOf returns the type set<elem>.
func SetOf(elem *Type) *Type {
	return &Type{kind: Set, elems: []*Type{elem}}
}

// MapOf returns the type map<key, value>.
func MapOf(key, value *Type) *Type {
	return &Type{kind: Map, elems: []*Type{key, value}}
}

// TupleOf returns the type tuple<elems...>.
func TupleOf(elems ...*Type) *Type {
	return &Type{kind: Tuple, elems: append([]*Type(nil), elems...)}
}

// UserType returns a user-defined structure type with the given fields.
func UserType(name string, fields ...Field) *Type {
	return &Type{kind: UDT, name: name, fields: append([]Field(nil), fields...)}
}

// FrozenOf returns a frozen copy of t.
func FrozenOf(t *Type) *Type {
	c := *t
	c.frozen = true
	return &c
}

func (t *Type) Kind() Kind { return t.kind }

// Elem returns the element type of a list or set.
func (t *Type) Elem() *Type {
	if t.kind != List && t.kind != Set {
		panic("engine: Elem of " + t.kind.String())
	}
	return t.elems[0]
}

// Key returns the key type of a map.
func (t *Type) Key() *Type {
	if t.kind != Map {
		panic("engine: Key of " + t.kind.String())
	}
	return t.elems[0]
}

// Value returns the value type of a map.
func (t *Type) Value() *Type {
	if t.kind != Map {
		panic("engine: Value of " + t.kind.String())
	}
	return t.elems[1]
}

// Components returns the component types of a tuple.
func (t *Type) Components() []*Type {
	return t.elems
}

// Name returns the name of a user-defined type.
func (t *Type) Name() string { return t.name }

// Fields returns the fields of a user-defined type in declared order.
func (t *Type) Fields() []Field { return t.fields }

// FieldIndex returns the position of the named field, or -1.
func (t *Type) FieldIndex(name string) int {
	for i, f := range t.fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Frozen reports whether t was declared frozen.
func (t *Type) Frozen() bool { return t.frozen }

// Equal reports whether t and u describe the same values. Frozenness is
// a storage property and is ignored.
func (t *Type) Equal(u *Type) bool {
	if t == u {
		return true
	}
	if t == nil || u == nil || t.kind != u.kind || t.name != u.name ||
		len(t.elems) != len(u.elems) || len(t.fields) != len(u.fields) {
		return false
	}
	for i := range t.elems {
		if !t.elems[i].Equal(u.elems[i]) {
			return false
		}
	}
	for i := range t.fields {
		if t.fields[i].Name != u.fields[i].Name || !t.fields[i].Type.Equal(u.fields[i].Type) {
			return false
		}
	}
	return true
}

// String renders t in CQL syntax, e.g. "map<int, frozen<set<text>>>".
func (t *Type) String() string {
	var s string
	switch t.kind {
	case List, Set, Map, Tuple:
		parts := make([]string, len(t.elems))
		for i, e := range t.elems {
			parts[i] = e.String()
		}
		s = t.kind.String() + "<" + strings.Join(parts, ", ") + ">"
	case UDT:
		s = t.name
	default:
		s = t.kind.String()
	}
	if t.frozen {
		return "frozen<" + s + ">"
	}
	return s
}
