package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
)

// Serialize returns the canonical serialized form of v. It returns nil for
// a null value.
func Serialize(v Value) []byte {
	if v.null {
		return nil
	}
	return appendValue(nil, v)
}

// Compare orders values by the byte-wise comparison of their serialized
// forms. A null sorts before every non-null value.
func Compare(a, b Value) int {
	switch {
	case a.null && b.null:
		return 0
	case a.null:
		return -1
	case b.null:
		return 1
	}
	return bytes.Compare(Serialize(a), Serialize(b))
}

func appendValue(dst []byte, v Value) []byte {
	switch v.typ.kind {
	case TinyInt:
		return append(dst, byte(v.num))
	case SmallInt:
		return binary.BigEndian.AppendUint16(dst, uint16(v.num))
	case Int, Date:
		return binary.BigEndian.AppendUint32(dst, uint32(v.num))
	case BigInt, Counter, Timestamp:
		return binary.BigEndian.AppendUint64(dst, uint64(v.num))
	case Varint:
		return append(dst, varintBytes(v.big)...)
	case Float:
		return binary.BigEndian.AppendUint32(dst, math.Float32bits(float32(v.flt)))
	case Double:
		return binary.BigEndian.AppendUint64(dst, math.Float64bits(v.flt))
	case Boolean:
		return append(dst, byte(v.num))
	case ASCII, Text, Blob:
		return append(dst, v.bytes...)
	case List, Set:
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(v.elems)))
		for _, e := range v.elems {
			dst = appendComponent(dst, e)
		}
		return dst
	case Map:
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(v.keys)))
		for i := range v.keys {
			dst = appendComponent(dst, v.keys[i])
			dst = appendComponent(dst, v.elems[i])
		}
		return dst
	case Tuple, UDT:
		for _, e := range v.elems {
			dst = appendComponent(dst, e)
		}
		return dst
	}
	panic("engine: serialize " + v.typ.String())
}

// appendComponent writes a length-prefixed value; -1 marks null.
func appendComponent(dst []byte, v Value) []byte {
	if v.null {
		return binary.BigEndian.AppendUint32(dst, math.MaxUint32)
	}
	at := len(dst)
	dst = append(dst, 0, 0, 0, 0)
	dst = appendValue(dst, v)
	binary.BigEndian.PutUint32(dst[at:], uint32(len(dst)-at-4))
	return dst
}

// varintBytes encodes x as minimal big-endian two's complement.
func varintBytes(x *big.Int) []byte {
	var n int
	if x.Sign() < 0 {
		n = new(big.Int).Not(x).BitLen()/8 + 1
	} else {
		n = x.BitLen()/8 + 1
	}
	u := new(big.Int).Set(x)
	if x.Sign() < 0 {
		u.Add(u, new(big.Int).Lsh(big.NewInt(1), uint(8*n)))
	}
	return u.FillBytes(make([]byte, n))
}

// Deserialize decodes the serialized form of a non-null value of type t.
func Deserialize(t *Type, data []byte) (Value, error) {
	v, rest, err := readValue(t, data)
	if err != nil {
		return Value{}, err
	}
	if len(rest) != 0 {
		return Value{}, fmt.Errorf("%s: %d trailing bytes", t, len(rest))
	}
	return v, nil
}

// readValue decodes one value of type t from the front of data.
// Variable-width scalars consume all of data.
func readValue(t *Type, data []byte) (Value, []byte, error) {
	fixed := func(n int) ([]byte, []byte, error) {
		if len(data) < n {
			return nil, nil, fmt.Errorf("%s: expected %d bytes, got %d", t, n, len(data))
		}
		return data[:n], data[n:], nil
	}
	switch t.kind {
	case TinyInt, Boolean:
		b, rest, err := fixed(1)
		if err != nil {
			return Value{}, nil, err
		}
		if t.kind == Boolean {
			return NewBoolean(b[0] != 0), rest, nil
		}
		return NewTinyInt(int8(b[0])), rest, nil
	case SmallInt:
		b, rest, err := fixed(2)
		if err != nil {
			return Value{}, nil, err
		}
		return NewSmallInt(int16(binary.BigEndian.Uint16(b))), rest, nil
	case Int, Date, Float:
		b, rest, err := fixed(4)
		if err != nil {
			return Value{}, nil, err
		}
		u := binary.BigEndian.Uint32(b)
		switch t.kind {
		case Int:
			return NewInt(int32(u)), rest, nil
		case Date:
			return NewDate(u), rest, nil
		}
		return NewFloat(math.Float32frombits(u)), rest, nil
	case BigInt, Counter, Timestamp, Double:
		b, rest, err := fixed(8)
		if err != nil {
			return Value{}, nil, err
		}
		u := binary.BigEndian.Uint64(b)
		if t.kind == Double {
			return NewDouble(math.Float64frombits(u)), rest, nil
		}
		return FromInt64(t, int64(u)), rest, nil
	case Varint:
		if len(data) == 0 {
			return Value{}, nil, fmt.Errorf("varint: empty encoding")
		}
		x := new(big.Int).SetBytes(data)
		if data[0]&0x80 != 0 {
			x.Sub(x, new(big.Int).Lsh(big.NewInt(1), uint(8*len(data))))
		}
		return Value{typ: t, big: x}, nil, nil
	case ASCII, Text, Blob:
		return FromBytes(t, data), nil, nil
	case List, Set:
		n, rest, err := readCount(t, data)
		if err != nil {
			return Value{}, nil, err
		}
		elems := make([]Value, 0, n)
		for range n {
			var e Value
			if e, rest, err = readComponent(t.elems[0], rest); err != nil {
				return Value{}, nil, err
			}
			elems = append(elems, e)
		}
		if t.kind == Set {
			return NewSet(t, elems...), rest, nil
		}
		return NewList(t, elems...), rest, nil
	case Map:
		n, rest, err := readCount(t, data)
		if err != nil {
			return Value{}, nil, err
		}
		entries := make([]Entry, 0, n)
		for range n {
			var k, v Value
			if k, rest, err = readComponent(t.elems[0], rest); err != nil {
				return Value{}, nil, err
			}
			if v, rest, err = readComponent(t.elems[1], rest); err != nil {
				return Value{}, nil, err
			}
			entries = append(entries, Entry{Key: k, Value: v})
		}
		return NewMap(t, entries...), rest, nil
	case Tuple, UDT:
		comps := t.elems
		if t.kind == UDT {
			comps = make([]*Type, len(t.fields))
			for i, f := range t.fields {
				comps[i] = f.Type
			}
		}
		rest := data
		elems := make([]Value, len(comps))
		for i, ct := range comps {
			// Trailing components may be omitted and read as null.
			if len(rest) == 0 {
				elems[i] = Null(ct)
				continue
			}
			var err error
			if elems[i], rest, err = readComponent(ct, rest); err != nil {
				return Value{}, nil, err
			}
		}
		return Value{typ: t, elems: elems}, rest, nil
	}
	return Value{}, nil, fmt.Errorf("cannot deserialize %s", t)
}

func readCount(t *Type, data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("%s: truncated element count", t)
	}
	n := binary.BigEndian.Uint32(data)
	if int64(n) > int64(len(data)-4)/4 {
		return 0, nil, fmt.Errorf("%s: element count %d exceeds input", t, n)
	}
	return n, data[4:], nil
}

func readComponent(t *Type, data []byte) (Value, []byte, error) {
	if len(data) < 4 {
		return Value{}, nil, fmt.Errorf("%s: truncated length", t)
	}
	size := int32(binary.BigEndian.Uint32(data))
	data = data[4:]
	if size < 0 {
		return Null(t), data, nil
	}
	if int(size) > len(data) {
		return Value{}, nil, fmt.Errorf("%s: length %d exceeds input", t, size)
	}
	v, rest, err := readValue(t, data[:size])
	if err != nil {
		return Value{}, nil, err
	}
	if len(rest) != 0 {
		return Value{}, nil, fmt.Errorf("%s: %d trailing bytes", t, len(rest))
	}
	return v, data[size:], nil
}
