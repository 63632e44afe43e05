package marshal

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"math/big"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/caffeineduck/udfbox/engine"
	"github.com/caffeineduck/udfbox/sandbox"
	lua "github.com/yuin/gopher-lua"
)

// Decoder failure reasons.
const (
	msgUnexpected     = "unexpected value"
	msgNotInteger     = "value is not an integer"
	msgNotNumber      = "value is not a number"
	msgNotTable       = "value is not a table"
	msgNotSequence    = "table is not a sequence"
	msgSetValues      = "sets are represented with tables with true values"
	msgNotASCII       = "value is not valid ascii"
	msgNotUTF8        = "value is not valid utf8"
	msgTimestampShape = "timestamp must be a string, integer or date table"
	msgTimestampRange = "timestamp value must fit in signed 64 bits"
)

func fail(reason string) error { return sandbox.Marshal(reason) }

func failKey(key, reason string) error {
	e := sandbox.Marshal(reason)
	e.Key = key
	return e
}

// Decode converts a Lua value into an engine value of type t. nil decodes
// to null. Any mismatch fails with a [sandbox.KindMarshal] error.
func Decode(v lua.LValue, t *engine.Type) (engine.Value, error) {
	if v == lua.LNil {
		return engine.Null(t), nil
	}
	switch t.Kind() {
	case engine.TinyInt, engine.SmallInt, engine.Int, engine.BigInt, engine.Counter, engine.Date:
		if t.Kind() == engine.Date {
			if s, ok := v.(lua.LString); ok {
				if _, isNum := parseNumber(string(s)); !isNum {
					return decodeDateString(string(s))
				}
			}
		}
		n, err := decodeInt64(v)
		if err != nil {
			return engine.Value{}, err
		}
		return engine.FromInt64(t, n), nil
	case engine.Varint:
		b, err := decodeBig(v)
		if err != nil {
			return engine.Value{}, err
		}
		return engine.NewVarint(b), nil
	case engine.Float, engine.Double:
		f, err := decodeFloat(v)
		if err != nil {
			return engine.Value{}, err
		}
		return engine.FromFloat64(t, f), nil
	case engine.Boolean:
		b, ok := v.(lua.LBool)
		if !ok {
			return engine.Value{}, fail(msgUnexpected)
		}
		return engine.NewBoolean(bool(b)), nil
	case engine.ASCII:
		s, ok := v.(lua.LString)
		if !ok {
			return engine.Value{}, fail(msgUnexpected)
		}
		for i := 0; i < len(s); i++ {
			if s[i] >= utf8.RuneSelf {
				return engine.Value{}, fail(msgNotASCII)
			}
		}
		return engine.FromBytes(t, []byte(s)), nil
	case engine.Text:
		var s string
		switch lv := v.(type) {
		case lua.LString:
			s = string(lv)
		case lua.LNumber:
			s = lv.String()
		default:
			return engine.Value{}, fail(msgUnexpected)
		}
		if !utf8.ValidString(s) {
			return engine.Value{}, fail(msgNotUTF8)
		}
		return engine.FromBytes(t, []byte(s)), nil
	case engine.Blob:
		s, ok := v.(lua.LString)
		if !ok {
			return engine.Value{}, fail(msgUnexpected)
		}
		return engine.FromBytes(t, []byte(s)), nil
	case engine.Timestamp:
		return decodeTimestamp(v)
	case engine.Tuple:
		return decodeTuple(v, t)
	case engine.List:
		return decodeList(v, t)
	case engine.Set:
		return decodeSet(v, t)
	case engine.Map:
		return decodeMap(v, t)
	case engine.UDT:
		return decodeUDT(v, t)
	}
	return engine.Value{}, fail(fmt.Sprintf("cannot decode into %s", t))
}

func decodeInt64(v lua.LValue) (int64, error) {
	switch lv := v.(type) {
	case lua.LNumber:
		f := float64(lv)
		if !isIntegral(f) {
			return 0, fail(msgNotInteger)
		}
		return wrapFloat(f), nil
	case lua.LString:
		n, ok := parseNumber(string(lv))
		if !ok {
			return 0, fail(msgNotNumber)
		}
		if n.exact {
			return n.i, nil
		}
		if !isIntegral(n.f) {
			return 0, fail(msgNotInteger)
		}
		return wrapFloat(n.f), nil
	}
	return 0, fail(msgUnexpected)
}

func decodeBig(v lua.LValue) (*big.Int, error) {
	switch lv := v.(type) {
	case lua.LNumber:
		f := float64(lv)
		if !isIntegral(f) {
			return nil, fail(msgNotInteger)
		}
		b, _ := new(big.Float).SetFloat64(f).Int(nil)
		return b, nil
	case lua.LString:
		s := strings.TrimSpace(string(lv))
		if b, ok := new(big.Int).SetString(s, 10); ok {
			return b, nil
		}
		n, ok := parseNumber(s)
		if !ok {
			return nil, fail(msgNotNumber)
		}
		if n.exact {
			return big.NewInt(n.i), nil
		}
		if !isIntegral(n.f) {
			return nil, fail(msgNotInteger)
		}
		b, _ := new(big.Float).SetFloat64(n.f).Int(nil)
		return b, nil
	}
	return nil, fail(msgUnexpected)
}

func decodeFloat(v lua.LValue) (float64, error) {
	switch lv := v.(type) {
	case lua.LNumber:
		return float64(lv), nil
	case lua.LString:
		n, ok := parseNumber(string(lv))
		if !ok {
			return 0, fail(msgNotNumber)
		}
		return n.f, nil
	}
	return 0, fail(msgUnexpected)
}

func decodeDateString(s string) (engine.Value, error) {
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return engine.Value{}, fail(fmt.Sprintf("unable to parse date '%s'", s))
	}
	return engine.NewDate(engine.DateOf(d)), nil
}

func decodeTimestamp(v lua.LValue) (engine.Value, error) {
	switch lv := v.(type) {
	case lua.LNumber:
		f := float64(lv)
		if math.IsInf(f, 0) || (isIntegral(f) && (f < -(1<<63) || f >= 1<<63)) {
			return engine.Value{}, fail(msgTimestampRange)
		}
		if !isIntegral(f) {
			return engine.Value{}, fail(msgTimestampShape)
		}
		return engine.NewTimestamp(int64(f)), nil
	case lua.LString:
		ms, err := engine.ParseTimestamp(string(lv))
		if errors.Is(err, engine.ErrTimestampRange) {
			return engine.Value{}, fail(msgTimestampRange)
		}
		if err != nil {
			return engine.Value{}, fail(fmt.Sprintf("unable to parse date '%s': %v", string(lv), err))
		}
		return engine.NewTimestamp(ms), nil
	case *lua.LTable:
		return decodeDateTable(lv)
	}
	return engine.Value{}, fail(msgTimestampShape)
}

// dateFields are the keys of a Lua os.date-style table.
var dateFields = []string{"year", "month", "day", "hour", "min", "sec"}

func decodeDateTable(tbl *lua.LTable) (engine.Value, error) {
	var vals [6]int64
	for i, name := range dateFields {
		lv := tbl.RawGetString(name)
		if lv == lua.LNil {
			if i < 3 {
				return engine.Value{}, failKey(name, fmt.Sprintf("key %s missing in date table", name))
			}
			continue
		}
		n, err := decodeInt64(lv)
		if err != nil {
			return engine.Value{}, err
		}
		vals[i] = n
	}
	ms, err := engine.TimestampFromFields(vals[0], vals[1], vals[2], vals[3], vals[4], vals[5])
	if err != nil {
		return engine.Value{}, fail(err.Error())
	}
	return engine.NewTimestamp(ms), nil
}

type pair struct{ k, v lua.LValue }

// pairs returns the entries of tbl sorted by key. The runtime iterates
// hash keys in random order; sorting makes decoding, the winner of keys
// that decode to the same value and the reported error deterministic.
func pairs(tbl *lua.LTable) []pair {
	return sortedEntries(tbl, 0)
}

// maxCompareDepth bounds recursion into table keys, which may be cyclic.
const maxCompareDepth = 16

// compareLua orders Lua values by type (numbers, strings, booleans, then
// tables), then by value. Tables compare by their sorted entries. Values
// of other types compare equal.
func compareLua(a, b lua.LValue, depth int) int {
	if c := cmp.Compare(typeRank(a), typeRank(b)); c != 0 {
		return c
	}
	switch a := a.(type) {
	case lua.LNumber:
		return cmp.Compare(float64(a), float64(b.(lua.LNumber)))
	case lua.LString:
		return strings.Compare(string(a), string(b.(lua.LString)))
	case lua.LBool:
		return cmp.Compare(boolRank(a), boolRank(b.(lua.LBool)))
	case *lua.LTable:
		if depth >= maxCompareDepth {
			return 0
		}
		return compareTables(a, b.(*lua.LTable), depth+1)
	}
	return 0
}

func typeRank(v lua.LValue) int {
	switch v.(type) {
	case lua.LNumber:
		return 0
	case lua.LString:
		return 1
	case lua.LBool:
		return 2
	case *lua.LTable:
		return 3
	}
	return 4
}

func boolRank(b lua.LBool) int {
	if b {
		return 1
	}
	return 0
}

func compareTables(a, b *lua.LTable, depth int) int {
	pa, pb := sortedEntries(a, depth), sortedEntries(b, depth)
	for i := range min(len(pa), len(pb)) {
		if c := compareLua(pa[i].k, pb[i].k, depth); c != 0 {
			return c
		}
		if c := compareLua(pa[i].v, pb[i].v, depth); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(pa), len(pb))
}

func sortedEntries(tbl *lua.LTable, depth int) []pair {
	var out []pair
	tbl.ForEach(func(k, v lua.LValue) {
		out = append(out, pair{k, v})
	})
	slices.SortStableFunc(out, func(x, y pair) int {
		return compareLua(x.k, y.k, depth)
	})
	return out
}

func asTable(v lua.LValue) (*lua.LTable, error) {
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil, fail(msgNotTable)
	}
	return tbl, nil
}

func decodeTuple(v lua.LValue, t *engine.Type) (engine.Value, error) {
	tbl, err := asTable(v)
	if err != nil {
		return engine.Value{}, err
	}
	comps := t.Components()
	n := len(comps)
	elems := make([]engine.Value, n)
	present := make([]bool, n)
	for _, p := range pairs(tbl) {
		k, err := decodeInt64(p.k)
		if err != nil {
			return engine.Value{}, err
		}
		if k < 1 || k > int64(n) {
			return engine.Value{}, failKey(p.k.String(), fmt.Sprintf("key %d is not valid for a sequence of size %d", k, n))
		}
		if elems[k-1], err = Decode(p.v, comps[k-1]); err != nil {
			return engine.Value{}, err
		}
		present[k-1] = true
	}
	for i, ok := range present {
		switch {
		case ok:
		case encodedNull(tbl, lua.LNumber(i+1)):
			elems[i] = engine.Null(comps[i])
		default:
			return engine.Value{}, failKey(fmt.Sprint(i+1), fmt.Sprintf("key %d missing in sequence of size %d", i+1, n))
		}
	}
	return engine.NewTuple(t, elems...), nil
}

func decodeList(v lua.LValue, t *engine.Type) (engine.Value, error) {
	tbl, err := asTable(v)
	if err != nil {
		return engine.Value{}, err
	}
	type item struct {
		idx int64
		val engine.Value
	}
	ps := pairs(tbl)
	items := make([]item, 0, len(ps))
	for _, p := range ps {
		k, err := decodeInt64(p.k)
		if err != nil {
			return engine.Value{}, err
		}
		e, err := Decode(p.v, t.Elem())
		if err != nil {
			return engine.Value{}, err
		}
		items = append(items, item{k, e})
	}
	slices.SortFunc(items, func(a, b item) int {
		switch {
		case a.idx < b.idx:
			return -1
		case a.idx > b.idx:
			return 1
		}
		return 0
	})
	elems := make([]engine.Value, len(items))
	for i, it := range items {
		if it.idx != int64(i+1) {
			return engine.Value{}, fail(msgNotSequence)
		}
		elems[i] = it.val
	}
	return engine.NewList(t, elems...), nil
}

func decodeSet(v lua.LValue, t *engine.Type) (engine.Value, error) {
	tbl, err := asTable(v)
	if err != nil {
		return engine.Value{}, err
	}
	ps := pairs(tbl)
	elems := make([]engine.Value, 0, len(ps))
	for _, p := range ps {
		if p.v != lua.LTrue {
			return engine.Value{}, fail(msgSetValues)
		}
		e, err := Decode(p.k, t.Elem())
		if err != nil {
			return engine.Value{}, err
		}
		elems = append(elems, e)
	}
	return engine.NewSet(t, elems...), nil
}

func decodeMap(v lua.LValue, t *engine.Type) (engine.Value, error) {
	tbl, err := asTable(v)
	if err != nil {
		return engine.Value{}, err
	}
	ps := pairs(tbl)
	entries := make([]engine.Entry, 0, len(ps))
	for _, p := range ps {
		k, err := Decode(p.k, t.Key())
		if err != nil {
			return engine.Value{}, err
		}
		val, err := Decode(p.v, t.Value())
		if err != nil {
			return engine.Value{}, err
		}
		entries = append(entries, engine.Entry{Key: k, Value: val})
	}
	return engine.NewMap(t, entries...), nil
}

func decodeUDT(v lua.LValue, t *engine.Type) (engine.Value, error) {
	tbl, err := asTable(v)
	if err != nil {
		return engine.Value{}, err
	}
	fields := t.Fields()
	vals := make([]engine.Value, len(fields))
	present := make([]bool, len(fields))
	for _, p := range pairs(tbl) {
		name, ok := p.k.(lua.LString)
		if !ok {
			return engine.Value{}, fail(msgUnexpected)
		}
		i := t.FieldIndex(string(name))
		if i < 0 {
			return engine.Value{}, failKey(string(name), fmt.Sprintf("invalid UDT field '%s'", name))
		}
		if vals[i], err = Decode(p.v, fields[i].Type); err != nil {
			return engine.Value{}, err
		}
		present[i] = true
	}
	for i, f := range fields {
		switch {
		case present[i]:
		case encodedNull(tbl, lua.LString(f.Name)):
			vals[i] = engine.Null(f.Type)
		default:
			return engine.Value{}, failKey(f.Name, fmt.Sprintf("key %s missing in udt %s", f.Name, t.Name()))
		}
	}
	return engine.NewUDT(t, vals...), nil
}
