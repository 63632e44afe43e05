package marshal

import (
	"strconv"

	"github.com/caffeineduck/udfbox/engine"
	lua "github.com/yuin/gopher-lua"
)

// Encode converts an engine value into a Lua value owned by L. It never
// fails for a well-formed value.
//
// Integers a Lua number cannot hold exactly (beyond ±2^53) are encoded as
// decimal strings; Decode parses them back exactly.
func Encode(L *lua.LState, v engine.Value) lua.LValue {
	if v.IsNull() {
		return lua.LNil
	}
	t := v.Type()
	switch t.Kind() {
	case engine.TinyInt, engine.SmallInt, engine.Int, engine.BigInt, engine.Counter, engine.Timestamp, engine.Date:
		n := v.Int64()
		if exactInRuntime(n) {
			return lua.LNumber(n)
		}
		return lua.LString(strconv.FormatInt(n, 10))
	case engine.Varint:
		b := v.Big()
		if b.IsInt64() && exactInRuntime(b.Int64()) {
			return lua.LNumber(b.Int64())
		}
		return lua.LString(b.String())
	case engine.Float, engine.Double:
		return lua.LNumber(v.Float64())
	case engine.Boolean:
		return lua.LBool(v.Bool())
	case engine.ASCII, engine.Text, engine.Blob:
		return lua.LString(v.Bytes())
	case engine.Tuple, engine.List:
		elems := v.Elems()
		tbl := L.CreateTable(len(elems), 0)
		var nulls *lua.LTable
		for i, e := range elems {
			if e.IsNull() {
				nulls = markNull(L, tbl, nulls, lua.LNumber(i+1))
				continue
			}
			tbl.RawSetInt(i+1, Encode(L, e))
		}
		return tbl
	case engine.Set:
		elems := v.Elems()
		tbl := L.CreateTable(0, len(elems))
		for _, e := range elems {
			tbl.RawSet(Encode(L, e), lua.LTrue)
		}
		return tbl
	case engine.Map:
		entries := v.Entries()
		tbl := L.CreateTable(0, len(entries))
		for _, e := range entries {
			if !e.Value.IsNull() {
				tbl.RawSet(Encode(L, e.Key), Encode(L, e.Value))
			}
		}
		return tbl
	case engine.UDT:
		fields := t.Fields()
		tbl := L.CreateTable(0, len(fields))
		var nulls *lua.LTable
		for i, e := range v.Elems() {
			if e.IsNull() {
				nulls = markNull(L, tbl, nulls, lua.LString(fields[i].Name))
				continue
			}
			tbl.RawSetString(fields[i].Name, Encode(L, e))
		}
		return tbl
	}
	panic("marshal: cannot encode " + t.String())
}

// nullsField is the metatable field listing the null members of an encoded
// tuple or UDT. A Lua table cannot hold nil, so without it a null member
// would be indistinguishable from a missing one.
const nullsField = "__nulls"

// markNull records key as a null member of tbl, creating the metatable on
// first use, and returns the set of null keys.
func markNull(L *lua.LState, tbl, nulls *lua.LTable, key lua.LValue) *lua.LTable {
	if nulls == nil {
		nulls = L.NewTable()
		mt := L.CreateTable(0, 1)
		mt.RawSetString(nullsField, nulls)
		L.SetMetatable(tbl, mt)
	}
	nulls.RawSet(key, lua.LTrue)
	return nulls
}

// encodedNull reports whether key is a null member recorded by Encode.
func encodedNull(tbl *lua.LTable, key lua.LValue) bool {
	mt, ok := tbl.Metatable.(*lua.LTable)
	if !ok {
		return false
	}
	nulls, ok := mt.RawGetString(nullsField).(*lua.LTable)
	return ok && nulls.RawGet(key) == lua.LTrue
}
