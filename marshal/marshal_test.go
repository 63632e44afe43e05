package marshal

import (
	"math"
	"math/big"
	"testing"

	"github.com/caffeineduck/udfbox/engine"
	"github.com/caffeineduck/udfbox/sandbox"
	"github.com/google/go-cmp/cmp"
	lua "github.com/yuin/gopher-lua"
)

// eval runs "return <expr>" in a fresh Lua state and returns the result.
func eval(t *testing.T, L *lua.LState, expr string) lua.LValue {
	t.Helper()
	if err := L.DoString("return " + expr); err != nil {
		t.Fatalf("eval %q: %v", expr, err)
	}
	v := L.Get(-1)
	L.Pop(1)
	return v
}

func newState(t *testing.T) *lua.LState {
	L := lua.NewState()
	t.Cleanup(L.Close)
	return L
}

var valueComparer = cmp.Comparer(engine.Equal)

// =============================================================================
// DECODER: SCALARS
// =============================================================================

func TestDecodeIntegers(t *testing.T) {
	L := newState(t)
	tests := []struct {
		expr string
		typ  *engine.Type
		want engine.Value
	}{
		{"4", engine.IntType, engine.NewInt(4)},
		{"2147483648", engine.IntType, engine.NewInt(math.MinInt32)},
		{"2^32 + 7", engine.IntType, engine.NewInt(7)},
		{"-1", engine.TinyIntType, engine.NewTinyInt(-1)},
		{"200", engine.TinyIntType, engine.NewTinyInt(-56)},
		{"70000", engine.SmallIntType, engine.NewSmallInt(4464)},
		{"2^64 + 2^12", engine.BigIntType, engine.NewBigInt(4096)},
		{"-(2^63)", engine.BigIntType, engine.NewBigInt(math.MinInt64)},
		{`"123"`, engine.IntType, engine.NewInt(123)},
		{`" 42 "`, engine.IntType, engine.NewInt(42)},
		{`"0x123p+1"`, engine.IntType, engine.NewInt(582)},
		{`"0x10"`, engine.IntType, engine.NewInt(16)},
		{`"1e3"`, engine.IntType, engine.NewInt(1000)},
		{`"9223372036854775807"`, engine.BigIntType, engine.NewBigInt(math.MaxInt64)},
		{"12", engine.CounterType, engine.NewCounter(12)},
		{"2^31 + 18134", engine.DateType, engine.NewDate(engine.DateEpoch + 18134)},
		{`"2019-08-26"`, engine.DateType, engine.NewDate(engine.DateEpoch + 18134)},
	}
	for _, tt := range tests {
		t.Run(tt.expr+"/"+tt.typ.String(), func(t *testing.T) {
			got, err := Decode(eval(t, L, tt.expr), tt.typ)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got, valueComparer); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeVarint(t *testing.T) {
	L := newState(t)
	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	tests := []struct {
		expr string
		want *big.Int
	}{
		{"2^70", new(big.Int).Lsh(big.NewInt(1), 70)},
		{`"123456789012345678901234567890"`, huge},
		{"-5", big.NewInt(-5)},
		{`"0x20"`, big.NewInt(32)},
	}
	for _, tt := range tests {
		got, err := Decode(eval(t, L, tt.expr), engine.VarintType)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.expr, err)
		}
		if got.Big().Cmp(tt.want) != 0 {
			t.Errorf("%s: got %v, want %v", tt.expr, got.Big(), tt.want)
		}
	}
}

func TestDecodeDouble(t *testing.T) {
	L := newState(t)
	tests := []struct {
		expr string
		want float64
	}{
		{"4.2", 4.2},
		{"math.huge", math.Inf(1)},
		{"-math.huge", math.Inf(-1)},
		{`"1.5"`, 1.5},
		{`"17"`, 17},
	}
	for _, tt := range tests {
		got, err := Decode(eval(t, L, tt.expr), engine.DoubleType)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.expr, err)
		}
		if got.Float64() != tt.want {
			t.Errorf("%s: got %v, want %v", tt.expr, got.Float64(), tt.want)
		}
	}

	got, err := Decode(eval(t, L, "0/0"), engine.DoubleType)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !math.IsNaN(got.Float64()) {
		t.Errorf("expected NaN, got %v", got.Float64())
	}

	f, err := Decode(eval(t, L, "0.1"), engine.FloatType)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Float64() != float64(float32(0.1)) {
		t.Errorf("float should be narrowed to 32 bits, got %v", f.Float64())
	}
}

func TestDecodeText(t *testing.T) {
	L := newState(t)
	tests := []struct {
		expr string
		typ  *engine.Type
		want string
	}{
		{`"hello"`, engine.TextType, "hello"},
		{"3", engine.TextType, "3"},
		{"1.5", engine.TextType, "1.5"},
		{`"h\195\169llo"`, engine.TextType, "héllo"},
		{`"abc"`, engine.ASCIIType, "abc"},
		{`"\0\255"`, engine.BlobType, "\x00\xff"},
	}
	for _, tt := range tests {
		got, err := Decode(eval(t, L, tt.expr), tt.typ)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.expr, err)
		}
		if got.Text() != tt.want {
			t.Errorf("%s: got %q, want %q", tt.expr, got.Text(), tt.want)
		}
	}
}

func TestDecodeTimestamp(t *testing.T) {
	L := newState(t)
	tests := []struct {
		expr string
		want int64
	}{
		{"1296705906000", 1296705906000},
		{`"2011-02-03 04:05:06+0000"`, 1296705906000},
		{`"2011-03-02 04:05+0000"`, 1299038700000},
		{`"1296705906000"`, 1296705906000},
		{"{year=2011, month=2, day=3, hour=4, min=5, sec=6}", 1296705906000},
		{"{year=2011, month=2, day=3, hour=4, min=5, sec=6, isdst=false}", 1296705906000},
		{"{year=2011, month=2, day=3}", 1296691200000},
	}
	for _, tt := range tests {
		got, err := Decode(eval(t, L, tt.expr), engine.TimestampType)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.expr, err)
		}
		if got.Int64() != tt.want {
			t.Errorf("%s: got %d, want %d", tt.expr, got.Int64(), tt.want)
		}
	}
}

func TestDecodeNil(t *testing.T) {
	for _, typ := range []*engine.Type{engine.IntType, engine.TextType, engine.ListOf(engine.IntType)} {
		got, err := Decode(lua.LNil, typ)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !got.IsNull() || !got.Type().Equal(typ) {
			t.Errorf("nil should decode to null %s, got %v", typ, got)
		}
	}
}

// =============================================================================
// DECODER: COMPOSITES
// =============================================================================

func TestDecodeCollections(t *testing.T) {
	L := newState(t)
	myType := engine.UserType("my_type",
		engine.Field{Name: "my_int", Type: engine.IntType},
		engine.Field{Name: "my_double", Type: engine.DoubleType})
	intList := engine.ListOf(engine.IntType)

	tests := []struct {
		name string
		expr string
		typ  *engine.Type
		want engine.Value
	}{
		{"list", "{1, 2, 3}", intList,
			engine.NewList(intList, engine.NewInt(1), engine.NewInt(2), engine.NewInt(3))},
		{"empty list", "{}", intList, engine.NewList(intList)},
		{"list explicit keys", "{[2]=20, [1]=10}", intList,
			engine.NewList(intList, engine.NewInt(10), engine.NewInt(20))},
		{"set", "{[1]=true, [42]=true}", engine.SetOf(engine.IntType),
			engine.NewSet(engine.SetOf(engine.IntType), engine.NewInt(1), engine.NewInt(42))},
		{"set of lists", "{[{1, 2}]=true, [{3}]=true}", engine.SetOf(engine.FrozenOf(intList)),
			engine.NewSet(engine.SetOf(engine.FrozenOf(intList)),
				engine.NewList(intList, engine.NewInt(1), engine.NewInt(2)),
				engine.NewList(intList, engine.NewInt(3)))},
		{"map", "{foo=1, bar=2}", engine.MapOf(engine.TextType, engine.IntType),
			engine.NewMap(engine.MapOf(engine.TextType, engine.IntType),
				engine.Entry{Key: engine.NewText("foo"), Value: engine.NewInt(1)},
				engine.Entry{Key: engine.NewText("bar"), Value: engine.NewInt(2)})},
		{"map collapsing keys", `{[1]=1, ["1"]=2}`, engine.MapOf(engine.IntType, engine.IntType), engine.Value{}},
		{"tuple", `{1, "a"}`, engine.TupleOf(engine.IntType, engine.TextType),
			engine.NewTuple(engine.TupleOf(engine.IntType, engine.TextType), engine.NewInt(1), engine.NewText("a"))},
		{"udt", "{my_int=1, my_double=2.5}", myType,
			engine.NewUDT(myType, engine.NewInt(1), engine.NewDouble(2.5))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(eval(t, L, tt.expr), tt.typ)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.name == "map collapsing keys" {
				if n := len(got.Entries()); n != 1 {
					t.Errorf("expected duplicate keys to collapse, got %v", got)
				}
				return
			}
			if diff := cmp.Diff(tt.want, got, valueComparer); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	L := newState(t)
	myType := engine.UserType("my_type",
		engine.Field{Name: "my_int", Type: engine.IntType},
		engine.Field{Name: "my_double", Type: engine.DoubleType})
	pair := engine.TupleOf(engine.IntType, engine.TextType)

	tests := []struct {
		name string
		expr string
		typ  *engine.Type
		want string
	}{
		{"fraction to int", "4.2", engine.IntType, "value is not an integer"},
		{"fraction to tinyint", "4.2", engine.TinyIntType, "value is not an integer"},
		{"fraction to bigint", "4.2", engine.BigIntType, "value is not an integer"},
		{"fraction to counter", "4.2", engine.CounterType, "value is not an integer"},
		{"fraction to varint", "4.2", engine.VarintType, "value is not an integer"},
		{"infinity to int", "math.huge", engine.IntType, "value is not an integer"},
		{"empty string", `""`, engine.IntType, "value is not a number"},
		{"word", `"foo"`, engine.IntType, "value is not a number"},
		{"inf word", `"inf"`, engine.IntType, "value is not a number"},
		{"fraction string", `"4.5"`, engine.IntType, "value is not an integer"},
		{"bool to int", "true", engine.IntType, "unexpected value"},
		{"bool to double", "false", engine.DoubleType, "unexpected value"},
		{"table to int", "{}", engine.IntType, "unexpected value"},
		{"number to bool", "1", engine.BooleanType, "unexpected value"},
		{"bad ascii", `"caf\233"`, engine.ASCIIType, "value is not valid ascii"},
		{"bad utf8", `"\255"`, engine.TextType, "value is not valid utf8"},
		{"bool to text", "true", engine.TextType, "unexpected value"},
		{"number to blob", "1", engine.BlobType, "unexpected value"},
		{"float timestamp", "42.2", engine.TimestampType, "timestamp must be a string, integer or date table"},
		{"bool timestamp", "true", engine.TimestampType, "timestamp must be a string, integer or date table"},
		{"huge timestamp", "2^63", engine.TimestampType, "timestamp value must fit in signed 64 bits"},
		{"huge timestamp string", `"9223372036854775808"`, engine.TimestampType, "timestamp value must fit in signed 64 bits"},
		{"bad timestamp", `"abc"`, engine.TimestampType, "unable to parse date 'abc': Unable to parse timestamp from 'abc'"},
		{"year range", "{year=1300, month=1, day=1}", engine.TimestampType, "Year is out of valid range: 1400..9999"},
		{"missing day", "{year=2000, month=1}", engine.TimestampType, "key day missing in date table"},
		{"list not table", "42", engine.ListOf(engine.IntType), "value is not a table"},
		{"list gap", "{[1]=42, [3]=43}", engine.ListOf(engine.IntType), "table is not a sequence"},
		{"list zero key", "{[0]=1}", engine.ListOf(engine.IntType), "table is not a sequence"},
		{"list string key", "{foo=42}", engine.ListOf(engine.IntType), "value is not a number"},
		{"list bad element", "{1.2}", engine.ListOf(engine.IntType), "value is not an integer"},
		{"set not table", `"x"`, engine.SetOf(engine.IntType), "value is not a table"},
		{"set false", "{[1]=false}", engine.SetOf(engine.IntType), "sets are represented with tables with true values"},
		{"set as list", "{5}", engine.SetOf(engine.IntType), "sets are represented with tables with true values"},
		{"map not table", "1", engine.MapOf(engine.IntType, engine.IntType), "value is not a table"},
		{"map bad value", "{[1]=1.5}", engine.MapOf(engine.IntType, engine.IntType), "value is not an integer"},
		{"tuple extra key", `{1, "a", 3}`, pair, "key 3 is not valid for a sequence of size 2"},
		{"tuple missing key", "{1}", pair, "key 2 missing in sequence of size 2"},
		{"tuple not table", "1", pair, "value is not a table"},
		{"udt missing field", "{my_int=1}", myType, "key my_double missing in udt my_type"},
		{"udt unknown field", "{my_int=1, my_float=2.5}", myType, "invalid UDT field 'my_float'"},
		{"udt non-string key", "{[1]=2}", myType, "unexpected value"},
		{"udt bad field value", `{my_int="x", my_double=1}`, myType, "value is not a number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(eval(t, L, tt.expr), tt.typ)
			if err == nil {
				t.Fatalf("expected error %q", tt.want)
			}
			if err.Error() != tt.want {
				t.Errorf("got %q, want %q", err.Error(), tt.want)
			}
			if sandbox.KindOf(err) != sandbox.KindMarshal {
				t.Errorf("kind %v, want %v", sandbox.KindOf(err), sandbox.KindMarshal)
			}
		})
	}
}

func TestDecodeIsDeterministic(t *testing.T) {
	L := newState(t)
	intMap := engine.MapOf(engine.IntType, engine.IntType)
	myType := engine.UserType("my_type",
		engine.Field{Name: "my_int", Type: engine.IntType},
		engine.Field{Name: "my_double", Type: engine.DoubleType})
	want := engine.NewMap(intMap, engine.Entry{Key: engine.NewInt(1), Value: engine.NewInt(20)})

	for range 200 {
		// All three keys decode to 1; the largest raw key wins.
		got, err := Decode(eval(t, L, `{["1"]=10, ["1.0"]=20, [" 1"]=30}`), intMap)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff(want, got, valueComparer); diff != "" {
			t.Fatalf("mismatch (-want +got):\n%s", diff)
		}

		_, err = Decode(eval(t, L, "{my_int=1, zz=2, yy=3, xx=4}"), myType)
		if err == nil || err.Error() != "invalid UDT field 'xx'" {
			t.Fatalf("expected the first invalid field in key order, got %v", err)
		}
	}
}

func TestCompareLua(t *testing.T) {
	L := newState(t)
	ordered := []string{"-1", "2", `""`, `"a"`, `"b"`, "false", "true", "{}", "{1}", "{1, 2}", "{2}"}
	for i := 1; i < len(ordered); i++ {
		a, b := eval(t, L, ordered[i-1]), eval(t, L, ordered[i])
		if c := compareLua(a, b, 0); c >= 0 {
			t.Errorf("compareLua(%s, %s) = %d, want < 0", ordered[i-1], ordered[i], c)
		}
		if c := compareLua(b, a, 0); c <= 0 {
			t.Errorf("compareLua(%s, %s) = %d, want > 0", ordered[i], ordered[i-1], c)
		}
	}
	if c := compareLua(eval(t, L, "{x = {1}}"), eval(t, L, "{x = {1}}"), 0); c != 0 {
		t.Errorf("equal tables compared %d", c)
	}
}

func TestDecodeErrorKey(t *testing.T) {
	L := newState(t)
	myType := engine.UserType("my_type", engine.Field{Name: "my_int", Type: engine.IntType})
	_, err := Decode(eval(t, L, "{bogus=1}"), myType)
	se, ok := err.(*sandbox.Error)
	if !ok {
		t.Fatalf("expected *sandbox.Error, got %T", err)
	}
	if se.Key != "bogus" {
		t.Errorf("Key = %q, want bogus", se.Key)
	}
}

// =============================================================================
// ENCODER AND ROUND TRIP
// =============================================================================

func TestEncodeShapes(t *testing.T) {
	L := newState(t)

	set := Encode(L, engine.NewSet(engine.SetOf(engine.TextType), engine.NewText("a"), engine.NewText("b")))
	tbl, ok := set.(*lua.LTable)
	if !ok {
		t.Fatalf("set should encode to a table, got %T", set)
	}
	if tbl.RawGetString("a") != lua.LTrue || tbl.RawGetString("b") != lua.LTrue {
		t.Errorf("set members should map to true")
	}

	list := Encode(L, engine.NewList(engine.ListOf(engine.IntType), engine.NewInt(7), engine.NewInt(8))).(*lua.LTable)
	if list.Len() != 2 || list.RawGetInt(1) != lua.LNumber(7) {
		t.Errorf("list should encode as a 1-based sequence")
	}

	if v := Encode(L, engine.Null(engine.IntType)); v != lua.LNil {
		t.Errorf("null should encode to nil, got %v", v)
	}
	if v := Encode(L, engine.NewBlob([]byte{0, 255})); v != lua.LString("\x00\xff") {
		t.Errorf("blob should keep raw bytes, got %q", v)
	}
	if v := Encode(L, engine.NewBigInt(math.MaxInt64)); v != lua.LString("9223372036854775807") {
		t.Errorf("large integers should encode as decimal strings, got %v", v)
	}
	if v := Encode(L, engine.NewBigInt(1<<53)); v != lua.LNumber(1<<53) {
		t.Errorf("exact integers should encode as numbers, got %v", v)
	}
	if v := Encode(L, engine.NewDouble(math.Inf(-1))); v != lua.LNumber(math.Inf(-1)) {
		t.Errorf("infinity should be preserved, got %v", v)
	}
}

func TestRoundTrip(t *testing.T) {
	L := newState(t)
	point := engine.UserType("point",
		engine.Field{Name: "x", Type: engine.DoubleType},
		engine.Field{Name: "tags", Type: engine.SetOf(engine.TextType)})
	nested := engine.MapOf(engine.IntType, engine.FrozenOf(engine.ListOf(engine.TupleOf(engine.TextType, engine.BigIntType))))
	huge, _ := new(big.Int).SetString("-98765432109876543210987654321", 10)

	values := []engine.Value{
		engine.NewTinyInt(-128),
		engine.NewSmallInt(32767),
		engine.NewInt(math.MinInt32),
		engine.NewBigInt(math.MinInt64),
		engine.NewBigInt(math.MaxInt64),
		engine.NewBigInt(-(1 << 53)),
		engine.NewCounter(1 << 60),
		engine.NewVarint(huge),
		engine.NewVarint(big.NewInt(12)),
		engine.NewFloat(3.25),
		engine.NewDouble(math.Inf(1)),
		engine.NewDouble(math.NaN()),
		engine.NewDouble(-0.0),
		engine.NewBoolean(true),
		engine.NewASCII("plain"),
		engine.NewText("ünïcödé"),
		engine.NewBlob([]byte{0xde, 0xad, 0xbe, 0xef, 0x00}),
		engine.NewTimestamp(1296705906000),
		engine.NewTimestamp(math.MinInt64),
		engine.NewDate(engine.DateEpoch + 18134),
		engine.Null(engine.TextType),
		engine.NewList(engine.ListOf(engine.TextType)),
		engine.NewTuple(engine.TupleOf(engine.IntType, engine.BooleanType), engine.NewInt(1), engine.NewBoolean(false)),
		engine.NewSet(engine.SetOf(engine.IntType), engine.NewInt(3), engine.NewInt(-3)),
		engine.NewMap(nested, engine.Entry{
			Key: engine.NewInt(1),
			Value: engine.NewList(engine.ListOf(engine.TupleOf(engine.TextType, engine.BigIntType)),
				engine.NewTuple(engine.TupleOf(engine.TextType, engine.BigIntType), engine.NewText("a"), engine.NewBigInt(1))),
		}),
		engine.NewUDT(point, engine.NewDouble(1.5),
			engine.NewSet(engine.SetOf(engine.TextType), engine.NewText("x"), engine.NewText("y"))),
		engine.NewUDT(point, engine.Null(engine.DoubleType), engine.Null(engine.SetOf(engine.TextType))),
		engine.NewTuple(engine.TupleOf(engine.IntType, engine.TextType), engine.Null(engine.IntType), engine.NewText("b")),
	}
	for _, v := range values {
		t.Run(v.String(), func(t *testing.T) {
			got, err := Decode(Encode(L, v), v.Type())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(v, got, valueComparer); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in    string
		ok    bool
		f     float64
		exact bool
	}{
		{"123", true, 123, true},
		{"-0x10", true, -16, true},
		{"0x123p+1", true, 582, false},
		{"0x1.8", true, 1.5, false},
		{"1e2", true, 100, false},
		{".5", true, 0.5, false},
		{"010", true, 10, true},
		{"", false, 0, false},
		{"1_000", false, 0, false},
		{"nan", false, 0, false},
		{"Infinity", false, 0, false},
		{"0x", false, 0, false},
		{"12abc", false, 0, false},
	}
	for _, tt := range tests {
		n, ok := parseNumber(tt.in)
		if ok != tt.ok {
			t.Errorf("parseNumber(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && (n.f != tt.f || n.exact != tt.exact) {
			t.Errorf("parseNumber(%q) = %+v, want f=%v exact=%v", tt.in, n, tt.f, tt.exact)
		}
	}
}
