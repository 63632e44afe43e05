package hostfunc

import (
	"math"
	"strings"
	"sync"

	"github.com/caffeineduck/udfbox/sandbox"
	lua "github.com/yuin/gopher-lua"
)

const errNoMemory = "not enough memory"

// reserve charges n bytes against the memory ceiling of the invocation
// running in L, if it is metered.
func reserve(L *lua.LState, n int64) bool {
	m, ok := sandbox.MeterFrom(L.Context())
	if !ok {
		return true
	}
	return m.Reserve(n) == nil
}

// Rep is string.rep(s, n) with the result size checked against the memory
// ceiling before anything is allocated.
func Rep(L *lua.LState) int {
	s := L.CheckString(1)
	n := L.CheckInt(2)
	if n <= 0 || s == "" {
		L.Push(lua.LString(""))
		return 1
	}
	size := int64(-1)
	if int64(len(s)) <= math.MaxInt64/int64(n) {
		size = int64(len(s)) * int64(n)
	}
	if !reserve(L, size) {
		L.RaiseError(errNoMemory)
		return 0
	}
	L.Push(lua.LString(strings.Repeat(s, n)))
	return 1
}

// Concat is table.concat(t [, sep [, i [, j]]]) with the result size
// checked against the memory ceiling before anything is allocated.
func Concat(L *lua.LState) int {
	tbl := L.CheckTable(1)
	sep := L.OptString(2, "")
	n := tbl.Len()
	i := L.OptInt(3, 1)
	j := L.OptInt(4, n)
	if i > j {
		L.Push(lua.LString(""))
		return 1
	}

	var parts []string
	size := int64(0)
	for k := i; k <= j; k++ {
		v := tbl.RawGetInt(k)
		if !lua.LVCanConvToString(v) {
			L.RaiseError("invalid value (%s) at index %d in table for concat", v.Type().String(), k)
			return 0
		}
		s := v.String()
		size += int64(len(s))
		if k != j {
			size += int64(len(sep))
		}
		parts = append(parts, s)
	}
	if !reserve(L, size) {
		L.RaiseError(errNoMemory)
		return 0
	}
	L.Push(lua.LString(strings.Join(parts, sep)))
	return 1
}

// stockFormat is the interpreter's own string.format.
var stockFormat = sync.OnceValue(func() lua.LGFunction {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	lua.OpenString(L)
	fn, ok := L.GetField(L.GetGlobal(lua.StringLibName), "format").(*lua.LFunction)
	if !ok || fn.GFunction == nil {
		panic("hostfunc: string.format is not a builtin")
	}
	return fn.GFunction
})

// maxWidth bounds a single width or precision; the formatter rejects
// anything larger.
const maxWidth = 1_000_000

// Format is string.format(fmt, ...) with an upper bound of the result size
// checked against the memory ceiling before formatting.
func Format(L *lua.LState) int {
	format := L.CheckString(1)
	size := int64(len(format)) + directiveBytes(format)
	for i := 2; i <= L.GetTop(); i++ {
		if s, ok := L.Get(i).(lua.LString); ok {
			size += int64(len(s))
		}
	}
	if !reserve(L, size) {
		L.RaiseError(errNoMemory)
		return 0
	}
	return stockFormat()(L)
}

// directiveBytes bounds what the directives of format add beyond the
// string arguments themselves: their widths, precisions and a number each.
func directiveBytes(format string) int64 {
	var total int64
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}
		i++
		if i < len(format) && format[i] == '%' {
			continue
		}
		for i < len(format) && strings.IndexByte("-+ #0", format[i]) >= 0 {
			i++
		}
		var width int64
		width, i = digits(format, i)
		total += width + 32
		if i < len(format) && format[i] == '.' {
			var prec int64
			prec, i = digits(format, i+1)
			total += prec
		}
	}
	return total
}

func digits(s string, i int) (int64, int) {
	var n int64
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = min(n*10+int64(s[i]-'0'), maxWidth+1)
	}
	return n, i
}

// Gsub is string.gsub(s, pattern, repl [, n]). The result is built in one
// pass and every piece is charged to the memory ceiling before it is
// appended.
func Gsub(L *lua.LState) int {
	src := L.CheckString(1)
	pat := L.CheckString(2)
	L.CheckTypes(3, lua.LTString, lua.LTTable, lua.LTFunction)
	repl := L.Get(3)
	limit := L.OptInt(4, len(src)+1)

	m := newMatcher(L, src, pat)
	p := 0
	anchor := pat != "" && pat[0] == '^'
	if anchor {
		p = 1
	}

	var b strings.Builder
	write := func(s string) {
		if !reserve(L, int64(b.Len())+int64(len(s))) {
			L.RaiseError(errNoMemory)
		}
		b.WriteString(s)
	}
	s, n := 0, 0
	for n < limit {
		e := m.find(s, p)
		if e != -1 {
			n++
			if r, ok := replacement(m, s, e, repl); ok {
				write(r)
			} else {
				write(src[s:e])
			}
		}
		if e != -1 && e > s {
			s = e
		} else if s < len(src) {
			write(src[s : s+1])
			s++
		} else {
			break
		}
		if anchor {
			break
		}
	}
	write(src[s:])

	L.Push(lua.LString(b.String()))
	L.Push(lua.LNumber(n))
	return 2
}

// replacement returns the text replacing the match src[s:e], or false when
// the match is kept as is.
func replacement(m *matcher, s, e int, repl lua.LValue) (string, bool) {
	L := m.L
	switch repl := repl.(type) {
	case lua.LString:
		return expand(m, s, e, string(repl)), true
	case *lua.LTable:
		return replacementValue(L, L.GetTable(repl, m.capture(0, s, e)))
	case *lua.LFunction:
		top := L.GetTop()
		L.Push(repl)
		n := m.pushCaptures(s, e, true)
		L.Call(n, 1)
		v := L.Get(-1)
		L.SetTop(top)
		return replacementValue(L, v)
	}
	return "", false
}

func replacementValue(L *lua.LState, v lua.LValue) (string, bool) {
	switch v := v.(type) {
	case lua.LString:
		return string(v), true
	case lua.LNumber:
		return v.String(), true
	}
	if lua.LVIsFalse(v) {
		return "", false
	}
	L.RaiseError("invalid replacement value (a %s)", v.Type().String())
	return "", false
}

// expand substitutes %0-%9 in a replacement string; any other character
// after % stands for itself.
func expand(m *matcher, s, e int, repl string) string {
	if strings.IndexByte(repl, '%') < 0 {
		return repl
	}
	var b strings.Builder
	for i := 0; i < len(repl); i++ {
		c := repl[i]
		if c != '%' || i+1 == len(repl) {
			b.WriteByte(c)
			continue
		}
		i++
		c = repl[i]
		switch {
		case c == '0':
			b.WriteString(m.src[s:e])
		case c >= '1' && c <= '9':
			b.WriteString(m.capture(int(c-'1'), s, e).String())
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
