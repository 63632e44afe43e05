// Package hostfunc defines the capability surface of a Lua execution
// context.
//
// # Overview
//
// A fresh context starts with the base, string, table and math libraries.
// A [Registry] then edits its globals: names registered with a function
// are installed, names registered through [Registry.Remove] are deleted.
// Functions that reach the file system, load code or control the garbage
// collector are removed by [Default], so nothing inside the sandbox can
// touch the host.
//
//	registry := hostfunc.Default()
//	registry.Register("string.trim", func(L *lua.LState) int {
//	    L.Push(lua.LString(strings.TrimSpace(L.CheckString(1))))
//	    return 1
//	})
//	registry.Install(L)
//
// # Memory guards
//
// The interpreter has no allocation hook, so the invocation's memory is
// sampled between instructions. A single builtin call can still allocate
// far past the ceiling before the next sample. [Rep], [Concat] and [Format]
// replace string.rep, table.concat and string.format; they compute the
// result size up front and charge it to the invocation's [sandbox.Meter],
// failing with "not enough memory" instead of allocating. [Gsub] cannot
// know its result size in advance and charges it piece by piece.
//
// # Pattern matching
//
// Lua patterns backtrack, and a short pattern over a short subject can
// take minutes to fail. [Find], [Match], [Gmatch] and [Gsub] share a
// matcher that reports its work to the meter as steps, so pattern
// matching stops at the same time and step ceilings as interpreted code.
package hostfunc
