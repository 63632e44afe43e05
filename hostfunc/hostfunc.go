package hostfunc

import (
	"slices"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Registry maps global names to Go functions installed into every fresh
// execution context. Dotted names ("string.rep") install into a library
// table. A nil function removes the name instead.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]lua.LGFunction
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]lua.LGFunction)}
}

func (r *Registry) Register(name string, fn lua.LGFunction) {
	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
}

// Remove registers name for removal from the context.
func (r *Registry) Remove(names ...string) {
	r.mu.Lock()
	for _, name := range names {
		r.funcs[name] = nil
	}
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (lua.LGFunction, bool) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	return fn, ok
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Install applies the registry to L's globals. Libraries referenced by
// dotted names are created if L does not have them yet.
func (r *Registry) Install(L *lua.LState) {
	for _, name := range r.List() {
		fn, _ := r.Get(name)
		var value lua.LValue = lua.LNil
		if fn != nil {
			value = L.NewFunction(fn)
		}

		lib, field, dotted := strings.Cut(name, ".")
		if !dotted {
			L.SetGlobal(name, value)
			continue
		}
		tbl, ok := L.GetGlobal(lib).(*lua.LTable)
		if !ok {
			if fn == nil {
				continue
			}
			tbl = L.NewTable()
			L.SetGlobal(lib, tbl)
		}
		tbl.RawSetString(field, value)
	}
}

// Unsafe lists the standard functions that reach outside the execution
// context or let code escape its resource ceilings.
var Unsafe = []string{
	"collectgarbage",
	"dofile",
	"getfenv",
	"load",
	"loadfile",
	"loadstring",
	"module",
	"newproxy",
	"print",
	"require",
	"setfenv",
	"_printregs",
	"string.dump",
}

// Default returns the registry every Lua context gets: the unsafe
// standard functions removed and the allocating or backtracking string
// functions replaced by guarded versions.
func Default() *Registry {
	r := NewRegistry()
	r.Remove(Unsafe...)
	r.Register("string.rep", Rep)
	r.Register("table.concat", Concat)
	r.Register("string.format", Format)
	r.Register("string.gsub", Gsub)
	r.Register("string.find", Find)
	r.Register("string.match", Match)
	r.Register("string.gmatch", Gmatch)
	r.Register("string.gfind", Gmatch)
	return r
}
