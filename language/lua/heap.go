package lua

import (
	"unsafe"

	"github.com/caffeineduck/udfbox/sandbox"
	glua "github.com/yuin/gopher-lua"
)

// Approximate heap costs of runtime objects.
const (
	stringHeader   = 16
	numberBytes    = 8
	tableHeader    = 64
	tableEntry     = 32
	functionHeader = 64
	upvalueBytes   = 32
	userDataHeader = 64
	// sharedString is the length from which strings are counted once per
	// backing array rather than once per reference.
	sharedString = 64
)

// newHeapSampler returns a sandbox.Sampler estimating the bytes reachable
// from L's globals, registry and call stack (locals and temporaries of
// every active frame). Objects reachable through several paths are counted
// once. Strings are values, so a string stored in many places is counted
// once per backing array, and short strings at every reference.
func newHeapSampler(L *glua.LState, maxFrames int) sandbox.Sampler {
	if maxFrames <= 0 {
		maxFrames = glua.CallStackSize
	}
	return func(limit int64) sandbox.Sample {
		w := heapWalk{
			seen:    make(map[glua.LValue]struct{}),
			strings: make(map[*byte]int64),
			limit:   limit,
		}
		w.push(L.G.Global)
		w.push(L.G.Registry)
		for level := 0; level <= maxFrames; level++ {
			dbg, ok := L.GetStack(level)
			if !ok {
				break
			}
			if fn, err := L.GetInfo("f", dbg, glua.LNil); err == nil {
				w.push(fn)
			}
			for i := 1; ; i++ {
				local, v := L.GetLocal(dbg, i)
				if local == "" {
					break
				}
				w.push(v)
			}
		}
		return w.run()
	}
}

type heapWalk struct {
	seen    map[glua.LValue]struct{}
	strings map[*byte]int64
	queue   []glua.LValue
	total   int64
	largest int64
	limit   int64
}

func (w *heapWalk) push(v glua.LValue) {
	switch v := v.(type) {
	case nil:
	case glua.LString:
		size := stringHeader + int64(len(v))
		if len(v) >= sharedString {
			// Substrings from offset zero share the pointer; count the
			// longest one seen.
			data := unsafe.StringData(string(v))
			counted := w.strings[data]
			w.strings[data] = max(counted, int64(len(v)))
			w.total += stringHeader + max(int64(len(v))-counted, 0)
			w.largest = max(w.largest, size)
			return
		}
		w.total += size
		w.largest = max(w.largest, size)
	case glua.LNumber:
		w.total += numberBytes
	case *glua.LTable, *glua.LFunction, *glua.LUserData:
		if _, ok := w.seen[v]; ok {
			return
		}
		w.seen[v] = struct{}{}
		w.queue = append(w.queue, v)
	}
}

// run drains the queue, stopping early once the total passes the limit.
func (w *heapWalk) run() sandbox.Sample {
	for len(w.queue) > 0 && w.total <= w.limit {
		v := w.queue[len(w.queue)-1]
		w.queue = w.queue[:len(w.queue)-1]

		switch v := v.(type) {
		case *glua.LTable:
			w.total += tableHeader
			w.push(v.Metatable)
			v.ForEach(func(k, val glua.LValue) {
				w.total += tableEntry
				w.push(k)
				w.push(val)
			})
		case *glua.LFunction:
			w.total += functionHeader
			for _, uv := range v.Upvalues {
				w.total += upvalueBytes
				if uv != nil {
					w.push(uv.Value())
				}
			}
			if v.Env != nil {
				w.push(v.Env)
			}
		case *glua.LUserData:
			w.total += userDataHeader
			w.push(v.Metatable)
			if v.Env != nil {
				w.push(v.Env)
			}
		}
	}
	return sandbox.Sample{Bytes: w.total, Largest: w.largest}
}
