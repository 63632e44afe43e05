// Package marshal converts values between the engine's type system and the
// Lua runtime.
//
// [Encode] maps an engine value to a Lua value:
//
//   - integers, floats and doubles become numbers (integers beyond ±2^53
//     become decimal strings so they survive exactly)
//   - text, ascii and blob become strings, booleans become booleans
//   - lists and tuples become 1-based sequences
//   - sets become tables mapping each member to true
//   - maps become tables keyed by the encoded key
//   - user-defined types become tables keyed by field name
//   - null becomes nil
//
// [Decode] is the validating inverse. It is driven by the declared target
// type, accepts every shape Encode produces plus the conversions Lua code
// commonly relies on (numeric strings, os.date tables for timestamps), and
// rejects everything else with a [sandbox.KindMarshal] error whose message
// names the rule that failed:
//
//	v, err := marshal.Decode(L.Get(-1), engine.ListOf(engine.IntType))
//	if err != nil {
//	    // e.g. "table is not a sequence"
//	}
package marshal
