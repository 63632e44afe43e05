// Package engine models the database engine's values as seen by
// user-defined functions.
//
// A [Type] describes a scalar, a collection (list, set, map), a tuple or a
// user-defined structure (UDT). A [Value] is an immutable, nullable instance
// of a type. Every value has a canonical serialized form ([Serialize]);
// set elements and map keys are kept ordered and unique under the
// byte-wise comparison of that form ([Compare]).
//
// Types can be written in CQL syntax and parsed with [ParseType]:
//
//	t, err := engine.ParseType("map<int, frozen<set<text>>>", nil)
//
// Timestamps are milliseconds since the Unix epoch; [ParseTimestamp]
// accepts the engine's textual timestamp grammar.
package engine
