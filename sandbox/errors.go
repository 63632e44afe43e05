package sandbox

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindDefinitionDisabled
	KindUnsupportedLanguage
	KindInvalidDefinition
	KindCompile
	KindInvalidArgument
	KindMarshal
	KindResourceExhausted
	KindTimedOut
	KindExecutionFault
	KindArity
)

var kindNames = [...]string{
	KindUnknown:             "unknown",
	KindDefinitionDisabled:  "definition_disabled",
	KindUnsupportedLanguage: "unsupported_language",
	KindInvalidDefinition:   "invalid_definition",
	KindCompile:             "compile_error",
	KindInvalidArgument:     "invalid_argument",
	KindMarshal:             "marshal_error",
	KindResourceExhausted:   "resource_exhausted",
	KindTimedOut:            "timed_out",
	KindExecutionFault:      "execution_fault",
	KindArity:               "arity_error",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Position locates a compile error in the function body.
type Position struct {
	Line   int
	Column int
	Token  string
}

// Error is a classified failure. Msg is the user-visible text.
type Error struct {
	Kind Kind
	Msg  string
	// Pos is set for compile errors when the runtime reports one.
	Pos *Position
	// Key is the offending table key for marshal errors, when known.
	Key string
	Err error
}

func (e *Error) Error() string { return e.Msg }
func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err,
// &Error{Kind: KindTimedOut}) works as a kind test.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Msg == "" && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Disabled() *Error {
	return Errorf(KindDefinitionDisabled, "User defined functions are disabled. Set enable_user_defined_functions to enable them")
}

func UnsupportedLanguage(lang string) *Error {
	return Errorf(KindUnsupportedLanguage, "Language '%s' is not supported", strings.ToLower(lang))
}

func FrozenSignature() *Error {
	return Errorf(KindInvalidDefinition, "User defined argument and return types should not be frozen")
}

func Compile(diag string, pos *Position, err error) *Error {
	return &Error{Kind: KindCompile, Msg: "could not compile: " + diag, Pos: pos, Err: err}
}

func Marshal(reason string) *Error {
	return &Error{Kind: KindMarshal, Msg: reason}
}

func OutOfMemory(lang string) *Error {
	return &Error{Kind: KindResourceExhausted, Msg: lang + " execution failed: not enough memory", Err: ErrMemoryLimit}
}

// Timeout reports an invocation stopped by the time or step ceiling, or by
// the caller's context.
func Timeout(lang string, elapsed time.Duration, cause error) *Error {
	return &Error{Kind: KindTimedOut, Msg: fmt.Sprintf("%s execution timeout: %v", lang, elapsed), Err: cause}
}

func Fault(lang, diag string, err error) *Error {
	return &Error{Kind: KindExecutionFault, Msg: lang + " execution failed: " + diag, Err: err}
}

func Arity(n int) *Error {
	return Errorf(KindArity, "%d values returned, expected 1", n)
}

// Causes recorded by a Meter when it aborts an invocation.
var (
	ErrMemoryLimit = errors.New("memory limit exceeded")
	ErrTimeLimit   = errors.New("time limit exceeded")
	ErrStepLimit   = errors.New("step limit exceeded")
)
