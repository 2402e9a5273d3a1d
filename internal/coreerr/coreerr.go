// Package coreerr provides the uniform error taxonomy shared by every
// component of the asynchronous execution substrate: Timer-Poll, the DB
// connection pool, the storage abstraction, the transcoder pipeline and the
// RPC reply collector.
//
// Expected failure modes are always returned as *Error, never a bare error,
// so callers can switch on Code() instead of string-matching messages.
package coreerr

import "fmt"

// Code classifies an operation failure. The set is fixed and shared across
// all components, independent of layer.
type Code int

const (
	// Arg indicates a caller contract breach: null, out-of-range, misuse.
	Arg Code = iota
	// Memory indicates an allocation failure, or a duplicate-key insertion
	// into a registry that requires unique keys.
	Memory
	// OS indicates a syscall or library-level failure.
	OS
	// Busy indicates a resource is temporarily unavailable (pool-busy,
	// connection-busy).
	Busy
	// Skipped indicates a no-op success: already closed, nothing to do.
	Skipped
	// Data indicates payload corruption or a protocol violation.
	Data
	// EOF indicates an orderly end-of-stream.
	EOF
	// EOFScan indicates an orderly end during a directory/segment scan.
	EOFScan
	// Timeout indicates a Timer-Poll timeout.
	Timeout
)

// String renders the code the way it appears in spec prose and logs.
func (c Code) String() string {
	switch c {
	case Arg:
		return "arg"
	case Memory:
		return "memory"
	case OS:
		return "os"
	case Busy:
		return "busy"
	case Skipped:
		return "skipped"
	case Data:
		return "data"
	case EOF:
		return "eof"
	case EOFScan:
		return "eof-scan"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is the taxonomy-tagged error type returned by every component.
type Error struct {
	code    Code
	op      string
	message string
	cause   error
}

// New builds an *Error for op with the given code and message.
func New(code Code, op, message string) *Error {
	return &Error{code: code, op: op, message: message}
}

// Wrap builds an *Error for op with the given code, message and
// underlying cause, preserving the cause for errors.Is/errors.As.
func Wrap(code Code, op, message string, cause error) *Error {
	return &Error{code: code, op: op, message: message, cause: cause}
}

// Code returns the taxonomy code of e.
func (e *Error) Code() Code { return e.code }

// Op returns the operation name that produced e (e.g. "pool_init").
func (e *Error) Op() string { return e.op }

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s (%v)", e.op, e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.op, e.code, e.message)
}

// Unwrap returns the underlying cause, if any, enabling errors.Is/errors.As
// through the chain.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is a *Error with the same Code. This lets
// callers write errors.Is(err, coreerr.New(coreerr.Busy, "", "")) as a
// code-only match, without needing a sentinel value per op.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.code == e.code
}

// Is is a package-level convenience for matching err against code, e.g.
// coreerr.Is(err, coreerr.Busy).
func Is(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.code == code {
				return true
			}
			err = e.cause
			continue
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
