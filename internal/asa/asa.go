// Package asa implements the uniform asynchronous storage abstraction of
// spec.md §3/§4.3: a single vtable-shaped interface over backends (local
// filesystem, S3, Azure Blob), with at most one logical operation ever
// outstanding on a given handle.
package asa

import (
	"sync"

	"github.com/metalalive/mediaflux-core/internal/coreerr"
)

// Op identifies the logical operation currently in flight on an Asa.
type Op int

const (
	OpNone Op = iota
	OpOpen
	OpClose
	OpRead
	OpWrite
	OpSeek
	OpMkdir
	OpRmdir
	OpUnlink
	OpScandir
	OpScandirNext
)

func (o Op) String() string {
	switch o {
	case OpOpen:
		return "open"
	case OpClose:
		return "close"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpSeek:
		return "seek"
	case OpMkdir:
		return "mkdir"
	case OpRmdir:
		return "rmdir"
	case OpUnlink:
		return "unlink"
	case OpScandir:
		return "scandir"
	case OpScandirNext:
		return "scandir_next"
	default:
		return "none"
	}
}

// Result is both the vtable's immediate return code (spec.md §4.3) and, for
// an op that returned ResultAccept, the final outcome echoed back through
// the completion callback.
type Result int

const (
	// ResultAccept: the completion callback will fire asynchronously.
	ResultAccept Result = iota
	// ResultComplete: synchronous completion; the vtable does NOT invoke
	// the callback itself — the caller chains explicitly.
	ResultComplete
	ResultArgError
	ResultOSError
	ResultDataError
	ResultEOFScan
	ResultUnknown
)

func (r Result) String() string {
	switch r {
	case ResultAccept:
		return "accept"
	case ResultComplete:
		return "complete"
	case ResultArgError:
		return "arg-error"
	case ResultOSError:
		return "os-error"
	case ResultDataError:
		return "data-error"
	case ResultEOFScan:
		return "eof-scan"
	default:
		return "unknown"
	}
}

// IsError reports whether r is one of the error codes (no callback fires).
func (r Result) IsError() bool {
	switch r {
	case ResultArgError, ResultOSError, ResultDataError, ResultEOFScan, ResultUnknown:
		return true
	default:
		return false
	}
}

// ToCode maps a Result onto the shared error taxonomy, for callers that
// want a *coreerr.Error instead of a bare Result.
func (r Result) ToCode() coreerr.Code {
	switch r {
	case ResultArgError:
		return coreerr.Arg
	case ResultOSError:
		return coreerr.OS
	case ResultDataError:
		return coreerr.Data
	case ResultEOFScan:
		return coreerr.EOFScan
	default:
		return coreerr.OS
	}
}

// Callback receives the final outcome of an asynchronous op (one that
// returned ResultAccept).
type Callback func(a *Asa, result Result)

// Well-known callback-arg slot ids (spec.md §9's "callback-arg slot array"
// redesign note): instead of an opaque-pointer vector indexed by
// convention, this is a small fixed array with named accessors.
const (
	SlotSource = iota
	SlotMap
	SlotProcessor
	numSlots
)

// OpenFlags bitmask for Params.Flags on an Open call.
type OpenFlags int

const (
	FlagCreate OpenFlags = 1 << iota
	FlagTruncate
	FlagReadWrite
)

// Params holds the operation-specific fields a caller sets on an Asa
// before invoking the corresponding Backend vtable entry.
type Params struct {
	Path     string
	Flags    OpenFlags
	Buf      []byte // read target / write source
	N        int    // bytes actually transferred, filled in by the backend
	Offset   int64
	Whence   int
	Entries  []string // scandir result; populated by Backend.Scandir
	EntryIdx int      // cursor into Entries, advanced by ScandirNext
}

// Backend is the storage vtable of spec.md §4.3. Every method must return
// one of the Result codes and obey: Accept (callback fires async),
// Complete (synchronous; no callback), or an error code (no callback).
type Backend interface {
	Open(a *Asa) Result
	Close(a *Asa) Result
	Read(a *Asa) Result
	Write(a *Asa) Result
	Seek(a *Asa) Result
	Mkdir(a *Asa) Result
	Rmdir(a *Asa) Result
	Unlink(a *Asa) Result
	Scandir(a *Asa) Result
	ScandirNext(a *Asa) Result
}

// Asa is the storage object handle of spec.md §3: at most one op may be in
// flight on it at any time. The caller owns the Asa and is responsible for
// calling Deinit; the backend never owns it.
type Asa struct {
	backend Backend
	config  any

	mu  sync.Mutex
	op  Op
	cb  Callback
	p   Params
	hnd any // backend-specific handle (*os.File, an object-store key, etc.)

	slots    [numSlots]any
	deinitFn func()
}

// New constructs an Asa bound to backend, with an opaque storage config
// value the backend may type-assert.
func New(backend Backend, config any) *Asa {
	return &Asa{backend: backend, config: config}
}

// Config returns the opaque storage configuration.
func (a *Asa) Config() any { return a.config }

// Params returns a pointer to the op-parameter struct for the caller to
// populate before invoking a vtable method.
func (a *Asa) Params() *Params { return &a.p }

// SetCallback installs the completion callback for the next async op.
func (a *Asa) SetCallback(cb Callback) { a.cb = cb }

// Handle returns the backend-specific open handle, if any.
func (a *Asa) Handle() any { return a.hnd }

// SetHandle stores the backend-specific open handle. Called only by
// Backend implementations.
func (a *Asa) SetHandle(h any) { a.hnd = h }

// Slot returns the value stashed at a well-known slot id.
func (a *Asa) Slot(id int) any {
	if id < 0 || id >= numSlots {
		return nil
	}
	return a.slots[id]
}

// SetSlot stashes v at a well-known slot id.
func (a *Asa) SetSlot(id int, v any) {
	if id < 0 || id >= numSlots {
		return
	}
	a.slots[id] = v
}

// SetDeinit installs the closure Deinit will invoke.
func (a *Asa) SetDeinit(fn func()) { a.deinitFn = fn }

// Deinit runs the installed deinit closure, if any. The caller (never the
// backend) is responsible for calling this exactly once.
func (a *Asa) Deinit() {
	if a.deinitFn != nil {
		fn := a.deinitFn
		a.deinitFn = nil
		fn()
	}
}

// CurrentOp reports the operation currently in flight, or OpNone.
func (a *Asa) CurrentOp() Op {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.op
}

// BeginOp claims op as in-flight. Returns false (and leaves state
// untouched) if another op is already in flight — the overlap spec.md §8
// calls a test failure; Backend implementations use this return to produce
// ResultArgError instead of silently corrupting state.
func (a *Asa) BeginOp(op Op) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.op != OpNone {
		return false
	}
	a.op = op
	return true
}

// EndOpSync frees the in-flight op without invoking the callback — used by
// a Backend method's synchronous-completion and error-return paths, per
// spec.md §4.3's "complete means the callback is NOT invoked" and "any
// error code means no callback will fire".
func (a *Asa) EndOpSync() {
	a.mu.Lock()
	a.op = OpNone
	a.mu.Unlock()
}

// CompleteAsync frees the in-flight op and invokes the installed callback
// with result — used by a Backend method's asynchronous-completion path,
// after it previously returned ResultAccept.
func (a *Asa) CompleteAsync(result Result) {
	a.mu.Lock()
	a.op = OpNone
	cb := a.cb
	a.mu.Unlock()
	if cb != nil {
		cb(a, result)
	}
}

// Backend exposes the bound vtable for generic helpers (transfer.go,
// version.go) that operate over any Backend.
func (a *Asa) Backend() Backend { return a.backend }
