// Package timerpoll implements the fused fd-readiness-watcher + one-shot
// timer primitive that underlies every blocking external operation in the
// asynchronous execution substrate (spec §4.1): the DB connection pool uses
// one per connection. The storage abstraction's local backend and the RPC
// reply collector use the owning Loop's plain timers (ScheduleAfter,
// ScheduleEvery) instead of a TimerPoll.
//
// The I/O side is platform-native (epoll on Linux, a portable fallback
// elsewhere), grounded on github.com/joeycumines/go-utilpkg's eventloop
// package. Per the spec's REDESIGN FLAGS, the epoll-backed poller is the
// production path; the fallback poller documents its own best-effort,
// non-production status rather than pretending to be equivalent.
package timerpoll

import "errors"

// IOEvents is a bitmask of readiness conditions a caller can watch for.
type IOEvents uint32

const (
	// EventRead indicates the fd is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the fd is ready for writing.
	EventWrite
	// EventError indicates an error condition on the fd.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// IOCallback receives the IOEvents observed, or 0 if invoked for a reason
// other than a registered event (never happens on this poller: each
// dispatch is driven by an actual kernel readiness notification).
type IOCallback func(IOEvents)

// Standard poller errors.
var (
	ErrFDOutOfRange        = errors.New("timerpoll: fd out of range")
	ErrFDAlreadyRegistered = errors.New("timerpoll: fd already registered")
	ErrFDNotRegistered     = errors.New("timerpoll: fd not registered")
	ErrPollerClosed        = errors.New("timerpoll: poller closed")
)

// poller is the platform-native readiness-watching backend a Loop owns.
// Implemented by *fastPoller (poller_linux.go) and *fallbackPoller
// (poller_fallback.go).
type poller interface {
	init() error
	close() error
	registerFD(fd int, events IOEvents, cb IOCallback) error
	unregisterFD(fd int) error
	modifyFD(fd int, events IOEvents) error
	// pollIO blocks up to timeoutMs (or indefinitely if negative) for
	// readiness events, dispatching callbacks inline, and returns the
	// number of fds that had events this call.
	pollIO(timeoutMs int) (int, error)
}
