package timerpoll

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/metalalive/mediaflux-core/internal/coreerr"
)

// state is the Timer-Poll instance's lifecycle state (spec §3).
type state int32

const (
	stateUninit state = iota
	stateArmed
	stateClosing
	stateClosed
)

// Status is delivered to a Start callback at most once per call.
type Status int

const (
	// StatusOK indicates the watched fd became ready before the timeout.
	StatusOK Status = iota
	// StatusTimeout indicates the timeout elapsed before readiness.
	StatusTimeout
)

func (s Status) String() string {
	if s == StatusTimeout {
		return "timeout"
	}
	return "ok"
}

// Callback is invoked at most once per accepted Start call: exactly once
// unless Stop or Deinit cancels that call first.
type Callback func(Status)

// TimerPoll is the fused fd-readiness-watcher + one-shot-timer primitive of
// spec §4.1: "wait up to T ms for fd F to be readable/writable, then notify
// me exactly once". Grounded on the teacher's epoll-backed FastPoller
// (I/O half) combined with the teacher's timer-heap (timeout half), fused
// here into the single primitive the spec calls for — the teacher keeps
// these as two separate mechanisms (poller + Loop.ScheduleTimer) composed
// ad hoc by callers; this type is the adaptation that gives them one
// start/cb contract, matching spec §3's data model exactly.
type TimerPoll struct {
	loop *Loop
	fd   int

	st state32

	mu             sync.Mutex
	active         bool
	cb             Callback
	cancelTimer    func()
	watcherRunning bool
}

// state32 is a tiny atomic wrapper so the zero value of TimerPoll is
// stateUninit without an explicit constructor requirement.
type state32 struct{ v atomic.Int32 }

func (s *state32) load() state      { return state(s.v.Load()) }
func (s *state32) store(v state)    { s.v.Store(int32(v)) }
func (s *state32) cas(from, to state) bool {
	return s.v.CompareAndSwap(int32(from), int32(to))
}

// Init arms t against fd, owned by loop. Fails with coreerr.Arg if fd < 0,
// coreerr.Busy ("in-use") if either inner handle is still live (t has
// already been initialized and not yet fully closed), or coreerr.OS
// ("bad-fd"/"perm") if the loop's poller refuses to watch fd at all (an
// invalid fd, or a regular file on a poller backend that rejects them). The
// check registers fd with the poller and unregisters it again at once.
func (t *TimerPoll) Init(loop *Loop, fd int) *coreerr.Error {
	const op = "timerpoll.init"
	if fd < 0 {
		return coreerr.New(coreerr.Arg, op, "fd must be >= 0")
	}
	if loop == nil {
		return coreerr.New(coreerr.Arg, op, "loop must not be nil")
	}
	if !t.st.cas(stateUninit, stateArmed) {
		return coreerr.New(coreerr.Busy, op, "in-use")
	}
	if err := loop.p.registerFD(fd, EventRead, func(IOEvents) {}); err != nil {
		t.st.store(stateUninit)
		return coreerr.Wrap(coreerr.OS, op, "fd cannot be polled", err)
	}
	_ = loop.p.unregisterFD(fd)
	t.loop = loop
	t.fd = fd
	return nil
}

// Start begins watching for event_mask on the armed fd, with a timeout of
// timeoutMs. Unless Stop or Deinit cancels the call first, cb fires exactly
// once: with StatusOK if the fd becomes ready first, or StatusTimeout if the
// timeout elapses first — in the timeout
// case the watcher is stopped before cb runs, per spec §4.1.
//
// Calling Start again from within cb (reentrant, on the same instance) is
// permitted only after cb has returned; this method does not itself
// enforce that (the caller contract is spec-level), but the at-most-once
// delivery guarantee always holds.
func (t *TimerPoll) Start(timeoutMs int, events IOEvents, cb Callback) *coreerr.Error {
	const op = "timerpoll.start"
	if timeoutMs <= 0 {
		return coreerr.New(coreerr.Arg, op, "timeout_ms must be > 0")
	}
	if cb == nil {
		return coreerr.New(coreerr.Arg, op, "cb must not be nil")
	}

	t.mu.Lock()
	if t.st.load() != stateArmed {
		t.mu.Unlock()
		return coreerr.New(coreerr.Arg, op, "not armed")
	}
	if t.active {
		t.mu.Unlock()
		return coreerr.New(coreerr.Busy, op, "start already pending")
	}
	t.active = true
	t.cb = cb
	t.mu.Unlock()

	var once sync.Once
	complete := func(status Status) {
		once.Do(func() {
			t.mu.Lock()
			t.stopLocked()
			cbCopy := t.cb
			t.active = false
			t.mu.Unlock()
			cbCopy(status)
		})
	}

	err := t.loop.p.registerFD(t.fd, events, func(IOEvents) {
		complete(StatusOK)
	})
	if err != nil {
		t.mu.Lock()
		t.active = false
		t.mu.Unlock()
		return coreerr.Wrap(coreerr.OS, op, "register fd failed", err)
	}

	t.mu.Lock()
	t.watcherRunning = true
	t.cancelTimer = t.loop.scheduleAt(time.Now().Add(time.Duration(timeoutMs)*time.Millisecond), func() {
		complete(StatusTimeout)
	})
	t.mu.Unlock()

	return nil
}

// stopLocked cancels both inner handles. Must be called with t.mu held.
func (t *TimerPoll) stopLocked() {
	if t.watcherRunning {
		_ = t.loop.p.unregisterFD(t.fd)
		t.watcherRunning = false
	}
	if t.cancelTimer != nil {
		t.cancelTimer()
		t.cancelTimer = nil
	}
}

// Stop idempotently cancels both inner handles without releasing memory
// and without invoking the pending Start callback, if any.
func (t *TimerPoll) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.active = false
}

// Deinit transitions t to closing, then (once both inner handles have
// signalled closed) to closed, invoking onClosed exactly once. onClosed may
// be nil.
func (t *TimerPoll) Deinit(onClosed func()) *coreerr.Error {
	const op = "timerpoll.deinit"
	if !t.st.cas(stateArmed, stateClosing) {
		if t.st.load() == stateClosed || t.st.load() == stateClosing {
			return coreerr.New(coreerr.Skipped, op, "already closing or closed")
		}
		return coreerr.New(coreerr.Arg, op, "not armed")
	}

	t.Stop()

	// The inner handles close synchronously on this backend (epoll_ctl DEL,
	// heap removal), but the close-callback contract is asynchronous by
	// spec (mirrors the libuv-style uv_close semantics the original system
	// relies on) — honor that by completing on the next loop tick rather
	// than inline, so onClosed never runs inside Deinit itself. IsClosed()
	// reports true from just before onClosed is invoked.
	t.loop.scheduleAt(time.Now(), func() {
		t.st.store(stateClosed)
		if onClosed != nil {
			onClosed()
		}
	})
	return nil
}

// Busy reports whether a Start call is currently awaiting its callback.
// Callers that drive a state machine off this instance (dbpool.Connection)
// use this to decide whether it's safe to initiate the next step.
func (t *TimerPoll) Busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// IsClosing reports whether Deinit has been called but not yet completed.
func (t *TimerPoll) IsClosing() bool { return t.st.load() == stateClosing }

// IsClosed reports whether Deinit has fully completed.
func (t *TimerPoll) IsClosed() bool { return t.st.load() == stateClosed }
