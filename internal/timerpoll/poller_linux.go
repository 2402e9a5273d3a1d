//go:build linux

package timerpoll

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// watch is one fd's current readiness registration. epoch is stamped from
// fastPoller.epoch every time the registration is created or mutated, so a
// callback captured before a blocking EpollWait can be told apart from
// whatever replaced it while the wait was in flight.
type watch struct {
	events   IOEvents
	callback IOCallback
	epoch    uint64
}

// fastPoller is the epoll-backed poller: one instance per Loop. Unlike a
// direct-indexed fd table, registrations live in a map keyed by fd, and
// staleness is reconciled per dispatched event rather than by discarding an
// entire EpollWait batch whenever any fd changed. That means a callback
// unregistered by an earlier callback within the same batch is skipped
// without also dropping still-valid events for every other fd that woke up
// alongside it.
type fastPoller struct {
	epfd     int32
	epoch    atomic.Uint64
	eventBuf [256]unix.EpollEvent

	mu      sync.RWMutex
	watches map[int]*watch

	closed atomic.Bool
}

func newPlatformPoller() poller { return &fastPoller{watches: make(map[int]*watch)} }

func (p *fastPoller) init() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = int32(epfd)
	return nil
}

func (p *fastPoller) close() error {
	p.closed.Store(true)
	if p.epfd > 0 {
		return unix.Close(int(p.epfd))
	}
	return nil
}

// registerFD adds fd to the epoch-stamped watch table, then arms it with
// the kernel. If EPOLL_CTL_ADD fails, the watch entry is rolled back so a
// subsequent registerFD for the same fd isn't rejected as a duplicate of a
// registration the kernel never actually holds.
func (p *fastPoller) registerFD(fd int, events IOEvents, cb IOCallback) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.mu.Lock()
	if _, exists := p.watches[fd]; exists {
		p.mu.Unlock()
		return ErrFDAlreadyRegistered
	}
	epoch := p.epoch.Add(1)
	p.watches[fd] = &watch{events: events, callback: cb, epoch: epoch}
	p.mu.Unlock()

	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.mu.Lock()
		delete(p.watches, fd)
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *fastPoller) unregisterFD(fd int) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}
	p.mu.Lock()
	if _, exists := p.watches[fd]; !exists {
		p.mu.Unlock()
		return ErrFDNotRegistered
	}
	delete(p.watches, fd)
	p.epoch.Add(1)
	p.mu.Unlock()

	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *fastPoller) modifyFD(fd int, events IOEvents) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}
	p.mu.Lock()
	w, exists := p.watches[fd]
	if !exists {
		p.mu.Unlock()
		return ErrFDNotRegistered
	}
	w.events = events
	w.epoch = p.epoch.Add(1)
	p.mu.Unlock()

	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_MOD, fd, ev)
}

// snapshot captures each watched fd's epoch immediately before blocking, so
// dispatch can tell a registration that survived the wait unchanged from
// one a reentrant callback replaced or tore down mid-batch.
func (p *fastPoller) snapshot() map[int]uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snap := make(map[int]uint64, len(p.watches))
	for fd, w := range p.watches {
		snap[fd] = w.epoch
	}
	return snap
}

// pollIO blocks for readiness events and dispatches callbacks inline,
// reconciling each fired fd against the epoch it held when the wait began:
// a fd unregistered or re-armed by an earlier callback in this same batch
// is silently skipped rather than invoked against a registration that no
// longer describes it.
func (p *fastPoller) pollIO(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}

	before := p.snapshot()

	n, err := unix.EpollWait(int(p.epfd), p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	dispatched := 0
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		wantEpoch, watched := before[fd]
		if !watched {
			continue
		}

		p.mu.RLock()
		w, stillActive := p.watches[fd]
		var cb IOCallback
		if stillActive && w.epoch == wantEpoch {
			cb = w.callback
		}
		p.mu.RUnlock()

		if cb == nil {
			continue
		}
		cb(epollToEvents(p.eventBuf[i].Events))
		dispatched++
	}

	return dispatched, nil
}

func eventsToEpoll(events IOEvents) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToEvents(epollEvents uint32) IOEvents {
	var events IOEvents
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
