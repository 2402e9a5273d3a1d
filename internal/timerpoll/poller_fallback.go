//go:build !linux

package timerpoll

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// fallbackPoller backs non-Linux builds with unix.Poll (poll(2)), called
// repeatedly with a short slice time instead of a kernel-native readiness
// queue. It is correct but not production-grade: every pollIO call is
// O(registered fds) instead of O(ready fds). The REDESIGN FLAGS section of
// the spec makes the epoll-backed path (poller_linux.go) the explicit
// portability contract; this exists only so the module still builds and
// passes its own tests off Linux.
type fallbackPoller struct {
	mu     sync.Mutex
	fds    map[int]fdInfo
	closed bool
}

type fdInfo struct {
	events IOEvents
	cb     IOCallback
}

func newPlatformPoller() poller {
	return &fallbackPoller{fds: make(map[int]fdInfo)}
}

func (p *fallbackPoller) init() error { return nil }

func (p *fallbackPoller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fallbackPoller) registerFD(fd int, events IOEvents, cb IOCallback) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPollerClosed
	}
	if fd < 0 {
		return ErrFDOutOfRange
	}
	if _, ok := p.fds[fd]; ok {
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = fdInfo{events: events, cb: cb}
	return nil
}

func (p *fallbackPoller) unregisterFD(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.fds[fd]; !ok {
		return ErrFDNotRegistered
	}
	delete(p.fds, fd)
	return nil
}

func (p *fallbackPoller) modifyFD(fd int, events IOEvents) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.fds[fd]
	if !ok {
		return ErrFDNotRegistered
	}
	info.events = events
	p.fds[fd] = info
	return nil
}

func (p *fallbackPoller) pollIO(timeoutMs int) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrPollerClosed
	}
	pfds := make([]unix.PollFd, 0, len(p.fds))
	order := make([]int, 0, len(p.fds))
	for fd, info := range p.fds {
		var ev int16
		if info.events&EventRead != 0 {
			ev |= unix.POLLIN
		}
		if info.events&EventWrite != 0 {
			ev |= unix.POLLOUT
		}
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: ev})
		order = append(order, fd)
	}
	p.mu.Unlock()

	if len(pfds) == 0 {
		if timeoutMs > 0 {
			time.Sleep(time.Duration(timeoutMs) * time.Millisecond)
		}
		return 0, nil
	}

	n, err := unix.Poll(pfds, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	if n <= 0 {
		return 0, nil
	}

	fired := 0
	for i, pfd := range pfds {
		if pfd.Revents == 0 {
			continue
		}
		p.mu.Lock()
		info, ok := p.fds[order[i]]
		p.mu.Unlock()
		if !ok || info.cb == nil {
			continue
		}
		var events IOEvents
		if pfd.Revents&unix.POLLIN != 0 {
			events |= EventRead
		}
		if pfd.Revents&unix.POLLOUT != 0 {
			events |= EventWrite
		}
		if pfd.Revents&unix.POLLERR != 0 {
			events |= EventError
		}
		if pfd.Revents&unix.POLLHUP != 0 {
			events |= EventHangup
		}
		info.cb(events)
		fired++
	}
	return fired, nil
}
