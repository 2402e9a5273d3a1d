package timerpoll

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// scheduledTimer is one entry in a Loop's timer min-heap, grounded on the
// teacher's eventloop.timerHeap (loop.go).
type scheduledTimer struct {
	when  time.Time
	task  func()
	index int // heap index, maintained by container/heap
}

type timerHeap []*scheduledTimer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any)         { t := x.(*scheduledTimer); t.index = len(*h); *h = append(*h, t) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Loop is one cooperative worker-thread event loop: a single goroutine that
// owns a readiness poller and a timer heap, and runs until Stop is called.
// Every Timer-Poll instance (and hence every DB connection), and every
// timer task scheduled on it (local-storage op completions, RPC reply
// session ticks), is driven by exactly one Loop — never shared across
// worker threads, matching spec §5's "no work stealing" model.
type Loop struct {
	p poller

	mu     sync.Mutex
	timers timerHeap

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewLoop constructs and initializes a Loop's platform poller. The caller
// must call Run (typically in its own goroutine) to pump it.
func NewLoop() (*Loop, error) {
	l := &Loop{
		p:      newPlatformPoller(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if err := l.p.init(); err != nil {
		return nil, err
	}
	return l, nil
}

// scheduleAt inserts a one-shot callback to run at `when`, returning a
// cancel function. Used internally by TimerPoll.Start for the timer half
// of the fused primitive.
func (l *Loop) scheduleAt(when time.Time, task func()) (cancel func()) {
	t := &scheduledTimer{when: when, task: task}
	l.mu.Lock()
	heap.Push(&l.timers, t)
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if t.index >= 0 && t.index < len(l.timers) && l.timers[t.index] == t {
			heap.Remove(&l.timers, t.index)
		}
	}
}

// ScheduleAfter runs task once, after d has elapsed, on this Loop's
// goroutine. Returns a cancel function safe to call at most once before
// task fires.
func (l *Loop) ScheduleAfter(d time.Duration, task func()) (cancel func()) {
	return l.scheduleAt(time.Now().Add(d), task)
}

// ScheduleEvery runs task repeatedly, every d, until the returned cancel
// function is called. Used by periodic sweeps that have no associated fd
// (the DB pool's idle-connection reaper, the RPC reply collector's
// poll-interval timer) and so don't need the fd-readiness half of
// TimerPoll.
func (l *Loop) ScheduleEvery(d time.Duration, task func()) (cancel func()) {
	var stopped atomic.Bool
	var mu sync.Mutex
	var cancelCurrent func()
	var rearm func()
	rearm = func() {
		if stopped.Load() {
			return
		}
		mu.Lock()
		cancelCurrent = l.scheduleAt(time.Now().Add(d), func() {
			task()
			rearm()
		})
		mu.Unlock()
	}
	rearm()
	return func() {
		stopped.Store(true)
		mu.Lock()
		if cancelCurrent != nil {
			cancelCurrent()
		}
		mu.Unlock()
	}
}

// nextTimeout returns the poll timeout (ms) to use given the head of the
// timer heap: -1 (block indefinitely) if there are no timers pending, 0 if
// one is already due, otherwise the ms until the next is due.
func (l *Loop) nextTimeout() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return -1
	}
	d := time.Until(l.timers[0].when)
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > 1<<30 {
		ms = 1 << 30
	}
	return int(ms)
}

// fireDueTimers pops and runs every timer whose `when` has passed.
func (l *Loop) fireDueTimers() {
	for {
		l.mu.Lock()
		if len(l.timers) == 0 || l.timers[0].when.After(time.Now()) {
			l.mu.Unlock()
			return
		}
		t := heap.Pop(&l.timers).(*scheduledTimer)
		l.mu.Unlock()
		t.task()
	}
}

// Run pumps the loop until Stop is called. Intended to be the entire body
// of a worker-thread goroutine.
func (l *Loop) Run() {
	defer close(l.doneCh)
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}
		timeout := l.nextTimeout()
		_, _ = l.p.pollIO(clampTimeout(timeout))
		l.fireDueTimers()
	}
}

// clampTimeout keeps the poll from blocking forever when there are no
// timers and no registered fds, so Run can still observe Stop promptly.
func clampTimeout(ms int) int {
	const maxBlockMs = 200
	if ms < 0 || ms > maxBlockMs {
		return maxBlockMs
	}
	return ms
}

// Stop signals Run to return and blocks until it has, then closes the
// underlying poller.
func (l *Loop) Stop() {
	select {
	case <-l.stopCh:
	default:
		close(l.stopCh)
	}
	<-l.doneCh
	_ = l.p.close()
}
