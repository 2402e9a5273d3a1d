package dbpool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/metalalive/mediaflux-core/internal/coreerr"
	"github.com/metalalive/mediaflux-core/internal/timerpoll"
)

// spinYieldInterval and spinYieldAttempts bound the busy-wait spec.md
// §4.2.5 describes for try_process_queries/try_close: "briefly spin-yields
// (sleep milliseconds) until the Timer-Poll is closed". A real libuv-style
// handle closes asynchronously but promptly; bounding the spin keeps a
// misbehaving backend from hanging a caller forever.
const (
	spinYieldInterval = time.Millisecond
	spinYieldAttempts = 50
)

// Connection is the per-link record of spec.md §3: pending/processing
// intrusive query lists, an embedded Timer-Poll, a contiguous bulk-send
// buffer, and backend-specific state reachable only through the state
// machine's single entry point.
type Connection struct {
	pool *Pool
	loop *timerpoll.Loop

	mu         sync.Mutex
	pending    queryList
	processing queryList
	state      State
	idleSince  time.Time

	stateChanging atomic.Bool
	hasReadyQuery atomic.Bool

	tp timerpoll.TimerPoll

	bulkQueryLimit int
	buf            []byte
	wrSz           int

	backend     Backend
	backendData any // opaque, written only by Backend.StateTransition

	tpInitOnce sync.Once
	tpInitErr  *coreerr.Error
}

func newConnection(pool *Pool, loop *timerpoll.Loop, backend Backend, bulkQueryLimitKB int) *Connection {
	limit := bulkQueryLimitKB * 1024
	return &Connection{
		pool:           pool,
		loop:           loop,
		backend:        backend,
		bulkQueryLimit: limit,
		buf:            make([]byte, limit+1),
		state:          StateUninitialized,
	}
}

// State returns the connection's current state machine position.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState transitions c to s under the connection lock. Exposed for
// Backend implementations, which own all state transitions.
func (c *Connection) SetState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setState(s)
}

// setState transitions c to s, recording idleSince when entering Idle so
// the pool's idle-reap sweep (SPEC_FULL.md §4.6) can act on it. Must be
// called with c.mu held.
func (c *Connection) setState(s State) {
	c.state = s
	if s == StateIdle {
		c.idleSince = time.Now()
	}
}

// BackendData returns the opaque per-connection protocol state, written
// only by the owning Backend's StateTransition.
func (c *Connection) BackendData() any { return c.backendData }

// SetBackendData stores the opaque per-connection protocol state. Called
// only from within Backend.StateTransition.
func (c *Connection) SetBackendData(v any) { c.backendData = v }

// WithLock runs fn while holding the connection lock, for Backend
// implementations that need read access to the pending/processing lists.
func (c *Connection) WithLock(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

// PendingHead returns the head of the pending list. Caller must hold the
// connection lock (see WithLock).
func (c *Connection) PendingHead() *Query { return c.pending.head }

// ProcessingHead returns the head of the processing list. Caller must hold
// the connection lock (see WithLock).
func (c *Connection) ProcessingHead() *Query { return c.processing.head }

// BulkBuffer returns the connection's packed send buffer and the number of
// valid bytes written into it by the last successful updateReadyQueries.
func (c *Connection) BulkBuffer() ([]byte, int) { return c.buf, c.wrSz }

// submit appends a validated query to pending and kicks processing. Fails
// with StatusArg if the statement is empty or >= bulkQueryLimit (a single
// oversized statement is rejected at submission time per spec.md §4.2.3's
// first edge case, not deferred to pack time).
func (c *Connection) submit(stmt string, numResult int, userData any, cbs Callbacks) (*Query, Status) {
	if len(stmt) == 0 || len(stmt) >= c.bulkQueryLimit {
		return nil, StatusArg
	}
	q := newQuery(stmt, numResult, userData, cbs)
	c.mu.Lock()
	c.pending.pushBack(q)
	c.mu.Unlock()
	return q, c.tryProcessQueries()
}

// tryProcessQueries implements spec.md §4.2.5's try_process_queries: a
// fast relaxed check of hasReadyQuery short-circuits if work is already
// scheduled; otherwise it acquires the state-changing guard and, once the
// Timer-Poll handle is not busy (no Start currently awaiting its
// callback), invokes the backend's state transition in application-call
// mode (status=0, EventAppPoke).
func (c *Connection) tryProcessQueries() Status {
	if c.hasReadyQuery.Load() {
		return StatusOK
	}
	for attempt := 0; attempt < spinYieldAttempts; attempt++ {
		if c.canChangeState() {
			defer c.stateChanging.Store(false)
			if !c.tp.Busy() {
				if err := c.backend.StateTransition(c, 0, EventAppPoke); err != nil {
					return StatusOS
				}
				return StatusOK
			}
			c.stateChanging.Store(false)
		}
		time.Sleep(spinYieldInterval)
	}
	return StatusConnectionBusy
}

// tryClose mirrors tryProcessQueries but only ever advances the state
// machine toward Closed (spec.md §4.2.5). Issued against an
// already-closed connection it returns StatusSkipped without mutating
// state (spec.md §8's idempotence property).
func (c *Connection) tryClose() Status {
	if c.State() == StateClosed {
		return StatusSkipped
	}
	for attempt := 0; attempt < spinYieldAttempts; attempt++ {
		if c.canChangeState() {
			defer c.stateChanging.Store(false)
			if !c.tp.Busy() {
				if err := c.backend.StateTransition(c, 0, EventClose); err != nil {
					return StatusOS
				}
				return StatusOK
			}
			c.stateChanging.Store(false)
		}
		time.Sleep(spinYieldInterval)
	}
	return StatusConnectionBusy
}

// canChangeState acquires the exclusive right to drive one state
// transition, releasing it is the caller's responsibility (stateChanging
// .Store(false)).
func (c *Connection) canChangeState() bool {
	return c.stateChanging.CompareAndSwap(false, true)
}

// handleTimerPollCallback is registered as the connection's Timer-Poll
// callback: it is the I/O-wake half of the single state-transition entry
// point (spec.md §9's "fused timer-poll callback" redesign note, resolved
// via an explicit Event enum).
func (c *Connection) handleTimerPollCallback(status timerpoll.Status) {
	ev := EventIO
	if status == timerpoll.StatusTimeout {
		ev = EventTimeout
	}
	_ = c.backend.StateTransition(c, int(status), ev)
}

// UpdateReadyQueries is the exported entry point for spec.md §4.2.3,
// acquiring the connection lock around the pure packing algorithm in
// pack.go.
func (c *Connection) UpdateReadyQueries() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updateReadyQueries()
}

// TryEvictCurrentProcessingQuery implements spec.md §4.2.4's
// try_evict_current_processing_query.
func (c *Connection) TryEvictCurrentProcessingQuery() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.processing.head
	if q == nil {
		return StatusMemory
	}
	q.remaining--
	if q.remaining > 0 {
		return StatusSkipped
	}
	c.processing.remove(q)
	if c.processing.len() == 0 {
		c.hasReadyQuery.Store(false)
	}
	return StatusOK
}

// ArmWatcher (re)starts the connection's embedded Timer-Poll against fd,
// lazily Init-ing it against that fd the first time it's called (a
// Connection's Timer-Poll watches one stable fd for its whole
// connected-to-connected lifetime: a self-pipe for mysqlconn, or a real
// socket fd for a backend with non-blocking wire access). The resulting
// callback is always routed through handleTimerPollCallback, so Backend
// implementations never touch timerpoll.Callback directly.
func (c *Connection) ArmWatcher(fd int, events timerpoll.IOEvents, timeoutMS int) *coreerr.Error {
	c.tpInitOnce.Do(func() {
		c.tpInitErr = c.tp.Init(c.loop, fd)
	})
	if c.tpInitErr != nil {
		return c.tpInitErr
	}
	return c.tp.Start(timeoutMS, events, c.handleTimerPollCallback)
}

// ForceEvictAllProcessing detaches every query currently in processing
// (regardless of its remaining-result-set counter) and invokes onEach for
// each, in FIFO order. Used by backends whose underlying driver call
// completes or fails as a single unit rather than result-set by
// result-set.
func (c *Connection) ForceEvictAllProcessing(onEach func(q *Query)) {
	c.mu.Lock()
	var qs []*Query
	for q := c.processing.popFront(); q != nil; q = c.processing.popFront() {
		qs = append(qs, q)
	}
	c.hasReadyQuery.Store(false)
	c.mu.Unlock()
	for _, q := range qs {
		onEach(q)
	}
}

// handleDisconnect implements the supplemented reconnect-pending transition
// (SPEC_FULL.md §4.6): every in-flight processing query is re-queued to the
// head of pending (never silently dropped), then the connection enters
// StateReconnecting.
func (c *Connection) handleDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var requeued []*Query
	for q := c.processing.popFront(); q != nil; q = c.processing.popFront() {
		requeued = append(requeued, q)
	}
	// re-insert at the head of pending, preserving original order.
	for i := len(requeued) - 1; i >= 0; i-- {
		q := requeued[i]
		q.inList = &c.pending
		q.prev = nil
		q.next = c.pending.head
		if c.pending.head != nil {
			c.pending.head.prev = q
		} else {
			c.pending.tail = q
		}
		c.pending.head = q
		c.pending.length++
	}
	c.hasReadyQuery.Store(false)
	c.setState(StateReconnecting)
}

// HandleDisconnect exposes handleDisconnect to Backend implementations
// outside this package.
func (c *Connection) HandleDisconnect() { c.handleDisconnect() }

// idleDuration returns how long the connection has been continuously idle,
// used by the per-pool idle-reap sweep (SPEC_FULL.md §4.6).
func (c *Connection) idleDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return 0
	}
	return time.Since(c.idleSince)
}
