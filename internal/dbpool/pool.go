package dbpool

import (
	"sync"
	"sync/atomic"

	"github.com/metalalive/mediaflux-core/internal/coreerr"
	"github.com/metalalive/mediaflux-core/internal/obslog"
	"github.com/metalalive/mediaflux-core/internal/timerpoll"
	"github.com/tidwall/btree"
)

// Config is the pool_init argument of spec.md §4.2.1.
type Config struct {
	Alias             string
	Capacity          int
	IdleTimeoutMS     int
	BulkQueryLimitKB  int
	MaxQueriesPerConn int // 0 = unbounded
	Backend           Backend
	Loop              *timerpoll.Loop
	// Metrics, if non-nil, counts query_start rejections and has its
	// gauges refreshed after every query_start that reaches a connection.
	Metrics *obslog.Metrics
}

// Pool owns a fixed number of connections under one alias (spec.md §3).
type Pool struct {
	alias             string
	capacity          int
	idleTimeoutMS     int
	bulkQueryLimitKB  int
	maxQueriesPerConn int
	backend           Backend
	metrics           *obslog.Metrics

	closing atomic.Bool

	mu          sync.Mutex
	connections []*Connection

	seq uint64 // insertion sequence, for registry tie-breaking
}

// regEntry is the registry's btree item: one per pool, ordered by
// descending alias length with ties broken by insertion order (spec.md §3's
// Connection Pool invariant and §8's boundary test).
type regEntry struct {
	pool *Pool
	seq  uint64
}

func regLess(a, b regEntry) bool {
	if len(a.pool.alias) != len(b.pool.alias) {
		return len(a.pool.alias) > len(b.pool.alias)
	}
	return a.seq < b.seq
}

// Registry is the process-wide singleton pool registry of spec.md §3,
// implemented over github.com/tidwall/btree ordered by descending alias
// length, so a front-to-back scan meets longer aliases before shorter ones,
// matching spec.md §8's "sorted by strictly descending length of alias"
// invariant exactly.
type Registry struct {
	mu      sync.Mutex
	tree    *btree.BTreeG[regEntry]
	byAlias map[string]*Pool
	nextSeq uint64
}

// NewRegistry constructs an empty process-wide pool registry. Applications
// own one instance by reference (spec.md §9's redesign note for the
// "global mutable registry" pattern: own it explicitly rather than as a
// package-level singleton).
func NewRegistry() *Registry {
	return &Registry{
		tree:    btree.NewBTreeG(regLess),
		byAlias: make(map[string]*Pool),
	}
}

// Init allocates cfg.Capacity connections and inserts the pool into r,
// sorted by descending alias length. Fails with coreerr.Arg on missing
// fields, or coreerr.Memory if the alias already exists.
func (r *Registry) Init(cfg Config) (*Pool, *coreerr.Error) {
	const op = "dbpool.pool_init"
	if cfg.Alias == "" || cfg.Capacity <= 0 || cfg.BulkQueryLimitKB <= 0 || cfg.Backend == nil || cfg.Loop == nil {
		return nil, coreerr.New(coreerr.Arg, op, "missing required field")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byAlias[cfg.Alias]; exists {
		return nil, coreerr.New(coreerr.Memory, op, "alias already registered")
	}

	p := &Pool{
		alias:             cfg.Alias,
		capacity:          cfg.Capacity,
		idleTimeoutMS:     cfg.IdleTimeoutMS,
		bulkQueryLimitKB:  cfg.BulkQueryLimitKB,
		maxQueriesPerConn: cfg.MaxQueriesPerConn,
		backend:           cfg.Backend,
		metrics:           cfg.Metrics,
	}

	for i := 0; i < cfg.Capacity; i++ {
		conn := newConnection(p, cfg.Loop, cfg.Backend, cfg.BulkQueryLimitKB)
		p.connections = append(p.connections, conn)
	}

	r.nextSeq++
	r.byAlias[cfg.Alias] = p
	r.tree.Set(regEntry{pool: p, seq: r.nextSeq})
	return p, nil
}

// Get performs pool_get(alias): longest-prefix match over the registry.
// An exact alias is found by map lookup; otherwise, because the tree is
// ordered by descending alias length, a linear scan from the front finds
// the first (hence longest) alias that is a prefix of the lookup key,
// visiting every entry ahead of that match.
func (r *Registry) Get(alias string) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byAlias[alias]; ok {
		return p
	}
	var found *Pool
	r.tree.Scan(func(e regEntry) bool {
		if len(e.pool.alias) <= len(alias) && alias[:len(e.pool.alias)] == e.pool.alias {
			found = e.pool
			return false
		}
		return true
	})
	return found
}

// Deinit tears down and removes the named pool.
func (r *Registry) Deinit(alias string) *coreerr.Error {
	const op = "dbpool.pool_deinit"
	r.mu.Lock()
	p, ok := r.byAlias[alias]
	if !ok {
		r.mu.Unlock()
		return coreerr.New(coreerr.Arg, op, "unknown alias")
	}
	delete(r.byAlias, alias)
	r.tree.Scan(func(e regEntry) bool {
		if e.pool == p {
			r.tree.Delete(e)
			return false
		}
		return true
	})
	r.mu.Unlock()
	return nil
}

// DeinitAll tears down every registered pool (pool_map_deinit).
func (r *Registry) DeinitAll() {
	r.mu.Lock()
	aliases := make([]string, 0, len(r.byAlias))
	for a := range r.byAlias {
		aliases = append(aliases, a)
	}
	r.mu.Unlock()
	for _, a := range aliases {
		_ = r.Deinit(a)
	}
}

// Alias returns the pool's registered alias.
func (p *Pool) Alias() string { return p.alias }

// SignalClosing sets the per-pool atomic closing flag; new queries are
// refused from this point on (spec.md §4.2.1's pool_signal_closing).
func (p *Pool) SignalClosing() { p.closing.Store(true) }

// IsClosing reports the pool's closing flag.
func (p *Pool) IsClosing() bool { return p.closing.Load() }

// CloseAllConns issues try_close on every connection, best-effort.
func (p *Pool) CloseAllConns() {
	p.mu.Lock()
	conns := append([]*Connection(nil), p.connections...)
	p.mu.Unlock()
	for _, c := range conns {
		c.tryClose()
	}
}

// CheckAllConnsClosed is true iff every connection's state machine is
// Closed and its Timer-Poll is closed.
func (p *Pool) CheckAllConnsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.connections {
		if c.State() != StateClosed || !c.tp.IsClosed() {
			return false
		}
	}
	return true
}

// QueryStart implements spec.md §4.2.2's query_start: acquires one free
// connection (not closing/closed/reconnecting, and under
// MaxQueriesPerConn if configured), validates the statement fits the
// connection's bulk buffer, appends it to pending, then kicks processing
// outside the connection lock.
func (p *Pool) QueryStart(stmt string, numResult int, userData any, cbs Callbacks) (*Query, Status) {
	if p.closing.Load() {
		p.recordBusyRejection()
		return nil, StatusPoolBusy
	}

	p.mu.Lock()
	var target *Connection
	for _, c := range p.connections {
		st := c.State()
		if st == StateClosing || st == StateClosed || st == StateReconnecting {
			continue
		}
		c.mu.Lock()
		inFlight := c.pending.len() + c.processing.len()
		c.mu.Unlock()
		if p.maxQueriesPerConn > 0 && inFlight >= p.maxQueriesPerConn {
			continue
		}
		target = c
		break
	}
	p.mu.Unlock()

	if target == nil {
		p.recordBusyRejection()
		return nil, StatusPoolBusy
	}
	q, status := target.submit(stmt, numResult, userData, cbs)
	if status == StatusConnectionBusy {
		p.recordBusyRejection()
	}
	p.observeGauges()
	return q, status
}

// recordBusyRejection increments PoolBusyRejections, labeled by this
// pool's alias, when Metrics is configured.
func (p *Pool) recordBusyRejection() {
	if p.metrics != nil {
		p.metrics.PoolBusyRejections.WithLabelValues(p.alias).Inc()
	}
}

// observeGauges sets PoolQueriesQueued/PoolConnectionsInUse from the
// pool's current connection states, labeled by alias. A no-op when
// Metrics is nil.
func (p *Pool) observeGauges() {
	if p.metrics == nil {
		return
	}
	var queued, inUse float64
	for _, c := range p.Connections() {
		c.mu.Lock()
		queued += float64(c.pending.len())
		if c.processing.len() > 0 {
			inUse++
		}
		c.mu.Unlock()
	}
	p.metrics.PoolQueriesQueued.WithLabelValues(p.alias).Set(queued)
	p.metrics.PoolConnectionsInUse.WithLabelValues(p.alias).Set(inUse)
}

// Connections exposes the pool's connection slice for use by idle-reap
// sweeps and tests.
func (p *Pool) Connections() []*Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Connection(nil), p.connections...)
}

// IdleTimeoutMS returns the configured idle-reap threshold.
func (p *Pool) IdleTimeoutMS() int { return p.idleTimeoutMS }
