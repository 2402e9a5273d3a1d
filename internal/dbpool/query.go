// Package dbpool implements the asynchronous, single-threaded-per-worker DB
// connection pool (spec.md §4.2): a fixed number of connections per alias,
// bulk-packed query submission, a per-connection state machine driven by
// Timer-Poll, and a process-wide pool registry ordered for longest-prefix
// alias lookup.
package dbpool

import "sync"

// ResultSet carries one result set delivered to a Query's ResultReady
// callback, or the diagnostic detail of a remote database error.
type ResultSet struct {
	Err  error
	Rows any
}

// Callbacks bundles the per-Query completion hooks of spec.md §3.
type Callbacks struct {
	ResultReady func(q *Query, rs *ResultSet)
	RowFetched  func(q *Query, row any)
	ResultFree  func(q *Query, rs *ResultSet)
	Error       func(q *Query, err error)
}

// Query is the immutable-parameters/mutable-state record of spec.md §3: an
// admitted statement plus its FIFO result-set queue. Query instances are
// intrusively linked into exactly one of a Connection's pending/processing
// lists at a time via next/prev, never both.
type Query struct {
	stmt      []byte // NUL-terminated SQL bytes
	numResult int    // expected result-set count
	userData  any
	cbs       Callbacks

	resultMu  sync.Mutex
	results   []*ResultSet
	remaining int

	next, prev *Query
	inList     *queryList
}

// newQuery builds a Query from a caller-supplied statement (not yet
// NUL-terminated) and the expected result-set count.
func newQuery(stmt string, numResult int, userData any, cbs Callbacks) *Query {
	buf := make([]byte, len(stmt)+1)
	copy(buf, stmt)
	buf[len(stmt)] = 0
	return &Query{
		stmt:      buf,
		numResult: numResult,
		userData:  userData,
		cbs:       cbs,
		remaining: numResult,
	}
}

// StatementLen returns the length of the SQL statement, excluding the
// trailing NUL.
func (q *Query) StatementLen() int { return len(q.stmt) - 1 }

// Statement returns the NUL-terminated statement bytes.
func (q *Query) Statement() []byte { return q.stmt }

// UserData returns the opaque caller-supplied pointer.
func (q *Query) UserData() any { return q.userData }

// Next returns the next query in whichever list currently holds q, or nil.
// Callers must hold the owning Connection's lock (see Connection.WithLock).
func (q *Query) Next() *Query { return q.next }

// NotifyError invokes the query's Error callback, if set. Used by backends
// that fail an entire processing batch as one unit.
func (q *Query) NotifyError(err error) {
	if q.cbs.Error != nil {
		q.cbs.Error(q, err)
	}
}

// NotifyResult delivers rs through enqueueResult/ResultReady.
func (q *Query) NotifyResult(rs *ResultSet) { q.enqueueResult(rs) }

// enqueueResult appends rs to the result-set FIFO (spec.md §4.2.4).
func (q *Query) enqueueResult(rs *ResultSet) {
	q.resultMu.Lock()
	q.results = append(q.results, rs)
	q.resultMu.Unlock()
	if q.cbs.ResultReady != nil {
		q.cbs.ResultReady(q, rs)
	}
}

// dequeueResult pops the head of the result-set FIFO, or returns nil.
func (q *Query) dequeueResult() *ResultSet {
	q.resultMu.Lock()
	defer q.resultMu.Unlock()
	if len(q.results) == 0 {
		return nil
	}
	rs := q.results[0]
	q.results = q.results[1:]
	return rs
}

// queryList is an intrusive doubly-linked FIFO of *Query, giving O(1)
// append/remove without a separate container allocation per node — grounded
// on the source's container-of intrusive lists (spec.md §9 "Linked-list
// container-of linkage"), adapted to Go as explicit next/prev fields owned
// by the list that currently holds the node.
type queryList struct {
	head, tail *Query
	length     int
}

func (l *queryList) len() int { return l.length }

func (l *queryList) pushBack(q *Query) {
	q.inList = l
	q.next = nil
	q.prev = l.tail
	if l.tail != nil {
		l.tail.next = q
	} else {
		l.head = q
	}
	l.tail = q
	l.length++
}

// remove detaches q from whichever list currently holds it. q must belong
// to l; calling with a q not in l is a caller bug.
func (l *queryList) remove(q *Query) {
	if q.prev != nil {
		q.prev.next = q.next
	} else {
		l.head = q.next
	}
	if q.next != nil {
		q.next.prev = q.prev
	} else {
		l.tail = q.prev
	}
	q.next, q.prev, q.inList = nil, nil, nil
	l.length--
}

// popFront removes and returns the head, or nil if empty.
func (l *queryList) popFront() *Query {
	q := l.head
	if q == nil {
		return nil
	}
	l.remove(q)
	return q
}
