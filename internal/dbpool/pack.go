package dbpool

// updateReadyQueries implements spec.md §4.2.3's update_ready_queries: under
// the connection lock, if *processing* is non-empty it returns StatusSkipped
// immediately. Otherwise it walks *pending* from the head, summing bytes,
// and stops at the first query whose inclusion would meet-or-exceed
// bulkQueryLimit (the strict-less-than boundary policy spec.md §9's Open
// Questions pins deliberately: equality stops the walk, reserving room for
// the trailing NUL). The scanned prefix moves from pending to processing and
// is concatenated into c.buf[:c.wrSz].
//
// Must be called with c.mu held.
func (c *Connection) updateReadyQueries() Status {
	if c.processing.len() > 0 {
		return StatusSkipped
	}
	if c.pending.len() == 0 {
		return StatusSkipped
	}

	var (
		moved []*Query
		total int
	)
	for q := c.pending.head; q != nil; q = q.next {
		stmtLen := q.StatementLen()
		if total+stmtLen >= c.bulkQueryLimit {
			break
		}
		total += stmtLen
		moved = append(moved, q)
	}

	if len(moved) == 0 {
		// the head statement alone already meets-or-exceeds the limit; this
		// should never happen because query submission rejects any single
		// statement >= the limit, but report skipped rather than packing
		// zero queries.
		return StatusSkipped
	}

	wr := 0
	for _, q := range moved {
		c.pending.remove(q)
		c.processing.pushBack(q)
		n := copy(c.buf[wr:], q.stmt[:q.StatementLen()])
		wr += n
	}
	c.buf[wr] = 0
	c.wrSz = wr
	c.hasReadyQuery.Store(true)
	return StatusOK
}
