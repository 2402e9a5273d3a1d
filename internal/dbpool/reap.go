package dbpool

import (
	"time"

	"github.com/metalalive/mediaflux-core/internal/obslog"
	"github.com/metalalive/mediaflux-core/internal/timerpoll"
)

// IdleReaper proactively closes connections that have sat Idle longer than
// the pool's IdleTimeoutMS (SPEC_FULL.md §4.6, grounded on
// staff_portal/media's periodic pool sweep). spec.md §3 lists idle_timeout
// on the Connection Pool record but no operation in spec.md §4.2 ever reads
// it; this closes that gap. A reaped connection stays Closed: QueryStart
// skips it and nothing reopens it, so each reap lowers the pool's usable
// connection count.
type IdleReaper struct {
	pool   *Pool
	cancel func()
}

// StartIdleReaper begins a periodic sweep of pool's connections, driven by
// loop's recurring timer (internal/timerpoll.Loop.ScheduleEvery). A zero or
// negative IdleTimeoutMS disables reaping.
func StartIdleReaper(pool *Pool, loop *timerpoll.Loop) *IdleReaper {
	r := &IdleReaper{pool: pool}
	if pool.IdleTimeoutMS() <= 0 {
		return r
	}
	interval := time.Duration(pool.IdleTimeoutMS()) * time.Millisecond / 2
	if interval <= 0 {
		interval = time.Second
	}
	r.cancel = loop.ScheduleEvery(interval, r.sweep)
	return r
}

func (r *IdleReaper) sweep() {
	threshold := time.Duration(r.pool.IdleTimeoutMS()) * time.Millisecond
	for _, c := range r.pool.Connections() {
		if d := c.idleDuration(); d > 0 && d >= threshold {
			logger := obslog.Get()
			if logger != nil {
				logger.Info().Log("reaping idle connection")
			}
			c.tryClose()
		}
	}
}

// Stop cancels the sweep.
func (r *IdleReaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}
