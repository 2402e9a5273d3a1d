package rpcreply

import (
	"sort"
	"time"
)

// pollLimiter is a single-category sliding-window rate limiter, re-expressed
// from the teacher's go-catrate package design (catrate.Limiter): the same
// "map of window duration to max event count, Allow returns the next
// permitted time and whether this event was admitted" shape, simplified to
// one category since a Session only ever needs to bound its own poll
// ticks — catrate's per-category sync.Map and background cleanup worker
// exist to support many independent rate-limited keys at once, which this
// package has no use for.
type pollLimiter struct {
	rates  map[time.Duration]int
	events []time.Time
}

// newPollLimiter builds a limiter. A nil/empty rates map disables limiting
// (Allow always admits).
func newPollLimiter(rates map[time.Duration]int) *pollLimiter {
	return &pollLimiter{rates: rates}
}

// Allow records an event at now unless doing so would exceed any configured
// window's count, in which case it refuses and reports the next time an
// event would be admitted.
func (l *pollLimiter) Allow(now time.Time) (time.Time, bool) {
	if len(l.rates) == 0 {
		return time.Time{}, true
	}

	// drop events older than the widest window up front, so the slice
	// doesn't grow unbounded across a long-lived Session.
	var widest time.Duration
	for d := range l.rates {
		if d > widest {
			widest = d
		}
	}
	cutoff := now.Add(-widest)
	l.events = dropBefore(l.events, cutoff)

	var next time.Time
	for window, limit := range l.rates {
		windowStart := now.Add(-window)
		count := countSince(l.events, windowStart)
		if count >= limit {
			// the event that will fall out of this window first determines
			// when a slot frees up
			idx := len(l.events) - limit
			candidate := l.events[idx].Add(window)
			if next.IsZero() || candidate.Before(next) {
				next = candidate
			}
		}
	}
	if !next.IsZero() {
		return next, false
	}

	l.events = append(l.events, now)
	return time.Time{}, true
}

func dropBefore(events []time.Time, cutoff time.Time) []time.Time {
	idx := sort.Search(len(events), func(i int) bool { return !events[i].Before(cutoff) })
	return events[idx:]
}

func countSince(events []time.Time, since time.Time) int {
	idx := sort.Search(len(events), func(i int) bool { return !events[i].Before(since) })
	return len(events) - idx
}
