// Package rpcreply implements the Reply Session of spec.md §3/§4.5: a
// timer-driven poll of a message broker for correlated reply messages,
// classification by correlation-id pattern into per-tick batches, and a
// Celery result-protocol extraction helper for the common single-job case.
package rpcreply

import "time"

// Message is one broker reply delivered to a Session's poll tick.
type Message struct {
	CorrelationID string
	Payload       []byte
	Timestamp     time.Time
}

// Broker is the boundary contract spec.md's Non-goals name: no concrete
// broker wire protocol ships here, only this interface. FetchReplies
// delivers up to maxMessages currently-available reply messages; a broker
// with nothing to deliver returns a nil/empty slice and a nil error.
type Broker interface {
	FetchReplies(maxMessages int) ([]Message, error)
}
