package rpcreply

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeBroker delivers one queued batch per FetchReplies call, then nothing.
type fakeBroker struct {
	batches [][]Message
	idx     int
	err     error
}

func (b *fakeBroker) FetchReplies(maxMessages int) ([]Message, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.idx >= len(b.batches) {
		return nil, nil
	}
	batch := b.batches[b.idx]
	b.idx++
	if len(batch) > maxMessages {
		batch = batch[:maxMessages]
	}
	return batch, nil
}

// TestSessionClassifiesByBindingPrefix covers spec.md §8 S6: three bindings,
// a first tick with five messages across all three patterns, and a second,
// independent tick's batch.
func TestSessionClassifiesByBindingPrefix(t *testing.T) {
	broker := &fakeBroker{batches: [][]Message{
		{
			{CorrelationID: "P2-x"},
			{CorrelationID: "P1-h"},
			{CorrelationID: "P3-o"},
			{CorrelationID: "P1-t"},
			{CorrelationID: "P1-g"},
		},
		{
			{CorrelationID: "P1-z"},
		},
	}}

	var got []map[string][]Message
	cfg := Config{Bindings: []Binding{{Pattern: "P1"}, {Pattern: "P2"}, {Pattern: "P3"}}}
	s := NewSession(nil, broker, cfg, func(acc map[string][]Message) bool {
		got = append(got, acc)
		return true
	}, nil, nil)

	s.tick()
	require.Len(t, got, 1)
	require.Len(t, got[0]["P1"], 3)
	require.Len(t, got[0]["P2"], 1)
	require.Len(t, got[0]["P3"], 1)
	require.Equal(t, "P1-h", got[0]["P1"][0].CorrelationID)
	require.Equal(t, "P1-t", got[0]["P1"][1].CorrelationID)
	require.Equal(t, "P1-g", got[0]["P1"][2].CorrelationID)

	s.tick()
	require.Len(t, got, 2)
	require.Len(t, got[1], 1, "second tick's accumulator is independent of the first")
	require.Len(t, got[1]["P1"], 1)
}

// TestSessionDiscardsUnmatchedMessages covers spec.md §4.5's "unmatched
// messages are silently discarded" rule.
func TestSessionDiscardsUnmatchedMessages(t *testing.T) {
	broker := &fakeBroker{batches: [][]Message{{{CorrelationID: "UNKNOWN-1"}}}}
	cfg := Config{Bindings: []Binding{{Pattern: "P1"}}}
	var got map[string][]Message
	s := NewSession(nil, broker, cfg, func(acc map[string][]Message) bool {
		got = acc
		return true
	}, nil, nil)
	s.tick()
	require.Empty(t, got)
}

// TestSessionStopsOnFalseContinuation covers spec.md §4.5 step 3 within a
// single tick: a false continuation flag ends the tick after exactly one
// OnUpdate call. That polling then stops on a running Loop is checked by
// TestSessionStartStopsPollingOnFalseContinuation.
func TestSessionStopsOnFalseContinuation(t *testing.T) {
	broker := &fakeBroker{batches: [][]Message{{{CorrelationID: "P1-a"}}, {{CorrelationID: "P1-b"}}}}
	calls := 0
	cfg := Config{Bindings: []Binding{{Pattern: "P1"}}}
	s := NewSession(nil, broker, cfg, func(acc map[string][]Message) bool {
		calls++
		return false
	}, nil, nil)
	s.tick()
	require.Equal(t, 1, calls)
}

// TestSessionStopsOnBrokerError covers spec.md §4.5's "OS-level failures
// terminate the session via on_error" rule.
func TestSessionStopsOnBrokerError(t *testing.T) {
	brokerErr := errors.New("broker unavailable")
	broker := &fakeBroker{err: brokerErr}
	cfg := Config{Bindings: []Binding{{Pattern: "P1"}}}

	var updateCalls int
	var reportedErr error
	s := NewSession(nil, broker, cfg, func(acc map[string][]Message) bool {
		updateCalls++
		return true
	}, func(err error) {
		reportedErr = err
	}, nil)

	s.tick()
	require.Equal(t, 0, updateCalls, "on_update must not run when the broker call fails")
	require.Equal(t, brokerErr, reportedErr)
}
