package dbpool

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnection(bulkLimitKB int) *Connection {
	return newConnection(nil, nil, fakeBackend{}, bulkLimitKB)
}

type fakeBackend struct{}

func (fakeBackend) StateTransition(*Connection, int, Event) error { return nil }

// TestPackS1 seeds spec.md §8 scenario S1: bulk_query_limit=1KiB, 11
// identical 95-byte queries. The first pack call moves exactly 10 (950
// bytes < 1024); the 11th stays pending. A second call returns skipped
// (processing non-empty); after clearing processing, a third call packs
// the lone remaining query.
func TestPackS1(t *testing.T) {
	c := newTestConnection(1) // 1 KiB
	stmt := strings.Repeat("x", 95)

	for i := 0; i < 11; i++ {
		q, status := c.submit(stmt, 1, nil, Callbacks{})
		require.Equal(t, StatusOK, status)
		require.NotNil(t, q)
	}

	c.mu.Lock()
	status := c.updateReadyQueries()
	c.mu.Unlock()

	require.Equal(t, StatusOK, status)
	assert.Equal(t, 10, c.processing.len())
	assert.Equal(t, 1, c.pending.len())
	assert.Equal(t, 950, c.wrSz)

	c.mu.Lock()
	second := c.updateReadyQueries()
	c.mu.Unlock()
	assert.Equal(t, StatusSkipped, second)

	c.mu.Lock()
	for c.processing.len() > 0 {
		c.processing.popFront()
	}
	third := c.updateReadyQueries()
	c.mu.Unlock()
	assert.Equal(t, StatusOK, third)
	assert.Equal(t, 1, c.processing.len())
	assert.Equal(t, 95, c.wrSz)
}

// TestPackS2 seeds scenario S2: four statements of sizes 95,71,51,37 (all
// fit within 1KiB combined). One pack call moves all four; the buffer
// equals their concatenation with no separators, wrSz=254.
func TestPackS2(t *testing.T) {
	c := newTestConnection(1)
	sizes := []int{95, 71, 51, 37}
	var want strings.Builder
	for i, n := range sizes {
		s := strings.Repeat(string(rune('A'+i)), n)
		want.WriteString(s)
		_, status := c.submit(s, 1, nil, Callbacks{})
		require.Equal(t, StatusOK, status)
	}

	c.mu.Lock()
	status := c.updateReadyQueries()
	c.mu.Unlock()

	require.Equal(t, StatusOK, status)
	assert.Equal(t, 4, c.processing.len())
	assert.Equal(t, 254, c.wrSz)
	assert.Equal(t, want.String(), string(c.buf[:c.wrSz]))
	assert.Equal(t, byte(0), c.buf[c.wrSz])
}

// TestPackEmptyPendingSkipped covers the boundary behavior: pack on empty
// pending returns skipped.
func TestPackEmptyPendingSkipped(t *testing.T) {
	c := newTestConnection(1)
	c.mu.Lock()
	status := c.updateReadyQueries()
	c.mu.Unlock()
	assert.Equal(t, StatusSkipped, status)
}

// TestSubmitRejectsOversizedStatement covers: a query whose statement size
// == bulk_query_limit is rejected at submission.
func TestSubmitRejectsOversizedStatement(t *testing.T) {
	c := newTestConnection(1)
	stmt := strings.Repeat("x", 1024)
	_, status := c.submit(stmt, 1, nil, Callbacks{})
	assert.Equal(t, StatusArg, status)
}

// TestSubmitAcceptsUnderLimit covers: a statement strictly under the limit
// is admitted at submission, returning StatusOK and a query handle.
func TestSubmitAcceptsUnderLimit(t *testing.T) {
	c := newTestConnection(1)
	stmt := strings.Repeat("x", 1023)
	q, status := c.submit(stmt, 1, nil, Callbacks{})
	require.Equal(t, StatusOK, status)
	require.NotNil(t, q)
}
