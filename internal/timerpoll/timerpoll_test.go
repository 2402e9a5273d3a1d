package timerpoll

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunningLoop(t *testing.T) *Loop {
	t.Helper()
	l, err := NewLoop()
	require.NoError(t, err)
	go l.Run()
	t.Cleanup(l.Stop)
	return l
}

// TestRoundtrip covers scenario S4: a pipe fd armed with a 3000ms timeout
// observes two successive writes via two successive Start calls, each
// delivering StatusOK, followed by Stop and Deinit.
func TestRoundtrip(t *testing.T) {
	l := newRunningLoop(t)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()

	var tp TimerPoll
	require.Nil(t, tp.Init(l, int(r.Fd())))

	for i := 0; i < 2; i++ {
		_, err := w.Write([]byte("x"))
		require.NoError(t, err)

		done := make(chan Status, 1)
		cerr := tp.Start(3000, EventRead, func(status Status) {
			done <- status
		})
		require.Nil(t, cerr)

		select {
		case status := <-done:
			assert.Equal(t, StatusOK, status)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for readiness callback")
		}

		buf := make([]byte, 1)
		_, err = r.Read(buf)
		require.NoError(t, err)
	}

	tp.Stop()

	closed := make(chan struct{})
	require.Nil(t, tp.Deinit(func() { close(closed) }))
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deinit close callback")
	}
	assert.True(t, tp.IsClosed())
}

// TestTimeout covers scenario S5: a pipe fd is written to once, then after
// the reader drains it, a subsequent Start with a short timeout and no
// further writes fires StatusTimeout; the watcher is confirmed stopped by
// that point (a write afterwards produces no spurious callback).
func TestTimeout(t *testing.T) {
	l := newRunningLoop(t)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()

	var tp TimerPoll
	require.Nil(t, tp.Init(l, int(r.Fd())))

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	buf := make([]byte, 1)
	_, err = r.Read(buf)
	require.NoError(t, err)

	done := make(chan Status, 1)
	cerr := tp.Start(300, EventRead, func(status Status) {
		done <- status
	})
	require.Nil(t, cerr)

	select {
	case status := <-done:
		assert.Equal(t, StatusTimeout, status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for timeout callback")
	}

	assert.False(t, tp.IsClosing())
	assert.False(t, tp.IsClosed())

	// watcher must already be stopped: a late write must not produce a
	// second callback on the now-inactive instance.
	_, err = w.Write([]byte("y"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	require.Nil(t, tp.Deinit(nil))
}

// TestInitRejectsNegativeFD covers the arg-error edge case of spec §4.1.
func TestInitRejectsNegativeFD(t *testing.T) {
	l := newRunningLoop(t)
	var tp TimerPoll
	err := tp.Init(l, -1)
	require.NotNil(t, err)
}

// TestInitRejectsDoubleInit covers the in-use/busy edge case.
func TestInitRejectsDoubleInit(t *testing.T) {
	l := newRunningLoop(t)
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()

	var tp TimerPoll
	require.Nil(t, tp.Init(l, int(r.Fd())))
	err2 := tp.Init(l, int(r.Fd()))
	require.NotNil(t, err2)
}

// TestStartRejectsConcurrentStart covers the busy edge case when Start is
// called again before the first callback has fired.
func TestStartRejectsConcurrentStart(t *testing.T) {
	l := newRunningLoop(t)
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()

	var tp TimerPoll
	require.Nil(t, tp.Init(l, int(r.Fd())))

	cerr := tp.Start(3000, EventRead, func(Status) {})
	require.Nil(t, cerr)

	cerr2 := tp.Start(3000, EventRead, func(Status) {})
	require.NotNil(t, cerr2)

	tp.Stop()
}
