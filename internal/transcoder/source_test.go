package transcoder_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metalalive/mediaflux-core/internal/asa"
	"github.com/metalalive/mediaflux-core/internal/asa/backend/local"
	"github.com/metalalive/mediaflux-core/internal/timerpoll"
	"github.com/metalalive/mediaflux-core/internal/transcoder"
	"github.com/metalalive/mediaflux-core/internal/transcoder/codectest"
)

func testLoop(t *testing.T) *timerpoll.Loop {
	t.Helper()
	l, err := timerpoll.NewLoop()
	require.NoError(t, err)
	go l.Run()
	t.Cleanup(l.Stop)
	return l
}

// TestSourceProcessorLifecycle covers spec.md §4.4.1 end to end: preload
// into a scratch file, pump demux/decode to EOF, then deinit's cascade.
func TestSourceProcessorLifecycle(t *testing.T) {
	loop := testLoop(t)
	backend := local.New(loop, 2)
	dir := t.TempDir()

	remotePath := filepath.Join(dir, "remote_source.bin")
	payload := []byte("0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF")
	require.NoError(t, os.WriteFile(remotePath, payload, 0o644))

	source := asa.New(backend, nil)
	source.Params().Path = remotePath
	local_ := asa.New(backend, nil)

	m := asa.NewMap(source, local_, nil)
	codec := &codectest.FakeCodec{ChunkSize: 8}
	sp := transcoder.NewSourceProcessor(codec, m)

	done := make(chan error, 1)
	sp.Init(filepath.Join(dir, "scratch"), len(payload), func(err error) { done <- err })

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("init never completed")
	}

	for i := 0; i < 64 && !sp.HasDoneProcessing(); i++ {
		require.NoError(t, sp.Proceed())
	}
	require.True(t, sp.HasDoneProcessing())

	deinitDone := make(chan struct{})
	sp.Deinit(func() { close(deinitDone) })
	select {
	case <-deinitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("deinit never completed")
	}
}

// TestSourceProcessorRejectsZeroPreload covers spec.md §4.4.1 step 2: an
// absent/zero preload size is arg-error.
func TestSourceProcessorRejectsZeroPreload(t *testing.T) {
	loop := testLoop(t)
	backend := local.New(loop, 2)

	source := asa.New(backend, nil)
	local_ := asa.New(backend, nil)
	m := asa.NewMap(source, local_, nil)
	sp := transcoder.NewSourceProcessor(&codectest.FakeCodec{}, m)

	done := make(chan error, 1)
	sp.Init(filepath.Join(t.TempDir(), "scratch"), 0, func(err error) { done <- err })
	err := <-done
	require.Error(t, err)
}
