package local

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/metalalive/mediaflux-core/internal/asa"
	"github.com/metalalive/mediaflux-core/internal/timerpoll"
	"github.com/stretchr/testify/require"
)

func testLoop(t *testing.T) *timerpoll.Loop {
	t.Helper()
	l, err := timerpoll.NewLoop()
	require.NoError(t, err)
	go l.Run()
	t.Cleanup(l.Stop)
	return l
}

// TestOpenWriteCloseReadback covers the common open/write/close then
// open/read/close roundtrip, and exercises the BeginOp overlap guard.
func TestOpenWriteCloseReadback(t *testing.T) {
	loop := testLoop(t)
	b := New(loop, 2)
	dir := t.TempDir()
	path := filepath.Join(dir, "seg_000001")

	done := make(chan asa.Result, 1)
	a := asa.New(b, nil)
	a.Params().Path = path
	a.Params().Flags = asa.FlagCreate | asa.FlagReadWrite
	a.SetCallback(func(_ *asa.Asa, res asa.Result) { done <- res })

	res := b.Open(a)
	require.Equal(t, asa.ResultAccept, res)

	// While the open is in flight, a second op on the same handle must
	// be rejected (spec.md §8's "at most one op in flight").
	require.False(t, a.BeginOp(asa.OpWrite))

	select {
	case got := <-done:
		require.Equal(t, asa.ResultComplete, got)
	case <-time.After(2 * time.Second):
		t.Fatal("open never completed")
	}

	a.Params().Buf = []byte("hello world")
	a.SetCallback(func(_ *asa.Asa, res asa.Result) { done <- res })
	require.Equal(t, asa.ResultAccept, b.Write(a))
	require.Equal(t, asa.ResultComplete, <-done)
	require.Equal(t, len("hello world"), a.Params().N)

	a.SetCallback(func(_ *asa.Asa, res asa.Result) { done <- res })
	require.Equal(t, asa.ResultAccept, b.Close(a))
	require.Equal(t, asa.ResultComplete, <-done)

	readBuf := make([]byte, 64)
	ra := asa.New(b, nil)
	ra.Params().Path = path
	ra.SetCallback(func(_ *asa.Asa, res asa.Result) { done <- res })
	require.Equal(t, asa.ResultAccept, b.Open(ra))
	require.Equal(t, asa.ResultComplete, <-done)

	ra.Params().Buf = readBuf
	ra.SetCallback(func(_ *asa.Asa, res asa.Result) { done <- res })
	require.Equal(t, asa.ResultAccept, b.Read(ra))
	require.Equal(t, asa.ResultComplete, <-done)
	require.Equal(t, "hello world", string(readBuf[:ra.Params().N]))
}

// TestReadEOF covers EOF being surfaced as ResultEOFScan once a read
// returns zero bytes at end-of-file.
func TestReadEOF(t *testing.T) {
	loop := testLoop(t)
	b := New(loop, 2)
	dir := t.TempDir()
	path := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	done := make(chan asa.Result, 1)
	a := asa.New(b, nil)
	a.Params().Path = path
	a.SetCallback(func(_ *asa.Asa, res asa.Result) { done <- res })
	require.Equal(t, asa.ResultAccept, b.Open(a))
	require.Equal(t, asa.ResultComplete, <-done)

	a.Params().Buf = make([]byte, 16)
	a.SetCallback(func(_ *asa.Asa, res asa.Result) { done <- res })
	require.Equal(t, asa.ResultAccept, b.Read(a))
	require.Equal(t, asa.ResultEOFScan, <-done)
}

// TestScandirThenScandirNext covers the Scandir/ScandirNext cursor pattern
// DirScanner drives in package asa.
func TestScandirThenScandirNext(t *testing.T) {
	loop := testLoop(t)
	b := New(loop, 2)
	dir := t.TempDir()
	for _, name := range []string{"seg_0001", "seg_0002", "seg_0003"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	names := make(chan []string, 1)
	errs := make(chan error, 1)
	a := asa.New(b, nil)
	a.Params().Path = dir
	scanner := asa.NewDirScanner(a, func(got []string, err error) {
		names <- got
		errs <- err
	})
	scanner.Start()

	select {
	case got := <-names:
		require.NoError(t, <-errs)
		require.ElementsMatch(t, []string{"seg_0001", "seg_0002", "seg_0003"}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("scan never completed")
	}
}

var _ asa.Backend = (*Backend)(nil)
