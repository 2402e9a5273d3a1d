package transcoder_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/metalalive/mediaflux-core/internal/asa"
	"github.com/metalalive/mediaflux-core/internal/asa/backend/local"
	"github.com/metalalive/mediaflux-core/internal/obslog"
	"github.com/metalalive/mediaflux-core/internal/transcoder"
	"github.com/metalalive/mediaflux-core/internal/transcoder/codectest"
)

// TestDestinationProcessorLifecycle covers spec.md §4.4.2 end to end: a
// matched SourceProcessor reaches EOF, the DestinationProcessor pumps the
// filter/encode/mux loop, flushes on source-done, and the save-to-storage
// transfer commits the version.
func TestDestinationProcessorLifecycle(t *testing.T) {
	loop := testLoop(t)
	backend := local.New(loop, 2)
	dir := t.TempDir()

	remotePath := filepath.Join(dir, "remote_source.bin")
	payload := []byte("abcdefghijklmnop")
	require.NoError(t, os.WriteFile(remotePath, payload, 0o644))

	source := asa.New(backend, nil)
	source.Params().Path = remotePath
	srcLocal := asa.New(backend, nil)
	srcMap := asa.NewMap(source, srcLocal, nil)

	codec := &codectest.FakeCodec{ChunkSize: 4, FramesPerStream: 2}
	sp := transcoder.NewSourceProcessor(codec, srcMap)

	srcInitDone := make(chan error, 1)
	sp.Init(filepath.Join(dir, "scratch"), len(payload), func(err error) { srcInitDone <- err })
	require.NoError(t, <-srcInitDone)

	for i := 0; i < 64 && !sp.HasDoneProcessing(); i++ {
		require.NoError(t, sp.Proceed())
	}
	require.True(t, sp.HasDoneProcessing())

	versionDir := filepath.Join(dir, "versions", "v0")
	require.NoError(t, os.MkdirAll(versionDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(versionDir, "seg_0001"), []byte("segment-one"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(versionDir, "seg_0002"), []byte("segment-two"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(versionDir, "master.m3u8"), []byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\nmedia.m3u8\n"), 0o644))

	remoteDir := filepath.Join(dir, "remote", "v0")
	require.NoError(t, os.MkdirAll(remoteDir, 0o755))

	versions := asa.NewManager(1)
	version := versions.Begin(filepath.Join(dir, "versions", "v"))
	require.Equal(t, versionDir, version.Dir)

	destLocal := asa.New(backend, nil)
	destRemote := asa.New(backend, nil)
	destMap := &asa.Map{Source: source, Local: destLocal, Dest: destRemote}

	metrics := obslog.NewMetrics(nil)
	dp := transcoder.NewDestinationProcessor(codec, destMap, backend, backend, versions, metrics)

	cfg := transcoder.DestInitConfig{
		SourceBackendID:        "local",
		DestBackendID:          "local",
		LocalScratchSourcePath: sp.ScratchPath(),
		Version:                version,
		Streams:                []transcoder.StreamKind{transcoder.StreamVideo},
		SegmentPrefix:          "seg_",
		MasterPlaylistName:     "master.m3u8",
		RemoteVersionDir:       remoteDir,
		TransferBufSize:        16,
	}

	initDone := make(chan error, 1)
	dp.Init(cfg, func(err error) { initDone <- err })
	require.NoError(t, <-initDone)

	dp.SetSourceDone()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && !dp.HasDoneProcessing() {
		require.NoError(t, dp.Proceed())
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, dp.HasDoneProcessing(), "destination processor never finished saving to storage")

	for _, name := range []string{"seg_0001", "seg_0002", "master.m3u8"} {
		_, err := os.Stat(filepath.Join(remoteDir, name))
		require.NoError(t, err, "expected %s to have been transferred", name)
	}
	require.Equal(t, float64(0), testutil.ToFloat64(metrics.TranscodeJobsActive), "job must no longer be active once saved")
	require.Equal(t, float64(0), testutil.ToFloat64(metrics.TranscodeJobsFailed))

	deinitDone := make(chan struct{})
	dp.Deinit(context.Background(), 2, func() { close(deinitDone) })
	select {
	case <-deinitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("destination deinit never completed")
	}

	// version was committed, not discarded: Deinit's reclaim pass must
	// leave it on disk for in-flight readers.
	_, err := os.Stat(versionDir)
	require.NoError(t, err, "committed version directory must survive Deinit")
}

// TestDestinationProcessorDeinitReclaimsDiscardedVersion covers spec.md
// §4.4.2's teardown cascade for a job that never reaches save-to-storage:
// Deinit must discard the in-flight version and physically remove its
// folder via the version Manager's Reclaim, not just delegate to a
// mechanism nobody drives.
func TestDestinationProcessorDeinitReclaimsDiscardedVersion(t *testing.T) {
	loop := testLoop(t)
	backend := local.New(loop, 2)
	dir := t.TempDir()

	source := asa.New(backend, nil)
	destLocal := asa.New(backend, nil)
	destRemote := asa.New(backend, nil)
	destMap := &asa.Map{Source: source, Local: destLocal, Dest: destRemote}

	versionDir := filepath.Join(dir, "versions", "v0")
	require.NoError(t, os.MkdirAll(versionDir, 0o755))

	versions := asa.NewManager(1)
	version := versions.Begin(filepath.Join(dir, "versions", "v"))
	require.Equal(t, versionDir, version.Dir)

	codec := &codectest.FakeCodec{ChunkSize: 4, FramesPerStream: 1}
	dp := transcoder.NewDestinationProcessor(codec, destMap, backend, backend, versions, nil)

	cfg := transcoder.DestInitConfig{
		SourceBackendID: "local",
		DestBackendID:   "local",
		Version:         version,
		Streams:         []transcoder.StreamKind{transcoder.StreamVideo},
		SegmentPrefix:   "seg_",
		TransferBufSize: 16,
	}
	initDone := make(chan error, 1)
	dp.Init(cfg, func(err error) { initDone <- err })
	require.NoError(t, <-initDone)

	// Source never finishes and save-to-storage never starts: this job
	// aborts with its version still in VersionTranscoding.
	deinitDone := make(chan struct{})
	dp.Deinit(context.Background(), 2, func() { close(deinitDone) })
	select {
	case <-deinitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("destination deinit never completed")
	}

	require.Equal(t, asa.VersionDiscarded, version.State)
	_, err := os.Stat(versionDir)
	require.True(t, os.IsNotExist(err), "discarded version directory must be removed by Deinit's reclaim pass")
}

// TestDestinationProcessorRejectsBackendMismatch covers spec.md §4.4.2 step
// 1: source and destination backend ids must match.
func TestDestinationProcessorRejectsBackendMismatch(t *testing.T) {
	loop := testLoop(t)
	backend := local.New(loop, 2)

	source := asa.New(backend, nil)
	destLocal := asa.New(backend, nil)
	destRemote := asa.New(backend, nil)
	m := &asa.Map{Source: source, Local: destLocal, Dest: destRemote}

	dp := transcoder.NewDestinationProcessor(&codectest.FakeCodec{}, m, backend, backend, asa.NewManager(1), nil)
	cfg := transcoder.DestInitConfig{
		SourceBackendID: "local",
		DestBackendID:   "s3",
		Version:         asa.NewManager(1).Begin("v"),
	}

	done := make(chan error, 1)
	dp.Init(cfg, func(err error) { done <- err })
	err := <-done
	require.Error(t, err)
}
