package transcoder_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metalalive/mediaflux-core/internal/asa/backend/local"
	"github.com/metalalive/mediaflux-core/internal/transcoder"
)

const masterPlaylistName = "master.m3u8"

func writeVersionPlaylist(t *testing.T, committedDir, version, body string) {
	t.Helper()
	dir := filepath.Join(committedDir, version)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, masterPlaylistName), []byte(body), 0o644))
}

// TestSeekerBuildMergesVersionsAndInjectsURLs covers spec.md §4.4.4: every
// committed version's playlist is merged into one manifest, the header is
// kept only on the first version, and each version gets a URL line pointing
// back at its own playlist.
func TestSeekerBuildMergesVersionsAndInjectsURLs(t *testing.T) {
	loop := testLoop(t)
	backend := local.New(loop, 2)
	dir := t.TempDir()
	committedDir := filepath.Join(dir, "committed")

	writeVersionPlaylist(t, committedDir, "v0", "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=100\nmedia.m3u8\n")
	writeVersionPlaylist(t, committedDir, "v1", "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=200\nmedia.m3u8\n")

	cfg := transcoder.SeekerConfig{
		HostDomain:  "cdn.example.com",
		HostPath:    "/hls/manifest",
		DocIDLabel:  "doc_id",
		DocID:       "req-42",
		DetailLabel: "ver",
		BufSize:     4096,
	}
	seeker := transcoder.NewSeeker(backend, cfg, 8)

	merged, err := buildSync(t, seeker, "req-42", committedDir, masterPlaylistName)
	require.NoError(t, err)

	text := string(merged)
	require.Equal(t, 1, strings.Count(text, "#EXTM3U"), "only the first version keeps the header")
	require.Equal(t, 2, strings.Count(text, "#EXT-X-STREAM-INF"))
	require.Contains(t, text, "doc_id=req-42&ver=v0/master.m3u8")
	require.Contains(t, text, "doc_id=req-42&ver=v1/master.m3u8")

	// Second Build with the same request/version keys should be served
	// from cache: delete the backing files and confirm it still succeeds.
	require.NoError(t, os.RemoveAll(committedDir))
	require.NoError(t, os.MkdirAll(committedDir, 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(committedDir, "v0"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(committedDir, "v1"), 0o755))

	mergedAgain, err := buildSync(t, seeker, "req-42", committedDir, masterPlaylistName)
	require.NoError(t, err)
	require.Equal(t, merged, mergedAgain)
}

// TestSeekerBuildNoCommittedVersions covers spec.md §4.4.4's 404 case: an
// empty committed-version set reports coreerr.EOF.
func TestSeekerBuildNoCommittedVersions(t *testing.T) {
	loop := testLoop(t)
	backend := local.New(loop, 2)
	dir := t.TempDir()
	committedDir := filepath.Join(dir, "committed")
	require.NoError(t, os.MkdirAll(committedDir, 0o755))

	seeker := transcoder.NewSeeker(backend, transcoder.SeekerConfig{BufSize: 1024}, 0)
	_, err := buildSync(t, seeker, "req-empty", committedDir, masterPlaylistName)
	require.Error(t, err)
}

func buildSync(t *testing.T, seeker *transcoder.Seeker, uploadReqID, committedDir, playlistFilename string) ([]byte, error) {
	t.Helper()
	type result struct {
		merged []byte
		err    error
	}
	done := make(chan result, 1)
	seeker.Build(uploadReqID, committedDir, playlistFilename, func(merged []byte, err error) {
		done <- result{merged: merged, err: err}
	})
	select {
	case r := <-done:
		return r.merged, r.err
	case <-time.After(2 * time.Second):
		t.Fatal("seeker build never completed")
		return nil, nil
	}
}
