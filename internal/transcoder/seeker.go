package transcoder

import (
	"bytes"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/metalalive/mediaflux-core/internal/asa"
	"github.com/metalalive/mediaflux-core/internal/coreerr"
)

// SeekerConfig carries the URL-construction inputs spec.md §4.4.4 needs for
// the manifest stream URL pattern:
// https://<host_domain><host_path>?<doc_id_label>=<doc_id>&<detail_label>=<version>/<playlist-filename>
type SeekerConfig struct {
	HostDomain  string
	HostPath    string
	DocIDLabel  string
	DocID       string
	DetailLabel string
	BufSize     int
}

type seekerCacheKey struct {
	uploadReqID string
	version     string
}

// Seeker implements the HLS master-playlist seeker of spec.md §4.4.4: it
// scans a request's committed-version folders, merges each version's master
// playlist into one block (rewriting in a URL line per version, and
// skipping the #EXTM3U header on every version after the first), and caches
// each merged per-version block keyed by (upload-request-id, version) so a
// client re-polling within a short window doesn't re-read an
// already-committed playlist (spec.md §4.6's supplemented caching window).
type Seeker struct {
	backend asa.Backend
	cfg     SeekerConfig
	cache   *lru.Cache[seekerCacheKey, []byte]
}

// NewSeeker constructs a Seeker. cacheSize <= 0 disables the LRU (every
// Build call re-reads every version's playlist from the backend).
func NewSeeker(backend asa.Backend, cfg SeekerConfig, cacheSize int) *Seeker {
	if cfg.BufSize <= 0 {
		cfg.BufSize = 4096
	}
	var cache *lru.Cache[seekerCacheKey, []byte]
	if cacheSize > 0 {
		cache, _ = lru.New[seekerCacheKey, []byte](cacheSize)
	}
	return &Seeker{backend: backend, cfg: cfg, cache: cache}
}

// Build scans committedDir's two-char version subdirectories, merges each
// one's playlistFilename into a single manifest, and invokes onDone with
// the merged bytes. Zero merged playlists is reported as a coreerr.EOF
// (the caller maps this to a 404, per spec.md §4.4.4).
func (s *Seeker) Build(uploadReqID, committedDir, playlistFilename string, onDone func(merged []byte, err error)) {
	dirAsa := asa.New(s.backend, nil)
	dirAsa.Params().Path = committedDir
	asa.NewDirScanner(dirAsa, func(names []string, err error) {
		if err != nil {
			onDone(nil, err)
			return
		}
		sort.Strings(names)
		s.mergeVersions(uploadReqID, committedDir, playlistFilename, names, 0, nil, onDone)
	}).Start()
}

func (s *Seeker) mergeVersions(uploadReqID, committedDir, playlistFilename string, versions []string, idx int, merged []byte, onDone func([]byte, error)) {
	if idx >= len(versions) {
		if len(merged) == 0 {
			onDone(nil, coreerr.New(coreerr.EOF, "hls_seeker", "no committed versions found"))
			return
		}
		onDone(merged, nil)
		return
	}

	version := versions[idx]
	key := seekerCacheKey{uploadReqID: uploadReqID, version: version}
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			block := cached
			if idx > 0 {
				block = stripPlaylistHeader(block)
			}
			s.mergeVersions(uploadReqID, committedDir, playlistFilename, versions, idx+1, append(merged, block...), onDone)
			return
		}
	}

	path := committedDir + "/" + version + "/" + playlistFilename
	a := asa.New(s.backend, nil)
	a.Params().Path = path
	cb := func(a *asa.Asa, res asa.Result) {
		if res.IsError() {
			onDone(nil, coreerr.New(res.ToCode(), "hls_seeker", "open master playlist failed for version "+version))
			return
		}
		s.readVersion(a, key, version, uploadReqID, committedDir, playlistFilename, versions, idx, merged, onDone)
	}
	a.SetCallback(cb)
	dispatch(a, a.Backend().Open(a), cb)
}

func (s *Seeker) readVersion(a *asa.Asa, key seekerCacheKey, version, uploadReqID, committedDir, playlistFilename string, versions []string, idx int, merged []byte, onDone func([]byte, error)) {
	a.Params().Buf = make([]byte, s.cfg.BufSize)
	cb := func(a *asa.Asa, res asa.Result) {
		if res.IsError() && res != asa.ResultEOFScan {
			onDone(nil, coreerr.New(res.ToCode(), "hls_seeker", "read master playlist failed for version "+version))
			return
		}
		data := append([]byte(nil), a.Params().Buf[:a.Params().N]...)
		urlLine := fmt.Sprintf("https://%s%s?%s=%s&%s=%s/%s",
			s.cfg.HostDomain, s.cfg.HostPath, s.cfg.DocIDLabel, s.cfg.DocID, s.cfg.DetailLabel, version, playlistFilename)
		blockWithHeader := injectPlaylistURLLine(data, urlLine)
		if s.cache != nil {
			s.cache.Add(key, blockWithHeader)
		}
		block := blockWithHeader
		if idx > 0 {
			block = stripPlaylistHeader(block)
		}
		mergedNext := append(merged, block...)

		closeCb := func(a *asa.Asa, res asa.Result) {
			s.mergeVersions(uploadReqID, committedDir, playlistFilename, versions, idx+1, mergedNext, onDone)
		}
		a.SetCallback(closeCb)
		dispatch(a, a.Backend().Close(a), closeCb)
	}
	a.SetCallback(cb)
	dispatch(a, a.Backend().Read(a), cb)
}

// injectPlaylistURLLine finds the first "#EXT-X-STREAM-INF" tag and the
// newline that ends its line, then inserts urlLine immediately after it.
// If the tag isn't found, data is returned unchanged.
func injectPlaylistURLLine(data []byte, urlLine string) []byte {
	tag := []byte("#EXT-X-STREAM-INF")
	idx := bytes.Index(data, tag)
	if idx < 0 {
		return data
	}
	rel := bytes.IndexByte(data[idx:], '\n')
	if rel < 0 {
		out := append([]byte(nil), data...)
		out = append(out, '\n')
		out = append(out, []byte(urlLine)...)
		out = append(out, '\n')
		return out
	}
	insertAt := idx + rel + 1
	out := make([]byte, 0, len(data)+len(urlLine)+1)
	out = append(out, data[:insertAt]...)
	out = append(out, []byte(urlLine)...)
	out = append(out, '\n')
	out = append(out, data[insertAt:]...)
	return out
}

// stripPlaylistHeader drops a leading "#EXTM3U" line, if present — only
// the first merged version keeps it.
func stripPlaylistHeader(data []byte) []byte {
	const header = "#EXTM3U"
	if !bytes.HasPrefix(data, []byte(header)) {
		return data
	}
	nl := bytes.IndexByte(data, '\n')
	if nl < 0 {
		return nil
	}
	return data[nl+1:]
}
