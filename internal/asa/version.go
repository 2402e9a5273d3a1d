package asa

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/metalalive/mediaflux-core/internal/coreerr"
)

// VersionState is a version folder's position in the transcoding/
// committed/discarded ring of spec.md §4.3.2.
type VersionState int

const (
	// VersionTranscoding: a processor is actively writing into this
	// folder; never a candidate for reclaim.
	VersionTranscoding VersionState = iota
	// VersionCommitted: transcoding finished successfully; visible to
	// readers (e.g. the HLS master-playlist seeker).
	VersionCommitted
	// VersionDiscarded: superseded by a newer commit, or abandoned after
	// a failed transcode; eligible for reclaim.
	VersionDiscarded
)

func (s VersionState) String() string {
	switch s {
	case VersionTranscoding:
		return "transcoding"
	case VersionCommitted:
		return "committed"
	case VersionDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Version is one version folder tracked by a Manager.
type Version struct {
	ID         int
	Dir        string
	State      VersionState
	reclaiming bool
}

// Manager owns the version-folder ring for a single transcoding target. It
// keeps `retain` most-recent committed versions live (for in-flight readers
// racing a new commit) and discards the rest, which Reclaim then physically
// deletes off the Backend.
type Manager struct {
	mu       sync.Mutex
	retain   int
	versions []*Version
	nextID   int
}

// NewManager constructs a Manager retaining `retain` committed versions
// before older ones are marked discarded (retain < 1 is treated as 1: a
// reader must always have somewhere to read from).
func NewManager(retain int) *Manager {
	if retain < 1 {
		retain = 1
	}
	return &Manager{retain: retain}
}

// Begin allocates a new version folder in the VersionTranscoding state.
func (m *Manager) Begin(dirPrefix string) *Version {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := &Version{ID: m.nextID, Dir: fmt.Sprintf("%s%d", dirPrefix, m.nextID), State: VersionTranscoding}
	m.nextID++
	m.versions = append(m.versions, v)
	return v
}

// Commit marks v as committed and, if that pushes the number of committed
// versions past the retention window, marks the oldest excess ones
// discarded. Returns the newly-discarded versions (if any) so the caller
// can schedule Reclaim.
func (m *Manager) Commit(v *Version) []*Version {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.State = VersionCommitted

	var committed []*Version
	for _, ver := range m.versions {
		if ver.State == VersionCommitted {
			committed = append(committed, ver)
		}
	}
	var discarded []*Version
	if excess := len(committed) - m.retain; excess > 0 {
		for _, ver := range committed[:excess] {
			ver.State = VersionDiscarded
			discarded = append(discarded, ver)
		}
	}
	return discarded
}

// Discard marks v discarded directly, e.g. after a failed transcode that
// never reaches Commit.
func (m *Manager) Discard(v *Version) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.State = VersionDiscarded
}

// removeVersion drops v from the tracked set once it has been physically
// deleted. Must be called with m.mu held.
func (m *Manager) removeVersion(v *Version) {
	for i, ver := range m.versions {
		if ver == v {
			m.versions = append(m.versions[:i], m.versions[i+1:]...)
			return
		}
	}
}

// Reclaim physically removes every VersionDiscarded folder not already
// in-flight, bounded to `concurrency` simultaneous rmdir ops via
// errgroup.Group.SetLimit — grounded on the same bounded-fan-out discipline
// the local backend's worker pool uses, so a large backlog of discarded
// versions can't overrun the Backend with a goroutine per folder. Returns
// the versions it attempted and the first error encountered, if any.
func (m *Manager) Reclaim(ctx context.Context, backend Backend, concurrency int) ([]*Version, error) {
	m.mu.Lock()
	var toReclaim []*Version
	for _, v := range m.versions {
		if v.State == VersionDiscarded && !v.reclaiming {
			v.reclaiming = true
			toReclaim = append(toReclaim, v)
		}
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for _, v := range toReclaim {
		v := v
		g.Go(func() error { return m.reclaimOne(gctx, backend, v) })
	}
	return toReclaim, g.Wait()
}

// reclaimOne bridges the asynchronous Rmdir vtable call into a blocking
// wait, since errgroup workers are plain goroutines off the owning Loop:
// the worker blocks on a channel fed by the Loop-driven callback (the
// reverse of mysqlconn's self-pipe bridge, where a worker goroutine's
// blocking call wakes the Loop). A failed rmdir clears v.reclaiming, so a
// later Reclaim retries that folder.
func (m *Manager) reclaimOne(ctx context.Context, backend Backend, v *Version) error {
	a := New(backend, nil)
	a.Params().Path = v.Dir
	done := make(chan Result, 1)
	a.SetCallback(func(_ *Asa, res Result) { done <- res })

	if res := backend.Rmdir(a); res != ResultAccept {
		done <- res
	}

	select {
	case res := <-done:
		if res.IsError() {
			m.mu.Lock()
			v.reclaiming = false
			m.mu.Unlock()
			return coreerr.New(res.ToCode(), "asa_version_reclaim", "rmdir failed for "+v.Dir)
		}
		m.mu.Lock()
		m.removeVersion(v)
		m.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
