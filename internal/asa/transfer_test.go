package asa

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metalalive/mediaflux-core/internal/obslog"
)

// TestTransferRoundtrip moves a multi-chunk payload from a local scratch
// object to a destination object and checks: the destination receives the
// exact bytes, the local (source) entry is gone from the backend's store
// afterward (Transfer unlinks it), and onDone fires exactly once with a nil
// error.
func TestTransferRoundtrip(t *testing.T) {
	b := newFakeBackend()
	b.store["scratch/seg_01"] = []byte("the quick brown fox jumps over the lazy dog")

	local := New(b, nil)
	local.Params().Path = "scratch/seg_01"

	dest := New(b, nil)
	dest.Params().Path = "remote/v3/seg_01"
	dest.Params().Flags = FlagCreate | FlagReadWrite

	metrics := obslog.NewMetrics(nil)
	var gotErr error
	done := make(chan struct{})
	tr := NewTransfer(local, dest, 8, metrics, "local", func(err error) {
		gotErr = err
		close(done)
	})
	tr.Start()

	<-done
	require.NoError(t, gotErr)
	assert.Equal(t, "the quick brown fox jumps over the lazy dog", string(b.store["remote/v3/seg_01"]))
	_, stillThere := b.store["scratch/seg_01"]
	assert.False(t, stillThere, "local scratch object must be unlinked after a successful transfer")
	assert.Equal(t, float64(43), testutil.ToFloat64(metrics.TransferBytesTotal.WithLabelValues("local")))
}

// TestTransferFailsOnMissingSource covers the failure path: opening a
// nonexistent local object surfaces as a non-nil error through onDone, and
// onDone fires exactly once.
func TestTransferFailsOnMissingSource(t *testing.T) {
	b := newFakeBackend()

	local := New(b, nil)
	local.Params().Path = "scratch/does_not_exist"

	dest := New(b, nil)
	dest.Params().Path = "remote/v3/seg_01"
	dest.Params().Flags = FlagCreate | FlagReadWrite

	metrics := obslog.NewMetrics(nil)
	calls := 0
	var gotErr error
	done := make(chan struct{})
	tr := NewTransfer(local, dest, 8, metrics, "local", func(err error) {
		calls++
		gotErr = err
		close(done)
	})
	tr.Start()

	<-done
	assert.Equal(t, 1, calls)
	assert.Error(t, gotErr)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TransferErrors.WithLabelValues("local")))
}
