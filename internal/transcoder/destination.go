package transcoder

import (
	"context"

	"github.com/metalalive/mediaflux-core/internal/asa"
	"github.com/metalalive/mediaflux-core/internal/coreerr"
	"github.com/metalalive/mediaflux-core/internal/obslog"
)

// DestInitConfig carries everything DestinationProcessor.Init needs:
// spec.md §4.4.2's backend-id match check, the local output path
// derivation, the filter-graph stream kinds, and the fixed artifact names
// the save-to-storage transfer pushes at the end.
type DestInitConfig struct {
	SourceBackendID        string
	DestBackendID          string
	LocalScratchSourcePath string // the matched SourceProcessor's scratch path
	Version                *asa.Version
	DemuxerNameHint        string
	Streams                []StreamKind
	SegmentPrefix          string
	InitMapName            string
	MasterPlaylistName     string
	PerVersionPlaylistName string
	RemoteVersionDir       string
	TransferBufSize        int
}

// DestinationProcessor implements spec.md §4.4.2's destination lifecycle:
// build a local output context matched to the source's format, pump a
// filter→encode→mux loop, then (once the source is done) flush the
// filter/encoder and push the produced segments to storage.
type DestinationProcessor struct {
	codec     Codec
	local     *asa.Asa // local muxed-output scratch file, opened against localBack
	dest      *asa.Asa // remote destination root, opened against destBack
	localBack asa.Backend
	destBack  asa.Backend
	versions  *asa.Manager
	metrics   *obslog.Metrics

	cfg             DestInitConfig
	ctx             DestContext
	headerWrote     bool
	streams         []StreamKind
	streamIdx       int
	sourceDone      bool
	finalizeStarted bool
	saved           bool

	seg SegmentDescriptor
}

// NewDestinationProcessor binds a processor to the destination/local-scratch
// halves of an asa.Map (the matched SourceProcessor holds the Source half)
// and the version-folder manager that owns this job's target. metrics may
// be nil (no instrumentation).
func NewDestinationProcessor(codec Codec, m *asa.Map, localBack, destBack asa.Backend, versions *asa.Manager, metrics *obslog.Metrics) *DestinationProcessor {
	return &DestinationProcessor{codec: codec, local: m.Local, dest: m.Dest, localBack: localBack, destBack: destBack, versions: versions, metrics: metrics}
}

// Init validates the backend-id match, builds the local output path,
// initializes the backend output context (writing the header if the
// container format requires one), and prepares the filter graph and
// segment descriptor.
func (d *DestinationProcessor) Init(cfg DestInitConfig, onDone func(error)) {
	if cfg.SourceBackendID != cfg.DestBackendID {
		onDone(coreerr.New(coreerr.Arg, "dest_init", "source and destination processors must share a backend id"))
		return
	}
	d.cfg = cfg
	d.streams = cfg.Streams
	if len(d.streams) == 0 {
		d.streams = []StreamKind{StreamVideo}
	}

	localOutputPath := cfg.LocalScratchSourcePath + "." + cfg.Version.Dir
	ctx, err := d.codec.NewDestContext(localOutputPath, cfg.DemuxerNameHint)
	if err != nil {
		onDone(coreerr.Wrap(coreerr.OS, "dest_init", "backend output context init failed", err))
		return
	}
	d.ctx = ctx

	if ctx.HeaderedFormat() {
		if err := ctx.WriteHeader(); err != nil {
			onDone(coreerr.Wrap(coreerr.OS, "dest_init", "write-header failed", err))
			return
		}
		d.headerWrote = true
	}

	for i, kind := range d.streams {
		if err := ctx.InitFilter(i, kind); err != nil {
			onDone(coreerr.Wrap(coreerr.OS, "dest_init", "filter graph init failed", err))
			return
		}
	}

	d.seg = SegmentDescriptor{
		ScratchDir:             cfg.Version.Dir,
		Prefix:                 cfg.SegmentPrefix,
		InitMapName:            cfg.InitMapName,
		MasterPlaylistName:     cfg.MasterPlaylistName,
		PerVersionPlaylistName: cfg.PerVersionPlaylistName,
	}
	if d.metrics != nil {
		d.metrics.TranscodeJobsActive.Inc()
	}
	onDone(nil)
}

// SetSourceDone tells the processor its matched SourceProcessor has
// finished emitting packets, switching Proceed into the finalize-flush
// sequence once the normal filter/encode loop catches up.
func (d *DestinationProcessor) SetSourceDone() { d.sourceDone = true }

// Proceed pumps one step of the two-level filter→encode→mux loop (spec.md
// §4.4.2): outer pulls a filtered frame, inner encodes and muxes it. Once
// the source is done and every stream has nothing left to filter, it swaps
// into the finalize-flush sequence, and on CodeEndOfFlushEncoder calls
// Finalize and kicks off the save-to-storage transfer.
func (d *DestinationProcessor) Proceed() error {
	if d.saved {
		return nil
	}
	if d.finalizeStarted {
		return d.proceedFinalize()
	}
	if d.streamIdx >= len(d.streams) {
		if !d.sourceDone {
			d.streamIdx = 0
			return nil
		}
		// Normal filtering exhausted every stream; restart the index to
		// flush each one in turn, rather than continuing from the now
		// out-of-bounds position. Every later call stays on the flush path.
		d.finalizeStarted = true
		d.streamIdx = 0
		return d.proceedFinalize()
	}

	si := d.streamIdx
	frame, fcode, ferr := d.ctx.Filter(si, false)
	if ferr != nil {
		return ferr
	}
	switch fcode {
	case CodeNeedMoreData:
		d.streamIdx++
		return nil
	case CodeOK:
		return d.encodeAndMux(si, frame, false)
	default:
		return codeErr("dest_proceed", fcode)
	}
}

func (d *DestinationProcessor) encodeAndMux(streamIdx int, frame Frame, flushing bool) error {
	pkt, ecode, eerr := d.ctx.Encode(streamIdx, frame, flushing)
	if eerr != nil {
		return eerr
	}
	switch ecode {
	case CodeOK:
		if pkt != nil {
			if err := d.ctx.Mux(pkt); err != nil {
				return err
			}
		}
		return nil
	case CodeNeedMoreData:
		return nil
	case CodeEndOfFlushEncoder:
		return d.onEncoderDrained()
	default:
		return codeErr("dest_proceed", ecode)
	}
}

// proceedFinalize drives the flush sequence for the currently active
// stream: filter in flush mode until CodeDoneFlushingFilter, then encode in
// flush mode until CodeEndOfFlushEncoder.
func (d *DestinationProcessor) proceedFinalize() error {
	si := d.streamIdx
	if si >= len(d.streams) {
		return nil
	}

	frame, fcode, ferr := d.ctx.Filter(si, true)
	if ferr != nil {
		return ferr
	}
	switch fcode {
	case CodeOK:
		return d.encodeAndMux(si, frame, false)
	case CodeDoneFlushingFilter:
		return d.encodeAndMux(si, nil, true)
	default:
		return codeErr("dest_finalize_filter", fcode)
	}
}

func (d *DestinationProcessor) onEncoderDrained() error {
	d.streamIdx++
	if d.streamIdx < len(d.streams) {
		// advance to flushing the next stream on the next Proceed call
		return nil
	}
	if err := d.ctx.Finalize(); err != nil {
		return err
	}
	d.beginSaveToStorage()
	return nil
}

func (d *DestinationProcessor) beginSaveToStorage() {
	st := newSegmentTransfer(d.seg, d.localBack, d.destBack, d.cfg.RemoteVersionDir, d.cfg.TransferBufSize, true, d.metrics, d.cfg.DestBackendID, func(err error) {
		if d.metrics != nil {
			d.metrics.TranscodeJobsActive.Dec()
		}
		if err == nil {
			d.saved = true
			if d.versions != nil {
				d.versions.Commit(d.cfg.Version)
			}
		} else if d.metrics != nil {
			d.metrics.TranscodeJobsFailed.Inc()
		}
	})
	st.start()
}

// HasDoneProcessing reports whether the save-to-storage chain has
// completed.
func (d *DestinationProcessor) HasDoneProcessing() bool { return d.saved }

// Deinit cascades: backend-deinit → (if this job's version was never
// committed, Discard it) → local-close → local-unlink → remote-close →
// Reclaim every discarded version folder on destBack, bounded to
// reclaimConcurrency concurrent rmdirs → free (spec.md §4.4.2's
// "(if discarded) remove_file(discarded) → (if transcoding)
// remove_file(transcoding) → free"). A Reclaim error is logged, not
// surfaced to onDone: a failed-to-physically-delete version folder is
// retried on the next Deinit/reclaim sweep against the same Manager, it
// must never block this processor's own teardown.
func (d *DestinationProcessor) Deinit(ctx context.Context, reclaimConcurrency int, onDone func()) {
	if d.ctx != nil {
		_ = d.ctx.Close()
		d.ctx = nil
	}
	if d.versions != nil && d.cfg.Version != nil && !d.saved {
		d.versions.Discard(d.cfg.Version)
	}
	cb := func(a *asa.Asa, res asa.Result) { d.onLocalClosed(ctx, reclaimConcurrency, onDone) }
	d.local.SetCallback(cb)
	dispatch(d.local, d.local.Backend().Close(d.local), cb)
}

func (d *DestinationProcessor) onLocalClosed(ctx context.Context, reclaimConcurrency int, onDone func()) {
	cb := func(a *asa.Asa, res asa.Result) { d.onLocalUnlinked(ctx, reclaimConcurrency, onDone) }
	d.local.SetCallback(cb)
	dispatch(d.local, d.local.Backend().Unlink(d.local), cb)
}

func (d *DestinationProcessor) onLocalUnlinked(ctx context.Context, reclaimConcurrency int, onDone func()) {
	cb := func(a *asa.Asa, res asa.Result) { d.reclaimDiscarded(ctx, reclaimConcurrency, onDone) }
	d.dest.SetCallback(cb)
	dispatch(d.dest, d.dest.Backend().Close(d.dest), cb)
}

// reclaimDiscarded physically removes every VersionDiscarded folder this
// job's Manager is tracking, including the one Deinit itself just
// discarded above.
func (d *DestinationProcessor) reclaimDiscarded(ctx context.Context, concurrency int, onDone func()) {
	if d.versions != nil {
		if _, err := d.versions.Reclaim(ctx, d.destBack, concurrency); err != nil {
			obslog.Get().Err().Err(err).Log("version reclaim failed")
		}
	}
	if onDone != nil {
		onDone()
	}
}
