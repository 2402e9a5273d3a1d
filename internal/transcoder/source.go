package transcoder

import (
	"github.com/google/uuid"

	"github.com/metalalive/mediaflux-core/internal/asa"
	"github.com/metalalive/mediaflux-core/internal/coreerr"
)

// dispatch routes a Backend vtable return through cb exactly once,
// mirroring the asa package's own internal helper of the same name:
// an accepted op's already-installed callback fires later; a
// synchronously-completed or errored op is chained into cb immediately.
func dispatch(a *asa.Asa, res asa.Result, cb asa.Callback) {
	if res != asa.ResultAccept {
		cb(a, res)
	}
}

// SourceProcessor implements spec.md §4.4.1's source lifecycle: preload a
// prefix of the remote source into a local scratch file, then drive the
// backend demux/decode loop against that scratch file.
type SourceProcessor struct {
	codec  Codec
	source *asa.Asa
	local  *asa.Asa

	scratchPath string
	preloadN    int
	copied      int
	buf         []byte

	ctx     SourceContext
	current Packet
	done    bool

	onInit func(err error)
}

// NewSourceProcessor is the `instantiate()` step of spec.md §4.4.1: it
// allocates the processor and binds it to the source/local halves of an
// asa.Map the matched DestinationProcessor will also reference.
func NewSourceProcessor(codec Codec, m *asa.Map) *SourceProcessor {
	return &SourceProcessor{codec: codec, source: m.Source, local: m.Local}
}

// Init opens the local scratch file (unique suffix via UUID), opens the
// remote source unless it already holds an open handle, preloads the
// first preloadBytes of the remote source into it, then builds the backend
// demux/decode context against the scratch path. preloadBytes <= 0 is an
// arg-error (spec.md §4.4.1 step 2's "absence is arg-error").
func (s *SourceProcessor) Init(scratchBasePath string, preloadBytes int, onDone func(err error)) {
	if preloadBytes <= 0 {
		onDone(coreerr.New(coreerr.Arg, "source_init", "parts_size[0] is required"))
		return
	}
	s.preloadN = preloadBytes
	s.onInit = onDone
	s.scratchPath = scratchBasePath + "-" + uuid.NewString()

	bufSize := preloadBytes
	if bufSize > 64*1024 {
		bufSize = 64 * 1024
	}
	s.buf = make([]byte, bufSize)

	s.local.Params().Path = s.scratchPath
	s.local.Params().Flags = asa.FlagCreate | asa.FlagReadWrite
	s.local.SetCallback(s.onLocalOpen)
	dispatch(s.local, s.local.Backend().Open(s.local), s.onLocalOpen)
}

func (s *SourceProcessor) fail(err error) {
	if s.onInit != nil {
		cb := s.onInit
		s.onInit = nil
		cb(err)
	}
}

func (s *SourceProcessor) onLocalOpen(a *asa.Asa, res asa.Result) {
	if res.IsError() {
		s.fail(coreerr.New(res.ToCode(), "source_init", "open scratch file failed"))
		return
	}
	if s.source.Handle() != nil {
		s.pumpPreload()
		return
	}
	openCb := func(a *asa.Asa, res asa.Result) {
		if res.IsError() {
			s.fail(coreerr.New(res.ToCode(), "source_init", "open remote source failed"))
			return
		}
		s.pumpPreload()
	}
	s.source.SetCallback(openCb)
	dispatch(s.source, s.source.Backend().Open(s.source), openCb)
}

func (s *SourceProcessor) pumpPreload() {
	remaining := s.preloadN - s.copied
	if remaining <= 0 {
		s.onPreloadDone()
		return
	}
	n := len(s.buf)
	if n > remaining {
		n = remaining
	}
	s.source.Params().Buf = s.buf[:n]
	s.source.SetCallback(s.onSourceRead)
	dispatch(s.source, s.source.Backend().Read(s.source), s.onSourceRead)
}

func (s *SourceProcessor) onSourceRead(a *asa.Asa, res asa.Result) {
	if res == asa.ResultEOFScan {
		s.fail(coreerr.New(coreerr.Data, "source_init", "remote source shorter than requested preload"))
		return
	}
	if res.IsError() {
		s.fail(coreerr.New(res.ToCode(), "source_init", "preload read failed"))
		return
	}
	n := s.source.Params().N
	if n == 0 {
		s.fail(coreerr.New(coreerr.Data, "source_init", "remote source shorter than requested preload"))
		return
	}
	s.local.Params().Buf = s.buf[:n]
	s.local.SetCallback(s.onLocalWrite)
	dispatch(s.local, s.local.Backend().Write(s.local), s.onLocalWrite)
}

func (s *SourceProcessor) onLocalWrite(a *asa.Asa, res asa.Result) {
	if res.IsError() {
		s.fail(coreerr.New(res.ToCode(), "source_init", "preload write failed"))
		return
	}
	s.copied += s.local.Params().N
	s.pumpPreload()
}

func (s *SourceProcessor) onPreloadDone() {
	ctx, err := s.codec.NewSourceContext(s.scratchPath)
	if err != nil {
		s.fail(coreerr.Wrap(coreerr.OS, "source_init", "backend format context init failed", err))
		return
	}
	s.ctx = ctx
	cb := s.onInit
	s.onInit = nil
	if cb != nil {
		cb(nil)
	}
}

// Proceed pumps one step of the demux/decode loop (spec.md §4.4.1):
// decode the current packet; if the decoder needs more input, fetch the
// next packet; EOF from the fetch sets the done flag; any other
// unexpected code or error aborts with that error.
func (s *SourceProcessor) Proceed() error {
	if s.done {
		return nil
	}
	code, err := s.ctx.Decode(s.current)
	switch code {
	case CodeOK:
		// The current packet has been consumed; the next Proceed call
		// must fetch a fresh one before decoding can continue.
		s.current = nil
		return nil
	case CodeNeedMoreData:
		pkt, fcode, ferr := s.ctx.Demux()
		if fcode == CodeEOF {
			s.done = true
			return nil
		}
		if ferr != nil {
			return ferr
		}
		s.current = pkt
		return nil
	default:
		if err != nil {
			return err
		}
		return codeErr("source_proceed", code)
	}
}

// HasDoneProcessing reports the backend's "no more frames to emit"
// predicate.
func (s *SourceProcessor) HasDoneProcessing() bool { return s.done }

// ScratchPath returns the local scratch file path chosen by Init, so a
// matched DestinationProcessor can derive its own output path from it.
func (s *SourceProcessor) ScratchPath() string { return s.scratchPath }

// Deinit cascades: backend-context-deinit → remote-asa-close →
// local-asa-close → local-asa-unlink → done. Each step runs regardless of
// whether the preceding one completed synchronously or asynchronously,
// since dispatch chains into onDone's callback either way.
func (s *SourceProcessor) Deinit(onDone func()) {
	if s.ctx != nil {
		_ = s.ctx.Close()
		s.ctx = nil
	}
	cb := func(a *asa.Asa, res asa.Result) { s.onRemoteClosed(onDone) }
	s.source.SetCallback(cb)
	dispatch(s.source, s.source.Backend().Close(s.source), cb)
}

func (s *SourceProcessor) onRemoteClosed(onDone func()) {
	cb := func(a *asa.Asa, res asa.Result) { s.onLocalClosed(onDone) }
	s.local.SetCallback(cb)
	dispatch(s.local, s.local.Backend().Close(s.local), cb)
}

func (s *SourceProcessor) onLocalClosed(onDone func()) {
	cb := func(a *asa.Asa, res asa.Result) { s.onLocalUnlinked(onDone) }
	s.local.SetCallback(cb)
	dispatch(s.local, s.local.Backend().Unlink(s.local), cb)
}

func (s *SourceProcessor) onLocalUnlinked(onDone func()) {
	if onDone != nil {
		onDone()
	}
}
