// Package transcoder implements the processor pipeline of spec.md §4.4:
// matched source/destination processors driven by a small abstracted AV
// backend contract (spec.md §4.4.3 — the concrete codec library itself is
// excluded by spec.md's Non-goals). A deterministic in-memory fake codec
// for this package's own tests lives under transcoder/codectest.
package transcoder

import "github.com/metalalive/mediaflux-core/internal/coreerr"

// Code is one of the AV-layer decision-point return codes spec.md §4.4.3
// defines. A negative/error outcome is carried as a Go error instead of a
// dedicated code, since Go already has a first-class way to say "failed".
type Code int

const (
	// CodeOK: a packet/frame is ready; continue.
	CodeOK Code = iota
	// CodeNeedMoreData: the consumer must pull more input before this
	// step can produce anything.
	CodeNeedMoreData
	// CodeEOF: a demux fetch found no more input.
	CodeEOF
	// CodeDoneFlushingFilter: flush-mode filter has nothing left to
	// emit.
	CodeDoneFlushingFilter
	// CodeEndOfFlushEncoder: flush-mode encoder has fully drained.
	CodeEndOfFlushEncoder
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeNeedMoreData:
		return "need-more-data"
	case CodeEOF:
		return "eof"
	case CodeDoneFlushingFilter:
		return "done-flushing-filter"
	case CodeEndOfFlushEncoder:
		return "end-of-flush-encoder"
	default:
		return "unknown"
	}
}

// StreamKind classifies an input stream for filter-graph selection
// (spec.md §4.4.2 step 4: video gets fps+setpts+scale, audio gets
// aresample, subtitle/other is pass-through or skipped).
type StreamKind int

const (
	StreamVideo StreamKind = iota
	StreamAudio
	StreamSubtitle
	StreamOther
)

// Packet and Frame are opaque AV-layer payloads; their shape is entirely a
// codec-library concern excluded by spec.md's Non-goals.
type Packet = any
type Frame = any

// SourceContext is the backend format/decode context spec.md §4.4.1 builds
// against the local scratch file.
type SourceContext interface {
	// Demux fetches the next packet. CodeEOF means no more input.
	Demux() (Packet, Code, error)
	// Decode advances on pkt (the packet most recently returned by
	// Demux). CodeNeedMoreData means the caller must Demux again before
	// calling Decode; CodeOK means a packet was consumed.
	Decode(pkt Packet) (Code, error)
	Close() error
}

// DestContext is the backend output format/filter/encode context spec.md
// §4.4.2 builds. streamIdx identifies one of the source's streams.
type DestContext interface {
	// HeaderedFormat reports whether this container format requires an
	// explicit write-header call before packets can be muxed.
	HeaderedFormat() bool
	WriteHeader() error

	InitFilter(streamIdx int, kind StreamKind) error
	// Filter pulls the next filtered frame for streamIdx. In flushing
	// mode no new source frame is fed in (the drain sentinel);
	// CodeDoneFlushingFilter ends the flush.
	Filter(streamIdx int, flushing bool) (Frame, Code, error)
	// Encode consumes frame (nil in flushing mode) and returns the next
	// ready packet, if any.
	Encode(streamIdx int, frame Frame, flushing bool) (Packet, Code, error)
	Mux(pkt Packet) error

	Finalize() error
	Close() error
}

// Codec is the small abstracted AV backend contract: it only knows how to
// build the two kinds of context a processor needs.
type Codec interface {
	// NewSourceContext opens a backend demux/decode context against a
	// local file path.
	NewSourceContext(path string) (SourceContext, error)
	// NewDestContext builds an output context at localPath, guessing the
	// container format from demuxerNameHint (the source's demuxer name),
	// falling back to a neutral default when the hint is empty/unknown.
	NewDestContext(localPath, demuxerNameHint string) (DestContext, error)
}

// codeErr wraps an unexpected negative AV-layer code as a *coreerr.Error,
// for call sites that only have a Code and no underlying error.
func codeErr(op string, c Code) *coreerr.Error {
	return coreerr.New(coreerr.Data, op, "unexpected AV layer code: "+c.String())
}
