// Package codectest provides a deterministic, in-memory fake of
// transcoder.Codec for the transcoder package's own unit tests — no real
// codec library is linked in, matching spec.md's Non-goals around concrete
// codec bindings.
package codectest

import (
	"fmt"
	"os"

	"github.com/metalalive/mediaflux-core/internal/transcoder"
)

// FakeCodec produces a fixed, deterministic number of packets/frames so
// tests can assert exact call counts and termination.
type FakeCodec struct {
	// ChunkSize splits the preloaded scratch file into fixed-size
	// packets for Demux (0 defaults to 16).
	ChunkSize int
	// FramesPerStream bounds how many CodeOK frames Filter yields per
	// stream before it reports CodeNeedMoreData.
	FramesPerStream int
	// Headered makes the dest context report HeaderedFormat() == true.
	Headered bool
}

func (f *FakeCodec) NewSourceContext(path string) (transcoder.SourceContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	chunk := f.ChunkSize
	if chunk <= 0 {
		chunk = 16
	}
	var packets [][]byte
	for i := 0; i < len(data); i += chunk {
		end := i + chunk
		if end > len(data) {
			end = len(data)
		}
		packets = append(packets, data[i:end])
	}
	return &fakeSourceContext{packets: packets}, nil
}

func (f *FakeCodec) NewDestContext(localPath, demuxerHint string) (transcoder.DestContext, error) {
	return &fakeDestContext{
		framesPerStream: f.FramesPerStream,
		headered:        f.Headered,
		filterCalls:     map[int]int{},
		encodeCalls:     map[int]int{},
	}, nil
}

type fakeSourceContext struct {
	packets [][]byte
	idx     int
	closed  bool
}

func (c *fakeSourceContext) Demux() (transcoder.Packet, transcoder.Code, error) {
	if c.idx >= len(c.packets) {
		return nil, transcoder.CodeEOF, nil
	}
	p := c.packets[c.idx]
	c.idx++
	return p, transcoder.CodeOK, nil
}

func (c *fakeSourceContext) Decode(pkt transcoder.Packet) (transcoder.Code, error) {
	if pkt == nil {
		return transcoder.CodeNeedMoreData, nil
	}
	return transcoder.CodeOK, nil
}

func (c *fakeSourceContext) Close() error {
	c.closed = true
	return nil
}

type fakeDestContext struct {
	framesPerStream int
	headered        bool
	wroteHeader     bool
	filterCalls     map[int]int
	encodeCalls     map[int]int
	Muxed           []string
	finalized       bool
	closed          bool
}

func (c *fakeDestContext) HeaderedFormat() bool { return c.headered }

func (c *fakeDestContext) WriteHeader() error {
	c.wroteHeader = true
	return nil
}

func (c *fakeDestContext) InitFilter(streamIdx int, kind transcoder.StreamKind) error {
	return nil
}

func (c *fakeDestContext) Filter(streamIdx int, flushing bool) (transcoder.Frame, transcoder.Code, error) {
	if flushing {
		return nil, transcoder.CodeDoneFlushingFilter, nil
	}
	c.filterCalls[streamIdx]++
	if c.filterCalls[streamIdx] > c.framesPerStream {
		return nil, transcoder.CodeNeedMoreData, nil
	}
	return fmt.Sprintf("frame-%d-%d", streamIdx, c.filterCalls[streamIdx]), transcoder.CodeOK, nil
}

func (c *fakeDestContext) Encode(streamIdx int, frame transcoder.Frame, flushing bool) (transcoder.Packet, transcoder.Code, error) {
	if flushing {
		c.encodeCalls[streamIdx]++
		if c.encodeCalls[streamIdx] > 1 {
			return nil, transcoder.CodeEndOfFlushEncoder, nil
		}
		return "flush-packet", transcoder.CodeOK, nil
	}
	return fmt.Sprintf("pkt-for-%v", frame), transcoder.CodeOK, nil
}

func (c *fakeDestContext) Mux(pkt transcoder.Packet) error {
	c.Muxed = append(c.Muxed, fmt.Sprint(pkt))
	return nil
}

func (c *fakeDestContext) Finalize() error {
	c.finalized = true
	return nil
}

func (c *fakeDestContext) Close() error {
	c.closed = true
	return nil
}
