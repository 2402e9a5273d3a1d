package asa

import (
	"bytes"
	"io"
	"sort"
	"strings"
	"sync"
)

// fakeBackend is a synchronous, in-memory Backend used by this package's
// own tests to exercise Transfer, the version-folder Manager and DirScanner
// without touching a real filesystem or network.
type fakeBackend struct {
	mu    sync.Mutex
	store map[string][]byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{store: map[string][]byte{}}
}

type fakeHandle struct {
	key     string
	writing bool
	buf     *bytes.Buffer
	r       *bytes.Reader
}

func (b *fakeBackend) Open(a *Asa) Result {
	if !a.BeginOp(OpOpen) {
		return ResultArgError
	}
	p := a.Params()
	h := &fakeHandle{key: p.Path}
	if p.Flags&FlagReadWrite != 0 || p.Flags&FlagCreate != 0 {
		h.writing = true
		h.buf = &bytes.Buffer{}
	} else {
		b.mu.Lock()
		data, ok := b.store[p.Path]
		b.mu.Unlock()
		if !ok {
			a.EndOpSync()
			return ResultOSError
		}
		h.r = bytes.NewReader(data)
	}
	a.SetHandle(h)
	a.EndOpSync()
	return ResultComplete
}

func (b *fakeBackend) Close(a *Asa) Result {
	if !a.BeginOp(OpClose) {
		return ResultArgError
	}
	h, _ := a.Handle().(*fakeHandle)
	if h != nil && h.writing {
		b.mu.Lock()
		b.store[h.key] = h.buf.Bytes()
		b.mu.Unlock()
	}
	a.EndOpSync()
	return ResultComplete
}

func (b *fakeBackend) Read(a *Asa) Result {
	if !a.BeginOp(OpRead) {
		return ResultArgError
	}
	h, _ := a.Handle().(*fakeHandle)
	p := a.Params()
	if h == nil || h.r == nil {
		a.EndOpSync()
		return ResultArgError
	}
	n, err := h.r.Read(p.Buf)
	p.N = n
	a.EndOpSync()
	if err == io.EOF {
		if n > 0 {
			return ResultComplete
		}
		return ResultEOFScan
	}
	return ResultComplete
}

func (b *fakeBackend) Write(a *Asa) Result {
	if !a.BeginOp(OpWrite) {
		return ResultArgError
	}
	h, _ := a.Handle().(*fakeHandle)
	p := a.Params()
	if h == nil || !h.writing {
		a.EndOpSync()
		return ResultArgError
	}
	n, _ := h.buf.Write(p.Buf)
	p.N = n
	a.EndOpSync()
	return ResultComplete
}

func (b *fakeBackend) Seek(a *Asa) Result {
	if !a.BeginOp(OpSeek) {
		return ResultArgError
	}
	a.EndOpSync()
	return ResultComplete
}

func (b *fakeBackend) Mkdir(a *Asa) Result {
	if !a.BeginOp(OpMkdir) {
		return ResultArgError
	}
	a.EndOpSync()
	return ResultComplete
}

func (b *fakeBackend) Rmdir(a *Asa) Result {
	if !a.BeginOp(OpRmdir) {
		return ResultArgError
	}
	path := a.Params().Path
	b.mu.Lock()
	for k := range b.store {
		if k == path || strings.HasPrefix(k, path+"/") {
			delete(b.store, k)
		}
	}
	b.mu.Unlock()
	a.EndOpSync()
	return ResultComplete
}

func (b *fakeBackend) Unlink(a *Asa) Result {
	if !a.BeginOp(OpUnlink) {
		return ResultArgError
	}
	b.mu.Lock()
	delete(b.store, a.Params().Path)
	b.mu.Unlock()
	a.EndOpSync()
	return ResultComplete
}

func (b *fakeBackend) Scandir(a *Asa) Result {
	if !a.BeginOp(OpScandir) {
		return ResultArgError
	}
	prefix := a.Params().Path
	b.mu.Lock()
	var names []string
	for k := range b.store {
		if strings.HasPrefix(k, prefix) {
			names = append(names, strings.TrimPrefix(k, prefix))
		}
	}
	b.mu.Unlock()
	sort.Strings(names)
	p := a.Params()
	p.Entries = names
	p.EntryIdx = 0
	a.EndOpSync()
	return ResultComplete
}

func (b *fakeBackend) ScandirNext(a *Asa) Result {
	if !a.BeginOp(OpScandirNext) {
		return ResultArgError
	}
	p := a.Params()
	if p.EntryIdx >= len(p.Entries) {
		a.EndOpSync()
		return ResultEOFScan
	}
	p.EntryIdx++
	a.EndOpSync()
	return ResultComplete
}

var _ Backend = (*fakeBackend)(nil)
