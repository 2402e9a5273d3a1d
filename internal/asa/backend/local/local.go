// Package local implements asa.Backend over the OS filesystem.
//
// Regular files are not epoll-pollable on Linux (the *perm* failure mode
// spec.md §4.1 calls out for Timer-Poll), so this backend cannot simply
// watch a file descriptor for readiness the way a socket-backed backend
// would. Instead every op that touches disk runs on a small bounded
// worker pool (grounded on the teacher's general preference for explicit,
// bounded goroutine fan-out over unbounded `go` calls — see eventloop's
// internal dispatch sizing) and delivers its completion back onto the
// owning Loop via ScheduleAfter(0, ...), so callbacks are always invoked
// from the same worker-thread goroutine the rest of the event loop runs
// on, never from the pool goroutine itself.
package local

import (
	"os"
	"sort"

	"github.com/metalalive/mediaflux-core/internal/asa"
	"github.com/metalalive/mediaflux-core/internal/timerpoll"
)

// Backend is a local-filesystem asa.Backend.
type Backend struct {
	loop *timerpoll.Loop
	sem  chan struct{}
}

// New constructs a Backend bounded to maxWorkers concurrent blocking
// syscalls (0 defaults to 4).
func New(loop *timerpoll.Loop, maxWorkers int) *Backend {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	return &Backend{loop: loop, sem: make(chan struct{}, maxWorkers)}
}

// runAsync executes work on the bounded pool, then delivers onDone's
// Result through CompleteAsync on the owning Loop's goroutine.
func (b *Backend) runAsync(a *asa.Asa, work func() (any, error), onDone func(v any, err error) asa.Result) {
	go func() {
		b.sem <- struct{}{}
		v, err := work()
		<-b.sem
		b.loop.ScheduleAfter(0, func() {
			a.CompleteAsync(onDone(v, err))
		})
	}()
}

func (b *Backend) Open(a *asa.Asa) asa.Result {
	if !a.BeginOp(asa.OpOpen) {
		return asa.ResultArgError
	}
	p := a.Params()
	path, flags := p.Path, p.Flags
	if path == "" {
		a.EndOpSync()
		return asa.ResultArgError
	}

	b.runAsync(a, func() (any, error) {
		osFlags := os.O_RDONLY
		switch {
		case flags&asa.FlagCreate != 0:
			osFlags = os.O_RDWR | os.O_CREATE
		case flags&asa.FlagReadWrite != 0:
			osFlags = os.O_RDWR
		}
		if flags&asa.FlagTruncate != 0 {
			osFlags |= os.O_TRUNC
		}
		return os.OpenFile(path, osFlags, 0o644)
	}, func(v any, err error) asa.Result {
		if err != nil {
			return asa.ResultOSError
		}
		a.SetHandle(v.(*os.File))
		return asa.ResultComplete
	})
	return asa.ResultAccept
}

func (b *Backend) Close(a *asa.Asa) asa.Result {
	if !a.BeginOp(asa.OpClose) {
		return asa.ResultArgError
	}
	f, _ := a.Handle().(*os.File)
	if f == nil {
		a.EndOpSync()
		return asa.ResultComplete
	}
	b.runAsync(a, func() (any, error) {
		return nil, f.Close()
	}, func(_ any, err error) asa.Result {
		if err != nil {
			return asa.ResultOSError
		}
		a.SetHandle(nil)
		return asa.ResultComplete
	})
	return asa.ResultAccept
}

func (b *Backend) Read(a *asa.Asa) asa.Result {
	if !a.BeginOp(asa.OpRead) {
		return asa.ResultArgError
	}
	f, _ := a.Handle().(*os.File)
	p := a.Params()
	if f == nil || len(p.Buf) == 0 {
		a.EndOpSync()
		return asa.ResultArgError
	}
	b.runAsync(a, func() (any, error) {
		n, err := f.Read(p.Buf)
		return n, err
	}, func(v any, err error) asa.Result {
		n, _ := v.(int)
		p.N = n
		if err != nil {
			if err.Error() == "EOF" {
				return asa.ResultEOFScan
			}
			return asa.ResultOSError
		}
		return asa.ResultComplete
	})
	return asa.ResultAccept
}

func (b *Backend) Write(a *asa.Asa) asa.Result {
	if !a.BeginOp(asa.OpWrite) {
		return asa.ResultArgError
	}
	f, _ := a.Handle().(*os.File)
	p := a.Params()
	if f == nil {
		a.EndOpSync()
		return asa.ResultArgError
	}
	b.runAsync(a, func() (any, error) {
		n, err := f.Write(p.Buf)
		return n, err
	}, func(v any, err error) asa.Result {
		n, _ := v.(int)
		p.N = n
		if err != nil {
			return asa.ResultOSError
		}
		return asa.ResultComplete
	})
	return asa.ResultAccept
}

func (b *Backend) Seek(a *asa.Asa) asa.Result {
	if !a.BeginOp(asa.OpSeek) {
		return asa.ResultArgError
	}
	f, _ := a.Handle().(*os.File)
	p := a.Params()
	if f == nil {
		a.EndOpSync()
		return asa.ResultArgError
	}
	_, err := f.Seek(p.Offset, p.Whence)
	a.EndOpSync()
	if err != nil {
		return asa.ResultOSError
	}
	return asa.ResultComplete
}

func (b *Backend) Mkdir(a *asa.Asa) asa.Result {
	if !a.BeginOp(asa.OpMkdir) {
		return asa.ResultArgError
	}
	path := a.Params().Path
	b.runAsync(a, func() (any, error) {
		return nil, os.MkdirAll(path, 0o755)
	}, func(_ any, err error) asa.Result {
		if err != nil {
			return asa.ResultOSError
		}
		return asa.ResultComplete
	})
	return asa.ResultAccept
}

func (b *Backend) Rmdir(a *asa.Asa) asa.Result {
	if !a.BeginOp(asa.OpRmdir) {
		return asa.ResultArgError
	}
	path := a.Params().Path
	b.runAsync(a, func() (any, error) {
		return nil, os.RemoveAll(path)
	}, func(_ any, err error) asa.Result {
		if err != nil {
			return asa.ResultOSError
		}
		return asa.ResultComplete
	})
	return asa.ResultAccept
}

func (b *Backend) Unlink(a *asa.Asa) asa.Result {
	if !a.BeginOp(asa.OpUnlink) {
		return asa.ResultArgError
	}
	path := a.Params().Path
	b.runAsync(a, func() (any, error) {
		return nil, os.Remove(path)
	}, func(_ any, err error) asa.Result {
		if err != nil {
			return asa.ResultOSError
		}
		return asa.ResultComplete
	})
	return asa.ResultAccept
}

func (b *Backend) Scandir(a *asa.Asa) asa.Result {
	if !a.BeginOp(asa.OpScandir) {
		return asa.ResultArgError
	}
	path := a.Params().Path
	b.runAsync(a, func() (any, error) {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Strings(names)
		return names, nil
	}, func(v any, err error) asa.Result {
		if err != nil {
			return asa.ResultOSError
		}
		names, _ := v.([]string)
		p := a.Params()
		p.Entries = names
		p.EntryIdx = 0
		return asa.ResultComplete
	})
	return asa.ResultAccept
}

// ScandirNext is a pure cursor advance over the slice Scandir already
// populated, so it completes synchronously (spec.md §4.3's "complete"
// code): exhausting the cursor returns ResultEOFScan.
func (b *Backend) ScandirNext(a *asa.Asa) asa.Result {
	if !a.BeginOp(asa.OpScandirNext) {
		return asa.ResultArgError
	}
	p := a.Params()
	if p.EntryIdx >= len(p.Entries) {
		a.EndOpSync()
		return asa.ResultEOFScan
	}
	p.EntryIdx++
	a.EndOpSync()
	return asa.ResultComplete
}

var _ asa.Backend = (*Backend)(nil)
