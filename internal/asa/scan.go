package asa

import "github.com/metalalive/mediaflux-core/internal/coreerr"

// DirScanner drives Scandir/ScandirNext to completion and hands back the
// accumulated entry names, or the first error encountered. Scandir opens
// the scan (and, per this package's Backend contract, fully populates
// Params().Entries); ScandirNext walks the cursor one entry at a time,
// terminating with ResultEOFScan — this driver reads the just-advanced
// entry off Params().Entries after every ScandirNext so it exercises the
// vtable the way a remote backend unable to list a directory in one shot
// would (see segments.go for what the HLS ready-list does with the names).
type DirScanner struct {
	dir    *Asa
	names  []string
	onDone func(names []string, err error)
}

// NewDirScanner constructs a scanner over dir (Params().Path must already
// be set by the caller).
func NewDirScanner(dir *Asa, onDone func(names []string, err error)) *DirScanner {
	return &DirScanner{dir: dir, onDone: onDone}
}

// Start begins the scan.
func (s *DirScanner) Start() {
	s.dir.SetCallback(s.onScandir)
	dispatch(s.dir, s.dir.Backend().Scandir(s.dir), s.onScandir)
}

func (s *DirScanner) onScandir(a *Asa, res Result) {
	if res.IsError() {
		s.onDone(nil, coreerr.New(res.ToCode(), "asa_scandir", "scandir failed"))
		return
	}
	s.advance()
}

func (s *DirScanner) advance() {
	s.dir.SetCallback(s.onNext)
	dispatch(s.dir, s.dir.Backend().ScandirNext(s.dir), s.onNext)
}

func (s *DirScanner) onNext(a *Asa, res Result) {
	if res == ResultEOFScan {
		s.onDone(s.names, nil)
		return
	}
	if res.IsError() {
		s.onDone(nil, coreerr.New(res.ToCode(), "asa_scandir_next", "scandir_next failed"))
		return
	}
	p := a.Params()
	if idx := p.EntryIdx - 1; idx >= 0 && idx < len(p.Entries) {
		s.names = append(s.names, p.Entries[idx])
	}
	s.advance()
}
