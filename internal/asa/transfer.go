package asa

import (
	"sync"

	"github.com/metalalive/mediaflux-core/internal/coreerr"
	"github.com/metalalive/mediaflux-core/internal/obslog"
)

// dispatch routes a Backend vtable return through cb exactly once: an
// accepted op lets its already-installed callback fire later; a
// synchronously-completed or errored op is chained into cb immediately,
// since the vtable itself never invokes the callback for those two cases
// (spec.md §4.3).
func dispatch(a *Asa, res Result, cb Callback) {
	switch res {
	case ResultAccept:
	default:
		cb(a, res)
	}
}

// Transfer drives the file transfer protocol of spec.md §4.3.1: open the
// destination (which may create a new version folder), open the local
// scratch file, pump read-local/write-destination until EOF, then close the
// local file, unlink it, and only then close the destination — in that
// order, because unlinking the scratch file before the remote handle closes
// is required so a half-written destination never gets mistaken for a
// finished one.
//
// Transfer is generic over Backend: either remote backend (local
// filesystem, S3, Azure Blob) drives the same state machine.
type Transfer struct {
	local *Asa
	dest  *Asa
	buf   []byte

	metrics      *obslog.Metrics
	backendLabel string

	once   sync.Once
	onDone func(err error)
}

// NewTransfer constructs a Transfer moving bytes from local into dest,
// using a bufSize-byte scratch buffer, invoking onDone exactly once when
// the whole protocol finishes (nil error) or aborts (non-nil error).
// metrics may be nil (no instrumentation); backendLabel tags the
// transfer_bytes_total/transfer_errors_total series by destination kind
// (e.g. "local", "s3", "azblob").
func NewTransfer(local, dest *Asa, bufSize int, metrics *obslog.Metrics, backendLabel string, onDone func(err error)) *Transfer {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &Transfer{local: local, dest: dest, buf: make([]byte, bufSize), metrics: metrics, backendLabel: backendLabel, onDone: onDone}
}

// Start begins the protocol: open destination, then local, then the
// read/write pump.
func (tr *Transfer) Start() {
	tr.dest.SetCallback(tr.onDestOpen)
	dispatch(tr.dest, tr.dest.Backend().Open(tr.dest), tr.onDestOpen)
}

func (tr *Transfer) fail(a *Asa, res Result) {
	if tr.metrics != nil {
		tr.metrics.TransferErrors.WithLabelValues(tr.backendLabel).Inc()
	}
	tr.once.Do(func() {
		tr.onDone(coreerr.New(res.ToCode(), "asa_transfer", "transfer failed at "+a.CurrentOp().String()))
	})
}

func (tr *Transfer) succeed() {
	tr.once.Do(func() { tr.onDone(nil) })
}

func (tr *Transfer) onDestOpen(a *Asa, res Result) {
	if res.IsError() {
		tr.fail(a, res)
		return
	}
	tr.local.SetCallback(tr.onLocalOpen)
	dispatch(tr.local, tr.local.Backend().Open(tr.local), tr.onLocalOpen)
}

func (tr *Transfer) onLocalOpen(a *Asa, res Result) {
	if res.IsError() {
		tr.fail(a, res)
		return
	}
	tr.doRead()
}

func (tr *Transfer) doRead() {
	tr.local.Params().Buf = tr.buf
	tr.local.SetCallback(tr.onRead)
	dispatch(tr.local, tr.local.Backend().Read(tr.local), tr.onRead)
}

func (tr *Transfer) onRead(a *Asa, res Result) {
	if res == ResultEOFScan {
		tr.closeLocal()
		return
	}
	if res.IsError() {
		tr.fail(a, res)
		return
	}
	n := tr.local.Params().N
	if n == 0 {
		tr.closeLocal()
		return
	}
	tr.dest.Params().Buf = tr.buf[:n]
	tr.dest.SetCallback(tr.onWrite)
	dispatch(tr.dest, tr.dest.Backend().Write(tr.dest), tr.onWrite)
}

func (tr *Transfer) onWrite(a *Asa, res Result) {
	if res.IsError() {
		tr.fail(a, res)
		return
	}
	if tr.metrics != nil {
		tr.metrics.TransferBytesTotal.WithLabelValues(tr.backendLabel).Add(float64(tr.dest.Params().N))
	}
	tr.doRead()
}

func (tr *Transfer) closeLocal() {
	tr.local.SetCallback(tr.onLocalClose)
	dispatch(tr.local, tr.local.Backend().Close(tr.local), tr.onLocalClose)
}

func (tr *Transfer) onLocalClose(a *Asa, res Result) {
	if res.IsError() {
		tr.fail(a, res)
		return
	}
	tr.local.SetCallback(tr.onLocalUnlink)
	dispatch(tr.local, tr.local.Backend().Unlink(tr.local), tr.onLocalUnlink)
}

func (tr *Transfer) onLocalUnlink(a *Asa, res Result) {
	if res.IsError() {
		tr.fail(a, res)
		return
	}
	tr.dest.SetCallback(tr.onDestClose)
	dispatch(tr.dest, tr.dest.Backend().Close(tr.dest), tr.onDestClose)
}

func (tr *Transfer) onDestClose(a *Asa, res Result) {
	if res.IsError() {
		tr.fail(a, res)
		return
	}
	tr.succeed()
}
