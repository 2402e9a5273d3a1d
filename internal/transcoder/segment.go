package transcoder

import (
	"path"

	"github.com/metalalive/mediaflux-core/internal/asa"
	"github.com/metalalive/mediaflux-core/internal/obslog"
)

// SegmentDescriptor names the artifacts a DestinationProcessor produces for
// one transcoding job: the numbered HLS media segments (ScratchDir/Prefix +
// integer), the init-map, the master playlist and the per-version playlist,
// transferred to storage in that fixed order once the source is done
// (spec.md §4.3.1).
type SegmentDescriptor struct {
	ScratchDir             string
	Prefix                 string
	InitMapName            string
	MasterPlaylistName     string
	PerVersionPlaylistName string
}

// localPath joins the descriptor's scratch directory to a filename.
func (sd SegmentDescriptor) localPath(name string) string {
	return path.Join(sd.ScratchDir, name)
}

// segmentTransfer drives the ready-segment scan-and-push of spec.md
// §4.3.1: scan ScratchDir for Prefix<integer> files, withhold the
// highest-numbered one unless sourceDone, transfer the rest in ascending
// order, and — only once sourceDone and every discovered segment has been
// pushed — transfer the init-map, master playlist and per-version playlist
// in that fixed order.
type segmentTransfer struct {
	sd           SegmentDescriptor
	localBack    asa.Backend
	destBack     asa.Backend
	destDir      string
	bufSize      int
	sourceDone   bool
	metrics      *obslog.Metrics
	backendLabel string
	onDone       func(err error)

	ready   []asa.SegmentIndex
	nextIdx int
}

func newSegmentTransfer(sd SegmentDescriptor, localBack, destBack asa.Backend, destDir string, bufSize int, sourceDone bool, metrics *obslog.Metrics, backendLabel string, onDone func(error)) *segmentTransfer {
	return &segmentTransfer{sd: sd, localBack: localBack, destBack: destBack, destDir: destDir, bufSize: bufSize, sourceDone: sourceDone, metrics: metrics, backendLabel: backendLabel, onDone: onDone}
}

func (st *segmentTransfer) start() {
	dirAsa := asa.New(st.localBack, nil)
	dirAsa.Params().Path = st.sd.ScratchDir
	asa.NewDirScanner(dirAsa, st.onScanned).Start()
}

func (st *segmentTransfer) onScanned(names []string, err error) {
	if err != nil {
		st.onDone(err)
		return
	}
	sorted := asa.ParseSegmentIndices(names, st.sd.Prefix)
	st.ready = asa.ReadySegments(sorted, st.sourceDone)
	st.transferNext()
}

func (st *segmentTransfer) transferNext() {
	if st.nextIdx >= len(st.ready) {
		if st.sourceDone {
			st.transferFixedTail()
			return
		}
		st.onDone(nil)
		return
	}
	seg := st.ready[st.nextIdx]
	st.nextIdx++
	st.transferOne(st.sd.localPath(seg.Name), path.Join(st.destDir, seg.Name), st.transferNext)
}

// transferFixedTail pushes the init-map, master playlist and per-version
// playlist in that order — only reached once every discovered media
// segment has already been transferred and the source has signalled done.
func (st *segmentTransfer) transferFixedTail() {
	names := []string{st.sd.InitMapName, st.sd.MasterPlaylistName, st.sd.PerVersionPlaylistName}
	var step func(i int)
	step = func(i int) {
		if i >= len(names) {
			st.onDone(nil)
			return
		}
		name := names[i]
		if name == "" {
			step(i + 1)
			return
		}
		st.transferOne(st.sd.localPath(name), path.Join(st.destDir, name), func() { step(i + 1) })
	}
	step(0)
}

func (st *segmentTransfer) transferOne(localPath, destPath string, next func()) {
	local := asa.New(st.localBack, nil)
	local.Params().Path = localPath
	dest := asa.New(st.destBack, nil)
	dest.Params().Path = destPath
	dest.Params().Flags = asa.FlagCreate | asa.FlagReadWrite

	tr := asa.NewTransfer(local, dest, st.bufSize, st.metrics, st.backendLabel, func(err error) {
		if err != nil {
			st.onDone(err)
			return
		}
		next()
	})
	tr.Start()
}
