// Package azblob implements asa.Backend against Azure Blob Storage via the
// official azure-sdk-for-go blob client. Like the s3 backend, objects are
// treated whole: Write accumulates into memory and flushes on Close via
// UploadBuffer; Open-for-read pulls the whole blob down via DownloadStream
// up front. Partial/random remote access is out of scope.
package azblob

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	astorage "github.com/metalalive/mediaflux-core/internal/asa"
	"github.com/metalalive/mediaflux-core/internal/timerpoll"
)

// Backend is an Azure-Blob-backed asa.Backend scoped to a single
// container.
type Backend struct {
	loop      *timerpoll.Loop
	client    *azblob.Client
	container string
	sem       chan struct{}
}

// New constructs a Backend over an already-configured *azblob.Client,
// bounded to maxInflight concurrent requests (0 defaults to 4).
func New(loop *timerpoll.Loop, client *azblob.Client, container string, maxInflight int) *Backend {
	if maxInflight <= 0 {
		maxInflight = 4
	}
	return &Backend{loop: loop, client: client, container: container, sem: make(chan struct{}, maxInflight)}
}

type handle struct {
	blobName string
	readBuf  *bytes.Reader
	writeBuf *bytes.Buffer
}

func (b *Backend) runAsync(a *astorage.Asa, work func() error) {
	go func() {
		b.sem <- struct{}{}
		err := work()
		<-b.sem
		b.loop.ScheduleAfter(0, func() {
			if err != nil {
				a.CompleteAsync(astorage.ResultOSError)
				return
			}
			a.CompleteAsync(astorage.ResultComplete)
		})
	}()
}

func (b *Backend) Open(a *astorage.Asa) astorage.Result {
	if !a.BeginOp(astorage.OpOpen) {
		return astorage.ResultArgError
	}
	p := a.Params()
	if p.Path == "" {
		a.EndOpSync()
		return astorage.ResultArgError
	}
	h := &handle{blobName: p.Path}

	if p.Flags&astorage.FlagReadWrite != 0 || p.Flags&astorage.FlagCreate != 0 {
		h.writeBuf = &bytes.Buffer{}
		a.SetHandle(h)
		a.EndOpSync()
		return astorage.ResultComplete
	}

	b.runAsync(a, func() error {
		resp, err := b.client.DownloadStream(context.Background(), b.container, h.blobName, nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		h.readBuf = bytes.NewReader(data)
		return nil
	})
	a.SetHandle(h)
	return astorage.ResultAccept
}

func (b *Backend) Close(a *astorage.Asa) astorage.Result {
	if !a.BeginOp(astorage.OpClose) {
		return astorage.ResultArgError
	}
	h, _ := a.Handle().(*handle)
	if h == nil || h.writeBuf == nil {
		a.EndOpSync()
		return astorage.ResultComplete
	}
	data := h.writeBuf.Bytes()
	b.runAsync(a, func() error {
		_, err := b.client.UploadBuffer(context.Background(), b.container, h.blobName, data, nil)
		return err
	})
	return astorage.ResultAccept
}

func (b *Backend) Read(a *astorage.Asa) astorage.Result {
	if !a.BeginOp(astorage.OpRead) {
		return astorage.ResultArgError
	}
	h, _ := a.Handle().(*handle)
	p := a.Params()
	if h == nil || h.readBuf == nil || len(p.Buf) == 0 {
		a.EndOpSync()
		return astorage.ResultArgError
	}
	n, err := h.readBuf.Read(p.Buf)
	p.N = n
	a.EndOpSync()
	if err == io.EOF {
		if n > 0 {
			return astorage.ResultComplete
		}
		return astorage.ResultEOFScan
	}
	if err != nil {
		return astorage.ResultOSError
	}
	return astorage.ResultComplete
}

func (b *Backend) Write(a *astorage.Asa) astorage.Result {
	if !a.BeginOp(astorage.OpWrite) {
		return astorage.ResultArgError
	}
	h, _ := a.Handle().(*handle)
	p := a.Params()
	if h == nil || h.writeBuf == nil {
		a.EndOpSync()
		return astorage.ResultArgError
	}
	n, err := h.writeBuf.Write(p.Buf)
	p.N = n
	a.EndOpSync()
	if err != nil {
		return astorage.ResultOSError
	}
	return astorage.ResultComplete
}

// Seek is unsupported: blobs are written and read whole.
func (b *Backend) Seek(a *astorage.Asa) astorage.Result {
	if !a.BeginOp(astorage.OpSeek) {
		return astorage.ResultArgError
	}
	a.EndOpSync()
	return astorage.ResultArgError
}

func (b *Backend) Mkdir(a *astorage.Asa) astorage.Result {
	if !a.BeginOp(astorage.OpMkdir) {
		return astorage.ResultArgError
	}
	// Blob containers have no directories; a version "folder" is a name
	// prefix shared by its blobs.
	a.EndOpSync()
	return astorage.ResultComplete
}

func (b *Backend) Rmdir(a *astorage.Asa) astorage.Result {
	if !a.BeginOp(astorage.OpRmdir) {
		return astorage.ResultArgError
	}
	prefix := a.Params().Path
	b.runAsync(a, func() error {
		ctx := context.Background()
		pager := b.client.NewListBlobsFlatPager(b.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, item := range page.Segment.BlobItems {
				if item.Name == nil {
					continue
				}
				if _, err := b.client.DeleteBlob(ctx, b.container, *item.Name, nil); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return astorage.ResultAccept
}

func (b *Backend) Unlink(a *astorage.Asa) astorage.Result {
	if !a.BeginOp(astorage.OpUnlink) {
		return astorage.ResultArgError
	}
	blobName := a.Params().Path
	b.runAsync(a, func() error {
		_, err := b.client.DeleteBlob(context.Background(), b.container, blobName, nil)
		return err
	})
	return astorage.ResultAccept
}

func (b *Backend) Scandir(a *astorage.Asa) astorage.Result {
	if !a.BeginOp(astorage.OpScandir) {
		return astorage.ResultArgError
	}
	prefix := a.Params().Path
	go func() {
		b.sem <- struct{}{}
		var names []string
		ctx := context.Background()
		pager := b.client.NewListBlobsFlatPager(b.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
		var err error
		for pager.More() {
			var page azblob.ListBlobsFlatResponse
			page, err = pager.NextPage(ctx)
			if err != nil {
				break
			}
			for _, item := range page.Segment.BlobItems {
				if item.Name != nil {
					names = append(names, strings.TrimPrefix(*item.Name, prefix))
				}
			}
		}
		<-b.sem
		b.loop.ScheduleAfter(0, func() {
			if err != nil {
				a.CompleteAsync(astorage.ResultOSError)
				return
			}
			p := a.Params()
			p.Entries = names
			p.EntryIdx = 0
			a.CompleteAsync(astorage.ResultComplete)
		})
	}()
	return astorage.ResultAccept
}

func (b *Backend) ScandirNext(a *astorage.Asa) astorage.Result {
	if !a.BeginOp(astorage.OpScandirNext) {
		return astorage.ResultArgError
	}
	p := a.Params()
	if p.EntryIdx >= len(p.Entries) {
		a.EndOpSync()
		return astorage.ResultEOFScan
	}
	p.EntryIdx++
	a.EndOpSync()
	return astorage.ResultComplete
}

var _ astorage.Backend = (*Backend)(nil)
