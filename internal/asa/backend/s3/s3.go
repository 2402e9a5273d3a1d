// Package s3 implements asa.Backend against AWS S3, via the official
// aws-sdk-go-v2 client and its upload/download manager. Objects are
// whole-object: a Write stream accumulates into an in-memory buffer that
// flushes on Close (PutObject via manager.Uploader), and an Open for
// reading pulls the whole object down up front (manager.Downloader) so
// subsequent Reads are served from memory — true partial/random remote
// access is out of scope (transfer.go only ever reads or writes
// sequentially to EOF).
package s3

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	astorage "github.com/metalalive/mediaflux-core/internal/asa"
	"github.com/metalalive/mediaflux-core/internal/timerpoll"
)

// Backend is an S3-backed asa.Backend scoped to a single bucket.
type Backend struct {
	loop   *timerpoll.Loop
	client *s3.Client
	bucket string
	sem    chan struct{}
}

// New constructs a Backend over an already-configured *s3.Client, bounded
// to maxInflight concurrent requests (0 defaults to 4).
func New(loop *timerpoll.Loop, client *s3.Client, bucket string, maxInflight int) *Backend {
	if maxInflight <= 0 {
		maxInflight = 4
	}
	return &Backend{loop: loop, client: client, bucket: bucket, sem: make(chan struct{}, maxInflight)}
}

// handle is the backend-specific object stashed on Asa.Handle.
type handle struct {
	key      string
	readBuf  *bytes.Reader // populated on Open for read
	writeBuf *bytes.Buffer // accumulated across Write calls, flushed on Close
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
	h := &handle{key: p.Path}

	if p.Flags&astorage.FlagReadWrite != 0 || p.Flags&astorage.FlagCreate != 0 {
		a.SetHandle(h)
		h.writeBuf = &bytes.Buffer{}
		a.EndOpSync()
		return astorage.ResultComplete
	}

	b.runAsync(a, func() error {
		downloader := manager.NewDownloader(b.client)
		buf := manager.NewWriteAtBuffer(nil)
		_, err := downloader.Download(context.Background(), buf, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(h.key),
		})
		if err != nil {
			return err
		}
		h.readBuf = bytes.NewReader(buf.Bytes())
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
	if h == nil {
		a.EndOpSync()
		return astorage.ResultComplete
	}
	if h.writeBuf == nil {
		a.EndOpSync()
		return astorage.ResultComplete
	}
	body := bytes.NewReader(h.writeBuf.Bytes())
	b.runAsync(a, func() error {
		uploader := manager.NewUploader(b.client)
		_, err := uploader.Upload(context.Background(), &s3.PutObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(h.key),
			Body:   body,
		})
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

// Seek is unsupported: S3 objects are written and read whole.
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
	// S3 has no directories; a version "folder" is just a key prefix.
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
		paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(b.bucket),
			Prefix: aws.String(prefix),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, obj := range page.Contents {
				if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
					Bucket: aws.String(b.bucket),
					Key:    obj.Key,
				}); err != nil {
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
	key := a.Params().Path
	b.runAsync(a, func() error {
		_, err := b.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		})
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
		paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(b.bucket),
			Prefix: aws.String(prefix),
		})
		var err error
		for paginator.HasMorePages() {
			var page *s3.ListObjectsV2Output
			page, err = paginator.NextPage(ctx)
			if err != nil {
				break
			}
			for _, obj := range page.Contents {
				names = append(names, aws.ToString(obj.Key))
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
