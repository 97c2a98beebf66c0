// Package upload relays in-memory assets to the object store in small
// chunks, reporting progress as each chunk is consumed.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"storefront/internal/apperr"
	"storefront/internal/metrics"
	"storefront/internal/storage"
)

const (
	DefaultChunkSize = 200
	DefaultTimeout   = 5 * time.Minute
)

var (
	// ErrTransferStopped is what the object store sees when the progress
	// consumer abandons a transfer part way.
	ErrTransferStopped = errors.New("transfer stopped by consumer")
	ErrTransferStarted = errors.New("transfer already started")
)

// Publisher receives progress percentages for a named event.
type Publisher interface {
	Publish(event string, percent int)
}

type Asset struct {
	Name     string
	MimeType string
	Data     []byte
}

type Target struct {
	Folder string
	Class  Class
}

type Progress struct {
	BytesWritten int64
	TotalBytes   int64
	Percent      int
}

// Descriptor identifies a stored object. PublicID is the object key and is
// what callers pass back to Delete.
type Descriptor struct {
	URL       string
	PublicID  string
	Folder    string
	MimeType  string
	SizeBytes int64
}

type Relay struct {
	store       storage.ObjectStore
	publisher   Publisher
	chunkSize   int
	timeout     time.Duration
	iconMaxEdge int
}

type Option func(*Relay)

func WithChunkSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(r *Relay) { r.publisher = p }
}

// WithIconMaxEdge enables icon normalization for image-class uploads.
func WithIconMaxEdge(n int) Option {
	return func(r *Relay) { r.iconMaxEdge = n }
}

func NewRelay(store storage.ObjectStore, opts ...Option) *Relay {
	r := &Relay{
		store:     store,
		chunkSize: DefaultChunkSize,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start prepares a transfer. Nothing is sent until the first pull from
// Progress, or until Wait is called.
func (r *Relay) Start(ctx context.Context, asset Asset, target Target) *Transfer {
	t := &Transfer{
		relay:  r,
		ctx:    ctx,
		folder: target.Folder,
		done:   make(chan struct{}),
	}

	if !target.Class.Valid() {
		t.prepErr = apperr.New(apperr.ValidationFailed, fmt.Sprintf("unknown upload class %q", target.Class))
		return t
	}

	mimeType, err := classify(target.Class, asset.Data, asset.MimeType)
	if err != nil {
		t.prepErr = apperr.Wrap(apperr.ValidationFailed, "file type not allowed", err)
		return t
	}

	data := asset.Data
	if target.Class == ClassImage && r.iconMaxEdge > 0 && mimeType != "image/gif" {
		normalized, err := NormalizeIcon(bytes.NewReader(data), r.iconMaxEdge, DefaultIconQuality)
		if err != nil {
			t.prepErr = apperr.Wrap(apperr.ValidationFailed, "invalid image", err)
			return t
		}
		data = normalized.Data
		mimeType = normalized.MimeType
	}

	key, err := storage.Key(target.Folder, uuid.NewString()+extensionFor(mimeType))
	if err != nil {
		t.prepErr = apperr.Wrap(apperr.ValidationFailed, "invalid upload folder", err)
		return t
	}

	t.data = data
	t.key = key
	t.mimeType = mimeType
	return t
}

// Send runs a transfer to completion, publishing each percentage under
// event. It returns the stored object's descriptor.
func (r *Relay) Send(ctx context.Context, asset Asset, target Target, event string) (*Descriptor, error) {
	t := r.Start(ctx, asset, target)
	for p := range t.Progress() {
		if r.publisher != nil {
			r.publisher.Publish(event, p.Percent)
			metrics.RecordProgressEvent()
		}
	}
	return t.Wait()
}

// Delete removes a previously relayed object.
func (r *Relay) Delete(ctx context.Context, publicID string) error {
	return r.store.Delete(ctx, publicID)
}

// DeleteBestEffort removes an object and only logs failures, for replaced
// or orphaned assets.
func (r *Relay) DeleteBestEffort(publicID string) {
	if publicID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.store.Delete(ctx, publicID); err != nil {
		slog.Warn("error deleting stored object", "component", "upload", "error", err, "public_id", publicID)
	}
}

// Transfer is a single relayed upload. Its progress can be consumed once.
type Transfer struct {
	relay    *Relay
	ctx      context.Context
	folder   string
	data     []byte
	key      string
	mimeType string
	prepErr  error

	started atomic.Bool
	once    sync.Once
	done    chan struct{}
	desc    *Descriptor
	err     error
}

// Progress returns a lazy sequence of progress updates. The upload begins
// on the first pull and each update follows one chunk being consumed by the
// object store. A second call yields nothing.
func (t *Transfer) Progress() iter.Seq[Progress] {
	return func(yield func(Progress) bool) {
		if !t.started.CompareAndSwap(false, true) {
			return
		}
		t.run(yield)
	}
}

// Wait drains any unconsumed progress and returns the outcome.
func (t *Transfer) Wait() (*Descriptor, error) {
	for range t.Progress() {
	}
	<-t.done
	return t.desc, t.err
}

type putResult struct {
	url string
	err error
}

func (t *Transfer) run(yield func(Progress) bool) {
	if t.prepErr != nil {
		t.finish(nil, t.prepErr)
		return
	}

	r := t.relay
	start := time.Now()
	ctx, cancel := context.WithTimeout(t.ctx, r.timeout)
	defer cancel()

	pr, pw := io.Pipe()
	results := make(chan putResult, 1)
	go func() {
		url, err := r.store.Put(ctx, t.key, pr, t.mimeType)
		if err != nil {
			_ = pr.CloseWithError(err)
		} else {
			_ = pr.Close()
		}
		results <- putResult{url: url, err: err}
	}()

	total := int64(len(t.data))
	var writeErr error

	if total == 0 {
		_ = pw.Close()
		yield(Progress{BytesWritten: 0, TotalBytes: 0, Percent: 100})
	} else {
		chunk := int64(r.chunkSize)
		for written := int64(0); written < total; {
			end := min(written+chunk, total)
			if _, err := pw.Write(t.data[written:end]); err != nil {
				writeErr = err
				break
			}
			written = end

			if !yield(Progress{BytesWritten: written, TotalBytes: total, Percent: int(written * 100 / total)}) && written < total {
				writeErr = ErrTransferStopped
				break
			}
		}
		if writeErr != nil {
			_ = pw.CloseWithError(writeErr)
		} else {
			_ = pw.Close()
		}
	}

	res := <-results
	err := res.err
	if err == nil && writeErr != nil {
		err = writeErr
	}

	metrics.RecordUpload(t.folder, total, time.Since(start), err == nil)

	if err != nil {
		r.DeleteBestEffort(t.key)
		t.finish(nil, apperr.Wrap(apperr.UploadFailed, "upload failed", err))
		return
	}

	t.finish(&Descriptor{
		URL:       res.url,
		PublicID:  t.key,
		Folder:    t.folder,
		MimeType:  t.mimeType,
		SizeBytes: total,
	}, nil)
}

func (t *Transfer) finish(desc *Descriptor, err error) {
	t.once.Do(func() {
		t.desc = desc
		t.err = err
		close(t.done)
	})
}
