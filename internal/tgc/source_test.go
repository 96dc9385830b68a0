package tgc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgstream/internal/stream"
)

// fakeTelegram answers upload.getFile from an in-memory blob, rejecting
// any request whose file reference is not the currently valid one.
type fakeTelegram struct {
	mu       sync.Mutex
	blob     []byte
	validRef string
}

func (f *fakeTelegram) Invoke(_ context.Context, input bin.Encoder, output bin.Decoder) error {
	req, ok := input.(*tg.UploadGetFileRequest)
	if !ok {
		return fmt.Errorf("unexpected request %T", input)
	}
	loc, ok := req.Location.(*tg.InputDocumentFileLocation)
	if !ok {
		return fmt.Errorf("unexpected location %T", req.Location)
	}

	f.mu.Lock()
	valid := string(loc.FileReference) == f.validRef
	blob := f.blob
	f.mu.Unlock()

	if !valid {
		return tgerr.New(400, "FILE_REFERENCE_EXPIRED")
	}

	off, end := req.Offset, req.Offset+int64(req.Limit)
	if off > int64(len(blob)) {
		off = int64(len(blob))
	}
	if end > int64(len(blob)) {
		end = int64(len(blob))
	}
	res := &tg.UploadFile{Type: &tg.StorageFilePartial{}, Bytes: blob[off:end]}

	var b bin.Buffer
	if err := res.Encode(&b); err != nil {
		return err
	}
	return output.Decode(&b)
}

func (f *fakeTelegram) rotateRef(ref string) {
	f.mu.Lock()
	f.validRef = ref
	f.mu.Unlock()
}

func (f *fakeTelegram) currentRef() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validRef
}

func fakeWorker(inv tg.Invoker) *Worker {
	w := &Worker{Index: 0, DC: 2}
	w.api = tg.NewClient(inv)
	return w
}

func sourceBlob(n int) []byte {
	blob := make([]byte, n)
	for i := range blob {
		blob[i] = byte(i * 13)
	}
	return blob
}

func TestSourceConcurrentExpiryRefreshesOnce(t *testing.T) {
	blob := sourceBlob(4096)
	ft := &fakeTelegram{blob: blob, validRef: "v2"}

	var refreshes atomic.Int64
	src := NewSource(SourceOptions{
		Worker:   fakeWorker(ft),
		Locator:  &FileLocator{ChatID: -100, MsgID: 1, FileReference: []byte("v1")},
		Attempts: 3,
		Refresh: func(context.Context) (*FileLocator, error) {
			refreshes.Add(1)
			return &FileLocator{ChatID: -100, MsgID: 1, FileReference: []byte("v2")}, nil
		},
	})

	const workers = 4
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			off := int64(i) * 1024
			data, err := src.Fetch(context.Background(), off, 1024)
			if err == nil && string(data) != string(blob[off:off+1024]) {
				err = fmt.Errorf("wrong bytes at offset %d", off)
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "fetch %d", i)
	}
	assert.Equal(t, int64(1), refreshes.Load(), "concurrent expiries must collapse into one re-resolution")
}

func TestSourceRefreshesAgainOnLaterExpiry(t *testing.T) {
	blob := sourceBlob(2048)
	ft := &fakeTelegram{blob: blob, validRef: "v2"}

	var refreshes atomic.Int64
	src := NewSource(SourceOptions{
		Worker:   fakeWorker(ft),
		Locator:  &FileLocator{ChatID: -100, MsgID: 1, FileReference: []byte("v1")},
		Attempts: 3,
		Refresh: func(context.Context) (*FileLocator, error) {
			refreshes.Add(1)
			return &FileLocator{ChatID: -100, MsgID: 1, FileReference: []byte(ft.currentRef())}, nil
		},
	})

	_, err := src.Fetch(context.Background(), 0, 1024)
	require.NoError(t, err)
	assert.Equal(t, int64(1), refreshes.Load())

	// the reference expires a second time mid-stream
	ft.rotateRef("v3")

	data, err := src.Fetch(context.Background(), 1024, 1024)
	require.NoError(t, err, "later chunks must be able to refresh again")
	assert.Equal(t, blob[1024:2048], data)
	assert.Equal(t, int64(2), refreshes.Load())
}

func TestSourcePersistentExpirySurfacesAfterOneRefresh(t *testing.T) {
	ft := &fakeTelegram{blob: sourceBlob(1024), validRef: "unreachable"}

	var refreshes atomic.Int64
	src := NewSource(SourceOptions{
		Worker:   fakeWorker(ft),
		Locator:  &FileLocator{ChatID: -100, MsgID: 1, FileReference: []byte("stale")},
		Attempts: 5,
		Refresh: func(context.Context) (*FileLocator, error) {
			refreshes.Add(1)
			return &FileLocator{ChatID: -100, MsgID: 1, FileReference: []byte("still-stale")}, nil
		},
	})

	_, err := src.Fetch(context.Background(), 512, 512)
	require.Error(t, err)

	var ue *stream.UpstreamError
	require.True(t, errors.As(err, &ue), "got %v", err)
	assert.Equal(t, int64(512), ue.Position)
	assert.Equal(t, int64(1), refreshes.Load(), "one refresh per chunk, then surface")
}
