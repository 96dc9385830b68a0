package tgc

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"tgstream/internal/stream"
)

/* ===== file locator ===== */

// FileLocator carries everything needed to download one document: the
// message coordinates it came from plus the document's own credentials.
// The FileReference goes stale after a while and must be refreshed by
// re-reading the message.
type FileLocator struct {
	ChatID        int64
	MsgID         int
	ID            int64
	AccessHash    int64
	FileReference []byte
	Size          int64
	MimeType      string
	FileName      string
	DCID          int
	UniqueID      string
	Duration      float64
	Width         int
	Height        int
}

func (l *FileLocator) input() *tg.InputDocumentFileLocation {
	return &tg.InputDocumentFileLocation{
		ID:            l.ID,
		AccessHash:    l.AccessHash,
		FileReference: l.FileReference,
	}
}

/* ===== chunk source ===== */

// SourceOptions configures a Source for one stream.
type SourceOptions struct {
	Worker  *Worker
	Locator *FileLocator

	// Refresh re-resolves the locator after FILE_REFERENCE_EXPIRED.
	Refresh func(ctx context.Context) (*FileLocator, error)

	MaxFloodWait time.Duration
	Attempts     int
}

// Source fetches aligned chunks of one document through one worker. It
// retries transient failures itself so the engine above it only ever sees
// fatal errors. All of the engine's fetch goroutines share one Source,
// so the locator is guarded: an expired file reference is re-resolved by
// whichever goroutine hits it first while the rest wait on the lock and
// then retry against the refreshed locator.
type Source struct {
	worker       *Worker
	refresh      func(ctx context.Context) (*FileLocator, error)
	maxFloodWait time.Duration
	attempts     int

	mu  sync.Mutex
	loc *FileLocator
	gen uint64 // bumped on every successful refresh
}

var _ stream.ChunkSource = (*Source)(nil)

func NewSource(o SourceOptions) *Source {
	return &Source{
		worker:       o.Worker,
		refresh:      o.Refresh,
		maxFloodWait: o.MaxFloodWait,
		attempts:     o.Attempts,
		loc:          o.Locator,
	}
}

func (s *Source) Fetch(ctx context.Context, offset int64, limit int) ([]byte, error) {
	attempts := s.attempts
	if attempts < 1 {
		attempts = 1
	}

	// the refresh budget is per chunk: references expire periodically, so
	// a long stream may refresh many times, but never twice for one fetch
	refreshed := false

	var lastErr error
	for try := 0; try < attempts; try++ {
		loc, gen := s.snapshot()
		data, err := s.fetchOnce(ctx, loc, offset, limit)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if d, ok := tgerr.AsFloodWait(err); ok {
			if d > s.maxFloodWait {
				return nil, &stream.UpstreamError{Position: offset, Err: fmt.Errorf("flood wait %s exceeds limit: %w", d, err)}
			}
			log.Printf("[pool] worker %d flood wait %s at offset %d", s.worker.Index, d, offset)
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		if tgerr.Is(err, "FILE_REFERENCE_EXPIRED") {
			if refreshed {
				return nil, &stream.UpstreamError{Position: offset, Err: err}
			}
			refreshed = true
			if rerr := s.refreshLocator(ctx, gen); rerr != nil {
				return nil, &stream.UpstreamError{Position: offset, Err: fmt.Errorf("refresh file reference: %w", rerr)}
			}
			continue
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, &stream.UpstreamError{Position: offset, Err: lastErr}
}

func (s *Source) snapshot() (*FileLocator, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc, s.gen
}

// refreshLocator re-resolves the locator unless another goroutine already
// did so since the caller took its snapshot (seen is the snapshot's
// generation). The lock is held across the re-resolution, so concurrent
// expiries collapse into one upstream round trip.
func (s *Source) refreshLocator(ctx context.Context, seen uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != seen {
		return nil
	}
	if s.refresh == nil {
		return fmt.Errorf("no refresh configured")
	}
	loc, err := s.refresh(ctx)
	if err != nil {
		return err
	}
	s.loc = loc
	s.gen++
	log.Printf("[pool] refreshed file reference for msg %d/%d", loc.ChatID, loc.MsgID)
	return nil
}

func (s *Source) fetchOnce(ctx context.Context, loc *FileLocator, offset int64, limit int) ([]byte, error) {
	res, err := s.worker.API().UploadGetFile(ctx, &tg.UploadGetFileRequest{
		Precise:  true,
		Location: loc.input(),
		Offset:   offset,
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}
	switch f := res.(type) {
	case *tg.UploadFile:
		return f.Bytes, nil
	case *tg.UploadFileCDNRedirect:
		return nil, fmt.Errorf("cdn redirect for dc %d not supported", f.DCID)
	default:
		return nil, fmt.Errorf("unexpected upload.File type %T", res)
	}
}
