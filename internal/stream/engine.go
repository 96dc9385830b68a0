package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ChunkSource yields aligned chunks from the backing store. Offset must be
// a multiple of the chunk size; limit is the chunk size. A short or empty
// slice means the upstream object ended before the declared size.
type ChunkSource interface {
	Fetch(ctx context.Context, offset int64, limit int) ([]byte, error)
}

// UsageReporter receives delivered byte counts. Implementations must never
// block the caller.
type UsageReporter interface {
	Report(streamID string, delta int64)
}

type fetchResult struct {
	idx  int
	data []byte
	err  error
}

// Engine drives one stream: it fans chunk fetches out over Parallelism
// workers, reorders the results, trims the edge chunks to the requested
// byte range and writes everything to the client strictly in order.
type Engine struct {
	Source      ChunkSource
	Record      *Record
	Parallelism int
	Reporter    UsageReporter
}

// Stream runs the plan to completion, writing exactly plan.Length() bytes
// to w unless the upstream ends early or the client goes away. The record
// always ends in a terminal status when Stream returns.
func (e *Engine) Stream(ctx context.Context, plan Plan, w io.Writer) error {
	par := e.Parallelism
	if par < 1 {
		par = 1
	}
	if par > plan.ChunkCount {
		par = plan.ChunkCount
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	results := make(chan fetchResult, par)

	var wg sync.WaitGroup
	wg.Add(par)
	for i := 0; i < par; i++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				off := plan.Offset + int64(idx)*plan.ChunkSize
				data, err := e.Source.Fetch(ctx, off, int(plan.ChunkSize))
				select {
				case results <- fetchResult{idx: idx, data: data, err: err}:
				case <-ctx.Done():
					return
				}
				if err != nil {
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for idx := 0; idx < plan.ChunkCount; idx++ {
			select {
			case jobs <- idx:
			case <-ctx.Done():
				return
			}
		}
	}()

	// drain results even after we stop consuming, so workers never wedge
	go func() {
		wg.Wait()
		close(results)
	}()

	err := e.deliver(ctx, plan, w, results)
	cancel()
	for range results {
	}

	switch {
	case err == nil:
		e.Record.SetStatus(StatusFinished)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		e.Record.SetStatus(StatusCancelled)
	default:
		var werr *writeError
		if errors.As(err, &werr) {
			// client hung up mid-transfer
			e.Record.SetStatus(StatusCancelled)
			return werr.err
		}
		e.Record.SetStatus(StatusError)
	}
	return err
}

func (e *Engine) deliver(ctx context.Context, plan Plan, w io.Writer, results <-chan fetchResult) error {
	buf := newReorderBuffer()
	delivered := 0

	for delivered < plan.ChunkCount {
		var res fetchResult
		select {
		case r, ok := <-results:
			if !ok {
				// workers only bail without a result on cancellation
				if ctx.Err() != nil {
					return ctx.Err()
				}
				nextOffset := plan.Offset + int64(delivered)*plan.ChunkSize
				return &UpstreamError{Position: nextOffset, Err: errors.New("fetch workers exited early")}
			}
			res = r
		case <-ctx.Done():
			return ctx.Err()
		}

		if res.err != nil {
			return fmt.Errorf("chunk %d: %w", res.idx, res.err)
		}
		buf.Put(res.idx, res.data)

		for {
			idx, data, ok := buf.Pop()
			if !ok {
				break
			}
			part := trimChunk(plan, idx, data)
			if len(part) > 0 {
				if _, werr := w.Write(part); werr != nil {
					return &writeError{err: werr}
				}
				e.Record.AddBytes(int64(len(part)))
				if e.Reporter != nil {
					e.Reporter.Report(e.Record.ID, int64(len(part)))
				}
			}
			delivered++
			if len(data) < int(plan.ChunkSize) {
				// upstream ended before the declared size
				return nil
			}
		}
	}
	return nil
}

// trimChunk slices the edge chunks down to the requested byte range. The
// first chunk drops everything before FirstCut, the last chunk drops
// everything at LastCut and beyond; a single-chunk plan does both.
func trimChunk(plan Plan, idx int, data []byte) []byte {
	from := 0
	to := len(data)
	if idx == 0 && int(plan.FirstCut) < to {
		from = int(plan.FirstCut)
	} else if idx == 0 {
		return nil
	}
	if idx == plan.ChunkCount-1 && int(plan.LastCut) < to {
		to = int(plan.LastCut)
	}
	if from >= to {
		return nil
	}
	return data[from:to]
}

// writeError marks a failure on the client side of the pipe, as opposed to
// the upstream fetch path.
type writeError struct{ err error }

func (e *writeError) Error() string { return "write: " + e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }
