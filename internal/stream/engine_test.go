package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves chunks from an in-memory blob, optionally jittering
// completion order and failing at a chosen offset.
type fakeSource struct {
	data   []byte
	jitter time.Duration
	failAt int64 // offset that fails, -1 for never

	mu       sync.Mutex
	fetches  []int64
	inFly    int
	maxInFly int
}

func newFakeSource(data []byte) *fakeSource {
	return &fakeSource{data: data, failAt: -1}
}

func (f *fakeSource) Fetch(ctx context.Context, offset int64, limit int) ([]byte, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, offset)
	f.inFly++
	if f.inFly > f.maxInFly {
		f.maxInFly = f.inFly
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFly--
		f.mu.Unlock()
	}()

	if f.jitter > 0 {
		d := time.Duration(rand.Int63n(int64(f.jitter)))
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failAt >= 0 && offset == f.failAt {
		return nil, fmt.Errorf("synthetic fetch failure at %d", offset)
	}

	if offset >= int64(len(f.data)) {
		return nil, nil
	}
	end := offset + int64(limit)
	if end > int64(len(f.data)) {
		end = int64(len(f.data))
	}
	out := make([]byte, end-offset)
	copy(out, f.data[offset:end])
	return out, nil
}

func testBlob(n int) []byte {
	blob := make([]byte, n)
	for i := range blob {
		blob[i] = byte(i * 31)
	}
	return blob
}

func runEngine(t *testing.T, src ChunkSource, plan Plan, par int) (*Record, *bytes.Buffer, error) {
	t.Helper()
	rec := NewRecord("t", 0, 0, 0, 0)
	var buf bytes.Buffer
	eng := &Engine{Source: src, Record: rec, Parallelism: par}
	err := eng.Stream(context.Background(), plan, &buf)
	return rec, &buf, err
}

func TestEngineDeliversExactRange(t *testing.T) {
	const chunk = 256
	blob := testBlob(4096)

	cases := []struct{ start, end int64 }{
		{0, 4095},
		{0, 0},
		{100, 300},
		{255, 256},
		{256, 511},
		{4000, 4095},
		{300, 2900},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d-%d", tc.start, tc.end), func(t *testing.T) {
			src := newFakeSource(blob)
			src.jitter = 2 * time.Millisecond
			plan := BuildPlan(tc.start, tc.end, int64(len(blob)), chunk)

			rec, buf, err := runEngine(t, src, plan, 3)
			require.NoError(t, err)
			assert.Equal(t, blob[tc.start:tc.end+1], buf.Bytes())
			assert.Equal(t, StatusFinished, rec.Status())
			assert.Equal(t, plan.Length(), rec.TotalBytes())
		})
	}
}

func TestEngineParallelismIsBounded(t *testing.T) {
	blob := testBlob(64 * 16)
	src := newFakeSource(blob)
	src.jitter = 3 * time.Millisecond

	plan := BuildPlan(0, int64(len(blob))-1, int64(len(blob)), 64)
	require.Equal(t, 16, plan.ChunkCount)

	_, buf, err := runEngine(t, src, plan, 4)
	require.NoError(t, err)
	assert.Equal(t, blob, buf.Bytes())
	assert.LessOrEqual(t, src.maxInFly, 4)
}

func TestEngineFetchesEveryChunkOnce(t *testing.T) {
	blob := testBlob(1000)
	src := newFakeSource(blob)

	plan := BuildPlan(100, 900, 1000, 128)
	_, _, err := runEngine(t, src, plan, 2)
	require.NoError(t, err)

	seen := map[int64]int{}
	for _, off := range src.fetches {
		assert.Zero(t, off%128, "offset %d not aligned", off)
		seen[off]++
	}
	assert.Len(t, seen, plan.ChunkCount)
	for off, n := range seen {
		assert.Equal(t, 1, n, "offset %d fetched %d times", off, n)
	}
}

func TestEngineShortUpstreamFinishesEarly(t *testing.T) {
	// declared size larger than what the upstream actually holds
	blob := testBlob(300)
	src := newFakeSource(blob)

	plan := BuildPlan(0, 999, 1000, 128)
	rec, buf, err := runEngine(t, src, plan, 2)
	require.NoError(t, err)
	assert.Equal(t, blob, buf.Bytes())
	assert.Equal(t, StatusFinished, rec.Status())
}

func TestEngineFetchErrorMarksError(t *testing.T) {
	blob := testBlob(1024)
	src := newFakeSource(blob)
	src.failAt = 512

	plan := BuildPlan(0, 1023, 1024, 256)
	rec, _, err := runEngine(t, src, plan, 2)
	require.Error(t, err)
	assert.Equal(t, StatusError, rec.Status())
}

func TestEngineCancellationMarksCancelled(t *testing.T) {
	blob := testBlob(1024)
	src := newFakeSource(blob)
	src.jitter = 50 * time.Millisecond

	rec := NewRecord("t", 0, 0, 0, 0)
	eng := &Engine{Source: src, Record: rec, Parallelism: 2}
	plan := BuildPlan(0, 1023, 1024, 64)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	var buf bytes.Buffer
	err := eng.Stream(ctx, plan, &buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StatusCancelled, rec.Status())
}

// Cancellation can land while workers are shutting down and the results
// channel is closing; whichever way the race goes, the outcome must be a
// cancellation, never an upstream error.
func TestEngineCancelRaceAlwaysCancelled(t *testing.T) {
	blob := testBlob(4096)
	plan := BuildPlan(0, 4095, 4096, 256)

	for i := 0; i < 25; i++ {
		src := newFakeSource(blob)
		src.jitter = 2 * time.Millisecond

		rec := NewRecord("t", 0, 0, 0, 0)
		eng := &Engine{Source: src, Record: rec, Parallelism: 4}

		ctx, cancel := context.WithCancel(context.Background())
		go func(d time.Duration) {
			time.Sleep(d)
			cancel()
		}(time.Duration(i%6) * time.Millisecond)

		var buf bytes.Buffer
		err := eng.Stream(ctx, plan, &buf)
		if err == nil {
			assert.Equal(t, StatusFinished, rec.Status())
			cancel()
			continue
		}
		require.True(t, errors.Is(err, context.Canceled), "iteration %d: got %v", i, err)
		assert.Equal(t, StatusCancelled, rec.Status(), "iteration %d", i)
		cancel()
	}
}

type failingWriter struct {
	limit int
	n     int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > w.limit {
		return 0, errors.New("broken pipe")
	}
	w.n += len(p)
	return len(p), nil
}

func TestEngineWriteFailureMarksCancelled(t *testing.T) {
	blob := testBlob(2048)
	src := newFakeSource(blob)

	rec := NewRecord("t", 0, 0, 0, 0)
	eng := &Engine{Source: src, Record: rec, Parallelism: 2}
	plan := BuildPlan(0, 2047, 2048, 256)

	err := eng.Stream(context.Background(), plan, &failingWriter{limit: 700})
	require.Error(t, err)
	assert.Equal(t, StatusCancelled, rec.Status())
}

type countingReporter struct {
	mu    sync.Mutex
	total int64
}

func (c *countingReporter) Report(_ string, delta int64) {
	c.mu.Lock()
	c.total += delta
	c.mu.Unlock()
}

func TestEngineReportsDeliveredBytes(t *testing.T) {
	blob := testBlob(1500)
	src := newFakeSource(blob)
	rep := &countingReporter{}

	rec := NewRecord("t", 0, 0, 0, 0)
	eng := &Engine{Source: src, Record: rec, Parallelism: 3, Reporter: rep}
	plan := BuildPlan(200, 1300, 1500, 256)

	var buf bytes.Buffer
	require.NoError(t, eng.Stream(context.Background(), plan, &buf))
	assert.Equal(t, plan.Length(), rep.total)
}
