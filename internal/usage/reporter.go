package usage

import (
	"context"
	"log"
	"time"
)

type report struct {
	streamID string
	delta    int64
}

// Reporter decouples byte accounting from delivery. Report never blocks:
// deltas land on a buffered channel and a single goroutine coalesces them
// into periodic upserts. When the channel is full the delta is dropped;
// losing a usage sample is better than stalling a stream.
type Reporter struct {
	store    *Store
	interval time.Duration
	ch       chan report
}

// NewReporter returns a reporter backed by store. A nil store yields a
// no-op reporter, for deployments without a database.
func NewReporter(store *Store, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Reporter{
		store:    store,
		interval: interval,
		ch:       make(chan report, 4096),
	}
}

func (r *Reporter) Report(streamID string, delta int64) {
	if r.store == nil {
		return
	}
	select {
	case r.ch <- report{streamID: streamID, delta: delta}:
	default:
	}
}

// Run coalesces and flushes until ctx is cancelled, then drains what is
// pending and flushes one last time.
func (r *Reporter) Run(ctx context.Context) {
	if r.store == nil {
		return
	}
	pending := make(map[string]int64)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case rep := <-r.ch:
			pending[rep.streamID] += rep.delta
		case <-ticker.C:
			r.flush(ctx, pending)
		case <-ctx.Done():
			for {
				select {
				case rep := <-r.ch:
					pending[rep.streamID] += rep.delta
					continue
				default:
				}
				break
			}
			r.flush(context.Background(), pending)
			return
		}
	}
}

func (r *Reporter) flush(ctx context.Context, pending map[string]int64) {
	for id, delta := range pending {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := r.store.AddBytes(ctx, id, delta)
		cancel()
		if err != nil {
			log.Printf("[usage] flush %s: %v", id, err)
			continue
		}
		delete(pending, id)
	}
}
