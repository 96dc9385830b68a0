package janitor

import (
	"context"
	"log"
	"time"

	"tgstream/internal/hls"
	"tgstream/internal/resolve"
	"tgstream/internal/stream"
)

// Janitor runs the periodic housekeeping: moving finished streams out of
// the active set, sweeping expired HLS segments and dropping idle
// locator cache entries.
type Janitor struct {
	Registry *stream.Registry
	Cache    *hls.SegmentCache
	Resolver *resolve.Resolver

	Interval    time.Duration
	LocatorIdle time.Duration
}

func (j *Janitor) Run(ctx context.Context) {
	interval := j.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[janitor] running every %s", interval)
	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-ctx.Done():
			log.Printf("[janitor] stopped")
			return
		}
	}
}

func (j *Janitor) sweep() {
	now := time.Now()

	if j.Registry != nil {
		if moved := j.Registry.Prune(now); moved > 0 {
			log.Printf("[janitor] retired %d streams (%d active)", moved, j.Registry.ActiveCount())
		}
	}
	if j.Cache != nil {
		j.Cache.Sweep()
	}
	if j.Resolver != nil {
		idle := j.LocatorIdle
		if idle <= 0 {
			idle = 30 * time.Minute
		}
		if n := j.Resolver.EvictIdle(idle); n > 0 {
			log.Printf("[janitor] evicted %d idle locators", n)
		}
	}
}
