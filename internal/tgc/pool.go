package tgc

import (
	"fmt"
	"log"
)

// Pool hands out the least-loaded worker. The file's home DC is taken
// into account only as a log line: every worker can serve any DC through
// Telegram's media proxying, so routing on it buys nothing but would
// starve the pool when all files live on one DC.
type Pool struct {
	workers []*Worker
}

func (p *Pool) Size() int { return len(p.workers) }

// Select picks the healthy worker with the lowest load, lowest index
// winning ties. Returns nil when every worker is down.
func (p *Pool) Select(targetDC int) *Worker {
	var best *Worker
	for _, w := range p.workers {
		if !w.Healthy() {
			continue
		}
		if best == nil || w.Load() < best.Load() {
			best = w
		}
	}
	if best != nil && targetDC != 0 && best.DC != targetDC {
		log.Printf("[pool] worker %d (dc %d) serving file on dc %d", best.Index, best.DC, targetDC)
	}
	return best
}

// Acquire bumps the worker's load; the caller must Release when done.
func (p *Pool) Acquire(w *Worker) { w.acquire() }
func (p *Pool) Release(w *Worker) { w.release() }

// Loads returns the per-worker stream counts keyed by worker index, for
// the stats endpoint.
func (p *Pool) Loads() map[string]int {
	out := make(map[string]int, len(p.workers))
	for _, w := range p.workers {
		out[fmt.Sprintf("%d", w.Index)] = int(w.Load())
	}
	return out
}

// DCMap returns each worker's home DC keyed by worker index.
func (p *Pool) DCMap() map[string]int {
	out := make(map[string]int, len(p.workers))
	for _, w := range p.workers {
		out[fmt.Sprintf("%d", w.Index)] = w.DC
	}
	return out
}
