package stream

import (
	"sync"
	"time"

	"tgstream/pkg/types"
)

// Registry tracks every in-flight stream plus a bounded ring of recently
// finished ones. Records move from active to recent once they hit a
// terminal status and have been quiet for the prune grace period; the
// recent ring keeps the newest entries first and evicts from the tail.
type Registry struct {
	mu sync.Mutex

	active map[string]*Record
	recent []types.StreamInfo

	recentCap int
	grace     time.Duration
}

func NewRegistry(recentCap int, grace time.Duration) *Registry {
	if recentCap < 0 {
		recentCap = 0
	}
	return &Registry{
		active:    make(map[string]*Record),
		recentCap: recentCap,
		grace:     grace,
	}
}

func (g *Registry) Register(r *Record) {
	g.mu.Lock()
	g.active[r.ID] = r
	g.mu.Unlock()
}

func (g *Registry) Get(id string) (*Record, bool) {
	g.mu.Lock()
	r, ok := g.active[id]
	g.mu.Unlock()
	return r, ok
}

// Lookup finds a stream by id in the active set first, then in the recent
// ring.
func (g *Registry) Lookup(id string) (types.StreamInfo, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.active[id]; ok {
		return r.Snapshot(), true
	}
	for _, info := range g.recent {
		if info.StreamID == id {
			return info, true
		}
	}
	return types.StreamInfo{}, false
}

// Prune moves terminal records that have been idle past the grace period
// out of the active set and onto the front of the recent ring. Returns
// how many records were moved.
func (g *Registry) Prune(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	moved := 0
	for id, r := range g.active {
		if !r.Status().Terminal() {
			continue
		}
		if now.Sub(r.LastUpdate()) < g.grace {
			continue
		}
		delete(g.active, id)
		g.recent = append([]types.StreamInfo{r.Snapshot()}, g.recent...)
		moved++
	}
	if len(g.recent) > g.recentCap {
		g.recent = g.recent[:g.recentCap]
	}
	return moved
}

func (g *Registry) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}

func (g *Registry) ActiveSnapshots() []types.StreamInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]types.StreamInfo, 0, len(g.active))
	for _, r := range g.active {
		out = append(out, r.Snapshot())
	}
	return out
}

func (g *Registry) RecentSnapshots() []types.StreamInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]types.StreamInfo, len(g.recent))
	copy(out, g.recent)
	return out
}
