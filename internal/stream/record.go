package stream

import (
	"sync"
	"time"

	"tgstream/pkg/types"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusFinished  Status = "finished"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final. Terminal states are never
// left again.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusError || s == StatusCancelled
}

// instantWindow is the sliding window over which instantaneous throughput
// is computed.
const instantWindow = 3 * time.Second

type sample struct {
	at time.Time
	n  int64
}

// Record is the live bookkeeping entry for one stream. It is mutated only
// by the engine driving the stream; snapshots for the observability
// endpoints are taken under the record's own lock so readers never see a
// half-updated entry.
type Record struct {
	mu sync.Mutex

	ID          string
	ChatID      int64
	MsgID       int
	ClientIndex int
	DCID        int
	RequestPath string
	ClientHost  string

	status     Status
	totalBytes int64

	instantMbps float64
	avgMbps     float64
	peakMbps    float64

	startTS time.Time
	lastTS  time.Time
	endTS   time.Time

	window []sample
}

func NewRecord(id string, chatID int64, msgID, clientIndex, dcID int) *Record {
	now := time.Now()
	return &Record{
		ID:          id,
		ChatID:      chatID,
		MsgID:       msgID,
		ClientIndex: clientIndex,
		DCID:        dcID,
		status:      StatusActive,
		startTS:     now,
		lastTS:      now,
	}
}

// AddBytes accounts one chunk delivery and recomputes the throughput
// figures: instant over the sliding window, average over the whole stream,
// peak as the running max of instant.
func (r *Record) AddBytes(n int64) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.totalBytes += n
	r.lastTS = now

	r.window = append(r.window, sample{at: now, n: n})
	cutoff := now.Add(-instantWindow)
	for len(r.window) > 0 && r.window[0].at.Before(cutoff) {
		r.window = r.window[1:]
	}

	var winBytes int64
	for _, s := range r.window {
		winBytes += s.n
	}
	winSpan := now.Sub(r.window[0].at)
	if winSpan <= 0 {
		winSpan = time.Millisecond
	}
	if winSpan < instantWindow {
		// young window: spread over what we actually observed
		r.instantMbps = mbps(winBytes, winSpan)
	} else {
		r.instantMbps = mbps(winBytes, instantWindow)
	}

	elapsed := now.Sub(r.startTS)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	r.avgMbps = mbps(r.totalBytes, elapsed)

	if r.instantMbps > r.peakMbps {
		r.peakMbps = r.instantMbps
	}
}

// SetStatus moves the record into a (possibly terminal) state. Once a
// terminal state is set, later transitions are ignored.
func (r *Record) SetStatus(s Status) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Terminal() {
		return
	}
	r.status = s
	r.lastTS = now
	if s.Terminal() {
		r.endTS = now
		r.instantMbps = 0
	}
}

func (r *Record) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Record) TotalBytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalBytes
}

// LastUpdate is used by the registry's prune loop.
func (r *Record) LastUpdate() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTS
}

func (r *Record) Snapshot() types.StreamInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := types.StreamInfo{
		StreamID:    r.ID,
		ChatID:      r.ChatID,
		MsgID:       r.MsgID,
		ClientIndex: r.ClientIndex,
		DCID:        r.DCID,
		Status:      string(r.status),
		TotalBytes:  r.totalBytes,
		InstantMbps: round3(r.instantMbps),
		AvgMbps:     round3(r.avgMbps),
		PeakMbps:    round3(r.peakMbps),
		StartTS:     r.startTS.Unix(),
		LastTS:      r.lastTS.Unix(),
		RequestPath: r.RequestPath,
		ClientHost:  r.ClientHost,
	}
	if !r.endTS.IsZero() {
		info.EndTS = r.endTS.Unix()
		info.DurationSec = r.endTS.Sub(r.startTS).Seconds()
	}
	return info
}

// mbps converts a byte count over a duration to megabits per second.
func mbps(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) * 8 / 1e6 / d.Seconds()
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}
