package types

// StreamInfo is the wire shape of one stream record as returned by the
// observability endpoints. Fields mirror the registry's record exactly;
// throughput figures are megabits/second.
type StreamInfo struct {
	StreamID    string  `json:"stream_id"`
	ChatID      int64   `json:"chat_id"`
	MsgID       int     `json:"msg_id"`
	ClientIndex int     `json:"client_index"`
	DCID        int     `json:"dc_id"`
	Status      string  `json:"status"`
	TotalBytes  int64   `json:"total_bytes"`
	InstantMbps float64 `json:"instant_mbps"`
	AvgMbps     float64 `json:"avg_mbps"`
	PeakMbps    float64 `json:"peak_mbps"`
	StartTS     int64   `json:"start_ts"`
	LastTS      int64   `json:"last_ts"`
	EndTS       int64   `json:"end_ts,omitempty"`
	DurationSec float64 `json:"duration,omitempty"`
	RequestPath string  `json:"request_path,omitempty"`
	ClientHost  string  `json:"client_host,omitempty"`
}

// StatsResponse is the payload of GET /stream/stats.
type StatsResponse struct {
	ActiveStreams []StreamInfo   `json:"active_streams"`
	RecentStreams []StreamInfo   `json:"recent_streams"`
	WorkerLoads   map[string]int `json:"work_loads"`
	WorkerDCMap   map[string]int `json:"client_dc_map"`
}
