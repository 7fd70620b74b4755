package types

// ChannelStats is one channel's throughput snapshot, published every
// statistics interval while a session runs. FPS and bandwidth come from
// the stream's own running counters; the counts come from the capture
// loop.
type ChannelStats struct {
	FPS           float64 `json:"fps"`
	BandwidthMBps float64 `json:"bandwidth_mbps"`
	CaptureCount  uint64  `json:"capture_count"`
	DisplayCount  uint64  `json:"display_count"`
}

// SessionStats maps each active channel role to its latest snapshot.
type SessionStats map[ChannelRole]ChannelStats
