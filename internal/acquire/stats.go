package acquire

import (
	"time"

	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/types"
)

// StatsInterval is how often the capture loop publishes statistics.
const StatsInterval = 500 * time.Millisecond

// channelTally is the capture loop's per-channel bookkeeping. Owned by
// the worker goroutine; snapshots flow out through stats events.
type channelTally struct {
	captures    uint64
	displays    uint64
	lastDisplay time.Time
}

type statsCollector struct {
	tallies map[types.ChannelRole]*channelTally
}

func newStatsCollector(pipes []*StreamPipeline) *statsCollector {
	s := &statsCollector{tallies: make(map[types.ChannelRole]*channelTally, len(pipes))}
	for _, p := range pipes {
		s.tallies[p.Role()] = &channelTally{}
	}
	return s
}

func (s *statsCollector) tally(role types.ChannelRole) *channelTally {
	return s.tallies[role]
}

// snapshot combines the transport's running rate counters with the
// loop's own capture and display counts.
func (s *statsCollector) snapshot(pipes []*StreamPipeline) types.SessionStats {
	out := make(types.SessionStats, len(pipes))
	for _, p := range pipes {
		fps, bw := p.Counters()
		t := s.tallies[p.Role()]
		out[p.Role()] = types.ChannelStats{
			FPS:           fps,
			BandwidthMBps: bw,
			CaptureCount:  t.captures,
			DisplayCount:  t.displays,
		}
	}
	return out
}
