// Package gigesim is an in-process simulation of the gige transport
// boundary. It stands in for a vendor SDK binding during tests and when
// the daemon runs without hardware: simulated devices expose a feature
// table, stream channels and pooled-buffer pipelines that generate
// frames at a configured rate once the device is armed (stream enabled
// and acquisition started), mirroring how a real camera behaves.
//
// Fault injection is part of the device configuration (failing channel
// opens, rejected register writes, failing pipeline starts) so lifecycle
// error paths can be tested without hardware.
package gigesim

import (
	"context"
	"fmt"
	"sync"

	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/gige"
)

// DeviceConfig describes one simulated camera.
type DeviceConfig struct {
	Info gige.DeviceInfo

	// SelectorEntries is the entry count of the GevStreamChannelSelector
	// enumeration. Use 2 for a dual-channel prism camera, 1 for a
	// degenerate selector, and SelectorAbsent for no selector feature.
	SelectorEntries int

	// ProbeWritable accepts raw integer writes to the selector name when
	// the enumeration is absent, emulating vendors that expose the
	// register without the enum.
	ProbeWritable bool

	// Frame generation.
	FPS    float64
	Width  int
	Height int

	// ChunkEvery makes every Nth generated buffer a chunk payload
	// instead of an image. Zero disables.
	ChunkEvery int

	// SilentChannels suppresses frame generation on these channels even
	// while armed, emulating a dead tap.
	SilentChannels map[int]bool

	// GainRawOnly exposes only the integer GainRaw feature, emulating
	// firmware without the float Gain feature.
	GainRawOnly bool

	// Fault injection.
	FailOpen     map[int]bool    // stream open fails for these channels
	FailWrites   map[string]bool // parameter writes to these names fail
	FailStart    bool            // pipeline Start fails
	FailAcqStart bool            // AcquisitionStart command fails
}

// SelectorAbsent marks a device without the channel selector feature.
const SelectorAbsent = -1

// DualDevice returns a two-channel prism camera fixture.
func DualDevice(connectionID string) *DeviceConfig {
	return &DeviceConfig{
		Info: gige.DeviceInfo{
			ConnectionID: connectionID,
			DisplayID:    "SW-8000Q-10GE (" + connectionID + ")",
			Serial:       "U560123",
			Model:        "SW-8000Q-10GE",
			IP:           "192.168.10.55",
			MAC:          "00:0c:df:05:aa:10",
			Kind:         gige.KindGigE,
		},
		SelectorEntries: 2,
		FPS:             30,
		Width:           640,
		Height:          480,
	}
}

// SingleDevice returns a one-channel camera fixture.
func SingleDevice(connectionID string) *DeviceConfig {
	cfg := DualDevice(connectionID)
	cfg.Info.DisplayID = "GO-5000-PGE (" + connectionID + ")"
	cfg.Info.Model = "GO-5000-PGE"
	cfg.SelectorEntries = SelectorAbsent
	cfg.ProbeWritable = false
	return cfg
}

// Transport implements gige.Transport over a set of configured devices.
type Transport struct {
	mu        sync.Mutex
	configs   map[string]*DeviceConfig
	devices   map[string]*Device
	streams   []*simStream
	pipelines []*simPipeline
	nextPort  int
}

// NewTransport builds a simulated transport hosting the given devices.
func NewTransport(devices ...*DeviceConfig) *Transport {
	t := &Transport{
		configs:  make(map[string]*DeviceConfig, len(devices)),
		devices:  make(map[string]*Device),
		nextPort: 51000,
	}
	for _, d := range devices {
		t.configs[d.Info.ConnectionID] = d
	}
	return t
}

// Find enumerates the configured devices.
func (t *Transport) Find(ctx context.Context) ([]gige.DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	infos := make([]gige.DeviceInfo, 0, len(t.configs))
	for _, cfg := range t.configs {
		infos = append(infos, cfg.Info)
	}
	return infos, nil
}

// Connect opens a simulated control connection.
func (t *Transport) Connect(ctx context.Context, connectionID string) (gige.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cfg, ok := t.configs[connectionID]
	if !ok {
		return nil, fmt.Errorf("gigesim: no device %q: %w", connectionID, gige.ErrNotFound)
	}

	dev := newSimDevice(cfg)
	t.devices[connectionID] = dev
	return dev, nil
}

// OpenStream binds a fake local endpoint for one channel of a connected
// device.
func (t *Transport) OpenStream(ctx context.Context, connectionID string, channel int) (gige.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	dev, ok := t.devices[connectionID]
	if !ok || !dev.connected() {
		return nil, gige.ErrNotConnected
	}
	if dev.cfg.FailOpen[channel] {
		return nil, fmt.Errorf("gigesim: open channel %d refused", channel)
	}

	port := t.nextPort
	t.nextPort++
	s := newSimStream(dev, channel, "192.168.10.2", port)
	t.streams = append(t.streams, s)
	return s, nil
}

// CreatePipeline attaches a bounded buffer pool to an open stream.
func (t *Transport) CreatePipeline(s gige.Stream, bufferSize int64, bufferCount int) (gige.Pipeline, error) {
	ss, ok := s.(*simStream)
	if !ok {
		return nil, fmt.Errorf("gigesim: foreign stream %T", s)
	}
	if !ss.IsOpen() {
		return nil, gige.ErrClosed
	}
	if bufferSize <= 0 || bufferCount < 2 {
		return nil, fmt.Errorf("gigesim: invalid pool %d x %d bytes", bufferCount, bufferSize)
	}
	p := newSimPipeline(ss, bufferSize, bufferCount)
	t.mu.Lock()
	t.pipelines = append(t.pipelines, p)
	t.mu.Unlock()
	return p, nil
}

// OpenStreamCount reports how many created streams are still open.
// Test hook: a clean session teardown leaves zero.
func (t *Transport) OpenStreamCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.streams {
		if s.IsOpen() {
			n++
		}
	}
	return n
}

// Pipelines returns every pipeline this transport created, in creation
// order. Test hook for injecting mid-session faults.
func (t *Transport) Pipelines() []gige.Pipeline {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]gige.Pipeline, len(t.pipelines))
	for i, p := range t.pipelines {
		out[i] = p
	}
	return out
}
