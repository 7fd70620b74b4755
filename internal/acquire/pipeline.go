// Package acquire runs acquisition sessions: per-channel stream
// pipelines, second-channel transport routing, the capture loop and its
// statistics. One session at a time; a single worker goroutine owns the
// pipeline handles from open to close.
package acquire

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/gige"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/types"
)

const (
	// BufferCount sizes each pipeline's pool. 16 absorbs arrival and
	// retrieval jitter without unbounded growth.
	BufferCount = 16

	// RetrieveTimeout bounds one channel's poll so a silent channel
	// cannot stall the shared capture loop.
	RetrieveTimeout = 50 * time.Millisecond
)

// StreamPipeline wraps one channel's stream and buffer pool. Not safe
// for concurrent use: the capture worker is the only caller between
// Open and Close.
type StreamPipeline struct {
	transport gige.Transport
	desc      types.ChannelDescriptor

	stream gige.Stream
	pipe   gige.Pipeline
}

// NewStreamPipeline builds an unopened pipeline for one channel.
func NewStreamPipeline(transport gige.Transport, desc types.ChannelDescriptor) *StreamPipeline {
	return &StreamPipeline{transport: transport, desc: desc}
}

// Role returns the channel's semantic role.
func (p *StreamPipeline) Role() types.ChannelRole { return p.desc.Role }

// Index returns the channel index.
func (p *StreamPipeline) Index() int { return p.desc.Index }

// Open binds the stream endpoint and attaches a pool of BufferCount
// buffers sized to the device payload.
func (p *StreamPipeline) Open(ctx context.Context, dev gige.Device, connectionID string) error {
	if p.stream != nil {
		return fmt.Errorf("acquire: channel %d already open", p.desc.Index)
	}

	stream, err := p.transport.OpenStream(ctx, connectionID, p.desc.Index)
	if err != nil {
		return fmt.Errorf("acquire: open channel %d: %w", p.desc.Index, err)
	}

	payload, err := dev.PayloadSize()
	if err != nil {
		stream.Close()
		return fmt.Errorf("acquire: payload size for channel %d: %w", p.desc.Index, err)
	}

	pipe, err := p.transport.CreatePipeline(stream, payload, BufferCount)
	if err != nil {
		stream.Close()
		return fmt.Errorf("acquire: pipeline for channel %d: %w", p.desc.Index, err)
	}

	p.stream = stream
	p.pipe = pipe
	slog.Debug("acquire: channel open",
		"channel", p.desc.Index,
		"role", p.desc.Role,
		"endpoint", fmt.Sprintf("%s:%d", stream.LocalIP(), stream.LocalPort()),
		"payload_bytes", payload)
	return nil
}

// Endpoint returns the bound local address once open.
func (p *StreamPipeline) Endpoint() (ip string, port int, ok bool) {
	if p.stream == nil {
		return "", 0, false
	}
	return p.stream.LocalIP(), p.stream.LocalPort(), true
}

// Start arms the pool. Idempotent.
func (p *StreamPipeline) Start() error {
	if p.pipe == nil {
		return fmt.Errorf("acquire: channel %d not open", p.desc.Index)
	}
	if err := p.pipe.Start(); err != nil {
		return fmt.Errorf("acquire: start channel %d: %w", p.desc.Index, err)
	}
	return nil
}

// Stop disarms the pool. Idempotent; stopping a never-started or
// already-stopped pipeline is a no-op.
func (p *StreamPipeline) Stop() error {
	if p.pipe == nil {
		return nil
	}
	if err := p.pipe.Stop(); err != nil {
		return fmt.Errorf("acquire: stop channel %d: %w", p.desc.Index, err)
	}
	return nil
}

// Retrieve waits up to timeout for one complete frame and returns it
// with the payload copied into caller-owned memory. The pooled buffer
// is released on every path. Non-image payloads drain as
// gige.ErrNotImage; quiet windows as gige.ErrTimeout.
func (p *StreamPipeline) Retrieve(timeout time.Duration) (*types.Frame, error) {
	buf, err := p.pipe.Retrieve(timeout)
	if err != nil {
		return nil, err
	}
	defer p.pipe.Release(buf)

	img, err := buf.Image()
	if err != nil {
		return nil, err
	}

	src := img.Data()
	frame := &types.Frame{
		Data:        make([]byte, len(src)),
		Width:       img.Width(),
		Height:      img.Height(),
		PixelFormat: img.PixelFormat(),
		Timestamp:   buf.Timestamp(),
		Seq:         buf.BlockID(),
		Role:        p.desc.Role,
		ReceivedAt:  time.Now(),
	}
	copy(frame.Data, src)
	return frame, nil
}

// Counters reads the stream's running frame rate and bandwidth. The
// transport reports bandwidth in bytes per second; callers get MB/s.
// Missing counters read as zero, never an error.
func (p *StreamPipeline) Counters() (fps, bandwidthMBps float64) {
	if p.stream == nil {
		return 0, 0
	}
	params := p.stream.Params()
	if v, err := params.Float(gige.ParamAcquisitionRate); err == nil {
		fps = v
	}
	if v, err := params.Float(gige.ParamBandwidth); err == nil {
		bandwidthMBps = v / 1e6
	}
	return fps, bandwidthMBps
}

// Close stops the pool if armed and releases the stream endpoint. Safe
// to call repeatedly and on a never-opened pipeline.
func (p *StreamPipeline) Close() error {
	if p.pipe != nil {
		if err := p.pipe.Stop(); err != nil {
			slog.Warn("acquire: pipeline stop during close", "channel", p.desc.Index, "error", err)
		}
		p.pipe = nil
	}
	if p.stream != nil {
		err := p.stream.Close()
		p.stream = nil
		if err != nil {
			return fmt.Errorf("acquire: close channel %d: %w", p.desc.Index, err)
		}
	}
	return nil
}

// IsOpen reports whether the stream endpoint is bound.
func (p *StreamPipeline) IsOpen() bool {
	return p.stream != nil && p.stream.IsOpen()
}
