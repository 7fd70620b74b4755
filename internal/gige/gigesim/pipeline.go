package gigesim

import (
	"fmt"
	"sync"
	"time"

	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/gige"
)

// simStream is one fake stream channel bound to a local endpoint.
type simStream struct {
	dev     *Device
	channel int
	ip      string
	port    int

	mu     sync.Mutex
	open   bool
	params *paramTable
}

func newSimStream(dev *Device, channel int, ip string, port int) *simStream {
	frameBytes := dev.cfg.Width * dev.cfg.Height * 3
	if channel != 0 {
		frameBytes = dev.cfg.Width * dev.cfg.Height
	}

	t := newParamTable(nil)
	t.floats[gige.ParamAcquisitionRate] = dev.cfg.FPS
	t.floats[gige.ParamBandwidth] = dev.cfg.FPS * float64(frameBytes)

	return &simStream{dev: dev, channel: channel, ip: ip, port: port, open: true, params: t}
}

func (s *simStream) LocalIP() string { return s.ip }

func (s *simStream) LocalPort() int { return s.port }

func (s *simStream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *simStream) Params() gige.Params { return s.params }

func (s *simStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

// simPipeline generates frames into a bounded buffer pool at the
// device's configured rate, but only while the device is armed (stream
// enabled and acquisition started), like real transport machinery.
//
// Pool invariant: every buffer is in free, in arrivals, or held by the
// caller between Retrieve and Release, so arrivals never blocks the
// generator and an unreleased buffer shrinks the working pool exactly
// the way a leaked buffer starves real hardware.
type simPipeline struct {
	stream  *simStream
	bufSize int64

	free     chan *simBuffer
	arrivals chan *simBuffer

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	blockID  uint64
	genCount uint64
	epoch    time.Time
}

func newSimPipeline(s *simStream, bufferSize int64, bufferCount int) *simPipeline {
	p := &simPipeline{
		stream:   s,
		bufSize:  bufferSize,
		free:     make(chan *simBuffer, bufferCount),
		arrivals: make(chan *simBuffer, bufferCount),
	}
	for i := 0; i < bufferCount; i++ {
		p.free <- &simBuffer{data: make([]byte, bufferSize)}
	}
	return p
}

func (p *simPipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}
	if p.stream.dev.cfg.FailStart {
		return fmt.Errorf("gigesim: pipeline start refused")
	}
	if !p.stream.IsOpen() {
		return gige.ErrClosed
	}

	p.started = true
	p.stopCh = make(chan struct{})
	p.epoch = time.Now()

	p.wg.Add(1)
	go p.generate(p.stopCh)
	return nil
}

func (p *simPipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}
	close(p.stopCh)
	p.wg.Wait()
	p.started = false

	// Return undelivered arrivals to the pool so a restart begins full.
	for {
		select {
		case b := <-p.arrivals:
			p.free <- b
		default:
			return nil
		}
	}
}

func (p *simPipeline) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

func (p *simPipeline) Retrieve(timeout time.Duration) (gige.Buffer, error) {
	p.mu.Lock()
	started := p.started
	stopCh := p.stopCh
	p.mu.Unlock()

	if !started {
		return nil, gige.ErrClosed
	}

	select {
	case b := <-p.arrivals:
		return b, nil
	case <-time.After(timeout):
		return nil, gige.ErrTimeout
	case <-stopCh:
		return nil, gige.ErrClosed
	}
}

func (p *simPipeline) Release(b gige.Buffer) {
	sb, ok := b.(*simBuffer)
	if !ok {
		return
	}
	select {
	case p.free <- sb:
	default:
		// Double release; the pool is already full.
	}
}

func (p *simPipeline) generate(stopCh chan struct{}) {
	defer p.wg.Done()

	fps := p.stream.dev.cfg.FPS
	if fps <= 0 {
		fps = 30
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if !p.stream.dev.armed() || p.stream.dev.cfg.SilentChannels[p.stream.channel] {
				continue
			}

			var b *simBuffer
			select {
			case b = <-p.free:
			default:
				// Pool exhausted: the caller is holding buffers, so this
				// frame is lost, like on real hardware.
				continue
			}

			p.fill(b)

			select {
			case p.arrivals <- b:
			case <-stopCh:
				p.free <- b
				return
			}
		}
	}
}

func (p *simPipeline) fill(b *simBuffer) {
	cfg := p.stream.dev.cfg

	p.genCount++
	p.blockID++

	b.timestamp = uint64(time.Since(p.epoch).Nanoseconds())
	b.blockID = p.blockID

	if cfg.ChunkEvery > 0 && p.genCount%uint64(cfg.ChunkEvery) == 0 {
		b.payload = gige.PayloadChunk
		b.n = 0
		return
	}

	b.payload = gige.PayloadImage
	b.width = cfg.Width
	b.height = cfg.Height
	if p.stream.channel == 0 {
		b.pixfmt = gige.PixelRGB8
	} else {
		b.pixfmt = gige.PixelMono8
	}

	n := cfg.Width * cfg.Height * b.pixfmt.BytesPerPixel()
	if n > int(p.bufSize) {
		n = int(p.bufSize)
	}
	b.n = n

	// Cheap recognizable content: a per-frame byte ramp seeded by the
	// block ID, enough for tests to tell frames apart.
	seed := byte(p.blockID)
	for i := 0; i < n; i += 997 {
		b.data[i] = seed + byte(i/997)
	}
}

// simBuffer implements gige.Buffer and gige.Image over pooled memory.
type simBuffer struct {
	data      []byte
	n         int
	payload   gige.PayloadType
	width     int
	height    int
	pixfmt    gige.PixelFormat
	timestamp uint64
	blockID   uint64
}

func (b *simBuffer) PayloadType() gige.PayloadType { return b.payload }

func (b *simBuffer) Image() (gige.Image, error) {
	if b.payload != gige.PayloadImage {
		return nil, gige.ErrNotImage
	}
	return b, nil
}

func (b *simBuffer) Timestamp() uint64 { return b.timestamp }

func (b *simBuffer) BlockID() uint64 { return b.blockID }

func (b *simBuffer) Width() int { return b.width }

func (b *simBuffer) Height() int { return b.height }

func (b *simBuffer) PixelFormat() gige.PixelFormat { return b.pixfmt }

func (b *simBuffer) Data() []byte { return b.data[:b.n] }
