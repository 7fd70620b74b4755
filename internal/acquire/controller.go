package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/gige"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/notify"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/types"
)

// Config tunes a Controller. Zero values take defaults.
type Config struct {
	// DisplayInterval throttles frame emission per channel. Default 1/15 s.
	DisplayInterval time.Duration

	// StatsInterval is the statistics publish period. Default 500 ms.
	StatsInterval time.Duration

	// StopTimeout bounds Stop when the caller's context has no deadline.
	// Default 5 s; running past it is a fault, not a slow stop.
	StopTimeout time.Duration
}

// Controller owns acquisition sessions. One session at a time; a single
// worker goroutine runs the whole session from startup through shutdown
// and is the only goroutine touching pipeline handles. Everything else
// talks to it through the stop signal, the notification bus and the
// atomically swapped latest-frame cache.
type Controller struct {
	transport gige.Transport
	bus       notify.Bus
	cfg       Config

	state           atomic.Int32 // types.SessionState
	displayInterval atomic.Int64 // nanoseconds, adjustable at runtime

	mu        sync.Mutex
	sessionID string
	stopCh    chan struct{}
	stopOnce  *sync.Once
	done      chan struct{}

	cacheRGB  atomic.Pointer[types.Frame]
	cacheNIR  atomic.Pointer[types.Frame]
	lastStats atomic.Pointer[types.SessionStats]
}

// NewController builds an idle controller publishing to bus.
func NewController(transport gige.Transport, bus notify.Bus, cfg Config) (*Controller, error) {
	if transport == nil {
		return nil, fmt.Errorf("acquire: transport is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("acquire: notification bus is required")
	}

	if cfg.DisplayInterval <= 0 {
		cfg.DisplayInterval = time.Second / 15
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = StatsInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}

	c := &Controller{transport: transport, bus: bus, cfg: cfg}
	c.state.Store(int32(types.StateIdle))
	c.displayInterval.Store(int64(cfg.DisplayInterval))
	return c, nil
}

// Start opens, routes and arms a session for the given channels, then
// leaves the capture loop running. It returns once startup has
// succeeded or failed; ctx bounds only this wait and the transport
// calls made during startup. Starting over an active session is an
// error; starting from Faulted resets the fault.
func (c *Controller) Start(ctx context.Context, dev gige.Device, channels []types.ChannelDescriptor) error {
	if dev == nil {
		return fmt.Errorf("acquire: device is required")
	}
	if len(channels) == 0 {
		return fmt.Errorf("acquire: no channels to acquire")
	}

	c.mu.Lock()
	switch st := types.SessionState(c.state.Load()); st {
	case types.StateIdle, types.StateFaulted:
	default:
		c.mu.Unlock()
		return fmt.Errorf("acquire: session already active (%s)", st)
	}
	c.state.Store(int32(types.StateOpening))
	c.sessionID = uuid.NewString()
	c.stopCh = make(chan struct{})
	c.stopOnce = &sync.Once{}
	c.done = make(chan struct{})
	sessionID, stopCh, done := c.sessionID, c.stopCh, c.done
	c.mu.Unlock()

	// Fresh session, fresh snapshot cache.
	c.cacheRGB.Store(nil)
	c.cacheNIR.Store(nil)
	c.lastStats.Store(nil)

	result := make(chan error, 1)
	go c.run(ctx, dev, channels, sessionID, stopCh, done, result)

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		c.requestStop()
		return fmt.Errorf("acquire: start aborted: %w", ctx.Err())
	}
}

// Stop requests shutdown and waits for the worker to finish. Calling it
// with no active session is a no-op. When ctx carries no deadline the
// configured StopTimeout applies.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	st := types.SessionState(c.state.Load())
	c.mu.Unlock()

	if done == nil || st == types.StateIdle || st == types.StateFaulted {
		return nil
	}

	c.requestStop()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.StopTimeout)
		defer cancel()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("acquire: stop wait: %w", ctx.Err())
	}
}

func (c *Controller) requestStop() {
	c.mu.Lock()
	stopCh, once := c.stopCh, c.stopOnce
	c.mu.Unlock()
	if stopCh == nil {
		return
	}
	once.Do(func() { close(stopCh) })
}

// State reports the current session state.
func (c *Controller) State() types.SessionState {
	return types.SessionState(c.state.Load())
}

// SessionID returns the current (or most recent) session's ID.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Snapshot returns the latest frame per role. Roles never captured this
// session are absent. Independent of display throttling; safe to call
// from any goroutine at any time.
func (c *Controller) Snapshot() map[types.ChannelRole]*types.Frame {
	out := make(map[types.ChannelRole]*types.Frame, 2)
	if f := c.cacheRGB.Load(); f != nil {
		out[types.RoleVisible] = f
	}
	if f := c.cacheNIR.Load(); f != nil {
		out[types.RoleNearInfrared] = f
	}
	return out
}

// LastStats returns the most recently published statistics, or nil
// before the first publish of a session.
func (c *Controller) LastStats() types.SessionStats {
	if s := c.lastStats.Load(); s != nil {
		return *s
	}
	return nil
}

// SetDisplayRate changes the per-channel display emission rate, takes
// effect on the next loop iteration.
func (c *Controller) SetDisplayRate(fps float64) error {
	if fps <= 0 {
		return fmt.Errorf("acquire: display rate must be positive, got %v", fps)
	}
	c.displayInterval.Store(int64(float64(time.Second) / fps))
	return nil
}

// DisplayRate reports the current display emission rate.
func (c *Controller) DisplayRate() float64 {
	return float64(time.Second) / float64(c.displayInterval.Load())
}

// run is the session worker: startup, capture loop, shutdown. It always
// runs shutdown for anything it managed to start, and sends the startup
// outcome to result exactly once.
func (c *Controller) run(ctx context.Context, dev gige.Device, channels []types.ChannelDescriptor, sessionID string, stopCh chan struct{}, done chan struct{}, result chan<- error) {
	defer close(done)

	pipes, err := c.openAll(ctx, dev, channels)
	if err != nil {
		c.state.Store(int32(types.StateIdle))
		c.publishError(sessionID, err)
		result <- err
		return
	}

	if err := c.arm(dev, pipes); err != nil {
		c.closeAll(pipes)
		c.state.Store(int32(types.StateIdle))
		c.publishError(sessionID, err)
		result <- err
		return
	}

	c.state.Store(int32(types.StateRunning))
	c.bus.Publish(types.Event{Kind: types.EventStarted, SessionID: sessionID, Time: time.Now()})
	slog.Info("acquire: session started", "session", sessionID, "channels", len(pipes))
	result <- nil

	faulted := c.captureLoop(pipes, sessionID, stopCh)

	c.state.Store(int32(types.StateStopping))
	c.shutdown(dev, pipes)

	if faulted {
		c.state.Store(int32(types.StateFaulted))
	} else {
		c.state.Store(int32(types.StateIdle))
	}
	c.bus.Publish(types.Event{Kind: types.EventStopped, SessionID: sessionID, Time: time.Now()})
	slog.Info("acquire: session stopped", "session", sessionID, "faulted", faulted)
}

// openAll opens the primary channel, points it at its endpoint, then
// opens and routes the secondary when present. On failure everything
// already open is closed; the transport route itself is not undone, a
// stale route is harmless while streaming is off.
func (c *Controller) openAll(ctx context.Context, dev gige.Device, channels []types.ChannelDescriptor) ([]*StreamPipeline, error) {
	connectionID := dev.Info().ConnectionID

	primary := NewStreamPipeline(c.transport, channels[0])
	if err := primary.Open(ctx, dev, connectionID); err != nil {
		return nil, err
	}

	ip, port, _ := primary.Endpoint()
	if err := dev.SetStreamDestination(ip, port, channels[0].Index); err != nil {
		primary.Close()
		return nil, fmt.Errorf("acquire: set channel %d destination: %w", channels[0].Index, err)
	}

	pipes := []*StreamPipeline{primary}
	if len(channels) > 1 {
		secondary := NewStreamPipeline(c.transport, channels[1])
		if err := secondary.Open(ctx, dev, connectionID); err != nil {
			c.closeAll(pipes)
			return nil, err
		}
		pipes = append(pipes, secondary)

		ip, port, _ := secondary.Endpoint()
		if err := routeSecondChannel(dev, ip, port); err != nil {
			c.closeAll(pipes)
			return nil, err
		}
	}
	return pipes, nil
}

// arm starts the pipelines and turns the device's tap on. On failure it
// rolls back what it armed and leaves the pipelines open for closeAll.
func (c *Controller) arm(dev gige.Device, pipes []*StreamPipeline) error {
	for i, p := range pipes {
		if err := p.Start(); err != nil {
			for j := i - 1; j >= 0; j-- {
				pipes[j].Stop()
			}
			return err
		}
	}

	if err := dev.StreamEnable(); err != nil {
		for _, p := range pipes {
			p.Stop()
		}
		return fmt.Errorf("acquire: stream enable: %w", err)
	}

	if err := dev.Params().Execute(gige.ParamAcquisitionStart); err != nil {
		if derr := dev.StreamDisable(); derr != nil {
			slog.Warn("acquire: stream disable during rollback", "error", derr)
		}
		for _, p := range pipes {
			p.Stop()
		}
		return fmt.Errorf("acquire: acquisition start: %w", err)
	}
	return nil
}

// captureLoop polls each channel in index order until stop is observed
// or a runtime fault occurs. Returns whether the session faulted. A
// panic anywhere in the loop is converted to a fault so the caller
// still runs shutdown.
func (c *Controller) captureLoop(pipes []*StreamPipeline, sessionID string, stopCh chan struct{}) (faulted bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("acquire: capture loop panic", "session", sessionID, "panic", r)
			c.publishError(sessionID, fmt.Errorf("acquire: capture loop panic: %v", r))
			faulted = true
		}
	}()

	stats := newStatsCollector(pipes)
	lastStats := time.Now()

	for {
		select {
		case <-stopCh:
			return false
		default:
		}

		for _, p := range pipes {
			frame, err := p.Retrieve(RetrieveTimeout)
			switch {
			case err == nil:
				c.record(stats, frame, sessionID)
			case errors.Is(err, gige.ErrTimeout) || errors.Is(err, gige.ErrNotImage):
				// Transient; retried next iteration. A miss on one
				// channel never blocks the other's attempt.
			case errors.Is(err, gige.ErrClosed):
				c.publishError(sessionID, fmt.Errorf("acquire: channel %d closed mid-session: %w", p.Index(), err))
				return true
			default:
				c.publishError(sessionID, fmt.Errorf("acquire: channel %d retrieve: %w", p.Index(), err))
				return true
			}
		}

		if time.Since(lastStats) >= c.cfg.StatsInterval {
			snap := stats.snapshot(pipes)
			c.lastStats.Store(&snap)
			c.bus.Publish(types.Event{Kind: types.EventStats, SessionID: sessionID, Time: time.Now(), Stats: snap})
			lastStats = time.Now()
		}
	}
}

// record books one retrieved frame: cache first, unconditionally, then
// the throttled display emission.
func (c *Controller) record(stats *statsCollector, frame *types.Frame, sessionID string) {
	frame.TraceID = sessionID

	t := stats.tally(frame.Role)
	t.captures++
	c.cacheSlot(frame.Role).Store(frame)

	interval := time.Duration(c.displayInterval.Load())
	now := time.Now()
	if now.Sub(t.lastDisplay) >= interval {
		t.lastDisplay = now
		t.displays++
		c.bus.Publish(types.Event{Kind: types.EventFrame, SessionID: sessionID, Time: now, Frame: frame})
	}
}

// shutdown is the reverse of startup. Every step runs even when an
// earlier one fails; failures during teardown are logged, not returned.
func (c *Controller) shutdown(dev gige.Device, pipes []*StreamPipeline) {
	if err := dev.Params().Execute(gige.ParamAcquisitionStop); err != nil {
		slog.Warn("acquire: acquisition stop", "error", err)
	}
	if err := dev.StreamDisable(); err != nil {
		slog.Warn("acquire: stream disable", "error", err)
	}
	for i := len(pipes) - 1; i >= 0; i-- {
		if err := pipes[i].Stop(); err != nil {
			slog.Warn("acquire: pipeline stop", "channel", pipes[i].Index(), "error", err)
		}
	}
	c.closeAll(pipes)
}

func (c *Controller) closeAll(pipes []*StreamPipeline) {
	for i := len(pipes) - 1; i >= 0; i-- {
		if err := pipes[i].Close(); err != nil {
			slog.Warn("acquire: pipeline close", "channel", pipes[i].Index(), "error", err)
		}
	}
}

func (c *Controller) cacheSlot(role types.ChannelRole) *atomic.Pointer[types.Frame] {
	if role == types.RoleNearInfrared {
		return &c.cacheNIR
	}
	return &c.cacheRGB
}

func (c *Controller) publishError(sessionID string, err error) {
	slog.Error("acquire: session error", "session", sessionID, "error", err)
	c.bus.Publish(types.Event{Kind: types.EventError, SessionID: sessionID, Time: time.Now(), Err: err.Error()})
}
