// Package core wires the capture daemon together: camera manager,
// acquisition controller, MQTT emitter and control plane, WebSocket
// preview, capture history and the health endpoints.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/acquire"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/camera"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/config"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/control"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/emitter"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/gige"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/gige/gigesim"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/history"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/imaging"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/notify"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/preview"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/settings"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/types"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/upload"
)

// simConnectionID names the simulated camera when no connection_id is
// configured.
const simConnectionID = "sim-sw8000q"

// Service is the capture daemon orchestrator.
type Service struct {
	cfg *config.Config

	// Core components
	transport      gige.Transport
	bus            notify.Bus
	store          *settings.Store
	manager        *camera.Manager
	controller     *acquire.Controller
	emitter        *emitter.MQTTEmitter
	controlHandler *control.Handler
	preview        *preview.Server
	history        *history.Store
	uploader       *upload.Uploader

	saver        *imaging.Saver // bound to the active save directory
	healthServer *http.Server

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	runCtx    context.Context    // Run context for control plane actions
	cancelCtx context.CancelFunc // For MQTT shutdown command
}

// New creates a Service from a configuration file. The transport is
// simulated when camera.simulate is set; a hardware transport has to
// come in through NewWithTransport.
func New(configPath string) (*Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("configuration loaded",
		"instance_id", cfg.InstanceID,
		"broker", cfg.MQTT.Broker,
	)

	var transport gige.Transport
	if cfg.Camera.Simulate {
		id := cfg.Camera.ConnectionID
		if id == "" {
			id = simConnectionID
		}
		transport = gigesim.NewTransport(gigesim.DualDevice(id))
		slog.Info("using simulated transport", "connection_id", id)
	} else {
		return nil, fmt.Errorf("no hardware transport built in: set camera.simulate or construct the service with NewWithTransport")
	}

	return NewWithTransport(cfg, transport)
}

// NewWithTransport creates a Service on an existing transport. This is
// the constructor hardware bindings and tests use.
func NewWithTransport(cfg *config.Config, transport gige.Transport) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}

	bus := notify.NewBus()

	// Operator settings are preferences, not configuration: a broken
	// file degrades to defaults instead of blocking startup.
	store, err := settings.Open(cfg.Capture.SettingsFile)
	if err != nil {
		slog.Warn("settings store unavailable, continuing without persistence",
			"path", cfg.Capture.SettingsFile,
			"error", err)
		store = nil
	}

	manager, err := camera.NewManager(transport, store)
	if err != nil {
		return nil, fmt.Errorf("failed to create camera manager: %w", err)
	}

	displayInterval := time.Duration(0)
	if cfg.Acquire.DisplayFPS > 0 {
		displayInterval = time.Duration(float64(time.Second) / cfg.Acquire.DisplayFPS)
	}
	controller, err := acquire.NewController(transport, bus, acquire.Config{
		DisplayInterval: displayInterval,
		StatsInterval:   time.Duration(cfg.Acquire.StatsIntervalMs) * time.Millisecond,
		StopTimeout:     time.Duration(cfg.Acquire.StopTimeoutS) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create acquisition controller: %w", err)
	}

	hist, err := history.Open(cfg.Capture.HistoryDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture history: %w", err)
	}

	s := &Service{
		cfg:        cfg,
		transport:  transport,
		bus:        bus,
		store:      store,
		manager:    manager,
		controller: controller,
		emitter:    emitter.NewMQTTEmitter(cfg),
		preview:    preview.NewServer(cfg.Preview.Addr, cfg.Preview.JPEGQuality),
		history:    hist,
	}

	if cfg.Upload != nil {
		uploader, err := buildUploader(cfg.Upload)
		if err != nil {
			hist.Close()
			return nil, fmt.Errorf("failed to configure uploader: %w", err)
		}
		s.uploader = uploader
		slog.Info("capture upload configured",
			"host", cfg.Upload.Host,
			"remote_dir", cfg.Upload.RemoteDir)
	}

	// Operator display rate overrides the config default.
	if store != nil {
		if rate := store.DisplayRate(); rate > 0 && rate != cfg.Acquire.DisplayFPS {
			if err := controller.SetDisplayRate(rate); err == nil {
				slog.Info("display rate restored from settings", "rate_hz", rate)
			}
		}
	}

	return s, nil
}

func buildUploader(cfg *config.UploadConfig) (*upload.Uploader, error) {
	opts := []upload.Option{
		upload.WithPort(cfg.Port),
		upload.WithRemoteDir(cfg.RemoteDir),
		upload.WithTimeout(time.Duration(cfg.TimeoutS) * time.Second),
	}
	if cfg.Password != "" {
		opts = append(opts, upload.WithPassword(cfg.Password))
	}
	if cfg.KeyFile != "" {
		opts = append(opts, upload.WithKeyFile(cfg.KeyFile))
	}
	switch {
	case cfg.HostKey != "":
		opts = append(opts, upload.WithHostKey(cfg.HostKey))
	case cfg.SkipVerify:
		opts = append(opts, upload.WithInsecureHostKey())
	}
	return upload.New(cfg.Host, cfg.User, opts...)
}

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	s.mu.Unlock()

	// Create cancellable context for MQTT shutdown command
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.runCtx = ctx
	s.cancelCtx = cancel
	s.mu.Unlock()

	slog.Info("capture service starting", "instance_id", s.cfg.InstanceID)

	// Connect MQTT emitter
	if err := s.emitter.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect mqtt: %w", err)
	}

	// Setup control plane handler
	s.controlHandler = control.NewHandler(s.cfg, s.emitter.Client, control.CommandCallbacks{
		OnConnectCamera:    s.connectCamera,
		OnDisconnectCamera: s.disconnectCamera,
		OnStartAcquisition: s.startAcquisition,
		OnStopAcquisition:  s.stopAcquisition,
		OnSnapshot:         s.snapshot,
		OnGetStatus:        s.getStatus,
		OnGetStats:         s.getStats,
		OnListDevices:      s.listDevices,
		OnGetHistory:       s.getHistory,
		OnSetDisplayRate:   s.setDisplayRate,
		OnSetExposure:      s.setExposure,
		OnSetGain:          s.setGain,
		OnGetParameters:    s.getParameters,
		OnSetParameter:     s.setParameter,
		OnShutdown:         s.shutdownViaControl,
	})
	if err := s.controlHandler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control plane: %w", err)
	}

	if s.cfg.Preview.Enabled {
		if err := s.preview.Start(); err != nil {
			return fmt.Errorf("failed to start preview server: %w", err)
		}
	}

	if err := s.StartHealthServer(s.cfg.Health.Port); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}

	// Pump session events to MQTT and the preview stream.
	events := make(chan types.Event, 256)
	if err := s.bus.Subscribe("core", events); err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}
	s.wg.Add(1)
	go s.consumeEvents(ctx, events)

	// Camera bring-up is recoverable over the control plane, so a
	// failed auto-connect degrades instead of aborting the daemon.
	if s.cfg.Camera.AutoConnect {
		if err := s.connectCamera(s.cfg.Camera.ConnectionID); err != nil {
			slog.Warn("auto-connect failed, camera can be connected via control plane",
				"error", err)
		}
	}
	if s.cfg.Acquire.AutoStart {
		if !s.manager.Connected() {
			slog.Warn("auto-start skipped, camera not connected")
		} else if err := s.startAcquisition(); err != nil {
			slog.Warn("auto-start failed", "error", err)
		}
	}

	slog.Info("capture service running",
		"preview", s.cfg.Preview.Enabled,
		"auto_connect", s.cfg.Camera.AutoConnect,
		"auto_start", s.cfg.Acquire.AutoStart,
	)

	// Wait for context cancellation
	<-ctx.Done()

	slog.Info("capture service run loop exiting")
	return nil
}

// consumeEvents fans bus traffic out to its consumers: frames go to
// the preview stream, everything else to MQTT.
func (s *Service) consumeEvents(ctx context.Context, events <-chan types.Event) {
	defer s.wg.Done()
	defer s.bus.Unsubscribe("core")

	slog.Info("event consumer started")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case types.EventFrame:
				if ev.Frame == nil {
					continue
				}
				if err := s.preview.PublishFrame(ev.Frame); err != nil {
					slog.Warn("preview publish failed", "error", err)
				}
			case types.EventStats:
				if err := s.emitter.PublishEvent(ev); err != nil {
					// Stats recur every interval; a broker outage
					// would otherwise flood the log.
					slog.Debug("stats publish failed", "error", err)
				}
			default:
				if err := s.emitter.PublishEvent(ev); err != nil {
					slog.Warn("event publish failed", "kind", ev.Kind, "error", err)
				}
			}
		}
	}
}

// Shutdown performs graceful shutdown of all components
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	slog.Info("shutting down capture service")

	// Shutdown sequence (order is important!):
	// 1. Stop the acquisition session FIRST (it feeds everything else)
	if err := s.controller.Stop(ctx); err != nil {
		slog.Error("failed to stop acquisition", "error", err)
	}

	// 2. Stop the preview server (no more frames coming)
	if err := s.preview.Stop(ctx); err != nil {
		slog.Error("failed to stop preview server", "error", err)
	}

	// 3. Stop control plane
	if s.controlHandler != nil {
		if err := s.controlHandler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	// 4. Stop the health server
	s.mu.Lock()
	healthServer := s.healthServer
	s.mu.Unlock()
	if healthServer != nil {
		if err := healthServer.Shutdown(ctx); err != nil {
			slog.Error("failed to stop health server", "error", err)
		}
	}

	// 5. Wait for goroutines to finish (without holding the lock)
	s.wg.Wait()

	// 6. Release the camera
	if err := s.manager.Disconnect(); err != nil {
		slog.Error("failed to disconnect camera", "error", err)
	}

	// 7. Disconnect MQTT
	if err := s.emitter.Disconnect(); err != nil {
		slog.Error("failed to disconnect mqtt", "error", err)
	}

	// 8. Close stores
	if err := s.history.Close(); err != nil {
		slog.Error("failed to close capture history", "error", err)
	}
	s.bus.Close()

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("capture service shutdown complete", "uptime", uptime)

	return nil
}

// ShutdownTimeout returns the configured graceful shutdown timeout.
func (s *Service) ShutdownTimeout() time.Duration {
	timeout := time.Duration(s.cfg.ShutdownTimeoutS) * time.Second
	if timeout == 0 {
		return 5 * time.Second
	}
	return timeout
}

// runContext returns the Run context, or Background before Run.
func (s *Service) runContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}
