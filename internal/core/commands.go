package core

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/gige"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/history"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/imaging"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/types"
)

// connectCamera opens the control connection. An empty ID falls back to
// the configured connection_id, then to the first device found.
func (s *Service) connectCamera(connectionID string) error {
	ctx := s.runContext()

	if connectionID == "" {
		connectionID = s.cfg.Camera.ConnectionID
	}
	if connectionID == "" {
		infos, err := s.manager.Find(ctx)
		if err != nil {
			return fmt.Errorf("device scan failed: %w", err)
		}
		if len(infos) == 0 {
			return fmt.Errorf("no cameras found")
		}
		connectionID = infos[0].ConnectionID
		slog.Info("no connection_id configured, using first device found",
			"connection_id", connectionID)
	}

	return s.manager.Connect(ctx, connectionID)
}

// disconnectCamera releases the camera, stopping any running session
// first so the streams close before the control connection does.
func (s *Service) disconnectCamera() error {
	if s.controller.State() == types.StateRunning {
		if err := s.controller.Stop(s.runContext()); err != nil {
			slog.Warn("failed to stop acquisition before disconnect", "error", err)
		}
	}
	return s.manager.Disconnect()
}

// startAcquisition begins a dual-channel streaming session.
func (s *Service) startAcquisition() error {
	dev := s.manager.Device()
	if dev == nil {
		return fmt.Errorf("camera not connected")
	}
	channels := s.manager.Channels()
	if len(channels) == 0 {
		return fmt.Errorf("no stream channels discovered")
	}
	return s.controller.Start(s.runContext(), dev, channels)
}

// stopAcquisition ends the streaming session.
func (s *Service) stopAcquisition() error {
	return s.controller.Stop(s.runContext())
}

// snapshot saves the latest frame of every channel as a capture
// directory, records it in history and announces it over MQTT. The
// upload, when configured, runs in the background so the control
// response is not held up by the network.
func (s *Service) snapshot() (map[string]interface{}, error) {
	frames := s.controller.Snapshot()
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames available, is acquisition running?")
	}

	saver, err := s.saverFor(s.saveDir())
	if err != nil {
		return nil, err
	}

	result, err := saver.SaveCapture(frames)
	if err != nil {
		return nil, fmt.Errorf("capture failed: %w", err)
	}

	captureID := uuid.New().String()
	entry := &history.Entry{
		CaptureID: captureID,
		SessionID: s.controller.SessionID(),
		TakenAt:   time.Now().UTC(),
		Dir:       result.Dir,
		Roles:     result.Roles,
		Bytes:     result.Bytes,
	}
	if _, err := s.history.Record(entry); err != nil {
		slog.Warn("failed to record capture in history", "capture_id", captureID, "error", err)
	}

	s.announceCapture(captureID, entry, result)

	if s.uploader != nil {
		s.wg.Add(1)
		go func(dir string) {
			defer s.wg.Done()
			remote, err := s.uploader.UploadDir(dir)
			if err != nil {
				slog.Error("capture upload failed", "dir", dir, "error", err)
				return
			}
			slog.Info("capture uploaded", "dir", dir, "remote", remote)
		}(result.Dir)
	}

	slog.Info("snapshot captured",
		"capture_id", captureID,
		"dir", result.Dir,
		"roles", result.Roles,
		"bytes", result.Bytes,
	)

	return map[string]interface{}{
		"capture_id": captureID,
		"dir":        result.Dir,
		"roles":      result.Roles,
		"files":      len(result.Files),
		"bytes":      result.Bytes,
	}, nil
}

// announceCapture publishes the capture record to the captures topic.
// Publish failures are logged; the capture is already on disk.
func (s *Service) announceCapture(captureID string, entry *history.Entry, result *imaging.CaptureResult) {
	files := make([]map[string]interface{}, 0, len(result.Files))
	for _, f := range result.Files {
		files = append(files, map[string]interface{}{
			"name":  f.Name,
			"bytes": f.Bytes,
		})
	}
	payload, err := json.Marshal(map[string]interface{}{
		"capture_id":  captureID,
		"instance_id": s.cfg.InstanceID,
		"session_id":  entry.SessionID,
		"taken_at":    entry.TakenAt.Format(time.RFC3339),
		"dir":         result.Dir,
		"roles":       result.Roles,
		"files":       files,
		"bytes":       result.Bytes,
	})
	if err != nil {
		slog.Warn("failed to encode capture announcement", "error", err)
		return
	}
	if err := s.emitter.PublishCapture(payload); err != nil {
		slog.Warn("failed to announce capture", "capture_id", captureID, "error", err)
	}
}

// saveDir resolves the active capture directory: the operator's
// remembered choice wins over the configured default.
func (s *Service) saveDir() string {
	if s.store != nil {
		if dir := s.store.SaveDir(); dir != "" {
			return dir
		}
	}
	return s.cfg.Capture.SaveDir
}

// saverFor returns a Saver bound to dir, rebuilding it only when the
// directory changed since the last capture.
func (s *Service) saverFor(dir string) (*imaging.Saver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saver != nil && s.saver.Dir() == dir {
		return s.saver, nil
	}
	saver, err := imaging.NewSaver(dir)
	if err != nil {
		return nil, fmt.Errorf("capture directory unusable: %w", err)
	}
	s.saver = saver
	return saver, nil
}

// getStatus returns the current service status
func (s *Service) getStatus() map[string]interface{} {
	s.mu.RLock()
	started := s.started
	running := s.isRunning
	s.mu.RUnlock()

	emitterStats := s.emitter.Stats()
	busStats := s.bus.Stats()
	previewStats := s.preview.Stats()

	cameraStatus := map[string]interface{}{
		"connected": false,
	}
	if info, ok := s.manager.Info(); ok {
		cameraStatus = map[string]interface{}{
			"connected":    true,
			"model":        info.Model,
			"serial":       info.Serial,
			"mac":          info.MAC,
			"ip":           info.IP,
			"dual_channel": s.manager.DualChannel(),
			"channels":     len(s.manager.Channels()),
		}
	}

	captures, err := s.history.Count()
	if err != nil {
		slog.Debug("failed to count captures", "error", err)
	}

	status := map[string]interface{}{
		"instance_id": s.cfg.InstanceID,
		"uptime_s":    time.Since(started).Seconds(),
		"running":     running,
		"acquisition": map[string]interface{}{
			"state":      s.controller.State().String(),
			"session_id": s.controller.SessionID(),
			"rate_hz":    s.controller.DisplayRate(),
		},
		"camera": cameraStatus,
		"bus": map[string]interface{}{
			"published": busStats.TotalPublished,
			"sent":      busStats.TotalSent,
			"dropped":   busStats.TotalDropped,
		},
		"emitter": map[string]interface{}{
			"connected": emitterStats.Connected,
			"published": emitterStats.Published,
			"errors":    emitterStats.Errors,
		},
		"preview": map[string]interface{}{
			"enabled": s.cfg.Preview.Enabled,
			"clients": previewStats.Clients,
			"sent":    previewStats.FramesSent,
			"dropped": previewStats.FramesDropped,
		},
		"captures": captures,
		"config": map[string]interface{}{
			"save_dir":      s.saveDir(),
			"broker":        s.cfg.MQTT.Broker,
			"control_topic": s.cfg.MQTT.Topics.Control,
		},
	}

	return status
}

// getStats returns the per-channel throughput of the active session.
func (s *Service) getStats() map[string]interface{} {
	channels := make(map[string]interface{})
	for role, cs := range s.controller.LastStats() {
		channels[string(role)] = map[string]interface{}{
			"fps":            cs.FPS,
			"bandwidth_mbps": cs.BandwidthMBps,
			"capture_count":  cs.CaptureCount,
			"display_count":  cs.DisplayCount,
		}
	}
	return map[string]interface{}{
		"state":      s.controller.State().String(),
		"session_id": s.controller.SessionID(),
		"channels":   channels,
	}
}

// listDevices scans the transport for reachable cameras.
func (s *Service) listDevices() ([]map[string]interface{}, error) {
	infos, err := s.manager.Find(s.runContext())
	if err != nil {
		return nil, err
	}
	devices := make([]map[string]interface{}, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, map[string]interface{}{
			"connection_id": info.ConnectionID,
			"display_id":    info.DisplayID,
			"model":         info.Model,
			"serial":        info.Serial,
			"ip":            info.IP,
			"mac":           info.MAC,
		})
	}
	return devices, nil
}

// getHistory returns the most recent capture records, newest first.
func (s *Service) getHistory(limit int) ([]map[string]interface{}, error) {
	entries, err := s.history.Recent(limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]interface{}{
			"capture_id": e.CaptureID,
			"session_id": e.SessionID,
			"taken_at":   e.TakenAt.Format(time.RFC3339),
			"dir":        e.Dir,
			"roles":      e.Roles,
			"bytes":      e.Bytes,
		})
	}
	return out, nil
}

// setDisplayRate changes the preview publish rate and remembers it.
func (s *Service) setDisplayRate(rateHz float64) error {
	if err := s.controller.SetDisplayRate(rateHz); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.SetDisplayRate(rateHz); err != nil {
			slog.Warn("failed to persist display rate", "error", err)
		}
	}
	slog.Info("display rate updated", "rate_hz", rateHz)
	return nil
}

// guardDeviceWrite rejects device register writes while a session is
// active. The capture goroutine and external callers share one control
// connection; a forced write is the caller taking that risk knowingly.
func (s *Service) guardDeviceWrite(force bool) error {
	if force {
		return nil
	}
	switch s.controller.State() {
	case types.StateOpening, types.StateRunning, types.StateStopping:
		return fmt.Errorf("session active, refusing device write (pass force to override)")
	}
	return nil
}

// setExposure writes the exposure time in microseconds.
func (s *Service) setExposure(exposureUs float64, force bool) error {
	if err := s.guardDeviceWrite(force); err != nil {
		return err
	}
	return s.manager.SetExposureTime(exposureUs)
}

// setGain writes the gain in dB.
func (s *Service) setGain(gainDB float64, force bool) error {
	if err := s.guardDeviceWrite(force); err != nil {
		return err
	}
	return s.manager.SetGain(gainDB)
}

// defaultParameters is the set get_parameters reads when the command
// names none.
var defaultParameters = []string{
	gige.ParamExposureTime,
	gige.ParamGain,
	gige.ParamWidth,
	gige.ParamHeight,
	gige.ParamPixelFormat,
}

// getParameters reads device features by name. A feature that fails to
// read reports its error in place so one bad name doesn't hide the
// rest.
func (s *Service) getParameters(names []string) (map[string]interface{}, error) {
	if !s.manager.Connected() {
		return nil, fmt.Errorf("camera not connected")
	}
	if len(names) == 0 {
		names = defaultParameters
	}

	values := make(map[string]interface{}, len(names))
	for _, name := range names {
		v, err := s.manager.Parameter(name)
		if err != nil {
			values[name] = map[string]interface{}{"error": err.Error()}
			continue
		}
		values[name] = v
	}
	return values, nil
}

// setParameter writes one device feature by name.
func (s *Service) setParameter(name string, value interface{}, force bool) error {
	if name == "" {
		return fmt.Errorf("parameter name is required")
	}
	if err := s.guardDeviceWrite(force); err != nil {
		return err
	}
	if err := s.manager.SetParameter(name, value); err != nil {
		return err
	}
	slog.Info("parameter updated", "name", name, "value", value, "forced", force)
	return nil
}

// shutdownViaControl initiates graceful shutdown via MQTT control command
func (s *Service) shutdownViaControl() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return fmt.Errorf("service not running")
	}

	if s.cancelCtx == nil {
		return fmt.Errorf("shutdown not available (no cancel context)")
	}

	// Trigger context cancellation - this will cause Run() to exit
	// and main.go will handle the graceful shutdown sequence
	s.cancelCtx()
	return nil
}
