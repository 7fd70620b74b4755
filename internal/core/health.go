package core

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ChannelHealthMetrics contains per-channel throughput for the health report
type ChannelHealthMetrics struct {
	FPS           float64 `json:"fps"`
	BandwidthMBps float64 `json:"bandwidth_mbps"`
	CaptureCount  uint64  `json:"capture_count"`
	DisplayCount  uint64  `json:"display_count"`
}

// HealthStatus represents the health state of the capture service
type HealthStatus struct {
	Status           string                          `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds    int64                           `json:"uptime_seconds"`
	AcquisitionState string                          `json:"acquisition_state"`
	CameraConnected  bool                            `json:"camera_connected"`
	MQTTConnected    bool                            `json:"mqtt_connected"`
	Channels         map[string]ChannelHealthMetrics `json:"channels,omitempty"`
}

// HealthCheck returns the current health status of the service
func (s *Service) HealthCheck() HealthStatus {
	s.mu.RLock()
	started := s.started
	running := s.isRunning
	s.mu.RUnlock()

	state := s.controller.State()

	status := HealthStatus{
		Status:           "healthy",
		UptimeSeconds:    int64(time.Since(started).Seconds()),
		AcquisitionState: state.String(),
		CameraConnected:  s.manager.Connected(),
		Channels:         make(map[string]ChannelHealthMetrics),
	}

	if s.emitter != nil && s.emitter.Client != nil && s.emitter.Client.IsConnected() {
		status.MQTTConnected = true
	}

	for role, cs := range s.controller.LastStats() {
		status.Channels[string(role)] = ChannelHealthMetrics{
			FPS:           cs.FPS,
			BandwidthMBps: cs.BandwidthMBps,
			CaptureCount:  cs.CaptureCount,
			DisplayCount:  cs.DisplayCount,
		}
	}

	// Determine overall health status. A camera-less service is still
	// reachable over the control plane, so it degrades rather than dies.
	if !running {
		status.Status = "unhealthy"
	} else if !status.CameraConnected || !status.MQTTConnected {
		status.Status = "degraded"
	}

	return status
}

// LivenessHandler handles /health endpoint (simple liveness check)
// Returns 200 if the service process is alive
func (s *Service) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	response := map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(started).Seconds()),
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// ReadinessHandler handles /readiness endpoint (detailed readiness check)
// Returns 200 only if the service is ready to handle requests
func (s *Service) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := s.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// MetricsHandler handles /metrics endpoint in Prometheus text format
func (s *Service) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	instance := s.cfg.InstanceID

	fmt.Fprintf(w, "# TYPE swcap_uptime_seconds counter\n")
	fmt.Fprintf(w, "swcap_uptime_seconds{instance=%q} %d\n",
		instance, int64(time.Since(started).Seconds()))

	for role, cs := range s.controller.LastStats() {
		fmt.Fprintf(w, "swcap_channel_fps{instance=%q,channel=%q} %g\n",
			instance, role, cs.FPS)
		fmt.Fprintf(w, "swcap_channel_frames_total{instance=%q,channel=%q} %d\n",
			instance, role, cs.CaptureCount)
	}

	if captures, err := s.history.Count(); err == nil {
		fmt.Fprintf(w, "swcap_captures_total{instance=%q} %d\n", instance, captures)
	}
}

// StartHealthServer starts the HTTP health check server on the given port
// This runs in a separate goroutine and does not block
func (s *Service) StartHealthServer(port string) error {
	mux := http.NewServeMux()

	// Register health check endpoints
	mux.HandleFunc("/health", s.LivenessHandler)
	mux.HandleFunc("/readiness", s.ReadinessHandler)
	mux.HandleFunc("/metrics", s.MetricsHandler)

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.mu.Lock()
	s.healthServer = server
	s.mu.Unlock()

	slog.Info("starting health check server",
		"port", port,
		"endpoints", []string{"/health", "/readiness", "/metrics"},
	)

	// Start server in goroutine (non-blocking)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health check server failed", "error", err)
		}
	}()

	return nil
}
