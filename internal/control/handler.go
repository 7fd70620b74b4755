// Package control handles MQTT control plane commands for the capture
// daemon: acquisition lifecycle, snapshots, camera parameters and
// status queries.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/config"
)

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Handler handles control plane commands
type Handler struct {
	cfg       *config.Config
	client    mqtt.Client
	commands  chan Command
	callbacks CommandCallbacks
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnConnectCamera    func(connectionID string) error
	OnDisconnectCamera func() error
	OnStartAcquisition func() error
	OnStopAcquisition  func() error
	OnSnapshot         func() (map[string]interface{}, error)
	OnGetStatus        func() map[string]interface{}
	OnGetStats         func() map[string]interface{}
	OnListDevices      func() ([]map[string]interface{}, error)
	OnGetHistory       func(limit int) ([]map[string]interface{}, error)
	OnSetDisplayRate   func(rateHz float64) error
	OnSetExposure      func(exposureUs float64, force bool) error
	OnSetGain          func(gainDB float64, force bool) error
	OnGetParameters    func(names []string) (map[string]interface{}, error)
	OnSetParameter     func(name string, value interface{}, force bool) error
	OnShutdown         func() error
}

// NewHandler creates a new control plane handler
func NewHandler(cfg *config.Config, client mqtt.Client, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
}

// Start starts listening for control commands
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoS["control"]

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	// Process commands
	go h.processCommands(ctx)

	return nil
}

// Stop stops the control plane handler
func (h *Handler) Stop() error {
	topic := h.cfg.MQTT.Topics.Control

	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(topic)
		token.Wait()
	}

	close(h.commands)

	slog.Info("control plane handler stopped")
	return nil
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	// Send to processing channel
	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

// processCommands processes commands from the queue
func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.handleCommand(cmd)
		}
	}
}

// handleCommand executes a command and sends its response. A nil
// result from execute means the response has already been sent.
func (h *Handler) handleCommand(cmd Command) {
	if resp := h.execute(cmd); resp != nil {
		h.sendResponse(*resp)
	}
}

func (h *Handler) execute(cmd Command) *Response {
	var resp Response
	resp.CommandAck = cmd.Command

	switch cmd.Command {
	case "connect_camera":
		if h.callbacks.OnConnectCamera != nil {
			// connection_id optional: empty picks the first device found
			connectionID, _ := cmd.Params["connection_id"].(string)
			if err := h.callbacks.OnConnectCamera(connectionID); err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = map[string]interface{}{
					"connected": true,
					"message":   "camera connected",
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "connect_camera not implemented"
		}

	case "disconnect_camera":
		if h.callbacks.OnDisconnectCamera != nil {
			if err := h.callbacks.OnDisconnectCamera(); err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = map[string]interface{}{
					"connected": false,
					"message":   "camera disconnected",
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "disconnect_camera not implemented"
		}

	case "start_acquisition":
		if h.callbacks.OnStartAcquisition != nil {
			if err := h.callbacks.OnStartAcquisition(); err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = map[string]interface{}{
					"acquisition_active": true,
					"message":            "acquisition started",
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "start_acquisition not implemented"
		}

	case "stop_acquisition":
		if h.callbacks.OnStopAcquisition != nil {
			if err := h.callbacks.OnStopAcquisition(); err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = map[string]interface{}{
					"acquisition_active": false,
					"message":            "acquisition stopped",
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "stop_acquisition not implemented"
		}

	case "snapshot":
		if h.callbacks.OnSnapshot != nil {
			data, err := h.callbacks.OnSnapshot()
			if err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = data
			}
		} else {
			resp.Status = "error"
			resp.Error = "snapshot not implemented"
		}

	case "get_status":
		if h.callbacks.OnGetStatus != nil {
			resp.Status = "success"
			resp.Data = h.callbacks.OnGetStatus()
		} else {
			resp.Status = "error"
			resp.Error = "get_status not implemented"
		}

	case "get_stats":
		if h.callbacks.OnGetStats != nil {
			resp.Status = "success"
			resp.Data = h.callbacks.OnGetStats()
		} else {
			resp.Status = "error"
			resp.Error = "get_stats not implemented"
		}

	case "list_devices":
		if h.callbacks.OnListDevices != nil {
			devices, err := h.callbacks.OnListDevices()
			if err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = map[string]interface{}{
					"devices": devices,
					"count":   len(devices),
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "list_devices not implemented"
		}

	case "get_history":
		if h.callbacks.OnGetHistory != nil {
			limit := 10
			if raw, ok := cmd.Params["limit"].(float64); ok && raw > 0 {
				limit = int(raw)
			}
			entries, err := h.callbacks.OnGetHistory(limit)
			if err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = map[string]interface{}{
					"captures": entries,
					"count":    len(entries),
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "get_history not implemented"
		}

	case "set_display_rate":
		if h.callbacks.OnSetDisplayRate != nil {
			rate, ok := cmd.Params["rate_hz"].(float64)
			if !ok {
				resp.Status = "error"
				resp.Error = "missing or invalid 'rate_hz' parameter (expected float)"
			} else {
				if err := h.callbacks.OnSetDisplayRate(rate); err != nil {
					resp.Status = "error"
					resp.Error = err.Error()
				} else {
					resp.Status = "success"
					resp.Data = map[string]interface{}{
						"display_rate_hz": rate,
						"message":         "display rate updated",
					}
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "set_display_rate not implemented"
		}

	case "set_exposure":
		if h.callbacks.OnSetExposure != nil {
			exposure, ok := cmd.Params["exposure_us"].(float64)
			if !ok {
				resp.Status = "error"
				resp.Error = "missing or invalid 'exposure_us' parameter (expected float)"
			} else {
				force, _ := cmd.Params["force"].(bool)
				if err := h.callbacks.OnSetExposure(exposure, force); err != nil {
					resp.Status = "error"
					resp.Error = err.Error()
				} else {
					resp.Status = "success"
					resp.Data = map[string]interface{}{
						"exposure_us": exposure,
						"message":     "exposure updated",
					}
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "set_exposure not implemented"
		}

	case "set_gain":
		if h.callbacks.OnSetGain != nil {
			gain, ok := cmd.Params["gain_db"].(float64)
			if !ok {
				resp.Status = "error"
				resp.Error = "missing or invalid 'gain_db' parameter (expected float)"
			} else {
				force, _ := cmd.Params["force"].(bool)
				if err := h.callbacks.OnSetGain(gain, force); err != nil {
					resp.Status = "error"
					resp.Error = err.Error()
				} else {
					resp.Status = "success"
					resp.Data = map[string]interface{}{
						"gain_db": gain,
						"message": "gain updated",
					}
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "set_gain not implemented"
		}

	case "get_parameters":
		if h.callbacks.OnGetParameters != nil {
			var names []string
			if raw, ok := cmd.Params["names"].([]interface{}); ok {
				for _, n := range raw {
					if s, ok := n.(string); ok {
						names = append(names, s)
					}
				}
			}
			values, err := h.callbacks.OnGetParameters(names)
			if err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = map[string]interface{}{
					"parameters": values,
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "get_parameters not implemented"
		}

	case "set_parameter":
		if h.callbacks.OnSetParameter != nil {
			name, okName := cmd.Params["name"].(string)
			value, okValue := cmd.Params["value"]
			if !okName || name == "" {
				resp.Status = "error"
				resp.Error = "missing or invalid 'name' parameter (expected string)"
			} else if !okValue {
				resp.Status = "error"
				resp.Error = "missing 'value' parameter"
			} else {
				force, _ := cmd.Params["force"].(bool)
				if err := h.callbacks.OnSetParameter(name, value, force); err != nil {
					resp.Status = "error"
					resp.Error = err.Error()
				} else {
					resp.Status = "success"
					resp.Data = map[string]interface{}{
						"name":    name,
						"value":   value,
						"message": "parameter updated",
					}
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "set_parameter not implemented"
		}

	case "shutdown":
		if h.callbacks.OnShutdown != nil {
			slog.Warn("shutdown command received via MQTT control plane")
			resp.Status = "success"
			resp.Data = map[string]interface{}{
				"shutdown_initiated": true,
				"message":            "graceful shutdown in progress",
			}
			// Send response BEFORE triggering shutdown
			h.sendResponse(resp)

			// Trigger shutdown asynchronously
			go func() {
				time.Sleep(500 * time.Millisecond) // Brief delay to ensure response is sent
				if err := h.callbacks.OnShutdown(); err != nil {
					slog.Error("shutdown callback failed", "error", err)
				}
			}()
			return nil // Don't send response again
		} else {
			resp.Status = "error"
			resp.Error = "shutdown not implemented"
		}

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	return &resp
}

// sendResponse sends a response to the control response topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	topic := h.cfg.MQTT.Topics.ControlResponse
	qos := h.cfg.MQTT.QoS["control"]

	token := h.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
