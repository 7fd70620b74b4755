package control

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/config"
)

// fakeToken satisfies mqtt.Token with an immediately-complete result.
type fakeToken struct{}

func (fakeToken) Wait() bool                     { return true }
func (fakeToken) WaitTimeout(time.Duration) bool { return true }
func (fakeToken) Error() error                   { return nil }
func (fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// fakeClient captures published control responses without a broker.
type fakeClient struct {
	mu        sync.Mutex
	subs      map[string]mqtt.MessageHandler
	responses chan Response
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		subs:      make(map[string]mqtt.MessageHandler),
		responses: make(chan Response, 16),
	}
}

func (f *fakeClient) IsConnected() bool      { return true }
func (f *fakeClient) IsConnectionOpen() bool { return true }
func (f *fakeClient) Connect() mqtt.Token    { return fakeToken{} }
func (f *fakeClient) Disconnect(uint)        {}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var resp Response
	if err := json.Unmarshal(payload.([]byte), &resp); err == nil {
		f.responses <- resp
	}
	return fakeToken{}
}

func (f *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	f.subs[topic] = callback
	f.mu.Unlock()
	return fakeToken{}
}

func (f *fakeClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return fakeToken{}
}

func (f *fakeClient) Unsubscribe(topics ...string) mqtt.Token { return fakeToken{} }
func (f *fakeClient) AddRoute(string, mqtt.MessageHandler)    {}
func (f *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

// deliver simulates a broker delivering a control message.
func (f *fakeClient) deliver(t *testing.T, topic string, payload string) {
	t.Helper()
	f.mu.Lock()
	handler, ok := f.subs[topic]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no subscription on %s", topic)
	}
	handler(f, fakeMessage{topic: topic, payload: []byte(payload)})
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func testConfig() *config.Config {
	cfg := &config.Config{InstanceID: "cam-01"}
	cfg.MQTT.Topics.Control = "swcap/cam-01/control"
	cfg.MQTT.Topics.ControlResponse = "swcap/cam-01/control/response"
	cfg.MQTT.QoS = map[string]byte{"control": 1}
	return cfg
}

func awaitResponse(t *testing.T, fc *fakeClient) Response {
	t.Helper()
	select {
	case resp := <-fc.responses:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for control response")
		return Response{}
	}
}

func startHandler(t *testing.T, callbacks CommandCallbacks) (*Handler, *fakeClient) {
	t.Helper()
	fc := newFakeClient()
	h := NewHandler(testConfig(), fc, callbacks)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return h, fc
}

func TestStartStopRoundTrip(t *testing.T) {
	var started, stopped bool
	_, fc := startHandler(t, CommandCallbacks{
		OnStartAcquisition: func() error { started = true; return nil },
		OnStopAcquisition:  func() error { stopped = true; return nil },
	})

	fc.deliver(t, "swcap/cam-01/control", `{"command": "start_acquisition"}`)
	resp := awaitResponse(t, fc)
	if resp.CommandAck != "start_acquisition" || resp.Status != "success" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Data["acquisition_active"] != true {
		t.Errorf("data = %v", resp.Data)
	}
	if resp.Timestamp == "" {
		t.Error("response timestamp is empty")
	}
	if _, err := time.Parse(time.RFC3339, resp.Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC3339: %v", resp.Timestamp, err)
	}
	if !started {
		t.Error("start callback not invoked")
	}

	fc.deliver(t, "swcap/cam-01/control", `{"command": "stop_acquisition"}`)
	resp = awaitResponse(t, fc)
	if resp.Status != "success" || !stopped {
		t.Errorf("stop response = %+v, stopped = %v", resp, stopped)
	}
}

func TestConnectCameraPassesConnectionID(t *testing.T) {
	var gotID string
	h := NewHandler(testConfig(), newFakeClient(), CommandCallbacks{
		OnConnectCamera: func(id string) error { gotID = id; return nil },
	})

	resp := h.execute(Command{Command: "connect_camera", Params: map[string]interface{}{
		"connection_id": "SW-8000Q-10GE",
	}})
	if resp.Status != "success" {
		t.Fatalf("response = %+v", resp)
	}
	if gotID != "SW-8000Q-10GE" {
		t.Errorf("connection_id = %q", gotID)
	}

	// Omitted connection_id means pick the first discovered device.
	resp = h.execute(Command{Command: "connect_camera"})
	if resp.Status != "success" || gotID != "" {
		t.Errorf("resp = %+v, id = %q", resp, gotID)
	}
}

func TestCallbackErrorSurfacesInResponse(t *testing.T) {
	_, fc := startHandler(t, CommandCallbacks{
		OnStartAcquisition: func() error { return fmt.Errorf("camera not connected") },
	})

	fc.deliver(t, "swcap/cam-01/control", `{"command": "start_acquisition"}`)
	resp := awaitResponse(t, fc)
	if resp.Status != "error" || resp.Error != "camera not connected" {
		t.Errorf("response = %+v", resp)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, fc := startHandler(t, CommandCallbacks{})

	fc.deliver(t, "swcap/cam-01/control", `{"command": "do_magic"}`)
	resp := awaitResponse(t, fc)
	if resp.Status != "error" || !strings.Contains(resp.Error, "unknown command") {
		t.Errorf("response = %+v", resp)
	}
}

func TestInvalidJSON(t *testing.T) {
	_, fc := startHandler(t, CommandCallbacks{})

	fc.deliver(t, "swcap/cam-01/control", `{not json`)
	resp := awaitResponse(t, fc)
	if resp.CommandAck != "unknown" || resp.Status != "error" {
		t.Errorf("response = %+v", resp)
	}
}

func TestNotImplementedCommand(t *testing.T) {
	_, fc := startHandler(t, CommandCallbacks{})

	fc.deliver(t, "swcap/cam-01/control", `{"command": "snapshot"}`)
	resp := awaitResponse(t, fc)
	if resp.Status != "error" || !strings.Contains(resp.Error, "not implemented") {
		t.Errorf("response = %+v", resp)
	}
}

func TestParameterExtraction(t *testing.T) {
	var gotRate, gotExposure, gotGain float64
	var gotForce bool
	var gotNames []string
	var gotParamName string
	var gotParamValue interface{}

	h := NewHandler(testConfig(), newFakeClient(), CommandCallbacks{
		OnSetDisplayRate: func(r float64) error { gotRate = r; return nil },
		OnSetExposure:    func(e float64, force bool) error { gotExposure, gotForce = e, force; return nil },
		OnSetGain:        func(g float64, force bool) error { gotGain, gotForce = g, force; return nil },
		OnGetParameters: func(names []string) (map[string]interface{}, error) {
			gotNames = names
			return map[string]interface{}{"ExposureTime": 5000.0}, nil
		},
		OnSetParameter: func(name string, value interface{}, force bool) error {
			gotParamName, gotParamValue, gotForce = name, value, force
			return nil
		},
	})

	tests := []struct {
		name       string
		cmd        Command
		wantStatus string
		check      func(t *testing.T, resp *Response)
	}{
		{
			name:       "display rate",
			cmd:        Command{Command: "set_display_rate", Params: map[string]interface{}{"rate_hz": 12.5}},
			wantStatus: "success",
			check: func(t *testing.T, resp *Response) {
				if gotRate != 12.5 {
					t.Errorf("rate = %v", gotRate)
				}
			},
		},
		{
			name:       "display rate missing param",
			cmd:        Command{Command: "set_display_rate"},
			wantStatus: "error",
		},
		{
			name:       "exposure",
			cmd:        Command{Command: "set_exposure", Params: map[string]interface{}{"exposure_us": 8000.0}},
			wantStatus: "success",
			check: func(t *testing.T, resp *Response) {
				if gotExposure != 8000.0 {
					t.Errorf("exposure = %v", gotExposure)
				}
				if gotForce {
					t.Error("force defaulted true")
				}
			},
		},
		{
			name: "exposure forced",
			cmd: Command{Command: "set_exposure", Params: map[string]interface{}{
				"exposure_us": 8000.0, "force": true,
			}},
			wantStatus: "success",
			check: func(t *testing.T, resp *Response) {
				if !gotForce {
					t.Error("force flag not passed through")
				}
			},
		},
		{
			name:       "gain",
			cmd:        Command{Command: "set_gain", Params: map[string]interface{}{"gain_db": 3.0}},
			wantStatus: "success",
			check: func(t *testing.T, resp *Response) {
				if gotGain != 3.0 {
					t.Errorf("gain = %v", gotGain)
				}
			},
		},
		{
			name: "get parameters coerces names",
			cmd: Command{Command: "get_parameters", Params: map[string]interface{}{
				"names": []interface{}{"ExposureTime", "Gain"},
			}},
			wantStatus: "success",
			check: func(t *testing.T, resp *Response) {
				if len(gotNames) != 2 || gotNames[0] != "ExposureTime" || gotNames[1] != "Gain" {
					t.Errorf("names = %v", gotNames)
				}
			},
		},
		{
			name: "set parameter",
			cmd: Command{Command: "set_parameter", Params: map[string]interface{}{
				"name": "Width", "value": 1024.0,
			}},
			wantStatus: "success",
			check: func(t *testing.T, resp *Response) {
				if gotParamName != "Width" || gotParamValue != 1024.0 {
					t.Errorf("param = %s %v", gotParamName, gotParamValue)
				}
			},
		},
		{
			name:       "set parameter missing name",
			cmd:        Command{Command: "set_parameter", Params: map[string]interface{}{"value": 1.0}},
			wantStatus: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.execute(tt.cmd)
			if resp == nil {
				t.Fatal("execute returned nil")
			}
			if resp.Status != tt.wantStatus {
				t.Fatalf("status = %s (%s), want %s", resp.Status, resp.Error, tt.wantStatus)
			}
			if tt.check != nil {
				tt.check(t, resp)
			}
		})
	}
}

func TestSnapshotDataPassthrough(t *testing.T) {
	_, fc := startHandler(t, CommandCallbacks{
		OnSnapshot: func() (map[string]interface{}, error) {
			return map[string]interface{}{
				"capture_id": "abc",
				"dir":        "/data/captures/5_channels_20250310_120000.000",
				"bytes":      float64(4096),
			}, nil
		},
	})

	fc.deliver(t, "swcap/cam-01/control", `{"command": "snapshot"}`)
	resp := awaitResponse(t, fc)
	if resp.Status != "success" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Data["capture_id"] != "abc" || resp.Data["dir"] != "/data/captures/5_channels_20250310_120000.000" {
		t.Errorf("data = %v", resp.Data)
	}
}

func TestGetHistoryLimit(t *testing.T) {
	var gotLimit int
	h := NewHandler(testConfig(), newFakeClient(), CommandCallbacks{
		OnGetHistory: func(limit int) ([]map[string]interface{}, error) {
			gotLimit = limit
			return nil, nil
		},
	})

	h.execute(Command{Command: "get_history"})
	if gotLimit != 10 {
		t.Errorf("default limit = %d, want 10", gotLimit)
	}

	h.execute(Command{Command: "get_history", Params: map[string]interface{}{"limit": 3.0}})
	if gotLimit != 3 {
		t.Errorf("limit = %d, want 3", gotLimit)
	}
}

func TestShutdownRespondsBeforeCallback(t *testing.T) {
	shutdownAt := make(chan time.Time, 1)
	_, fc := startHandler(t, CommandCallbacks{
		OnShutdown: func() error {
			shutdownAt <- time.Now()
			return nil
		},
	})

	fc.deliver(t, "swcap/cam-01/control", `{"command": "shutdown"}`)

	resp := awaitResponse(t, fc)
	respondedAt := time.Now()
	if resp.Status != "success" || resp.Data["shutdown_initiated"] != true {
		t.Fatalf("response = %+v", resp)
	}

	select {
	case at := <-shutdownAt:
		if at.Before(respondedAt) {
			t.Error("shutdown callback ran before the response was sent")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback never invoked")
	}
}
