// Package camera manages the control connection to one device: finding
// devices, connecting, stream channel discovery and a typed facade over
// the GenICam feature map. One Manager owns at most one device at a
// time, matching how the daemon runs.
package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/gige"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/settings"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/types"
)

// ErrAlreadyConnected reports a Connect while a device is held.
var ErrAlreadyConnected = errors.New("camera: already connected, disconnect first")

// Manager owns the control connection lifecycle for one camera.
type Manager struct {
	transport gige.Transport
	store     *settings.Store // optional; nil disables remembered settings

	mu       sync.Mutex
	dev      gige.Device
	info     gige.DeviceInfo
	channels []types.ChannelDescriptor
}

// NewManager builds a manager over a transport. The settings store is
// optional; when present, remembered per-camera parameters are applied
// on connect and updated on set.
func NewManager(transport gige.Transport, store *settings.Store) (*Manager, error) {
	if transport == nil {
		return nil, fmt.Errorf("camera: transport is required")
	}
	return &Manager{transport: transport, store: store}, nil
}

// Find enumerates reachable devices.
func (m *Manager) Find(ctx context.Context) ([]gige.DeviceInfo, error) {
	infos, err := m.transport.Find(ctx)
	if err != nil {
		return nil, fmt.Errorf("camera: find devices: %w", err)
	}
	slog.Debug("camera: device scan complete", "count", len(infos))
	return infos, nil
}

// Connect opens the control connection, discovers the channel layout
// and applies any remembered parameters for this camera's MAC. Packet
// size negotiation happens inside the transport connect.
func (m *Manager) Connect(ctx context.Context, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dev != nil {
		return ErrAlreadyConnected
	}

	dev, err := m.transport.Connect(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("camera: connect %s: %w", connectionID, err)
	}

	m.dev = dev
	m.info = dev.Info()
	m.channels = Discover(dev)

	slog.Info("camera: connected",
		"device", m.info.DisplayID,
		"model", m.info.Model,
		"mac", m.info.MAC,
		"channels", len(m.channels))

	m.applyRemembered()
	return nil
}

// applyRemembered writes stored exposure/gain for this MAC to the
// device. Failures are logged; a camera that rejects a remembered value
// still connects. Callers hold m.mu.
func (m *Manager) applyRemembered() {
	if m.store == nil || m.info.MAC == "" {
		return
	}
	cs, ok := m.store.Camera(m.info.MAC)
	if !ok {
		return
	}

	params := m.dev.Params()
	if cs.ExposureTimeUs > 0 {
		if err := params.SetFloat(gige.ParamExposureTime, cs.ExposureTimeUs); err != nil {
			slog.Warn("camera: restore exposure failed", "mac", m.info.MAC, "error", err)
		}
	}
	if err := setGainParam(params, cs.GainDB); err != nil {
		slog.Warn("camera: restore gain failed", "mac", m.info.MAC, "error", err)
	}
	slog.Info("camera: remembered settings applied",
		"mac", m.info.MAC,
		"exposure_us", cs.ExposureTimeUs,
		"gain_db", cs.GainDB)
}

// Disconnect releases the device. Idempotent.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dev == nil {
		return nil
	}
	err := m.dev.Disconnect()
	m.dev = nil
	m.channels = nil
	if err != nil {
		return fmt.Errorf("camera: disconnect: %w", err)
	}
	slog.Info("camera: disconnected", "device", m.info.DisplayID)
	return nil
}

// Connected reports whether a device is held.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dev != nil
}

// Device returns the held device, or nil.
func (m *Manager) Device() gige.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dev
}

// Info returns the held device's identity.
func (m *Manager) Info() (gige.DeviceInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info, m.dev != nil
}

// Channels returns the discovered channel layout.
func (m *Manager) Channels() []types.ChannelDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ChannelDescriptor, len(m.channels))
	copy(out, m.channels)
	return out
}

// DualChannel reports whether discovery found the near-infrared tap.
func (m *Manager) DualChannel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels) > 1
}

func (m *Manager) params() (gige.Params, gige.DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev == nil {
		return nil, gige.DeviceInfo{}, gige.ErrNotConnected
	}
	return m.dev.Params(), m.info, nil
}

// ExposureTime reads the exposure time in microseconds.
func (m *Manager) ExposureTime() (float64, error) {
	p, _, err := m.params()
	if err != nil {
		return 0, err
	}
	return p.Float(gige.ParamExposureTime)
}

// SetExposureTime writes the exposure time in microseconds and updates
// the remembered value for this camera.
func (m *Manager) SetExposureTime(us float64) error {
	if us <= 0 {
		return fmt.Errorf("camera: exposure must be positive, got %v", us)
	}
	p, info, err := m.params()
	if err != nil {
		return err
	}
	if err := p.SetFloat(gige.ParamExposureTime, us); err != nil {
		return fmt.Errorf("camera: set exposure: %w", err)
	}
	m.remember(info.MAC, func(c *settings.Camera) { c.ExposureTimeUs = us })
	return nil
}

// Gain reads the gain in dB. Firmware without the float Gain feature
// reports the integer GainRaw instead.
func (m *Manager) Gain() (float64, error) {
	p, _, err := m.params()
	if err != nil {
		return 0, err
	}
	if v, err := p.Float(gige.ParamGain); err == nil {
		return v, nil
	}
	raw, err := p.Integer(gige.ParamGainRaw)
	if err != nil {
		return 0, fmt.Errorf("camera: read gain: %w", err)
	}
	return float64(raw), nil
}

// SetGain writes the gain and updates the remembered value. Falls back
// to the integer GainRaw feature when float Gain is absent.
func (m *Manager) SetGain(db float64) error {
	p, info, err := m.params()
	if err != nil {
		return err
	}
	if err := setGainParam(p, db); err != nil {
		return err
	}
	m.remember(info.MAC, func(c *settings.Camera) { c.GainDB = db })
	return nil
}

func setGainParam(p gige.Params, db float64) error {
	if err := p.SetFloat(gige.ParamGain, db); err == nil {
		return nil
	}
	if err := p.SetInteger(gige.ParamGainRaw, int64(db)); err != nil {
		return fmt.Errorf("camera: set gain: %w", err)
	}
	return nil
}

// remember merges one field into the stored per-camera settings.
// Storage failures are logged, never propagated; the device write
// already succeeded.
func (m *Manager) remember(mac string, update func(*settings.Camera)) {
	if m.store == nil || mac == "" {
		return
	}
	cs, _ := m.store.Camera(mac)
	update(&cs)
	if err := m.store.SetCamera(mac, cs); err != nil {
		slog.Warn("camera: persist settings failed", "mac", mac, "error", err)
	}
}

// SensorSize reads the configured image width and height.
func (m *Manager) SensorSize() (width, height int, err error) {
	p, _, err := m.params()
	if err != nil {
		return 0, 0, err
	}
	w, err := p.Integer(gige.ParamWidth)
	if err != nil {
		return 0, 0, fmt.Errorf("camera: read width: %w", err)
	}
	h, err := p.Integer(gige.ParamHeight)
	if err != nil {
		return 0, 0, fmt.Errorf("camera: read height: %w", err)
	}
	return int(w), int(h), nil
}

// PixelFormat reads the current pixel format symbol.
func (m *Manager) PixelFormat() (string, error) {
	p, _, err := m.params()
	if err != nil {
		return "", err
	}
	e, err := p.Enum(gige.ParamPixelFormat)
	if err != nil {
		return "", fmt.Errorf("camera: read pixel format: %w", err)
	}
	return e.Symbol()
}

// Parameter reads any feature by name, trying each GenICam kind in
// turn. Enumerations read as their symbol string.
func (m *Manager) Parameter(name string) (any, error) {
	p, _, err := m.params()
	if err != nil {
		return nil, err
	}
	if !p.Exists(name) {
		return nil, fmt.Errorf("camera: parameter %q: %w", name, gige.ErrNotFound)
	}
	if v, err := p.Integer(name); err == nil {
		return v, nil
	}
	if v, err := p.Float(name); err == nil {
		return v, nil
	}
	if v, err := p.Bool(name); err == nil {
		return v, nil
	}
	if v, err := p.String(name); err == nil {
		return v, nil
	}
	if e, err := p.Enum(name); err == nil {
		return e.Symbol()
	}
	return nil, fmt.Errorf("camera: parameter %q is not readable", name)
}

// SetParameter writes any feature by name, dispatching on the value's
// Go type. JSON-decoded numbers arrive as float64 and fall back to an
// integer write when the feature is not a float.
func (m *Manager) SetParameter(name string, value any) error {
	p, _, err := m.params()
	if err != nil {
		return err
	}

	switch v := value.(type) {
	case int:
		return p.SetInteger(name, int64(v))
	case int64:
		return p.SetInteger(name, v)
	case float64:
		if err := p.SetFloat(name, v); err == nil {
			return nil
		}
		return p.SetInteger(name, int64(v))
	case bool:
		return p.SetBool(name, v)
	case string:
		if e, err := p.Enum(name); err == nil {
			return e.SetSymbol(v)
		}
		return p.SetString(name, v)
	default:
		return fmt.Errorf("camera: parameter %q: unsupported value type %T", name, value)
	}
}

// EnumEntries lists the selectable symbols of an enumerated feature.
func (m *Manager) EnumEntries(name string) ([]string, error) {
	p, _, err := m.params()
	if err != nil {
		return nil, err
	}
	e, err := p.Enum(name)
	if err != nil {
		return nil, fmt.Errorf("camera: enum %q: %w", name, err)
	}
	entries, err := e.Entries()
	if err != nil {
		return nil, fmt.Errorf("camera: enum %q entries: %w", name, err)
	}
	return entries, nil
}
