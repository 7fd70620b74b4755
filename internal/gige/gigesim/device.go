package gigesim

import (
	"fmt"
	"sync"

	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/gige"
)

// RegisterWrite is one journaled integer write, kept so tests can assert
// write ordering (selector before port before address, restore last).
type RegisterWrite struct {
	Name  string
	Value int64
}

// Destination is one journaled SetStreamDestination call.
type Destination struct {
	IP      string
	Port    int
	Channel int
}

// Device is a simulated camera control connection.
type Device struct {
	cfg *DeviceConfig

	mu            sync.Mutex
	params        *paramTable
	isConnected   bool
	streamEnabled bool
	acquiring     bool
	writes        []RegisterWrite
	destinations  []Destination
}

func newSimDevice(cfg *DeviceConfig) *Device {
	d := &Device{cfg: cfg, isConnected: true}

	payload := int64(cfg.Width * cfg.Height * 3)

	t := newParamTable(cfg.FailWrites)
	t.ints[gige.ParamPayloadSize] = payload
	t.ints[gige.ParamWidth] = int64(cfg.Width)
	t.ints[gige.ParamHeight] = int64(cfg.Height)
	t.floats[gige.ParamExposureTime] = 5000 // microseconds
	if cfg.GainRawOnly {
		t.ints[gige.ParamGainRaw] = 100
	} else {
		t.floats[gige.ParamGain] = 0
	}
	t.enums[gige.ParamPixelFormat] = &enumFeature{name: gige.ParamPixelFormat, entries: []string{"RGB8"}, table: t}

	if cfg.SelectorEntries != SelectorAbsent {
		entries := make([]string, cfg.SelectorEntries)
		for i := range entries {
			entries[i] = fmt.Sprintf("Channel%d", i)
		}
		t.enums[gige.ParamChannelSelector] = &enumFeature{name: gige.ParamChannelSelector, entries: entries, table: t}
	} else if cfg.ProbeWritable {
		t.dynamic[gige.ParamChannelSelector] = true
	}

	// Channel-1 routing registers exist on dual-channel firmware.
	if cfg.SelectorEntries > 1 || cfg.ProbeWritable {
		t.ints[gige.ParamHostPort] = 0
		t.ints[gige.ParamDestAddress] = 0
	}

	t.cmds[gige.ParamAcquisitionStart] = func() error {
		if cfg.FailAcqStart {
			return fmt.Errorf("gigesim: AcquisitionStart refused")
		}
		d.mu.Lock()
		d.acquiring = true
		d.mu.Unlock()
		return nil
	}
	t.cmds[gige.ParamAcquisitionStop] = func() error {
		d.mu.Lock()
		d.acquiring = false
		d.mu.Unlock()
		return nil
	}

	t.onWrite = d.journal
	d.params = t
	return d
}

func (d *Device) journal(name string, value int64) {
	d.mu.Lock()
	d.writes = append(d.writes, RegisterWrite{Name: name, Value: value})
	d.mu.Unlock()
}

func (d *Device) connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isConnected
}

func (d *Device) armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isConnected && d.streamEnabled && d.acquiring
}

// Info implements gige.Device.
func (d *Device) Info() gige.DeviceInfo { return d.cfg.Info }

// Params implements gige.Device.
func (d *Device) Params() gige.Params { return d.params }

// PayloadSize implements gige.Device.
func (d *Device) PayloadSize() (int64, error) {
	if !d.connected() {
		return 0, gige.ErrNotConnected
	}
	return d.params.Integer(gige.ParamPayloadSize)
}

// SetStreamDestination implements gige.Device.
func (d *Device) SetStreamDestination(ip string, port int, channel int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isConnected {
		return gige.ErrNotConnected
	}
	d.destinations = append(d.destinations, Destination{IP: ip, Port: port, Channel: channel})
	return nil
}

// StreamEnable implements gige.Device.
func (d *Device) StreamEnable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isConnected {
		return gige.ErrNotConnected
	}
	d.streamEnabled = true
	return nil
}

// StreamDisable implements gige.Device.
func (d *Device) StreamDisable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isConnected {
		return gige.ErrNotConnected
	}
	d.streamEnabled = false
	return nil
}

// Disconnect implements gige.Device.
func (d *Device) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.isConnected = false
	d.streamEnabled = false
	d.acquiring = false
	return nil
}

// RegisterWrites returns the journaled integer writes in order.
func (d *Device) RegisterWrites() []RegisterWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]RegisterWrite, len(d.writes))
	copy(out, d.writes)
	return out
}

// Destinations returns the journaled SetStreamDestination calls.
func (d *Device) Destinations() []Destination {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Destination, len(d.destinations))
	copy(out, d.destinations)
	return out
}

// SelectorValue reads the current channel selector position through
// whichever access the device exposes.
func (d *Device) SelectorValue() (int64, error) {
	if e, err := d.params.Enum(gige.ParamChannelSelector); err == nil {
		return e.Value()
	}
	return d.params.Integer(gige.ParamChannelSelector)
}

// AcquisitionActive reports whether AcquisitionStart has been executed
// without a matching stop.
func (d *Device) AcquisitionActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquiring
}

// StreamingEnabled reports the stream-enable flag.
func (d *Device) StreamingEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streamEnabled
}

// paramTable is a typed feature map implementing gige.Params.
type paramTable struct {
	mu      sync.Mutex
	ints    map[string]int64
	floats  map[string]float64
	bools   map[string]bool
	strs    map[string]string
	enums   map[string]*enumFeature
	cmds    map[string]func() error
	dynamic map[string]bool // names accepting integer writes without an entry

	failWrites map[string]bool
	onWrite    func(name string, value int64)
}

func newParamTable(failWrites map[string]bool) *paramTable {
	return &paramTable{
		ints:       make(map[string]int64),
		floats:     make(map[string]float64),
		bools:      make(map[string]bool),
		strs:       make(map[string]string),
		enums:      make(map[string]*enumFeature),
		cmds:       make(map[string]func() error),
		dynamic:    make(map[string]bool),
		failWrites: failWrites,
	}
}

func (t *paramTable) Exists(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ints[name]; ok {
		return true
	}
	if _, ok := t.floats[name]; ok {
		return true
	}
	if _, ok := t.bools[name]; ok {
		return true
	}
	if _, ok := t.strs[name]; ok {
		return true
	}
	if _, ok := t.enums[name]; ok {
		return true
	}
	_, ok := t.cmds[name]
	return ok
}

func (t *paramTable) Integer(name string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.ints[name]; ok {
		return v, nil
	}
	if _, ok := t.enums[name]; ok {
		return 0, fmt.Errorf("gigesim: %s: %w", name, gige.ErrWrongType)
	}
	return 0, fmt.Errorf("gigesim: %s: %w", name, gige.ErrNotFound)
}

func (t *paramTable) SetInteger(name string, value int64) error {
	t.mu.Lock()
	if t.failWrites[name] {
		t.mu.Unlock()
		return fmt.Errorf("gigesim: write %s refused", name)
	}
	if _, ok := t.enums[name]; ok {
		t.mu.Unlock()
		return fmt.Errorf("gigesim: %s: %w", name, gige.ErrWrongType)
	}
	_, exists := t.ints[name]
	if !exists && !t.dynamic[name] {
		t.mu.Unlock()
		return fmt.Errorf("gigesim: %s: %w", name, gige.ErrNotFound)
	}
	t.ints[name] = value
	hook := t.onWrite
	t.mu.Unlock()

	if hook != nil {
		hook(name, value)
	}
	return nil
}

func (t *paramTable) Float(name string) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.floats[name]; ok {
		return v, nil
	}
	if _, ok := t.ints[name]; ok {
		return 0, fmt.Errorf("gigesim: %s: %w", name, gige.ErrWrongType)
	}
	return 0, fmt.Errorf("gigesim: %s: %w", name, gige.ErrNotFound)
}

func (t *paramTable) SetFloat(name string, value float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failWrites[name] {
		return fmt.Errorf("gigesim: write %s refused", name)
	}
	if _, ok := t.floats[name]; !ok {
		return fmt.Errorf("gigesim: %s: %w", name, gige.ErrNotFound)
	}
	t.floats[name] = value
	return nil
}

func (t *paramTable) Bool(name string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.bools[name]; ok {
		return v, nil
	}
	return false, fmt.Errorf("gigesim: %s: %w", name, gige.ErrNotFound)
}

func (t *paramTable) SetBool(name string, value bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failWrites[name] {
		return fmt.Errorf("gigesim: write %s refused", name)
	}
	if _, ok := t.bools[name]; !ok {
		return fmt.Errorf("gigesim: %s: %w", name, gige.ErrNotFound)
	}
	t.bools[name] = value
	return nil
}

func (t *paramTable) String(name string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.strs[name]; ok {
		return v, nil
	}
	return "", fmt.Errorf("gigesim: %s: %w", name, gige.ErrNotFound)
}

func (t *paramTable) SetString(name string, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failWrites[name] {
		return fmt.Errorf("gigesim: write %s refused", name)
	}
	if _, ok := t.strs[name]; !ok {
		return fmt.Errorf("gigesim: %s: %w", name, gige.ErrNotFound)
	}
	t.strs[name] = value
	return nil
}

func (t *paramTable) Enum(name string) (gige.Enum, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.enums[name]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("gigesim: %s: %w", name, gige.ErrNotFound)
}

func (t *paramTable) Execute(name string) error {
	t.mu.Lock()
	cmd, ok := t.cmds[name]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("gigesim: %s: %w", name, gige.ErrNotFound)
	}
	return cmd()
}

// enumFeature implements gige.Enum over a fixed entry list. The entry
// list is immutable; the current value shares the owning table's lock.
type enumFeature struct {
	name    string
	entries []string
	value   int64
	table   *paramTable
}

func (e *enumFeature) EntryCount() (int, error) { return len(e.entries), nil }

func (e *enumFeature) Entries() ([]string, error) {
	out := make([]string, len(e.entries))
	copy(out, e.entries)
	return out, nil
}

func (e *enumFeature) Value() (int64, error) {
	e.table.mu.Lock()
	defer e.table.mu.Unlock()
	return e.value, nil
}

func (e *enumFeature) SetValue(value int64) error {
	e.table.mu.Lock()
	if e.table.failWrites[e.name] {
		e.table.mu.Unlock()
		return fmt.Errorf("gigesim: write %s refused", e.name)
	}
	if value < 0 || value >= int64(len(e.entries)) {
		e.table.mu.Unlock()
		return fmt.Errorf("gigesim: %s: entry %d out of range", e.name, value)
	}
	e.value = value
	hook := e.table.onWrite
	e.table.mu.Unlock()

	if hook != nil {
		hook(e.name, value)
	}
	return nil
}

func (e *enumFeature) Symbol() (string, error) {
	e.table.mu.Lock()
	defer e.table.mu.Unlock()
	return e.entries[e.value], nil
}

func (e *enumFeature) SetSymbol(symbol string) error {
	for i, s := range e.entries {
		if s == symbol {
			return e.SetValue(int64(i))
		}
	}
	return fmt.Errorf("gigesim: %s: no entry %q", e.name, symbol)
}
