// Package gige defines the boundary between the acquisition core and the
// GigE Vision transport layer: device discovery and connection, typed
// parameter access by feature name, stream opening keyed by channel, and
// pooled-buffer pipelines with bounded retrieval.
//
// The package contains interfaces only. The daemon runs against either a
// vendor transport binding or the in-process simulator in gigesim; the
// acquisition core cannot tell them apart and is tested against the
// simulator.
//
// Buffer ownership contract: a Buffer obtained from Pipeline.Retrieve
// belongs to the pipeline's bounded pool. Callers must copy what they
// need and call Release before the next Retrieve on that pipeline;
// holding buffers exhausts the pool and stalls the device-side sender.
package gige

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"
)

// Sentinel errors callers branch on with errors.Is.
var (
	// ErrTimeout reports that no buffer arrived within the retrieve window.
	ErrTimeout = errors.New("gige: retrieve timeout")

	// ErrNotImage reports a buffer whose payload is not an image.
	ErrNotImage = errors.New("gige: payload is not an image")

	// ErrNotFound reports a feature name the device does not expose.
	ErrNotFound = errors.New("gige: parameter not found")

	// ErrWrongType reports a typed access against a feature of another type.
	ErrWrongType = errors.New("gige: parameter type mismatch")

	// ErrNotConnected reports an operation on a disconnected device.
	ErrNotConnected = errors.New("gige: device not connected")

	// ErrClosed reports an operation on a closed stream or pipeline.
	ErrClosed = errors.New("gige: stream closed")
)

// Device kinds reported by discovery.
const (
	KindGigE    = "GigE"
	KindUSB3    = "USB3"
	KindUnknown = "Unknown"
)

// DeviceInfo describes one discoverable device.
type DeviceInfo struct {
	ConnectionID string // opaque token used to connect / open streams
	DisplayID    string // human-readable name for logs and UIs
	Serial       string
	Model        string
	IP           string
	MAC          string
	Kind         string // KindGigE, KindUSB3 or KindUnknown
}

// Transport is the entry point to a GigE Vision implementation.
type Transport interface {
	// Find enumerates reachable devices on all interfaces.
	Find(ctx context.Context) ([]DeviceInfo, error)

	// Connect opens a control connection and negotiates transmission
	// parameters (packet size). The returned Device stays valid until
	// Disconnect.
	Connect(ctx context.Context, connectionID string) (Device, error)

	// OpenStream binds a local endpoint for one stream channel of a
	// connected device. Channel 0 is always valid; higher channels only
	// on multi-channel devices.
	OpenStream(ctx context.Context, connectionID string, channel int) (Stream, error)

	// CreatePipeline attaches a bounded buffer pool to an open stream.
	// bufferSize is normally the device payload size.
	CreatePipeline(s Stream, bufferSize int64, bufferCount int) (Pipeline, error)
}

// Device is an open control connection to one camera.
type Device interface {
	Info() DeviceInfo
	Params() Params

	// PayloadSize reports the byte size of one complete frame under the
	// current device configuration. Pooled buffers are sized to it.
	PayloadSize() (int64, error)

	// SetStreamDestination points one channel's data at a local endpoint.
	// Used for channel 0; channel 1 routing goes through the transport
	// layer registers instead (see acquire's route configuration).
	SetStreamDestination(ip string, port int, channel int) error

	StreamEnable() error
	StreamDisable() error

	Disconnect() error
}

// Params is typed access to a device's (or stream's) feature map.
// Names are GenICam feature names; unknown names return ErrNotFound,
// mismatched kinds return ErrWrongType.
type Params interface {
	Exists(name string) bool

	Integer(name string) (int64, error)
	SetInteger(name string, value int64) error

	Float(name string) (float64, error)
	SetFloat(name string, value float64) error

	Bool(name string) (bool, error)
	SetBool(name string, value bool) error

	String(name string) (string, error)
	SetString(name string, value string) error

	// Enum returns handle access to an enumerated feature, or ErrNotFound.
	Enum(name string) (Enum, error)

	// Execute triggers a command feature such as AcquisitionStart.
	Execute(name string) error
}

// Enum is one enumerated feature.
type Enum interface {
	EntryCount() (int, error)

	// Entries lists the selectable symbols without changing the current
	// selection.
	Entries() ([]string, error)

	Value() (int64, error)
	SetValue(value int64) error
	Symbol() (string, error)
	SetSymbol(symbol string) error
}

// Stream is one open stream channel bound to a local endpoint.
// Its Params expose the transport's running counters (AcquisitionRate,
// Bandwidth) used by the statistics aggregator.
type Stream interface {
	LocalIP() string
	LocalPort() int
	IsOpen() bool
	Params() Params
	Close() error
}

// Pipeline is the pooled-buffer reception machinery for one stream.
type Pipeline interface {
	// Start arms the pool. Idempotent.
	Start() error

	// Stop disarms the pool. Idempotent; stopping a stopped pipeline is
	// a no-op.
	Stop() error

	IsStarted() bool

	// Retrieve blocks up to timeout for one complete buffer. Returns
	// ErrTimeout when nothing arrived and ErrClosed after Stop/Close.
	Retrieve(timeout time.Duration) (Buffer, error)

	// Release returns a retrieved buffer to the pool. Must be called
	// exactly once per successful Retrieve.
	Release(b Buffer)
}

// Buffer is one pooled reception unit.
type Buffer interface {
	PayloadType() PayloadType

	// Image gives the decoded image view, or ErrNotImage for non-image
	// payloads. The view's Data aliases pooled memory and dies with
	// Release.
	Image() (Image, error)

	// Timestamp is the device clock tick count at exposure.
	Timestamp() uint64

	// BlockID is the per-channel monotonic frame counter assigned by the
	// device. Gaps mean lost frames, not errors.
	BlockID() uint64
}

// Image is the image view of a buffer.
type Image interface {
	Width() int
	Height() int
	PixelFormat() PixelFormat
	Data() []byte
}

// EncodeIPv4 converts a dotted-quad address to the transport's native
// big-endian 32-bit register representation.
func EncodeIPv4(addr string) (uint32, error) {
	a, err := netip.ParseAddr(addr)
	if err != nil || !a.Is4() {
		return 0, fmt.Errorf("gige: invalid IPv4 address %q", addr)
	}
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}
