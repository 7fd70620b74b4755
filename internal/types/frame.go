// Package types holds the domain types shared across the acquisition
// service: frames, channel descriptors, session state, statistics and
// bus events.
package types

import (
	"time"

	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/gige"
)

// ChannelRole is the semantic identity of a stream channel.
type ChannelRole string

const (
	// RoleVisible is the visible-light channel (channel 0, RGB).
	RoleVisible ChannelRole = "rgb"

	// RoleNearInfrared is the near-infrared channel (channel 1, Mono8).
	RoleNearInfrared ChannelRole = "nir"
)

// ChannelDescriptor pairs a stream channel index with its role.
// Immutable once discovered; discarded on disconnect.
type ChannelDescriptor struct {
	Index int         `json:"index"`
	Role  ChannelRole `json:"role"`
}

// Frame is one retrieved image unit. Data is owned by the frame: the
// payload is copied out of the pipeline's pooled buffer at retrieval
// time, so a Frame stays valid for as long as anyone holds it.
//
// Seq is the device-assigned per-channel block ID. It is non-decreasing
// per channel; gaps mean lost frames and are never an error.
type Frame struct {
	Data        []byte
	Width       int
	Height      int
	PixelFormat gige.PixelFormat
	Timestamp   uint64 // device clock ticks at exposure
	Seq         uint64
	Role        ChannelRole
	ReceivedAt  time.Time
	TraceID     string
}
