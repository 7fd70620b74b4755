package gige

import "fmt"

// PixelFormat is a GenICam PFNC pixel format code. Bits 16..23 carry the
// bits-per-pixel count, which is all the acquisition core needs to size
// and split payloads.
type PixelFormat uint32

const (
	PixelUnknown PixelFormat = 0

	PixelMono8    PixelFormat = 0x01080001
	PixelBayerRG8 PixelFormat = 0x01080009
	PixelRGB8     PixelFormat = 0x02180014
	PixelBGR8     PixelFormat = 0x02180015
)

// BitsPerPixel extracts the PFNC size field.
func (p PixelFormat) BitsPerPixel() int {
	return int(p>>16) & 0xff
}

// BytesPerPixel rounds BitsPerPixel up to whole bytes.
func (p PixelFormat) BytesPerPixel() int {
	return (p.BitsPerPixel() + 7) / 8
}

func (p PixelFormat) String() string {
	switch p {
	case PixelMono8:
		return "Mono8"
	case PixelBayerRG8:
		return "BayerRG8"
	case PixelRGB8:
		return "RGB8"
	case PixelBGR8:
		return "BGR8"
	case PixelUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("PFNC(0x%08x)", uint32(p))
	}
}

// PayloadType classifies what a retrieved buffer carries.
type PayloadType int

const (
	PayloadUnknown PayloadType = iota
	PayloadImage
	PayloadChunk
	PayloadRaw
)

func (t PayloadType) String() string {
	switch t {
	case PayloadImage:
		return "image"
	case PayloadChunk:
		return "chunk"
	case PayloadRaw:
		return "raw"
	default:
		return "unknown"
	}
}
