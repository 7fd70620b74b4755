package imaging

import (
	"fmt"
	"image"

	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/gige"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/types"
)

// ToImage converts a frame's raw payload to a stdlib image. RGB8 and
// BGR8 become RGBA (alpha forced opaque), Mono8 becomes Gray.
func ToImage(frame *types.Frame) (image.Image, error) {
	if frame == nil {
		return nil, fmt.Errorf("imaging: nil frame")
	}

	switch frame.PixelFormat {
	case gige.PixelRGB8, gige.PixelBGR8:
		return packedToRGBA(frame)
	case gige.PixelMono8:
		return monoToGray(frame)
	default:
		return nil, fmt.Errorf("imaging: unsupported pixel format %s", frame.PixelFormat)
	}
}

// packedToRGBA converts 3-byte interleaved color to image.RGBA with an
// opaque alpha channel.
func packedToRGBA(frame *types.Frame) (*image.RGBA, error) {
	expected := frame.Width * frame.Height * 3
	if len(frame.Data) != expected {
		return nil, fmt.Errorf("imaging: invalid %s data size: got %d, expected %d",
			frame.PixelFormat, len(frame.Data), expected)
	}

	// BGR8 stores blue first.
	ri, bi := 0, 2
	if frame.PixelFormat == gige.PixelBGR8 {
		ri, bi = 2, 0
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i := 0; i < frame.Width*frame.Height; i++ {
		img.Pix[i*4+0] = frame.Data[i*3+ri]
		img.Pix[i*4+1] = frame.Data[i*3+1]
		img.Pix[i*4+2] = frame.Data[i*3+bi]
		img.Pix[i*4+3] = 255
	}
	return img, nil
}

func monoToGray(frame *types.Frame) (*image.Gray, error) {
	expected := frame.Width * frame.Height
	if len(frame.Data) != expected {
		return nil, fmt.Errorf("imaging: invalid Mono8 data size: got %d, expected %d",
			len(frame.Data), expected)
	}

	img := image.NewGray(image.Rect(0, 0, frame.Width, frame.Height))
	copy(img.Pix, frame.Data)
	return img, nil
}

// SplitPlanes separates an interleaved color frame into r, g and b
// grayscale planes.
func SplitPlanes(frame *types.Frame) (r, g, b *image.Gray, err error) {
	expected := frame.Width * frame.Height * 3
	if len(frame.Data) != expected {
		return nil, nil, nil, fmt.Errorf("imaging: invalid color data size: got %d, expected %d",
			len(frame.Data), expected)
	}

	ri, bi := 0, 2
	if frame.PixelFormat == gige.PixelBGR8 {
		ri, bi = 2, 0
	}

	rect := image.Rect(0, 0, frame.Width, frame.Height)
	r, g, b = image.NewGray(rect), image.NewGray(rect), image.NewGray(rect)
	for i := 0; i < frame.Width*frame.Height; i++ {
		r.Pix[i] = frame.Data[i*3+ri]
		g.Pix[i] = frame.Data[i*3+1]
		b.Pix[i] = frame.Data[i*3+bi]
	}
	return r, g, b, nil
}
