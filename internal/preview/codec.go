package preview

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/imaging"
	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/types"
)

// frameMessage is the binary envelope sent to preview clients.
// MsgPack keeps the JPEG payload as raw bytes without base64 overhead.
type frameMessage struct {
	Role       string `msgpack:"role"`
	Seq        uint64 `msgpack:"seq"`
	DeviceTS   uint64 `msgpack:"device_timestamp"`
	WallTimeNs int64  `msgpack:"wall_time_ns"`
	Width      int    `msgpack:"width"`
	Height     int    `msgpack:"height"`
	Format     string `msgpack:"format"`
	Data       []byte `msgpack:"data"`
}

// encodeFrame converts a raw frame to a JPEG and wraps it in the wire
// envelope.
func encodeFrame(frame *types.Frame, quality int) ([]byte, error) {
	img, err := imaging.ToImage(frame)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("preview: JPEG encode failed: %w", err)
	}

	wall := frame.ReceivedAt
	if wall.IsZero() {
		wall = time.Now()
	}

	msg := frameMessage{
		Role:       string(frame.Role),
		Seq:        frame.Seq,
		DeviceTS:   frame.Timestamp,
		WallTimeNs: wall.UnixNano(),
		Width:      frame.Width,
		Height:     frame.Height,
		Format:     "jpeg",
		Data:       buf.Bytes(),
	}

	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("preview: failed to marshal frame envelope: %w", err)
	}
	return payload, nil
}
