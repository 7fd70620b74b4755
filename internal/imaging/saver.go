// Package imaging converts raw frames to stdlib images and writes
// capture snapshots to disk.
//
// A capture snapshot is one directory holding the full-color visible
// image, its three color planes as grayscale files, and the NIR image
// when a NIR frame is present:
//
//	5_channels_20250825_130501.123/
//	    full_rgb.png
//	    channel_r.png
//	    channel_g.png
//	    channel_b.png
//	    channel_nir.png
package imaging

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/types"
)

// timestampLayout names capture artifacts down to the millisecond so
// rapid snapshots never collide.
const timestampLayout = "20060102_150405.000"

// snapshot file names
const (
	FileFullRGB    = "full_rgb.png"
	FileChannelR   = "channel_r.png"
	FileChannelG   = "channel_g.png"
	FileChannelB   = "channel_b.png"
	FileChannelNIR = "channel_nir.png"
)

// SavedFile is one artifact written by a capture.
type SavedFile struct {
	Name  string `json:"name"`
	Bytes int64  `json:"bytes"`
}

// CaptureResult describes a completed capture on disk.
type CaptureResult struct {
	Dir   string      `json:"dir"`
	Files []SavedFile `json:"files"`
	Roles []string    `json:"roles"`
	Bytes int64       `json:"bytes"`
}

// Saver writes capture snapshots under a save directory.
//
// Thread-safe: can be called from multiple goroutines concurrently.
type Saver struct {
	saveDir  string
	captures atomic.Uint64
}

// NewSaver creates a capture saver rooted at saveDir. The directory is
// created if it doesn't exist.
func NewSaver(saveDir string) (*Saver, error) {
	if saveDir == "" {
		return nil, fmt.Errorf("imaging: save directory is required")
	}
	if err := os.MkdirAll(saveDir, 0755); err != nil {
		return nil, fmt.Errorf("imaging: failed to create save directory: %w", err)
	}
	return &Saver{saveDir: saveDir}, nil
}

// Dir returns the root save directory.
func (s *Saver) Dir() string {
	return s.saveDir
}

// CaptureCount returns how many captures this saver has written.
func (s *Saver) CaptureCount() uint64 {
	return s.captures.Load()
}

// SaveCapture writes one snapshot directory from the latest-frame
// snapshot. The visible frame is required; the NIR frame is optional
// and skipped when absent.
func (s *Saver) SaveCapture(snapshot map[types.ChannelRole]*types.Frame) (*CaptureResult, error) {
	rgb := snapshot[types.RoleVisible]
	if rgb == nil {
		return nil, fmt.Errorf("imaging: snapshot has no visible frame")
	}

	dirName := "5_channels_" + time.Now().Format(timestampLayout)
	dir := filepath.Join(s.saveDir, dirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("imaging: failed to create capture directory: %w", err)
	}

	full, err := ToImage(rgb)
	if err != nil {
		return nil, err
	}
	r, g, b, err := SplitPlanes(rgb)
	if err != nil {
		return nil, err
	}

	result := &CaptureResult{Dir: dir, Roles: []string{string(types.RoleVisible)}}
	planes := []struct {
		name string
		img  image.Image
	}{
		{FileFullRGB, full},
		{FileChannelR, r},
		{FileChannelG, g},
		{FileChannelB, b},
	}
	for _, p := range planes {
		if err := result.add(dir, p.name, p.img); err != nil {
			return nil, err
		}
	}

	if nir := snapshot[types.RoleNearInfrared]; nir != nil {
		gray, err := ToImage(nir)
		if err != nil {
			return nil, err
		}
		if err := result.add(dir, FileChannelNIR, gray); err != nil {
			return nil, err
		}
		result.Roles = append(result.Roles, string(types.RoleNearInfrared))
	}

	s.captures.Add(1)
	return result, nil
}

func (c *CaptureResult) add(dir, name string, img image.Image) error {
	n, err := writePNG(filepath.Join(dir, name), img)
	if err != nil {
		return err
	}
	c.Files = append(c.Files, SavedFile{Name: name, Bytes: n})
	c.Bytes += n
	return nil
}

func writePNG(path string, img image.Image) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("imaging: failed to create %s: %w", filepath.Base(path), err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return 0, fmt.Errorf("imaging: PNG encode of %s failed: %w", filepath.Base(path), err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, fmt.Errorf("imaging: stat %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("imaging: close %s: %w", filepath.Base(path), err)
	}
	return fi.Size(), nil
}

// SequenceSaver writes individual numbered frames for burst capture.
//
// Filename format: {prefix}_{seq:06d}_{timestamp}.{ext}
// Example: frame_000001_20250825_130501.123.png
//
// Thread-safe: safe to call from multiple goroutines.
type SequenceSaver struct {
	outputDir   string
	prefix      string
	format      string
	jpegQuality int
	seq         atomic.Uint64
	saved       atomic.Uint64
	dropped     atomic.Uint64
}

// NewSequenceSaver creates a numbered-frame writer with given output
// directory and format.
//
// Format: "png" or "jpeg"
// JPEGQuality: 1-100 (only used for JPEG)
func NewSequenceSaver(outputDir, prefix, format string, jpegQuality int) (*SequenceSaver, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("imaging: failed to create output directory: %w", err)
	}
	if format != "png" && format != "jpeg" {
		return nil, fmt.Errorf("imaging: unsupported format: %s (must be png or jpeg)", format)
	}
	if prefix == "" {
		prefix = "frame"
	}
	return &SequenceSaver{
		outputDir:   outputDir,
		prefix:      prefix,
		format:      format,
		jpegQuality: jpegQuality,
	}, nil
}

// SaveNext writes one frame under the next sequence number and returns
// the file path.
func (ss *SequenceSaver) SaveNext(frame *types.Frame) (string, error) {
	img, err := ToImage(frame)
	if err != nil {
		ss.dropped.Add(1)
		return "", err
	}

	n := ss.seq.Add(1)
	filename := fmt.Sprintf("%s_%06d_%s.%s",
		ss.prefix, n, frame.ReceivedAt.Format(timestampLayout), ss.format)
	path := filepath.Join(ss.outputDir, filename)

	f, err := os.Create(path)
	if err != nil {
		ss.dropped.Add(1)
		return "", fmt.Errorf("imaging: failed to create file: %w", err)
	}
	defer f.Close()

	switch ss.format {
	case "png":
		if err := png.Encode(f, img); err != nil {
			ss.dropped.Add(1)
			return "", fmt.Errorf("imaging: PNG encode failed: %w", err)
		}
	case "jpeg":
		if err := jpeg.Encode(f, img, &jpeg.Options{Quality: ss.jpegQuality}); err != nil {
			ss.dropped.Add(1)
			return "", fmt.Errorf("imaging: JPEG encode failed: %w", err)
		}
	}

	ss.saved.Add(1)
	return path, nil
}

// Stats returns frames saved and dropped so far.
func (ss *SequenceSaver) Stats() (saved, dropped uint64) {
	return ss.saved.Load(), ss.dropped.Load()
}
