// Package settings persists operator preferences across runs: the
// capture save directory, the preview display rate and per-camera
// exposure/gain keyed by MAC address. Stored as one YAML file, written
// atomically, safe for concurrent use.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultDisplayRate is the preview rate used until an operator changes it.
const DefaultDisplayRate = 15.0

// Camera holds the remembered acquisition parameters for one camera.
type Camera struct {
	ExposureTimeUs float64 `yaml:"exposure_time_us"`
	GainDB         float64 `yaml:"gain_db"`
}

type fileData struct {
	SaveDir     string            `yaml:"save_dir"`
	DisplayRate float64           `yaml:"display_rate"`
	Cameras     map[string]Camera `yaml:"cameras"`
}

// Store is a thread-safe settings file. Mutating accessors persist
// immediately so a crash never loses an operator change.
type Store struct {
	path string

	mu sync.RWMutex
	d  fileData
}

// DefaultPath returns ~/.swcap/settings.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("settings: resolve home: %w", err)
	}
	return filepath.Join(home, ".swcap", "settings.yaml"), nil
}

// Open loads the store at path, starting from defaults when the file
// does not exist yet. A present but unparsable file is an error rather
// than a silent reset.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("settings: path is required")
	}

	s := &Store{
		path: path,
		d: fileData{
			DisplayRate: DefaultDisplayRate,
			Cameras:     make(map[string]Camera),
		},
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &s.d); err != nil {
		return nil, fmt.Errorf("settings: parse %s: %w", path, err)
	}
	if s.d.DisplayRate <= 0 {
		s.d.DisplayRate = DefaultDisplayRate
	}
	if s.d.Cameras == nil {
		s.d.Cameras = make(map[string]Camera)
	}
	return s, nil
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// SaveDir returns the remembered capture directory, or "" when none is
// set or the remembered one no longer exists on disk.
func (s *Store) SaveDir() string {
	s.mu.RLock()
	dir := s.d.SaveDir
	s.mu.RUnlock()

	if dir == "" {
		return ""
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return ""
	}
	return dir
}

// SetSaveDir remembers the capture directory and persists.
func (s *Store) SetSaveDir(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.SaveDir = dir
	return s.save()
}

// DisplayRate returns the remembered preview rate in frames per second.
func (s *Store) DisplayRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.d.DisplayRate
}

// SetDisplayRate remembers the preview rate and persists. Non-positive
// rates are rejected.
func (s *Store) SetDisplayRate(fps float64) error {
	if fps <= 0 {
		return fmt.Errorf("settings: display rate must be positive, got %v", fps)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.DisplayRate = fps
	return s.save()
}

// Camera returns the remembered parameters for a MAC address.
func (s *Store) Camera(mac string) (Camera, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.d.Cameras[mac]
	return c, ok
}

// SetCamera remembers parameters for a MAC address and persists.
func (s *Store) SetCamera(mac string, c Camera) error {
	if mac == "" {
		return errors.New("settings: camera MAC is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.Cameras[mac] = c
	return s.save()
}

// save writes the file atomically: marshal, write a temp file next to
// the target, rename over it. Callers hold s.mu.
func (s *Store) save() error {
	raw, err := yaml.Marshal(&s.d)
	if err != nil {
		return fmt.Errorf("settings: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("settings: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("settings: temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("settings: write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("settings: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("settings: replace %s: %w", s.path, err)
	}
	return nil
}
