package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenMissingFileUsesDefaults(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := s.DisplayRate(); got != DefaultDisplayRate {
		t.Errorf("DisplayRate = %v, want %v", got, DefaultDisplayRate)
	}
	if got := s.SaveDir(); got != "" {
		t.Errorf("SaveDir = %q, want empty", got)
	}
}

func TestCameraRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := Camera{ExposureTimeUs: 8000, GainDB: 3.5}
	if err := s.SetCamera("00:0c:df:05:aa:10", want); err != nil {
		t.Fatalf("SetCamera: %v", err)
	}

	// Reopen from disk, as the next daemon run would.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := s2.Camera("00:0c:df:05:aa:10")
	if !ok {
		t.Fatal("camera settings not persisted")
	}
	if got != want {
		t.Errorf("restored %+v, want %+v", got, want)
	}
	if _, ok := s2.Camera("ff:ff:ff:ff:ff:ff"); ok {
		t.Error("unknown MAC reported as present")
	}
}

func TestSaveDirValidatedOnRead(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "settings.yaml"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	captures := filepath.Join(dir, "captures")
	if err := os.MkdirAll(captures, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSaveDir(captures); err != nil {
		t.Fatalf("SetSaveDir: %v", err)
	}
	if got := s.SaveDir(); got != captures {
		t.Fatalf("SaveDir = %q, want %q", got, captures)
	}

	// A remembered directory that disappeared reads back as unset.
	if err := os.RemoveAll(captures); err != nil {
		t.Fatal(err)
	}
	if got := s.SaveDir(); got != "" {
		t.Errorf("SaveDir after removal = %q, want empty", got)
	}
}

func TestSetDisplayRateRejectsNonPositive(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, fps := range []float64{0, -1} {
		if err := s.SetDisplayRate(fps); err == nil {
			t.Errorf("SetDisplayRate(%v) accepted, want error", fps)
		}
	}
	if err := s.SetDisplayRate(30); err != nil {
		t.Fatalf("SetDisplayRate(30): %v", err)
	}
	if got := s.DisplayRate(); got != 30 {
		t.Errorf("DisplayRate = %v, want 30", got)
	}
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("\tnot yaml {{{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil || !strings.Contains(err.Error(), "parse") {
		t.Fatalf("Open corrupt file = %v, want parse error", err)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "settings.yaml"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SetCamera("aa:bb:cc:dd:ee:ff", Camera{ExposureTimeUs: 100}); err != nil {
		t.Fatalf("SetCamera: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".settings-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}
