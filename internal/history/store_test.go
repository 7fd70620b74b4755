package history

import (
	"path/filepath"
	"testing"
	"time"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "captures.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openStore(t)

	base := time.Date(2025, 8, 25, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		id, err := s.Record(&Entry{
			CaptureID: "cap-" + string(rune('a'+i)),
			SessionID: "session-1",
			TakenAt:   base.Add(time.Duration(i) * time.Minute),
			Dir:       "/data/5_channels_x",
			Roles:     []string{"rgb", "nir"},
			Bytes:     1024,
		})
		if err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
		if id <= 0 {
			t.Fatalf("Record %d returned id %d", i, id)
		}
	}

	entries, err := s.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recent(2) returned %d entries", len(entries))
	}
	// Newest first.
	if entries[0].CaptureID != "cap-c" || entries[1].CaptureID != "cap-b" {
		t.Errorf("order = [%s %s], want [cap-c cap-b]", entries[0].CaptureID, entries[1].CaptureID)
	}
	if len(entries[0].Roles) != 2 || entries[0].Roles[0] != "rgb" || entries[0].Roles[1] != "nir" {
		t.Errorf("roles = %v, want [rgb nir]", entries[0].Roles)
	}
	if !entries[0].TakenAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("taken_at = %v, want %v", entries[0].TakenAt, base.Add(2*time.Minute))
	}

	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestRecentOnEmptyStore(t *testing.T) {
	s := openStore(t)

	entries, err := s.Recent(5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Recent on empty store returned %d entries", len(entries))
	}
}

func TestDuplicateCaptureIDRejected(t *testing.T) {
	s := openStore(t)

	e := &Entry{CaptureID: "same", SessionID: "s", TakenAt: time.Now(), Dir: "/d", Roles: []string{"rgb"}}
	if _, err := s.Record(e); err != nil {
		t.Fatalf("first Record: %v", err)
	}
	if _, err := s.Record(e); err == nil {
		t.Fatal("duplicate capture_id should be rejected")
	}
}

func TestSchemaSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "captures.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Record(&Entry{CaptureID: "c1", SessionID: "s", TakenAt: time.Now(), Dir: "/d"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	entries, err := s2.Recent(10)
	if err != nil {
		t.Fatalf("Recent after reopen: %v", err)
	}
	if len(entries) != 1 || entries[0].CaptureID != "c1" {
		t.Errorf("entries after reopen = %v", entries)
	}
	if entries[0].Roles != nil {
		t.Errorf("empty roles should scan as nil, got %v", entries[0].Roles)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("Open should reject an empty path")
	}
}
