package auditlog

import (
	"strings"
	"testing"
)

func TestAppendAndList(t *testing.T) {
	s, err := New(Options{StateDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.Append(Entry{Action: ActionConsentGranted, Extension: "alpha", Scope: "user"})
	s.Append(Entry{Action: ActionConsentDenied, Extension: "beta", Scope: "user"})
	s.Append(Entry{Action: ActionRefresh, Workspace: "/ws"})

	entries, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("List len = %d, want 3", len(entries))
	}
	// Newest first.
	if entries[0].Action != ActionRefresh || entries[2].Action != ActionConsentGranted {
		t.Fatalf("order = [%s %s %s]", entries[0].Action, entries[1].Action, entries[2].Action)
	}
	for _, e := range entries {
		if e.RecordID == "" || e.CreatedAt == "" || e.Status != "success" {
			t.Fatalf("entry defaults missing: %+v", e)
		}
	}

	limited, err := s.List(2)
	if err != nil {
		t.Fatalf("List(2): %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("List(2) len = %d", len(limited))
	}
}

func TestRotation(t *testing.T) {
	s, err := New(Options{StateDir: t.TempDir(), MaxBytes: 256, MaxBackups: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 50; i++ {
		s.Append(Entry{
			Action:    ActionRefresh,
			Workspace: "/ws/" + strings.Repeat("x", 64),
		})
	}

	// Rotation must not lose the most recent entries.
	entries, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) < 3 {
		t.Fatalf("List len = %d, want the retained tail", len(entries))
	}

	files := s.listFilesLocked()
	// Active file plus at most MaxBackups rotated files.
	if len(files) < 2 || len(files) > 3 {
		t.Fatalf("files = %v, want active plus 1..2 backups", files)
	}
}
