package cursor

import (
	"path/filepath"
	"testing"
)

func TestGetUnprocessedRange_NoCursorYet(t *testing.T) {
	m := New(t.TempDir())

	from, to, reset, err := m.GetUnprocessedRange("ledger://child-1", 10, "")
	if err != nil {
		t.Fatalf("GetUnprocessedRange error: %v", err)
	}
	if from != 0 || to != 10 || reset {
		t.Errorf("got (%d, %d, %v), want (0, 10, false)", from, to, reset)
	}
}

func TestAdvanceThenGetUnprocessedRange_NoNewEntries(t *testing.T) {
	m := New(t.TempDir())

	if err := m.Advance("ledger://child-1", 10, "sha256:abc", 10); err != nil {
		t.Fatalf("Advance error: %v", err)
	}

	from, to, reset, err := m.GetUnprocessedRange("ledger://child-1", 10, "sha256:abc")
	if err != nil {
		t.Fatalf("GetUnprocessedRange error: %v", err)
	}
	if from != 10 || to != 10 || reset {
		t.Errorf("got (%d, %d, %v), want (10, 10, false)", from, to, reset)
	}
}

func TestGetUnprocessedRange_NewEntriesAdvanceFromCursor(t *testing.T) {
	m := New(t.TempDir())
	if err := m.Advance("ledger://child-1", 5, "sha256:abc", 5); err != nil {
		t.Fatalf("Advance error: %v", err)
	}

	from, to, reset, err := m.GetUnprocessedRange("ledger://child-1", 8, "sha256:abc")
	if err != nil {
		t.Fatalf("GetUnprocessedRange error: %v", err)
	}
	if from != 5 || to != 8 || reset {
		t.Errorf("got (%d, %d, %v), want (5, 8, false)", from, to, reset)
	}
}

func TestGetUnprocessedRange_RewindDetected(t *testing.T) {
	m := New(t.TempDir())
	if err := m.Advance("ledger://child-1", 5, "sha256:abc", 5); err != nil {
		t.Fatalf("Advance error: %v", err)
	}

	from, to, reset, err := m.GetUnprocessedRange("ledger://child-1", 3, "sha256:different")
	if err != nil {
		t.Fatalf("GetUnprocessedRange error: %v", err)
	}
	if from != 0 || to != 3 || !reset {
		t.Errorf("got (%d, %d, %v), want (0, 3, true)", from, to, reset)
	}
}

func TestSave_IsAtomicAndDistinctPerSource(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	if err := m.Save("ledger://a", State{Offset: 3, LastSeenHash: "h1", LastSeenCount: 3}); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if err := m.Save("ledger://b", State{Offset: 7, LastSeenHash: "h2", LastSeenCount: 7}); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	sa, err := m.Load("ledger://a")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if sa.Offset != 3 {
		t.Errorf("source a offset = %d, want 3", sa.Offset)
	}

	sb, err := m.Load("ledger://b")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if sb.Offset != 7 {
		t.Errorf("source b offset = %d, want 7", sb.Offset)
	}

	entries, _ := filepathGlob(dir)
	if len(entries) != 2 {
		t.Errorf("expected 2 cursor files, got %d: %v", len(entries), entries)
	}
}

func filepathGlob(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*.json"))
}
