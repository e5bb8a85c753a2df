// Package testutil provides small test-fixture helpers shared by the
// core packages' test suites.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// TempPlane builds a scratch plane directory tree under t.TempDir() with
// the canonical taxonomy every plane root exposes (spec section 6):
// registries/, installed/, ledger/, policies/, packages_store/, schemas/,
// tmp/, _staging/, plus work_orders/ or sessions/ depending on tier.
// It does not write tier.json — callers needing a fully initialized plane
// should do so via the Ledger Factory under test, so tests exercise the
// real creation path instead of a fixture shortcut.
func TempPlane(t *testing.T, tier string) string {
	t.Helper()

	root := t.TempDir()
	dirs := []string{
		"registries",
		"registries/compiled",
		"installed",
		"ledger",
		"ledger/idx",
		"ledger/cursors",
		"policies",
		"packages_store",
		"schemas",
		"specs",
		"tmp",
		"_staging",
	}

	switch tier {
	case "HO2":
		dirs = append(dirs, "work_orders")
	case "HO1":
		dirs = append(dirs, "sessions")
	case "HO3":
		dirs = append(dirs, "config")
	}

	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatalf("testutil.TempPlane: mkdir %s: %v", d, err)
		}
	}

	return root
}

// WriteFile writes content to a path relative to root, creating parent
// directories as needed. Fails the test on any I/O error.
func WriteFile(t *testing.T, root, relPath, content string) string {
	t.Helper()

	full := filepath.Join(root, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("testutil.WriteFile: mkdir %s: %v", filepath.Dir(full), err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("testutil.WriteFile: write %s: %v", full, err)
	}
	return full
}

// RequireFileExists fails the test if path does not exist.
func RequireFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %s: %v", path, err)
	}
}
