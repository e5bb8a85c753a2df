// Package cursor implements the Cursor Manager (spec section 4.6):
// per-source-ledger {offset, last_seen_hash, last_seen_count} state stored
// outside any ledger, with atomic save and rewind detection.
package cursor

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/control-plane/governor/internal/hashutil"
)

// State is the persisted cursor for one source ledger.
type State struct {
	Offset        int    `json:"offset"`
	LastSeenHash  string `json:"last_seen_hash"`
	LastSeenCount int    `json:"last_seen_count"`
}

// Manager stores cursor state under cursorDir, one file per source ledger
// URI, named by a stable hash of that URI.
type Manager struct {
	cursorDir string
}

// New returns a Manager rooted at cursorDir (ledger/cursors in a plane).
func New(cursorDir string) *Manager {
	return &Manager{cursorDir: cursorDir}
}

// filename derives a stable, filesystem-safe name for sourceURI.
func (m *Manager) filename(sourceURI string) string {
	digest := hashutil.HashString(sourceURI)
	// Strip the "sha256:" tag; a bare hex string is a cleaner filename.
	hex := digest[len(hashutil.Prefix):]
	return hex + ".json"
}

func (m *Manager) path(sourceURI string) string {
	return filepath.Join(m.cursorDir, m.filename(sourceURI))
}

// Load returns the persisted State for sourceURI, or a zero State if none
// has been saved yet.
func (m *Manager) Load(sourceURI string) (State, error) {
	data, err := os.ReadFile(m.path(sourceURI))
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, err
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, err
	}
	return s, nil
}

// Save persists s for sourceURI atomically: write to a tempfile in the same
// directory, then rename over the target.
func (m *Manager) Save(sourceURI string, s State) error {
	if err := os.MkdirAll(m.cursorDir, 0o755); err != nil {
		return err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	target := m.path(sourceURI)
	tmp := filepath.Join(m.cursorDir, ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// GetUnprocessedRange computes the [from, to) range of entries not yet
// processed for sourceURI.
//
// currentCount is the source ledger's current total entry count.
// hashAtCursorPosition is the entry_hash the source ledger currently shows
// at the offset this cursor last recorded (the caller reads that one entry
// before calling); it is ignored when no cursor exists yet.
//
// If no cursor exists yet, the range is [0, currentCount) and wasReset is
// false. If hashAtCursorPosition no longer matches the hash the cursor
// recorded there — the source rewound, e.g. a ledger was truncated and
// rebuilt — the cursor resets to 0 and the full range is returned with
// wasReset true, forcing the caller to reprocess everything.
func (m *Manager) GetUnprocessedRange(sourceURI string, currentCount int, hashAtCursorPosition string) (from, to int, wasReset bool, err error) {
	state, err := m.Load(sourceURI)
	if err != nil {
		return 0, 0, false, err
	}

	hasCursor := state.Offset > 0 || state.LastSeenHash != "" || state.LastSeenCount > 0
	if !hasCursor {
		return 0, currentCount, false, nil
	}

	if state.LastSeenHash != hashAtCursorPosition {
		return 0, currentCount, true, nil
	}

	return state.Offset, currentCount, false, nil
}

// Advance persists the cursor at the new offset/hash/count after a caller
// has successfully processed up to `to`.
func (m *Manager) Advance(sourceURI string, to int, lastSeenHash string, lastSeenCount int) error {
	return m.Save(sourceURI, State{Offset: to, LastSeenHash: lastSeenHash, LastSeenCount: lastSeenCount})
}
