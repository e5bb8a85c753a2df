// Package ledger implements the Ledger Engine (spec section 4.5): an
// append-only, hash-chained JSONL store with segment rotation, per-segment
// submission indexing, Merkle roll-ups, GENESIS linkage, and both serial and
// parallel chain verification.
package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GenesisEventType marks the first entry of every ledger chain.
const GenesisEventType = "GENESIS"

// Entry is an immutable ledger record with hash chaining.
type Entry struct {
	ID           string                 `json:"id"`
	EventType    string                 `json:"event_type"`
	SubmissionID string                 `json:"submission_id"`
	Decision     string                 `json:"decision"`
	Reason       string                 `json:"reason"`
	PromptsUsed  []string               `json:"prompts_used"`
	Metadata     map[string]interface{} `json:"metadata"`
	Timestamp    string                 `json:"timestamp"`
	PreviousHash string                 `json:"previous_hash"`
	EntryHash    string                 `json:"entry_hash"`
}

// NewEntry constructs an Entry with a fresh ID and timestamp, ready for
// Client.Write. PromptsUsed and Metadata default to empty (never nil) so
// canonical-JSON hashing is stable whether or not a caller populates them.
func NewEntry(eventType, submissionID, decision, reason string) *Entry {
	return &Entry{
		ID:           "LED-" + uuid.NewString()[:8],
		EventType:    eventType,
		SubmissionID: submissionID,
		Decision:     decision,
		Reason:       reason,
		PromptsUsed:  []string{},
		Metadata:     map[string]interface{}{},
		Timestamp:    nowISO(),
	}
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// NowISO returns the current time formatted the same way entry timestamps
// are, for callers outside this package that need a comparable stamp
// (attestation records, registry rows) without constructing a throwaway Entry.
func NowISO() string {
	return nowISO()
}

// canonicalJSON serializes the entry's content (excluding entry_hash) with
// alphabetically sorted top-level keys and no trailing whitespace, the exact
// form entry_hash is computed over. A struct literal would marshal in
// declaration order, not alphabetical, so the content is built as a map:
// encoding/json always sorts map[string]... keys, which is what lets an
// independent verifier (one that canonicalizes with sort_keys=True, as the
// reference implementation does) recompute the same hash from the same
// entry.
func (e *Entry) canonicalJSON() ([]byte, error) {
	content := map[string]interface{}{
		"id":            e.ID,
		"event_type":    e.EventType,
		"submission_id": e.SubmissionID,
		"decision":      e.Decision,
		"reason":        e.Reason,
		"prompts_used":  e.PromptsUsed,
		"metadata":      e.Metadata,
		"timestamp":     e.Timestamp,
		"previous_hash": e.PreviousHash,
	}
	return json.Marshal(content)
}

// ToJSON serializes the full entry, including entry_hash, as one line.
func (e *Entry) ToJSON() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EntryFromJSON parses one JSONL line into an Entry.
func EntryFromJSON(line string) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		return nil, err
	}
	if e.PromptsUsed == nil {
		e.PromptsUsed = []string{}
	}
	if e.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}
	return &e, nil
}

// SegmentMeta is the per-segment record appended to ledger/index.jsonl when
// a segment is finalized by rotation or by Close.
type SegmentMeta struct {
	Segment         string `json:"segment"`
	Count           int    `json:"count"`
	Bytes           int    `json:"bytes"`
	FirstTimestamp  string `json:"first_ts"`
	LastTimestamp   string `json:"last_ts"`
	FirstEntryHash  string `json:"first_hash"`
	LastEntryHash   string `json:"last_hash"`
	MerkleRoot      string `json:"merkle_root"`
}
