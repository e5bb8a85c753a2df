package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// ReadAll concatenates every segment in write order (the base file, then
// rotated segments by name) and parses every
// non-empty line, silently skipping malformed entries (matching the
// reference client's tolerant scan).
func (c *Client) ReadAll() ([]*Entry, error) {
	segments, err := c.listSegments()
	if err != nil {
		return nil, err
	}

	var entries []*Entry
	for _, seg := range segments {
		data, err := os.ReadFile(seg)
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			e, parseErr := EntryFromJSON(line)
			if parseErr != nil {
				continue
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// submissionIndex loads ledger/idx/<segment_stem>.json if present.
func (c *Client) submissionIndex(segmentPath string) (map[string][][2]int64, bool) {
	stem := strings.TrimSuffix(filepath.Base(segmentPath), ".jsonl")
	data, err := os.ReadFile(filepath.Join(c.indexDir, stem+".json"))
	if err != nil {
		return nil, false
	}
	var raw map[string][][2]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false
	}
	return raw, true
}

// ReadBySubmission returns every entry recorded under submissionID,
// consulting each segment's offset index when present and falling back to
// a full scan of that segment only when its index is absent.
func (c *Client) ReadBySubmission(submissionID string) ([]*Entry, error) {
	segments, err := c.listSegments()
	if err != nil {
		return nil, err
	}

	var results []*Entry
	for _, seg := range segments {
		index, ok := c.submissionIndex(seg)
		if ok {
			if offsets, found := index[submissionID]; found {
				f, err := os.Open(seg)
				if err != nil {
					return nil, err
				}
				for _, pair := range offsets {
					offset, length := pair[0], pair[1]
					buf := make([]byte, length)
					if _, err := f.ReadAt(buf, offset); err != nil {
						continue
					}
					e, parseErr := EntryFromJSON(strings.TrimSpace(string(buf)))
					if parseErr == nil {
						results = append(results, e)
					}
				}
				f.Close()
				continue
			}
		}

		data, err := os.ReadFile(seg)
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			e, parseErr := EntryFromJSON(line)
			if parseErr != nil {
				continue
			}
			if e.SubmissionID == submissionID {
				results = append(results, e)
			}
		}
	}
	return results, nil
}

// ReadByEventType returns every entry whose event_type equals eventType, in
// ledger order.
func (c *Client) ReadByEventType(eventType string) ([]*Entry, error) {
	all, err := c.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []*Entry
	for _, e := range all {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out, nil
}

// ReadEntriesRange returns entries[start:end] over the full ledger, clamped
// to valid bounds.
func (c *Client) ReadEntriesRange(start, end int) ([]*Entry, error) {
	all, err := c.ReadAll()
	if err != nil {
		return nil, err
	}
	if start < 0 {
		start = 0
	}
	if end > len(all) {
		end = len(all)
	}
	if start >= end {
		return nil, nil
	}
	return all[start:end], nil
}

// ReadRecent returns the most recent limit entries, newest last.
func (c *Client) ReadRecent(limit int) ([]*Entry, error) {
	all, err := c.ReadAll()
	if err != nil {
		return nil, err
	}
	if limit >= len(all) {
		return all, nil
	}
	return all[len(all)-limit:], nil
}

// Count returns the total number of entries across every segment.
func (c *Client) Count() (int, error) {
	all, err := c.ReadAll()
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// HasDedupeKey linearly scans metadata["_dedupe_key"] across every entry,
// used by Chain Operations to guarantee at-most-once semantics.
func (c *Client) HasDedupeKey(key string) (bool, error) {
	all, err := c.ReadAll()
	if err != nil {
		return false, err
	}
	for _, e := range all {
		if v, ok := e.Metadata["_dedupe_key"]; ok {
			if s, ok := v.(string); ok && s == key {
				return true, nil
			}
		}
	}
	return false, nil
}
