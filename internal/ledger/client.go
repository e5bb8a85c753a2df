package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/control-plane/governor/infrastructure/metrics"
	"github.com/control-plane/governor/internal/hashutil"
	"github.com/control-plane/governor/internal/pathclass"
)

const (
	defaultRotateBytes   int64 = 256 * 1024 * 1024
	defaultBatchSize           = 1
	defaultVerifyWorkers       = 4
)

// TierContext stamps entries with tier-scoping metadata as they are
// written, without overwriting caller-supplied metadata keys.
type TierContext struct {
	Tier         string
	PlaneRoot    string
	WorkOrderID  string
	SessionID    string
}

func (tc *TierContext) toMetadata() map[string]interface{} {
	m := map[string]interface{}{
		"_tier":       tc.Tier,
		"_plane_root": tc.PlaneRoot,
	}
	if tc.WorkOrderID != "" {
		m["_work_order_id"] = tc.WorkOrderID
	}
	if tc.SessionID != "" {
		m["_session_id"] = tc.SessionID
	}
	return m
}

// Options configures a Client.
type Options struct {
	RotateBytes      int64 // 0 disables size-based rotation
	RotateDaily      bool
	BatchSize        int // entries buffered before an implicit flush; 1 disables buffering
	BatchIntervalSec float64
	EnableIndex      bool
	TierContext      *TierContext
}

// DefaultOptions returns the spec's default tuning: 256MB rotation, daily
// rotation enabled, unbuffered writes, indexing on.
func DefaultOptions() Options {
	return Options{
		RotateBytes: defaultRotateBytes,
		RotateDaily: true,
		BatchSize:   defaultBatchSize,
		EnableIndex: true,
	}
}

// Client is the Ledger Engine's handle on one ledger (a base JSONL file
// plus its rotated segments, index, and per-segment submission indices).
type Client struct {
	ledgerPath   string
	planeRoot    string
	opts         Options
	indexDir     string
	segIndexPath string

	buffer         []*Entry
	lastFlushTime  time.Time
	segmentHashes  []string
	segmentCount   int
	segmentBytes   int64
	currentSegment string
	lastHash       string
	lastTimestamp  string
	firstTSSegment string
	currentOffsets map[string][][2]int64
}

// New opens (creating if absent) the ledger rooted at ledgerPath, which
// must live under planeRoot so APPEND_ONLY path-classification applies.
func New(planeRoot, ledgerPath string, opts Options) (*Client, error) {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}

	c := &Client{
		ledgerPath:     ledgerPath,
		planeRoot:      planeRoot,
		opts:           opts,
		indexDir:       filepath.Join(filepath.Dir(ledgerPath), "idx"),
		segIndexPath:   filepath.Join(filepath.Dir(ledgerPath), "index.jsonl"),
		lastFlushTime:  time.Now(),
		currentOffsets: map[string][][2]int64{},
	}

	if err := c.ensureLedgerExists(); err != nil {
		return nil, err
	}
	if err := c.initState(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureLedgerExists() error {
	if err := os.MkdirAll(filepath.Dir(c.ledgerPath), 0o755); err != nil {
		return err
	}
	if _, err := os.Stat(c.ledgerPath); os.IsNotExist(err) {
		if err := os.WriteFile(c.ledgerPath, nil, 0o644); err != nil {
			return err
		}
	}
	if c.opts.EnableIndex {
		if err := os.MkdirAll(c.indexDir, 0o755); err != nil {
			return err
		}
		if _, err := os.Stat(c.segIndexPath); os.IsNotExist(err) {
			if err := os.WriteFile(c.segIndexPath, nil, 0o644); err != nil {
				return err
			}
		}
	}
	return nil
}

// listSegments returns every ledger segment (the base file plus any rotated
// `<base>-YYYYMMDD-HHMMSS.jsonl` files) in write order: the base file
// first, then the rotated segments sorted by name.
func (c *Client) listSegments() ([]string, error) {
	dir := filepath.Dir(c.ledgerPath)
	stem := strings.TrimSuffix(filepath.Base(c.ledgerPath), filepath.Ext(c.ledgerPath))

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var segments []string
	if _, err := os.Stat(c.ledgerPath); err == nil {
		segments = append(segments, c.ledgerPath)
	}
	var rotated []string
	for _, de := range entries {
		name := de.Name()
		if strings.HasPrefix(name, stem+"-") && strings.HasSuffix(name, ".jsonl") {
			rotated = append(rotated, filepath.Join(dir, name))
		}
	}
	sort.Strings(rotated)
	return append(segments, rotated...), nil
}

func scanLastEntry(path string) (hash, timestamp string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", nil
		}
		return "", "", err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		e, parseErr := EntryFromJSON(line)
		if parseErr != nil {
			return "", "", nil
		}
		return e.EntryHash, e.Timestamp, nil
	}
	return "", "", nil
}

func (c *Client) initState() error {
	segments, err := c.listSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		c.currentSegment = c.ledgerPath
		return nil
	}

	c.currentSegment = segments[len(segments)-1]
	hash, ts, err := scanLastEntry(c.currentSegment)
	if err != nil {
		return err
	}
	c.lastHash, c.lastTimestamp = hash, ts

	info, err := os.Stat(c.currentSegment)
	if err == nil {
		c.segmentBytes = info.Size()
	}

	hashes, firstTS, offsets, err := scanSegmentState(c.currentSegment)
	if err != nil {
		return err
	}
	c.segmentHashes = hashes
	c.segmentCount = len(hashes)
	c.firstTSSegment = firstTS
	c.currentOffsets = offsets
	return nil
}

// scanSegmentState re-derives a reopened active segment's in-memory
// bookkeeping (per-entry hashes, its first entry's timestamp, and each
// submission's byte offsets) by replaying every line already on disk, so a
// Client reopened mid-segment finishes the segment with accurate state
// instead of starting Count back at zero.
func scanSegmentState(path string) (hashes []string, firstTS string, offsets map[string][][2]int64, err error) {
	offsets = map[string][][2]int64{}
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return hashes, firstTS, offsets, nil
		}
		return nil, "", nil, readErr
	}

	var pos int64
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		lineLen := int64(len(line)) + 1
		e, parseErr := EntryFromJSON(line)
		if parseErr != nil {
			pos += lineLen
			continue
		}
		hashes = append(hashes, e.EntryHash)
		if firstTS == "" {
			firstTS = e.Timestamp
		}
		offsets[e.SubmissionID] = append(offsets[e.SubmissionID], [2]int64{pos, lineLen})
		pos += lineLen
	}
	return hashes, firstTS, offsets, nil
}

func (c *Client) segmentName() string {
	stem := strings.TrimSuffix(filepath.Base(c.ledgerPath), filepath.Ext(c.ledgerPath))
	return fmt.Sprintf("%s-%s.jsonl", stem, time.Now().UTC().Format("20060102-150405"))
}

// rotationReason reports why needsRotation returned true, for metrics
// labeling. Must be called before the condition that triggered it changes.
func (c *Client) rotationReason() string {
	if c.opts.RotateBytes > 0 && c.segmentBytes >= c.opts.RotateBytes {
		return "bytes"
	}
	return "day_boundary"
}

func (c *Client) needsRotation() bool {
	if c.opts.RotateBytes > 0 && c.segmentBytes >= c.opts.RotateBytes {
		return true
	}
	if c.opts.RotateDaily && c.lastTimestamp != "" {
		lastTS, err := time.Parse(time.RFC3339Nano, c.lastTimestamp)
		if err == nil {
			now := time.Now().UTC()
			ly, lm, ld := lastTS.UTC().Date()
			ny, nm, nd := now.Date()
			if ny > ly || (ny == ly && nm > lm) || (ny == ly && nm == lm && nd > ld) {
				return true
			}
		}
	}
	return false
}

// Write stamps tier metadata (without overwriting caller keys), buffers the
// entry, and flushes if the batch size or interval threshold is reached.
func (c *Client) Write(e *Entry) (string, error) {
	if c.opts.TierContext != nil {
		for k, v := range c.opts.TierContext.toMetadata() {
			if _, exists := e.Metadata[k]; !exists {
				e.Metadata[k] = v
			}
		}
	}

	c.buffer = append(c.buffer, e)

	shouldFlush := len(c.buffer) >= c.opts.BatchSize
	if c.opts.BatchIntervalSec > 0 && time.Since(c.lastFlushTime).Seconds() >= c.opts.BatchIntervalSec {
		shouldFlush = true
	}
	if shouldFlush {
		if err := c.Flush(); err != nil {
			return "", err
		}
	}
	return e.ID, nil
}

// Flush writes every buffered entry to disk, rotating the active segment
// first if needed, chaining each entry's previous_hash/entry_hash, and
// extending the in-memory submission-offset index. Any I/O error aborts the
// flush; buffered entries remain in memory (not partially committed) until
// a subsequent successful flush.
func (c *Client) Flush() error {
	if len(c.buffer) == 0 {
		return nil
	}

	if c.needsRotation() {
		if err := c.startNewSegment(); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(c.currentSegment, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, e := range c.buffer {
		writeStart := time.Now()
		info, statErr := os.Stat(c.currentSegment)
		var offset int64
		if statErr == nil {
			offset = info.Size()
		}
		if err := pathclass.AssertAppendOnly(c.planeRoot, c.currentSegment, offset); err != nil {
			return err
		}

		e.PreviousHash = c.lastHash
		content, marshalErr := e.canonicalJSON()
		if marshalErr != nil {
			return marshalErr
		}
		e.EntryHash = hashutil.HashBytes(content)

		line, jsonErr := e.ToJSON()
		if jsonErr != nil {
			return jsonErr
		}

		if _, err := f.WriteString(line + "\n"); err != nil {
			return err
		}

		c.lastHash = e.EntryHash
		c.lastTimestamp = e.Timestamp
		c.segmentHashes = append(c.segmentHashes, e.EntryHash)
		c.segmentCount++
		c.segmentBytes += int64(len(line)) + 1
		if c.firstTSSegment == "" {
			c.firstTSSegment = e.Timestamp
		}

		if c.opts.EnableIndex {
			c.currentOffsets[e.SubmissionID] = append(c.currentOffsets[e.SubmissionID], [2]int64{offset, int64(len(line)) + 1})
		}

		if metrics.Enabled() {
			metrics.Global().RecordLedgerEntry("ledger", e.EventType, time.Since(writeStart))
			metrics.Global().SetActiveSegmentBytes(c.segmentBytes)
		}
	}

	c.buffer = c.buffer[:0]
	c.lastFlushTime = time.Now()
	return nil
}

func (c *Client) startNewSegment() error {
	if metrics.Enabled() {
		metrics.Global().RecordSegmentRotation("ledger", c.rotationReason())
	}
	if c.segmentCount > 0 {
		if err := c.writeSegmentMeta(filepath.Base(c.currentSegment)); err != nil {
			return err
		}
		stem := strings.TrimSuffix(filepath.Base(c.currentSegment), filepath.Ext(c.currentSegment))
		if err := c.writeSubmissionIndex(stem+".json", c.currentOffsets); err != nil {
			return err
		}
	}

	c.segmentHashes = nil
	c.segmentCount = 0
	c.segmentBytes = 0
	c.currentOffsets = map[string][][2]int64{}
	c.firstTSSegment = ""

	newPath := filepath.Join(filepath.Dir(c.ledgerPath), c.segmentName())
	for {
		f, err := os.OpenFile(newPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			break
		}
		if !os.IsExist(err) {
			return err
		}
		// Names have one-second resolution: wait for an unused one.
		time.Sleep(100 * time.Millisecond)
		newPath = filepath.Join(filepath.Dir(c.ledgerPath), c.segmentName())
	}
	c.currentSegment = newPath
	return nil
}

func (c *Client) writeSegmentMeta(segmentName string) error {
	if !c.opts.EnableIndex {
		return nil
	}
	meta := SegmentMeta{
		Segment:        segmentName,
		Count:          c.segmentCount,
		Bytes:          int(c.segmentBytes),
		FirstTimestamp: c.firstTSSegment,
		LastTimestamp:  c.lastTimestamp,
		MerkleRoot:     hashutil.MerkleRoot(c.segmentHashes),
	}
	if len(c.segmentHashes) > 0 {
		meta.FirstEntryHash = c.segmentHashes[0]
		meta.LastEntryHash = c.segmentHashes[len(c.segmentHashes)-1]
	}

	line, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(c.segIndexPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(string(line) + "\n")
	return err
}

func (c *Client) writeSubmissionIndex(filename string, offsets map[string][][2]int64) error {
	if !c.opts.EnableIndex {
		return nil
	}
	data, err := json.Marshal(offsets)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.indexDir, filename), data, 0o644)
}

// segmentMetaExists reports whether index.jsonl already has a record for
// segmentName (used to avoid double-recording the active segment's meta on
// Close if it was never rotated out).
func (c *Client) segmentMetaExists(segmentName string) bool {
	data, err := os.ReadFile(c.segIndexPath)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var meta SegmentMeta
		if err := json.Unmarshal([]byte(line), &meta); err == nil && meta.Segment == segmentName {
			return true
		}
	}
	return false
}

// Close flushes any buffered entries and, if the active segment was never
// rotated out, records its metadata so index.jsonl reflects every segment
// written, active or not. Go has no object destructor, so unlike the
// reference client's best-effort flush-on-GC, callers must call Close
// explicitly (defer c.Close() right after New).
func (c *Client) Close() error {
	if err := c.Flush(); err != nil {
		return err
	}
	if c.opts.EnableIndex && c.segmentCount > 0 {
		segName := filepath.Base(c.currentSegment)
		if !c.segmentMetaExists(segName) {
			if err := c.writeSegmentMeta(segName); err != nil {
				return err
			}
			stem := strings.TrimSuffix(segName, filepath.Ext(segName))
			if err := c.writeSubmissionIndex(stem+".json", c.currentOffsets); err != nil {
				return err
			}
		}
	}
	return nil
}

// LedgerPath returns the base ledger path this client was opened with.
func (c *Client) LedgerPath() string { return c.ledgerPath }
