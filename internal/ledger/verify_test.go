package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerifyChain_ValidChain(t *testing.T) {
	c, _ := newTestClient(t, DefaultOptions())
	for i := 0; i < 3; i++ {
		_, err := c.Write(NewEntry("decision", "SUB", "APPROVED", "ok"))
		require.NoError(t, err)
	}
	require.NoError(t, c.Close())

	valid, issues, err := c.VerifyChain()
	require.NoError(t, err)
	require.True(t, valid)
	require.Empty(t, issues)
}

func TestVerifyChain_DetectsTamperedEntry(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "ledger", "governance.jsonl")
	c, err := New(root, path, DefaultOptions())
	require.NoError(t, err)

	_, err = c.Write(NewEntry("decision", "SUB", "APPROVED", "ok"))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	tampered := []byte(`{"id":"LED-00000000","event_type":"decision","submission_id":"SUB","decision":"REJECTED","reason":"tampered","prompts_used":[],"metadata":{},"timestamp":"2026-01-01T00:00:00Z","previous_hash":"","entry_hash":"deadbeef"}` + "\n")
	require.NoError(t, os.WriteFile(path, tampered, 0o644))

	c2, err := New(root, path, DefaultOptions())
	require.NoError(t, err)
	valid, issues, err := c2.VerifyChain()
	require.NoError(t, err)
	require.False(t, valid)
	require.NotEmpty(t, issues)
}

func TestVerifyChain_LegacyEntryWarnsNotFails(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "ledger", "governance.jsonl")
	legacy := `{"id":"LED-legacy01","event_type":"decision","submission_id":"SUB","decision":"APPROVED","reason":"pre-chaining","prompts_used":[],"metadata":{},"timestamp":"2020-01-01T00:00:00Z","previous_hash":"","entry_hash":""}` + "\n"
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	c, err := New(root, path, DefaultOptions())
	require.NoError(t, err)

	valid, issues, err := c.VerifyChain()
	require.NoError(t, err)
	require.True(t, valid, "legacy entries must WARN, never FAIL")
	require.Len(t, issues, 1)
	require.Equal(t, "WARN", issues[0].Severity)
}

func TestVerifyChainParallel_MatchesSerialOnMultipleSegments(t *testing.T) {
	opts := DefaultOptions()
	opts.RotateBytes = 1
	opts.RotateDaily = false
	c, _ := newTestClient(t, opts)

	for i := 0; i < 4; i++ {
		_, err := c.Write(NewEntry("decision", "SUB", "APPROVED", "ok"))
		require.NoError(t, err)
	}
	require.NoError(t, c.Close())

	validSerial, _, err := c.VerifyChain()
	require.NoError(t, err)
	validParallel, issues, err := c.VerifyChainParallel(2)
	require.NoError(t, err)
	require.Equal(t, validSerial, validParallel)
	require.Empty(t, issues)
}

func TestGetSessionRoot_EmptyLedger(t *testing.T) {
	c, _ := newTestClient(t, DefaultOptions())
	root, err := c.GetSessionRoot("")
	require.NoError(t, err)
	require.Empty(t, root)
}

func TestGetSessionRoot_NonEmpty(t *testing.T) {
	c, _ := newTestClient(t, DefaultOptions())
	_, err := c.Write(NewEntry("decision", "SUB", "APPROVED", "ok"))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	root, err := c.GetSessionRoot("")
	require.NoError(t, err)
	require.NotEmpty(t, root)
}

func TestGetSegmentsRoot_AggregatesSegmentMerkleRoots(t *testing.T) {
	opts := DefaultOptions()
	opts.RotateBytes = 1
	opts.RotateDaily = false
	c, _ := newTestClient(t, opts)

	for i := 0; i < 3; i++ {
		_, err := c.Write(NewEntry("decision", "SUB", "APPROVED", "ok"))
		require.NoError(t, err)
	}
	require.NoError(t, c.Close())

	root, err := c.GetSegmentsRoot()
	require.NoError(t, err)
	require.NotEmpty(t, root)
}
