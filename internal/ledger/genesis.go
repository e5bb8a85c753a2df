package ledger

import (
	"fmt"
	"os"
	"time"

	coreerrors "github.com/control-plane/governor/infrastructure/errors"
)

// WriteGenesis writes the first entry of a new ledger chain, requiring the
// ledger to currently be empty. Metadata carries the cross-chain lineage
// parameters plus created_at.
func (c *Client) WriteGenesis(tier, planeRoot, parentLedger, parentHash, workOrderID, sessionID string) (string, error) {
	count, err := c.Count()
	if err != nil {
		return "", err
	}
	if count > 0 {
		return "", coreerrors.New(coreerrors.KindStructural, coreerrors.ErrCodeSchemaViolation, "cannot write GENESIS to non-empty ledger")
	}

	entry := NewEntry(GenesisEventType, "GENESIS", "CHAIN_INITIALIZED", fmt.Sprintf("Ledger chain initialized for %s plane", tier))
	entry.Metadata["tier"] = tier
	entry.Metadata["plane_root"] = planeRoot
	if parentLedger != "" {
		entry.Metadata["parent_ledger"] = parentLedger
	}
	if parentHash != "" {
		entry.Metadata["parent_hash"] = parentHash
	}
	if workOrderID != "" {
		entry.Metadata["work_order_id"] = workOrderID
	}
	if sessionID != "" {
		entry.Metadata["session_id"] = sessionID
	}
	entry.Metadata["created_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	id, err := c.Write(entry)
	if err != nil {
		return "", err
	}
	if err := c.Flush(); err != nil {
		return "", err
	}
	return id, nil
}

// VerifyGenesis checks that the ledger is non-empty, its first entry is
// GENESIS, and GENESIS carries the required metadata keys.
func (c *Client) VerifyGenesis() (bool, []Issue, error) {
	entries, err := c.ReadAll()
	if err != nil {
		return false, nil, err
	}

	var issues []Issue
	if len(entries) == 0 {
		issues = append(issues, Issue{"FAIL", "Ledger is empty (no GENESIS)"})
		return false, issues, nil
	}

	first := entries[0]
	if first.EventType != GenesisEventType {
		issues = append(issues, Issue{"WARN", fmt.Sprintf("First entry is %s, not GENESIS", first.EventType)})
	} else {
		for _, key := range []string{"tier", "plane_root", "created_at"} {
			if _, ok := first.Metadata[key]; !ok {
				issues = append(issues, Issue{"WARN", fmt.Sprintf("GENESIS missing %s metadata", key)})
			}
		}
	}

	return !anyFail(issues), issues, nil
}

// VerifyChainLink checks that this ledger's GENESIS parent_hash matches the
// parent ledger's last entry_hash. If GENESIS carries no parent_hash, this
// is an INFO-only pass (a root ledger has no parent).
func (c *Client) VerifyChainLink(parentLedgerPath string, planeRoot string) (bool, []Issue, error) {
	entries, err := c.ReadAll()
	if err != nil {
		return false, nil, err
	}

	var issues []Issue
	if len(entries) == 0 || entries[0].EventType != GenesisEventType {
		issues = append(issues, Issue{"FAIL", "No GENESIS entry to verify"})
		return false, issues, nil
	}

	genesis := entries[0]
	expectedParentHash, _ := genesis.Metadata["parent_hash"].(string)
	if expectedParentHash == "" {
		issues = append(issues, Issue{"INFO", "No parent_hash in GENESIS (root ledger)"})
		return true, issues, nil
	}

	if _, statErr := os.Stat(parentLedgerPath); statErr != nil {
		issues = append(issues, Issue{"FAIL", fmt.Sprintf("Parent ledger not found: %s", parentLedgerPath)})
		return false, issues, nil
	}

	parentClient, err := New(planeRoot, parentLedgerPath, Options{EnableIndex: false, BatchSize: 1})
	if err != nil {
		return false, nil, err
	}

	parentEntries, err := parentClient.ReadAll()
	if err != nil {
		return false, nil, err
	}
	if len(parentEntries) == 0 {
		issues = append(issues, Issue{"FAIL", "Parent ledger is empty"})
		return false, issues, nil
	}

	actualParentHash := parentEntries[len(parentEntries)-1].EntryHash
	if actualParentHash == "" {
		issues = append(issues, Issue{"WARN", "Parent ledger last entry has no entry_hash (legacy)"})
		return true, issues, nil
	}

	if expectedParentHash != actualParentHash {
		issues = append(issues, Issue{"FAIL", fmt.Sprintf(
			"Parent hash mismatch: expected %s, got %s", truncate(expectedParentHash, 16), truncate(actualParentHash, 16))})
		return false, issues, nil
	}

	return true, nil, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
