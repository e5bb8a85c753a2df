// Package chainops implements Chain Operations (spec section 4.14):
// summarizing child-instance ledger entries up to a parent, pushing a
// policy down to every child instance, and applying a pushed policy
// within one instance. All three operations are idempotent, guarded by
// dedupe keys recorded in ledger entry metadata.
package chainops

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/control-plane/governor/infrastructure/metrics"
	"github.com/control-plane/governor/internal/cursor"
	"github.com/control-plane/governor/internal/hashutil"
	"github.com/control-plane/governor/internal/ledger"
	"github.com/control-plane/governor/internal/ledgerfactory"
	"github.com/control-plane/governor/internal/tier"
)

// InstanceOutcome reports what happened to one child instance during a
// chain operation.
type InstanceOutcome struct {
	Instance string `json:"instance"`
	Status   string `json:"status"` // "summarized"/"pushed"/"applied" or "skipped"
	Reason   string `json:"reason,omitempty"`
	Entries  int    `json:"entries,omitempty"`
}

// SummarizeResult is the outcome of SummarizeUp.
type SummarizeResult struct {
	Summarized int                `json:"summarized"`
	Skipped    int                `json:"skipped"`
	Results    []InstanceOutcome  `json:"results"`
}

func instanceID(inst ledgerfactory.Instance) string {
	if inst.Manifest.WorkOrderID != "" {
		return inst.Manifest.WorkOrderID
	}
	if inst.Manifest.SessionID != "" {
		return inst.Manifest.SessionID
	}
	return inst.Root
}

// computeDedupeKey mirrors the original cursor-range dedupe key: stable
// over the source ledger path and the exact [from, to) range summarized.
func computeDedupeKey(sourceLedgerPath string, from, to int, childTier tier.Name) string {
	return hashutil.HashString(fmt.Sprintf("summary|%s|%d|%d|%s", sourceLedgerPath, from, to, childTier))
}

func computePolicyPushDedupeKey(policyID, version, instanceID string) string {
	return hashutil.HashString(fmt.Sprintf("policy-push|%s|%s|%s", policyID, version, instanceID))
}

func computePolicyApplyDedupeKey(policyID, version, instanceID string) string {
	return hashutil.HashString(fmt.Sprintf("policy-apply|%s|%s|%s", policyID, version, instanceID))
}

// SummarizeUp reads every child instance beneath parentRoot, advances each
// child's cursor over any ledger entries it hasn't summarized yet, and
// writes one SUMMARY_UP entry per child into the parent's ledger —
// skipping any child with nothing new, or whose exact range has already
// been summarized (dedupe key already present in the parent ledger).
func SummarizeUp(parentRoot string, parentClient *ledger.Client) (SummarizeResult, error) {
	result := SummarizeResult{}

	instances, err := ledgerfactory.ListInstances(parentRoot)
	if err != nil {
		return result, err
	}

	cursorMgr := cursor.New(filepath.Join(parentRoot, "ledger", "cursors"))

	for _, inst := range instances {
		id := instanceID(inst)
		instClient, err := ledger.New(inst.Root, inst.Manifest.AbsoluteLedgerPath(), ledger.Options{EnableIndex: false, BatchSize: 1})
		if err != nil {
			return result, err
		}

		instEntries, err := instClient.ReadAll()
		if err != nil {
			instClient.Close()
			return result, err
		}

		sourceURI := inst.Manifest.AbsoluteLedgerPath()

		priorState, err := cursorMgr.Load(sourceURI)
		if err != nil {
			instClient.Close()
			return result, err
		}
		hashAtCursor := ""
		if priorState.Offset > 0 && priorState.Offset <= len(instEntries) {
			hashAtCursor = instEntries[priorState.Offset-1].EntryHash
		}

		from, to, _, err := cursorMgr.GetUnprocessedRange(sourceURI, len(instEntries), hashAtCursor)
		if err != nil {
			instClient.Close()
			return result, err
		}

		if from >= to {
			result.Skipped++
			result.Results = append(result.Results, InstanceOutcome{Instance: id, Status: "skipped", Reason: "no_new_entries"})
			if metrics.Enabled() {
				metrics.Global().RecordChainOp("chainops", "summarize_up", false)
			}
			instClient.Close()
			continue
		}

		dedupeKey := computeDedupeKey(sourceURI, from, to, inst.Manifest.Tier)
		has, err := parentClient.HasDedupeKey(dedupeKey)
		if err != nil {
			instClient.Close()
			return result, err
		}
		if has {
			result.Skipped++
			result.Results = append(result.Results, InstanceOutcome{Instance: id, Status: "skipped", Reason: "already_summarized"})
			if metrics.Enabled() {
				metrics.Global().RecordChainOp("chainops", "summarize_up", false)
			}
			instClient.Close()
			continue
		}

		slice := instEntries[from:to]
		eventCounts := map[string]int{}
		decisionCounts := map[string]int{}
		for _, e := range slice {
			eventCounts[e.EventType]++
			decisionCounts[e.Decision]++
		}

		summary := ledger.NewEntry("SUMMARY_UP", fmt.Sprintf("SUM-%s-%d-%d", id, from, to), "SUMMARIZED",
			fmt.Sprintf("summarized %d entries from %s", len(slice), id))
		summary.Metadata["_dedupe_key"] = dedupeKey
		summary.Metadata["source_ledger"] = sourceURI
		summary.Metadata["child_tier"] = string(inst.Manifest.Tier)
		summary.Metadata["child_instance_id"] = id
		summary.Metadata["cursor_from"] = from
		summary.Metadata["cursor_to"] = to
		summary.Metadata["entry_count"] = len(slice)
		summary.Metadata["event_type_counts"] = sortedCounts(eventCounts)
		summary.Metadata["decision_counts"] = sortedCounts(decisionCounts)

		if _, err := parentClient.Write(summary); err != nil {
			instClient.Close()
			return result, err
		}
		if err := parentClient.Flush(); err != nil {
			instClient.Close()
			return result, err
		}

		newLastHash := slice[len(slice)-1].EntryHash
		if err := cursorMgr.Advance(sourceURI, to, newLastHash, len(instEntries)); err != nil {
			instClient.Close()
			return result, err
		}

		result.Summarized++
		result.Results = append(result.Results, InstanceOutcome{Instance: id, Status: "summarized", Entries: len(slice)})
		if metrics.Enabled() {
			metrics.Global().RecordChainOp("chainops", "summarize_up", true)
		}
		instClient.Close()
	}

	return result, nil
}

func sortedCounts(counts map[string]int) map[string]int {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]int, len(counts))
	for _, k := range keys {
		out[k] = counts[k]
	}
	return out
}

// PushPolicyResult is the outcome of PushPolicy.
type PushPolicyResult struct {
	Pushed  int               `json:"pushed"`
	Skipped int               `json:"skipped"`
	Results []InstanceOutcome `json:"results"`
}

// PushPolicy writes a POLICY_DOWN entry into every child instance beneath
// parentRoot, skipping instances that already have this exact
// policy/version push recorded.
func PushPolicy(parentRoot, policyID, version string) (PushPolicyResult, error) {
	result := PushPolicyResult{}

	instances, err := ledgerfactory.ListInstances(parentRoot)
	if err != nil {
		return result, err
	}

	for _, inst := range instances {
		id := instanceID(inst)
		dedupeKey := computePolicyPushDedupeKey(policyID, version, id)

		instClient, err := ledger.New(inst.Root, inst.Manifest.AbsoluteLedgerPath(), ledger.Options{EnableIndex: false, BatchSize: 1})
		if err != nil {
			return result, err
		}

		has, err := instClient.HasDedupeKey(dedupeKey)
		if err != nil {
			instClient.Close()
			return result, err
		}
		if has {
			result.Skipped++
			result.Results = append(result.Results, InstanceOutcome{Instance: id, Status: "skipped", Reason: "already_pushed"})
			if metrics.Enabled() {
				metrics.Global().RecordChainOp("chainops", "push_policy", false)
			}
			instClient.Close()
			continue
		}

		entry := ledger.NewEntry("POLICY_DOWN", fmt.Sprintf("POL-DOWN-%s-%s", policyID, id), "PUSHED",
			fmt.Sprintf("policy %s v%s pushed from parent", policyID, version))
		entry.Metadata["_dedupe_key"] = dedupeKey
		entry.Metadata["policy_id"] = policyID
		entry.Metadata["policy_version"] = version
		entry.Metadata["from_parent"] = parentRoot
		entry.Metadata["target_instance"] = id

		if _, err := instClient.Write(entry); err != nil {
			instClient.Close()
			return result, err
		}
		if err := instClient.Flush(); err != nil {
			instClient.Close()
			return result, err
		}

		result.Pushed++
		result.Results = append(result.Results, InstanceOutcome{Instance: id, Status: "pushed"})
		if metrics.Enabled() {
			metrics.Global().RecordChainOp("chainops", "push_policy", true)
		}
		instClient.Close()
	}

	return result, nil
}

// ApplyPolicyResult is the outcome of ApplyPolicy.
type ApplyPolicyResult struct {
	Applied int                     `json:"applied"`
	Skipped int                     `json:"skipped"`
	Results []PolicyApplyOutcome   `json:"results"`
}

// PolicyApplyOutcome reports what happened to one pushed policy.
type PolicyApplyOutcome struct {
	PolicyID string `json:"policy_id"`
	Version  string `json:"version"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

// ApplyPolicy scans instanceRoot's ledger for POLICY_DOWN entries not yet
// matched by a POLICY_APPLIED entry, and applies each: writing a
// POLICY_APPLIED entry recording success, guarded by the same dedupe-key
// double-check PushPolicy uses.
func ApplyPolicy(instanceRoot string, client *ledger.Client, instanceID string) (ApplyPolicyResult, error) {
	result := ApplyPolicyResult{}

	entries, err := client.ReadAll()
	if err != nil {
		return result, err
	}

	applied := map[string]bool{}
	var policyDowns []*ledger.Entry
	for _, e := range entries {
		switch e.EventType {
		case "POLICY_DOWN":
			policyDowns = append(policyDowns, e)
		case "POLICY_APPLIED":
			pid, _ := e.Metadata["policy_id"].(string)
			ver, _ := e.Metadata["policy_version"].(string)
			applied[pid+":"+ver] = true
		}
	}

	for _, pd := range policyDowns {
		policyID, _ := pd.Metadata["policy_id"].(string)
		version, _ := pd.Metadata["policy_version"].(string)
		key := policyID + ":" + version

		if applied[key] {
			result.Skipped++
			result.Results = append(result.Results, PolicyApplyOutcome{PolicyID: policyID, Version: version, Status: "skipped", Reason: "already_applied"})
			if metrics.Enabled() {
				metrics.Global().RecordChainOp("chainops", "apply_policy", false)
			}
			continue
		}

		dedupeKey := computePolicyApplyDedupeKey(policyID, version, instanceID)
		has, err := client.HasDedupeKey(dedupeKey)
		if err != nil {
			return result, err
		}
		if has {
			result.Skipped++
			result.Results = append(result.Results, PolicyApplyOutcome{PolicyID: policyID, Version: version, Status: "skipped", Reason: "dedupe_key_exists"})
			if metrics.Enabled() {
				metrics.Global().RecordChainOp("chainops", "apply_policy", false)
			}
			continue
		}

		fromParent, _ := pd.Metadata["from_parent"].(string)
		entry := ledger.NewEntry("POLICY_APPLIED", fmt.Sprintf("POL-APPLY-%s-%s", policyID, instanceID), "APPLIED",
			fmt.Sprintf("policy %s v%s applied successfully", policyID, version))
		entry.Metadata["_dedupe_key"] = dedupeKey
		entry.Metadata["policy_id"] = policyID
		entry.Metadata["policy_version"] = version
		entry.Metadata["instance_id"] = instanceID
		entry.Metadata["from_parent"] = fromParent
		entry.Metadata["result"] = "success"

		if _, err := client.Write(entry); err != nil {
			return result, err
		}
		if err := client.Flush(); err != nil {
			return result, err
		}

		applied[key] = true
		result.Applied++
		result.Results = append(result.Results, PolicyApplyOutcome{PolicyID: policyID, Version: version, Status: "applied"})
		if metrics.Enabled() {
			metrics.Global().RecordChainOp("chainops", "apply_policy", true)
		}
	}

	return result, nil
}
