// Package inspector implements the Inspector API (spec section 4.16): a
// read-only query surface over the Ledger Engine, Registry Store, and
// plane filesystem, every answer paired with an EvidencePointer so a
// downstream reader can re-hash the pointed artifact and confirm they
// saw the same bytes. The inspector never writes.
package inspector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	coreerrors "github.com/control-plane/governor/infrastructure/errors"
	"github.com/control-plane/governor/internal/hashutil"
	"github.com/control-plane/governor/internal/ledger"
	"github.com/control-plane/governor/internal/manifest"
	"github.com/control-plane/governor/internal/pathclass"
	"github.com/control-plane/governor/internal/plane"
	"github.com/control-plane/governor/internal/registry"
)

// EvidencePointer lets a caller re-verify the exact bytes a query's
// answer was derived from.
type EvidencePointer struct {
	Source    string `json:"source"` // "ledger", "file", or "registry"
	Path      string `json:"path"`
	RangeFrom *int   `json:"range_from,omitempty"`
	RangeTo   *int   `json:"range_to,omitempty"`
	Hash      string `json:"hash"`
	Timestamp string `json:"timestamp"`
}

func fileEvidence(path string) EvidencePointer {
	hash, err := hashutil.HashFile(path)
	if err != nil {
		hash = ""
	}
	return EvidencePointer{Source: "file", Path: path, Hash: hash, Timestamp: ledger.NowISO()}
}

func ledgerEvidence(path string, from, to int, hash string) EvidencePointer {
	return EvidencePointer{Source: "ledger", Path: path, RangeFrom: &from, RangeTo: &to, Hash: hash, Timestamp: ledger.NowISO()}
}

func registryEvidence(path, hash string) EvidencePointer {
	return EvidencePointer{Source: "registry", Path: path, Hash: hash, Timestamp: ledger.NowISO()}
}

// InstalledPackage summarizes one installed package's receipt.
type InstalledPackage struct {
	ID          string `json:"id"`
	Tainted     bool   `json:"tainted"`
	TaintReason string `json:"taint_reason,omitempty"`
	FileCount   int    `json:"file_count"`
	HasReceipt  bool   `json:"has_receipt"`
}

type receiptFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

type receiptShape struct {
	PackageID   string        `json:"package_id"`
	Files       []receiptFile `json:"files"`
	Tainted     bool          `json:"tainted"`
	TaintReason string        `json:"taint_reason,omitempty"`
}

// ListInstalled enumerates every package directory under ctx's receipts
// directory. Receipts are not filtered by the plane root they record.
func ListInstalled(ctx *plane.Context) ([]InstalledPackage, EvidencePointer, error) {
	entries, err := os.ReadDir(ctx.ReceiptsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fileEvidence(ctx.ReceiptsDir), nil
		}
		return nil, EvidencePointer{}, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []InstalledPackage
	for _, name := range names {
		receiptPath := filepath.Join(ctx.ReceiptsDir, name, "receipt.json")
		var rec receiptShape
		if err := loadJSON(receiptPath, &rec); err != nil {
			out = append(out, InstalledPackage{ID: name, HasReceipt: false})
			continue
		}
		out = append(out, InstalledPackage{
			ID:          name,
			Tainted:     rec.Tainted,
			TaintReason: rec.TaintReason,
			FileCount:   len(rec.Files),
			HasReceipt:  true,
		})
	}

	evidence := fileEvidence(ctx.ReceiptsDir)
	evidence.Hash = hashutil.HashString(strings.Join(names, "\n"))
	return out, evidence, nil
}

// LastGateFailures returns the most recent limit GATE ledger entries
// whose decision was FAILED, newest last.
func LastGateFailures(client *ledger.Client, limit int) ([]*ledger.Entry, EvidencePointer, error) {
	all, err := client.ReadAll()
	if err != nil {
		return nil, EvidencePointer{}, err
	}

	var failures []*ledger.Entry
	for _, e := range all {
		if e.EventType == "GATE" && e.Decision == "FAILED" {
			failures = append(failures, e)
		}
	}

	from := 0
	if len(failures) > limit {
		from = len(failures) - limit
	}
	result := failures[from:]

	lastHash := ""
	if len(result) > 0 {
		lastHash = result[len(result)-1].EntryHash
	}
	return result, ledgerEvidence(client.LedgerPath(), from, len(failures), lastHash), nil
}

// ReplayHO1 returns every ledger entry whose submission_id matches
// sessionID, in chain order, reconstructing a single HO1 session's
// activity for audit replay.
func ReplayHO1(client *ledger.Client, sessionID string) ([]*ledger.Entry, EvidencePointer, error) {
	all, err := client.ReadAll()
	if err != nil {
		return nil, EvidencePointer{}, err
	}

	var out []*ledger.Entry
	for _, e := range all {
		if e.SubmissionID == sessionID {
			out = append(out, e)
		}
	}

	lastHash := ""
	if len(out) > 0 {
		lastHash = out[len(out)-1].EntryHash
	}
	return out, ledgerEvidence(client.LedgerPath(), 0, len(all), lastHash), nil
}

// PathExplanation reports how the Path Classifier sees one path.
type PathExplanation struct {
	Path        string         `json:"path"`
	Class       pathclass.Class `json:"class"`
	Explanation string         `json:"explanation"`
	Exists      bool           `json:"exists"`
}

// ExplainPath classifies path under planeRoot and reports whether it
// currently exists on disk.
func ExplainPath(planeRoot, path string) (PathExplanation, EvidencePointer, error) {
	class, explanation := pathclass.Classify(planeRoot, nil, path)
	_, statErr := os.Stat(path)
	exists := statErr == nil

	exp := PathExplanation{Path: path, Class: class, Explanation: explanation, Exists: exists}
	var evidence EvidencePointer
	if exists {
		evidence = fileEvidence(path)
	} else {
		evidence = EvidencePointer{Source: "file", Path: path, Timestamp: ledger.NowISO()}
	}
	return exp, evidence, nil
}

// RegistryStats reports the row count of each known registry CSV.
type RegistryStats struct {
	Frameworks     int `json:"frameworks"`
	Specs          int `json:"specs"`
	Packages       int `json:"packages"`
	FileOwnership  int `json:"file_ownership"`
	PackagesState  int `json:"packages_state"`
}

// GetRegistryStats loads every registry under planeRoot/registries and
// reports row counts, with an evidence hash over every registry's sorted
// primary-key column combined.
func GetRegistryStats(planeRoot string) (RegistryStats, EvidencePointer, error) {
	type named struct {
		store *registry.Store
		field string
	}
	stores := []named{
		{registry.New(planeRoot, "registries/frameworks_registry.csv", "framework_id", nil), "framework_id"},
		{registry.New(planeRoot, "registries/specs_registry.csv", "spec_id", nil), "spec_id"},
		{registry.New(planeRoot, "registries/packages_registry.csv", "package_id", nil), "package_id"},
		{registry.New(planeRoot, "registries/file_ownership.csv", "file_path", nil), "file_path"},
		{registry.New(planeRoot, "registries/packages_state.csv", "package_id", nil), "package_id"},
	}

	counts := make([]int, len(stores))
	var hashInputs []string
	for i, s := range stores {
		rows, err := s.store.Load()
		if err != nil {
			return RegistryStats{}, EvidencePointer{}, err
		}
		counts[i] = len(rows)
		hashInputs = append(hashInputs, s.store.MerkleRootOverColumn(rows, s.field))
	}

	stats := RegistryStats{
		Frameworks:    counts[0],
		Specs:         counts[1],
		Packages:      counts[2],
		FileOwnership: counts[3],
		PackagesState: counts[4],
	}
	evidence := registryEvidence(filepath.Join(planeRoot, "registries"), hashutil.HashString(strings.Join(hashInputs, "|")))
	return stats, evidence, nil
}

// GovernanceChain summarizes a ledger's current verification state.
type GovernanceChain struct {
	EntryCount int            `json:"entry_count"`
	Valid      bool           `json:"valid"`
	Issues     []ledger.Issue `json:"issues,omitempty"`
}

// GetGovernanceChain verifies client's full chain and reports the result.
func GetGovernanceChain(client *ledger.Client) (GovernanceChain, EvidencePointer, error) {
	valid, issues, err := client.VerifyChain()
	if err != nil {
		return GovernanceChain{}, EvidencePointer{}, err
	}

	count, err := client.Count()
	if err != nil {
		return GovernanceChain{}, EvidencePointer{}, err
	}

	lastHash := ""
	if entries, err := client.ReadRecent(1); err == nil && len(entries) > 0 {
		lastHash = entries[0].EntryHash
	}

	chain := GovernanceChain{EntryCount: count, Valid: valid, Issues: issues}
	return chain, ledgerEvidence(client.LedgerPath(), 0, count, lastHash), nil
}

// ManifestRequirements is the dependency/asset/target surface of one
// installed package's manifest.
type ManifestRequirements struct {
	PackageID     string           `json:"package_id"`
	TargetPlane   string           `json:"target_plane"`
	Dependencies  []string         `json:"dependencies"`
	Assets        []manifest.Asset `json:"assets"`
	ArtifactPaths []string         `json:"artifact_paths"`
}

// GetManifestRequirements loads the installed manifest for packageID and
// reports its declared requirements.
func GetManifestRequirements(ctx *plane.Context, packageID string) (ManifestRequirements, EvidencePointer, error) {
	manifestPath := filepath.Join(ctx.InstalledDir, packageID, "manifest.json")
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return ManifestRequirements{}, EvidencePointer{}, coreerrors.Wrap(coreerrors.KindStructural, coreerrors.ErrCodeNotFound, fmt.Sprintf("loading manifest for %s", packageID), err)
	}

	reqs := ManifestRequirements{
		PackageID:     m.PackageID,
		TargetPlane:   m.TargetPlane,
		Dependencies:  m.Dependencies,
		Assets:        m.Assets,
		ArtifactPaths: m.ArtifactPaths,
	}
	return reqs, fileEvidence(manifestPath), nil
}

func loadJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
