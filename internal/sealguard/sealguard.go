// Package sealguard implements the Seal Guard (spec section 4.13):
// pre-install and post-install checks layered on top of the Preflight
// Validator and Package Factory, plus drift detection and quarantine for
// already-installed packages.
package sealguard

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
	"github.com/control-plane/governor/internal/packaging"
	"github.com/control-plane/governor/internal/plane"
)

// Check is one named pass/fail step within a Result.
type Check struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// Result aggregates every Check run by one Seal Guard command.
type Result struct {
	Passed      bool     `json:"passed"`
	Checks      []Check  `json:"checks"`
	Warnings    []string `json:"warnings"`
	Quarantined bool     `json:"quarantined"`
	TaintReason string   `json:"taint_reason,omitempty"`
}

func (r *Result) addCheck(name string, passed bool, message string) {
	r.Checks = append(r.Checks, Check{Name: name, Passed: passed, Message: message})
	if !passed {
		r.Passed = false
	}
}

func newResult() *Result { return &Result{Passed: true} }

type receiptFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

type receipt struct {
	ID             string        `json:"id,omitempty"`
	PackageID      string        `json:"package_id"`
	Version        string        `json:"version,omitempty"`
	InstalledAt    string        `json:"installed_at,omitempty"`
	PlaneName      string        `json:"plane_name,omitempty"`
	PlaneRoot      string        `json:"plane_root"`
	ArchiveDigest  string        `json:"archive_digest,omitempty"`
	Files          []receiptFile `json:"files"`
	FactoryVersion string        `json:"factory_version,omitempty"`
	Tainted        bool          `json:"tainted"`
	TaintReason    string        `json:"taint_reason,omitempty"`
	TaintedAt      string        `json:"tainted_at,omitempty"`
}

func receiptPath(ctx *plane.Context, packageID string) string {
	return filepath.Join(ctx.ReceiptsDir, packageID, "receipt.json")
}

func loadReceipt(ctx *plane.Context, packageID string) (*receipt, error) {
	data, err := os.ReadFile(receiptPath(ctx, packageID))
	if err != nil {
		return nil, err
	}
	var rec receipt
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	sort.Slice(rec.Files, func(i, j int) bool { return rec.Files[i].Path < rec.Files[j].Path })
	return &rec, nil
}

// Preflight runs the pre-install checks over an archive: archive
// existence, manifest extraction, and plane target compatibility. It does
// not check tier dependencies, external interface direction, or install
// policy, and declaredDeps is not consulted. It does not replace
// internal/preflight's gate suite; it is the coarser, earlier gate a
// human or CI job runs before handing a package to the factory at all.
func Preflight(archivePath string, ctx *plane.Context, declaredDeps map[string]string) (*Result, error) {
	result := newResult()

	if _, err := os.Stat(archivePath); err != nil {
		result.addCheck("archive_exists", false, fmt.Sprintf("archive not found: %s", archivePath))
		return result, nil
	}
	result.addCheck("archive_exists", true, "archive exists")

	m, err := manifestFromArchive(archivePath)
	if err != nil || m == nil {
		result.addCheck("manifest_valid", false, "could not load manifest.json from archive")
		return result, nil
	}
	result.addCheck("manifest_valid", true, "manifest loaded successfully")

	if ok, msg := checkTargetPlane(m, ctx); ok {
		result.addCheck("target_plane", true, msg)
	} else {
		result.addCheck("target_plane", false, msg)
	}

	return result, nil
}

func checkTargetPlane(m *manifest.Manifest, ctx *plane.Context) (bool, string) {
	declared := m.TargetPlane
	if declared == "" {
		declared = "any"
	}
	if !plane.ValidateTargetPlane(declared, ctx) {
		return false, fmt.Sprintf("package targets plane '%s' but current plane is '%s'", declared, ctx.Name)
	}
	return true, fmt.Sprintf("target plane compatible with '%s'", ctx.Name)
}

func manifestFromArchive(archivePath string) (*manifest.Manifest, error) {
	tmp, err := os.MkdirTemp("", "sealguard-preflight-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	extracted, err := packaging.Unpack(archivePath, tmp, nil)
	if err != nil {
		return nil, err
	}
	for _, rel := range extracted {
		if filepath.Base(rel) == "manifest.json" {
			return manifest.Load(filepath.Join(tmp, rel))
		}
	}
	return nil, coreerrors.NotFound("manifest.json", archivePath)
}

// Postflight runs the post-install checks for an already-installed
// package: the receipt exists, names this plane, and every listed file
// still matches its recorded hash.
func Postflight(ctx *plane.Context, packageID string) (*Result, error) {
	result := newResult()

	rec, err := loadReceipt(ctx, packageID)
	if err != nil {
		result.addCheck("receipt_exists", false, fmt.Sprintf("no receipt found for %s", packageID))
		return result, nil
	}
	result.addCheck("receipt_exists", true, "receipt found")

	if rec.PlaneRoot != "" {
		absRoot, _ := filepath.Abs(ctx.Root)
		absReceiptRoot, _ := filepath.Abs(rec.PlaneRoot)
		if absReceiptRoot != absRoot {
			result.addCheck("receipt_plane_match", false, "receipt root doesn't match current plane root")
		} else {
			result.addCheck("receipt_plane_match", true, "receipt plane matches")
		}
	} else {
		result.addCheck("receipt_plane_match", true, "receipt plane matches")
	}

	checkFileIntegrity(result, ctx, rec)
	return result, nil
}

func checkFileIntegrity(result *Result, ctx *plane.Context, rec *receipt) {
	var missing, mismatched []string
	for _, f := range rec.Files {
		full := filepath.Join(ctx.Root, f.Path)
		actual, err := hashutil.HashFile(full)
		if err != nil {
			missing = append(missing, f.Path)
			continue
		}
		if f.SHA256 != "" && actual != f.SHA256 {
			mismatched = append(mismatched, f.Path)
		}
	}
	if len(missing) == 0 && len(mismatched) == 0 {
		result.addCheck("file_integrity", true, fmt.Sprintf("all %d files verified", len(rec.Files)))
		return
	}
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(mismatched) > 0 {
		parts = append(parts, "hash mismatch: "+strings.Join(mismatched, ", "))
	}
	result.addCheck("file_integrity", false, strings.Join(parts, "; "))
}

// DriftCheck walks every receipt under ctx.ReceiptsDir belonging to ctx's
// plane root and reports packages whose installed files no longer match
// their recorded hashes.
func DriftCheck(ctx *plane.Context) (*Result, error) {
	result := newResult()

	entries, err := os.ReadDir(ctx.ReceiptsDir)
	if err != nil {
		if os.IsNotExist(err) {
			result.Warnings = append(result.Warnings, "no receipts directory found")
			return result, nil
		}
		return nil, err
	}

	absRoot, _ := filepath.Abs(ctx.Root)
	var checked int
	var drifted []string

	var pkgIDs []string
	for _, e := range entries {
		if e.IsDir() {
			pkgIDs = append(pkgIDs, e.Name())
		}
	}
	sort.Strings(pkgIDs)

	for _, pkgID := range pkgIDs {
		rec, err := loadReceipt(ctx, pkgID)
		if err != nil {
			result.Warnings = append(result.Warnings, "could not read receipt: "+pkgID)
			continue
		}
		if rec.PlaneRoot != "" {
			absReceiptRoot, _ := filepath.Abs(rec.PlaneRoot)
			if absReceiptRoot != absRoot {
				continue
			}
		}
		checked++
		if hasDrift(ctx, rec) {
			drifted = append(drifted, pkgID)
		}
	}

	if len(drifted) > 0 {
		result.addCheck("drift_detection", false, fmt.Sprintf("drift detected in %d packages: %s", len(drifted), strings.Join(drifted, ", ")))
	} else {
		result.addCheck("drift_detection", true, fmt.Sprintf("no drift detected in %d packages", checked))
	}
	return result, nil
}

func hasDrift(ctx *plane.Context, rec *receipt) bool {
	for _, f := range rec.Files {
		full := filepath.Join(ctx.Root, f.Path)
		actual, err := hashutil.HashFile(full)
		if err != nil {
			return true
		}
		if f.SHA256 != "" && actual != f.SHA256 {
			return true
		}
	}
	return false
}

// Quarantine marks an installed package's receipt as tainted and writes a
// ledger entry recording the reason, if client is non-nil.
func Quarantine(ctx *plane.Context, packageID, reason string, client *ledger.Client) (*Result, error) {
	result := newResult()

	rec, err := loadReceipt(ctx, packageID)
	if err != nil {
		result.addCheck("quarantine", false, fmt.Sprintf("no receipt found for %s", packageID))
		return result, nil
	}

	rec.Tainted = true
	rec.TaintReason = reason
	rec.TaintedAt = ledger.NowISO()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(receiptPath(ctx, packageID), data, 0o644); err != nil {
		result.addCheck("quarantine", false, fmt.Sprintf("failed to update receipt: %v", err))
		return result, nil
	}

	result.addCheck("quarantine", true, fmt.Sprintf("package %s marked as TAINTED", packageID))
	result.Quarantined = true
	result.TaintReason = reason

	if client != nil {
		e := ledger.NewEntry("PACKAGE_QUARANTINE", packageID, "TAINTED", reason)
		e.Metadata["plane"] = ctx.Name
		e.Metadata["plane_root"] = ctx.Root
		if _, err := client.Write(e); err != nil {
			result.Warnings = append(result.Warnings, "could not log to ledger: "+err.Error())
		}
	}

	return result, nil
}
