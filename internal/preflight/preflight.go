// Package preflight implements the Preflight Validator (spec section
// 4.10): a composed suite of gates run in a fixed order, each returning a
// Result; run_all stops early only on a MANIFEST failure, since that
// signals the manifest isn't even structurally usable.
package preflight

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/control-plane/governor/internal/hashutil"
	"github.com/control-plane/governor/internal/manifest"
	"github.com/control-plane/governor/internal/registry"
)

// Result is the outcome of one gate.
type Result struct {
	Gate     string   `json:"gate"`
	Passed   bool     `json:"passed"`
	Message  string   `json:"message"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r Result) String() string {
	status := "FAIL"
	if r.Passed {
		status = "PASS"
	}
	s := r.Gate + ": " + status + " - " + r.Message
	for _, e := range r.Errors {
		s += "\n  error: " + e
	}
	for _, w := range r.Warnings {
		s += "\n  warning: " + w
	}
	return s
}

// AnyFailed reports whether any result in results did not pass.
func AnyFailed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}

// RunSchema is the SCHEMA gate: a lightweight structural check of the raw
// manifest JSON, independent of anything registry- or plane-related.
// Required top-level fields must be present with the right JSON kind.
func RunSchema(raw map[string]interface{}) Result {
	var errs []string

	pkgID, ok := raw["package_id"]
	if !ok {
		errs = append(errs, "SCHEMA_MISSING: 'package_id' is required")
	} else if _, isString := pkgID.(string); !isString {
		errs = append(errs, "SCHEMA_TYPE: 'package_id' must be a string")
	}

	assets, ok := raw["assets"]
	if !ok {
		errs = append(errs, "SCHEMA_MISSING: 'assets' is required")
	} else if _, isList := assets.([]interface{}); !isList {
		errs = append(errs, "SCHEMA_TYPE: 'assets' must be a list")
	}

	passed := len(errs) == 0
	msg := "schema structurally valid"
	if !passed {
		msg = "schema validation failed"
	}
	return Result{Gate: "SCHEMA", Passed: passed, Message: msg, Errors: errs}
}

// RunManifest is the MANIFEST gate: package_id matches expected, assets is
// a list (already guaranteed by the Go type, but schema_version is
// checked against the known set).
func RunManifest(m *manifest.Manifest, expectedID string) Result {
	var errs, warnings []string

	if m.PackageID == "" {
		errs = append(errs, "MANIFEST_FIELD_MISSING: 'package_id' is required")
	} else if m.PackageID != expectedID {
		errs = append(errs, "MANIFEST_ID_MISMATCH: manifest says '"+m.PackageID+"' but expected '"+expectedID+"'")
	}

	schemaVersion := m.SchemaVersion
	if schemaVersion == "" {
		schemaVersion = "1.0"
	}
	if !manifest.KnownSchemaVersions[schemaVersion] {
		warnings = append(warnings, "MANIFEST_SCHEMA: unknown schema version '"+schemaVersion+"'")
	}

	passed := len(errs) == 0
	msg := "manifest structure valid"
	if !passed {
		msg = "manifest validation failed"
	}
	return Result{Gate: "MANIFEST", Passed: passed, Message: msg, Errors: errs, Warnings: warnings}
}

// RunG0A is the G0A (PACKAGE DECLARATION) gate: every workspace file is
// declared with a matching hash, and every asset path/hash is well-formed.
func RunG0A(m *manifest.Manifest, workspaceFiles map[string]string) Result {
	var errs []string
	byPath := m.AssetsByPath()

	for relPath, diskPath := range workspaceFiles {
		asset, declared := byPath[relPath]
		if !declared {
			errs = append(errs, "UNDECLARED: '"+relPath+"' in package but not in manifest")
			continue
		}
		actualHash, err := hashutil.HashFile(diskPath)
		if err != nil {
			errs = append(errs, "HASH_UNREADABLE: '"+relPath+"': "+err.Error())
			continue
		}
		if asset.SHA256 != actualHash {
			errs = append(errs, "HASH_MISMATCH: '"+relPath+"' expected "+truncate(asset.SHA256, 20)+"..., got "+truncate(actualHash, 20)+"...")
		}
	}

	for _, asset := range m.Assets {
		if strings.Contains(asset.Path, "..") {
			errs = append(errs, "PATH_ESCAPE: '"+asset.Path+"' contains '..'")
		}
		if strings.HasPrefix(asset.Path, "/") {
			errs = append(errs, "PATH_ESCAPE: '"+asset.Path+"' is absolute")
		}
		if asset.SHA256 == "" {
			errs = append(errs, "HASH_MISSING: '"+asset.Path+"' has no sha256 hash")
		} else if !strings.HasPrefix(asset.SHA256, hashutil.Prefix) || len(asset.SHA256) != len(hashutil.Prefix)+64 {
			errs = append(errs, "HASH_FORMAT: '"+asset.Path+"' hash not in sha256:<64hex> format")
		}
	}

	passed := len(errs) == 0
	msg := strconv.Itoa(len(m.Assets)) + " assets validated"
	if !passed {
		msg = strconv.Itoa(len(errs)) + " validation errors"
	}
	return Result{Gate: "G0A", Passed: passed, Message: msg, Errors: errs}
}

// RunG1 is the G1 (CHAIN) gate: spec_id/framework_id registration and
// dependency ID shape.
func RunG1(m *manifest.Manifest, planeRoot string, strict bool) Result {
	var errs, warnings []string

	for _, dep := range m.Dependencies {
		if !strings.HasPrefix(dep, "PKG-") {
			errs = append(errs, "INVALID_DEP: '"+dep+"' is not a valid package ID")
		}
	}

	specsReg := registry.New(planeRoot, "registries/specs_registry.csv", "spec_id", nil)
	specRows, _ := specsReg.Load()
	frameworksReg := registry.New(planeRoot, "registries/frameworks_registry.csv", "framework_id", nil)
	frameworkRows, _ := frameworksReg.Load()

	var specRow registry.Row
	if m.SpecID != "" {
		specRow = specsReg.Find(specRows, m.SpecID)
		if strict && specRow == nil {
			errs = append(errs, "SPEC_NOT_FOUND: '"+m.SpecID+"' not in specs_registry")
		}
	} else if strict {
		errs = append(errs, "SPEC_MISSING: spec_id is required in strict mode")
	}

	if specRow != nil {
		specFramework := specRow["framework_id"]
		if specFramework != "" {
			if frameworksReg.Find(frameworkRows, specFramework) == nil {
				errs = append(errs, "FRAMEWORK_NOT_FOUND: '"+specFramework+"' not in frameworks_registry")
			}
			if m.FrameworkID != "" && m.FrameworkID != specFramework {
				errs = append(errs, "FRAMEWORK_MISMATCH: manifest declares '"+m.FrameworkID+"' but spec resolves to '"+specFramework+"'")
			}
		}

		specPackManifest := filepath.Join(planeRoot, "specs", m.SpecID, "manifest.yaml")
		if _, err := os.Stat(specPackManifest); err != nil {
			warnings = append(warnings, "SPEC_PACK_MISSING: "+specPackManifest+" does not exist")
		} else if missing := assetsNotInSpecPack(specPackManifest, m.Assets); len(missing) > 0 {
			warnings = append(warnings, "ASSET_NOT_IN_SPEC: "+strings.Join(missing, ", "))
		}
	}

	passed := len(errs) == 0
	msg := "dependency chain valid"
	if !passed {
		msg = strconv.Itoa(len(errs)) + " chain errors"
	}
	return Result{Gate: "G1", Passed: passed, Message: msg, Errors: errs, Warnings: warnings}
}

// assetsNotInSpecPack is a best-effort check: the spec pack manifest.yaml
// is a plain document listing asset paths it expects. We scan its raw
// text for each package asset path rather than pulling in a YAML subset
// parser for this single warning-level check.
func assetsNotInSpecPack(specPackManifest string, assets []manifest.Asset) []string {
	data, err := os.ReadFile(specPackManifest)
	if err != nil {
		return nil
	}
	text := string(data)
	var missing []string
	for _, a := range assets {
		if !strings.Contains(text, a.Path) {
			missing = append(missing, a.Path)
		}
	}
	return missing
}

// RunOwn is the OWN (OWNERSHIP) gate: no last-write-wins. A reinstall by
// the same owner is idempotent; a transfer to a direct dependency is a
// warning; anything else is a hard conflict.
func RunOwn(m *manifest.Manifest, existingOwnership map[string]registry.Row, packageID string) Result {
	var errs, warnings []string

	deps := make(map[string]bool, len(m.Dependencies))
	for _, d := range m.Dependencies {
		deps[d] = true
	}

	for _, asset := range m.Assets {
		row, owned := existingOwnership[asset.Path]
		if !owned {
			continue
		}
		owner := row["owner_package_id"]
		if owner == "" || owner == packageID {
			continue // idempotent reinstall
		}
		if deps[owner] {
			warnings = append(warnings, "OWNERSHIP_TRANSFER: '"+asset.Path+"' transferring from '"+owner+"' to '"+packageID+"'")
			continue
		}
		errs = append(errs, "OWNERSHIP_CONFLICT: '"+asset.Path+"' already owned by '"+owner+"', cannot assign to '"+packageID+"'")
	}

	passed := len(errs) == 0
	msg := "no ownership conflicts"
	if !passed {
		msg = strconv.Itoa(len(errs)) + " conflicts found"
	}
	return Result{Gate: "OWN", Passed: passed, Message: msg, Errors: errs, Warnings: warnings}
}

// RunG5 is the G5 (SIGNATURE) gate: pass if a .sig sidecar exists next to
// the archive; warn-and-pass if absent but unsigned packages are allowed;
// otherwise fail.
func RunG5(archivePath string, allowUnsigned bool) Result {
	var errs, warnings []string
	hasSig := false
	if archivePath != "" {
		if _, err := os.Stat(archivePath + ".sig"); err == nil {
			hasSig = true
		}
	}

	var msg string
	switch {
	case hasSig:
		msg = "signature present"
	case allowUnsigned:
		warnings = append(warnings, "SIGNATURE_WAIVED: package is unsigned (allowed by policy)")
		msg = "signature waived"
	default:
		errs = append(errs, "SIGNATURE_MISSING: package is not signed")
		msg = strconv.Itoa(len(errs)) + " signature errors"
	}

	return Result{Gate: "G5", Passed: len(errs) == 0, Message: msg, Errors: errs, Warnings: warnings}
}

// Request bundles everything RunAll needs for one package's preflight.
type Request struct {
	RawManifest       map[string]interface{}
	Manifest          *manifest.Manifest
	PackageID         string
	PlaneRoot         string
	WorkspaceFiles    map[string]string // declared asset path -> on-disk path
	ExistingOwnership map[string]registry.Row
	ArchivePath       string
	AllowUnsigned     bool
	Strict            bool
}

// RunAll runs every gate in spec order (SCHEMA, MANIFEST, G0A, G1, OWN,
// G5), stopping early only if MANIFEST fails — a manifest that can't even
// be read as itself makes every later gate meaningless.
func RunAll(req Request) []Result {
	var results []Result

	results = append(results, RunSchema(req.RawManifest))

	manifestResult := RunManifest(req.Manifest, req.PackageID)
	results = append(results, manifestResult)
	if !manifestResult.Passed {
		return results
	}

	results = append(results, RunG0A(req.Manifest, req.WorkspaceFiles))
	results = append(results, RunG1(req.Manifest, req.PlaneRoot, req.Strict))

	ownership := req.ExistingOwnership
	if ownership == nil {
		ownership = loadOwnership(req.PlaneRoot)
	}
	results = append(results, RunOwn(req.Manifest, ownership, req.PackageID))
	results = append(results, RunG5(req.ArchivePath, req.AllowUnsigned))

	return results
}

func loadOwnership(planeRoot string) map[string]registry.Row {
	store := registry.New(planeRoot, "registries/file_ownership.csv", "file_path", nil)
	rows, err := store.Load()
	if err != nil {
		return map[string]registry.Row{}
	}
	out := make(map[string]registry.Row, len(rows))
	for _, r := range rows {
		if fp := r["file_path"]; fp != "" {
			out[fp] = r
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
