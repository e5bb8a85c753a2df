// Package factory implements the Package Factory (spec section 4.12):
// end-to-end orchestration of a package build, each phase a named gate
// that writes a ledger entry and short-circuits the pipeline on failure.
package factory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	coreerrors "github.com/control-plane/governor/infrastructure/errors"
	"github.com/control-plane/governor/infrastructure/metrics"
	"github.com/control-plane/governor/internal/derived"
	"github.com/control-plane/governor/internal/hashutil"
	"github.com/control-plane/governor/internal/ledger"
	"github.com/control-plane/governor/internal/manifest"
	"github.com/control-plane/governor/internal/packaging"
	"github.com/control-plane/governor/internal/pathclass"
	"github.com/control-plane/governor/internal/plane"
	"github.com/control-plane/governor/internal/preflight"
	"github.com/control-plane/governor/internal/registry"
	"github.com/control-plane/governor/internal/signing"
	"github.com/control-plane/governor/internal/tier"
)

// GateResult is one factory gate's outcome.
type GateResult struct {
	Gate    string `json:"gate"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
	Warning bool   `json:"warning,omitempty"` // true if Passed=false but the gate is warn-only
}

// Options configures one factory run.
type Options struct {
	SourceDir      string
	PackageID      string
	PlaneRoot      string
	LedgerPath     string
	Manifest       *manifest.Manifest
	CurrentPlane   *plane.Context
	SourcePlane    *plane.Context // the plane declaring an external interface this package references, if any
	TierDepOf      map[tier.Name]tier.Name // package's own tier -> its single declared dependency tier, for G2 (nil/absent = genesis package)
	Sign           bool
	SigningKey     []byte
	AllowUnsigned  bool
	Attest         bool
	AllowUnattested bool
	Install        bool
	Strict         bool // require spec_id and its registry resolution during the preflight suite's G1 gate
	FactoryVersion string
	Builder        string
}

// Outcome is the full result of a factory run.
type Outcome struct {
	Results     []GateResult
	ArchivePath string
	Digest      string
}

// Passed reports whether every non-warn-only gate passed.
func (o Outcome) Passed() bool {
	for _, r := range o.Results {
		if !r.Passed && !r.Warning {
			return false
		}
	}
	return true
}

// Run executes the full pipeline, writing one ledger entry per gate via
// client, and stopping at the first non-warn-only failure.
func Run(opts Options, client *ledger.Client) (Outcome, error) {
	var out Outcome

	record := func(gate string, passed bool, message string, warnOnly bool) GateResult {
		r := GateResult{Gate: gate, Passed: passed, Message: message, Warning: warnOnly && !passed}
		out.Results = append(out.Results, r)

		decision := "PASSED"
		if !passed {
			decision = "FAILED"
			if warnOnly {
				decision = "WARNED"
			}
		}
		e := ledger.NewEntry("GATE", opts.PackageID, decision, message)
		e.Metadata["gate"] = gate
		e.Metadata["package_id"] = opts.PackageID
		if client != nil {
			_, _ = client.Write(e)
		}
		if metrics.Enabled() {
			metrics.Global().RecordGate("packagefactory", gate, passed)
		}
		return r
	}

	stopOn := func(r GateResult) bool { return !r.Passed && !r.Warning }

	// G1: manifest schema valid.
	g1 := validateManifestSchema(opts.Manifest, opts.PackageID)
	if r := record("G1", g1 == nil, schemaMessage(g1), false); stopOn(r) {
		return out, nil
	}

	// G2: tier dependency rule.
	g2err := validateTierDependency(opts)
	if r := record("G2", g2err == nil, tierDepMessage(g2err), false); stopOn(r) {
		return out, nil
	}

	// G2b: plane rules.
	g2bErr := validatePlaneRules(opts)
	if r := record("G2b", g2bErr == nil, planeRulesMessage(g2bErr), false); stopOn(r) {
		return out, nil
	}

	// G2c: preflight suite (SCHEMA, MANIFEST, G0A, G1, OWN, G5-waived), run
	// ahead of packing over the plane's current ownership registry. G5 is
	// waived here since no archive exists yet; the factory's own G4 below
	// is the real signature enforcement point.
	preflightResults, err := runPreflightSuite(opts)
	if err != nil {
		return out, err
	}
	for _, pr := range preflightResults {
		record("PREFLIGHT_"+pr.Gate, pr.Passed, pr.Message, false)
	}
	if preflight.AnyFailed(preflightResults) {
		return out, nil
	}

	// G3: deterministic packing.
	archivePath := filepath.Join(opts.PlaneRoot, "packages_store", opts.PackageID+"_"+filepath.Base(opts.SourceDir)+".tar.gz")
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return out, err
	}
	digest, err := packaging.Pack(opts.SourceDir, archivePath)
	if err != nil {
		record("G3", false, "pack failed: "+err.Error(), false)
		return out, nil
	}
	out.ArchivePath = archivePath
	out.Digest = digest
	record("G3", true, "archive packed deterministically", false)

	// G4: signature.
	g4err := applySignature(opts, archivePath, digest)
	if r := record("G4", g4err == nil, signatureMessage(g4err), false); stopOn(r) {
		return out, nil
	}

	// G5: attestation.
	g5err := writeAttestation(opts, archivePath, digest)
	if r := record("G5", g5err == nil, attestationMessage(g5err), false); stopOn(r) {
		return out, nil
	}

	// G6: register.
	g6err := registerPackage(opts, digest)
	if r := record("G6", g6err == nil, registerMessage(g6err), false); stopOn(r) {
		return out, nil
	}

	if !opts.Install {
		return out, nil
	}

	// G7: install.
	g7err := installPackage(opts, archivePath, digest)
	if r := record("G7", g7err == nil, installMessage(g7err), false); stopOn(r) {
		return out, nil
	}
	if err := recordInstalled(client, opts); err != nil {
		return out, err
	}

	// G8: integrity (warn-only).
	g8err := verifyIntegrity(opts)
	record("G8", g8err == nil, integrityMessage(g8err), true)

	// G9: ledger verify after install (warn-only).
	valid, issues, g9err := verifyLedgerAfterInstall(client)
	msg := "ledger chain verified"
	if g9err != nil {
		msg = g9err.Error()
	} else if !valid {
		msg = ledgerIssuesSummary(issues)
	}
	record("G9", g9err == nil && valid, msg, true)

	return out, nil
}

func validateManifestSchema(m *manifest.Manifest, expectedID string) error {
	if m == nil {
		return coreerrors.MissingField("manifest")
	}
	if m.PackageID == "" || m.PackageID != expectedID {
		return coreerrors.SchemaViolation("package_id missing or does not match " + expectedID)
	}
	if m.Assets == nil {
		return coreerrors.SchemaViolation("assets must be present")
	}
	return nil
}

func schemaMessage(err error) string {
	if err == nil {
		return "manifest schema valid"
	}
	return err.Error()
}

// validateTierDependency enforces spec 4.12's G2 rule: a tier may only
// depend on equal-or-higher privilege; a genesis-tier package (no
// declared tier dependency) must have zero package dependencies.
func validateTierDependency(opts Options) error {
	if len(opts.TierDepOf) == 0 {
		if len(opts.Manifest.Dependencies) > 0 {
			return coreerrors.New(coreerrors.KindPolicy, coreerrors.ErrCodePolicyViolation, "genesis-tier package must have zero dependencies")
		}
		return nil
	}
	for ownTier, depTier := range opts.TierDepOf {
		if !depTier.AtLeast(ownTier) {
			return coreerrors.New(coreerrors.KindPolicy, coreerrors.ErrCodePolicyViolation, "tier "+string(ownTier)+" may not depend on lower-privilege tier "+string(depTier))
		}
	}
	return nil
}

func tierDepMessage(err error) string {
	if err == nil {
		return "tier dependency rule satisfied"
	}
	return err.Error()
}

func validatePlaneRules(opts Options) error {
	declared := opts.Manifest.TargetPlane
	if declared == "" {
		declared = "any"
	}
	if !plane.ValidateTargetPlane(declared, opts.CurrentPlane) {
		return coreerrors.New(coreerrors.KindPolicy, coreerrors.ErrCodePolicyViolation, "target_plane '"+declared+"' does not match current plane")
	}
	if opts.SourcePlane != nil && !plane.ValidateExternalInterfaceDirection(opts.CurrentPlane, opts.SourcePlane) {
		return coreerrors.New(coreerrors.KindPolicy, coreerrors.ErrCodePolicyViolation, "external interface direction violated: "+opts.SourcePlane.Name+" is lower-privilege than "+opts.CurrentPlane.Name)
	}
	return nil
}

func planeRulesMessage(err error) string {
	if err == nil {
		return "plane rules satisfied"
	}
	return err.Error()
}

func applySignature(opts Options, archivePath, digest string) error {
	sigPath := signing.SidecarPath(archivePath)
	if !opts.Sign {
		if opts.AllowUnsigned {
			return nil
		}
		return coreerrors.New(coreerrors.KindGate, coreerrors.ErrCodeGateFailed, "SIGNATURE_MISSING: package is not signed")
	}
	sig, err := signing.Sign(opts.SigningKey, opts.PackageID, digest)
	if err != nil {
		return err
	}
	return os.WriteFile(sigPath, signing.FormatSidecar(sig), 0o644)
}

func signatureMessage(err error) string {
	if err == nil {
		return "signature applied"
	}
	return err.Error()
}

type attestationRecord struct {
	Builder        string `json:"builder"`
	BuildTimestamp string `json:"build_timestamp"`
	BuildEnvHash   string `json:"build_env_hash"`
	FactoryVersion string `json:"factory_version"`
}

func writeAttestation(opts Options, archivePath, digest string) error {
	if !opts.Attest {
		if opts.AllowUnattested {
			return nil
		}
		return coreerrors.New(coreerrors.KindGate, coreerrors.ErrCodeGateFailed, "ATTESTATION_MISSING: package is not attested")
	}

	record := attestationRecord{
		Builder:        opts.Builder,
		BuildTimestamp: ledger.NowISO(),
		BuildEnvHash:   hashutil.HashString(strings.Join(os.Environ(), "\n")),
		FactoryVersion: opts.FactoryVersion,
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	_ = digest
	return os.WriteFile(archivePath+".attest.json", data, 0o644)
}

func attestationMessage(err error) string {
	if err == nil {
		return "attestation recorded"
	}
	return err.Error()
}

func registerPackage(opts Options, digest string) error {
	store := registry.New(opts.PlaneRoot, "registries/packages_registry.csv", "package_id", []string{"package_id", "digest", "registered_at"})
	rows, err := store.Load()
	if err != nil {
		return err
	}
	rows = append(rows, registry.Row{"package_id": opts.PackageID, "digest": digest, "registered_at": ledger.NowISO()})
	return store.Write(rows, pathclass.ModeNormal, func(string, string) {})
}

func registerMessage(err error) string {
	if err == nil {
		return "package registered"
	}
	return err.Error()
}

// runPreflightSuite builds a preflight.Request from opts and runs the
// SCHEMA/MANIFEST/G0A/G1/OWN/G5 gate suite, ahead of packing. The OWN gate
// runs against whatever file_ownership.csv currently holds for the plane,
// which is exactly what lets it catch a real ownership conflict rather than
// only the conflicts exercised by internal/preflight's own tests.
func runPreflightSuite(opts Options) ([]preflight.Result, error) {
	raw, err := manifestRawMap(opts.Manifest)
	if err != nil {
		return nil, err
	}
	req := preflight.Request{
		RawManifest:    raw,
		Manifest:       opts.Manifest,
		PackageID:      opts.PackageID,
		PlaneRoot:      opts.PlaneRoot,
		WorkspaceFiles: workspaceFiles(opts.SourceDir, opts.Manifest),
		AllowUnsigned:  true,
		Strict:         opts.Strict,
	}
	return preflight.RunAll(req), nil
}

// workspaceFiles maps each declared asset path that actually exists under
// sourceDir to its on-disk location, for the G0A gate.
func workspaceFiles(sourceDir string, m *manifest.Manifest) map[string]string {
	out := make(map[string]string, len(m.Assets))
	for _, a := range m.Assets {
		full := filepath.Join(sourceDir, a.Path)
		if _, err := os.Stat(full); err == nil {
			out[a.Path] = full
		}
	}
	return out
}

// manifestRawMap round-trips m through JSON to produce the raw
// map[string]interface{} the SCHEMA gate inspects independent of the
// already-typed Manifest.
func manifestRawMap(m *manifest.Manifest) (map[string]interface{}, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// recordInstalled emits the INSTALLED ledger entry the Derived-State
// Rebuilder replays to populate file_ownership.csv and packages_state.csv,
// then rebuilds and writes those registries so a real install leaves them
// reflecting reality rather than only test fixtures.
func recordInstalled(client *ledger.Client, opts Options) error {
	if client == nil {
		return nil
	}

	paths := make([]string, len(opts.Manifest.Assets))
	for i, a := range opts.Manifest.Assets {
		paths[i] = a.Path
	}
	sort.Strings(paths)

	e := ledger.NewEntry(derived.InstalledEvent, opts.PackageID, "INSTALLED", "package installed")
	e.Metadata["package_id"] = opts.PackageID
	e.Metadata["paths"] = paths
	if _, err := client.Write(e); err != nil {
		return err
	}
	if err := client.Flush(); err != nil {
		return err
	}

	result, err := derived.Rebuild(opts.PlaneRoot, opts.LedgerPath)
	if err != nil {
		return err
	}
	return derived.Write(opts.PlaneRoot, result, func(string, string) {})
}

type receiptFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

type receipt struct {
	ID             string        `json:"id"`
	PackageID      string        `json:"package_id"`
	Version        string        `json:"version,omitempty"`
	InstalledAt    string        `json:"installed_at"`
	PlaneRoot      string        `json:"plane_root"`
	ArchiveDigest  string        `json:"archive_digest"`
	Files          []receiptFile `json:"files"`
	FactoryVersion string        `json:"factory_version,omitempty"`
	Tainted        bool          `json:"tainted"`
	TaintReason    string        `json:"taint_reason,omitempty"`
	TaintedAt      string        `json:"tainted_at,omitempty"`
}

func installPackage(opts Options, archivePath, digest string) error {
	installDir := filepath.Join(opts.PlaneRoot, "installed", opts.PackageID)
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return err
	}
	if err := manifest.Save(filepath.Join(installDir, "manifest.json"), opts.Manifest); err != nil {
		return err
	}

	extracted, err := packaging.Unpack(archivePath, opts.PlaneRoot, opts.Manifest.ArtifactPaths)
	if err != nil {
		return err
	}
	sort.Strings(extracted)

	files := make([]receiptFile, 0, len(extracted))
	for _, rel := range extracted {
		h, err := hashutil.HashFile(filepath.Join(opts.PlaneRoot, rel))
		if err != nil {
			return err
		}
		files = append(files, receiptFile{Path: rel, SHA256: h})
	}

	rec := receipt{
		ID:             "RCPT-" + opts.PackageID,
		PackageID:      opts.PackageID,
		Version:        opts.Manifest.Version,
		InstalledAt:    ledger.NowISO(),
		PlaneRoot:      opts.PlaneRoot,
		ArchiveDigest:  digest,
		Files:          files,
		FactoryVersion: opts.FactoryVersion,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(installDir, "receipt.json"), data, 0o644)
}

func installMessage(err error) string {
	if err == nil {
		return "package installed"
	}
	return err.Error()
}

func verifyIntegrity(opts Options) error {
	installDir := filepath.Join(opts.PlaneRoot, "installed", opts.PackageID)
	data, err := os.ReadFile(filepath.Join(installDir, "receipt.json"))
	if err != nil {
		return err
	}
	var rec receipt
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}

	var mismatched []string
	for _, f := range rec.Files {
		actual, err := hashutil.HashFile(filepath.Join(opts.PlaneRoot, f.Path))
		if err != nil || actual != f.SHA256 {
			mismatched = append(mismatched, f.Path)
		}
	}
	if len(mismatched) > 0 {
		return coreerrors.ReceiptMismatch(opts.PackageID, strings.Join(mismatched, ", "))
	}
	return nil
}

func integrityMessage(err error) string {
	if err == nil {
		return "installed files match receipt"
	}
	return err.Error()
}

func verifyLedgerAfterInstall(client *ledger.Client) (bool, []ledger.Issue, error) {
	if client == nil {
		return true, nil, nil
	}
	return client.VerifyChain()
}

func ledgerIssuesSummary(issues []ledger.Issue) string {
	var parts []string
	for _, i := range issues {
		parts = append(parts, i.String())
	}
	return strings.Join(parts, "; ")
}
