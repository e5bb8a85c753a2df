package factory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/control-plane/governor/internal/hashutil"
	"github.com/control-plane/governor/internal/ledger"
	"github.com/control-plane/governor/internal/manifest"
	"github.com/control-plane/governor/internal/plane"
	"github.com/control-plane/governor/internal/tier"
)

func buildSource(t *testing.T) (string, []manifest.Asset) {
	t.Helper()
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "lib", "a.py"), []byte("x"), 0o644))
	hash, err := hashutil.HashFile(filepath.Join(src, "lib", "a.py"))
	require.NoError(t, err)
	return src, []manifest.Asset{{Path: "lib/a.py", SHA256: hash}}
}

func newPlaneClient(t *testing.T, planeRoot string) *ledger.Client {
	t.Helper()
	client, err := ledger.New(planeRoot, filepath.Join(planeRoot, "ledger", "governance.jsonl"), ledger.Options{EnableIndex: false, BatchSize: 1})
	require.NoError(t, err)
	return client
}

func baseOptions(t *testing.T, planeRoot string) Options {
	src, assets := buildSource(t)
	m := &manifest.Manifest{PackageID: "PKG-A", Assets: assets, TargetPlane: "any"}
	return Options{
		SourceDir:      src,
		PackageID:      "PKG-A",
		PlaneRoot:      planeRoot,
		LedgerPath:     filepath.Join(planeRoot, "ledger", "governance.jsonl"),
		Manifest:       m,
		CurrentPlane:   &plane.Context{Name: "ho2", Type: tier.HO2},
		AllowUnsigned:  true,
		AllowUnattested: true,
		FactoryVersion: "1.0.0",
		Builder:        "test",
	}
}

func TestRun_PassesThroughG6WithoutInstall(t *testing.T) {
	planeRoot := t.TempDir()
	client := newPlaneClient(t, planeRoot)
	defer client.Close()

	outcome, err := Run(baseOptions(t, planeRoot), client)
	require.NoError(t, err)
	require.True(t, outcome.Passed())
	require.NotEmpty(t, outcome.Digest)

	gates := gateNames(outcome.Results)
	require.Equal(t, []string{
		"G1", "G2", "G2b",
		"PREFLIGHT_SCHEMA", "PREFLIGHT_MANIFEST", "PREFLIGHT_G0A", "PREFLIGHT_G1", "PREFLIGHT_OWN", "PREFLIGHT_G5",
		"G3", "G4", "G5", "G6",
	}, gates)
}

func TestRun_G1FailsOnPackageIDMismatch(t *testing.T) {
	planeRoot := t.TempDir()
	client := newPlaneClient(t, planeRoot)
	defer client.Close()

	opts := baseOptions(t, planeRoot)
	opts.Manifest.PackageID = "PKG-WRONG"

	outcome, err := Run(opts, client)
	require.NoError(t, err)
	require.False(t, outcome.Passed())
	require.Len(t, outcome.Results, 1)
	require.Equal(t, "G1", outcome.Results[0].Gate)
}

func TestRun_G2RejectsGenesisPackageWithDependencies(t *testing.T) {
	planeRoot := t.TempDir()
	client := newPlaneClient(t, planeRoot)
	defer client.Close()

	opts := baseOptions(t, planeRoot)
	opts.Manifest.Dependencies = []string{"PKG-OTHER"}

	outcome, err := Run(opts, client)
	require.NoError(t, err)
	require.False(t, outcome.Passed())
	require.Equal(t, "G2", outcome.Results[len(outcome.Results)-1].Gate)
}

func TestRun_G2bRejectsPlaneMismatch(t *testing.T) {
	planeRoot := t.TempDir()
	client := newPlaneClient(t, planeRoot)
	defer client.Close()

	opts := baseOptions(t, planeRoot)
	opts.Manifest.TargetPlane = "ho1"

	outcome, err := Run(opts, client)
	require.NoError(t, err)
	require.False(t, outcome.Passed())
	require.Equal(t, "G2b", outcome.Results[len(outcome.Results)-1].Gate)
}

func TestRun_FullInstallPipelinePassesAllGates(t *testing.T) {
	planeRoot := t.TempDir()
	client := newPlaneClient(t, planeRoot)
	defer client.Close()

	opts := baseOptions(t, planeRoot)
	opts.Install = true

	outcome, err := Run(opts, client)
	require.NoError(t, err)
	require.True(t, outcome.Passed())

	gates := gateNames(outcome.Results)
	require.Equal(t, []string{
		"G1", "G2", "G2b",
		"PREFLIGHT_SCHEMA", "PREFLIGHT_MANIFEST", "PREFLIGHT_G0A", "PREFLIGHT_G1", "PREFLIGHT_OWN", "PREFLIGHT_G5",
		"G3", "G4", "G5", "G6", "G7", "G8", "G9",
	}, gates)

	require.FileExists(t, filepath.Join(planeRoot, "installed", "PKG-A", "receipt.json"))
	require.FileExists(t, filepath.Join(planeRoot, "installed", "PKG-A", "manifest.json"))
	require.FileExists(t, filepath.Join(planeRoot, "registries", "file_ownership.csv"))
	require.FileExists(t, filepath.Join(planeRoot, "registries", "packages_state.csv"))
}

func TestRun_G4FailsWhenUnsignedAndNotAllowed(t *testing.T) {
	planeRoot := t.TempDir()
	client := newPlaneClient(t, planeRoot)
	defer client.Close()

	opts := baseOptions(t, planeRoot)
	opts.AllowUnsigned = false

	outcome, err := Run(opts, client)
	require.NoError(t, err)
	require.False(t, outcome.Passed())
	require.Equal(t, "G4", outcome.Results[len(outcome.Results)-1].Gate)
}

func gateNames(results []GateResult) []string {
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Gate
	}
	return names
}
