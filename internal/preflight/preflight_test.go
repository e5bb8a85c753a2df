package preflight

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/control-plane/governor/internal/hashutil"
	"github.com/control-plane/governor/internal/manifest"
	"github.com/control-plane/governor/internal/pathclass"
	"github.com/control-plane/governor/internal/registry"
)

func writeAsset(t *testing.T, dir, rel, content string) string {
	t.Helper()
	full := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	return full
}

func TestRunSchema_MissingFields(t *testing.T) {
	result := RunSchema(map[string]interface{}{})
	require.False(t, result.Passed)
	require.Len(t, result.Errors, 2)
}

func TestRunSchema_WrongType(t *testing.T) {
	result := RunSchema(map[string]interface{}{"package_id": 123, "assets": "not-a-list"})
	require.False(t, result.Passed)
}

func TestRunManifest_IDMismatch(t *testing.T) {
	m := &manifest.Manifest{PackageID: "PKG-A", Assets: []manifest.Asset{}}
	result := RunManifest(m, "PKG-B")
	require.False(t, result.Passed)
}

func TestRunG0A_UndeclaredFile(t *testing.T) {
	dir := t.TempDir()
	full := writeAsset(t, dir, "lib/a.py", "x")

	m := &manifest.Manifest{Assets: []manifest.Asset{}}
	result := RunG0A(m, map[string]string{"lib/a.py": full})
	require.False(t, result.Passed)
	require.Contains(t, result.Errors[0], "UNDECLARED")
}

func TestRunG0A_HashMatch(t *testing.T) {
	dir := t.TempDir()
	full := writeAsset(t, dir, "lib/a.py", "x")
	hash, err := hashutil.HashFile(full)
	require.NoError(t, err)

	m := &manifest.Manifest{Assets: []manifest.Asset{{Path: "lib/a.py", SHA256: hash}}}
	result := RunG0A(m, map[string]string{"lib/a.py": full})
	require.True(t, result.Passed)
}

func TestRunG0A_PathEscape(t *testing.T) {
	m := &manifest.Manifest{Assets: []manifest.Asset{{Path: "../etc/passwd", SHA256: "sha256:" + repeatHex()}}}
	result := RunG0A(m, nil)
	require.False(t, result.Passed)
}

func TestRunOwn_ConflictNotDeclaredAsDependency(t *testing.T) {
	m := &manifest.Manifest{Assets: []manifest.Asset{{Path: "lib/x.py"}}, Dependencies: nil}
	existing := map[string]registry.Row{"lib/x.py": {"owner_package_id": "PKG-A"}}
	result := RunOwn(m, existing, "PKG-B")
	require.False(t, result.Passed)
	require.Contains(t, result.Errors[0], "OWNERSHIP_CONFLICT")
}

func TestRunOwn_TransferWhenOwnerIsDependency(t *testing.T) {
	m := &manifest.Manifest{Assets: []manifest.Asset{{Path: "lib/x.py"}}, Dependencies: []string{"PKG-A"}}
	existing := map[string]registry.Row{"lib/x.py": {"owner_package_id": "PKG-A"}}
	result := RunOwn(m, existing, "PKG-B")
	require.True(t, result.Passed)
	require.Len(t, result.Warnings, 1)
	require.Contains(t, result.Warnings[0], "OWNERSHIP_TRANSFER")
}

func TestRunOwn_IdempotentReinstall(t *testing.T) {
	m := &manifest.Manifest{Assets: []manifest.Asset{{Path: "lib/x.py"}}}
	existing := map[string]registry.Row{"lib/x.py": {"owner_package_id": "PKG-A"}}
	result := RunOwn(m, existing, "PKG-A")
	require.True(t, result.Passed)
	require.Empty(t, result.Warnings)
}

func TestRunG5_MissingSignatureFails(t *testing.T) {
	result := RunG5("/nonexistent/archive.tar.gz", false)
	require.False(t, result.Passed)
}

func TestRunG5_WaivedWhenAllowed(t *testing.T) {
	result := RunG5("/nonexistent/archive.tar.gz", true)
	require.True(t, result.Passed)
	require.NotEmpty(t, result.Warnings)
}

func TestRunG5_PresentSidecarPasses(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "pkg.tar.gz")
	require.NoError(t, os.WriteFile(archive, []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(archive+".sig", []byte("sig"), 0o644))

	result := RunG5(archive, false)
	require.True(t, result.Passed)
}

func TestRunAll_StopsEarlyOnManifestFailure(t *testing.T) {
	req := Request{
		RawManifest: map[string]interface{}{},
		Manifest:    &manifest.Manifest{},
		PackageID:   "PKG-A",
		PlaneRoot:   t.TempDir(),
	}
	results := RunAll(req)
	require.Len(t, results, 2) // SCHEMA, MANIFEST only
	require.Equal(t, "MANIFEST", results[1].Gate)
	require.False(t, results[1].Passed)
}

func TestRunAll_RunsAllGatesWhenManifestPasses(t *testing.T) {
	planeRoot := t.TempDir()
	dir := t.TempDir()
	full := writeAsset(t, dir, "lib/a.py", "x")
	hash, err := hashutil.HashFile(full)
	require.NoError(t, err)

	m := &manifest.Manifest{PackageID: "PKG-A", Assets: []manifest.Asset{{Path: "lib/a.py", SHA256: hash}}}
	req := Request{
		RawManifest:    map[string]interface{}{"package_id": "PKG-A", "assets": []interface{}{}},
		Manifest:       m,
		PackageID:      "PKG-A",
		PlaneRoot:      planeRoot,
		WorkspaceFiles: map[string]string{"lib/a.py": full},
		AllowUnsigned:  true,
		Strict:         false,
	}
	results := RunAll(req)
	require.Len(t, results, 6) // SCHEMA, MANIFEST, G0A, G1, OWN, G5
}

func TestRunG1_StrictModeRequiresRegisteredSpec(t *testing.T) {
	planeRoot := t.TempDir()
	m := &manifest.Manifest{SpecID: "SPEC-001"}
	result := RunG1(m, planeRoot, true)
	require.False(t, result.Passed)
	require.Contains(t, result.Errors[0], "SPEC_NOT_FOUND")
}

func TestRunG1_RegisteredSpecAndFrameworkPasses(t *testing.T) {
	planeRoot := t.TempDir()
	specsReg := registry.New(planeRoot, "registries/specs_registry.csv", "spec_id", []string{"spec_id", "framework_id"})
	require.NoError(t, specsReg.Write([]registry.Row{{"spec_id": "SPEC-001", "framework_id": "FW-001"}}, pathclass.ModeInstall, func(string, string) {}))
	frameworksReg := registry.New(planeRoot, "registries/frameworks_registry.csv", "framework_id", []string{"framework_id"})
	require.NoError(t, frameworksReg.Write([]registry.Row{{"framework_id": "FW-001"}}, pathclass.ModeInstall, func(string, string) {}))

	m := &manifest.Manifest{SpecID: "SPEC-001"}
	result := RunG1(m, planeRoot, true)
	require.True(t, result.Passed)
}

func repeatHex() string {
	out := ""
	for i := 0; i < 64; i++ {
		out += "a"
	}
	return out
}
