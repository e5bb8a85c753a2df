package sealguard

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/control-plane/governor/infrastructure/testutil"
	"github.com/control-plane/governor/internal/hashutil"
	"github.com/control-plane/governor/internal/ledger"
	"github.com/control-plane/governor/internal/manifest"
	"github.com/control-plane/governor/internal/packaging"
	"github.com/control-plane/governor/internal/plane"
	"github.com/control-plane/governor/internal/tier"
)

func newPlane(t *testing.T) *plane.Context {
	t.Helper()
	root := testutil.TempPlane(t, "HO2")
	return &plane.Context{
		Name:        "ho2",
		Type:        tier.HO2,
		Root:        root,
		ReceiptsDir: filepath.Join(root, "installed"),
	}
}

func buildArchive(t *testing.T, targetPlane string) string {
	t.Helper()
	src := t.TempDir()
	m := &manifest.Manifest{PackageID: "PKG-A", TargetPlane: targetPlane}
	require.NoError(t, manifest.Save(filepath.Join(src, "manifest.json"), m))

	archive := filepath.Join(t.TempDir(), "pkg.tar.gz")
	_, err := packaging.Pack(src, archive)
	require.NoError(t, err)
	return archive
}

func writeReceipt(t *testing.T, ctx *plane.Context, pkgID string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(ctx.ReceiptsDir, pkgID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	rec := receipt{PackageID: pkgID, PlaneName: ctx.Name, PlaneRoot: ctx.Root, Files: receiptFilesFromMap(files)}
	data, err := json.MarshalIndent(rec, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "receipt.json"), data, 0o644))
}

func receiptFilesFromMap(files map[string]string) []receiptFile {
	out := make([]receiptFile, 0, len(files))
	for path, sha := range files {
		out = append(out, receiptFile{Path: path, SHA256: sha})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func TestPreflight_MissingArchiveFails(t *testing.T) {
	ctx := newPlane(t)
	result, err := Preflight(filepath.Join(t.TempDir(), "nope.tar.gz"), ctx, nil)
	require.NoError(t, err)
	require.False(t, result.Passed)
}

func TestPreflight_PlaneMismatchFails(t *testing.T) {
	ctx := newPlane(t)
	archive := buildArchive(t, "ho1")
	result, err := Preflight(archive, ctx, nil)
	require.NoError(t, err)
	require.False(t, result.Passed)
}

func TestPreflight_MatchingPlanePasses(t *testing.T) {
	ctx := newPlane(t)
	archive := buildArchive(t, "ho2")
	result, err := Preflight(archive, ctx, nil)
	require.NoError(t, err)
	require.True(t, result.Passed)
}

func TestPostflight_NoReceiptFails(t *testing.T) {
	ctx := newPlane(t)
	result, err := Postflight(ctx, "PKG-MISSING")
	require.NoError(t, err)
	require.False(t, result.Passed)
}

func TestPostflight_IntactFilesPass(t *testing.T) {
	ctx := newPlane(t)
	require.NoError(t, os.WriteFile(filepath.Join(ctx.Root, "lib.py"), []byte("x"), 0o644))
	hash, err := hashutil.HashFile(filepath.Join(ctx.Root, "lib.py"))
	require.NoError(t, err)
	writeReceipt(t, ctx, "PKG-A", map[string]string{"lib.py": hash})

	result, err := Postflight(ctx, "PKG-A")
	require.NoError(t, err)
	require.True(t, result.Passed)
}

func TestPostflight_TamperedFileFails(t *testing.T) {
	ctx := newPlane(t)
	require.NoError(t, os.WriteFile(filepath.Join(ctx.Root, "lib.py"), []byte("x"), 0o644))
	writeReceipt(t, ctx, "PKG-A", map[string]string{"lib.py": "sha256:deadbeef"})

	result, err := Postflight(ctx, "PKG-A")
	require.NoError(t, err)
	require.False(t, result.Passed)
}

func TestDriftCheck_NoDriftWhenFilesIntact(t *testing.T) {
	ctx := newPlane(t)
	require.NoError(t, os.WriteFile(filepath.Join(ctx.Root, "lib.py"), []byte("x"), 0o644))
	hash, err := hashutil.HashFile(filepath.Join(ctx.Root, "lib.py"))
	require.NoError(t, err)
	writeReceipt(t, ctx, "PKG-A", map[string]string{"lib.py": hash})

	result, err := DriftCheck(ctx)
	require.NoError(t, err)
	require.True(t, result.Passed)
}

func TestDriftCheck_DetectsDeletedFile(t *testing.T) {
	ctx := newPlane(t)
	writeReceipt(t, ctx, "PKG-A", map[string]string{"missing.py": "sha256:deadbeef"})

	result, err := DriftCheck(ctx)
	require.NoError(t, err)
	require.False(t, result.Passed)
}

func TestDriftCheck_SkipsReceiptsFromOtherPlanes(t *testing.T) {
	ctx := newPlane(t)
	dir := filepath.Join(ctx.ReceiptsDir, "PKG-OTHER")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	rec := receipt{PackageID: "PKG-OTHER", PlaneRoot: "/some/other/plane", Files: []receiptFile{{Path: "x.py", SHA256: "sha256:deadbeef"}}}
	data, err := json.MarshalIndent(rec, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "receipt.json"), data, 0o644))

	result, err := DriftCheck(ctx)
	require.NoError(t, err)
	require.True(t, result.Passed)
}

func TestQuarantine_MarksReceiptTainted(t *testing.T) {
	ctx := newPlane(t)
	writeReceipt(t, ctx, "PKG-A", map[string]string{})

	result, err := Quarantine(ctx, "PKG-A", "policy violation", nil)
	require.NoError(t, err)
	require.True(t, result.Passed)
	require.True(t, result.Quarantined)

	rec, err := loadReceipt(ctx, "PKG-A")
	require.NoError(t, err)
	require.True(t, rec.Tainted)
	require.Equal(t, "policy violation", rec.TaintReason)
}

func TestQuarantine_WritesLedgerEntry(t *testing.T) {
	ctx := newPlane(t)
	writeReceipt(t, ctx, "PKG-A", map[string]string{})

	client, err := ledger.New(ctx.Root, filepath.Join(ctx.Root, "ledger", "governance.jsonl"), ledger.Options{EnableIndex: false, BatchSize: 1})
	require.NoError(t, err)
	defer client.Close()

	result, err := Quarantine(ctx, "PKG-A", "drift detected", client)
	require.NoError(t, err)
	require.True(t, result.Quarantined)

	entries, err := client.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "PACKAGE_QUARANTINE", entries[0].EventType)
}
