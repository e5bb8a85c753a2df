// Package derived implements the Derived-State Rebuilder (spec section
// 4.11): replays a plane's L-PACKAGE ledger entries to regenerate
// file_ownership.csv and packages_state.csv (plus their compiled JSON
// duplicates) from scratch, applying the same no-last-write-wins
// ownership rule the Preflight Validator's OWN gate enforces at
// install time.
package derived

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	coreerrors "github.com/control-plane/governor/infrastructure/errors"
	"github.com/control-plane/governor/internal/ledger"
	"github.com/control-plane/governor/internal/manifest"
	"github.com/control-plane/governor/internal/pathclass"
	"github.com/control-plane/governor/internal/registry"
)

const (
	InstalledEvent   = "INSTALLED"
	UninstalledEvent = "UNINSTALLED"
)

// Conflict records one ownership conflict encountered during rebuild: a
// package's manifest claims a file already owned by a package that is not
// among its declared dependencies.
type Conflict struct {
	Path            string `json:"path"`
	ExistingOwner   string `json:"existing_owner"`
	IncomingPackage string `json:"incoming_package"`
}

// Result summarizes a rebuild run.
type Result struct {
	OwnershipRows []registry.Row
	StateRows     []registry.Row
	Conflicts     []Conflict
}

// HasConflicts reports whether the rebuild hit any unresolved ownership
// conflict. Callers use this to pick the distinct conflict exit code (2)
// rather than the generic failure code (1).
func (r Result) HasConflicts() bool { return len(r.Conflicts) > 0 }

// Rebuild replays planeRoot's ledger from scratch and returns the fully
// recomputed ownership and package-state rows. It does not write
// anything; call Write to persist the result.
func Rebuild(planeRoot, ledgerPath string) (Result, error) {
	client, err := ledger.New(planeRoot, ledgerPath, ledger.Options{EnableIndex: false, BatchSize: 1})
	if err != nil {
		return Result{}, err
	}
	entries, err := client.ReadAll()
	if err != nil {
		return Result{}, err
	}

	owner := map[string]string{}   // asset path -> owning package ID
	status := map[string]string{}  // package ID -> "active" | "removed"
	var conflicts []Conflict

	for _, e := range entries {
		switch e.EventType {
		case InstalledEvent:
			pkgID, _ := e.Metadata["package_id"].(string)
			if pkgID == "" {
				continue
			}
			applyInstall(planeRoot, pkgID, owner, &conflicts)
			status[pkgID] = "active"
		case UninstalledEvent:
			pkgID, _ := e.Metadata["package_id"].(string)
			if pkgID == "" {
				continue
			}
			for path, o := range owner {
				if o == pkgID {
					delete(owner, path)
				}
			}
			status[pkgID] = "removed"
		}
	}

	ownershipRows := make([]registry.Row, 0, len(owner))
	for path, pkgID := range owner {
		ownershipRows = append(ownershipRows, registry.Row{"file_path": path, "owner_package_id": pkgID})
	}
	sort.Slice(ownershipRows, func(i, j int) bool { return ownershipRows[i]["file_path"] < ownershipRows[j]["file_path"] })

	stateRows := make([]registry.Row, 0, len(status))
	for pkgID, st := range status {
		stateRows = append(stateRows, registry.Row{"package_id": pkgID, "status": st})
	}
	sort.Slice(stateRows, func(i, j int) bool { return stateRows[i]["package_id"] < stateRows[j]["package_id"] })

	return Result{OwnershipRows: ownershipRows, StateRows: stateRows, Conflicts: conflicts}, nil
}

// applyInstall applies one package's INSTALLED event to the in-progress
// ownership map: assigns unowned files, transfers files owned by a direct
// dependency, and records a conflict (without mutating ownership) for
// anything else.
func applyInstall(planeRoot, pkgID string, owner map[string]string, conflicts *[]Conflict) {
	manifestPath := filepath.Join(planeRoot, "installed", pkgID, "manifest.json")
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return // a package that vanished from installed/ simply contributes no ownership
	}

	deps := make(map[string]bool, len(m.Dependencies))
	for _, d := range m.Dependencies {
		deps[d] = true
	}

	for _, asset := range m.Assets {
		existing, owned := owner[asset.Path]
		switch {
		case !owned:
			owner[asset.Path] = pkgID
		case existing == pkgID:
			// idempotent reinstall
		case deps[existing]:
			owner[asset.Path] = pkgID
		default:
			*conflicts = append(*conflicts, Conflict{Path: asset.Path, ExistingOwner: existing, IncomingPackage: pkgID})
		}
	}
}

// Write persists a rebuilt Result to the canonical registry paths under
// planeRoot, through the Path Classifier's write guard (install mode is
// never required here — every registry file written here is DERIVED), plus compiled
// JSON duplicates under registries/compiled/.
func Write(planeRoot string, result Result, logViolation func(path, reason string)) error {
	ownershipStore := registry.New(planeRoot, "registries/file_ownership.csv", "file_path", []string{"file_path", "owner_package_id"})
	if err := ownershipStore.Write(result.OwnershipRows, pathclass.ModeNormal, logViolation); err != nil {
		return err
	}

	stateStore := registry.New(planeRoot, "registries/packages_state.csv", "package_id", []string{"package_id", "status"})
	if err := stateStore.Write(result.StateRows, pathclass.ModeNormal, logViolation); err != nil {
		return err
	}

	compiledDir := filepath.Join(planeRoot, "registries", "compiled")
	if err := os.MkdirAll(compiledDir, 0o755); err != nil {
		return err
	}
	if err := writeCompiledJSON(filepath.Join(compiledDir, "file_ownership.json"), result.OwnershipRows); err != nil {
		return err
	}
	if err := writeCompiledJSON(filepath.Join(compiledDir, "packages_state.json"), result.StateRows); err != nil {
		return err
	}
	return nil
}

func writeCompiledJSON(path string, rows []registry.Row) error {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return coreerrors.Wrap(coreerrors.KindTransient, coreerrors.ErrCodePermission, "writing compiled registry "+path, err)
	}
	return nil
}
