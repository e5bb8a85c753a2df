// Package ledgerfactory implements the Ledger Factory (spec section 4.7):
// creating a new tier instance (its tier.json, ledger, and GENESIS entry),
// creating HO2 work-order and HO1 session instances beneath a parent, and
// listing existing instances.
package ledgerfactory

import (
	"os"
	"path/filepath"

	coreerrors "github.com/control-plane/governor/infrastructure/errors"
	"github.com/control-plane/governor/internal/ledger"
	"github.com/control-plane/governor/internal/tier"
)

const defaultLedgerName = "governance.jsonl"

// CreateTierOptions configures CreateTier.
type CreateTierOptions struct {
	ParentLedger string // absolute or relative path to the parent tier's ledger, empty for a root tier
	LedgerName   string // defaults to governance.jsonl
}

// CreateTier initializes a brand-new tier at tierRoot: writes tier.json,
// creates the ledger file, and writes its GENESIS entry (including
// parent_hash, read from the parent ledger's last entry, when ParentLedger
// is given). Fails if tier.json already exists.
func CreateTier(name tier.Name, tierRoot string, opts CreateTierOptions) (*tier.Manifest, *ledger.Client, error) {
	if tier.Exists(tierRoot) {
		return nil, nil, coreerrors.New(coreerrors.KindStructural, coreerrors.ErrCodeSchemaViolation, "tier.json already exists at "+tierRoot)
	}

	ledgerName := opts.LedgerName
	if ledgerName == "" {
		ledgerName = defaultLedgerName
	}
	ledgerRelPath := filepath.Join("ledger", ledgerName)

	manifest := &tier.Manifest{Tier: name, LedgerPath: ledgerRelPath}
	if opts.ParentLedger != "" {
		manifest.ParentLedger = opts.ParentLedger
	}
	if err := tier.Save(tierRoot, manifest); err != nil {
		return nil, nil, err
	}

	absLedgerPath := manifest.AbsoluteLedgerPath()
	client, err := ledger.New(tierRoot, absLedgerPath, ledger.DefaultOptions())
	if err != nil {
		return nil, nil, err
	}

	var parentHash string
	if opts.ParentLedger != "" {
		parentHash, err = lastEntryHash(tierRoot, opts.ParentLedger)
		if err != nil {
			return nil, nil, err
		}
	}

	if _, err := client.WriteGenesis(string(name), tierRoot, opts.ParentLedger, parentHash, "", ""); err != nil {
		return nil, nil, err
	}

	return manifest, client, nil
}

func lastEntryHash(planeRoot, parentLedgerPath string) (string, error) {
	absPath := parentLedgerPath
	if !filepath.IsAbs(absPath) {
		absPath = filepath.Join(planeRoot, parentLedgerPath)
	}
	if _, err := os.Stat(absPath); err != nil {
		return "", nil
	}

	parent, err := ledger.New(planeRoot, absPath, ledger.Options{EnableIndex: false, BatchSize: 1})
	if err != nil {
		return "", err
	}
	entries, err := parent.ReadAll()
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}
	return entries[len(entries)-1].EntryHash, nil
}

// CreateWorkOrderInstance creates an HO2-hosted work-order instance under
// <baseRoot>/work_orders/<woID>/, with ledger name workorder.jsonl and a
// parent_ledger recorded as the relative path back to the base tier's
// ledger.
func CreateWorkOrderInstance(baseRoot, woID string) (*tier.Manifest, *ledger.Client, error) {
	base, err := tier.Load(baseRoot)
	if err != nil {
		return nil, nil, err
	}
	if base.Tier != tier.HO2 {
		return nil, nil, coreerrors.New(coreerrors.KindStructural, coreerrors.ErrCodeSchemaViolation, "work-order instances require an HO2 base tier")
	}

	instanceRoot := filepath.Join(baseRoot, "work_orders", woID)
	if err := os.MkdirAll(instanceRoot, 0o755); err != nil {
		return nil, nil, err
	}

	parentLedgerRel := filepath.Join("..", "..", base.LedgerPath)
	manifest, client, err := CreateTier(tier.HO2, instanceRoot, CreateTierOptions{
		ParentLedger: parentLedgerRel,
		LedgerName:   "workorder.jsonl",
	})
	if err != nil {
		return nil, nil, err
	}
	manifest.WorkOrderID = woID
	if err := tier.Save(instanceRoot, manifest); err != nil {
		return nil, nil, err
	}
	return manifest, client, nil
}

// CreateSessionInstance creates an HO1-hosted session instance under
// <baseRoot>/sessions/<sessID>/, with ledger name session.jsonl.
func CreateSessionInstance(baseRoot, sessID string) (*tier.Manifest, *ledger.Client, error) {
	base, err := tier.Load(baseRoot)
	if err != nil {
		return nil, nil, err
	}
	if base.Tier != tier.HO1 {
		return nil, nil, coreerrors.New(coreerrors.KindStructural, coreerrors.ErrCodeSchemaViolation, "session instances require an HO1 base tier")
	}

	instanceRoot := filepath.Join(baseRoot, "sessions", sessID)
	if err := os.MkdirAll(instanceRoot, 0o755); err != nil {
		return nil, nil, err
	}

	parentLedgerRel := filepath.Join("..", "..", base.LedgerPath)
	manifest, client, err := CreateTier(tier.HO1, instanceRoot, CreateTierOptions{
		ParentLedger: parentLedgerRel,
		LedgerName:   "session.jsonl",
	})
	if err != nil {
		return nil, nil, err
	}
	manifest.SessionID = sessID
	if err := tier.Save(instanceRoot, manifest); err != nil {
		return nil, nil, err
	}
	return manifest, client, nil
}

// Instance pairs an instance's ID with its loaded tier manifest.
type Instance struct {
	ID       string
	Root     string
	Manifest *tier.Manifest
}

// ListInstances enumerates the work_orders/ or sessions/ subtree of
// baseRoot (whichever is present) and returns every instance's manifest.
func ListInstances(baseRoot string) ([]Instance, error) {
	for _, subdir := range []string{"work_orders", "sessions"} {
		dir := filepath.Join(baseRoot, subdir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}

		var out []Instance
		for _, de := range entries {
			if !de.IsDir() {
				continue
			}
			instanceRoot := filepath.Join(dir, de.Name())
			manifest, err := tier.Load(instanceRoot)
			if err != nil {
				continue
			}
			out = append(out, Instance{ID: de.Name(), Root: instanceRoot, Manifest: manifest})
		}
		return out, nil
	}
	return nil, nil
}
