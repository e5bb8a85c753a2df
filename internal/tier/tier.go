// Package tier implements the Tier Manifest (spec section 4.4): loading and
// validating tier.json, legacy tier-name aliasing, and locating the
// enclosing tier for an arbitrary path.
package tier

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	coreerrors "github.com/control-plane/governor/infrastructure/errors"
)

// Name is one of the three fixed privilege tiers, HO3 strictly outranking
// HO2 strictly outranking HO1.
type Name string

const (
	HO3 Name = "HO3"
	HO2 Name = "HO2"
	HO1 Name = "HO1"
)

// legacyAliases maps historical tier names (HOT/SECOND/FIRST) to their
// canonical HO3/HO2/HO1 equivalents. Accepted on read, always normalized to
// canonical on write.
var legacyAliases = map[string]Name{
	"HOT":    HO3,
	"SECOND": HO2,
	"FIRST":  HO1,
}

// rank establishes strict privilege ordering: HO3 > HO2 > HO1.
var rank = map[Name]int{HO3: 3, HO2: 2, HO1: 1}

// Status is a tier manifest's lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusClosed   Status = "closed"
)

// validStatuses is the set Load accepts; an empty status on load
// defaults to StatusActive for backward compatibility with tier.json files
// written before this field existed.
var validStatuses = map[Status]bool{StatusActive: true, StatusArchived: true, StatusClosed: true}

// Outranks reports whether a strictly outranks b (a has higher privilege).
func (a Name) Outranks(b Name) bool { return rank[a] > rank[b] }

// AtLeast reports whether a's privilege is equal to or higher than b's.
func (a Name) AtLeast(b Name) bool { return rank[a] >= rank[b] }

// Normalize resolves a raw tier string (canonical or legacy alias) to its
// canonical Name, and reports whether it was recognized.
func Normalize(raw string) (Name, bool) {
	switch Name(raw) {
	case HO3, HO2, HO1:
		return Name(raw), true
	}
	if canonical, ok := legacyAliases[raw]; ok {
		return canonical, true
	}
	return "", false
}

// Manifest is the parsed contents of a tier.json file.
type Manifest struct {
	Tier           Name   `json:"tier"`
	Status         Status `json:"status"`
	LedgerPath     string `json:"ledger_path"`
	WorkOrderID    string `json:"work_order_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	ParentLedger   string `json:"parent_ledger,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`

	// tierRoot is the directory tier.json was loaded from, not serialized.
	tierRoot string
}

// rawManifest mirrors Manifest's JSON shape but keeps Tier as a raw string
// so legacy aliases can be accepted before normalization.
type rawManifest struct {
	Tier         string `json:"tier"`
	Status       string `json:"status,omitempty"`
	LedgerPath   string `json:"ledger_path"`
	WorkOrderID  string `json:"work_order_id,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	ParentLedger string `json:"parent_ledger,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// TierRoot returns the directory this manifest was loaded from or will be
// written to.
func (m *Manifest) TierRoot() string { return m.tierRoot }

// AbsoluteLedgerPath returns tier_root joined with ledger_path.
func (m *Manifest) AbsoluteLedgerPath() string {
	return filepath.Join(m.tierRoot, m.LedgerPath)
}

// Load reads and validates tier.json from tierRoot.
func Load(tierRoot string) (*Manifest, error) {
	path := filepath.Join(tierRoot, "tier.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, coreerrors.NotFound("tier.json", path)
		}
		return nil, coreerrors.Wrap(coreerrors.KindTransient, coreerrors.ErrCodePermission, "read tier.json", err)
	}

	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, coreerrors.Structural("parse tier.json", err)
	}

	canonical, ok := Normalize(raw.Tier)
	if !ok {
		return nil, coreerrors.SchemaViolation(fmt.Sprintf("unrecognized tier %q", raw.Tier))
	}

	if raw.LedgerPath == "" {
		return nil, coreerrors.MissingField("ledger_path")
	}

	status := Status(raw.Status)
	if status == "" {
		status = StatusActive
	} else if !validStatuses[status] {
		return nil, coreerrors.SchemaViolation(fmt.Sprintf("unrecognized tier status %q", raw.Status))
	}

	return &Manifest{
		Tier:         canonical,
		Status:       status,
		LedgerPath:   raw.LedgerPath,
		WorkOrderID:  raw.WorkOrderID,
		SessionID:    raw.SessionID,
		ParentLedger: raw.ParentLedger,
		CreatedAt:    raw.CreatedAt,
		tierRoot:     tierRoot,
	}, nil
}

// Save writes tier.json to tierRoot, always in canonical form.
func Save(tierRoot string, m *Manifest) error {
	status := m.Status
	if status == "" {
		status = StatusActive
	}
	raw := rawManifest{
		Tier:         string(m.Tier),
		Status:       string(status),
		LedgerPath:   m.LedgerPath,
		WorkOrderID:  m.WorkOrderID,
		SessionID:    m.SessionID,
		ParentLedger: m.ParentLedger,
		CreatedAt:    m.CreatedAt,
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return coreerrors.Structural("marshal tier.json", err)
	}

	path := filepath.Join(tierRoot, "tier.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return coreerrors.Wrap(coreerrors.KindTransient, coreerrors.ErrCodePermission, "write tier.json", err)
	}
	m.tierRoot = tierRoot
	return nil
}

// Exists reports whether tierRoot already has a tier.json.
func Exists(tierRoot string) bool {
	_, err := os.Stat(filepath.Join(tierRoot, "tier.json"))
	return err == nil
}

// FindForPath walks p upward until a tier.json is found, returning its
// Manifest, or nil if none is found before reaching the filesystem root.
func FindForPath(p string) (*Manifest, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, coreerrors.Structural("resolve path", err)
	}

	dir := abs
	if info, statErr := os.Stat(abs); statErr == nil && !info.IsDir() {
		dir = filepath.Dir(abs)
	}

	for {
		if Exists(dir) {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}
