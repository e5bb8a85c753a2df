// Package plane implements the Plane Resolver (spec section 4.8): loading
// the chain config that lists every configured plane, resolving which
// plane encloses a given path, and the two privilege rules that gate
// cross-plane references — declared-plane validation and external
// interface direction.
package plane

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	coreerrors "github.com/control-plane/governor/infrastructure/errors"
	"github.com/control-plane/governor/internal/tier"
)

// ChainConfigRelPath is where the chain config lives, relative to an HO3 root.
const ChainConfigRelPath = "config/control_plane_chain.json"

// Context describes one configured plane's identity and layout.
type Context struct {
	Name          string     `json:"name"`
	Type          tier.Name  `json:"type"`
	Root          string     `json:"root"`
	PristineRoots []string   `json:"pristine_roots,omitempty"`
	DerivedRoots  []string   `json:"derived_roots,omitempty"`
	LedgerPath    string     `json:"ledger_path,omitempty"`
	InstalledDir  string     `json:"installed_dir,omitempty"`
	ReceiptsDir   string     `json:"receipts_dir,omitempty"`
}

type rawConfig struct {
	Planes []rawPlane `json:"planes"`
}

type rawPlane struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	Root          string   `json:"root"`
	PristineRoots []string `json:"pristine_roots"`
	DerivedRoots  []string `json:"derived_roots"`
	LedgerPath    string   `json:"ledger_path"`
	InstalledDir  string   `json:"installed_dir"`
	ReceiptsDir   string   `json:"receipts_dir"`
}

var (
	cacheMu sync.Mutex
	cache   = map[string][]Context{}
)

// LoadChainConfig parses <ho3Root>/config/control_plane_chain.json into an
// ordered list of plane contexts. Parses are cached per configPath; use
// ClearCache to force a re-read (tests do this after rewriting the file).
func LoadChainConfig(configPath string) ([]Context, error) {
	cacheMu.Lock()
	if cached, ok := cache[configPath]; ok {
		cacheMu.Unlock()
		return cached, nil
	}
	cacheMu.Unlock()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindStructural, coreerrors.ErrCodeNotFound, "reading chain config "+configPath, err)
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindStructural, coreerrors.ErrCodeSchemaViolation, "parsing chain config "+configPath, err)
	}

	planes := make([]Context, 0, len(raw.Planes))
	for _, p := range raw.Planes {
		typeName, ok := tier.Normalize(p.Type)
		if !ok {
			return nil, coreerrors.New(coreerrors.KindStructural, coreerrors.ErrCodeSchemaViolation, "unrecognized plane type "+p.Type+" for plane "+p.Name)
		}
		planes = append(planes, Context{
			Name:          p.Name,
			Type:          typeName,
			Root:          p.Root,
			PristineRoots: p.PristineRoots,
			DerivedRoots:  p.DerivedRoots,
			LedgerPath:    p.LedgerPath,
			InstalledDir:  p.InstalledDir,
			ReceiptsDir:   p.ReceiptsDir,
		})
	}

	cacheMu.Lock()
	cache[configPath] = planes
	cacheMu.Unlock()
	return planes, nil
}

// ClearCache discards every cached chain-config parse.
func ClearCache() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cache = map[string][]Context{}
}

// GetCurrentPlane resolves the plane enclosing path by walking upward from
// path through each configured plane's root, returning the deepest (most
// specific) match. Returns nil, nil if no configured plane encloses path.
func GetCurrentPlane(planes []Context, path string) (*Context, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	var best *Context
	bestDepth := -1
	for i := range planes {
		p := &planes[i]
		absRoot, err := filepath.Abs(p.Root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absRoot, absPath)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		depth := strings.Count(absRoot, string(filepath.Separator))
		if depth > bestDepth {
			bestDepth = depth
			best = p
		}
	}
	return best, nil
}

// ValidateTargetPlane reports whether declared ("any" or a specific plane
// name) is satisfied by current's name.
func ValidateTargetPlane(declared string, current *Context) bool {
	if declared == "any" {
		return true
	}
	if current == nil {
		return false
	}
	return declared == current.Name
}

// ValidateExternalInterfaceDirection enforces that a plane may only
// reference interfaces belonging to its own tier or a strictly
// higher-privilege one: HO1 may reference HO1/HO2/HO3, HO2 may reference
// HO2/HO3, HO3 may reference only HO3 (nothing below it).
func ValidateExternalInterfaceDirection(current, source *Context) bool {
	if current == nil || source == nil {
		return false
	}
	return source.Type.AtLeast(current.Type)
}
