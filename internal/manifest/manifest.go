// Package manifest defines the package descriptor (manifest.json) that
// flows through the Preflight Validator and Package Factory: its asset
// list, declared dependencies, and the spec/framework references the
// Chain gate resolves.
package manifest

import (
	"encoding/json"
	"os"

	coreerrors "github.com/control-plane/governor/infrastructure/errors"
)

// KnownSchemaVersions is the set of schema_version values the core
// recognizes; anything else is a MANIFEST warning, not a failure.
var KnownSchemaVersions = map[string]bool{"1.0": true, "1.1": true, "1.2": true}

// Asset is one file declared by a package manifest.
type Asset struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Manifest is a package's full declaration.
type Manifest struct {
	PackageID      string   `json:"package_id"`
	SchemaVersion  string   `json:"schema_version,omitempty"`
	Version        string   `json:"version,omitempty"`
	TargetPlane    string   `json:"target_plane,omitempty"`
	FrameworkID    string   `json:"framework_id,omitempty"`
	SpecID         string   `json:"spec_id,omitempty"`
	Dependencies   []string `json:"dependencies,omitempty"`
	Assets         []Asset  `json:"assets"`
	ArtifactPaths  []string `json:"artifact_paths,omitempty"`
}

// AssetsByPath indexes Assets by their declared path.
func (m *Manifest) AssetsByPath() map[string]Asset {
	out := make(map[string]Asset, len(m.Assets))
	for _, a := range m.Assets {
		out[a.Path] = a
	}
	return out
}

// Load reads and parses a manifest.json file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindTransient, coreerrors.ErrCodeNotFound, "reading manifest "+path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindStructural, coreerrors.ErrCodeMalformedJSON, "parsing manifest "+path, err)
	}
	return &m, nil
}

// Save writes m as indented JSON to path.
func Save(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
