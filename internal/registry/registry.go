// Package registry implements the Registry Store (spec section 4.9):
// CSV files with stable headers, read-tolerant-of-missing, writes gated by
// the Path Classifier's write guard. Curated registries
// (frameworks_registry.csv, specs_registry.csv) are hand-maintained ground
// truth that callers must never pass to Write from a rebuild flow; derived
// registries (file_ownership.csv, packages_state.csv) are written with rows
// sorted lexicographically by primary key for determinism.
package registry

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"

	coreerrors "github.com/control-plane/governor/infrastructure/errors"
	"github.com/control-plane/governor/internal/hashutil"
	"github.com/control-plane/governor/internal/pathclass"
)

// Row is one CSV record as an ordered set of column values.
type Row map[string]string

// Store reads and writes one CSV registry file rooted under planeRoot, with
// fieldnames fixed at construction (so an empty registry still knows its
// header on first write).
type Store struct {
	planeRoot  string
	path       string
	primaryKey string
	fieldnames []string
}

// New returns a Store for the CSV file at path (absolute or relative to
// planeRoot), keyed by primaryKey for sort order and lookups, with the
// given column order for new writes.
func New(planeRoot, path, primaryKey string, fieldnames []string) *Store {
	return &Store{planeRoot: planeRoot, path: path, primaryKey: primaryKey, fieldnames: fieldnames}
}

func (s *Store) absPath() string {
	if filepath.IsAbs(s.path) {
		return s.path
	}
	return filepath.Join(s.planeRoot, s.path)
}

// Load reads every row from disk. A missing file is not an error: it
// returns an empty slice.
func (s *Store) Load() ([]Row, error) {
	f, err := os.Open(s.absPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, coreerrors.Wrap(coreerrors.KindTransient, coreerrors.ErrCodePermission, "opening registry "+s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindStructural, coreerrors.ErrCodeMalformedJSON, "parsing registry csv "+s.path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(Row, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Find returns the first row whose primary-key column equals id, or nil.
func (s *Store) Find(rows []Row, id string) Row {
	for _, row := range rows {
		if row[s.primaryKey] == id {
			return row
		}
	}
	return nil
}

// FindDependents returns the "id" column value of every row whose
// "dependencies" column mentions id (a comma-joined dependency list).
func FindDependents(rows []Row, id string) []string {
	var out []string
	for _, row := range rows {
		deps := row["dependencies"]
		if deps == "" {
			continue
		}
		for _, dep := range splitCSVList(deps) {
			if dep == id {
				out = append(out, row["id"])
				break
			}
		}
	}
	return out
}

func splitCSVList(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// Write overwrites the registry with rows, sorted lexicographically by the
// primary key for determinism, through the Path Classifier's write guard.
// A nil rows slice writes only the header (an empty registry is still a
// valid, readable file).
func (s *Store) Write(rows []Row, mode pathclass.WriteMode, logViolation func(path, reason string)) error {
	if err := pathclass.AssertWriteAllowed(s.planeRoot, nil, s.absPath(), mode, logViolation); err != nil {
		return err
	}

	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i][s.primaryKey] < sorted[j][s.primaryKey] })

	if err := os.MkdirAll(filepath.Dir(s.absPath()), 0o755); err != nil {
		return err
	}
	f, err := os.Create(s.absPath())
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindTransient, coreerrors.ErrCodePermission, "creating registry "+s.path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(s.fieldnames); err != nil {
		return err
	}
	for _, row := range sorted {
		record := make([]string, len(s.fieldnames))
		for i, col := range s.fieldnames {
			record[i] = row[col]
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// MerkleRootOverColumn computes the Merkle root over every non-empty value
// in column, sorted lexicographically first so the root does not depend on
// row order. Write does not compute or store this root.
func MerkleRootOverColumn(rows []Row, column string) string {
	var hashes []string
	for _, row := range rows {
		if v := row[column]; v != "" {
			hashes = append(hashes, v)
		}
	}
	sort.Strings(hashes)
	return hashutil.MerkleRoot(hashes)
}
