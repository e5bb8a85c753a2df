// Package pathclass implements the Path Classifier (spec section 4.3): a
// pure function partitioning any absolute path under a plane root into one
// of PRISTINE, DERIVED, APPEND_ONLY, or EXTERNAL, plus the two write guards
// that consult it.
package pathclass

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	coreerrors "github.com/control-plane/governor/infrastructure/errors"
)

// Class is one of the four path classifications a plane root can assign to
// any path beneath it.
type Class string

const (
	// Pristine paths are hand-authored and may only be written by the
	// package-install code path.
	Pristine Class = "PRISTINE"
	// Derived paths are fully regenerated by the Derived-State Rebuilder
	// and may be freely rewritten.
	Derived Class = "DERIVED"
	// AppendOnly paths (ledger segments) may only be appended to, never
	// truncated or rewritten in place.
	AppendOnly Class = "APPEND_ONLY"
	// External paths fall outside the plane root entirely.
	External Class = "EXTERNAL"
)

// appendOnlyPrefixes are plane-root-relative directories whose contents are
// APPEND_ONLY (ledger segments only; index/cursor files under the same tree
// are DERIVED, they are listed separately below).
var appendOnlyPrefixes = []string{"ledger"}

// derivedPrefixes are plane-root-relative directories regenerated by the
// Derived-State Rebuilder or written as Ledger Engine bookkeeping.
var derivedPrefixes = []string{
	"registries/file_ownership.csv",
	"registries/packages_state.csv",
	"registries/packages_registry.csv",
	"registries/compiled",
	"ledger/index.jsonl",
	"ledger/idx",
	"ledger/cursors",
	"installed",
	"packages_store",
	"tmp",
	"_staging",
}

// pristinePrefixes are plane-root-relative directories that are
// hand-authored ground truth, writable only during package install.
var pristinePrefixes = []string{
	"registries/frameworks_registry.csv",
	"registries/specs_registry.csv",
	"specs",
	"policies",
	"schemas",
	"tier.json",
}

// Classify returns the Class of candidate relative to root, along with a
// human-readable explanation. extraGovernedRoots lets a caller (e.g. a
// tier-specific plane layout with work_orders/ or sessions/ subtrees)
// extend the built-in derived/pristine taxonomy without altering it; pass
// nil to use the built-in plane taxonomy alone. A candidate outside root is
// EXTERNAL.
func Classify(root string, extraGovernedRoots []string, candidate string) (Class, string) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return External, fmt.Sprintf("cannot resolve plane root: %v", err)
	}
	absCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return External, fmt.Sprintf("cannot resolve candidate path: %v", err)
	}

	rel, err := filepath.Rel(absRoot, absCandidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return External, "path is not under the plane root"
	}
	rel = filepath.ToSlash(rel)

	if isLedgerSegment(rel) {
		return AppendOnly, "ledger segment: append-only"
	}
	if matchesAny(rel, derivedPrefixes) {
		return Derived, "regenerated by the Derived-State Rebuilder or ledger bookkeeping"
	}
	if matchesAny(rel, pristinePrefixes) {
		return Pristine, "hand-authored ground truth, writable only during install"
	}
	if matchesAny(rel, extraGovernedRoots) {
		return Pristine, "tier-specific governed root, writable only during install"
	}

	return Pristine, "unclassified path beneath the plane root defaults to pristine"
}

// isLedgerSegment reports whether rel names a ledger JSONL segment file
// (the base file or a rotated `<base>-YYYYMMDD-HHMMSS.jsonl` segment), as
// opposed to the ledger's derived index/cursor bookkeeping.
func isLedgerSegment(rel string) bool {
	if !strings.HasPrefix(rel, "ledger/") {
		return false
	}
	base := strings.TrimPrefix(rel, "ledger/")
	if strings.Contains(base, "/") {
		return false // idx/, cursors/ subtrees are DERIVED
	}
	if base == "index.jsonl" {
		return false
	}
	return strings.HasSuffix(base, ".jsonl")
}

func matchesAny(rel string, prefixes []string) bool {
	for _, p := range prefixes {
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
	}
	return false
}

// AssertAppendOnly fails with WriteViolation unless path classifies as
// APPEND_ONLY under root and offset equals the current file size (i.e. the
// write about to happen is a true append to end-of-file). Called by the
// Ledger Engine immediately before each segment append.
func AssertAppendOnly(root, path string, offset int64) error {
	class, explanation := Classify(root, nil, path)
	if class != AppendOnly {
		return coreerrors.WriteViolation(path, fmt.Sprintf("not append-only: %s", explanation))
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if offset != 0 {
				return coreerrors.WriteViolation(path, "append offset does not match nonexistent file size 0")
			}
			return nil
		}
		return coreerrors.WriteViolation(path, fmt.Sprintf("cannot stat: %v", err))
	}
	if offset != info.Size() {
		return coreerrors.WriteViolation(path, fmt.Sprintf("append offset %d does not match end-of-file %d", offset, info.Size()))
	}
	return nil
}

// WriteMode establishes the caller's install-code-path context for
// AssertWriteAllowed. Outside of install, PRISTINE writes fail closed.
type WriteMode int

const (
	// ModeNormal is the default: only DERIVED paths are writable.
	ModeNormal WriteMode = iota
	// ModeInstall additionally permits PRISTINE writes, for use only by
	// the package-install code path.
	ModeInstall
)

// AssertWriteAllowed fails with WriteViolation unless path classifies as
// DERIVED, or classifies as PRISTINE and mode is ModeInstall. logViolation,
// if non-nil, is invoked with the rejected path and explanation before the
// error is returned, so callers can surface a structured log line at the
// point of refusal.
func AssertWriteAllowed(root string, extraGovernedRoots []string, path string, mode WriteMode, logViolation func(path, reason string)) error {
	class, explanation := Classify(root, extraGovernedRoots, path)

	switch class {
	case Derived:
		return nil
	case Pristine:
		if mode == ModeInstall {
			return nil
		}
		explanation = "pristine path written outside the install code path"
	case AppendOnly:
		explanation = "append-only path requires AssertAppendOnly, not a general write"
	case External:
		explanation = "path is outside the plane root"
	}

	if logViolation != nil {
		logViolation(path, explanation)
	}
	return coreerrors.WriteViolation(path, explanation)
}
