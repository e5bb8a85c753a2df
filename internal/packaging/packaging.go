// Package packaging implements the deterministic archive step of the
// Package Factory's G3 gate (spec section 4.12): pack a source tree into
// a gzipped tar archive with entries sorted by name, fixed headers (no
// timestamps, no owner/group), and fixed gzip compression parameters, so
// that packing the same tree twice yields bit-identical bytes.
package packaging

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"

	coreerrors "github.com/control-plane/governor/infrastructure/errors"
)

// Pack walks srcDir, collects every regular file's path relative to
// srcDir, sorts them lexicographically, and writes them into a gzipped
// tar archive at destPath. Returns the SHA-256 digest of the complete
// archive ("sha256:<hex>").
func Pack(srcDir, destPath string) (string, error) {
	paths, err := collectFiles(srcDir)
	if err != nil {
		return "", err
	}

	out, err := os.Create(destPath)
	if err != nil {
		return "", coreerrors.Wrap(coreerrors.KindTransient, coreerrors.ErrCodePermission, "creating archive "+destPath, err)
	}
	defer out.Close()

	hasher := sha256.New()
	mw := io.MultiWriter(out, hasher)

	// Fixed compression level and no name/mtime/OS fields, so the
	// compressed stream itself is deterministic.
	gzw, err := gzip.NewWriterLevel(mw, gzip.BestCompression)
	if err != nil {
		return "", err
	}
	tw := tar.NewWriter(gzw)

	for _, rel := range paths {
		full := filepath.Join(srcDir, rel)
		data, err := os.ReadFile(full)
		if err != nil {
			return "", err
		}
		hdr := &tar.Header{
			Name:     filepath.ToSlash(rel),
			Mode:     0o644,
			Size:     int64(len(data)),
			Typeflag: tar.TypeReg,
			// ModTime, Uid, Gid, Uname, Gname deliberately left zero: no
			// per-file timestamp or ownership metadata enters the stream.
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return "", err
		}
		if _, err := tw.Write(data); err != nil {
			return "", err
		}
	}

	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gzw.Close(); err != nil {
		return "", err
	}

	return "sha256:" + hex.EncodeToString(hasher.Sum(nil)), nil
}

// collectFiles returns every regular file under srcDir as a path relative
// to srcDir, sorted lexicographically for deterministic tar ordering.
func collectFiles(srcDir string) ([]string, error) {
	var rels []string
	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		rels = append(rels, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(rels)
	return rels, nil
}

// Unpack extracts a gzipped tar archive at archivePath into destDir,
// honoring artifactPaths as an allowlist when non-empty (only entries
// whose name matches one of artifactPaths, or a path beneath it, are
// extracted). Entries containing ".." or an absolute path are rejected
// outright, mirroring the Path Classifier's write guard.
func Unpack(archivePath, destDir string, artifactPaths []string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindTransient, coreerrors.ErrCodeNotFound, "opening archive "+archivePath, err)
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindStructural, coreerrors.ErrCodeMalformedJSON, "opening gzip stream", err)
	}
	defer gzr.Close()
	tr := tar.NewReader(gzr)

	var extracted []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if containsPathEscape(hdr.Name) {
			return nil, coreerrors.New(coreerrors.KindWrite, coreerrors.ErrCodeWriteViolation, "archive entry escapes destination: "+hdr.Name)
		}
		if len(artifactPaths) > 0 && !matchesAnyArtifactPath(hdr.Name, artifactPaths) {
			continue
		}

		full := filepath.Join(destDir, hdr.Name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, err
		}
		out, err := os.Create(full)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return nil, err
		}
		out.Close()
		extracted = append(extracted, hdr.Name)
	}
	return extracted, nil
}

func containsPathEscape(name string) bool {
	if filepath.IsAbs(name) {
		return true
	}
	clean := filepath.Clean(name)
	return clean == ".." || len(clean) >= 3 && clean[:3] == "../"
}

func matchesAnyArtifactPath(name string, artifactPaths []string) bool {
	for _, p := range artifactPaths {
		if name == p || len(name) > len(p) && name[:len(p)+1] == p+"/" {
			return true
		}
	}
	return false
}

// PackTwiceAndCompare packs srcDir into two independent archives under
// distinct temp paths and reports whether their digests match — the G3
// determinism check (spec scenario B). destA/destB are both written to
// disk so a caller can inspect or discard them.
func PackTwiceAndCompare(srcDir, destA, destB string) (digestA, digestB string, match bool, err error) {
	digestA, err = Pack(srcDir, destA)
	if err != nil {
		return "", "", false, err
	}
	digestB, err = Pack(srcDir, destB)
	if err != nil {
		return "", "", false, err
	}
	return digestA, digestB, digestA == digestB, nil
}
