// Package hashutil implements the Hasher and Merkle components (spec
// sections 4.1-4.2): a single canonical SHA-256 digest form used for every
// inter-component hash comparison, and the Merkle root used by segment
// metadata and chain roll-up queries.
package hashutil

import (
	"crypto/sha256"
	"io"
	"os"

	"github.com/control-plane/governor/infrastructure/hex"
)

// Prefix tags every digest this package produces so callers never compare a
// bare hex string against a tagged one by accident.
const Prefix = "sha256:"

const chunkSize = 64 * 1024

// HashString returns the tagged SHA-256 digest of s, UTF-8 encoded.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return Prefix + hex.EncodeToString(sum[:])
}

// HashBytes returns the tagged SHA-256 digest of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return Prefix + hex.EncodeToString(sum[:])
}

// HashReader streams r in 64 KiB chunks and returns its tagged SHA-256
// digest, without holding the full content in memory.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return Prefix + hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile streams the file at path through HashReader.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return HashReader(f)
}

// MerkleRoot computes the root of an ordered sequence of tagged hash
// strings: empty input yields "", a single hash is its own root, otherwise
// adjacent hashes are paired (duplicating the last when the level is odd),
// concatenated as strings and re-hashed, until one hash remains. The result
// is deterministic and position-sensitive.
func MerkleRoot(hashes []string) string {
	if len(hashes) == 0 {
		return ""
	}
	level := make([]string, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, HashString(level[i]+level[i+1]))
		}
		level = next
	}
	return level[0]
}
