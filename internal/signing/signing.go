// Package signing implements the G4 signature gate's contract (spec
// section 4.12, Open Question 1): HMAC-SHA256 over an archive digest,
// keyed by a signing key derived from CONTROL_PLANE_SIGNING_KEY via HKDF.
// No asymmetric scheme is introduced — the spec explicitly leaves the
// production signature backend undefined and only pins this contract.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	coreerrors "github.com/control-plane/governor/infrastructure/errors"
)

// SignaturePrefix tags every signature this package produces so a future
// verifier can reject signatures written by a different scheme.
const SignaturePrefix = "hmac-sha256:"

// DeriveKey derives a 32-byte MAC key from masterKey, scoped by info (the
// package ID the signature is for), using HKDF-SHA256. This generalizes the
// envelope package's HMAC-as-KDF technique to a single derived MAC key
// rather than an AES-GCM data-encryption key.
func DeriveKey(masterKey []byte, info string) ([]byte, error) {
	if len(masterKey) == 0 {
		return nil, coreerrors.New(coreerrors.KindGate, coreerrors.ErrCodeGateFailed, "signing key must not be empty")
	}

	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindGate, coreerrors.ErrCodeGateFailed, "derive signing key", err)
	}
	return key, nil
}

// Sign computes the G4 signature over archiveDigest (a "sha256:<hex>"
// string), scoped to packageID, and returns it in SignaturePrefix-tagged
// hex form suitable for writing to a `.sig` sidecar file.
func Sign(masterKey []byte, packageID, archiveDigest string) (string, error) {
	key, err := DeriveKey(masterKey, packageID)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(archiveDigest))
	sum := mac.Sum(nil)

	return SignaturePrefix + hex.EncodeToString(sum), nil
}

// Verify reports whether signature is a valid G4 signature over
// archiveDigest for packageID under masterKey.
func Verify(masterKey []byte, packageID, archiveDigest, signature string) (bool, error) {
	expected, err := Sign(masterKey, packageID, archiveDigest)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature))), nil
}

// SidecarPath returns the `.sig` sidecar path for an archive path, per
// spec section 6 ("Companion .sig file is content-hash or HMAC over the
// archive digest").
func SidecarPath(archivePath string) string {
	return archivePath + ".sig"
}

// FormatSidecar renders the signature file contents: one line, the tagged
// signature, newline-terminated.
func FormatSidecar(signature string) []byte {
	return []byte(fmt.Sprintf("%s\n", signature))
}

// ParseSidecar extracts the signature from a `.sig` file's raw contents.
func ParseSidecar(raw []byte) string {
	return strings.TrimSpace(string(raw))
}
