// Package sign wraps detached-signature creation and verification. The
// on-disk format is minisign's native format, so signatures stay
// verifiable with the stock minisign tool.
package sign

import (
	"fmt"
	"os"
	"path/filepath"

	"aead.dev/minisign"

	"github.com/historify-project/historify/pkg/errclass"
	"github.com/historify-project/historify/pkg/fsutil"
)

// Signer produces and validates detached signatures.
type Signer interface {
	// Sign writes a detached signature for path at path+".sig" and
	// archives the public key in the repository key archive.
	Sign(path string) error
	// Verify checks sigPath against path using the public key at pubPath.
	Verify(path, sigPath, pubPath string) error
	// Fingerprint identifies the signing public key.
	Fingerprint() string
}

// FingerprintOf formats a minisign key ID as the archive fingerprint.
func FingerprintOf(id uint64) string {
	return fmt.Sprintf("%016X", id)
}

// KeyIDFromSignature extracts the signing key's fingerprint from a
// detached signature file.
func KeyIDFromSignature(sigPath string) (string, error) {
	var sig minisign.Signature
	raw, err := os.ReadFile(sigPath)
	if err != nil {
		return "", errclass.ErrBadSignature.WithMessagef("read signature %s: %v", sigPath, err)
	}
	if err := sig.UnmarshalText(raw); err != nil {
		return "", errclass.ErrBadSignature.WithMessagef("parse signature %s: %v", sigPath, err)
	}
	return FingerprintOf(sig.KeyID), nil
}

// ArchivedKeyPath returns the expected archive location for a fingerprint.
func ArchivedKeyPath(keysDir, fingerprint string) string {
	return filepath.Join(keysDir, fingerprint+".pub")
}

// FindArchivedKey locates the archived public key matching a signature.
func FindArchivedKey(keysDir, sigPath string) (string, error) {
	fp, err := KeyIDFromSignature(sigPath)
	if err != nil {
		return "", err
	}
	path := ArchivedKeyPath(keysDir, fp)
	if _, err := os.Stat(path); err != nil {
		return "", errclass.ErrKeyMissing.WithMessagef("no archived public key %s for %s", fp, filepath.Base(sigPath))
	}
	return path, nil
}

// archiveKey stores pub under keysDir by fingerprint, once.
func archiveKey(keysDir string, pub minisign.PublicKey) error {
	if err := os.MkdirAll(keysDir, 0o755); err != nil {
		return errclass.ErrIO.WithMessagef("create keys directory: %v", err)
	}
	target := ArchivedKeyPath(keysDir, FingerprintOf(pub.ID()))
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	text, err := pub.MarshalText()
	if err != nil {
		return errclass.ErrIO.WithMessagef("encode public key: %v", err)
	}
	return fsutil.AtomicWrite(target, text, 0o644)
}

// verifyDetached is the verification path shared by all signer
// implementations.
func verifyDetached(path, sigPath, pubPath string) error {
	pub, err := minisign.PublicKeyFromFile(pubPath)
	if err != nil {
		return errclass.ErrKeyMissing.WithMessagef("load public key %s: %v", pubPath, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errclass.ErrIO.WithMessagef("read %s: %v", path, err)
	}
	raw, err := os.ReadFile(sigPath)
	if err != nil {
		return errclass.ErrBadSignature.WithMessagef("read signature %s: %v", sigPath, err)
	}
	if !minisign.Verify(pub, data, raw) {
		return errclass.ErrBadSignature.WithMessagef("signature does not verify: %s", filepath.Base(sigPath))
	}
	return nil
}
