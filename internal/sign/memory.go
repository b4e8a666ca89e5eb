package sign

import (
	"crypto/rand"
	"os"

	"aead.dev/minisign"

	"github.com/historify-project/historify/pkg/errclass"
	"github.com/historify-project/historify/pkg/fsutil"
)

// MemorySigner holds a generated key pair in memory. It writes real
// minisign signature files, so everything downstream of Sign behaves
// exactly as with the file-backed signer. Used by tests.
type MemorySigner struct {
	priv    minisign.PrivateKey
	pub     minisign.PublicKey
	keysDir string
}

// NewMemorySigner generates a fresh key pair archived under keysDir.
func NewMemorySigner(keysDir string) (*MemorySigner, error) {
	pub, priv, err := minisign.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errclass.ErrSignerUnavailable.WithMessagef("generate key: %v", err)
	}
	return &MemorySigner{priv: priv, pub: pub, keysDir: keysDir}, nil
}

// Sign writes path+".sig" and archives the public key.
func (m *MemorySigner) Sign(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errclass.ErrIO.WithMessagef("read %s: %v", path, err)
	}
	sig := minisign.Sign(m.priv, data)
	if err := archiveKey(m.keysDir, m.pub); err != nil {
		return err
	}
	return fsutil.AtomicWrite(path+".sig", sig, 0o644)
}

// Verify checks a detached signature with an explicit public key file.
func (m *MemorySigner) Verify(path, sigPath, pubPath string) error {
	return verifyDetached(path, sigPath, pubPath)
}

// Fingerprint returns the generated public key's fingerprint.
func (m *MemorySigner) Fingerprint() string {
	return FingerprintOf(m.pub.ID())
}

// WritePublicKey exports the public key for tests that need it on disk.
func (m *MemorySigner) WritePublicKey(path string) error {
	text, err := m.pub.MarshalText()
	if err != nil {
		return err
	}
	return fsutil.AtomicWrite(path, text, 0o644)
}
