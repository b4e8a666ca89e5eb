package sign

import (
	"os"
	"strings"

	"aead.dev/minisign"

	"github.com/historify-project/historify/pkg/errclass"
	"github.com/historify-project/historify/pkg/fsutil"
)

// MinisignSigner signs with a minisign key pair from disk. The private key
// is decrypted lazily on first Sign so that read-only verification never
// asks for a password.
type MinisignSigner struct {
	keyPath  string
	pubPath  string
	keysDir  string
	password PasswordSource

	priv   *minisign.PrivateKey
	pub    minisign.PublicKey
	loaded bool
}

// NewMinisignSigner builds a signer over the configured key files.
// keysDir is the repository key archive.
func NewMinisignSigner(keyPath, pubPath, keysDir string, password PasswordSource) *MinisignSigner {
	if password == nil {
		password = DefaultPasswordSource
	}
	return &MinisignSigner{keyPath: keyPath, pubPath: pubPath, keysDir: keysDir, password: password}
}

func (m *MinisignSigner) loadPublic() error {
	if m.loaded {
		return nil
	}
	if m.pubPath == "" {
		return errclass.ErrKeyMissing.WithMessage("minisign.pub is not configured")
	}
	pub, err := minisign.PublicKeyFromFile(m.pubPath)
	if err != nil {
		return errclass.ErrKeyMissing.WithMessagef("load public key %s: %v", m.pubPath, err)
	}
	m.pub = pub
	m.loaded = true
	return nil
}

func (m *MinisignSigner) loadPrivate() error {
	if m.priv != nil {
		return nil
	}
	if m.keyPath == "" {
		return errclass.ErrKeyMissing.WithMessage("minisign.key is not configured")
	}
	raw, err := os.ReadFile(m.keyPath)
	if err != nil {
		return errclass.ErrKeyMissing.WithMessagef("read private key %s: %v", m.keyPath, err)
	}

	// Unencrypted keys carry it in the untrusted comment line.
	encrypted := !strings.Contains(strings.ToLower(firstLine(raw)), "unencrypted")

	var password []byte
	if encrypted {
		password, err = m.password()
		if err != nil {
			return err
		}
	}
	defer Zero(password)

	priv, err := minisign.PrivateKeyFromFile(string(password), m.keyPath)
	if err != nil {
		if encrypted {
			return errclass.ErrPasswordIncorrect.WithMessagef("decrypt private key: %v", err)
		}
		return errclass.ErrKeyMissing.WithMessagef("load private key %s: %v", m.keyPath, err)
	}
	m.priv = &priv
	return nil
}

func firstLine(raw []byte) string {
	s := string(raw)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Sign writes path+".sig" and archives the public key on first use.
func (m *MinisignSigner) Sign(path string) error {
	if err := m.loadPublic(); err != nil {
		return err
	}
	if err := m.loadPrivate(); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errclass.ErrIO.WithMessagef("read %s: %v", path, err)
	}
	sig := minisign.Sign(*m.priv, data)

	if err := archiveKey(m.keysDir, m.pub); err != nil {
		return err
	}
	return fsutil.AtomicWrite(path+".sig", sig, 0o644)
}

// Verify checks a detached signature with an explicit public key file.
func (m *MinisignSigner) Verify(path, sigPath, pubPath string) error {
	return verifyDetached(path, sigPath, pubPath)
}

// Fingerprint returns the configured public key's fingerprint.
func (m *MinisignSigner) Fingerprint() string {
	if err := m.loadPublic(); err != nil {
		return ""
	}
	return FingerprintOf(m.pub.ID())
}
