package cli

import (
	"github.com/historify-project/historify/internal/lock"
	"github.com/historify-project/historify/internal/repo"
	"github.com/historify-project/historify/internal/sign"
	"github.com/historify-project/historify/pkg/config"
)

// openRepo loads the repository named by --repo.
func openRepo() (*repo.Repository, error) {
	return repo.Open(repoPath)
}

// lockedRepo opens the repository and takes the repository lock. The
// caller releases the lock.
func lockedRepo(mode lock.Mode) (*repo.Repository, *lock.Lock, error) {
	r, err := openRepo()
	if err != nil {
		return nil, nil, err
	}
	l, err := r.Lock(mode)
	if err != nil {
		return nil, nil, err
	}
	return r, l, nil
}

// newSigner builds the configured minisign signer for r.
func newSigner(r *repo.Repository) sign.Signer {
	keyPath := r.Config.Get("minisign.key", "")
	pubPath := r.Config.Get("minisign.pub", "")
	if keyPath != "" {
		keyPath = config.ResolvePath(r.Root, keyPath)
	}
	if pubPath != "" {
		pubPath = config.ResolvePath(r.Root, pubPath)
	}
	return sign.NewMinisignSigner(keyPath, pubPath, r.KeysDir(), nil)
}
