// Package chain implements the log lifecycle: seeding the chain, closing
// the open log by signing it, and opening the successor that binds to it.
package chain

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/historify-project/historify/internal/changelog"
	"github.com/historify-project/historify/internal/hash"
	"github.com/historify-project/historify/internal/repo"
	"github.com/historify-project/historify/internal/sign"
	"github.com/historify-project/historify/internal/verify"
	"github.com/historify-project/historify/pkg/errclass"
)

// Manager drives closings. It leaves the repository untouched on any
// failure before the signature is written, and resumes cleanly after a
// crash between signing and opening the successor log.
type Manager struct {
	repo   *repo.Repository
	signer sign.Signer
	hasher *hash.Hasher
}

// NewManager creates a chain manager.
func NewManager(r *repo.Repository, signer sign.Signer) *Manager {
	return &Manager{repo: r, signer: signer, hasher: hash.New()}
}

// Result reports what a lifecycle operation did.
type Result struct {
	Closed string `json:"closed,omitempty"` // log that received a signature
	Opened string `json:"opened"`           // newly created open log
}

// Bootstrap creates the first log when none exist. The seed must already
// be signed, or be signable now; its digests root the chain.
func (m *Manager) Bootstrap() (*Result, error) {
	store := m.repo.Store()
	logs, err := store.List()
	if err != nil {
		return nil, err
	}
	if len(logs) > 0 {
		return nil, errclass.ErrChainBroken.WithMessage("bootstrap requires an empty changes directory")
	}

	seed := m.repo.SeedPath()
	if _, err := os.Stat(seed); err != nil {
		return nil, errclass.ErrConfig.WithMessage("repository has no seed.bin")
	}
	if _, err := os.Stat(m.repo.SeedSigPath()); err != nil {
		log.Info().Msg("seed is unsigned; signing it now")
		if err := m.signer.Sign(seed); err != nil {
			return nil, err
		}
	}
	pubPath, err := sign.FindArchivedKey(m.repo.KeysDir(), m.repo.SeedSigPath())
	if err != nil {
		return nil, err
	}
	if err := m.signer.Verify(seed, m.repo.SeedSigPath(), pubPath); err != nil {
		return nil, err
	}

	opened, err := m.open("seed.bin", seed)
	if err != nil {
		return nil, err
	}
	return &Result{Opened: opened}, nil
}

// CloseAndOpen signs the open log and opens its successor. When no open
// log exists but closed logs do (a crash between signing and opening),
// it resumes by only opening the successor.
func (m *Manager) CloseAndOpen() (*Result, error) {
	store := m.repo.Store()
	logs, err := store.List()
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return m.Bootstrap()
	}

	// Verify the existing closed chain before touching anything.
	verifier := verify.New(m.repo, m.signer)
	report, err := verifier.Verify(verify.Options{FullChain: true})
	if err != nil {
		return nil, err
	}
	if !report.OK {
		return nil, report.Err()
	}

	tail := logs[len(logs)-1]
	if tail.Signed {
		// Resume path: signature exists, successor was never created.
		log.Warn().Str("log", tail.Name).Msg("no open log; resuming interrupted closing")
		opened, err := m.open(tail.Name, tail.Path)
		if err != nil {
			return nil, err
		}
		return &Result{Opened: opened}, nil
	}

	if err := m.signer.Sign(tail.Path); err != nil {
		return nil, err
	}
	opened, err := m.open(tail.Name, tail.Path)
	if err != nil {
		return nil, err
	}
	return &Result{Closed: tail.Name, Opened: opened}, nil
}

// open creates the successor log whose closing row carries prev's digests.
func (m *Manager) open(prevName, prevPath string) (string, error) {
	d, err := m.hasher.File(prevPath)
	if err != nil {
		return "", err
	}

	store := m.repo.Store()
	now := time.Now().UTC()
	name, err := store.NewLogName(now)
	if err != nil {
		return "", err
	}

	closing := &changelog.Event{
		Timestamp: now,
		Type:      changelog.TypeClosing,
		SHA256:    d.SHA256,
		BLAKE3:    d.BLAKE3,
		Extra:     changelog.Extra{}.With("prev", prevName),
	}
	if err := store.Create(name, closing); err != nil {
		return "", err
	}
	log.Info().Str("log", name).Str("prev", prevName).Msg("opened change log")
	return name, nil
}
