// Package repo defines the repository layout and lifecycle. A Repository
// handle carries the loaded configuration and is passed explicitly through
// every operation; there is no ambient repository state.
package repo

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/historify-project/historify/internal/changelog"
	"github.com/historify-project/historify/internal/lock"
	"github.com/historify-project/historify/pkg/config"
	"github.com/historify-project/historify/pkg/errclass"
	"github.com/historify-project/historify/pkg/fsutil"
	"github.com/historify-project/historify/pkg/pathutil"
)

// SeedSize is the size of the random seed anchoring the hash chain.
const SeedSize = 1 << 20

// Repository is an opened historify repository.
type Repository struct {
	Root   string
	Config *config.Config
}

// InitOptions tune repository creation.
type InitOptions struct {
	Name string
	// SeedSource overrides the CSPRNG used for seed.bin. Tests use this
	// for deterministic seeds; nil means crypto/rand.
	SeedSource io.Reader
}

// Init creates the on-disk layout at path: db/ with config, seed and keys
// directory, and an empty changes/ directory.
func Init(path string, opts InitOptions) (*Repository, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errclass.ErrIO.WithMessagef("resolve path: %v", err)
	}
	name := opts.Name
	if name == "" {
		name = filepath.Base(abs)
	}

	dbDir := filepath.Join(abs, "db")
	if _, err := os.Stat(filepath.Join(dbDir, "config")); err == nil {
		return nil, errclass.ErrConfig.WithMessagef("already a historify repository: %s", abs)
	}

	for _, dir := range []string{dbDir, filepath.Join(dbDir, "keys"), filepath.Join(abs, "changes")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errclass.ErrIO.WithMessagef("create %s: %v", dir, err)
		}
	}

	if err := writeSeed(filepath.Join(dbDir, "seed.bin"), opts.SeedSource); err != nil {
		return nil, err
	}

	cfg := config.New(filepath.Join(dbDir, "config"))
	for k, v := range map[string]string{
		"repository.name":            name,
		"repository.created":         time.Now().UTC().Format(time.RFC3339),
		"repository.time_resolution": "ns",
		"hash.algorithms":            "blake3,sha256",
		"changes.directory":          "changes",
	} {
		if err := cfg.Set(k, v); err != nil {
			return nil, err
		}
	}
	if err := cfg.Save(); err != nil {
		return nil, err
	}

	if err := fsutil.FsyncDir(abs); err != nil {
		return nil, errclass.ErrIO.WithMessagef("fsync repo root: %v", err)
	}

	return &Repository{Root: abs, Config: cfg}, nil
}

func writeSeed(path string, src io.Reader) error {
	if src == nil {
		src = rand.Reader
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o444)
	if err != nil {
		return errclass.ErrIO.WithMessagef("create seed: %v", err)
	}
	defer f.Close()
	if _, err := io.CopyN(f, src, SeedSize); err != nil {
		os.Remove(path)
		return errclass.ErrIO.WithMessagef("write seed: %v", err)
	}
	return f.Sync()
}

// Open loads an existing repository rooted at path.
func Open(path string) (*Repository, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errclass.ErrIO.WithMessagef("resolve path: %v", err)
	}
	cfg, err := config.Load(filepath.Join(abs, "db", "config"))
	if err != nil {
		return nil, errclass.ErrConfig.WithMessagef("not a historify repository: %s", abs)
	}
	if _, err := os.Stat(filepath.Join(abs, "db", "seed.bin")); err != nil {
		return nil, errclass.ErrConfig.WithMessagef("repository has no seed: %s", abs)
	}
	return &Repository{Root: abs, Config: cfg}, nil
}

// DBDir returns the metadata directory.
func (r *Repository) DBDir() string { return filepath.Join(r.Root, "db") }

// SeedPath returns the seed file path.
func (r *Repository) SeedPath() string { return filepath.Join(r.DBDir(), "seed.bin") }

// SeedSigPath returns the seed's detached signature path.
func (r *Repository) SeedSigPath() string { return r.SeedPath() + changelog.SigSuffix }

// KeysDir returns the archived public keys directory.
func (r *Repository) KeysDir() string { return filepath.Join(r.DBDir(), "keys") }

// IndexPath returns the derived integrity index path.
func (r *Repository) IndexPath() string { return filepath.Join(r.DBDir(), "integrity.csv") }

// CachePath returns the derived SQLite cache path.
func (r *Repository) CachePath() string { return filepath.Join(r.DBDir(), "cache.db") }

// LockPath returns the advisory lockfile path.
func (r *Repository) LockPath() string { return filepath.Join(r.DBDir(), "lock") }

// ChangesDir returns the changes directory, honoring the config override.
func (r *Repository) ChangesDir() string {
	return config.ResolvePath(r.Root, r.Config.Get("changes.directory", "changes"))
}

// Store returns the change log store configured for this repository.
func (r *Repository) Store() *changelog.Store {
	return changelog.NewStore(r.ChangesDir(), r.Config.Algorithms())
}

// Lock acquires the repository lock in the given mode.
func (r *Repository) Lock(mode lock.Mode) (*lock.Lock, error) {
	return lock.Acquire(r.LockPath(), mode, lock.DefaultWait)
}

// Category resolves a configured category by name.
func (r *Repository) Category(name string) (config.Category, error) {
	if err := pathutil.ValidateCategoryName(name); err != nil {
		return config.Category{}, err
	}
	for _, c := range r.Config.Categories() {
		if c.Name == name {
			return c, nil
		}
	}
	return config.Category{}, errclass.ErrConfig.WithMessagef("unknown category: %s", name)
}

// Categories returns all configured categories; scanning requires at least one.
func (r *Repository) Categories() []config.Category {
	return r.Config.Categories()
}

// CategoryRoot makes a category's data root absolute.
func (r *Repository) CategoryRoot(c config.Category) string {
	return config.ResolvePath(r.Root, c.Path)
}

// AddCategory validates and records a category definition.
func (r *Repository) AddCategory(name, path string) error {
	if err := pathutil.ValidateCategoryName(name); err != nil {
		return err
	}
	root := config.ResolvePath(r.Root, path)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return errclass.ErrConfig.WithMessagef("category path is not a directory: %s", path)
	}
	for _, c := range r.Config.Categories() {
		if c.Name == name {
			return errclass.ErrConfig.WithMessagef("category already exists: %s", name)
		}
	}
	if err := r.Config.Set(fmt.Sprintf("category.%s.path", name), path); err != nil {
		return err
	}
	return r.Config.Save()
}
