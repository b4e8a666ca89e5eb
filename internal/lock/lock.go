// Package lock provides the repository-wide advisory lock. Write commands
// take it exclusive, read-only commands shared.
package lock

import (
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/historify-project/historify/pkg/errclass"
)

// DefaultWait bounds how long acquisition retries before RepoBusy.
const DefaultWait = 5 * time.Second

const retryInterval = 100 * time.Millisecond

// Lock is a held advisory lock on the repository lockfile.
type Lock struct {
	f *os.File
}

// Mode selects shared or exclusive locking.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

// Acquire locks path in the given mode, retrying non-blocking attempts for
// up to wait before failing with RepoBusy.
func Acquire(path string, mode Mode, wait time.Duration) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errclass.ErrIO.WithMessagef("open lockfile: %v", err)
	}

	how := unix.LOCK_SH
	if mode == Exclusive {
		how = unix.LOCK_EX
	}

	deadline := time.Now().Add(wait)
	for {
		err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
		if err == nil {
			return &Lock{f: f}, nil
		}
		if err != unix.EWOULDBLOCK && err != unix.EAGAIN {
			f.Close()
			return nil, errclass.ErrIO.WithMessagef("flock: %v", err)
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, errclass.ErrRepoBusy.WithMessage("repository is locked by another process")
		}
		time.Sleep(retryInterval)
	}
}

// Release drops the lock.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	defer l.f.Close()
	return unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
}
