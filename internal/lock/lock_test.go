package lock_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/historify-project/historify/internal/lock"
	"github.com/historify-project/historify/pkg/errclass"
)

func TestAcquire_SharedAllowsSharing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	a, err := lock.Acquire(path, lock.Shared, time.Second)
	require.NoError(t, err)
	defer a.Release()

	b, err := lock.Acquire(path, lock.Shared, time.Second)
	require.NoError(t, err)
	defer b.Release()
}

func TestAcquire_ExclusiveConflicts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	a, err := lock.Acquire(path, lock.Exclusive, time.Second)
	require.NoError(t, err)
	defer a.Release()

	_, err = lock.Acquire(path, lock.Exclusive, 300*time.Millisecond)
	assert.True(t, errclass.ErrRepoBusy.Is(err))

	_, err = lock.Acquire(path, lock.Shared, 300*time.Millisecond)
	assert.True(t, errclass.ErrRepoBusy.Is(err))
}

func TestAcquire_ReleaseUnblocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	a, err := lock.Acquire(path, lock.Exclusive, time.Second)
	require.NoError(t, err)
	require.NoError(t, a.Release())

	b, err := lock.Acquire(path, lock.Exclusive, time.Second)
	require.NoError(t, err)
	defer b.Release()
}
