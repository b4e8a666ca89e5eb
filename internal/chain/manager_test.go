package chain_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/historify-project/historify/internal/chain"
	"github.com/historify-project/historify/internal/changelog"
	"github.com/historify-project/historify/internal/hash"
	"github.com/historify-project/historify/internal/repo"
	"github.com/historify-project/historify/internal/sign"
)

func testRepo(t *testing.T) (*repo.Repository, *sign.MemorySigner) {
	t.Helper()
	r, err := repo.Init(filepath.Join(t.TempDir(), "repo"), repo.InitOptions{
		Name:       "test",
		SeedSource: bytes.NewReader(make([]byte, repo.SeedSize)),
	})
	require.NoError(t, err)
	signer, err := sign.NewMemorySigner(r.KeysDir())
	require.NoError(t, err)
	return r, signer
}

func TestBootstrap_SignsSeedAndOpensFirstLog(t *testing.T) {
	r, signer := testRepo(t)
	mgr := chain.NewManager(r, signer)

	res, err := mgr.Bootstrap()
	require.NoError(t, err)
	assert.Empty(t, res.Closed)

	// Seed got its mandatory signature.
	_, err = os.Stat(r.SeedSigPath())
	require.NoError(t, err)

	// The first log's closing row carries the seed digests.
	store := r.Store()
	events, err := store.ReadAll(res.Opened)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	require.Equal(t, changelog.TypeClosing, events[0].Type)
	assert.Equal(t, "seed.bin", events[0].Extra.Get("prev"))

	seedDigests, err := hash.New().File(r.SeedPath())
	require.NoError(t, err)
	assert.Equal(t, seedDigests.SHA256, events[0].SHA256)
	assert.Equal(t, seedDigests.BLAKE3, events[0].BLAKE3)
}

func TestBootstrap_RefusesWhenLogsExist(t *testing.T) {
	r, signer := testRepo(t)
	mgr := chain.NewManager(r, signer)

	_, err := mgr.Bootstrap()
	require.NoError(t, err)
	_, err = mgr.Bootstrap()
	assert.Error(t, err)
}

func TestCloseAndOpen_LinksSuccessor(t *testing.T) {
	r, signer := testRepo(t)
	mgr := chain.NewManager(r, signer)

	boot, err := mgr.Bootstrap()
	require.NoError(t, err)

	res, err := mgr.CloseAndOpen()
	require.NoError(t, err)
	assert.Equal(t, boot.Opened, res.Closed)
	assert.NotEqual(t, res.Closed, res.Opened)

	// Closed log has its signature.
	store := r.Store()
	logs, err := store.List()
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].Signed)
	assert.False(t, logs[1].Signed)

	// Successor's closing row matches the just-closed file's digests.
	events, err := store.ReadAll(res.Opened)
	require.NoError(t, err)
	require.Equal(t, changelog.TypeClosing, events[0].Type)
	assert.Equal(t, res.Closed, events[0].Extra.Get("prev"))

	closedDigests, err := hash.New().File(logs[0].Path)
	require.NoError(t, err)
	assert.Equal(t, closedDigests.BLAKE3, events[0].BLAKE3)

	// Closing again with no intervening events chains once more.
	res2, err := mgr.CloseAndOpen()
	require.NoError(t, err)
	assert.Equal(t, res.Opened, res2.Closed)

	events2, err := store.ReadAll(res2.Opened)
	require.NoError(t, err)
	assert.Equal(t, res.Opened, events2[0].Extra.Get("prev"))
}

func TestCloseAndOpen_ResumesAfterCrashBetweenSignAndOpen(t *testing.T) {
	r, signer := testRepo(t)
	mgr := chain.NewManager(r, signer)

	boot, err := mgr.Bootstrap()
	require.NoError(t, err)

	// Simulate the crash: the open log was signed but no successor was
	// created.
	openPath := filepath.Join(r.ChangesDir(), boot.Opened)
	require.NoError(t, signer.Sign(openPath))

	res, err := mgr.CloseAndOpen()
	require.NoError(t, err)
	assert.Empty(t, res.Closed) // nothing newly signed
	assert.NotEmpty(t, res.Opened)

	events, err := r.Store().ReadAll(res.Opened)
	require.NoError(t, err)
	assert.Equal(t, boot.Opened, events[0].Extra.Get("prev"))

	// The repository is healthy again: exactly one open log.
	open, err := r.Store().Open()
	require.NoError(t, err)
	assert.Equal(t, res.Opened, open.Name)
}

func TestCloseAndOpen_RefusesTamperedChain(t *testing.T) {
	r, signer := testRepo(t)
	mgr := chain.NewManager(r, signer)

	_, err := mgr.Bootstrap()
	require.NoError(t, err)
	res, err := mgr.CloseAndOpen()
	require.NoError(t, err)

	// Flip a byte in the closed log.
	closedPath := filepath.Join(r.ChangesDir(), res.Closed)
	data, err := os.ReadFile(closedPath)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(closedPath, data, 0o644))

	_, err = mgr.CloseAndOpen()
	assert.Error(t, err)
}
