package snapshot_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/historify-project/historify/internal/repo"
	"github.com/historify-project/historify/internal/snapshot"
)

func testRepo(t *testing.T) *repo.Repository {
	t.Helper()
	r, err := repo.Init(filepath.Join(t.TempDir(), "repo"), repo.InitOptions{
		Name:       "archive-test",
		SeedSource: bytes.NewReader(make([]byte, repo.SeedSize)),
	})
	require.NoError(t, err)

	root := filepath.Join(r.Root, "docs")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello\n"), 0o644))
	require.NoError(t, r.AddCategory("docs", "docs"))
	return r
}

func archiveNames(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	return names
}

func TestPack_SingleVolume(t *testing.T) {
	r := testRepo(t)
	out := filepath.Join(t.TempDir(), "out")

	volumes, err := snapshot.Pack(r, out, snapshot.Options{})
	require.NoError(t, err)
	require.Len(t, volumes, 1)

	names := archiveNames(t, volumes[0].Path)
	assert.Equal(t, "MANIFEST", names[0])
	assert.Contains(t, names, "db/config")
	assert.Contains(t, names, "db/seed.bin")

	// Payload data is excluded without --full.
	for _, n := range names {
		assert.False(t, strings.HasPrefix(n, "data/"), n)
	}
}

func TestPack_FullIncludesCategoryData(t *testing.T) {
	r := testRepo(t)
	out := filepath.Join(t.TempDir(), "out")

	volumes, err := snapshot.Pack(r, out, snapshot.Options{Full: true})
	require.NoError(t, err)
	require.Len(t, volumes, 1)

	names := archiveNames(t, volumes[0].Path)
	assert.Contains(t, names, "data/docs/a.txt")
}

func TestPack_MediaCapacitySplitsVolumes(t *testing.T) {
	r := testRepo(t)
	out := filepath.Join(t.TempDir(), "out")

	// The 1 MiB seed alone exceeds a 512 KiB capacity, so it gets its own
	// volume and everything else spreads across more.
	volumes, err := snapshot.Pack(r, out, snapshot.Options{MediaCapacity: 512 * 1024})
	require.NoError(t, err)
	assert.Greater(t, len(volumes), 1)
	for _, v := range volumes {
		assert.FileExists(t, v.Path)
	}
}

func TestPack_ManifestRecordsPublisher(t *testing.T) {
	r := testRepo(t)
	require.NoError(t, r.Config.Set("iso.publisher", "Example Archive Unit"))
	require.NoError(t, r.Config.Save())
	out := filepath.Join(t.TempDir(), "out")

	volumes, err := snapshot.Pack(r, out, snapshot.Options{Name: "vault"})
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(volumes[0].Path), "vault-")

	f, err := os.Open(volumes[0].Path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	hdr, err := tr.Next()
	require.NoError(t, err)
	require.Equal(t, "MANIFEST", hdr.Name)
	manifest, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Contains(t, string(manifest), "publisher: Example Archive Unit")
}
