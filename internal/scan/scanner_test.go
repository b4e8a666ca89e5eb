package scan_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/historify-project/historify/internal/changelog"
	"github.com/historify-project/historify/internal/repo"
	"github.com/historify-project/historify/internal/scan"
	"github.com/historify-project/historify/internal/state"
	"github.com/historify-project/historify/pkg/config"
)

func testRepo(t *testing.T) *repo.Repository {
	t.Helper()
	r, err := repo.Init(filepath.Join(t.TempDir(), "repo"), repo.InitOptions{
		Name:       "test",
		SeedSource: bytes.NewReader(make([]byte, repo.SeedSize)),
	})
	require.NoError(t, err)
	return r
}

func addDocs(t *testing.T, r *repo.Repository, files map[string]string) config.Category {
	t.Helper()
	root := filepath.Join(r.Root, "docs")
	require.NoError(t, os.MkdirAll(root, 0o755))
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	require.NoError(t, r.AddCategory("docs", "docs"))
	cat, err := r.Category("docs")
	require.NoError(t, err)
	return cat
}

// applyEvents replays events into a state map so consecutive scans can build on
// each other without a full store round trip.
func applyEvents(t *testing.T, prior map[string]state.FileState, events []*changelog.Event) map[string]state.FileState {
	t.Helper()
	next := make(map[string]state.FileState, len(prior))
	for k, v := range prior {
		next[k] = v
	}
	for _, ev := range events {
		switch ev.Type {
		case changelog.TypeNew, changelog.TypeChanged:
			next[ev.Path] = state.FileState{SHA256: ev.SHA256, BLAKE3: ev.BLAKE3, Size: ev.Size, CTime: ev.CTime, MTime: ev.MTime}
		case changelog.TypeMove:
			from := ev.Extra.Get("from")
			require.Contains(t, next, from)
			delete(next, from)
			next[ev.Path] = state.FileState{SHA256: ev.SHA256, BLAKE3: ev.BLAKE3, Size: ev.Size, CTime: ev.CTime, MTime: ev.MTime}
		case changelog.TypeDeleted:
			delete(next, ev.Path)
		}
	}
	return next
}

func TestScan_FirstScanEmitsNewInLexOrder(t *testing.T) {
	r := testRepo(t)
	cat := addDocs(t, r, map[string]string{
		"b/c.txt": "world\n",
		"a.txt":   "hello\n",
	})

	events, err := scan.New(r).ScanCategory(context.Background(), cat, nil, nil, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, changelog.TypeNew, events[0].Type)
	assert.Equal(t, "a.txt", events[0].Path)
	assert.Equal(t, "b/c.txt", events[1].Path)
	assert.Equal(t, int64(6), events[0].Size)
	assert.NotEmpty(t, events[0].SHA256)
	assert.NotEmpty(t, events[0].BLAKE3)
	assert.NotEqual(t, events[0].BLAKE3, events[1].BLAKE3)
}

func TestScan_NoChangesEmitsNothing(t *testing.T) {
	r := testRepo(t)
	cat := addDocs(t, r, map[string]string{"a.txt": "hello\n"})
	s := scan.New(r)

	first, err := s.ScanCategory(context.Background(), cat, nil, nil, time.Now().UTC())
	require.NoError(t, err)
	prior := applyEvents(t, nil, first)

	second, err := s.ScanCategory(context.Background(), cat, prior, nil, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestScan_MoveDetection(t *testing.T) {
	r := testRepo(t)
	cat := addDocs(t, r, map[string]string{
		"a.txt":   "hello\n",
		"b/c.txt": "world\n",
	})
	s := scan.New(r)

	first, err := s.ScanCategory(context.Background(), cat, nil, nil, time.Now().UTC())
	require.NoError(t, err)
	prior := applyEvents(t, nil, first)

	root := filepath.Join(r.Root, "docs")
	require.NoError(t, os.Rename(filepath.Join(root, "a.txt"), filepath.Join(root, "b", "a.txt")))

	events, err := s.ScanCategory(context.Background(), cat, prior, nil, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, events, 1)

	mv := events[0]
	assert.Equal(t, changelog.TypeMove, mv.Type)
	assert.Equal(t, "b/a.txt", mv.Path)
	assert.Equal(t, "a.txt", mv.Extra.Get("from"))
	assert.Equal(t, prior["a.txt"].BLAKE3, mv.BLAKE3)
	assert.Equal(t, prior["a.txt"].SHA256, mv.SHA256)
}

func TestScan_ChangeAndDelete(t *testing.T) {
	r := testRepo(t)
	cat := addDocs(t, r, map[string]string{
		"b/a.txt": "hello\n",
		"b/c.txt": "world\n",
	})
	s := scan.New(r)

	first, err := s.ScanCategory(context.Background(), cat, nil, nil, time.Now().UTC())
	require.NoError(t, err)
	prior := applyEvents(t, nil, first)

	root := filepath.Join(r.Root, "docs")
	require.NoError(t, os.WriteFile(filepath.Join(root, "b", "c.txt"), []byte("WORLD\n"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(root, "b", "a.txt")))

	events, err := s.ScanCategory(context.Background(), cat, prior, nil, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, changelog.TypeDeleted, events[0].Type)
	assert.Equal(t, "b/a.txt", events[0].Path)
	assert.Equal(t, prior["b/a.txt"].BLAKE3, events[0].BLAKE3)

	assert.Equal(t, changelog.TypeChanged, events[1].Type)
	assert.Equal(t, "b/c.txt", events[1].Path)
	assert.NotEqual(t, prior["b/c.txt"].BLAKE3, events[1].BLAKE3)
}

func TestScan_TouchWithoutContentChangeEmitsNothing(t *testing.T) {
	r := testRepo(t)
	cat := addDocs(t, r, map[string]string{"a.txt": "hello\n"})
	s := scan.New(r)

	first, err := s.ScanCategory(context.Background(), cat, nil, nil, time.Now().UTC())
	require.NoError(t, err)
	prior := applyEvents(t, nil, first)

	// Bump mtime without changing content.
	path := filepath.Join(r.Root, "docs", "a.txt")
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	events, err := s.ScanCategory(context.Background(), cat, prior, nil, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestScan_SymlinkSkippedWithComment(t *testing.T) {
	r := testRepo(t)
	cat := addDocs(t, r, map[string]string{"a.txt": "hello\n"})
	root := filepath.Join(r.Root, "docs")
	require.NoError(t, os.Symlink("a.txt", filepath.Join(root, "link")))

	s := scan.New(r)
	events, err := s.ScanCategory(context.Background(), cat, nil, nil, time.Now().UTC())
	require.NoError(t, err)

	var comments, news int
	var msg string
	for _, ev := range events {
		switch ev.Type {
		case changelog.TypeComment:
			comments++
			msg = ev.Extra.Get("msg")
		case changelog.TypeNew:
			news++
		}
	}
	assert.Equal(t, 1, comments)
	assert.Equal(t, 1, news)
	assert.Contains(t, msg, "link")

	// Once commented, subsequent scans stay quiet about it.
	prior := applyEvents(t, nil, events)
	skipped := scan.SkippedPaths([]string{msg})
	events, err = s.ScanCategory(context.Background(), cat, prior, skipped, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestScan_ExcludesRepositoryMetadata(t *testing.T) {
	r := testRepo(t)
	// Category rooted at the repository itself: db/ and changes/ must not
	// be walked.
	require.NoError(t, os.WriteFile(filepath.Join(r.Root, "top.txt"), []byte("x\n"), 0o644))
	require.NoError(t, r.AddCategory("all", "."))
	cat, err := r.Category("all")
	require.NoError(t, err)

	events, err := scan.New(r).ScanCategory(context.Background(), cat, nil, nil, time.Now().UTC())
	require.NoError(t, err)

	for _, ev := range events {
		assert.NotContains(t, ev.Path, "seed.bin")
		assert.NotContains(t, ev.Path, "db/")
		assert.NotContains(t, ev.Path, "changes/")
	}
}

func TestScan_InterruptReturnsNoPartialBatch(t *testing.T) {
	r := testRepo(t)
	cat := addDocs(t, r, map[string]string{"a.txt": "hello\n"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := scan.New(r).ScanCategory(ctx, cat, nil, nil, time.Now().UTC())
	assert.Error(t, err)
}

func TestDuplicates(t *testing.T) {
	st := state.State{
		"docs": {
			"a.txt": {BLAKE3: "h1", Size: 6},
			"b.txt": {BLAKE3: "h1", Size: 6},
			"c.txt": {BLAKE3: "h2", Size: 7},
		},
		"media": {
			"d.bin": {BLAKE3: "h1", Size: 6},
		},
	}

	groups := scan.Duplicates(st, "")
	require.Len(t, groups, 1)
	assert.Equal(t, "h1", groups[0].BLAKE3)
	assert.Equal(t, []string{"docs/a.txt", "docs/b.txt", "media/d.bin"}, groups[0].Paths)

	scoped := scan.Duplicates(st, "media")
	assert.Empty(t, scoped)
}
