package changelog_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/historify-project/historify/internal/changelog"
	"github.com/historify-project/historify/pkg/errclass"
)

var algos = []string{"blake3", "sha256"}

func closingEvent(ts time.Time) *changelog.Event {
	return &changelog.Event{
		Timestamp: ts,
		Type:      changelog.TypeClosing,
		SHA256:    strings.Repeat("a", 64),
		BLAKE3:    strings.Repeat("b", 64),
		Extra:     changelog.Extra{}.With("prev", "seed.bin"),
	}
}

func TestStore_CreateAndRead(t *testing.T) {
	store := changelog.NewStore(t.TempDir(), algos)
	ts := time.Date(2026, 8, 6, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create("changelog-2026-08-06.csv", closingEvent(ts)))

	events, err := store.ReadAll("changelog-2026-08-06.csv")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, changelog.TypeClosing, events[0].Type)
	assert.Equal(t, "seed.bin", events[0].Extra.Get("prev"))
	assert.Equal(t, ts, events[0].Timestamp)
}

func TestStore_CreateRejectsNonClosingFirstRow(t *testing.T) {
	store := changelog.NewStore(t.TempDir(), algos)
	err := store.Create("changelog-2026-08-06.csv", &changelog.Event{
		Timestamp: time.Now().UTC(),
		Type:      changelog.TypeComment,
	})
	assert.Error(t, err)
}

func TestStore_OpenDetection(t *testing.T) {
	dir := t.TempDir()
	store := changelog.NewStore(dir, algos)
	ts := time.Now().UTC()

	require.NoError(t, store.Create("changelog-2026-08-05.csv", closingEvent(ts)))
	require.NoError(t, store.Create("changelog-2026-08-06.csv", closingEvent(ts)))

	// Newest unsigned with older also unsigned: chain broken.
	_, err := store.Open()
	assert.True(t, errclass.ErrChainBroken.Is(err))

	// Sign the older one; newest becomes the open log.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "changelog-2026-08-05.csv.sig"), []byte("sig"), 0o644))
	open, err := store.Open()
	require.NoError(t, err)
	assert.Equal(t, "changelog-2026-08-06.csv", open.Name)

	// All signed: no open log.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "changelog-2026-08-06.csv.sig"), []byte("sig"), 0o644))
	_, err = store.Open()
	assert.True(t, errclass.ErrChainBroken.Is(err))
}

func TestStore_ListOrdersSameDaySuffixesNumerically(t *testing.T) {
	dir := t.TempDir()
	store := changelog.NewStore(dir, algos)
	ts := time.Now().UTC()

	require.NoError(t, store.Create("changelog-2026-08-06.csv", closingEvent(ts)))
	require.NoError(t, store.Create("changelog-2026-08-06-2.csv", closingEvent(ts)))
	require.NoError(t, store.Create("changelog-2026-08-06-10.csv", closingEvent(ts)))

	logs, err := store.List()
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "changelog-2026-08-06.csv", logs[0].Name)
	assert.Equal(t, "changelog-2026-08-06-2.csv", logs[1].Name)
	assert.Equal(t, "changelog-2026-08-06-10.csv", logs[2].Name)
}

func TestStore_NewLogNameAppendsSuffix(t *testing.T) {
	dir := t.TempDir()
	store := changelog.NewStore(dir, algos)
	now := time.Date(2026, 8, 6, 15, 0, 0, 0, time.UTC)

	name, err := store.NewLogName(now)
	require.NoError(t, err)
	assert.Equal(t, "changelog-2026-08-06.csv", name)

	require.NoError(t, store.Create(name, closingEvent(now)))
	name, err = store.NewLogName(now)
	require.NoError(t, err)
	assert.Equal(t, "changelog-2026-08-06-2.csv", name)
}

func TestStore_AppendBatch(t *testing.T) {
	store := changelog.NewStore(t.TempDir(), algos)
	ts := time.Date(2026, 8, 6, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create("changelog-2026-08-06.csv", closingEvent(ts)))

	batch := []*changelog.Event{
		{Timestamp: ts.Add(time.Minute), Type: changelog.TypeNew, Category: "docs", Path: "a.txt", Size: 6, CTime: 1, MTime: 2, SHA256: "aa", BLAKE3: "bb"},
		{Timestamp: ts.Add(time.Minute), Type: changelog.TypeNew, Category: "docs", Path: "b/c.txt", Size: 6, CTime: 1, MTime: 2, SHA256: "cc", BLAKE3: "dd"},
	}
	require.NoError(t, store.Append(batch))

	events, err := store.ReadAll("changelog-2026-08-06.csv")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "a.txt", events[1].Path)
	assert.Equal(t, "b/c.txt", events[2].Path)
}

func TestStore_AppendClampsBackwardsTimestamps(t *testing.T) {
	store := changelog.NewStore(t.TempDir(), algos)
	ts := time.Date(2026, 8, 6, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create("changelog-2026-08-06.csv", closingEvent(ts)))

	earlier := ts.Add(-time.Hour)
	require.NoError(t, store.Append([]*changelog.Event{
		{Timestamp: earlier, Type: changelog.TypeComment, Extra: changelog.Extra{}.With("msg", "x")},
	}))

	events, err := store.ReadAll("changelog-2026-08-06.csv")
	require.NoError(t, err)
	require.Len(t, events, 3) // closing + clamped comment + clamp note

	assert.Equal(t, ts, events[1].Timestamp)
	assert.Equal(t, changelog.TypeComment, events[2].Type)
	assert.Contains(t, events[2].Extra.Get("msg"), "clamped")
}

func TestStore_PartialTrailingRowIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	store := changelog.NewStore(dir, algos)
	ts := time.Now().UTC()
	require.NoError(t, store.Create("changelog-2026-08-06.csv", closingEvent(ts)))

	path := filepath.Join(dir, "changelog-2026-08-06.csv")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("2026-08-06T09:01:00Z,new,docs")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	err = store.Append([]*changelog.Event{
		{Timestamp: ts, Type: changelog.TypeComment, Extra: changelog.Extra{}.With("msg", "x")},
	})
	assert.True(t, errclass.ErrLogCorrupt.Is(err))

	err = store.Read("changelog-2026-08-06.csv", func(*changelog.Event) error { return nil })
	assert.True(t, errclass.ErrLogCorrupt.Is(err))
}

func TestStore_UnknownEventTypeFailsParse(t *testing.T) {
	dir := t.TempDir()
	store := changelog.NewStore(dir, algos)
	ts := time.Now().UTC()
	require.NoError(t, store.Create("changelog-2026-08-06.csv", closingEvent(ts)))

	path := filepath.Join(dir, "changelog-2026-08-06.csv")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("2026-08-06T09:01:00Z,duplicate,docs,a,,,,,,\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	err = store.Read("changelog-2026-08-06.csv", func(*changelog.Event) error { return nil })
	assert.Error(t, err)
}

func TestStore_ExtendedAlgorithmColumnAppends(t *testing.T) {
	store := changelog.NewStore(t.TempDir(), []string{"blake3", "sha256", "xxh3"})
	assert.Equal(t, append(append([]string{}, changelog.BaseColumns...), "xxh3"), store.Columns())

	ts := time.Date(2026, 8, 6, 9, 0, 0, 0, time.UTC)
	ev := closingEvent(ts)
	require.NoError(t, store.Create("changelog-2026-08-06.csv", ev))

	events, err := store.ReadAll("changelog-2026-08-06.csv")
	require.NoError(t, err)
	require.Len(t, events, 1)

	// The row prefix through "extra" is identical to the base encoding.
	baseLine, err := changelog.EncodeLine(ev, changelog.BaseColumns)
	require.NoError(t, err)
	extLine, err := changelog.EncodeLine(ev, store.Columns())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(extLine, strings.TrimSuffix(baseLine, "\n")))
}
