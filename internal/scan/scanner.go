// Package scan walks category roots and classifies filesystem changes
// against the reconstructed prior state.
package scan

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/historify-project/historify/internal/changelog"
	"github.com/historify-project/historify/internal/hash"
	"github.com/historify-project/historify/internal/repo"
	"github.com/historify-project/historify/internal/state"
	"github.com/historify-project/historify/pkg/config"
	"github.com/historify-project/historify/pkg/errclass"
	"github.com/historify-project/historify/pkg/pathutil"
)

// SkipMsgPrefix marks comment rows documenting skipped non-regular files.
const SkipMsgPrefix = "skipped non-regular file: "

// Scanner classifies changes for one repository. A scanner owns one hasher
// and is not safe for concurrent use.
type Scanner struct {
	repo   *repo.Repository
	hasher *hash.Hasher
}

// New creates a Scanner for r.
func New(r *repo.Repository) *Scanner {
	return &Scanner{repo: r, hasher: hash.New()}
}

// entry is one regular file observed during the walk.
type entry struct {
	rel   string
	size  int64
	ctime int64
	mtime int64
}

// candidate is a possible new file, hashed.
type candidate struct {
	entry
	digests hash.Digests
}

// ScanCategory walks the category root and returns the ordered change
// events for one scan. prior is the category's reconstructed state;
// skipped is the set of non-regular paths already commented in past scans.
// All events share the start timestamp.
// Interruption via ctx takes effect between files: the file being hashed
// always completes, and no partial batch is returned.
func (s *Scanner) ScanCategory(ctx context.Context, cat config.Category, prior map[string]state.FileState, skipped map[string]bool, start time.Time) ([]*changelog.Event, error) {
	root := s.repo.CategoryRoot(cat)

	entries, specials, err := s.walk(root)
	if err != nil {
		return nil, err
	}

	var events []*changelog.Event
	ev := func(t changelog.EventType, path string) *changelog.Event {
		return &changelog.Event{Timestamp: start, Type: t, Category: cat.Name, Path: path}
	}

	for _, sp := range specials {
		if skipped[sp] {
			continue
		}
		e := ev(changelog.TypeComment, "")
		e.Extra = changelog.Extra{}.With("msg", SkipMsgPrefix+sp)
		events = append(events, e)
	}

	seen := make(map[string]bool, len(entries))
	var newCandidates []candidate

	for _, en := range entries {
		if err := ctx.Err(); err != nil {
			return nil, errclass.ErrIO.WithMessagef("scan interrupted: %v", err)
		}
		seen[en.rel] = true
		prev, known := prior[en.rel]

		if !known {
			d, err := s.hasher.File(filepath.Join(root, filepath.FromSlash(en.rel)))
			if err != nil {
				return nil, err
			}
			newCandidates = append(newCandidates, candidate{entry: en, digests: d})
			continue
		}

		if prev.Size == en.size && prev.MTime == en.mtime {
			continue // unchanged without rehashing
		}

		d, err := s.hasher.File(filepath.Join(root, filepath.FromSlash(en.rel)))
		if err != nil {
			return nil, err
		}
		if d.BLAKE3 == prev.BLAKE3 && d.SHA256 == prev.SHA256 {
			continue // metadata drift only
		}

		e := ev(changelog.TypeChanged, en.rel)
		e.Size, e.CTime, e.MTime = en.size, en.ctime, en.mtime
		e.SHA256, e.BLAKE3 = d.SHA256, d.BLAKE3
		events = append(events, e)
	}

	var deletedCandidates []string
	for rel := range prior {
		if !seen[rel] {
			deletedCandidates = append(deletedCandidates, rel)
		}
	}
	sort.Strings(deletedCandidates)

	moves, news, deletions := matchMoves(newCandidates, deletedCandidates, prior)

	for _, m := range moves {
		prev := prior[m.from]
		e := ev(changelog.TypeMove, m.to.rel)
		e.Size, e.CTime, e.MTime = m.to.size, m.to.ctime, m.to.mtime
		e.SHA256, e.BLAKE3 = prev.SHA256, prev.BLAKE3
		e.Extra = changelog.Extra{}.With("from", m.from)
		events = append(events, e)
	}
	for _, c := range news {
		e := ev(changelog.TypeNew, c.rel)
		e.Size, e.CTime, e.MTime = c.size, c.ctime, c.mtime
		e.SHA256, e.BLAKE3 = c.digests.SHA256, c.digests.BLAKE3
		events = append(events, e)
	}
	for _, rel := range deletions {
		prev := prior[rel]
		e := ev(changelog.TypeDeleted, rel)
		e.Size, e.CTime, e.MTime = prev.Size, prev.CTime, prev.MTime
		e.SHA256, e.BLAKE3 = prev.SHA256, prev.BLAKE3
		events = append(events, e)
	}

	sortEvents(events)
	log.Debug().Str("category", cat.Name).Int("events", len(events)).Msg("scan classified")
	return events, nil
}

// walk collects regular files (sorted by relative path) and the relative
// paths of skipped non-regular entries. The repository's metadata and
// changes directories are never descended into.
func (s *Scanner) walk(root string) ([]entry, []string, error) {
	var entries []entry
	var specials []string

	excluded := []string{s.repo.DBDir(), s.repo.ChangesDir()}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			for _, ex := range excluded {
				if pathutil.IsWithin(ex, path) || path == ex {
					return fs.SkipDir
				}
			}
			return nil
		}

		rel, rerr := pathutil.NormalizeRel(root, path)
		if rerr != nil {
			return rerr
		}

		if !d.Type().IsRegular() {
			specials = append(specials, rel)
			return nil
		}

		info, ierr := d.Info()
		if ierr != nil {
			return ierr
		}
		ctime, mtime := statTimes(info)
		entries = append(entries, entry{rel: rel, size: info.Size(), ctime: ctime, mtime: mtime})
		return nil
	})
	if err != nil {
		return nil, nil, errclass.ErrIO.WithMessagef("walk %s: %v", root, err)
	}

	// Full-relative-path lexicographic order, independent of directory
	// traversal interleaving.
	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })
	sort.Strings(specials)
	return entries, specials, nil
}

type move struct {
	to   candidate
	from string
}

// matchMoves coalesces new/deleted pairs with identical blake3 into moves.
// When several candidates share a digest, the pair with the longest shared
// path prefix wins; remaining ambiguity resolves by lexicographic order of
// the new path.
func matchMoves(news []candidate, deleted []string, prior map[string]state.FileState) ([]move, []candidate, []string) {
	delByHash := make(map[string][]string)
	for _, rel := range deleted {
		h := prior[rel].BLAKE3
		delByHash[h] = append(delByHash[h], rel)
	}

	sort.Slice(news, func(i, j int) bool { return news[i].rel < news[j].rel })

	usedDel := make(map[string]bool)
	var moves []move
	var remainingNew []candidate

	for _, c := range news {
		group := delByHash[c.digests.BLAKE3]
		best := ""
		bestPrefix := -1
		for _, rel := range group {
			if usedDel[rel] {
				continue
			}
			p := sharedPrefixLen(c.rel, rel)
			if p > bestPrefix {
				best, bestPrefix = rel, p
			}
		}
		if best == "" {
			remainingNew = append(remainingNew, c)
			continue
		}
		usedDel[best] = true
		moves = append(moves, move{to: c, from: best})
	}

	var remainingDel []string
	for _, rel := range deleted {
		if !usedDel[rel] {
			remainingDel = append(remainingDel, rel)
		}
	}
	return moves, remainingNew, remainingDel
}

func sharedPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

var typeRank = map[changelog.EventType]int{
	changelog.TypeComment: -1,
	changelog.TypeNew:     0,
	changelog.TypeChanged: 1,
	changelog.TypeMove:    2,
	changelog.TypeDeleted: 3,
}

// sortEvents orders a scan's events by (category, path), breaking ties
// new before changed before move before deleted.
func sortEvents(events []*changelog.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return typeRank[a.Type] < typeRank[b.Type]
	})
}

// SkippedPaths extracts, from a category's replayed comment messages, the
// set of non-regular paths already documented by skip comments.
func SkippedPaths(msgs []string) map[string]bool {
	out := make(map[string]bool)
	for _, msg := range msgs {
		if strings.HasPrefix(msg, SkipMsgPrefix) {
			out[strings.TrimPrefix(msg, SkipMsgPrefix)] = true
		}
	}
	return out
}
