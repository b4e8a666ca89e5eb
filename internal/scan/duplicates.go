package scan

import (
	"sort"

	"github.com/historify-project/historify/internal/state"
)

// DuplicateGroup is a set of live paths sharing one blake3 digest.
type DuplicateGroup struct {
	BLAKE3 string
	Size   int64
	Paths  []string // "category/path", sorted
}

// Duplicates groups the reconstructed state by blake3 and reports groups
// of size greater than one. Read-only; writes no events.
func Duplicates(st state.State, category string) []DuplicateGroup {
	byHash := make(map[string]*DuplicateGroup)
	for cat, files := range st {
		if category != "" && cat != category {
			continue
		}
		for path, fs := range files {
			g := byHash[fs.BLAKE3]
			if g == nil {
				g = &DuplicateGroup{BLAKE3: fs.BLAKE3, Size: fs.Size}
				byHash[fs.BLAKE3] = g
			}
			g.Paths = append(g.Paths, cat+"/"+path)
		}
	}

	var out []DuplicateGroup
	for _, g := range byHash {
		if len(g.Paths) > 1 {
			sort.Strings(g.Paths)
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BLAKE3 < out[j].BLAKE3 })
	return out
}
