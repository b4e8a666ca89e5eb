// Package index maintains the derived integrity index: a CSV snapshot of
// the reconstructed state plus a SQLite cache for fast queries. Neither is
// a source of truth; the change logs always win.
package index

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/historify-project/historify/internal/state"
	"github.com/historify-project/historify/pkg/errclass"
	"github.com/historify-project/historify/pkg/fsutil"
)

var columns = []string{"category", "path", "size", "mtime", "sha256", "blake3"}

// Write serializes st to the integrity CSV at path, sorted by
// (category, path), atomically.
func Write(path string, st state.State) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return errclass.ErrIO.WithMessagef("write index: %v", err)
	}

	cats := make([]string, 0, len(st))
	for c := range st {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	for _, cat := range cats {
		files := st[cat]
		paths := make([]string, 0, len(files))
		for p := range files {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			fs := files[p]
			row := []string{
				cat, p,
				strconv.FormatInt(fs.Size, 10),
				strconv.FormatInt(fs.MTime, 10),
				fs.SHA256, fs.BLAKE3,
			}
			if err := w.Write(row); err != nil {
				return errclass.ErrIO.WithMessagef("write index: %v", err)
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errclass.ErrIO.WithMessagef("write index: %v", err)
	}
	return fsutil.AtomicWrite(path, buf.Bytes(), 0o644)
}

// Load reads the integrity CSV back into a state map. A malformed file
// yields IndexCorrupt so callers can rebuild from logs.
func Load(path string) (state.State, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, errclass.ErrIO.WithMessagef("open index: %v", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil || len(header) != len(columns) {
		return nil, errclass.ErrIndexCorrupt.WithMessage("integrity index header is malformed")
	}
	for i, want := range columns {
		if header[i] != want {
			return nil, errclass.ErrIndexCorrupt.WithMessagef("integrity index column %d is %q", i, header[i])
		}
	}

	st := state.State{}
	for {
		row, err := r.Read()
		if err == io.EOF {
			return st, nil
		}
		if err != nil {
			return nil, errclass.ErrIndexCorrupt.WithMessagef("integrity index: %v", err)
		}
		size, serr := strconv.ParseInt(row[2], 10, 64)
		mtime, merr := strconv.ParseInt(row[3], 10, 64)
		if serr != nil || merr != nil {
			return nil, errclass.ErrIndexCorrupt.WithMessagef("integrity index row for %s/%s is malformed", row[0], row[1])
		}
		cat := st[row[0]]
		if cat == nil {
			cat = map[string]state.FileState{}
			st[row[0]] = cat
		}
		cat[row[1]] = state.FileState{
			Size:   size,
			MTime:  mtime,
			SHA256: row[4],
			BLAKE3: row[5],
		}
	}
}

// Equal compares an index snapshot against a reconstructed state. CTime is
// not serialized in the index and is ignored.
func Equal(a, b state.State) bool {
	if len(a) != len(b) {
		return false
	}
	for cat, files := range a {
		other, ok := b[cat]
		if !ok || len(files) != len(other) {
			return false
		}
		for p, fs := range files {
			o, ok := other[p]
			if !ok {
				return false
			}
			if fs.Size != o.Size || fs.MTime != o.MTime ||
				fs.SHA256 != o.SHA256 || fs.BLAKE3 != o.BLAKE3 {
				return false
			}
		}
	}
	return true
}
