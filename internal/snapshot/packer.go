// Package snapshot packages the live repository into tar.gz volumes for
// offline archival. Packaging is ancillary: nothing in the chain depends
// on a snapshot having been taken.
package snapshot

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/historify-project/historify/internal/repo"
	"github.com/historify-project/historify/pkg/errclass"
	"github.com/historify-project/historify/pkg/pathutil"
)

// Options control what a snapshot contains.
type Options struct {
	// Name is the volume base name; defaults to the repository name.
	Name string
	// Full includes category payload data in addition to db/ and changes/.
	Full bool
	// MediaCapacity, when non-zero, splits output into volumes whose
	// member payloads fit the capacity in bytes.
	MediaCapacity int64
}

// Volume describes one written archive.
type Volume struct {
	Path  string `json:"path"`
	Files int    `json:"files"`
	Bytes int64  `json:"bytes"`
}

// member is one file destined for an archive.
type member struct {
	abs  string
	name string // path inside the archive
	size int64
}

// Pack writes the snapshot volume(s) into outDir.
func Pack(r *repo.Repository, outDir string, opts Options) ([]Volume, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errclass.ErrIO.WithMessagef("create output directory: %v", err)
	}
	name := opts.Name
	if name == "" {
		name = r.Config.Get("repository.name", "historify")
	}

	members, err := collect(r, opts.Full)
	if err != nil {
		return nil, err
	}

	groups := split(members, opts.MediaCapacity)
	stamp := time.Now().UTC().Format("20060102")

	var volumes []Volume
	for i, group := range groups {
		volName := fmt.Sprintf("%s-%s.tar.gz", name, stamp)
		if len(groups) > 1 {
			volName = fmt.Sprintf("%s-%s-part%d.tar.gz", name, stamp, i+1)
		}
		volPath := filepath.Join(outDir, volName)
		n, err := writeArchive(r, volPath, group, i+1, len(groups))
		if err != nil {
			return nil, err
		}
		volumes = append(volumes, Volume{Path: volPath, Files: len(group), Bytes: n})
		log.Info().Str("volume", volName).Int("files", len(group)).Msg("wrote snapshot volume")
	}
	return volumes, nil
}

// collect gathers the repository metadata, the change logs, and optionally
// every category payload.
func collect(r *repo.Repository, full bool) ([]member, error) {
	var members []member

	add := func(root, prefix string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			rel, rerr := pathutil.NormalizeRel(root, path)
			if rerr != nil {
				return rerr
			}
			info, ierr := d.Info()
			if ierr != nil {
				return ierr
			}
			members = append(members, member{abs: path, name: prefix + "/" + rel, size: info.Size()})
			return nil
		})
	}

	if err := add(r.DBDir(), "db"); err != nil {
		return nil, errclass.ErrIO.WithMessagef("collect db: %v", err)
	}
	if err := add(r.ChangesDir(), "changes"); err != nil {
		return nil, errclass.ErrIO.WithMessagef("collect changes: %v", err)
	}
	if full {
		for _, cat := range r.Categories() {
			if err := add(r.CategoryRoot(cat), "data/"+cat.Name); err != nil {
				return nil, errclass.ErrIO.WithMessagef("collect category %s: %v", cat.Name, err)
			}
		}
	}

	sort.Slice(members, func(i, j int) bool { return members[i].name < members[j].name })
	return members, nil
}

// split groups members into volumes not exceeding capacity. Files larger
// than the capacity get a volume of their own rather than being dropped.
func split(members []member, capacity int64) [][]member {
	if capacity <= 0 {
		return [][]member{members}
	}
	var groups [][]member
	var cur []member
	var used int64
	for _, m := range members {
		if len(cur) > 0 && used+m.size > capacity {
			groups = append(groups, cur)
			cur, used = nil, 0
		}
		cur = append(cur, m)
		used += m.size
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

// writeArchive writes one volume with a MANIFEST as its first entry.
func writeArchive(r *repo.Repository, path string, members []member, part, parts int) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, errclass.ErrIO.WithMessagef("create archive: %v", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	manifest := buildManifest(r, part, parts, members)
	hdr := &tar.Header{
		Name:    "MANIFEST",
		Mode:    0o644,
		Size:    int64(len(manifest)),
		ModTime: time.Now().UTC(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return 0, errclass.ErrIO.WithMessagef("write manifest: %v", err)
	}
	if _, err := tw.Write([]byte(manifest)); err != nil {
		return 0, errclass.ErrIO.WithMessagef("write manifest: %v", err)
	}

	for _, m := range members {
		info, err := os.Stat(m.abs)
		if err != nil {
			return 0, errclass.ErrIO.WithMessagef("stat %s: %v", m.abs, err)
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return 0, errclass.ErrIO.WithMessagef("header %s: %v", m.abs, err)
		}
		hdr.Name = m.name
		if err := tw.WriteHeader(hdr); err != nil {
			return 0, errclass.ErrIO.WithMessagef("write header %s: %v", m.name, err)
		}
		src, err := os.Open(m.abs)
		if err != nil {
			return 0, errclass.ErrIO.WithMessagef("open %s: %v", m.abs, err)
		}
		if _, err := io.Copy(tw, src); err != nil {
			src.Close()
			return 0, errclass.ErrIO.WithMessagef("copy %s: %v", m.abs, err)
		}
		src.Close()
	}

	if err := tw.Close(); err != nil {
		return 0, errclass.ErrIO.WithMessagef("finish archive: %v", err)
	}
	if err := gz.Close(); err != nil {
		return 0, errclass.ErrIO.WithMessagef("finish archive: %v", err)
	}
	if err := f.Sync(); err != nil {
		return 0, errclass.ErrIO.WithMessagef("sync archive: %v", err)
	}

	info, err := f.Stat()
	if err != nil {
		return 0, nil
	}
	return info.Size(), nil
}

func buildManifest(r *repo.Repository, part, parts int, members []member) string {
	var b strings.Builder
	fmt.Fprintf(&b, "repository: %s\n", r.Config.Get("repository.name", ""))
	if pub := r.Config.Get("iso.publisher", ""); pub != "" {
		fmt.Fprintf(&b, "publisher: %s\n", pub)
	}
	fmt.Fprintf(&b, "created: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "part: %d/%d\n", part, parts)
	fmt.Fprintf(&b, "files: %d\n", len(members))
	return b.String()
}
