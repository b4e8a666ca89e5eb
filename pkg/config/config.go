// Package config manages the repository's INI configuration store and its
// CSV mirror, plus optional user-level defaults.
package config

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/historify-project/historify/pkg/errclass"
	"github.com/historify-project/historify/pkg/fsutil"
	"github.com/historify-project/historify/pkg/pathutil"
)

// Config is the repository configuration, backed by db/config (INI) with a
// db/config.csv mirror. Keys use section.option form; the section is the
// part before the first dot.
type Config struct {
	path string
	file *ini.File
}

// Issue describes a configuration problem found by Check.
type Issue struct {
	Key     string
	Problem string
}

// Load reads the configuration from the given INI file path.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errclass.ErrConfig.WithMessagef("config file not found: %s", path)
		}
		return nil, errclass.ErrConfig.WithMessagef("parse config: %v", err)
	}
	return &Config{path: path, file: f}, nil
}

// New creates an empty configuration bound to path.
func New(path string) *Config {
	return &Config{path: path, file: ini.Empty()}
}

func splitKey(key string) (section, option string, err error) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errclass.ErrConfig.WithMessagef("invalid key format: %s (use section.option)", key)
	}
	return parts[0], parts[1], nil
}

// Get returns the value for key, or def if unset.
func (c *Config) Get(key, def string) string {
	section, option, err := splitKey(key)
	if err != nil {
		return def
	}
	sec := c.file.Section(section)
	if !sec.HasKey(option) {
		return def
	}
	return sec.Key(option).String()
}

// Set stores key=value in memory. Save must be called to persist.
func (c *Config) Set(key, value string) error {
	section, option, err := splitKey(key)
	if err != nil {
		return err
	}
	c.file.Section(section).Key(option).SetValue(value)
	return nil
}

// All returns every key in section.option form. The map carries no order;
// callers that print it sort the keys themselves.
func (c *Config) All() map[string]string {
	out := make(map[string]string)
	for _, sec := range c.file.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		for _, k := range sec.Keys() {
			out[sec.Name()+"."+k.Name()] = k.Value()
		}
	}
	return out
}

// Save writes the INI file and its CSV mirror atomically.
func (c *Config) Save() error {
	var buf bytes.Buffer
	if _, err := c.file.WriteTo(&buf); err != nil {
		return errclass.ErrIO.WithMessagef("serialize config: %v", err)
	}
	if err := fsutil.AtomicWrite(c.path, buf.Bytes(), 0o644); err != nil {
		return errclass.ErrIO.WithMessagef("write config: %v", err)
	}
	return c.saveCSVMirror()
}

func (c *Config) saveCSVMirror() error {
	all := c.All()
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, k := range keys {
		if err := w.Write([]string{k, all[k]}); err != nil {
			return errclass.ErrIO.WithMessagef("write config mirror: %v", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errclass.ErrIO.WithMessagef("write config mirror: %v", err)
	}

	mirror := strings.TrimSuffix(c.path, filepath.Ext(c.path)) + ".csv"
	if filepath.Ext(c.path) == "" {
		mirror = c.path + ".csv"
	}
	return fsutil.AtomicWrite(mirror, buf.Bytes(), 0o644)
}

// Category describes a configured data root.
type Category struct {
	Name        string
	Path        string
	Description string
}

// Categories returns all configured categories sorted by name.
func (c *Config) Categories() []Category {
	byName := make(map[string]*Category)
	for _, sec := range c.file.Sections() {
		if sec.Name() != "category" {
			continue
		}
		for _, k := range sec.Keys() {
			parts := strings.SplitN(k.Name(), ".", 2)
			if len(parts) != 2 {
				continue
			}
			name, attr := parts[0], parts[1]
			cat, ok := byName[name]
			if !ok {
				cat = &Category{Name: name}
				byName[name] = cat
			}
			switch attr {
			case "path":
				cat.Path = k.Value()
			case "description":
				cat.Description = k.Value()
			}
		}
	}

	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]Category, 0, len(names))
	for _, n := range names {
		if byName[n].Path != "" {
			out = append(out, *byName[n])
		}
	}
	return out
}

// Algorithms returns the configured hash algorithm list, primary first.
func (c *Config) Algorithms() []string {
	raw := c.Get("hash.algorithms", "blake3,sha256")
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

// recognizedPrefixes lists the key namespaces config accepts.
var recognizedPrefixes = []string{
	"repository.", "category.", "hash.", "minisign.", "changes.", "iso.",
}

// ValidateKey rejects keys outside the recognized set, and validates
// category names embedded in category.* keys.
func ValidateKey(key string) error {
	recognized := false
	for _, p := range recognizedPrefixes {
		if strings.HasPrefix(key, p) {
			recognized = true
			break
		}
	}
	if !recognized {
		return errclass.ErrConfig.WithMessagef("unrecognized configuration key: %s", key)
	}
	if strings.HasPrefix(key, "category.") {
		rest := strings.TrimPrefix(key, "category.")
		parts := strings.SplitN(rest, ".", 2)
		if len(parts) != 2 {
			return errclass.ErrConfig.WithMessagef("category key must be category.<name>.<attr>: %s", key)
		}
		if err := pathutil.ValidateCategoryName(parts[0]); err != nil {
			return err
		}
		if parts[1] != "path" && parts[1] != "description" {
			return errclass.ErrConfig.WithMessagef("unknown category attribute: %s", parts[1])
		}
	}
	return nil
}

// Check reports configuration problems without fixing anything.
func (c *Config) Check(repoRoot string) []Issue {
	var issues []Issue

	if c.Get("repository.name", "") == "" {
		issues = append(issues, Issue{"repository.name", "repository name is not set"})
	}

	algos := c.Algorithms()
	hasBlake3 := false
	for _, a := range algos {
		if a == "blake3" {
			hasBlake3 = true
		}
	}
	if !hasBlake3 {
		issues = append(issues, Issue{"hash.algorithms", "blake3 must be included in hash algorithms"})
	}

	key := c.Get("minisign.key", "")
	pub := c.Get("minisign.pub", "")
	if key != "" {
		if _, err := os.Stat(resolvePath(repoRoot, key)); err != nil {
			issues = append(issues, Issue{"minisign.key", fmt.Sprintf("key file not found: %s", key)})
		}
	}
	if pub != "" {
		if _, err := os.Stat(resolvePath(repoRoot, pub)); err != nil {
			issues = append(issues, Issue{"minisign.pub", fmt.Sprintf("public key file not found: %s", pub)})
		}
	}
	if (key == "") != (pub == "") {
		issues = append(issues, Issue{"minisign", "both minisign.key and minisign.pub must be set"})
	}

	for _, cat := range c.Categories() {
		root := resolvePath(repoRoot, cat.Path)
		if info, err := os.Stat(root); err != nil || !info.IsDir() {
			issues = append(issues, Issue{"category." + cat.Name + ".path", fmt.Sprintf("not a directory: %s", cat.Path)})
		}
	}

	return issues
}

func resolvePath(repoRoot, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(repoRoot, p)
}

// ResolvePath makes a possibly repo-relative path absolute.
func ResolvePath(repoRoot, p string) string { return resolvePath(repoRoot, p) }
