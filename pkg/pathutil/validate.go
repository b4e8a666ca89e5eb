// Package pathutil provides name and path validation for historify.
package pathutil

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/historify-project/historify/pkg/errclass"
)

var categoryRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateCategoryName checks that a category name is safe and well-formed.
func ValidateCategoryName(name string) error {
	if name == "" {
		return errclass.ErrNameInvalid.WithMessage("category name must not be empty")
	}

	// NFC normalize before matching so visually identical names collide.
	name = norm.NFC.String(name)

	for _, r := range name {
		if unicode.IsControl(r) {
			return errclass.ErrNameInvalid.WithMessagef("category name must not contain control characters: %q", name)
		}
	}

	if !categoryRegex.MatchString(name) {
		return errclass.ErrNameInvalid.WithMessagef("category name must match [A-Za-z0-9_-]+: %s", name)
	}

	return nil
}

// NormalizeRel converts an OS path relative to root into the canonical
// category-relative POSIX form used in change logs.
func NormalizeRel(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", errclass.ErrPathEscape.WithMessagef("path %s not under %s", path, root)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", errclass.ErrPathEscape.WithMessagef("path escapes category root: %s", path)
	}
	return rel, nil
}

// IsWithin reports whether path is lexically inside root (after cleaning).
// Used to keep walkers out of the repository's own metadata directories.
func IsWithin(root, path string) bool {
	root = filepath.Clean(root)
	path = filepath.Clean(path)
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
