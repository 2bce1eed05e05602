// Package assetkey derives remote asset keys from local theme file paths.
package assetkey

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

var ErrInvalidPath = errors.New("invalid resource path")

// Categories are the top-level theme directories the remote store recognizes.
var Categories = []string{"layout", "templates", "snippets", "assets", "config", "locales", "sections"}

var categoryPattern = regexp.MustCompile(`(?i)(?:^|/)((?:` + strings.Join(Categories, "|") + `)/.+)$`)

// protectedKeys must exist on the remote theme; purge never deletes them.
var protectedKeys = map[string]struct{}{
	"config/settings_data.json":   {},
	"config/settings_schema.json": {},
	"layout/theme.liquid":         {},
	"templates/cart.liquid":       {},
	"templates/blog.liquid":       {},
	"templates/index.liquid":      {},
	"templates/gift_card.liquid":  {},
	"templates/collection.liquid": {},
	"templates/product.liquid":    {},
	"templates/page.liquid":       {},
}

type InvalidPathError struct {
	Path string
	Root string
}

func (e *InvalidPathError) Error() string {
	if e.Root != "" {
		return fmt.Sprintf("invalid resource path %s (root %s)", e.Path, e.Root)
	}
	return fmt.Sprintf("invalid resource path %s", e.Path)
}

func (e *InvalidPathError) Is(target error) bool {
	return target == ErrInvalidPath
}

// Resolve strips root from path and returns the category-relative,
// URI-encoded key. Paths outside a recognized category fail with
// *InvalidPathError.
func Resolve(path, root string) (string, error) {
	slashed := filepath.ToSlash(strings.TrimSpace(path))
	if slashed == "" {
		return "", &InvalidPathError{Path: path, Root: root}
	}
	rest := slashed
	root = strings.TrimRight(filepath.ToSlash(strings.TrimSpace(root)), "/")
	if root != "" {
		if idx := strings.LastIndex(rest, root+"/"); idx >= 0 {
			rest = rest[idx+len(root)+1:]
		}
	}
	groups := categoryPattern.FindStringSubmatch(rest)
	if len(groups) < 2 {
		return "", &InvalidPathError{Path: path, Root: root}
	}
	return encodeKey(groups[1]), nil
}

// IsProtected reports whether key may never be purged.
func IsProtected(key string) bool {
	_, ok := protectedKeys[key]
	return ok
}

// ProtectedKeys returns the protected set in a stable order.
func ProtectedKeys() []string {
	return []string{
		"config/settings_data.json",
		"config/settings_schema.json",
		"layout/theme.liquid",
		"templates/cart.liquid",
		"templates/blog.liquid",
		"templates/index.liquid",
		"templates/gift_card.liquid",
		"templates/collection.liquid",
		"templates/product.liquid",
		"templates/page.liquid",
	}
}

// encodeKey escapes each segment the way encodeURI would, keeping the
// separators intact.
func encodeKey(key string) string {
	u := url.URL{Path: key}
	return u.EscapedPath()
}
