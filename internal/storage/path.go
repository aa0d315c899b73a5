package storage

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/starford/folio/internal/apperr"
)

// Clean converts a caller-supplied document path into its canonical key:
// forward slashes, no "." or ".." segments, Unicode NFC. Paths that are empty,
// absolute, or escape the root are rejected.
func Clean(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("%w: empty path", apperr.ErrInvalidPath)
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") || filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: absolute paths not allowed: %s", apperr.ErrInvalidPath, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: path escapes document root: %s", apperr.ErrInvalidPath, p)
	}
	return norm.NFC.String(cleaned), nil
}

// key converts an OS path relative to root into a document key.
func key(rel string) string {
	return norm.NFC.String(filepath.ToSlash(rel))
}
