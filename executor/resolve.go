package executor

import (
	"path/filepath"
	"strings"
)

// Resolve maps a require specifier to the name that should be imported next.
//
// Specifiers that do not start with "." are bare module names and are
// returned unchanged. Relative specifiers are joined with the directory of
// currentFile and returned as an absolute path. Resolve never touches the
// filesystem.
func Resolve(currentFile, specifier string) string {
	if !strings.HasPrefix(specifier, ".") {
		return specifier
	}
	return absPath(filepath.Join(filepath.Dir(currentFile), specifier))
}

// absPath returns the absolute form of p, or p cleaned if the working
// directory is unavailable.
func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return abs
}
