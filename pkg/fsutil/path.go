package fsutil

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var percentVar = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_]*)%`)

// ExpandPath expands a leading ~, $VAR / ${VAR} and %VAR% references.
// Unset %VAR% references are left untouched.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	path = percentVar.ReplaceAllStringFunc(path, func(m string) string {
		if v, ok := os.LookupEnv(m[1 : len(m)-1]); ok {
			return v
		}
		return m
	})

	return os.ExpandEnv(path)
}

// ResolvePath expands path and makes it absolute, resolving relative paths
// against base.
func ResolvePath(base, path string) string {
	path = ExpandPath(path)
	if !filepath.IsAbs(path) && base != "" {
		path = filepath.Join(base, path)
	}
	return filepath.Clean(path)
}
