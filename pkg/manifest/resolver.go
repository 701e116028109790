// Package manifest loads manifest documents, resolves nested includes and
// computes the content hash used to detect stale plans.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Resolver loads a manifest and recursively merges its includes.
type Resolver struct {
	parser   *Parser
	readFile func(string) ([]byte, error)
}

// NewResolver creates a resolver reading documents from the local file system.
func NewResolver() *Resolver {
	return &Resolver{
		parser:   NewParser(),
		readFile: os.ReadFile,
	}
}

// Resolve loads the manifest at path with a fresh resolver.
func Resolve(path string) (*Manifest, error) {
	return NewResolver().Resolve(path)
}

// chainEntry is one document on the current inclusion chain.
type chainEntry struct {
	key     string
	display string
}

// Resolve loads the document at path and merges every transitively included
// document into it. Arrays are concatenated with included content first and
// the including document's own items last; name and version come from the
// root document. Resolution only reads files.
func (r *Resolver) Resolve(path string) (*Manifest, error) {
	m, err := r.resolve(path, nil, true)
	if err != nil {
		return nil, err
	}
	m.Includes = nil
	return m, nil
}

func (r *Resolver) resolve(path string, chain []chainEntry, root bool) (*Manifest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &ManifestError{File: path, Message: "invalid path", Err: err}
	}
	key := canonicalPath(abs)

	for i, entry := range chain {
		if entry.key == key {
			cycle := make([]string, 0, len(chain)-i+1)
			for _, e := range chain[i:] {
				cycle = append(cycle, e.display)
			}
			cycle = append(cycle, abs)
			return nil, &CircularIncludeError{Chain: cycle}
		}
	}

	data, err := r.readFile(abs)
	if err != nil {
		msg := "failed to read document"
		if len(chain) > 0 {
			msg = fmt.Sprintf("unresolvable include (from %s)", chain[len(chain)-1].display)
		}
		return nil, &ManifestError{File: abs, Message: msg, Err: err}
	}

	doc, err := r.parser.Parse(data, abs, root)
	if err != nil {
		return nil, err
	}

	next := append(chain[:len(chain):len(chain)], chainEntry{key: key, display: abs})
	dir := filepath.Dir(abs)

	merged := &Manifest{}
	for _, inc := range doc.Includes {
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(dir, incPath)
		}

		child, err := r.resolve(incPath, next, false)
		if err != nil {
			return nil, err
		}

		if merged.Name == "" {
			merged.Name = child.Name
		}
		if merged.Version == 0 {
			merged.Version = child.Version
		}
		merged.Apps = append(merged.Apps, child.Apps...)
		merged.Restore = append(merged.Restore, child.Restore...)
		merged.Verify = append(merged.Verify, child.Verify...)
	}

	if doc.Name != "" {
		merged.Name = doc.Name
	}
	if doc.Version != 0 {
		merged.Version = doc.Version
	}
	merged.Apps = append(merged.Apps, doc.Apps...)
	merged.Restore = append(merged.Restore, doc.Restore...)
	merged.Verify = append(merged.Verify, doc.Verify...)

	return merged, nil
}

// canonicalPath normalises a path for cycle detection. Case is folded on
// platforms whose default file systems are case-insensitive.
func canonicalPath(abs string) string {
	p := filepath.Clean(abs)
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		p = strings.ToLower(p)
	}
	return p
}
