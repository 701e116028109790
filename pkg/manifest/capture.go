package manifest

import (
	"encoding/json"
	"fmt"
	"sort"
)

// CaptureOptions controls how installed packages become a manifest.
type CaptureOptions struct {
	// Name is the manifest name.
	Name string

	// Platform is the ref key written for every app.
	Platform string

	// PinVersions records each observed version as an exact constraint.
	PinVersions bool
}

// FromInstalled builds a root manifest from a driver listing. Apps are sorted
// by ref and the ref doubles as the app id.
func FromInstalled(installed map[string]string, opts CaptureOptions) *Manifest {
	platform := opts.Platform
	if platform == "" {
		platform = CurrentPlatform()
	}

	refs := make([]string, 0, len(installed))
	for ref := range installed {
		if ref != "" {
			refs = append(refs, ref)
		}
	}
	sort.Strings(refs)

	m := &Manifest{
		Version: 1,
		Name:    opts.Name,
		Apps:    make([]App, 0, len(refs)),
		Restore: []RestoreItem{},
		Verify:  []VerifyItem{},
	}
	for _, ref := range refs {
		app := App{ID: ref, Refs: map[string]string{platform: ref}}
		if opts.PinVersions {
			app.Version = installed[ref]
		}
		m.Apps = append(m.Apps, app)
	}
	return m
}

// Encode renders m as an indented manifest document that Parse accepts.
func Encode(m *Manifest) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("manifest is nil")
	}

	doc := struct {
		Version int           `json:"version"`
		Name    string        `json:"name"`
		Apps    []App         `json:"apps"`
		Restore []RestoreItem `json:"restore"`
		Verify  []VerifyItem  `json:"verify"`
	}{m.Version, m.Name, m.Apps, m.Restore, m.Verify}

	if doc.Apps == nil {
		doc.Apps = []App{}
	}
	if doc.Restore == nil {
		doc.Restore = []RestoreItem{}
	}
	if doc.Verify == nil {
		doc.Verify = []VerifyItem{}
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return append(out, '\n'), nil
}
