package manifest

import "runtime"

// Manifest is a declarative description of the desired machine state.
type Manifest struct {
	// Version is the manifest schema version.
	Version int `json:"version" validate:"required,gte=1"`

	// Name is the human-readable manifest name.
	Name string `json:"name" validate:"required"`

	// Apps lists the software that should be installed, in manifest order.
	Apps []App `json:"apps" validate:"dive"`

	// Restore lists configuration restore items, in manifest order.
	Restore []RestoreItem `json:"restore" validate:"dive"`

	// Verify lists post-apply verification checks, in manifest order.
	Verify []VerifyItem `json:"verify" validate:"dive"`

	// Includes lists documents merged into this one. Always empty after resolution.
	Includes []string `json:"includes,omitempty"`
}

// App is a single piece of software with per-platform package references.
type App struct {
	// ID is the manifest-local identifier of the app.
	ID string `json:"id" validate:"required"`

	// Refs maps a platform name (windows, linux, darwin) to a package reference.
	Refs map[string]string `json:"refs"`

	// Version is an optional constraint: "X.Y.Z" or ">=X.Y.Z".
	Version string `json:"version,omitempty"`
}

// Ref returns the package reference for platform, if any.
func (a App) Ref(platform string) (string, bool) {
	ref, ok := a.Refs[platform]
	if !ok || ref == "" {
		return "", false
	}
	return ref, true
}

// RestoreItem describes one configuration file to restore.
type RestoreItem struct {
	// ID identifies the item in plans; defaults to the target path.
	ID string `json:"id,omitempty"`

	// Type is the restore strategy (copy, append, merge-json, merge-ini).
	Type string `json:"type" validate:"required"`

	// Source is the file to restore from, relative to the manifest directory.
	Source string `json:"source" validate:"required"`

	// Target is the file to restore into.
	Target string `json:"target" validate:"required"`

	// Optional marks items whose missing source is not a failure.
	Optional bool `json:"optional,omitempty"`
}

// Key returns the identifier used for the restore action.
func (r RestoreItem) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return r.Target
}

// VerifyItem describes one verification check. Type-specific fields that are
// not modelled explicitly are kept in Fields.
type VerifyItem struct {
	// ID identifies the check in plans; generated from type and index when empty.
	ID string `json:"id,omitempty"`

	// Type is the check kind (file-exists, command-succeeds, registry-key-exists, ...).
	Type string `json:"type" validate:"required"`

	// Path is used by file-exists.
	Path string `json:"path,omitempty"`

	// Command is used by command-succeeds.
	Command string `json:"command,omitempty"`

	// Key and Value are used by registry checks.
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`

	// Fields holds any other type-specific fields.
	Fields map[string]any `json:"fields,omitempty"`
}

// CurrentPlatform returns the platform key used to select App refs on this host.
func CurrentPlatform() string {
	return runtime.GOOS
}

// AppsForPlatform returns the apps that have a reference for platform, in order.
func (m *Manifest) AppsForPlatform(platform string) []App {
	out := make([]App, 0, len(m.Apps))
	for _, app := range m.Apps {
		if _, ok := app.Ref(platform); ok {
			out = append(out, app)
		}
	}
	return out
}
