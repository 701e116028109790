package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// canonicalManifest fixes the field order and nil-vs-empty encoding of the
// hashed content. The source path is deliberately not part of it.
type canonicalManifest struct {
	Version int           `json:"version"`
	Name    string        `json:"name"`
	Apps    []App         `json:"apps"`
	Restore []RestoreItem `json:"restore"`
	Verify  []VerifyItem  `json:"verify"`
}

// Canonical returns the byte-stable encoding of resolved manifest content.
func Canonical(m *Manifest) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("manifest is nil")
	}

	c := canonicalManifest{
		Version: m.Version,
		Name:    m.Name,
		Apps:    m.Apps,
		Restore: m.Restore,
		Verify:  m.Verify,
	}
	if c.Apps == nil {
		c.Apps = []App{}
	}
	if c.Restore == nil {
		c.Restore = []RestoreItem{}
	}
	if c.Verify == nil {
		c.Verify = []VerifyItem{}
	}

	// encoding/json sorts map keys, so refs and extra fields are stable.
	return json.Marshal(c)
}

// Hash returns the hex SHA-256 digest of the manifest content.
func Hash(m *Manifest) (string, error) {
	data, err := Canonical(m)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
