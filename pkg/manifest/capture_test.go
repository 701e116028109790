package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromInstalled(t *testing.T) {
	t.Parallel()

	installed := map[string]string{
		"ripgrep": "14.1.0",
		"git":     "2.45.1",
		"":        "ignored",
		"jq":      "",
	}

	m := FromInstalled(installed, CaptureOptions{Name: "captured", Platform: "linux"})
	assert.Equal(t, 1, m.Version)
	assert.Equal(t, "captured", m.Name)
	assert.Equal(t, []string{"git", "jq", "ripgrep"}, appIDs(m))
	assert.Equal(t, map[string]string{"linux": "git"}, m.Apps[0].Refs)
	assert.Empty(t, m.Apps[0].Version)

	pinned := FromInstalled(installed, CaptureOptions{Name: "captured", Platform: "linux", PinVersions: true})
	assert.Equal(t, "2.45.1", pinned.Apps[0].Version)
	assert.Empty(t, pinned.Apps[1].Version, "unknown versions stay unpinned")
}

func TestEncode_ParsesBack(t *testing.T) {
	t.Parallel()

	m := FromInstalled(map[string]string{"Git.Git": "2.45.1", "OpenJS.NodeJS": "20.11.0"},
		CaptureOptions{Name: "workstation", Platform: "windows", PinVersions: true})

	data, err := Encode(m)
	require.NoError(t, err)

	parsed, err := NewParser().Parse(data, "captured.json", true)
	require.NoError(t, err)
	assert.Equal(t, m.Name, parsed.Name)
	assert.Equal(t, m.Apps, parsed.Apps)

	h1, err := Hash(m)
	require.NoError(t, err)
	h2, err := Hash(parsed)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestEncode_Nil(t *testing.T) {
	t.Parallel()

	_, err := Encode(nil)
	assert.Error(t, err)
}
