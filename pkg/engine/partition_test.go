package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDenylist_DefaultMatches(t *testing.T) {
	t.Parallel()

	deny := DefaultDenylist()
	assert.Equal(t, DefaultDenyPatterns, deny.Patterns())

	tests := []struct {
		ref     string
		pattern string
	}{
		{"NVIDIA.GeForceExperience", "nvidia.*"},
		{"Oracle.VirtualBox", "*virtualbox*"},
		{"virtualbox-7.0", "*virtualbox*"},
		{"VMware.WorkstationPlayer", "vmware.*"},
		{"Docker.DockerDesktop", "docker.dockerdesktop"},
		{"Valve.Steam", "valve.steam"},
		{"PostgreSQL.PostgreSQL.16", "postgresql.*"},
		{"OpenVPNTechnologies.OpenVPN", "*openvpn*"},
		{"WireGuard.WireGuard", "wireguard.*"},
		{"AMD.RyzenMaster.Driver", "amd.*driver*"},
	}

	for _, tt := range tests {
		pattern, ok := deny.Match(tt.ref)
		assert.True(t, ok, tt.ref)
		assert.Equal(t, tt.pattern, pattern, tt.ref)
	}

	for _, ref := range []string{"Git.Git", "Microsoft.VisualStudioCode", "jq", "Docker.DockerCLI"} {
		_, ok := deny.Match(ref)
		assert.False(t, ok, ref)
	}
}

func TestDenylist_WithIsImmutable(t *testing.T) {
	t.Parallel()

	base := DefaultDenylist()
	extended, err := base.With("JetBrains.*", "  ")
	require.NoError(t, err)

	assert.Equal(t, len(DefaultDenyPatterns), base.Len())
	assert.Equal(t, len(DefaultDenyPatterns)+1, extended.Len())
	assert.Equal(t, "jetbrains.*", extended.Patterns()[extended.Len()-1])

	_, ok := base.Match("JetBrains.IntelliJIDEA.Ultimate")
	assert.False(t, ok)
	_, ok = extended.Match("JetBrains.IntelliJIDEA.Ultimate")
	assert.True(t, ok)

	patterns := extended.Patterns()
	patterns[0] = "mutated"
	assert.Equal(t, "nvidia.*", extended.Patterns()[0])
}

func TestDenylist_InvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := NewDenylist("[unclosed")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestDenylist_ZeroValueMatchesNothing(t *testing.T) {
	t.Parallel()

	var deny Denylist
	_, ok := deny.Match("Oracle.VirtualBox")
	assert.False(t, ok)

	groups := Partition(appActions("Oracle.VirtualBox", "Git.Git"), deny)
	assert.Len(t, groups.Parallel, 2)
	assert.Empty(t, groups.Sequential)
}

func TestPartition_Total(t *testing.T) {
	t.Parallel()

	actions := appActions("Git.Git", "NVIDIA.CUDA", "jq", "Valve.Steam", "Mozilla.Firefox")
	skipped, err := NewAppAction("ghost", "", "fake", StatusSkip, ReasonNoPlatformRef)
	require.NoError(t, err)
	actions = append(actions, skipped, NewVerifyAction("v", StatusPass, ""), NewRestoreAction("r"))

	groups := Partition(actions, DefaultDenylist())

	assert.Equal(t, 5, groups.Len())
	seen := map[string]int{}
	for _, a := range groups.Parallel {
		seen[a.ID]++
	}
	for _, a := range groups.Sequential {
		seen[a.ID]++
	}
	for _, id := range []string{"Git.Git", "NVIDIA.CUDA", "jq", "Valve.Steam", "Mozilla.Firefox"} {
		assert.Equal(t, 1, seen[id], id)
	}
	assert.NotContains(t, seen, "ghost")

	assert.Equal(t, []string{"Git.Git", "jq", "Mozilla.Firefox"}, refsOf(groups.Parallel))
	assert.Equal(t, []string{"NVIDIA.CUDA", "Valve.Steam"}, refsOf(groups.Sequential))
}

func refsOf(actions []Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Ref)
	}
	return out
}
