// Package drivers provides package-manager drivers for the engine.
//
// Exec drivers shell out to winget, apt or brew according to a Profile. The
// Fake driver keeps its state in memory and backs tests and doctor checks.
package drivers

import (
	"fmt"
	"runtime"
	"sort"

	"github.com/rs/zerolog"

	"github.com/openfroyo/endstate/pkg/engine"
)

var profiles = map[string]func() Profile{
	"winget": WingetProfile,
	"apt":    AptProfile,
	"brew":   BrewProfile,
}

// Names returns every driver name New accepts.
func Names() []string {
	names := []string{"fake"}
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultName returns the driver conventionally used on goos.
func DefaultName(goos string) string {
	switch goos {
	case "windows":
		return "winget"
	case "darwin":
		return "brew"
	default:
		return "apt"
	}
}

// New creates the named driver. An empty name selects the default for the
// current platform.
func New(name string, logger zerolog.Logger) (engine.Driver, error) {
	if name == "" {
		name = DefaultName(runtime.GOOS)
	}
	if name == "fake" {
		return NewFake(nil), nil
	}

	profile, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown driver %q (available: %v)", name, Names())
	}
	return NewExecDriver(profile(), nil, logger), nil
}

// Detect returns the name of the first exec driver whose package manager is
// installed.
func Detect() (string, error) {
	for _, name := range []string{DefaultName(runtime.GOOS), "winget", "brew", "apt"} {
		if _, err := lookPath(profiles[name]().Probe); err == nil {
			return name, nil
		}
	}
	return "", fmt.Errorf("no supported package manager found")
}
