package drivers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
)

// Profile describes how to drive one package manager from the command line.
// Every command slice starts with the executable.
type Profile struct {
	// Name is the driver name recorded on app actions.
	Name string

	// Probe is the executable whose presence means the manager is available.
	Probe string

	// ListCommand returns the command that lists installed packages. When
	// ListToFile is set the command writes to path and the file is parsed
	// instead of stdout.
	ListCommand func(path string) []string
	ListToFile  bool

	// ParseList maps package references to versions.
	ParseList func(data []byte) (map[string]string, error)

	// InstallCommand returns the command that installs ref.
	InstallCommand func(ref string, silent bool) []string

	// ExportCommand returns the native export command, or nil when the
	// manager has none and the installed list is written instead.
	ExportCommand func(path string) []string
}

// WingetProfile drives the Windows package manager.
func WingetProfile() Profile {
	return Profile{
		Name:  "winget",
		Probe: "winget",
		ListCommand: func(path string) []string {
			return []string{"winget", "export", "--output", path, "--include-versions",
				"--accept-source-agreements", "--disable-interactivity"}
		},
		ListToFile: true,
		ParseList:  parseWingetExport,
		InstallCommand: func(ref string, silent bool) []string {
			args := []string{"winget", "install", "--id", ref, "--exact",
				"--accept-package-agreements", "--accept-source-agreements", "--disable-interactivity"}
			if silent {
				args = append(args, "--silent")
			}
			return args
		},
		ExportCommand: func(path string) []string {
			return []string{"winget", "export", "--output", path,
				"--accept-source-agreements", "--disable-interactivity"}
		},
	}
}

// AptProfile drives dpkg/apt on Debian-based systems.
func AptProfile() Profile {
	return Profile{
		Name:  "apt",
		Probe: "apt-get",
		ListCommand: func(string) []string {
			return []string{"dpkg-query", "-W", "-f=${Package}\t${Version}\t${db:Status-Status}\n"}
		},
		ParseList: parseDpkgQuery,
		InstallCommand: func(ref string, silent bool) []string {
			args := []string{"apt-get", "install", "-y"}
			if silent {
				args = append(args, "-q")
			}
			return append(args, ref)
		},
	}
}

// BrewProfile drives Homebrew.
func BrewProfile() Profile {
	return Profile{
		Name:  "brew",
		Probe: "brew",
		ListCommand: func(string) []string {
			return []string{"brew", "list", "--versions"}
		},
		ParseList: parseBrewList,
		InstallCommand: func(ref string, silent bool) []string {
			args := []string{"brew", "install"}
			if silent {
				args = append(args, "--quiet")
			}
			return append(args, ref)
		},
		ExportCommand: func(path string) []string {
			return []string{"brew", "bundle", "dump", "--force", "--file=" + path}
		},
	}
}

type wingetExport struct {
	Sources []struct {
		Packages []struct {
			PackageIdentifier string `json:"PackageIdentifier"`
			Version           string `json:"Version"`
		} `json:"Packages"`
	} `json:"Sources"`
}

// parseWingetExport reads the JSON document written by winget export.
func parseWingetExport(data []byte) (map[string]string, error) {
	var doc wingetExport
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse winget export: %w", err)
	}

	out := make(map[string]string)
	for _, src := range doc.Sources {
		for _, pkg := range src.Packages {
			if pkg.PackageIdentifier == "" {
				continue
			}
			version := pkg.Version
			if strings.EqualFold(version, "unknown") {
				version = ""
			}
			out[pkg.PackageIdentifier] = version
		}
	}
	return out, nil
}

// parseDpkgQuery reads "package\tversion\tstatus" lines and keeps installed
// packages.
func parseDpkgQuery(data []byte) (map[string]string, error) {
	out := make(map[string]string)

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) < 2 || fields[0] == "" {
			continue
		}
		if len(fields) >= 3 && fields[2] != "" && fields[2] != "installed" {
			continue
		}
		// Multi-arch packages are listed as name:arch.
		name, _, _ := strings.Cut(fields[0], ":")
		out[name] = fields[1]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dpkg output: %w", err)
	}
	return out, nil
}

// parseBrewList reads "name version [version...]" lines; the newest version
// is listed last.
func parseBrewList(data []byte) (map[string]string, error) {
	out := make(map[string]string)

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		version := ""
		if len(fields) > 1 {
			version = fields[len(fields)-1]
		}
		out[fields[0]] = version
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read brew output: %w", err)
	}
	return out, nil
}
