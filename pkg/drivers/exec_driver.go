package drivers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/fsutil"
)

// ExecDriver implements engine.Driver by shelling out to a package manager.
type ExecDriver struct {
	profile Profile
	runner  Runner
	logger  zerolog.Logger
}

var _ engine.Driver = (*ExecDriver)(nil)

// NewExecDriver creates a driver for profile. A nil runner uses ExecRunner.
func NewExecDriver(profile Profile, runner Runner, logger zerolog.Logger) *ExecDriver {
	if runner == nil {
		runner = &ExecRunner{}
	}
	return &ExecDriver{
		profile: profile,
		runner:  runner,
		logger:  logger.With().Str("component", "driver").Str("driver", profile.Name).Logger(),
	}
}

// Name returns the profile name.
func (d *ExecDriver) Name() string {
	return d.profile.Name
}

// Available reports whether the package manager executable is on PATH.
func (d *ExecDriver) Available() bool {
	_, err := lookPath(d.profile.Probe)
	return err == nil
}

// List returns installed package references and their versions.
func (d *ExecDriver) List(ctx context.Context) (map[string]string, error) {
	var listPath string
	if d.profile.ListToFile {
		dir, err := os.MkdirTemp("", "endstate-list-")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp directory: %w", err)
		}
		defer os.RemoveAll(dir)
		listPath = filepath.Join(dir, "packages.json")
	}

	argv := d.profile.ListCommand(listPath)
	res, err := d.run(ctx, argv)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%s exited with code %d: %s", argv[0], res.ExitCode, firstLine(res))
	}

	data := []byte(res.Stdout)
	if d.profile.ListToFile {
		data, err = os.ReadFile(listPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read package list: %w", err)
		}
	}

	installed, err := d.profile.ParseList(data)
	if err != nil {
		return nil, err
	}

	d.logger.Debug().Int("packages", len(installed)).Msg("Listed installed packages")
	return installed, nil
}

// Install installs ref. The installer exit code and output are returned
// as-is for the engine to classify.
func (d *ExecDriver) Install(ctx context.Context, ref string, silent bool) (*engine.InstallOutput, error) {
	if ref == "" {
		return nil, fmt.Errorf("package reference is required")
	}

	res, err := d.run(ctx, d.profile.InstallCommand(ref, silent))
	if err != nil {
		return nil, err
	}

	d.logger.Debug().
		Str("ref", ref).
		Int("exit_code", res.ExitCode).
		Dur("duration", res.Duration).
		Msg("Install finished")

	return &engine.InstallOutput{
		Output:   res.Lines(),
		ExitCode: res.ExitCode,
	}, nil
}

// Export writes the manager's native export to path. Managers without one
// get a sorted "ref version" listing instead.
func (d *ExecDriver) Export(ctx context.Context, path string) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create export directory: %w", err)
	}

	if d.profile.ExportCommand == nil {
		installed, err := d.List(ctx)
		if err != nil {
			return false, err
		}
		if err := fsutil.WriteFileAtomic(path, []byte(formatListing(installed)), 0o644); err != nil {
			return false, fmt.Errorf("failed to write export: %w", err)
		}
		return true, nil
	}

	argv := d.profile.ExportCommand(path)
	res, err := d.run(ctx, argv)
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		d.logger.Warn().Int("exit_code", res.ExitCode).Str("output", firstLine(res)).Msg("Export failed")
		return false, nil
	}
	return true, nil
}

func (d *ExecDriver) run(ctx context.Context, argv []string) (*CommandResult, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	d.logger.Debug().Strs("argv", argv).Msg("Running command")
	return d.runner.Run(ctx, argv[0], argv[1:]...)
}

func formatListing(installed map[string]string) string {
	refs := make([]string, 0, len(installed))
	for ref := range installed {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	var b strings.Builder
	for _, ref := range refs {
		b.WriteString(ref)
		if v := installed[ref]; v != "" {
			b.WriteString("\t")
			b.WriteString(v)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func firstLine(res *CommandResult) string {
	lines := res.Lines()
	if len(lines) == 0 {
		return ""
	}
	return lines[0]
}
