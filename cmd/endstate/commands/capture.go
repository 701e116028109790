package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/endstate/pkg/fsutil"
	"github.com/openfroyo/endstate/pkg/manifest"
)

func newCaptureCommand() *cobra.Command {
	var (
		output      string
		name        string
		pinVersions bool
		nativePath  string
	)

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Write a manifest describing the installed apps",
		Long: `Capture the packages installed on this machine as a new manifest.

Every installed package becomes an app with a ref for the current platform.
The manifest is written atomically; without --output it goes to stdout.
With --native the package manager's own export is written as well.`,
		Example: `  # Print a manifest of everything apt knows about
  endstate capture --driver apt

  # Capture into a file, pinning the observed versions
  endstate capture -o ./workstation.jsonc --name workstation --pin-versions

  # Also keep winget's own export
  endstate capture -o ./captured.jsonc --native ./winget-export.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				driver, err := newDriver(s.cfg.Driver, s.logger)
				if err != nil {
					return err
				}

				installed, err := driver.List(ctx)
				if err != nil {
					return fmt.Errorf("failed to list installed packages: %w", err)
				}

				m := manifest.FromInstalled(installed, manifest.CaptureOptions{
					Name:        name,
					PinVersions: pinVersions,
				})
				data, err := manifest.Encode(m)
				if err != nil {
					return err
				}

				if nativePath != "" {
					path := fsutil.ResolvePath("", nativePath)
					ok, err := driver.Export(ctx, path)
					if err != nil {
						return fmt.Errorf("native export failed: %w", err)
					}
					if !ok {
						s.logger.Warn().Str("driver", driver.Name()).Msg("Native export reported failure")
					}
				}

				if output == "" || output == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}

				path := fsutil.ResolvePath("", output)
				if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
					return err
				}
				s.logger.Info().
					Str("path", path).
					Str("driver", driver.Name()).
					Int("apps", len(m.Apps)).
					Msg("Manifest captured")
				fmt.Fprintf(cmd.OutOrStdout(), "Captured %d apps to %s\n", len(m.Apps), path)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "manifest file to write (default stdout)")
	cmd.Flags().StringVar(&name, "name", "captured", "manifest name")
	cmd.Flags().BoolVar(&pinVersions, "pin-versions", false, "record observed versions as exact constraints")
	cmd.Flags().StringVar(&nativePath, "native", "", "also write the package manager's native export to this path")

	return cmd
}
