package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/mathworks-packager/internal/config"
	"github.com/oshokin/mathworks-packager/internal/logger"
	"github.com/oshokin/mathworks-packager/internal/service/prestage"
	"github.com/oshokin/mathworks-packager/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// licenseServer overrides the configured license-manager host.
	licenseServer string
	// verbosity raises the log level with each -v.
	verbosity int

	// rootCmd represents the base command for preparing a device-side install.
	rootCmd = &cobra.Command{
		Use:   "mwpkg-prestage [family] [installation-key] [license-hash] [addons-csv]",
		Short: "Stage license files and fire the install events on a device",
		Long: `Runs on a managed device ahead of an install. The management policy passes
the release family, the installation key, the license hash and the
comma-separated product list, with the controlling product first.

The tool skips products already present, checks disk space, stages the
license and installer input files and fires the package install events.`,
		Args: cobra.ExactArgs(4),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			logger.SetLevel(logger.LevelFromVerbosity(verbosity))

			options := &prestage.Options{
				ConfigPath:      configPath,
				Family:          args[0],
				InstallationKey: args[1],
				LicenseHash:     args[2],
				AddonsCSV:       args[3],
				LicenseServer:   licenseServer,
			}

			return prestage.Run(ctx, options)
		},
	}
)

// Execute runs the mwpkg-prestage CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&licenseServer, "server", "s", "", "license-manager host (overrides configuration)")
	rootCmd.Flags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (repeatable)")
}
