package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/mathworks-packager/internal/config"
	"github.com/oshokin/mathworks-packager/internal/logger"
	"github.com/oshokin/mathworks-packager/internal/service/install"
	"github.com/oshokin/mathworks-packager/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// keepStaging leaves the staging folder in place after a successful install.
	keepStaging bool
	// verbosity raises the log level with each -v.
	verbosity int

	// rootCmd represents the base command for running the staged silent install.
	rootCmd = &cobra.Command{
		Use:   "mwpkg-install",
		Short: "Run the staged vendor installer silently",
		Long: `Runs on a managed device after the installer package has unpacked into the
staging folder. It verifies the staged input and license files, runs the
vendor installer in silent mode and removes the staging folder on success.
When the prestage step marked the run as skippable, nothing is installed.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			logger.SetLevel(logger.LevelFromVerbosity(verbosity))

			options := &install.Options{
				ConfigPath:  configPath,
				KeepStaging: keepStaging,
			}

			return install.Run(ctx, options)
		},
	}
)

// Execute runs the mwpkg-install CLI and exits with non-zero status on error.
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
	rootCmd.Flags().BoolVar(&keepStaging, "keep-staging", false, "keep the staging folder after a successful install")
	rootCmd.Flags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (repeatable)")
}
