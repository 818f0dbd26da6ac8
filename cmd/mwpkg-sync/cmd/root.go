package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/mathworks-packager/internal/logger"
	"github.com/oshokin/mathworks-packager/internal/service/sync"
	"github.com/oshokin/mathworks-packager/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// folder holding the tool binaries to update.
	folder string
	// updateURL overrides the configured distribution URL.
	updateURL string
	// verbosity raises the log level with each -v.
	verbosity int

	// rootCmd represents the base command for downloading and applying tool updates.
	rootCmd = &cobra.Command{
		Use:       "mwpkg-sync [device|builder]",
		Short:     "Download and apply tool updates from the distribution server",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{sync.DeviceRole, sync.BuilderRole},
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			logger.SetLevel(logger.LevelFromVerbosity(verbosity))

			options := &sync.Options{
				ConfigPath: configPath,
				Role:       args[0],
				Folder:     folder,
				UpdateURL:  updateURL,
			}

			return sync.Run(ctx, options)
		},
	}
)

// Execute runs the mwpkg-sync CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file (defaults to the tools folder)")
	rootCmd.Flags().StringVarP(&folder, "folder", "f", "", "tools folder (defaults to the executable's directory)")
	rootCmd.Flags().StringVarP(&updateURL, "url", "u", "", "distribution URL (overrides configuration)")
	rootCmd.Flags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (repeatable)")
}
