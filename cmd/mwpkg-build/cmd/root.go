package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/mathworks-packager/internal/config"
	"github.com/oshokin/mathworks-packager/internal/logger"
	"github.com/oshokin/mathworks-packager/internal/service/build"
	"github.com/oshokin/mathworks-packager/internal/service/toolpack"
	"github.com/oshokin/mathworks-packager/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// dmgPath to the monolithic vendor installer image.
	dmgPath string
	// workFolder where archives and built packages are staged.
	workFolder string
	// targetsPath to the product list file.
	targetsPath string
	// products built when set, overriding the targets file.
	products []string
	// username for the management server.
	username string
	// password for the management server.
	password string
	// skipProcessing rebuilds policies from the saved checkpoint without
	// touching packages.
	skipProcessing bool
	// verbosity raises the log level with each -v.
	verbosity int

	// rootCmd represents the base command for building and publishing packages.
	rootCmd = &cobra.Command{
		Use:   "mwpkg-build",
		Short: "Build per-product packages from a vendor installer image and publish them",
		Long: `Splits a monolithic MathWorks installer image into one package per product,
uploads each package to the management server and creates the install
policies devices consume.

The run is resumable: package and policy identifiers are checkpointed in the
work folder, and a rerun picks up where the previous one stopped.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			logger.SetLevel(logger.LevelFromVerbosity(verbosity))

			options := &build.Options{
				ConfigPath:     configPath,
				DMGPath:        dmgPath,
				WorkFolder:     workFolder,
				TargetsPath:    targetsPath,
				Products:       products,
				Username:       username,
				Password:       password,
				SkipProcessing: skipProcessing,
			}

			return build.Run(ctx, options)
		},
	}

	// toolsFolder holds the built tool binaries to be hashed.
	toolsFolder string
	// toolsOutput is the manifest destination path.
	toolsOutput string

	// toolsCmd writes the distribution manifest for the tool binaries.
	toolsCmd = &cobra.Command{
		Use:   "tools",
		Short: "Write the tools manifest for distribution",
		Long: `Hashes the built tool binaries and the settings file in a folder and
writes the manifest that mwpkg-sync compares against on devices.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			logger.SetLevel(logger.LevelFromVerbosity(verbosity))

			options := &toolpack.Options{
				Folder: toolsFolder,
				Output: toolsOutput,
			}

			return toolpack.Run(ctx, options)
		},
	}
)

// Execute runs the mwpkg-build CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(toolsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		CountVarP(&verbosity, "verbose", "v", "increase log verbosity (repeatable)")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&dmgPath, "dmg", "d", "", "path to the vendor installer image")
	rootCmd.Flags().
		StringVarP(&workFolder, "folder", "f", "", "work folder for archives and built packages (defaults to the image's directory)")
	rootCmd.Flags().StringVarP(&targetsPath, "targets", "t", "", "path to the product list file")
	rootCmd.Flags().
		StringArrayVarP(&products, "product", "p", nil, "product to build (repeatable, overrides the targets file)")
	rootCmd.Flags().StringVarP(&username, "user", "U", "", "management server user")
	rootCmd.Flags().StringVarP(&password, "password", "P", "", "management server password")
	rootCmd.Flags().
		BoolVarP(&skipProcessing, "skip-processing", "s", false, "rebuild policies from the checkpoint without building packages")

	_ = rootCmd.MarkFlagRequired("dmg")

	toolsCmd.Flags().StringVarP(&toolsFolder, "folder", "f", ".", "folder holding the built tool binaries")
	toolsCmd.Flags().StringVarP(&toolsOutput, "output", "o", "", "manifest destination (defaults to the folder)")
}
