package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/oshokin/distpack/internal/config"
	"github.com/oshokin/distpack/internal/logger"
	"github.com/oshokin/distpack/internal/process"
	"github.com/oshokin/distpack/internal/service/packager"
	"github.com/oshokin/distpack/internal/version"
)

var (
	// configPath to the recipe file.
	configPath string
	// killRunning terminates running copies of the bundle before cleaning.
	killRunning bool
	// noReveal skips opening the output folder.
	noReveal bool
	// quiet limits logging to warnings and errors.
	quiet bool
	// logLevel overrides DISTPACK_LOG_LEVEL.
	logLevel string

	// rootCmd represents the base command running the whole packaging pipeline.
	rootCmd = &cobra.Command{
		Use:   "distpack",
		Short: "Build a distributable archive of a bundled desktop application",
		Long: `distpack installs the headless browser runtime, wipes the previous output,
runs the bundler, copies auxiliary assets into the bundle, writes a checksum
manifest, compresses the bundle and opens the output folder.`,
		Args:              cobra.NoArgs,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: setupLogging,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSignals(func(ctx context.Context) error {
				return packager.Run(ctx, options(cmd))
			})
		},
	}

	cleanCmd = &cobra.Command{
		Use:   "clean",
		Short: "Remove the previous output folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSignals(func(ctx context.Context) error {
				return packager.Clean(ctx, options(cmd))
			})
		},
	}

	overwriteRecipe bool

	initCmd = &cobra.Command{
		Use:   "init [name]",
		Short: "Write a starter recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return packager.Init(cmd.Context(), options(cmd), args[0], overwriteRecipe)
		},
	}

	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Check the bundle folder against its checksum manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return packager.Verify(cmd.Context(), options(cmd))
		},
	}
)

// Execute runs the distpack CLI. A failed bundler propagates its exit status, other failures exit with 1.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(report(rootCmd.ErrOrStderr(), err))
	}
}

// report writes the single diagnostic line for err to w and returns the exit status.
func report(w io.Writer, err error) int {
	logger.NewWithWriter(w, zapcore.ErrorLevel).Errorf("distpack: %v", err)

	return process.ExitCode(err)
}

func options(cmd *cobra.Command) *packager.Options {
	return &packager.Options{
		RecipePath:  configPath,
		KillRunning: killRunning,
		NoReveal:    noReveal,
		Quiet:       quiet,
		ToolOutput:  cmd.OutOrStdout(),
	}
}

// withSignals cancels the run on SIGTERM or SIGINT so child tools are stopped too.
func withSignals(fn func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return fn(ctx)
}

// setupLogging applies --log-level, falling back to DISTPACK_LOG_LEVEL.
func setupLogging(_ *cobra.Command, _ []string) error {
	level := logLevel
	if level == "" {
		overrides, err := config.ParseOverrides(nil)
		if err != nil {
			return err
		}

		level = overrides.LogLevel
	}

	if level == "" {
		return nil
	}

	parsed, ok := logger.ParseLogLevel(level)
	if !ok {
		return fmt.Errorf("unknown log level %q", level)
	}

	logger.SetLevel(parsed)

	return nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to the recipe file (YAML or TOML)")
	flags.BoolVarP(&quiet, "quiet", "q", false, "log only warnings and errors")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")

	rootCmd.Flags().BoolVar(&killRunning, "kill-running", false, "terminate running copies of the bundled application")
	rootCmd.Flags().BoolVar(&noReveal, "no-reveal", false, "do not open the output folder when done")

	cleanCmd.Flags().BoolVar(&killRunning, "kill-running", false, "terminate running copies of the bundled application")
	initCmd.Flags().BoolVar(&overwriteRecipe, "force", false, "overwrite an existing recipe")

	rootCmd.AddCommand(cleanCmd, initCmd, verifyCmd)
}
