// Package cli wires the operator command tree: the API server, the
// background worker, one-shot maintenance commands, and job inspection.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fitstack/backoffice/internal/app"
	"github.com/fitstack/backoffice/pkg/config"
)

var verbose bool

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "backoffice",
	Short: "FitStack back office - package lifecycle and bulk operations",
	Long: `The back office manages gym membership packages: freezes, renewals,
expiry sweeps with staged notifications, and filtered bulk operations
with preview, progress tracking, and cancellation.`,
	SilenceUsage: true,
}

// ExecuteContext runs the command tree under the given context.
func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// buildApp loads configuration and wires the dependency graph. The caller
// owns the returned App and must Close it.
func buildApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := slog.LevelInfo
	if verbose || cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	return app.New(ctx, cfg, logger)
}
