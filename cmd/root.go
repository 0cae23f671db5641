// Package cmd defines and implements the CLI commands for the sitecapture executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecapture/internal/config"
	"github.com/JakeFAU/sitecapture/internal/logging"
)

// appKeyType is the key for storing the app in the command context.
type appKeyType string

const appKey appKeyType = "app"

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfg    config.Config
	logger *zap.Logger
}

// NewRootCmd creates and configures the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "sitecapture",
		Short: "Screenshot and logo capture service backed by headless Chrome.",
		Long: `sitecapture renders web pages in a headless browser and returns
screenshots or the site's logo. It runs as an HTTP service or captures a
single page from the command line.`,
		SilenceUsage: true,

		// Runs after flags are parsed and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cfgFile)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, err := resolveApp(cmd.Context()); err == nil {
				a.close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCaptureCmd())

	return cmd
}

func newApp(cfgFile string) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return &app{cfg: cfg, logger: logger}, nil
}

func (a *app) close() {
	// Terminals reject fsync with EINVAL.
	if err := a.logger.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", err)
	}
}

func resolveApp(ctx context.Context) (*app, error) {
	a, ok := ctx.Value(appKey).(*app)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}
