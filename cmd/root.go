// Package cmd defines the docs-summarizer CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/docs-summarizer/internal/app"
	"github.com/JakeFAU/docs-summarizer/internal/config"
	"github.com/JakeFAU/docs-summarizer/internal/dispatcher"
	"github.com/JakeFAU/docs-summarizer/internal/logging"
)

// App is the subset of *app.App the commands use, so tests can inject a fake.
type App interface {
	Close()
	Migrate(ctx context.Context) error
	Serve(ctx context.Context) error
	Admin() *dispatcher.Dispatcher
}

type appFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error)

func defaultFactory(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

type appKeyType struct{}

var errNoApp = errors.New("application not initialized")

func resolveApp(ctx context.Context) (App, error) {
	a, ok := ctx.Value(appKeyType{}).(App)
	if !ok || a == nil {
		return nil, errNoApp
	}
	return a, nil
}

// newRootCmd builds the command tree. factory is replaced in tests.
func newRootCmd(factory appFactory) *cobra.Command {
	var (
		cfgFile string
		logger  *zap.Logger
	)
	cmd := &cobra.Command{
		Use:   "docs-summarizer",
		Short: "Crawl documentation sites and summarize them with an LLM.",
		Long: `docs-summarizer accepts documentation URLs over HTTP, crawls each site
within page and depth bounds, and stores an AI-generated markdown summary.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err = logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			a, err := factory(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, err := resolveApp(cmd.Context()); err == nil {
				a.Close()
			}
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	cmd.AddCommand(newServeCmd(), newRequeueCmd(), newMigrateCmd())
	return cmd
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	root := newRootCmd(defaultFactory)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
