// Package cmd defines the CLI commands for the runcalcs-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/runcalcs-crawler/internal/app"
	"github.com/JakeFAU/runcalcs-crawler/internal/config"
	"github.com/JakeFAU/runcalcs-crawler/internal/logging"
	"github.com/JakeFAU/runcalcs-crawler/internal/pipeline"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands need from the application. Tests swap in a fake.
type App interface {
	Close()
	Logger() *zap.Logger
	RunOnce(ctx context.Context, variant pipeline.Variant, overrides app.RunOverrides) (pipeline.Result, error)
	Serve(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgFile string) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd builds the command tree. The returned func closes the app once the command has
// finished, whether or not it succeeded.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile string
		built   App
	)
	cmd := &cobra.Command{
		Use:   "runcalcs-crawler",
		Short: "Discovers upcoming races and running articles for RunCalcs.",
		Long: `runcalcs-crawler fetches a bounded set of seed pages, extracts race events or
articles from them, merges the results into the persisted dataset and writes it back.
Run a single pipeline with "races" or "articles", or expose both over HTTP with "serve".`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs after flags are parsed but before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			built = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON); CRAWLER_* env vars override it")

	cmd.AddCommand(newRunCmd(pipeline.VariantRaces, "Discover upcoming races and merge them into the race dataset"))
	cmd.AddCommand(newRunCmd(pipeline.VariantArticles, "Discover running articles and merge them into the article dataset"))
	cmd.AddCommand(newServeCmd())

	cleanup := func() {
		if built != nil {
			built.Close()
			built = nil
		}
	}
	return cmd, cleanup
}

// Execute is the main entry point.
func Execute() {
	if err := execute(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func execute(ctx context.Context, args []string, stdout io.Writer) error {
	root, cleanup := newRootCmd()
	defer cleanup()
	root.SetArgs(args)
	root.SetOut(stdout)
	return root.ExecuteContext(ctx)
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
