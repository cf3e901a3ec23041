// Package cmd defines and implements the CLI commands for the fbcrawler
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/socialgraph-crawler/internal/app"
	"github.com/JakeFAU/socialgraph-crawler/internal/config"
	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
)

var (
	cfgFile string
	verbose bool
	restart bool
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use. It allows
// injecting a mock container during tests.
type App interface {
	Close()
	Logger() *zap.Logger
	Fetcher() *crawler.Fetcher
	Scheduler() *crawler.Scheduler
}

// newApp is the application factory. It's a variable so tests can
// replace it with a mock factory.
var newApp = func(ctx context.Context, cfg config.Config, restart bool) (App, error) {
	return app.New(ctx, cfg, restart)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fbcrawler",
		Short: "A resumable social-graph crawler.",
		Long: `fbcrawler walks posts, comments, profiles and post searches through
the remote social-graph API, persisting everything it finds. Progress is
recorded in a local task ledger, so an interrupted run picks up where it
left off unless --restart wipes the ledger first.`,

		SilenceUsage: true,

		// Runs after flags are parsed but before the subcommand's RunE:
		// load config, build the service container, inject it.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(); err != nil {
				return err
			}
			cfg, err := config.Load(viper.GetViper())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			appInstance, err := newApp(cmd.Context(), cfg, restart)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./fbcrawler.yaml, then $HOME/fbcrawler.yaml)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVar(&restart, "restart", false, "wipe the task ledger and re-crawl everything")

	cmd.AddCommand(newPostCmd())
	cmd.AddCommand(newProfileCmd())
	cmd.AddCommand(newSearchPostsCmd())

	return cmd
}

func initConfig() error {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("fbcrawler")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cfgFile != "" {
			return fmt.Errorf("read config: %w", err)
		}
	}

	if verbose {
		v.Set("log.development", true)
	}
	return nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
