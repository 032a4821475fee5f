// Package cmd defines and implements the CLI commands for the tunecrawler
// executable. Every pipeline role is a subcommand of the same binary so the
// supervisor can spawn workers by re-executing itself.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tunedex/tunecrawler/internal/config"
	"github.com/tunedex/tunecrawler/internal/logging"
	"github.com/tunedex/tunecrawler/internal/metrics"
	"github.com/tunedex/tunecrawler/internal/storage/postgres"
)

var (
	cfgFile string
	devMode bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tunecrawler",
		Short: "A distributed crawler and indexer for ABC tune notation.",
		Long: `tunecrawler walks the web looking for tunes written in ABC notation,
parses them into a searchable database, and fingerprints their melodies
for similarity search. Each pipeline role runs as its own subcommand:
a single dispatcher owns the work queue while fetcher, parser, and
indexer workers connect to it over TCP.`,
		PersistentPreRun: func(*cobra.Command, []string) {
			metrics.Init()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is environment only)")
	cmd.PersistentFlags().BoolVar(&devMode, "dev", false, "enable development logging")

	cmd.AddCommand(newDispatcherCmd())
	cmd.AddCommand(newFetcherCmd())
	cmd.AddCommand(newParserCmd())
	cmd.AddCommand(newIndexerCmd())
	cmd.AddCommand(newPurgerCmd())
	cmd.AddCommand(newSupervisorCmd())

	return cmd
}

// Execute is the main entry point. The context ends on SIGINT or SIGTERM so
// every role drains gracefully.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if devMode {
		cfg.Logging.Development = true
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

func openStore(ctx context.Context, cfg config.Config) (*postgres.PipelineStore, error) {
	st, err := postgres.NewPipelineStore(ctx, postgres.PipelineStoreConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxConns),
		MinConns: int32(cfg.DB.MinConns),
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}
