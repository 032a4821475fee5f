package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tunedex/tunecrawler/internal/config"
	"github.com/tunedex/tunecrawler/internal/fetcher"
	"github.com/tunedex/tunecrawler/internal/hostpolicy"
	"github.com/tunedex/tunecrawler/internal/id/uuid"
	"github.com/tunedex/tunecrawler/internal/indexer"
	"github.com/tunedex/tunecrawler/internal/logging"
	"github.com/tunedex/tunecrawler/internal/parserworker"
	"github.com/tunedex/tunecrawler/internal/worker"
)

// executorBuilder assembles a role executor. The returned cleanup runs after
// the worker loop exits and may be nil.
type executorBuilder func(ctx context.Context, cfg config.Config, logger *zap.Logger) (worker.Executor, func(), error)

func newFetcherCmd() *cobra.Command {
	return newWorkerCmd("fetcher", "Starts a fetch worker",
		`Runs one fetch worker. It connects to the dispatcher, downloads assigned
URLs with per-host pacing, extracts outbound links, and reports the
outcome. Refused extensions and the MIME allow-list are read from the
database at startup.`, buildFetcher)
}

func newParserCmd() *cobra.Command {
	return newWorkerCmd("parser", "Starts a parse worker",
		`Runs one parse worker. It loads fetched documents, splits them into ABC
tunes, and reports the parsed tunes back to the dispatcher.`, buildParser)
}

func newIndexerCmd() *cobra.Command {
	return newWorkerCmd("indexer", "Starts an index worker",
		`Runs one index worker. It turns the pitch sequences of a tunebook's
tunes into transposition-invariant interval vectors.`, buildIndexer)
}

func newWorkerCmd(role, short, long string, build executorBuilder) *cobra.Command {
	var workerID string
	cmd := &cobra.Command{
		Use:   role,
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), role, workerID, build)
		},
	}
	cmd.Flags().StringVar(&workerID, "id", "", "worker id (generated when empty)")
	return cmd
}

func runWorker(ctx context.Context, role, workerID string, build executorBuilder) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	base, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = base.Sync() }()

	if workerID == "" {
		workerID, err = uuid.NewUUIDGenerator().NewID()
		if err != nil {
			return fmt.Errorf("generate worker id: %w", err)
		}
	}
	logger := logging.ForRole(base, role, workerID)

	exec, cleanup, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	w := worker.New(exec, worker.Config{
		Addr:       cfg.Worker.DispatcherAddr,
		ID:         workerID,
		BackoffMax: cfg.Worker.BackoffMax(),
	}, logger)

	logger.Info("worker starting", zap.String("dispatcher", cfg.Worker.DispatcherAddr))
	return w.Run(ctx)
}

func buildFetcher(ctx context.Context, cfg config.Config, logger *zap.Logger) (worker.Executor, func(), error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	rules := fetcher.Rules{}
	if rules.RefusedExtensions, err = st.RefusedExtensions(ctx); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("load refused extensions: %w", err)
	}
	if rules.AllowedMimePatterns, err = st.AllowedMimePatterns(ctx); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("load mime allow-list: %w", err)
	}
	// The fetch rules are startup-only reads; the worker itself never
	// touches the database again.
	st.Close()

	limiter := hostpolicy.NewLimiter(hostpolicy.LimiterConfig{
		DefaultRPS: cfg.Fetch.PerHostRPS,
	})
	exec := fetcher.New(fetcher.Config{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.Fetch.Timeout(),
		IgnoreRobots: cfg.Fetch.IgnoreRobots,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	}, limiter, rules, logger)
	return exec, nil, nil
}

func buildParser(ctx context.Context, cfg config.Config, logger *zap.Logger) (worker.Executor, func(), error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return parserworker.New(st, logger), st.Close, nil
}

func buildIndexer(_ context.Context, _ config.Config, logger *zap.Logger) (worker.Executor, func(), error) {
	return indexer.New(logger), nil, nil
}
