package cmd

import (
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tunedex/tunecrawler/internal/clock/system"
	"github.com/tunedex/tunecrawler/internal/dispatcher"
	"github.com/tunedex/tunecrawler/internal/publisher/memory"
	pubsubpub "github.com/tunedex/tunecrawler/internal/publisher/pubsub"
)

func newDispatcherCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatcher",
		Short: "Starts the claim dispatcher and worker socket",
		Long: `Runs the single dispatcher process. It owns every claim against the
database, serves the worker TCP socket, sweeps lost assignments back into
the queue, and publishes pipeline events on terminal transitions.`,
		RunE: runDispatcher,
	}
}

func runDispatcher(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var pub dispatcher.Publisher
	if cfg.PubSub.ProjectID != "" {
		client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		p := pubsubpub.NewFromClient(client, cfg.PubSub.TopicName)
		defer p.Stop()
		defer func() { _ = client.Close() }()
		pub = p
	} else {
		logger.Info("pubsub project not configured, events stay in memory")
		pub = memory.New()
	}

	d := dispatcher.New(st, pub, system.New(), dispatcher.Config{
		Addr:             fmt.Sprintf(":%d", cfg.Dispatcher.Port),
		Cooldown:         cfg.Dispatcher.Cooldown(),
		InflightTTL:      cfg.Dispatcher.InflightTTL(),
		SweepInterval:    cfg.Dispatcher.SweepInterval(),
		LogScanInterval:  cfg.Dispatcher.LogScanInterval(),
		LogScanPath:      cfg.Dispatcher.LogScanPath,
		ABCPriorityExt:   cfg.Dispatcher.ABCPriorityExtension,
		TimeoutStreak:    cfg.Dispatcher.HostTimeoutBlockStreak,
		IdleBackoffMinMs: cfg.Worker.IdleMinMs,
		IdleBackoffMaxMs: cfg.Worker.IdleMaxMs,
		Topic:            cfg.PubSub.TopicName,
	}, logger.Named("dispatcher"))

	logger.Info("dispatcher starting", zap.Int("port", cfg.Dispatcher.Port))
	return d.Run(ctx)
}
