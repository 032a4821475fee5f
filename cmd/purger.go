package cmd

import (
	"fmt"

	gcstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tunedex/tunecrawler/internal/clock/system"
	"github.com/tunedex/tunecrawler/internal/purger"
	"github.com/tunedex/tunecrawler/internal/storage/gcs"
	"github.com/tunedex/tunecrawler/internal/storage/local"
)

func newPurgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purger",
		Short: "Starts the periodic cleanup loop",
		Long: `Runs the purger. Each cycle deletes URLs with refused extensions,
removes DNS-dead hosts and their URLs, re-enables hosts whose timeout
block has expired, and archives then erases the stored documents of
parsed pages that held no tunes.`,
		RunE: runPurger,
	}
	cmd.Flags().String("id", "", "process id (accepted for supervisor symmetry)")
	return cmd
}

func runPurger(cmd *cobra.Command, _ []string) error {
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

	var archive purger.Archive
	switch {
	case cfg.Storage.GCSBucket != "":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		defer func() { _ = client.Close() }()
		archive, err = gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("init archive: %w", err)
		}
	case cfg.Storage.LocalDir != "":
		archive, err = local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("init archive: %w", err)
		}
	default:
		logger.Info("archive backend not configured, documents erased without a copy")
	}

	p := purger.New(st, archive, system.New(), purger.Config{
		Interval:           cfg.Purge.Interval(),
		DeleteBatch:        cfg.Purge.DeleteBatch,
		EraseBatch:         cfg.Purge.EraseBatch,
		ReenableAfter:      cfg.Dispatcher.HostTimeoutReenable(),
		ArchivePrefix:      cfg.Storage.Prefix,
		ArchiveContentType: cfg.Storage.ContentType,
	}, logger.Named("purger"))

	logger.Info("purger starting", zap.Duration("interval", cfg.Purge.Interval()))
	return p.Run(ctx)
}
