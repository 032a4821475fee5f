package cmd

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tunedex/tunecrawler/internal/supervisor"
)

func newSupervisorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "supervisor",
		Short: "Starts the process supervisor API",
		Long: `Runs the supervisor HTTP API. It starts and stops worker and purger
processes on this machine by re-executing this binary, tracks them
through PID files in the run directory, and serves Prometheus metrics.`,
		RunE: runSupervisor,
	}
}

func runSupervisor(cmd *cobra.Command, _ []string) error {
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

	reg, err := supervisor.NewRegistry(cfg.Supervisor.RunDir, cfgFile, logger.Named("registry"))
	if err != nil {
		return err
	}
	srv := supervisor.NewServer(reg, cfg.Auth, logger.Named("supervisor"))

	addr := fmt.Sprintf(":%d", cfg.Supervisor.Port)
	logger.Info("supervisor starting",
		zap.String("addr", addr), zap.String("run_dir", cfg.Supervisor.RunDir))
	if err := srv.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("supervisor server: %w", err)
	}
	return nil
}
