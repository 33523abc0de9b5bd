package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/merchantry/ordersync/internal/api"
	"github.com/merchantry/ordersync/internal/config"
	"github.com/merchantry/ordersync/internal/sync"
)

func newServeCmd() *cobra.Command {
	var flagInterval string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the synchronization daemon",
		Long: `Run sync cycles on a timer and serve the HTTP trigger surface for
on-demand jobs. The config file is watched and hot-reloaded; interval
changes take effect on the next cycle.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("interval") {
				if _, err := time.ParseDuration(flagInterval); err != nil {
					return err
				}

				resolvedCfg.Sync.Interval = flagInterval
			}

			return runServe(cmd)
		},
	}

	cmd.Flags().StringVar(&flagInterval, "interval", "", "override the sync interval (e.g. 2m)")

	return cmd
}

func runServe(cmd *cobra.Command) error {
	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	cleanup, err := writePIDFile(pidFilePath(resolvedCfg.Sync.Database))
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := openStore(resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := buildEngine(ctx, resolvedCfg, store, logger)
	if err != nil {
		return err
	}

	holder := config.NewHolder(resolvedCfg, cfgPath)

	stages := sync.NewStageSet(sync.StageSetConfig{
		Store:        store,
		Engine:       engine,
		Logger:       logger,
		JobRetention: time.Duration(resolvedCfg.Jobs.RetentionDays) * 24 * time.Hour,
	})

	chains := sync.NewChainEngine(store, logger)

	var notifier sync.Notifier = sync.LogNotifier{Logger: logger}
	if resolvedCfg.Jobs.WebhookURL != "" {
		notifier = &sync.WebhookNotifier{
			URL:    resolvedCfg.Jobs.WebhookURL,
			Client: defaultHTTPClient(),
			Logger: logger,
		}
	}

	queue := sync.NewQueue(store, chains, stages, notifier, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		queue.Start(gctx)
		return nil
	})

	g.Go(func() error {
		return syncLoop(gctx, engine, holder, logger)
	})

	g.Go(func() error {
		// Hot reload is a convenience; a watcher failure must not take
		// the daemon down.
		if err := config.Watch(gctx, holder, logger); err != nil {
			logger.Warn("config watcher unavailable", slog.Any("error", err))
		}

		return nil
	})

	if resolvedCfg.Server.Enabled {
		server := api.NewServer(resolvedCfg.Server.ListenAddr, queue, logger)

		g.Go(func() error {
			return server.Start(gctx)
		})
	}

	if resolvedCfg.Shadow.ParityEnabled {
		validator := sync.NewParityValidator(store, logger)

		g.Go(func() error {
			return parityLoop(gctx, validator, holder, logger)
		})
	}

	logger.Info("daemon started",
		slog.String("database", resolvedCfg.Sync.Database),
		slog.String("interval", resolvedCfg.Sync.Interval),
	)

	err = g.Wait()
	logger.Info("daemon stopped")

	return err
}

// syncLoop runs a cycle immediately, then on every interval tick. The
// interval is re-read from the holder each tick so config hot-reload takes
// effect without a restart.
func syncLoop(ctx context.Context, engine *sync.Engine, holder *config.Holder, logger *slog.Logger) error {
	runOnce := func() {
		report, err := engine.RunCycle(ctx)

		switch {
		case errors.Is(err, sync.ErrCycleInProgress):
			logger.Debug("cycle skipped, previous still running")
		case errors.Is(err, context.Canceled):
		case err != nil:
			logger.Error("sync cycle failed", slog.Any("error", err))
		default:
			logger.Info("sync cycle completed",
				slog.Int("fetched", report.Fetched),
				slog.Int("imported", report.Imported),
				slog.Int("updated", report.Updated),
				slog.Int("skipped", report.Skipped),
				slog.Duration("duration", report.Duration),
			)
		}
	}

	runOnce()

	timer := time.NewTimer(holder.Config().Sync.IntervalDuration())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			runOnce()
			timer.Reset(holder.Config().Sync.IntervalDuration())
		}
	}
}

// parityLoop periodically compares the legacy pipeline's snapshot against
// this pipeline's output over a trailing window. Discrepancies are logged;
// the cutover decision stays with the operator.
func parityLoop(ctx context.Context, validator *sync.ParityValidator, holder *config.Holder, logger *slog.Logger) error {
	ticker := time.NewTicker(holder.Config().Shadow.ParityIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			window := holder.Config().Shadow.ParityWindowDuration()
			to := time.Now()

			report, err := validator.ValidateParity(ctx, to.Add(-window), to)
			if err != nil {
				logger.Error("parity check failed", slog.Any("error", err))
				continue
			}

			if report.CutoverReady() {
				logger.Info("parity check passed",
					slog.Int("matched", report.MatchedCount),
				)

				continue
			}

			logger.Warn("parity check found discrepancies",
				slog.Int("matched", report.MatchedCount),
				slog.Int("discrepancies", len(report.Discrepancies)),
			)
		}
	}
}
