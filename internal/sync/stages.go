package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Defaults for stage behavior, overridable via StageSetConfig.
const (
	defaultDailyFreshness = 24 * time.Hour
	defaultJobRetention   = 30 * 24 * time.Hour
)

// StageSetConfig holds the options for NewStageSet.
type StageSetConfig struct {
	Store  *Store
	Engine *Engine
	Logger *slog.Logger

	// DailyFreshness is how old the orders watermark may be before the
	// rollup chains trigger a synchronous sync cycle first.
	DailyFreshness time.Duration

	// JobRetention is how long terminal jobs are kept before the daily
	// chain purges them.
	JobRetention time.Duration
}

// StageSet holds the fixed stage sequences for the three on-demand job
// types. Stages are designed to be idempotent — reads, upsert-backed sync
// cycles, and purges — so crash recovery can safely re-run a stage whose
// completion was not yet checkpointed.
type StageSet struct {
	store          *Store
	engine         *Engine
	logger         *slog.Logger
	dailyFreshness time.Duration
	jobRetention   time.Duration
}

// NewStageSet creates the production stage definitions.
func NewStageSet(cfg StageSetConfig) *StageSet {
	freshness := cfg.DailyFreshness
	if freshness <= 0 {
		freshness = defaultDailyFreshness
	}

	retention := cfg.JobRetention
	if retention <= 0 {
		retention = defaultJobRetention
	}

	return &StageSet{
		store:          cfg.Store,
		engine:         cfg.Engine,
		logger:         cfg.Logger,
		dailyFreshness: freshness,
		jobRetention:   retention,
	}
}

// Stages implements StageProvider.
func (ss *StageSet) Stages(jobType JobType) []Stage {
	switch jobType {
	case JobDaily:
		return []Stage{
			{Name: "sync-orders", Fn: ss.syncOrders},
			{Name: "reconcile-day", Fn: ss.reconcileWindow(24 * time.Hour)},
			{Name: "purge-old-jobs", Fn: ss.purgeOldJobs},
		}
	case JobWeekly:
		return []Stage{
			{Name: "ensure-daily-fresh", Fn: ss.ensureDailyFresh},
			{Name: "rollup-week", Fn: ss.reconcileWindow(7 * 24 * time.Hour)},
		}
	case JobMonthly:
		return []Stage{
			{Name: "ensure-daily-fresh", Fn: ss.ensureDailyFresh},
			{Name: "rollup-month", Fn: ss.reconcileWindow(31 * 24 * time.Hour)},
		}
	default:
		return nil
	}
}

// syncOrders runs one sync cycle. Contention with the timer-driven loop is
// benign: the cycle that is already running covers the same work.
func (ss *StageSet) syncOrders(ctx context.Context) (string, error) {
	report, err := ss.engine.RunCycle(ctx)
	if errors.Is(err, ErrCycleInProgress) {
		return "sync already in progress, skipped", nil
	}

	if err != nil {
		return "", err
	}

	return fmt.Sprintf("fetched %d, imported %d, updated %d, skipped %d",
		report.Fetched, report.Imported, report.Updated, report.Skipped), nil
}

// ensureDailyFresh checks the orders watermark and triggers a synchronous
// sync cycle when it is stale. The sub-invocation is recorded in the stage
// detail so the job result shows the dependency ran.
func (ss *StageSet) ensureDailyFresh(ctx context.Context) (string, error) {
	wm, err := ss.store.Watermark(ctx, WorkflowOrders)
	if err != nil {
		return "", err
	}

	age := time.Since(wm)
	if age <= ss.dailyFreshness {
		return fmt.Sprintf("orders watermark fresh (%s old)", age.Round(time.Second)), nil
	}

	ss.logger.Info("orders watermark stale, triggering sync",
		slog.Duration("age", age))

	report, err := ss.engine.RunCycle(ctx)
	if errors.Is(err, ErrCycleInProgress) {
		return "", fmt.Errorf("orders sync already running, retry this job once it finishes: %w", err)
	}

	if err != nil {
		return "", fmt.Errorf("refreshing stale orders sync: %w", err)
	}

	return fmt.Sprintf("ran dependency sync: fetched %d, imported %d, updated %d",
		report.Fetched, report.Imported, report.Updated), nil
}

// reconcileWindow returns a stage function that aggregates the orders
// modified in the trailing window. The aggregate is returned as the stage
// detail; report rendering belongs to the dashboard layer.
func (ss *StageSet) reconcileWindow(window time.Duration) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		to := time.Now()
		from := to.Add(-window)

		orders, err := ss.store.ListOrdersModifiedBetween(ctx, from, to)
		if err != nil {
			return "", err
		}

		var totalCents int64
		for _, o := range orders {
			totalCents += o.TotalCents
		}

		return fmt.Sprintf("window %s: %d orders, %d cents total",
			window, len(orders), totalCents), nil
	}
}

// purgeOldJobs removes terminal job rows past the retention period.
func (ss *StageSet) purgeOldJobs(ctx context.Context) (string, error) {
	deleted, err := ss.store.PurgeTerminalJobs(ctx, time.Now().Add(-ss.jobRetention))
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("purged %d terminal jobs", deleted), nil
}
