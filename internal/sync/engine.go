package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrCycleInProgress is returned by RunCycle when another execution holds
// the workflow's lock. It is a contention signal, not a failure: callers
// report "another run is in progress" and try again on the next tick.
var ErrCycleInProgress = errors.New("sync: cycle already in progress")

// EngineConfig holds the inputs for NewEngine.
type EngineConfig struct {
	Store   *Store
	Fetcher OrderFetcher // satisfied by *oms.Client
	Logger  *slog.Logger
}

// Engine runs the incremental sync cycle: lock, read watermark, fetch
// changed orders, classify and route each, apply all writes plus the
// watermark advance in one transaction, release the lock.
type Engine struct {
	store      *Store
	fetcher    OrderFetcher
	classifier *Classifier
	logger     *slog.Logger
}

// NewEngine creates an Engine over an already-open store.
func NewEngine(cfg *EngineConfig) *Engine {
	return &Engine{
		store:      cfg.Store,
		fetcher:    cfg.Fetcher,
		classifier: NewClassifier(cfg.Store, cfg.Logger),
		logger:     cfg.Logger,
	}
}

// RunCycle executes a single sync cycle for the orders workflow.
//
// The watermark advances to the maximum modified_at observed only when every
// record in the batch was processed without a fatal error. Per-record skips
// (unclassifiable or not-yet-visible orders) are compatible with the advance;
// a fetch or transaction failure is not — the watermark stays put and the
// next tick repeats the identical attempt.
func (e *Engine) RunCycle(ctx context.Context) (*SyncReport, error) {
	runID, ok, err := e.store.AcquireLock(ctx, WorkflowOrders)
	if err != nil {
		return nil, fmt.Errorf("sync: acquiring lock: %w", err)
	}

	if !ok {
		return nil, ErrCycleInProgress
	}

	// Release unconditionally so a failed cycle never leaves the lock held
	// past the staleness window.
	defer func() {
		if _, relErr := e.store.ReleaseLock(context.WithoutCancel(ctx), WorkflowOrders, runID); relErr != nil {
			e.logger.Error("releasing sync lock", "error", relErr)
		}
	}()

	return e.runLocked(ctx)
}

// runLocked performs the cycle body under an already-held lock.
func (e *Engine) runLocked(ctx context.Context) (*SyncReport, error) {
	start := time.Now()

	since, err := e.store.Watermark(ctx, WorkflowOrders)
	if err != nil {
		return nil, fmt.Errorf("sync: reading watermark: %w", err)
	}

	e.logger.Info("sync cycle starting", slog.Time("since", since))

	remote, err := e.fetcher.ListChangedSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("sync: fetching changed orders: %w", err)
	}

	report := &SyncReport{
		Fetched:     len(remote),
		SkipReasons: make(map[string]int),
		Watermark:   since,
	}

	var (
		staged []*LocalOrder
		maxMod time.Time
	)

	for i := range remote {
		o := &remote[i]

		if o.ModifiedAt.After(maxMod) {
			maxMod = o.ModifiedAt
		}

		cls, err := e.classifier.Classify(ctx, o)
		if err != nil {
			return nil, fmt.Errorf("sync: classifying %s: %w", o.OrderNumber, err)
		}

		row, err := e.classifier.Route(ctx, o, cls)
		if err != nil {
			return nil, fmt.Errorf("sync: routing %s: %w", o.OrderNumber, err)
		}

		switch cls.Route {
		case RouteImport:
			report.Imported++
			staged = append(staged, row)
		case RouteUpdate:
			report.Updated++
			staged = append(staged, row)
		case RouteSkip:
			report.Skipped++
			report.SkipReasons[cls.Reason]++
		}
	}

	// An empty fetch leaves the watermark untouched; there is nothing to
	// commit and nothing was observed past the current boundary.
	if len(remote) > 0 {
		if err := e.store.ApplyCycle(ctx, WorkflowOrders, staged, maxMod); err != nil {
			return nil, fmt.Errorf("sync: applying cycle: %w", err)
		}

		report.Watermark = maxMod
	}

	report.Duration = time.Since(start)

	e.logger.Info("sync cycle complete",
		slog.Int("fetched", report.Fetched),
		slog.Int("imported", report.Imported),
		slog.Int("updated", report.Updated),
		slog.Int("skipped", report.Skipped),
		slog.Duration("duration", report.Duration),
		slog.Time("watermark", report.Watermark),
	)

	return report, nil
}
