package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Watermark returns the persisted watermark for a workflow, or the configured
// backfill horizon when no row exists (first run or after a reset).
func (s *Store) Watermark(ctx context.Context, workflow string) (time.Time, error) {
	s.logger.Debug("getting watermark", "workflow", workflow)

	var ns int64

	err := s.watermarkStmts.get.QueryRowContext(ctx, workflow).Scan(&ns)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Unix(0, s.horizon), nil
	}

	if err != nil {
		return time.Time{}, fmt.Errorf("get watermark %s: %w", workflow, err)
	}

	return time.Unix(0, ns), nil
}

// AdvanceWatermark atomically moves the watermark for a workflow forward.
// Returns ErrWatermarkRegression when ts is earlier than the stored value;
// the stored value is left unchanged. Equal timestamps are accepted so an
// empty cycle can re-commit the same boundary.
//
// Mutual exclusion across a whole sync cycle is the Execution Lock's job,
// not this method's; only single-row atomicity is provided here.
func (s *Store) AdvanceWatermark(ctx context.Context, workflow string, ts time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin watermark tx: %w", err)
	}

	if err := s.advanceWatermarkTx(ctx, tx, workflow, ts); err != nil {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rollbackErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit watermark: %w", err)
	}

	return nil
}

// advanceWatermarkTx performs the regression check and the upsert inside the
// caller's transaction. The engine calls this as the final statement of a
// cycle transaction (via ApplyCycle).
func (s *Store) advanceWatermarkTx(ctx context.Context, tx *sql.Tx, workflow string, ts time.Time) error {
	var current int64

	err := tx.StmtContext(ctx, s.watermarkStmts.get).QueryRowContext(ctx, workflow).Scan(&current)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First write for this workflow.
	case err != nil:
		return fmt.Errorf("read watermark %s: %w", workflow, err)
	case ts.UnixNano() < current:
		return fmt.Errorf("%w: %s has %s, caller passed %s",
			ErrWatermarkRegression, workflow,
			time.Unix(0, current).UTC().Format(time.RFC3339Nano),
			ts.UTC().Format(time.RFC3339Nano))
	}

	_, err = tx.StmtContext(ctx, s.watermarkStmts.advance).ExecContext(ctx,
		workflow, ts.UnixNano(), s.horizon, NowNano())
	if err != nil {
		return fmt.Errorf("advance watermark %s: %w", workflow, err)
	}

	s.logger.Debug("watermark advanced",
		"workflow", workflow, "watermark", ts)

	return nil
}

// ResetWatermark deletes the watermark row so the next sync starts from the
// configured backfill horizon. Used by `sync --reset-watermark`.
func (s *Store) ResetWatermark(ctx context.Context, workflow string) error {
	s.logger.Info("resetting watermark", "workflow", workflow)

	if _, err := s.watermarkStmts.reset.ExecContext(ctx, workflow); err != nil {
		return fmt.Errorf("reset watermark %s: %w", workflow, err)
	}

	return nil
}
