package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AcquireLock attempts to take the execution lock for a workflow. It never
// blocks: the return is either (runID, true) on success or ("", false) when
// a live lock is already held — the expected "another run is in progress"
// signal, not an error.
//
// A stale lock (older than the configured timeout) is presumed abandoned by
// a crashed holder; it is force-deleted with a warning log and the
// acquisition proceeds.
func (s *Store) AcquireLock(ctx context.Context, workflow string) (string, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin lock tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var (
		holder     string
		acquiredAt int64
	)

	err = tx.StmtContext(ctx, s.lockStmts.get).QueryRowContext(ctx, workflow).Scan(&holder, &acquiredAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		// No holder — proceed to insert.
	case err != nil:
		return "", false, fmt.Errorf("read lock %s: %w", workflow, err)
	default:
		age := time.Duration(NowNano() - acquiredAt)
		if age <= s.lockTimeout {
			s.logger.Debug("lock already held",
				"workflow", workflow, "holder", holder, "age", age)
			return "", false, nil
		}

		// Stale holder — reclaim.
		s.logger.Warn("reclaiming stale lock",
			"workflow", workflow, "holder", holder, "age", age)

		if _, err := tx.StmtContext(ctx, s.lockStmts.deleteAny).ExecContext(ctx, workflow); err != nil {
			return "", false, fmt.Errorf("reclaim stale lock %s: %w", workflow, err)
		}
	}

	runID := uuid.New().String()

	if _, err := tx.StmtContext(ctx, s.lockStmts.insert).ExecContext(ctx, workflow, runID, NowNano()); err != nil {
		// Another process inserted between our read and our insert. The
		// primary key turns that race into a constraint failure, which is
		// the ordinary "already held" outcome, not an error.
		if isUniqueViolation(err) {
			s.logger.Debug("lock lost to concurrent acquirer", "workflow", workflow)
			return "", false, nil
		}

		return "", false, fmt.Errorf("insert lock %s: %w", workflow, err)
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit lock %s: %w", workflow, err)
	}

	s.logger.Debug("lock acquired", "workflow", workflow, "run_id", runID)

	return runID, true, nil
}

// ReleaseLock deletes the lock row only when runID still owns it. A mismatch
// is a no-op returning false — a process must never release a lock it does
// not hold, and a stale reclamation by another acquirer makes that a normal
// occurrence rather than an error.
func (s *Store) ReleaseLock(ctx context.Context, workflow, runID string) (bool, error) {
	result, err := s.lockStmts.deleteOwned.ExecContext(ctx, workflow, runID)
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", workflow, err)
	}

	affected, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return false, fmt.Errorf("release lock %s rows affected: %w", workflow, rowsErr)
	}

	if affected == 0 {
		s.logger.Warn("release skipped, lock not owned",
			"workflow", workflow, "run_id", runID)
		return false, nil
	}

	s.logger.Debug("lock released", "workflow", workflow, "run_id", runID)

	return true, nil
}

// LockHolder reports the current lock holder for a workflow, if any.
// Used by the status command.
func (s *Store) LockHolder(ctx context.Context, workflow string) (runID string, acquiredAt time.Time, held bool, err error) {
	var ns int64

	err = s.lockStmts.get.QueryRowContext(ctx, workflow).Scan(&runID, &ns)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, false, nil
	}

	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("read lock %s: %w", workflow, err)
	}

	return runID, time.Unix(0, ns), true, nil
}
