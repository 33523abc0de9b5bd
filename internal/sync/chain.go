package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// --- Checkpoint store methods ---

// GetCheckpoint retrieves the checkpoint for a workflow.
// Returns (nil, nil) if no row exists — the chain starts from stage 0.
func (s *Store) GetCheckpoint(ctx context.Context, workflow string) (*Checkpoint, error) {
	cp := &Checkpoint{}

	err := s.checkpointStmts.get.QueryRowContext(ctx, workflow).Scan(
		&cp.Workflow, &cp.CurrentStage, &cp.JobID, &cp.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("get checkpoint %s: %w", workflow, err)
	}

	return cp, nil
}

// SaveCheckpoint persists the index of the next stage to run. This write is
// the resumability guarantee: a crash after stage k completes and before
// stage k+1 starts leaves current_stage = k+1, so the retry skips 0..k.
func (s *Store) SaveCheckpoint(ctx context.Context, workflow string, currentStage int, jobID string) error {
	_, err := s.checkpointStmts.save.ExecContext(ctx, workflow, currentStage, jobID, NowNano())
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", workflow, err)
	}

	s.logger.Debug("checkpoint saved",
		"workflow", workflow, "current_stage", currentStage, "job_id", jobID)

	return nil
}

// ClearCheckpoint deletes the checkpoint row on full chain completion,
// returning the workflow to its not-started state for the next run.
func (s *Store) ClearCheckpoint(ctx context.Context, workflow string) error {
	if _, err := s.checkpointStmts.clear.ExecContext(ctx, workflow); err != nil {
		return fmt.Errorf("clear checkpoint %s: %w", workflow, err)
	}

	s.logger.Debug("checkpoint cleared", "workflow", workflow)

	return nil
}

// --- Chain engine ---

// ChainEngine runs a fixed ordered stage sequence for a named workflow,
// checkpointing after every completed stage so a retry resumes from the
// first incomplete stage instead of redoing finished work.
type ChainEngine struct {
	store  *Store
	logger *slog.Logger
}

// NewChainEngine creates a ChainEngine over the given store.
func NewChainEngine(store *Store, logger *slog.Logger) *ChainEngine {
	return &ChainEngine{store: store, logger: logger}
}

// RunChain executes the stages of a workflow from its persisted checkpoint.
// On a stage failure, the checkpoint stays at the last completed stage and
// the error propagates to the caller's failure handling (the job queue). On
// full success the checkpoint is cleared.
//
// A checkpoint pointing past the stage list means the caller changed the
// chain definition under a live checkpoint — an integrity defect, reported
// as ErrCheckpointSkew and never silently tolerated.
func (ce *ChainEngine) RunChain(ctx context.Context, workflow, jobID string, stages []Stage) (*ChainReport, error) {
	cp, err := ce.store.GetCheckpoint(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("sync: reading checkpoint: %w", err)
	}

	startAt := 0
	if cp != nil {
		startAt = cp.CurrentStage
	}

	if startAt > len(stages) {
		return nil, fmt.Errorf("%w: %s checkpoint at %d, chain has %d stages",
			ErrCheckpointSkew, workflow, startAt, len(stages))
	}

	if startAt > 0 {
		ce.logger.Info("resuming chain from checkpoint",
			slog.String("workflow", workflow),
			slog.Int("completed_stages", startAt),
			slog.String("checkpoint_job_id", cp.JobID),
		)
	}

	report := &ChainReport{Workflow: workflow, Resumed: startAt}

	for i := startAt; i < len(stages); i++ {
		stage := stages[i]

		ce.logger.Info("running stage",
			slog.String("workflow", workflow),
			slog.String("stage", stage.Name),
			slog.Int("index", i),
			slog.Int("total", len(stages)),
		)

		detail, err := stage.Fn(ctx)
		if err != nil {
			return report, fmt.Errorf("sync: stage %s (%d/%d) of %s: %w",
				stage.Name, i+1, len(stages), workflow, err)
		}

		if err := ce.store.SaveCheckpoint(ctx, workflow, i+1, jobID); err != nil {
			return report, fmt.Errorf("sync: checkpointing after %s: %w", stage.Name, err)
		}

		report.Ran = append(report.Ran, StageResult{Name: stage.Name, Detail: detail})
	}

	if err := ce.store.ClearCheckpoint(ctx, workflow); err != nil {
		return report, fmt.Errorf("sync: clearing checkpoint: %w", err)
	}

	ce.logger.Info("chain complete",
		slog.String("workflow", workflow),
		slog.Int("resumed", report.Resumed),
		slog.Int("ran", len(report.Ran)),
	)

	return report, nil
}
