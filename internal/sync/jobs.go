package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// jobPollInterval is the worker's fallback poll cadence for queued jobs.
// Enqueue also wakes the worker directly, so this only matters after a
// restart with jobs already queued.
const jobPollInterval = 2 * time.Second

// --- Job store methods ---

// scanJob scans a full job row into a Job struct.
func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	j := &Job{}

	var (
		jobType string
		status  string
	)

	err := row.Scan(
		&j.ID, &jobType, &status, &j.Stage, &j.TotalStages, &j.StageName,
		&j.Result, &j.Error, &j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Type = JobType(jobType)
	j.Status = JobStatus(status)

	return j, nil
}

// InsertJob creates a queued job row. The partial unique index over active
// statuses rejects the insert when a queued or running job of the same type
// exists; that case is reported as (nil, false, nil) after re-reading the
// existing row is left to the caller.
func (s *Store) InsertJob(ctx context.Context, jobType JobType, totalStages int) (*Job, bool, error) {
	id := uuid.New().String()
	now := NowNano()

	_, err := s.jobStmts.insert.ExecContext(ctx, id, string(jobType), totalStages, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("insert job %s: %w", jobType, err)
	}

	s.logger.Info("job enqueued", "job_id", id, "job_type", jobType)

	return &Job{
		ID:          id,
		Type:        jobType,
		Status:      JobQueued,
		TotalStages: totalStages,
		CreatedAt:   now,
	}, true, nil
}

// isUniqueViolation reports whether err is a SQLite uniqueness constraint
// failure. The modernc driver surfaces these as extended result codes in the
// error text; string matching is the portable check.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetJob retrieves a job by ID. Returns (nil, nil) when no row exists.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(s.jobStmts.get.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}

	return j, nil
}

// GetActiveJob retrieves the queued or running job of a type, if any.
// At most one exists by the uniqueness constraint.
func (s *Store) GetActiveJob(ctx context.Context, jobType JobType) (*Job, error) {
	j, err := scanJob(s.jobStmts.getActiveByType.QueryRowContext(ctx, string(jobType)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("get active job %s: %w", jobType, err)
	}

	return j, nil
}

// ClaimNextJob picks the oldest queued job and transitions it to running.
// Returns (nil, nil) when the queue is empty.
func (s *Store) ClaimNextJob(ctx context.Context) (*Job, error) {
	j, err := scanJob(s.jobStmts.claimNext.QueryRowContext(ctx))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}

	now := NowNano()

	result, err := s.jobStmts.markRunning.ExecContext(ctx, now, j.ID)
	if err != nil {
		return nil, fmt.Errorf("mark job running %s: %w", j.ID, err)
	}

	affected, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return nil, fmt.Errorf("mark job running %s rows affected: %w", j.ID, rowsErr)
	}

	// Another worker got there first. With a single worker this does not
	// happen, but the claim stays safe if one is ever added.
	if affected == 0 {
		return nil, nil
	}

	j.Status = JobRunning
	j.StartedAt = &now

	s.logger.Info("job claimed", "job_id", j.ID, "job_type", j.Type)

	return j, nil
}

// UpdateJobProgress records which stage is currently running.
func (s *Store) UpdateJobProgress(ctx context.Context, id string, stage int, stageName string) error {
	if _, err := s.jobStmts.progress.ExecContext(ctx, stage, stageName, id); err != nil {
		return fmt.Errorf("update job progress %s: %w", id, err)
	}

	return nil
}

// CompleteJob transitions a running job to completed with its result payload.
// Completing a job that is not running is an integrity error: the lifecycle
// is append-only and a terminal or never-claimed job must not be rewritten
// silently.
func (s *Store) CompleteJob(ctx context.Context, id, result string) error {
	res, err := s.jobStmts.complete.ExecContext(ctx, result, NowNano(), id)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}

	affected, rowsErr := res.RowsAffected()
	if rowsErr != nil {
		return fmt.Errorf("complete job %s rows affected: %w", id, rowsErr)
	}

	if affected == 0 {
		return fmt.Errorf("complete job %s: job is not running", id)
	}

	s.logger.Info("job completed", "job_id", id)

	return nil
}

// FailJob transitions a queued or running job to failed with the error
// captured in the row. Failing an already-terminal job is an integrity
// error, same as CompleteJob.
func (s *Store) FailJob(ctx context.Context, id, errMsg string) error {
	res, err := s.jobStmts.fail.ExecContext(ctx, errMsg, NowNano(), id)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}

	affected, rowsErr := res.RowsAffected()
	if rowsErr != nil {
		return fmt.Errorf("fail job %s rows affected: %w", id, rowsErr)
	}

	if affected == 0 {
		return fmt.Errorf("fail job %s: job is not active", id)
	}

	s.logger.Warn("job failed", "job_id", id, "error", errMsg)

	return nil
}

// ListRecentJobs returns the most recently created jobs, newest first.
func (s *Store) ListRecentJobs(ctx context.Context, limit int) ([]*Job, error) {
	rows, err := s.jobStmts.listRecent.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job

	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}

		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}

	return jobs, nil
}

// PurgeTerminalJobs removes completed and failed jobs older than the cutoff.
// Returns the number of rows deleted.
func (s *Store) PurgeTerminalJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.jobStmts.purgeTerminal.ExecContext(ctx, olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge terminal jobs: %w", err)
	}

	affected, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		return 0, fmt.Errorf("purge terminal jobs rows affected: %w", rowsErr)
	}

	if affected > 0 {
		s.logger.Info("purged terminal jobs", "deleted", affected)
	}

	return affected, nil
}

// --- Queue ---

// StageProvider supplies the fixed stage sequence for each job type.
// Implemented by *StageSet; tests inject short fake chains.
type StageProvider interface {
	Stages(jobType JobType) []Stage
}

// Queue accepts on-demand workflow triggers, enforces at most one active job
// per type, and executes jobs on a background worker. Callers never block on
// job completion; they poll.
type Queue struct {
	store    *Store
	chains   ChainRunner
	stages   StageProvider
	notifier Notifier
	logger   *slog.Logger

	// wake nudges the worker after an enqueue so queued jobs start without
	// waiting for the poll tick.
	wake chan struct{}
}

// ChainRunner is the slice of the chain engine the queue consumes.
// Satisfied by *ChainEngine.
type ChainRunner interface {
	RunChain(ctx context.Context, workflow, jobID string, stages []Stage) (*ChainReport, error)
}

// NewQueue creates a Queue. A nil notifier disables notifications.
func NewQueue(store *Store, chains ChainRunner, stages StageProvider, notifier Notifier, logger *slog.Logger) *Queue {
	if notifier == nil {
		notifier = NopNotifier{}
	}

	return &Queue{
		store:    store,
		chains:   chains,
		stages:   stages,
		notifier: notifier,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue requests a job of the given type. When a job of that type is
// already queued or running, the existing job is returned with
// Accepted=false — a conflict the caller reports, not an error.
func (q *Queue) Enqueue(ctx context.Context, jobType JobType) (EnqueueResult, error) {
	total := len(q.stages.Stages(jobType))

	job, inserted, err := q.store.InsertJob(ctx, jobType, total)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("sync: enqueue %s: %w", jobType, err)
	}

	if !inserted {
		existing, err := q.store.GetActiveJob(ctx, jobType)
		if err != nil {
			return EnqueueResult{}, fmt.Errorf("sync: enqueue %s: %w", jobType, err)
		}

		// The active job finished between our insert attempt and the
		// re-read. Rare; the caller just retries.
		if existing == nil {
			return EnqueueResult{}, fmt.Errorf("sync: enqueue %s: active job vanished, retry", jobType)
		}

		return EnqueueResult{Accepted: false, JobID: existing.ID, Status: existing.Status}, nil
	}

	// Nudge the worker. Non-blocking: a pending wake already covers us.
	select {
	case q.wake <- struct{}{}:
	default:
	}

	return EnqueueResult{Accepted: true, JobID: job.ID, Status: job.Status}, nil
}

// Poll returns the current state of a job. Returns ErrJobNotFound for an
// unknown ID.
func (q *Queue) Poll(ctx context.Context, jobID string) (*Job, error) {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("sync: poll %s: %w", jobID, err)
	}

	if job == nil {
		return nil, ErrJobNotFound
	}

	return job, nil
}

// Start runs the worker loop until ctx is canceled. Jobs execute one at a
// time; an error or panic inside a job fails that job and the loop
// continues.
func (q *Queue) Start(ctx context.Context) {
	q.logger.Info("job worker started")

	ticker := time.NewTicker(jobPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("job worker stopping")
			return
		case <-q.wake:
		case <-ticker.C:
		}

		q.drain(ctx)
	}
}

// drain claims and runs queued jobs until the queue is empty.
func (q *Queue) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := q.store.ClaimNextJob(ctx)
		if err != nil {
			q.logger.Error("claiming next job", "error", err)
			return
		}

		if job == nil {
			return
		}

		q.runJob(ctx, job)
	}
}

// runJob executes one claimed job under the workflow's execution lock and
// records the terminal transition. Never panics outward.
func (q *Queue) runJob(ctx context.Context, job *Job) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("job panicked",
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
			)
			q.finish(ctx, job, nil, fmt.Errorf("panic: %v", r))
		}
	}()

	workflow := job.Type.Workflow()

	runID, ok, err := q.store.AcquireLock(ctx, workflow)
	if err != nil {
		q.finish(ctx, job, nil, fmt.Errorf("acquiring lock: %w", err))
		return
	}

	if !ok {
		// Another execution of this workflow is live. Fail the job with a
		// retryable message rather than waiting; the operator re-triggers.
		q.finish(ctx, job, nil, fmt.Errorf("workflow %s is already running, try again later", workflow))
		return
	}

	defer func() {
		if _, relErr := q.store.ReleaseLock(context.WithoutCancel(ctx), workflow, runID); relErr != nil {
			q.logger.Error("releasing job lock", "workflow", workflow, "error", relErr)
		}
	}()

	stages := q.withProgress(job, q.stages.Stages(job.Type))

	report, err := q.chains.RunChain(ctx, workflow, job.ID, stages)

	q.finish(ctx, job, report, err)
}

// withProgress decorates each stage so the job row reflects the stage
// currently running before its function executes.
func (q *Queue) withProgress(job *Job, stages []Stage) []Stage {
	wrapped := make([]Stage, len(stages))

	for i, stage := range stages {
		wrapped[i] = Stage{
			Name: stage.Name,
			Fn: func(ctx context.Context) (string, error) {
				if err := q.store.UpdateJobProgress(ctx, job.ID, i, stage.Name); err != nil {
					q.logger.Warn("updating job progress", "job_id", job.ID, "error", err)
				}

				return stage.Fn(ctx)
			},
		}
	}

	return wrapped
}

// finish records the terminal job transition and emits the fire-and-forget
// notification event.
func (q *Queue) finish(ctx context.Context, job *Job, report *ChainReport, runErr error) {
	// Terminal writes must land even when the run failed on a canceled
	// context, otherwise the job stays "running" forever.
	ctx = context.WithoutCancel(ctx)

	event := Event{JobType: job.Type}

	if runErr != nil {
		event.Status = JobFailed
		event.Summary = runErr.Error()

		if err := q.store.FailJob(ctx, job.ID, runErr.Error()); err != nil {
			q.logger.Error("recording job failure", "job_id", job.ID, "error", err)
		}
	} else {
		payload, err := json.Marshal(report)
		if err != nil {
			payload = []byte(fmt.Sprintf(`{"error":"encoding report: %v"}`, err))
		}

		if err := q.store.UpdateJobProgress(ctx, job.ID, job.TotalStages, "done"); err != nil {
			q.logger.Warn("updating final progress", "job_id", job.ID, "error", err)
		}

		event.Status = JobCompleted
		event.Summary = string(payload)

		if err := q.store.CompleteJob(ctx, job.ID, string(payload)); err != nil {
			q.logger.Error("recording job completion", "job_id", job.ID, "error", err)
		}
	}

	q.notifier.Notify(ctx, event)
}
