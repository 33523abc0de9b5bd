// Package sync implements the incremental synchronization orchestrator for
// ordersync. It provides the durable state store (watermarks, locks, jobs,
// checkpoints), record classification and routing, the sync engine, the
// on-demand job queue, the checkpointed workflow chain engine, and the
// shadow-mode parity validator.
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/merchantry/ordersync/internal/oms"
)

// Workflow names for the fixed set of orchestrated workflows. The sync cycle
// and the job chains coordinate through lock and checkpoint rows keyed by
// these names.
const (
	WorkflowOrders  = "orders"
	WorkflowDaily   = "daily_reconciliation"
	WorkflowWeekly  = "weekly_rollup"
	WorkflowMonthly = "monthly_rollup"
)

// Integrity sentinel errors. These indicate a programming defect in the
// caller, not an expected runtime condition, and halt the current execution.
var (
	// ErrWatermarkRegression is returned when a caller attempts to move a
	// watermark backwards in time.
	ErrWatermarkRegression = errors.New("sync: watermark regression")

	// ErrCheckpointSkew is returned when a chain run observes a persisted
	// stage index beyond the length of the stage list it was given.
	ErrCheckpointSkew = errors.New("sync: checkpoint beyond stage list")
)

// ErrJobNotFound is returned by Poll for an unknown job ID.
var ErrJobNotFound = errors.New("sync: job not found")

// OrderOrigin identifies which system created an order.
type OrderOrigin string

// Origin values as stored in the orders origin column.
const (
	OriginRemote OrderOrigin = "remote" // created in the order-management service
	OriginLocal  OrderOrigin = "local"  // created at the point of sale
)

// Order number prefixes distinguish record classes. Remote-origin orders are
// numbered by the order-management service; local-origin orders are numbered
// by the point of sale and only ever receive status updates from a sync.
const (
	remotePrefix = "WEB-"
	localPrefix  = "POS-"
)

// LocalOrder is the durable representation of an order, keyed by its
// business order number. ExternalID is nullable: locally created orders
// have none until the remote service first reports them.
type LocalOrder struct {
	OrderNumber string
	ExternalID  *string
	Status      string
	Customer    string
	TotalCents  int64
	Currency    string
	Origin      OrderOrigin
	PlacedAt    int64 // Unix nanoseconds
	ModifiedAt  int64 // remote modified_at as Unix nanoseconds

	// Row metadata
	CreatedAt int64
	UpdatedAt int64
}

// Route is the tagged classification result for a fetched remote order.
type Route int

// Classification routes. The router switch is exhaustive over these.
const (
	RouteImport Route = iota // new record, insert path
	RouteUpdate              // existing record, merge path
	RouteSkip                // logged and skipped, never aborts the batch
)

func (r Route) String() string {
	switch r {
	case RouteImport:
		return "import"
	case RouteUpdate:
		return "update"
	case RouteSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Classification pairs a route with the skip reason (empty for import and
// update routes).
type Classification struct {
	Route  Route
	Reason string
}

// SyncReport summarizes the result of a single sync cycle.
type SyncReport struct {
	Fetched     int
	Imported    int
	Updated     int
	Skipped     int
	SkipReasons map[string]int
	Watermark   time.Time // watermark after the cycle
	Duration    time.Duration
}

// JobType enumerates the on-demand workflow triggers.
type JobType string

// The fixed set of job types exposed on the trigger surface.
const (
	JobDaily   JobType = "daily_reconciliation"
	JobWeekly  JobType = "weekly_rollup"
	JobMonthly JobType = "monthly_rollup"
)

// KnownJobType reports whether t names one of the fixed job types.
func KnownJobType(t JobType) bool {
	switch t {
	case JobDaily, JobWeekly, JobMonthly:
		return true
	default:
		return false
	}
}

// Workflow returns the workflow name a job type coordinates under.
func (t JobType) Workflow() string {
	return string(t)
}

// JobStatus is the lifecycle state of a job row. Transitions are append-only:
// queued -> running -> completed|failed. A terminal job is never resurrected.
type JobStatus string

// Job statuses as stored in the jobs status column.
const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is one on-demand workflow trigger and its progress.
type Job struct {
	ID          string
	Type        JobType
	Status      JobStatus
	Stage       int    // stages completed so far
	TotalStages int    // total stages in the chain
	StageName   string // stage currently running or last completed
	Result      string // JSON summary, set on completion
	Error       string // failure message, set on failure
	CreatedAt   int64  // Unix nanoseconds
	StartedAt   *int64
	CompletedAt *int64
}

// EnqueueResult is the outcome of an enqueue request. Accepted=false carries
// the existing in-progress job — a conflict, not an error.
type EnqueueResult struct {
	Accepted bool
	JobID    string
	Status   JobStatus
}

// Checkpoint records progress through a workflow chain. CurrentStage is the
// index of the next stage to run; the row is deleted on full completion.
type Checkpoint struct {
	Workflow     string
	CurrentStage int
	JobID        string
	UpdatedAt    int64
}

// Stage is one step of a workflow chain. Fn returns a human-readable detail
// string recorded in the chain report. Stages must be idempotent: a crash
// between completion and checkpointing re-runs the stage on retry.
type Stage struct {
	Name string
	Fn   func(ctx context.Context) (string, error)
}

// StageResult records the outcome of one executed stage.
type StageResult struct {
	Name   string
	Detail string
}

// ChainReport summarizes a chain run: which stages were skipped because a
// checkpoint covered them, and which ran in this invocation.
type ChainReport struct {
	Workflow string
	Resumed  int // stages skipped due to an existing checkpoint
	Ran      []StageResult
}

// OrderFetcher is the slice of the OMS client the engine consumes.
// Satisfied by *oms.Client; tests inject fakes.
type OrderFetcher interface {
	ListChangedSince(ctx context.Context, since time.Time) ([]oms.Order, error)
}

// NowNano returns the current time as Unix nanoseconds, the timestamp
// representation used throughout the state database.
func NowNano() int64 {
	return time.Now().UnixNano()
}
