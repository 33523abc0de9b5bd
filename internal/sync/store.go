package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// walJournalSizeLimit caps the WAL journal at 64 MiB.
const walJournalSizeLimit = 67108864

// defaultLockTimeout is the staleness cutoff for execution locks. A lock
// older than this is presumed abandoned by a crashed holder and is
// force-releasable by the next acquirer.
const defaultLockTimeout = 30 * time.Minute

// StoreConfig holds the options for NewStore.
type StoreConfig struct {
	Path            string        // database path; use ":memory:" for tests
	BackfillHorizon time.Time     // earliest timestamp a first-run sync considers
	LockTimeout     time.Duration // zero means defaultLockTimeout
	Logger          *slog.Logger
}

// Store persists all orchestrator state (orders, watermarks, execution
// locks, jobs, checkpoints, legacy shadow snapshots) in an embedded SQLite
// database with WAL mode. It is the single authoritative data store: all
// coordination between the timer-driven sync loop and on-demand job workers
// goes through its rows, never through in-process state.
type Store struct {
	db          *sql.DB
	logger      *slog.Logger
	horizon     int64 // BackfillHorizon as Unix nanoseconds
	lockTimeout time.Duration

	// Prepared statements for repeated queries, grouped by domain.
	orderStmts      orderStatements
	watermarkStmts  watermarkStatements
	lockStmts       lockStatements
	jobStmts        jobStatements
	checkpointStmts checkpointStatements
	shadowStmts     shadowStatements
}

// Statement groups to avoid a flat list of 25+ fields.
type orderStatements struct {
	getByNumber, getByExternalID, upsert, listModifiedBetween *sql.Stmt
}

type watermarkStatements struct {
	get, advance, reset *sql.Stmt
}

type lockStatements struct {
	get, insert, deleteOwned, deleteAny *sql.Stmt
}

type jobStatements struct {
	insert, get, getActiveByType, claimNext, markRunning,
	progress, complete, fail, listRecent, purgeTerminal *sql.Stmt
}

type checkpointStatements struct {
	get, save, clear *sql.Stmt
}

type shadowStatements struct {
	listBetween *sql.Stmt
}

// NewStore opens the database at cfg.Path, applies migrations, and prepares
// all repeated statements.
func NewStore(cfg StoreConfig) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening state database", "path", cfg.Path)

	// DSN parameters ensure pragmas apply to every connection. _txlock
	// makes write transactions take the write lock up front, so a second
	// process contending for the same transaction waits on busy_timeout
	// instead of failing its snapshot upgrade.
	dsn := fmt.Sprintf(
		"file:%s?_txlock=immediate"+
			"&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"+
			"&_pragma=journal_size_limit(%d)",
		cfg.Path, walJournalSizeLimit,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Sole-writer: every connection in the pool would otherwise see its own
	// empty database when Path is ":memory:", and SQLite serializes writers
	// anyway.
	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}

	s := &Store{
		db:          db,
		logger:      logger,
		horizon:     cfg.BackfillHorizon.UnixNano(),
		lockTimeout: lockTimeout,
	}

	if err := s.prepareAllStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	logger.Info("state database ready", "path", cfg.Path)

	return s, nil
}

// --- SQL query constants ---
// Grouped by domain, matching the statement groups above.

// Order queries. The upsert is the idempotent persistence contract: conflict
// on the natural key overwrites only the sync-owned columns, so re-applying
// the same remote record converges instead of duplicating.
const (
	sqlOrderColumns = `order_number, external_id, status, customer,
		total_cents, currency, origin, placed_at, modified_at,
		created_at, updated_at`

	sqlGetOrderByNumber = `SELECT ` + sqlOrderColumns +
		` FROM orders WHERE order_number = ?`

	sqlGetOrderByExternalID = `SELECT ` + sqlOrderColumns +
		` FROM orders WHERE external_id = ?`

	sqlUpsertOrder = `INSERT INTO orders (` + sqlOrderColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_number) DO UPDATE SET
			external_id = excluded.external_id,
			status      = excluded.status,
			customer    = excluded.customer,
			total_cents = excluded.total_cents,
			currency    = excluded.currency,
			placed_at   = excluded.placed_at,
			modified_at = excluded.modified_at,
			updated_at  = excluded.updated_at`

	sqlListOrdersModifiedBetween = `SELECT ` + sqlOrderColumns +
		` FROM orders WHERE modified_at >= ? AND modified_at < ?
		ORDER BY order_number`
)

// Watermark queries.
const (
	sqlGetWatermark = `SELECT last_synced_at FROM watermarks WHERE workflow = ?`

	sqlAdvanceWatermark = `INSERT INTO watermarks
		(workflow, last_synced_at, backfill_horizon, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(workflow) DO UPDATE
		SET last_synced_at = excluded.last_synced_at,
		    updated_at = excluded.updated_at`

	sqlResetWatermark = `DELETE FROM watermarks WHERE workflow = ?`
)

// Execution lock queries.
const (
	sqlGetLock = `SELECT run_id, acquired_at FROM sync_locks WHERE workflow = ?`

	sqlInsertLock = `INSERT INTO sync_locks (workflow, run_id, acquired_at)
		VALUES (?, ?, ?)`

	sqlDeleteOwnedLock = `DELETE FROM sync_locks
		WHERE workflow = ? AND run_id = ?`

	sqlDeleteAnyLock = `DELETE FROM sync_locks WHERE workflow = ?`
)

// Job queries. The partial unique index jobs_one_active_per_type makes the
// insert fail when a queued or running job of the same type already exists.
const (
	sqlJobColumns = `id, job_type, status, stage, total_stages, stage_name,
		result, error, created_at, started_at, completed_at`

	sqlInsertJob = `INSERT INTO jobs
		(id, job_type, status, total_stages, created_at)
		VALUES (?, ?, 'queued', ?, ?)`

	sqlGetJob = `SELECT ` + sqlJobColumns + ` FROM jobs WHERE id = ?`

	sqlGetActiveJobByType = `SELECT ` + sqlJobColumns + ` FROM jobs
		WHERE job_type = ? AND status IN ('queued', 'running')`

	sqlClaimNextJob = `SELECT ` + sqlJobColumns + ` FROM jobs
		WHERE status = 'queued' ORDER BY created_at LIMIT 1`

	sqlMarkJobRunning = `UPDATE jobs
		SET status = 'running', started_at = ?
		WHERE id = ? AND status = 'queued'`

	sqlJobProgress = `UPDATE jobs
		SET stage = ?, stage_name = ?
		WHERE id = ? AND status = 'running'`

	sqlCompleteJob = `UPDATE jobs
		SET status = 'completed', result = ?, completed_at = ?
		WHERE id = ? AND status = 'running'`

	sqlFailJob = `UPDATE jobs
		SET status = 'failed', error = ?, completed_at = ?
		WHERE id = ? AND status IN ('queued', 'running')`

	sqlListRecentJobs = `SELECT ` + sqlJobColumns + ` FROM jobs
		ORDER BY created_at DESC LIMIT ?`

	sqlPurgeTerminalJobs = `DELETE FROM jobs
		WHERE status IN ('completed', 'failed') AND created_at < ?`
)

// Checkpoint queries.
const (
	sqlGetCheckpoint = `SELECT workflow, current_stage, job_id, updated_at
		FROM checkpoints WHERE workflow = ?`

	sqlSaveCheckpoint = `INSERT INTO checkpoints
		(workflow, current_stage, job_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(workflow) DO UPDATE
		SET current_stage = excluded.current_stage,
		    job_id = excluded.job_id,
		    updated_at = excluded.updated_at`

	sqlClearCheckpoint = `DELETE FROM checkpoints WHERE workflow = ?`
)

// Shadow snapshot queries (legacy path output, read-only here).
const (
	sqlListShadowBetween = `SELECT order_number, external_id, status,
		customer, total_cents, currency, modified_at
		FROM shadow_orders WHERE modified_at >= ? AND modified_at < ?
		ORDER BY order_number`
)

// stmtDef maps a SQL string to the prepared statement pointer it should
// populate. Used by the generic prepare helper to eliminate repetitive
// error handling.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

// prepareAll prepares a batch of statements, returning on first error.
func prepareAll(ctx context.Context, db *sql.DB, defs []stmtDef) error {
	for i := range defs {
		stmt, err := db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

// prepareAllStatements creates all prepared statements grouped by domain.
func (s *Store) prepareAllStatements(ctx context.Context) error {
	if err := s.prepareOrderStmts(ctx); err != nil {
		return err
	}

	if err := s.prepareWatermarkStmts(ctx); err != nil {
		return err
	}

	if err := s.prepareLockStmts(ctx); err != nil {
		return err
	}

	if err := s.prepareJobStmts(ctx); err != nil {
		return err
	}

	if err := s.prepareCheckpointStmts(ctx); err != nil {
		return err
	}

	return s.prepareShadowStmts(ctx)
}

func (s *Store) prepareOrderStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.orderStmts.getByNumber, sqlGetOrderByNumber, "getOrderByNumber"},
		{&s.orderStmts.getByExternalID, sqlGetOrderByExternalID, "getOrderByExternalID"},
		{&s.orderStmts.upsert, sqlUpsertOrder, "upsertOrder"},
		{&s.orderStmts.listModifiedBetween, sqlListOrdersModifiedBetween, "listOrdersModifiedBetween"},
	})
}

func (s *Store) prepareWatermarkStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.watermarkStmts.get, sqlGetWatermark, "getWatermark"},
		{&s.watermarkStmts.advance, sqlAdvanceWatermark, "advanceWatermark"},
		{&s.watermarkStmts.reset, sqlResetWatermark, "resetWatermark"},
	})
}

func (s *Store) prepareLockStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.lockStmts.get, sqlGetLock, "getLock"},
		{&s.lockStmts.insert, sqlInsertLock, "insertLock"},
		{&s.lockStmts.deleteOwned, sqlDeleteOwnedLock, "deleteOwnedLock"},
		{&s.lockStmts.deleteAny, sqlDeleteAnyLock, "deleteAnyLock"},
	})
}

func (s *Store) prepareJobStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.jobStmts.insert, sqlInsertJob, "insertJob"},
		{&s.jobStmts.get, sqlGetJob, "getJob"},
		{&s.jobStmts.getActiveByType, sqlGetActiveJobByType, "getActiveJobByType"},
		{&s.jobStmts.claimNext, sqlClaimNextJob, "claimNextJob"},
		{&s.jobStmts.markRunning, sqlMarkJobRunning, "markJobRunning"},
		{&s.jobStmts.progress, sqlJobProgress, "jobProgress"},
		{&s.jobStmts.complete, sqlCompleteJob, "completeJob"},
		{&s.jobStmts.fail, sqlFailJob, "failJob"},
		{&s.jobStmts.listRecent, sqlListRecentJobs, "listRecentJobs"},
		{&s.jobStmts.purgeTerminal, sqlPurgeTerminalJobs, "purgeTerminalJobs"},
	})
}

func (s *Store) prepareCheckpointStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.checkpointStmts.get, sqlGetCheckpoint, "getCheckpoint"},
		{&s.checkpointStmts.save, sqlSaveCheckpoint, "saveCheckpoint"},
		{&s.checkpointStmts.clear, sqlClearCheckpoint, "clearCheckpoint"},
	})
}

func (s *Store) prepareShadowStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.shadowStmts.listBetween, sqlListShadowBetween, "listShadowBetween"},
	})
}

// --- Order scanning helpers ---

// scanOrder scans a full order row into a LocalOrder struct.
// Used by all order-returning queries to avoid duplicated column scanning.
func scanOrder(row interface{ Scan(...any) error }) (*LocalOrder, error) {
	o := &LocalOrder{}

	var origin string

	err := row.Scan(
		&o.OrderNumber, &o.ExternalID, &o.Status, &o.Customer,
		&o.TotalCents, &o.Currency, &origin, &o.PlacedAt, &o.ModifiedAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Origin = OrderOrigin(origin)

	return o, nil
}

// scanOrderRows iterates over sql.Rows and collects LocalOrders.
func scanOrderRows(rows *sql.Rows) ([]*LocalOrder, error) {
	var orders []*LocalOrder

	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}

		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, nil
}

// upsertOrderArgs returns the argument slice for the upsert prepared statement.
func upsertOrderArgs(o *LocalOrder) []any {
	return []any{
		o.OrderNumber, o.ExternalID, o.Status, o.Customer,
		o.TotalCents, o.Currency, string(o.Origin), o.PlacedAt, o.ModifiedAt,
		o.CreatedAt, o.UpdatedAt,
	}
}

// --- Order methods ---

// GetOrderByNumber retrieves a single order by its business order number.
// Returns (nil, nil) if no order exists — callers (classifier) use the nil
// order to distinguish "new record" from "existing record".
func (s *Store) GetOrderByNumber(ctx context.Context, orderNumber string) (*LocalOrder, error) {
	s.logger.Debug("getting order", "order_number", orderNumber)

	o, err := scanOrder(s.orderStmts.getByNumber.QueryRowContext(ctx, orderNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderNumber, err)
	}

	return o, nil
}

// GetOrderByExternalID retrieves a single order by its external reference.
// Returns (nil, nil) if no order carries the reference.
func (s *Store) GetOrderByExternalID(ctx context.Context, externalID string) (*LocalOrder, error) {
	s.logger.Debug("getting order by external id", "external_id", externalID)

	o, err := scanOrder(s.orderStmts.getByExternalID.QueryRowContext(ctx, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("get order by external id %s: %w", externalID, err)
	}

	return o, nil
}

// UpsertOrder inserts or merges a single order outside a cycle transaction.
// Cycle writes go through ApplyCycle instead, so the watermark advance and
// the batch share one transaction.
func (s *Store) UpsertOrder(ctx context.Context, o *LocalOrder) error {
	s.logger.Debug("upserting order",
		"order_number", o.OrderNumber, "status", o.Status)

	if _, err := s.orderStmts.upsert.ExecContext(ctx, upsertOrderArgs(o)...); err != nil {
		return fmt.Errorf("upsert order %s: %w", o.OrderNumber, err)
	}

	return nil
}

// ListOrdersModifiedBetween returns orders whose remote modification time
// falls in [from, to). Used by the parity validator and rollup stages.
func (s *Store) ListOrdersModifiedBetween(ctx context.Context, from, to time.Time) ([]*LocalOrder, error) {
	s.logger.Debug("listing orders by window",
		"from", from, "to", to)

	rows, err := s.orderStmts.listModifiedBetween.QueryContext(ctx, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("list orders modified between: %w", err)
	}
	defer rows.Close()

	return scanOrderRows(rows)
}

// ApplyCycle applies one sync cycle's order upserts and the watermark advance
// in a single transaction. The watermark write is the final statement, so a
// mid-batch failure commits neither partial writes nor the advance.
func (s *Store) ApplyCycle(ctx context.Context, workflow string, orders []*LocalOrder, watermark time.Time) error {
	s.logger.Debug("applying cycle",
		"workflow", workflow, "orders", len(orders), "watermark", watermark)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cycle tx: %w", err)
	}

	stmt := tx.StmtContext(ctx, s.orderStmts.upsert)

	for i := range orders {
		if _, execErr := stmt.ExecContext(ctx, upsertOrderArgs(orders[i])...); execErr != nil {
			rollbackErr := tx.Rollback()
			return fmt.Errorf("cycle upsert %d (%s): %w (rollback: %v)",
				i, orders[i].OrderNumber, execErr, rollbackErr)
		}
	}

	if err := s.advanceWatermarkTx(ctx, tx, workflow, watermark); err != nil {
		rollbackErr := tx.Rollback()
		return fmt.Errorf("cycle watermark advance: %w (rollback: %v)", err, rollbackErr)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cycle: %w", err)
	}

	s.logger.Debug("cycle applied", "orders", len(orders))

	return nil
}

// --- Shadow snapshot methods ---

// ShadowOrder is one row of the legacy path's recorded output.
type ShadowOrder struct {
	OrderNumber string
	ExternalID  *string
	Status      string
	Customer    string
	TotalCents  int64
	Currency    string
	ModifiedAt  int64
}

// ListShadowOrdersBetween returns the legacy path's snapshot rows whose
// modification time falls in [from, to).
func (s *Store) ListShadowOrdersBetween(ctx context.Context, from, to time.Time) ([]*ShadowOrder, error) {
	s.logger.Debug("listing shadow orders by window", "from", from, "to", to)

	rows, err := s.shadowStmts.listBetween.QueryContext(ctx, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("list shadow orders: %w", err)
	}
	defer rows.Close()

	var records []*ShadowOrder

	for rows.Next() {
		r := &ShadowOrder{}

		err := rows.Scan(
			&r.OrderNumber, &r.ExternalID, &r.Status, &r.Customer,
			&r.TotalCents, &r.Currency, &r.ModifiedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan shadow order row: %w", err)
		}

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shadow order rows: %w", err)
	}

	return records, nil
}

// --- Maintenance methods ---

// DB exposes the underlying handle for test seeding and serve-mode health
// checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes all prepared statements and the database connection.
func (s *Store) Close() error {
	s.logger.Info("closing state database")

	if err := s.closeStatements(); err != nil {
		s.logger.Error("error closing statements", "error", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	return nil
}

// closeStatements closes all prepared statements, collecting errors.
func (s *Store) closeStatements() error {
	stmts := []*sql.Stmt{
		s.orderStmts.getByNumber, s.orderStmts.getByExternalID,
		s.orderStmts.upsert, s.orderStmts.listModifiedBetween,
		s.watermarkStmts.get, s.watermarkStmts.advance, s.watermarkStmts.reset,
		s.lockStmts.get, s.lockStmts.insert,
		s.lockStmts.deleteOwned, s.lockStmts.deleteAny,
		s.jobStmts.insert, s.jobStmts.get, s.jobStmts.getActiveByType,
		s.jobStmts.claimNext, s.jobStmts.markRunning, s.jobStmts.progress,
		s.jobStmts.complete, s.jobStmts.fail, s.jobStmts.listRecent,
		s.jobStmts.purgeTerminal,
		s.checkpointStmts.get, s.checkpointStmts.save, s.checkpointStmts.clear,
		s.shadowStmts.listBetween,
	}

	var errs []string

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close statements: %s", strings.Join(errs, "; "))
	}

	return nil
}
