package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run states that close a run. Kept as literals so the store does not
// depend on the engine package that writes through it.
const (
	runStateSucceeded = "succeeded"
	runStateFailed    = "failed"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		cfg: cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	// Verify connection and set PRAGMAs
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (
			id, environment, template_path, parameters_path, resource_group,
			region, tier, state, failure_reason, error, max_attempts,
			started_at, completed_at, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Environment,
		run.TemplatePath,
		run.ParametersPath,
		run.ResourceGroup,
		run.Region,
		run.Tier,
		run.State,
		run.FailureReason,
		run.Error,
		run.MaxAttempts,
		run.StartedAt,
		run.CompletedAt,
		run.Metadata,
		run.CreatedAt,
		run.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, environment, template_path, parameters_path, resource_group,
			   region, tier, state, failure_reason, error, max_attempts,
			   started_at, completed_at, metadata, created_at, updated_at
		FROM runs
		WHERE id = ?
	`

	run := &Run{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Environment,
		&run.TemplatePath,
		&run.ParametersPath,
		&run.ResourceGroup,
		&run.Region,
		&run.Tier,
		&run.State,
		&run.FailureReason,
		&run.Error,
		&run.MaxAttempts,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Metadata,
		&run.CreatedAt,
		&run.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// UpdateRunState updates the state of a run. Terminal states also set
// the completion timestamp.
func (s *SQLiteStore) UpdateRunState(ctx context.Context, id string, state string, failureReason *string, errMsg *string) error {
	query := `
		UPDATE runs
		SET state = ?, failure_reason = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`

	now := time.Now()
	var completedAt *time.Time
	if state == runStateSucceeded || state == runStateFailed {
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, state, failureReason, errMsg, completedAt, now, id)
	if err != nil {
		return fmt.Errorf("failed to update run state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// UpdateRunTarget updates the region and tier a run is deploying to.
// Called when quota pressure forces re-resolution to a different region.
func (s *SQLiteStore) UpdateRunTarget(ctx context.Context, id string, region, tier string) error {
	query := `
		UPDATE runs
		SET region = ?, tier = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, region, tier, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update run target: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// ListRuns lists runs with optional filters and pagination
func (s *SQLiteStore) ListRuns(ctx context.Context, environment *string, state *string, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, environment, template_path, parameters_path, resource_group,
			   region, tier, state, failure_reason, error, max_attempts,
			   started_at, completed_at, metadata, created_at, updated_at
		FROM runs
		WHERE (? IS NULL OR environment = ?)
		  AND (? IS NULL OR state = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, environment, environment, state, state, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		err := rows.Scan(
			&run.ID,
			&run.Environment,
			&run.TemplatePath,
			&run.ParametersPath,
			&run.ResourceGroup,
			&run.Region,
			&run.Tier,
			&run.State,
			&run.FailureReason,
			&run.Error,
			&run.MaxAttempts,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Metadata,
			&run.CreatedAt,
			&run.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run by ID. Attempts, fixes, and audit rows cascade.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	query := `DELETE FROM runs WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// CreateAttempt creates a new attempt record
func (s *SQLiteStore) CreateAttempt(ctx context.Context, attempt *Attempt) error {
	query := `
		INSERT INTO attempts (
			id, run_id, seq, region, tier, status, error_kind, rule_id,
			diagnostic, backoff_ms, started_at, completed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		attempt.ID,
		attempt.RunID,
		attempt.Seq,
		attempt.Region,
		attempt.Tier,
		attempt.Status,
		attempt.ErrorKind,
		attempt.RuleID,
		attempt.Diagnostic,
		attempt.BackoffMs,
		attempt.StartedAt,
		attempt.CompletedAt,
		attempt.CreatedAt,
		attempt.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create attempt: %w", err)
	}

	return nil
}

// GetAttempt retrieves an attempt by ID
func (s *SQLiteStore) GetAttempt(ctx context.Context, id string) (*Attempt, error) {
	query := `
		SELECT id, run_id, seq, region, tier, status, error_kind, rule_id,
			   diagnostic, backoff_ms, started_at, completed_at, created_at, updated_at
		FROM attempts
		WHERE id = ?
	`

	attempt := &Attempt{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&attempt.ID,
		&attempt.RunID,
		&attempt.Seq,
		&attempt.Region,
		&attempt.Tier,
		&attempt.Status,
		&attempt.ErrorKind,
		&attempt.RuleID,
		&attempt.Diagnostic,
		&attempt.BackoffMs,
		&attempt.StartedAt,
		&attempt.CompletedAt,
		&attempt.CreatedAt,
		&attempt.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("attempt not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	return attempt, nil
}

// UpdateAttemptStatus closes out an attempt with its outcome and, for
// failures, the classification that was assigned to it.
func (s *SQLiteStore) UpdateAttemptStatus(ctx context.Context, id string, status AttemptStatus, errorKind, ruleID, diagnostic *string) error {
	query := `
		UPDATE attempts
		SET status = ?, error_kind = ?, rule_id = ?, diagnostic = ?,
			completed_at = CASE
				WHEN ? IN ('succeeded', 'failed', 'cancelled') THEN ?
				ELSE completed_at
			END,
			updated_at = ?
		WHERE id = ?
	`

	now := time.Now()
	result, err := s.db.ExecContext(ctx, query, status, errorKind, ruleID, diagnostic, status, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to update attempt status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("attempt not found: %s", id)
	}

	return nil
}

// SetAttemptBackoff records the delay scheduled after a failed attempt
func (s *SQLiteStore) SetAttemptBackoff(ctx context.Context, id string, backoff time.Duration) error {
	query := `UPDATE attempts SET backoff_ms = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, backoff.Milliseconds(), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set attempt backoff: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("attempt not found: %s", id)
	}

	return nil
}

// ListAttemptsByRun lists all attempts for a run in attempt order
func (s *SQLiteStore) ListAttemptsByRun(ctx context.Context, runID string) ([]*Attempt, error) {
	query := `
		SELECT id, run_id, seq, region, tier, status, error_kind, rule_id,
			   diagnostic, backoff_ms, started_at, completed_at, created_at, updated_at
		FROM attempts
		WHERE run_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	attempts := []*Attempt{}
	for rows.Next() {
		attempt := &Attempt{}
		err := rows.Scan(
			&attempt.ID,
			&attempt.RunID,
			&attempt.Seq,
			&attempt.Region,
			&attempt.Tier,
			&attempt.Status,
			&attempt.ErrorKind,
			&attempt.RuleID,
			&attempt.Diagnostic,
			&attempt.BackoffMs,
			&attempt.StartedAt,
			&attempt.CompletedAt,
			&attempt.CreatedAt,
			&attempt.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}

	return attempts, nil
}

// CreateFix records a remediation, whether applied or gated
func (s *SQLiteStore) CreateFix(ctx context.Context, fix *Fix) error {
	query := `
		INSERT INTO fixes (
			id, run_id, attempt_seq, rule_id, risk, path, line,
			before_snippet, after_snippet, verification, applied_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		fix.ID,
		fix.RunID,
		fix.AttemptSeq,
		fix.RuleID,
		fix.Risk,
		fix.Path,
		fix.Line,
		fix.Before,
		fix.After,
		fix.Verification,
		fix.AppliedAt,
		fix.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create fix: %w", err)
	}

	return nil
}

// ListFixesByRun lists all fixes recorded for a run in application order
func (s *SQLiteStore) ListFixesByRun(ctx context.Context, runID string) ([]*Fix, error) {
	query := `
		SELECT id, run_id, attempt_seq, rule_id, risk, path, line,
			   before_snippet, after_snippet, verification, applied_at, created_at
		FROM fixes
		WHERE run_id = ?
		ORDER BY attempt_seq ASC, applied_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fixes: %w", err)
	}
	defer rows.Close()

	fixes := []*Fix{}
	for rows.Next() {
		fix := &Fix{}
		err := rows.Scan(
			&fix.ID,
			&fix.RunID,
			&fix.AttemptSeq,
			&fix.RuleID,
			&fix.Risk,
			&fix.Path,
			&fix.Line,
			&fix.Before,
			&fix.After,
			&fix.Verification,
			&fix.AppliedAt,
			&fix.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fix: %w", err)
		}
		fixes = append(fixes, fix)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fixes: %w", err)
	}

	return fixes, nil
}

// AppendAuditEntry mirrors an audit chain link into the database
func (s *SQLiteStore) AppendAuditEntry(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit_entries (
			run_id, sequence, timestamp, actor, action, payload, prev_hash, hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.RunID,
		entry.Sequence,
		entry.Timestamp,
		entry.Actor,
		entry.Action,
		entry.Payload,
		entry.PrevHash,
		entry.Hash,
	)

	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}
	entry.ID = id

	return nil
}

// ListAuditEntriesByRun lists a run's audit entries in chain order
func (s *SQLiteStore) ListAuditEntriesByRun(ctx context.Context, runID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, run_id, sequence, timestamp, actor, action, payload, prev_hash, hash
		FROM audit_entries
		WHERE run_id = ?
		ORDER BY sequence ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

// ListAuditEntries lists audit entries with optional filters and pagination
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, runID *string, action *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, run_id, sequence, timestamp, actor, action, payload, prev_hash, hash
		FROM audit_entries
		WHERE (? IS NULL OR run_id = ?)
		  AND (? IS NULL OR action = ?)
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, runID, action, action, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

func scanAuditEntries(rows *sql.Rows) ([]*AuditEntry, error) {
	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.RunID,
			&entry.Sequence,
			&entry.Timestamp,
			&entry.Actor,
			&entry.Action,
			&entry.Payload,
			&entry.PrevHash,
			&entry.Hash,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// GetCapability returns cached tiers for a region/service pair and whether
// the entry is still fresh. Missing and expired entries report fresh=false
// with no error, which sends the discoverer back to the platform.
func (s *SQLiteStore) GetCapability(ctx context.Context, regionName, service string) ([]string, bool, error) {
	query := `
		SELECT tiers
		FROM capability_cache
		WHERE region = ? AND service = ?
		  AND (expires_at IS NULL OR datetime(expires_at) > datetime('now'))
	`

	var raw string
	err := s.db.QueryRowContext(ctx, query, regionName, service).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get capability: %w", err)
	}

	var tiers []string
	if err := json.Unmarshal([]byte(raw), &tiers); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached tiers: %w", err)
	}

	return tiers, true, nil
}

// PutCapability inserts or refreshes a cached discovery result
func (s *SQLiteStore) PutCapability(ctx context.Context, regionName, service string, tiers []string, ttl time.Duration) error {
	raw, err := json.Marshal(tiers)
	if err != nil {
		return fmt.Errorf("failed to encode tiers: %w", err)
	}

	query := `
		INSERT INTO capability_cache (
			id, region, service, tiers, ttl, expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(region, service) DO UPDATE SET
			tiers = excluded.tiers,
			ttl = excluded.ttl,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()

	// Format expires_at to SQLite-compatible datetime string
	var expiresAtStr *string
	if ttl > 0 {
		formatted := now.Add(ttl).Format("2006-01-02 15:04:05")
		expiresAtStr = &formatted
	}

	_, err = s.db.ExecContext(ctx, query,
		uuid.New().String(),
		regionName,
		service,
		string(raw),
		int(ttl.Seconds()),
		expiresAtStr,
		now.Format("2006-01-02 15:04:05"),
		now.Format("2006-01-02 15:04:05"),
	)

	if err != nil {
		return fmt.Errorf("failed to put capability: %w", err)
	}

	return nil
}

// ListCapabilities lists cached capability entries that are still fresh
func (s *SQLiteStore) ListCapabilities(ctx context.Context, limit, offset int) ([]*Capability, error) {
	query := `
		SELECT id, region, service, tiers, ttl, expires_at, created_at, updated_at
		FROM capability_cache
		WHERE (expires_at IS NULL OR datetime(expires_at) > datetime('now'))
		ORDER BY region ASC, service ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list capabilities: %w", err)
	}
	defer rows.Close()

	capabilities := []*Capability{}
	for rows.Next() {
		capability := &Capability{}
		err := rows.Scan(
			&capability.ID,
			&capability.Region,
			&capability.Service,
			&capability.Tiers,
			&capability.TTL,
			&capability.ExpiresAt,
			&capability.CreatedAt,
			&capability.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan capability: %w", err)
		}
		capabilities = append(capabilities, capability)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating capabilities: %w", err)
	}

	return capabilities, nil
}

// DeleteExpiredCapabilities deletes all expired capability cache entries
func (s *SQLiteStore) DeleteExpiredCapabilities(ctx context.Context) (int64, error) {
	query := `DELETE FROM capability_cache WHERE expires_at IS NOT NULL AND datetime(expires_at) <= datetime('now')`

	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired capabilities: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// HealthCheck verifies the database is accessible
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}
