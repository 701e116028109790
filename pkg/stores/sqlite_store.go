package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/state"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	path   string
	config Config
	now    func() time.Time
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
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Path == ":memory:" {
		// Every connection to :memory: is a separate database.
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
	}

	return &SQLiteStore{
		path:   cfg.Path,
		config: cfg,
		now:    time.Now,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if s.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// modernc.org/sqlite applies _pragma parameters to every new connection
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxOpenConns)
	db.SetMaxIdleConns(s.config.MaxIdleConns)
	db.SetConnMaxLifetime(s.config.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
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
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordRun indexes run. Recording the same run again replaces its rows.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *state.RunState, statePath string) error {
	if run == nil {
		return fmt.Errorf("run is nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	summary := engine.Summarize(run.Actions)

	query := `
		INSERT INTO runs (
			id, timestamp, machine, username, command, dry_run,
			manifest_path, manifest_hash,
			install_count, skip_count, restore_count, verify_count, failed_count,
			state_path, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			timestamp = excluded.timestamp,
			machine = excluded.machine,
			username = excluded.username,
			command = excluded.command,
			dry_run = excluded.dry_run,
			manifest_path = excluded.manifest_path,
			manifest_hash = excluded.manifest_hash,
			install_count = excluded.install_count,
			skip_count = excluded.skip_count,
			restore_count = excluded.restore_count,
			verify_count = excluded.verify_count,
			failed_count = excluded.failed_count,
			state_path = excluded.state_path,
			recorded_at = excluded.recorded_at
	`

	_, err = tx.ExecContext(ctx, query,
		run.RunID,
		run.Timestamp.UTC(),
		run.Machine,
		run.User,
		run.Command,
		run.DryRun,
		run.Manifest.Path,
		run.Manifest.Hash,
		summary.Install,
		summary.Skip,
		summary.Restore,
		summary.Verify,
		run.FailedCount(),
		statePath,
		s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM action_results WHERE run_id = ?`, run.RunID); err != nil {
		return fmt.Errorf("failed to clear action results: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO action_results (run_id, position, type, action_id, ref, driver, status, reason, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare action insert: %w", err)
	}
	defer stmt.Close()

	for i, a := range run.Actions {
		_, err := stmt.ExecContext(ctx,
			run.RunID,
			i,
			string(a.Type),
			a.ID,
			a.Ref,
			a.Driver,
			string(a.Status),
			string(a.Reason),
			a.Message,
		)
		if err != nil {
			return fmt.Errorf("failed to record action %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	return nil
}

const runColumns = `
	id, timestamp, machine, username, command, dry_run,
	manifest_path, manifest_hash,
	install_count, skip_count, restore_count, verify_count, failed_count,
	state_path, recorded_at
`

func scanRun(row scanner) (*RunRecord, error) {
	run := &RunRecord{}
	err := row.Scan(
		&run.ID,
		&run.Timestamp,
		&run.Machine,
		&run.User,
		&run.Command,
		&run.DryRun,
		&run.ManifestPath,
		&run.ManifestHash,
		&run.Install,
		&run.Skip,
		&run.Restore,
		&run.Verify,
		&run.Failed,
		&run.StatePath,
		&run.RecordedAt,
	)
	return run, err
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs newest first with pagination
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `SELECT ` + runColumns + ` FROM runs ORDER BY id DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
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

// DeleteRun deletes a run and its action results
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return nil
}

// ListActionResults returns the actions of a run in plan order
func (s *SQLiteStore) ListActionResults(ctx context.Context, runID string) ([]*ActionResult, error) {
	query := `
		SELECT id, run_id, position, type, action_id, ref, driver, status, reason, message
		FROM action_results
		WHERE run_id = ?
		ORDER BY position ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list action results: %w", err)
	}
	defer rows.Close()

	results := []*ActionResult{}
	for rows.Next() {
		r := &ActionResult{}
		err := rows.Scan(
			&r.ID,
			&r.RunID,
			&r.Position,
			&r.Type,
			&r.ActionID,
			&r.Ref,
			&r.Driver,
			&r.Status,
			&r.Reason,
			&r.Message,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action result: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action results: %w", err)
	}

	return results, nil
}

// FailureCounts aggregates failed actions over every indexed run, most
// frequent first. The message is taken from the most recent failure.
func (s *SQLiteStore) FailureCounts(ctx context.Context, limit int) ([]state.FailedItem, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT a.type, a.action_id, COUNT(*) AS failures,
			(SELECT a2.message
			 FROM action_results a2
			 WHERE a2.type = a.type AND a2.action_id = a.action_id AND a2.status = 'fail'
			 ORDER BY a2.run_id DESC
			 LIMIT 1) AS last_message
		FROM action_results a
		WHERE a.status = 'fail'
		GROUP BY a.type, a.action_id
		ORDER BY failures DESC, a.type ASC, a.action_id ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to count failures: %w", err)
	}
	defer rows.Close()

	items := []state.FailedItem{}
	for rows.Next() {
		var (
			item    state.FailedItem
			message sql.NullString
		)
		if err := rows.Scan(&item.Type, &item.ID, &item.Count, &message); err != nil {
			return nil, fmt.Errorf("failed to scan failure count: %w", err)
		}
		item.LastMessage = message.String
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failure counts: %w", err)
	}

	return items, nil
}

// CreateAuditEntry creates a new audit log entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit (action, actor, run_id, target, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.RunID,
		entry.Target,
		entry.Details,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	// Get the auto-generated ID
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries with an optional action filter
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, action, actor, run_id, target, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.RunID,
			&entry.Target,
			&entry.Details,
			&entry.Timestamp,
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

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
