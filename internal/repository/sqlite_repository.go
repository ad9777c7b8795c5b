package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"queuectl/internal/models"
	"queuectl/migrations"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"
)

var jobColumns = []string{"id", "command", "state", "attempts", "max_retries", "created_at", "updated_at"}

// SQLiteRepository implements JobRepository using SQLite
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens the database at dbPath and applies migrations.
// Transactions begin IMMEDIATE so a claim holds the write lock from its first
// read and concurrent claimers wait on the busy timeout instead of deadlocking.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// initSchema runs the embedded migrations
func (r *SQLiteRepository) initSchema() error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(r.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	// m is not closed: closing it would close r.db.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// CreateJob inserts a new pending job
func (r *SQLiteRepository) CreateJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, command, state, attempts, max_retries, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now()
	job.State = models.StatePending
	job.Attempts = 0
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.Command,
		job.State,
		job.Attempts,
		job.MaxRetries,
		job.CreatedAt.Unix(),
		job.UpdatedAt.Unix(),
	)
	if err != nil {
		if isConstraintError(err) {
			return &ErrDuplicateJobID{ID: job.ID}
		}
		return storeError("create job", err)
	}

	return nil
}

// GetJobByID retrieves a job by ID
func (r *SQLiteRepository) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	query, args, err := sq.Select(jobColumns...).
		From("jobs").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get job query: %w", err)
	}

	job, err := scanJob(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, storeError("get job", err)
	}
	return job, nil
}

// ListJobsByState retrieves all jobs currently in the given state
func (r *SQLiteRepository) ListJobsByState(ctx context.Context, state models.JobState) ([]*models.Job, error) {
	query, args, err := sq.Select(jobColumns...).
		From("jobs").
		Where(sq.Eq{"state": string(state)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list jobs query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("query jobs", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, storeError("scan job", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, storeError("iterate jobs", err)
	}

	return jobs, nil
}

// CountJobsByState returns the number of jobs per state, including empty states
func (r *SQLiteRepository) CountJobsByState(ctx context.Context) (map[models.JobState]int, error) {
	query, args, err := sq.Select("state", "COUNT(*)").
		From("jobs").
		GroupBy("state").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("count jobs", err)
	}
	defer rows.Close()

	counts := emptyCounts()
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, storeError("scan job count", err)
		}
		counts[models.JobState(state)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, storeError("iterate job counts", err)
	}

	return counts, nil
}

// ClaimNextPending picks any pending job and moves it to processing.
// The select and the update guarded by state = 'pending' run in one
// transaction; if the update touches no row the job went to someone else and
// the caller gets nothing rather than the stale row.
func (r *SQLiteRepository) ClaimNextPending(ctx context.Context) (*models.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		if isBusyError(err) {
			return nil, nil
		}
		return nil, storeError("begin transaction", err)
	}
	defer tx.Rollback()

	selectQuery := `
		SELECT id, command, state, attempts, max_retries, created_at, updated_at
		FROM jobs
		WHERE state = ?
		LIMIT 1
	`

	job, err := scanJob(tx.QueryRowContext(ctx, selectQuery, models.StatePending))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if isBusyError(err) {
			return nil, nil
		}
		return nil, storeError("find pending job", err)
	}

	updateQuery := `
		UPDATE jobs
		SET state = ?, updated_at = ?
		WHERE id = ? AND state = ?
	`

	now := time.Now()
	res, err := tx.ExecContext(ctx, updateQuery, models.StateProcessing, now.Unix(), job.ID, models.StatePending)
	if err != nil {
		if isBusyError(err) {
			return nil, nil
		}
		return nil, storeError("claim job", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, storeError("claim job", err)
	}
	if affected == 0 {
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		if isBusyError(err) {
			return nil, nil
		}
		return nil, storeError("commit claim", err)
	}

	job.State = models.StateProcessing
	job.UpdatedAt = now
	return job, nil
}

// PersistJob overwrites the stored state and attempts of an existing job
func (r *SQLiteRepository) PersistJob(ctx context.Context, job *models.Job) error {
	query := `
		UPDATE jobs
		SET state = ?, attempts = ?, updated_at = ?
		WHERE id = ?
	`

	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = time.Now()
	}

	res, err := r.db.ExecContext(ctx, query, job.State, job.Attempts, job.UpdatedAt.Unix(), job.ID)
	if err != nil {
		return storeError("persist job", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return storeError("persist job", err)
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// RequeueDeadJob moves a dead job back to pending with attempts reset
func (r *SQLiteRepository) RequeueDeadJob(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET state = ?, attempts = 0, updated_at = ?
		WHERE id = ? AND state = ?
	`

	res, err := r.db.ExecContext(ctx, query, models.StatePending, time.Now().Unix(), id, models.StateDead)
	if err != nil {
		return storeError("requeue job", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return storeError("requeue job", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotRequeueable, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var state string
	var createdAt, updatedAt int64

	err := row.Scan(
		&job.ID,
		&job.Command,
		&state,
		&job.Attempts,
		&job.MaxRetries,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.State = models.JobState(state)
	job.CreatedAt = time.Unix(createdAt, 0)
	job.UpdatedAt = time.Unix(updatedAt, 0)
	return &job, nil
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// isBusyError reports lock contention; for a claim it means another worker
// holds the write lock, which is a lost race rather than a store failure.
func isBusyError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
