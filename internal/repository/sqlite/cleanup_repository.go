package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"crosspost/internal/domain"
)

const cleanupColumns = `id, post_id, media, run_at, attempts, status, last_error, created_at, updated_at`

// CleanupRepository is a SQLite implementation of domain.CleanupRepository.
type CleanupRepository struct {
	db *sql.DB
}

// NewCleanupRepository creates a new CleanupRepository backed by SQLite.
func NewCleanupRepository(db *sql.DB) *CleanupRepository {
	return &CleanupRepository{db: db}
}

// Save inserts or updates a cleanup job.
func (r *CleanupRepository) Save(ctx context.Context, job *domain.CleanupJob) error {
	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = uuid.NewString()
		job.CreatedAt = now
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.Status == "" {
		job.Status = domain.CleanupStatusPending
	}
	job.UpdatedAt = now

	media, err := json.Marshal(job.Media)
	if err != nil {
		return fmt.Errorf("encode media: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO cleanup_jobs
		(`+cleanupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			post_id = excluded.post_id,
			media = excluded.media,
			run_at = excluded.run_at,
			attempts = excluded.attempts,
			status = excluded.status,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		job.ID, job.PostID, string(media), job.RunAt.UTC(), job.Attempts, string(job.Status),
		nullableString(job.LastError), job.CreatedAt.UTC(), job.UpdatedAt.UTC())
	return err
}

// GetByID returns a cleanup job, or nil if it does not exist.
func (r *CleanupRepository) GetByID(ctx context.Context, id string) (*domain.CleanupJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+cleanupColumns+` FROM cleanup_jobs WHERE id = ?`, id)
	return scanCleanupJob(row)
}

// ClaimDue moves due pending jobs to running inside one transaction and returns them.
func (r *CleanupRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*domain.CleanupJob, error) {
	if limit <= 0 {
		limit = 50
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, `SELECT `+cleanupColumns+` FROM cleanup_jobs
		WHERE status = ? AND run_at <= ? ORDER BY run_at ASC LIMIT ?`,
		string(domain.CleanupStatusPending), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}

	var jobs []*domain.CleanupJob
	for rows.Next() {
		job, err := scanCleanupJob(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	updatedAt := time.Now().UTC()
	for _, job := range jobs {
		if _, err := tx.ExecContext(ctx, `UPDATE cleanup_jobs SET status = ?, updated_at = ? WHERE id = ?`,
			string(domain.CleanupStatusRunning), updatedAt, job.ID); err != nil {
			return nil, fmt.Errorf("claim job %s: %w", job.ID, err)
		}
		job.Status = domain.CleanupStatusRunning
		job.UpdatedAt = updatedAt
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return jobs, nil
}

// MarkDone marks a job as done.
func (r *CleanupRepository) MarkDone(ctx context.Context, id string) error {
	return r.update(ctx, `UPDATE cleanup_jobs SET status = ?, last_error = NULL, updated_at = ? WHERE id = ?`,
		string(domain.CleanupStatusDone), time.Now().UTC(), id)
}

// Reschedule counts a failed attempt and puts the job back to pending at runAt.
func (r *CleanupRepository) Reschedule(ctx context.Context, id string, runAt time.Time, lastError string) error {
	return r.update(ctx, `UPDATE cleanup_jobs SET status = ?, run_at = ?, attempts = attempts + 1,
		last_error = ?, updated_at = ? WHERE id = ?`,
		string(domain.CleanupStatusPending), runAt.UTC(), nullableString(lastError), time.Now().UTC(), id)
}

// MarkFailed counts a failed attempt and gives up on the job.
func (r *CleanupRepository) MarkFailed(ctx context.Context, id string, lastError string) error {
	return r.update(ctx, `UPDATE cleanup_jobs SET status = ?, attempts = attempts + 1,
		last_error = ?, updated_at = ? WHERE id = ?`,
		string(domain.CleanupStatusFailed), nullableString(lastError), time.Now().UTC(), id)
}

func (r *CleanupRepository) update(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrCleanupJobNotFound
	}
	return nil
}

func scanCleanupJob(scanner interface {
	Scan(dest ...any) error
}) (*domain.CleanupJob, error) {
	var (
		media     string
		status    string
		lastError sql.NullString
		job       domain.CleanupJob
	)

	if err := scanner.Scan(
		&job.ID,
		&job.PostID,
		&media,
		&job.RunAt,
		&job.Attempts,
		&status,
		&lastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if err := json.Unmarshal([]byte(media), &job.Media); err != nil {
		return nil, fmt.Errorf("decode media: %w", err)
	}
	job.Status = domain.CleanupStatus(status)
	if lastError.Valid {
		job.LastError = lastError.String
	}
	return &job, nil
}
