package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"crosspost/internal/domain"
)

const postColumns = `id, user_id, content, thread, overrides, platforms, account_ids, media,
	publish_at, require_all, status, created_at, updated_at`

// PostRepository is a SQLite implementation of domain.PostRepository.
// Results of every attempt are kept in post_results, ordered by seq.
type PostRepository struct {
	db *sql.DB
}

// NewPostRepository creates a new PostRepository backed by SQLite.
func NewPostRepository(db *sql.DB) *PostRepository {
	return &PostRepository{db: db}
}

// GetByID returns a post with its results, or nil if it does not exist.
func (r *PostRepository) GetByID(ctx context.Context, id string) (*domain.Post, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	post, err := scanPost(row)
	if err != nil || post == nil {
		return post, err
	}

	results, err := r.results(ctx, id)
	if err != nil {
		return nil, err
	}
	post.Results = results
	return post, nil
}

func (r *PostRepository) results(ctx context.Context, postID string) ([]domain.PlatformResult, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT payload FROM post_results WHERE post_id = ? ORDER BY seq ASC`, postID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []domain.PlatformResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var result domain.PlatformResult
		if err := json.Unmarshal([]byte(payload), &result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// Save inserts or updates a post. Results are only written by CompleteAttempt.
func (r *PostRepository) Save(ctx context.Context, post *domain.Post) error {
	now := time.Now().UTC()
	if post.ID == "" {
		post.ID = uuid.NewString()
		post.CreatedAt = now
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now
	}
	if post.Status == "" {
		post.Status = domain.PostStatusPending
	}
	post.UpdatedAt = now

	platforms, err := json.Marshal(post.Platforms)
	if err != nil {
		return fmt.Errorf("encode platforms: %w", err)
	}
	thread, err := toJSON(post.Thread)
	if err != nil {
		return fmt.Errorf("encode thread: %w", err)
	}
	overrides, err := toJSON(post.Overrides)
	if err != nil {
		return fmt.Errorf("encode overrides: %w", err)
	}
	accountIDs, err := toJSON(post.AccountIDs)
	if err != nil {
		return fmt.Errorf("encode account ids: %w", err)
	}
	media, err := toJSON(post.Media)
	if err != nil {
		return fmt.Errorf("encode media: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO posts
		(`+postColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			content = excluded.content,
			thread = excluded.thread,
			overrides = excluded.overrides,
			platforms = excluded.platforms,
			account_ids = excluded.account_ids,
			media = excluded.media,
			publish_at = excluded.publish_at,
			require_all = excluded.require_all,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		post.ID, post.UserID, post.Content, thread, overrides, string(platforms), accountIDs, media,
		nullableTimePtr(post.PublishAt), boolToInt(post.RequireAllPlatforms), string(post.Status),
		post.CreatedAt.UTC(), post.UpdatedAt.UTC())
	return err
}

// TransitionStatus moves a post to the target status with a single conditional update,
// so two concurrent attempts cannot both leave the same status.
func (r *PostRepository) TransitionStatus(ctx context.Context, id string, from []domain.PostStatus, to domain.PostStatus) error {
	if len(from) == 0 {
		return domain.ErrPostNotPublishable
	}

	args := []any{string(to), time.Now().UTC(), id}
	placeholders := make([]string, len(from))
	for i, status := range from {
		placeholders[i] = "?"
		args = append(args, string(status))
	}

	res, err := r.db.ExecContext(ctx, `UPDATE posts SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return fmt.Errorf("transition post status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition post status: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM posts WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrPostNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrPostNotPublishable
}

// CompleteAttempt stores the final status and appends the results in one transaction.
func (r *PostRepository) CompleteAttempt(ctx context.Context, id string, status domain.PostStatus, results []domain.PlatformResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin attempt: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `UPDATE posts SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update post status: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update post status: %w", err)
	} else if n == 0 {
		return domain.ErrPostNotFound
	}

	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM post_results WHERE post_id = ?`, id).Scan(&seq); err != nil {
		return fmt.Errorf("read result sequence: %w", err)
	}

	for _, result := range results {
		seq++
		payload, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		attemptedAt := result.AttemptedAt
		if attemptedAt.IsZero() {
			attemptedAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO post_results
			(post_id, seq, platform, account_id, kind, external_id, payload, attempted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, seq, string(result.Platform), result.AccountID, result.Kind(),
			nullableString(result.ExternalID), string(payload), attemptedAt.UTC()); err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attempt: %w", err)
	}
	return nil
}

func scanPost(scanner interface {
	Scan(dest ...any) error
}) (*domain.Post, error) {
	var (
		thread     sql.NullString
		overrides  sql.NullString
		platforms  string
		accountIDs sql.NullString
		media      sql.NullString
		publishAt  sql.NullTime
		requireAll int
		status     string
		post       domain.Post
	)

	if err := scanner.Scan(
		&post.ID,
		&post.UserID,
		&post.Content,
		&thread,
		&overrides,
		&platforms,
		&accountIDs,
		&media,
		&publishAt,
		&requireAll,
		&status,
		&post.CreatedAt,
		&post.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if err := json.Unmarshal([]byte(platforms), &post.Platforms); err != nil {
		return nil, fmt.Errorf("decode platforms: %w", err)
	}
	if err := fromJSON(thread, &post.Thread); err != nil {
		return nil, fmt.Errorf("decode thread: %w", err)
	}
	if err := fromJSON(overrides, &post.Overrides); err != nil {
		return nil, fmt.Errorf("decode overrides: %w", err)
	}
	if err := fromJSON(accountIDs, &post.AccountIDs); err != nil {
		return nil, fmt.Errorf("decode account ids: %w", err)
	}
	if err := fromJSON(media, &post.Media); err != nil {
		return nil, fmt.Errorf("decode media: %w", err)
	}
	if publishAt.Valid {
		t := publishAt.Time
		post.PublishAt = &t
	}
	post.RequireAllPlatforms = requireAll == 1
	post.Status = domain.PostStatus(status)
	return &post, nil
}
