package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"tribevibe-cleanup/internal/models"
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InsertJobParams collects inputs for one queued deletion job.
type InsertJobParams struct {
	TribeID    string
	EventID    *string
	Bucket     string
	ObjectPath string
	CreatedBy  string
}

// InsertJobs bulk-inserts pending jobs in a single write. A zero-length
// input is a no-op returning zero.
func (s *Store) InsertJobs(ctx context.Context, params []InsertJobParams) (int, error) {
	if len(params) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(params))
	for _, p := range params {
		rows = append(rows, []any{
			uuid.New().String(), p.TribeID, p.EventID, p.Bucket, p.ObjectPath,
			models.StatusPending, 0, p.CreatedBy, now, now,
		})
	}
	n, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"deletion_jobs"},
		[]string{"id", "tribe_id", "event_id", "bucket", "object_path", "status", "attempts", "created_by", "created_at", "updated_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("insert deletion jobs: %w", err)
	}
	return int(n), nil
}

// PendingJobs returns up to limit pending jobs, oldest first.
func (s *Store) PendingJobs(ctx context.Context, limit int) ([]models.DeletionJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tribe_id, event_id, bucket, object_path, status, attempts, last_error, completed_at, created_by, created_at, updated_at
		FROM deletion_jobs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, models.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.DeletionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimJob conditionally transitions a pending job to in_progress and bumps
// its attempt counter. Returns false when another worker already claimed the
// row or it reached a terminal state.
func (s *Store) ClaimJob(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE deletion_jobs
		SET status = $2, attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, models.StatusInProgress, models.StatusPending)
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteJobs marks every job in ids completed with a completion timestamp.
func (s *Store) CompleteJobs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE deletion_jobs
		SET status = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = ANY($1)
	`, ids, models.StatusCompleted)
	if err != nil {
		return fmt.Errorf("complete jobs: %w", err)
	}
	return nil
}

// FailJobs marks every job in ids failed, recording the last error text.
func (s *Store) FailJobs(ctx context.Context, ids []string, lastError string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE deletion_jobs
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = ANY($1)
	`, ids, models.StatusFailed, lastError)
	if err != nil {
		return fmt.Errorf("fail jobs: %w", err)
	}
	return nil
}

// ReclaimStale flips in_progress jobs whose lease expired back to pending so
// a later run can pick them up. Attempts are not reset.
func (s *Store) ReclaimStale(ctx context.Context, lease time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-lease)
	tag, err := s.pool.Exec(ctx, `
		UPDATE deletion_jobs
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND updated_at < $3
	`, models.StatusPending, models.StatusInProgress, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PendingCount returns the queue depth.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM deletion_jobs WHERE status = $1
	`, models.StatusPending).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return n, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.DeletionJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tribe_id, event_id, bucket, object_path, status, attempts, last_error, completed_at, created_by, created_at, updated_at
		FROM deletion_jobs WHERE id = $1
	`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DeletionJob{}, models.ErrNotFound
	}
	return job, err
}

// GetTribe fetches a tribe row by id.
func (s *Store) GetTribe(ctx context.Context, id string) (models.Tribe, error) {
	var t models.Tribe
	var cover pgtype.Text
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, name, cover_url, is_deleted FROM tribes WHERE id = $1
	`, id).Scan(&t.ID, &t.OwnerID, &t.Name, &cover, &t.IsDeleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Tribe{}, models.ErrNotFound
	}
	if err != nil {
		return models.Tribe{}, fmt.Errorf("query tribe: %w", err)
	}
	t.CoverURL = textPtr(cover)
	return t, nil
}

// ListTribeEvents returns all events owned by a tribe.
func (s *Store) ListTribeEvents(ctx context.Context, tribeID string) ([]models.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tribe_id, banner_url, is_cancelled FROM events WHERE tribe_id = $1
	`, tribeID)
	if err != nil {
		return nil, fmt.Errorf("query tribe events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		var banner pgtype.Text
		if err := rows.Scan(&e.ID, &e.TribeID, &banner, &e.IsCancelled); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.BannerURL = textPtr(banner)
		events = append(events, e)
	}
	return events, rows.Err()
}

// SoftDeleteTribe flags the tribe deleted. The row itself stays.
func (s *Store) SoftDeleteTribe(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tribes SET is_deleted = TRUE WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("soft delete tribe: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CancelTribeEvents soft-cancels every active event of a tribe and returns
// how many were flipped.
func (s *Store) CancelTribeEvents(ctx context.Context, tribeID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE events SET is_cancelled = TRUE WHERE tribe_id = $1 AND NOT is_cancelled
	`, tribeID)
	if err != nil {
		return 0, fmt.Errorf("cancel tribe events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (models.DeletionJob, error) {
	var job models.DeletionJob
	var eventID, lastErr pgtype.Text
	var completedAt pgtype.Timestamptz

	if err := row.Scan(&job.ID, &job.TribeID, &eventID, &job.Bucket, &job.ObjectPath,
		&job.Status, &job.Attempts, &lastErr, &completedAt, &job.CreatedBy,
		&job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DeletionJob{}, err
		}
		return models.DeletionJob{}, fmt.Errorf("scan job: %w", err)
	}

	job.EventID = textPtr(eventID)
	job.LastError = textPtr(lastErr)
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return job, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
