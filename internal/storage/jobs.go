package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// JobRecord is one row of the job history. A job keeps a single row that is
// updated each time it pauses or finishes.
type JobRecord struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	ElapsedMs int64     `json:"elapsed_ms"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SaveJob inserts or updates the history row of a job.
func (p *PostgresClient) SaveJob(ctx context.Context, rec JobRecord) error {
	var errText *string
	if rec.Error != "" {
		errText = &rec.Error
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO job_history (id, title, status, elapsed_ms, done, total, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			elapsed_ms = EXCLUDED.elapsed_ms,
			done = EXCLUDED.done,
			total = EXCLUDED.total,
			error = EXCLUDED.error,
			updated_at = now()
	`, rec.ID, rec.Title, rec.Status, rec.ElapsedMs, rec.Done, rec.Total, errText)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", rec.ID, err)
	}
	return nil
}

// ListJobs returns the most recently updated jobs first.
func (p *PostgresClient) ListJobs(ctx context.Context, limit int) ([]JobRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, title, status, elapsed_ms, done, total, COALESCE(error, ''), created_at, updated_at
		FROM job_history
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (JobRecord, error) {
		var r JobRecord
		err := row.Scan(&r.ID, &r.Title, &r.Status, &r.ElapsedMs, &r.Done, &r.Total, &r.Error, &r.CreatedAt, &r.UpdatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan jobs: %w", err)
	}
	return records, nil
}
