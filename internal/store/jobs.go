package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobCounts summarizes what one ingest run produced.
type JobCounts struct {
	Lines       int
	Decoded     int
	Messages    int
	ECUs        int
	Definitions int
}

type JobRow struct {
	ID          uuid.UUID  `json:"id"`
	VehicleID   string     `json:"vehicleId"`
	Status      JobStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	Lines       int        `json:"lines"`
	Decoded     int        `json:"decoded"`
	Messages    int        `json:"messages"`
	ECUs        int        `json:"ecus"`
	Definitions int        `json:"definitions"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// CreateJob records a new pending ingest job for a vehicle.
func (s *Store) CreateJob(ctx context.Context, vehicleID string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, vehicle_id, status)
		VALUES ($1, $2, $3)`,
		id, vehicleID, JobPending,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

// StartJob moves a job to running.
func (s *Store) StartJob(ctx context.Context, id uuid.UUID) error {
	return s.setJobStatus(ctx, id, JobRunning, "")
}

// CompleteJob moves a job to completed and records its counts.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID, counts JobCounts) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $1, lines = $2, decoded = $3, messages = $4, ecus = $5,
			definitions = $6, updated_at = now(), finished_at = now()
		WHERE id = $7`,
		JobCompleted, counts.Lines, counts.Decoded, counts.Messages, counts.ECUs,
		counts.Definitions, id,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob moves a job to failed with a reason.
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, reason string) error {
	return s.setJobStatus(ctx, id, JobFailed, reason)
}

func (s *Store) setJobStatus(ctx context.Context, id uuid.UUID, status JobStatus, reason string) error {
	query := `UPDATE jobs SET status = $1, error = $2, updated_at = now() WHERE id = $3`
	if status == JobFailed {
		query = `UPDATE jobs SET status = $1, error = $2, updated_at = now(), finished_at = now() WHERE id = $3`
	}
	tag, err := s.pool.Exec(ctx, query, status, reason, id)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob fetches a job by id, or nil when absent.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*JobRow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, vehicle_id, status, error, lines, decoded, messages, ecus, definitions,
			created_at, updated_at, finished_at
		FROM jobs WHERE id = $1`, id)

	var j JobRow
	err := row.Scan(&j.ID, &j.VehicleID, &j.Status, &j.Error, &j.Lines, &j.Decoded,
		&j.Messages, &j.ECUs, &j.Definitions, &j.CreatedAt, &j.UpdatedAt, &j.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// RecentJobs lists the newest jobs first, bounded by limit.
func (s *Store) RecentJobs(ctx context.Context, limit int) ([]JobRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, vehicle_id, status, error, lines, decoded, messages, ecus, definitions,
			created_at, updated_at, finished_at
		FROM jobs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []JobRow
	for rows.Next() {
		var j JobRow
		err := rows.Scan(&j.ID, &j.VehicleID, &j.Status, &j.Error, &j.Lines, &j.Decoded,
			&j.Messages, &j.ECUs, &j.Definitions, &j.CreatedAt, &j.UpdatedAt, &j.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read jobs: %w", err)
	}
	return jobs, nil
}
