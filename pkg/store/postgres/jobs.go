package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TheSmartAz/zaoya/pkg/models"
	"github.com/TheSmartAz/zaoya/pkg/store"
)

const jobColumns = `id, project_id, page_id, job_type, status, attempts,
	max_attempts, next_run_at, last_error, image_url, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*models.ThumbnailJob, error) {
	j := &models.ThumbnailJob{}
	err := row.Scan(&j.ID, &j.ProjectID, &j.PageID, &j.Type, &j.Status,
		&j.Attempts, &j.MaxAttempts, &j.NextRunAt, &j.LastError, &j.ImageURL,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// EnqueueJob inserts a job after failing any queued or running job for the
// same (project, page, type), in one transaction.
func (p *Postgres) EnqueueJob(ctx context.Context, job *models.ThumbnailJob) error {
	run := func(q querier) error {
		_, err := q.ExecContext(ctx, `
			UPDATE thumbnail_jobs
			SET status = 'failed', last_error = 'superseded by new job', updated_at = now()
			WHERE project_id = $1 AND page_id = $2 AND job_type = $3
			  AND status IN ('queued', 'running')`,
			job.ProjectID, job.PageID, job.Type)
		if err != nil {
			return fmt.Errorf("superseding earlier jobs: %w", err)
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO thumbnail_jobs (id, project_id, page_id, job_type, status,
				attempts, max_attempts, next_run_at, last_error, image_url,
				created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			job.ID, job.ProjectID, job.PageID, job.Type, job.Status,
			job.Attempts, job.MaxAttempts, job.NextRunAt, job.LastError,
			job.ImageURL, job.CreatedAt, job.UpdatedAt)
		if err != nil {
			return fmt.Errorf("inserting thumbnail job %s: %w", job.ID, err)
		}
		return nil
	}

	if p.db == nil {
		return run(p.q)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := run(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ClaimDue claims the oldest due queued job of the given type. SKIP LOCKED
// keeps concurrent workers from blocking on or double-claiming the same row.
func (p *Postgres) ClaimDue(ctx context.Context, jobType models.ThumbnailType, now time.Time) (*models.ThumbnailJob, error) {
	row := p.q.QueryRowContext(ctx, `
		UPDATE thumbnail_jobs SET status = 'running', updated_at = now()
		WHERE id = (
			SELECT id FROM thumbnail_jobs
			WHERE job_type = $1 AND status = 'queued' AND next_run_at <= $2
			ORDER BY next_run_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns, jobType, now)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoJobsAvailable
		}
		return nil, fmt.Errorf("claiming thumbnail job: %w", err)
	}
	return job, nil
}

func (p *Postgres) UpdateJob(ctx context.Context, job *models.ThumbnailJob) error {
	res, err := p.q.ExecContext(ctx, `
		UPDATE thumbnail_jobs SET status = $2, attempts = $3, next_run_at = $4,
			last_error = $5, image_url = $6, updated_at = now()
		WHERE id = $1`,
		job.ID, job.Status, job.Attempts, job.NextRunAt, job.LastError, job.ImageURL)
	if err != nil {
		return fmt.Errorf("updating thumbnail job %s: %w", job.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFoundRows("thumbnail job", job.ID)
	}
	return nil
}

func (p *Postgres) GetJob(ctx context.Context, jobID string) (*models.ThumbnailJob, error) {
	row := p.q.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM thumbnail_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		return nil, notFound(err, "thumbnail job", jobID)
	}
	return job, nil
}

func (p *Postgres) ListJobs(ctx context.Context, projectID string) ([]*models.ThumbnailJob, error) {
	rows, err := p.q.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM thumbnail_jobs
		 WHERE project_id = $1 ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing thumbnail jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ThumbnailJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning thumbnail job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RecoverOrphans re-queues running jobs whose heartbeat went stale, e.g.
// after a process crash mid-capture.
func (p *Postgres) RecoverOrphans(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := p.q.ExecContext(ctx, `
		UPDATE thumbnail_jobs
		SET status = 'queued', next_run_at = now(), updated_at = now()
		WHERE status = 'running' AND updated_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("recovering orphaned thumbnail jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
