package job

import (
	"context"
	"database/sql"
	"encoding/json"
)

type Repository interface {
	Save(ctx context.Context, job *Job) error
	List(ctx context.Context, tenantID string) ([]Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context, tenantID string) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, job *Job) error {
	query := `INSERT INTO failed_jobs (job_id, tenant_id, handler, payload, error, attempts) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query, job.JobID, job.TenantID, job.Handler, []byte(job.Payload), job.Error, job.Attempts).Scan(&job.ID, &job.CreatedAt)
}

// List returns failed jobs newest first. An empty tenantID lists every tenant.
func (r *PostgresRepo) List(ctx context.Context, tenantID string) ([]Job, error) {
	query := `SELECT id, job_id, tenant_id, handler, payload, error, attempts, created_at FROM failed_jobs WHERE ($1 = '' OR tenant_id = $1) ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Job, error) {
	query := `SELECT id, job_id, tenant_id, handler, payload, error, attempts, created_at FROM failed_jobs WHERE id = $1`
	return scanJob(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM failed_jobs WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// Count returns the number of failed jobs. An empty tenantID counts every tenant.
func (r *PostgresRepo) Count(ctx context.Context, tenantID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM failed_jobs WHERE ($1 = '' OR tenant_id = $1)`
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(s scanner) (*Job, error) {
	j := &Job{}
	var payload []byte
	if err := s.Scan(&j.ID, &j.JobID, &j.TenantID, &j.Handler, &payload, &j.Error, &j.Attempts, &j.CreatedAt); err != nil {
		return nil, err
	}
	j.Payload = json.RawMessage(payload)
	return j, nil
}
