// Package postgres provides Postgres-backed persistence implementations.
//
// The job table doubles as the queue: claiming is a single conditional
// UPDATE, so competing workers need no locks beyond the database's own.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/growthdesk/scout/internal/scout"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// PoolConfig controls a Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

func newPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// JobStoreConfig controls the Postgres connection pool used for job rows.
type JobStoreConfig struct {
	Pool  PoolConfig
	Table string
}

// JobStore implements scout.JobStore on a Postgres table.
//
// Expected schema:
//
//	CREATE TABLE scrape_jobs (
//	    id           TEXT PRIMARY KEY,
//	    job_type     TEXT NOT NULL,
//	    target_refs  TEXT[] NOT NULL,
//	    status       TEXT NOT NULL,
//	    result       JSONB,
//	    created_at   TIMESTAMPTZ NOT NULL,
//	    started_at   TIMESTAMPTZ,
//	    completed_at TIMESTAMPTZ
//	);
//	CREATE INDEX ON scrape_jobs (job_type, status, created_at);
type JobStore struct {
	pool  querier
	table string
	clock scout.Clock
	idGen scout.IDGenerator
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig, clock scout.Clock, idGen scout.IDGenerator) (*JobStore, error) {
	pool, err := newPool(ctx, cfg.Pool)
	if err != nil {
		return nil, err
	}
	return NewJobStoreWithPool(pool, cfg.Table, clock, idGen)
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool querier, table string, clock scout.Clock, idGen scout.IDGenerator) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "scrape_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{pool: pool, table: table, clock: clock, idGen: idGen}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const jobColumns = "id, job_type, target_refs, status, result, created_at, started_at, completed_at"

// Enqueue inserts a job in pending state.
func (s *JobStore) Enqueue(ctx context.Context, jobType scout.JobType, targetRefs []string) (scout.Job, error) {
	if !jobType.Valid() {
		return scout.Job{}, scout.ErrInvalidType
	}
	if len(targetRefs) == 0 {
		return scout.Job{}, scout.ErrInvalidTarget
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return scout.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := scout.Job{
		ID:         id,
		Type:       jobType,
		TargetRefs: append([]string(nil), targetRefs...),
		Status:     scout.JobStatusPending,
		CreatedAt:  s.clock.Now(),
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, job_type, target_refs, status, created_at)
VALUES ($1,$2,$3,$4,$5)`, s.table)
	if _, err := s.pool.Exec(ctx, query, job.ID, string(job.Type), job.TargetRefs, string(job.Status), job.CreatedAt); err != nil {
		return scout.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// ClaimNext atomically flips the oldest pending job of the type to
// processing and returns it, or nil when nothing is pending. The
// conditional UPDATE is the entire claim protocol: at most one caller's
// write lands, everyone else sees zero rows.
func (s *JobStore) ClaimNext(ctx context.Context, jobType scout.JobType) (*scout.Job, error) {
	query := fmt.Sprintf(`
UPDATE %s SET status = 'processing', started_at = $2
WHERE id = (
	SELECT id FROM %s
	WHERE job_type = $1 AND status = 'pending'
	ORDER BY created_at
	LIMIT 1
	FOR UPDATE SKIP LOCKED
) AND status = 'pending'
RETURNING `+jobColumns, s.table, s.table)

	row := s.pool.QueryRow(ctx, query, string(jobType), s.clock.Now())
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return &job, nil
}

// Complete transitions a processing job to completed.
func (s *JobStore) Complete(ctx context.Context, jobID string, result scout.JobResult) error {
	return s.finish(ctx, jobID, scout.JobStatusCompleted, result)
}

// Fail transitions a processing job to failed.
func (s *JobStore) Fail(ctx context.Context, jobID string, result scout.JobResult) error {
	return s.finish(ctx, jobID, scout.JobStatusFailed, result)
}

func (s *JobStore) finish(ctx context.Context, jobID string, status scout.JobStatus, result scout.JobResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s SET status = $2, result = $3, completed_at = $4
WHERE id = $1 AND status = 'processing'`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID, string(status), resultJSON, s.clock.Now())
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scout.ErrInvalidTransition
	}
	return nil
}

// ReclaimStale requeues (or fails) processing jobs whose started_at is
// older than the threshold and returns how many were reclaimed.
func (s *JobStore) ReclaimStale(ctx context.Context, jobType scout.JobType, olderThan time.Duration, toFailed bool) (int, error) {
	now := s.clock.Now()
	cutoff := now.Add(-olderThan)

	var query string
	var args []any
	if toFailed {
		result := scout.JobResult{
			Outcome: scout.OutcomeFailure,
			Error:   fmt.Sprintf("processing exceeded %s, reclaimed as stale", olderThan),
		}
		resultJSON, err := json.Marshal(result)
		if err != nil {
			return 0, fmt.Errorf("marshal job result: %w", err)
		}
		query = fmt.Sprintf(`
UPDATE %s SET status = 'failed', result = $3, completed_at = $4
WHERE job_type = $1 AND status = 'processing' AND started_at < $2`, s.table)
		args = []any{string(jobType), cutoff, resultJSON, now}
	} else {
		query = fmt.Sprintf(`
UPDATE %s SET status = 'pending', started_at = NULL
WHERE job_type = $1 AND status = 'processing' AND started_at < $2`, s.table)
		args = []any{string(jobType), cutoff}
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (scout.Job, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", jobColumns, s.table)
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return scout.Job{}, scout.ErrNotFound
	}
	if err != nil {
		return scout.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *JobStore) ListJobs(ctx context.Context, status *scout.JobStatus, limit, offset int) ([]scout.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf("SELECT %s FROM %s", jobColumns, s.table)
	args := []any{limit, offset}
	if status != nil {
		query += " WHERE status = $3"
		args = append(args, string(*status))
	}
	query += " ORDER BY created_at DESC LIMIT $1 OFFSET $2"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []scout.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (scout.Job, error) {
	var (
		job        scout.Job
		jobType    string
		status     string
		resultJSON []byte
	)
	if err := row.Scan(&job.ID, &jobType, &job.TargetRefs, &status, &resultJSON, &job.CreatedAt, &job.StartedAt, &job.CompletedAt); err != nil {
		return scout.Job{}, err
	}
	job.Type = scout.JobType(jobType)
	job.Status = scout.JobStatus(status)
	if len(resultJSON) > 0 {
		var result scout.JobResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return scout.Job{}, fmt.Errorf("unmarshal job result: %w", err)
		}
		job.Result = &result
	}
	return job, nil
}
