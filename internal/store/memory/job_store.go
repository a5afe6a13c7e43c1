// Package memory provides in-memory store implementations for
// development and testing. The claim protocol matches the Postgres
// store: oldest pending first, exactly one winner per job.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/growthdesk/scout/internal/scout"
)

// JobStore is a mutex-guarded map store implementing scout.JobStore.
type JobStore struct {
	mu    sync.Mutex
	jobs  map[string]scout.Job
	clock scout.Clock
	idGen scout.IDGenerator
}

// NewJobStore constructs a JobStore.
func NewJobStore(clock scout.Clock, idGen scout.IDGenerator) *JobStore {
	return &JobStore{
		jobs:  make(map[string]scout.Job),
		clock: clock,
		idGen: idGen,
	}
}

// Enqueue creates a job in pending state.
func (s *JobStore) Enqueue(_ context.Context, jobType scout.JobType, targetRefs []string) (scout.Job, error) {
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
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return job, nil
}

// ClaimNext flips the oldest pending job of the type to processing.
// The mutex stands in for the database's conditional write.
func (s *JobStore) ClaimNext(_ context.Context, jobType scout.JobType) (*scout.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *scout.Job
	for id := range s.jobs {
		job := s.jobs[id]
		if job.Type != jobType || job.Status != scout.JobStatusPending {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = &job
		}
	}
	if oldest == nil {
		return nil, nil
	}
	now := s.clock.Now()
	oldest.Status = scout.JobStatusProcessing
	oldest.StartedAt = &now
	s.jobs[oldest.ID] = *oldest
	claimed := *oldest
	return &claimed, nil
}

// Complete transitions a processing job to completed.
func (s *JobStore) Complete(ctx context.Context, jobID string, result scout.JobResult) error {
	return s.finish(ctx, jobID, scout.JobStatusCompleted, result)
}

// Fail transitions a processing job to failed.
func (s *JobStore) Fail(ctx context.Context, jobID string, result scout.JobResult) error {
	return s.finish(ctx, jobID, scout.JobStatusFailed, result)
}

func (s *JobStore) finish(_ context.Context, jobID string, status scout.JobStatus, result scout.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != scout.JobStatusProcessing {
		return scout.ErrInvalidTransition
	}
	now := s.clock.Now()
	job.Status = status
	job.Result = &result
	job.CompletedAt = &now
	s.jobs[jobID] = job
	return nil
}

// ReclaimStale requeues (or fails) processing jobs older than the
// threshold.
func (s *JobStore) ReclaimStale(_ context.Context, jobType scout.JobType, olderThan time.Duration, toFailed bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().Add(-olderThan)
	count := 0
	for id := range s.jobs {
		job := s.jobs[id]
		if job.Type != jobType || job.Status != scout.JobStatusProcessing {
			continue
		}
		if job.StartedAt == nil || !job.StartedAt.Before(cutoff) {
			continue
		}
		if toFailed {
			now := s.clock.Now()
			job.Status = scout.JobStatusFailed
			job.CompletedAt = &now
			job.Result = &scout.JobResult{
				Outcome: scout.OutcomeFailure,
				Error:   fmt.Sprintf("processing exceeded %s, reclaimed as stale", olderThan),
			}
		} else {
			job.Status = scout.JobStatusPending
			job.StartedAt = nil
		}
		s.jobs[id] = job
		count++
	}
	return count, nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scout.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scout.Job{}, scout.ErrNotFound
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *JobStore) ListJobs(_ context.Context, status *scout.JobStatus, limit, offset int) ([]scout.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]scout.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if status != nil && job.Status != *status {
			continue
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if offset >= len(jobs) {
		return nil, nil
	}
	jobs = jobs[offset:]
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
