// Package worker implements the scrape job execution loop: claim,
// fetch, reconcile, persist, report.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/growthdesk/scout/internal/merge"
	"github.com/growthdesk/scout/internal/metrics"
	"github.com/growthdesk/scout/internal/scout"
)

// Config controls Worker behavior.
type Config struct {
	// JobType selects which queue the worker drains.
	JobType scout.JobType
	// PollInterval is the sleep between claim attempts on an empty queue.
	PollInterval time.Duration
	// ProviderTimeout bounds a single provider call.
	ProviderTimeout time.Duration
	// MinCoverage is the scraped/expected ratio below which a job fails
	// outright instead of completing as partial.
	MinCoverage float64
	// Topic is the completion event topic; empty disables publishing.
	Topic string
	// ArchivePrefix namespaces raw payload objects in the blob store.
	ArchivePrefix string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 5 * time.Minute
	}
	if c.MinCoverage <= 0 {
		c.MinCoverage = 0.5
	}
	if c.ArchivePrefix == "" {
		c.ArchivePrefix = "scrapes"
	}
	return c
}

// Worker claims jobs of one type and executes them to a terminal state.
type Worker struct {
	jobs      scout.JobStore
	pages     scout.PageStore
	provider  scout.Provider
	archive   scout.BlobStore
	publisher scout.Publisher
	hasher    scout.Hasher
	clock     scout.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	jobs scout.JobStore,
	pages scout.PageStore,
	provider scout.Provider,
	archive scout.BlobStore,
	publisher scout.Publisher,
	hasher scout.Hasher,
	clock scout.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		jobs:      jobs,
		pages:     pages,
		provider:  provider,
		archive:   archive,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Run blocks, claiming and executing jobs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.jobs.ClaimNext(ctx, w.cfg.JobType)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("claim failed", zap.String("job_type", string(w.cfg.JobType)), zap.Error(err))
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.PollInterval):
			}
			continue
		}
		w.logger.Debug("claimed job",
			zap.String("job_id", job.ID),
			zap.String("job_type", string(job.Type)),
			zap.Int("targets", len(job.TargetRefs)),
		)
		w.Execute(ctx, *job)
	}
}

// Execute runs one claimed job to a terminal state. It is exported so a
// manual trigger can run a job outside the poll loop.
func (w *Worker) Execute(ctx context.Context, job scout.Job) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	provCtx, cancel := context.WithTimeout(ctx, w.cfg.ProviderTimeout)
	defer cancel()

	var (
		snapshots []scout.Snapshot
		failed    []string
		expected  int
		raw       []byte
		err       error
	)
	switch job.Type {
	case scout.JobTypeProfileEnrich:
		var batch scout.ProfileBatch
		batch, err = w.provider.FetchProfiles(provCtx, job.TargetRefs)
		snapshots = batch.Snapshots
		failed = batch.FailedTargets
		expected = len(job.TargetRefs)
		raw = batch.Raw
	case scout.JobTypeFollowingSync:
		var list scout.FollowingList
		list, err = w.provider.FetchFollowing(provCtx, job.TargetRefs[0])
		snapshots = list.Accounts
		expected = list.ExpectedCount
		raw = list.Raw
	default:
		err = scout.ErrInvalidType
	}
	if err != nil {
		w.logger.Error("provider call failed",
			zap.String("job_id", job.ID),
			zap.String("job_type", string(job.Type)),
			zap.Error(err),
		)
		w.finish(ctx, job, scout.JobResult{
			Outcome:  scout.OutcomeFailure,
			Expected: expected,
			Error:    fmt.Sprintf("provider: %v", err),
		})
		return
	}

	result := w.reconcile(ctx, job, snapshots, failed, expected)
	result.ArchiveURI = w.archiveRaw(ctx, job.ID, raw, &result)
	w.finish(ctx, job, result)
}

// reconcile merges every snapshot into its page record and derives the
// job result from what actually landed.
func (w *Worker) reconcile(ctx context.Context, job scout.Job, snapshots []scout.Snapshot, failed []string, expected int) scout.JobResult {
	result := scout.JobResult{
		Expected:      expected,
		FailedTargets: append([]string(nil), failed...),
	}
	for _, snap := range snapshots {
		warnings, err := w.mergeSnapshot(ctx, snap)
		if err != nil {
			w.logger.Error("persist snapshot failed",
				zap.String("job_id", job.ID),
				zap.String("username", snap.Username),
				zap.Error(err),
			)
			result.FailedTargets = append(result.FailedTargets, snap.Username)
			continue
		}
		result.Scraped++
		result.Warnings = append(result.Warnings, warnings...)
	}
	result.Failed = len(result.FailedTargets)

	switch {
	case result.Expected > 0:
		result.Coverage = float64(result.Scraped) / float64(result.Expected)
	case result.Scraped > 0:
		// The provider could not report an expected total; whatever we
		// captured counts as full coverage.
		result.Coverage = 1
	}

	switch {
	case result.Scraped == 0:
		result.Outcome = scout.OutcomeFailure
		result.Error = "no targets scraped"
	case result.Coverage < w.cfg.MinCoverage:
		result.Outcome = scout.OutcomeFailure
		result.Error = fmt.Sprintf("coverage %.2f below minimum %.2f", result.Coverage, w.cfg.MinCoverage)
	case result.Failed > 0 || result.Coverage < 1:
		result.Outcome = scout.OutcomePartial
	default:
		result.Outcome = scout.OutcomeSuccess
	}
	return result
}

func (w *Worker) mergeSnapshot(ctx context.Context, snap scout.Snapshot) ([]string, error) {
	var existing *scout.Page
	current, err := w.pages.GetByUsername(ctx, snap.Username)
	switch {
	case err == nil:
		existing = &current
	case errors.Is(err, scout.ErrNotFound):
	default:
		return nil, fmt.Errorf("load page: %w", err)
	}

	page, warnings := merge.Merge(existing, snap)
	if err := w.pages.Save(ctx, page); err != nil {
		return nil, fmt.Errorf("save page: %w", err)
	}
	metrics.ObservePageMerged()
	return warnings, nil
}

// archiveRaw stores the provider's raw payload hash-addressed under the
// job. Archive trouble degrades to a warning; the scrape itself landed.
func (w *Worker) archiveRaw(ctx context.Context, jobID string, raw []byte, result *scout.JobResult) string {
	if w.archive == nil || len(raw) == 0 {
		return ""
	}
	hash, err := w.hasher.Hash(raw)
	if err != nil {
		w.logger.Warn("hash payload failed", zap.String("job_id", jobID), zap.Error(err))
		result.Warnings = append(result.Warnings, "raw payload not archived")
		return ""
	}
	path := w.buildArchivePath(jobID, hash)
	uri, err := w.archive.PutObject(ctx, path, "application/json", strings.NewReader(string(raw)))
	if err != nil {
		w.logger.Warn("archive payload failed", zap.String("job_id", jobID), zap.Error(err))
		result.Warnings = append(result.Warnings, "raw payload not archived")
		return ""
	}
	return uri
}

func (w *Worker) buildArchivePath(jobID, hash string) string {
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.json", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, jobID, hash)
}

// finish records the terminal transition and emits the completion
// event. Losing the job to the reaper is logged, not retried: the
// reclaimed job will be re-executed by someone else.
func (w *Worker) finish(ctx context.Context, job scout.Job, result scout.JobResult) {
	var err error
	if result.Outcome == scout.OutcomeFailure {
		err = w.jobs.Fail(ctx, job.ID, result)
	} else {
		err = w.jobs.Complete(ctx, job.ID, result)
	}
	switch {
	case errors.Is(err, scout.ErrInvalidTransition):
		w.logger.Warn("job no longer processing, result dropped",
			zap.String("job_id", job.ID),
			zap.String("outcome", string(result.Outcome)),
		)
		return
	case err != nil:
		w.logger.Error("record job result failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	duration := time.Duration(0)
	if job.StartedAt != nil {
		duration = w.clock.Now().Sub(*job.StartedAt)
	}
	metrics.ObserveJob(string(job.Type), string(result.Outcome), duration)
	w.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("job_type", string(job.Type)),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("scraped", result.Scraped),
		zap.Float64("coverage", result.Coverage),
	)
	w.publishEvent(ctx, job, result)
}

func (w *Worker) publishEvent(ctx context.Context, job scout.Job, result scout.JobResult) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"job_id":      job.ID,
		"job_type":    string(job.Type),
		"outcome":     string(result.Outcome),
		"scraped":     result.Scraped,
		"expected":    result.Expected,
		"coverage":    result.Coverage,
		"archive_uri": result.ArchiveURI,
		"timestamp":   w.clock.Now().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("publish completion event failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}
