package scout

import (
	"context"
	"io"
	"time"
)

// JobStore owns the job lifecycle. All mutual exclusion between
// competing workers is expressed as conditional updates against it;
// there are no external locks.
type JobStore interface {
	// Enqueue creates a job in pending state. Returns ErrInvalidTarget
	// when targetRefs is empty and ErrInvalidType for an unknown type.
	Enqueue(ctx context.Context, jobType JobType, targetRefs []string) (Job, error)
	// ClaimNext atomically flips the oldest pending job of the given
	// type to processing and returns it. Returns nil when nothing is
	// claimable; losing a claim race also yields nil, never an error.
	ClaimNext(ctx context.Context, jobType JobType) (*Job, error)
	// Complete transitions a processing job to completed. Returns
	// ErrInvalidTransition if the job is not currently processing.
	Complete(ctx context.Context, jobID string, result JobResult) error
	// Fail transitions a processing job to failed. Returns
	// ErrInvalidTransition if the job is not currently processing.
	Fail(ctx context.Context, jobID string, result JobResult) error
	// ReclaimStale moves processing jobs whose started_at is older than
	// the threshold back to pending, or to failed with a timeout result
	// when toFailed is set. Returns the number of jobs reclaimed.
	ReclaimStale(ctx context.Context, jobType JobType, olderThan time.Duration, toFailed bool) (int, error)
	// GetJob fetches a job by ID. Returns ErrNotFound when absent.
	GetJob(ctx context.Context, jobID string) (Job, error)
	// ListJobs returns jobs ordered newest first, optionally filtered
	// by status.
	ListJobs(ctx context.Context, status *JobStatus, limit, offset int) ([]Job, error)
}

// PageStore persists domain records keyed case-insensitively by
// username.
type PageStore interface {
	// GetByUsername fetches a page. Returns ErrNotFound when absent.
	GetByUsername(ctx context.Context, username string) (Page, error)
	// Save upserts the scraped and linkage attribute classes of a page.
	// Operator attributes are written only on first insert; on conflict
	// the stored operator column is left untouched, so the worker's
	// merge path cannot clobber a concurrent operator edit.
	Save(ctx context.Context, page Page) error
	// UpdateOperator applies an operator patch directly, bypassing the
	// reconciler. This is the only path allowed to clear an operator
	// field.
	UpdateOperator(ctx context.Context, username string, patch OperatorPatch) (Page, error)
	// List returns pages ordered by username.
	List(ctx context.Context, limit, offset int) ([]Page, error)
}

// Provider is the external scraping service, treated as a black box
// with a bounded timeout supplied through ctx.
type Provider interface {
	FetchProfiles(ctx context.Context, usernames []string) (ProfileBatch, error)
	FetchFollowing(ctx context.Context, username string) (FollowingList, error)
}

// BlobStore archives raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes job completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archive addressing.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and page IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
