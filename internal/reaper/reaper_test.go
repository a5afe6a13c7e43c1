package reaper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/growthdesk/scout/internal/scout"
	storemem "github.com/growthdesk/scout/internal/store/memory"
)

func TestSweepReclaimsAcrossJobTypes(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	jobs := storemem.NewJobStore(clock, &seqIDGen{})
	ctx := context.Background()

	stuck1, err := jobs.Enqueue(ctx, scout.JobTypeProfileEnrich, []string{"acct_a"})
	require.NoError(t, err)
	_, err = jobs.ClaimNext(ctx, scout.JobTypeProfileEnrich)
	require.NoError(t, err)

	stuck2, err := jobs.Enqueue(ctx, scout.JobTypeFollowingSync, []string{"client_one"})
	require.NoError(t, err)
	_, err = jobs.ClaimNext(ctx, scout.JobTypeFollowingSync)
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)

	// A fresh claim after the advance must survive the sweep.
	fresh, err := jobs.Enqueue(ctx, scout.JobTypeProfileEnrich, []string{"acct_b"})
	require.NoError(t, err)
	_, err = jobs.ClaimNext(ctx, scout.JobTypeProfileEnrich)
	require.NoError(t, err)

	r := New(jobs, Config{}, zap.NewNop())
	total := r.Sweep(ctx, 10*time.Minute, false)
	require.Equal(t, 2, total)

	for _, id := range []string{stuck1.ID, stuck2.ID} {
		got, err := jobs.GetJob(ctx, id)
		require.NoError(t, err)
		require.Equal(t, scout.JobStatusPending, got.Status)
	}
	got, err := jobs.GetJob(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, scout.JobStatusProcessing, got.Status)
}

func TestSweepToFailedRecordsResults(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	jobs := storemem.NewJobStore(clock, &seqIDGen{})
	ctx := context.Background()

	job, err := jobs.Enqueue(ctx, scout.JobTypeProfileEnrich, []string{"acct_a"})
	require.NoError(t, err)
	_, err = jobs.ClaimNext(ctx, scout.JobTypeProfileEnrich)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	r := New(jobs, Config{}, zap.NewNop())
	require.Equal(t, 1, r.Sweep(ctx, 10*time.Minute, true))

	got, err := jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, scout.JobStatusFailed, got.Status)
	require.NotNil(t, got.Result)
	require.Equal(t, scout.OutcomeFailure, got.Result.Outcome)
}

func TestSweepContinuesPastStoreErrors(t *testing.T) {
	t.Parallel()

	store := &erroringJobStore{failFor: scout.JobTypeFollowingSync}
	r := New(store, Config{}, zap.NewNop())
	require.Equal(t, 3, r.Sweep(context.Background(), 10*time.Minute, false))
	require.Equal(t, len(scout.JobTypes()), store.calls)
}

func TestRunSweepsOnInterval(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	jobs := storemem.NewJobStore(clock, &seqIDGen{})
	ctx := context.Background()

	job, err := jobs.Enqueue(ctx, scout.JobTypeProfileEnrich, []string{"acct_a"})
	require.NoError(t, err)
	_, err = jobs.ClaimNext(ctx, scout.JobTypeProfileEnrich)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r := New(jobs, Config{Interval: 10 * time.Millisecond, StaleAfter: 10 * time.Minute}, zap.NewNop())
	go r.Run(runCtx)

	require.Eventually(t, func() bool {
		got, err := jobs.GetJob(ctx, job.ID)
		return err == nil && got.Status == scout.JobStatusPending
	}, 2*time.Second, 10*time.Millisecond)
}

// --- fakes ---

type erroringJobStore struct {
	failFor scout.JobType
	calls   int
}

func (s *erroringJobStore) ReclaimStale(_ context.Context, jobType scout.JobType, _ time.Duration, _ bool) (int, error) {
	s.calls++
	if jobType == s.failFor {
		return 0, errors.New("boom")
	}
	return 3, nil
}

func (s *erroringJobStore) Enqueue(context.Context, scout.JobType, []string) (scout.Job, error) {
	return scout.Job{}, errors.New("not implemented")
}

func (s *erroringJobStore) ClaimNext(context.Context, scout.JobType) (*scout.Job, error) {
	return nil, errors.New("not implemented")
}

func (s *erroringJobStore) Complete(context.Context, string, scout.JobResult) error {
	return errors.New("not implemented")
}

func (s *erroringJobStore) Fail(context.Context, string, scout.JobResult) error {
	return errors.New("not implemented")
}

func (s *erroringJobStore) GetJob(context.Context, string) (scout.Job, error) {
	return scout.Job{}, errors.New("not implemented")
}

func (s *erroringJobStore) ListJobs(context.Context, *scout.JobStatus, int, int) ([]scout.Job, error) {
	return nil, errors.New("not implemented")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%04d", g.n), nil
}
