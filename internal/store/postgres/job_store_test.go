package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/growthdesk/scout/internal/scout"
)

func TestEnqueueInsertsPendingRow(t *testing.T) {
	t.Parallel()

	mock, store := newTestJobStore(t)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO scrape_jobs").
		WithArgs("id-0001", "profile_enrich", []string{"acct_a", "acct_b"}, "pending", testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := store.Enqueue(context.Background(), scout.JobTypeProfileEnrich, []string{"acct_a", "acct_b"})
	require.NoError(t, err)
	require.Equal(t, "id-0001", job.ID)
	require.Equal(t, scout.JobStatusPending, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueRejectsBadInput(t *testing.T) {
	t.Parallel()

	mock, store := newTestJobStore(t)
	defer mock.Close()

	_, err := store.Enqueue(context.Background(), scout.JobType("nope"), []string{"acct_a"})
	require.ErrorIs(t, err, scout.ErrInvalidType)

	_, err = store.Enqueue(context.Background(), scout.JobTypeProfileEnrich, nil)
	require.ErrorIs(t, err, scout.ErrInvalidTarget)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextReturnsClaimedJob(t *testing.T) {
	t.Parallel()

	mock, store := newTestJobStore(t)
	defer mock.Close()

	mock.ExpectQuery("UPDATE scrape_jobs SET status = 'processing'").
		WithArgs("profile_enrich", testNow).
		WillReturnRows(jobRows().AddRow(
			"job-1", "profile_enrich", []string{"acct_a"}, "processing",
			[]byte(nil), testNow.Add(-time.Minute), &testNow, (*time.Time)(nil),
		))

	job, err := store.ClaimNext(context.Background(), scout.JobTypeProfileEnrich)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, scout.JobStatusProcessing, job.Status)
	require.NotNil(t, job.StartedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextReturnsNilWhenQueueEmpty(t *testing.T) {
	t.Parallel()

	mock, store := newTestJobStore(t)
	defer mock.Close()

	mock.ExpectQuery("UPDATE scrape_jobs SET status = 'processing'").
		WithArgs("following_sync", testNow).
		WillReturnError(pgx.ErrNoRows)

	job, err := store.ClaimNext(context.Background(), scout.JobTypeFollowingSync)
	require.NoError(t, err)
	require.Nil(t, job)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteWritesResultWhileProcessing(t *testing.T) {
	t.Parallel()

	mock, store := newTestJobStore(t)
	defer mock.Close()

	result := scout.JobResult{Outcome: scout.OutcomeSuccess, Expected: 2, Scraped: 2, Coverage: 1}
	resultJSON, err := json.Marshal(result)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE scrape_jobs SET status").
		WithArgs("job-1", "completed", resultJSON, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Complete(context.Background(), "job-1", result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishOutsideProcessingIsInvalidTransition(t *testing.T) {
	t.Parallel()

	mock, store := newTestJobStore(t)
	defer mock.Close()

	mock.ExpectExec("UPDATE scrape_jobs SET status").
		WithArgs("job-1", "failed", pgxmock.AnyArg(), testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.Fail(context.Background(), "job-1", scout.JobResult{Outcome: scout.OutcomeFailure})
	require.ErrorIs(t, err, scout.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReclaimStaleRequeuesOldRows(t *testing.T) {
	t.Parallel()

	mock, store := newTestJobStore(t)
	defer mock.Close()

	cutoff := testNow.Add(-10 * time.Minute)
	mock.ExpectExec("UPDATE scrape_jobs SET status = 'pending', started_at = NULL").
		WithArgs("profile_enrich", cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	count, err := store.ReclaimStale(context.Background(), scout.JobTypeProfileEnrich, 10*time.Minute, false)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReclaimStaleToFailedWritesTimeoutResult(t *testing.T) {
	t.Parallel()

	mock, store := newTestJobStore(t)
	defer mock.Close()

	cutoff := testNow.Add(-10 * time.Minute)
	mock.ExpectExec("UPDATE scrape_jobs SET status = 'failed'").
		WithArgs("following_sync", cutoff, pgxmock.AnyArg(), testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	count, err := store.ReclaimStale(context.Background(), scout.JobTypeFollowingSync, 10*time.Minute, true)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobMapsNoRowsToNotFound(t *testing.T) {
	t.Parallel()

	mock, store := newTestJobStore(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT (.+) FROM scrape_jobs WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, scout.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobsFiltersAndUnmarshalsResult(t *testing.T) {
	t.Parallel()

	mock, store := newTestJobStore(t)
	defer mock.Close()

	resultJSON := []byte(`{"outcome":"success","expected":1,"scraped":1,"failed":0,"coverage":1}`)
	completed := testNow.Add(time.Minute)
	mock.ExpectQuery("SELECT (.+) FROM scrape_jobs WHERE status").
		WithArgs(10, 0, "completed").
		WillReturnRows(jobRows().AddRow(
			"job-1", "profile_enrich", []string{"acct_a"}, "completed",
			resultJSON, testNow, &testNow, &completed,
		))

	status := scout.JobStatusCompleted
	jobs, err := store.ListJobs(context.Background(), &status, 10, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NotNil(t, jobs[0].Result)
	require.Equal(t, scout.OutcomeSuccess, jobs[0].Result.Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

// --- fakes ---

var testNow = time.Unix(1700000000, 0).UTC()

func newTestJobStore(t *testing.T) (pgxmock.PgxPoolIface, *JobStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := NewJobStoreWithPool(mock, "scrape_jobs", fixedClock{}, &seqIDGen{})
	require.NoError(t, err)
	return mock, store
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return testNow }

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

func jobRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "job_type", "target_refs", "status", "result",
		"created_at", "started_at", "completed_at",
	})
}
