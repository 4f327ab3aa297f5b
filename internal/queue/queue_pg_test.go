package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"campus-event-pipeline/internal/models"
	"campus-event-pipeline/internal/queue"
	"campus-event-pipeline/internal/store"
)

// setupTestDB spins up a Postgres container, runs migrations, and returns the
// store with cleanup registered on t.
func setupTestDB(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("pipeline_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, pgContainer.Terminate(ctx)) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	st, err := store.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.RunMigrations(ctx))
	return st
}

func TestFailRetryBound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	st := setupTestDB(t)
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	q := queue.New(st.Pool(), queue.Options{
		MaxAttempts:    3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
		Clock:          clock,
	})

	job, err := q.Enqueue(ctx, queue.EnqueueParams{
		Type:      models.JobSingleNotification,
		CreatedBy: "tester",
	})
	require.NoError(t, err)

	// Three claim/fail cycles consume the whole attempt budget.
	for i := 1; i <= 3; i++ {
		clock.Advance(10 * time.Millisecond)
		claimed, ok, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.True(t, ok, "cycle %d", i)
		assert.Equal(t, job.ID, claimed.ID)
		assert.Equal(t, i, claimed.Attempts)
		require.NoError(t, q.Fail(ctx, claimed, "smtp relay down"))
	}

	got, err := q.GetStatus(ctx, job.ID, "tester", false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "smtp relay down", *got.LastError)

	// A late failure report against the terminal row changes nothing.
	require.NoError(t, q.Fail(ctx, got, "duplicate report"))
	again, err := q.GetStatus(ctx, job.ID, "tester", false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, again.Status)
	assert.Equal(t, 3, again.Attempts)
	assert.Equal(t, "smtp relay down", *again.LastError)

	// And the queue has nothing left to hand out.
	clock.Advance(10 * time.Millisecond)
	_, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFailBeforeBoundRepends(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	st := setupTestDB(t)
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	q := queue.New(st.Pool(), queue.Options{
		MaxAttempts:    3,
		BackoffInitial: time.Minute,
		BackoffMax:     time.Minute,
		Clock:          clock,
	})

	job, err := q.Enqueue(ctx, queue.EnqueueParams{
		Type:      models.JobBulkNotification,
		CreatedBy: "tester",
	})
	require.NoError(t, err)

	claimed, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, q.Fail(ctx, claimed, "transient"))

	got, err := q.GetStatus(ctx, job.ID, "tester", false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)

	// Backoff holds the job back until not_before passes.
	_, ok, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(2 * time.Minute)
	reclaimed, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, job.ID, reclaimed.ID)
	assert.Equal(t, 2, reclaimed.Attempts)
}

func TestEnqueuePriorityZeroIsKept(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	st := setupTestDB(t)
	ctx := context.Background()
	q := queue.New(st.Pool(), queue.Options{})

	urgent := 0
	first, err := q.Enqueue(ctx, queue.EnqueueParams{
		Type:      models.JobSingleNotification,
		Priority:  &urgent,
		CreatedBy: "tester",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, first.Priority)

	defaulted, err := q.Enqueue(ctx, queue.EnqueueParams{
		Type:      models.JobSingleNotification,
		CreatedBy: "tester",
	})
	require.NoError(t, err)
	assert.Equal(t, 100, defaulted.Priority)

	// Zero beats the default in claim order.
	claimed, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, claimed.ID)
}
