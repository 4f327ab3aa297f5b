// Package queue implements the durable work queue as a Postgres table.
// Workers coordinate only through the claim statement: a single UPDATE over a
// FOR UPDATE SKIP LOCKED subselect, so two concurrent pollers can never
// receive the same job and neither blocks on the other's claim.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"campus-event-pipeline/internal/models"
)

// ErrForbidden is returned when a requester may not see a job.
var ErrForbidden = errors.New("forbidden")

// ErrNotFound is returned on status lookups for unknown job ids.
var ErrNotFound = errors.New("job not found")

// Queue provides enqueue/dequeue/complete/fail over the jobs table.
type Queue struct {
	pool           *pgxpool.Pool
	clock          clockwork.Clock
	lease          time.Duration
	maxAttempts    int
	backoffInitial time.Duration
	backoffMax     time.Duration
}

// Options tunes queue behavior; zero values fall back to defaults.
type Options struct {
	Lease          time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	Clock          clockwork.Clock
}

// New builds a queue over an existing pool.
func New(pool *pgxpool.Pool, opts Options) *Queue {
	if opts.Lease == 0 {
		opts.Lease = 2 * time.Minute
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffInitial == 0 {
		opts.BackoffInitial = 2 * time.Second
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 5 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Queue{
		pool:           pool,
		clock:          opts.Clock,
		lease:          opts.Lease,
		maxAttempts:    opts.MaxAttempts,
		backoffInitial: opts.BackoffInitial,
		backoffMax:     opts.BackoffMax,
	}
}

// defaultPriority is used when the caller does not express one. Lower values
// run sooner, so zero stays a meaningful "most urgent" request.
const defaultPriority = 100

// EnqueueParams collects inputs for a new job. A nil Priority takes
// defaultPriority.
type EnqueueParams struct {
	Type        string
	Payload     json.RawMessage
	Priority    *int
	MaxAttempts int
	CreatedBy   string
}

// Enqueue inserts a pending job and returns it.
func (q *Queue) Enqueue(ctx context.Context, p EnqueueParams) (models.Job, error) {
	if p.Type == "" {
		return models.Job{}, errors.New("job type is required")
	}
	if len(p.Payload) == 0 {
		p.Payload = json.RawMessage(`{}`)
	} else if !json.Valid(p.Payload) {
		return models.Job{}, errors.New("payload is not valid JSON")
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = q.maxAttempts
	}
	priority := defaultPriority
	if p.Priority != nil {
		priority = *p.Priority
	}

	id := uuid.New().String()
	now := q.clock.Now().UTC()
	_, err := q.pool.Exec(ctx, `
		INSERT INTO jobs (id, type, payload, status, priority, attempts, max_attempts, created_by, not_before, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $8)
	`, id, p.Type, p.Payload, models.StatusPending, priority, p.MaxAttempts, p.CreatedBy, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return models.Job{
		ID:          id,
		Type:        p.Type,
		Payload:     p.Payload,
		Status:      models.StatusPending,
		Priority:    priority,
		MaxAttempts: p.MaxAttempts,
		CreatedBy:   p.CreatedBy,
		NotBefore:   now,
		CreatedAt:   now,
	}, nil
}

// Dequeue claims the single most urgent runnable job: lowest priority value,
// earliest creation time among ties, not_before in the past. Returns ok=false
// without blocking when nothing is claimable.
func (q *Queue) Dequeue(ctx context.Context) (models.Job, bool, error) {
	now := q.clock.Now().UTC()
	row := q.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = $1,
		    attempts = attempts + 1,
		    started_at = $2,
		    lease_expires_at = $3
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = $4 AND not_before <= $2
			ORDER BY priority, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, type, payload, status, priority, attempts, max_attempts, last_error, result,
		          created_by, not_before, lease_expires_at, created_at, started_at, completed_at
	`, models.StatusProcessing, now, now.Add(q.lease), models.StatusPending)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, err
	}
	return job, true, nil
}

// Complete transitions a processing job to completed and stores the result.
// It is a no-op when the job is gone or not in processing.
func (q *Queue) Complete(ctx context.Context, id string, result json.RawMessage) error {
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}
	_, err := q.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, result = $3, completed_at = $4, lease_expires_at = NULL
		WHERE id = $1 AND status = $5
	`, id, models.StatusCompleted, result, q.clock.Now().UTC(), models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// failureNext is where a failed attempt sends the job. Backoff is zero when
// the failure is terminal.
type failureNext struct {
	Status  string
	Backoff time.Duration
}

// failureTransition decides terminal-vs-retry for a claimed job. Attempts are
// charged at claim time, so a job claimed for the nth time carries attempts=n
// and becomes terminally failed exactly when n reaches max_attempts.
func failureTransition(attempts, maxAttempts int, backoffInitial, backoffMax time.Duration) failureNext {
	if attempts >= maxAttempts {
		return failureNext{Status: models.StatusFailed}
	}
	return failureNext{
		Status:  models.StatusPending,
		Backoff: BackoffWithJitter(backoffInitial, backoffMax, attempts),
	}
}

// Fail records a handler failure for the claimed job. Jobs with attempts left
// revert to pending with a backoff-delayed not_before so redelivery is not a
// hot loop; exhausted jobs become terminally failed. The status filter makes
// repeat calls on terminal rows a no-op.
func (q *Queue) Fail(ctx context.Context, job models.Job, reason string) error {
	now := q.clock.Now().UTC()
	next := failureTransition(job.Attempts, job.MaxAttempts, q.backoffInitial, q.backoffMax)

	if next.Status == models.StatusFailed {
		_, err := q.pool.Exec(ctx, `
			UPDATE jobs
			SET status = $2, last_error = $3, completed_at = $4, lease_expires_at = NULL
			WHERE id = $1 AND status = $5
		`, job.ID, models.StatusFailed, reason, now, models.StatusProcessing)
		if err != nil {
			return fmt.Errorf("mark job failed: %w", err)
		}
		return nil
	}

	_, err := q.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, last_error = $3, started_at = NULL, lease_expires_at = NULL, not_before = $4
		WHERE id = $1 AND status = $5
	`, job.ID, models.StatusPending, reason, now.Add(next.Backoff), models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("repend job: %w", err)
	}
	return nil
}

// FailTerminal marks a processing job failed regardless of remaining
// attempts. Used for jobs that can never succeed, e.g. unknown types.
func (q *Queue) FailTerminal(ctx context.Context, id string, reason string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, last_error = $3, completed_at = $4, lease_expires_at = NULL
		WHERE id = $1 AND status = $5
	`, id, models.StatusFailed, reason, q.clock.Now().UTC(), models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

// GetStatus returns a job visible only to its creator or an administrator.
func (q *Queue) GetStatus(ctx context.Context, id, requester string, admin bool) (models.Job, error) {
	row := q.pool.QueryRow(ctx, `
		SELECT id, type, payload, status, priority, attempts, max_attempts, last_error, result,
		       created_by, not_before, lease_expires_at, created_at, started_at, completed_at
		FROM jobs WHERE id = $1
	`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, ErrNotFound
	}
	if err != nil {
		return models.Job{}, err
	}
	if !admin && job.CreatedBy != requester {
		return models.Job{}, ErrForbidden
	}
	return job, nil
}

// ReapExpired reverts processing jobs whose lease has lapsed back to pending
// so a crashed worker cannot strand them. The attempt charged at claim time
// stays consumed.
func (q *Queue) ReapExpired(ctx context.Context, limit int) (int, error) {
	tag, err := q.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $1, started_at = NULL, lease_expires_at = NULL
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = $2 AND lease_expires_at <= $3
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
	`, models.StatusPending, models.StatusProcessing, q.clock.Now().UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("reap expired leases: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PendingDepth counts runnable pending jobs.
func (q *Queue) PendingDepth(ctx context.Context) (int64, error) {
	var n int64
	err := q.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobs WHERE status = $1 AND not_before <= $2
	`, models.StatusPending, q.clock.Now().UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return n, nil
}

// BackoffWithJitter computes the retry delay for the given attempt count:
// exponential growth from base, capped at max, with half-range jitter.
func BackoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var lastErr pgtype.Text
	var lease, started, completed pgtype.Timestamptz
	err := row.Scan(&job.ID, &job.Type, &job.Payload, &job.Status, &job.Priority, &job.Attempts,
		&job.MaxAttempts, &lastErr, &job.Result, &job.CreatedBy, &job.NotBefore,
		&lease, &job.CreatedAt, &started, &completed)
	if err != nil {
		return models.Job{}, err
	}
	if lastErr.Valid {
		job.LastError = &lastErr.String
	}
	job.LeaseExpiresAt = tsPtr(lease)
	job.StartedAt = tsPtr(started)
	job.CompletedAt = tsPtr(completed)
	return job, nil
}

func tsPtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}
