package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/jonboulle/clockwork"

	"campus-event-pipeline/internal/config"
	"campus-event-pipeline/internal/models"
	"campus-event-pipeline/internal/queue"
	"campus-event-pipeline/internal/telemetry"
)

// Handler executes one job and returns the result payload stored on the job.
type Handler func(ctx context.Context, job models.Job) (json.RawMessage, error)

// Processor drives the worker execution loop. Multiple processors may poll
// the same queue; they coordinate only through the queue's claim statement.
type Processor struct {
	cfg      config.Config
	queue    *queue.Queue
	handlers map[string]Handler
	clock    clockwork.Clock
	workerID string
}

func NewProcessor(cfg config.Config, q *queue.Queue, workerID string) *Processor {
	return &Processor{
		cfg:      cfg,
		queue:    q,
		handlers: make(map[string]Handler),
		clock:    clockwork.NewRealClock(),
		workerID: workerID,
	}
}

// RegisterHandler binds a handler to a job type.
func (p *Processor) RegisterHandler(jobType string, handler Handler) {
	if jobType == "" || handler == nil {
		return
	}
	p.handlers[jobType] = handler
}

// Run polls until context cancellation. Each tick reaps expired leases, then
// drains at most WorkerBatchSize jobs so one worker cannot run unbounded
// while its peers idle.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if reaped, err := p.queue.ReapExpired(ctx, p.cfg.ReapLimit); err == nil && reaped > 0 {
			log.Printf("worker %s: requeued %d expired leases", p.workerID, reaped)
			telemetry.LeasesReaped.Add(float64(reaped))
		}
		if depth, err := p.queue.PendingDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		drained := 0
		for drained < p.cfg.WorkerBatchSize {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			job, ok, err := p.queue.Dequeue(ctx)
			if err != nil {
				log.Printf("worker %s: dequeue: %v", p.workerID, err)
				break
			}
			if !ok {
				break
			}
			p.process(ctx, job)
			drained++
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(p.cfg.WorkerPollInterval):
		}
	}
}

// process dispatches one claimed job and reports the single verdict back to
// the queue.
func (p *Processor) process(ctx context.Context, job models.Job) {
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	handler, ok := p.handlers[job.Type]
	if !ok {
		// Retrying cannot conjure a handler, so fail terminally.
		_ = p.queue.FailTerminal(ctx, job.ID, fmt.Sprintf("no handler registered for type %q", job.Type))
		telemetry.WorkerDeadLetter.Inc()
		return
	}

	result, err := handler(ctx, job)
	if err == nil {
		if cErr := p.queue.Complete(ctx, job.ID, result); cErr != nil {
			log.Printf("worker %s: complete %s: %v", p.workerID, job.ID, cErr)
			return
		}
		telemetry.WorkerSuccess.Inc()
		return
	}

	if fErr := p.queue.Fail(ctx, job, diagnostic(job, err)); fErr != nil {
		log.Printf("worker %s: fail %s: %v", p.workerID, job.ID, fErr)
		return
	}
	if job.Attempts >= job.MaxAttempts {
		telemetry.WorkerDeadLetter.Inc()
	} else {
		telemetry.WorkerFailures.Inc()
	}
}

func diagnostic(job models.Job, err error) string {
	msg := fmt.Sprintf("%s attempt %d/%d: %v", job.Type, job.Attempts, job.MaxAttempts, err)
	if len(msg) > 1000 {
		msg = msg[:1000]
	}
	return strings.TrimSpace(msg)
}
