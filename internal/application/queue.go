package application

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/mfields/cadence/internal/audit"
	"github.com/mfields/cadence/internal/config"
	"github.com/mfields/cadence/internal/domain"
	"github.com/mfields/cadence/internal/ports"
)

// TaskFunc is one unit of queued work. It receives the context passed
// at enqueue time.
type TaskFunc func(ctx context.Context) (any, error)

// JobHandle lets the submitter wait for the job it enqueued.
type JobHandle struct {
	ID string

	queue *InteractionQueue
	done  chan struct{}
}

// Wait blocks until the job settles or ctx is cancelled, returning the
// task's result or error exactly as the task produced it.
func (h *JobHandle) Wait(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
	}

	result := h.queue.Result(h.ID)
	if result == nil {
		// Swept between settle and lookup; treat like an unknown id.
		return nil, fmt.Errorf("job %s: %w", h.ID, domain.ErrJobNotFound)
	}

	return result.Result, result.Err
}

type queuedJob struct {
	job  domain.Job
	fn   TaskFunc
	ctx  context.Context
	done chan struct{}
}

// InteractionQueue serializes (or, with concurrency > 1, bounds)
// automated actions. Dispatch is strictly FIFO among waiting jobs;
// completion order is unconstrained.
type InteractionQueue struct {
	cfg   *config.Config
	clock ports.Clock
	log   *audit.Logger

	mu      sync.Mutex
	jobs    map[string]*queuedJob
	waiting []*queuedJob
	active  int
	rng     *rand.Rand
}

func NewInteractionQueue(cfg *config.Config, clock ports.Clock, log *audit.Logger) *InteractionQueue {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if log == nil {
		log = audit.Nop()
	}

	return &InteractionQueue{
		cfg:   cfg,
		clock: clock,
		log:   log.WithComponent("queue"),
		jobs:  make(map[string]*queuedJob),
		rng:   rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
}

// Enqueue registers fn for execution and returns a handle for its
// eventual outcome. A nil fn is rejected synchronously before any job
// record exists.
func (q *InteractionQueue) Enqueue(ctx context.Context, fn TaskFunc, meta domain.JobMeta) (*JobHandle, error) {
	if fn == nil {
		return nil, domain.ErrNilTask
	}

	q.mu.Lock()
	id := q.newJobID(meta.Type)
	entry := &queuedJob{
		job: domain.Job{
			ID:        id,
			Meta:      meta,
			CreatedAt: q.clock.Now(),
			Status:    domain.JobQueued,
		},
		fn:   fn,
		ctx:  ctx,
		done: make(chan struct{}),
	}
	q.jobs[id] = entry
	q.waiting = append(q.waiting, entry)
	q.mu.Unlock()

	q.log.Event(audit.EventInteractionAttempt, audit.Fields{
		"jobId": id,
		"type":  meta.Type,
	})

	q.dispatch()

	return &JobHandle{ID: id, queue: q, done: entry.done}, nil
}

// Status returns the job's current status, or false for unknown (or
// already swept) ids.
func (q *InteractionQueue) Status(id string) (domain.JobStatus, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.jobs[id]
	if !ok {
		return "", false
	}

	return entry.job.Status, true
}

// Result returns the settled view of a job, or nil when the id is
// unknown or the job has not settled.
func (q *InteractionQueue) Result(id string) *domain.JobResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.jobs[id]
	if !ok || !entry.job.Status.Settled() {
		return nil
	}

	return &domain.JobResult{
		Status: entry.job.Status,
		Result: entry.job.Result,
		Err:    entry.job.Err,
	}
}

// Depth returns (waiting, running) counts for telemetry.
func (q *InteractionQueue) Depth() (int, int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.waiting), q.active
}

// dispatch starts as many waiting jobs as free slots allow, FIFO.
func (q *InteractionQueue) dispatch() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.sweepLocked()

	concurrency := q.cfg.Snapshot().QueueConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	for q.active < concurrency && len(q.waiting) > 0 {
		entry := q.waiting[0]
		q.waiting = q.waiting[1:]

		entry.job.Status = domain.JobRunning
		entry.job.StartedAt = q.clock.Now()
		q.active++

		go q.run(entry)
	}
}

func (q *InteractionQueue) run(entry *queuedJob) {
	result, err := q.invoke(entry)

	q.mu.Lock()
	entry.job.FinishedAt = q.clock.Now()
	if err != nil {
		entry.job.Status = domain.JobFailed
		entry.job.Err = err
	} else {
		entry.job.Status = domain.JobSucceeded
		entry.job.Result = result
	}
	q.active--
	q.mu.Unlock()

	close(entry.done)

	if err != nil {
		q.log.Event(audit.EventInteractionFailure, audit.Fields{
			"jobId": entry.job.ID,
			"type":  entry.job.Meta.Type,
			"error": err.Error(),
		})
	} else {
		q.log.Event(audit.EventInteractionSuccess, audit.Fields{
			"jobId":      entry.job.ID,
			"type":       entry.job.Meta.Type,
			"durationMs": entry.job.FinishedAt.Sub(entry.job.StartedAt).Milliseconds(),
		})
	}

	q.dispatch()
}

// invoke runs the task, converting a panic into a failed job rather
// than crashing the process.
func (q *InteractionQueue) invoke(entry *queuedJob) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	return entry.fn(entry.ctx)
}

// sweepLocked drops settled jobs older than the retention window. The
// queue wakes on every enqueue and completion, so no dedicated sweeper
// goroutine is needed.
func (q *InteractionQueue) sweepLocked() {
	retention := q.cfg.Snapshot().JobRetention()
	if retention <= 0 {
		return
	}

	cutoff := q.clock.Now().Add(-retention)
	for id, entry := range q.jobs {
		if entry.job.Status.Settled() && entry.job.FinishedAt.Before(cutoff) {
			delete(q.jobs, id)
		}
	}
}

// newJobID builds "<type>-<epochMs>-<random>" ids; callers must hold
// q.mu.
func (q *InteractionQueue) newJobID(jobType string) string {
	if jobType == "" {
		jobType = "job"
	}

	for {
		id := fmt.Sprintf("%s-%d-%06x", jobType, q.clock.Now().UnixMilli(), q.rng.Intn(1<<24))
		if _, exists := q.jobs[id]; !exists {
			return id
		}
	}
}
