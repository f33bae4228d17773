// Package worker runs the sync worker pool that drains the sync queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gatewayplane/internal/syncqueue"
)

// Queue is the subset of the sync queue the agent consumes.
type Queue interface {
	Next() (*syncqueue.Job, bool)
	Complete(id string, success bool, err error, duration time.Duration) bool
	Retry(id string, err error) bool
	Ready() <-chan struct{}
}

// Executor carries out a single sync job.
type Executor interface {
	Execute(ctx context.Context, job syncqueue.Job) error
}

// AgentConfig holds configuration for the sync agent.
type AgentConfig struct {
	ID           string
	Concurrency  int
	PollInterval time.Duration
	MaxBackoff   time.Duration // Maximum backoff when nothing is eligible (default: 5s)
	JobTimeout   time.Duration // Upper bound for a single job (default: 2m)
}

// Agent pulls jobs from the sync queue and hands them to the executor.
type Agent struct {
	queue    Queue
	executor Executor
	config   AgentConfig
	logger   *slog.Logger
	done     chan struct{}
}

// New creates a new sync agent.
func New(q Queue, exec Executor, config AgentConfig, logger *slog.Logger) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = syncqueue.DefaultMaxConcurrent
	}

	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}

	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 5 * time.Second
	}

	if config.JobTimeout <= 0 {
		config.JobTimeout = 2 * time.Minute
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Agent{
		queue:    q,
		executor: exec,
		config:   config,
		logger:   logger.With("agent_id", config.ID),
		done:     make(chan struct{}),
	}
}

// Run starts the pull-loop. It blocks until the context is cancelled.
// On cancellation it stops taking new jobs and lets in-flight ones finish.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("sync agent starting", "concurrency", a.config.Concurrency)

	// Semaphore to limit concurrency
	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	// Channel to signal when a slot becomes available (adaptive polling)
	pollNow := make(chan struct{}, 1)

	// Current backoff duration (increases on empty queue, resets on work found)
	currentBackoff := a.config.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
			// Already a poll pending
		}
	}

	// Initial poll
	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("context cancelled, waiting for running sync jobs to finish")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-a.queue.Ready():
			currentBackoff = a.config.PollInterval
			triggerPoll()

		case <-pollNow:
			availableSlots := a.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			dispatched := 0
			for dispatched < availableSlots {
				job, ok := a.queue.Next()
				if !ok {
					break
				}
				dispatched++

				sem <- struct{}{}
				wg.Add(1)
				go func(job syncqueue.Job) {
					defer wg.Done()
					defer func() {
						<-sem
						// A slot is free again - poll immediately
						triggerPoll()
					}()
					a.processItem(ctx, job)
				}(*job)
			}

			if dispatched == 0 {
				// Nothing eligible - back off (exponential, capped at MaxBackoff)
				currentBackoff = currentBackoff * 2
				if currentBackoff > a.config.MaxBackoff {
					currentBackoff = a.config.MaxBackoff
				}
				continue
			}

			currentBackoff = a.config.PollInterval
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// processItem executes a job already taken from the queue and reports the
// outcome back to it.
func (a *Agent) processItem(ctx context.Context, job syncqueue.Job) {
	log := a.logger.With("job_id", job.ID, "tenant_id", job.TenantID, "path", job.Path)

	tracer := otel.Tracer("sync-agent")
	spanCtx, span := tracer.Start(ctx, "sync_job",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("tenant.id", job.TenantID),
			attribute.String("job.path", job.Path),
			attribute.String("job.priority", job.Priority.String()),
			attribute.Int("job.retries", job.Retries),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	// Detached from the poll context so shutdown drains instead of aborting
	// uploads halfway.
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(spanCtx), a.config.JobTimeout)
	defer cancel()

	started := time.Now()
	err := a.executor.Execute(execCtx, job)
	duration := time.Since(started)

	if err == nil {
		span.SetStatus(codes.Ok, "")
		log.Debug("sync job completed", "duration", duration)
		a.queue.Complete(job.ID, true, nil, duration)
		return
	}

	if execCtx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("sync timed out after %v: %w", a.config.JobTimeout, err)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if a.queue.Retry(job.ID, err) {
		log.Warn("sync job failed, retry scheduled", "attempt", job.Retries+1, "error", err)
	}
}
