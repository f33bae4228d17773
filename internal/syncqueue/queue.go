// Package syncqueue is the in-memory priority queue of pending file syncs
// from tenant sandboxes to object storage.
package syncqueue

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

const (
	DefaultMaxConcurrent = 3
	DefaultMaxRetries    = 3
	DefaultRetryBase     = time.Second
	DefaultRetryMax      = 10 * time.Second
	DefaultHistorySize   = 100
)

type Config struct {
	MaxConcurrent int
	MaxRetries    int
	RetryBase     time.Duration
	RetryMax      time.Duration
	HistorySize   int
}

// Job is one pending or running sync of a single path.
type Job struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Path       string    `json:"path"`
	BatchID    string    `json:"batch_id,omitempty"`
	Priority   Priority  `json:"priority"`
	CreatedAt  time.Time `json:"created_at"`
	ExecuteAt  time.Time `json:"execute_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	Retries    int       `json:"retries"`
	MaxRetries int       `json:"max_retries"`
	LastError  string    `json:"last_error,omitempty"`
}

// JobResult is the terminal outcome of a job.
type JobResult struct {
	JobID       string        `json:"job_id"`
	TenantID    string        `json:"tenant_id"`
	Path        string        `json:"path"`
	BatchID     string        `json:"batch_id,omitempty"`
	Priority    Priority      `json:"priority"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Retries     int           `json:"retries"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
	// SupersededBy is set when a failed attempt was folded into a newer
	// pending job for the same path instead of being retried.
	SupersededBy string `json:"superseded_by,omitempty"`
}

// Options apply to enqueued jobs.
type Options struct {
	TenantID   string
	BatchID    string
	Delay      time.Duration
	MaxRetries int
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Pending    int            `json:"pending"`
	Processing int            `json:"processing"`
	Completed  int64          `json:"completed"`
	Failed     int64          `json:"failed"`
	Retried    int64          `json:"retried"`
	Superseded int64          `json:"superseded"`
	ByPriority map[string]int `json:"by_priority"`
}

type pathKey struct {
	tenantID string
	path     string
}

// Queue orders jobs by priority, then by ExecuteAt. It keeps at most one
// pending job per path and caps how many jobs run at once.
type Queue struct {
	cfg    Config
	clock  clock.PassiveClock
	logger *slog.Logger

	mu         sync.Mutex
	pending    map[pathKey]*Job
	processing map[string]*Job
	busy       map[pathKey]bool
	history    []JobResult
	histNext   int
	completed  int64
	failed     int64
	retried    int64
	superseded int64

	subMu   sync.Mutex
	subs    map[int]func(JobResult)
	nextSub int

	notify chan struct{}
}

func New(cfg Config, clk clock.PassiveClock, logger *slog.Logger) *Queue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = DefaultRetryMax
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Queue{
		cfg:        cfg,
		clock:      clk,
		logger:     logger,
		pending:    make(map[pathKey]*Job),
		processing: make(map[string]*Job),
		busy:       make(map[pathKey]bool),
		subs:       make(map[int]func(JobResult)),
		notify:     make(chan struct{}, 1),
	}
}

// Ready is signalled when work may have become available.
func (q *Queue) Ready() <-chan struct{} {
	return q.notify
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Enqueue schedules a sync of path. If the path already has a pending job,
// that job is kept and upgraded to the higher priority and the earlier
// ExecuteAt.
func (q *Queue) Enqueue(path string, priority Priority, opts Options) Job {
	q.mu.Lock()
	job := q.enqueueLocked(path, priority, opts, q.clock.Now())
	q.mu.Unlock()

	q.signal()
	return job
}

// EnqueueBatch enqueues paths under one batch ID, generated if opts has none.
func (q *Queue) EnqueueBatch(paths []string, priority Priority, opts Options) []Job {
	if opts.BatchID == "" {
		opts.BatchID = uuid.NewString()
	}
	now := q.clock.Now()

	q.mu.Lock()
	jobs := make([]Job, 0, len(paths))
	for _, p := range paths {
		jobs = append(jobs, q.enqueueLocked(p, priority, opts, now))
	}
	q.mu.Unlock()

	q.signal()
	return jobs
}

func (q *Queue) enqueueLocked(path string, priority Priority, opts Options, now time.Time) Job {
	key := pathKey{tenantID: opts.TenantID, path: path}
	executeAt := now.Add(opts.Delay)

	if existing, ok := q.pending[key]; ok {
		if priority > existing.Priority {
			existing.Priority = priority
		}
		if executeAt.Before(existing.ExecuteAt) {
			existing.ExecuteAt = executeAt
		}
		return *existing
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = q.cfg.MaxRetries
	}
	job := &Job{
		ID:         uuid.NewString(),
		TenantID:   opts.TenantID,
		Path:       path,
		BatchID:    opts.BatchID,
		Priority:   priority,
		CreatedAt:  now,
		ExecuteAt:  executeAt,
		MaxRetries: maxRetries,
	}
	q.pending[key] = job
	return *job
}

// Next claims the best ready job. It returns false when nothing is ready,
// every ready path is already being synced, or the concurrency cap is
// reached.
func (q *Queue) Next() (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.processing) >= q.cfg.MaxConcurrent {
		return nil, false
	}

	now := q.clock.Now()
	var (
		best    *Job
		bestKey pathKey
	)
	for key, job := range q.pending {
		if job.ExecuteAt.After(now) || q.busy[key] {
			continue
		}
		if best == nil || before(job, best) {
			best, bestKey = job, key
		}
	}
	if best == nil {
		return nil, false
	}

	delete(q.pending, bestKey)
	best.StartedAt = now
	q.processing[best.ID] = best
	q.busy[bestKey] = true

	out := *best
	return &out, true
}

func before(a, b *Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.ExecuteAt.Equal(b.ExecuteAt) {
		return a.ExecuteAt.Before(b.ExecuteAt)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// Complete finishes a claimed job. It reports false for unknown IDs.
func (q *Queue) Complete(id string, success bool, err error, duration time.Duration) bool {
	q.mu.Lock()
	job, ok := q.release(id)
	if !ok {
		q.mu.Unlock()
		return false
	}
	res := q.recordLocked(job, success, err, duration)
	q.mu.Unlock()

	q.emit(res)
	q.signal()
	return true
}

// Retry returns a failed job to the queue with exponential backoff. Once
// the job has failed more than MaxRetries times it is finalized as failed
// and Retry returns false. If the path was enqueued again while the job
// ran, the job is finalized as superseded instead and Retry returns true.
func (q *Queue) Retry(id string, err error) bool {
	q.mu.Lock()
	job, ok := q.release(id)
	if !ok {
		q.mu.Unlock()
		return false
	}

	job.Retries++
	if err != nil {
		job.LastError = err.Error()
	}
	if job.Retries > job.MaxRetries {
		res := q.recordLocked(job, false, err, q.clock.Since(job.StartedAt))
		q.mu.Unlock()

		q.logger.Warn("sync job failed permanently", "job_id", job.ID, "tenant_id", job.TenantID,
			"path", job.Path, "retries", job.Retries-1, "error", job.LastError)
		q.emit(res)
		q.signal()
		return false
	}

	key := pathKey{tenantID: job.TenantID, path: job.Path}
	if newer, ok := q.pending[key]; ok {
		// A fresh change arrived meanwhile. The newer job takes over the
		// failure streak so a path that keeps changing still runs out of
		// retries, and this job is finalized as superseded.
		if job.Priority > newer.Priority {
			newer.Priority = job.Priority
		}
		if job.Retries > newer.Retries {
			newer.Retries = job.Retries
			newer.LastError = job.LastError
		}
		if job.MaxRetries < newer.MaxRetries {
			newer.MaxRetries = job.MaxRetries
		}
		res := q.supersedeLocked(job, newer.ID, err)
		q.mu.Unlock()

		q.emit(res)
		q.signal()
		return true
	}

	q.retried++
	job.ExecuteAt = q.clock.Now().Add(q.backoff(job.Retries))
	q.pending[key] = job
	q.mu.Unlock()

	q.signal()
	return true
}

func (q *Queue) backoff(retries int) time.Duration {
	d := q.cfg.RetryBase
	for i := 1; i < retries; i++ {
		d *= 2
		if d >= q.cfg.RetryMax {
			return q.cfg.RetryMax
		}
	}
	return min(d, q.cfg.RetryMax)
}

func (q *Queue) release(id string) (*Job, bool) {
	job, ok := q.processing[id]
	if !ok {
		return nil, false
	}
	delete(q.processing, id)
	delete(q.busy, pathKey{tenantID: job.TenantID, path: job.Path})
	return job, true
}

func (q *Queue) recordLocked(job *Job, success bool, err error, duration time.Duration) JobResult {
	res := JobResult{
		JobID:       job.ID,
		TenantID:    job.TenantID,
		Path:        job.Path,
		BatchID:     job.BatchID,
		Priority:    job.Priority,
		Success:     success,
		Retries:     job.Retries,
		Duration:    duration,
		CompletedAt: q.clock.Now(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	if success {
		q.completed++
	} else {
		q.failed++
	}
	q.appendHistoryLocked(res)
	return res
}

func (q *Queue) supersedeLocked(job *Job, newerID string, err error) JobResult {
	res := JobResult{
		JobID:        job.ID,
		TenantID:     job.TenantID,
		Path:         job.Path,
		BatchID:      job.BatchID,
		Priority:     job.Priority,
		Retries:      job.Retries,
		Duration:     q.clock.Since(job.StartedAt),
		CompletedAt:  q.clock.Now(),
		SupersededBy: newerID,
	}
	if err != nil {
		res.Error = err.Error()
	}
	q.superseded++
	q.appendHistoryLocked(res)
	return res
}

func (q *Queue) appendHistoryLocked(res JobResult) {
	if len(q.history) < q.cfg.HistorySize {
		q.history = append(q.history, res)
	} else {
		q.history[q.histNext] = res
	}
	q.histNext = (q.histNext + 1) % q.cfg.HistorySize
}

// Subscribe registers fn for job results. Each finished job is delivered
// exactly once. The returned func unsubscribes.
func (q *Queue) Subscribe(fn func(JobResult)) func() {
	q.subMu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = fn
	q.subMu.Unlock()

	return func() {
		q.subMu.Lock()
		delete(q.subs, id)
		q.subMu.Unlock()
	}
}

func (q *Queue) emit(res JobResult) {
	q.subMu.Lock()
	fns := make([]func(JobResult), 0, len(q.subs))
	for _, fn := range q.subs {
		fns = append(fns, fn)
	}
	q.subMu.Unlock()

	for _, fn := range fns {
		fn(res)
	}
}

// History returns recent results, oldest first.
func (q *Queue) History() []JobResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]JobResult, 0, len(q.history))
	if len(q.history) < q.cfg.HistorySize {
		return append(out, q.history...)
	}
	out = append(out, q.history[q.histNext:]...)
	return append(out, q.history[:q.histNext]...)
}

// Pending returns pending jobs in the order Next would consider them.
func (q *Queue) Pending() []Job {
	q.mu.Lock()
	jobs := make([]*Job, 0, len(q.pending))
	for _, j := range q.pending {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool { return before(jobs[i], jobs[k]) })
	out := make([]Job, len(jobs))
	for i, j := range jobs {
		out[i] = *j
	}
	q.mu.Unlock()
	return out
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		Pending:    len(q.pending),
		Processing: len(q.processing),
		Completed:  q.completed,
		Failed:     q.failed,
		Retried:    q.retried,
		Superseded: q.superseded,
		ByPriority: make(map[string]int, len(Priorities)),
	}
	for _, p := range Priorities {
		s.ByPriority[p.String()] = 0
	}
	for _, j := range q.pending {
		s.ByPriority[j.Priority.String()]++
	}
	return s
}

// LagByPriority reports, per priority, how long the most overdue ready
// job has been waiting past its ExecuteAt.
func (q *Queue) LagByPriority() map[Priority]time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	lag := make(map[Priority]time.Duration, len(Priorities))
	for _, p := range Priorities {
		lag[p] = 0
	}
	for _, j := range q.pending {
		if d := now.Sub(j.ExecuteAt); d > lag[j.Priority] {
			lag[j.Priority] = d
		}
	}
	return lag
}

// OldestPendingAge is the age of the oldest pending job, 0 when empty.
func (q *Queue) OldestPendingAge() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	var oldest time.Time
	for _, j := range q.pending {
		if oldest.IsZero() || j.CreatedAt.Before(oldest) {
			oldest = j.CreatedAt
		}
	}
	if oldest.IsZero() {
		return 0
	}
	return q.clock.Since(oldest)
}
