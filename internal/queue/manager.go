package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Manager is an in-memory priority job queue. Jobs of the same type and
// key are deduplicated within an interval so event bursts do not pile up
// identical work. All jobs must be idempotent; the queue is lost on
// restart and the cron schedules re-cover anything dropped.
type Manager struct {
	mu       sync.Mutex
	jobs     []Job
	lastSeen map[string]time.Time
	handlers map[JobType]Handler
	wake     chan struct{}
	wg       sync.WaitGroup
	workers  int
	log      zerolog.Logger
}

// NewManager creates a new job queue manager
func NewManager(workers int, logger zerolog.Logger) *Manager {
	if workers <= 0 {
		workers = 1
	}
	return &Manager{
		lastSeen: make(map[string]time.Time),
		handlers: make(map[JobType]Handler),
		wake:     make(chan struct{}, 1),
		workers:  workers,
		log:      logger.With().Str("component", "queue").Logger(),
	}
}

// Register binds a handler to a job type
func (m *Manager) Register(jobType JobType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[jobType] = handler
}

// Enqueue adds a job unconditionally
func (m *Manager) Enqueue(job Job) {
	job.EnqueuedAt = time.Now().UTC()

	m.mu.Lock()
	m.lastSeen[job.DedupeKey()] = job.EnqueuedAt
	m.jobs = append(m.jobs, job)
	sort.SliceStable(m.jobs, func(i, j int) bool {
		return m.jobs[i].Priority > m.jobs[j].Priority
	})
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// EnqueueIfShouldRun adds a job unless the same type and key was enqueued
// within the interval. Returns whether the job was accepted.
func (m *Manager) EnqueueIfShouldRun(job Job, interval time.Duration) bool {
	m.mu.Lock()
	last, seen := m.lastSeen[job.DedupeKey()]
	if seen && time.Since(last) < interval {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	m.Enqueue(job)
	return true
}

// Pending returns the number of queued jobs
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// Run starts the worker pool. Workers exit when ctx is cancelled; Wait
// blocks until they have drained.
func (m *Manager) Run(ctx context.Context) {
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
}

// Wait blocks until all workers have stopped
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) worker(ctx context.Context, id int) {
	defer m.wg.Done()
	log := m.log.With().Int("worker", id).Logger()

	for {
		job, ok := m.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-m.wake:
				continue
			case <-time.After(time.Second):
				continue
			}
		}

		m.mu.Lock()
		handler, registered := m.handlers[job.Type]
		m.mu.Unlock()
		if !registered {
			log.Warn().Str("type", string(job.Type)).Msg("No handler registered for job type")
			continue
		}

		start := time.Now()
		if err := m.runJob(ctx, handler, job); err != nil {
			log.Error().Err(err).
				Str("type", string(job.Type)).
				Str("key", job.Key).
				Msg("Job failed")
			continue
		}
		log.Debug().
			Str("type", string(job.Type)).
			Str("key", job.Key).
			Dur("took", time.Since(start)).
			Msg("Job complete")
	}
}

// runJob isolates handler panics so one bad job cannot kill a worker
func (m *Manager) runJob(ctx context.Context, handler Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Str("type", string(job.Type)).
				Interface("panic", r).
				Msg("Job handler panicked")
		}
	}()
	return handler(ctx, job)
}

func (m *Manager) dequeue() (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.jobs) == 0 {
		return Job{}, false
	}
	job := m.jobs[0]
	m.jobs = m.jobs[1:]
	return job, true
}
