package job

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"
)

// ErrInvalidMediaType rejects job creation with an unrecognized media type.
var ErrInvalidMediaType = errors.New("unrecognized media type")

// Runner executes the processing stages for one job and returns the final
// output path. Implementations report progress and poll cancellation through
// the Tracker they are handed.
type Runner interface {
	Process(ctx context.Context, j Job, tr Tracker) (outputPath string, err error)
}

// Tracker is the narrow view of the Manager a running pipeline may touch.
type Tracker interface {
	SetProgress(id string, value float64)
	CancelRequested(id string) bool
}

// Manager owns the job store, a bounded worker pool, and the public lifecycle
// API. It is the only component that transitions a job's status. The
// submission queue is unbounded: Enqueue never blocks the caller, and each
// queued job is executed by exactly one worker.
type Manager struct {
	store   *Store
	runner  Runner
	workers int

	mu      sync.Mutex
	cond    *sync.Cond
	pending []string
	closed  bool

	wg sync.WaitGroup
}

func NewManager(store *Store, runner Runner, workers int) *Manager {
	if workers <= 0 {
		workers = 2
	}
	m := &Manager{
		store:   store,
		runner:  runner,
		workers: workers,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Start launches the worker pool. Workers exit once ctx is cancelled and the
// queue stops being served; jobs still queued at that point stay PENDING.
func (m *Manager) Start(ctx context.Context) {
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.runWorker(ctx, i)
	}
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		m.closed = true
		m.cond.Broadcast()
		m.mu.Unlock()
	}()
	log.Printf("job manager started with %d workers", m.workers)
}

// Wait blocks until all workers have exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// CreateJob constructs a job in PENDING and stores it. It does not enqueue.
func (m *Manager) CreateJob(id, inputPath string, mediaType MediaType, opts ProcessOptions) (Job, error) {
	if !mediaType.Valid() {
		return Job{}, fmt.Errorf("%w: %q", ErrInvalidMediaType, mediaType)
	}
	now := time.Now()
	j := Job{
		ID:        id,
		InputPath: inputPath,
		MediaType: mediaType,
		Options:   opts,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.store.Put(j)
	return j, nil
}

// Enqueue submits the job for asynchronous execution. Never blocks.
func (m *Manager) Enqueue(j Job) {
	m.mu.Lock()
	m.pending = append(m.pending, j.ID)
	m.cond.Signal()
	m.mu.Unlock()
	log.Printf("job %s queued (%s)", j.ID, j.MediaType)
}

// Cancel requests cancellation. It returns false when the job is unknown or
// already terminal. A PENDING job is moved to CANCELLED immediately and will
// never run its pipeline; a RUNNING job keeps running until the pipeline
// observes the flag at its next checkpoint.
func (m *Manager) Cancel(id string) bool {
	accepted := false
	m.store.Update(id, func(j *Job) {
		if j.Status.IsTerminal() {
			return
		}
		accepted = true
		j.CancelRequested = true
		if j.Status == StatusPending {
			j.Status = StatusCancelled
		}
	})
	if accepted {
		log.Printf("job %s cancellation requested", id)
	}
	return accepted
}

// GetJob returns a snapshot of one job.
func (m *Manager) GetJob(id string) (Job, bool) {
	return m.store.Get(id)
}

// ListJobs returns snapshots of all known jobs.
func (m *Manager) ListJobs() []Job {
	return m.store.List()
}

// SetProgress clamps value to [0,1] and records it. Progress never decreases
// for a given job, regardless of what the pipeline reports.
func (m *Manager) SetProgress(id string, value float64) {
	m.store.Update(id, func(j *Job) {
		v := math.Max(0, math.Min(1, value))
		if v > j.Progress {
			j.Progress = v
		}
	})
}

// CancelRequested reports whether cancellation has been requested for the job.
func (m *Manager) CancelRequested(id string) bool {
	j, ok := m.store.Get(id)
	return ok && j.CancelRequested
}

func (m *Manager) runWorker(ctx context.Context, id int) {
	defer m.wg.Done()
	for {
		jobID, ok := m.next()
		if !ok {
			log.Printf("worker %d shutting down", id)
			return
		}
		m.runJob(ctx, jobID)
	}
}

// next pops the oldest queued job id, blocking until one is available or the
// manager shuts down.
func (m *Manager) next() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.pending) == 0 && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return "", false
	}
	id := m.pending[0]
	m.pending = m.pending[1:]
	return id, true
}

// runJob executes the worker algorithm for one dequeued job: skip if it was
// cancelled while queued, move to RUNNING, run the pipeline, then publish
// exactly one terminal transition. A cancellation observed mid-pipeline
// always wins over a late success or failure.
func (m *Manager) runJob(ctx context.Context, id string) {
	j, ok := m.store.Get(id)
	if !ok {
		return
	}

	started := false
	m.store.Update(id, func(j *Job) {
		if j.Status != StatusPending {
			return
		}
		j.Status = StatusRunning
		started = true
	})
	if !started {
		// Cancelled while queued; the pipeline never runs.
		return
	}
	log.Printf("job %s running (%s)", id, j.MediaType)

	outputPath, err := m.process(ctx, j)

	var final Status
	m.store.Update(id, func(j *Job) {
		switch {
		case j.CancelRequested:
			j.Status = StatusCancelled
		case err != nil:
			j.Status = StatusFailed
			j.Error = err.Error()
		default:
			j.Status = StatusCompleted
			j.OutputPath = outputPath
			j.Progress = 1.0
		}
		final = j.Status
	})

	switch final {
	case StatusCompleted:
		log.Printf("job %s completed: %s", id, outputPath)
	case StatusCancelled:
		log.Printf("job %s cancelled", id)
	default:
		log.Printf("job %s failed: %v", id, err)
	}
}

// process invokes the pipeline, converting an unexpected panic into a job
// failure so a fault can never take down a pool worker.
func (m *Manager) process(ctx context.Context, j Job) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()
	return m.runner.Process(ctx, j, m)
}
