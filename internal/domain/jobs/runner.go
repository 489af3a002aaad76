package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WorkFunc performs a job. It should call Progress.Checkpoint between steps.
type WorkFunc func(ctx context.Context, progress *Progress) (interface{}, error)

// Progress is the worker's handle on its own job
type Progress struct {
	store *Store
	jobID string
}

// JobID returns the id of the job being executed
func (p *Progress) JobID() string {
	return p.jobID
}

// Report records progress
func (p *Progress) Report(pct int, message string) error {
	return p.store.Update(p.jobID, pct, message)
}

// Cancelled reports whether cancellation was requested
func (p *Progress) Cancelled() bool {
	return p.store.CancelRequested(p.jobID)
}

// Checkpoint returns ErrCancelled if cancellation was requested and
// otherwise records progress
func (p *Progress) Checkpoint(pct int, message string) error {
	if p.Cancelled() {
		return ErrCancelled
	}
	return p.Report(pct, message)
}

// RunnerConfig sizes the worker pool
type RunnerConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

type task struct {
	id   string
	work WorkFunc
}

// Runner executes submitted jobs on a fixed pool of workers
type Runner struct {
	store  *Store
	cfg    RunnerConfig
	logger *zap.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	tasks   chan task
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool // Protected by mu
}

// NewRunner starts cfg.Workers workers
func NewRunner(store *Store, cfg RunnerConfig, logger *zap.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, stop := context.WithCancel(context.Background())
	r := &Runner{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		baseCtx: ctx,
		stop:    stop,
		tasks:   make(chan task, cfg.QueueSize),
	}

	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Store returns the underlying job store
func (r *Runner) Store() *Store {
	return r.store
}

// Submit creates a QUEUED job and hands it to the pool without blocking
func (r *Runner) Submit(kind string, payload interface{}, work WorkFunc) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return Job{}, ErrRunnerClosed
	}

	job := r.store.Create(kind, payload)
	select {
	case r.tasks <- task{id: job.ID, work: work}:
		return job, nil
	default:
		r.store.remove(job.ID)
		return Job{}, ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish. If ctx
// expires first, running jobs have their contexts cancelled.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.tasks)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.stop()
		return nil
	case <-ctx.Done():
		r.stop()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for t := range r.tasks {
		r.run(t)
	}
}

func (r *Runner) run(t task) {
	ctx, cancel := r.jobContext()
	defer cancel()
	r.store.setCancelFunc(t.id, cancel)

	logger := r.logger.With(zap.String("job_id", t.id))

	if err := r.store.Start(t.id); err != nil {
		logger.Error("failed to start job", zap.Error(err))
		return
	}
	if r.store.CancelRequested(t.id) {
		r.fail(logger, t.id, ErrCancelled)
		return
	}

	start := time.Now()
	result, err := r.execute(ctx, logger, t)
	switch {
	case err != nil:
		if r.store.CancelRequested(t.id) && errors.Is(err, context.Canceled) {
			err = ErrCancelled
		} else if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			err = fmt.Errorf("job exceeded %s deadline: %w", r.cfg.JobTimeout, err)
		}
		r.fail(logger, t.id, err)
	case result == nil:
		r.fail(logger, t.id, errors.New("worker returned no result"))
	default:
		if err := r.store.Complete(t.id, result); err != nil {
			logger.Error("failed to complete job", zap.Error(err))
			return
		}
		logger.Info("job completed", zap.Duration("duration", time.Since(start)))
	}
}

// execute converts panics into WorkerFault errors so no job is left RUNNING
func (r *Runner) execute(ctx context.Context, logger *zap.Logger, t task) (result interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("job worker panicked",
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			result, err = nil, &WorkerFault{Value: rec}
		}
	}()

	return t.work(ctx, &Progress{store: r.store, jobID: t.id})
}

func (r *Runner) fail(logger *zap.Logger, id string, cause error) {
	if err := r.store.Fail(id, cause); err != nil {
		logger.Error("failed to record job failure", zap.Error(err), zap.NamedError("cause", cause))
		return
	}
	logger.Warn("job failed", zap.Error(cause))
}

func (r *Runner) jobContext() (context.Context, context.CancelFunc) {
	if r.cfg.JobTimeout > 0 {
		return context.WithTimeout(r.baseCtx, r.cfg.JobTimeout)
	}
	return context.WithCancel(r.baseCtx)
}
