package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultPurgeTTL = time.Hour

// Observer is notified of every status transition
type Observer interface {
	Transition(kind string, to Status)
}

type noopObserver struct{}

func (noopObserver) Transition(string, Status) {}

type record struct {
	job             Job
	payload         interface{}
	cancelRequested bool
	cancel          context.CancelFunc
	events          []Event
	changed         chan struct{}
}

// Store holds job records keyed by id
type Store struct {
	mu       sync.RWMutex
	jobs     map[string]*record // Protected by mu
	purgeTTL time.Duration
	clock    func() time.Time
	logger   *zap.Logger
	observer Observer
}

// NewStore creates a store that purges terminal jobs purgeTTL after completion
func NewStore(purgeTTL time.Duration, logger *zap.Logger) *Store {
	if purgeTTL <= 0 {
		purgeTTL = DefaultPurgeTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		jobs:     make(map[string]*record),
		purgeTTL: purgeTTL,
		clock:    time.Now,
		logger:   logger,
		observer: noopObserver{},
	}
}

// WithClock overrides time.Now
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// WithObserver adds transition tracking
func (s *Store) WithObserver(observer Observer) *Store {
	s.observer = observer
	return s
}

// Create allocates a QUEUED job
func (s *Store) Create(kind string, payload interface{}) Job {
	rec := &record{
		job: Job{
			ID:        uuid.New().String(),
			Kind:      kind,
			Status:    StatusQueued,
			CreatedAt: s.now(),
		},
		payload: payload,
		changed: make(chan struct{}),
	}

	s.mu.Lock()
	s.jobs[rec.job.ID] = rec
	s.mu.Unlock()

	s.observer.Transition(kind, StatusQueued)
	return rec.job
}

// Payload returns the payload a job was created with
func (s *Store) Payload(id string) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return rec.payload, nil
}

// Start moves a QUEUED job to RUNNING
func (s *Store) Start(id string) error {
	return s.mutate(id, func(rec *record, now time.Time) error {
		if err := s.transition(rec, StatusRunning); err != nil {
			return err
		}
		rec.job.StartedAt = &now
		rec.job.ProgressMessage = "started"
		s.appendEvent(rec, EventProgress, now)
		return nil
	})
}

// Update records progress on a RUNNING job
func (s *Store) Update(id string, pct int, message string) error {
	if pct < 0 || pct > 100 {
		return ErrInvalidProgress
	}

	return s.mutate(id, func(rec *record, now time.Time) error {
		if rec.job.Status != StatusRunning {
			return fmt.Errorf("%w: update while %s", ErrInvalidTransition, rec.job.Status)
		}
		if pct < rec.job.ProgressPct {
			return fmt.Errorf("%w: %d < %d", ErrProgressRegression, pct, rec.job.ProgressPct)
		}
		rec.job.ProgressPct = pct
		rec.job.ProgressMessage = message
		s.appendEvent(rec, EventProgress, now)
		return nil
	})
}

// Complete moves a RUNNING job to COMPLETED with result
func (s *Store) Complete(id string, result interface{}) error {
	if result == nil {
		return ErrMissingResult
	}

	return s.mutate(id, func(rec *record, now time.Time) error {
		if err := s.transition(rec, StatusCompleted); err != nil {
			return err
		}
		rec.job.CompletedAt = &now
		rec.job.ProgressPct = 100
		rec.job.ProgressMessage = "completed"
		rec.job.Result = result
		s.appendEvent(rec, EventComplete, now)
		return nil
	})
}

// Fail moves a RUNNING job to FAILED with cause
func (s *Store) Fail(id string, cause error) error {
	if cause == nil {
		cause = fmt.Errorf("unknown failure")
	}

	return s.mutate(id, func(rec *record, now time.Time) error {
		if err := s.transition(rec, StatusFailed); err != nil {
			return err
		}
		msg := cause.Error()
		rec.job.CompletedAt = &now
		rec.job.ProgressMessage = "failed"
		rec.job.Error = &msg
		s.appendEvent(rec, EventError, now)
		return nil
	})
}

// Get returns a snapshot. Terminal jobs past the purge TTL are deleted and
// reported as not found.
func (s *Store) Get(id string) (Job, error) {
	s.mu.RLock()
	rec, ok := s.jobs[id]
	if !ok {
		s.mu.RUnlock()
		return Job{}, ErrJobNotFound
	}
	job := rec.job
	expired := s.expired(rec, s.now())
	s.mu.RUnlock()

	if expired {
		s.mu.Lock()
		if rec, ok := s.jobs[id]; ok && s.expired(rec, s.now()) {
			delete(s.jobs, id)
		}
		s.mu.Unlock()
		return Job{}, ErrJobNotFound
	}
	return job, nil
}

// Cancel requests cooperative cancellation of a queued or running job
func (s *Store) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok || s.expired(rec, s.now()) {
		return ErrJobNotFound
	}
	if rec.job.Status.Terminal() {
		return ErrJobTerminal
	}

	rec.cancelRequested = true
	if rec.cancel != nil {
		rec.cancel()
	}
	s.logger.Info("job cancellation requested", zap.String("job_id", id))
	return nil
}

// CancelRequested reports whether Cancel was called for id
func (s *Store) CancelRequested(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[id]
	return ok && rec.cancelRequested
}

// Subscribe replays the job's events and streams new ones in order. The
// channel closes after the terminal event or when ctx is done. Jobs past
// the purge TTL are deleted and reported as not found, as with Get.
func (s *Store) Subscribe(ctx context.Context, id string) (<-chan Event, error) {
	s.mu.Lock()
	rec, ok := s.jobs[id]
	if ok && s.expired(rec, s.now()) {
		delete(s.jobs, id)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return nil, ErrJobNotFound
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		next := 0
		for {
			s.mu.RLock()
			pending := append([]Event(nil), rec.events[next:]...)
			changed := rec.changed
			terminal := rec.job.Status.Terminal()
			s.mu.RUnlock()

			for _, ev := range pending {
				select {
				case out <- ev:
					next++
				case <-ctx.Done():
					return
				}
			}
			if terminal {
				return
			}

			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Sweep deletes terminal jobs past the purge TTL
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	purged := 0
	for id, rec := range s.jobs {
		if s.expired(rec, now) {
			delete(s.jobs, id)
			purged++
		}
	}
	return purged
}

// RunSweeper calls Sweep every interval until ctx is done
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if purged := s.Sweep(); purged > 0 {
				s.logger.Debug("purged expired jobs", zap.Int("count", purged))
			}
		}
	}
}

// Stats counts jobs by status
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Stats
	for _, rec := range s.jobs {
		switch rec.job.Status {
		case StatusQueued:
			stats.Queued++
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
	}
	stats.Total = len(s.jobs)
	return stats
}

func (s *Store) setCancelFunc(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.jobs[id]; ok {
		rec.cancel = cancel
	}
}

func (s *Store) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

func (s *Store) mutate(id string, fn func(rec *record, now time.Time) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	return fn(rec, s.now())
}

func (s *Store) transition(rec *record, next Status) error {
	if !rec.job.Status.canTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.job.Status, next)
	}
	rec.job.Status = next
	s.observer.Transition(rec.job.Kind, next)
	return nil
}

func (s *Store) appendEvent(rec *record, typ EventType, now time.Time) {
	ev := Event{
		Seq:         len(rec.events) + 1,
		Type:        typ,
		JobID:       rec.job.ID,
		Status:      rec.job.Status,
		ProgressPct: rec.job.ProgressPct,
		Message:     rec.job.ProgressMessage,
		Timestamp:   now,
	}
	if typ == EventComplete {
		ev.Result = rec.job.Result
	}
	if typ == EventError && rec.job.Error != nil {
		ev.Error = *rec.job.Error
	}

	rec.events = append(rec.events, ev)
	close(rec.changed)
	rec.changed = make(chan struct{})
}

func (s *Store) expired(rec *record, now time.Time) bool {
	return rec.job.CompletedAt != nil && now.Sub(*rec.job.CompletedAt) > s.purgeTTL
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}
