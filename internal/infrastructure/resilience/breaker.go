package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	DefaultThreshold = 5
	DefaultTimeout   = 60 * time.Second
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON payloads
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Settings configures the circuit breaker behavior
type Settings struct {
	// Threshold is the failure count that trips a closed breaker
	Threshold uint32
	// Timeout is the period of the open state until a probe is admitted
	Timeout time.Duration
	// Interval clears closed-state counters cyclically; zero keeps them for the breaker lifetime
	Interval time.Duration
	// IsSuccessful classifies an operation error as success or failure
	IsSuccessful func(err error) bool
	// IsExcluded marks outcomes that count neither way (caller gave up)
	IsExcluded func(err error) bool
	// OnStateChange is called under the breaker lock whenever the state changes
	OnStateChange func(name string, from State, to State)
	// Clock overrides time.Now
	Clock func() time.Time
}

// Snapshot is a point-in-time copy of a breaker's state
type Snapshot struct {
	Name           string     `json:"name"`
	State          State      `json:"state"`
	FailureCount   uint32     `json:"failure_count"`
	SuccessCount   uint32     `json:"success_count"`
	Threshold      uint32     `json:"threshold"`
	TimeoutSeconds float64    `json:"timeout_seconds"`
	OpenedAt       *time.Time `json:"opened_at,omitempty"`
	LastFailureAt  *time.Time `json:"last_failure_at,omitempty"`
}

// Breaker gates calls to a single named dependency
type Breaker struct {
	name     string
	settings Settings

	mu            sync.Mutex
	state         State
	generation    uint64
	failures      uint32
	successes     uint32
	openedAt      time.Time
	lastFailureAt time.Time
	intervalEnds  time.Time
	probing       bool
}

// New creates a new circuit breaker with the given settings
func New(name string, settings Settings) *Breaker {
	if settings.Threshold == 0 {
		settings.Threshold = DefaultThreshold
	}
	if settings.Timeout == 0 {
		settings.Timeout = DefaultTimeout
	}
	if settings.IsSuccessful == nil {
		settings.IsSuccessful = func(err error) bool { return err == nil }
	}
	if settings.IsExcluded == nil {
		settings.IsExcluded = func(err error) bool { return errors.Is(err, context.Canceled) }
	}
	if settings.Clock == nil {
		settings.Clock = time.Now
	}

	b := &Breaker{
		name:     name,
		settings: settings,
	}
	b.toNewGeneration(settings.Clock())
	return b
}

// Name returns the dependency name
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, _ := b.currentState(b.settings.Clock())
	return state
}

// Snapshot returns the breaker's counters and timestamps
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, _ := b.currentState(b.settings.Clock())
	snap := Snapshot{
		Name:           b.name,
		State:          state,
		FailureCount:   b.failures,
		SuccessCount:   b.successes,
		Threshold:      b.settings.Threshold,
		TimeoutSeconds: b.settings.Timeout.Seconds(),
	}
	if !b.openedAt.IsZero() {
		openedAt := b.openedAt
		snap.OpenedAt = &openedAt
	}
	if !b.lastFailureAt.IsZero() {
		lastFailure := b.lastFailureAt
		snap.LastFailureAt = &lastFailure
	}
	return snap
}

// Execute runs op if the breaker admits it. A rejection returns ErrCircuitOpen
// without invoking op and without touching the counters.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) (interface{}, error)) (interface{}, error) {
	generation, err := b.beforeRequest()
	if err != nil {
		return nil, err
	}

	defer func() {
		if e := recover(); e != nil {
			b.afterRequest(generation, outcomeFailure)
			panic(e)
		}
	}()

	result, err := op(ctx)
	b.afterRequest(generation, b.classify(err))
	return result, err
}

// Call is the typed form of Breaker.Execute
func Call[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	result, err := b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return op(ctx)
	})
	typed, _ := result.(T)
	return typed, err
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeExcluded
)

func (b *Breaker) classify(err error) outcome {
	if err != nil && b.settings.IsExcluded(err) {
		return outcomeExcluded
	}
	if b.settings.IsSuccessful(err) {
		return outcomeSuccess
	}
	return outcomeFailure
}

func (b *Breaker) beforeRequest() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, generation := b.currentState(b.settings.Clock())

	switch state {
	case StateOpen:
		return generation, ErrCircuitOpen
	case StateHalfOpen:
		if b.probing {
			return generation, ErrCircuitOpen
		}
		b.probing = true
	}

	return generation, nil
}

func (b *Breaker) afterRequest(before uint64, result outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.settings.Clock()
	state, generation := b.currentState(now)
	if generation != before {
		return
	}

	switch result {
	case outcomeSuccess:
		b.onSuccess(state, now)
	case outcomeFailure:
		b.onFailure(state, now)
	case outcomeExcluded:
		if state == StateHalfOpen {
			b.probing = false
		}
	}
}

func (b *Breaker) onSuccess(state State, now time.Time) {
	b.successes++
	if state == StateHalfOpen {
		b.failures = 0
		b.setState(StateClosed, now)
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	b.failures++
	b.lastFailureAt = now

	switch state {
	case StateClosed:
		if b.failures >= b.settings.Threshold {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.intervalEnds.IsZero() && !now.Before(b.intervalEnds) {
			b.failures = 0
			b.successes = 0
			b.toNewGeneration(now)
		}
	case StateOpen:
		if !now.Before(b.openedAt.Add(b.settings.Timeout)) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}

	prev := b.state
	b.state = state

	switch state {
	case StateOpen:
		b.openedAt = now
	case StateClosed:
		b.openedAt = time.Time{}
	}

	b.toNewGeneration(now)

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, prev, state)
	}
}

func (b *Breaker) toNewGeneration(now time.Time) {
	b.generation++
	b.probing = false

	if b.state == StateClosed && b.settings.Interval > 0 {
		b.intervalEnds = now.Add(b.settings.Interval)
	} else {
		b.intervalEnds = time.Time{}
	}
}
