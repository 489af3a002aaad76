package resilience

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Step is one self-contained strategy in a fallback chain
type Step[T any] func(ctx context.Context) (T, error)

type labeledStep[T any] struct {
	label string
	fn    Step[T]
}

// ChainExhaustedError is returned when every step failed. It unwraps to the
// last step's error; earlier errors are only logged.
type ChainExhaustedError struct {
	Chain    string
	Attempts []string
	Last     error
}

func (e *ChainExhaustedError) Error() string {
	return fmt.Sprintf("fallback chain %q exhausted after %d steps: %v", e.Chain, len(e.Attempts), e.Last)
}

func (e *ChainExhaustedError) Unwrap() error { return e.Last }

func (e *ChainExhaustedError) Is(target error) bool { return target == ErrChainExhausted }

// Chain runs labeled steps in order until one succeeds
type Chain[T any] struct {
	name      string
	logger    *zap.Logger
	steps     []labeledStep[T]
	onFailure func(label string, err error)
}

// NewChain creates an empty chain
func NewChain[T any](name string, logger *zap.Logger) *Chain[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain[T]{name: name, logger: logger}
}

// Add appends a step
func (c *Chain[T]) Add(label string, step Step[T]) *Chain[T] {
	c.steps = append(c.steps, labeledStep[T]{label: label, fn: step})
	return c
}

// OnStepFailure registers a hook called after each failed step
func (c *Chain[T]) OnStepFailure(fn func(label string, err error)) *Chain[T] {
	c.onFailure = fn
	return c
}

// Len returns the number of steps
func (c *Chain[T]) Len() int {
	return len(c.steps)
}

// Execute runs the steps and returns the first success with its label.
// A done context stops the chain with the context's error.
func (c *Chain[T]) Execute(ctx context.Context) (T, string, error) {
	var zero T
	exhausted := &ChainExhaustedError{Chain: c.name}

	for _, step := range c.steps {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}

		result, err := step.fn(ctx)
		if err == nil {
			return result, step.label, nil
		}

		exhausted.Attempts = append(exhausted.Attempts, step.label)
		exhausted.Last = err

		c.logger.Warn("fallback step failed",
			zap.String("chain", c.name),
			zap.String("step", step.label),
			zap.String("error_type", fmt.Sprintf("%T", err)),
			zap.Error(err),
		)
		if c.onFailure != nil {
			c.onFailure(step.label, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return zero, "", err
	}
	return zero, "", exhausted
}
