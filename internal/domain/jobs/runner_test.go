package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, cfg RunnerConfig) *Runner {
	t.Helper()
	runner := NewRunner(NewStore(time.Hour, nil), cfg, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Shutdown(ctx)
	})
	return runner
}

func waitTerminal(t *testing.T, store *Store, id string) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		var err error
		job, err = store.Get(id)
		return err == nil && job.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func TestRunnerCompletesJob(t *testing.T) {
	runner := newTestRunner(t, RunnerConfig{Workers: 2})

	job, err := runner.Submit("document", "text", func(ctx context.Context, p *Progress) (interface{}, error) {
		for i := 1; i <= 4; i++ {
			if err := p.Checkpoint(i*25, "step"); err != nil {
				return nil, err
			}
		}
		return []string{"a", "b"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)

	done := waitTerminal(t, runner.Store(), job.ID)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, []string{"a", "b"}, done.Result)
	assert.Nil(t, done.Error)
	assert.Equal(t, 100, done.ProgressPct)
}

func TestRunnerObservedStatusesAreMonotonic(t *testing.T) {
	runner := newTestRunner(t, RunnerConfig{Workers: 1})
	release := make(chan struct{})

	job, err := runner.Submit("test", nil, func(ctx context.Context, p *Progress) (interface{}, error) {
		<-release
		return "ok", nil
	})
	require.NoError(t, err)

	order := map[Status]int{StatusQueued: 0, StatusRunning: 1, StatusCompleted: 2, StatusFailed: 2}
	last := StatusQueued
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	for {
		got, err := runner.Store().Get(job.ID)
		require.NoError(t, err)
		require.GreaterOrEqual(t, order[got.Status], order[last], "%s after %s", got.Status, last)
		last = got.Status
		if got.Status.Terminal() {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, StatusCompleted, last)
}

func TestRunnerRecordsErrors(t *testing.T) {
	runner := newTestRunner(t, RunnerConfig{Workers: 1})

	job, err := runner.Submit("test", nil, func(context.Context, *Progress) (interface{}, error) {
		return nil, errors.New("completion service unavailable")
	})
	require.NoError(t, err)

	done := waitTerminal(t, runner.Store(), job.ID)
	assert.Equal(t, StatusFailed, done.Status)
	require.NotNil(t, done.Error)
	assert.Equal(t, "completion service unavailable", *done.Error)
	assert.Nil(t, done.Result)
}

func TestRunnerConvertsPanicToFailure(t *testing.T) {
	runner := newTestRunner(t, RunnerConfig{Workers: 1})

	job, err := runner.Submit("test", nil, func(context.Context, *Progress) (interface{}, error) {
		panic("nil map write")
	})
	require.NoError(t, err)

	done := waitTerminal(t, runner.Store(), job.ID)
	assert.Equal(t, StatusFailed, done.Status)
	require.NotNil(t, done.Error)
	assert.Equal(t, "worker panic: nil map write", *done.Error)

	// The worker survives the panic.
	next, err := runner.Submit("test", nil, func(context.Context, *Progress) (interface{}, error) {
		return "fine", nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, waitTerminal(t, runner.Store(), next.ID).Status)
}

func TestRunnerNilResultFails(t *testing.T) {
	runner := newTestRunner(t, RunnerConfig{Workers: 1})

	job, err := runner.Submit("test", nil, func(context.Context, *Progress) (interface{}, error) {
		return nil, nil
	})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, waitTerminal(t, runner.Store(), job.ID).Status)
}

func TestRunnerCooperativeCancel(t *testing.T) {
	runner := newTestRunner(t, RunnerConfig{Workers: 1})
	started := make(chan struct{})
	proceed := make(chan struct{})

	job, err := runner.Submit("test", nil, func(ctx context.Context, p *Progress) (interface{}, error) {
		close(started)
		<-proceed
		if err := p.Checkpoint(50, "halfway"); err != nil {
			return nil, err
		}
		return "unreachable", nil
	})
	require.NoError(t, err)

	<-started
	require.NoError(t, runner.Store().Cancel(job.ID))
	close(proceed)

	done := waitTerminal(t, runner.Store(), job.ID)
	assert.Equal(t, StatusFailed, done.Status)
	require.NotNil(t, done.Error)
	assert.Equal(t, ErrCancelled.Error(), *done.Error)
}

func TestRunnerCancelPropagatesToContext(t *testing.T) {
	runner := newTestRunner(t, RunnerConfig{Workers: 1})
	started := make(chan struct{})

	job, err := runner.Submit("test", nil, func(ctx context.Context, p *Progress) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	<-started
	require.NoError(t, runner.Store().Cancel(job.ID))

	done := waitTerminal(t, runner.Store(), job.ID)
	require.NotNil(t, done.Error)
	assert.Equal(t, ErrCancelled.Error(), *done.Error)
}

func TestRunnerJobTimeout(t *testing.T) {
	runner := newTestRunner(t, RunnerConfig{Workers: 1, JobTimeout: 20 * time.Millisecond})

	job, err := runner.Submit("test", nil, func(ctx context.Context, p *Progress) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	done := waitTerminal(t, runner.Store(), job.ID)
	assert.Equal(t, StatusFailed, done.Status)
	require.NotNil(t, done.Error)
	assert.Contains(t, *done.Error, "deadline")
}

func TestRunnerQueueFull(t *testing.T) {
	runner := newTestRunner(t, RunnerConfig{Workers: 1, QueueSize: 1})
	block := make(chan struct{})
	started := make(chan struct{})
	t.Cleanup(func() { close(block) })

	blocking := func(context.Context, *Progress) (interface{}, error) {
		<-block
		return "ok", nil
	}

	_, err := runner.Submit("test", nil, func(ctx context.Context, p *Progress) (interface{}, error) {
		close(started)
		return blocking(ctx, p)
	})
	require.NoError(t, err)
	<-started

	_, err = runner.Submit("test", nil, blocking)
	require.NoError(t, err)

	_, err = runner.Submit("test", nil, blocking)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, runner.Store().Stats().Total, "rejected job is not left behind")
}

func TestRunnerShutdown(t *testing.T) {
	runner := NewRunner(NewStore(time.Hour, nil), RunnerConfig{Workers: 1}, nil)

	job, err := runner.Submit("test", nil, func(context.Context, *Progress) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	require.NoError(t, runner.Shutdown(context.Background()))
	got, err := runner.Store().Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	_, err = runner.Submit("test", nil, nil)
	assert.ErrorIs(t, err, ErrRunnerClosed)
}
