package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gridsense/pdmon/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestScheduler_RunsOnInterval(t *testing.T) {
	s := New(utils.NewNopLogger(), nil)

	var runs int32
	require.NoError(t, s.Register(Job{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) (*Result, error) {
			atomic.AddInt32(&runs, 1)
			return &Result{Summary: "ok"}, nil
		},
	}))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()

	last, ok := s.LastResult("tick")
	require.True(t, ok)
	assert.True(t, last.Success)
	assert.Equal(t, "tick", last.Job)
	assert.NotEmpty(t, last.RunID)
}

func TestScheduler_RunNowWhileRunning(t *testing.T) {
	s := New(utils.NewNopLogger(), nil)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	require.NoError(t, s.Register(Job{
		Name: "slow",
		Run: func(ctx context.Context) (*Result, error) {
			close(entered)
			<-unblock
			return &Result{Summary: "done"}, nil
		},
	}))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.NoError(t, s.Trigger("slow"))
	<-entered
	assert.True(t, s.IsRunning("slow"))

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobRunning)
	assert.ErrorIs(t, s.Trigger("slow"), ErrJobRunning)

	close(unblock)
	assert.Eventually(t, func() bool { return !s.IsRunning("slow") }, time.Second, 5*time.Millisecond)

	last, ok := s.LastResult("slow")
	require.True(t, ok)
	assert.Equal(t, "done", last.Summary)
}

func TestScheduler_RunNowRecordsFailure(t *testing.T) {
	s := New(utils.NewNopLogger(), nil)
	boom := errors.New("store down")

	require.NoError(t, s.Register(Job{
		Name: "failing",
		Run: func(ctx context.Context) (*Result, error) {
			return &Result{Counts: map[string]int{"points": 2}}, boom
		},
	}))

	result, err := s.RunNow(context.Background(), "failing")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "store down", result.Error)
	assert.Equal(t, 2, result.Counts["points"])
}

func TestScheduler_UnknownJob(t *testing.T) {
	s := New(utils.NewNopLogger(), nil)

	_, err := s.RunNow(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownJob)
	assert.ErrorIs(t, s.Trigger("nope"), ErrUnknownJob)

	_, ok := s.LastResult("nope")
	assert.False(t, ok)
}

func TestScheduler_StopCancelsRunningJob(t *testing.T) {
	s := New(utils.NewNopLogger(), nil)

	require.NoError(t, s.Register(Job{
		Name:     "blocking",
		Interval: time.Hour,
		Run: func(ctx context.Context) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return s.IsRunning("blocking") }, time.Second, 5*time.Millisecond)
	s.Stop()

	last, ok := s.LastResult("blocking")
	require.True(t, ok)
	assert.False(t, last.Success)
}

func TestScheduler_RegisterValidation(t *testing.T) {
	s := New(utils.NewNopLogger(), nil)
	run := func(ctx context.Context) (*Result, error) { return nil, nil }

	require.NoError(t, s.Register(Job{Name: "a", Run: run}))
	assert.Error(t, s.Register(Job{Name: "a", Run: run}))
	assert.Error(t, s.Register(Job{Name: "b"}))

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Register(Job{Name: "c", Run: run}))
	s.Stop()

	assert.Equal(t, []string{"a"}, s.Jobs())
}

func TestTrigger_BeforeStart(t *testing.T) {
	s := New(utils.NewNopLogger(), nil)
	require.NoError(t, s.Register(Job{Name: "a", Run: func(ctx context.Context) (*Result, error) { return nil, nil }}))

	assert.ErrorIs(t, s.Trigger("a"), ErrNotStarted)
}

func TestTrigger_RunsOnContextOfCurrentStart(t *testing.T) {
	s := New(utils.NewNopLogger(), nil)

	seen := make(chan context.Context, 1)
	require.NoError(t, s.Register(Job{
		Name: "manual",
		Run: func(ctx context.Context) (*Result, error) {
			seen <- ctx
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Trigger("manual"))
	first := <-seen
	s.Stop()
	assert.ErrorIs(t, first.Err(), context.Canceled)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Trigger("manual"))
	second := <-seen
	assert.NoError(t, second.Err())
	s.Stop()
	assert.ErrorIs(t, second.Err(), context.Canceled)
}

func TestTrigger_ConcurrentWithRestart(t *testing.T) {
	s := New(utils.NewNopLogger(), nil)

	require.NoError(t, s.Register(Job{
		Name: "manual",
		Run: func(ctx context.Context) (*Result, error) {
			return &Result{}, nil
		},
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = s.Trigger("manual")
		}
	}()

	for i := 0; i < 20; i++ {
		require.NoError(t, s.Start(context.Background()))
		s.Stop()
	}
	<-done

	assert.False(t, s.IsRunning("manual"))
	assert.ErrorIs(t, s.Trigger("manual"), ErrNotStarted)
}
