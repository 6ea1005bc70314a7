package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SkipsDisabledJobs(t *testing.T) {
	noop := func(context.Context, time.Duration) (int, error) { return 0, nil }
	s := New(
		Job{Name: "memory", Interval: time.Minute, Sweep: noop},
		Job{Name: "zero", Interval: 0, Sweep: noop},
		Job{Name: "nil", Interval: time.Minute},
	)
	require.Len(t, s.jobs, 1)
	assert.Equal(t, "memory", s.jobs[0].Name)
}

func TestRunOnce(t *testing.T) {
	var gotAge time.Duration
	s := New(
		Job{Name: "memory", Interval: time.Minute, MaxAge: 24 * time.Hour, Sweep: func(_ context.Context, maxAge time.Duration) (int, error) {
			gotAge = maxAge
			return 3, nil
		}},
		Job{Name: "sessions", Interval: time.Minute, Sweep: func(context.Context, time.Duration) (int, error) {
			return 0, errors.New("redis down")
		}},
	)

	out := s.RunOnce(context.Background())
	assert.Equal(t, map[string]int{"memory": 3, "sessions": 0}, out)
	assert.Equal(t, 24*time.Hour, gotAge)
}

func TestStart_RunsJobsIndependentlyUntilCancelled(t *testing.T) {
	var fast, slow atomic.Int32
	s := New(
		Job{Name: "fast", Interval: 5 * time.Millisecond, Sweep: func(context.Context, time.Duration) (int, error) {
			fast.Add(1)
			return 0, nil
		}},
		Job{Name: "slow", Interval: time.Hour, Sweep: func(context.Context, time.Duration) (int, error) {
			slow.Add(1)
			return 0, nil
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return fast.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
	assert.Zero(t, slow.Load())
}
