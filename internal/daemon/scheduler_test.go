package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) (*Scheduler, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(ctx)
	s.tick = 10 * time.Millisecond
	s.initialDelay = 0
	return s, cancel
}

func TestSchedulerRunsJobs(t *testing.T) {
	s, cancel := newTestScheduler(t)

	var runs atomic.Int32
	s.AddJob(&Job{Name: "count", Interval: time.Hour, Run: func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}})

	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.True(t, s.TriggerJob("count"))
	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.False(t, s.TriggerJob("missing"))

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}

	statuses := s.GetJobStatuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "count", statuses[0].Name)
	assert.Zero(t, statuses[0].ErrorCount)
	assert.False(t, statuses[0].Running)
	assert.True(t, statuses[0].NextRun.After(statuses[0].LastRun))
}

func TestSchedulerRecordsFailures(t *testing.T) {
	s, cancel := newTestScheduler(t)
	defer cancel()

	job := &Job{Name: "broken", Interval: time.Hour, Run: func(ctx context.Context) error {
		return errors.New("controller unreachable")
	}}
	s.AddJob(job)
	s.runJob(job)

	statuses := s.GetJobStatuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, 1, statuses[0].ErrorCount)
	assert.Equal(t, "controller unreachable", statuses[0].LastError)
	// retried after half the interval
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), statuses[0].NextRun, time.Minute)
}

func TestSchedulerIgnoresDisabledJobs(t *testing.T) {
	s, cancel := newTestScheduler(t)
	defer cancel()

	s.AddJob(&Job{Name: "off", Run: func(ctx context.Context) error { return nil }})
	assert.Empty(t, s.Jobs())
	assert.Nil(t, s.GetJob("off"))
}
