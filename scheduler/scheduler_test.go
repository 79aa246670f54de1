package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldRunOnce(t *testing.T) {
	now := time.Now()
	task := &Task{Kind: TaskOnce, RunAt: now, Enabled: true}

	assert.False(t, task.ShouldRun(now.Add(-time.Second)))
	assert.True(t, task.ShouldRun(now))
	assert.True(t, task.ShouldRun(now.Add(time.Hour)))

	task.RunCount = 1
	assert.False(t, task.ShouldRun(now.Add(time.Hour)))
}

func TestShouldRunInterval(t *testing.T) {
	now := time.Now()
	task := &Task{Kind: TaskInterval, Interval: 10 * time.Second, Enabled: true}

	// Never ran: fires on the first tick.
	assert.True(t, task.ShouldRun(now))

	task.LastRun = now
	assert.False(t, task.ShouldRun(now.Add(5*time.Second)))
	assert.True(t, task.ShouldRun(now.Add(10*time.Second)))

	task.Enabled = false
	assert.True(t, !task.ShouldRun(now.Add(time.Hour)))
}

func TestSchedulerRunsOnceTaskExactlyOnce(t *testing.T) {
	s := New(WithTick(10 * time.Millisecond))
	var runs atomic.Int32
	s.ScheduleOnce("t1", "agent", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, time.Now())

	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())

	tasks := s.TasksForAgent("agent")
	require.Len(t, tasks, 1)
	assert.False(t, tasks[0].Enabled)
	assert.Equal(t, 1, tasks[0].RunCount)
}

func TestSchedulerIntervalStartImmediately(t *testing.T) {
	s := New(WithTick(10 * time.Millisecond))
	var immediate, delayed atomic.Int32
	s.ScheduleInterval("now", "agent", func(ctx context.Context) error {
		immediate.Add(1)
		return nil
	}, time.Hour, true)
	s.ScheduleInterval("later", "agent", func(ctx context.Context) error {
		delayed.Add(1)
		return nil
	}, time.Hour, false)

	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(1), immediate.Load(), "start_immediately fires on the first tick")
	assert.Equal(t, int32(0), delayed.Load(), "seeded last_run waits a full interval")
}

func TestSchedulerIntervalRepeats(t *testing.T) {
	s := New(WithTick(10 * time.Millisecond))
	var runs atomic.Int32
	s.ScheduleInterval("t", "agent", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, 30*time.Millisecond, true)

	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(200 * time.Millisecond)
	n := runs.Load()
	assert.GreaterOrEqual(t, n, int32(3))
	assert.LessOrEqual(t, n, int32(8))
}

func TestSchedulerErrorKeepsTaskEligible(t *testing.T) {
	s := New(WithTick(10 * time.Millisecond))
	var runs atomic.Int32
	s.ScheduleInterval("flaky", "agent", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	}, 20*time.Millisecond, true)

	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)
	// Failed runs never advance LastRun, so the task retries every tick.
	assert.GreaterOrEqual(t, runs.Load(), int32(3))

	tasks := s.TasksForAgent("agent")
	require.Len(t, tasks, 1)
	assert.Equal(t, 0, tasks[0].RunCount)
	assert.True(t, tasks[0].Enabled)
}

func TestSchedulerRecoversPanickingCallback(t *testing.T) {
	s := New(WithTick(10 * time.Millisecond))
	s.ScheduleInterval("bad", "agent", func(ctx context.Context) error {
		panic("bad callback")
	}, 20*time.Millisecond, true)

	s.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	assert.NotPanics(t, s.Stop)
}

func TestCancelPauseResume(t *testing.T) {
	s := New(WithTick(10 * time.Millisecond))
	var runs atomic.Int32
	cb := func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}
	s.ScheduleInterval("a", "agent1", cb, 20*time.Millisecond, true)
	s.ScheduleInterval("b", "agent2", cb, 20*time.Millisecond, true)

	assert.True(t, s.Pause("a"))
	assert.False(t, s.Pause("ghost"))

	s.Start(context.Background())
	defer s.Stop()
	time.Sleep(60 * time.Millisecond)

	before := runs.Load()
	assert.True(t, s.Resume("a"))
	time.Sleep(60 * time.Millisecond)
	assert.Greater(t, runs.Load(), before)

	assert.True(t, s.Cancel("a"))
	assert.False(t, s.Cancel("a"))
	assert.Equal(t, 1, s.ClearAgentTasks("agent2"))
	assert.Equal(t, 0, s.Len())
}
