package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"spclaim/internal/task/engine"
	logx "spclaim/pkg/logx"
)

const la = "America/Los_Angeles"

type countingEnqueuer struct {
	mu    sync.Mutex
	tasks []engine.Task
	err   error
}

func (e *countingEnqueuer) Enqueue(t engine.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.tasks = append(e.tasks, t)
	return nil
}

func (e *countingEnqueuer) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

func noop(context.Context) error { return nil }

func TestEverySecondFiresOncePerSecond(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation(la)
	require.NoError(t, err)

	from := time.Date(2024, 3, 1, 12, 0, 0, 0, loc)
	runs, err := NextRuns("* * * * * *", la, from, 10)
	require.NoError(t, err)

	window := from.Add(5 * time.Second)
	inWindow := 0
	for i, r := range runs {
		if !r.After(window) {
			inWindow++
		}
		if i > 0 {
			require.Equal(t, time.Second, r.Sub(runs[i-1]))
		}
	}
	require.Equal(t, 5, inWindow)
}

func TestTopOfHourFiresOnlyAtMinuteZero(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation(la)
	require.NoError(t, err)

	from := time.Date(2024, 3, 1, 0, 30, 0, 0, loc)
	runs, err := NextRuns("0 0 * * * *", la, from, 24)
	require.NoError(t, err)
	require.Len(t, runs, 24)
	for _, r := range runs {
		require.Equal(t, 0, r.Minute())
		require.Equal(t, 0, r.Second())
	}
	require.Equal(t, 1, runs[0].Hour())
}

func TestScheduleTimezoneIsHonored(t *testing.T) {
	t.Parallel()
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	runs, err := NextRuns("0 0 9 * * *", "Asia/Tokyo", from, 3)
	require.NoError(t, err)
	for _, r := range runs {
		require.Equal(t, 9, r.In(tokyo).Hour())
	}

	// Same wall clock in Los Angeles is a different instant.
	laRuns, err := NextRuns("0 0 9 * * *", la, from, 1)
	require.NoError(t, err)
	require.NotEqual(t, runs[0], laRuns[0])
}

func TestAddValidatesBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: la}, &countingEnqueuer{}, logx.Nop())

	_, err := s.Add("bad", "61 * * * * *", "", 0, engine.TaskOptions{}, noop)
	require.Error(t, err)
	_, err = s.Add("badtz", "* * * * * *", "Mars/Olympus", 0, engine.TaskOptions{}, noop)
	require.Error(t, err)
	_, err = s.Add("", "* * * * * *", "", 0, engine.TaskOptions{}, noop)
	require.Error(t, err)
	_, err = s.Add("nojob", "* * * * * *", "", 0, engine.TaskOptions{}, nil)
	require.Error(t, err)
	require.Empty(t, s.Names())
}

func TestAddUpsertsByName(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: la}, &countingEnqueuer{}, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	_, err := s.Add("main", "0 0 * * * *", "", time.Minute, engine.TaskOptions{}, noop)
	require.NoError(t, err)
	_, err = s.Add("main", "30s", "", time.Minute, engine.TaskOptions{Overlap: engine.OverlapQueue}, noop)
	require.NoError(t, err)
	_, err = s.Add("tokyo", "0 0 9 * * *", "Asia/Tokyo", 0, engine.TaskOptions{}, noop)
	require.NoError(t, err)
	require.Equal(t, []string{"main", "tokyo"}, s.Names())

	snap := s.Snapshot()
	require.True(t, snap.Running)
	require.Equal(t, la, snap.Timezone)
	require.Len(t, snap.Schedules, 2)
	require.Equal(t, "@every 30s", snap.Schedules[0].Spec)
	require.Equal(t, "queue", snap.Schedules[0].Overlap)
	require.Equal(t, "CRON_TZ=Asia/Tokyo 0 0 9 * * *", snap.Schedules[1].Spec)
	require.Equal(t, "Asia/Tokyo", snap.Schedules[1].Timezone)
	require.False(t, snap.Schedules[1].Next.IsZero())

	require.True(t, s.Remove("main"))
	require.False(t, s.Remove("main"))
	require.Equal(t, []string{"tokyo"}, s.Names())
}

func TestDisabledSchedulerDoesNotRun(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, &countingEnqueuer{}, logx.Nop())
	s.Start(context.Background())
	require.False(t, s.Running())

	s.Apply(context.Background(), Config{Enabled: true, Timezone: "UTC"})
	require.True(t, s.Running())
	s.Apply(context.Background(), Config{Enabled: false, Timezone: "UTC"})
	require.False(t, s.Running())
}

func TestFireEnqueuesTask(t *testing.T) {
	t.Parallel()
	enq := &countingEnqueuer{}
	s := New(Config{Enabled: true, Timezone: la}, enq, logx.Nop())
	d := &scheduleDef{name: "main", timeout: time.Second, job: noop, opt: engine.TaskOptions{Overlap: engine.OverlapQueue}, state: &engine.RunState{}}

	s.fire(d)
	s.fire(d)
	require.Equal(t, 2, enq.count())
	require.Equal(t, "main", enq.tasks[0].Name)
	require.Same(t, d.state, enq.tasks[1].State)
	require.Equal(t, engine.OverlapQueue, enq.tasks[0].Opt.Overlap)

	// Rejections are logged and swallowed.
	enq.err = engine.ErrOverlapSkip
	s.fire(d)
	enq.err = engine.ErrQueueFull
	s.fire(d)
	require.Equal(t, 2, enq.count())
}

func TestRealTimeTicks(t *testing.T) {
	if testing.Short() {
		t.Skip("real-time test")
	}
	t.Parallel()
	enq := &countingEnqueuer{}
	s := New(Config{Enabled: true, Timezone: la}, enq, logx.Nop())
	_, err := s.Add("main", "* * * * * *", "", 0, engine.TaskOptions{}, noop)
	require.NoError(t, err)

	s.Start(context.Background())
	time.Sleep(3500 * time.Millisecond)
	s.Stop(context.Background())

	n := enq.count()
	require.GreaterOrEqual(t, n, 2)
	require.LessOrEqual(t, n, 4)
}
