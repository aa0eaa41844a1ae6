package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"spclaim/internal/eventbus"
	logx "spclaim/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			s.runQueued(ctx, stopCh, qt, rng)
		}
	}
}

func (s *Service) runQueued(ctx context.Context, stopCh <-chan struct{}, qt queuedTask, rng *rand.Rand) {
	defer qt.state.release()

	if qt.opt.Overlap == OverlapQueue {
		if !qt.state.enterLane(ctx, stopCh) {
			return
		}
		defer qt.state.leaveLane()
	}

	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	s.execOne(ctx, stopCh, qt, rng)
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qt queuedTask, rng *rand.Rand) {
	start := time.Now()
	queueDelay := start.Sub(qt.enqueuedAt)
	if queueDelay < 0 {
		queueDelay = 0
	}

	s.mu.Lock()
	maxDelay := s.cfg.MaxQueueDelay
	s.mu.Unlock()

	if maxDelay > 0 && queueDelay > maxDelay {
		s.onStale(start, qt.task, queueDelay)
		s.record(HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"})
		s.deliver(Result{ID: qt.task.ID, Name: qt.task.Name, Enqueued: qt.enqueuedAt, Started: start, QueueDelay: queueDelay, Err: ErrStale})
		return
	}

	s.log.Debug("task started", logx.String("task", qt.task.Name), logx.String("id", qt.task.ID), logx.Duration("queue_delay", queueDelay))
	s.publish(eventbus.TaskStarted, TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay})

	var err error
	attempts := 0
	maxAttempts := 1 + qt.opt.RetryMax
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		err = s.runAttempt(ctx, qt)
		if err == nil || IsNoRetry(err) || attempt >= maxAttempts {
			break
		}

		delay := backoffDelayWithHint(qt.opt, attempt, err, rng)
		s.log.Debug("task retry scheduled", logx.String("task", qt.task.Name), logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			err = ctx.Err()
			break attemptLoop
		case <-stopCh:
			tmr.Stop()
			err = ErrStopping
			break attemptLoop
		case <-tmr.C:
		}
	}

	dur := time.Since(start)
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	ev := TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	if err != nil {
		s.failed.Add(1)
		item.Error = err.Error()
		ev.Error = item.Error
		s.publish(eventbus.TaskFailed, ev)
	} else {
		s.completed.Add(1)
		s.publish(eventbus.TaskFinished, ev)
	}
	s.record(item)
	s.deliver(Result{
		ID:         qt.task.ID,
		Name:       qt.task.Name,
		Enqueued:   qt.enqueuedAt,
		Started:    start,
		QueueDelay: queueDelay,
		Duration:   dur,
		Attempts:   attempts,
		Err:        err,
	})
}

// runAttempt executes one attempt with the task timeout. A panic becomes an
// error so a bad task cannot kill the worker.
func (s *Service) runAttempt(ctx context.Context, qt queuedTask) (err error) {
	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task panicked", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return qt.task.Run(runCtx)
}

func (s *Service) deliver(r Result) {
	h := s.onResult
	if h == nil {
		if r.Err != nil {
			s.log.Warn("task failed", logx.String("task", r.Name), logx.Int("attempts", r.Attempts), logx.Err(r.Err))
		}
		return
	}
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("result handler panicked", logx.String("task", r.Name), logx.Any("panic", p))
		}
	}()
	h(r)
}

func backoffDelayWithHint(opt TaskOptions, retry int, err error, rng *rand.Rand) time.Duration {
	var ra RetryAfterError
	if errors.As(err, &ra) {
		return withJitter(ra.RetryAfter(), opt, rng)
	}
	d := opt.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= opt.RetryMaxDelay {
			break
		}
	}
	return withJitter(d, opt, rng)
}

func withJitter(d time.Duration, opt TaskOptions, rng *rand.Rand) time.Duration {
	if d < 0 {
		d = 0
	}
	if opt.RetryMaxDelay > 0 && d > opt.RetryMaxDelay {
		d = opt.RetryMaxDelay
	}
	if opt.RetryJitter > 0 && d > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * opt.RetryJitter
		d = time.Duration(float64(d) * (1 + r))
	}
	if opt.RetryMaxDelay > 0 && d > opt.RetryMaxDelay {
		d = opt.RetryMaxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}
