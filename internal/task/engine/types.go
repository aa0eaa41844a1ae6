package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Config controls the task execution engine. The scheduler only triggers;
// everything about how a run executes lives here.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout is used when Task.Timeout is 0. 0 disables.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops tasks that waited in the queue longer than this.
	// 0 disables stale dropping.
	MaxQueueDelay time.Duration

	HistorySize int

	// RetryMax is the default number of retries after a failed run.
	// 0 means a failure is reported as-is and the next trigger is the retry.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

const (
	defaultWorkers       = 4
	defaultQueueSize     = 64
	defaultHistorySize   = 200
	defaultRetryBase     = 2 * time.Second
	defaultRetryMaxDelay = 30 * time.Second
	defaultRetryJitter   = 0.2
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = defaultRetryBase
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	return c
}

// OverlapPolicy decides what happens when a task is triggered while an
// earlier run of the same task is still queued or executing.
type OverlapPolicy int

const (
	// OverlapSkipIfRunning drops the new trigger.
	OverlapSkipIfRunning OverlapPolicy = iota
	// OverlapAllow runs the new trigger concurrently (bounded by Workers).
	OverlapAllow
	// OverlapQueue runs triggers one after another, keeping at most
	// QueueDepth waiting behind the running one.
	OverlapQueue
)

func (p OverlapPolicy) String() string {
	switch p {
	case OverlapAllow:
		return "allow"
	case OverlapQueue:
		return "queue"
	default:
		return "skip"
	}
}

// ParseOverlap maps a config value to a policy. Empty means skip.
func ParseOverlap(s string) (OverlapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip", "skip_if_running":
		return OverlapSkipIfRunning, nil
	case "allow":
		return OverlapAllow, nil
	case "queue":
		return OverlapQueue, nil
	default:
		return OverlapSkipIfRunning, fmt.Errorf("invalid overlap policy %q (use allow, skip or queue)", s)
	}
}

// RetryNone as TaskOptions.RetryMax runs a task once even when the engine
// retries by default.
const RetryNone = -1

type TaskOptions struct {
	Overlap OverlapPolicy

	// QueueDepth bounds waiting runs for OverlapQueue (default 1).
	QueueDepth int

	// RetryMax 0 inherits Config.RetryMax; RetryNone turns retries off.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%
}

func (o TaskOptions) withDefaults(cfg Config) TaskOptions {
	switch {
	case o.RetryMax == 0:
		o.RetryMax = cfg.RetryMax
	case o.RetryMax < 0:
		o.RetryMax = 0
	}
	if o.RetryBase <= 0 {
		o.RetryBase = cfg.RetryBase
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = cfg.RetryMaxDelay
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = defaultRetryJitter
	}
	if o.Overlap == OverlapQueue && o.QueueDepth <= 0 {
		o.QueueDepth = 1
	}
	return o
}

// limit is the max number of queued+running runs allowed per task.
// 0 means unlimited.
func (o TaskOptions) limit() int {
	switch o.Overlap {
	case OverlapAllow:
		return 0
	case OverlapQueue:
		return 1 + o.QueueDepth
	default:
		return 1
	}
}

// RunState tracks queued and running executions of one task. The scheduler
// keeps one per schedule so overlap is judged across triggers.
type RunState struct {
	mu      sync.Mutex
	pending int

	laneOnce sync.Once
	lane     chan struct{}
}

func (s *RunState) tryAcquire(limit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > 0 && s.pending >= limit {
		return false
	}
	s.pending++
	return true
}

func (s *RunState) release() {
	s.mu.Lock()
	if s.pending > 0 {
		s.pending--
	}
	s.mu.Unlock()
}

// Pending reports queued plus running executions.
func (s *RunState) Pending() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// enterLane serializes OverlapQueue runs. It returns false if ctx or stop
// fired first.
func (s *RunState) enterLane(ctx context.Context, stop <-chan struct{}) bool {
	s.laneOnce.Do(func() { s.lane = make(chan struct{}, 1) })
	select {
	case s.lane <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	}
}

func (s *RunState) leaveLane() { <-s.lane }

// Task is a unit of work executed by the engine.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions
	State   *RunState
}

// Result is the outcome of one run, delivered to the ResultHandler after
// retries are exhausted.
type Result struct {
	ID         string
	Name       string
	Enqueued   time.Time
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Attempts   int
	Err        error
}

func (r Result) OK() bool { return r.Err == nil }

// ResultHandler receives every finished run. It is called on the worker
// goroutine, so it should not block for long.
type ResultHandler func(Result)

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Attempts   int
	Error      string
}

// TaskEvent is the payload of task.* events on the bus.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Enabled  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Completed        uint64
	Failed           uint64
	Skipped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64

	DefaultTimeout time.Duration
	MaxQueueDelay  time.Duration
	RetryMax       int

	History []HistoryItem
}
