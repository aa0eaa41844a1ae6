package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"spclaim/internal/task/engine"
	logx "spclaim/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "America/Los_Angeles"; empty means Local
}

// Enqueuer receives a task on every fire. *engine.Service satisfies it.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

type scheduleDef struct {
	name     string
	raw      string // schedule as configured
	spec     string // normalized cron expression (CRON_TZ prefix or @every)
	timezone string
	timeout  time.Duration
	job      func(ctx context.Context) error
	opt      engine.TaskOptions
	state    *engine.RunState
	entryID  cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	enq Enqueuer

	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*scheduleDef

	// enqueue error throttling, keyed by schedule name
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name     string
	Schedule string
	Spec     string
	Timezone string
	Timeout  time.Duration
	Overlap  string
	Pending  int
	Next     time.Time
	Prev     time.Time
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
}
