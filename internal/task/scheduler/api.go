package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"spclaim/internal/task/engine"
	logx "spclaim/pkg/logx"
)

// Add registers job under name, replacing any schedule with the same name.
// A non-empty timezone pins a cron schedule to that zone; otherwise the
// scheduler timezone applies. The schedule is validated even when the
// runner is not started yet.
func (s *Service) Add(name, schedule, timezone string, timeout time.Duration, opt engine.TaskOptions, job func(ctx context.Context) error) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if job == nil {
		return "", errors.New("job required")
	}
	spec, err := normalize(schedule, timezone)
	if err != nil {
		return "", err
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Keep the run state across an upsert so a run in flight still counts
	// against the overlap policy of its replacement.
	state := &engine.RunState{}
	if old := s.defs[name]; old != nil {
		state = old.state
		s.unregisterLocked(old)
	}
	d := &scheduleDef{
		name:     name,
		raw:      strings.TrimSpace(schedule),
		spec:     spec,
		timezone: strings.TrimSpace(timezone),
		timeout:  timeout,
		job:      job,
		opt:      opt,
		state:    state,
	}
	s.defs[name] = d

	if s.c == nil {
		return name, nil
	}
	if err := s.registerLocked(d); err != nil {
		delete(s.defs, name)
		return "", err
	}
	fields := []logx.Field{logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout), logx.String("overlap", opt.Overlap.String())}
	if next := s.previewNextRunsLocked(spec, 4); next != "" {
		fields = append(fields, logx.String("next", next))
	}
	s.log.Debug("schedule registered", fields...)
	return name, nil
}

// Remove unschedules name. It reports whether something was removed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	d := s.defs[name]
	if d != nil {
		s.unregisterLocked(d)
		delete(s.defs, name)
	}
	s.mu.Unlock()
	if d != nil {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return d != nil
}

// Names returns registered schedule names in sorted order.
func (s *Service) Names() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.defs))
	for n := range s.defs {
		out = append(out, n)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// NextRuns returns the next n fire times of schedule strictly after from.
// An empty timezone falls back to the scheduler timezone.
func (s *Service) NextRuns(schedule, timezone string, from time.Time, n int) ([]time.Time, error) {
	if strings.TrimSpace(timezone) == "" {
		s.mu.Lock()
		timezone = s.cfg.Timezone
		s.mu.Unlock()
	}
	return NextRuns(schedule, timezone, from, n)
}

// NextRuns is the stateless form of Service.NextRuns.
func NextRuns(schedule, timezone string, from time.Time, n int) ([]time.Time, error) {
	spec, err := normalize(schedule, timezone)
	if err != nil {
		return nil, err
	}
	sched, err := Parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	if tz := strings.TrimSpace(timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, err
		}
		from = from.In(loc)
	}
	out := make([]time.Time, 0, max(n, 0))
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

// normalize turns a configured schedule into a cron expression for the parser.
func normalize(schedule, timezone string) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	if tz := strings.TrimSpace(timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return "", fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
	}
	switch ps.Kind {
	case SpecInterval:
		return "@every " + ps.Every.String(), nil
	default:
		return withTimezone(ps.Cron, timezone), nil
	}
}

func (s *Service) registerLocked(d *scheduleDef) error {
	job := cron.FuncJob(func() { s.fire(d) })
	eid, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

func (s *Service) unregisterLocked(d *scheduleDef) {
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	d.entryID = 0
}

// fire hands one run to the engine. It never blocks the cron goroutine.
func (s *Service) fire(d *scheduleDef) {
	if s.enq == nil {
		return
	}
	err := s.enq.Enqueue(engine.Task{
		Name:    d.name,
		Timeout: d.timeout,
		Run:     d.job,
		Opt:     d.opt,
		State:   d.state,
	})
	if err != nil {
		s.reportEnqueueError(d.name, err)
	}
}

// previewNextRunsLocked formats upcoming fire times for debug logs.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05 MST"))
	}
	return b.String()
}
