package scheduler

import (
	"sort"
	"time"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	tz := s.cfg.Timezone
	if tz == "" {
		loc := s.loc
		if loc == nil {
			loc = time.Local
		}
		tz = loc.String()
	}
	snap := Snapshot{Enabled: s.cfg.Enabled, Running: s.c != nil, Timezone: tz}
	for _, d := range s.defs {
		it := ScheduleInfo{
			Name:     d.name,
			Schedule: d.raw,
			Spec:     d.spec,
			Timezone: d.timezone,
			Timeout:  d.timeout,
			Overlap:  d.opt.Overlap.String(),
			Pending:  d.state.Pending(),
		}
		if it.Timezone == "" {
			it.Timezone = tz
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].Name < snap.Schedules[j].Name })
	return snap
}
