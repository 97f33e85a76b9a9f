package scheduler

import "time"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Running: s.c != nil, Timezone: s.cfg.Timezone}
	defs := make([]scheduleDef, len(s.defs))
	copy(defs, s.defs)
	c, loc := s.c, s.loc
	s.mu.Unlock()

	if snap.Timezone == "" {
		if loc == nil {
			loc = time.Local
		}
		snap.Timezone = loc.String()
	}
	for _, d := range defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout, Running: d.state.running.Load()}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		d.state.mu.Lock()
		it.Runs, it.Skips, it.Fails = d.state.runs, d.state.skips, d.state.fails
		it.LastAt, it.LastDur = d.state.lastAt, d.state.lastDur
		if d.state.lastErr != nil {
			it.LastErr = d.state.lastErr.Error()
		}
		d.state.mu.Unlock()
		snap.Schedules = append(snap.Schedules, it)
	}
	return snap
}
