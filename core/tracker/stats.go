package tracker

import (
	"context"
	"time"

	"resetwatch/core/store"
)

const recentDetections = 10

type Stats struct {
	Running         bool                 `json:"running"`
	State           State                `json:"state"`
	MonitoringCount int                  `json:"monitoring_count"`
	TotalEntities   int                  `json:"total_entities"`
	ResetsFound     int                  `json:"resets_found"`
	UniqueEntities  int                  `json:"unique_entities"`
	RecentChecks    int                  `json:"recent_checks"`
	LastIndex       *IndexResult         `json:"last_index,omitempty"`
	LastIndexAt     *time.Time           `json:"last_index_at,omitempty"`
	LastCycle       *CycleResult         `json:"last_cycle,omitempty"`
	LastCycleAt     *time.Time           `json:"last_cycle_at,omitempty"`
	LastCleanupAt   *time.Time           `json:"last_cleanup_at,omitempty"`
	NextRuns        map[string]time.Time `json:"next_runs"`
}

type ResetReport struct {
	GroupID          *int64                `json:"group_id,omitempty"`
	TotalDetections  int                   `json:"total_detections"`
	UniqueEntities   int                   `json:"unique_entities"`
	HourlyHistogram  [24]int               `json:"hourly_histogram"`
	RecentDetections []store.ResetFactView `json:"recent_detections"`
}

// GetStats never fails; counters that cannot be read stay zero.
func (e *Engine) GetStats(ctx context.Context) Stats {
	e.mu.Lock()
	st := Stats{
		Running:  e.running,
		State:    e.state,
		NextRuns: map[string]time.Time{},
	}
	if e.lastIndex != nil {
		v := *e.lastIndex
		st.LastIndex = &v
		at := v.FinishedAt
		st.LastIndexAt = &at
	}
	if e.lastCycle != nil {
		v := *e.lastCycle
		st.LastCycle = &v
		at := v.FinishedAt
		st.LastCycleAt = &at
	}
	if !e.lastCleanup.IsZero() {
		at := e.lastCleanup
		st.LastCleanupAt = &at
	}
	e.mu.Unlock()

	if st.Running {
		for name, at := range e.runner.nextRuns() {
			st.NextRuns[name] = at
		}
	}
	if n, err := e.store.CountQueue(ctx); err == nil {
		st.MonitoringCount = n
	} else {
		e.logger.Warnf("stats: count queue: %v", err)
	}
	if n, err := e.store.CountActiveEntities(ctx); err == nil {
		st.TotalEntities = n
	} else {
		e.logger.Warnf("stats: count entities: %v", err)
	}
	if total, unique, err := e.store.CountResetFacts(ctx, nil); err == nil {
		st.ResetsFound = total
		st.UniqueEntities = unique
	} else {
		e.logger.Warnf("stats: count resets: %v", err)
	}
	if n, err := e.store.CountChecksSince(ctx, e.now().UTC().Add(-e.opts.RecentWindow)); err == nil {
		st.RecentChecks = n
	} else {
		e.logger.Warnf("stats: count checks: %v", err)
	}
	return st
}

// GetResetReport aggregates recorded facts, optionally for one group. The
// histogram buckets resets by UTC hour of day.
func (e *Engine) GetResetReport(ctx context.Context, groupID *int64) ResetReport {
	report := ResetReport{GroupID: groupID, RecentDetections: []store.ResetFactView{}}
	facts, err := e.store.ListResetFacts(ctx, store.ResetFactFilter{GroupID: groupID})
	if err != nil {
		e.logger.Warnf("report: list resets: %v", err)
		return report
	}
	seen := make(map[int64]struct{}, len(facts))
	for _, f := range facts {
		report.HourlyHistogram[f.ResetAt.UTC().Hour()]++
		seen[f.EntityID] = struct{}{}
	}
	report.TotalDetections = len(facts)
	report.UniqueEntities = len(seen)
	if len(facts) > recentDetections {
		facts = facts[:recentDetections]
	}
	report.RecentDetections = append(report.RecentDetections, facts...)
	return report
}

func (e *Engine) ListEntities(ctx context.Context, groupID *int64) ([]store.Entity, error) {
	return e.store.ListEntitiesByGroup(ctx, groupID)
}

func (e *Engine) History(ctx context.Context, entityID int64, limit int) ([]store.StatusSnapshot, error) {
	return e.store.ListSnapshots(ctx, entityID, limit)
}

func (e *Engine) Queue(ctx context.Context, limit int) ([]store.QueueEntry, error) {
	return e.store.ListQueue(ctx, limit)
}
