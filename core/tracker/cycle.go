package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"resetwatch/core/pnw"
	"resetwatch/core/store"
)

type CycleResult struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Due         int       `json:"due"`
	Checked     int       `json:"checked"`
	ResetsFound int       `json:"resets_found"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	Error       string    `json:"error,omitempty"`
}

// CheckCode classifies the outcome of a single check.
type CheckCode string

const (
	CheckOK        CheckCode = "ok"
	CheckInvalid   CheckCode = "invalid"
	CheckBusy      CheckCode = "busy"
	CheckNotFound  CheckCode = "not_found"
	CheckUpstream  CheckCode = "upstream_error"
	CheckStoreFail CheckCode = "store_error"
)

type CheckResult struct {
	Success       bool                  `json:"success"`
	Code          CheckCode             `json:"code"`
	EntityID      int64                 `json:"entity_id"`
	Snapshot      *store.StatusSnapshot `json:"snapshot,omitempty"`
	ResetDetected bool                  `json:"reset_detected"`
	Fact          *store.ResetFact      `json:"fact,omitempty"`
	NextCheckAt   *time.Time            `json:"next_check_at,omitempty"`
	Error         string                `json:"error,omitempty"`
}

// RunCycle drains one batch of due queue entries. Entities whose fetch fails
// keep their queue entry untouched.
func (e *Engine) RunCycle(ctx context.Context) (CycleResult, error) {
	if !e.cycleMu.TryLock() {
		return CycleResult{Error: ErrBusy.Error()}, ErrBusy
	}
	defer e.cycleMu.Unlock()

	res := CycleResult{StartedAt: e.now().UTC()}
	if id, err := uuid.NewV7(); err == nil {
		res.RunID = id.String()
	}
	due, err := e.store.DueEntries(ctx, e.opts.BatchSize)
	if err != nil {
		res.Error = err.Error()
		res.FinishedAt = e.now().UTC()
		return res, fmt.Errorf("due entries: %w", err)
	}
	res.Due = len(due)
	for i, entry := range due {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			if err := e.sleep(ctx, e.opts.EntityDelay); err != nil {
				break
			}
		}
		if !e.acquireSlot(entry.EntityID) {
			res.Skipped++
			continue
		}
		out := e.checkEntity(ctx, entry.EntityID, false)
		e.releaseSlot(entry.EntityID)
		if !out.Success {
			res.Failed++
			continue
		}
		res.Checked++
		if out.ResetDetected {
			res.ResetsFound++
		}
	}
	if ctx.Err() != nil {
		res.Error = ErrStopped.Error()
	}
	res.FinishedAt = e.now().UTC()
	return e.finishCycle(ctx, res), nil
}

func (e *Engine) finishCycle(ctx context.Context, res CycleResult) CycleResult {
	stored := res
	e.mu.Lock()
	e.lastCycle = &stored
	e.mu.Unlock()
	depth, err := e.store.CountQueue(context.WithoutCancel(ctx))
	if err != nil {
		e.logger.Warnf("count queue: %v", err)
	}
	e.metrics.observeCycle(res.FinishedAt.Sub(res.StartedAt), depth)
	if res.Due > 0 {
		e.logger.Printf("cycle %s: due=%d checked=%d resets=%d failed=%d skipped=%d", res.RunID, res.Due, res.Checked, res.ResetsFound, res.Failed, res.Skipped)
	}
	ev := newEvent(EventCycleCompleted, res.FinishedAt)
	ev.Cycle = &stored
	e.publish(context.WithoutCancel(ctx), ev)
	return res
}

// CheckOne checks a single entity now, regardless of its queue timing.
func (e *Engine) CheckOne(ctx context.Context, entityID int64) CheckResult {
	if entityID <= 0 {
		return CheckResult{EntityID: entityID, Code: CheckInvalid, Error: "invalid entity id"}
	}
	if !e.acquireSlot(entityID) {
		return CheckResult{EntityID: entityID, Code: CheckBusy, Error: ErrBusy.Error()}
	}
	defer e.releaseSlot(entityID)
	return e.checkEntity(ctx, entityID, true)
}

func (e *Engine) checkEntity(ctx context.Context, entityID int64, manual bool) CheckResult {
	res := CheckResult{EntityID: entityID}
	nation, err := e.upstream.FetchEntityStatus(ctx, entityID)
	if err != nil {
		res.Error = err.Error()
		if errors.Is(err, pnw.ErrEntityNotFound) {
			res.Code = CheckNotFound
			e.metrics.observeCheck("not_found")
			e.retire(ctx, entityID, true)
		} else {
			res.Code = CheckUpstream
			e.metrics.observeCheck("failed")
		}
		e.logger.Warnf("check nation %d: %v", entityID, err)
		return res
	}

	now := e.now().UTC()
	ent := entityFromNation(nation, now)
	ent.ID = entityID
	if err := e.store.UpsertEntity(ctx, &ent); err != nil {
		return e.persistFailure(res, "upsert entity", err)
	}
	snap := store.StatusSnapshot{
		EntityID:            entityID,
		ProtectionAvailable: nation.ProtectionAvailable,
		BeigeTurns:          nation.BeigeTurns,
		HiatusTurns:         nation.HiatusTurns,
		LastActive:          nation.LastActive,
		CheckedAt:           now,
	}
	if _, err := e.store.AppendSnapshot(ctx, &snap); err != nil {
		return e.persistFailure(res, "append snapshot", err)
	}
	res.Snapshot = &snap
	window, err := e.store.LatestTwo(ctx, entityID)
	if err != nil {
		return e.persistFailure(res, "latest snapshots", err)
	}

	if fact, ok := Detect(previousOf(window, snap), snap); ok {
		created, err := e.store.RecordReset(ctx, &fact)
		if err != nil {
			return e.persistFailure(res, "record reset", err)
		}
		res.Success = true
		res.Code = CheckOK
		res.ResetDetected = true
		res.Fact = &fact
		e.metrics.observeCheck("ok")
		if created {
			e.metrics.observeReset()
			e.logger.Printf("reset detected for nation %d at %s", entityID, fact.ResetAt.Format(time.RFC3339))
			ev := newEvent(EventResetDetected, now)
			ev.EntityID = entityID
			ev.Entity = &ent
			ev.Fact = &fact
			e.publish(context.WithoutCancel(ctx), ev)
		}
		return res
	}

	if !ent.Active || !ent.HasGroup() {
		e.retire(ctx, entityID, false)
	} else if err := e.rearm(ctx, entityID, snap, manual); err != nil {
		return e.persistFailure(res, "re-arm queue entry", err)
	}
	if entry, err := e.store.GetQueueEntry(ctx, entityID); err == nil && entry != nil {
		next := entry.NextCheckAt
		res.NextCheckAt = &next
	}
	res.Success = true
	res.Code = CheckOK
	e.metrics.observeCheck("ok")
	return res
}

// rearm pushes an existing entry out by the re-check delay. A manual check of
// a protected entity that is not queued yet starts monitoring it.
func (e *Engine) rearm(ctx context.Context, entityID int64, snap store.StatusSnapshot, manual bool) error {
	ok, err := e.store.Reschedule(ctx, entityID, e.opts.RecheckDelay)
	if err != nil || ok || !manual {
		return err
	}
	if snap.ProtectionAvailable {
		return nil
	}
	_, err = e.store.Enqueue(ctx, entityID, store.ReasonProtected, e.opts.RecheckDelay)
	return err
}

// retire stops monitoring an entity; gone entities are also flagged inactive.
func (e *Engine) retire(ctx context.Context, entityID int64, gone bool) {
	if gone {
		existing, err := e.store.GetEntity(ctx, entityID)
		if err == nil && existing != nil && existing.Active {
			if err := e.store.MarkEntityInactive(ctx, entityID); err != nil {
				e.logger.Errorf("mark nation %d inactive: %v", entityID, err)
			}
		}
	}
	if err := e.store.RemoveFromQueue(ctx, entityID); err != nil {
		e.logger.Errorf("remove nation %d from queue: %v", entityID, err)
	}
}

func (e *Engine) persistFailure(res CheckResult, op string, err error) CheckResult {
	e.metrics.observeCheck("failed")
	e.logger.Errorf("check nation %d: %s: %v", res.EntityID, op, err)
	res.Success = false
	res.Code = CheckStoreFail
	res.Error = fmt.Sprintf("%s: %v", op, err)
	return res
}
