package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"resetwatch/core/pnw"
	"resetwatch/core/store"
)

type IndexResult struct {
	Success    bool      `json:"success"`
	TotalSeen  int       `json:"total_seen"`
	Admitted   int       `json:"admitted"`
	Skipped    int       `json:"skipped"`
	Pages      int       `json:"pages"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

type DiscoverResult struct {
	Success   bool   `json:"success"`
	Watermark int64  `json:"watermark"`
	Seen      int    `json:"seen"`
	Admitted  int    `json:"admitted"`
	Error     string `json:"error,omitempty"`
}

// RunIndexing walks the whole upstream population and seeds the store and the
// queue. It fails fast on the first page error and reports partial counts.
func (e *Engine) RunIndexing(ctx context.Context) (IndexResult, error) {
	if !e.indexMu.TryLock() {
		return IndexResult{Error: ErrBusy.Error()}, ErrBusy
	}
	defer e.indexMu.Unlock()
	restore := e.enterIndexing()
	defer restore()
	return e.walkPopulation(ctx)
}

func (e *Engine) indexAll(ctx context.Context) (IndexResult, error) {
	if !e.indexMu.TryLock() {
		return IndexResult{Error: ErrBusy.Error()}, ErrBusy
	}
	defer e.indexMu.Unlock()
	return e.walkPopulation(ctx)
}

func (e *Engine) walkPopulation(ctx context.Context) (IndexResult, error) {
	res := IndexResult{StartedAt: e.now().UTC()}
	e.logger.Printf("indexing started")
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return e.finishIndex(ctx, res, fmt.Errorf("%w: %v", ErrStopped, err))
		}
		batch, err := e.upstream.FetchEntityBatch(ctx, page, e.opts.PageSize)
		if err != nil {
			return e.finishIndex(ctx, res, fmt.Errorf("fetch page %d: %w", page, err))
		}
		res.Pages++
		for _, n := range batch.Nations {
			res.TotalSeen++
			admitted, err := e.admit(ctx, n)
			if err != nil {
				return e.finishIndex(ctx, res, fmt.Errorf("store nation %d: %w", n.ID, err))
			}
			if admitted {
				res.Admitted++
			} else {
				res.Skipped++
			}
		}
		if !batch.HasMorePages || len(batch.Nations) == 0 {
			break
		}
		if err := e.sleep(ctx, e.opts.PageDelay); err != nil {
			return e.finishIndex(ctx, res, fmt.Errorf("%w: %v", ErrStopped, err))
		}
	}
	return e.finishIndex(ctx, res, nil)
}

func (e *Engine) finishIndex(ctx context.Context, res IndexResult, err error) (IndexResult, error) {
	res.FinishedAt = e.now().UTC()
	res.Success = err == nil
	if err != nil {
		res.Error = err.Error()
		e.logger.Errorf("indexing aborted after %d pages (seen=%d admitted=%d): %v", res.Pages, res.TotalSeen, res.Admitted, err)
	} else {
		e.logger.Printf("indexing finished: pages=%d seen=%d admitted=%d", res.Pages, res.TotalSeen, res.Admitted)
	}
	stored := res
	e.mu.Lock()
	e.lastIndex = &stored
	e.mu.Unlock()
	e.metrics.observeIndexed(res.TotalSeen, res.Admitted)
	ev := newEvent(EventIndexCompleted, res.FinishedAt)
	ev.Index = &stored
	e.publish(context.WithoutCancel(ctx), ev)
	return res, err
}

// DiscoverNew admits entities created upstream since the highest known id.
// Filtered nations are never stored, so the engine also remembers the highest
// id it has already evaluated and starts above whichever is larger.
func (e *Engine) DiscoverNew(ctx context.Context) (DiscoverResult, error) {
	if !e.indexMu.TryLock() {
		return DiscoverResult{Error: ErrBusy.Error()}, ErrBusy
	}
	defer e.indexMu.Unlock()

	var res DiscoverResult
	watermark, err := e.store.HighestEntityID(ctx)
	if err != nil {
		res.Error = err.Error()
		return res, fmt.Errorf("watermark: %w", err)
	}
	if watermark < e.discoverMark {
		watermark = e.discoverMark
	}
	res.Watermark = watermark
	nations, fetchErr := e.upstream.FetchEntitiesSince(ctx, watermark)
	for _, n := range nations {
		if ctx.Err() != nil {
			break
		}
		res.Seen++
		admitted, err := e.admit(ctx, n)
		if err != nil {
			res.Error = err.Error()
			return res, fmt.Errorf("store nation %d: %w", n.ID, err)
		}
		if admitted {
			res.Admitted++
		}
		if n.ID > e.discoverMark {
			e.discoverMark = n.ID
		}
	}
	e.metrics.observeIndexed(res.Seen, res.Admitted)
	if fetchErr != nil {
		res.Error = fetchErr.Error()
		e.logger.Errorf("discovery since %d: %v", watermark, fetchErr)
		return res, fetchErr
	}
	res.Success = true
	if res.Admitted > 0 {
		e.logger.Printf("discovery admitted %d new nations above id %d", res.Admitted, watermark)
	}
	return res, nil
}

// admit applies the group and hiatus filters. Filtered nations are never
// written; a known one is only flagged inactive.
func (e *Engine) admit(ctx context.Context, n pnw.Nation) (bool, error) {
	if !n.HasGroup() || n.HiatusTurns > 0 {
		existing, err := e.store.GetEntity(ctx, n.ID)
		if err != nil {
			return false, err
		}
		if existing != nil && existing.Active {
			if err := e.store.MarkEntityInactive(ctx, n.ID); err != nil {
				return false, err
			}
		}
		return false, nil
	}
	ent := entityFromNation(n, e.now().UTC())
	if err := e.store.UpsertEntity(ctx, &ent); err != nil {
		return false, err
	}
	queued, err := e.store.Enqueue(ctx, n.ID, store.ReasonNewEntity, e.opts.NewEntityDelay)
	if err != nil {
		return false, err
	}
	return queued, nil
}

func entityFromNation(n pnw.Nation, now time.Time) store.Entity {
	return store.Entity{
		ID:         n.ID,
		Name:       n.Name,
		GroupID:    n.GroupID,
		GroupName:  n.GroupName,
		Score:      n.Score,
		Cities:     n.Cities,
		Active:     n.HiatusTurns == 0,
		LastActive: n.LastActive,
		UpdatedAt:  now,
	}
}

func isStopped(err error) bool {
	return errors.Is(err, ErrStopped) || errors.Is(err, context.Canceled)
}
