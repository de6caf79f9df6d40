package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"resetwatch/config"
	"resetwatch/core/store"
	"resetwatch/core/utils"
)

var (
	ErrBusy    = errors.New("tracker busy")
	ErrStopped = errors.New("tracker stopped")
)

type State string

const (
	StateIdle       State = "idle"
	StateIndexing   State = "indexing"
	StateMonitoring State = "monitoring"
)

type Options struct {
	PageSize         int
	BatchSize        int
	TickInterval     time.Duration
	NewEntityDelay   time.Duration
	RecheckDelay     time.Duration
	PageDelay        time.Duration
	EntityDelay      time.Duration
	RecentWindow     time.Duration
	DiscoverSchedule string
	CycleSchedule    string
	CleanupSchedule  string
	SkipInitialIndex bool
}

func DefaultOptions() Options {
	return Options{
		PageSize:         100,
		BatchSize:        100,
		TickInterval:     time.Minute,
		NewEntityDelay:   time.Hour,
		RecheckDelay:     6 * time.Hour,
		PageDelay:        time.Second,
		EntityDelay:      500 * time.Millisecond,
		RecentWindow:     24 * time.Hour,
		DiscoverSchedule: "@every 1h",
		CycleSchedule:    "@every 2h",
		CleanupSchedule:  "@every 24h",
	}
}

func OptionsFromConfig(cfg config.TrackerConfig, pageSize int) Options {
	opts := DefaultOptions()
	if pageSize > 0 {
		opts.PageSize = pageSize
	}
	if cfg.BatchSize > 0 {
		opts.BatchSize = cfg.BatchSize
	}
	opts.TickInterval = cfg.EffectiveTick()
	if cfg.NewEntityDelay > 0 {
		opts.NewEntityDelay = cfg.NewEntityDelay
	}
	if cfg.RecheckDelay > 0 {
		opts.RecheckDelay = cfg.RecheckDelay
	}
	if cfg.PageDelay >= 0 {
		opts.PageDelay = cfg.PageDelay
	}
	if cfg.EntityDelay >= 0 {
		opts.EntityDelay = cfg.EntityDelay
	}
	if cfg.RecentWindow > 0 {
		opts.RecentWindow = cfg.RecentWindow
	}
	if cfg.DiscoverSchedule != "" {
		opts.DiscoverSchedule = cfg.DiscoverSchedule
	}
	if cfg.CycleSchedule != "" {
		opts.CycleSchedule = cfg.CycleSchedule
	}
	if cfg.CleanupSchedule != "" {
		opts.CleanupSchedule = cfg.CleanupSchedule
	}
	opts.SkipInitialIndex = cfg.SkipInitialIndex
	return opts
}

// Engine owns the scheduler loop and the operations exposed to the API and CLI.
type Engine struct {
	store    store.TrackerStore
	upstream Upstream
	sink     EventSink
	metrics  *Metrics
	logger   *utils.Logger
	opts     Options
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	runner   *runner

	cancel         context.CancelFunc
	running        bool
	state          State
	manualIndexing bool
	wg             sync.WaitGroup
	mu             sync.Mutex
	inFlight       map[int64]struct{}
	indexMu        sync.Mutex
	cycleMu        sync.Mutex

	lastIndex   *IndexResult
	lastCycle   *CycleResult
	lastCleanup time.Time

	// guarded by indexMu
	discoverMark int64
}

func NewEngine(st store.TrackerStore, upstream Upstream, opts Options, logger *utils.Logger) (*Engine, error) {
	if st == nil {
		return nil, errors.New("tracker store is required")
	}
	if upstream == nil {
		return nil, errors.New("upstream is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultOptions().PageSize
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Minute
	}
	e := &Engine{
		store:    st,
		upstream: upstream,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
		sleep:    sleepContext,
		state:    StateIdle,
		inFlight: map[int64]struct{}{},
	}
	e.runner = newRunner(func(name string, err error) {
		e.logger.Errorf("job %s failed: %v", name, err)
	})
	now := e.now().UTC()
	jobs := []struct {
		name string
		spec string
		fn   jobFunc
	}{
		{JobDiscover, opts.DiscoverSchedule, e.discoverJob},
		{JobCycle, opts.CycleSchedule, e.cycleJob},
		{JobCleanup, opts.CleanupSchedule, e.cleanupJob},
	}
	for _, j := range jobs {
		if err := e.runner.add(j.name, j.spec, now, j.fn); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) SetSink(sink EventSink) {
	if e == nil {
		return
	}
	e.sink = sink
}

func (e *Engine) SetMetrics(m *Metrics) {
	if e == nil {
		return
	}
	e.metrics = m
}

// SetClock replaces the wall clock and the inter-request sleep. Tests only.
func (e *Engine) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	if now != nil {
		e.now = now
	}
	if sleep != nil {
		e.sleep = sleep
	}
}

func (e *Engine) Start() {
	e.StartWithContext(context.Background())
}

func (e *Engine) StartWithContext(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.wg.Add(1)
	e.mu.Unlock()
	e.logger.Printf("tracker started")
	go e.loop(runCtx)
}

func (e *Engine) Stop() {
	_ = e.StopWithContext(context.Background())
}

func (e *Engine) StopWithContext(ctx context.Context) error {
	e.mu.Lock()
	if e.cancel == nil || !e.running {
		e.mu.Unlock()
		return nil
	}
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	cancel()
	waitDone := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
		e.logger.Printf("tracker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) loop(ctx context.Context) {
	defer func() {
		e.mu.Lock()
		e.running = false
		e.cancel = nil
		manual := e.manualIndexing
		e.mu.Unlock()
		// A manual walk is not bound to the loop context; it restores the
		// state itself when it finishes.
		if !manual {
			e.setState(StateIdle)
		}
		e.wg.Done()
	}()
	if !e.opts.SkipInitialIndex {
		e.setState(StateIndexing)
		if _, err := e.indexAll(ctx); err != nil && !isStopped(err) {
			e.logger.Errorf("initial indexing: %v", err)
		}
	}
	if ctx.Err() != nil {
		return
	}
	e.runner.reset(e.now().UTC())
	e.setState(StateMonitoring)
	ticker := time.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.runner.runPending(ctx, e.now().UTC())
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()
	if prev != s {
		ev := newEvent(EventStateChanged, e.now().UTC())
		ev.State = s
		e.publish(context.Background(), ev)
	}
}

// enterIndexing marks the engine as indexing and returns a func restoring the
// state that was current before, unless something else changed it meanwhile.
func (e *Engine) enterIndexing() func() {
	e.mu.Lock()
	prev := e.state
	e.manualIndexing = true
	e.mu.Unlock()
	e.setState(StateIndexing)
	return func() {
		e.mu.Lock()
		e.manualIndexing = false
		still := e.state == StateIndexing
		e.mu.Unlock()
		if !still {
			return
		}
		if prev == StateIndexing {
			prev = StateIdle
		}
		if !e.Running() {
			prev = StateIdle
		}
		e.setState(prev)
	}
}

func (e *Engine) acquireSlot(entityID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.inFlight[entityID]; ok {
		return false
	}
	e.inFlight[entityID] = struct{}{}
	return true
}

func (e *Engine) releaseSlot(entityID int64) {
	e.mu.Lock()
	delete(e.inFlight, entityID)
	e.mu.Unlock()
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Publish(ctx, ev); err != nil {
		e.logger.Warnf("publish %s: %v", ev.Type, err)
	}
}

func (e *Engine) discoverJob(ctx context.Context, _ time.Time) error {
	_, err := e.DiscoverNew(ctx)
	e.metrics.observeJob(JobDiscover, err)
	return err
}

func (e *Engine) cycleJob(ctx context.Context, _ time.Time) error {
	_, err := e.RunCycle(ctx)
	e.metrics.observeJob(JobCycle, err)
	return err
}

func (e *Engine) cleanupJob(ctx context.Context, _ time.Time) error {
	_, err := e.RunCleanup(ctx)
	e.metrics.observeJob(JobCleanup, err)
	return err
}

// RunCleanup removes stale queue entries.
func (e *Engine) RunCleanup(ctx context.Context) (int64, error) {
	removed, err := e.store.PurgeStale(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge stale: %w", err)
	}
	e.mu.Lock()
	e.lastCleanup = e.now().UTC()
	e.mu.Unlock()
	e.metrics.observePurged(removed)
	e.logger.Printf("cleanup removed %d queue entries", removed)
	return removed, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
