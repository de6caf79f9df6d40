package backups

import (
	"context"
	"sync"
	"time"
)

const maxSchedulerPoll = time.Minute

// Scheduler keeps the newest backup no older than interval. The age is taken
// from the backup directory, so a restart does not reset the clock.
type Scheduler struct {
	interval time.Duration
	svc      *Service

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

func NewScheduler(interval time.Duration, svc *Service) *Scheduler {
	return &Scheduler{interval: interval, svc: svc}
}

// Enabled is false for a zero interval.
func (s *Scheduler) Enabled() bool {
	return s != nil && s.svc != nil && s.interval > 0
}

func (s *Scheduler) StartWithContext(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	runCtx, stop := context.WithCancel(ctx)
	s.stop = stop
	s.done = make(chan struct{})
	go s.loop(runCtx, s.done)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	poll := s.interval
	if poll > maxSchedulerPoll {
		poll = maxSchedulerPoll
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		s.runIfDue(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) StopWithContext(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Due reports whether the newest backup is older than the interval.
func (s *Scheduler) Due(now time.Time) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	items, err := s.svc.ListArtifacts()
	if err != nil {
		return false, err
	}
	if len(items) == 0 {
		return true, nil
	}
	return now.Sub(items[0].CreatedAt) >= s.interval, nil
}

func (s *Scheduler) runIfDue(ctx context.Context) {
	due, err := s.Due(backupNow())
	if err != nil {
		s.svc.logger.Warnf("backup schedule: %v", err)
		return
	}
	if due {
		_ = s.RunOnce(ctx)
	}
}

// RunOnce takes an "auto" backup regardless of age.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	if _, err := s.svc.CreateBackup(ctx, "auto"); err != nil {
		if ctx.Err() == nil {
			s.svc.logger.Errorf("scheduled backup: %v", err)
		}
		return err
	}
	return nil
}
