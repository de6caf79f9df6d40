package store

import (
	"context"
	"database/sql"
	"time"
)

type EntityStore interface {
	UpsertEntity(ctx context.Context, e *Entity) error
	MarkEntityInactive(ctx context.Context, id int64) error
	GetEntity(ctx context.Context, id int64) (*Entity, error)
	ListEntitiesByGroup(ctx context.Context, groupID *int64) ([]Entity, error)
	HighestEntityID(ctx context.Context) (int64, error)
	CountActiveEntities(ctx context.Context) (int, error)
}

type StatusHistory interface {
	AppendSnapshot(ctx context.Context, snap *StatusSnapshot) (int64, error)
	LatestTwo(ctx context.Context, entityID int64) ([]StatusSnapshot, error)
	ListSnapshots(ctx context.Context, entityID int64, limit int) ([]StatusSnapshot, error)
	CountChecksSince(ctx context.Context, since time.Time) (int, error)
}

type MonitoringQueue interface {
	Enqueue(ctx context.Context, entityID int64, reason string, delay time.Duration) (bool, error)
	DueEntries(ctx context.Context, limit int) ([]QueueEntry, error)
	Reschedule(ctx context.Context, entityID int64, delay time.Duration) (bool, error)
	RemoveFromQueue(ctx context.Context, entityID int64) error
	PurgeStale(ctx context.Context) (int64, error)
	GetQueueEntry(ctx context.Context, entityID int64) (*QueueEntry, error)
	ListQueue(ctx context.Context, limit int) ([]QueueEntry, error)
	CountQueue(ctx context.Context) (int, error)
}

type ResetFacts interface {
	// RecordReset stores the fact and retires the entity's queue entry in one
	// transaction. It reports false when the snapshot already produced a fact.
	RecordReset(ctx context.Context, fact *ResetFact) (bool, error)
	ListResetFacts(ctx context.Context, filter ResetFactFilter) ([]ResetFactView, error)
	CountResetFacts(ctx context.Context, groupID *int64) (total int, uniqueEntities int, err error)
}

type TrackerStore interface {
	EntityStore
	StatusHistory
	MonitoringQueue
	ResetFacts
}

type trackerStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

type Option func(*trackerStore)

// WithClock replaces time.Now for queue scheduling.
func WithClock(now func() time.Time) Option {
	return func(s *trackerStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewTrackerStore(db *sql.DB, dialect Dialect, opts ...Option) TrackerStore {
	s := &trackerStore{db: db, dialect: dialect, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *trackerStore) q(query string) string {
	return rebind(s.dialect, query)
}

func (s *trackerStore) nowUTC() time.Time {
	return s.now().UTC()
}
