package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resetwatch/config"
	"resetwatch/core/utils"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupTrackerStore(t *testing.T) (TrackerStore, *testClock) {
	t.Helper()
	cfg := &config.AppConfig{DBDriver: "sqlite", DBURL: filepath.Join(t.TempDir(), "tracker.db")}
	logger := utils.NopLogger()
	db, err := NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := ApplyMigrations(context.Background(), db, DialectSQLite, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewTrackerStore(db, DialectSQLite, WithClock(clock.Now)), clock
}

func groupID(v int64) *int64 { return &v }

func seedEntity(t *testing.T, s TrackerStore, id int64, group *int64, score float64) {
	t.Helper()
	err := s.UpsertEntity(context.Background(), &Entity{ID: id, Name: "nation", GroupID: group, Score: score, Active: true})
	require.NoError(t, err)
}

func TestEntityUpsertOverwritesAndFilters(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTrackerStore(t)

	id, err := s.HighestEntityID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)

	seedEntity(t, s, 10, groupID(7), 100)
	seedEntity(t, s, 11, groupID(7), 300)
	seedEntity(t, s, 12, groupID(8), 200)
	seedEntity(t, s, 13, nil, 999)
	seedEntity(t, s, 14, groupID(7), 500)
	require.NoError(t, s.MarkEntityInactive(ctx, 14))

	require.NoError(t, s.UpsertEntity(ctx, &Entity{ID: 10, Name: "renamed", GroupID: groupID(7), Score: 400, Active: true}))
	require.NoError(t, s.UpsertEntity(ctx, &Entity{ID: 10, Name: "renamed", GroupID: groupID(7), Score: 400, Active: true}))

	e, err := s.GetEntity(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "renamed", e.Name)

	byGroup, err := s.ListEntitiesByGroup(ctx, groupID(7))
	require.NoError(t, err)
	require.Len(t, byGroup, 2)
	assert.Equal(t, int64(10), byGroup[0].ID)
	assert.Equal(t, int64(11), byGroup[1].ID)

	all, err := s.ListEntitiesByGroup(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{10, 11, 12}, []int64{all[0].ID, all[1].ID, all[2].ID})

	id, err = s.HighestEntityID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(14), id)

	n, err := s.CountActiveEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	missing, err := s.GetEntity(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLatestTwoNewestFirst(t *testing.T) {
	ctx := context.Background()
	s, clock := setupTrackerStore(t)
	seedEntity(t, s, 5, groupID(1), 1)

	none, err := s.LatestTwo(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, none)

	for _, available := range []bool{false, false, true} {
		_, err := s.AppendSnapshot(ctx, &StatusSnapshot{EntityID: 5, ProtectionAvailable: available, CheckedAt: clock.Now()})
		require.NoError(t, err)
		clock.Advance(time.Hour)
	}
	two, err := s.LatestTwo(ctx, 5)
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.True(t, two[0].ProtectionAvailable)
	assert.False(t, two[1].ProtectionAvailable)
	assert.True(t, two[0].CheckedAt.After(two[1].CheckedAt))

	n, err := s.CountChecksSince(ctx, clock.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestEnqueueReplacesEntry(t *testing.T) {
	ctx := context.Background()
	s, clock := setupTrackerStore(t)
	seedEntity(t, s, 42, groupID(1), 1)

	ok, err := s.Enqueue(ctx, 42, ReasonNewEntity, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Enqueue(ctx, 42, ReasonProtected, 6*time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	count, err := s.CountQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	entry, err := s.GetQueueEntry(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, ReasonProtected, entry.Reason)
	assert.Equal(t, 2, entry.Priority)
	assert.Equal(t, clock.Now().Add(6*time.Hour), entry.NextCheckAt)
}

func TestDueEntriesOrderingAndLimit(t *testing.T) {
	ctx := context.Background()
	s, clock := setupTrackerStore(t)

	for i := int64(1); i <= 120; i++ {
		seedEntity(t, s, i, groupID(1), 1)
		reason := ReasonNewEntity
		if i%3 == 0 {
			reason = ReasonProtected
		}
		_, err := s.Enqueue(ctx, i, reason, time.Duration(i)*time.Minute)
		require.NoError(t, err)
	}
	// Not yet due.
	seedEntity(t, s, 500, groupID(1), 1)
	_, err := s.Enqueue(ctx, 500, ReasonManual, 48*time.Hour)
	require.NoError(t, err)

	clock.Advance(3 * time.Hour)
	due, err := s.DueEntries(ctx, 50)
	require.NoError(t, err)
	require.Len(t, due, 50)

	for i := 1; i < len(due); i++ {
		prev, cur := due[i-1], due[i]
		if prev.Priority == cur.Priority {
			assert.False(t, cur.NextCheckAt.Before(prev.NextCheckAt), "entry %d out of order", i)
		} else {
			assert.Greater(t, prev.Priority, cur.Priority)
		}
		assert.NotEqual(t, int64(500), cur.EntityID)
	}
	// 40 protected entries come first, then new-entity ones by time.
	assert.Equal(t, int64(3), due[0].EntityID)
	assert.Equal(t, int64(120), due[39].EntityID)
	assert.Equal(t, int64(1), due[40].EntityID)
}

func TestRescheduleIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTrackerStore(t)
	seedEntity(t, s, 7, groupID(1), 1)
	_, err := s.Enqueue(ctx, 7, ReasonProtected, 6*time.Hour)
	require.NoError(t, err)
	before, err := s.GetQueueEntry(ctx, 7)
	require.NoError(t, err)

	ok, err := s.Reschedule(ctx, 7, 6*time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	after, err := s.GetQueueEntry(ctx, 7)
	require.NoError(t, err)
	assert.True(t, after.NextCheckAt.After(before.NextCheckAt))

	ok, err = s.Reschedule(ctx, 999, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordResetIsIdempotentAndRetiresEntry(t *testing.T) {
	ctx := context.Background()
	s, clock := setupTrackerStore(t)
	seedEntity(t, s, 42, groupID(3), 1)
	_, err := s.Enqueue(ctx, 42, ReasonProtected, time.Hour)
	require.NoError(t, err)
	snapID, err := s.AppendSnapshot(ctx, &StatusSnapshot{EntityID: 42, ProtectionAvailable: true, CheckedAt: clock.Now()})
	require.NoError(t, err)

	fact := &ResetFact{EntityID: 42, SnapshotID: snapID, ResetAt: clock.Now()}
	created, err := s.RecordReset(ctx, fact)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, MethodStatusTransition, fact.Method)

	created, err = s.RecordReset(ctx, &ResetFact{EntityID: 42, SnapshotID: snapID, ResetAt: clock.Now()})
	require.NoError(t, err)
	assert.False(t, created)

	total, unique, err := s.CountResetFacts(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, unique)

	entry, err := s.GetQueueEntry(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, entry)

	ok, err := s.Enqueue(ctx, 42, ReasonManual, 0)
	require.NoError(t, err)
	assert.False(t, ok, "entities with a fact are not re-queued")

	views, err := s.ListResetFacts(ctx, ResetFactFilter{GroupID: groupID(3), Limit: 10})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "nation", views[0].EntityName)
	assert.InDelta(t, 1.0, views[0].Confidence, 0.0001)

	other, err := s.ListResetFacts(ctx, ResetFactFilter{GroupID: groupID(4)})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestPurgeStaleRemovesOnlyStaleEntries(t *testing.T) {
	ctx := context.Background()
	s, clock := setupTrackerStore(t)

	seedEntity(t, s, 1, groupID(1), 1) // healthy
	seedEntity(t, s, 2, groupID(1), 1) // inactive
	require.NoError(t, s.MarkEntityInactive(ctx, 2))
	seedEntity(t, s, 3, nil, 1)        // left group
	seedEntity(t, s, 4, groupID(0), 1) // group id zero
	seedEntity(t, s, 5, groupID(1), 1) // has fact
	seedEntity(t, s, 6, groupID(2), 1) // healthy
	for id := int64(1); id <= 7; id++ {
		_, err := s.Enqueue(ctx, id, ReasonNewEntity, time.Hour)
		require.NoError(t, err)
	}
	snapID, err := s.AppendSnapshot(ctx, &StatusSnapshot{EntityID: 5, ProtectionAvailable: true, CheckedAt: clock.Now()})
	require.NoError(t, err)
	// Insert the fact without the queue side effect to simulate drift.
	ts := s.(*trackerStore)
	_, err = ts.db.ExecContext(ctx, `INSERT INTO reset_facts(entity_id, snapshot_id, reset_at, confidence, method, verified, created_at) VALUES(5, ?, 1, 1.0, 'status-transition', 0, 1)`, snapID)
	require.NoError(t, err)

	removed, err := s.PurgeStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), removed)

	left, err := s.ListQueue(ctx, 0)
	require.NoError(t, err)
	ids := make([]int64, 0, len(left))
	for _, e := range left {
		ids = append(ids, e.EntityID)
	}
	assert.ElementsMatch(t, []int64{1, 6}, ids)
}

func TestRebindPostgres(t *testing.T) {
	assert.Equal(t, "SELECT a FROM t WHERE x=$1 AND y=$2", rebind(DialectPostgres, "SELECT a FROM t WHERE x=? AND y=?"))
	assert.Equal(t, "x=?", rebind(DialectSQLite, "x=?"))
}
