package store

import (
	"context"
	"database/sql"
	"time"
)

const snapshotColumns = `id, entity_id, protection_available, beige_turns, hiatus_turns, last_active, checked_at`

func (s *trackerStore) AppendSnapshot(ctx context.Context, snap *StatusSnapshot) (int64, error) {
	if snap.CheckedAt.IsZero() {
		snap.CheckedAt = s.nowUTC()
	}
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO status_history(entity_id, protection_available, beige_turns, hiatus_turns, last_active, checked_at)
		VALUES(?,?,?,?,?,?)
		RETURNING id`),
		snap.EntityID, boolToInt(snap.ProtectionAvailable), snap.BeigeTurns, snap.HiatusTurns, nullMillis(snap.LastActive), toMillis(snap.CheckedAt),
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	snap.ID = id
	return id, nil
}

// LatestTwo returns up to two snapshots, newest first.
func (s *trackerStore) LatestTwo(ctx context.Context, entityID int64) ([]StatusSnapshot, error) {
	return s.ListSnapshots(ctx, entityID, 2)
}

func (s *trackerStore) ListSnapshots(ctx context.Context, entityID int64, limit int) ([]StatusSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+snapshotColumns+`
		FROM status_history WHERE entity_id=?
		ORDER BY checked_at DESC, id DESC
		LIMIT ?`), entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []StatusSnapshot
	for rows.Next() {
		var snap StatusSnapshot
		var available int
		var lastActive sql.NullInt64
		var checkedAt int64
		if err := rows.Scan(&snap.ID, &snap.EntityID, &available, &snap.BeigeTurns, &snap.HiatusTurns, &lastActive, &checkedAt); err != nil {
			return nil, err
		}
		snap.ProtectionAvailable = available == 1
		snap.LastActive = timePtr(lastActive)
		snap.CheckedAt = fromMillis(checkedAt)
		res = append(res, snap)
	}
	return res, rows.Err()
}

func (s *trackerStore) CountChecksSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM status_history WHERE checked_at>=?`), toMillis(since)).Scan(&n)
	return n, err
}
