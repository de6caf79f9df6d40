package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const queueColumns = `entity_id, reason, added_at, next_check_at, priority`

// Enqueue inserts or replaces the entity's entry. Entities that already have
// a reset fact are refused and false is returned.
func (s *trackerStore) Enqueue(ctx context.Context, entityID int64, reason string, delay time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var facts int
	if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM reset_facts WHERE entity_id=?`), entityID).Scan(&facts); err != nil {
		return false, err
	}
	if facts > 0 {
		return false, nil
	}
	now := s.nowUTC()
	if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO monitoring_queue(entity_id, reason, added_at, next_check_at, priority)
		VALUES(?,?,?,?,?)
		ON CONFLICT (entity_id)
		DO UPDATE SET
			reason=excluded.reason,
			added_at=excluded.added_at,
			next_check_at=excluded.next_check_at,
			priority=excluded.priority`),
		entityID, reason, toMillis(now), toMillis(now.Add(delay)), ReasonPriority(reason)); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *trackerStore) DueEntries(ctx context.Context, limit int) ([]QueueEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+queueColumns+`
		FROM monitoring_queue
		WHERE next_check_at<=?
		ORDER BY priority DESC, next_check_at ASC, entity_id ASC
		LIMIT ?`), toMillis(s.nowUTC()), limit)
	if err != nil {
		return nil, err
	}
	return scanQueueRows(rows)
}

// Reschedule moves next_check_at to now+delay, or one millisecond past the
// stored value when that would not move it forward.
func (s *trackerStore) Reschedule(ctx context.Context, entityID int64, delay time.Duration) (bool, error) {
	next := toMillis(s.nowUTC().Add(delay))
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE monitoring_queue
		SET next_check_at = CASE WHEN next_check_at>=? THEN next_check_at+1 ELSE ? END
		WHERE entity_id=?`), next, next, entityID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *trackerStore) RemoveFromQueue(ctx context.Context, entityID int64) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM monitoring_queue WHERE entity_id=?`), entityID)
	return err
}

// PurgeStale drops entries for entities that are missing, inactive,
// group-less or already have a reset fact.
func (s *trackerStore) PurgeStale(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM monitoring_queue WHERE entity_id IN (
			SELECT q.entity_id FROM monitoring_queue q
			LEFT JOIN entities e ON e.id=q.entity_id
			WHERE e.id IS NULL
				OR e.active=0
				OR e.group_id IS NULL
				OR e.group_id=0
				OR EXISTS (SELECT 1 FROM reset_facts f WHERE f.entity_id=q.entity_id)
		)`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *trackerStore) GetQueueEntry(ctx context.Context, entityID int64) (*QueueEntry, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+queueColumns+` FROM monitoring_queue WHERE entity_id=?`), entityID)
	entry, err := scanQueueEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

func (s *trackerStore) ListQueue(ctx context.Context, limit int) ([]QueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+queueColumns+`
		FROM monitoring_queue
		ORDER BY next_check_at ASC, entity_id ASC
		LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	return scanQueueRows(rows)
}

func (s *trackerStore) CountQueue(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM monitoring_queue`).Scan(&n)
	return n, err
}

func scanQueueRows(rows *sql.Rows) ([]QueueEntry, error) {
	defer rows.Close()
	var res []QueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *entry)
	}
	return res, rows.Err()
}

func scanQueueEntry(row rowScanner) (*QueueEntry, error) {
	var entry QueueEntry
	var addedAt, nextAt int64
	if err := row.Scan(&entry.EntityID, &entry.Reason, &addedAt, &nextAt, &entry.Priority); err != nil {
		return nil, err
	}
	entry.AddedAt = fromMillis(addedAt)
	entry.NextCheckAt = fromMillis(nextAt)
	return &entry, nil
}
