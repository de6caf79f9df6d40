package store

import (
	"context"
	"database/sql"
	"errors"
)

func (s *trackerStore) RecordReset(ctx context.Context, fact *ResetFact) (bool, error) {
	if fact.Method == "" {
		fact.Method = MethodStatusTransition
	}
	if fact.Confidence == 0 {
		fact.Confidence = DefaultConfidence
	}
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = s.nowUTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	created := true
	var id int64
	err = tx.QueryRowContext(ctx, s.q(`
		INSERT INTO reset_facts(entity_id, snapshot_id, reset_at, confidence, method, verified, created_at)
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT (snapshot_id) DO NOTHING
		RETURNING id`),
		fact.EntityID, fact.SnapshotID, toMillis(fact.ResetAt), fact.Confidence, fact.Method, boolToInt(fact.Verified), toMillis(fact.CreatedAt),
	).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = false
	case err != nil:
		return false, err
	default:
		fact.ID = id
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM monitoring_queue WHERE entity_id=?`), fact.EntityID); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return created, nil
}

// ListResetFacts returns facts newest first, optionally scoped to one group.
func (s *trackerStore) ListResetFacts(ctx context.Context, filter ResetFactFilter) ([]ResetFactView, error) {
	query := `
		SELECT f.id, f.entity_id, f.snapshot_id, f.reset_at, f.confidence, f.method, f.verified, f.created_at,
			COALESCE(e.name, ''), e.group_id, COALESCE(e.group_name, '')
		FROM reset_facts f
		LEFT JOIN entities e ON e.id=f.entity_id`
	var args []any
	if filter.GroupID != nil {
		query += ` WHERE e.group_id=?`
		args = append(args, *filter.GroupID)
	}
	query += ` ORDER BY f.reset_at DESC, f.id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ResetFactView
	for rows.Next() {
		var v ResetFactView
		var resetAt, createdAt int64
		var verified int
		var groupID sql.NullInt64
		if err := rows.Scan(&v.ID, &v.EntityID, &v.SnapshotID, &resetAt, &v.Confidence, &v.Method, &verified, &createdAt, &v.EntityName, &groupID, &v.GroupName); err != nil {
			return nil, err
		}
		v.ResetAt = fromMillis(resetAt)
		v.CreatedAt = fromMillis(createdAt)
		v.Verified = verified == 1
		v.GroupID = int64Ptr(groupID)
		res = append(res, v)
	}
	return res, rows.Err()
}

func (s *trackerStore) CountResetFacts(ctx context.Context, groupID *int64) (int, int, error) {
	query := `SELECT COUNT(*), COUNT(DISTINCT f.entity_id) FROM reset_facts f`
	var args []any
	if groupID != nil {
		query += ` JOIN entities e ON e.id=f.entity_id WHERE e.group_id=?`
		args = append(args, *groupID)
	}
	var total, unique int
	if err := s.db.QueryRowContext(ctx, s.q(query), args...).Scan(&total, &unique); err != nil {
		return 0, 0, err
	}
	return total, unique, nil
}
