package store

import (
	"context"
	"database/sql"
	"errors"
)

const entityColumns = `id, name, group_id, group_name, score, cities, active, last_active, updated_at`

func (s *trackerStore) UpsertEntity(ctx context.Context, e *Entity) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = s.nowUTC()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO entities(id, name, group_id, group_name, score, cities, active, last_active, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id)
		DO UPDATE SET
			name=excluded.name,
			group_id=excluded.group_id,
			group_name=excluded.group_name,
			score=excluded.score,
			cities=excluded.cities,
			active=excluded.active,
			last_active=excluded.last_active,
			updated_at=excluded.updated_at`),
		e.ID, e.Name, nullInt64(e.GroupID), e.GroupName, e.Score, e.Cities, boolToInt(e.Active), nullMillis(e.LastActive), toMillis(e.UpdatedAt))
	return err
}

func (s *trackerStore) MarkEntityInactive(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE entities SET active=0, updated_at=? WHERE id=?`), toMillis(s.nowUTC()), id)
	return err
}

func (s *trackerStore) GetEntity(ctx context.Context, id int64) (*Entity, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+entityColumns+` FROM entities WHERE id=?`), id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// ListEntitiesByGroup returns active grouped entities, highest score first.
// A nil groupID lists every group.
func (s *trackerStore) ListEntitiesByGroup(ctx context.Context, groupID *int64) ([]Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE active=1 AND group_id IS NOT NULL AND group_id<>0`
	var args []any
	if groupID != nil {
		query += ` AND group_id=?`
		args = append(args, *groupID)
	}
	query += ` ORDER BY score DESC, id ASC`
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *e)
	}
	return res, rows.Err()
}

func (s *trackerStore) HighestEntityID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM entities`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (s *trackerStore) CountActiveEntities(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE active=1`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	var groupID, lastActive sql.NullInt64
	var active int
	var updatedAt int64
	if err := row.Scan(&e.ID, &e.Name, &groupID, &e.GroupName, &e.Score, &e.Cities, &active, &lastActive, &updatedAt); err != nil {
		return nil, err
	}
	e.GroupID = int64Ptr(groupID)
	e.Active = active == 1
	e.LastActive = timePtr(lastActive)
	e.UpdatedAt = fromMillis(updatedAt)
	return &e, nil
}
