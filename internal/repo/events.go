package repo

import (
	"context"
	"slices"

	sq "github.com/Masterminds/squirrel"

	"skillswap/internal/domain"
)

type EventFilter struct {
	Type       string
	EntityKind string
	EntityID   string
	ActorID    string
	AfterID    int64
	Limit      int
	// Latest selects the newest Limit entries; results stay in append order.
	Latest bool
}

// ListEvents returns audit entries in append order.
func (r Repo) ListEvents(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	q := sq.Select("id", "ts", "type", "entity_kind", "COALESCE(entity_id,'')", "actor_id", "payload_json").
		From("events")
	if f.Latest {
		q = q.OrderBy("id DESC")
	} else {
		q = q.OrderBy("id")
	}
	if f.Type != "" {
		q = q.Where(sq.Eq{"type": f.Type})
	}
	if f.EntityKind != "" {
		q = q.Where(sq.Eq{"entity_kind": f.EntityKind})
	}
	if f.EntityID != "" {
		q = q.Where(sq.Eq{"entity_id": f.EntityID})
	}
	if f.ActorID != "" {
		q = q.Where(sq.Eq{"actor_id": f.ActorID})
	}
	if f.AfterID > 0 {
		q = q.Where(sq.Gt{"id": f.AfterID})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if f.Latest {
		slices.Reverse(res)
	}
	return res, nil
}
