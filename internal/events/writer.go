package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"skillswap/internal/domain"
)

const (
	TypeSwapCreated          = "swap.created"
	TypeSwapAccepted         = "swap.accepted"
	TypeSwapRejected         = "swap.rejected"
	TypeSwapCancelled        = "swap.cancelled"
	TypeSwapCompleted        = "swap.completed"
	TypeSwapDeleted          = "swap.deleted"
	TypeFeedbackRecorded     = "feedback.recorded"
	TypeReputationRecomputed = "reputation.recomputed"
)

// Sink receives events once their transaction has committed. Delivery is
// best effort: a failing sink never undoes a committed write.
type Sink interface {
	Notify(ctx context.Context, evt domain.Event) error
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Notify(context.Context, domain.Event) error { return nil }

// Writer appends audit events inside the caller's transaction.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) (domain.Event, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	evt := domain.Event{
		TS:         now().UTC().Format(time.RFC3339Nano),
		Type:       evtType,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    string(data),
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		evt.TS, evt.Type, evt.EntityKind, nullable(evt.EntityID), evt.ActorID, evt.Payload)
	if err != nil {
		return domain.Event{}, err
	}
	if evt.ID, err = res.LastInsertId(); err != nil {
		return domain.Event{}, err
	}
	return evt, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
