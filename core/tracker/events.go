package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"

	"resetwatch/core/store"
)

const (
	EventResetDetected  = "reset.detected"
	EventCycleCompleted = "cycle.completed"
	EventIndexCompleted = "index.completed"
	EventStateChanged   = "state.changed"
)

type Event struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	At       time.Time        `json:"at"`
	EntityID int64            `json:"entity_id,omitempty"`
	Entity   *store.Entity    `json:"entity,omitempty"`
	Fact     *store.ResetFact `json:"fact,omitempty"`
	Cycle    *CycleResult     `json:"cycle,omitempty"`
	Index    *IndexResult     `json:"index,omitempty"`
	State    State            `json:"state,omitempty"`
}

// EventSink receives tracker events. Implementations must be safe for
// concurrent use.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newEvent(typ string, at time.Time) Event {
	id := ""
	if v, err := uuid.NewV7(); err == nil {
		id = v.String()
	}
	return Event{ID: id, Type: typ, At: at}
}
