// Package audit records who did what. Recording never fails or blocks the
// operation being audited.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	ActionUserRegister       = "user.register"
	ActionDriverRegister     = "driver.register"
	ActionLogin              = "auth.login"
	ActionRideRequest        = "ride.request"
	ActionRideAccept         = "ride.accept"
	ActionRideStart          = "ride.start"
	ActionRideComplete       = "ride.complete"
	ActionRideCancel         = "ride.cancel"
	ActionRideRate           = "ride.rate"
	ActionDriverVerify       = "driver.verify"
	ActionSubscriptionUpdate = "subscription.update"
	ActionFavoriteAdd        = "favorite.add"
	ActionFavoriteRemove     = "favorite.remove"
)

// Entry is an append-only audit record. ActorID is nil for system actions.
type Entry struct {
	ID      uuid.UUID      `db:"id" json:"id"`
	ActorID *uuid.UUID     `db:"actor_id" json:"actorId"`
	Action  string         `db:"action" json:"action"`
	At      time.Time      `db:"at" json:"at"`
	Detail  map[string]any `db:"-" json:"detail"`
}

type Recorder interface {
	Record(ctx context.Context, actorID *uuid.UUID, action string, detail map[string]any)
}

// Appender is the storage side of StoreRecorder.
type Appender interface {
	AppendAudit(ctx context.Context, e Entry) (Entry, error)
}

// StoreRecorder appends entries to the store and logs, rather than returns, failures.
type StoreRecorder struct {
	store  Appender
	logger *slog.Logger
	now    func() time.Time
}

func NewStoreRecorder(store Appender, logger *slog.Logger) *StoreRecorder {
	return &StoreRecorder{store: store, logger: logger, now: time.Now}
}

func (r *StoreRecorder) Record(ctx context.Context, actorID *uuid.UUID, action string, detail map[string]any) {
	_, err := r.store.AppendAudit(context.WithoutCancel(ctx), Entry{
		ActorID: actorID,
		Action:  action,
		At:      r.now(),
		Detail:  detail,
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to append audit entry", "action", action, "error", err)
	}
}

// Multi records to every recorder in order.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, actorID *uuid.UUID, action string, detail map[string]any) {
	for _, r := range m {
		r.Record(ctx, actorID, action, detail)
	}
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Record(context.Context, *uuid.UUID, string, map[string]any) {}
