package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/semanticallynull/ridehail-backend/driver"
	"github.com/semanticallynull/ridehail-backend/ride"
	"github.com/semanticallynull/ridehail-backend/user"
)

// Publisher is the delivery side of a Hub.
type Publisher interface {
	Send(userID uuid.UUID, msg Message) int
	Broadcast(role user.Role, msg Message) int
}

// RidePayload is the payload of every ride:* message. Driver is set on ride:accepted.
type RidePayload struct {
	Ride   ride.Ride       `json:"ride"`
	Driver *driver.Contact `json:"driver,omitempty"`
}

// Notifier turns ride transitions into messages. New rides go to every
// connected driver; later transitions go to the ride's passenger only.
type Notifier struct {
	pub    Publisher
	logger *slog.Logger
}

func NewNotifier(pub Publisher, logger *slog.Logger) *Notifier {
	return &Notifier{pub: pub, logger: logger}
}

func (n *Notifier) RideRequested(ctx context.Context, r ride.Ride) {
	sent := n.pub.Broadcast(user.RoleDriver, Message{Type: TypeRideNew, Payload: RidePayload{Ride: r}})
	n.logger.DebugContext(ctx, "offered ride to drivers", "ride_id", r.ID, "sessions", sent)
}

func (n *Notifier) RideAccepted(ctx context.Context, r ride.Ride, contact driver.Contact) {
	n.toPassenger(ctx, r, Message{Type: TypeRideAccepted, Payload: RidePayload{Ride: r, Driver: &contact}})
}

func (n *Notifier) RideStarted(ctx context.Context, r ride.Ride) {
	n.toPassenger(ctx, r, Message{Type: TypeRideStarted, Payload: RidePayload{Ride: r}})
}

func (n *Notifier) RideCompleted(ctx context.Context, r ride.Ride) {
	n.toPassenger(ctx, r, Message{Type: TypeRideCompleted, Payload: RidePayload{Ride: r}})
}

func (n *Notifier) toPassenger(ctx context.Context, r ride.Ride, msg Message) {
	if sent := n.pub.Send(r.PassengerID, msg); sent == 0 {
		n.logger.DebugContext(ctx, "passenger not reachable", "ride_id", r.ID, "type", msg.Type)
	}
}
