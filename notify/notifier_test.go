package notify

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/semanticallynull/ridehail-backend/driver"
	"github.com/semanticallynull/ridehail-backend/ride"
	"github.com/semanticallynull/ridehail-backend/user"
)

type call struct {
	to   uuid.UUID
	role user.Role
	msg  Message
}

type fakePublisher struct {
	sends      []call
	broadcasts []call
}

func (f *fakePublisher) Send(userID uuid.UUID, msg Message) int {
	f.sends = append(f.sends, call{to: userID, msg: msg})
	return 1
}

func (f *fakePublisher) Broadcast(role user.Role, msg Message) int {
	f.broadcasts = append(f.broadcasts, call{role: role, msg: msg})
	return 1
}

func TestNotifier(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNotifier(pub, discardLogger)
	ctx := context.Background()
	r := ride.Ride{ID: uuid.New(), PassengerID: uuid.New(), Origin: "Centro", Destination: "Laginha"}

	n.RideRequested(ctx, r)
	if len(pub.broadcasts) != 1 || pub.broadcasts[0].role != user.RoleDriver || pub.broadcasts[0].msg.Type != TypeRideNew {
		t.Fatalf("expected one ride:new broadcast to drivers, got %+v", pub.broadcasts)
	}

	contact := driver.Contact{DriverID: uuid.New(), Name: "Zé", LicensePlate: "ST-12-AB"}
	n.RideAccepted(ctx, r, contact)
	n.RideStarted(ctx, r)
	n.RideCompleted(ctx, r)

	want := []string{TypeRideAccepted, TypeRideStarted, TypeRideCompleted}
	if len(pub.sends) != len(want) {
		t.Fatalf("expected %d sends, got %d", len(want), len(pub.sends))
	}
	for i, typ := range want {
		c := pub.sends[i]
		if c.to != r.PassengerID {
			t.Errorf("%s: expected recipient %s, got %s", typ, r.PassengerID, c.to)
		}
		if c.msg.Type != typ {
			t.Errorf("expected %s, got %s", typ, c.msg.Type)
		}
	}

	payload, ok := pub.sends[0].msg.Payload.(RidePayload)
	if !ok || payload.Driver == nil || payload.Driver.LicensePlate != "ST-12-AB" {
		t.Errorf("expected driver contact in ride:accepted payload, got %+v", pub.sends[0].msg.Payload)
	}
}
