package ride

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	driverpkg "github.com/semanticallynull/ridehail-backend/driver"
	"github.com/semanticallynull/ridehail-backend/user"
)

type Status int

const (
	StatusPending Status = iota
	StatusAccepted
	StatusStarted
	StatusCompleted
	StatusCancelled
)

var statusNames = [...]string{"pending", "accepted", "started", "completed", "cancelled"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

func ParseStatus(name string) (Status, bool) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), true
		}
	}
	return 0, false
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	st, ok := ParseStatus(name)
	if !ok {
		return fmt.Errorf("invalid ride status %q", name)
	}
	*s = st
	return nil
}

func (s *Status) Scan(i any) error {
	var name string
	switch v := i.(type) {
	case string:
		name = v
	case []byte:
		name = string(v)
	default:
		return fmt.Errorf("invalid ride status scan type %T", i)
	}
	st, ok := ParseStatus(name)
	if !ok {
		return fmt.Errorf("invalid ride status %q", name)
	}
	*s = st
	return nil
}

func (s Status) Value() (driver.Value, error) {
	return s.String(), nil
}

// Ride is one passenger transport request and its whole lifecycle. DriverID is
// set exactly when the ride has been accepted, and each timestamp is set once
// by the transition that owns it.
type Ride struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PassengerID uuid.UUID  `db:"passenger_id" json:"passengerId"`
	DriverID    *uuid.UUID `db:"driver_id" json:"driverId"`
	Origin      string     `db:"origin" json:"origin"`
	Destination string     `db:"destination" json:"destination"`
	Phone       string     `db:"phone" json:"phone"`
	Notes       *string    `db:"notes" json:"notes,omitempty"`
	// Prices are in minor currency units.
	EstimatedPrice int64    `db:"estimated_price" json:"estimatedPrice"`
	FinalPrice     *int64   `db:"final_price" json:"finalPrice"`
	Distance       *float64 `db:"distance" json:"distance"`
	Rating         *int     `db:"rating" json:"rating,omitempty"`
	Status         Status   `db:"status" json:"status"`

	RequestedAt time.Time  `db:"requested_at" json:"requestedAt"`
	AcceptedAt  *time.Time `db:"accepted_at" json:"acceptedAt"`
	StartedAt   *time.Time `db:"started_at" json:"startedAt"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt"`
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelledAt,omitempty"`
}

// latest returns the most recent lifecycle timestamp of r.
func (r Ride) latest() time.Time {
	t := r.RequestedAt
	for _, ts := range []*time.Time{r.AcceptedAt, r.StartedAt, r.CompletedAt, r.CancelledAt} {
		if ts != nil && ts.After(t) {
			t = *ts
		}
	}
	return t
}

// Details is a ride with its passenger and driver resolved at read time.
type Details struct {
	Ride
	Passenger user.User          `json:"passenger"`
	Driver    *driverpkg.Profile `json:"driver,omitempty"`
}
