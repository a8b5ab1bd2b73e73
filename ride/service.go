package ride

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/semanticallynull/ridehail-backend/audit"
	"github.com/semanticallynull/ridehail-backend/driver"
	"github.com/semanticallynull/ridehail-backend/internal/apperr"
	"github.com/semanticallynull/ridehail-backend/pricing"
	"github.com/semanticallynull/ridehail-backend/subscription"
	"github.com/semanticallynull/ridehail-backend/user"
)

// Store is the storage the state machine runs against. UpdateRide and
// UpdateRideAndDriver must run fn and persist its result as one atomic step;
// when fn returns an error nothing is written.
type Store interface {
	GetUser(ctx context.Context, id uuid.UUID) (user.User, error)
	GetDriverProfile(ctx context.Context, id uuid.UUID) (driver.Profile, error)
	GetSubscriptionByDriverID(ctx context.Context, driverID uuid.UUID) (subscription.Subscription, error)

	CreateRide(ctx context.Context, r Ride) (Ride, error)
	GetRide(ctx context.Context, id uuid.UUID) (Ride, error)
	GetRideDetails(ctx context.Context, id uuid.UUID) (Details, error)
	UpdateRide(ctx context.Context, id uuid.UUID, fn func(*Ride) error) (Ride, error)
	// UpdateRideAndDriver passes fn the ride and its assigned driver, or a nil
	// driver when the ride has none.
	UpdateRideAndDriver(ctx context.Context, id uuid.UUID, fn func(*Ride, *driver.Driver) error) (Ride, error)
	ListRides(ctx context.Context) ([]Ride, error)
	ListRidesByPassenger(ctx context.Context, passengerID uuid.UUID) ([]Ride, error)
	ListRidesByDriver(ctx context.Context, driverID uuid.UUID) ([]Ride, error)
	ListRidesByStatus(ctx context.Context, status Status) ([]Ride, error)
}

// Notifier is told about every committed transition that has an audience.
type Notifier interface {
	RideRequested(ctx context.Context, r Ride)
	RideAccepted(ctx context.Context, r Ride, contact driver.Contact)
	RideStarted(ctx context.Context, r Ride)
	RideCompleted(ctx context.Context, r Ride)
}

// Pricer quotes a fare in minor units.
type Pricer func(origin, destination string) int64

// Actor is an authenticated caller.
type Actor struct {
	UserID uuid.UUID
	Role   user.Role
}

type RequestInput struct {
	PassengerID uuid.UUID
	Origin      string
	Destination string
	Phone       string
	Notes       string
}

type CompleteInput struct {
	FinalPrice *int64
	Distance   *float64
}

type Service struct {
	store    Store
	notifier Notifier
	audit    audit.Recorder
	logger   *slog.Logger
	price    Pricer
	now      func() time.Time
	metrics  *Metrics
	tracer   trace.Tracer
}

type Option func(*Service)

func WithPricer(p Pricer) Option {
	return func(s *Service) { s.price = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(store Store, notifier Notifier, rec audit.Recorder, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		notifier: notifier,
		audit:    rec,
		logger:   logger,
		price:    pricing.Price,
		now:      time.Now,
		tracer:   otel.Tracer("ride"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RequestRide creates a pending ride for a passenger and offers it to drivers.
func (s *Service) RequestRide(ctx context.Context, in RequestInput) (r Ride, err error) {
	ctx, span := s.begin(ctx, TransitionRequest, uuid.Nil)
	defer func() { s.end(ctx, span, TransitionRequest, err) }()

	origin := strings.TrimSpace(in.Origin)
	destination := strings.TrimSpace(in.Destination)
	phone := strings.TrimSpace(in.Phone)
	if origin == "" || destination == "" {
		return Ride{}, apperr.New(apperr.ErrValidation, "LOCATION_REQUIRED", "origin and destination are required")
	}
	if pricing.NormalizePlace(origin) == pricing.NormalizePlace(destination) {
		return Ride{}, apperr.New(apperr.ErrValidation, "SAME_LOCATION", "origin and destination must differ")
	}
	if phone == "" {
		return Ride{}, apperr.New(apperr.ErrValidation, "PHONE_REQUIRED", "a contact phone is required")
	}

	passenger, err := s.store.GetUser(ctx, in.PassengerID)
	if err != nil {
		return Ride{}, err
	}
	if passenger.Role != user.RolePassenger {
		return Ride{}, forbidRole(TransitionRequest, passenger.Role)
	}

	var notes *string
	if n := strings.TrimSpace(in.Notes); n != "" {
		notes = &n
	}

	r, err = s.store.CreateRide(ctx, Ride{
		PassengerID:    passenger.ID,
		Origin:         origin,
		Destination:    destination,
		Phone:          phone,
		Notes:          notes,
		EstimatedPrice: s.price(origin, destination),
		Status:         StatusPending,
		RequestedAt:    s.now(),
	})
	if err != nil {
		return Ride{}, err
	}

	s.audit.Record(ctx, &passenger.ID, audit.ActionRideRequest, map[string]any{
		"rideId":         r.ID,
		"origin":         r.Origin,
		"destination":    r.Destination,
		"estimatedPrice": r.EstimatedPrice,
	})
	s.notifier.RideRequested(ctx, r)
	return r, nil
}

// AcceptRide assigns a pending ride to driverID. Of several concurrent
// accepts on the same ride exactly one succeeds; the rest see the ride
// already accepted and fail with ErrInvalidTransition.
func (s *Service) AcceptRide(ctx context.Context, rideID, driverID uuid.UUID) (r Ride, err error) {
	ctx, span := s.begin(ctx, TransitionAccept, rideID)
	defer func() { s.end(ctx, span, TransitionAccept, err) }()

	profile, err := s.store.GetDriverProfile(ctx, driverID)
	if err != nil {
		return Ride{}, err
	}

	sub, err := s.store.GetSubscriptionByDriverID(ctx, driverID)
	if errors.Is(err, apperr.ErrNotFound) {
		return Ride{}, apperr.New(apperr.ErrForbidden, "SUBSCRIPTION_INACTIVE", "driver has no subscription")
	}
	if err != nil {
		return Ride{}, err
	}

	now := s.now()
	if err := subscription.CanAcceptRides(sub, now); err != nil {
		return Ride{}, err
	}

	r, err = s.store.UpdateRide(ctx, rideID, func(r *Ride) error {
		if err := TransitionAccept.check(r); err != nil {
			return err
		}
		id := driverID
		at := notBefore(now, r.latest())
		r.Status = StatusAccepted
		r.DriverID = &id
		r.AcceptedAt = &at
		return nil
	})
	if err != nil {
		return Ride{}, err
	}

	s.audit.Record(ctx, &profile.UserID, audit.ActionRideAccept, map[string]any{
		"rideId":   r.ID,
		"driverId": driverID,
	})
	s.notifier.RideAccepted(ctx, r, profile.Contact())
	return r, nil
}

// StartRide moves an accepted ride to started. Only the accepting driver may start it.
func (s *Service) StartRide(ctx context.Context, rideID, driverID uuid.UUID) (r Ride, err error) {
	ctx, span := s.begin(ctx, TransitionStart, rideID)
	defer func() { s.end(ctx, span, TransitionStart, err) }()

	r, err = s.store.UpdateRide(ctx, rideID, func(r *Ride) error {
		if err := checkAssigned(r, driverID); err != nil {
			return err
		}
		if err := TransitionStart.check(r); err != nil {
			return err
		}
		at := notBefore(s.now(), r.latest())
		r.Status = StatusStarted
		r.StartedAt = &at
		return nil
	})
	if err != nil {
		return Ride{}, err
	}

	s.recordDriverAction(ctx, driverID, audit.ActionRideStart, map[string]any{"rideId": r.ID})
	s.notifier.RideStarted(ctx, r)
	return r, nil
}

// CompleteRide finishes a started ride and credits the driver with one more
// completed ride. Without a final price the estimate is recorded as final.
func (s *Service) CompleteRide(ctx context.Context, rideID, driverID uuid.UUID, in CompleteInput) (r Ride, err error) {
	ctx, span := s.begin(ctx, TransitionComplete, rideID)
	defer func() { s.end(ctx, span, TransitionComplete, err) }()

	if in.FinalPrice != nil && *in.FinalPrice < 0 {
		return Ride{}, apperr.New(apperr.ErrValidation, "INVALID_PRICE", "final price cannot be negative")
	}
	if in.Distance != nil && *in.Distance < 0 {
		return Ride{}, apperr.New(apperr.ErrValidation, "INVALID_DISTANCE", "distance cannot be negative")
	}

	r, err = s.store.UpdateRideAndDriver(ctx, rideID, func(r *Ride, d *driver.Driver) error {
		if err := checkAssigned(r, driverID); err != nil {
			return err
		}
		if err := TransitionComplete.check(r); err != nil {
			return err
		}
		if d == nil {
			return apperr.New(apperr.ErrNotFound, "DRIVER_NOT_FOUND", "assigned driver no longer exists")
		}

		at := notBefore(s.now(), r.latest())
		r.Status = StatusCompleted
		r.CompletedAt = &at
		final := r.EstimatedPrice
		if in.FinalPrice != nil {
			final = *in.FinalPrice
		}
		r.FinalPrice = &final
		if in.Distance != nil {
			dist := *in.Distance
			r.Distance = &dist
		}
		d.TotalRides++
		return nil
	})
	if err != nil {
		return Ride{}, err
	}

	s.recordDriverAction(ctx, driverID, audit.ActionRideComplete, map[string]any{
		"rideId":     r.ID,
		"finalPrice": *r.FinalPrice,
	})
	s.notifier.RideCompleted(ctx, r)
	return r, nil
}

// CancelRide cancels a pending ride. The requesting passenger or any admin may cancel.
func (s *Service) CancelRide(ctx context.Context, rideID uuid.UUID, actor Actor) (r Ride, err error) {
	ctx, span := s.begin(ctx, TransitionCancel, rideID)
	defer func() { s.end(ctx, span, TransitionCancel, err) }()

	if !TransitionCancel.Permits(actor.Role) {
		return Ride{}, forbidRole(TransitionCancel, actor.Role)
	}

	r, err = s.store.UpdateRide(ctx, rideID, func(r *Ride) error {
		if actor.Role == user.RolePassenger && r.PassengerID != actor.UserID {
			return apperr.New(apperr.ErrForbidden, "NOT_RIDE_OWNER", "only the requesting passenger can cancel this ride")
		}
		if err := TransitionCancel.check(r); err != nil {
			return err
		}
		at := notBefore(s.now(), r.latest())
		r.Status = StatusCancelled
		r.CancelledAt = &at
		return nil
	})
	if err != nil {
		return Ride{}, err
	}

	s.audit.Record(ctx, &actor.UserID, audit.ActionRideCancel, map[string]any{
		"rideId": r.ID,
		"role":   actor.Role.String(),
	})
	return r, nil
}

// RateRide records the passenger's 1–5 star rating of a completed ride and
// folds it into the driver's average.
func (s *Service) RateRide(ctx context.Context, rideID, passengerID uuid.UUID, stars int) (r Ride, err error) {
	ctx, span := s.begin(ctx, TransitionRate, rideID)
	defer func() { s.end(ctx, span, TransitionRate, err) }()

	if stars < 1 || stars > 5 {
		return Ride{}, apperr.New(apperr.ErrValidation, "INVALID_RATING", "rating must be between 1 and 5")
	}

	r, err = s.store.UpdateRideAndDriver(ctx, rideID, func(r *Ride, d *driver.Driver) error {
		if r.PassengerID != passengerID {
			return apperr.New(apperr.ErrForbidden, "NOT_RIDE_OWNER", "only the passenger of this ride can rate it")
		}
		if err := TransitionRate.check(r); err != nil {
			return err
		}
		if r.Rating != nil {
			return apperr.New(apperr.ErrConflict, "ALREADY_RATED", "ride has already been rated")
		}
		if d == nil {
			return apperr.New(apperr.ErrNotFound, "DRIVER_NOT_FOUND", "assigned driver no longer exists")
		}
		n := stars
		r.Rating = &n
		d.AddRating(stars)
		return nil
	})
	if err != nil {
		return Ride{}, err
	}

	s.audit.Record(ctx, &passengerID, audit.ActionRideRate, map[string]any{"rideId": r.ID, "stars": stars})
	return r, nil
}

func (s *Service) Ride(ctx context.Context, id uuid.UUID) (Ride, error) {
	return s.store.GetRide(ctx, id)
}

// Details returns a resolved ride if viewer may see it: its passenger, its
// driver, any admin, or any driver while the ride is still pending.
func (s *Service) Details(ctx context.Context, id uuid.UUID, viewer Actor) (Details, error) {
	d, err := s.store.GetRideDetails(ctx, id)
	if err != nil {
		return Details{}, err
	}

	switch viewer.Role {
	case user.RoleAdmin:
		return d, nil
	case user.RolePassenger:
		if d.PassengerID == viewer.UserID {
			return d, nil
		}
	case user.RoleDriver:
		if d.Status == StatusPending || (d.Driver != nil && d.Driver.UserID == viewer.UserID) {
			return d, nil
		}
	}
	return Details{}, apperr.New(apperr.ErrForbidden, "NOT_RIDE_PARTICIPANT", "ride is not visible to this user")
}

// AvailableRides lists pending rides, newest first.
func (s *Service) AvailableRides(ctx context.Context) ([]Ride, error) {
	return s.store.ListRidesByStatus(ctx, StatusPending)
}

func (s *Service) PassengerRides(ctx context.Context, passengerID uuid.UUID) ([]Ride, error) {
	return s.store.ListRidesByPassenger(ctx, passengerID)
}

func (s *Service) DriverRides(ctx context.Context, driverID uuid.UUID) ([]Ride, error) {
	return s.store.ListRidesByDriver(ctx, driverID)
}

func (s *Service) AllRides(ctx context.Context) ([]Ride, error) {
	return s.store.ListRides(ctx)
}

func (s *Service) recordDriverAction(ctx context.Context, driverID uuid.UUID, action string, detail map[string]any) {
	detail["driverId"] = driverID
	profile, err := s.store.GetDriverProfile(ctx, driverID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to resolve driver for audit", "driverId", driverID, "error", err)
		s.audit.Record(ctx, nil, action, detail)
		return
	}
	s.audit.Record(ctx, &profile.UserID, action, detail)
}

func (s *Service) begin(ctx context.Context, t Transition, rideID uuid.UUID) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "ride."+t.String())
	if rideID != uuid.Nil {
		span.SetAttributes(attribute.String("ride.id", rideID.String()))
	}
	return ctx, span
}

func (s *Service) end(ctx context.Context, span trace.Span, t Transition, err error) {
	defer span.End()
	s.metrics.observe(t, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.Code(err))
		s.logger.InfoContext(ctx, "ride transition rejected", "transition", t.String(), "code", apperr.Code(err), "error", err)
	}
}

func checkAssigned(r *Ride, driverID uuid.UUID) error {
	if r.DriverID != nil && *r.DriverID != driverID {
		return apperr.New(apperr.ErrForbidden, "NOT_ASSIGNED_DRIVER", "ride is assigned to another driver")
	}
	return nil
}

// notBefore keeps lifecycle timestamps monotonic when the clock steps back.
func notBefore(t, floor time.Time) time.Time {
	if t.Before(floor) {
		return floor
	}
	return t
}
