// Package store holds the authoritative records of the service. Memory keeps
// them in process; Postgres keeps them in a database. Both hand out copies and
// apply every UpdateX mutator atomically.
package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/semanticallynull/ridehail-backend/audit"
	"github.com/semanticallynull/ridehail-backend/driver"
	"github.com/semanticallynull/ridehail-backend/internal/apperr"
	"github.com/semanticallynull/ridehail-backend/ride"
	"github.com/semanticallynull/ridehail-backend/subscription"
	"github.com/semanticallynull/ridehail-backend/user"
)

var (
	errUserNotFound         = apperr.New(apperr.ErrNotFound, "USER_NOT_FOUND", "user not found")
	errDriverNotFound       = apperr.New(apperr.ErrNotFound, "DRIVER_NOT_FOUND", "driver not found")
	errSubscriptionNotFound = apperr.New(apperr.ErrNotFound, "SUBSCRIPTION_NOT_FOUND", "subscription not found")
	errRideNotFound         = apperr.New(apperr.ErrNotFound, "RIDE_NOT_FOUND", "ride not found")
	errEmailTaken           = apperr.New(apperr.ErrConflict, "EMAIL_TAKEN", "email is already registered")
	errPlateTaken           = apperr.New(apperr.ErrConflict, "LICENSE_PLATE_TAKEN", "license plate is already registered")
	errDriverExists         = apperr.New(apperr.ErrConflict, "DRIVER_EXISTS", "user already has a driver record")
	errSubscriptionExists   = apperr.New(apperr.ErrConflict, "SUBSCRIPTION_EXISTS", "driver already has a subscription")
)

// Memory is an in-process store. One mutex serialises every operation, which
// makes each UpdateX a plain read-modify-write.
type Memory struct {
	mu sync.Mutex

	users         map[uuid.UUID]user.User
	userByEmail   map[string]uuid.UUID
	drivers       map[uuid.UUID]driver.Driver
	driverByUser  map[uuid.UUID]uuid.UUID
	driverByPlate map[string]uuid.UUID
	// subscriptions is keyed by driver id.
	subscriptions    map[uuid.UUID]subscription.Subscription
	rides            map[uuid.UUID]ride.Ride
	ridesByPassenger map[uuid.UUID][]uuid.UUID
	ridesByDriver    map[uuid.UUID][]uuid.UUID
	// favorites maps passenger id to the set of driver ids with the time each was added.
	favorites map[uuid.UUID]map[uuid.UUID]time.Time
	audit     []audit.Entry

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:            make(map[uuid.UUID]user.User),
		userByEmail:      make(map[string]uuid.UUID),
		drivers:          make(map[uuid.UUID]driver.Driver),
		driverByUser:     make(map[uuid.UUID]uuid.UUID),
		driverByPlate:    make(map[string]uuid.UUID),
		subscriptions:    make(map[uuid.UUID]subscription.Subscription),
		rides:            make(map[uuid.UUID]ride.Ride),
		ridesByPassenger: make(map[uuid.UUID][]uuid.UUID),
		ridesByDriver:    make(map[uuid.UUID][]uuid.UUID),
		favorites:        make(map[uuid.UUID]map[uuid.UUID]time.Time),
		now:              time.Now,
	}
}

// Users

func (m *Memory) CreateUser(_ context.Context, u user.User) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createUser(u)
}

func (m *Memory) createUser(u user.User) (user.User, error) {
	if _, ok := m.userByEmail[u.Email]; ok {
		return user.User{}, errEmailTaken
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now()
	}
	m.users[u.ID] = u
	m.userByEmail[u.Email] = u.ID
	return u, nil
}

func (m *Memory) GetUser(_ context.Context, id uuid.UUID) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return user.User{}, errUserNotFound
	}
	return u, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.userByEmail[email]
	if !ok {
		return user.User{}, errUserNotFound
	}
	return m.users[id], nil
}

// UpdateUser applies fn to a copy of the user. ID, email and role cannot be changed.
func (m *Memory) UpdateUser(_ context.Context, id uuid.UUID, fn func(*user.User) error) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return user.User{}, errUserNotFound
	}
	if err := fn(&u); err != nil {
		return user.User{}, err
	}
	prev := m.users[id]
	u.ID, u.Email, u.Role, u.CreatedAt = prev.ID, prev.Email, prev.Role, prev.CreatedAt
	m.users[id] = u
	return u, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := slices.Collect(maps.Values(m.users))
	slices.SortFunc(users, func(a, b user.User) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return users, nil
}

// Drivers

func (m *Memory) CreateDriver(_ context.Context, d driver.Driver) (driver.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createDriver(d)
}

func (m *Memory) createDriver(d driver.Driver) (driver.Driver, error) {
	if _, ok := m.users[d.UserID]; !ok {
		return driver.Driver{}, errUserNotFound
	}
	if _, ok := m.driverByUser[d.UserID]; ok {
		return driver.Driver{}, errDriverExists
	}
	if _, ok := m.driverByPlate[d.LicensePlate]; ok {
		return driver.Driver{}, errPlateTaken
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = m.now()
	}
	m.drivers[d.ID] = d
	m.driverByUser[d.UserID] = d.ID
	m.driverByPlate[d.LicensePlate] = d.ID
	return d, nil
}

func (m *Memory) GetDriver(_ context.Context, id uuid.UUID) (driver.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return driver.Driver{}, errDriverNotFound
	}
	return cloneDriver(d), nil
}

func (m *Memory) GetDriverByUserID(_ context.Context, userID uuid.UUID) (driver.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.driverByUser[userID]
	if !ok {
		return driver.Driver{}, errDriverNotFound
	}
	return cloneDriver(m.drivers[id]), nil
}

func (m *Memory) GetDriverByPlate(_ context.Context, plate string) (driver.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.driverByPlate[plate]
	if !ok {
		return driver.Driver{}, errDriverNotFound
	}
	return cloneDriver(m.drivers[id]), nil
}

func (m *Memory) GetDriverProfile(_ context.Context, id uuid.UUID) (driver.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.driverProfile(id)
}

func (m *Memory) driverProfile(id uuid.UUID) (driver.Profile, error) {
	d, ok := m.drivers[id]
	if !ok {
		return driver.Profile{}, errDriverNotFound
	}
	u, ok := m.users[d.UserID]
	if !ok {
		return driver.Profile{}, errUserNotFound
	}
	return driver.Profile{Driver: cloneDriver(d), User: u}, nil
}

// UpdateDriver applies fn to a copy of the driver. ID, owner and plate cannot be changed.
func (m *Memory) UpdateDriver(_ context.Context, id uuid.UUID, fn func(*driver.Driver) error) (driver.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return driver.Driver{}, errDriverNotFound
	}
	d = cloneDriver(d)
	if err := fn(&d); err != nil {
		return driver.Driver{}, err
	}
	prev := m.drivers[id]
	d.ID, d.UserID, d.LicensePlate, d.CreatedAt = prev.ID, prev.UserID, prev.LicensePlate, prev.CreatedAt
	m.drivers[id] = d
	return cloneDriver(d), nil
}

func (m *Memory) ListDrivers(_ context.Context) ([]driver.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profiles := make([]driver.Profile, 0, len(m.drivers))
	for id := range m.drivers {
		p, err := m.driverProfile(id)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	slices.SortFunc(profiles, func(a, b driver.Profile) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return profiles, nil
}

// Subscriptions

func (m *Memory) CreateSubscription(_ context.Context, s subscription.Subscription) (subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createSubscription(s)
}

func (m *Memory) createSubscription(s subscription.Subscription) (subscription.Subscription, error) {
	if _, ok := m.drivers[s.DriverID]; !ok {
		return subscription.Subscription{}, errDriverNotFound
	}
	if _, ok := m.subscriptions[s.DriverID]; ok {
		return subscription.Subscription{}, errSubscriptionExists
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now()
	}
	m.subscriptions[s.DriverID] = s
	return s, nil
}

func (m *Memory) GetSubscriptionByDriverID(_ context.Context, driverID uuid.UUID) (subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[driverID]
	if !ok {
		return subscription.Subscription{}, errSubscriptionNotFound
	}
	return s, nil
}

func (m *Memory) UpdateSubscription(_ context.Context, driverID uuid.UUID, fn func(*subscription.Subscription) error) (subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[driverID]
	if !ok {
		return subscription.Subscription{}, errSubscriptionNotFound
	}
	if err := fn(&s); err != nil {
		return subscription.Subscription{}, err
	}
	prev := m.subscriptions[driverID]
	s.ID, s.DriverID, s.CreatedAt = prev.ID, prev.DriverID, prev.CreatedAt
	m.subscriptions[driverID] = s
	return s, nil
}

// CreateDriverAccount creates a driver's user, driver and subscription
// records together. On any failure none of them exist afterwards.
func (m *Memory) CreateDriverAccount(_ context.Context, u user.User, d driver.Driver, s subscription.Subscription) (driver.Profile, subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.userByEmail[u.Email]; ok {
		return driver.Profile{}, subscription.Subscription{}, errEmailTaken
	}
	if _, ok := m.driverByPlate[d.LicensePlate]; ok {
		return driver.Profile{}, subscription.Subscription{}, errPlateTaken
	}

	// With both unique keys free the creates below cannot fail.
	u, _ = m.createUser(u)
	d.UserID = u.ID
	d, _ = m.createDriver(d)
	s.DriverID = d.ID
	s, _ = m.createSubscription(s)

	return driver.Profile{Driver: d, User: u}, s, nil
}

// Rides

func (m *Memory) CreateRide(_ context.Context, r ride.Ride) (ride.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[r.PassengerID]; !ok {
		return ride.Ride{}, errUserNotFound
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = m.now()
	}
	m.rides[r.ID] = cloneRide(r)
	m.ridesByPassenger[r.PassengerID] = append(m.ridesByPassenger[r.PassengerID], r.ID)
	if r.DriverID != nil {
		m.ridesByDriver[*r.DriverID] = append(m.ridesByDriver[*r.DriverID], r.ID)
	}
	return cloneRide(r), nil
}

func (m *Memory) GetRide(_ context.Context, id uuid.UUID) (ride.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return ride.Ride{}, errRideNotFound
	}
	return cloneRide(r), nil
}

func (m *Memory) GetRideDetails(_ context.Context, id uuid.UUID) (ride.Details, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return ride.Details{}, errRideNotFound
	}
	details := ride.Details{Ride: cloneRide(r), Passenger: m.users[r.PassengerID]}
	if r.DriverID != nil {
		if p, err := m.driverProfile(*r.DriverID); err == nil {
			details.Driver = &p
		}
	}
	return details, nil
}

func (m *Memory) UpdateRide(_ context.Context, id uuid.UUID, fn func(*ride.Ride) error) (ride.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return ride.Ride{}, errRideNotFound
	}
	r = cloneRide(r)
	if err := fn(&r); err != nil {
		return ride.Ride{}, err
	}
	m.putRide(id, r)
	return cloneRide(r), nil
}

func (m *Memory) UpdateRideAndDriver(_ context.Context, id uuid.UUID, fn func(*ride.Ride, *driver.Driver) error) (ride.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return ride.Ride{}, errRideNotFound
	}
	r = cloneRide(r)

	var d *driver.Driver
	var driverID uuid.UUID
	if r.DriverID != nil {
		if found, ok := m.drivers[*r.DriverID]; ok {
			found = cloneDriver(found)
			d, driverID = &found, found.ID
		}
	}

	if err := fn(&r, d); err != nil {
		return ride.Ride{}, err
	}
	m.putRide(id, r)
	if d != nil {
		prev := m.drivers[driverID]
		d.ID, d.UserID, d.LicensePlate, d.CreatedAt = prev.ID, prev.UserID, prev.LicensePlate, prev.CreatedAt
		m.drivers[driverID] = *d
	}
	return cloneRide(r), nil
}

// putRide stores r and keeps the driver index in step with its assignment.
func (m *Memory) putRide(id uuid.UUID, r ride.Ride) {
	prev := m.rides[id]
	r.ID, r.PassengerID, r.RequestedAt = prev.ID, prev.PassengerID, prev.RequestedAt
	if r.DriverID != nil && (prev.DriverID == nil || *prev.DriverID != *r.DriverID) {
		if prev.DriverID != nil {
			m.ridesByDriver[*prev.DriverID] = slices.DeleteFunc(m.ridesByDriver[*prev.DriverID], func(x uuid.UUID) bool { return x == id })
		}
		m.ridesByDriver[*r.DriverID] = append(m.ridesByDriver[*r.DriverID], id)
	}
	m.rides[id] = cloneRide(r)
}

func (m *Memory) ListRides(_ context.Context) ([]ride.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collectRides(slices.Collect(maps.Keys(m.rides)), nil), nil
}

func (m *Memory) ListRidesByPassenger(_ context.Context, passengerID uuid.UUID) ([]ride.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collectRides(m.ridesByPassenger[passengerID], nil), nil
}

func (m *Memory) ListRidesByDriver(_ context.Context, driverID uuid.UUID) ([]ride.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collectRides(m.ridesByDriver[driverID], nil), nil
}

func (m *Memory) ListRidesByStatus(_ context.Context, status ride.Status) ([]ride.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collectRides(slices.Collect(maps.Keys(m.rides)), func(r ride.Ride) bool { return r.Status == status }), nil
}

// collectRides copies the rides with the given ids that pass keep, newest request first.
func (m *Memory) collectRides(ids []uuid.UUID, keep func(ride.Ride) bool) []ride.Ride {
	rides := make([]ride.Ride, 0, len(ids))
	for _, id := range ids {
		r, ok := m.rides[id]
		if !ok || (keep != nil && !keep(r)) {
			continue
		}
		rides = append(rides, cloneRide(r))
	}
	slices.SortFunc(rides, func(a, b ride.Ride) int { return b.RequestedAt.Compare(a.RequestedAt) })
	return rides
}

// Favorites

func (m *Memory) AddFavorite(_ context.Context, passengerID, driverID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[passengerID]; !ok {
		return errUserNotFound
	}
	if _, ok := m.drivers[driverID]; !ok {
		return errDriverNotFound
	}
	set, ok := m.favorites[passengerID]
	if !ok {
		set = make(map[uuid.UUID]time.Time)
		m.favorites[passengerID] = set
	}
	if _, ok := set[driverID]; !ok {
		set[driverID] = m.now()
	}
	return nil
}

func (m *Memory) RemoveFavorite(_ context.Context, passengerID, driverID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.favorites[passengerID], driverID)
	return nil
}

// ListFavorites returns the passenger's favourite drivers, most recently added first.
func (m *Memory) ListFavorites(_ context.Context, passengerID uuid.UUID) ([]driver.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.favorites[passengerID]
	ids := slices.Collect(maps.Keys(set))
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return set[b].Compare(set[a]) })

	profiles := make([]driver.Profile, 0, len(ids))
	for _, id := range ids {
		p, err := m.driverProfile(id)
		if err != nil {
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// Audit

func (m *Memory) AppendAudit(_ context.Context, e audit.Entry) (audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = m.now()
	}
	e.Detail = maps.Clone(e.Detail)
	m.audit = append(m.audit, e)
	return e, nil
}

// ListAudit returns up to limit entries, newest first. A limit of zero or less returns all.
func (m *Memory) ListAudit(_ context.Context, limit int) ([]audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.audit)
	if limit > 0 && limit < n {
		n = limit
	}
	entries := make([]audit.Entry, 0, n)
	for i := len(m.audit) - 1; i >= 0 && len(entries) < n; i-- {
		e := m.audit[i]
		e.Detail = maps.Clone(e.Detail)
		entries = append(entries, e)
	}
	return entries, nil
}

// cloneRide deep-copies the pointer fields of r so callers never alias stored state.
func cloneRide(r ride.Ride) ride.Ride {
	r.DriverID = clone(r.DriverID)
	r.Notes = clone(r.Notes)
	r.FinalPrice = clone(r.FinalPrice)
	r.Distance = clone(r.Distance)
	r.Rating = clone(r.Rating)
	r.AcceptedAt = clone(r.AcceptedAt)
	r.StartedAt = clone(r.StartedAt)
	r.CompletedAt = clone(r.CompletedAt)
	r.CancelledAt = clone(r.CancelledAt)
	return r
}

func cloneDriver(d driver.Driver) driver.Driver {
	d.VehicleModel = clone(d.VehicleModel)
	d.Rating = clone(d.Rating)
	return d
}

func clone[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
