package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/semanticallynull/ridehail-backend/audit"
	"github.com/semanticallynull/ridehail-backend/driver"
	"github.com/semanticallynull/ridehail-backend/internal/apperr"
	"github.com/semanticallynull/ridehail-backend/ride"
	"github.com/semanticallynull/ridehail-backend/subscription"
	"github.com/semanticallynull/ridehail-backend/user"
)

//go:embed schema.sql
var schema string

// Migrate creates any missing tables and indexes.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Postgres is a store backed by PostgreSQL through sqlx. Each UpdateX locks
// the row with SELECT ... FOR UPDATE for the duration of its mutator.
type Postgres struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// translate maps driver errors onto apperr kinds. notFound is returned for sql.ErrNoRows.
func translate(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			switch pgErr.ConstraintName {
			case "users_email_key":
				return errEmailTaken
			case "drivers_license_plate_key":
				return errPlateTaken
			case "drivers_user_id_key":
				return errDriverExists
			case "subscriptions_driver_id_key":
				return errSubscriptionExists
			}
			return apperr.New(apperr.ErrConflict, "CONFLICT", pgErr.Detail)
		case "23503":
			return notFound
		}
	}
	return err
}

// Users

func (p *Postgres) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	return createUser(ctx, p.db, u)
}

func createUser(ctx context.Context, q sqlx.QueryerContext, u user.User) (user.User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	var created user.User
	err := sqlx.GetContext(ctx, q, &created, createUserQuery, u.ID, u.Email, u.PasswordHash, u.Name, u.Phone, u.Role)
	return created, translate(err, errUserNotFound)
}

const createUserQuery = `
INSERT INTO users (id, email, password_hash, name, phone, role, created_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
RETURNING *
`

func (p *Postgres) GetUser(ctx context.Context, id uuid.UUID) (user.User, error) {
	var u user.User
	err := p.db.GetContext(ctx, &u, getUserQuery, id)
	return u, translate(err, errUserNotFound)
}

const getUserQuery = `SELECT * FROM users WHERE id = $1`

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User
	err := p.db.GetContext(ctx, &u, getUserByEmailQuery, email)
	return u, translate(err, errUserNotFound)
}

const getUserByEmailQuery = `SELECT * FROM users WHERE email = $1`

func (p *Postgres) UpdateUser(ctx context.Context, id uuid.UUID, fn func(*user.User) error) (user.User, error) {
	var out user.User
	err := p.inTx(ctx, func(tx *sqlx.Tx) error {
		var u user.User
		if err := tx.GetContext(ctx, &u, getUserForUpdateQuery, id); err != nil {
			return translate(err, errUserNotFound)
		}
		if err := fn(&u); err != nil {
			return err
		}
		return translate(tx.GetContext(ctx, &out, updateUserQuery, id, u.PasswordHash, u.Name, u.Phone), errUserNotFound)
	})
	return out, err
}

const getUserForUpdateQuery = `SELECT * FROM users WHERE id = $1 FOR UPDATE`

const updateUserQuery = `
UPDATE users SET password_hash = $2, name = $3, phone = $4
WHERE id = $1
RETURNING *
`

func (p *Postgres) ListUsers(ctx context.Context) ([]user.User, error) {
	users := []user.User{}
	err := p.db.SelectContext(ctx, &users, listUsersQuery)
	return users, err
}

const listUsersQuery = `SELECT * FROM users ORDER BY created_at DESC`

// Drivers

func (p *Postgres) CreateDriver(ctx context.Context, d driver.Driver) (driver.Driver, error) {
	return createDriver(ctx, p.db, d)
}

func createDriver(ctx context.Context, q sqlx.QueryerContext, d driver.Driver) (driver.Driver, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	var created driver.Driver
	err := sqlx.GetContext(ctx, q, &created, createDriverQuery, d.ID, d.UserID, d.LicensePlate, d.VehicleModel, d.Verified)
	return created, translate(err, errUserNotFound)
}

const createDriverQuery = `
INSERT INTO drivers (id, user_id, license_plate, vehicle_model, verified, created_at)
VALUES ($1, $2, $3, $4, $5, now())
RETURNING *
`

func (p *Postgres) GetDriver(ctx context.Context, id uuid.UUID) (driver.Driver, error) {
	var d driver.Driver
	err := p.db.GetContext(ctx, &d, getDriverQuery, id)
	return d, translate(err, errDriverNotFound)
}

const getDriverQuery = `SELECT * FROM drivers WHERE id = $1`

func (p *Postgres) GetDriverByUserID(ctx context.Context, userID uuid.UUID) (driver.Driver, error) {
	var d driver.Driver
	err := p.db.GetContext(ctx, &d, getDriverByUserIDQuery, userID)
	return d, translate(err, errDriverNotFound)
}

const getDriverByUserIDQuery = `SELECT * FROM drivers WHERE user_id = $1`

func (p *Postgres) GetDriverByPlate(ctx context.Context, plate string) (driver.Driver, error) {
	var d driver.Driver
	err := p.db.GetContext(ctx, &d, getDriverByPlateQuery, plate)
	return d, translate(err, errDriverNotFound)
}

const getDriverByPlateQuery = `SELECT * FROM drivers WHERE license_plate = $1`

// profileColumns selects a driver with its user nested under "user.", the
// way sqlx maps the Profile.User field.
const profileColumns = `d.*,
u.id AS "user.id", u.email AS "user.email", u.password_hash AS "user.password_hash",
u.name AS "user.name", u.phone AS "user.phone", u.role AS "user.role", u.created_at AS "user.created_at"`

func (p *Postgres) GetDriverProfile(ctx context.Context, id uuid.UUID) (driver.Profile, error) {
	return getDriverProfile(ctx, p.db, id)
}

func getDriverProfile(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (driver.Profile, error) {
	var prof driver.Profile
	err := sqlx.GetContext(ctx, q, &prof, getDriverProfileQuery, id)
	return prof, translate(err, errDriverNotFound)
}

const getDriverProfileQuery = `SELECT ` + profileColumns + ` FROM drivers d JOIN users u ON u.id = d.user_id WHERE d.id = $1`

func (p *Postgres) UpdateDriver(ctx context.Context, id uuid.UUID, fn func(*driver.Driver) error) (driver.Driver, error) {
	var out driver.Driver
	err := p.inTx(ctx, func(tx *sqlx.Tx) error {
		var d driver.Driver
		if err := tx.GetContext(ctx, &d, getDriverForUpdateQuery, id); err != nil {
			return translate(err, errDriverNotFound)
		}
		if err := fn(&d); err != nil {
			return err
		}
		return translate(saveDriver(ctx, tx, id, d, &out), errDriverNotFound)
	})
	return out, err
}

func saveDriver(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, d driver.Driver, out *driver.Driver) error {
	return tx.GetContext(ctx, out, updateDriverQuery, id, d.VehicleModel, d.Verified, d.Rating, d.RatingCount, d.TotalRides)
}

const getDriverForUpdateQuery = `SELECT * FROM drivers WHERE id = $1 FOR UPDATE`

const updateDriverQuery = `
UPDATE drivers SET vehicle_model = $2, verified = $3, rating = $4, rating_count = $5, total_rides = $6
WHERE id = $1
RETURNING *
`

func (p *Postgres) ListDrivers(ctx context.Context) ([]driver.Profile, error) {
	profiles := []driver.Profile{}
	err := p.db.SelectContext(ctx, &profiles, listDriversQuery)
	return profiles, err
}

const listDriversQuery = `SELECT ` + profileColumns + ` FROM drivers d JOIN users u ON u.id = d.user_id ORDER BY d.created_at DESC`

// Subscriptions

func (p *Postgres) CreateSubscription(ctx context.Context, s subscription.Subscription) (subscription.Subscription, error) {
	return createSubscription(ctx, p.db, s)
}

func createSubscription(ctx context.Context, q sqlx.QueryerContext, s subscription.Subscription) (subscription.Subscription, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	var created subscription.Subscription
	err := sqlx.GetContext(ctx, q, &created, createSubscriptionQuery,
		s.ID, s.DriverID, s.Status, s.TrialEndsAt, s.CurrentPeriodStart, s.CurrentPeriodEnd, s.MonthlyFee)
	return created, translate(err, errDriverNotFound)
}

const createSubscriptionQuery = `
INSERT INTO subscriptions (id, driver_id, status, trial_ends_at, current_period_start, current_period_end, monthly_fee, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
RETURNING *
`

func (p *Postgres) GetSubscriptionByDriverID(ctx context.Context, driverID uuid.UUID) (subscription.Subscription, error) {
	var s subscription.Subscription
	err := p.db.GetContext(ctx, &s, getSubscriptionQuery, driverID)
	return s, translate(err, errSubscriptionNotFound)
}

const getSubscriptionQuery = `SELECT * FROM subscriptions WHERE driver_id = $1`

func (p *Postgres) UpdateSubscription(ctx context.Context, driverID uuid.UUID, fn func(*subscription.Subscription) error) (subscription.Subscription, error) {
	var out subscription.Subscription
	err := p.inTx(ctx, func(tx *sqlx.Tx) error {
		var s subscription.Subscription
		if err := tx.GetContext(ctx, &s, getSubscriptionForUpdateQuery, driverID); err != nil {
			return translate(err, errSubscriptionNotFound)
		}
		if err := fn(&s); err != nil {
			return err
		}
		err := tx.GetContext(ctx, &out, updateSubscriptionQuery,
			driverID, s.Status, s.TrialEndsAt, s.CurrentPeriodStart, s.CurrentPeriodEnd, s.MonthlyFee)
		return translate(err, errSubscriptionNotFound)
	})
	return out, err
}

const getSubscriptionForUpdateQuery = `SELECT * FROM subscriptions WHERE driver_id = $1 FOR UPDATE`

const updateSubscriptionQuery = `
UPDATE subscriptions
SET status = $2, trial_ends_at = $3, current_period_start = $4, current_period_end = $5, monthly_fee = $6
WHERE driver_id = $1
RETURNING *
`

func (p *Postgres) CreateDriverAccount(ctx context.Context, u user.User, d driver.Driver, s subscription.Subscription) (driver.Profile, subscription.Subscription, error) {
	var (
		prof driver.Profile
		sub  subscription.Subscription
	)
	err := p.inTx(ctx, func(tx *sqlx.Tx) error {
		created, err := createUser(ctx, tx, u)
		if err != nil {
			return err
		}
		d.UserID = created.ID
		drv, err := createDriver(ctx, tx, d)
		if err != nil {
			return err
		}
		s.DriverID = drv.ID
		if sub, err = createSubscription(ctx, tx, s); err != nil {
			return err
		}
		prof = driver.Profile{Driver: drv, User: created}
		return nil
	})
	if err != nil {
		return driver.Profile{}, subscription.Subscription{}, err
	}
	return prof, sub, nil
}

// Rides

func (p *Postgres) CreateRide(ctx context.Context, r ride.Ride) (ride.Ride, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = time.Now()
	}
	var created ride.Ride
	err := p.db.GetContext(ctx, &created, createRideQuery,
		r.ID, r.PassengerID, r.DriverID, r.Origin, r.Destination, r.Phone, r.Notes,
		r.EstimatedPrice, r.Status, r.RequestedAt)
	return created, translate(err, errUserNotFound)
}

const createRideQuery = `
INSERT INTO rides (id, passenger_id, driver_id, origin, destination, phone, notes, estimated_price, status, requested_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING *
`

func (p *Postgres) GetRide(ctx context.Context, id uuid.UUID) (ride.Ride, error) {
	var r ride.Ride
	err := p.db.GetContext(ctx, &r, getRideQuery, id)
	return r, translate(err, errRideNotFound)
}

const getRideQuery = `SELECT * FROM rides WHERE id = $1`

func (p *Postgres) GetRideDetails(ctx context.Context, id uuid.UUID) (ride.Details, error) {
	r, err := p.GetRide(ctx, id)
	if err != nil {
		return ride.Details{}, err
	}
	passenger, err := p.GetUser(ctx, r.PassengerID)
	if err != nil {
		return ride.Details{}, err
	}

	details := ride.Details{Ride: r, Passenger: passenger}
	if r.DriverID != nil {
		prof, err := p.GetDriverProfile(ctx, *r.DriverID)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return ride.Details{}, err
		}
		if err == nil {
			details.Driver = &prof
		}
	}
	return details, nil
}

func (p *Postgres) UpdateRide(ctx context.Context, id uuid.UUID, fn func(*ride.Ride) error) (ride.Ride, error) {
	var out ride.Ride
	err := p.inTx(ctx, func(tx *sqlx.Tx) error {
		var r ride.Ride
		if err := tx.GetContext(ctx, &r, getRideForUpdateQuery, id); err != nil {
			return translate(err, errRideNotFound)
		}
		if err := fn(&r); err != nil {
			return err
		}
		return translate(saveRide(ctx, tx, id, r, &out), errDriverNotFound)
	})
	return out, err
}

func (p *Postgres) UpdateRideAndDriver(ctx context.Context, id uuid.UUID, fn func(*ride.Ride, *driver.Driver) error) (ride.Ride, error) {
	var out ride.Ride
	err := p.inTx(ctx, func(tx *sqlx.Tx) error {
		var r ride.Ride
		if err := tx.GetContext(ctx, &r, getRideForUpdateQuery, id); err != nil {
			return translate(err, errRideNotFound)
		}

		var d *driver.Driver
		if r.DriverID != nil {
			var found driver.Driver
			err := tx.GetContext(ctx, &found, getDriverForUpdateQuery, *r.DriverID)
			switch {
			case err == nil:
				d = &found
			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
		}

		if err := fn(&r, d); err != nil {
			return err
		}
		if err := saveRide(ctx, tx, id, r, &out); err != nil {
			return translate(err, errDriverNotFound)
		}
		if d != nil {
			var saved driver.Driver
			if err := saveDriver(ctx, tx, d.ID, *d, &saved); err != nil {
				return translate(err, errDriverNotFound)
			}
		}
		return nil
	})
	return out, err
}

func saveRide(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, r ride.Ride, out *ride.Ride) error {
	return tx.GetContext(ctx, out, updateRideQuery, id, r.DriverID, r.Notes, r.FinalPrice, r.Distance, r.Rating,
		r.Status, r.AcceptedAt, r.StartedAt, r.CompletedAt, r.CancelledAt)
}

const getRideForUpdateQuery = `SELECT * FROM rides WHERE id = $1 FOR UPDATE`

const updateRideQuery = `
UPDATE rides
SET driver_id = $2, notes = $3, final_price = $4, distance = $5, rating = $6, status = $7,
    accepted_at = $8, started_at = $9, completed_at = $10, cancelled_at = $11
WHERE id = $1
RETURNING *
`

func (p *Postgres) ListRides(ctx context.Context) ([]ride.Ride, error) {
	rides := []ride.Ride{}
	err := p.db.SelectContext(ctx, &rides, listRidesQuery)
	return rides, err
}

const listRidesQuery = `SELECT * FROM rides ORDER BY requested_at DESC`

func (p *Postgres) ListRidesByPassenger(ctx context.Context, passengerID uuid.UUID) ([]ride.Ride, error) {
	rides := []ride.Ride{}
	err := p.db.SelectContext(ctx, &rides, listRidesByPassengerQuery, passengerID)
	return rides, err
}

const listRidesByPassengerQuery = `SELECT * FROM rides WHERE passenger_id = $1 ORDER BY requested_at DESC`

func (p *Postgres) ListRidesByDriver(ctx context.Context, driverID uuid.UUID) ([]ride.Ride, error) {
	rides := []ride.Ride{}
	err := p.db.SelectContext(ctx, &rides, listRidesByDriverQuery, driverID)
	return rides, err
}

const listRidesByDriverQuery = `SELECT * FROM rides WHERE driver_id = $1 ORDER BY requested_at DESC`

func (p *Postgres) ListRidesByStatus(ctx context.Context, status ride.Status) ([]ride.Ride, error) {
	rides := []ride.Ride{}
	err := p.db.SelectContext(ctx, &rides, listRidesByStatusQuery, status)
	return rides, err
}

const listRidesByStatusQuery = `SELECT * FROM rides WHERE status = $1 ORDER BY requested_at DESC`

// Favorites

func (p *Postgres) AddFavorite(ctx context.Context, passengerID, driverID uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, addFavoriteQuery, passengerID, driverID)
	return translate(err, errDriverNotFound)
}

const addFavoriteQuery = `
INSERT INTO favorites (passenger_id, driver_id, created_at) VALUES ($1, $2, now())
ON CONFLICT (passenger_id, driver_id) DO NOTHING
`

func (p *Postgres) RemoveFavorite(ctx context.Context, passengerID, driverID uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, removeFavoriteQuery, passengerID, driverID)
	return err
}

const removeFavoriteQuery = `DELETE FROM favorites WHERE passenger_id = $1 AND driver_id = $2`

func (p *Postgres) ListFavorites(ctx context.Context, passengerID uuid.UUID) ([]driver.Profile, error) {
	profiles := []driver.Profile{}
	err := p.db.SelectContext(ctx, &profiles, listFavoritesQuery, passengerID)
	return profiles, err
}

const listFavoritesQuery = `
SELECT ` + profileColumns + `
FROM favorites f
JOIN drivers d ON d.id = f.driver_id
JOIN users u ON u.id = d.user_id
WHERE f.passenger_id = $1
ORDER BY f.created_at DESC
`

// Audit

type auditRow struct {
	audit.Entry
	DetailJSON []byte `db:"detail"`
}

func (p *Postgres) AppendAudit(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	detail := e.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	body, err := json.Marshal(detail)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("failed to marshal audit detail: %w", err)
	}

	_, err = p.db.ExecContext(ctx, appendAuditQuery, e.ID, e.ActorID, e.Action, e.At, string(body))
	if err != nil {
		return audit.Entry{}, err
	}
	return e, nil
}

const appendAuditQuery = `INSERT INTO audit_log (id, actor_id, action, at, detail) VALUES ($1, $2, $3, $4, $5::jsonb)`

func (p *Postgres) ListAudit(ctx context.Context, limit int) ([]audit.Entry, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}

	var rows []auditRow
	if err := p.db.SelectContext(ctx, &rows, listAuditQuery, lim); err != nil {
		return nil, err
	}

	entries := make([]audit.Entry, 0, len(rows))
	for _, row := range rows {
		e := row.Entry
		if err := json.Unmarshal(row.DetailJSON, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit detail: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// A NULL limit returns every row.
const listAuditQuery = `SELECT id, actor_id, action, at, detail FROM audit_log ORDER BY at DESC LIMIT $1`
