// Package account registers users, signs them in and runs the administrative
// operations on drivers and their subscriptions.
package account

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/semanticallynull/ridehail-backend/audit"
	"github.com/semanticallynull/ridehail-backend/driver"
	"github.com/semanticallynull/ridehail-backend/internal/apperr"
	"github.com/semanticallynull/ridehail-backend/internal/auth"
	"github.com/semanticallynull/ridehail-backend/subscription"
	"github.com/semanticallynull/ridehail-backend/user"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 8

// DefaultMonthlyFee is the driver subscription fee in minor units.
const DefaultMonthlyFee = 150000

type Store interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)

	CreateDriverAccount(ctx context.Context, u user.User, d driver.Driver, s subscription.Subscription) (driver.Profile, subscription.Subscription, error)
	GetDriverByUserID(ctx context.Context, userID uuid.UUID) (driver.Driver, error)
	GetDriverProfile(ctx context.Context, id uuid.UUID) (driver.Profile, error)
	UpdateDriver(ctx context.Context, id uuid.UUID, fn func(*driver.Driver) error) (driver.Driver, error)
	ListDrivers(ctx context.Context) ([]driver.Profile, error)

	GetSubscriptionByDriverID(ctx context.Context, driverID uuid.UUID) (subscription.Subscription, error)
	UpdateSubscription(ctx context.Context, driverID uuid.UUID, fn func(*subscription.Subscription) error) (subscription.Subscription, error)

	AddFavorite(ctx context.Context, passengerID, driverID uuid.UUID) error
	RemoveFavorite(ctx context.Context, passengerID, driverID uuid.UUID) error
	ListFavorites(ctx context.Context, passengerID uuid.UUID) ([]driver.Profile, error)
}

type TokenIssuer interface {
	Issue(id auth.Identity) (string, error)
}

type Registration struct {
	Email    string
	Password string
	Name     string
	Phone    string
}

type DriverRegistration struct {
	Registration
	LicensePlate string
	VehicleModel string
}

// Session is the result of a successful sign-in.
type Session struct {
	Token string    `json:"token"`
	User  user.User `json:"user"`
}

// Profile is a user with, for drivers, the driver record and subscription.
type Profile struct {
	User         user.User                  `json:"user"`
	Driver       *driver.Driver             `json:"driver,omitempty"`
	Subscription *subscription.Subscription `json:"subscription,omitempty"`
}

type Service struct {
	store      Store
	issuer     TokenIssuer
	audit      audit.Recorder
	logger     *slog.Logger
	now        func() time.Time
	monthlyFee int64
	cost       int
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMonthlyFee(fee int64) Option {
	return func(s *Service) { s.monthlyFee = fee }
}

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

func NewService(store Store, issuer TokenIssuer, rec audit.Recorder, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		issuer:     issuer,
		audit:      rec,
		logger:     logger,
		now:        time.Now,
		monthlyFee: DefaultMonthlyFee,
		cost:       bcrypt.DefaultCost,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) RegisterPassenger(ctx context.Context, reg Registration) (user.User, error) {
	u, err := s.newUser(reg, user.RolePassenger)
	if err != nil {
		return user.User{}, err
	}

	u, err = s.store.CreateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}

	s.audit.Record(ctx, &u.ID, audit.ActionUserRegister, map[string]any{"role": u.Role.String()})
	return u, nil
}

// RegisterDriver creates the user, the driver and a trial subscription, so a
// new driver can accept rides straight away.
func (s *Service) RegisterDriver(ctx context.Context, reg DriverRegistration) (driver.Profile, subscription.Subscription, error) {
	u, err := s.newUser(reg.Registration, user.RoleDriver)
	if err != nil {
		return driver.Profile{}, subscription.Subscription{}, err
	}
	if u.Phone == "" {
		return driver.Profile{}, subscription.Subscription{}, apperr.New(apperr.ErrValidation, "PHONE_REQUIRED", "drivers must give a contact phone")
	}
	plate := driver.NormalizePlate(reg.LicensePlate)
	if plate == "" {
		return driver.Profile{}, subscription.Subscription{}, apperr.New(apperr.ErrValidation, "LICENSE_PLATE_REQUIRED", "license plate is required")
	}

	d := driver.Driver{LicensePlate: plate}
	if m := strings.TrimSpace(reg.VehicleModel); m != "" {
		d.VehicleModel = &m
	}

	prof, sub, err := s.store.CreateDriverAccount(ctx, u, d, subscription.NewTrial(uuid.Nil, s.now(), s.monthlyFee))
	if err != nil {
		return driver.Profile{}, subscription.Subscription{}, err
	}

	s.audit.Record(ctx, &prof.User.ID, audit.ActionDriverRegister, map[string]any{
		"driverId":     prof.ID,
		"licensePlate": prof.LicensePlate,
	})
	return prof, sub, nil
}

func (s *Service) newUser(reg Registration, role user.Role) (user.User, error) {
	email := normalizeEmail(reg.Email)
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return user.User{}, apperr.New(apperr.ErrValidation, "INVALID_EMAIL", "a valid email is required")
	}
	if len(reg.Password) < MinPasswordLength {
		return user.User{}, apperr.Newf(apperr.ErrValidation, "PASSWORD_TOO_SHORT", "password must be at least %d characters", MinPasswordLength)
	}
	name := strings.TrimSpace(reg.Name)
	if name == "" {
		return user.User{}, apperr.New(apperr.ErrValidation, "NAME_REQUIRED", "name is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.cost)
	if err != nil {
		return user.User{}, err
	}

	return user.User{
		Email:        email,
		PasswordHash: string(hash),
		Name:         name,
		Phone:        strings.TrimSpace(reg.Phone),
		Role:         role,
		CreatedAt:    s.now(),
	}, nil
}

var errInvalidCredentials = apperr.New(apperr.ErrUnauthenticated, "INVALID_CREDENTIALS", "email or password is incorrect")

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	u, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, apperr.ErrNotFound) {
		return Session{}, errInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return Session{}, errInvalidCredentials
	}

	token, err := s.issuer.Issue(auth.Identity{UserID: u.ID, Role: u.Role})
	if err != nil {
		return Session{}, err
	}

	s.audit.Record(ctx, &u.ID, audit.ActionLogin, nil)
	return Session{Token: token, User: u}, nil
}

// EnsureAdmin creates the admin account if no user holds email yet.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (user.User, error) {
	existing, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	switch {
	case err == nil && existing.Role == user.RoleAdmin:
		return existing, nil
	case err == nil:
		return user.User{}, apperr.Newf(apperr.ErrConflict, "EMAIL_TAKEN", "%s is registered as a %s", existing.Email, existing.Role)
	case !errors.Is(err, apperr.ErrNotFound):
		return user.User{}, err
	}

	u, err := s.newUser(Registration{Email: email, Password: password, Name: "Administrator"}, user.RoleAdmin)
	if err != nil {
		return user.User{}, err
	}
	u, err = s.store.CreateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}

	s.logger.InfoContext(ctx, "seeded admin account", "email", u.Email)
	s.audit.Record(ctx, nil, audit.ActionUserRegister, map[string]any{"role": u.Role.String(), "userId": u.ID})
	return u, nil
}

func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (Profile, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	p := Profile{User: u}
	if u.Role != user.RoleDriver {
		return p, nil
	}

	d, err := s.store.GetDriverByUserID(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	p.Driver = &d

	sub, err := s.store.GetSubscriptionByDriverID(ctx, d.ID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return Profile{}, err
	}
	if err == nil {
		p.Subscription = &sub
	}
	return p, nil
}

// DriverID resolves the driver record owned by userID.
func (s *Service) DriverID(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	d, err := s.store.GetDriverByUserID(ctx, userID)
	if err != nil {
		return uuid.Nil, err
	}
	return d.ID, nil
}

func (s *Service) VerifyDriver(ctx context.Context, adminID, driverID uuid.UUID, verified bool) (driver.Driver, error) {
	d, err := s.store.UpdateDriver(ctx, driverID, func(d *driver.Driver) error {
		d.Verified = verified
		return nil
	})
	if err != nil {
		return driver.Driver{}, err
	}

	s.audit.Record(ctx, &adminID, audit.ActionDriverVerify, map[string]any{"driverId": driverID, "verified": verified})
	return d, nil
}

func (s *Service) SetSubscriptionStatus(ctx context.Context, adminID, driverID uuid.UUID, status subscription.Status) (subscription.Subscription, error) {
	var previous subscription.Status
	sub, err := s.store.UpdateSubscription(ctx, driverID, func(sub *subscription.Subscription) error {
		previous = sub.Status
		sub.SetStatus(status, s.now())
		return nil
	})
	if err != nil {
		return subscription.Subscription{}, err
	}

	s.audit.Record(ctx, &adminID, audit.ActionSubscriptionUpdate, map[string]any{
		"driverId": driverID,
		"from":     string(previous),
		"to":       string(status),
	})
	return sub, nil
}

func (s *Service) ListDrivers(ctx context.Context) ([]driver.Profile, error) {
	return s.store.ListDrivers(ctx)
}

func (s *Service) ListUsers(ctx context.Context) ([]user.User, error) {
	return s.store.ListUsers(ctx)
}

func (s *Service) AddFavorite(ctx context.Context, passengerID, driverID uuid.UUID) error {
	if err := s.requirePassenger(ctx, passengerID); err != nil {
		return err
	}
	if err := s.store.AddFavorite(ctx, passengerID, driverID); err != nil {
		return err
	}
	s.audit.Record(ctx, &passengerID, audit.ActionFavoriteAdd, map[string]any{"driverId": driverID})
	return nil
}

func (s *Service) RemoveFavorite(ctx context.Context, passengerID, driverID uuid.UUID) error {
	if err := s.requirePassenger(ctx, passengerID); err != nil {
		return err
	}
	if err := s.store.RemoveFavorite(ctx, passengerID, driverID); err != nil {
		return err
	}
	s.audit.Record(ctx, &passengerID, audit.ActionFavoriteRemove, map[string]any{"driverId": driverID})
	return nil
}

func (s *Service) Favorites(ctx context.Context, passengerID uuid.UUID) ([]driver.Profile, error) {
	return s.store.ListFavorites(ctx, passengerID)
}

func (s *Service) requirePassenger(ctx context.Context, id uuid.UUID) error {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if u.Role != user.RolePassenger {
		return apperr.New(apperr.ErrForbidden, "ROLE_NOT_PERMITTED", "only passengers keep favourite drivers")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
