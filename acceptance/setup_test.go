package acceptance

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/semanticallynull/ridehail-backend/account"
	"github.com/semanticallynull/ridehail-backend/api"
	"github.com/semanticallynull/ridehail-backend/audit"
	"github.com/semanticallynull/ridehail-backend/internal/auth"
	"github.com/semanticallynull/ridehail-backend/notify"
	"github.com/semanticallynull/ridehail-backend/ride"
	"github.com/semanticallynull/ridehail-backend/store"
)

const (
	adminEmail    = "admin@ridehail.cv"
	adminPassword = "admin-password"

	metricsUser     = "prom"
	metricsPassword = "scrape"
)

type TestServer struct {
	Router *gin.Engine
	Store  *store.Memory
	Hub    *notify.Hub
}

func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	st := store.NewMemory()
	rec := audit.NewStoreRecorder(st, logger)

	cfg := auth.Config{Secret: "acceptance-secret", Issuer: "ridehail", Audience: "ridehail-api", TTL: time.Hour}
	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		t.Fatalf("failed to create verifier: %v", err)
	}

	hub := notify.NewHub(verifier, logger, notify.WithRegisterer(reg))
	t.Cleanup(hub.Close)

	rides := ride.NewService(st, notify.NewNotifier(hub, logger), rec, logger, ride.WithMetrics(ride.NewMetrics(reg)))
	accounts := account.NewService(st, auth.NewIssuer(cfg), rec, logger, account.WithBcryptCost(bcrypt.MinCost))
	if _, err := accounts.EnsureAdmin(context.Background(), adminEmail, adminPassword); err != nil {
		t.Fatalf("failed to seed admin: %v", err)
	}

	a := api.New(rides, accounts, st, verifier, hub.ServeWS, api.Config{
		Logger:          logger,
		Registry:        reg,
		MetricsUsername: metricsUser,
		MetricsPassword: metricsPassword,
	})

	return &TestServer{Router: a.Router(), Store: st, Hub: hub}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func (ts *TestServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, req)
	return w
}

func (ts *TestServer) GET(path string, headers map[string]string) *httptest.ResponseRecorder {
	return ts.do(http.MethodGet, path, nil, headers)
}

func (ts *TestServer) POST(path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	return ts.do(http.MethodPost, path, body, headers)
}

func (ts *TestServer) PUT(path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	return ts.do(http.MethodPut, path, body, headers)
}

func (ts *TestServer) DELETE(path string, headers map[string]string) *httptest.ResponseRecorder {
	return ts.do(http.MethodDelete, path, nil, headers)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, w.Code, w.Body.String())
	}
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, w, status)
	resp := decode[map[string]string](t, w)
	if resp["code"] != code {
		t.Errorf("expected code %s, got %s", code, resp["code"])
	}
}

type session struct {
	Token string `json:"token"`
	User  struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	} `json:"user"`
}

func (ts *TestServer) Login(t *testing.T, email, password string) session {
	t.Helper()
	w := ts.POST("/auth/login", map[string]string{"email": email, "password": password}, nil)
	expectStatus(t, w, http.StatusOK)
	return decode[session](t, w)
}

// Passenger registers a passenger and returns a signed-in session.
func (ts *TestServer) Passenger(t *testing.T, email string) session {
	t.Helper()
	w := ts.POST("/auth/register", map[string]string{
		"email": email, "password": "passenger-pw", "name": "Passenger", "phone": "+2389990000",
	}, nil)
	expectStatus(t, w, http.StatusCreated)
	return ts.Login(t, email, "passenger-pw")
}

// Driver registers a driver and returns a signed-in session and the driver id.
func (ts *TestServer) Driver(t *testing.T, email, plate string) (session, string) {
	t.Helper()
	w := ts.POST("/auth/register/driver", map[string]string{
		"email": email, "password": "driver-pw", "name": "Driver", "phone": "+2389991111",
		"licensePlate": plate, "vehicleModel": "Hyundai H1",
	}, nil)
	expectStatus(t, w, http.StatusCreated)
	resp := decode[struct {
		Driver struct {
			ID string `json:"id"`
		} `json:"driver"`
	}](t, w)
	return ts.Login(t, email, "driver-pw"), resp.Driver.ID
}

func (ts *TestServer) Admin(t *testing.T) session {
	t.Helper()
	return ts.Login(t, adminEmail, adminPassword)
}

type rideResponse struct {
	ID             string   `json:"id"`
	PassengerID    string   `json:"passengerId"`
	DriverID       *string  `json:"driverId"`
	Status         string   `json:"status"`
	EstimatedPrice int64    `json:"estimatedPrice"`
	FinalPrice     *int64   `json:"finalPrice"`
	Distance       *float64 `json:"distance"`
	Rating         *int     `json:"rating"`
}

// RequestRide has passenger request a ride from Centro to Laginha.
func (ts *TestServer) RequestRide(t *testing.T, passenger session) rideResponse {
	t.Helper()
	w := ts.POST("/rides", map[string]string{
		"origin": "Centro", "destination": "Laginha", "phone": "+2389990000",
	}, bearer(passenger.Token))
	expectStatus(t, w, http.StatusCreated)
	return decode[rideResponse](t, w)
}
