package acceptance

import (
	"net/http"
	"testing"
)

func TestRideLifecycle(t *testing.T) {
	ts := NewTestServer(t)
	passenger := ts.Passenger(t, "ana@example.cv")
	driver, driverID := ts.Driver(t, "ze@example.cv", "ST-12-AB")

	r := ts.RequestRide(t, passenger)
	if r.Status != "pending" || r.EstimatedPrice != 30000 {
		t.Fatalf("unexpected ride after request: %+v", r)
	}

	w := ts.GET("/rides/available", bearer(driver.Token))
	expectStatus(t, w, http.StatusOK)
	if avail := decode[[]rideResponse](t, w); len(avail) != 1 || avail[0].ID != r.ID {
		t.Fatalf("expected the pending ride to be available, got %+v", avail)
	}

	w = ts.POST("/rides/"+r.ID+"/accept", nil, bearer(driver.Token))
	expectStatus(t, w, http.StatusOK)
	accepted := decode[rideResponse](t, w)
	if accepted.Status != "accepted" || accepted.DriverID == nil || *accepted.DriverID != driverID {
		t.Fatalf("unexpected ride after accept: %+v", accepted)
	}

	w = ts.GET("/rides/available", bearer(driver.Token))
	if avail := decode[[]rideResponse](t, w); len(avail) != 0 {
		t.Errorf("expected no available rides after accept, got %d", len(avail))
	}

	w = ts.GET("/rides/"+r.ID, bearer(passenger.Token))
	expectStatus(t, w, http.StatusOK)
	details := decode[struct {
		Status string `json:"status"`
		Driver *struct {
			LicensePlate string `json:"licensePlate"`
		} `json:"driver"`
	}](t, w)
	if details.Driver == nil || details.Driver.LicensePlate != "ST-12-AB" {
		t.Errorf("expected driver in ride details, got %s", w.Body.String())
	}

	w = ts.POST("/rides/"+r.ID+"/start", nil, bearer(driver.Token))
	expectStatus(t, w, http.StatusOK)

	w = ts.POST("/rides/"+r.ID+"/complete", map[string]any{"distance": 3.2}, bearer(driver.Token))
	expectStatus(t, w, http.StatusOK)
	completed := decode[rideResponse](t, w)
	if completed.Status != "completed" || completed.FinalPrice == nil || *completed.FinalPrice != 30000 {
		t.Fatalf("unexpected ride after complete: %+v", completed)
	}

	w = ts.POST("/rides/"+r.ID+"/rate", map[string]int{"rating": 5}, bearer(passenger.Token))
	expectStatus(t, w, http.StatusOK)
	w = ts.POST("/rides/"+r.ID+"/rate", map[string]int{"rating": 4}, bearer(passenger.Token))
	expectError(t, w, http.StatusConflict, "ALREADY_RATED")

	w = ts.GET("/rides", bearer(passenger.Token))
	expectStatus(t, w, http.StatusOK)
	if mine := decode[[]rideResponse](t, w); len(mine) != 1 || mine[0].Rating == nil || *mine[0].Rating != 5 {
		t.Errorf("expected one rated ride for the passenger, got %s", w.Body.String())
	}

	w = ts.GET("/rides", bearer(driver.Token))
	if mine := decode[[]rideResponse](t, w); len(mine) != 1 {
		t.Errorf("expected one ride for the driver, got %d", len(mine))
	}

	w = ts.GET("/me", bearer(driver.Token))
	expectStatus(t, w, http.StatusOK)
	me := decode[struct {
		Driver struct {
			Rating     *float64 `json:"rating"`
			TotalRides int      `json:"totalRides"`
		} `json:"driver"`
	}](t, w)
	if me.Driver.TotalRides != 1 || me.Driver.Rating == nil || *me.Driver.Rating != 5 {
		t.Errorf("expected driver stats to reflect the ride, got %s", w.Body.String())
	}
}

func TestRequestRide_Validation(t *testing.T) {
	ts := NewTestServer(t)
	passenger := ts.Passenger(t, "ana@example.cv")

	w := ts.POST("/rides", map[string]string{"origin": "Centro", "destination": " centro ", "phone": "1"}, bearer(passenger.Token))
	expectError(t, w, http.StatusBadRequest, "SAME_LOCATION")

	w = ts.POST("/rides", map[string]string{"origin": "Centro", "destination": "Laginha"}, bearer(passenger.Token))
	expectError(t, w, http.StatusBadRequest, "PHONE_REQUIRED")

	w = ts.POST("/rides", "not an object", bearer(passenger.Token))
	expectError(t, w, http.StatusBadRequest, "INVALID_REQUEST")
}

func TestRoleGates(t *testing.T) {
	ts := NewTestServer(t)
	passenger := ts.Passenger(t, "ana@example.cv")
	driver, _ := ts.Driver(t, "ze@example.cv", "ST-12-AB")
	r := ts.RequestRide(t, passenger)

	w := ts.POST("/rides", map[string]string{"origin": "Centro", "destination": "Laginha", "phone": "1"}, bearer(driver.Token))
	expectError(t, w, http.StatusForbidden, "ROLE_NOT_PERMITTED")

	w = ts.POST("/rides/"+r.ID+"/accept", nil, bearer(passenger.Token))
	expectError(t, w, http.StatusForbidden, "ROLE_NOT_PERMITTED")

	w = ts.GET("/rides/available", bearer(passenger.Token))
	expectError(t, w, http.StatusForbidden, "ROLE_NOT_PERMITTED")

	w = ts.POST("/rides/"+r.ID+"/cancel", nil, bearer(driver.Token))
	expectStatus(t, w, http.StatusForbidden)

	w = ts.GET("/rides", nil)
	expectError(t, w, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestAcceptRide_SubscriptionGate(t *testing.T) {
	ts := NewTestServer(t)
	admin := ts.Admin(t)
	passenger := ts.Passenger(t, "ana@example.cv")
	driver, driverID := ts.Driver(t, "ze@example.cv", "ST-12-AB")
	r := ts.RequestRide(t, passenger)

	w := ts.PUT("/admin/drivers/"+driverID+"/subscription", map[string]string{"status": "expired"}, bearer(admin.Token))
	expectStatus(t, w, http.StatusOK)

	w = ts.POST("/rides/"+r.ID+"/accept", nil, bearer(driver.Token))
	expectError(t, w, http.StatusForbidden, "SUBSCRIPTION_INACTIVE")

	w = ts.PUT("/admin/drivers/"+driverID+"/subscription", map[string]string{"status": "active"}, bearer(admin.Token))
	expectStatus(t, w, http.StatusOK)

	w = ts.POST("/rides/"+r.ID+"/accept", nil, bearer(driver.Token))
	expectStatus(t, w, http.StatusOK)
}

func TestAcceptRide_SecondDriverLoses(t *testing.T) {
	ts := NewTestServer(t)
	passenger := ts.Passenger(t, "ana@example.cv")
	first, _ := ts.Driver(t, "ze@example.cv", "ST-12-AB")
	second, _ := ts.Driver(t, "rui@example.cv", "ST-34-CD")
	r := ts.RequestRide(t, passenger)

	expectStatus(t, ts.POST("/rides/"+r.ID+"/accept", nil, bearer(first.Token)), http.StatusOK)

	w := ts.POST("/rides/"+r.ID+"/accept", nil, bearer(second.Token))
	expectError(t, w, http.StatusConflict, "RIDE_NOT_PENDING")

	w = ts.POST("/rides/"+r.ID+"/start", nil, bearer(second.Token))
	expectError(t, w, http.StatusForbidden, "NOT_ASSIGNED_DRIVER")

	w = ts.GET("/rides/"+r.ID, bearer(second.Token))
	expectError(t, w, http.StatusForbidden, "NOT_RIDE_PARTICIPANT")
}

func TestCancelRide(t *testing.T) {
	ts := NewTestServer(t)
	passenger := ts.Passenger(t, "ana@example.cv")
	other := ts.Passenger(t, "eva@example.cv")
	r := ts.RequestRide(t, passenger)

	w := ts.POST("/rides/"+r.ID+"/cancel", nil, bearer(other.Token))
	expectError(t, w, http.StatusForbidden, "NOT_RIDE_OWNER")

	w = ts.POST("/rides/"+r.ID+"/cancel", nil, bearer(passenger.Token))
	expectStatus(t, w, http.StatusOK)
	if got := decode[rideResponse](t, w); got.Status != "cancelled" {
		t.Errorf("expected cancelled, got %s", got.Status)
	}

	w = ts.POST("/rides/"+r.ID+"/cancel", nil, bearer(passenger.Token))
	expectError(t, w, http.StatusConflict, "RIDE_NOT_PENDING")
}

func TestRideNotFound(t *testing.T) {
	ts := NewTestServer(t)
	passenger := ts.Passenger(t, "ana@example.cv")

	w := ts.GET("/rides/not-a-uuid", bearer(passenger.Token))
	expectError(t, w, http.StatusBadRequest, "INVALID_ID")

	w = ts.GET("/rides/00000000-0000-0000-0000-000000000001", bearer(passenger.Token))
	expectStatus(t, w, http.StatusNotFound)
}

func TestPriceQuote(t *testing.T) {
	ts := NewTestServer(t)
	passenger := ts.Passenger(t, "ana@example.cv")

	w := ts.GET("/price?origin=Centro&destination=Baia%20das%20Gatas", bearer(passenger.Token))
	expectStatus(t, w, http.StatusOK)
	if got := decode[struct {
		Price int64 `json:"price"`
	}](t, w); got.Price != 150000 {
		t.Errorf("expected price 150000, got %d", got.Price)
	}

	w = ts.GET("/price?origin=Centro", bearer(passenger.Token))
	expectError(t, w, http.StatusBadRequest, "LOCATION_REQUIRED")
}
