package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semanticallynull/ridehail-backend/internal/auth"
	"github.com/semanticallynull/ridehail-backend/ride"
	"github.com/semanticallynull/ridehail-backend/user"
)

type requestRideRequest struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Phone       string `json:"phone"`
	Notes       string `json:"notes"`
}

type completeRideRequest struct {
	FinalPrice *int64   `json:"finalPrice"`
	Distance   *float64 `json:"distance"`
}

type rateRideRequest struct {
	Rating int `json:"rating" binding:"required"`
}

func actor(id auth.Identity) ride.Actor {
	return ride.Actor{UserID: id.UserID, Role: id.Role}
}

func (a *API) requestRideHandler(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	var req requestRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	r, err := a.rides.RequestRide(c, ride.RequestInput{
		PassengerID: id.UserID,
		Origin:      req.Origin,
		Destination: req.Destination,
		Phone:       req.Phone,
		Notes:       req.Notes,
	})
	if err != nil {
		writeError(c, err, "failed to request ride")
		return
	}
	c.JSON(http.StatusCreated, r)
}

// listRidesHandler lists the caller's own rides: requested ones for a
// passenger, assigned ones for a driver, everything for an admin.
func (a *API) listRidesHandler(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	var (
		rides []ride.Ride
		err   error
	)
	switch id.Role {
	case user.RolePassenger:
		rides, err = a.rides.PassengerRides(c, id.UserID)
	case user.RoleDriver:
		var driverID uuid.UUID
		if driverID, err = a.accounts.DriverID(c, id.UserID); err == nil {
			rides, err = a.rides.DriverRides(c, driverID)
		}
	case user.RoleAdmin:
		rides, err = a.rides.AllRides(c)
	default:
		c.JSON(http.StatusForbidden, gin.H{"code": "ROLE_NOT_PERMITTED", "message": "Unknown role"})
		return
	}
	if err != nil {
		writeError(c, err, "failed to list rides")
		return
	}
	c.JSON(http.StatusOK, nonNil(rides))
}

func (a *API) availableRidesHandler(c *gin.Context) {
	rides, err := a.rides.AvailableRides(c)
	if err != nil {
		writeError(c, err, "failed to list available rides")
		return
	}
	c.JSON(http.StatusOK, nonNil(rides))
}

func (a *API) getRideHandler(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	rideID, ok := pathID(c, "id")
	if !ok {
		return
	}

	d, err := a.rides.Details(c, rideID, actor(id))
	if err != nil {
		writeError(c, err, "failed to get ride")
		return
	}
	c.JSON(http.StatusOK, d)
}

func (a *API) acceptRideHandler(c *gin.Context) {
	a.driverTransition(c, "failed to accept ride", a.rides.AcceptRide)
}

func (a *API) startRideHandler(c *gin.Context) {
	a.driverTransition(c, "failed to start ride", a.rides.StartRide)
}

func (a *API) completeRideHandler(c *gin.Context) {
	var req completeRideRequest
	// The body is optional.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	a.driverTransition(c, "failed to complete ride", func(ctx context.Context, rideID, driverID uuid.UUID) (ride.Ride, error) {
		return a.rides.CompleteRide(ctx, rideID, driverID, ride.CompleteInput{FinalPrice: req.FinalPrice, Distance: req.Distance})
	})
}

// driverTransition resolves the calling driver and applies transition to the
// ride named in the path.
func (a *API) driverTransition(c *gin.Context, msg string, transition func(ctx context.Context, rideID, driverID uuid.UUID) (ride.Ride, error)) {
	id, ok := identity(c)
	if !ok {
		return
	}
	rideID, ok := pathID(c, "id")
	if !ok {
		return
	}

	driverID, err := a.accounts.DriverID(c, id.UserID)
	if err != nil {
		writeError(c, err, "failed to resolve driver")
		return
	}

	r, err := transition(c, rideID, driverID)
	if err != nil {
		writeError(c, err, msg)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (a *API) cancelRideHandler(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	rideID, ok := pathID(c, "id")
	if !ok {
		return
	}

	r, err := a.rides.CancelRide(c, rideID, actor(id))
	if err != nil {
		writeError(c, err, "failed to cancel ride")
		return
	}
	c.JSON(http.StatusOK, r)
}

func (a *API) rateRideHandler(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	rideID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req rateRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	r, err := a.rides.RateRide(c, rideID, id.UserID, req.Rating)
	if err != nil {
		writeError(c, err, "failed to rate ride")
		return
	}
	c.JSON(http.StatusOK, r)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
