package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semanticallynull/ridehail-backend/account"
	"github.com/semanticallynull/ridehail-backend/driver"
	"github.com/semanticallynull/ridehail-backend/pricing"
	"github.com/semanticallynull/ridehail-backend/subscription"
)

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Phone    string `json:"phone"`
}

type registerDriverRequest struct {
	registerRequest
	LicensePlate string `json:"licensePlate" binding:"required"`
	VehicleModel string `json:"vehicleModel"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type driverAccountResponse struct {
	Driver       driver.Profile            `json:"driver"`
	Subscription subscription.Subscription `json:"subscription"`
}

func (r registerRequest) registration() account.Registration {
	return account.Registration{Email: r.Email, Password: r.Password, Name: r.Name, Phone: r.Phone}
}

func (a *API) registerPassengerHandler(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	u, err := a.accounts.RegisterPassenger(c, req.registration())
	if err != nil {
		writeError(c, err, "failed to register passenger")
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (a *API) registerDriverHandler(c *gin.Context) {
	var req registerDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	prof, sub, err := a.accounts.RegisterDriver(c, account.DriverRegistration{
		Registration: req.registration(),
		LicensePlate: req.LicensePlate,
		VehicleModel: req.VehicleModel,
	})
	if err != nil {
		writeError(c, err, "failed to register driver")
		return
	}
	c.JSON(http.StatusCreated, driverAccountResponse{Driver: prof, Subscription: sub})
}

func (a *API) loginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sess, err := a.accounts.Login(c, req.Email, req.Password)
	if err != nil {
		writeError(c, err, "failed to log in")
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (a *API) meHandler(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	p, err := a.accounts.Profile(c, id.UserID)
	if err != nil {
		writeError(c, err, "failed to get profile")
		return
	}
	c.JSON(http.StatusOK, p)
}

type priceResponse struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Price       int64  `json:"price"`
}

func (a *API) priceHandler(c *gin.Context) {
	origin, destination := c.Query("origin"), c.Query("destination")
	if origin == "" || destination == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "LOCATION_REQUIRED", "message": "origin and destination are required"})
		return
	}
	c.JSON(http.StatusOK, priceResponse{Origin: origin, Destination: destination, Price: pricing.Price(origin, destination)})
}

// listDriverContactsHandler shows the public side of every verified driver.
func (a *API) listDriverContactsHandler(c *gin.Context) {
	profiles, err := a.accounts.ListDrivers(c)
	if err != nil {
		writeError(c, err, "failed to list drivers")
		return
	}

	contacts := make([]driver.Contact, 0, len(profiles))
	for _, p := range profiles {
		if p.Verified {
			contacts = append(contacts, p.Contact())
		}
	}
	c.JSON(http.StatusOK, contacts)
}

func (a *API) listFavoritesHandler(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	favs, err := a.accounts.Favorites(c, id.UserID)
	if err != nil {
		writeError(c, err, "failed to list favorites")
		return
	}
	contacts := make([]driver.Contact, 0, len(favs))
	for _, p := range favs {
		contacts = append(contacts, p.Contact())
	}
	c.JSON(http.StatusOK, contacts)
}

func (a *API) addFavoriteHandler(c *gin.Context) {
	a.changeFavorite(c, a.accounts.AddFavorite)
}

func (a *API) removeFavoriteHandler(c *gin.Context) {
	a.changeFavorite(c, a.accounts.RemoveFavorite)
}

func (a *API) changeFavorite(c *gin.Context, change func(ctx context.Context, passengerID, driverID uuid.UUID) error) {
	id, ok := identity(c)
	if !ok {
		return
	}
	driverID, ok := pathID(c, "driverId")
	if !ok {
		return
	}

	if err := change(c, id.UserID, driverID); err != nil {
		writeError(c, err, "failed to update favorites")
		return
	}
	c.Status(http.StatusNoContent)
}
