package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/semanticallynull/ridehail-backend/subscription"
)

const defaultAuditLimit = 100

type verifyDriverRequest struct {
	Verified *bool `json:"verified" binding:"required"`
}

type setSubscriptionRequest struct {
	Status string `json:"status" binding:"required"`
}

func (a *API) listUsersHandler(c *gin.Context) {
	users, err := a.accounts.ListUsers(c)
	if err != nil {
		writeError(c, err, "failed to list users")
		return
	}
	c.JSON(http.StatusOK, nonNil(users))
}

func (a *API) listDriversHandler(c *gin.Context) {
	drivers, err := a.accounts.ListDrivers(c)
	if err != nil {
		writeError(c, err, "failed to list drivers")
		return
	}
	c.JSON(http.StatusOK, nonNil(drivers))
}

func (a *API) verifyDriverHandler(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	driverID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req verifyDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	d, err := a.accounts.VerifyDriver(c, id.UserID, driverID, *req.Verified)
	if err != nil {
		writeError(c, err, "failed to verify driver")
		return
	}
	c.JSON(http.StatusOK, d)
}

func (a *API) setSubscriptionHandler(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	driverID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req setSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	status, err := subscription.ParseStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_STATUS", "message": err.Error()})
		return
	}

	sub, err := a.accounts.SetSubscriptionStatus(c, id.UserID, driverID, status)
	if err != nil {
		writeError(c, err, "failed to update subscription")
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (a *API) listAllRidesHandler(c *gin.Context) {
	rides, err := a.rides.AllRides(c)
	if err != nil {
		writeError(c, err, "failed to list rides")
		return
	}
	c.JSON(http.StatusOK, nonNil(rides))
}

func (a *API) listAuditHandler(c *gin.Context) {
	limit := defaultAuditLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_LIMIT", "message": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries, err := a.audit.ListAudit(c, limit)
	if err != nil {
		writeError(c, err, "failed to list audit log")
		return
	}
	c.JSON(http.StatusOK, nonNil(entries))
}
