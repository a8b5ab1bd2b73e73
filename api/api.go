package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/semanticallynull/ridehail-backend/account"
	"github.com/semanticallynull/ridehail-backend/audit"
	"github.com/semanticallynull/ridehail-backend/internal/auth"
	"github.com/semanticallynull/ridehail-backend/internal/middleware"
	"github.com/semanticallynull/ridehail-backend/ride"
	"github.com/semanticallynull/ridehail-backend/user"
)

// AuditLister reads back the audit log for admins.
type AuditLister interface {
	ListAudit(ctx context.Context, limit int) ([]audit.Entry, error)
}

type Config struct {
	Logger   *slog.Logger
	Registry *prometheus.Registry
	// MetricsUsername and MetricsPassword protect /metrics with basic auth
	// when both are set.
	MetricsUsername string
	MetricsPassword string
}

type API struct {
	r        *gin.Engine
	rides    *ride.Service
	accounts *account.Service
	audit    AuditLister
	verifier *auth.Verifier
}

func New(rides *ride.Service, accounts *account.Service, al AuditLister, verifier *auth.Verifier, ws http.HandlerFunc, cfg Config) *API {
	a := &API{
		r:        gin.New(),
		rides:    rides,
		accounts: accounts,
		audit:    al,
		verifier: verifier,
	}

	// Handlers pass *gin.Context to services; let it resolve the request's
	// span and deadline.
	a.r.ContextWithFallback = true

	a.r.Use(gin.Recovery())
	a.r.Use(middleware.Tracing())
	a.r.Use(middleware.Logging(cfg.Logger))
	a.r.Use(middleware.Metrics(cfg.Registry))

	a.r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	metrics := gin.WrapH(promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	if cfg.MetricsUsername != "" && cfg.MetricsPassword != "" {
		a.r.GET("/metrics", gin.BasicAuth(gin.Accounts{cfg.MetricsUsername: cfg.MetricsPassword}), metrics)
	} else {
		a.r.GET("/metrics", metrics)
	}

	// Clients authenticate in-band after the upgrade.
	a.r.GET("/ws", gin.WrapF(ws))

	a.r.POST("/auth/register", a.registerPassengerHandler)
	a.r.POST("/auth/register/driver", a.registerDriverHandler)
	a.r.POST("/auth/login", a.loginHandler)

	authed := a.r.Group("/")
	authed.Use(verifier.Middleware())
	{
		authed.GET("/me", a.meHandler)
		authed.GET("/price", a.priceHandler)

		authed.POST("/rides", requireRole(user.RolePassenger), a.requestRideHandler)
		authed.GET("/rides", a.listRidesHandler)
		authed.GET("/rides/available", requireRole(user.RoleDriver), a.availableRidesHandler)
		authed.GET("/rides/:id", a.getRideHandler)
		authed.POST("/rides/:id/accept", requireRole(user.RoleDriver), a.acceptRideHandler)
		authed.POST("/rides/:id/start", requireRole(user.RoleDriver), a.startRideHandler)
		authed.POST("/rides/:id/complete", requireRole(user.RoleDriver), a.completeRideHandler)
		authed.POST("/rides/:id/cancel", a.cancelRideHandler)
		authed.POST("/rides/:id/rate", requireRole(user.RolePassenger), a.rateRideHandler)

		authed.GET("/drivers", a.listDriverContactsHandler)

		favorites := authed.Group("/favorites", requireRole(user.RolePassenger))
		favorites.GET("", a.listFavoritesHandler)
		favorites.PUT("/:driverId", a.addFavoriteHandler)
		favorites.DELETE("/:driverId", a.removeFavoriteHandler)
	}

	admin := authed.Group("/admin", requireRole(user.RoleAdmin))
	{
		admin.GET("/users", a.listUsersHandler)
		admin.GET("/drivers", a.listDriversHandler)
		admin.POST("/drivers/:id/verify", a.verifyDriverHandler)
		admin.PUT("/drivers/:id/subscription", a.setSubscriptionHandler)
		admin.GET("/rides", a.listAllRidesHandler)
		admin.GET("/audit", a.listAuditHandler)
	}

	return a
}

func (a *API) Router() *gin.Engine {
	return a.r
}
