package main

import (
	"github.com/iProgrammerDmytro/credit-system/internal/auth"
	"github.com/iProgrammerDmytro/credit-system/internal/credits"
	"github.com/iProgrammerDmytro/credit-system/internal/httpapi"
	"github.com/iProgrammerDmytro/credit-system/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authManager *auth.Manager, store credits.Store, service *credits.Service) {
	r.Use(metrics.HTTP())

	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")

	// API-key surface: wallet resolution first, then per-route metering.
	metered := v1.Group("")
	metered.Use(credits.APIKeyAuth(store))
	{
		metered.GET("/balance", h.Balance)
		metered.GET("/echo", credits.ChargeCredits(service, 1), h.Echo)
	}

	// admin surface (JWT)
	v1.POST("/auth/login", h.Login)

	admin := v1.Group("/admin")
	admin.Use(auth.RequireAccessToken(authManager))
	admin.Use(auth.RequireAnyRole(auth.RoleAdmin))
	{
		admin.POST("/wallets", h.CreateWallet)
		admin.POST("/wallets/:wallet_id/keys", h.IssueAPIKey)
		admin.POST("/wallets/:wallet_id/topup", h.TopUp)
		admin.GET("/wallets/:wallet_id/transactions", h.ListTransactions)
	}
}
