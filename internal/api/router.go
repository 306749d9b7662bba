package api

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"farm-dashboard-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	handler := NewHandler(d)
	cfg := d.Config

	apiLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)
	ingestLimiter := mw.RateLimiterBy(rate.Limit(cfg.Ingest.RateLimitPerSec), cfg.Ingest.RateLimitBurst, func(c *gin.Context) string {
		if key := deviceKey(c); key != "" {
			return key
		}
		return c.ClientIP()
	})
	var caching gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if cfg.Server.CacheTTL > 0 {
		caching = mw.Cache(handler.cache, cfg.Server.CacheTTL)
	}

	r.GET("/healthz", handler.Healthz)

	// Devices push on their own budget.
	ingest := r.Group("/api/ingest", ingestLimiter)
	{
		ingest.POST("", handler.Ingest)
		ingest.POST("/batch", handler.IngestBatch)
	}

	api := r.Group("/api", apiLimiter, mw.Session(d.Auth))
	{
		api.POST("/auth/login", handler.Login)
		api.POST("/auth/register", handler.Register)
		api.POST("/auth/external", handler.External)
		api.POST("/auth/logout", handler.Logout)
		api.GET("/invites/verify", handler.VerifyInvite)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)

		// Claim failures use their own response shape, including 401.
		api.POST("/devices/claim", handler.ClaimDevice)

		user := api.Group("", mw.RequireSession())
		user.GET("/auth/me", handler.Me)

		user.GET("/dashboard", caching, handler.Dashboard)
		user.GET("/map", caching, handler.Map)

		user.GET("/devices", handler.ListDevices)
		user.GET("/devices/:id", handler.GetDevice)
		user.PATCH("/devices/:id", handler.PatchDevice)
		user.PUT("/devices/:id/farm", handler.PutDeviceFarm)
		user.GET("/devices/:id/readings", caching, handler.GetReadings)

		user.GET("/farms", handler.ListFarms)
		user.POST("/farms", handler.CreateFarm)
		user.PATCH("/farms/:id", handler.UpdateFarm)
		user.DELETE("/farms/:id", handler.DeleteFarm)

		user.GET("/subscriptions", handler.GetSubscription)
		user.PUT("/subscriptions", handler.PutSubscription)
		user.DELETE("/subscriptions", handler.DeleteSubscription)

		admin := api.Group("/admin", mw.RequireAdmin())
		admin.GET("/users", handler.ListUsers)
		admin.PATCH("/users/:id/role", handler.UpdateUserRole)
		admin.DELETE("/users/:id", handler.DeleteUser)
		admin.GET("/invites", handler.ListInvites)
		admin.POST("/invites", handler.CreateInvite)
		admin.DELETE("/invites/:id", handler.RevokeInvite)
		admin.POST("/devices", handler.RegisterDevice)
	}

	return r
}
