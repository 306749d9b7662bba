package api

import (
	"github.com/SherClockHolmes/webpush-go"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"farm-dashboard-backend/config"
	"farm-dashboard-backend/internal/auth"
	"farm-dashboard-backend/internal/claim"
	"farm-dashboard-backend/internal/farm"
	"farm-dashboard-backend/internal/ingest"
	"farm-dashboard-backend/internal/invite"
	"farm-dashboard-backend/internal/store"
)

// Deps are the services the API is built on.
type Deps struct {
	Config  *config.Config
	Store   store.Store
	Auth    *auth.Service
	Invites *invite.Service
	Claims  *claim.Service
	Farms   *farm.Service
	Ingest  *ingest.Service
	WebPush *webpush.Options
	Log     *zap.Logger
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	cfg     *config.Config
	store   store.Store
	auth    *auth.Service
	invites *invite.Service
	claims  *claim.Service
	farms   *farm.Service
	ingest  *ingest.Service
	webpush *webpush.Options
	cache   *cache.Cache
	log     *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	ttl := d.Config.Server.CacheTTL
	return &Handler{
		cfg:     d.Config,
		store:   d.Store,
		auth:    d.Auth,
		invites: d.Invites,
		claims:  d.Claims,
		farms:   d.Farms,
		ingest:  d.Ingest,
		webpush: d.WebPush,
		cache:   cache.New(ttl, 2*ttl),
		log:     d.Log.Named("api"),
	}
}
