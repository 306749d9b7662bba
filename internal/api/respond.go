package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"farm-dashboard-backend/internal/auth"
	"farm-dashboard-backend/internal/farm"
	"farm-dashboard-backend/internal/ingest"
	"farm-dashboard-backend/internal/invite"
	"farm-dashboard-backend/internal/mw"
	"farm-dashboard-backend/internal/parse"
	"farm-dashboard-backend/internal/store"
)

// errorStatus maps domain errors to HTTP status codes. Unknown errors are 500.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, farm.ErrFarmNotFound),
		errors.Is(err, farm.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, farm.ErrForbidden),
		errors.Is(err, farm.ErrNotDeviceOwner),
		errors.Is(err, auth.ErrInviteRequired):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, ingest.ErrInvalidAPIKey):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, ingest.ErrDeviceExists):
		return http.StatusConflict
	case errors.Is(err, invite.ErrInviteNotFound),
		errors.Is(err, invite.ErrInviteExpired),
		errors.Is(err, invite.ErrInvalidToken):
		return http.StatusGone
	case errors.Is(err, parse.ErrTooManyRows):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, farm.ErrInvalidName),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, invite.ErrInvalidEmail),
		errors.Is(err, invite.ErrInvalidRole),
		errors.Is(err, ingest.ErrInvalidDeviceID),
		errors.Is(err, parse.ErrEmpty),
		errors.Is(err, parse.ErrMissingColumn),
		errors.Is(err, parse.ErrMixedDevices),
		errors.Is(err, parse.ErrUnknownFormat),
		errors.Is(err, parse.ErrNoMeasurements):
		return http.StatusBadRequest
	}
	var rowErr *parse.RowError
	if errors.As(err, &rowErr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// fail writes err as {"error": ...}. Internal errors are logged and hidden.
func (h *Handler) fail(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

// session returns the caller's session; RequireSession guarantees it exists.
func session(c *gin.Context) *auth.Session {
	s, ok := mw.SessionFrom(c)
	if !ok {
		return &auth.Session{}
	}
	return s
}
