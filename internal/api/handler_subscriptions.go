package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"farm-dashboard-backend/internal/model"
)

// subscriptionRequest is the browser's PushSubscription, flattened.
type subscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required,url"`
	P256DH   string `json:"p256dh" binding:"required"`
	Auth     string `json:"auth" binding:"required"`
}

type endpointRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// PutSubscription handles PUT /api/subscriptions. Alerts for the caller's
// devices go to every endpoint stored here.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	sub := &model.PushSubscription{
		Endpoint: req.Endpoint,
		UserID:   session(c).UserID,
		P256DH:   req.P256DH,
		Auth:     req.Auth,
	}
	if err := h.store.UpsertSubscription(c.Request.Context(), sub); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

// DeleteSubscription handles DELETE /api/subscriptions. Deleting an endpoint
// the caller does not own is a no-op.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req endpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	if err := h.store.DeleteSubscription(c.Request.Context(), session(c).UserID, req.Endpoint); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// endpointParam returns the endpoint query value still percent-encoded:
// stored endpoints are compared byte for byte.
func endpointParam(c *gin.Context) string {
	for _, pair := range strings.Split(c.Request.URL.RawQuery, "&") {
		if value, ok := strings.CutPrefix(pair, "endpoint="); ok {
			return value
		}
	}
	return ""
}

// GetSubscription handles GET /api/subscriptions?endpoint=.
func (h *Handler) GetSubscription(c *gin.Context) {
	endpoint := endpointParam(c)
	if endpoint == "" {
		badRequest(c, "endpoint is required")
		return
	}
	sub, err := h.store.FindSubscription(c.Request.Context(), session(c).UserID, endpoint)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"endpoint": sub.Endpoint, "subscribedAt": sub.CreatedAt})
}
