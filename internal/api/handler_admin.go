package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"farm-dashboard-backend/internal/ingest"
	"farm-dashboard-backend/internal/model"
)

// ListUsers handles GET /api/admin/users.
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.store.ListUsers(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

type roleRequest struct {
	Role model.Role `json:"role" binding:"required"`
}

// UpdateUserRole handles PATCH /api/admin/users/:id/role.
func (h *Handler) UpdateUserRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Role.Valid() {
		badRequest(c, "role must be admin or user")
		return
	}
	id := c.Param("id")
	if id == session(c).UserID && req.Role != model.RoleAdmin {
		badRequest(c, "administrators cannot demote themselves")
		return
	}
	if err := h.store.UpdateUserRole(c.Request.Context(), id, req.Role); err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("user role changed",
		zap.String("user_id", id),
		zap.String("role", string(req.Role)),
		zap.String("by", session(c).UserID))
	c.Status(http.StatusNoContent)
}

// DeleteUser handles DELETE /api/admin/users/:id. The user's devices, farms
// and subscriptions go with them; their readings stay.
func (h *Handler) DeleteUser(c *gin.Context) {
	id := c.Param("id")
	if id == session(c).UserID {
		badRequest(c, "administrators cannot delete themselves")
		return
	}
	devices, err := h.store.DeleteUserCascade(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.invalidate(id)
	h.log.Info("user deleted",
		zap.String("user_id", id),
		zap.Int64("devices_deleted", devices),
		zap.String("by", session(c).UserID))
	c.JSON(http.StatusOK, gin.H{"devicesDeleted": devices})
}

// ListInvites handles GET /api/admin/invites.
func (h *Handler) ListInvites(c *gin.Context) {
	invites, err := h.invites.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, invites)
}

type inviteRequest struct {
	Email string     `json:"email" binding:"required"`
	Role  model.Role `json:"role"`
}

// CreateInvite handles POST /api/admin/invites. The token is only ever
// returned here.
func (h *Handler) CreateInvite(c *gin.Context) {
	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email is required")
		return
	}
	token, inv, err := h.invites.Create(c.Request.Context(), req.Email, req.Role, session(c).UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"invite": inv, "token": token})
}

// RevokeInvite handles DELETE /api/admin/invites/:id.
func (h *Handler) RevokeInvite(c *gin.Context) {
	if err := h.invites.Revoke(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type registerDeviceRequest struct {
	DeviceID  string   `json:"deviceId" binding:"required"`
	Name      string   `json:"name"`
	Location  string   `json:"location"`
	Latitude  *float64 `json:"latitude" binding:"omitempty,min=-90,max=90"`
	Longitude *float64 `json:"longitude" binding:"omitempty,min=-180,max=180"`
}

// RegisterDevice handles POST /api/admin/devices. The api key is only ever
// returned here.
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	d, err := h.ingest.Register(c.Request.Context(), ingest.RegisterInput{
		DeviceID:  req.DeviceID,
		Name:      req.Name,
		Location:  req.Location,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"device": d, "apiKey": d.APIKey})
}
