package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"farm-dashboard-backend/internal/farm"
)

type farmRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

func (r farmRequest) input() farm.Input {
	return farm.Input{Name: r.Name, Description: r.Description, Location: r.Location}
}

// ListFarms handles GET /api/farms.
func (h *Handler) ListFarms(c *gin.Context) {
	s := session(c)
	farms, err := h.farms.List(c.Request.Context(), s.UserID, s.IsAdmin(), c.Query("all") == "true")
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, farms)
}

// CreateFarm handles POST /api/farms.
func (h *Handler) CreateFarm(c *gin.Context) {
	s := session(c)
	var req farmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name is required")
		return
	}
	f, err := h.farms.Create(c.Request.Context(), s.UserID, req.input())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.invalidate(s.UserID)
	c.JSON(http.StatusCreated, f)
}

// UpdateFarm handles PATCH /api/farms/:id.
func (h *Handler) UpdateFarm(c *gin.Context) {
	s := session(c)
	var req farmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name is required")
		return
	}
	f, err := h.farms.Update(c.Request.Context(), c.Param("id"), s.UserID, s.IsAdmin(), req.input())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.invalidate(s.UserID, f.OwnerID)
	c.JSON(http.StatusOK, f)
}

// DeleteFarm handles DELETE /api/farms/:id.
func (h *Handler) DeleteFarm(c *gin.Context) {
	s := session(c)
	if err := h.farms.Delete(c.Request.Context(), c.Param("id"), s.UserID, s.IsAdmin()); err != nil {
		h.fail(c, err)
		return
	}
	h.invalidate(s.UserID)
	c.Status(http.StatusNoContent)
}
