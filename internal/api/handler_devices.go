package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"farm-dashboard-backend/internal/auth"
	"farm-dashboard-backend/internal/model"
	"farm-dashboard-backend/internal/mw"
	"farm-dashboard-backend/internal/parse"
	"farm-dashboard-backend/internal/store"
)

const (
	defaultReadingsLimit = 500
	maxReadingsLimit     = 5000
)

// DeviceResponse is a device with its most recent reading. ReadingCount is
// only filled in on the detail endpoint.
type DeviceResponse struct {
	model.Device
	Latest       *model.Reading `json:"latest,omitempty"`
	ReadingCount *int64         `json:"readingCount,omitempty"`
}

// visibleDevice loads a device the caller may see. Devices owned by someone
// else are reported as missing to non-admins.
func (h *Handler) visibleDevice(c *gin.Context, s *auth.Session) (*model.Device, bool) {
	d, err := h.store.FindDevice(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	if !s.IsAdmin() && !d.OwnedBy(s.UserID) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return nil, false
	}
	return d, true
}

func (h *Handler) withLatest(c *gin.Context, devices []model.Device) ([]DeviceResponse, error) {
	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = d.DeviceID
	}
	latest, err := h.store.LatestReadings(c.Request.Context(), ids)
	if err != nil {
		return nil, err
	}
	out := make([]DeviceResponse, len(devices))
	for i, d := range devices {
		out[i] = DeviceResponse{Device: d}
		if r, ok := latest[d.DeviceID]; ok {
			r := r
			out[i].Latest = &r
		}
	}
	return out, nil
}

// listFilter scopes listings to the caller; admins may pass all=true.
func listFilter(c *gin.Context, s *auth.Session) store.DeviceFilter {
	filter := store.DeviceFilter{OwnerID: s.UserID, FarmID: c.Query("farmId")}
	if s.IsAdmin() && c.Query("all") == "true" {
		filter.OwnerID = ""
	}
	return filter
}

// ListDevices handles GET /api/devices.
func (h *Handler) ListDevices(c *gin.Context) {
	s := session(c)
	devices, err := h.store.ListDevices(c.Request.Context(), listFilter(c, s))
	if err != nil {
		h.fail(c, err)
		return
	}
	out, err := h.withLatest(c, devices)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// GetDevice handles GET /api/devices/:id.
func (h *Handler) GetDevice(c *gin.Context) {
	d, ok := h.visibleDevice(c, session(c))
	if !ok {
		return
	}
	out, err := h.withLatest(c, []model.Device{*d})
	if err != nil {
		h.fail(c, err)
		return
	}
	count, err := h.store.CountReadings(c.Request.Context(), d.DeviceID)
	if err != nil {
		h.fail(c, err)
		return
	}
	out[0].ReadingCount = &count
	c.JSON(http.StatusOK, out[0])
}

type patchDeviceRequest struct {
	Name      *string  `json:"name" binding:"omitempty,min=1,max=256"`
	Location  *string  `json:"location" binding:"omitempty,max=256"`
	Latitude  *float64 `json:"latitude" binding:"omitempty,min=-90,max=90"`
	Longitude *float64 `json:"longitude" binding:"omitempty,min=-180,max=180"`
}

// PatchDevice handles PATCH /api/devices/:id.
func (h *Handler) PatchDevice(c *gin.Context) {
	s := session(c)
	d, ok := h.visibleDevice(c, s)
	if !ok {
		return
	}
	var req patchDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	details := store.DeviceDetails{Name: req.Name, Location: req.Location, Latitude: req.Latitude, Longitude: req.Longitude}
	if details.Empty() {
		badRequest(c, "nothing to update")
		return
	}
	if err := h.store.UpdateDeviceDetails(c.Request.Context(), d.DeviceID, details); err != nil {
		h.fail(c, err)
		return
	}
	h.invalidate(s.UserID, d.Owner())

	updated, err := h.store.FindDevice(c.Request.Context(), d.DeviceID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

type putDeviceFarmRequest struct {
	FarmID *string `json:"farmId"`
}

// PutDeviceFarm handles PUT /api/devices/:id/farm. A null farmId removes the
// device from its farm.
func (h *Handler) PutDeviceFarm(c *gin.Context) {
	s := session(c)
	var req putDeviceFarmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	farmID := ""
	if req.FarmID != nil {
		farmID = *req.FarmID
	}
	if err := h.farms.AssignDevice(c.Request.Context(), c.Param("id"), farmID, s.UserID, s.IsAdmin()); err != nil {
		h.fail(c, err)
		return
	}
	h.invalidate(s.UserID)
	c.Status(http.StatusNoContent)
}

func parseTimeQuery(c *gin.Context, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := parse.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, errors.Errorf("invalid %s: use RFC3339 or unix seconds", key)
	}
	return t, nil
}

// GetReadings handles GET /api/devices/:id/readings?from=&to=&limit=.
func (h *Handler) GetReadings(c *gin.Context) {
	d, ok := h.visibleDevice(c, session(c))
	if !ok {
		return
	}

	from, err := parseTimeQuery(c, "from")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	to, err := parseTimeQuery(c, "to")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	limit := defaultReadingsLimit
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 1 || limit > maxReadingsLimit {
			badRequest(c, "limit must be between 1 and 5000")
			return
		}
	}

	readings, err := h.store.ListReadings(c.Request.Context(), store.ReadingFilter{DeviceID: d.DeviceID, From: from, To: to, Limit: limit})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deviceId": d.DeviceID, "readings": readings})
}

// invalidate drops cached views of the given users.
func (h *Handler) invalidate(userIDs ...string) {
	for _, id := range userIDs {
		if id != "" {
			mw.InvalidateUser(h.cache, id)
		}
	}
}
