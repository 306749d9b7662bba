package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"farm-dashboard-backend/internal/model"
)

type dashboardTotals struct {
	Devices    int `json:"devices"`
	Online     int `json:"online"`
	Offline    int `json:"offline"`
	LowBattery int `json:"lowBattery"`
	Farms      int `json:"farms"`
}

type dashboardResponse struct {
	Totals  dashboardTotals  `json:"totals"`
	Farms   []model.Farm     `json:"farms"`
	Devices []DeviceResponse `json:"devices"`
}

// Dashboard handles GET /api/dashboard: totals plus every visible device with
// its latest reading.
func (h *Handler) Dashboard(c *gin.Context) {
	s := session(c)
	filter := listFilter(c, s)

	devices, err := h.store.ListDevices(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	views, err := h.withLatest(c, devices)
	if err != nil {
		h.fail(c, err)
		return
	}
	farms, err := h.farms.List(c.Request.Context(), s.UserID, s.IsAdmin(), filter.OwnerID == "")
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := dashboardResponse{Farms: farms, Devices: views}
	resp.Totals.Devices = len(views)
	resp.Totals.Farms = len(farms)
	for _, v := range views {
		if v.IsOnline {
			resp.Totals.Online++
		} else {
			resp.Totals.Offline++
		}
		if v.Latest != nil && v.Latest.BatteryVoltage != nil && *v.Latest.BatteryVoltage < h.cfg.Ingest.LowBatteryVolts {
			resp.Totals.LowBattery++
		}
	}
	c.JSON(http.StatusOK, resp)
}

type mapMarker struct {
	DeviceID  string         `json:"deviceId"`
	Name      string         `json:"name"`
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	IsOnline  bool           `json:"isOnline"`
	FarmID    *string        `json:"farmId"`
	Latest    *model.Reading `json:"latest,omitempty"`
}

// Map handles GET /api/map: one marker per visible device.
func (h *Handler) Map(c *gin.Context) {
	s := session(c)
	devices, err := h.store.ListDevices(c.Request.Context(), listFilter(c, s))
	if err != nil {
		h.fail(c, err)
		return
	}
	views, err := h.withLatest(c, devices)
	if err != nil {
		h.fail(c, err)
		return
	}
	markers := make([]mapMarker, len(views))
	for i, v := range views {
		markers[i] = mapMarker{
			DeviceID:  v.DeviceID,
			Name:      v.Name,
			Latitude:  v.Latitude,
			Longitude: v.Longitude,
			IsOnline:  v.IsOnline,
			FarmID:    v.FarmID,
			Latest:    v.Latest,
		}
	}
	c.JSON(http.StatusOK, markers)
}
