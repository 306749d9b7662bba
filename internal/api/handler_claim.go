package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"farm-dashboard-backend/internal/claim"
	"farm-dashboard-backend/internal/mw"
)

type claimRequest struct {
	DeviceID string `json:"deviceId"`
	FarmID   string `json:"farmId"`
	// UserID lets an administrator claim on behalf of another user.
	UserID string `json:"userId"`
}

type claimedDevice struct {
	DeviceID                      string    `json:"deviceId"`
	Name                          string    `json:"name"`
	Location                      string    `json:"location"`
	OwnerID                       string    `json:"ownerId"`
	FarmID                        *string   `json:"farmId"`
	HistoricalReadingsTransferred int64     `json:"historicalReadingsTransferred"`
	ClaimedAt                     time.Time `json:"claimedAt"`
}

var claimStatus = map[claim.Kind]int{
	claim.KindUnauthenticated:    http.StatusUnauthorized,
	claim.KindInvalidInput:       http.StatusBadRequest,
	claim.KindForbidden:          http.StatusForbidden,
	claim.KindDeviceNotFound:     http.StatusNotFound,
	claim.KindFarmNotFound:       http.StatusNotFound,
	claim.KindAlreadyClaimed:     http.StatusConflict,
	claim.KindOwnedByAnotherUser: http.StatusConflict,
	claim.KindClaimRaceLost:      http.StatusConflict,
	claim.KindUnexpected:         http.StatusInternalServerError,
}

func claimFailure(c *gin.Context, err error) {
	kind := claim.KindOf(err)
	status, ok := claimStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := "internal error"
	var cerr *claim.Error
	if errors.As(err, &cerr) {
		msg = cerr.Message
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg, "code": kind})
}

// ClaimDevice handles POST /api/devices/claim.
func (h *Handler) ClaimDevice(c *gin.Context) {
	s, ok := mw.SessionFrom(c)
	if !ok {
		claimFailure(c, claim.NewError(claim.KindUnauthenticated, "authentication required"))
		return
	}

	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		claimFailure(c, claim.NewError(claim.KindInvalidInput, "request body must be a JSON object"))
		return
	}

	res, err := h.claims.ClaimDevice(c.Request.Context(), claim.Request{
		RequesterID:    s.UserID,
		RequesterEmail: s.Email,
		RequesterRole:  s.Role,
		DeviceID:       req.DeviceID,
		FarmID:         req.FarmID,
		AssignToUserID: req.UserID,
	})
	if err != nil {
		claimFailure(c, err)
		return
	}
	h.invalidate(s.UserID, res.OwnerID, res.PreviousOwnerID)

	message := "Device claimed successfully"
	if res.HistoricalReadingsTransferred > 0 {
		message = "Device claimed successfully; historical readings were transferred to the new owner"
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": message,
		"device": claimedDevice{
			DeviceID:                      res.DeviceID,
			Name:                          res.Name,
			Location:                      res.Location,
			OwnerID:                       res.OwnerID,
			FarmID:                        res.FarmID,
			HistoricalReadingsTransferred: res.HistoricalReadingsTransferred,
			ClaimedAt:                     res.ClaimedAt,
		},
	})
}
