// Package claim moves devices into a user's ownership.
//
// A claim is a read, a set of precondition checks and one conditional UPDATE
// on the device row. The UPDATE is the only serialisation point: no lock is
// held between the read and the write, so two claimants that both read the
// device as unassigned race on the UPDATE and exactly one of them sees a row
// affected. The loser gets KindClaimRaceLost and is not retried.
//
// Once ownership is written, the owner snapshot on the device's historical
// readings is rewritten in a second, best-effort step. A failure there is
// logged and reported as zero transferred readings; the claim stands.
package claim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"farm-dashboard-backend/internal/farm"
	"farm-dashboard-backend/internal/model"
	"farm-dashboard-backend/internal/store"
)

const (
	maxDeviceIDLength = 128
	fallbackOwnerName = "another user"
	ownerLabelTTL     = 5 * time.Minute
)

// FarmResolver authorizes a farm for a requester.
type FarmResolver interface {
	ResolveFarmForRequester(ctx context.Context, farmID, requesterID string, isAdmin bool) (*model.Farm, error)
}

// Request is one claim attempt.
type Request struct {
	RequesterID    string
	RequesterEmail string
	RequesterRole  model.Role
	DeviceID       string
	// FarmID is optional; empty means the device keeps its current farm.
	FarmID string
	// AssignToUserID lets an admin claim on behalf of another user.
	AssignToUserID string
}

// Result describes the device after a successful claim.
type Result struct {
	DeviceID                      string    `json:"deviceId"`
	Name                          string    `json:"name"`
	Location                      string    `json:"location"`
	Latitude                      float64   `json:"latitude"`
	Longitude                     float64   `json:"longitude"`
	OwnerID                       string    `json:"ownerId"`
	FarmID                        *string   `json:"farmId"`
	HistoricalReadingsTransferred int64     `json:"historicalReadingsTransferred"`
	ClaimedAt                     time.Time `json:"claimedAt"`
	// PreviousOwnerID is set when an admin took the device over.
	PreviousOwnerID string `json:"previousOwnerId,omitempty"`
}

// Service runs the claim workflow.
type Service struct {
	devices  store.DeviceStore
	readings store.ReadingStore
	users    store.UserStore
	farms    FarmResolver
	log      *zap.Logger
	labels   *cache.Cache
	now      func() time.Time
}

// NewService creates a claim service.
func NewService(devices store.DeviceStore, readings store.ReadingStore, users store.UserStore, farms FarmResolver, log *zap.Logger) *Service {
	return &Service{
		devices:  devices,
		readings: readings,
		users:    users,
		farms:    farms,
		log:      log.Named("claim"),
		labels:   cache.New(ownerLabelTTL, 2*ownerLabelTTL),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type ownership int

const (
	unassigned ownership = iota
	ownedBySelf
	ownedByOther
)

func classify(d *model.Device, ownerID string) ownership {
	switch {
	case d.IsUnassigned():
		return unassigned
	case d.OwnedBy(ownerID):
		return ownedBySelf
	default:
		return ownedByOther
	}
}

// ClaimDevice moves req.DeviceID into the requester's ownership (or, for an
// admin, into AssignToUserID's). Every failure is an *Error; nothing is
// written unless all preconditions pass.
func (s *Service) ClaimDevice(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.RequesterID) == "" || strings.TrimSpace(req.RequesterEmail) == "" {
		return nil, newError(KindUnauthenticated, "authentication required", nil)
	}
	isAdmin := req.RequesterRole == model.RoleAdmin

	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		return nil, newError(KindInvalidInput, "deviceId is required", nil)
	}
	if len(deviceID) > maxDeviceIDLength {
		return nil, newError(KindInvalidInput, "deviceId is too long", nil)
	}
	farmID := strings.TrimSpace(req.FarmID)
	if farmID != "" {
		if _, err := uuid.Parse(farmID); err != nil {
			return nil, newError(KindInvalidInput, "farmId is invalid", err)
		}
	}

	device, err := s.devices.FindDevice(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(KindDeviceNotFound, fmt.Sprintf("device %s not found", deviceID), err)
	}
	if err != nil {
		return nil, s.unexpected("failed to load device", err, req, deviceID)
	}

	// The farm is checked against whoever will own the device.
	newOwnerID, newOwnerEmail := req.RequesterID, req.RequesterEmail
	farmOwnerID, farmOwnerIsAdmin := req.RequesterID, isAdmin
	assignTo := strings.TrimSpace(req.AssignToUserID)
	if assignTo != "" && assignTo != req.RequesterID {
		if !isAdmin {
			return nil, newError(KindForbidden, "only administrators can claim devices for other users", nil)
		}
		target, err := s.users.FindUser(ctx, assignTo)
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindInvalidInput, "target user does not exist", err)
		}
		if err != nil {
			return nil, s.unexpected("failed to resolve target user", err, req, deviceID)
		}
		newOwnerID, newOwnerEmail = target.ID, target.Email
		farmOwnerID, farmOwnerIsAdmin = target.ID, target.Role == model.RoleAdmin
	}

	var targetFarm *string
	if farmID != "" {
		f, err := s.farms.ResolveFarmForRequester(ctx, farmID, farmOwnerID, farmOwnerIsAdmin)
		switch {
		case errors.Is(err, farm.ErrFarmNotFound):
			return nil, newError(KindFarmNotFound, "farm not found", err)
		case errors.Is(err, farm.ErrForbidden):
			return nil, newError(KindForbidden, "farm belongs to another user", err)
		case err != nil:
			return nil, s.unexpected("failed to resolve farm", err, req, deviceID)
		}
		targetFarm = &f.ID
	}

	state := classify(device, newOwnerID)
	switch state {
	case ownedBySelf:
		return nil, newError(KindAlreadyClaimed, "device is already claimed by this account", nil)
	case ownedByOther:
		if !isAdmin {
			return nil, newError(KindOwnedByAnotherUser,
				fmt.Sprintf("device is already claimed by %s", s.ownerLabel(ctx, device.Owner())), nil)
		}
	}

	claimedAt := s.now()
	change := store.OwnershipChange{
		OwnerID:    newOwnerID,
		OwnerEmail: newOwnerEmail,
		FarmID:     targetFarm,
		At:         claimedAt,
	}

	var affected int64
	if state == unassigned {
		affected, err = s.devices.ClaimDeviceIfUnassigned(ctx, deviceID, change)
	} else {
		affected, err = s.devices.TakeoverDevice(ctx, deviceID, change)
	}
	if err != nil {
		return nil, s.unexpected("failed to write ownership", err, req, deviceID)
	}
	if affected == 0 {
		s.log.Info("claim race lost",
			zap.String("device_id", deviceID),
			zap.String("requester_id", req.RequesterID))
		return nil, newError(KindClaimRaceLost, "device was claimed by someone else, please try again", nil)
	}

	// Ownership is committed; from here on nothing fails the claim.
	transferred, err := s.readings.ReassignReadings(ctx, deviceID, newOwnerID, claimedAt)
	if err != nil {
		s.log.Warn("telemetry owner fix-up failed",
			zap.String("device_id", deviceID),
			zap.String("owner_id", newOwnerID),
			zap.Error(err))
		transferred = 0
	}

	result := &Result{
		DeviceID:                      deviceID,
		Name:                          device.Name,
		Location:                      device.Location,
		Latitude:                      device.Latitude,
		Longitude:                     device.Longitude,
		OwnerID:                       newOwnerID,
		FarmID:                        device.FarmID,
		HistoricalReadingsTransferred: transferred,
		ClaimedAt:                     claimedAt,
	}
	if targetFarm != nil {
		result.FarmID = targetFarm
	}
	if state == ownedByOther {
		result.PreviousOwnerID = device.Owner()
	}

	if updated, err := s.devices.FindDevice(ctx, deviceID); err != nil {
		s.log.Warn("failed to re-read claimed device", zap.String("device_id", deviceID), zap.Error(err))
	} else {
		result.Name = updated.Name
		result.Location = updated.Location
		result.Latitude = updated.Latitude
		result.Longitude = updated.Longitude
		result.FarmID = updated.FarmID
	}

	s.log.Info("device claimed",
		zap.String("device_id", deviceID),
		zap.String("owner_id", newOwnerID),
		zap.String("requester_id", req.RequesterID),
		zap.Bool("takeover", state == ownedByOther),
		zap.Int64("readings_transferred", transferred))
	return result, nil
}

// ownerLabel names the current owner for an error message. Lookup failures
// fall back to a generic phrase.
func (s *Service) ownerLabel(ctx context.Context, ownerID string) string {
	if label, ok := s.labels.Get(ownerID); ok {
		return label.(string)
	}
	user, err := s.users.FindUser(ctx, ownerID)
	if err != nil {
		s.log.Debug("owner lookup failed", zap.String("owner_id", ownerID), zap.Error(err))
		return fallbackOwnerName
	}
	label := user.DisplayName()
	if label == "" {
		return fallbackOwnerName
	}
	s.labels.SetDefault(ownerID, label)
	return label
}

func (s *Service) unexpected(msg string, err error, req Request, deviceID string) *Error {
	s.log.Error(msg,
		zap.String("device_id", deviceID),
		zap.String("requester_id", req.RequesterID),
		zap.Error(err))
	return newError(KindUnexpected, "internal error", err)
}
