// Package farm manages user-defined device groupings.
package farm

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"farm-dashboard-backend/internal/model"
	"farm-dashboard-backend/internal/store"
)

var (
	ErrFarmNotFound   = errors.New("farm not found")
	ErrForbidden      = errors.New("farm belongs to another user")
	ErrDeviceNotFound = errors.New("device not found")
	ErrNotDeviceOwner = errors.New("device belongs to another user")
	ErrInvalidName    = errors.New("farm name must be 1-128 characters")
)

const maxNameLength = 128

// Service implements farm CRUD and authorization.
type Service struct {
	farms   store.FarmStore
	devices store.DeviceStore
}

// NewService creates a farm service.
func NewService(farms store.FarmStore, devices store.DeviceStore) *Service {
	return &Service{farms: farms, devices: devices}
}

// ResolveFarmForRequester returns the farm when the requester may use it:
// admins may resolve any farm, everyone else only their own.
func (s *Service) ResolveFarmForRequester(ctx context.Context, farmID, requesterID string, isAdmin bool) (*model.Farm, error) {
	f, err := s.farms.FindFarm(ctx, farmID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrFarmNotFound
	}
	if err != nil {
		return nil, err
	}
	if !isAdmin && f.OwnerID != requesterID {
		return nil, ErrForbidden
	}
	return f, nil
}

// Input is the user-editable part of a farm.
type Input struct {
	Name        string
	Description string
	Location    string
}

func (in Input) normalized() (Input, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Location = strings.TrimSpace(in.Location)
	if in.Name == "" || len(in.Name) > maxNameLength {
		return in, ErrInvalidName
	}
	return in, nil
}

// Create adds a farm owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID string, in Input) (*model.Farm, error) {
	in, err := in.normalized()
	if err != nil {
		return nil, err
	}
	f := &model.Farm{
		OwnerID:     ownerID,
		Name:        in.Name,
		Description: in.Description,
		Location:    in.Location,
	}
	if err := s.farms.CreateFarm(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// List returns the requester's farms, or all farms for an admin asking for all.
func (s *Service) List(ctx context.Context, requesterID string, isAdmin, all bool) ([]model.Farm, error) {
	if isAdmin && all {
		return s.farms.ListFarms(ctx, "")
	}
	return s.farms.ListFarms(ctx, requesterID)
}

// Update replaces the editable fields of a farm.
func (s *Service) Update(ctx context.Context, farmID, requesterID string, isAdmin bool, in Input) (*model.Farm, error) {
	in, err := in.normalized()
	if err != nil {
		return nil, err
	}
	f, err := s.ResolveFarmForRequester(ctx, farmID, requesterID, isAdmin)
	if err != nil {
		return nil, err
	}
	f.Name, f.Description, f.Location = in.Name, in.Description, in.Location
	if err := s.farms.UpdateFarm(ctx, f); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrFarmNotFound
		}
		return nil, err
	}
	return f, nil
}

// Delete removes a farm; its devices stay registered and owned.
func (s *Service) Delete(ctx context.Context, farmID, requesterID string, isAdmin bool) error {
	if _, err := s.ResolveFarmForRequester(ctx, farmID, requesterID, isAdmin); err != nil {
		return err
	}
	if err := s.farms.DeleteFarm(ctx, farmID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrFarmNotFound
		}
		return err
	}
	return nil
}

// AssignDevice moves a device into farmID, or out of any farm when farmID is
// empty. Only the device owner or an admin may do this.
func (s *Service) AssignDevice(ctx context.Context, deviceID, farmID, requesterID string, isAdmin bool) error {
	d, err := s.devices.FindDevice(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrDeviceNotFound
	}
	if err != nil {
		return err
	}
	if !isAdmin && !d.OwnedBy(requesterID) {
		return ErrNotDeviceOwner
	}

	var target *string
	if farmID != "" {
		f, err := s.ResolveFarmForRequester(ctx, farmID, requesterID, isAdmin)
		if err != nil {
			return err
		}
		target = &f.ID
	}
	return s.devices.SetDeviceFarm(ctx, deviceID, target)
}
