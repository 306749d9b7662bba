// Package ingest accepts readings pushed by devices.
//
// A device that has never been seen is registered on first contact in the
// unassigned state, and the api key generated for it is returned in that
// response only. Every later upload for the device must present that key.
package ingest

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"farm-dashboard-backend/config"
	"farm-dashboard-backend/internal/model"
	"farm-dashboard-backend/internal/notification"
	"farm-dashboard-backend/internal/parse"
	"farm-dashboard-backend/internal/store"
)

var (
	ErrInvalidAPIKey   = errors.New("invalid device api key")
	ErrDeviceExists    = errors.New("device already registered")
	ErrInvalidDeviceID = errors.New("deviceId must be 1-128 characters")
)

const (
	apiKeyBytes       = 32
	maxDeviceIDLength = 128
)

// Result summarises one accepted upload.
type Result struct {
	DeviceID string `json:"deviceId"`
	Accepted int    `json:"accepted"`
	// Registered is true when the upload created the device.
	Registered bool `json:"registered"`
	// APIKey is only set on registration.
	APIKey string `json:"apiKey,omitempty"`
}

// Service stores uploaded readings.
type Service struct {
	cfg      config.IngestConfig
	devices  store.DeviceStore
	readings store.ReadingStore
	alerts   notification.Dispatcher
	log      *zap.Logger
	now      func() time.Time
}

// NewService creates an ingest service. alerts may be nil.
func NewService(cfg config.IngestConfig, devices store.DeviceStore, readings store.ReadingStore, alerts notification.Dispatcher, log *zap.Logger) *Service {
	return &Service{
		cfg:      cfg,
		devices:  devices,
		readings: readings,
		alerts:   alerts,
		log:      log.Named("ingest"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func newAPIKey() (string, error) {
	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "failed to generate api key")
	}
	return hex.EncodeToString(b), nil
}

func validDeviceID(id string) bool {
	return id != "" && len(id) <= maxDeviceIDLength
}

// Ingest stores records, which must all belong to one device.
func (s *Service) Ingest(ctx context.Context, apiKey string, records []parse.Record) (*Result, error) {
	deviceID, err := parse.SingleDevice(records)
	if err != nil {
		return nil, err
	}
	deviceID = strings.TrimSpace(deviceID)
	if !validDeviceID(deviceID) {
		return nil, ErrInvalidDeviceID
	}

	device, registered, err := s.resolveDevice(ctx, deviceID, apiKey)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var owner *string
	if o := device.Owner(); o != "" {
		owner = &o
	}
	readings := make([]model.Reading, len(records))
	for i, r := range records {
		recordedAt := r.Timestamp
		if recordedAt.IsZero() {
			recordedAt = now
		}
		readings[i] = model.Reading{
			DeviceID:       deviceID,
			OwnerID:        owner,
			Moisture:       r.Moisture,
			Temperature:    r.Temperature,
			Humidity:       r.Humidity,
			BatteryVoltage: r.BatteryVoltage,
			RecordedAt:     recordedAt,
			ReceivedAt:     now,
		}
	}
	if err := s.readings.InsertReadings(ctx, readings); err != nil {
		return nil, err
	}
	if err := s.devices.TouchDevice(ctx, deviceID, now); err != nil {
		s.log.Warn("failed to update device liveness", zap.String("device_id", deviceID), zap.Error(err))
	}

	s.checkBattery(device, readings)

	res := &Result{DeviceID: deviceID, Accepted: len(readings), Registered: registered}
	if registered {
		res.APIKey = device.APIKey
	}
	s.log.Debug("readings accepted",
		zap.String("device_id", deviceID),
		zap.Int("count", len(readings)),
		zap.Bool("registered", registered))
	return res, nil
}

// resolveDevice loads the device and checks apiKey, or registers the device
// when it has never been seen.
func (s *Service) resolveDevice(ctx context.Context, deviceID, apiKey string) (*model.Device, bool, error) {
	device, err := s.devices.FindDevice(ctx, deviceID)
	if err == nil {
		if !keyMatches(device.APIKey, apiKey) {
			s.log.Info("rejected upload with bad api key", zap.String("device_id", deviceID))
			return nil, false, ErrInvalidAPIKey
		}
		return device, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	device, err = s.autoRegister(ctx, deviceID)
	if err != nil {
		return nil, false, err
	}
	if device != nil {
		return device, true, nil
	}

	// Another upload registered the device first.
	device, err = s.devices.FindDevice(ctx, deviceID)
	if err != nil {
		return nil, false, err
	}
	if !keyMatches(device.APIKey, apiKey) {
		return nil, false, ErrInvalidAPIKey
	}
	return device, false, nil
}

func keyMatches(stored, presented string) bool {
	if stored == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

// autoRegister creates deviceID unassigned. It returns nil when the id was
// taken concurrently.
func (s *Service) autoRegister(ctx context.Context, deviceID string) (*model.Device, error) {
	key, err := newAPIKey()
	if err != nil {
		return nil, err
	}
	unassigned := model.OwnerUnassigned
	device := &model.Device{
		DeviceID:  deviceID,
		Name:      deviceID,
		Latitude:  s.cfg.PlaceholderLatitude,
		Longitude: s.cfg.PlaceholderLongitude,
		OwnerID:   &unassigned,
		APIKey:    key,
		Status:    model.StatusAutoRegistered,
	}
	created, err := s.devices.CreateDeviceIfAbsent(ctx, device)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, nil
	}
	s.log.Info("device auto-registered", zap.String("device_id", deviceID))
	return device, nil
}

// checkBattery alerts the owner when the newest reading is below the
// configured threshold.
func (s *Service) checkBattery(device *model.Device, readings []model.Reading) {
	owner := device.Owner()
	if s.alerts == nil || owner == "" || s.cfg.LowBatteryVolts <= 0 {
		return
	}
	sorted := make([]model.Reading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].RecordedAt.After(sorted[j].RecordedAt) })

	for _, r := range sorted {
		if r.BatteryVoltage == nil {
			continue
		}
		if *r.BatteryVoltage < s.cfg.LowBatteryVolts {
			s.alerts.Dispatch(notification.Alert{
				UserID:   owner,
				DeviceID: device.DeviceID,
				Title:    "Low battery",
				Body:     fmt.Sprintf("%s battery is at %.2f V", device.Name, *r.BatteryVoltage),
			})
		}
		return
	}
}

// RegisterInput is an explicit device registration by an administrator.
type RegisterInput struct {
	DeviceID  string
	Name      string
	Location  string
	Latitude  *float64
	Longitude *float64
}

// Register creates an unassigned device and returns it with its api key.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.Device, error) {
	deviceID := strings.TrimSpace(in.DeviceID)
	if !validDeviceID(deviceID) {
		return nil, ErrInvalidDeviceID
	}
	key, err := newAPIKey()
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = deviceID
	}
	unassigned := model.OwnerUnassigned
	device := &model.Device{
		DeviceID:  deviceID,
		Name:      name,
		Location:  strings.TrimSpace(in.Location),
		Latitude:  s.cfg.PlaceholderLatitude,
		Longitude: s.cfg.PlaceholderLongitude,
		OwnerID:   &unassigned,
		APIKey:    key,
		Status:    model.StatusUnassigned,
	}
	if in.Latitude != nil {
		device.Latitude = *in.Latitude
	}
	if in.Longitude != nil {
		device.Longitude = *in.Longitude
	}

	created, err := s.devices.CreateDeviceIfAbsent(ctx, device)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, ErrDeviceExists
	}
	s.log.Info("device registered", zap.String("device_id", deviceID))
	return device, nil
}
