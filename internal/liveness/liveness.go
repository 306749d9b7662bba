// Package liveness marks silent devices offline.
package liveness

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"farm-dashboard-backend/config"
	"farm-dashboard-backend/internal/notification"
	"farm-dashboard-backend/internal/store"
)

// Service periodically sweeps the device registry.
type Service struct {
	cfg     config.LivenessConfig
	devices store.DeviceStore
	alerts  notification.Dispatcher
	log     *zap.Logger
	now     func() time.Time
}

// NewService creates a liveness sweeper. alerts may be nil.
func NewService(cfg config.LivenessConfig, devices store.DeviceStore, alerts notification.Dispatcher, log *zap.Logger) *Service {
	return &Service{
		cfg:     cfg,
		devices: devices,
		alerts:  alerts,
		log:     log.Named("liveness"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once immediately and then every configured interval until ctx
// is cancelled.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.log.Info("liveness sweeper is disabled")
		return
	}
	s.log.Info("starting liveness sweeper",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("offline_after", s.cfg.OfflineAfter))

	s.SweepOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("liveness sweeper shutting down")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// SweepOnce marks every device not heard from within OfflineAfter as offline
// and alerts the owners of the devices that changed. It returns how many
// devices went offline.
func (s *Service) SweepOnce(ctx context.Context) int {
	cutoff := s.now().Add(-s.cfg.OfflineAfter)
	stale, err := s.devices.MarkOfflineBefore(ctx, cutoff)
	if err != nil {
		s.log.Error("liveness sweep failed", zap.Error(err))
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	s.log.Info("devices went offline", zap.Int("count", len(stale)))
	for _, d := range stale {
		owner := d.Owner()
		if owner == "" || s.alerts == nil {
			continue
		}
		lastSeen := "unknown"
		if d.LastSeen != nil {
			lastSeen = d.LastSeen.Format(time.RFC3339)
		}
		s.alerts.Dispatch(notification.Alert{
			UserID:   owner,
			DeviceID: d.DeviceID,
			Title:    "Device offline",
			Body:     fmt.Sprintf("%s has not reported since %s", displayName(d.Name, d.DeviceID), lastSeen),
		})
	}
	return len(stale)
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}
