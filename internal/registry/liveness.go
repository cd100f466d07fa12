package registry

import (
	"time"

	"roost/internal/logs"
	"roost/internal/models"
)

// Touch records a heartbeat: last_seen_at = now and status online,
// unconditionally. An offline device that beats again is online again;
// there is no terminal state.
func (s *Service) Touch(deviceID string, metricsJSON string) (models.Device, error) {
	if !validDeviceID(deviceID) {
		return models.Device{}, ErrInvalidIdentity
	}
	unlock := s.lockDevice(deviceID)
	defer unlock()

	d, err := s.store.FindByDeviceID(deviceID)
	if err != nil {
		return models.Device{}, err
	}
	if d == nil {
		return models.Device{}, ErrNotFound
	}

	now := s.nowFn()
	d.LastSeenAt = &now
	d.Status = models.StatusOnline
	if metricsJSON != "" {
		d.LastMetrics = metricsJSON
	}
	if err := s.store.Save(d); err != nil {
		return models.Device{}, err
	}
	return *d, nil
}

// SweepLiveness demotes silent devices to offline. This is the only code
// path that sets offline: handlers never do it inline, so one slow poll
// cannot flap a device. Each candidate is re-checked under its own lock;
// the sweep never holds more than one device lock at a time.
func (s *Service) SweepLiveness(now time.Time) (int, error) {
	all, err := s.store.List(Filter{})
	if err != nil {
		return 0, err
	}

	demoted := 0
	for _, cand := range all {
		if cand.Status == models.StatusOffline {
			continue
		}
		func() {
			unlock := s.lockDevice(cand.DeviceID)
			defer unlock()

			d, err := s.store.FindByDeviceID(cand.DeviceID)
			if err != nil || d == nil || d.Status == models.StatusOffline {
				return
			}
			if !s.stale(d, now) {
				return
			}
			d.Status = models.StatusOffline
			if err := s.store.Save(d); err != nil {
				logs.Logger.Warnf("liveness sweep: save %s: %v", d.DeviceID, err)
				return
			}
			demoted++
		}()
	}
	return demoted, nil
}

// stale: seen devices go by the offline threshold; never-seen devices get
// the registration grace period before they count as gone.
func (s *Service) stale(d *models.Device, now time.Time) bool {
	if d.LastSeenAt != nil {
		return now.Sub(*d.LastSeenAt) >= s.offlineAfter
	}
	return now.Sub(d.CreatedAt) >= s.grace
}
