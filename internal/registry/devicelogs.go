package registry

import "roost/internal/models"

type LogEntry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// AppendLogs stores log lines shipped by a device. Retention is capped
// per device; old lines fall off silently. Returns how many were stored.
func (s *Service) AppendLogs(deviceID string, entries []LogEntry) (int, error) {
	if !validDeviceID(deviceID) {
		return 0, ErrInvalidIdentity
	}
	d, err := s.store.FindByDeviceID(deviceID)
	if err != nil {
		return 0, err
	}
	if d == nil {
		return 0, ErrNotFound
	}

	stored := 0
	for _, e := range entries {
		if e.Message == "" {
			continue
		}
		level := e.Level
		if level == "" {
			level = "info"
		}
		if err := s.store.AppendLog(models.DeviceLog{
			DeviceID: deviceID,
			Level:    level,
			Message:  e.Message,
		}, s.logKeep); err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}

// Logs returns the newest lines first.
func (s *Service) Logs(deviceID string, limit int) ([]models.DeviceLog, error) {
	if !validDeviceID(deviceID) {
		return nil, ErrInvalidIdentity
	}
	d, err := s.store.FindByDeviceID(deviceID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrNotFound
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.Logs(deviceID, limit)
}
