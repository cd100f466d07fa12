package repo

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"roost/internal/cmdqueue"
	"roost/internal/models"
)

// CommandStore — gorm-реализация cmdqueue.Store.
type CommandStore struct {
	db *gorm.DB
}

func NewCommandStore(db *gorm.DB) *CommandStore {
	return &CommandStore{db: db}
}

func (s *CommandStore) Create(c *models.Command) error {
	return s.db.Create(c).Error
}

func (s *CommandStore) FindByCommandID(commandID string) (*models.Command, error) {
	var c models.Command
	err := s.db.Where("command_id = ?", commandID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *CommandStore) Save(c *models.Command) error {
	return s.db.Save(c).Error
}

func (s *CommandStore) PendingForDevice(deviceID string, now time.Time, limit int) ([]models.Command, error) {
	q := s.db.Where("device_id = ? AND status = ?", deviceID, models.CommandPending).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("priority, created_at, id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.Command
	err := q.Find(&out).Error
	return out, err
}

func (s *CommandStore) List(f cmdqueue.Filter) ([]models.Command, error) {
	q := s.db.Model(&models.Command{})
	if f.DeviceID != "" {
		q = q.Where("device_id = ?", f.DeviceID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []models.Command
	err := q.Order("priority, created_at, id").Find(&out).Error
	return out, err
}
