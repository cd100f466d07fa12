package repo

import (
	"errors"

	"gorm.io/gorm"

	"roost/internal/models"
	"roost/internal/registry"
)

// DeviceStore — gorm-реализация registry.Store.
type DeviceStore struct {
	db *gorm.DB
}

func NewDeviceStore(db *gorm.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

func (s *DeviceStore) FindByDeviceID(deviceID string) (*models.Device, error) {
	var m models.Device
	err := s.db.Where("device_id = ?", deviceID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *DeviceStore) Save(d *models.Device) error {
	return s.db.Save(d).Error
}

// Delete removes the row for good: device_id carries a unique index and
// must be free for re-registration.
func (s *DeviceStore) Delete(deviceID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("device_id = ?", deviceID).Delete(&models.DeviceLog{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Where("device_id = ?", deviceID).Delete(&models.Device{}).Error
	})
}

func (s *DeviceStore) List(f registry.Filter) ([]models.Device, error) {
	q := s.db.Model(&models.Device{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.DeviceType != "" {
		q = q.Where("device_type = ?", f.DeviceType)
	}
	if f.MasterID != nil {
		q = q.Where("assigned_master_id = ?", *f.MasterID)
	}
	var out []models.Device
	if err := q.Order("device_id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *DeviceStore) CountByStatus() (map[string]int, error) {
	type row struct {
		Status string
		N      int
	}
	var rows []row
	if err := s.db.Model(&models.Device{}).
		Select("status, count(*) as n").
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

func (s *DeviceStore) AppendLog(entry models.DeviceLog, keep int) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		if keep <= 0 {
			return nil
		}
		// строки за пределами keep удаляем насовсем
		var ids []uint
		if err := tx.Model(&models.DeviceLog{}).
			Where("device_id = ?", entry.DeviceID).
			Order("id desc").
			Limit(keep).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) < keep {
			return nil
		}
		floor := ids[len(ids)-1]
		return tx.Unscoped().
			Where("device_id = ? AND id < ?", entry.DeviceID, floor).
			Delete(&models.DeviceLog{}).Error
	})
}

func (s *DeviceStore) Logs(deviceID string, limit int) ([]models.DeviceLog, error) {
	var out []models.DeviceLog
	err := s.db.Where("device_id = ?", deviceID).
		Order("id desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
