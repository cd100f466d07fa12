package repo

import (
	"errors"

	"gorm.io/gorm"

	"roost/internal/models"
)

// MasterStore — gorm-реализация masters.Store.
type MasterStore struct {
	db *gorm.DB
}

func NewMasterStore(db *gorm.DB) *MasterStore {
	return &MasterStore{db: db}
}

func (s *MasterStore) Create(m *models.MasterInstance) error {
	return s.db.Create(m).Error
}

func (s *MasterStore) FindByID(id uint) (*models.MasterInstance, error) {
	var m models.MasterInstance
	err := s.db.First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MasterStore) FindByName(name string) (*models.MasterInstance, error) {
	var m models.MasterInstance
	err := s.db.Where("name = ?", name).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MasterStore) List() ([]models.MasterInstance, error) {
	var out []models.MasterInstance
	err := s.db.Order("priority, id").Find(&out).Error
	return out, err
}

func (s *MasterStore) Save(m *models.MasterInstance) error {
	return s.db.Save(m).Error
}

// Delete is hard: name carries a unique index and may be reused.
func (s *MasterStore) Delete(id uint) error {
	return s.db.Unscoped().Delete(&models.MasterInstance{}, id).Error
}
