package repo

import (
	"errors"

	"gorm.io/gorm"

	"roost/internal/models"
	"roost/internal/scripts"
)

// ScriptStore — gorm-реализация scripts.Store.
type ScriptStore struct {
	db *gorm.DB
}

func NewScriptStore(db *gorm.DB) *ScriptStore {
	return &ScriptStore{db: db}
}

// ActivateVersion — старую активную строку гасим, новую создаём, в одной
// транзакции.
func (s *ScriptStore) ActivateVersion(v *models.ScriptVersion) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ScriptVersion{}).
			Where("scope = ? AND target = ?", v.Scope, v.Target).
			Where("active = ?", true).
			Update("active", false).Error; err != nil {
			return err
		}
		v.Active = true
		return tx.Create(v).Error
	})
}

func (s *ScriptStore) FindActive(scope, target string) (*models.ScriptVersion, error) {
	var v models.ScriptVersion
	err := s.db.Where("scope = ? AND target = ?", scope, target).
		Where("active = ?", true).
		Order("id desc").
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *ScriptStore) List(f scripts.Filter) ([]models.ScriptVersion, error) {
	q := s.db.Model(&models.ScriptVersion{})
	if f.Scope != "" {
		q = q.Where("scope = ?", f.Scope)
	}
	if f.Target != "" {
		q = q.Where("target = ?", f.Target)
	}
	if f.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	var out []models.ScriptVersion
	err := q.Order("scope, target, id desc").Find(&out).Error
	return out, err
}

func (s *ScriptStore) CreateLibrary(l *models.LibraryScript) error {
	return s.db.Create(l).Error
}

func (s *ScriptStore) FindLibraryByID(id uint) (*models.LibraryScript, error) {
	var l models.LibraryScript
	err := s.db.First(&l, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *ScriptStore) FindLibraryByName(name string) (*models.LibraryScript, error) {
	var l models.LibraryScript
	err := s.db.Where("name = ?", name).First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *ScriptStore) ListLibrary() ([]models.LibraryScript, error) {
	var out []models.LibraryScript
	err := s.db.Order("name").Find(&out).Error
	return out, err
}

func (s *ScriptStore) SaveLibrary(l *models.LibraryScript) error {
	return s.db.Save(l).Error
}

// DeleteLibrary is hard: name carries a unique index and may be reused.
func (s *ScriptStore) DeleteLibrary(id uint) error {
	return s.db.Unscoped().Delete(&models.LibraryScript{}, id).Error
}
