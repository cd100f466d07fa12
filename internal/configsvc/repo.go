package configsvc

import (
	"errors"

	"gorm.io/gorm"

	"roost/internal/models"
)

// Repo — gorm-backed Store.
type Repo struct{ db *gorm.DB }

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

// ── Templates ───────────────────────────────────────────────

func (r *Repo) Activate(scope, target, name, payload, contentHash string) (models.ConfigTemplate, error) {
	var out models.ConfigTemplate
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var t models.ConfigTemplate
		res := tx.Where(&models.ConfigTemplate{Scope: scope}).
			Where("target = ?", target). // separate clause: "" must match, not be dropped
			First(&t)
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrRecordNotFound) {
				t = models.ConfigTemplate{
					Scope:       scope,
					Target:      target,
					Name:        name,
					Payload:     payload,
					ContentHash: contentHash,
					Version:     1,
				}
				if err := tx.Create(&t).Error; err != nil {
					return err
				}
				out = t
				return nil
			}
			return res.Error
		}
		t.Name = name
		t.Payload = payload
		t.ContentHash = contentHash
		t.Version++
		if err := tx.Save(&t).Error; err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

func (r *Repo) FindActive(scope, target string) (*models.ConfigTemplate, error) {
	var t models.ConfigTemplate
	err := r.db.Where("scope = ? AND target = ?", scope, target).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *Repo) List() ([]models.ConfigTemplate, error) {
	var out []models.ConfigTemplate
	err := r.db.Order("scope, target").Find(&out).Error
	return out, err
}

func (r *Repo) Delete(scope, target string) error {
	return r.db.Where("scope = ? AND target = ?", scope, target).
		Delete(&models.ConfigTemplate{}).Error
}
