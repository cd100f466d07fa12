package models

import "gorm.io/gorm"

// MasterInstance — one coordination endpoint devices can be pointed at.
// Selection: lowest Priority among enabled instances, ties by ID.
type MasterInstance struct {
	gorm.Model
	Name        string `gorm:"uniqueIndex"`
	Endpoint    string
	Priority    int    `gorm:"default:100"` // lower wins
	Enabled     bool   `gorm:"default:false;index"`
	Description string `gorm:"type:varchar(255)"`
}
