package models

import "gorm.io/gorm"

// DeviceLog — one log line shipped by a device. Stores retain at most the
// newest 500 rows per device; older rows are dropped on append.
type DeviceLog struct {
	gorm.Model
	DeviceID string `gorm:"column:device_id;index"`
	Level    string `gorm:"default:info"`
	Message  string
}
