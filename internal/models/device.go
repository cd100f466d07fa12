package models

import (
	"time"

	"gorm.io/gorm"
)

// Device statuses. Derived by the server only; devices never set status
// directly. There is no terminal state: offline nodes may come back.
const (
	StatusPending = "pending"
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Device — a registered fleet node.
type Device struct {
	gorm.Model
	DeviceID   string     `gorm:"column:device_id;uniqueIndex"`
	Name       string
	DeviceType string     `gorm:"column:device_type;index"`
	Status     string     `gorm:"index;default:pending"`
	LastSeenAt *time.Time `gorm:"column:last_seen_at"`

	AssignedMasterID *uint `gorm:"index"`

	Capabilities string // JSON array
	Metadata     string // JSON object, merged on re-registration
	LastMetrics  string // JSON from the latest heartbeat

	CheckInInterval int `gorm:"default:60"` // seconds between check-ins

	CurrentScriptVersion string
	LastConfigHash       string
	LastConfigAt         *time.Time
}
