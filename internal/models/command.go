package models

import (
	"time"

	"gorm.io/gorm"
)

// Command lifecycle. pending → delivered → acked|failed. acked and failed
// are terminal; nothing resurrects a terminal command.
const (
	CommandPending   = "pending"
	CommandDelivered = "delivered"
	CommandAcked     = "acked"
	CommandFailed    = "failed"
)

// Command — one queued instruction for one device. Terminal rows are kept
// for operator audit, not reaped.
type Command struct {
	gorm.Model
	CommandID   string `gorm:"column:command_id;uniqueIndex"`
	DeviceID    string `gorm:"column:device_id;index:idx_cmd_dev_status,priority:1"`
	Kind        string
	Payload     string // JSON
	Priority    int    `gorm:"default:100"` // lower = more urgent
	Status      string `gorm:"index:idx_cmd_dev_status,priority:2;default:pending"`
	Attempts    int
	MaxAttempts int    `gorm:"default:3"`
	Result      string
	ExecutedAt  *time.Time
	ExpiresAt   *time.Time
}
