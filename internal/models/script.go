package models

import "gorm.io/gorm"

// Script scopes mirror configuration scopes minus fallback: a script is
// published to a device or to a type, never fleet-wide.
const (
	ScriptScopeDevice = "device"
	ScriptScopeType   = "type"
)

// ScriptVersion — a published behavior script. At most one active row per
// (scope, target); publishing deactivates the predecessor.
type ScriptVersion struct {
	gorm.Model
	Scope      string `gorm:"index:idx_script_scope_target,priority:1"`
	Target     string `gorm:"index:idx_script_scope_target,priority:2"`
	Version    string
	ScriptType string `gorm:"default:arduino"`
	Code       string
	Checksum   string `gorm:"index"` // sha256 hex of Code
	Active     bool   `gorm:"index"`
}

// LibraryScript — a reusable script kept in the library. Publishing a
// library entry creates the active ScriptVersion for a target.
type LibraryScript struct {
	gorm.Model
	Name             string `gorm:"uniqueIndex"`
	ScriptType       string `gorm:"default:arduino"`
	Version          string
	Code             string
	TargetDeviceType string // advisory, not enforced
	Description      string `gorm:"type:varchar(255)"`
}
