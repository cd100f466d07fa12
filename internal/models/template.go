package models

import "gorm.io/gorm"

// Configuration scopes, most to least specific.
const (
	ScopeDevice   = "device"
	ScopeType     = "type"
	ScopeFallback = "fallback"
)

// ConfigTemplate — the single active configuration for one (scope, target).
// Activation upserts the row in place; Version counts re-activations.
// ContentHash is computed once, over the canonicalized payload, at
// activation time.
type ConfigTemplate struct {
	gorm.Model
	Scope       string `gorm:"index:idx_tpl_scope_target,priority:1"`
	Target      string `gorm:"index:idx_tpl_scope_target,priority:2"`
	Name        string
	Payload     string // canonical JSON
	ContentHash string `gorm:"column:content_hash;index"`
	Version     int    `gorm:"default:1"`
}
