// internal/db/migrations.go
package db

import (
	"fmt"

	"gorm.io/gorm"
)

// EnsureIndexes creates the composite indexes AutoMigrate cannot express
// (columns of the embedded gorm.Model). Idempotent.
func EnsureIndexes(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	dialect := db.Dialector.Name()

	switch dialect {
	case "mysql":
		if !db.Migrator().HasIndex("device_logs", "idx_device_logs_device_created") {
			if err := db.Exec("CREATE INDEX `idx_device_logs_device_created` ON `device_logs` (`device_id`, `created_at`)").Error; err != nil {
				return err
			}
		}
		if !db.Migrator().HasIndex("commands", "idx_commands_poll_order") {
			return db.Exec("CREATE INDEX `idx_commands_poll_order` ON `commands` (`priority`, `created_at`)").Error
		}
		return nil

	case "postgres":
		if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_device_logs_device_created ON "device_logs" ("device_id", "created_at")`).Error; err != nil {
			return err
		}
		return db.Exec(`CREATE INDEX IF NOT EXISTS idx_commands_poll_order ON "commands" ("priority", "created_at")`).Error

	case "sqlite":
		if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_device_logs_device_created ON device_logs (device_id, created_at)`).Error; err != nil {
			return err
		}
		return db.Exec(`CREATE INDEX IF NOT EXISTS idx_commands_poll_order ON commands (priority, created_at)`).Error

	default:
		return fmt.Errorf("unsupported dialect: %s", dialect)
	}
}
