package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillPushPreferences = "2026-07-14_backfill_push_preferences"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillPushPreferences, apply: backfillPushPreferences},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillPushPreferences seeds an enabled preference row for operators that
// predate the explicit push toggle, so later bulk reads see uniform rows.
func backfillPushPreferences(db *gorm.DB) error {
	return db.Exec(
		"INSERT INTO notification_preferences (recipient_id, push_enabled, updated_at) " +
			"SELECT id, 1, CURRENT_TIMESTAMP FROM operators " +
			"WHERE id NOT IN (SELECT recipient_id FROM notification_preferences);",
	).Error
}
