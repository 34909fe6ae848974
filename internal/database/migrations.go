package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizePostTagLabels = "2026-07-21_normalize_post_tag_labels"

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
		{name: migrationNormalizePostTagLabels, apply: normalizePostTagLabels},
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

// normalizePostTagLabels rewrites tag labels stored before canonical
// normalization into their upper-case trimmed form. Rows whose normalized
// label collides with an existing row are dropped rather than duplicated.
func normalizePostTagLabels(db *gorm.DB) error {
	if err := db.Exec("UPDATE OR IGNORE post_tags SET label = upper(trim(label)) WHERE label <> upper(trim(label));").Error; err != nil {
		return err
	}
	return db.Exec("DELETE FROM post_tags WHERE label <> upper(trim(label));").Error
}
