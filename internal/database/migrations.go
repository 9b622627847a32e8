package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/ratings"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillRatingCreatedAt = "2026-07-20_backfill_rating_created_at"

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
		{name: migrationBackfillRatingCreatedAt, apply: backfillRatingCreatedAt},
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

// backfillRatingCreatedAt seeds the server-assigned creation timestamp on
// legacy rating rows that predate the created_at column, using the
// user-supplied disembarkation date as the best available ordering proxy.
func backfillRatingCreatedAt(db *gorm.DB) error {
	return db.Model(&ratings.Rating{}).
		Where("created_at IS NULL OR created_at = ?", time.Time{}).
		Update("created_at", gorm.Expr("disembarkation_date")).Error
}
