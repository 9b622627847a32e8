package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/ratings"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsRatingCreatedAt(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&ratings.Rating{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	disembarked := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)
	legacy := ratings.Rating{
		ID:                 "rating-legacy",
		ShipID:             "ship-1",
		SubmitterUserID:    "user-1",
		DisembarkationDate: disembarked,
		ItemsJSON:          "{}",
		SnapshotJSON:       "{}",
	}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert legacy rating: %v", err)
	}

	stamped := ratings.Rating{
		ID:                 "rating-stamped",
		ShipID:             "ship-1",
		SubmitterUserID:    "user-1",
		DisembarkationDate: disembarked,
		CreatedAt:          time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
		ItemsJSON:          "{}",
		SnapshotJSON:       "{}",
	}
	if err := database.Create(&stamped).Error; err != nil {
		testContext.Fatalf("failed to insert stamped rating: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var backfilled ratings.Rating
	if err := database.Where("rating_id = ?", "rating-legacy").Take(&backfilled).Error; err != nil {
		testContext.Fatalf("failed to reload legacy rating: %v", err)
	}
	if !backfilled.CreatedAt.Equal(disembarked) {
		testContext.Fatalf("expected created_at backfilled from disembarkation date, got %v", backfilled.CreatedAt)
	}

	var untouched ratings.Rating
	if err := database.Where("rating_id = ?", "rating-stamped").Take(&untouched).Error; err != nil {
		testContext.Fatalf("failed to reload stamped rating: %v", err)
	}
	if !untouched.CreatedAt.Equal(stamped.CreatedAt) {
		testContext.Fatalf("expected stamped created_at preserved, got %v", untouched.CreatedAt)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillRatingCreatedAt).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	// Re-running is a no-op thanks to the migration ledger.
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to re-apply migrations: %v", err)
	}
}
