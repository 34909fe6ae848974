package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/chamber/backend/internal/posts"
)

func TestApplyMigrationsNormalizesPostTagLabels(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&posts.PostTagRecord{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	legacy := []posts.PostTagRecord{
		{PostID: "post-1", Label: " people "},
		{PostID: "post-1", Label: "LOVE"},
		{PostID: "post-2", Label: "time"},
		// already canonical for the same post; the legacy variant must be
		// dropped, not duplicated.
		{PostID: "post-2", Label: "TIME"},
	}
	for _, record := range legacy {
		if err := database.Create(&record).Error; err != nil {
			testContext.Fatalf("failed to insert legacy tag row: %v", err)
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var labels []string
	if err := database.Model(&posts.PostTagRecord{}).Order("post_id, label").Pluck("label", &labels).Error; err != nil {
		testContext.Fatalf("failed to reload tag rows: %v", err)
	}
	expected := []string{"LOVE", "PEOPLE", "TIME"}
	if len(labels) != len(expected) {
		testContext.Fatalf("expected %d canonical rows, got %v", len(expected), labels)
	}
	for index, label := range expected {
		if labels[index] != label {
			testContext.Fatalf("expected label %q at position %d, got %v", label, index, labels)
		}
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationNormalizePostTagLabels).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsIsIdempotent(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&posts.PostTagRecord{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("first application failed: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("second application failed: %v", err)
	}

	var count int64
	if err := database.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		testContext.Fatalf("expected a single migration record, got %d", count)
	}
}
