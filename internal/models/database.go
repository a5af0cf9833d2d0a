package models

import (
	"fmt"

	"github.com/commitlore/backend/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDB(cfg *config.DatabaseConfig) error {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	DB = db
	return nil
}

func AutoMigrate() error {
	return DB.AutoMigrate(
		&User{},
		&Plan{},
		&Report{},
		&ReportCommit{},
		&CommitSummary{},
		&UsageStats{},
		&UsageModelStats{},
	)
}

func GetDB() *gorm.DB {
	return DB
}

// SeedDefaultData creates the default plan if none exists.
func SeedDefaultData() error {
	var planCount int64
	DB.Model(&Plan{}).Count(&planCount)
	if planCount == 0 {
		freePlan := FallbackPlan()
		freePlan.Description = "Free plan with limited features"
		if err := DB.Create(&freePlan).Error; err != nil {
			return err
		}
	}
	return nil
}

// DefaultPlan returns the plan marked as default, falling back to any active
// plan when none is flagged.
func DefaultPlan() (*Plan, error) {
	var plan Plan
	if err := DB.Where("is_default = ?", true).First(&plan).Error; err == nil {
		return &plan, nil
	}
	if err := DB.Where("is_active = ?", true).Order("id ASC").First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}
