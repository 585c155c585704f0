package database

import (
	"errors"
	"time"

	"github.com/portfolio-blog/backend/internal/counters"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationClampNegativeCounters = "2026-10-01_clamp_negative_counters"

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
		{name: migrationClampNegativeCounters, apply: clampNegativeCounters},
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

// clampNegativeCounters resets counts imported below zero, since counters never decrease.
func clampNegativeCounters(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&counters.PostView{}).
			Where("view_count < 0").
			Update("view_count", 0).Error; err != nil {
			return err
		}
		for _, column := range []string{"like_count", "love_count", "celebrate_count"} {
			if err := tx.Model(&counters.PostReaction{}).
				Where(column+" < 0").
				Update(column, 0).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
