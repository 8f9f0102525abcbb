// Package store persists the camera directory and the catalog of archived
// segments with gorm. Postgres DSNs select the postgres driver, anything
// else is treated as a sqlite file.
package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type cameraRow struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	URL       string
	Enabled   bool `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (cameraRow) TableName() string {
	return "cameras"
}

type segmentRow struct {
	ID        uint   `gorm:"primaryKey"`
	CameraID  string `gorm:"index"`
	Path      string
	StartedAt time.Time `gorm:"index"`
}

func (segmentRow) TableName() string {
	return "segments"
}

// Open connects to dsn and migrates the schema.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(dialector(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = Migrate(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(&cameraRow{}, &segmentRow{})
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func dialector(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}
