package config

import (
	"context"

	"gorm.io/gorm"
)

type settingRow struct {
	Key   string `gorm:"column:key;primaryKey;size:64"`
	Value string `gorm:"column:value"`
}

func (settingRow) TableName() string { return "app_settings" }

// GormSettings is the database-backed SettingsSource.
type GormSettings struct {
	db *gorm.DB
}

func NewGormSettings(db *gorm.DB) *GormSettings {
	return &GormSettings{db: db}
}

// Migrate creates the backing table.
func (g *GormSettings) Migrate() error {
	return g.db.AutoMigrate(&settingRow{})
}

func (g *GormSettings) Load(ctx context.Context) (map[string]string, error) {
	var rows []settingRow
	if err := g.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}
