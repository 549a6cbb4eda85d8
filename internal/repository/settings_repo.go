package repository

import (
	"context"
	"errors"

	"carflow/internal/model"

	"gorm.io/gorm"
)

type SettingsRepository interface {
	// Get returns the settings row, creating the default row on first access.
	Get(ctx context.Context) (*model.AccountingSettings, error)
	Save(ctx context.Context, settings *model.AccountingSettings) error
}

type settingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

func (r *settingsRepository) Get(ctx context.Context) (*model.AccountingSettings, error) {
	var settings model.AccountingSettings
	err := GetDB(ctx, r.db).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		settings = model.AccountingSettings{Provider: model.ProviderPowerOffice}
		if createErr := GetDB(ctx, r.db).Create(&settings).Error; createErr != nil {
			return nil, createErr
		}
		return &settings, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (r *settingsRepository) Save(ctx context.Context, settings *model.AccountingSettings) error {
	return GetDB(ctx, r.db).Save(settings).Error
}
