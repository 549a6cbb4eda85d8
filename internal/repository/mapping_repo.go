package repository

import (
	"context"

	"carflow/internal/model"

	"gorm.io/gorm"
)

type MappingRepository interface {
	ListVatMappings(ctx context.Context) ([]model.VatMapping, error)
	ListAccountMappings(ctx context.Context) ([]model.AccountMapping, error)
	// ReplaceAll swaps the stored mappings wholesale; saves are full-array
	// replaces, never per-row patches.
	ReplaceAll(ctx context.Context, vat []model.VatMapping, accounts []model.AccountMapping) error
}

type mappingRepository struct {
	db *gorm.DB
}

func NewMappingRepository(db *gorm.DB) MappingRepository {
	return &mappingRepository{db: db}
}

func (r *mappingRepository) ListVatMappings(ctx context.Context) ([]model.VatMapping, error) {
	var mappings []model.VatMapping
	if err := GetDB(ctx, r.db).Order("category").Find(&mappings).Error; err != nil {
		return nil, err
	}
	return mappings, nil
}

func (r *mappingRepository) ListAccountMappings(ctx context.Context) ([]model.AccountMapping, error) {
	var mappings []model.AccountMapping
	if err := GetDB(ctx, r.db).Order("category").Find(&mappings).Error; err != nil {
		return nil, err
	}
	return mappings, nil
}

func (r *mappingRepository) ReplaceAll(ctx context.Context, vat []model.VatMapping, accounts []model.AccountMapping) error {
	return GetDB(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&model.VatMapping{}).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&model.AccountMapping{}).Error; err != nil {
			return err
		}
		if len(vat) > 0 {
			if err := tx.Create(&vat).Error; err != nil {
				return err
			}
		}
		if len(accounts) > 0 {
			if err := tx.Create(&accounts).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
