package repository

import (
	"context"

	"carflow/internal/model"

	"gorm.io/gorm"
)

type CatalogRepository interface {
	ListVatCodes(ctx context.Context) ([]model.VatCode, error)
	ListAccounts(ctx context.Context) ([]model.LedgerAccount, error)
	HasVatCode(ctx context.Context, code string) (bool, error)
	// ReplaceVatCodes / ReplaceAccounts swap the cached catalogs wholesale.
	ReplaceVatCodes(ctx context.Context, codes []model.VatCode) error
	ReplaceAccounts(ctx context.Context, accounts []model.LedgerAccount) error
}

type catalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) ListVatCodes(ctx context.Context) ([]model.VatCode, error) {
	var codes []model.VatCode
	if err := GetDB(ctx, r.db).Order("code").Find(&codes).Error; err != nil {
		return nil, err
	}
	return codes, nil
}

func (r *catalogRepository) ListAccounts(ctx context.Context) ([]model.LedgerAccount, error) {
	var accounts []model.LedgerAccount
	if err := GetDB(ctx, r.db).Order("account_code").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *catalogRepository) HasVatCode(ctx context.Context, code string) (bool, error) {
	var count int64
	if err := GetDB(ctx, r.db).Model(&model.VatCode{}).Where("code = ?", code).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *catalogRepository) ReplaceVatCodes(ctx context.Context, codes []model.VatCode) error {
	return GetDB(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&model.VatCode{}).Error; err != nil {
			return err
		}
		if len(codes) == 0 {
			return nil
		}
		return tx.Create(&codes).Error
	})
}

func (r *catalogRepository) ReplaceAccounts(ctx context.Context, accounts []model.LedgerAccount) error {
	return GetDB(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&model.LedgerAccount{}).Error; err != nil {
			return err
		}
		if len(accounts) == 0 {
			return nil
		}
		return tx.Create(&accounts).Error
	})
}
