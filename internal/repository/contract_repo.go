package repository

import (
	"context"
	"strings"

	"carflow/internal/model"
	"carflow/pkg/pagination"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ContractRepository interface {
	Create(ctx context.Context, contract *model.Contract) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Contract, error)
	FindByIDWithItems(ctx context.Context, id uuid.UUID) (*model.Contract, error)
	List(ctx context.Context, filter ContractListFilter) ([]model.Contract, int64, error)
	UpdateAccountingFields(ctx context.Context, contract *model.Contract) error
	CountByPrefix(ctx context.Context, prefix string) (int64, error)
}

// ContractListFilter narrows the contract list query
type ContractListFilter struct {
	AccountingStatus string
	Search           string // partial match on contract_no or customer_name
	Page             int
	Limit            int
}

type contractRepository struct {
	db *gorm.DB
}

func NewContractRepository(db *gorm.DB) ContractRepository {
	return &contractRepository{db: db}
}

func (r *contractRepository) Create(ctx context.Context, contract *model.Contract) error {
	return GetDB(ctx, r.db).Create(contract).Error
}

func (r *contractRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Contract, error) {
	var contract model.Contract
	if err := GetDB(ctx, r.db).First(&contract, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &contract, nil
}

func (r *contractRepository) FindByIDWithItems(ctx context.Context, id uuid.UUID) (*model.Contract, error) {
	var contract model.Contract
	if err := GetDB(ctx, r.db).Preload("Items").First(&contract, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &contract, nil
}

func (r *contractRepository) List(ctx context.Context, filter ContractListFilter) ([]model.Contract, int64, error) {
	var contracts []model.Contract
	var total int64

	db := GetDB(ctx, r.db)
	apply := func(q *gorm.DB) *gorm.DB {
		if filter.AccountingStatus != "" {
			q = q.Where("accounting_status = ?", filter.AccountingStatus)
		}
		if filter.Search != "" {
			like := "%" + strings.ToLower(filter.Search) + "%"
			q = q.Where("LOWER(contract_no) LIKE ? OR LOWER(customer_name) LIKE ?", like, like)
		}
		return q
	}

	if err := apply(db.Model(&model.Contract{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := pagination.Offset(filter.Page, filter.Limit)
	if err := apply(db.Preload("Items")).Order("created_at desc").Offset(offset).Limit(filter.Limit).Find(&contracts).Error; err != nil {
		return nil, 0, err
	}

	return contracts, total, nil
}

// UpdateAccountingFields persists only the accounting-owned columns so the
// sync core never clobbers wizard-owned contract data.
func (r *contractRepository) UpdateAccountingFields(ctx context.Context, contract *model.Contract) error {
	return GetDB(ctx, r.db).Model(&model.Contract{}).
		Where("id = ?", contract.ID).
		Updates(map[string]interface{}{
			"accounting_status":      contract.AccountingStatus,
			"accounting_order_id":    contract.AccountingOrderID,
			"accounting_order_url":   contract.AccountingOrderURL,
			"accounting_invoice_id":  contract.AccountingInvoiceID,
			"accounting_invoice_url": contract.AccountingInvoiceURL,
			"accounting_paid_amount": contract.AccountingPaidAmount,
			"accounting_due_date":    contract.AccountingDueDate,
			"accounting_last_sync_at": contract.AccountingLastSyncAt,
		}).Error
}

func (r *contractRepository) CountByPrefix(ctx context.Context, prefix string) (int64, error) {
	var count int64
	if err := GetDB(ctx, r.db).Model(&model.Contract{}).Where("contract_no LIKE ?", prefix+"%").Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
