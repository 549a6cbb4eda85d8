package service

import (
	"context"
	"fmt"
	"time"

	"carflow/internal/model"
	"carflow/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- DTOs ---

type ContractItemInput struct {
	Category    string `json:"category" binding:"required"`
	Description string `json:"description" binding:"required"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price" binding:"required"`
}

type CreateContractRequest struct {
	CustomerName string              `json:"customer_name" binding:"required"`
	CustomerOrg  string              `json:"customer_org"`
	VehicleVIN   string              `json:"vehicle_vin"`
	VehicleDesc  string              `json:"vehicle_desc"`
	SalePrice    string              `json:"sale_price" binding:"required"`
	TradeInPrice string              `json:"trade_in_price"`
	Discount     string              `json:"discount"`
	Items        []ContractItemInput `json:"items"`
}

type ContractFilter struct {
	AccountingStatus string
	Search           string
	Page             int
	Limit            int
}

// --- Interface ---

type ContractService interface {
	CreateContract(ctx context.Context, req CreateContractRequest) (*model.Contract, error)
	GetContract(ctx context.Context, id string) (*model.Contract, error)
	ListContracts(ctx context.Context, filter ContractFilter) ([]model.Contract, int64, error)
}

type contractService struct {
	contractRepo repository.ContractRepository
}

func NewContractService(contractRepo repository.ContractRepository) ContractService {
	return &contractService{contractRepo: contractRepo}
}

// --- Implementation ---

func (s *contractService) CreateContract(ctx context.Context, req CreateContractRequest) (*model.Contract, error) {
	salePrice, err := decimal.NewFromString(req.SalePrice)
	if err != nil {
		return nil, fmt.Errorf("invalid sale_price: %w", err)
	}

	tradeIn := decimal.Zero
	if req.TradeInPrice != "" {
		tradeIn, err = decimal.NewFromString(req.TradeInPrice)
		if err != nil {
			return nil, fmt.Errorf("invalid trade_in_price: %w", err)
		}
	}
	discount := decimal.Zero
	if req.Discount != "" {
		discount, err = decimal.NewFromString(req.Discount)
		if err != nil {
			return nil, fmt.Errorf("invalid discount: %w", err)
		}
	}

	items := make([]model.ContractItem, 0, len(req.Items))
	for _, input := range req.Items {
		category := model.Category(input.Category)
		if !category.IsValid() {
			return nil, fmt.Errorf("unknown item category %q", input.Category)
		}
		unitPrice, priceErr := decimal.NewFromString(input.UnitPrice)
		if priceErr != nil {
			return nil, fmt.Errorf("invalid unit_price for %q: %w", input.Description, priceErr)
		}
		quantity := input.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		items = append(items, model.ContractItem{
			Category:    category,
			Description: input.Description,
			Quantity:    quantity,
			UnitPrice:   unitPrice,
		})
	}

	contractNo, err := s.generateContractNo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to generate contract number: %w", err)
	}

	contract := model.Contract{
		ContractNo:       contractNo,
		CustomerName:     req.CustomerName,
		CustomerOrg:      req.CustomerOrg,
		VehicleVIN:       req.VehicleVIN,
		VehicleDesc:      req.VehicleDesc,
		SalePrice:        salePrice,
		TradeInPrice:     tradeIn,
		Discount:         discount,
		Items:            items,
		AccountingStatus: model.AccountingDraft,
	}

	if err := s.contractRepo.Create(ctx, &contract); err != nil {
		return nil, fmt.Errorf("failed to create contract: %w", err)
	}
	return &contract, nil
}

func (s *contractService) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	contractID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid contract id: %w", err)
	}
	contract, err := s.contractRepo.FindByIDWithItems(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("contract not found: %w", err)
	}
	return contract, nil
}

func (s *contractService) ListContracts(ctx context.Context, filter ContractFilter) ([]model.Contract, int64, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	contracts, total, err := s.contractRepo.List(ctx, repository.ContractListFilter{
		AccountingStatus: filter.AccountingStatus,
		Search:           filter.Search,
		Page:             filter.Page,
		Limit:            filter.Limit,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch contracts: %w", err)
	}
	return contracts, total, nil
}

func (s *contractService) generateContractNo(ctx context.Context) (string, error) {
	today := time.Now().Format("20060102")
	prefix := "CTR-" + today + "-"

	count, err := s.contractRepo.CountByPrefix(ctx, prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%05d", prefix, count+1), nil
}
