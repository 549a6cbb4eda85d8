package service

import (
	"context"
	"fmt"
	"time"

	"carflow/internal/model"
	"carflow/internal/provider"
	"carflow/internal/repository"

	"github.com/shopspring/decimal"
)

// --- DTOs ---

type VatMappingInput struct {
	Category      string `json:"category" binding:"required"`
	LocalLabel    string `json:"local_label"`
	RemoteVatCode string `json:"remote_vat_code"`
	VatRate       string `json:"vat_rate"`
}

type AccountMappingInput struct {
	Category         string `json:"category" binding:"required"`
	IncomeAccount    string `json:"income_account"`
	CogsAccount      string `json:"cogs_account"`
	InventoryAccount string `json:"inventory_account"`
	FeeAccount       string `json:"fee_account"`
}

// ReplaceMappingsRequest carries the full mapping arrays; saves replace the
// stored mappings wholesale, never per-row.
type ReplaceMappingsRequest struct {
	VatMappings     []VatMappingInput     `json:"vat_mappings" binding:"required"`
	AccountMappings []AccountMappingInput `json:"account_mappings" binding:"required"`
}

type MappingsResponse struct {
	VatMappings     []model.VatMapping     `json:"vat_mappings"`
	AccountMappings []model.AccountMapping `json:"account_mappings"`
}

// ValidationResult is the pre-flight eligibility verdict
type ValidationResult struct {
	OK      bool             `json:"ok"`
	Missing []model.Category `json:"missing"`
}

// --- Pure validator ---

// Validate decides sync eligibility: every category in the given set needs a
// non-empty remote VAT code and a non-empty income account. Pure and
// side-effect free.
func Validate(categories []model.Category, vat []model.VatMapping, accounts []model.AccountMapping) ValidationResult {
	vatByCategory := make(map[model.Category]model.VatMapping, len(vat))
	for _, m := range vat {
		vatByCategory[m.Category] = m
	}
	accountByCategory := make(map[model.Category]model.AccountMapping, len(accounts))
	for _, m := range accounts {
		accountByCategory[m.Category] = m
	}

	missing := make([]model.Category, 0)
	for _, category := range categories {
		vatMapping, hasVat := vatByCategory[category]
		accountMapping, hasAccount := accountByCategory[category]
		if !hasVat || vatMapping.RemoteVatCode == "" || !hasAccount || accountMapping.IncomeAccount == "" {
			missing = append(missing, category)
		}
	}

	return ValidationResult{OK: len(missing) == 0, Missing: missing}
}

// --- Interface ---

type MappingService interface {
	// ListMappings returns one row per category in the configured set,
	// materializing empty rows for categories without persisted mappings.
	ListMappings(ctx context.Context) (MappingsResponse, error)
	ReplaceMappings(ctx context.Context, req ReplaceMappingsRequest) (MappingsResponse, error)
	// ValidateMappings runs the pure validator over the stored mappings.
	ValidateMappings(ctx context.Context) (ValidationResult, error)

	ListVatCodes(ctx context.Context) ([]model.VatCode, error)
	ListAccounts(ctx context.Context) ([]model.LedgerAccount, error)
	// RefreshCatalogs fetches the provider catalogs and replaces the local
	// caches wholesale.
	RefreshCatalogs(ctx context.Context) error
}

type mappingService struct {
	mappingRepo repository.MappingRepository
	catalogRepo repository.CatalogRepository
	connection  ConnectionService
	client      provider.Client
	categories  []model.Category
}

// NewMappingService builds the mapping store. The category set is injected
// so configuration extensions and tests control it.
func NewMappingService(
	mappingRepo repository.MappingRepository,
	catalogRepo repository.CatalogRepository,
	connection ConnectionService,
	client provider.Client,
	categories []model.Category,
) MappingService {
	if len(categories) == 0 {
		categories = model.AllCategories()
	}
	return &mappingService{
		mappingRepo: mappingRepo,
		catalogRepo: catalogRepo,
		connection:  connection,
		client:      client,
		categories:  categories,
	}
}

// --- Implementation ---

func (s *mappingService) ListMappings(ctx context.Context) (MappingsResponse, error) {
	vat, err := s.mappingRepo.ListVatMappings(ctx)
	if err != nil {
		return MappingsResponse{}, fmt.Errorf("failed to fetch vat mappings: %w", err)
	}
	accounts, err := s.mappingRepo.ListAccountMappings(ctx)
	if err != nil {
		return MappingsResponse{}, fmt.Errorf("failed to fetch account mappings: %w", err)
	}

	// Materialize missing categories as empty rows so the UI and the
	// validator always see the current full set, not just persisted rows.
	vatByCategory := make(map[model.Category]bool, len(vat))
	for _, m := range vat {
		vatByCategory[m.Category] = true
	}
	accountByCategory := make(map[model.Category]bool, len(accounts))
	for _, m := range accounts {
		accountByCategory[m.Category] = true
	}
	for _, category := range s.categories {
		if !vatByCategory[category] {
			vat = append(vat, model.VatMapping{Category: category})
		}
		if !accountByCategory[category] {
			accounts = append(accounts, model.AccountMapping{Category: category})
		}
	}

	return MappingsResponse{VatMappings: vat, AccountMappings: accounts}, nil
}

func (s *mappingService) ReplaceMappings(ctx context.Context, req ReplaceMappingsRequest) (MappingsResponse, error) {
	knownCodes, err := s.knownVatCodes(ctx)
	if err != nil {
		return MappingsResponse{}, err
	}

	seen := make(map[model.Category]bool)
	vat := make([]model.VatMapping, 0, len(req.VatMappings))
	for _, input := range req.VatMappings {
		category := model.Category(input.Category)
		if !category.IsValid() {
			return MappingsResponse{}, fmt.Errorf("unknown category %q", input.Category)
		}
		if seen[category] {
			return MappingsResponse{}, fmt.Errorf("duplicate vat mapping for category %q", input.Category)
		}
		seen[category] = true

		// A non-empty code must exist in the remote catalog cache. An empty
		// cache can verify nothing, so a refresh has to happen first.
		if input.RemoteVatCode != "" {
			if len(knownCodes) == 0 {
				return MappingsResponse{}, fmt.Errorf("vat code %q cannot be verified: the catalog cache is empty, refresh catalogs first", input.RemoteVatCode)
			}
			if !knownCodes[input.RemoteVatCode] {
				return MappingsResponse{}, fmt.Errorf("vat code %q is not present in the cached catalog", input.RemoteVatCode)
			}
		}

		rate := decimal.Zero
		if input.VatRate != "" {
			rate, err = decimal.NewFromString(input.VatRate)
			if err != nil {
				return MappingsResponse{}, fmt.Errorf("invalid vat_rate for %s: %w", input.Category, err)
			}
		}

		vat = append(vat, model.VatMapping{
			Category:      category,
			LocalLabel:    input.LocalLabel,
			RemoteVatCode: input.RemoteVatCode,
			VatRate:       rate,
		})
	}

	seen = make(map[model.Category]bool)
	accounts := make([]model.AccountMapping, 0, len(req.AccountMappings))
	for _, input := range req.AccountMappings {
		category := model.Category(input.Category)
		if !category.IsValid() {
			return MappingsResponse{}, fmt.Errorf("unknown category %q", input.Category)
		}
		if seen[category] {
			return MappingsResponse{}, fmt.Errorf("duplicate account mapping for category %q", input.Category)
		}
		seen[category] = true

		accounts = append(accounts, model.AccountMapping{
			Category:         category,
			IncomeAccount:    input.IncomeAccount,
			CogsAccount:      input.CogsAccount,
			InventoryAccount: input.InventoryAccount,
			FeeAccount:       input.FeeAccount,
		})
	}

	if err := s.mappingRepo.ReplaceAll(ctx, vat, accounts); err != nil {
		return MappingsResponse{}, fmt.Errorf("failed to save mappings: %w", err)
	}

	return s.ListMappings(ctx)
}

func (s *mappingService) ValidateMappings(ctx context.Context) (ValidationResult, error) {
	vat, err := s.mappingRepo.ListVatMappings(ctx)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("failed to fetch vat mappings: %w", err)
	}
	accounts, err := s.mappingRepo.ListAccountMappings(ctx)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("failed to fetch account mappings: %w", err)
	}
	return Validate(s.categories, vat, accounts), nil
}

func (s *mappingService) ListVatCodes(ctx context.Context) ([]model.VatCode, error) {
	return s.catalogRepo.ListVatCodes(ctx)
}

func (s *mappingService) ListAccounts(ctx context.Context) ([]model.LedgerAccount, error) {
	return s.catalogRepo.ListAccounts(ctx)
}

func (s *mappingService) RefreshCatalogs(ctx context.Context) error {
	session, err := s.connection.Session(ctx)
	if err != nil {
		return err
	}

	vatCodes, err := s.client.FetchVatCodes(ctx, session)
	if err != nil {
		return fmt.Errorf("failed to fetch vat codes: %w", err)
	}
	accounts, err := s.client.FetchAccounts(ctx, session)
	if err != nil {
		return fmt.Errorf("failed to fetch accounts: %w", err)
	}

	now := time.Now()
	vatRows := make([]model.VatCode, 0, len(vatCodes))
	for _, code := range vatCodes {
		vatRows = append(vatRows, model.VatCode{
			Code:      code.Code,
			Name:      code.Name,
			Rate:      code.Rate,
			IsActive:  code.IsActive,
			FetchedAt: now,
		})
	}
	accountRows := make([]model.LedgerAccount, 0, len(accounts))
	for _, account := range accounts {
		accountRows = append(accountRows, model.LedgerAccount{
			AccountCode: account.Code,
			Name:        account.Name,
			AccountType: account.Type,
			IsActive:    account.IsActive,
			FetchedAt:   now,
		})
	}

	if err := s.catalogRepo.ReplaceVatCodes(ctx, vatRows); err != nil {
		return fmt.Errorf("failed to store vat codes: %w", err)
	}
	if err := s.catalogRepo.ReplaceAccounts(ctx, accountRows); err != nil {
		return fmt.Errorf("failed to store accounts: %w", err)
	}
	return nil
}

func (s *mappingService) knownVatCodes(ctx context.Context) (map[string]bool, error) {
	codes, err := s.catalogRepo.ListVatCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cached vat codes: %w", err)
	}
	known := make(map[string]bool, len(codes))
	for _, code := range codes {
		known[code.Code] = true
	}
	return known, nil
}
