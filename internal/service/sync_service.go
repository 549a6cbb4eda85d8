package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carflow/internal/lock"
	"carflow/internal/model"
	"carflow/internal/provider"
	"carflow/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultProviderTimeout bounds every provider call; an attempt past this is
// recorded as failed, never left pending.
const DefaultProviderTimeout = 30 * time.Second

// --- DTOs ---

// SyncResult is returned by the orchestrator operations
type SyncResult struct {
	SyncLogID string `json:"sync_log_id"`
	RemoteID  string `json:"remote_id"`
	RemoteURL string `json:"remote_url"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// PaymentUpdateRequest carries a payment event reported by the provider via
// webhook or poll.
type PaymentUpdateRequest struct {
	PaidAmount   string     `json:"paid_amount" binding:"required"`
	DueDate      *time.Time `json:"due_date"`
	RemoteStatus string     `json:"remote_status"` // optional: "sent" marks invoice delivery
}

// Notifier pushes ledger events to connected UI clients. May be nil.
type Notifier interface {
	NotifySyncLog(entry model.SyncLog)
}

// --- Interface ---

// SyncService converts local contracts into provider orders and invoices,
// enforcing at-most-one-in-flight per contract, and records every attempt in
// the sync ledger.
type SyncService interface {
	SendOrder(ctx context.Context, contractID string) (SyncResult, error)
	InvoiceContract(ctx context.Context, contractID string) (SyncResult, error)
	// ApplyPaymentUpdate is the state machine entry point for payment events
	// reported by the provider.
	ApplyPaymentUpdate(ctx context.Context, contractID string, req PaymentUpdateRequest) (SyncResult, error)
	// CancelAccounting moves a non-terminal contract to cancelled by
	// explicit operator action.
	CancelAccounting(ctx context.Context, contractID string) (SyncResult, error)
}

type syncService struct {
	contractRepo repository.ContractRepository
	syncLogRepo  repository.SyncLogRepository
	mappingRepo  repository.MappingRepository
	settings     ConnectionService
	client       provider.Client
	locks        lock.Keeper
	txManager    repository.TransactionManager
	notifier     Notifier
	categories   []model.Category
	callTimeout  time.Duration
}

func NewSyncService(
	contractRepo repository.ContractRepository,
	syncLogRepo repository.SyncLogRepository,
	mappingRepo repository.MappingRepository,
	settings ConnectionService,
	client provider.Client,
	locks lock.Keeper,
	txManager repository.TransactionManager,
	notifier Notifier,
	categories []model.Category,
	callTimeout time.Duration,
) SyncService {
	if len(categories) == 0 {
		categories = model.AllCategories()
	}
	if callTimeout <= 0 {
		callTimeout = DefaultProviderTimeout
	}
	return &syncService{
		contractRepo: contractRepo,
		syncLogRepo:  syncLogRepo,
		mappingRepo:  mappingRepo,
		settings:     settings,
		client:       client,
		locks:        locks,
		txManager:    txManager,
		notifier:     notifier,
		categories:   categories,
		callTimeout:  callTimeout,
	}
}

// --- Orchestrator operations ---

func (s *syncService) SendOrder(ctx context.Context, contractID string) (SyncResult, error) {
	id, err := uuid.Parse(contractID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("invalid contract id: %w", err)
	}

	// Pre-flight gates. Configuration errors are rejections, not attempts:
	// nothing is written to the ledger for them.
	session, err := s.settings.Session(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	vatMappings, accountMappings, err := s.loadMappings(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	if verdict := Validate(s.categories, vatMappings, accountMappings); !verdict.OK {
		return SyncResult{}, &MappingIncompleteError{Missing: verdict.Missing}
	}

	// The marker is taken before the contract read so the already-sent check
	// always sees the outcome of any concurrent attempt that just finished.
	if !s.locks.Acquire(id.String()) {
		return SyncResult{}, ErrSyncInFlight
	}
	defer s.locks.Release(id.String())

	contract, err := s.contractRepo.FindByIDWithItems(ctx, id)
	if err != nil {
		return SyncResult{}, fmt.Errorf("contract not found: %w", err)
	}
	if contract.AccountingOrderID != "" {
		return SyncResult{}, ErrOrderAlreadySent
	}

	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to load settings: %w", err)
	}
	payload := buildOrderPayload(contract, settings, vatMappings, accountMappings)

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	doc, callErr := s.client.CreateOrder(callCtx, session, payload)

	if callErr != nil {
		return s.recordOrderFailure(ctx, contract, callErr)
	}

	return s.recordOrderSuccess(ctx, contract, doc, "order created")
}

func (s *syncService) InvoiceContract(ctx context.Context, contractID string) (SyncResult, error) {
	id, err := uuid.Parse(contractID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("invalid contract id: %w", err)
	}

	session, err := s.settings.Session(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	// Same ordering as SendOrder: marker first, then the precondition read.
	if !s.locks.Acquire(id.String()) {
		return SyncResult{}, ErrSyncInFlight
	}
	defer s.locks.Release(id.String())

	contract, err := s.contractRepo.FindByIDWithItems(ctx, id)
	if err != nil {
		return SyncResult{}, fmt.Errorf("contract not found: %w", err)
	}
	if contract.AccountingOrderID == "" {
		return SyncResult{}, ErrNoOrderYet
	}
	if contract.AccountingInvoiceID != "" {
		return SyncResult{}, ErrInvoiceAlreadySent
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	doc, callErr := s.client.CreateInvoice(callCtx, session, contract.AccountingOrderID)

	if callErr != nil {
		return s.recordInvoiceFailure(ctx, contract, callErr)
	}

	return s.recordInvoiceSuccess(ctx, contract, doc, "invoice created")
}

func (s *syncService) ApplyPaymentUpdate(ctx context.Context, contractID string, req PaymentUpdateRequest) (SyncResult, error) {
	id, err := uuid.Parse(contractID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("invalid contract id: %w", err)
	}
	paid, err := decimal.NewFromString(req.PaidAmount)
	if err != nil {
		return SyncResult{}, fmt.Errorf("invalid paid_amount: %w", err)
	}

	contract, err := s.contractRepo.FindByIDWithItems(ctx, id)
	if err != nil {
		return SyncResult{}, fmt.Errorf("contract not found: %w", err)
	}
	if contract.AccountingInvoiceID == "" {
		return SyncResult{}, fmt.Errorf("contract has no invoice; payment updates apply post-invoice only")
	}
	if contract.AccountingStatus.IsTerminal() {
		return SyncResult{}, fmt.Errorf("contract accounting status %q is terminal", contract.AccountingStatus)
	}

	// Delivery confirmation precedes payment state evaluation.
	if req.RemoteStatus == "sent" && contract.AccountingStatus == model.AccountingInvoiced {
		contract.AccountingStatus = model.AccountingSent
	}

	contract.AccountingPaidAmount = paid
	if req.DueDate != nil {
		contract.AccountingDueDate = req.DueDate
	}

	target := s.paymentTarget(contract, paid)
	message := fmt.Sprintf("payment update: paid %s of %s", paid.StringFixed(2), contract.TotalPrice().StringFixed(2))
	if target != "" && target != contract.AccountingStatus {
		if !contract.AccountingStatus.CanTransitionTo(target) {
			return SyncResult{}, fmt.Errorf("illegal accounting transition %s -> %s", contract.AccountingStatus, target)
		}
		message = fmt.Sprintf("%s; status %s -> %s", message, contract.AccountingStatus, target)
		contract.AccountingStatus = target
	}

	now := time.Now()
	contract.AccountingLastSyncAt = &now

	entry := s.newLogEntry(contract, model.SyncEntityPayment, model.SyncActionPaymentUpdate, model.SyncStatusSuccess, message)
	entry.RemoteID = contract.AccountingInvoiceID
	if err := s.persistContractAndLog(ctx, contract, entry); err != nil {
		return SyncResult{}, err
	}

	return SyncResult{SyncLogID: entry.ID.String(), RemoteID: entry.RemoteID, Status: entry.Status, Message: message}, nil
}

func (s *syncService) CancelAccounting(ctx context.Context, contractID string) (SyncResult, error) {
	id, err := uuid.Parse(contractID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("invalid contract id: %w", err)
	}

	contract, err := s.contractRepo.FindByID(ctx, id)
	if err != nil {
		return SyncResult{}, fmt.Errorf("contract not found: %w", err)
	}
	if !contract.AccountingStatus.CanTransitionTo(model.AccountingCancelled) {
		return SyncResult{}, fmt.Errorf("cannot cancel contract in terminal status %q", contract.AccountingStatus)
	}

	message := fmt.Sprintf("accounting cancelled by operator; status %s -> %s", contract.AccountingStatus, model.AccountingCancelled)
	contract.AccountingStatus = model.AccountingCancelled
	now := time.Now()
	contract.AccountingLastSyncAt = &now

	entry := s.newLogEntry(contract, model.SyncEntityContract, model.SyncActionCancel, model.SyncStatusSuccess, message)
	if err := s.persistContractAndLog(ctx, contract, entry); err != nil {
		return SyncResult{}, err
	}

	return SyncResult{SyncLogID: entry.ID.String(), Status: entry.Status, Message: message}, nil
}

// --- Outcome recording ---

func (s *syncService) recordOrderSuccess(ctx context.Context, contract *model.Contract, doc provider.RemoteDocument, message string) (SyncResult, error) {
	contract.AccountingOrderID = doc.ID
	contract.AccountingOrderURL = doc.URL
	contract.AccountingStatus = model.AccountingOrderSent
	now := time.Now()
	contract.AccountingLastSyncAt = &now

	entry := s.newLogEntry(contract, model.SyncEntityOrder, model.SyncActionCreateOrder, model.SyncStatusSuccess, message)
	entry.RemoteID = doc.ID
	if err := s.persistContractAndLog(ctx, contract, entry); err != nil {
		return SyncResult{}, err
	}
	if err := s.settings.TouchLastSynced(ctx, now); err != nil {
		return SyncResult{}, fmt.Errorf("failed to record sync timestamp: %w", err)
	}

	return SyncResult{
		SyncLogID: entry.ID.String(),
		RemoteID:  doc.ID,
		RemoteURL: doc.URL,
		Status:    entry.Status,
		Message:   message,
	}, nil
}

func (s *syncService) recordOrderFailure(ctx context.Context, contract *model.Contract, callErr error) (SyncResult, error) {
	if provider.IsConflict(callErr) {
		// The provider already holds this order: reconcile the existing id
		// into the contract instead of treating it as a hard failure.
		pErr, _ := provider.AsError(callErr)
		doc := provider.RemoteDocument{ID: pErr.ExistingID}
		contract.AccountingOrderID = doc.ID
		contract.AccountingStatus = model.AccountingOrderSent
		now := time.Now()
		contract.AccountingLastSyncAt = &now

		message := fmt.Sprintf("provider reported duplicate order, reconciled remote id %s: %s", doc.ID, pErr.Message)
		entry := s.newLogEntry(contract, model.SyncEntityOrder, model.SyncActionCreateOrder, model.SyncStatusWarning, message)
		entry.WarningKind = model.WarningDuplicateReconciled
		entry.RemoteID = doc.ID
		if err := s.persistContractAndLog(ctx, contract, entry); err != nil {
			return SyncResult{}, err
		}
		return SyncResult{SyncLogID: entry.ID.String(), RemoteID: doc.ID, Status: entry.Status, Message: message}, nil
	}

	entry := s.failureEntry(ctx, contract, model.SyncEntityOrder, model.SyncActionCreateOrder, callErr)
	if err := s.syncLogRepo.Append(ctx, entry); err != nil {
		return SyncResult{}, fmt.Errorf("failed to write sync log: %w", err)
	}
	s.notify(entry)
	// The result still carries the ledger id so retry callers can point at
	// the freshly appended failed row.
	return SyncResult{SyncLogID: entry.ID.String(), Status: entry.Status, Message: entry.Message}, fmt.Errorf("%s", entry.Message)
}

func (s *syncService) recordInvoiceSuccess(ctx context.Context, contract *model.Contract, doc provider.RemoteDocument, message string) (SyncResult, error) {
	contract.AccountingInvoiceID = doc.ID
	contract.AccountingInvoiceURL = doc.URL
	contract.AccountingStatus = model.AccountingInvoiced
	now := time.Now()
	contract.AccountingLastSyncAt = &now

	entry := s.newLogEntry(contract, model.SyncEntityInvoice, model.SyncActionCreateInvoice, model.SyncStatusSuccess, message)
	entry.RemoteID = doc.ID
	if err := s.persistContractAndLog(ctx, contract, entry); err != nil {
		return SyncResult{}, err
	}
	if err := s.settings.TouchLastSynced(ctx, now); err != nil {
		return SyncResult{}, fmt.Errorf("failed to record sync timestamp: %w", err)
	}

	return SyncResult{
		SyncLogID: entry.ID.String(),
		RemoteID:  doc.ID,
		RemoteURL: doc.URL,
		Status:    entry.Status,
		Message:   message,
	}, nil
}

func (s *syncService) recordInvoiceFailure(ctx context.Context, contract *model.Contract, callErr error) (SyncResult, error) {
	if provider.IsConflict(callErr) {
		pErr, _ := provider.AsError(callErr)
		contract.AccountingInvoiceID = pErr.ExistingID
		contract.AccountingStatus = model.AccountingInvoiced
		now := time.Now()
		contract.AccountingLastSyncAt = &now

		message := fmt.Sprintf("provider reported duplicate invoice, reconciled remote id %s: %s", pErr.ExistingID, pErr.Message)
		entry := s.newLogEntry(contract, model.SyncEntityInvoice, model.SyncActionCreateInvoice, model.SyncStatusWarning, message)
		entry.WarningKind = model.WarningDuplicateReconciled
		entry.RemoteID = pErr.ExistingID
		if err := s.persistContractAndLog(ctx, contract, entry); err != nil {
			return SyncResult{}, err
		}
		return SyncResult{SyncLogID: entry.ID.String(), RemoteID: pErr.ExistingID, Status: entry.Status, Message: message}, nil
	}

	entry := s.failureEntry(ctx, contract, model.SyncEntityInvoice, model.SyncActionCreateInvoice, callErr)
	if err := s.syncLogRepo.Append(ctx, entry); err != nil {
		return SyncResult{}, fmt.Errorf("failed to write sync log: %w", err)
	}
	s.notify(entry)
	return SyncResult{SyncLogID: entry.ID.String(), Status: entry.Status, Message: entry.Message}, fmt.Errorf("%s", entry.Message)
}

// failureEntry classifies a provider error per the taxonomy. Auth errors
// additionally drive the connection to disconnected (self-healing) and land
// as warnings; everything else is a failed, retryable attempt. The contract
// record stays untouched so a retry sees the same preconditions.
func (s *syncService) failureEntry(ctx context.Context, contract *model.Contract, entityType, action string, callErr error) *model.SyncLog {
	message := callErr.Error()
	status := model.SyncStatusFailed
	warningKind := ""

	switch {
	case provider.IsAuth(callErr):
		status = model.SyncStatusWarning
		warningKind = model.WarningReauthRequired
		if pErr, ok := provider.AsError(callErr); ok {
			message = "provider session expired, reconnect required: " + pErr.Message
		}
		if err := s.settings.MarkDisconnected(ctx); err != nil {
			message = fmt.Sprintf("%s (disconnect failed: %v)", message, err)
		}
	case errors.Is(callErr, context.DeadlineExceeded):
		message = fmt.Sprintf("provider call timed out after %s", s.callTimeout)
	default:
		if pErr, ok := provider.AsError(callErr); ok {
			// Preserve the provider's message verbatim for diagnosis.
			message = pErr.Message
		}
	}

	entry := s.newLogEntry(contract, entityType, action, status, message)
	entry.WarningKind = warningKind
	return entry
}

// --- Helpers ---

func (s *syncService) loadMappings(ctx context.Context) ([]model.VatMapping, []model.AccountMapping, error) {
	vat, err := s.mappingRepo.ListVatMappings(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch vat mappings: %w", err)
	}
	accounts, err := s.mappingRepo.ListAccountMappings(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch account mappings: %w", err)
	}
	return vat, accounts, nil
}

func buildOrderPayload(contract *model.Contract, settings *model.AccountingSettings, vat []model.VatMapping, accounts []model.AccountMapping) provider.OrderPayload {
	vatByCategory := make(map[model.Category]model.VatMapping, len(vat))
	for _, m := range vat {
		vatByCategory[m.Category] = m
	}
	accountByCategory := make(map[model.Category]model.AccountMapping, len(accounts))
	for _, m := range accounts {
		accountByCategory[m.Category] = m
	}

	line := func(category model.Category, description string, quantity int, unitPrice decimal.Decimal) provider.OrderLine {
		return provider.OrderLine{
			Description:   description,
			Quantity:      quantity,
			UnitPrice:     unitPrice,
			VatCode:       vatByCategory[category].RemoteVatCode,
			IncomeAccount: accountByCategory[category].IncomeAccount,
		}
	}

	vehicleDesc := contract.VehicleDesc
	if vehicleDesc == "" {
		vehicleDesc = "Vehicle"
	}
	lines := []provider.OrderLine{line(model.CategoryCar, vehicleDesc, 1, contract.SalePrice)}

	for _, item := range contract.Items {
		lines = append(lines, line(item.Category, item.Description, item.Quantity, item.UnitPrice))
	}
	if contract.Discount.IsPositive() {
		lines = append(lines, line(model.CategoryCar, "Discount", 1, contract.Discount.Neg()))
	}
	if contract.TradeInPrice.IsPositive() {
		lines = append(lines, line(model.CategoryCar, "Trade-in vehicle", 1, contract.TradeInPrice.Neg()))
	}

	return provider.OrderPayload{
		Reference:        contract.ContractNo,
		CustomerName:     contract.CustomerName,
		CustomerOrgNo:    contract.CustomerOrg,
		Lines:            lines,
		PaymentTermsDays: settings.PaymentTermsDays,
		ProjectCode:      settings.ProjectCode,
		DepartmentCode:   settings.DepartmentCode,
		DeliveryChannel:  settings.InvoiceDelivery,
	}
}

// paymentTarget computes the next accounting status from payment facts.
// Overdue wins over partially_paid once the due date has passed unpaid.
func (s *syncService) paymentTarget(contract *model.Contract, paid decimal.Decimal) model.AccountingStatus {
	total := contract.TotalPrice()
	switch {
	case paid.GreaterThanOrEqual(total) && total.IsPositive():
		return model.AccountingPaid
	case contract.AccountingDueDate != nil && time.Now().After(*contract.AccountingDueDate):
		return model.AccountingOverdue
	case paid.IsPositive():
		return model.AccountingPartiallyPaid
	default:
		return ""
	}
}

func (s *syncService) newLogEntry(contract *model.Contract, entityType, action, status, message string) *model.SyncLog {
	return &model.SyncLog{
		Provider:   model.ProviderPowerOffice,
		EntityType: entityType,
		LocalID:    contract.ID.String(),
		Action:     action,
		Status:     status,
		Message:    message,
	}
}

// persistContractAndLog commits the contract accounting fields and the
// ledger row in one transaction: no transition without its ledger entry.
func (s *syncService) persistContractAndLog(ctx context.Context, contract *model.Contract, entry *model.SyncLog) error {
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.contractRepo.UpdateAccountingFields(txCtx, contract); err != nil {
			return fmt.Errorf("failed to update contract: %w", err)
		}
		if err := s.syncLogRepo.Append(txCtx, entry); err != nil {
			return fmt.Errorf("failed to write sync log: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(entry)
	return nil
}

func (s *syncService) notify(entry *model.SyncLog) {
	if s.notifier != nil {
		s.notifier.NotifySyncLog(*entry)
	}
}
