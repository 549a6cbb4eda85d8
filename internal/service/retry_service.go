package service

import (
	"context"
	"fmt"

	"carflow/internal/model"
	"carflow/internal/repository"

	"github.com/google/uuid"
)

// --- DTOs ---

// RetryOutcome is the result of retrying one ledger row. A bulk retry yields
// one outcome per requested row; failures do not abort the batch.
type RetryOutcome struct {
	SyncLogID    string `json:"sync_log_id"`
	NewSyncLogID string `json:"new_sync_log_id,omitempty"`
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
}

// --- Interface ---

// RetryService re-submits failed ledger rows through the orchestrator. A
// retry is a new attempt with a new ledger row; the original row is never
// touched.
type RetryService interface {
	Retry(ctx context.Context, syncLogID string) (SyncResult, error)
	// RetryBulk runs independent single retries; partial success is expected.
	RetryBulk(ctx context.Context, syncLogIDs []string) []RetryOutcome
}

type retryService struct {
	syncLogRepo repository.SyncLogRepository
	sync        SyncService
}

func NewRetryService(syncLogRepo repository.SyncLogRepository, sync SyncService) RetryService {
	return &retryService{syncLogRepo: syncLogRepo, sync: sync}
}

// --- Implementation ---

func (s *retryService) Retry(ctx context.Context, syncLogID string) (SyncResult, error) {
	id, err := uuid.Parse(syncLogID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("invalid sync log id: %w", err)
	}

	entry, err := s.syncLogRepo.FindByID(ctx, id)
	if err != nil {
		return SyncResult{}, fmt.Errorf("sync log entry not found: %w", err)
	}
	if entry.Status != model.SyncStatusFailed {
		return SyncResult{}, fmt.Errorf("%w (entry is %s)", ErrNotRetryable, entry.Status)
	}

	// Reconstruct the original operation from the row and re-invoke it.
	switch entry.Action {
	case model.SyncActionCreateOrder:
		return s.sync.SendOrder(ctx, entry.LocalID)
	case model.SyncActionCreateInvoice:
		return s.sync.InvoiceContract(ctx, entry.LocalID)
	default:
		return SyncResult{}, fmt.Errorf("action %q is not retryable", entry.Action)
	}
}

func (s *retryService) RetryBulk(ctx context.Context, syncLogIDs []string) []RetryOutcome {
	outcomes := make([]RetryOutcome, 0, len(syncLogIDs))
	for _, id := range syncLogIDs {
		result, err := s.Retry(ctx, id)
		if err != nil {
			// A failed re-attempt still appended a ledger row; surface its id
			// so the caller can chase (or re-retry) the new failure.
			outcomes = append(outcomes, RetryOutcome{
				SyncLogID:    id,
				NewSyncLogID: result.SyncLogID,
				Status:       model.SyncStatusFailed,
				Message:      err.Error(),
			})
			continue
		}
		outcomes = append(outcomes, RetryOutcome{
			SyncLogID:    id,
			NewSyncLogID: result.SyncLogID,
			Status:       result.Status,
			Message:      result.Message,
		})
	}
	return outcomes
}
