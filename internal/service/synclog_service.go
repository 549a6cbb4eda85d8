package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"carflow/internal/model"
	"carflow/internal/repository"
)

// --- DTOs ---

type SyncLogFilter struct {
	EntityType string
	Status     string
	Search     string
	Page       int
	Limit      int
}

// --- Interface ---

// SyncLogService is the read side of the sync ledger. Rows are written only
// by the orchestrator; this service never mutates them.
type SyncLogService interface {
	List(ctx context.Context, filter SyncLogFilter) ([]model.SyncLog, int64, error)
	// ExportCSV flattens the matching rows for audit purposes. A pure
	// read-side projection, not a separate write path.
	ExportCSV(ctx context.Context, filter SyncLogFilter) ([]byte, error)
}

type syncLogService struct {
	syncLogRepo repository.SyncLogRepository
}

func NewSyncLogService(syncLogRepo repository.SyncLogRepository) SyncLogService {
	return &syncLogService{syncLogRepo: syncLogRepo}
}

// --- Implementation ---

func (s *syncLogService) List(ctx context.Context, filter SyncLogFilter) ([]model.SyncLog, int64, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	entries, total, err := s.syncLogRepo.List(ctx, repository.SyncLogFilter{
		EntityType: filter.EntityType,
		Status:     filter.Status,
		Search:     filter.Search,
		Page:       filter.Page,
		Limit:      filter.Limit,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch sync logs: %w", err)
	}
	return entries, total, nil
}

func (s *syncLogService) ExportCSV(ctx context.Context, filter SyncLogFilter) ([]byte, error) {
	entries, err := s.syncLogRepo.ListAll(ctx, repository.SyncLogFilter{
		EntityType: filter.EntityType,
		Status:     filter.Status,
		Search:     filter.Search,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sync logs: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"id", "provider", "entity_type", "local_id", "remote_id", "action", "status", "warning_kind", "message", "created_at"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, entry := range entries {
		row := []string{
			entry.ID.String(),
			entry.Provider,
			entry.EntityType,
			entry.LocalID,
			entry.RemoteID,
			entry.Action,
			entry.Status,
			entry.WarningKind,
			entry.Message,
			entry.CreatedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
