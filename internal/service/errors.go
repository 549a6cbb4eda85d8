package service

import (
	"errors"
	"fmt"
	"strings"

	"carflow/internal/model"
)

// Configuration errors are pre-flight rejections: they surface before any
// provider call and are never written to the sync ledger.
var (
	// ErrNotConnected means no active provider connection exists
	ErrNotConnected = errors.New("accounting provider is not connected")
	// ErrSyncInFlight means another sync for the same contract is running
	ErrSyncInFlight = errors.New("a sync for this contract is already in progress")
	// ErrOrderAlreadySent means the contract already has a remote order
	ErrOrderAlreadySent = errors.New("contract already has an accounting order")
	// ErrNoOrderYet means invoicing was requested before an order exists
	ErrNoOrderYet = errors.New("contract has no accounting order to invoice")
	// ErrInvoiceAlreadySent means the contract already has a remote invoice
	ErrInvoiceAlreadySent = errors.New("contract already has an accounting invoice")
	// ErrNotRetryable means the sync log row is not in a retryable status
	ErrNotRetryable = errors.New("only failed sync log entries can be retried")
)

// MappingIncompleteError reports which categories block sync eligibility
type MappingIncompleteError struct {
	Missing []model.Category
}

func (e *MappingIncompleteError) Error() string {
	names := make([]string, 0, len(e.Missing))
	for _, c := range e.Missing {
		names = append(names, c.String())
	}
	return fmt.Sprintf("accounting mappings incomplete for categories: %s", strings.Join(names, ", "))
}

// IsConfigError reports whether err is a pre-flight configuration rejection
func IsConfigError(err error) bool {
	var mappingErr *MappingIncompleteError
	return errors.Is(err, ErrNotConnected) || errors.As(err, &mappingErr)
}
