package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncStatus enum constants
const (
	SyncStatusSuccess = "success"
	SyncStatusFailed  = "failed"
	SyncStatusWarning = "warning"
)

// WarningKind distinguishes the two warning flavors: an expired session that
// needs reconnecting vs. a provider-reported duplicate that was reconciled.
const (
	WarningReauthRequired      = "reauth_required"
	WarningDuplicateReconciled = "duplicate_reconciled"
)

// SyncEntityType enum constants
const (
	SyncEntityCustomer = "customer"
	SyncEntityItem     = "item"
	SyncEntityContract = "contract"
	SyncEntityOrder    = "order"
	SyncEntityInvoice  = "invoice"
	SyncEntityPayment  = "payment"
)

// SyncAction enum constants
const (
	SyncActionCreateOrder   = "create_order"
	SyncActionCreateInvoice = "create_invoice"
	SyncActionPaymentUpdate = "payment_update"
	SyncActionCancel        = "cancel"
)

// SyncLog is one row per synchronization attempt. Rows are append-only and
// immutable; a retry writes a new row referencing the same LocalID.
type SyncLog struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Provider    string    `gorm:"type:varchar(30);not null" json:"provider"`
	EntityType  string    `gorm:"type:varchar(20);not null;index" json:"entity_type"`
	LocalID     string    `gorm:"type:varchar(50);not null;index" json:"local_id"`
	RemoteID    string    `gorm:"type:varchar(50);index" json:"remote_id"`
	Action      string    `gorm:"type:varchar(30);not null" json:"action"`
	Status      string    `gorm:"type:varchar(10);not null;index" json:"status"`
	WarningKind string    `gorm:"type:varchar(30)" json:"warning_kind,omitempty"`
	Message     string    `gorm:"type:text" json:"message"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

func (l *SyncLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
