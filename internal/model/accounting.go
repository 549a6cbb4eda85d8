package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Supported accounting providers
const (
	ProviderPowerOffice = "poweroffice"
)

// AccountingSettings is the per-installation provider link state. There is a
// single row; it is created on the first connect attempt and only ever
// disconnected, never deleted.
type AccountingSettings struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Provider         string     `gorm:"type:varchar(30);not null;default:'poweroffice'" json:"provider"`
	IsConnected      bool       `gorm:"not null;default:false" json:"is_connected"`
	ConnectedOrgName string     `gorm:"type:varchar(255)" json:"connected_org_name"`
	LastSyncedAt     *time.Time `json:"last_synced_at"`

	// Defaults applied to provider orders/invoices
	PaymentTermsDays int    `gorm:"not null;default:14" json:"payment_terms_days"`
	ProjectCode      string `gorm:"type:varchar(50)" json:"project_code"`
	DepartmentCode   string `gorm:"type:varchar(50)" json:"department_code"`
	InvoiceDelivery  string `gorm:"type:varchar(20);not null;default:'ehf'" json:"invoice_delivery"` // ehf, email, print

	// Session material. Owned by the connection manager, never serialized out.
	AccessToken    string     `gorm:"type:varchar(2000)" json:"-"`
	RefreshToken   string     `gorm:"type:varchar(2000)" json:"-"`
	TokenExpiresAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *AccountingSettings) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// VatMapping associates a local category with a VAT code on the provider
// side. An empty RemoteVatCode means the category is not mapped yet.
type VatMapping struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Category      Category        `gorm:"type:varchar(20);uniqueIndex;not null" json:"category"`
	LocalLabel    string          `gorm:"type:varchar(100)" json:"local_label"`
	RemoteVatCode string          `gorm:"type:varchar(20)" json:"remote_vat_code"`
	VatRate       decimal.Decimal `gorm:"type:decimal(10,4);not null;default:0" json:"vat_rate"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (m *VatMapping) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// AccountMapping associates a local category with ledger accounts on the
// provider side. Only IncomeAccount gates sync eligibility; the rest are
// optional refinements.
type AccountMapping struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Category         Category  `gorm:"type:varchar(20);uniqueIndex;not null" json:"category"`
	IncomeAccount    string    `gorm:"type:varchar(20)" json:"income_account"`
	CogsAccount      string    `gorm:"type:varchar(20)" json:"cogs_account"`
	InventoryAccount string    `gorm:"type:varchar(20)" json:"inventory_account"`
	FeeAccount       string    `gorm:"type:varchar(20)" json:"fee_account"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (m *AccountMapping) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// VatCode is a cached row from the provider's VAT code catalog. Never edited
// locally; the whole cache is replaced on refresh.
type VatCode struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Code      string          `gorm:"type:varchar(20);not null;index" json:"code"`
	Name      string          `gorm:"type:varchar(255)" json:"name"`
	Rate      decimal.Decimal `gorm:"type:decimal(10,4);not null;default:0" json:"rate"`
	IsActive  bool            `gorm:"not null;default:true" json:"is_active"`
	FetchedAt time.Time       `json:"fetched_at"`
}

func (v *VatCode) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// LedgerAccount is a cached row from the provider's chart of accounts.
type LedgerAccount struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AccountCode string    `gorm:"type:varchar(20);not null;index" json:"account_code"`
	Name        string    `gorm:"type:varchar(255)" json:"name"`
	AccountType string    `gorm:"type:varchar(50)" json:"account_type"`
	IsActive    bool      `gorm:"not null;default:true" json:"is_active"`
	FetchedAt   time.Time `json:"fetched_at"`
}

func (a *LedgerAccount) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
