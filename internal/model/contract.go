package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Category enum constants — the fixed set of line-item categories that
// accounting mappings are keyed by.
type Category string

const (
	CategoryCar             Category = "car"
	CategoryAddon           Category = "addon"
	CategoryPart            Category = "part"
	CategoryLabor           Category = "labor"
	CategoryFee             Category = "fee"
	CategoryRegistrationFee Category = "registration_fee"
)

// AllCategories returns the full category set in a stable order. Mapping
// validation enumerates this set, not whatever rows happen to be persisted.
func AllCategories() []Category {
	return []Category{
		CategoryCar,
		CategoryAddon,
		CategoryPart,
		CategoryLabor,
		CategoryFee,
		CategoryRegistrationFee,
	}
}

// IsValid returns true if the category belongs to the known set
func (c Category) IsValid() bool {
	switch c {
	case CategoryCar, CategoryAddon, CategoryPart, CategoryLabor, CategoryFee, CategoryRegistrationFee:
		return true
	default:
		return false
	}
}

func (c Category) String() string {
	return string(c)
}

// AccountingStatus is the per-contract accounting state machine
type AccountingStatus string

const (
	AccountingDraft         AccountingStatus = "draft"
	AccountingOrderSent     AccountingStatus = "order_sent"
	AccountingInvoiced      AccountingStatus = "invoiced"
	AccountingSent          AccountingStatus = "sent"
	AccountingPartiallyPaid AccountingStatus = "partially_paid"
	AccountingPaid          AccountingStatus = "paid"
	AccountingOverdue       AccountingStatus = "overdue"
	AccountingCancelled     AccountingStatus = "cancelled"
)

// accountingTransitions lists the allowed next states per state.
// paid and cancelled are terminal.
var accountingTransitions = map[AccountingStatus][]AccountingStatus{
	AccountingDraft:         {AccountingOrderSent, AccountingCancelled},
	AccountingOrderSent:     {AccountingInvoiced, AccountingCancelled},
	AccountingInvoiced:      {AccountingSent, AccountingPartiallyPaid, AccountingPaid, AccountingOverdue, AccountingCancelled},
	AccountingSent:          {AccountingPartiallyPaid, AccountingPaid, AccountingOverdue, AccountingCancelled},
	AccountingPartiallyPaid: {AccountingPaid, AccountingOverdue, AccountingCancelled},
	AccountingOverdue:       {AccountingPartiallyPaid, AccountingPaid, AccountingCancelled},
	AccountingPaid:          {},
	AccountingCancelled:     {},
}

// CanTransitionTo reports whether moving from s to next is a legal transition
func (s AccountingStatus) CanTransitionTo(next AccountingStatus) bool {
	for _, allowed := range accountingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true for states with no outgoing transitions
func (s AccountingStatus) IsTerminal() bool {
	return len(accountingTransitions[s]) == 0
}

func (s AccountingStatus) String() string {
	return string(s)
}

// Contract represents a vehicle sales contract. The wizard that assembles it
// lives elsewhere; this backend owns the record and its accounting fields.
type Contract struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ContractNo   string    `gorm:"type:varchar(30);uniqueIndex;not null" json:"contract_no"`
	CustomerName string    `gorm:"type:varchar(255);not null" json:"customer_name"`
	CustomerOrg  string    `gorm:"type:varchar(50)" json:"customer_org"` // org/person number for the provider payload
	VehicleVIN   string    `gorm:"type:varchar(17)" json:"vehicle_vin"`
	VehicleDesc  string    `gorm:"type:varchar(255)" json:"vehicle_desc"`

	SalePrice    decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"sale_price"`
	TradeInPrice decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"trade_in_price"`
	Discount     decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"discount"`

	Items []ContractItem `gorm:"foreignKey:ContractID;constraint:OnDelete:CASCADE" json:"items"`

	// Accounting fields written by the sync core, read-only for everyone else
	AccountingStatus     AccountingStatus `gorm:"type:varchar(20);not null;default:'draft';index" json:"accounting_status"`
	AccountingOrderID    string           `gorm:"type:varchar(50)" json:"accounting_order_id"`
	AccountingOrderURL   string           `gorm:"type:varchar(500)" json:"accounting_order_url"`
	AccountingInvoiceID  string           `gorm:"type:varchar(50)" json:"accounting_invoice_id"`
	AccountingInvoiceURL string           `gorm:"type:varchar(500)" json:"accounting_invoice_url"`
	AccountingPaidAmount decimal.Decimal  `gorm:"type:decimal(18,4);not null;default:0" json:"accounting_paid_amount"`
	AccountingDueDate    *time.Time       `json:"accounting_due_date"`
	AccountingLastSyncAt *time.Time       `json:"accounting_last_sync_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns the ID in the application so the same model works on
// both postgres and the sqlite test driver.
func (c *Contract) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ContractItem is a priced line on a contract: add-ons, parts, workshop
// labor, fees. The vehicle itself is carried on the contract, not as an item.
type ContractItem struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ContractID  uuid.UUID       `gorm:"type:uuid;not null;index" json:"contract_id"`
	Category    Category        `gorm:"type:varchar(20);not null" json:"category"`
	Description string          `gorm:"type:varchar(255);not null" json:"description"`
	Quantity    int             `gorm:"not null;default:1" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"unit_price"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (i *ContractItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// TotalPrice is the amount the customer owes: vehicle plus items, minus
// discount and trade-in.
func (c *Contract) TotalPrice() decimal.Decimal {
	total := c.SalePrice
	for _, item := range c.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total.Sub(c.Discount).Sub(c.TradeInPrice)
}
