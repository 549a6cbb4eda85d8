// Package provider defines the port to the external accounting system.
// The sync core treats the client as a black box returning success payloads
// or typed errors.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrorKind classifies provider failures so the orchestrator can pick the
// right ledger status and recovery path.
type ErrorKind string

const (
	// KindAuth means the session is invalid or expired; the connection must
	// be driven to disconnected and the operator has to reconnect.
	KindAuth ErrorKind = "auth"
	// KindValidation means the provider rejected the payload; the message is
	// preserved verbatim for operator diagnosis.
	KindValidation ErrorKind = "validation"
	// KindTransient covers timeouts and 5xx responses; the attempt is
	// retryable as-is.
	KindTransient ErrorKind = "transient"
	// KindConflict means the provider already holds the document; ExistingID
	// carries the remote id to reconcile.
	KindConflict ErrorKind = "conflict"
)

// Error is a typed provider failure
type Error struct {
	Kind       ErrorKind
	Message    string
	ExistingID string // set on KindConflict when the provider reports the duplicate's id
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// AsError unwraps err into a provider Error, if it is one
func AsError(err error) (*Error, bool) {
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr, true
	}
	return nil, false
}

// IsAuth reports whether err is an authentication failure
func IsAuth(err error) bool {
	pErr, ok := AsError(err)
	return ok && pErr.Kind == KindAuth
}

// IsConflict reports whether err is a duplicate-document conflict
func IsConflict(err error) bool {
	pErr, ok := AsError(err)
	return ok && pErr.Kind == KindConflict
}

// Session is the credential material for authenticated provider calls.
// It never leaves the connection manager except into this package.
type Session struct {
	AccessToken string
}

// ConnectResult is the outcome of completing the authorization handshake
type ConnectResult struct {
	Session      Session
	RefreshToken string
	ExpiresAt    time.Time
	OrgName      string
}

// VatCode is a VAT code from the provider's catalog
type VatCode struct {
	Code     string
	Name     string
	Rate     decimal.Decimal
	IsActive bool
}

// Account is an entry from the provider's chart of accounts
type Account struct {
	Code     string
	Name     string
	Type     string
	IsActive bool
}

// OrderLine is one priced line in an order payload. VatCode and
// IncomeAccount come from the category mappings.
type OrderLine struct {
	Description   string
	Quantity      int
	UnitPrice     decimal.Decimal
	VatCode       string
	IncomeAccount string
}

// OrderPayload is the order creation request sent to the provider
type OrderPayload struct {
	Reference        string // local contract number
	CustomerName     string
	CustomerOrgNo    string
	Lines            []OrderLine
	PaymentTermsDays int
	ProjectCode      string
	DepartmentCode   string
	DeliveryChannel  string
}

// RemoteDocument identifies an order or invoice created on the provider side
type RemoteDocument struct {
	ID  string
	URL string
}

// Client is the port to the external accounting provider. Implementations
// must honor the context deadline on every call.
type Client interface {
	// AuthorizeURL returns the URL the operator is sent to for the
	// authorization handshake. No local state is mutated.
	AuthorizeURL(state string) string
	// ExchangeCode completes the handshake with the provider callback code.
	ExchangeCode(ctx context.Context, code string) (ConnectResult, error)
	// Revoke invalidates the session on the provider side.
	Revoke(ctx context.Context, session Session) error
	// Ping is a lightweight liveness probe.
	Ping(ctx context.Context, session Session) error

	FetchVatCodes(ctx context.Context, session Session) ([]VatCode, error)
	FetchAccounts(ctx context.Context, session Session) ([]Account, error)

	CreateOrder(ctx context.Context, session Session, payload OrderPayload) (RemoteDocument, error)
	CreateInvoice(ctx context.Context, session Session, orderID string) (RemoteDocument, error)
}
