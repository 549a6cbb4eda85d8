package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"carflow/internal/model"
	"carflow/internal/provider"
	"carflow/internal/repository"

	"github.com/google/uuid"
)

// --- DTOs ---

type UpdateSettingsRequest struct {
	PaymentTermsDays *int    `json:"payment_terms_days"`
	ProjectCode      *string `json:"project_code"`
	DepartmentCode   *string `json:"department_code"`
	InvoiceDelivery  *string `json:"invoice_delivery"`
}

type InitiateConnectResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

type CompleteConnectRequest struct {
	Code string `json:"code" binding:"required"`
}

type TestConnectionResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// --- Interface ---

// ConnectionService owns the provider link lifecycle and the session
// material. Token material never leaves this component except into the
// provider package.
type ConnectionService interface {
	GetSettings(ctx context.Context) (*model.AccountingSettings, error)
	UpdateSettings(ctx context.Context, req UpdateSettingsRequest) (*model.AccountingSettings, error)

	// InitiateConnect requests the authorization handshake. Settings are not
	// mutated until the provider confirms via CompleteConnect.
	InitiateConnect(ctx context.Context) (InitiateConnectResponse, error)
	CompleteConnect(ctx context.Context, req CompleteConnectRequest) (*model.AccountingSettings, error)
	// Disconnect revokes the session and flips is_connected off. Mappings
	// and ledger history stay; reconnecting restores them.
	Disconnect(ctx context.Context) error
	// TestConnection is a diagnostics probe. Its failures are not sync
	// operations and never write ledger rows.
	TestConnection(ctx context.Context) TestConnectionResponse

	// Session returns the credential material for provider calls, or
	// ErrNotConnected.
	Session(ctx context.Context) (provider.Session, error)
	// MarkDisconnected is the self-healing transition taken when a provider
	// call fails with an authentication error.
	MarkDisconnected(ctx context.Context) error
	// TouchLastSynced records a successful sync timestamp.
	TouchLastSynced(ctx context.Context, at time.Time) error
}

type connectionService struct {
	settingsRepo repository.SettingsRepository
	client       provider.Client
}

func NewConnectionService(settingsRepo repository.SettingsRepository, client provider.Client) ConnectionService {
	return &connectionService{settingsRepo: settingsRepo, client: client}
}

// --- Implementation ---

func (s *connectionService) GetSettings(ctx context.Context) (*model.AccountingSettings, error) {
	return s.settingsRepo.Get(ctx)
}

func (s *connectionService) UpdateSettings(ctx context.Context, req UpdateSettingsRequest) (*model.AccountingSettings, error) {
	settings, err := s.settingsRepo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	if req.PaymentTermsDays != nil {
		if *req.PaymentTermsDays < 0 {
			return nil, fmt.Errorf("payment_terms_days cannot be negative")
		}
		settings.PaymentTermsDays = *req.PaymentTermsDays
	}
	if req.ProjectCode != nil {
		settings.ProjectCode = *req.ProjectCode
	}
	if req.DepartmentCode != nil {
		settings.DepartmentCode = *req.DepartmentCode
	}
	if req.InvoiceDelivery != nil {
		switch *req.InvoiceDelivery {
		case "ehf", "email", "print":
			settings.InvoiceDelivery = *req.InvoiceDelivery
		default:
			return nil, fmt.Errorf("invalid invoice_delivery %q", *req.InvoiceDelivery)
		}
	}

	if err := s.settingsRepo.Save(ctx, settings); err != nil {
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}
	return settings, nil
}

func (s *connectionService) InitiateConnect(ctx context.Context) (InitiateConnectResponse, error) {
	// Ensure the settings row exists so the first connect attempt creates it.
	if _, err := s.settingsRepo.Get(ctx); err != nil {
		return InitiateConnectResponse{}, fmt.Errorf("failed to load settings: %w", err)
	}

	state := uuid.NewString()
	return InitiateConnectResponse{
		AuthorizationURL: s.client.AuthorizeURL(state),
		State:            state,
	}, nil
}

func (s *connectionService) CompleteConnect(ctx context.Context, req CompleteConnectRequest) (*model.AccountingSettings, error) {
	result, err := s.client.ExchangeCode(ctx, req.Code)
	if err != nil {
		return nil, fmt.Errorf("authorization handshake failed: %w", err)
	}

	settings, err := s.settingsRepo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	expiresAt := result.ExpiresAt
	settings.IsConnected = true
	settings.ConnectedOrgName = result.OrgName
	settings.AccessToken = result.Session.AccessToken
	settings.RefreshToken = result.RefreshToken
	settings.TokenExpiresAt = &expiresAt

	if err := s.settingsRepo.Save(ctx, settings); err != nil {
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}
	return settings, nil
}

func (s *connectionService) Disconnect(ctx context.Context) error {
	settings, err := s.settingsRepo.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if settings.AccessToken != "" {
		// Best effort: a failed revoke must not leave the local state connected.
		if err := s.client.Revoke(ctx, provider.Session{AccessToken: settings.AccessToken}); err != nil {
			log.Printf("WARNING: provider token revoke failed: %v", err)
		}
	}

	settings.IsConnected = false
	settings.AccessToken = ""
	settings.RefreshToken = ""
	settings.TokenExpiresAt = nil

	if err := s.settingsRepo.Save(ctx, settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (s *connectionService) TestConnection(ctx context.Context) TestConnectionResponse {
	session, err := s.Session(ctx)
	if err != nil {
		return TestConnectionResponse{OK: false, Message: err.Error()}
	}
	if err := s.client.Ping(ctx, session); err != nil {
		return TestConnectionResponse{OK: false, Message: err.Error()}
	}
	return TestConnectionResponse{OK: true}
}

func (s *connectionService) Session(ctx context.Context) (provider.Session, error) {
	settings, err := s.settingsRepo.Get(ctx)
	if err != nil {
		return provider.Session{}, fmt.Errorf("failed to load settings: %w", err)
	}
	if !settings.IsConnected || settings.AccessToken == "" {
		return provider.Session{}, ErrNotConnected
	}
	return provider.Session{AccessToken: settings.AccessToken}, nil
}

func (s *connectionService) MarkDisconnected(ctx context.Context) error {
	settings, err := s.settingsRepo.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if !settings.IsConnected {
		return nil
	}
	settings.IsConnected = false
	settings.AccessToken = ""
	settings.RefreshToken = ""
	settings.TokenExpiresAt = nil
	return s.settingsRepo.Save(ctx, settings)
}

func (s *connectionService) TouchLastSynced(ctx context.Context, at time.Time) error {
	settings, err := s.settingsRepo.Get(ctx)
	if err != nil {
		return err
	}
	settings.LastSyncedAt = &at
	return s.settingsRepo.Save(ctx, settings)
}
