package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"carflow/internal/lock"
	"carflow/internal/model"
	"carflow/internal/provider"
	"carflow/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB opens a fresh in-memory sqlite database with the full schema.
// A unique shared-cache name keeps gorm's pooled connections on one database.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.Contract{},
		&model.ContractItem{},
		&model.AccountingSettings{},
		&model.VatMapping{},
		&model.AccountMapping{},
		&model.VatCode{},
		&model.LedgerAccount{},
		&model.SyncLog{},
	))
	return db
}

// fakeClient is a provider.Client test double with overridable behavior per
// call. Unset calls succeed with canned data.
type fakeClient struct {
	authorizeURL  func(state string) string
	exchangeCode  func(ctx context.Context, code string) (provider.ConnectResult, error)
	revoke        func(ctx context.Context, session provider.Session) error
	ping          func(ctx context.Context, session provider.Session) error
	fetchVatCodes func(ctx context.Context, session provider.Session) ([]provider.VatCode, error)
	fetchAccounts func(ctx context.Context, session provider.Session) ([]provider.Account, error)
	createOrder   func(ctx context.Context, session provider.Session, payload provider.OrderPayload) (provider.RemoteDocument, error)
	createInvoice func(ctx context.Context, session provider.Session, orderID string) (provider.RemoteDocument, error)
}

func (f *fakeClient) AuthorizeURL(state string) string {
	if f.authorizeURL != nil {
		return f.authorizeURL(state)
	}
	return "https://provider.test/authorize?state=" + state
}

func (f *fakeClient) ExchangeCode(ctx context.Context, code string) (provider.ConnectResult, error) {
	if f.exchangeCode != nil {
		return f.exchangeCode(ctx, code)
	}
	return provider.ConnectResult{
		Session:      provider.Session{AccessToken: "test-access-token"},
		RefreshToken: "test-refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour),
		OrgName:      "Test Dealer AS",
	}, nil
}

func (f *fakeClient) Revoke(ctx context.Context, session provider.Session) error {
	if f.revoke != nil {
		return f.revoke(ctx, session)
	}
	return nil
}

func (f *fakeClient) Ping(ctx context.Context, session provider.Session) error {
	if f.ping != nil {
		return f.ping(ctx, session)
	}
	return nil
}

func (f *fakeClient) FetchVatCodes(ctx context.Context, session provider.Session) ([]provider.VatCode, error) {
	if f.fetchVatCodes != nil {
		return f.fetchVatCodes(ctx, session)
	}
	return []provider.VatCode{
		{Code: "3", Name: "Output VAT high rate", Rate: decimal.NewFromInt(25), IsActive: true},
		{Code: "5", Name: "Output VAT exempt", Rate: decimal.Zero, IsActive: true},
	}, nil
}

func (f *fakeClient) FetchAccounts(ctx context.Context, session provider.Session) ([]provider.Account, error) {
	if f.fetchAccounts != nil {
		return f.fetchAccounts(ctx, session)
	}
	return []provider.Account{
		{Code: "3000", Name: "Sales revenue, taxable", Type: "income", IsActive: true},
		{Code: "3100", Name: "Sales revenue, exempt", Type: "income", IsActive: true},
	}, nil
}

func (f *fakeClient) CreateOrder(ctx context.Context, session provider.Session, payload provider.OrderPayload) (provider.RemoteDocument, error) {
	if f.createOrder != nil {
		return f.createOrder(ctx, session, payload)
	}
	return provider.RemoteDocument{ID: "PO-1001", URL: "https://provider.test/orders/PO-1001"}, nil
}

func (f *fakeClient) CreateInvoice(ctx context.Context, session provider.Session, orderID string) (provider.RemoteDocument, error) {
	if f.createInvoice != nil {
		return f.createInvoice(ctx, session, orderID)
	}
	return provider.RemoteDocument{ID: "INV-2001", URL: "https://provider.test/invoices/INV-2001"}, nil
}

var _ provider.Client = (*fakeClient)(nil)

// syncTestEnv wires the sync stack over sqlite with a fake provider
type syncTestEnv struct {
	db         *gorm.DB
	client     *fakeClient
	keeper     *lock.InMemoryKeeper
	contracts  repository.ContractRepository
	syncLogs   repository.SyncLogRepository
	settings   repository.SettingsRepository
	mappings   repository.MappingRepository
	catalogs   repository.CatalogRepository
	connection ConnectionService
	sync       SyncService
}

func newSyncTestEnv(t *testing.T) *syncTestEnv {
	t.Helper()

	db := setupTestDB(t)
	client := &fakeClient{}
	keeper := lock.NewInMemoryKeeper(time.Minute)
	t.Cleanup(func() { _ = keeper.Close() })

	env := &syncTestEnv{
		db:        db,
		client:    client,
		keeper:    keeper,
		contracts: repository.NewContractRepository(db),
		syncLogs:  repository.NewSyncLogRepository(db),
		settings:  repository.NewSettingsRepository(db),
		mappings:  repository.NewMappingRepository(db),
		catalogs:  repository.NewCatalogRepository(db),
	}
	env.connection = NewConnectionService(env.settings, client)
	env.sync = NewSyncService(
		env.contracts, env.syncLogs, env.mappings, env.connection,
		client, keeper, repository.NewTransactionManager(db), nil, nil, 5*time.Second,
	)
	return env
}

func (e *syncTestEnv) connect(t *testing.T) {
	t.Helper()
	connectSettings(t, e.settings)
}

// mappingTestEnv wires the mapping store over sqlite with a fake provider
type mappingTestEnv struct {
	db       *gorm.DB
	client   *fakeClient
	settings repository.SettingsRepository
	service  MappingService
}

func newMappingTestEnv(t *testing.T, db *gorm.DB) *mappingTestEnv {
	t.Helper()
	client := &fakeClient{}
	settings := repository.NewSettingsRepository(db)
	connection := NewConnectionService(settings, client)
	service := NewMappingService(
		repository.NewMappingRepository(db),
		repository.NewCatalogRepository(db),
		connection, client, nil,
	)
	return &mappingTestEnv{db: db, client: client, settings: settings, service: service}
}

func (e *mappingTestEnv) connect(t *testing.T) {
	t.Helper()
	connectSettings(t, e.settings)
}

func connectSettings(t *testing.T, repo repository.SettingsRepository) {
	t.Helper()
	settings, err := repo.Get(context.Background())
	require.NoError(t, err)
	settings.IsConnected = true
	settings.AccessToken = "test-access-token"
	require.NoError(t, repo.Save(context.Background(), settings))
}

func (e *syncTestEnv) seedCompleteMappings(t *testing.T) {
	t.Helper()
	var vat []model.VatMapping
	var accounts []model.AccountMapping
	for _, category := range model.AllCategories() {
		vat = append(vat, model.VatMapping{Category: category, RemoteVatCode: "3", VatRate: decimal.NewFromInt(25)})
		accounts = append(accounts, model.AccountMapping{Category: category, IncomeAccount: "3000"})
	}
	require.NoError(t, e.mappings.ReplaceAll(context.Background(), vat, accounts))
}

func (e *syncTestEnv) seedContract(t *testing.T) *model.Contract {
	t.Helper()
	contract := &model.Contract{
		ContractNo:       "CTR-20260831-" + uuid.NewString()[:5],
		CustomerName:     "Kari Nordmann",
		CustomerOrg:      "01019012345",
		VehicleVIN:       "WVWZZZ1KZAW123456",
		VehicleDesc:      "VW Golf 1.5 eTSI",
		SalePrice:        decimal.NewFromInt(250000),
		AccountingStatus: model.AccountingDraft,
		Items: []model.ContractItem{
			{Category: model.CategoryAddon, Description: "Tow hitch", Quantity: 1, UnitPrice: decimal.NewFromInt(8000)},
		},
	}
	require.NoError(t, e.contracts.Create(context.Background(), contract))
	return contract
}

func (e *syncTestEnv) countSyncLogs(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&model.SyncLog{}).Count(&count).Error)
	return count
}

func (e *syncTestEnv) lastSyncLog(t *testing.T) model.SyncLog {
	t.Helper()
	var entry model.SyncLog
	require.NoError(t, e.db.Order("created_at desc").First(&entry).Error)
	return entry
}

func (e *syncTestEnv) reloadContract(t *testing.T, id uuid.UUID) *model.Contract {
	t.Helper()
	contract, err := e.contracts.FindByIDWithItems(context.Background(), id)
	require.NoError(t, err)
	return contract
}
