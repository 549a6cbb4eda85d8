package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"carflow/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedContract(t *testing.T, repo ContractRepository, no string) *model.Contract {
	t.Helper()
	contract := &model.Contract{
		ContractNo:       no,
		CustomerName:     "Kari Nordmann",
		SalePrice:        decimal.NewFromInt(250000),
		AccountingStatus: model.AccountingDraft,
		Items: []model.ContractItem{
			{Category: model.CategoryAddon, Description: "Tow hitch", Quantity: 1, UnitPrice: decimal.NewFromInt(8000)},
		},
	}
	require.NoError(t, repo.Create(context.Background(), contract))
	return contract
}

func TestContractRepositoryUpdateAccountingFields(t *testing.T) {
	db := setupTestDB(t)
	repo := NewContractRepository(db)
	ctx := context.Background()

	contract := seedContract(t, repo, "CTR-20260831-00001")

	now := time.Now()
	contract.AccountingStatus = model.AccountingOrderSent
	contract.AccountingOrderID = "PO-1"
	contract.AccountingOrderURL = "https://provider.test/orders/PO-1"
	contract.AccountingLastSyncAt = &now

	// Mutate a wizard-owned field in memory; the update must not persist it
	contract.CustomerName = "Someone Else"

	require.NoError(t, repo.UpdateAccountingFields(ctx, contract))

	reloaded, err := repo.FindByIDWithItems(ctx, contract.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AccountingOrderSent, reloaded.AccountingStatus)
	assert.Equal(t, "PO-1", reloaded.AccountingOrderID)
	assert.NotNil(t, reloaded.AccountingLastSyncAt)
	assert.Equal(t, "Kari Nordmann", reloaded.CustomerName, "non-accounting columns stay untouched")
	assert.Len(t, reloaded.Items, 1)
}

func TestContractRepositoryListAndCount(t *testing.T) {
	db := setupTestDB(t)
	repo := NewContractRepository(db)
	ctx := context.Background()

	seedContract(t, repo, "CTR-20260831-00001")
	seedContract(t, repo, "CTR-20260831-00002")
	seedContract(t, repo, "CTR-20260830-00001")

	t.Run("count by prefix", func(t *testing.T) {
		count, err := repo.CountByPrefix(ctx, "CTR-20260831-")
		require.NoError(t, err)
		assert.EqualValues(t, 2, count)
	})

	t.Run("search is case-insensitive", func(t *testing.T) {
		contracts, total, err := repo.List(ctx, ContractListFilter{Search: "ctr-20260830", Page: 1, Limit: 10})
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		assert.Len(t, contracts, 1)
	})

	t.Run("filter by accounting status", func(t *testing.T) {
		_, total, err := repo.List(ctx, ContractListFilter{AccountingStatus: string(model.AccountingDraft), Page: 1, Limit: 10})
		require.NoError(t, err)
		assert.EqualValues(t, 3, total)
	})
}

func TestTransactionManagerRollback(t *testing.T) {
	db := setupTestDB(t)
	txManager := NewTransactionManager(db)
	contracts := NewContractRepository(db)
	syncLogs := NewSyncLogRepository(db)
	ctx := context.Background()

	contract := seedContract(t, contracts, "CTR-20260831-00001")

	contract.AccountingStatus = model.AccountingOrderSent
	contract.AccountingOrderID = "PO-1"

	boom := errors.New("boom")
	err := txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := contracts.UpdateAccountingFields(txCtx, contract); err != nil {
			return err
		}
		if err := syncLogs.Append(txCtx, &model.SyncLog{
			Provider:   model.ProviderPowerOffice,
			EntityType: model.SyncEntityOrder,
			LocalID:    contract.ID.String(),
			Action:     model.SyncActionCreateOrder,
			Status:     model.SyncStatusSuccess,
			Message:    "order created",
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Both writes rolled back together
	reloaded, err := contracts.FindByID(ctx, contract.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AccountingDraft, reloaded.AccountingStatus)
	assert.Empty(t, reloaded.AccountingOrderID)

	_, total, err := syncLogs.List(ctx, SyncLogFilter{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
}

func TestTransactionManagerNestedCallJoins(t *testing.T) {
	db := setupTestDB(t)
	txManager := NewTransactionManager(db)
	contracts := NewContractRepository(db)
	syncLogs := NewSyncLogRepository(db)
	ctx := context.Background()

	contract := seedContract(t, contracts, "CTR-20260831-00001")
	contract.AccountingStatus = model.AccountingOrderSent
	contract.AccountingOrderID = "PO-1"

	boom := errors.New("boom")
	err := txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := contracts.UpdateAccountingFields(txCtx, contract); err != nil {
			return err
		}
		// The inner call must join the outer transaction, not open its own
		return txManager.RunInTx(txCtx, func(innerCtx context.Context) error {
			if err := syncLogs.Append(innerCtx, &model.SyncLog{
				Provider:   model.ProviderPowerOffice,
				EntityType: model.SyncEntityOrder,
				LocalID:    contract.ID.String(),
				Action:     model.SyncActionCreateOrder,
				Status:     model.SyncStatusSuccess,
				Message:    "order created",
			}); err != nil {
				return err
			}
			return boom
		})
	})
	require.ErrorIs(t, err, boom)

	reloaded, err := contracts.FindByID(ctx, contract.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AccountingDraft, reloaded.AccountingStatus, "the outer write rolled back with the inner failure")

	_, total, err := syncLogs.List(ctx, SyncLogFilter{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 0, total, "the inner write rolled back too")
}
