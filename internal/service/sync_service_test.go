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

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gateKeeper wraps a real keeper and runs a hook once, right before the
// marker is taken. It recreates the window where a rival call on the same
// contract finishes and releases the marker while this caller is between
// its entry checks and its own acquisition.
type gateKeeper struct {
	inner     lock.Keeper
	onAcquire func()
}

func (k *gateKeeper) Acquire(key string) bool {
	if k.onAcquire != nil {
		hook := k.onAcquire
		k.onAcquire = nil
		hook()
	}
	return k.inner.Acquire(key)
}

func (k *gateKeeper) Release(key string) { k.inner.Release(key) }

func TestSendOrderHappyPath(t *testing.T) {
	env := newSyncTestEnv(t)
	env.connect(t)
	env.seedCompleteMappings(t)
	contract := env.seedContract(t)
	ctx := context.Background()

	var sentPayload provider.OrderPayload
	env.client.createOrder = func(ctx context.Context, session provider.Session, payload provider.OrderPayload) (provider.RemoteDocument, error) {
		sentPayload = payload
		return provider.RemoteDocument{ID: "PO-1001", URL: "https://provider.test/orders/PO-1001"}, nil
	}

	result, err := env.sync.SendOrder(ctx, contract.ID.String())
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusSuccess, result.Status)
	assert.Equal(t, "PO-1001", result.RemoteID)

	// Payload carries the vehicle line plus the addon item with mapped codes
	require.Len(t, sentPayload.Lines, 2)
	assert.Equal(t, "VW Golf 1.5 eTSI", sentPayload.Lines[0].Description)
	assert.True(t, sentPayload.Lines[0].UnitPrice.Equal(decimal.NewFromInt(250000)))
	assert.Equal(t, "Tow hitch", sentPayload.Lines[1].Description)
	assert.Equal(t, "3", sentPayload.Lines[1].VatCode)
	assert.Equal(t, "3000", sentPayload.Lines[1].IncomeAccount)

	updated := env.reloadContract(t, contract.ID)
	assert.Equal(t, model.AccountingOrderSent, updated.AccountingStatus)
	assert.Equal(t, "PO-1001", updated.AccountingOrderID)
	assert.NotNil(t, updated.AccountingLastSyncAt)

	require.EqualValues(t, 1, env.countSyncLogs(t))
	entry := env.lastSyncLog(t)
	assert.Equal(t, model.SyncStatusSuccess, entry.Status)
	assert.Equal(t, model.SyncActionCreateOrder, entry.Action)
	assert.Equal(t, contract.ID.String(), entry.LocalID)
	assert.Equal(t, "PO-1001", entry.RemoteID)

	settings, err := env.settings.Get(ctx)
	require.NoError(t, err)
	assert.NotNil(t, settings.LastSyncedAt)
}

func TestSendOrderPayloadIncludesDiscountAndTradeIn(t *testing.T) {
	env := newSyncTestEnv(t)
	env.connect(t)
	env.seedCompleteMappings(t)
	ctx := context.Background()

	contract := env.seedContract(t)
	contract.Discount = decimal.NewFromInt(5000)
	contract.TradeInPrice = decimal.NewFromInt(80000)
	require.NoError(t, env.db.Save(contract).Error)

	var sentPayload provider.OrderPayload
	env.client.createOrder = func(ctx context.Context, session provider.Session, payload provider.OrderPayload) (provider.RemoteDocument, error) {
		sentPayload = payload
		return provider.RemoteDocument{ID: "PO-1002"}, nil
	}

	_, err := env.sync.SendOrder(ctx, contract.ID.String())
	require.NoError(t, err)

	// vehicle, addon, discount, trade-in
	require.Len(t, sentPayload.Lines, 4)
	assert.True(t, sentPayload.Lines[2].UnitPrice.Equal(decimal.NewFromInt(-5000)), "discount is a negative line")
	assert.True(t, sentPayload.Lines[3].UnitPrice.Equal(decimal.NewFromInt(-80000)), "trade-in is a negative line")
}

func TestSendOrderRejectedWhenNotConnected(t *testing.T) {
	env := newSyncTestEnv(t)
	env.seedCompleteMappings(t)
	contract := env.seedContract(t)

	_, err := env.sync.SendOrder(context.Background(), contract.ID.String())
	require.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, IsConfigError(err))

	// Configuration rejections never reach the ledger
	assert.EqualValues(t, 0, env.countSyncLogs(t))
}

func TestSendOrderRejectedWhenMappingsIncomplete(t *testing.T) {
	env := newSyncTestEnv(t)
	env.connect(t)
	ctx := context.Background()

	// Everything mapped except fee
	var vat []model.VatMapping
	var accounts []model.AccountMapping
	for _, category := range model.AllCategories() {
		if category == model.CategoryFee {
			continue
		}
		vat = append(vat, model.VatMapping{Category: category, RemoteVatCode: "3"})
		accounts = append(accounts, model.AccountMapping{Category: category, IncomeAccount: "3000"})
	}
	require.NoError(t, env.mappings.ReplaceAll(ctx, vat, accounts))

	contract := env.seedContract(t)
	_, err := env.sync.SendOrder(ctx, contract.ID.String())

	var mappingErr *MappingIncompleteError
	require.ErrorAs(t, err, &mappingErr)
	assert.Equal(t, []model.Category{model.CategoryFee}, mappingErr.Missing)
	assert.True(t, IsConfigError(err))
	assert.EqualValues(t, 0, env.countSyncLogs(t))

	updated := env.reloadContract(t, contract.ID)
	assert.Equal(t, model.AccountingDraft, updated.AccountingStatus)
}

func TestSendOrderRejectedWhenAlreadySent(t *testing.T) {
	env := newSyncTestEnv(t)
	env.connect(t)
	env.seedCompleteMappings(t)
	contract := env.seedContract(t)
	ctx := context.Background()

	_, err := env.sync.SendOrder(ctx, contract.ID.String())
	require.NoError(t, err)

	_, err = env.sync.SendOrder(ctx, contract.ID.String())
	require.ErrorIs(t, err, ErrOrderAlreadySent)
	assert.EqualValues(t, 1, env.countSyncLogs(t), "the rejection writes no second row")
}

func TestSendOrderRejectedWhileInFlight(t *testing.T) {
	env := newSyncTestEnv(t)
	env.connect(t)
	env.seedCompleteMappings(t)
	contract := env.seedContract(t)

	require.True(t, env.keeper.Acquire(contract.ID.String()))
	defer env.keeper.Release(contract.ID.String())

	_, err := env.sync.SendOrder(context.Background(), contract.ID.String())
	require.ErrorIs(t, err, ErrSyncInFlight)
	assert.EqualValues(t, 0, env.countSyncLogs(t))
}

func TestSendOrderRivalCompletionSeenUnderMarker(t *testing.T) {
	env := newSyncTestEnv(t)
	env.connect(t)
	env.seedCompleteMappings(t)
	contract := env.seedContract(t)
	ctx := context.Background()

	orderCalls := 0
	env.client.createOrder = func(ctx context.Context, session provider.Session, payload provider.OrderPayload) (provider.RemoteDocument, error) {
		orderCalls++
		return provider.RemoteDocument{ID: fmt.Sprintf("PO-%d", orderCalls)}, nil
	}

	// The slow caller pauses at the marker boundary while a rival call runs
	// the same contract through to success and releases the marker.
	keeper := &gateKeeper{inner: env.keeper}
	slow := NewSyncService(
		env.contracts, env.syncLogs, env.mappings, env.connection,
		env.client, keeper, repository.NewTransactionManager(env.db), nil, nil, 5*time.Second,
	)
	keeper.onAcquire = func() {
		_, err := env.sync.SendOrder(ctx, contract.ID.String())
		require.NoError(t, err)
	}

	_, err := slow.SendOrder(ctx, contract.ID.String())
	require.ErrorIs(t, err, ErrOrderAlreadySent)

	assert.Equal(t, 1, orderCalls, "only one order reaches the provider")
	updated := env.reloadContract(t, contract.ID)
	assert.Equal(t, "PO-1", updated.AccountingOrderID, "the rival's order id survives")
	assert.EqualValues(t, 1, env.countSyncLogs(t), "exactly one success row")
}

func TestInvoiceContractRivalCompletionSeenUnderMarker(t *testing.T) {
	env := newSyncTestEnv(t)
	env.connect(t)
	env.seedCompleteMappings(t)
	contract := env.seedContract(t)
	ctx := context.Background()

	_, err := env.sync.SendOrder(ctx, contract.ID.String())
	require.NoError(t, err)

	invoiceCalls := 0
	env.client.createInvoice = func(ctx context.Context, session provider.Session, orderID string) (provider.RemoteDocument, error) {
		invoiceCalls++
		return provider.RemoteDocument{ID: fmt.Sprintf("INV-%d", invoiceCalls)}, nil
	}

	keeper := &gateKeeper{inner: env.keeper}
	slow := NewSyncService(
		env.contracts, env.syncLogs, env.mappings, env.connection,
		env.client, keeper, repository.NewTransactionManager(env.db), nil, nil, 5*time.Second,
	)
	keeper.onAcquire = func() {
		_, err := env.sync.InvoiceContract(ctx, contract.ID.String())
		require.NoError(t, err)
	}

	_, err = slow.InvoiceContract(ctx, contract.ID.String())
	require.ErrorIs(t, err, ErrInvoiceAlreadySent)

	assert.Equal(t, 1, invoiceCalls, "only one invoice reaches the provider")
	updated := env.reloadContract(t, contract.ID)
	assert.Equal(t, "INV-1", updated.AccountingInvoiceID, "the rival's invoice id survives")
	assert.EqualValues(t, 2, env.countSyncLogs(t), "one order row plus one invoice row")
}

func TestSendOrderTimeoutReleasesMarker(t *testing.T) {
	env := newSyncTestEnv(t)
	env.connect(t)
	env.seedCompleteMappings(t)
	contract := env.seedContract(t)
	ctx := context.Background()

	env.client.createOrder = func(ctx context.Context, session provider.Session, payload provider.OrderPayload) (provider.RemoteDocument, error) {
		return provider.RemoteDocument{}, context.DeadlineExceeded
	}

	_, err := env.sync.SendOrder(ctx, contract.ID.String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out after 5s")

	entry := env.lastSyncLog(t)
	assert.Equal(t, model.SyncStatusFailed, entry.Status)
	assert.Contains(t, entry.Message, "timed out after 5s")

	// The contract is untouched so a retry sees the same preconditions
	updated := env.reloadContract(t, contract.ID)
	assert.Equal(t, model.AccountingDraft, updated.AccountingStatus)
	assert.Empty(t, updated.AccountingOrderID)

	// The marker was released: a second attempt reaches the provider again
	env.client.createOrder = nil
	result, err := env.sync.SendOrder(ctx, contract.ID.String())
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusSuccess, result.Status)
	assert.EqualValues(t, 2, env.countSyncLogs(t))
}

func TestSendOrderAuthFailureDisconnects(t *testing.T) {
	env := newSyncTestEnv(t)
	env.connect(t)
	env.seedCompleteMappings(t)
	contract := env.seedContract(t)
	ctx := context.Background()

	env.client.createOrder = func(ctx context.Context, session provider.Session, payload provider.OrderPayload) (provider.RemoteDocument, error) {
		return provider.RemoteDocument{}, &provider.Error{Kind: provider.KindAuth, Message: "access token expired"}
	}

	_, err := env.sync.SendOrder(ctx, contract.ID.String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconnect required")

	entry := env.lastSyncLog(t)
	assert.Equal(t, model.SyncStatusWarning, entry.Status)
	assert.Equal(t, model.WarningReauthRequired, entry.WarningKind)

	// Self-healing: the connection is now disconnected
	_, err = env.connection.Session(ctx)
	require.ErrorIs(t, err, ErrNotConnected)

	updated := env.reloadContract(t, contract.ID)
	assert.Equal(t, model.AccountingDraft, updated.AccountingStatus)
}

func TestSendOrderValidationFailureKeepsMessage(t *testing.T) {
	env := newSyncTestEnv(t)
	env.connect(t)
	env.seedCompleteMappings(t)
	contract := env.seedContract(t)

	env.client.createOrder = func(ctx context.Context, session provider.Session, payload provider.OrderPayload) (provider.RemoteDocument, error) {
		return provider.RemoteDocument{}, &provider.Error{Kind: provider.KindValidation, Message: "customer org number is not valid"}
	}

	_, err := env.sync.SendOrder(context.Background(), contract.ID.String())
	require.Error(t, err)

	entry := env.lastSyncLog(t)
	assert.Equal(t, model.SyncStatusFailed, entry.Status)
	assert.Equal(t, "customer org number is not valid", entry.Message)
}

func TestSendOrderConflictReconcilesRemoteID(t *testing.T) {
	env := newSyncTestEnv(t)
	env.connect(t)
	env.seedCompleteMappings(t)
	contract := env.seedContract(t)
	ctx := context.Background()

	env.client.createOrder = func(ctx context.Context, session provider.Session, payload provider.OrderPayload) (provider.RemoteDocument, error) {
		return provider.RemoteDocument{}, &provider.Error{
			Kind:       provider.KindConflict,
			Message:    "order with this reference already exists",
			ExistingID: "PO-9999",
		}
	}

	result, err := env.sync.SendOrder(ctx, contract.ID.String())
	require.NoError(t, err, "a reconciled duplicate is not a failure")
	assert.Equal(t, model.SyncStatusWarning, result.Status)
	assert.Equal(t, "PO-9999", result.RemoteID)

	updated := env.reloadContract(t, contract.ID)
	assert.Equal(t, model.AccountingOrderSent, updated.AccountingStatus)
	assert.Equal(t, "PO-9999", updated.AccountingOrderID)

	entry := env.lastSyncLog(t)
	assert.Equal(t, model.SyncStatusWarning, entry.Status)
	assert.Equal(t, model.WarningDuplicateReconciled, entry.WarningKind)
	assert.Equal(t, "PO-9999", entry.RemoteID)
}

func TestInvoiceContract(t *testing.T) {
	env := newSyncTestEnv(t)
	env.connect(t)
	env.seedCompleteMappings(t)
	contract := env.seedContract(t)
	ctx := context.Background()

	t.Run("rejected before any order exists", func(t *testing.T) {
		_, err := env.sync.InvoiceContract(ctx, contract.ID.String())
		require.ErrorIs(t, err, ErrNoOrderYet)
	})

	_, err := env.sync.SendOrder(ctx, contract.ID.String())
	require.NoError(t, err)

	t.Run("invoices the order", func(t *testing.T) {
		var invoicedOrderID string
		env.client.createInvoice = func(ctx context.Context, session provider.Session, orderID string) (provider.RemoteDocument, error) {
			invoicedOrderID = orderID
			return provider.RemoteDocument{ID: "INV-2001", URL: "https://provider.test/invoices/INV-2001"}, nil
		}

		result, err := env.sync.InvoiceContract(ctx, contract.ID.String())
		require.NoError(t, err)
		assert.Equal(t, model.SyncStatusSuccess, result.Status)
		assert.Equal(t, "PO-1001", invoicedOrderID)

		updated := env.reloadContract(t, contract.ID)
		assert.Equal(t, model.AccountingInvoiced, updated.AccountingStatus)
		assert.Equal(t, "INV-2001", updated.AccountingInvoiceID)
	})

	t.Run("rejected once invoiced", func(t *testing.T) {
		_, err := env.sync.InvoiceContract(ctx, contract.ID.String())
		require.ErrorIs(t, err, ErrInvoiceAlreadySent)
	})
}

func TestApplyPaymentUpdate(t *testing.T) {
	ctx := context.Background()

	invoiced := func(t *testing.T) (*syncTestEnv, *model.Contract) {
		env := newSyncTestEnv(t)
		env.connect(t)
		env.seedCompleteMappings(t)
		contract := env.seedContract(t)
		_, err := env.sync.SendOrder(ctx, contract.ID.String())
		require.NoError(t, err)
		_, err = env.sync.InvoiceContract(ctx, contract.ID.String())
		require.NoError(t, err)
		return env, contract
	}

	t.Run("partial payment", func(t *testing.T) {
		env, contract := invoiced(t)
		_, err := env.sync.ApplyPaymentUpdate(ctx, contract.ID.String(), PaymentUpdateRequest{PaidAmount: "100000"})
		require.NoError(t, err)

		updated := env.reloadContract(t, contract.ID)
		assert.Equal(t, model.AccountingPartiallyPaid, updated.AccountingStatus)
		assert.True(t, updated.AccountingPaidAmount.Equal(decimal.NewFromInt(100000)))
	})

	t.Run("full payment", func(t *testing.T) {
		env, contract := invoiced(t)
		// Total is 258000: 250000 vehicle + 8000 addon
		_, err := env.sync.ApplyPaymentUpdate(ctx, contract.ID.String(), PaymentUpdateRequest{PaidAmount: "258000"})
		require.NoError(t, err)

		updated := env.reloadContract(t, contract.ID)
		assert.Equal(t, model.AccountingPaid, updated.AccountingStatus)
		assert.True(t, updated.AccountingStatus.IsTerminal())
	})

	t.Run("past due date goes overdue", func(t *testing.T) {
		env, contract := invoiced(t)
		due := time.Now().Add(-48 * time.Hour)
		_, err := env.sync.ApplyPaymentUpdate(ctx, contract.ID.String(), PaymentUpdateRequest{PaidAmount: "0", DueDate: &due})
		require.NoError(t, err)

		updated := env.reloadContract(t, contract.ID)
		assert.Equal(t, model.AccountingOverdue, updated.AccountingStatus)
	})

	t.Run("delivery confirmation marks sent", func(t *testing.T) {
		env, contract := invoiced(t)
		_, err := env.sync.ApplyPaymentUpdate(ctx, contract.ID.String(), PaymentUpdateRequest{PaidAmount: "0", RemoteStatus: "sent"})
		require.NoError(t, err)

		updated := env.reloadContract(t, contract.ID)
		assert.Equal(t, model.AccountingSent, updated.AccountingStatus)
	})

	t.Run("rejected before invoicing", func(t *testing.T) {
		env := newSyncTestEnv(t)
		env.connect(t)
		env.seedCompleteMappings(t)
		contract := env.seedContract(t)

		_, err := env.sync.ApplyPaymentUpdate(ctx, contract.ID.String(), PaymentUpdateRequest{PaidAmount: "1000"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "post-invoice")
	})

	t.Run("rejected on terminal status", func(t *testing.T) {
		env, contract := invoiced(t)
		_, err := env.sync.ApplyPaymentUpdate(ctx, contract.ID.String(), PaymentUpdateRequest{PaidAmount: "258000"})
		require.NoError(t, err)

		_, err = env.sync.ApplyPaymentUpdate(ctx, contract.ID.String(), PaymentUpdateRequest{PaidAmount: "258000"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "terminal")
	})
}

func TestCancelAccounting(t *testing.T) {
	env := newSyncTestEnv(t)
	env.connect(t)
	env.seedCompleteMappings(t)
	ctx := context.Background()

	t.Run("cancels a draft contract", func(t *testing.T) {
		contract := env.seedContract(t)
		result, err := env.sync.CancelAccounting(ctx, contract.ID.String())
		require.NoError(t, err)
		assert.Equal(t, model.SyncStatusSuccess, result.Status)

		updated := env.reloadContract(t, contract.ID)
		assert.Equal(t, model.AccountingCancelled, updated.AccountingStatus)

		entry := env.lastSyncLog(t)
		assert.Equal(t, model.SyncActionCancel, entry.Action)
	})

	t.Run("rejected on a cancelled contract", func(t *testing.T) {
		contract := env.seedContract(t)
		_, err := env.sync.CancelAccounting(ctx, contract.ID.String())
		require.NoError(t, err)

		_, err = env.sync.CancelAccounting(ctx, contract.ID.String())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "terminal")
	})
}
