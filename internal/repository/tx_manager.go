package repository

import (
	"context"

	"gorm.io/gorm"
)

// txKeyType keys the open transaction in a context. Repositories pick the
// transaction up through GetDB, which is how a contract update and its
// ledger row commit as one unit without the repos knowing about
// transactions.
type txKeyType struct{}

var txKey txKeyType

// TransactionManager runs a function with a database transaction bound to
// its context.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

type transactionManager struct {
	db *gorm.DB
}

func NewTransactionManager(db *gorm.DB) TransactionManager {
	return &transactionManager{db: db}
}

// RunInTx opens a transaction and injects it into the context passed to fn.
// A context already carrying a transaction joins it instead of nesting, so
// composed service operations share a single commit.
func (t *transactionManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if _, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return fn(ctx)
	}
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey, tx))
	})
}

// GetDB returns the transaction bound to ctx, or rootDB outside of one.
func GetDB(ctx context.Context, rootDB *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return rootDB.WithContext(ctx)
}
