package repository

import (
	"fmt"
	"testing"

	"carflow/internal/model"

	"github.com/google/uuid"
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
