package database

import (
	"testing"

	"binary-options-sim/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDatabase_MigratesSchema(t *testing.T) {
	// Act
	db, err := NewDatabase("file::memory:")

	// Assert
	require.NoError(t, err)

	for _, model := range []any{&models.Trade{}, &models.Balance{}, &models.LedgerEntry{}, &models.UserTradingMode{}} {
		assert.True(t, db.Migrator().HasTable(model))
	}
}

func TestAutoMigrate_KeepsRows(t *testing.T) {
	// Arrange
	db, err := NewDatabase("file::memory:")
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.UserTradingMode{UserID: "u1", Mode: models.ModeForcedWin}).Error)

	// Act
	require.NoError(t, AutoMigrate(db))

	// Assert
	var count int64
	require.NoError(t, db.Model(&models.UserTradingMode{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
