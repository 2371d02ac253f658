// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"email-payment-gateway/internal/config"
	"email-payment-gateway/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB returns a migrated SQLite database private to the test. A single
// connection serialises writers the way row locks would in Postgres.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gateway.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := config.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Base is the reference instant used across tests.
var Base = time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC)

// PendingPayment inserts a pending payment created at createdAt.
func PendingPayment(t testing.TB, db *gorm.DB, txID, amount, account string, createdAt time.Time, ttl time.Duration) *models.Payment {
	t.Helper()

	expires := createdAt.Add(ttl)
	p := &models.Payment{
		ID:            uuid.New(),
		TransactionID: txID,
		Amount:        decimal.RequireFromString(amount),
		PayerName:     "Ada Obi",
		AccountNumber: account,
		AccountName:   "Gateway Collections",
		BankName:      "GTBank",
		Status:        models.PaymentPending,
		Purpose:       models.PurposeWallet,
		ExpiresAt:     &expires,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}
	return p
}

// Whitelist inserts active whitelist patterns.
func Whitelist(t testing.TB, db *gorm.DB, patterns ...string) {
	t.Helper()
	for _, p := range patterns {
		row := &models.WhitelistedEmail{ID: uuid.New(), Pattern: p, Active: true, CreatedAt: Base}
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("create whitelist %q: %v", p, err)
		}
	}
}
