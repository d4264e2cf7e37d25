package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"market-escrow-go/internal/models"
	"market-escrow-go/internal/store"

	"github.com/shopspring/decimal"
)

func setupTestDb(t *testing.T) *Service {
	t.Helper()

	service, err := NewService(context.Background(), models.DatabaseConfig{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
		PingTimeout:     5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	t.Cleanup(service.Close)
	return service
}

func TestCredit(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	entry, err := service.Credit(ctx, store.EntryParams{
		UserId:       "user1",
		Currency:     "BTC",
		EntryType:    models.EntryDeposit,
		Amount:       decimal.RequireFromString("1.5"),
		ExternalTxId: "tx1",
	})
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	if !entry.BalanceBefore.Equal(decimal.Zero) {
		t.Errorf("Expected balance_before 0, got %s", entry.BalanceBefore.String())
	}
	if !entry.BalanceAfter.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("Expected balance_after 1.5, got %s", entry.BalanceAfter.String())
	}

	balance, err := service.GetBalance(ctx, "user1", "BTC")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("Expected balance 1.5, got %s", balance.String())
	}
}

func TestDebit_InsufficientFunds(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	_, err := service.Credit(ctx, store.EntryParams{
		UserId:    "user1",
		Currency:  "BTC",
		EntryType: models.EntryDeposit,
		Amount:    decimal.RequireFromString("0.5"),
	})
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	_, err = service.Debit(ctx, store.EntryParams{
		UserId:    "user1",
		Currency:  "BTC",
		EntryType: models.EntryWithdrawal,
		Amount:    decimal.RequireFromString("0.6"),
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got: %v", err)
	}

	// Balance must be untouched by the failed debit.
	balance, err := service.GetBalance(ctx, "user1", "BTC")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("Expected balance 0.5 after failed debit, got %s", balance.String())
	}
}

func TestDebit_ExactBalance(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	_, err := service.Credit(ctx, store.EntryParams{
		UserId:    "user1",
		Currency:  "BTC",
		EntryType: models.EntryDeposit,
		Amount:    decimal.RequireFromString("0.5"),
	})
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	entry, err := service.Debit(ctx, store.EntryParams{
		UserId:    "user1",
		Currency:  "BTC",
		EntryType: models.EntryWithdrawal,
		Amount:    decimal.RequireFromString("0.5"),
	})
	if err != nil {
		t.Fatalf("Debit to zero failed: %v", err)
	}
	if !entry.BalanceAfter.Equal(decimal.Zero) {
		t.Errorf("Expected balance_after 0, got %s", entry.BalanceAfter.String())
	}
}

func TestCredit_DuplicateExternalTxId(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	params := store.EntryParams{
		UserId:       "user1",
		Currency:     "BTC",
		EntryType:    models.EntryDeposit,
		Amount:       decimal.RequireFromString("1"),
		ExternalTxId: "chain-tx-1",
	}

	if _, err := service.Credit(ctx, params); err != nil {
		t.Fatalf("First credit failed: %v", err)
	}

	_, err := service.Credit(ctx, params)
	if !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Fatalf("Expected ErrDuplicateTransaction, got: %v", err)
	}

	// The duplicate must not have moved any funds.
	balance, err := service.GetBalance(ctx, "user1", "BTC")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("1")) {
		t.Errorf("Expected balance 1, got %s", balance.String())
	}
}

func TestCredit_RejectsNonPositiveAmount(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	for _, amount := range []string{"0", "-1"} {
		_, err := service.Credit(ctx, store.EntryParams{
			UserId:    "user1",
			Currency:  "BTC",
			EntryType: models.EntryDeposit,
			Amount:    decimal.RequireFromString(amount),
		})
		if err == nil {
			t.Errorf("Expected error crediting amount %s, got nil", amount)
		}
	}
}

func TestDepositedTotal_OnlyGrowsOnDeposits(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	_, err := service.Credit(ctx, store.EntryParams{
		UserId:    "user1",
		Currency:  "BTC",
		EntryType: models.EntryDeposit,
		Amount:    decimal.RequireFromString("2"),
	})
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	// An escrow refund credit must not bump the lifetime deposited total.
	_, err = service.Credit(ctx, store.EntryParams{
		UserId:    "user1",
		Currency:  "BTC",
		EntryType: models.EntryEscrowRefund,
		Amount:    decimal.RequireFromString("1"),
	})
	if err != nil {
		t.Fatalf("Refund credit failed: %v", err)
	}

	accounts, err := service.GetAllBalances(ctx, "user1")
	if err != nil {
		t.Fatalf("GetAllBalances failed: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("Expected 1 account, got %d", len(accounts))
	}
	if !accounts[0].DepositedTotal.Equal(decimal.RequireFromString("2")) {
		t.Errorf("Expected deposited_total 2, got %s", accounts[0].DepositedTotal.String())
	}
	if !accounts[0].Balance.Equal(decimal.RequireFromString("3")) {
		t.Errorf("Expected balance 3, got %s", accounts[0].Balance.String())
	}
}

func TestReconcileBalance(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	_, err := service.Credit(ctx, store.EntryParams{
		UserId:    "user1",
		Currency:  "BTC",
		EntryType: models.EntryDeposit,
		Amount:    decimal.RequireFromString("1.25"),
	})
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	_, err = service.Debit(ctx, store.EntryParams{
		UserId:    "user1",
		Currency:  "BTC",
		EntryType: models.EntryWithdrawal,
		Amount:    decimal.RequireFromString("0.25"),
	})
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}

	if err := service.ReconcileBalance(ctx, "user1", "BTC"); err != nil {
		t.Errorf("ReconcileBalance reported mismatch: %v", err)
	}
}

func TestGetLedgerHistory(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := service.Credit(ctx, store.EntryParams{
			UserId:    "user1",
			Currency:  "BTC",
			EntryType: models.EntryDeposit,
			Amount:    decimal.RequireFromString("1"),
		})
		if err != nil {
			t.Fatalf("Credit %d failed: %v", i, err)
		}
	}

	entries, err := service.GetLedgerHistory(ctx, "user1", "BTC", 10, 0)
	if err != nil {
		t.Fatalf("GetLedgerHistory failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
}

func TestHasLedgerEntryForTx(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	found, err := service.HasLedgerEntryForTx(ctx, "unknown")
	if err != nil {
		t.Fatalf("HasLedgerEntryForTx failed: %v", err)
	}
	if found {
		t.Error("Expected unknown tx to be absent")
	}

	_, err = service.Credit(ctx, store.EntryParams{
		UserId:       "user1",
		Currency:     "BTC",
		EntryType:    models.EntryDeposit,
		Amount:       decimal.RequireFromString("1"),
		ExternalTxId: "tx-known",
	})
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	found, err = service.HasLedgerEntryForTx(ctx, "tx-known")
	if err != nil {
		t.Fatalf("HasLedgerEntryForTx failed: %v", err)
	}
	if !found {
		t.Error("Expected known tx to be present")
	}
}
