package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"market-escrow-go/internal/models"
	"market-escrow-go/internal/store"

	"github.com/shopspring/decimal"
)

func testDepositRequest(userId string, fingerprint int) *models.DepositRequest {
	return &models.DepositRequest{
		UserId:        userId,
		Currency:      "BTC",
		RequestedFiat: decimal.RequireFromString("100"),
		CryptoAmount:  decimal.RequireFromString("0.01234567"),
		AmountAtomic:  1234567,
		Fingerprint:   fingerprint,
		LockedRate:    decimal.RequireFromString("60000"),
		SharedAddress: "shared-btc",
		ExpiresAt:     time.Now().Add(time.Hour),
	}
}

func TestCreateDepositRequest_FingerprintCollision(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	if err := service.CreateDepositRequest(ctx, testDepositRequest("user1", 4242)); err != nil {
		t.Fatalf("First request failed: %v", err)
	}

	err := service.CreateDepositRequest(ctx, testDepositRequest("user2", 4242))
	if !errors.Is(err, store.ErrFingerprintCollision) {
		t.Fatalf("Expected ErrFingerprintCollision, got: %v", err)
	}
}

func TestCreateDepositRequest_FingerprintReusableAfterCancel(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	first := testDepositRequest("user1", 4242)
	if err := service.CreateDepositRequest(ctx, first); err != nil {
		t.Fatalf("First request failed: %v", err)
	}
	if err := service.CancelDeposit(ctx, first.Id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	if err := service.CreateDepositRequest(ctx, testDepositRequest("user2", 4242)); err != nil {
		t.Fatalf("Expected fingerprint to be reusable after cancel, got: %v", err)
	}
}

func TestFindPendingByFingerprint_SkipsExpired(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	expired := testDepositRequest("user1", 1111)
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	if err := service.CreateDepositRequest(ctx, expired); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	matches, err := service.FindPendingByFingerprint(ctx, "BTC", 1111, time.Now())
	if err != nil {
		t.Fatalf("FindPendingByFingerprint failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Expected no matches for expired request, got %d", len(matches))
	}
}

func TestSettleDeposit_CreditsOnce(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	req := testDepositRequest("user1", 2222)
	if err := service.CreateDepositRequest(ctx, req); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := service.MarkDepositReceived(ctx, req.Id, "chain-tx", 1); err != nil {
		t.Fatalf("MarkDepositReceived failed: %v", err)
	}
	if err := service.MarkDepositConfirmed(ctx, req.Id, 2); err != nil {
		t.Fatalf("MarkDepositConfirmed failed: %v", err)
	}

	params := store.SettleDepositParams{RequestId: req.Id, TxHash: "chain-tx"}
	if err := service.SettleDeposit(ctx, params); err != nil {
		t.Fatalf("SettleDeposit failed: %v", err)
	}

	// Re-settling must fail and credit nothing.
	err := service.SettleDeposit(ctx, params)
	if !errors.Is(err, store.ErrAlreadySettled) {
		t.Fatalf("Expected ErrAlreadySettled, got: %v", err)
	}

	balance, err := service.GetBalance(ctx, "user1", "BTC")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(req.CryptoAmount) {
		t.Errorf("Expected balance %s, got %s", req.CryptoAmount.String(), balance.String())
	}

	stored, err := service.GetDepositRequest(ctx, req.Id)
	if err != nil {
		t.Fatalf("GetDepositRequest failed: %v", err)
	}
	if stored.Status != models.DepositCompleted {
		t.Errorf("Expected completed status, got %s", stored.Status)
	}

	accounts, err := service.GetAllBalances(ctx, "user1")
	if err != nil {
		t.Fatalf("GetAllBalances failed: %v", err)
	}
	if !accounts[0].DepositedTotal.Equal(req.CryptoAmount) {
		t.Errorf("Expected deposited_total %s, got %s", req.CryptoAmount.String(), accounts[0].DepositedTotal.String())
	}
}

func TestExpireDeposits(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	overdue := testDepositRequest("user1", 3333)
	overdue.ExpiresAt = time.Now().Add(-time.Minute)
	if err := service.CreateDepositRequest(ctx, overdue); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	fresh := testDepositRequest("user2", 4444)
	if err := service.CreateDepositRequest(ctx, fresh); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	expired, err := service.ExpireDeposits(ctx, time.Now())
	if err != nil {
		t.Fatalf("ExpireDeposits failed: %v", err)
	}
	if expired != 1 {
		t.Fatalf("Expected 1 expired request, got %d", expired)
	}

	stored, err := service.GetDepositRequest(ctx, overdue.Id)
	if err != nil {
		t.Fatalf("GetDepositRequest failed: %v", err)
	}
	if stored.Status != models.DepositExpired {
		t.Errorf("Expected expired status, got %s", stored.Status)
	}
}
