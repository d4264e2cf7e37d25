package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"market-escrow-go/internal/models"
	"market-escrow-go/internal/store"

	"github.com/shopspring/decimal"
)

func fundUser(t *testing.T, service *Service, userId, currency, amount string) {
	t.Helper()
	_, err := service.Credit(context.Background(), store.EntryParams{
		UserId:    userId,
		Currency:  currency,
		EntryType: models.EntryDeposit,
		Amount:    decimal.RequireFromString(amount),
	})
	if err != nil {
		t.Fatalf("Failed to fund %s: %v", userId, err)
	}
}

func testHolding(buyer, seller string) *models.EscrowHolding {
	return &models.EscrowHolding{
		BuyerId:       buyer,
		SellerId:      seller,
		Currency:      "BTC",
		AmountCrypto:  decimal.RequireFromString("0.01"),
		AmountFiat:    decimal.RequireFromString("600"),
		FeeCrypto:     decimal.RequireFromString("0.0005"),
		FeeFiat:       decimal.RequireFromString("30"),
		SellerCrypto:  decimal.RequireFromString("0.0095"),
		SellerFiat:    decimal.RequireFromString("570"),
		AutoReleaseAt: time.Now().Add(time.Hour),
	}
}

func TestCreateOrderWithHoldings_DebitsBuyer(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	fundUser(t, service, "buyer", "BTC", "0.02")

	order := &models.Order{BuyerId: "buyer", SellerId: "seller", GoodsType: models.GoodsPhysical}
	if err := service.CreateOrderWithHoldings(ctx, order, []*models.EscrowHolding{testHolding("buyer", "seller")}); err != nil {
		t.Fatalf("CreateOrderWithHoldings failed: %v", err)
	}

	balance, err := service.GetBalance(ctx, "buyer", "BTC")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("Expected buyer balance 0.01 after escrow, got %s", balance.String())
	}

	holdings, err := service.GetHoldingsByOrder(ctx, order.Id)
	if err != nil {
		t.Fatalf("GetHoldingsByOrder failed: %v", err)
	}
	if len(holdings) != 1 {
		t.Fatalf("Expected 1 holding, got %d", len(holdings))
	}
	if holdings[0].Status != models.HoldingHeld {
		t.Errorf("Expected held status, got %s", holdings[0].Status)
	}
}

func TestCreateOrderWithHoldings_RollsBackOnInsufficientFunds(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	fundUser(t, service, "buyer", "BTC", "0.005")

	order := &models.Order{BuyerId: "buyer", SellerId: "seller", GoodsType: models.GoodsPhysical}
	err := service.CreateOrderWithHoldings(ctx, order, []*models.EscrowHolding{testHolding("buyer", "seller")})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got: %v", err)
	}

	// Nothing may survive the rollback: no order, no holding, no debit.
	if _, err := service.GetOrder(ctx, order.Id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected order to be rolled back, got: %v", err)
	}
	balance, err := service.GetBalance(ctx, "buyer", "BTC")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("0.005")) {
		t.Errorf("Expected untouched balance 0.005, got %s", balance.String())
	}
}

func TestSettleHolding_ExactlyOnce(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	fundUser(t, service, "buyer", "BTC", "0.01")
	order := &models.Order{BuyerId: "buyer", SellerId: "seller", GoodsType: models.GoodsDigital}
	holding := testHolding("buyer", "seller")
	if err := service.CreateOrderWithHoldings(ctx, order, []*models.EscrowHolding{holding}); err != nil {
		t.Fatalf("CreateOrderWithHoldings failed: %v", err)
	}

	params := store.SettleHoldingParams{
		HoldingId:  holding.Id,
		FromStatus: []models.HoldingStatus{models.HoldingHeld},
		NewStatus:  models.HoldingReleased,
		ReleasedBy: models.ReleasedByBuyer,
		Credits: []store.EntryParams{
			{UserId: "seller", Currency: "BTC", EntryType: models.EntryEscrowRelease, Amount: holding.SellerCrypto, OrderId: order.Id},
			{UserId: "platform-fees", Currency: "BTC", EntryType: models.EntryPlatformFee, Amount: holding.FeeCrypto, OrderId: order.Id},
		},
	}

	if err := service.SettleHolding(ctx, params); err != nil {
		t.Fatalf("First settlement failed: %v", err)
	}

	// A second settlement attempt must lose the conditional update and move
	// no funds.
	err := service.SettleHolding(ctx, params)
	if !errors.Is(err, store.ErrAlreadySettled) {
		t.Fatalf("Expected ErrAlreadySettled, got: %v", err)
	}

	sellerBalance, _ := service.GetBalance(ctx, "seller", "BTC")
	if !sellerBalance.Equal(decimal.RequireFromString("0.0095")) {
		t.Errorf("Expected seller balance 0.0095, got %s", sellerBalance.String())
	}
	feeBalance, _ := service.GetBalance(ctx, "platform-fees", "BTC")
	if !feeBalance.Equal(decimal.RequireFromString("0.0005")) {
		t.Errorf("Expected fee balance 0.0005, got %s", feeBalance.String())
	}
}

func TestSettleHolding_ConcurrentSettlers(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	fundUser(t, service, "buyer", "BTC", "0.01")
	order := &models.Order{BuyerId: "buyer", SellerId: "seller", GoodsType: models.GoodsDigital}
	holding := testHolding("buyer", "seller")
	if err := service.CreateOrderWithHoldings(ctx, order, []*models.EscrowHolding{holding}); err != nil {
		t.Fatalf("CreateOrderWithHoldings failed: %v", err)
	}

	params := store.SettleHoldingParams{
		HoldingId:  holding.Id,
		FromStatus: []models.HoldingStatus{models.HoldingHeld},
		NewStatus:  models.HoldingReleased,
		ReleasedBy: models.ReleasedBySystem,
		Credits: []store.EntryParams{
			{UserId: "seller", Currency: "BTC", EntryType: models.EntryEscrowRelease, Amount: holding.SellerCrypto, OrderId: order.Id},
			{UserId: "platform-fees", Currency: "BTC", EntryType: models.EntryPlatformFee, Amount: holding.FeeCrypto, OrderId: order.Id},
		},
	}

	// Race several settlers over the same held holding. The conditional
	// status flip lets exactly one through; the rest lose and move nothing.
	const settlers = 8
	results := make([]error, settlers)
	var wg sync.WaitGroup
	for i := 0; i < settlers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = service.SettleHolding(ctx, params)
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, store.ErrAlreadySettled):
		default:
			t.Fatalf("Settler %d failed unexpectedly: %v", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("Expected exactly 1 winning settler, got %d", wins)
	}

	sellerBalance, _ := service.GetBalance(ctx, "seller", "BTC")
	if !sellerBalance.Equal(decimal.RequireFromString("0.0095")) {
		t.Errorf("Expected seller credited once (0.0095), got %s", sellerBalance.String())
	}
	feeBalance, _ := service.GetBalance(ctx, "platform-fees", "BTC")
	if !feeBalance.Equal(decimal.RequireFromString("0.0005")) {
		t.Errorf("Expected fee credited once (0.0005), got %s", feeBalance.String())
	}
}

func TestSettleHolding_Conservation(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	fundUser(t, service, "buyer", "BTC", "0.01")
	order := &models.Order{BuyerId: "buyer", SellerId: "seller", GoodsType: models.GoodsDigital}
	holding := testHolding("buyer", "seller")
	if err := service.CreateOrderWithHoldings(ctx, order, []*models.EscrowHolding{holding}); err != nil {
		t.Fatalf("CreateOrderWithHoldings failed: %v", err)
	}

	err := service.SettleHolding(ctx, store.SettleHoldingParams{
		HoldingId:  holding.Id,
		FromStatus: []models.HoldingStatus{models.HoldingHeld},
		NewStatus:  models.HoldingReleased,
		ReleasedBy: models.ReleasedBySystem,
		Credits: []store.EntryParams{
			{UserId: "seller", Currency: "BTC", EntryType: models.EntryEscrowRelease, Amount: holding.SellerCrypto, OrderId: order.Id},
			{UserId: "platform-fees", Currency: "BTC", EntryType: models.EntryPlatformFee, Amount: holding.FeeCrypto, OrderId: order.Id},
		},
	})
	if err != nil {
		t.Fatalf("Settlement failed: %v", err)
	}

	// Sum of all balances equals the original deposit.
	total := decimal.Zero
	for _, userId := range []string{"buyer", "seller", "platform-fees"} {
		balance, err := service.GetBalance(ctx, userId, "BTC")
		if err != nil {
			t.Fatalf("GetBalance(%s) failed: %v", userId, err)
		}
		total = total.Add(balance)
	}
	if !total.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("Funds not conserved: total %s, want 0.01", total.String())
	}
}

func TestMarkHoldingsDisputed(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	fundUser(t, service, "buyer", "BTC", "0.01")
	order := &models.Order{BuyerId: "buyer", SellerId: "seller", GoodsType: models.GoodsPhysical}
	holding := testHolding("buyer", "seller")
	if err := service.CreateOrderWithHoldings(ctx, order, []*models.EscrowHolding{holding}); err != nil {
		t.Fatalf("CreateOrderWithHoldings failed: %v", err)
	}

	frozen, err := service.MarkHoldingsDisputed(ctx, order.Id)
	if err != nil {
		t.Fatalf("MarkHoldingsDisputed failed: %v", err)
	}
	if frozen != 1 {
		t.Fatalf("Expected 1 frozen holding, got %d", frozen)
	}

	// A frozen holding cannot be settled from held anymore.
	err = service.SettleHolding(ctx, store.SettleHoldingParams{
		HoldingId:  holding.Id,
		FromStatus: []models.HoldingStatus{models.HoldingHeld},
		NewStatus:  models.HoldingReleased,
		ReleasedBy: models.ReleasedBySystem,
	})
	if !errors.Is(err, store.ErrAlreadySettled) {
		t.Fatalf("Expected ErrAlreadySettled for frozen holding, got: %v", err)
	}
}

func TestListAutoReleasable(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	fundUser(t, service, "buyer", "BTC", "0.02")

	due := testHolding("buyer", "seller")
	due.AutoReleaseAt = time.Now().Add(-time.Minute)
	notDue := testHolding("buyer", "seller")
	notDue.AutoReleaseAt = time.Now().Add(time.Hour)

	order := &models.Order{BuyerId: "buyer", SellerId: "seller", GoodsType: models.GoodsDigital}
	if err := service.CreateOrderWithHoldings(ctx, order, []*models.EscrowHolding{due, notDue}); err != nil {
		t.Fatalf("CreateOrderWithHoldings failed: %v", err)
	}

	releasable, err := service.ListAutoReleasable(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ListAutoReleasable failed: %v", err)
	}
	if len(releasable) != 1 {
		t.Fatalf("Expected 1 releasable holding, got %d", len(releasable))
	}
	if releasable[0].Id != due.Id {
		t.Errorf("Expected holding %s, got %s", due.Id, releasable[0].Id)
	}
}
