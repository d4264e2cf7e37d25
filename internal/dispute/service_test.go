package dispute

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"market-escrow-go/internal/auth"
	"market-escrow-go/internal/database"
	"market-escrow-go/internal/models"
	"market-escrow-go/internal/store"

	"github.com/shopspring/decimal"
)

var arbiter = auth.Identity{UserId: "arbiter1", Role: auth.RoleArbiter}

func setupService(t *testing.T) (*Service, *database.Service) {
	t.Helper()

	dbService, err := database.NewService(context.Background(), models.DatabaseConfig{
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
	t.Cleanup(dbService.Close)

	return NewService(dbService, nil, "platform-fees"), dbService
}

// openDispute funds the buyer, escrows 0.01 BTC (fee 0.0005, seller share
// 0.0095), freezes the holding and opens a dispute.
func openDispute(t *testing.T, dbService *database.Service) (*models.Dispute, *models.EscrowHolding) {
	t.Helper()
	ctx := context.Background()

	_, err := dbService.Credit(ctx, store.EntryParams{
		UserId:    "buyer",
		Currency:  "BTC",
		EntryType: models.EntryDeposit,
		Amount:    decimal.RequireFromString("0.01"),
	})
	if err != nil {
		t.Fatalf("Failed to fund buyer: %v", err)
	}

	order := &models.Order{BuyerId: "buyer", SellerId: "seller", GoodsType: models.GoodsPhysical}
	holding := &models.EscrowHolding{
		BuyerId:       "buyer",
		SellerId:      "seller",
		Currency:      "BTC",
		AmountCrypto:  decimal.RequireFromString("0.01"),
		AmountFiat:    decimal.RequireFromString("600"),
		FeeCrypto:     decimal.RequireFromString("0.0005"),
		FeeFiat:       decimal.RequireFromString("30"),
		SellerCrypto:  decimal.RequireFromString("0.0095"),
		SellerFiat:    decimal.RequireFromString("570"),
		AutoReleaseAt: time.Now().Add(time.Hour),
	}
	if err := dbService.CreateOrderWithHoldings(ctx, order, []*models.EscrowHolding{holding}); err != nil {
		t.Fatalf("CreateOrderWithHoldings failed: %v", err)
	}
	if _, err := dbService.MarkHoldingsDisputed(ctx, order.Id); err != nil {
		t.Fatalf("MarkHoldingsDisputed failed: %v", err)
	}

	dispute := &models.Dispute{
		OrderId:     order.Id,
		PlaintiffId: "buyer",
		DefendantId: "seller",
		Status:      models.DisputeOpen,
	}
	if err := dbService.CreateDispute(ctx, dispute); err != nil {
		t.Fatalf("CreateDispute failed: %v", err)
	}
	return dispute, holding
}

func balance(t *testing.T, dbService *database.Service, userId string) decimal.Decimal {
	t.Helper()
	b, err := dbService.GetBalance(context.Background(), userId, "BTC")
	if err != nil {
		t.Fatalf("GetBalance(%s) failed: %v", userId, err)
	}
	return b
}

func TestResolve_RequiresArbiter(t *testing.T) {
	service, dbService := setupService(t)
	dispute, _ := openDispute(t, dbService)

	err := service.Resolve(context.Background(), auth.Identity{UserId: "buyer", Role: auth.RoleUser}, ResolveParams{
		DisputeId:  dispute.Id,
		Resolution: models.ResolutionBuyerFavor,
		Note:       "self-serving verdict",
	})
	if !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("Expected ErrUnauthorized for non-arbiter, got: %v", err)
	}
}

func TestResolve_RequiresNote(t *testing.T) {
	service, dbService := setupService(t)
	dispute, _ := openDispute(t, dbService)

	err := service.Resolve(context.Background(), arbiter, ResolveParams{
		DisputeId:  dispute.Id,
		Resolution: models.ResolutionBuyerFavor,
	})
	if err == nil {
		t.Fatal("Expected error for empty note, got nil")
	}

	// Nothing moved and the dispute is still open.
	if got := balance(t, dbService, "buyer"); !got.IsZero() {
		t.Errorf("Expected no movement, buyer balance %s", got.String())
	}
	open, err := dbService.GetDispute(context.Background(), dispute.Id)
	if err != nil {
		t.Fatalf("GetDispute failed: %v", err)
	}
	if open.Status != models.DisputeOpen {
		t.Errorf("Expected dispute to stay open, got %s", open.Status)
	}
}

func TestResolve_BuyerFavor(t *testing.T) {
	service, dbService := setupService(t)
	ctx := context.Background()
	dispute, holding := openDispute(t, dbService)

	err := service.Resolve(ctx, arbiter, ResolveParams{
		DisputeId:  dispute.Id,
		Resolution: models.ResolutionBuyerFavor,
		Note:       "goods never arrived",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Full refund, fee waived.
	if got := balance(t, dbService, "buyer"); !got.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("Expected buyer balance 0.01, got %s", got.String())
	}
	if got := balance(t, dbService, "seller"); !got.IsZero() {
		t.Errorf("Expected seller balance 0, got %s", got.String())
	}
	if got := balance(t, dbService, "platform-fees"); !got.IsZero() {
		t.Errorf("Expected fee balance 0, got %s", got.String())
	}

	settled, err := dbService.GetHolding(ctx, holding.Id)
	if err != nil {
		t.Fatalf("GetHolding failed: %v", err)
	}
	if settled.Status != models.HoldingRefunded {
		t.Errorf("Expected refunded status, got %s", settled.Status)
	}

	closed, err := dbService.GetDispute(ctx, dispute.Id)
	if err != nil {
		t.Fatalf("GetDispute failed: %v", err)
	}
	if closed.Status != models.DisputeResolved {
		t.Errorf("Expected resolved status, got %s", closed.Status)
	}
}

func TestResolve_SellerFavor(t *testing.T) {
	service, dbService := setupService(t)
	dispute, _ := openDispute(t, dbService)

	err := service.Resolve(context.Background(), arbiter, ResolveParams{
		DisputeId:  dispute.Id,
		Resolution: models.ResolutionSellerFavor,
		Note:       "goods delivered as described",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Normal release split: seller share plus platform fee.
	if got := balance(t, dbService, "seller"); !got.Equal(decimal.RequireFromString("0.0095")) {
		t.Errorf("Expected seller balance 0.0095, got %s", got.String())
	}
	if got := balance(t, dbService, "platform-fees"); !got.Equal(decimal.RequireFromString("0.0005")) {
		t.Errorf("Expected fee balance 0.0005, got %s", got.String())
	}
	if got := balance(t, dbService, "buyer"); !got.IsZero() {
		t.Errorf("Expected buyer balance 0, got %s", got.String())
	}
}

func TestResolve_Partial(t *testing.T) {
	service, dbService := setupService(t)
	ctx := context.Background()
	dispute, holding := openDispute(t, dbService)

	err := service.Resolve(ctx, arbiter, ResolveParams{
		DisputeId:     dispute.Id,
		Resolution:    models.ResolutionPartial,
		RefundPercent: 30,
		Note:          "partial delivery",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// 30% of 0.01 back to the buyer, fee scaled to the remaining 70%, the
	// seller gets what is left. The three legs sum to the held amount.
	buyerBalance := balance(t, dbService, "buyer")
	sellerBalance := balance(t, dbService, "seller")
	feeBalance := balance(t, dbService, "platform-fees")

	if !buyerBalance.Equal(decimal.RequireFromString("0.003")) {
		t.Errorf("Expected buyer refund 0.003, got %s", buyerBalance.String())
	}
	if !feeBalance.Equal(decimal.RequireFromString("0.00035")) {
		t.Errorf("Expected fee 0.00035, got %s", feeBalance.String())
	}
	if !sellerBalance.Equal(decimal.RequireFromString("0.00665")) {
		t.Errorf("Expected seller net 0.00665, got %s", sellerBalance.String())
	}

	total := buyerBalance.Add(sellerBalance).Add(feeBalance)
	if !total.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("Funds not conserved: total %s, want 0.01", total.String())
	}

	settled, err := dbService.GetHolding(ctx, holding.Id)
	if err != nil {
		t.Fatalf("GetHolding failed: %v", err)
	}
	if settled.Status != models.HoldingPartialRefund {
		t.Errorf("Expected partial_refund status, got %s", settled.Status)
	}
}

func TestSettlementFor_ConservationAcrossPercents(t *testing.T) {
	service, _ := setupService(t)

	holding := &models.EscrowHolding{
		Id:           "h1",
		BuyerId:      "buyer",
		SellerId:     "seller",
		Currency:     "BTC",
		AmountCrypto: decimal.RequireFromString("0.01"),
		FeeCrypto:    decimal.RequireFromString("0.0005"),
		SellerCrypto: decimal.RequireFromString("0.0095"),
	}

	// Whatever the split, the credit legs sum to the held amount. 0 and 100
	// degenerate to a full release or refund with zero-amount legs.
	for pct := int64(0); pct <= 100; pct++ {
		params := service.settlementFor(holding, models.ResolutionPartial, pct)
		total := decimal.Zero
		for _, credit := range params.Credits {
			if credit.Amount.Sign() < 0 {
				t.Fatalf("pct %d: negative credit leg %s", pct, credit.Amount.String())
			}
			total = total.Add(credit.Amount)
		}
		if !total.Equal(holding.AmountCrypto) {
			t.Fatalf("pct %d: legs sum to %s, want %s", pct, total.String(), holding.AmountCrypto.String())
		}
	}
}

func TestResolve_PartialPercentBounds(t *testing.T) {
	service, dbService := setupService(t)
	dispute, _ := openDispute(t, dbService)

	for _, pct := range []int64{-5, 101, 130} {
		err := service.Resolve(context.Background(), arbiter, ResolveParams{
			DisputeId:     dispute.Id,
			Resolution:    models.ResolutionPartial,
			RefundPercent: pct,
			Note:          "out of range",
		})
		if err == nil {
			t.Errorf("Expected error for refund percent %d, got nil", pct)
		}
	}
}

func TestResolve_PartialFullRefundPercent(t *testing.T) {
	service, dbService := setupService(t)
	ctx := context.Background()
	dispute, holding := openDispute(t, dbService)

	// 100 percent is a legal split that degenerates to a full refund.
	err := service.Resolve(ctx, arbiter, ResolveParams{
		DisputeId:     dispute.Id,
		Resolution:    models.ResolutionPartial,
		RefundPercent: 100,
		Note:          "nothing delivered",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if got := balance(t, dbService, "buyer"); !got.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("Expected full refund 0.01, got %s", got.String())
	}
	if got := balance(t, dbService, "seller"); !got.IsZero() {
		t.Errorf("Expected seller balance 0, got %s", got.String())
	}
	if got := balance(t, dbService, "platform-fees"); !got.IsZero() {
		t.Errorf("Expected fee balance 0, got %s", got.String())
	}

	settled, err := dbService.GetHolding(ctx, holding.Id)
	if err != nil {
		t.Fatalf("GetHolding failed: %v", err)
	}
	if settled.Status != models.HoldingPartialRefund {
		t.Errorf("Expected partial_refund status, got %s", settled.Status)
	}
}

func TestResolve_Dismissed(t *testing.T) {
	service, dbService := setupService(t)
	ctx := context.Background()
	dispute, holding := openDispute(t, dbService)

	err := service.Resolve(ctx, arbiter, ResolveParams{
		DisputeId:  dispute.Id,
		Resolution: models.ResolutionDismissed,
		Note:       "frivolous claim",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Dismissal closes the record and moves no funds.
	for _, userId := range []string{"buyer", "seller", "platform-fees"} {
		if got := balance(t, dbService, userId); !got.IsZero() {
			t.Errorf("Expected %s balance 0 after dismissal, got %s", userId, got.String())
		}
	}
	frozen, err := dbService.GetHolding(ctx, holding.Id)
	if err != nil {
		t.Fatalf("GetHolding failed: %v", err)
	}
	if frozen.Status != models.HoldingDisputed {
		t.Errorf("Expected holding to keep disputed status, got %s", frozen.Status)
	}

	closed, err := dbService.GetDispute(ctx, dispute.Id)
	if err != nil {
		t.Fatalf("GetDispute failed: %v", err)
	}
	if closed.Status != models.DisputeDismissed {
		t.Errorf("Expected dismissed status, got %s", closed.Status)
	}
}

func TestResolve_Twice(t *testing.T) {
	service, dbService := setupService(t)
	ctx := context.Background()
	dispute, _ := openDispute(t, dbService)

	params := ResolveParams{DisputeId: dispute.Id, Resolution: models.ResolutionBuyerFavor, Note: "refund"}
	if err := service.Resolve(ctx, arbiter, params); err != nil {
		t.Fatalf("First resolve failed: %v", err)
	}

	err := service.Resolve(ctx, arbiter, params)
	if !errors.Is(err, store.ErrAlreadySettled) {
		t.Fatalf("Expected ErrAlreadySettled on second resolve, got: %v", err)
	}

	// The double resolve moved nothing.
	if got := balance(t, dbService, "buyer"); !got.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("Expected buyer balance 0.01, got %s", got.String())
	}
}

func TestResolve_UnknownResolution(t *testing.T) {
	service, dbService := setupService(t)
	dispute, _ := openDispute(t, dbService)

	err := service.Resolve(context.Background(), arbiter, ResolveParams{
		DisputeId:  dispute.Id,
		Resolution: models.ResolutionType("split_the_baby"),
		Note:       "no such verdict",
	})
	if err == nil {
		t.Error("Expected error for unknown resolution, got nil")
	}
}
