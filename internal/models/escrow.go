package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// GoodsType selects the escrow policy window for an order.
type GoodsType string

const (
	GoodsDigital  GoodsType = "digital"
	GoodsPhysical GoodsType = "physical"
)

// HoldingStatus is the state of one custodied escrow holding.
//
//	held -> {released, refunded, partial_refund, disputed}
//	disputed -> {released, refunded, partial_refund}   (arbiter only)
//
// released, refunded and partial_refund are terminal; a holding is immutable
// once it leaves held/disputed.
type HoldingStatus string

const (
	HoldingHeld          HoldingStatus = "held"
	HoldingDisputed      HoldingStatus = "disputed"
	HoldingReleased      HoldingStatus = "released"
	HoldingRefunded      HoldingStatus = "refunded"
	HoldingPartialRefund HoldingStatus = "partial_refund"
)

// IsTerminal returns true once the holding has settled.
func (s HoldingStatus) IsTerminal() bool {
	switch s {
	case HoldingReleased, HoldingRefunded, HoldingPartialRefund:
		return true
	}
	return false
}

// ReleasedBy records which actor won the race to settle a holding.
const (
	ReleasedByBuyer   = "buyer"
	ReleasedBySystem  = "system"
	ReleasedByArbiter = "arbiter"
)

// EscrowHolding is the custodied funds of one order in one currency. An
// order usually has exactly one holding but may have several (one per
// currency). Invariant: AmountCrypto = FeeCrypto + SellerCrypto at creation,
// preserved proportionally through partial splits.
type EscrowHolding struct {
	Id            string          `db:"id"`
	OrderId       string          `db:"order_id"`
	BuyerId       string          `db:"buyer_id"`
	SellerId      string          `db:"seller_id"`
	Currency      string          `db:"currency"`
	AmountCrypto  decimal.Decimal `db:"amount_crypto"`
	AmountFiat    decimal.Decimal `db:"amount_fiat"`
	FeeCrypto     decimal.Decimal `db:"fee_crypto"`
	FeeFiat       decimal.Decimal `db:"fee_fiat"`
	SellerCrypto  decimal.Decimal `db:"seller_crypto"`
	SellerFiat    decimal.Decimal `db:"seller_fiat"`
	Status        HoldingStatus   `db:"status"`
	AutoReleaseAt time.Time       `db:"auto_release_at"`
	ReleasedAt    *time.Time      `db:"released_at"`
	ReleasedBy    string          `db:"released_by"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// Order carries the aggregate escrow outcome once all of its holdings have
// settled. escrow_status mirrors the dominant holding outcome.
type Order struct {
	Id           string    `db:"id"`
	BuyerId      string    `db:"buyer_id"`
	SellerId     string    `db:"seller_id"`
	GoodsType    GoodsType `db:"goods_type"`
	EscrowStatus string    `db:"escrow_status"`
	CreatedAt    time.Time `db:"created_at"`
}
