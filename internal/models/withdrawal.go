package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalStatus is the lifecycle of a payout request. Rows with status
// pending, processing or completed count against the calendar-day and
// calendar-month spend caps.
type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalFailed     WithdrawalStatus = "failed"
)

// WithdrawalRequest represents funds leaving the ledger to an external
// address.
type WithdrawalRequest struct {
	Id                 string           `db:"id"`
	UserId             string           `db:"user_id"`
	Currency           string           `db:"currency"`
	AmountFiat         decimal.Decimal  `db:"amount_fiat"`
	AmountCrypto       decimal.Decimal  `db:"amount_crypto"`
	FeeFiat            decimal.Decimal  `db:"fee_fiat"`
	DestinationAddress string           `db:"destination_address"`
	Status             WithdrawalStatus `db:"status"`
	CreatedAt          time.Time        `db:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at"`
}

// FeeSchedule is the per-currency withdrawal fee configuration, loaded from
// currencies.yaml.
type FeeSchedule struct {
	MinAmountFiat    decimal.Decimal
	BaseFeeFiat      decimal.Decimal
	PercentageFee    decimal.Decimal
	NetworkFeeCrypto decimal.Decimal
}
