package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletAccount represents current balance state for one (user, currency)
// pair (hot data). Created lazily on first credit.
type WalletAccount struct {
	Id             string          `db:"id"`
	UserId         string          `db:"user_id"`
	Currency       string          `db:"currency"`
	Balance        decimal.Decimal `db:"balance"`
	DepositedTotal decimal.Decimal `db:"deposited_total"`
	LastEntryId    string          `db:"last_entry_id"`
	Version        int64           `db:"version"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

// EntryType classifies a ledger entry for reconciliation.
type EntryType string

const (
	EntryDeposit       EntryType = "deposit"
	EntryEscrowFund    EntryType = "escrow_fund"
	EntryEscrowRelease EntryType = "escrow_release"
	EntryEscrowRefund  EntryType = "escrow_refund"
	EntryPlatformFee   EntryType = "platform_fee"
	EntryWithdrawal    EntryType = "withdrawal"
)

// LedgerEntry represents one immutable balance movement (cold data). Every
// credit and debit writes exactly one entry in the same transaction as the
// balance change; together with the journal rows it is the only audit trail
// for fund movement.
type LedgerEntry struct {
	Id            string          `db:"id"`
	UserId        string          `db:"user_id"`
	Currency      string          `db:"currency"`
	EntryType     EntryType       `db:"entry_type"`
	Amount        decimal.Decimal `db:"amount"`
	BalanceBefore decimal.Decimal `db:"balance_before"`
	BalanceAfter  decimal.Decimal `db:"balance_after"`
	ExternalTxId  string          `db:"external_tx_id"`
	OrderId       string          `db:"order_id"`
	Reference     string          `db:"reference"`
	CreatedAt     time.Time       `db:"created_at"`
}

// User represents a marketplace account as seen by the ledger.
type User struct {
	Id        string    `db:"id"`
	Name      string    `db:"name"`
	Role      string    `db:"role"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
