package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositStatus is the lifecycle state of a deposit request. Transitions are
// driven only by watcher events or expiry; completed, expired and cancelled
// are terminal.
type DepositStatus string

const (
	DepositPending   DepositStatus = "pending"
	DepositReceived  DepositStatus = "received"
	DepositConfirmed DepositStatus = "confirmed"
	DepositCompleted DepositStatus = "completed"
	DepositExpired   DepositStatus = "expired"
	DepositCancelled DepositStatus = "cancelled"
)

// IsTerminal returns true if the request can no longer change state.
func (s DepositStatus) IsTerminal() bool {
	switch s {
	case DepositCompleted, DepositExpired, DepositCancelled:
		return true
	}
	return false
}

// DepositRequest represents one user's intent to fund their wallet through
// the shared deposit address of a currency. The crypto amount the user is
// asked to send carries a 4-digit fingerprint in a fee-insensitive digit
// band so the incoming payment can be attributed back to this request.
type DepositRequest struct {
	Id            string          `db:"id"`
	UserId        string          `db:"user_id"`
	Currency      string          `db:"currency"`
	RequestedFiat decimal.Decimal `db:"requested_fiat"`
	CryptoAmount  decimal.Decimal `db:"crypto_amount"`
	AmountAtomic  int64           `db:"amount_atomic"`
	Fingerprint   int             `db:"fingerprint"`
	LockedRate    decimal.Decimal `db:"locked_rate"`
	SharedAddress string          `db:"shared_address"`
	Status        DepositStatus   `db:"status"`
	Confirmations int             `db:"confirmations"`
	TxHash        string          `db:"tx_hash"`
	ExpiresAt     time.Time       `db:"expires_at"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// ChainEvent is one incoming-payment observation from the blockchain
// watcher. Delivery is at-least-once; consumers dedupe by TxHash.
type ChainEvent struct {
	Address       string
	Currency      string
	AmountAtomic  int64
	TxHash        string
	Confirmations int
}

// ReviewItem is a watcher event whose recomputed fingerprint matched zero or
// more than one pending request. It is parked for manual review instead of
// being credited to anyone.
type ReviewItem struct {
	Id            string    `db:"id"`
	Currency      string    `db:"currency"`
	SharedAddress string    `db:"shared_address"`
	AmountAtomic  int64     `db:"amount_atomic"`
	TxHash        string    `db:"tx_hash"`
	Fingerprint   int       `db:"fingerprint"`
	MatchCount    int       `db:"match_count"`
	Reason        string    `db:"reason"`
	Resolved      bool      `db:"resolved"`
	CreatedAt     time.Time `db:"created_at"`
}
