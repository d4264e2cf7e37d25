package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market-escrow-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	// ErrInsufficientFunds - a debit would take the balance below zero.
	// Recoverable by the caller, never retried automatically.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAlreadySettled - a transition was attempted on a holding or request
	// that already left its expected state. Benign idempotency noise for
	// sweeps; a real error only for a user's own double submission.
	ErrAlreadySettled = errors.New("already settled")

	// ErrDuplicateTransaction - an external tx hash was already credited.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrConcurrentModification - the version CAS on a wallet account row
	// lost a race; the operation is retried a bounded number of times.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrFingerprintCollision - a pending request with the same
	// (currency, fingerprint) already exists.
	ErrFingerprintCollision = errors.New("fingerprint collision")

	// ErrDepositCreationFailed - fingerprint redraws were exhausted.
	ErrDepositCreationFailed = errors.New("deposit creation failed")

	// ErrUnmatchedDeposit - a watcher event matched zero or multiple pending
	// requests and was routed to manual review.
	ErrUnmatchedDeposit = errors.New("unmatched deposit")

	// ErrLimitExceeded - a withdrawal validation check failed.
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrUnauthorized - the caller lacks the moderator/admin capability.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound - the referenced row does not exist.
	ErrNotFound = errors.New("not found")
)

// PartialSettlementError reports a multi-holding resolution in which some
// holdings settled and others failed. Failures are keyed by holding id so an
// operator can retry only those.
type PartialSettlementError struct {
	Settled  int
	Total    int
	Failures map[string]error
}

func (e *PartialSettlementError) Error() string {
	return fmt.Sprintf("settled %d of %d holdings", e.Settled, e.Total)
}

// EntryParams contains the parameters for one balance movement. Amount is
// always positive; Debit negates it at the storage boundary.
type EntryParams struct {
	UserId       string
	Currency     string
	EntryType    models.EntryType
	Amount       decimal.Decimal
	ExternalTxId string
	OrderId      string
	Reference    string
}

// SettleHoldingParams describes one atomic holding settlement: the
// conditional status flip plus every credit it implies. Either all of it
// commits or none of it does.
type SettleHoldingParams struct {
	HoldingId  string
	FromStatus []models.HoldingStatus
	NewStatus  models.HoldingStatus
	ReleasedBy string
	Credits    []EntryParams
}

// SettleDepositParams completes a confirmed deposit request: flips it to
// completed, credits the user once (idempotent per tx hash) and bumps the
// lifetime deposited total.
type SettleDepositParams struct {
	RequestId string
	TxHash    string
}

// LedgerStore is the credit/debit contract. Concurrent operations on the
// same (user, currency) serialize; different accounts do not block each
// other.
type LedgerStore interface {
	Credit(ctx context.Context, params EntryParams) (*models.LedgerEntry, error)
	Debit(ctx context.Context, params EntryParams) (*models.LedgerEntry, error)
	GetBalance(ctx context.Context, userId, currency string) (decimal.Decimal, error)
	GetAllBalances(ctx context.Context, userId string) ([]models.WalletAccount, error)
	GetLedgerHistory(ctx context.Context, userId, currency string, limit, offset int) ([]models.LedgerEntry, error)
	HasLedgerEntryForTx(ctx context.Context, externalTxId string) (bool, error)
	ReconcileBalance(ctx context.Context, userId, currency string) error
}

// DepositStore persists deposit requests and the manual review queue.
type DepositStore interface {
	CreateDepositRequest(ctx context.Context, req *models.DepositRequest) error
	GetDepositRequest(ctx context.Context, id string) (*models.DepositRequest, error)
	FindPendingByFingerprint(ctx context.Context, currency string, fingerprint int, now time.Time) ([]models.DepositRequest, error)
	MarkDepositReceived(ctx context.Context, id, txHash string, confirmations int) error
	MarkDepositConfirmed(ctx context.Context, id string, confirmations int) error
	SettleDeposit(ctx context.Context, params SettleDepositParams) error
	CancelDeposit(ctx context.Context, id string) error
	ExpireDeposits(ctx context.Context, now time.Time) (int, error)
	EnqueueReview(ctx context.Context, item *models.ReviewItem) error
}

// EscrowStore persists orders and holdings.
type EscrowStore interface {
	CreateOrderWithHoldings(ctx context.Context, order *models.Order, holdings []*models.EscrowHolding) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetHolding(ctx context.Context, id string) (*models.EscrowHolding, error)
	GetHoldingsByOrder(ctx context.Context, orderId string) ([]models.EscrowHolding, error)
	SettleHolding(ctx context.Context, params SettleHoldingParams) error
	MarkHoldingsDisputed(ctx context.Context, orderId string) (int, error)
	ListAutoReleasable(ctx context.Context, now time.Time, limit int) ([]models.EscrowHolding, error)
	UpdateOrderEscrowStatus(ctx context.Context, orderId, escrowStatus string) error
}

// DisputeStore persists dispute records.
type DisputeStore interface {
	CreateDispute(ctx context.Context, dispute *models.Dispute) error
	GetDispute(ctx context.Context, id string) (*models.Dispute, error)
	GetActiveDisputeByOrder(ctx context.Context, orderId string) (*models.Dispute, error)
	ResolveDispute(ctx context.Context, id string, resolution models.ResolutionType, note, adminId string) error
}

// WithdrawalStore persists payout requests and computes spend since a cutoff.
type WithdrawalStore interface {
	CreateWithdrawal(ctx context.Context, req *models.WithdrawalRequest, debit EntryParams) error
	GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error)
	SumSpentFiatSince(ctx context.Context, userId string, since time.Time) (decimal.Decimal, error)
	UpdateWithdrawalStatus(ctx context.Context, id string, status models.WithdrawalStatus) error
}

// UserStore manages the minimal user rows the ledger needs.
type UserStore interface {
	CreateUser(ctx context.Context, userId, name, role string) (*models.User, error)
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	GetUsers(ctx context.Context) ([]models.User, error)
}

// Store is the full backend contract.
type Store interface {
	LedgerStore
	DepositStore
	EscrowStore
	DisputeStore
	WithdrawalStore
	UserStore

	Close()
}
