package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"market-escrow-go/internal/models"
	"market-escrow-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateDepositRequest inserts a new deposit request after verifying no other
// live request on the same currency holds the same fingerprint. The check and
// insert run in one transaction so two concurrent creations cannot both
// claim the fingerprint.
func (s *Service) CreateDepositRequest(ctx context.Context, req *models.DepositRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx, queryCountPendingFingerprint, req.Currency, req.Fingerprint).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check fingerprint uniqueness: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: fingerprint %d already live for %s",
			store.ErrFingerprintCollision, req.Fingerprint, req.Currency)
	}

	if req.Id == "" {
		req.Id = uuid.New().String()
	}
	if req.Status == "" {
		req.Status = models.DepositPending
	}

	_, err = tx.ExecContext(ctx, queryInsertDepositRequest,
		req.Id, req.UserId, req.Currency,
		req.RequestedFiat.String(), req.CryptoAmount.String(), req.AmountAtomic,
		req.Fingerprint, req.LockedRate.String(), req.SharedAddress,
		string(req.Status), req.Confirmations, req.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert deposit request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Deposit request created",
		zap.String("request_id", req.Id),
		zap.String("user_id", req.UserId),
		zap.String("currency", req.Currency),
		zap.Int("fingerprint", req.Fingerprint),
		zap.String("crypto_amount", req.CryptoAmount.String()))

	return nil
}

func scanDepositRequest(scan func(dest ...any) error) (*models.DepositRequest, error) {
	var req models.DepositRequest
	var requestedFiatStr, cryptoAmountStr, lockedRateStr, statusStr string
	err := scan(&req.Id, &req.UserId, &req.Currency,
		&requestedFiatStr, &cryptoAmountStr, &req.AmountAtomic,
		&req.Fingerprint, &lockedRateStr, &req.SharedAddress,
		&statusStr, &req.Confirmations, &req.TxHash,
		&req.ExpiresAt, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return nil, err
	}

	req.Status = models.DepositStatus(statusStr)
	req.RequestedFiat, err = decimal.NewFromString(requestedFiatStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse requested_fiat '%s': %w", requestedFiatStr, err)
	}
	req.CryptoAmount, err = decimal.NewFromString(cryptoAmountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse crypto_amount '%s': %w", cryptoAmountStr, err)
	}
	req.LockedRate, err = decimal.NewFromString(lockedRateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse locked_rate '%s': %w", lockedRateStr, err)
	}
	return &req, nil
}

// GetDepositRequest returns one deposit request by id.
func (s *Service) GetDepositRequest(ctx context.Context, id string) (*models.DepositRequest, error) {
	row := s.db.QueryRowContext(ctx, queryGetDepositRequest, id)
	req, err := scanDepositRequest(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("deposit request %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deposit request: %w", err)
	}
	return req, nil
}

// FindPendingByFingerprint returns every live, unexpired request on the
// currency whose fingerprint matches. The caller decides what zero or
// multiple matches mean.
func (s *Service) FindPendingByFingerprint(ctx context.Context, currency string, fingerprint int, now time.Time) ([]models.DepositRequest, error) {
	rows, err := s.db.QueryContext(ctx, queryFindPendingByFingerprint, currency, fingerprint, now)
	if err != nil {
		return nil, fmt.Errorf("failed to find deposit requests: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var requests []models.DepositRequest
	for rows.Next() {
		req, err := scanDepositRequest(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deposit request: %w", err)
		}
		requests = append(requests, *req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deposit request rows: %w", err)
	}
	return requests, nil
}

// MarkDepositReceived transitions a request to received once the payment is
// first seen on chain. Re-marking an already received request just refreshes
// the confirmation count.
func (s *Service) MarkDepositReceived(ctx context.Context, id, txHash string, confirmations int) error {
	result, err := s.db.ExecContext(ctx, queryMarkDepositReceived, txHash, confirmations, id)
	if err != nil {
		return fmt.Errorf("failed to mark deposit received: %w", err)
	}
	return requireRowsAffected(result, "deposit request", id)
}

// MarkDepositConfirmed bumps the confirmation count and flips the request to
// confirmed.
func (s *Service) MarkDepositConfirmed(ctx context.Context, id string, confirmations int) error {
	result, err := s.db.ExecContext(ctx, queryMarkDepositConfirmed, confirmations, id)
	if err != nil {
		return fmt.Errorf("failed to mark deposit confirmed: %w", err)
	}
	return requireRowsAffected(result, "deposit request", id)
}

// SettleDeposit completes a deposit in one transaction: the conditional flip
// to completed and the single idempotent credit keyed by the on-chain tx
// hash. If the flip loses to a concurrent settlement nothing is credited.
func (s *Service) SettleDeposit(ctx context.Context, params store.SettleDepositParams) error {
	req, err := s.GetDepositRequest(ctx, params.RequestId)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, queryCompleteDeposit, params.RequestId)
	if err != nil {
		return fmt.Errorf("failed to complete deposit: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("deposit request %s: %w", params.RequestId, store.ErrAlreadySettled)
	}

	_, err = s.applyEntry(ctx, tx, store.EntryParams{
		UserId:       req.UserId,
		Currency:     req.Currency,
		EntryType:    models.EntryDeposit,
		Amount:       req.CryptoAmount,
		ExternalTxId: params.TxHash,
		Reference:    fmt.Sprintf("deposit request %s", req.Id),
	}, req.CryptoAmount)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Deposit settled",
		zap.String("request_id", req.Id),
		zap.String("user_id", req.UserId),
		zap.String("currency", req.Currency),
		zap.String("amount", req.CryptoAmount.String()),
		zap.String("tx_hash", params.TxHash))

	return nil
}

// CancelDeposit cancels a pending request; the fingerprint becomes reusable.
func (s *Service) CancelDeposit(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, queryCancelDeposit, id)
	if err != nil {
		return fmt.Errorf("failed to cancel deposit: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("deposit request %s: %w", id, store.ErrAlreadySettled)
	}
	return nil
}

// ExpireDeposits expires every pending request whose deadline passed and
// returns how many were flipped.
func (s *Service) ExpireDeposits(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, queryExpireDeposits, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire deposits: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return int(rowsAffected), nil
}

// EnqueueReview parks an unmatched or ambiguous watcher event for an
// operator. Nothing is credited from here.
func (s *Service) EnqueueReview(ctx context.Context, item *models.ReviewItem) error {
	if item.Id == "" {
		item.Id = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, queryInsertReviewItem,
		item.Id, item.Currency, item.SharedAddress, item.AmountAtomic,
		item.TxHash, item.Fingerprint, item.MatchCount, item.Reason)
	if err != nil {
		return fmt.Errorf("failed to enqueue review item: %w", err)
	}

	zap.L().Warn("Deposit event parked for manual review",
		zap.String("currency", item.Currency),
		zap.String("tx_hash", item.TxHash),
		zap.Int("fingerprint", item.Fingerprint),
		zap.Int("match_count", item.MatchCount),
		zap.String("reason", item.Reason))

	return nil
}

func requireRowsAffected(result sql.Result, kind, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, store.ErrAlreadySettled)
	}
	return nil
}
