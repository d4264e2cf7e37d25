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

// CreateWithdrawal inserts the payout request and debits the user's balance
// in one transaction. If the debit fails (insufficient funds, lost race) no
// request row survives.
func (s *Service) CreateWithdrawal(ctx context.Context, req *models.WithdrawalRequest, debit store.EntryParams) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if req.Id == "" {
		req.Id = uuid.New().String()
	}
	if req.Status == "" {
		req.Status = models.WithdrawalPending
	}

	_, err = tx.ExecContext(ctx, queryInsertWithdrawal,
		req.Id, req.UserId, req.Currency,
		req.AmountFiat.String(), req.AmountCrypto.String(), req.FeeFiat.String(),
		req.DestinationAddress, string(req.Status))
	if err != nil {
		return fmt.Errorf("failed to insert withdrawal request: %w", err)
	}

	if _, err := s.applyEntry(ctx, tx, debit, debit.Amount.Neg()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Withdrawal request created",
		zap.String("request_id", req.Id),
		zap.String("user_id", req.UserId),
		zap.String("currency", req.Currency),
		zap.String("amount_crypto", req.AmountCrypto.String()),
		zap.String("amount_fiat", req.AmountFiat.String()))

	return nil
}

// GetWithdrawal returns one withdrawal request by id.
func (s *Service) GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	var amountFiatStr, amountCryptoStr, feeFiatStr, statusStr string
	err := s.db.QueryRowContext(ctx, queryGetWithdrawal, id).
		Scan(&req.Id, &req.UserId, &req.Currency,
			&amountFiatStr, &amountCryptoStr, &feeFiatStr,
			&req.DestinationAddress, &statusStr, &req.CreatedAt, &req.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("withdrawal %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}

	req.Status = models.WithdrawalStatus(statusStr)
	req.AmountFiat, err = decimal.NewFromString(amountFiatStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount_fiat '%s': %w", amountFiatStr, err)
	}
	req.AmountCrypto, err = decimal.NewFromString(amountCryptoStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount_crypto '%s': %w", amountCryptoStr, err)
	}
	req.FeeFiat, err = decimal.NewFromString(feeFiatStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fee_fiat '%s': %w", feeFiatStr, err)
	}
	return &req, nil
}

// SumSpentFiatSince returns the fiat value of every withdrawal that counts
// against the spend caps (pending, processing, completed) since the cutoff.
func (s *Service) SumSpentFiatSince(ctx context.Context, userId string, since time.Time) (decimal.Decimal, error) {
	var sumStr string
	err := s.db.QueryRowContext(ctx, querySumSpentFiatSince, userId, since).Scan(&sumStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum withdrawals: %w", err)
	}
	sum, err := decimal.NewFromString(sumStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse withdrawal sum '%s': %w", sumStr, err)
	}
	return sum, nil
}

// UpdateWithdrawalStatus moves a request through its processing lifecycle.
func (s *Service) UpdateWithdrawalStatus(ctx context.Context, id string, status models.WithdrawalStatus) error {
	result, err := s.db.ExecContext(ctx, queryUpdateWithdrawalStatus, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("withdrawal %s: %w", id, store.ErrNotFound)
	}
	return nil
}
