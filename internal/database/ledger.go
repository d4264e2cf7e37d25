package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"market-escrow-go/internal/models"
	"market-escrow-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxCASRetries bounds the optimistic-lock retry loop for single-entry
// operations. Multi-entry settlements never retry; they surface
// ErrConcurrentModification to the caller instead.
const maxCASRetries = 3

// Credit adds params.Amount to the user's balance and records a ledger entry.
// Amount must be positive. Idempotent per ExternalTxId.
func (s *Service) Credit(ctx context.Context, params store.EntryParams) (*models.LedgerEntry, error) {
	if params.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %s", params.Amount.String())
	}
	return s.processEntry(ctx, params, params.Amount)
}

// Debit subtracts params.Amount from the user's balance. Amount must be
// positive; the resulting balance may never go below zero.
func (s *Service) Debit(ctx context.Context, params store.EntryParams) (*models.LedgerEntry, error) {
	if params.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %s", params.Amount.String())
	}
	return s.processEntry(ctx, params, params.Amount.Neg())
}

// processEntry runs one balance movement in its own transaction, retrying a
// bounded number of times when the optimistic lock loses a race.
func (s *Service) processEntry(ctx context.Context, params store.EntryParams, signedAmount decimal.Decimal) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	var err error

	for attempt := 1; attempt <= maxCASRetries; attempt++ {
		entry, err = s.runEntryTx(ctx, params, signedAmount)
		if err == nil || !errors.Is(err, store.ErrConcurrentModification) {
			return entry, err
		}
		zap.L().Warn("Balance update lost optimistic lock race, retrying",
			zap.String("user_id", params.UserId),
			zap.String("currency", params.Currency),
			zap.Int("attempt", attempt))
	}
	return nil, err
}

func (s *Service) runEntryTx(ctx context.Context, params store.EntryParams, signedAmount decimal.Decimal) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	entry, err := s.applyEntry(ctx, tx, params, signedAmount)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Ledger entry recorded",
		zap.String("entry_id", entry.Id),
		zap.String("user_id", params.UserId),
		zap.String("currency", params.Currency),
		zap.String("entry_type", string(params.EntryType)),
		zap.String("balance_before", entry.BalanceBefore.String()),
		zap.String("balance_after", entry.BalanceAfter.String()))

	return entry, nil
}

// applyEntry performs one balance movement inside an existing transaction:
// duplicate check, account upsert, non-negative check, ledger insert, CAS
// balance update and journal entries. Settlement paths call this several
// times in one tx so the whole batch commits or rolls back together.
func (s *Service) applyEntry(ctx context.Context, tx *sql.Tx, params store.EntryParams, signedAmount decimal.Decimal) (*models.LedgerEntry, error) {
	// Idempotency: one ledger entry per external tx id.
	if params.ExternalTxId != "" {
		var existingEntryId string
		err := tx.QueryRowContext(ctx, queryCheckDuplicateEntry, params.ExternalTxId).Scan(&existingEntryId)
		if err == nil {
			zap.L().Warn("Duplicate external transaction id detected, skipping",
				zap.String("external_tx_id", params.ExternalTxId),
				zap.String("existing_entry_id", existingEntryId))
			return nil, fmt.Errorf("%w: external_tx_id %s already recorded", store.ErrDuplicateTransaction, params.ExternalTxId)
		} else if err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to check for duplicate entry: %w", err)
		}
	}

	var accountId, balanceStr, depositedStr string
	var version int64
	err := tx.QueryRowContext(ctx, queryGetAccount, params.UserId, params.Currency).
		Scan(&accountId, &balanceStr, &depositedStr, &version)

	var currentBalance, depositedTotal decimal.Decimal
	if err == sql.ErrNoRows {
		accountId = uuid.New().String()
		currentBalance = decimal.Zero
		depositedTotal = decimal.Zero
		version = 1
		_, err = tx.ExecContext(ctx, queryInsertAccount, accountId, params.UserId, params.Currency, "0", "0", 1)
		if err != nil {
			return nil, fmt.Errorf("failed to create wallet account: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to get wallet account: %w", err)
	} else {
		currentBalance, err = decimal.NewFromString(balanceStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
		}
		depositedTotal, err = decimal.NewFromString(depositedStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse deposited_total '%s': %w", depositedStr, err)
		}
	}

	newBalance := currentBalance.Add(signedAmount)
	if newBalance.Sign() < 0 {
		return nil, fmt.Errorf("%w: balance %s, requested %s",
			store.ErrInsufficientFunds, currentBalance.String(), signedAmount.Abs().String())
	}

	// Lifetime deposited total only grows on external deposits.
	if params.EntryType == models.EntryDeposit {
		depositedTotal = depositedTotal.Add(signedAmount)
	}

	entryId := uuid.New().String()
	now := time.Now()

	_, err = tx.ExecContext(ctx, queryInsertLedgerEntry,
		entryId, params.UserId, params.Currency, string(params.EntryType),
		signedAmount.String(), currentBalance.String(), newBalance.String(),
		params.ExternalTxId, params.OrderId, params.Reference, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	result, err := tx.ExecContext(ctx, queryUpdateAccount,
		newBalance.String(), depositedTotal.String(), entryId,
		params.UserId, params.Currency, version)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	entry := &models.LedgerEntry{
		Id:            entryId,
		UserId:        params.UserId,
		Currency:      params.Currency,
		EntryType:     params.EntryType,
		Amount:        signedAmount,
		BalanceBefore: currentBalance,
		BalanceAfter:  newBalance,
		ExternalTxId:  params.ExternalTxId,
		OrderId:       params.OrderId,
		Reference:     params.Reference,
		CreatedAt:     now,
	}

	if err := s.addJournalEntries(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("failed to add journal entries: %w", err)
	}

	return entry, nil
}

// addJournalEntries creates double-entry bookkeeping rows for one movement.
// A positive amount debits the user asset account and credits the platform
// liability account; a negative amount does the reverse.
func (s *Service) addJournalEntries(ctx context.Context, tx *sql.Tx, entry *models.LedgerEntry) error {
	userAccount := fmt.Sprintf("%s_%s", entry.UserId, entry.Currency)
	liabilityAccount := fmt.Sprintf("user_funds_%s", entry.Currency)

	type journalRow struct {
		accountType  string
		accountId    string
		debitAmount  decimal.Decimal
		creditAmount decimal.Decimal
	}

	var rows []journalRow
	if entry.Amount.Sign() >= 0 {
		rows = []journalRow{
			{"user_asset", userAccount, entry.Amount, decimal.Zero},
			{"platform_liability", liabilityAccount, decimal.Zero, entry.Amount},
		}
	} else {
		abs := entry.Amount.Abs()
		rows = []journalRow{
			{"user_asset", userAccount, decimal.Zero, abs},
			{"platform_liability", liabilityAccount, abs, decimal.Zero},
		}
	}

	for _, row := range rows {
		journalId := uuid.New().String()
		_, err := tx.ExecContext(ctx, queryInsertJournalEntry,
			journalId, entry.Id, row.accountType, row.accountId,
			row.debitAmount.String(), row.creditAmount.String())
		if err != nil {
			return err
		}
	}
	return nil
}

// GetBalance returns the current balance for one (user, currency). A missing
// account row reads as zero.
func (s *Service) GetBalance(ctx context.Context, userId, currency string) (decimal.Decimal, error) {
	var balanceStr string
	err := s.db.QueryRowContext(ctx, queryGetBalance, userId, currency).Scan(&balanceStr)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
	}
	return balance, nil
}

// GetAllBalances returns every wallet account for a user, ordered by currency.
func (s *Service) GetAllBalances(ctx context.Context, userId string) ([]models.WalletAccount, error) {
	rows, err := s.db.QueryContext(ctx, queryGetAllBalances, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var accounts []models.WalletAccount
	for rows.Next() {
		var account models.WalletAccount
		var balanceStr, depositedStr string
		err := rows.Scan(&account.Id, &account.UserId, &account.Currency,
			&balanceStr, &depositedStr, &account.LastEntryId, &account.Version, &account.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet account: %w", err)
		}

		account.Balance, err = decimal.NewFromString(balanceStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
		}
		account.DepositedTotal, err = decimal.NewFromString(depositedStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse deposited_total '%s': %w", depositedStr, err)
		}

		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallet account rows: %w", err)
	}
	return accounts, nil
}

// GetLedgerHistory returns paginated ledger entries for one (user, currency),
// newest first.
func (s *Service) GetLedgerHistory(ctx context.Context, userId, currency string, limit, offset int) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, queryGetLedgerHistory, userId, currency, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger history: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var entries []models.LedgerEntry
	for rows.Next() {
		var entry models.LedgerEntry
		var entryType, amountStr, beforeStr, afterStr string
		err := rows.Scan(&entry.Id, &entry.UserId, &entry.Currency, &entryType,
			&amountStr, &beforeStr, &afterStr,
			&entry.ExternalTxId, &entry.OrderId, &entry.Reference, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}

		entry.EntryType = models.EntryType(entryType)
		entry.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}
		entry.BalanceBefore, err = decimal.NewFromString(beforeStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance_before '%s': %w", beforeStr, err)
		}
		entry.BalanceAfter, err = decimal.NewFromString(afterStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance_after '%s': %w", afterStr, err)
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entry rows: %w", err)
	}
	return entries, nil
}

// HasLedgerEntryForTx reports whether an external tx id was already credited.
func (s *Service) HasLedgerEntryForTx(ctx context.Context, externalTxId string) (bool, error) {
	var entryId string
	err := s.db.QueryRowContext(ctx, queryCheckDuplicateEntry, externalTxId).Scan(&entryId)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check ledger entry: %w", err)
	}
	return true, nil
}

// ReconcileBalance verifies that the hot balance equals the sum of all ledger
// entries for the account. A mismatch is logged and returned as an error;
// the balance row is never silently patched.
func (s *Service) ReconcileBalance(ctx context.Context, userId, currency string) error {
	balance, err := s.GetBalance(ctx, userId, currency)
	if err != nil {
		return err
	}

	var sumStr string
	err = s.db.QueryRowContext(ctx, queryReconcileBalance, userId, currency).Scan(&sumStr)
	if err != nil {
		return fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	ledgerSum, err := decimal.NewFromString(sumStr)
	if err != nil {
		return fmt.Errorf("failed to parse ledger sum '%s': %w", sumStr, err)
	}

	if !balance.Equal(ledgerSum) {
		zap.L().Error("Balance reconciliation mismatch",
			zap.String("user_id", userId),
			zap.String("currency", currency),
			zap.String("account_balance", balance.String()),
			zap.String("ledger_sum", ledgerSum.String()))
		return fmt.Errorf("reconciliation mismatch for %s/%s: account %s, ledger %s",
			userId, currency, balance.String(), ledgerSum.String())
	}
	return nil
}
