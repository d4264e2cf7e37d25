/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"fmt"

	"market-escrow-go/internal/models"
	"market-escrow-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.Store.
var _ store.Store = (*Service)(nil)

type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db}
	if err := service.InitSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) InitSchema() error {
	schema := `
	-- Users (minimal identity rows the ledger references)
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Wallet Accounts (Current State - Hot Data)
	-- CHECK is the storage-boundary backstop for the non-negative invariant.
	CREATE TABLE IF NOT EXISTS wallet_accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		balance TEXT NOT NULL DEFAULT '0' CHECK (CAST(balance AS NUMERIC) >= 0),
		deposited_total TEXT NOT NULL DEFAULT '0',
		last_entry_id TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, currency)
	);

	CREATE INDEX IF NOT EXISTS idx_wallet_accounts_user_id ON wallet_accounts(user_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_wallet_accounts_user_currency ON wallet_accounts(user_id, currency);

	-- Ledger Entries (Audit Trail - Cold Data)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		external_tx_id TEXT,
		order_id TEXT,
		reference TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_user_currency ON ledger_entries(user_id, currency);
	CREATE INDEX IF NOT EXISTS idx_ledger_created_at ON ledger_entries(created_at);
	CREATE INDEX IF NOT EXISTS idx_ledger_order_id ON ledger_entries(order_id);
	-- Idempotent crediting: one ledger entry per external tx hash.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_external_tx ON ledger_entries(external_tx_id)
		WHERE external_tx_id IS NOT NULL AND external_tx_id != '';

	-- Double-Entry Journal
	CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		entry_id TEXT NOT NULL,
		account_type TEXT NOT NULL,
		account_id TEXT NOT NULL,
		debit_amount TEXT DEFAULT '0',
		credit_amount TEXT DEFAULT '0',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_journal_entry_id ON journal_entries(entry_id);
	CREATE INDEX IF NOT EXISTS idx_journal_account ON journal_entries(account_type, account_id);

	-- Deposit Requests (shared-address deposits with fingerprinted amounts)
	CREATE TABLE IF NOT EXISTS deposit_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		requested_fiat TEXT NOT NULL,
		crypto_amount TEXT NOT NULL,
		amount_atomic INTEGER NOT NULL,
		fingerprint INTEGER NOT NULL,
		locked_rate TEXT NOT NULL,
		shared_address TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		confirmations INTEGER NOT NULL DEFAULT 0,
		tx_hash TEXT,
		expires_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_deposits_fingerprint ON deposit_requests(currency, fingerprint, status);
	CREATE INDEX IF NOT EXISTS idx_deposits_status_expiry ON deposit_requests(status, expires_at);
	CREATE INDEX IF NOT EXISTS idx_deposits_user_id ON deposit_requests(user_id);

	-- Manual review queue for unmatched or ambiguous watcher events
	CREATE TABLE IF NOT EXISTS deposit_review_queue (
		id TEXT PRIMARY KEY,
		currency TEXT NOT NULL,
		shared_address TEXT NOT NULL,
		amount_atomic INTEGER NOT NULL,
		tx_hash TEXT NOT NULL,
		fingerprint INTEGER NOT NULL,
		match_count INTEGER NOT NULL,
		reason TEXT NOT NULL,
		resolved INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_review_resolved ON deposit_review_queue(resolved);

	-- Orders (aggregate escrow outcome only; the marketplace owns the rest)
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		goods_type TEXT NOT NULL DEFAULT 'physical',
		escrow_status TEXT NOT NULL DEFAULT 'held',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Escrow Holdings
	CREATE TABLE IF NOT EXISTS escrow_holdings (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		buyer_id TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount_crypto TEXT NOT NULL,
		amount_fiat TEXT NOT NULL,
		fee_crypto TEXT NOT NULL,
		fee_fiat TEXT NOT NULL,
		seller_crypto TEXT NOT NULL,
		seller_fiat TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'held',
		auto_release_at TIMESTAMP NOT NULL,
		released_at TIMESTAMP,
		released_by TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_holdings_order_id ON escrow_holdings(order_id);
	CREATE INDEX IF NOT EXISTS idx_holdings_status_release ON escrow_holdings(status, auto_release_at);

	-- Disputes
	CREATE TABLE IF NOT EXISTS disputes (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		plaintiff_id TEXT NOT NULL,
		defendant_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		resolution_type TEXT,
		resolution_text TEXT,
		admin_assigned TEXT,
		resolved_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_disputes_order_id ON disputes(order_id);
	CREATE INDEX IF NOT EXISTS idx_disputes_status ON disputes(status);

	-- Withdrawal Requests
	CREATE TABLE IF NOT EXISTS withdrawal_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount_fiat TEXT NOT NULL,
		amount_crypto TEXT NOT NULL,
		fee_fiat TEXT NOT NULL,
		destination_address TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawals_user_status ON withdrawal_requests(user_id, status, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}
