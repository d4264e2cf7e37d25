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

const (
	// User queries
	queryInsertUser = `
		INSERT OR IGNORE INTO users (id, name, role) VALUES (?, ?, ?)`

	queryGetUserById = `
		SELECT id, name, role, created_at, updated_at
		FROM users
		WHERE id = ?`

	queryGetUsers = `
		SELECT id, name, role, created_at, updated_at
		FROM users
		ORDER BY created_at`

	// Wallet account queries
	queryGetAccount = `
		SELECT id, balance, deposited_total, version
		FROM wallet_accounts
		WHERE user_id = ? AND currency = ?`

	queryInsertAccount = `
		INSERT INTO wallet_accounts (id, user_id, currency, balance, deposited_total, version)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryUpdateAccount = `
		UPDATE wallet_accounts
		SET balance = ?, deposited_total = ?, last_entry_id = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND currency = ? AND version = ?`

	queryGetBalance = `
		SELECT balance
		FROM wallet_accounts
		WHERE user_id = ? AND currency = ?`

	queryGetAllBalances = `
		SELECT id, user_id, currency, balance, deposited_total, COALESCE(last_entry_id, ''), version, updated_at
		FROM wallet_accounts
		WHERE user_id = ?
		ORDER BY currency`

	queryReconcileBalance = `
		SELECT COALESCE(SUM(CAST(amount AS NUMERIC)), 0)
		FROM ledger_entries
		WHERE user_id = ? AND currency = ?`

	// Ledger entry queries
	queryCheckDuplicateEntry = `
		SELECT id FROM ledger_entries WHERE external_tx_id = ? LIMIT 1`

	queryInsertLedgerEntry = `
		INSERT INTO ledger_entries (
			id, user_id, currency, entry_type, amount, balance_before, balance_after,
			external_tx_id, order_id, reference, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetLedgerHistory = `
		SELECT id, user_id, currency, entry_type, amount, balance_before, balance_after,
		       COALESCE(external_tx_id, ''), COALESCE(order_id, ''), COALESCE(reference, ''), created_at
		FROM ledger_entries
		WHERE user_id = ? AND currency = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	queryInsertJournalEntry = `
		INSERT INTO journal_entries (id, entry_id, account_type, account_id, debit_amount, credit_amount)
		VALUES (?, ?, ?, ?, ?, ?)`

	// Deposit request queries
	queryCountPendingFingerprint = `
		SELECT COUNT(*)
		FROM deposit_requests
		WHERE currency = ? AND fingerprint = ? AND status IN ('pending', 'received', 'confirmed')`

	queryInsertDepositRequest = `
		INSERT INTO deposit_requests (
			id, user_id, currency, requested_fiat, crypto_amount, amount_atomic,
			fingerprint, locked_rate, shared_address, status, confirmations, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetDepositRequest = `
		SELECT id, user_id, currency, requested_fiat, crypto_amount, amount_atomic,
		       fingerprint, locked_rate, shared_address, status, confirmations,
		       COALESCE(tx_hash, ''), expires_at, created_at, updated_at
		FROM deposit_requests
		WHERE id = ?`

	queryFindPendingByFingerprint = `
		SELECT id, user_id, currency, requested_fiat, crypto_amount, amount_atomic,
		       fingerprint, locked_rate, shared_address, status, confirmations,
		       COALESCE(tx_hash, ''), expires_at, created_at, updated_at
		FROM deposit_requests
		WHERE currency = ? AND fingerprint = ?
		  AND status IN ('pending', 'received', 'confirmed')
		  AND expires_at > ?`

	queryMarkDepositReceived = `
		UPDATE deposit_requests
		SET status = 'received', tx_hash = ?, confirmations = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN ('pending', 'received')`

	queryMarkDepositConfirmed = `
		UPDATE deposit_requests
		SET status = 'confirmed', confirmations = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN ('pending', 'received', 'confirmed')`

	queryCompleteDeposit = `
		UPDATE deposit_requests
		SET status = 'completed', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN ('pending', 'received', 'confirmed')`

	queryCancelDeposit = `
		UPDATE deposit_requests
		SET status = 'cancelled', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'pending'`

	queryExpireDeposits = `
		UPDATE deposit_requests
		SET status = 'expired', updated_at = CURRENT_TIMESTAMP
		WHERE status = 'pending' AND expires_at <= ?`

	queryInsertReviewItem = `
		INSERT INTO deposit_review_queue (
			id, currency, shared_address, amount_atomic, tx_hash, fingerprint, match_count, reason, resolved
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`

	// Order and escrow holding queries
	queryInsertOrder = `
		INSERT INTO orders (id, buyer_id, seller_id, goods_type, escrow_status)
		VALUES (?, ?, ?, ?, ?)`

	queryGetOrder = `
		SELECT id, buyer_id, seller_id, goods_type, escrow_status, created_at
		FROM orders
		WHERE id = ?`

	queryUpdateOrderEscrowStatus = `
		UPDATE orders SET escrow_status = ? WHERE id = ?`

	queryInsertHolding = `
		INSERT INTO escrow_holdings (
			id, order_id, buyer_id, seller_id, currency,
			amount_crypto, amount_fiat, fee_crypto, fee_fiat, seller_crypto, seller_fiat,
			status, auto_release_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectHoldingColumns = `
		SELECT id, order_id, buyer_id, seller_id, currency,
		       amount_crypto, amount_fiat, fee_crypto, fee_fiat, seller_crypto, seller_fiat,
		       status, auto_release_at, released_at, COALESCE(released_by, ''), created_at, updated_at
		FROM escrow_holdings`

	queryGetHolding = selectHoldingColumns + `
		WHERE id = ?`

	queryGetHoldingsByOrder = selectHoldingColumns + `
		WHERE order_id = ?
		ORDER BY created_at`

	queryListAutoReleasable = selectHoldingColumns + `
		WHERE status = 'held' AND auto_release_at <= ?
		ORDER BY auto_release_at
		LIMIT ?`

	queryMarkHoldingsDisputed = `
		UPDATE escrow_holdings
		SET status = 'disputed', updated_at = CURRENT_TIMESTAMP
		WHERE order_id = ? AND status = 'held'`

	// Dispute queries
	queryInsertDispute = `
		INSERT INTO disputes (id, order_id, plaintiff_id, defendant_id, status)
		VALUES (?, ?, ?, ?, ?)`

	queryGetDispute = `
		SELECT id, order_id, plaintiff_id, defendant_id, status,
		       COALESCE(resolution_type, ''), COALESCE(resolution_text, ''),
		       COALESCE(admin_assigned, ''), resolved_at, created_at, updated_at
		FROM disputes
		WHERE id = ?`

	queryGetActiveDisputeByOrder = `
		SELECT id, order_id, plaintiff_id, defendant_id, status,
		       COALESCE(resolution_type, ''), COALESCE(resolution_text, ''),
		       COALESCE(admin_assigned, ''), resolved_at, created_at, updated_at
		FROM disputes
		WHERE order_id = ? AND status IN ('open', 'in_progress')
		LIMIT 1`

	queryResolveDispute = `
		UPDATE disputes
		SET status = ?, resolution_type = ?, resolution_text = ?, admin_assigned = ?,
		    resolved_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN ('open', 'in_progress')`

	// Withdrawal queries
	queryInsertWithdrawal = `
		INSERT INTO withdrawal_requests (
			id, user_id, currency, amount_fiat, amount_crypto, fee_fiat,
			destination_address, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetWithdrawal = `
		SELECT id, user_id, currency, amount_fiat, amount_crypto, fee_fiat,
		       destination_address, status, created_at, updated_at
		FROM withdrawal_requests
		WHERE id = ?`

	querySumSpentFiatSince = `
		SELECT COALESCE(SUM(CAST(amount_fiat AS NUMERIC)), 0)
		FROM withdrawal_requests
		WHERE user_id = ? AND status IN ('pending', 'processing', 'completed') AND created_at >= ?`

	queryUpdateWithdrawalStatus = `
		UPDATE withdrawal_requests
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`
)
