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

package main

import (
	"context"
	"flag"
	"fmt"

	"market-escrow-go/internal/common"
	"market-escrow-go/internal/config"
	"market-escrow-go/internal/database"
	"market-escrow-go/internal/models"

	"go.uber.org/zap"
)

func formatEntryId(entryId string) string {
	if entryId == "" {
		return "none"
	}
	if len(entryId) > 8 {
		return entryId[:8] + "..."
	}
	return entryId
}

func printAccount(account models.WalletAccount, isLast bool) {
	fmt.Printf("%s %-8s: %20s (deposited %s, v%d, last_entry: %s, updated: %s)\n",
		common.BoxPrefix(isLast),
		account.Currency,
		account.Balance.String(),
		account.DepositedTotal.String(),
		account.Version,
		formatEntryId(account.LastEntryId),
		account.UpdatedAt.Format("2006-01-02 15:04:05"))
}

func processUser(ctx context.Context, user models.User, dbService *database.Service, verify bool, logger *zap.Logger) int {
	accounts, err := dbService.GetAllBalances(ctx, user.Id)
	if err != nil {
		logger.Error("Failed to get balances",
			zap.String("user_id", user.Id), zap.Error(err))
		return 0
	}
	if len(accounts) == 0 {
		return 0
	}

	fmt.Printf("\n┌─ User: %s (%s, %s)\n", user.Name, user.Id, user.Role)
	common.PrintBoxSeparator(78)
	for i, account := range accounts {
		printAccount(account, i == len(accounts)-1)

		if verify {
			if err := dbService.ReconcileBalance(ctx, user.Id, account.Currency); err != nil {
				fmt.Printf("   !! RECONCILIATION FAILED: %v\n", err)
			}
		}
	}
	return len(accounts)
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "Show only this user id (optional)")
	verifyFlag := flag.Bool("verify", false, "Reconcile each balance against the ledger")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	var users []models.User
	if *userFlag != "" {
		user, err := dbService.GetUserById(ctx, *userFlag)
		if err != nil {
			logger.Fatal("User not found", zap.String("user_id", *userFlag), zap.Error(err))
		}
		users = []models.User{*user}
	} else {
		users, err = dbService.GetUsers(ctx)
		if err != nil {
			logger.Fatal("Failed to get users", zap.Error(err))
		}
	}

	common.PrintHeader("WALLET BALANCE REPORT", common.DefaultWidth)

	totalBalances := 0
	usersWithBalances := 0
	for _, user := range users {
		count := processUser(ctx, user, dbService, *verifyFlag, logger)
		if count > 0 {
			usersWithBalances++
			totalBalances += count
		}
	}

	summary := fmt.Sprintf("SUMMARY: %d users with balances (%d total balances across %d users queried)",
		usersWithBalances, totalBalances, len(users))
	common.PrintFooter(summary, common.DefaultWidth)
}
