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
	"market-escrow-go/internal/fingerprint"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// deposit creates a deposit request and prints the exact amount the user
// must send to the shared address.
func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "User id (required)")
	currencyFlag := flag.String("currency", "BTC", "Currency symbol")
	amountFlag := flag.String("amount", "", "Requested amount in EUR (required)")
	flag.Parse()

	if *userFlag == "" || *amountFlag == "" {
		logger.Fatal("Both -user and -amount are required")
	}

	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		logger.Fatal("Invalid amount", zap.String("amount", *amountFlag), zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	engine := fingerprint.NewEngine(services.DbService, services.Currencies,
		services.Oracle, services.Publisher, cfg.Watcher.DepositTTL)

	req, err := engine.CreateRequest(ctx, *userFlag, *currencyFlag, amount)
	if err != nil {
		logger.Fatal("Failed to create deposit request", zap.Error(err))
	}

	common.PrintHeader("DEPOSIT REQUEST", common.DefaultWidth)
	fmt.Printf("Request id:   %s\n", req.Id)
	fmt.Printf("Send exactly: %s %s\n", req.CryptoAmount.String(), req.Currency)
	fmt.Printf("To address:   %s\n", req.SharedAddress)
	fmt.Printf("Locked rate:  %s EUR/%s\n", req.LockedRate.String(), req.Currency)
	fmt.Printf("Expires at:   %s\n", req.ExpiresAt.Format("2006-01-02 15:04:05"))
	common.PrintFooter("Send the exact amount - it identifies your deposit", common.DefaultWidth)
}
