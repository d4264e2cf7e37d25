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
	"market-escrow-go/internal/withdraw"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// withdraw submits a payout request after running the full policy check.
func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "User id (required)")
	currencyFlag := flag.String("currency", "BTC", "Currency symbol")
	amountFlag := flag.String("amount", "", "Amount in EUR (required)")
	addressFlag := flag.String("address", "", "Destination address (required)")
	dryRunFlag := flag.Bool("dry-run", false, "Validate only, move no funds")
	flag.Parse()

	if *userFlag == "" || *amountFlag == "" || *addressFlag == "" {
		logger.Fatal("-user, -amount and -address are required")
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

	withdrawService, err := withdraw.NewService(services.DbService, services.Currencies,
		services.Oracle, services.Publisher, cfg.Withdrawal)
	if err != nil {
		logger.Fatal("Failed to create withdrawal service", zap.Error(err))
	}

	params := withdraw.SubmitParams{
		UserId:             *userFlag,
		Currency:           *currencyFlag,
		AmountFiat:         amount,
		DestinationAddress: *addressFlag,
	}

	if *dryRunFlag {
		fee, err := withdrawService.Validate(ctx, params)
		if err != nil {
			logger.Fatal("Withdrawal would be rejected", zap.Error(err))
		}
		fmt.Printf("Withdrawal passes all checks. Fee: %s EUR, net: %s EUR\n",
			fee.String(), amount.Sub(fee).String())
		return
	}

	req, err := withdrawService.Submit(ctx, params)
	if err != nil {
		logger.Fatal("Withdrawal rejected", zap.Error(err))
	}

	common.PrintHeader("WITHDRAWAL SUBMITTED", common.DefaultWidth)
	fmt.Printf("Request id: %s\n", req.Id)
	fmt.Printf("Debited:    %s %s (%s EUR)\n", req.AmountCrypto.String(), req.Currency, req.AmountFiat.String())
	fmt.Printf("Fee:        %s EUR\n", req.FeeFiat.String())
	fmt.Printf("To:         %s\n", req.DestinationAddress)
	common.PrintFooter("Payout queued", common.DefaultWidth)
}
