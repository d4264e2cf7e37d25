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
	"market-escrow-go/internal/escrow"
	"market-escrow-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// checkout moves a buyer's funds into escrow for an order.
func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	buyerFlag := flag.String("buyer", "", "Buyer user id (required)")
	sellerFlag := flag.String("seller", "", "Seller user id (required)")
	currencyFlag := flag.String("currency", "BTC", "Currency symbol")
	amountFlag := flag.String("amount", "", "Order amount in EUR (required)")
	goodsFlag := flag.String("goods", "physical", "Goods type: digital or physical")
	flag.Parse()

	if *buyerFlag == "" || *sellerFlag == "" || *amountFlag == "" {
		logger.Fatal("-buyer, -seller and -amount are required")
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

	escrowService, err := escrow.NewService(services.DbService, services.Currencies,
		services.Oracle, services.Publisher, cfg.Escrow,
		services.FeePercent, cfg.Platform.FeeAccountId)
	if err != nil {
		logger.Fatal("Failed to create escrow service", zap.Error(err))
	}

	order, err := escrowService.Checkout(ctx, escrow.CheckoutParams{
		BuyerId:   *buyerFlag,
		SellerId:  *sellerFlag,
		GoodsType: models.GoodsType(*goodsFlag),
		Lines: []escrow.CheckoutLine{
			{Currency: *currencyFlag, AmountFiat: amount},
		},
	})
	if err != nil {
		logger.Fatal("Checkout failed", zap.Error(err))
	}

	holdings, err := services.DbService.GetHoldingsByOrder(ctx, order.Id)
	if err != nil {
		logger.Fatal("Failed to load holdings", zap.Error(err))
	}

	common.PrintHeader("ORDER CREATED", common.DefaultWidth)
	fmt.Printf("Order id: %s\n", order.Id)
	for _, holding := range holdings {
		fmt.Printf("Holding %s: %s %s in escrow (fee %s, seller %s), auto-release %s\n",
			holding.Id, holding.AmountCrypto.String(), holding.Currency,
			holding.FeeCrypto.String(), holding.SellerCrypto.String(),
			holding.AutoReleaseAt.Format("2006-01-02 15:04:05"))
	}
	common.PrintFooter("Funds held in escrow", common.DefaultWidth)
}
