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
	"errors"
	"flag"
	"fmt"

	"market-escrow-go/internal/auth"
	"market-escrow-go/internal/common"
	"market-escrow-go/internal/config"
	"market-escrow-go/internal/dispute"
	"market-escrow-go/internal/models"
	"market-escrow-go/internal/store"

	"go.uber.org/zap"
)

// resolve applies an arbiter verdict to a dispute. The caller authenticates
// with a bearer token carrying the arbiter role.
func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	tokenFlag := flag.String("token", "", "Arbiter bearer token (required)")
	disputeFlag := flag.String("dispute", "", "Dispute id (required)")
	verdictFlag := flag.String("verdict", "", "buyer_favor, seller_favor, partial or dismissed (required)")
	percentFlag := flag.Int64("percent", 50, "Buyer refund percent for partial verdicts, 0-100")
	noteFlag := flag.String("note", "", "Resolution note (required)")
	flag.Parse()

	if *tokenFlag == "" || *disputeFlag == "" || *verdictFlag == "" || *noteFlag == "" {
		logger.Fatal("-token, -dispute, -verdict and -note are required")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	verifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		logger.Fatal("Failed to create token verifier", zap.Error(err))
	}
	identity, err := verifier.Verify(*tokenFlag)
	if err != nil {
		logger.Fatal("Invalid token", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	disputeService := dispute.NewService(services.DbService, services.Publisher, cfg.Platform.FeeAccountId)

	err = disputeService.Resolve(ctx, identity, dispute.ResolveParams{
		DisputeId:     *disputeFlag,
		Resolution:    models.ResolutionType(*verdictFlag),
		RefundPercent: *percentFlag,
		Note:          *noteFlag,
	})
	if err != nil {
		var partial *store.PartialSettlementError
		if errors.As(err, &partial) {
			fmt.Printf("Partial settlement: %d of %d holdings settled\n", partial.Settled, partial.Total)
			for holdingId, holdingErr := range partial.Failures {
				fmt.Printf("  %s: %v\n", holdingId, holdingErr)
			}
			logger.Fatal("Resolution incomplete - retry after fixing the failures above")
		}
		logger.Fatal("Resolution failed", zap.Error(err))
	}

	fmt.Printf("Dispute %s resolved: %s\n", *disputeFlag, *verdictFlag)
}
