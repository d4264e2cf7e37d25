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
	"os"
	"os/signal"
	"syscall"

	"market-escrow-go/internal/common"
	"market-escrow-go/internal/config"
	"market-escrow-go/internal/custody"
	"market-escrow-go/internal/escrow"
	"market-escrow-go/internal/fingerprint"
	"market-escrow-go/internal/watcher"

	"go.uber.org/zap"
)

// escrowd runs the long-lived side of the ledger: the deposit watcher that
// attributes incoming payments and the escrow sweeper that auto-releases
// overdue holdings.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	creds, err := common.LoadCustodyCredentials()
	if err != nil {
		logger.Fatal("Failed to load custody credentials", zap.Error(err))
	}

	custodyService, err := custody.NewService(creds, services.Currencies)
	if err != nil {
		logger.Fatal("Failed to create custody service", zap.Error(err))
	}
	if err := custodyService.Init(ctx); err != nil {
		logger.Fatal("Failed to initialize custody service", zap.Error(err))
	}

	engine := fingerprint.NewEngine(services.DbService, services.Currencies,
		services.Oracle, services.Publisher, cfg.Watcher.DepositTTL)

	depositWatcher := watcher.New(watcher.Config{
		Source:          custodyService,
		Handler:         engine,
		Currencies:      services.Currencies,
		LookbackWindow:  cfg.Watcher.LookbackWindow,
		PollingInterval: cfg.Watcher.PollingInterval,
		CleanupInterval: cfg.Watcher.CleanupInterval,
		SweepInterval:   cfg.Watcher.SweepInterval,
	})
	if err := depositWatcher.Start(ctx); err != nil {
		logger.Fatal("Failed to start deposit watcher", zap.Error(err))
	}

	escrowService, err := escrow.NewService(services.DbService, services.Currencies,
		services.Oracle, services.Publisher, cfg.Escrow,
		services.FeePercent, cfg.Platform.FeeAccountId)
	if err != nil {
		logger.Fatal("Failed to create escrow service", zap.Error(err))
	}
	escrowService.Start(ctx)

	logger.Info("escrowd running",
		zap.Strings("currencies", services.Currencies.Symbols()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down")
	escrowService.Stop()
	depositWatcher.Stop()
}
