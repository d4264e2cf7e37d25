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

	"market-escrow-go/internal/auth"
	"market-escrow-go/internal/common"
	"market-escrow-go/internal/config"

	"go.uber.org/zap"
)

// setup creates the database schema, verifies the currency configuration and
// seeds the platform fee account plus any users passed via flags.
func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "Create a user: id:name")
	arbiterFlag := flag.String("arbiter", "", "Create an arbiter: id:name")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	common.PrintHeader("LEDGER SETUP", common.DefaultWidth)
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	fmt.Printf("Currencies: %v\n", services.Currencies.Symbols())

	// The fee account is a regular ledger user so fee credits reconcile like
	// every other balance.
	if _, err := services.DbService.CreateUser(ctx, cfg.Platform.FeeAccountId, "Platform Fees", auth.RoleUser); err != nil {
		logger.Fatal("Failed to create platform fee account", zap.Error(err))
	}
	fmt.Printf("Fee account: %s\n", cfg.Platform.FeeAccountId)

	for _, spec := range []struct {
		value string
		role  string
	}{
		{*userFlag, auth.RoleUser},
		{*arbiterFlag, auth.RoleArbiter},
	} {
		if spec.value == "" {
			continue
		}
		id, name, ok := splitUserSpec(spec.value)
		if !ok {
			logger.Fatal("Invalid user spec, want id:name", zap.String("spec", spec.value))
		}
		if _, err := services.DbService.CreateUser(ctx, id, name, spec.role); err != nil {
			logger.Fatal("Failed to create user", zap.String("id", id), zap.Error(err))
		}
		fmt.Printf("Created %s %s (%s)\n", spec.role, id, name)
	}

	common.PrintFooter("Setup complete", common.DefaultWidth)
}

func splitUserSpec(spec string) (id, name string, ok bool) {
	for i := 0; i < len(spec); i++ {
		if spec[i] == ':' {
			return spec[:i], spec[i+1:], i > 0 && i < len(spec)-1
		}
	}
	return "", "", false
}
