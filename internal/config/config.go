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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"market-escrow-go/internal/models"
)

func Load() (*models.Config, error) {
	lookbackWindow, err := getEnvDuration("WATCHER_LOOKBACK_WINDOW", 6*time.Hour)
	if err != nil {
		return nil, err
	}

	pollingInterval, err := getEnvDuration("WATCHER_POLLING_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	cleanupInterval, err := getEnvDuration("WATCHER_CLEANUP_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, err
	}

	depositSweepInterval, err := getEnvDuration("DEPOSIT_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}

	depositTTL, err := getEnvDuration("DEPOSIT_TTL", 2*time.Hour)
	if err != nil {
		return nil, err
	}

	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	digitalWindow, err := getEnvDuration("ESCROW_DIGITAL_WINDOW", 72*time.Hour)
	if err != nil {
		return nil, err
	}

	physicalWindow, err := getEnvDuration("ESCROW_PHYSICAL_WINDOW", 336*time.Hour)
	if err != nil {
		return nil, err
	}

	disputeWindow, err := getEnvDuration("ESCROW_DISPUTE_WINDOW", 720*time.Hour)
	if err != nil {
		return nil, err
	}

	escrowSweepInterval, err := getEnvDuration("ESCROW_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "escrow.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Watcher: models.WatcherConfig{
			LookbackWindow:  lookbackWindow,
			PollingInterval: pollingInterval,
			CleanupInterval: cleanupInterval,
			SweepInterval:   depositSweepInterval,
			CurrenciesFile:  getEnvString("CURRENCIES_FILE", "currencies.yaml"),
			DepositTTL:      depositTTL,
		},
		Escrow: models.EscrowConfig{
			DigitalWindow:  digitalWindow,
			PhysicalWindow: physicalWindow,
			DisputeWindow:  disputeWindow,
			SweepInterval:  escrowSweepInterval,
		},
		Withdrawal: models.WithdrawalConfig{
			DailyLimitFiat:   getEnvString("WITHDRAWAL_DAILY_LIMIT_EUR", "500"),
			MonthlyLimitFiat: getEnvString("WITHDRAWAL_MONTHLY_LIMIT_EUR", "5000"),
		},
		Notify: models.NotifyConfig{
			RedisAddr:     getEnvString("REDIS_ADDR", ""),
			RedisPassword: getEnvString("REDIS_PASSWORD", ""),
			Channel:       getEnvString("NOTIFY_CHANNEL", "ledger-events"),
		},
		Auth: models.AuthConfig{
			JWTSecret: getEnvString("JWT_SECRET", ""),
		},
		Platform: models.PlatformConfig{
			FeeAccountId: getEnvString("PLATFORM_FEE_ACCOUNT", "platform-fees"),
			FeePercent:   getEnvString("PLATFORM_FEE_PERCENT", "5"),
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
