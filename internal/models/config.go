package models

import "time"

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig
	Watcher    WatcherConfig
	Escrow     EscrowConfig
	Withdrawal WithdrawalConfig
	Notify     NotifyConfig
	Auth       AuthConfig
	Platform   PlatformConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// WatcherConfig holds deposit watcher settings
type WatcherConfig struct {
	LookbackWindow  time.Duration
	PollingInterval time.Duration
	CleanupInterval time.Duration
	SweepInterval   time.Duration
	CurrenciesFile  string
	DepositTTL      time.Duration
}

// EscrowConfig holds escrow policy windows.
type EscrowConfig struct {
	DigitalWindow  time.Duration
	PhysicalWindow time.Duration
	DisputeWindow  time.Duration
	SweepInterval  time.Duration
}

// WithdrawalConfig holds calendar-day and calendar-month spend caps (fiat).
type WithdrawalConfig struct {
	DailyLimitFiat   string
	MonthlyLimitFiat string
}

// NotifyConfig holds the notification sink settings.
type NotifyConfig struct {
	RedisAddr     string
	RedisPassword string
	Channel       string
}

// AuthConfig holds identity verification settings.
type AuthConfig struct {
	JWTSecret string
}

// PlatformConfig identifies the internal accounts funds settle against.
type PlatformConfig struct {
	FeeAccountId string
	FeePercent   string
}
