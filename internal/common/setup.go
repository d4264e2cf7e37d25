package common

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"market-escrow-go/internal/database"
	"market-escrow-go/internal/models"
	"market-escrow-go/internal/notify"
	"market-escrow-go/internal/rates"

	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
	}
}

// Services bundles everything the daemons and CLIs share.
type Services struct {
	DbService  *database.Service
	Currencies CurrencySet
	Oracle     rates.Oracle
	Publisher  notify.Publisher
	FeePercent decimal.Decimal
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices opens the database, loads the currency configuration
// and wires the rate oracle and notification sink.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	currencies, err := LoadCurrencyConfig(cfg.Watcher.CurrenciesFile)
	if err != nil {
		dbService.Close()
		return nil, err
	}
	zap.L().Info("Loaded currency configuration",
		zap.Strings("currencies", currencies.Symbols()))

	staticRates := make(map[string]decimal.Decimal, len(currencies))
	for symbol, currency := range currencies {
		staticRates[symbol] = currency.RateEUR
	}
	oracle := rates.NewStaticOracle(staticRates)

	var publisher notify.Publisher = notify.NopPublisher{}
	if cfg.Notify.RedisAddr != "" {
		publisher = notify.NewRedisPublisher(cfg.Notify.RedisAddr, cfg.Notify.RedisPassword, cfg.Notify.Channel)
		zap.L().Info("Notification sink enabled",
			zap.String("addr", cfg.Notify.RedisAddr),
			zap.String("channel", cfg.Notify.Channel))
	}

	feePercent, err := decimal.NewFromString(cfg.Platform.FeePercent)
	if err != nil {
		dbService.Close()
		return nil, fmt.Errorf("invalid platform fee percent %q: %w", cfg.Platform.FeePercent, err)
	}

	return &Services{
		DbService:  dbService,
		Currencies: currencies,
		Oracle:     oracle,
		Publisher:  publisher,
		FeePercent: feePercent,
	}, nil
}

// InitializeDatabaseOnly initializes just the database service.
// Useful for read-only operations like querying balances.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (cs *Services) Close() {
	if cs.DbService != nil {
		cs.DbService.Close()
	}
	if closer, ok := cs.Publisher.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			zap.L().Warn("Failed to close notification sink", zap.Error(err))
		}
	}
}

// LoadCustodyCredentials reads the custody API credentials from the
// environment.
func LoadCustodyCredentials() (*credentials.Credentials, error) {
	accessKey := os.Getenv("PRIME_ACCESS_KEY")
	passphrase := os.Getenv("PRIME_PASSPHRASE")
	signingKey := os.Getenv("PRIME_SIGNING_KEY")

	if accessKey == "" || passphrase == "" || signingKey == "" {
		return nil, fmt.Errorf("missing required custody API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}

	return &credentials.Credentials{
		AccessKey:  accessKey,
		Passphrase: passphrase,
		SigningKey: signingKey,
	}, nil
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
