package common

import (
	"fmt"
	"os"
	"path/filepath"

	"market-escrow-go/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// currencyYAML is the raw on-disk shape. Decimal amounts are strings because
// yaml.v2 has no hook for decimal.Decimal.
type currencyYAML struct {
	Symbol           string `yaml:"symbol"`
	Decimals         int32  `yaml:"decimals"`
	MinConfirmations int    `yaml:"min_confirmations"`
	AddressFormat    string `yaml:"address_format"`
	SharedAddress    string `yaml:"shared_address"`
	RateEUR          string `yaml:"rate_eur"`
	MinWithdrawalEUR string `yaml:"min_withdrawal_eur"`
	BaseFeeEUR       string `yaml:"base_fee_eur"`
	PercentageFee    string `yaml:"percentage_fee"`
	NetworkFee       string `yaml:"network_fee"`
}

type currenciesYAML struct {
	Currencies []currencyYAML `yaml:"currencies"`
}

// CurrencyConfig is the runtime configuration of one supported currency.
// Decimals is the atomic-unit scale used for deposit fingerprinting, not
// necessarily the chain's native scale.
type CurrencyConfig struct {
	Symbol           string
	Decimals         int32
	MinConfirmations int
	AddressFormat    string
	SharedAddress    string
	RateEUR          decimal.Decimal
	Fees             models.FeeSchedule
}

// CurrencySet indexes supported currencies by symbol.
type CurrencySet map[string]CurrencyConfig

// Get returns the config for one symbol.
func (c CurrencySet) Get(symbol string) (CurrencyConfig, bool) {
	cfg, ok := c[symbol]
	return cfg, ok
}

// Symbols returns the supported symbols in unspecified order.
func (c CurrencySet) Symbols() []string {
	symbols := make([]string, 0, len(c))
	for symbol := range c {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// LoadCurrencyConfig reads and validates the currency configuration file.
func LoadCurrencyConfig(currenciesFile string) (CurrencySet, error) {
	var currenciesPath string
	if filepath.IsAbs(currenciesFile) {
		currenciesPath = currenciesFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		currenciesPath = filepath.Join(wd, currenciesFile)
	}

	data, err := os.ReadFile(currenciesPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", currenciesFile, err)
	}

	var raw currenciesYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", currenciesFile, err)
	}

	set := make(CurrencySet, len(raw.Currencies))
	for i, entry := range raw.Currencies {
		if entry.Symbol == "" {
			return nil, fmt.Errorf("currency at index %d missing symbol", i)
		}
		if entry.Decimals < 6 {
			return nil, fmt.Errorf("currency %s: decimals must be at least 6, got %d", entry.Symbol, entry.Decimals)
		}
		if entry.SharedAddress == "" {
			return nil, fmt.Errorf("currency %s missing shared_address", entry.Symbol)
		}
		if entry.MinConfirmations <= 0 {
			return nil, fmt.Errorf("currency %s: min_confirmations must be positive", entry.Symbol)
		}

		cfg := CurrencyConfig{
			Symbol:           entry.Symbol,
			Decimals:         entry.Decimals,
			MinConfirmations: entry.MinConfirmations,
			AddressFormat:    entry.AddressFormat,
			SharedAddress:    entry.SharedAddress,
		}

		for _, field := range []struct {
			dst  *decimal.Decimal
			src  string
			name string
		}{
			{&cfg.RateEUR, entry.RateEUR, "rate_eur"},
			{&cfg.Fees.MinAmountFiat, entry.MinWithdrawalEUR, "min_withdrawal_eur"},
			{&cfg.Fees.BaseFeeFiat, entry.BaseFeeEUR, "base_fee_eur"},
			{&cfg.Fees.PercentageFee, entry.PercentageFee, "percentage_fee"},
			{&cfg.Fees.NetworkFeeCrypto, entry.NetworkFee, "network_fee"},
		} {
			if field.src == "" {
				*field.dst = decimal.Zero
				continue
			}
			*field.dst, err = decimal.NewFromString(field.src)
			if err != nil {
				return nil, fmt.Errorf("currency %s: invalid %s %q: %w", entry.Symbol, field.name, field.src, err)
			}
		}

		if cfg.RateEUR.Sign() <= 0 {
			return nil, fmt.Errorf("currency %s: rate_eur must be positive", entry.Symbol)
		}

		set[entry.Symbol] = cfg
	}

	if len(set) == 0 {
		return nil, fmt.Errorf("no currencies configured in %s", currenciesFile)
	}
	return set, nil
}
