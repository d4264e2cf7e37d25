package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func writeCurrencies(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "currencies.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write currencies file: %v", err)
	}
	return path
}

func TestLoadCurrencyConfig(t *testing.T) {
	path := writeCurrencies(t, `
currencies:
  - symbol: BTC
    decimals: 8
    min_confirmations: 2
    address_format: bitcoin
    shared_address: "bc1qtest"
    rate_eur: "60000"
    min_withdrawal_eur: "10"
    base_fee_eur: "1"
    percentage_fee: "1"
    network_fee: "0.00005"
`)

	set, err := LoadCurrencyConfig(path)
	if err != nil {
		t.Fatalf("LoadCurrencyConfig failed: %v", err)
	}

	cfg, ok := set.Get("BTC")
	if !ok {
		t.Fatal("Expected BTC to be configured")
	}
	if cfg.Decimals != 8 {
		t.Errorf("Expected 8 decimals, got %d", cfg.Decimals)
	}
	if !cfg.RateEUR.Equal(decimal.RequireFromString("60000")) {
		t.Errorf("Expected rate 60000, got %s", cfg.RateEUR.String())
	}
	if !cfg.Fees.MinAmountFiat.Equal(decimal.RequireFromString("10")) {
		t.Errorf("Expected min withdrawal 10, got %s", cfg.Fees.MinAmountFiat.String())
	}
}

func TestLoadCurrencyConfig_RejectsBadEntries(t *testing.T) {
	cases := map[string]string{
		"missing shared address": `
currencies:
  - symbol: BTC
    decimals: 8
    min_confirmations: 2
    rate_eur: "60000"
`,
		"decimals too small": `
currencies:
  - symbol: BTC
    decimals: 2
    min_confirmations: 2
    shared_address: "bc1qtest"
    rate_eur: "60000"
`,
		"non-positive rate": `
currencies:
  - symbol: BTC
    decimals: 8
    min_confirmations: 2
    shared_address: "bc1qtest"
    rate_eur: "0"
`,
		"invalid decimal": `
currencies:
  - symbol: BTC
    decimals: 8
    min_confirmations: 2
    shared_address: "bc1qtest"
    rate_eur: "sixty thousand"
`,
		"empty file": `currencies: []`,
	}

	for name, content := range cases {
		if _, err := LoadCurrencyConfig(writeCurrencies(t, content)); err == nil {
			t.Errorf("%s: expected error, got nil", name)
		}
	}
}
