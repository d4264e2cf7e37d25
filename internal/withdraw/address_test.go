package withdraw

import (
	"errors"
	"strings"
	"testing"

	"market-escrow-go/internal/store"
)

func TestValidateAddress_Bitcoin(t *testing.T) {
	valid := []string{
		"1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
		"3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy",
	}
	for _, address := range valid {
		if err := ValidateAddress(FormatBitcoin, address); err != nil {
			t.Errorf("Expected %s to be valid: %v", address, err)
		}
	}

	invalid := []string{
		"",
		"not-an-address",
		"1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNb", // bad checksum
	}
	for _, address := range invalid {
		if err := ValidateAddress(FormatBitcoin, address); !errors.Is(err, store.ErrLimitExceeded) {
			t.Errorf("Expected %q to be rejected, got: %v", address, err)
		}
	}
}

func TestValidateAddress_Litecoin(t *testing.T) {
	if err := ValidateAddress(FormatLitecoin, "ltc1qg42tkwuuxefutzxezdkdel39gfstuip288nvse"); err != nil {
		t.Errorf("Expected bech32 litecoin address to be valid: %v", err)
	}

	invalid := []string{
		"",
		"ltc1",
		"1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", // bitcoin version byte
		"garbage",
	}
	for _, address := range invalid {
		if err := ValidateAddress(FormatLitecoin, address); !errors.Is(err, store.ErrLimitExceeded) {
			t.Errorf("Expected %q to be rejected, got: %v", address, err)
		}
	}
}

func TestValidateAddress_Ethereum(t *testing.T) {
	if err := ValidateAddress(FormatEthereum, "0x71C7656EC7ab88b098defB751B7401B5f6d8976F"); err != nil {
		t.Errorf("Expected ethereum address to be valid: %v", err)
	}

	invalid := []string{"", "0x123", "71C7656EC7ab88b098defB751B7401B5f6d8976"}
	for _, address := range invalid {
		if err := ValidateAddress(FormatEthereum, address); !errors.Is(err, store.ErrLimitExceeded) {
			t.Errorf("Expected %q to be rejected, got: %v", address, err)
		}
	}
}

func TestValidateAddress_Monero(t *testing.T) {
	standard := "4" + strings.Repeat("A", 94)
	subaddress := "8" + strings.Repeat("B", 94)
	integrated := "4" + strings.Repeat("C", 105)
	for _, address := range []string{standard, subaddress, integrated} {
		if err := ValidateAddress(FormatMonero, address); err != nil {
			t.Errorf("Expected monero address to be valid: %v", err)
		}
	}

	invalid := []string{
		"",
		"4short",
		"9" + strings.Repeat("A", 94), // wrong prefix
		"4" + strings.Repeat("A", 99), // wrong length
	}
	for _, address := range invalid {
		if err := ValidateAddress(FormatMonero, address); !errors.Is(err, store.ErrLimitExceeded) {
			t.Errorf("Expected %q to be rejected, got: %v", address, err)
		}
	}
}

func TestValidateAddress_UnknownFormat(t *testing.T) {
	if err := ValidateAddress("dogecoin", "DTLi1jMbdb9iktCtTzRr4GKWCkmuDL1xTE"); err == nil {
		t.Error("Expected error for unknown format, got nil")
	}
}
