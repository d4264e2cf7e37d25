package withdraw

import (
	"fmt"
	"strings"

	"market-escrow-go/internal/store"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
)

// Address format keys, referenced from currencies.yaml.
const (
	FormatBitcoin  = "bitcoin"
	FormatLitecoin = "litecoin"
	FormatEthereum = "ethereum"
	FormatMonero   = "monero"
)

// Litecoin mainnet version bytes for legacy (L) and script (M) addresses.
const (
	ltcPubKeyHashVersion = 0x30
	ltcScriptHashVersion = 0x32
)

// ValidateAddress checks that a destination address is well formed for the
// given format. It validates shape only; whether the address is spendable is
// the user's problem.
func ValidateAddress(format, address string) error {
	if address == "" {
		return fmt.Errorf("%w: destination address is empty", store.ErrLimitExceeded)
	}

	switch format {
	case FormatBitcoin:
		if _, err := btcutil.DecodeAddress(address, &chaincfg.MainNetParams); err != nil {
			return fmt.Errorf("%w: invalid bitcoin address: %v", store.ErrLimitExceeded, err)
		}
		return nil

	case FormatLitecoin:
		return validateLitecoin(address)

	case FormatEthereum:
		if !common.IsHexAddress(address) {
			return fmt.Errorf("%w: invalid ethereum address", store.ErrLimitExceeded)
		}
		return nil

	case FormatMonero:
		return validateMonero(address)

	default:
		return fmt.Errorf("unknown address format %q", format)
	}
}

func validateLitecoin(address string) error {
	// Bech32 addresses carry the ltc1 human-readable part.
	if strings.HasPrefix(strings.ToLower(address), "ltc1") {
		if len(address) < 14 {
			return fmt.Errorf("%w: invalid litecoin address", store.ErrLimitExceeded)
		}
		return nil
	}

	decoded, version, err := base58.CheckDecode(address)
	if err != nil {
		return fmt.Errorf("%w: invalid litecoin address: %v", store.ErrLimitExceeded, err)
	}
	if len(decoded) != 20 {
		return fmt.Errorf("%w: invalid litecoin address payload", store.ErrLimitExceeded)
	}
	if version != ltcPubKeyHashVersion && version != ltcScriptHashVersion {
		return fmt.Errorf("%w: not a litecoin mainnet address", store.ErrLimitExceeded)
	}
	return nil
}

func validateMonero(address string) error {
	// Standard addresses are 95 base58 chars starting with 4, subaddresses
	// start with 8, integrated addresses are 106 chars.
	if len(address) != 95 && len(address) != 106 {
		return fmt.Errorf("%w: invalid monero address length", store.ErrLimitExceeded)
	}
	if address[0] != '4' && address[0] != '8' {
		return fmt.Errorf("%w: invalid monero address prefix", store.ErrLimitExceeded)
	}
	return nil
}
