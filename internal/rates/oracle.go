package rates

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Oracle provides the EUR exchange rate for a currency at request time. The
// rate a deposit or withdrawal locks is whatever the oracle said at creation;
// later rate moves never change a locked request.
type Oracle interface {
	Rate(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// StaticOracle serves operator-configured rates. It is the default source;
// a market-data feed can replace it without touching callers.
type StaticOracle struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal
}

func NewStaticOracle(rates map[string]decimal.Decimal) *StaticOracle {
	copied := make(map[string]decimal.Decimal, len(rates))
	for symbol, rate := range rates {
		copied[symbol] = rate
	}
	return &StaticOracle{rates: copied}
}

func (o *StaticOracle) Rate(_ context.Context, symbol string) (decimal.Decimal, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	rate, ok := o.rates[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no rate configured for %s", symbol)
	}
	if rate.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("non-positive rate configured for %s", symbol)
	}
	return rate, nil
}

// SetRate updates one rate in place.
func (o *StaticOracle) SetRate(symbol string, rate decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rates[symbol] = rate
}
