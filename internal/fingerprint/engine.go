package fingerprint

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"market-escrow-go/internal/common"
	"market-escrow-go/internal/models"
	"market-escrow-go/internal/notify"
	"market-escrow-go/internal/rates"
	"market-escrow-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Fingerprint band constants. The 4-digit fingerprint occupies the
// hundreds-of-atomic-units band: amount = lead*1_000_000 + f*100 + r2.
// Sender-side fee noise below 100 atomic units cannot disturb the band, and
// floor(amount/100) mod 10000 recovers f exactly.
const (
	fingerprintMin = 1000
	fingerprintMax = 9999

	bandScale = 100
	bandSpan  = 10000
	leadScale = 1_000_000

	// maxCreateAttempts bounds fingerprint redraws when a drawn value
	// collides with a live request on the same currency.
	maxCreateAttempts = 5
)

// Engine issues deposit requests with fingerprinted amounts and attributes
// incoming chain events back to them.
type Engine struct {
	store      store.Store
	currencies common.CurrencySet
	oracle     rates.Oracle
	publisher  notify.Publisher
	depositTTL time.Duration
}

func NewEngine(st store.Store, currencies common.CurrencySet, oracle rates.Oracle, publisher notify.Publisher, depositTTL time.Duration) *Engine {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &Engine{
		store:      st,
		currencies: currencies,
		oracle:     oracle,
		publisher:  publisher,
		depositTTL: depositTTL,
	}
}

// Recover extracts the 4-digit fingerprint from an observed atomic amount.
func Recover(amountAtomic int64) int {
	return int((amountAtomic / bandScale) % bandSpan)
}

// Encode builds the exact atomic amount a depositor must send.
func Encode(leadAtomic int64, fingerprint, residual int) int64 {
	return leadAtomic*leadScale + int64(fingerprint)*bandScale + int64(residual)
}

// CreateRequest locks the current rate, converts the requested fiat value to
// an atomic crypto amount and embeds a unique fingerprint into it. The
// returned request tells the user the exact amount to send to the currency's
// shared address before the request expires.
func (e *Engine) CreateRequest(ctx context.Context, userId, currency string, requestedFiat decimal.Decimal) (*models.DepositRequest, error) {
	if requestedFiat.Sign() <= 0 {
		return nil, fmt.Errorf("requested amount must be positive, got %s", requestedFiat.String())
	}

	cfg, ok := e.currencies.Get(currency)
	if !ok {
		return nil, fmt.Errorf("unsupported currency %s", currency)
	}

	rate, err := e.oracle.Rate(ctx, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to get rate for %s: %w", currency, err)
	}

	// Nominal atomic amount at the locked rate.
	nominalAtomic := requestedFiat.Div(rate).Shift(cfg.Decimals).IntPart()

	// The lead digits carry the economic value. A tiny request still gets
	// lead 1 so the fingerprint band never collides with the value digits.
	leadAtomic := nominalAtomic / leadScale
	if leadAtomic < 1 {
		leadAtomic = 1
	}

	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		f, err := randomInt(fingerprintMin, fingerprintMax)
		if err != nil {
			return nil, fmt.Errorf("failed to draw fingerprint: %w", err)
		}
		residual, err := randomInt(0, bandScale-1)
		if err != nil {
			return nil, fmt.Errorf("failed to draw residual: %w", err)
		}

		amountAtomic := Encode(leadAtomic, f, residual)
		req := &models.DepositRequest{
			UserId:        userId,
			Currency:      currency,
			RequestedFiat: requestedFiat,
			CryptoAmount:  decimal.New(amountAtomic, -cfg.Decimals),
			AmountAtomic:  amountAtomic,
			Fingerprint:   f,
			LockedRate:    rate,
			SharedAddress: cfg.SharedAddress,
			Status:        models.DepositPending,
			ExpiresAt:     time.Now().Add(e.depositTTL),
		}

		err = e.store.CreateDepositRequest(ctx, req)
		if err == nil {
			return req, nil
		}
		if !errors.Is(err, store.ErrFingerprintCollision) {
			return nil, err
		}
		zap.L().Debug("Fingerprint collision, redrawing",
			zap.String("currency", currency),
			zap.Int("fingerprint", f),
			zap.Int("attempt", attempt))
	}

	return nil, fmt.Errorf("%w: exhausted %d fingerprint draws for %s",
		store.ErrDepositCreationFailed, maxCreateAttempts, currency)
}

// HandleEvent attributes one chain observation to a pending deposit request.
// Delivery is at-least-once so the tx hash is checked against the ledger
// first. Exactly one fingerprint match advances the request; zero or several
// matches park the event for manual review and nobody is credited.
func (e *Engine) HandleEvent(ctx context.Context, event models.ChainEvent) error {
	cfg, ok := e.currencies.Get(event.Currency)
	if !ok {
		return fmt.Errorf("unsupported currency %s", event.Currency)
	}
	if event.Address != cfg.SharedAddress {
		// Not our deposit address; nothing to do.
		return nil
	}

	credited, err := e.store.HasLedgerEntryForTx(ctx, event.TxHash)
	if err != nil {
		return err
	}
	if credited {
		zap.L().Debug("Chain event already credited, skipping",
			zap.String("tx_hash", event.TxHash))
		return nil
	}

	f := Recover(event.AmountAtomic)
	matches, err := e.store.FindPendingByFingerprint(ctx, event.Currency, f, time.Now())
	if err != nil {
		return err
	}

	if len(matches) != 1 {
		reason := "no pending request matches fingerprint"
		if len(matches) > 1 {
			reason = "multiple pending requests match fingerprint"
		}
		if err := e.store.EnqueueReview(ctx, &models.ReviewItem{
			Currency:      event.Currency,
			SharedAddress: event.Address,
			AmountAtomic:  event.AmountAtomic,
			TxHash:        event.TxHash,
			Fingerprint:   f,
			MatchCount:    len(matches),
			Reason:        reason,
		}); err != nil {
			return err
		}
		return fmt.Errorf("%w: fingerprint %d matched %d requests", store.ErrUnmatchedDeposit, f, len(matches))
	}

	req := matches[0]

	if err := e.store.MarkDepositReceived(ctx, req.Id, event.TxHash, event.Confirmations); err != nil {
		if errors.Is(err, store.ErrAlreadySettled) {
			return nil
		}
		return err
	}

	if event.Confirmations < cfg.MinConfirmations {
		zap.L().Info("Deposit received, awaiting confirmations",
			zap.String("request_id", req.Id),
			zap.String("tx_hash", event.TxHash),
			zap.Int("confirmations", event.Confirmations),
			zap.Int("required", cfg.MinConfirmations))
		return nil
	}

	if err := e.store.MarkDepositConfirmed(ctx, req.Id, event.Confirmations); err != nil {
		if errors.Is(err, store.ErrAlreadySettled) {
			return nil
		}
		return err
	}

	err = e.store.SettleDeposit(ctx, store.SettleDepositParams{
		RequestId: req.Id,
		TxHash:    event.TxHash,
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadySettled) || errors.Is(err, store.ErrDuplicateTransaction) {
			return nil
		}
		return err
	}

	e.publisher.Publish(ctx, notify.Event{
		Kind:      notify.KindDepositCompleted,
		UserId:    req.UserId,
		SubjectId: req.Id,
		Currency:  req.Currency,
		Amount:    req.CryptoAmount.String(),
	})

	return nil
}

// ExpireSweep expires every overdue pending request.
func (e *Engine) ExpireSweep(ctx context.Context) (int, error) {
	expired, err := e.store.ExpireDeposits(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		zap.L().Info("Expired overdue deposit requests", zap.Int("count", expired))
	}
	return expired, nil
}

// randomInt returns a uniform random int in [min, max] from crypto/rand.
func randomInt(min, max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max-min+1)))
	if err != nil {
		return 0, err
	}
	return min + int(n.Int64()), nil
}
