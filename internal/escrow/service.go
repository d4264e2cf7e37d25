package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market-escrow-go/internal/auth"
	"market-escrow-go/internal/common"
	"market-escrow-go/internal/models"
	"market-escrow-go/internal/notify"
	"market-escrow-go/internal/rates"
	"market-escrow-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// autoReleaseBatchSize caps how many holdings one sweep settles.
const autoReleaseBatchSize = 100

// CheckoutLine is one currency position of an order.
type CheckoutLine struct {
	Currency   string
	AmountFiat decimal.Decimal
}

// CheckoutParams describes a new escrowed order.
type CheckoutParams struct {
	BuyerId   string
	SellerId  string
	GoodsType models.GoodsType
	Lines     []CheckoutLine
}

// Service moves funds into escrow at checkout and out of it on release,
// refund or dispute. All settlement goes through the store's atomic
// holding settlement so concurrent actors cannot double-settle.
type Service struct {
	store      store.Store
	currencies common.CurrencySet
	oracle     rates.Oracle
	publisher  notify.Publisher
	cfg        models.EscrowConfig
	feePercent decimal.Decimal
	feeAccount string

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewService(st store.Store, currencies common.CurrencySet, oracle rates.Oracle, publisher notify.Publisher,
	cfg models.EscrowConfig, feePercent decimal.Decimal, feeAccount string) (*Service, error) {
	if feePercent.Sign() < 0 || feePercent.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("fee percent must be in [0,100], got %s", feePercent.String())
	}
	if feeAccount == "" {
		return nil, fmt.Errorf("fee account cannot be empty")
	}
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &Service{
		store:      st,
		currencies: currencies,
		oracle:     oracle,
		publisher:  publisher,
		cfg:        cfg,
		feePercent: feePercent,
		feeAccount: feeAccount,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// Checkout debits the buyer and creates the order with one held holding per
// currency line. The fee split is fixed at creation: fee = amount * pct/100,
// seller share is the remainder, so amount = fee + seller share exactly.
func (s *Service) Checkout(ctx context.Context, params CheckoutParams) (*models.Order, error) {
	if params.BuyerId == params.SellerId {
		return nil, fmt.Errorf("buyer and seller cannot be the same user")
	}
	if len(params.Lines) == 0 {
		return nil, fmt.Errorf("order must have at least one line")
	}
	if params.GoodsType != models.GoodsDigital && params.GoodsType != models.GoodsPhysical {
		return nil, fmt.Errorf("unknown goods type %q", params.GoodsType)
	}

	window := s.cfg.PhysicalWindow
	if params.GoodsType == models.GoodsDigital {
		window = s.cfg.DigitalWindow
	}
	autoReleaseAt := time.Now().Add(window)

	order := &models.Order{
		BuyerId:   params.BuyerId,
		SellerId:  params.SellerId,
		GoodsType: params.GoodsType,
	}

	holdings := make([]*models.EscrowHolding, 0, len(params.Lines))
	for _, line := range params.Lines {
		if line.AmountFiat.Sign() <= 0 {
			return nil, fmt.Errorf("line amount must be positive, got %s %s", line.AmountFiat.String(), line.Currency)
		}
		cfg, ok := s.currencies.Get(line.Currency)
		if !ok {
			return nil, fmt.Errorf("unsupported currency %s", line.Currency)
		}

		rate, err := s.oracle.Rate(ctx, line.Currency)
		if err != nil {
			return nil, fmt.Errorf("failed to get rate for %s: %w", line.Currency, err)
		}

		amountCrypto := line.AmountFiat.Div(rate).Round(cfg.Decimals)
		feeCrypto := amountCrypto.Mul(s.feePercent).Div(decimal.NewFromInt(100)).Round(cfg.Decimals)
		sellerCrypto := amountCrypto.Sub(feeCrypto)

		feeFiat := line.AmountFiat.Mul(s.feePercent).Div(decimal.NewFromInt(100)).Round(2)
		sellerFiat := line.AmountFiat.Sub(feeFiat)

		holdings = append(holdings, &models.EscrowHolding{
			BuyerId:       params.BuyerId,
			SellerId:      params.SellerId,
			Currency:      line.Currency,
			AmountCrypto:  amountCrypto,
			AmountFiat:    line.AmountFiat,
			FeeCrypto:     feeCrypto,
			FeeFiat:       feeFiat,
			SellerCrypto:  sellerCrypto,
			SellerFiat:    sellerFiat,
			Status:        models.HoldingHeld,
			AutoReleaseAt: autoReleaseAt,
		})
	}

	if err := s.store.CreateOrderWithHoldings(ctx, order, holdings); err != nil {
		return nil, err
	}
	return order, nil
}

// releaseCredits is the full-release payout: seller share to the seller,
// platform fee to the fee account.
func (s *Service) releaseCredits(holding *models.EscrowHolding) []store.EntryParams {
	return []store.EntryParams{
		{
			UserId:    holding.SellerId,
			Currency:  holding.Currency,
			EntryType: models.EntryEscrowRelease,
			Amount:    holding.SellerCrypto,
			OrderId:   holding.OrderId,
			Reference: fmt.Sprintf("escrow release %s", holding.Id),
		},
		{
			UserId:    s.feeAccount,
			Currency:  holding.Currency,
			EntryType: models.EntryPlatformFee,
			Amount:    holding.FeeCrypto,
			OrderId:   holding.OrderId,
			Reference: fmt.Sprintf("platform fee %s", holding.Id),
		},
	}
}

// Release is the buyer confirming receipt: the holding settles to released
// and the seller and fee account are credited. Only the buyer may call it,
// and only while the holding is held.
func (s *Service) Release(ctx context.Context, identity auth.Identity, holdingId string) error {
	holding, err := s.store.GetHolding(ctx, holdingId)
	if err != nil {
		return err
	}
	if identity.UserId != holding.BuyerId {
		return fmt.Errorf("%w: only the buyer may release holding %s", store.ErrUnauthorized, holdingId)
	}

	err = s.store.SettleHolding(ctx, store.SettleHoldingParams{
		HoldingId:  holdingId,
		FromStatus: []models.HoldingStatus{models.HoldingHeld},
		NewStatus:  models.HoldingReleased,
		ReleasedBy: models.ReleasedByBuyer,
		Credits:    s.releaseCredits(holding),
	})
	if err != nil {
		return err
	}

	s.finalizeOrder(ctx, holding.OrderId)
	s.publisher.Publish(ctx, notify.Event{
		Kind:      notify.KindEscrowReleased,
		UserId:    holding.SellerId,
		OrderId:   holding.OrderId,
		SubjectId: holdingId,
		Currency:  holding.Currency,
		Amount:    holding.SellerCrypto.String(),
	})
	return nil
}

// AutoReleaseSweep settles every held holding whose window elapsed, as if the
// buyer had confirmed. Races with a concurrent buyer release or dispute are
// benign; the loser just skips the holding.
func (s *Service) AutoReleaseSweep(ctx context.Context) (int, error) {
	holdings, err := s.store.ListAutoReleasable(ctx, time.Now(), autoReleaseBatchSize)
	if err != nil {
		return 0, err
	}

	released := 0
	for i := range holdings {
		holding := &holdings[i]
		err := s.store.SettleHolding(ctx, store.SettleHoldingParams{
			HoldingId:  holding.Id,
			FromStatus: []models.HoldingStatus{models.HoldingHeld},
			NewStatus:  models.HoldingReleased,
			ReleasedBy: models.ReleasedBySystem,
			Credits:    s.releaseCredits(holding),
		})
		if errors.Is(err, store.ErrAlreadySettled) {
			continue
		}
		if err != nil {
			zap.L().Error("Auto-release failed",
				zap.String("holding_id", holding.Id),
				zap.Error(err))
			continue
		}

		released++
		s.finalizeOrder(ctx, holding.OrderId)
		s.publisher.Publish(ctx, notify.Event{
			Kind:      notify.KindEscrowReleased,
			UserId:    holding.SellerId,
			OrderId:   holding.OrderId,
			SubjectId: holding.Id,
			Currency:  holding.Currency,
			Amount:    holding.SellerCrypto.String(),
			Detail:    "auto-release",
		})
	}

	if released > 0 {
		zap.L().Info("Auto-released escrow holdings", zap.Int("count", released))
	}
	return released, nil
}

// OpenDispute freezes every still-held holding of the order and records the
// dispute. Only a party to the order may open one, only once the dispute
// window has opened, and only while something is left to freeze. The window
// races auto-release by construction; MarkHoldingsDisputed is the
// tie-breaker, so whichever side flips the holding first wins.
func (s *Service) OpenDispute(ctx context.Context, identity auth.Identity, orderId string) (*models.Dispute, error) {
	order, err := s.store.GetOrder(ctx, orderId)
	if err != nil {
		return nil, err
	}

	var defendant string
	switch identity.UserId {
	case order.BuyerId:
		defendant = order.SellerId
	case order.SellerId:
		defendant = order.BuyerId
	default:
		return nil, fmt.Errorf("%w: user %s is not a party to order %s", store.ErrUnauthorized, identity.UserId, orderId)
	}

	if time.Now().Before(order.CreatedAt.Add(s.cfg.DisputeWindow)) {
		return nil, fmt.Errorf("%w: dispute window for order %s has not opened yet", store.ErrLimitExceeded, orderId)
	}

	if _, err := s.store.GetActiveDisputeByOrder(ctx, orderId); err == nil {
		return nil, fmt.Errorf("order %s already has an active dispute", orderId)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	frozen, err := s.store.MarkHoldingsDisputed(ctx, orderId)
	if err != nil {
		return nil, err
	}
	if frozen == 0 {
		return nil, fmt.Errorf("order %s: %w", orderId, store.ErrAlreadySettled)
	}

	dispute := &models.Dispute{
		OrderId:     orderId,
		PlaintiffId: identity.UserId,
		DefendantId: defendant,
		Status:      models.DisputeOpen,
	}
	if err := s.store.CreateDispute(ctx, dispute); err != nil {
		return nil, err
	}

	if err := s.store.UpdateOrderEscrowStatus(ctx, orderId, string(models.HoldingDisputed)); err != nil {
		zap.L().Warn("Failed to update order escrow status",
			zap.String("order_id", orderId), zap.Error(err))
	}
	s.publisher.Publish(ctx, notify.Event{
		Kind:      notify.KindDisputeOpened,
		UserId:    defendant,
		OrderId:   orderId,
		SubjectId: dispute.Id,
	})

	zap.L().Info("Dispute opened, holdings frozen",
		zap.String("order_id", orderId),
		zap.String("dispute_id", dispute.Id),
		zap.Int("holdings_frozen", frozen))

	return dispute, nil
}

// finalizeOrder recomputes the order's aggregate escrow status once every
// holding has settled. Mixed outcomes collapse to partial_refund.
func (s *Service) finalizeOrder(ctx context.Context, orderId string) {
	holdings, err := s.store.GetHoldingsByOrder(ctx, orderId)
	if err != nil {
		zap.L().Warn("Failed to load holdings for order finalization",
			zap.String("order_id", orderId), zap.Error(err))
		return
	}

	aggregate := ""
	for _, holding := range holdings {
		if !holding.Status.IsTerminal() {
			return
		}
		status := string(holding.Status)
		if aggregate == "" {
			aggregate = status
		} else if aggregate != status {
			aggregate = string(models.HoldingPartialRefund)
		}
	}

	if err := s.store.UpdateOrderEscrowStatus(ctx, orderId, aggregate); err != nil {
		zap.L().Warn("Failed to update order escrow status",
			zap.String("order_id", orderId), zap.Error(err))
	}
}

// Start runs the auto-release sweeper until Stop is called.
func (s *Service) Start(ctx context.Context) {
	zap.L().Info("Starting escrow auto-release sweeper",
		zap.Duration("interval", s.cfg.SweepInterval))

	go func() {
		defer close(s.doneChan)

		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := s.AutoReleaseSweep(ctx); err != nil {
					zap.L().Error("Auto-release sweep failed", zap.Error(err))
				}
			case <-s.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sweeper and waits for it to exit.
func (s *Service) Stop() {
	close(s.stopChan)
	<-s.doneChan
	zap.L().Info("Escrow auto-release sweeper stopped")
}
