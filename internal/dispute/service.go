package dispute

import (
	"context"
	"fmt"

	"market-escrow-go/internal/auth"
	"market-escrow-go/internal/models"
	"market-escrow-go/internal/notify"
	"market-escrow-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ResolveParams is one arbiter verdict.
type ResolveParams struct {
	DisputeId  string
	Resolution models.ResolutionType
	// RefundPercent applies only to partial resolutions, in [0,100].
	RefundPercent int64
	Note          string
}

// Service applies arbiter verdicts to disputed orders. Each holding settles
// atomically on its own; a verdict over several holdings reports exactly
// which ones settled.
type Service struct {
	store      store.Store
	publisher  notify.Publisher
	feeAccount string
}

func NewService(st store.Store, publisher notify.Publisher, feeAccount string) *Service {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &Service{store: st, publisher: publisher, feeAccount: feeAccount}
}

// Resolve settles every holding of the disputed order per the verdict and
// closes the dispute record. If some holdings fail to settle the dispute
// stays open and a PartialSettlementError reports the failures by holding id
// so the arbiter can retry. A dismissal closes the record without moving any
// funds.
func (s *Service) Resolve(ctx context.Context, identity auth.Identity, params ResolveParams) error {
	if err := auth.RequireArbiter(identity); err != nil {
		return err
	}
	if params.Note == "" {
		return fmt.Errorf("resolution note cannot be empty")
	}

	switch params.Resolution {
	case models.ResolutionBuyerFavor, models.ResolutionSellerFavor, models.ResolutionDismissed:
	case models.ResolutionPartial:
		if params.RefundPercent < 0 || params.RefundPercent > 100 {
			return fmt.Errorf("partial refund percent must be in [0,100], got %d", params.RefundPercent)
		}
	default:
		return fmt.Errorf("unknown resolution type %q", params.Resolution)
	}

	dispute, err := s.store.GetDispute(ctx, params.DisputeId)
	if err != nil {
		return err
	}
	if dispute.Status != models.DisputeOpen && dispute.Status != models.DisputeInProgress {
		return fmt.Errorf("dispute %s: %w", params.DisputeId, store.ErrAlreadySettled)
	}

	// Dismissal touches only the dispute record: the holdings keep their
	// current status and no funds move.
	if params.Resolution == models.ResolutionDismissed {
		return s.closeDispute(ctx, dispute, identity, params, 0)
	}

	holdings, err := s.store.GetHoldingsByOrder(ctx, dispute.OrderId)
	if err != nil {
		return err
	}

	var open []models.EscrowHolding
	for _, holding := range holdings {
		if !holding.Status.IsTerminal() {
			open = append(open, holding)
		}
	}
	if len(open) == 0 {
		return fmt.Errorf("order %s has no unsettled holdings: %w", dispute.OrderId, store.ErrAlreadySettled)
	}

	settled := 0
	failures := make(map[string]error)
	for i := range open {
		holding := &open[i]
		settle := s.settlementFor(holding, params.Resolution, params.RefundPercent)
		if err := s.store.SettleHolding(ctx, settle); err != nil {
			failures[holding.Id] = err
			zap.L().Error("Holding settlement failed during dispute resolution",
				zap.String("dispute_id", params.DisputeId),
				zap.String("holding_id", holding.Id),
				zap.Error(err))
			continue
		}
		settled++
	}

	if len(failures) > 0 {
		return &store.PartialSettlementError{
			Settled:  settled,
			Total:    len(open),
			Failures: failures,
		}
	}

	if err := s.closeDispute(ctx, dispute, identity, params, settled); err != nil {
		return err
	}
	s.finalizeOrder(ctx, dispute.OrderId)
	return nil
}

func (s *Service) closeDispute(ctx context.Context, dispute *models.Dispute, identity auth.Identity, params ResolveParams, settled int) error {
	if err := s.store.ResolveDispute(ctx, params.DisputeId, params.Resolution, params.Note, identity.UserId); err != nil {
		return err
	}

	s.publisher.Publish(ctx, notify.Event{
		Kind:      notify.KindDisputeResolved,
		UserId:    dispute.PlaintiffId,
		OrderId:   dispute.OrderId,
		SubjectId: params.DisputeId,
		Detail:    string(params.Resolution),
	})

	zap.L().Info("Dispute resolved",
		zap.String("dispute_id", params.DisputeId),
		zap.String("order_id", dispute.OrderId),
		zap.String("resolution", string(params.Resolution)),
		zap.Int("holdings_settled", settled))

	return nil
}

// settlementFor maps a verdict onto one holding's settlement.
//
// buyer_favor refunds the full amount and waives the fee. seller_favor pays
// out as a normal release. partial splits three ways: the buyer gets
// refund = amount * pct/100, the platform keeps fee scaled to the
// non-refunded share, and the seller gets the remainder, so the three legs
// always sum to the held amount. At 0 or 100 percent the zero-amount legs
// drop out and the split degenerates to a full release or refund.
func (s *Service) settlementFor(holding *models.EscrowHolding, resolution models.ResolutionType, refundPercent int64) store.SettleHoldingParams {
	fromStatus := []models.HoldingStatus{models.HoldingDisputed, models.HoldingHeld}
	hundred := decimal.NewFromInt(100)

	switch resolution {
	case models.ResolutionBuyerFavor:
		return store.SettleHoldingParams{
			HoldingId:  holding.Id,
			FromStatus: fromStatus,
			NewStatus:  models.HoldingRefunded,
			ReleasedBy: models.ReleasedByArbiter,
			Credits: []store.EntryParams{{
				UserId:    holding.BuyerId,
				Currency:  holding.Currency,
				EntryType: models.EntryEscrowRefund,
				Amount:    holding.AmountCrypto,
				OrderId:   holding.OrderId,
				Reference: fmt.Sprintf("escrow refund %s", holding.Id),
			}},
		}

	case models.ResolutionPartial:
		pct := decimal.NewFromInt(refundPercent)
		buyerRefund := holding.AmountCrypto.Mul(pct).Div(hundred)
		fee := holding.FeeCrypto.Mul(hundred.Sub(pct)).Div(hundred)
		sellerNet := holding.AmountCrypto.Sub(buyerRefund).Sub(fee)

		return store.SettleHoldingParams{
			HoldingId:  holding.Id,
			FromStatus: fromStatus,
			NewStatus:  models.HoldingPartialRefund,
			ReleasedBy: models.ReleasedByArbiter,
			Credits: []store.EntryParams{
				{
					UserId:    holding.BuyerId,
					Currency:  holding.Currency,
					EntryType: models.EntryEscrowRefund,
					Amount:    buyerRefund,
					OrderId:   holding.OrderId,
					Reference: fmt.Sprintf("partial refund %s", holding.Id),
				},
				{
					UserId:    holding.SellerId,
					Currency:  holding.Currency,
					EntryType: models.EntryEscrowRelease,
					Amount:    sellerNet,
					OrderId:   holding.OrderId,
					Reference: fmt.Sprintf("partial release %s", holding.Id),
				},
				{
					UserId:    s.feeAccount,
					Currency:  holding.Currency,
					EntryType: models.EntryPlatformFee,
					Amount:    fee,
					OrderId:   holding.OrderId,
					Reference: fmt.Sprintf("platform fee %s", holding.Id),
				},
			},
		}

	default: // seller_favor
		return store.SettleHoldingParams{
			HoldingId:  holding.Id,
			FromStatus: fromStatus,
			NewStatus:  models.HoldingReleased,
			ReleasedBy: models.ReleasedByArbiter,
			Credits: []store.EntryParams{
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
			},
		}
	}
}

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
