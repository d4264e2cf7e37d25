package withdraw

import (
	"context"
	"fmt"
	"time"

	"market-escrow-go/internal/common"
	"market-escrow-go/internal/models"
	"market-escrow-go/internal/notify"
	"market-escrow-go/internal/rates"
	"market-escrow-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SubmitParams is one payout request as the user submits it. AmountFiat is
// the gross amount deducted from the balance; the network and service fees
// come out of it before anything leaves.
type SubmitParams struct {
	UserId             string
	Currency           string
	AmountFiat         decimal.Decimal
	DestinationAddress string
}

// Service validates payout requests against the withdrawal policy and, when
// every check passes, debits the balance and queues the payout.
//
// Checks run in a fixed order and the first failure is the one reported:
// minimum amount, positive net after fees, sufficient balance, daily cap,
// monthly cap, address format.
type Service struct {
	store      store.Store
	currencies common.CurrencySet
	oracle     rates.Oracle
	publisher  notify.Publisher
	cfg        models.WithdrawalConfig

	dailyLimit   decimal.Decimal
	monthlyLimit decimal.Decimal
}

func NewService(st store.Store, currencies common.CurrencySet, oracle rates.Oracle, publisher notify.Publisher,
	cfg models.WithdrawalConfig) (*Service, error) {
	dailyLimit, err := decimal.NewFromString(cfg.DailyLimitFiat)
	if err != nil {
		return nil, fmt.Errorf("invalid daily limit %q: %w", cfg.DailyLimitFiat, err)
	}
	monthlyLimit, err := decimal.NewFromString(cfg.MonthlyLimitFiat)
	if err != nil {
		return nil, fmt.Errorf("invalid monthly limit %q: %w", cfg.MonthlyLimitFiat, err)
	}
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &Service{
		store:        st,
		currencies:   currencies,
		oracle:       oracle,
		publisher:    publisher,
		cfg:          cfg,
		dailyLimit:   dailyLimit,
		monthlyLimit: monthlyLimit,
	}, nil
}

// Fee returns the fiat fee for one withdrawal: base fee plus the percentage
// component plus the network fee converted at the given rate.
func Fee(fees models.FeeSchedule, amountFiat, rate decimal.Decimal) decimal.Decimal {
	percentage := amountFiat.Mul(fees.PercentageFee).Div(decimal.NewFromInt(100))
	networkFiat := fees.NetworkFeeCrypto.Mul(rate)
	return fees.BaseFeeFiat.Add(percentage).Add(networkFiat).Round(2)
}

// Validate runs the policy checks without touching any balance. It returns
// the computed fee on success so callers can preview the net payout.
func (s *Service) Validate(ctx context.Context, params SubmitParams) (decimal.Decimal, error) {
	cfg, ok := s.currencies.Get(params.Currency)
	if !ok {
		return decimal.Zero, fmt.Errorf("unsupported currency %s", params.Currency)
	}

	rate, err := s.oracle.Rate(ctx, params.Currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get rate for %s: %w", params.Currency, err)
	}

	// 1. Minimum amount.
	if params.AmountFiat.LessThan(cfg.Fees.MinAmountFiat) {
		return decimal.Zero, fmt.Errorf("%w: amount %s below minimum %s",
			store.ErrLimitExceeded, params.AmountFiat.String(), cfg.Fees.MinAmountFiat.String())
	}

	// 2. Positive net after fees.
	fee := Fee(cfg.Fees, params.AmountFiat, rate)
	net := params.AmountFiat.Sub(fee)
	if net.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: amount %s does not cover fees %s",
			store.ErrLimitExceeded, params.AmountFiat.String(), fee.String())
	}

	// 3. Sufficient balance.
	amountCrypto := params.AmountFiat.Div(rate).Round(cfg.Decimals)
	balance, err := s.store.GetBalance(ctx, params.UserId, params.Currency)
	if err != nil {
		return decimal.Zero, err
	}
	if balance.LessThan(amountCrypto) {
		return decimal.Zero, fmt.Errorf("%w: balance %s %s below requested %s",
			store.ErrInsufficientFunds, balance.String(), params.Currency, amountCrypto.String())
	}

	now := time.Now()

	// 4. Daily cap over the current calendar day.
	spentDay, err := s.store.SumSpentFiatSince(ctx, params.UserId, dayStart(now))
	if err != nil {
		return decimal.Zero, err
	}
	if spentDay.Add(params.AmountFiat).GreaterThan(s.dailyLimit) {
		return decimal.Zero, fmt.Errorf("%w: daily limit %s exceeded (spent %s, requested %s)",
			store.ErrLimitExceeded, s.dailyLimit.String(), spentDay.String(), params.AmountFiat.String())
	}

	// 5. Monthly cap over the current calendar month.
	spentMonth, err := s.store.SumSpentFiatSince(ctx, params.UserId, monthStart(now))
	if err != nil {
		return decimal.Zero, err
	}
	if spentMonth.Add(params.AmountFiat).GreaterThan(s.monthlyLimit) {
		return decimal.Zero, fmt.Errorf("%w: monthly limit %s exceeded (spent %s, requested %s)",
			store.ErrLimitExceeded, s.monthlyLimit.String(), spentMonth.String(), params.AmountFiat.String())
	}

	// 6. Address format.
	if err := ValidateAddress(cfg.AddressFormat, params.DestinationAddress); err != nil {
		return decimal.Zero, err
	}

	return fee, nil
}

// dayStart returns midnight UTC of the given instant's calendar day, the
// cutoff the daily cap sums from. Rows are stamped in UTC by the store.
func dayStart(now time.Time) time.Time {
	year, month, day := now.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// monthStart returns the first of the instant's calendar month, UTC.
func monthStart(now time.Time) time.Time {
	year, month, _ := now.UTC().Date()
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

// Submit validates the request and, if it passes, debits the gross crypto
// amount and records the pending payout in one transaction.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (*models.WithdrawalRequest, error) {
	fee, err := s.Validate(ctx, params)
	if err != nil {
		return nil, err
	}

	cfg, _ := s.currencies.Get(params.Currency)
	rate, err := s.oracle.Rate(ctx, params.Currency)
	if err != nil {
		return nil, err
	}
	amountCrypto := params.AmountFiat.Div(rate).Round(cfg.Decimals)

	req := &models.WithdrawalRequest{
		UserId:             params.UserId,
		Currency:           params.Currency,
		AmountFiat:         params.AmountFiat,
		AmountCrypto:       amountCrypto,
		FeeFiat:            fee,
		DestinationAddress: params.DestinationAddress,
		Status:             models.WithdrawalPending,
	}

	err = s.store.CreateWithdrawal(ctx, req, store.EntryParams{
		UserId:    params.UserId,
		Currency:  params.Currency,
		EntryType: models.EntryWithdrawal,
		Amount:    amountCrypto,
		Reference: fmt.Sprintf("withdrawal to %s", params.DestinationAddress),
	})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, notify.Event{
		Kind:      notify.KindWithdrawalCreated,
		UserId:    params.UserId,
		SubjectId: req.Id,
		Currency:  params.Currency,
		Amount:    amountCrypto.String(),
	})

	zap.L().Info("Withdrawal submitted",
		zap.String("request_id", req.Id),
		zap.String("user_id", params.UserId),
		zap.String("currency", params.Currency),
		zap.String("amount_fiat", params.AmountFiat.String()),
		zap.String("fee_fiat", fee.String()))

	return req, nil
}
