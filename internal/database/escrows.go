package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"market-escrow-go/internal/models"
	"market-escrow-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateOrderWithHoldings creates the order row, every holding row and the
// buyer escrow-fund debits in one transaction. If any buyer lacks funds the
// whole checkout rolls back.
func (s *Service) CreateOrderWithHoldings(ctx context.Context, order *models.Order, holdings []*models.EscrowHolding) error {
	if len(holdings) == 0 {
		return fmt.Errorf("order must have at least one holding")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if order.Id == "" {
		order.Id = uuid.New().String()
	}
	if order.EscrowStatus == "" {
		order.EscrowStatus = string(models.HoldingHeld)
	}

	_, err = tx.ExecContext(ctx, queryInsertOrder,
		order.Id, order.BuyerId, order.SellerId, string(order.GoodsType), order.EscrowStatus)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for _, holding := range holdings {
		if holding.Id == "" {
			holding.Id = uuid.New().String()
		}
		if holding.Status == "" {
			holding.Status = models.HoldingHeld
		}

		_, err = tx.ExecContext(ctx, queryInsertHolding,
			holding.Id, order.Id, holding.BuyerId, holding.SellerId, holding.Currency,
			holding.AmountCrypto.String(), holding.AmountFiat.String(),
			holding.FeeCrypto.String(), holding.FeeFiat.String(),
			holding.SellerCrypto.String(), holding.SellerFiat.String(),
			string(holding.Status), holding.AutoReleaseAt)
		if err != nil {
			return fmt.Errorf("failed to insert holding: %w", err)
		}

		_, err = s.applyEntry(ctx, tx, store.EntryParams{
			UserId:    holding.BuyerId,
			Currency:  holding.Currency,
			EntryType: models.EntryEscrowFund,
			Amount:    holding.AmountCrypto,
			OrderId:   order.Id,
			Reference: fmt.Sprintf("escrow holding %s", holding.Id),
		}, holding.AmountCrypto.Neg())
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Order created with escrowed funds",
		zap.String("order_id", order.Id),
		zap.String("buyer_id", order.BuyerId),
		zap.String("seller_id", order.SellerId),
		zap.Int("holdings", len(holdings)))

	return nil
}

// GetOrder returns one order by id.
func (s *Service) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	var goodsType string
	err := s.db.QueryRowContext(ctx, queryGetOrder, id).
		Scan(&order.Id, &order.BuyerId, &order.SellerId, &goodsType, &order.EscrowStatus, &order.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	order.GoodsType = models.GoodsType(goodsType)
	return &order, nil
}

func scanHolding(scan func(dest ...any) error) (*models.EscrowHolding, error) {
	var h models.EscrowHolding
	var amountCryptoStr, amountFiatStr, feeCryptoStr, feeFiatStr, sellerCryptoStr, sellerFiatStr string
	var statusStr string
	var releasedAt sql.NullTime

	err := scan(&h.Id, &h.OrderId, &h.BuyerId, &h.SellerId, &h.Currency,
		&amountCryptoStr, &amountFiatStr, &feeCryptoStr, &feeFiatStr, &sellerCryptoStr, &sellerFiatStr,
		&statusStr, &h.AutoReleaseAt, &releasedAt, &h.ReleasedBy, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}

	h.Status = models.HoldingStatus(statusStr)
	if releasedAt.Valid {
		h.ReleasedAt = &releasedAt.Time
	}

	for _, field := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&h.AmountCrypto, amountCryptoStr},
		{&h.AmountFiat, amountFiatStr},
		{&h.FeeCrypto, feeCryptoStr},
		{&h.FeeFiat, feeFiatStr},
		{&h.SellerCrypto, sellerCryptoStr},
		{&h.SellerFiat, sellerFiatStr},
	} {
		*field.dst, err = decimal.NewFromString(field.src)
		if err != nil {
			return nil, fmt.Errorf("failed to parse holding amount '%s': %w", field.src, err)
		}
	}
	return &h, nil
}

// GetHolding returns one escrow holding by id.
func (s *Service) GetHolding(ctx context.Context, id string) (*models.EscrowHolding, error) {
	row := s.db.QueryRowContext(ctx, queryGetHolding, id)
	holding, err := scanHolding(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("holding %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get holding: %w", err)
	}
	return holding, nil
}

// GetHoldingsByOrder returns every holding of an order.
func (s *Service) GetHoldingsByOrder(ctx context.Context, orderId string) ([]models.EscrowHolding, error) {
	rows, err := s.db.QueryContext(ctx, queryGetHoldingsByOrder, orderId)
	if err != nil {
		return nil, fmt.Errorf("failed to get holdings: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var holdings []models.EscrowHolding
	for rows.Next() {
		holding, err := scanHolding(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, *holding)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holding rows: %w", err)
	}
	return holdings, nil
}

// SettleHolding performs one atomic settlement: the conditional status flip
// away from params.FromStatus plus every credit the outcome implies. Exactly
// one caller wins a race; the losers get ErrAlreadySettled and no funds move
// for them.
func (s *Service) SettleHolding(ctx context.Context, params store.SettleHoldingParams) error {
	if len(params.FromStatus) == 0 {
		return fmt.Errorf("settle requires at least one expected source status")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(params.FromStatus)), ",")
	query := fmt.Sprintf(`
		UPDATE escrow_holdings
		SET status = ?, released_at = ?, released_by = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN (%s)`, placeholders)

	args := []any{string(params.NewStatus), time.Now(), params.ReleasedBy, params.HoldingId}
	for _, from := range params.FromStatus {
		args = append(args, string(from))
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to settle holding: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("holding %s: %w", params.HoldingId, store.ErrAlreadySettled)
	}

	for _, credit := range params.Credits {
		if credit.Amount.Sign() <= 0 {
			// Zero-amount legs are legal (e.g. a dismissed fee waiver) and
			// simply record nothing.
			continue
		}
		if _, err := s.applyEntry(ctx, tx, credit, credit.Amount); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Escrow holding settled",
		zap.String("holding_id", params.HoldingId),
		zap.String("new_status", string(params.NewStatus)),
		zap.String("released_by", params.ReleasedBy),
		zap.Int("credits", len(params.Credits)))

	return nil
}

// MarkHoldingsDisputed freezes every held holding of the order and returns
// how many were frozen. Holdings already settled are left alone.
func (s *Service) MarkHoldingsDisputed(ctx context.Context, orderId string) (int, error) {
	result, err := s.db.ExecContext(ctx, queryMarkHoldingsDisputed, orderId)
	if err != nil {
		return 0, fmt.Errorf("failed to mark holdings disputed: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return int(rowsAffected), nil
}

// ListAutoReleasable returns held holdings whose auto-release deadline has
// passed, oldest first.
func (s *Service) ListAutoReleasable(ctx context.Context, now time.Time, limit int) ([]models.EscrowHolding, error) {
	rows, err := s.db.QueryContext(ctx, queryListAutoReleasable, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list auto-releasable holdings: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var holdings []models.EscrowHolding
	for rows.Next() {
		holding, err := scanHolding(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, *holding)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holding rows: %w", err)
	}
	return holdings, nil
}

// UpdateOrderEscrowStatus records the aggregate outcome on the order row.
func (s *Service) UpdateOrderEscrowStatus(ctx context.Context, orderId, escrowStatus string) error {
	_, err := s.db.ExecContext(ctx, queryUpdateOrderEscrowStatus, escrowStatus, orderId)
	if err != nil {
		return fmt.Errorf("failed to update order escrow status: %w", err)
	}
	return nil
}
