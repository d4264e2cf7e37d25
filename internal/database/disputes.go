package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"market-escrow-go/internal/models"
	"market-escrow-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateDispute inserts a new dispute record in the open state.
func (s *Service) CreateDispute(ctx context.Context, dispute *models.Dispute) error {
	if dispute.Id == "" {
		dispute.Id = uuid.New().String()
	}
	if dispute.Status == "" {
		dispute.Status = models.DisputeOpen
	}

	_, err := s.db.ExecContext(ctx, queryInsertDispute,
		dispute.Id, dispute.OrderId, dispute.PlaintiffId, dispute.DefendantId, string(dispute.Status))
	if err != nil {
		return fmt.Errorf("failed to insert dispute: %w", err)
	}

	zap.L().Info("Dispute opened",
		zap.String("dispute_id", dispute.Id),
		zap.String("order_id", dispute.OrderId),
		zap.String("plaintiff_id", dispute.PlaintiffId))

	return nil
}

func scanDispute(scan func(dest ...any) error) (*models.Dispute, error) {
	var d models.Dispute
	var statusStr, resolutionTypeStr string
	var resolvedAt sql.NullTime

	err := scan(&d.Id, &d.OrderId, &d.PlaintiffId, &d.DefendantId, &statusStr,
		&resolutionTypeStr, &d.ResolutionText, &d.AdminAssigned,
		&resolvedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	d.Status = models.DisputeStatus(statusStr)
	d.ResolutionType = models.ResolutionType(resolutionTypeStr)
	if resolvedAt.Valid {
		d.ResolvedAt = &resolvedAt.Time
	}
	return &d, nil
}

// GetDispute returns one dispute by id.
func (s *Service) GetDispute(ctx context.Context, id string) (*models.Dispute, error) {
	row := s.db.QueryRowContext(ctx, queryGetDispute, id)
	dispute, err := scanDispute(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("dispute %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dispute: %w", err)
	}
	return dispute, nil
}

// GetActiveDisputeByOrder returns the open or in-progress dispute on an
// order, or ErrNotFound if none is active.
func (s *Service) GetActiveDisputeByOrder(ctx context.Context, orderId string) (*models.Dispute, error) {
	row := s.db.QueryRowContext(ctx, queryGetActiveDisputeByOrder, orderId)
	dispute, err := scanDispute(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("active dispute for order %s: %w", orderId, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active dispute: %w", err)
	}
	return dispute, nil
}

// ResolveDispute records the verdict on a still-active dispute. A dismissed
// verdict closes the record as dismissed; everything else closes it as
// resolved. The conditional update means only one resolution ever lands.
func (s *Service) ResolveDispute(ctx context.Context, id string, resolution models.ResolutionType, note, adminId string) error {
	status := models.DisputeResolved
	if resolution == models.ResolutionDismissed {
		status = models.DisputeDismissed
	}

	result, err := s.db.ExecContext(ctx, queryResolveDispute,
		string(status), string(resolution), note, adminId, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to resolve dispute: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("dispute %s: %w", id, store.ErrAlreadySettled)
	}

	zap.L().Info("Dispute resolved",
		zap.String("dispute_id", id),
		zap.String("resolution", string(resolution)),
		zap.String("admin_id", adminId))

	return nil
}
