package postgres

import (
	"context"
	"errors"
	"fmt"

	"z402-facilitator/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const refundColumns = `id, transaction_id, merchant_id, amount, currency, reason, status, created_at, completed_at`

// RefundRepo implements ports.RefundRepository.
type RefundRepo struct {
	pool Pool
}

// NewRefundRepo creates a new RefundRepo.
func NewRefundRepo(pool Pool) *RefundRepo {
	return &RefundRepo{pool: pool}
}

// Create inserts a refund within a database transaction. transaction_id is
// unique, so a second refund against the same transaction fails there.
func (r *RefundRepo) Create(ctx context.Context, tx pgx.Tx, refund *domain.Refund) error {
	query := `INSERT INTO refunds (` + refundColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := tx.Exec(ctx, query,
		refund.ID, refund.TransactionID, refund.MerchantID, refund.Amount,
		refund.Currency, refund.Reason, refund.Status, refund.CreatedAt, refund.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

// GetByTransactionID fetches the refund recorded for a transaction, if any.
func (r *RefundRepo) GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE transaction_id = $1`

	refund := &domain.Refund{}
	err := r.pool.QueryRow(ctx, query, transactionID).Scan(
		&refund.ID, &refund.TransactionID, &refund.MerchantID, &refund.Amount,
		&refund.Currency, &refund.Reason, &refund.Status, &refund.CreatedAt, &refund.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get refund by transaction: %w", err)
	}
	return refund, nil
}

// Update persists refund status changes.
func (r *RefundRepo) Update(ctx context.Context, refund *domain.Refund) error {
	query := `UPDATE refunds SET status = $1, completed_at = $2 WHERE id = $3`

	tag, err := r.pool.Exec(ctx, query, refund.Status, refund.CompletedAt, refund.ID)
	if err != nil {
		return fmt.Errorf("update refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("refund not found: %s", refund.ID)
	}
	return nil
}
