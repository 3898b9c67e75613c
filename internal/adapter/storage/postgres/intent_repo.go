package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"z402-facilitator/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const intentColumns = `id, merchant_id, amount, currency, address, resource, nonce, status, metadata, expires_at, created_at, updated_at`

// PaymentIntentRepo implements ports.PaymentIntentRepository.
type PaymentIntentRepo struct {
	pool Pool
}

// NewPaymentIntentRepo creates a new PaymentIntentRepo.
func NewPaymentIntentRepo(pool Pool) *PaymentIntentRepo {
	return &PaymentIntentRepo{pool: pool}
}

// Create inserts a new payment intent. The nonce column is unique, so a
// colliding nonce fails the insert rather than producing two challenges
// that verify against each other.
func (r *PaymentIntentRepo) Create(ctx context.Context, intent *domain.PaymentIntent) error {
	query := `INSERT INTO payment_intents (` + intentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		intent.ID, intent.MerchantID, intent.Amount, intent.Currency,
		intent.Address, intent.Resource, intent.Nonce, intent.Status,
		intent.Metadata, intent.ExpiresAt, intent.CreatedAt, intent.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment intent: %w", err)
	}
	return nil
}

// GetByID fetches a payment intent by UUID.
func (r *PaymentIntentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE id = $1`
	return scanIntent(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches an intent with a row lock inside tx.
func (r *PaymentIntentRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE id = $1 FOR UPDATE`
	return scanIntent(tx.QueryRow(ctx, query, id))
}

// UpdateStatus moves an intent to a new status inside tx.
func (r *PaymentIntentRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.IntentStatus) error {
	query := `UPDATE payment_intents SET status = $1, updated_at = NOW() WHERE id = $2`

	tag, err := tx.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update intent status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment intent not found: %s", id)
	}
	return nil
}

// MarkExpired expires all CREATED intents that have passed their deadline.
func (r *PaymentIntentRepo) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE payment_intents SET status = $1, updated_at = NOW()
		WHERE status = $2 AND expires_at <= $3`

	tag, err := r.pool.Exec(ctx, query, domain.IntentStatusExpired, domain.IntentStatusCreated, now)
	if err != nil {
		return 0, fmt.Errorf("mark intents expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanIntent(row pgx.Row) (*domain.PaymentIntent, error) {
	intent := &domain.PaymentIntent{}
	err := row.Scan(
		&intent.ID, &intent.MerchantID, &intent.Amount, &intent.Currency,
		&intent.Address, &intent.Resource, &intent.Nonce, &intent.Status,
		&intent.Metadata, &intent.ExpiresAt, &intent.CreatedAt, &intent.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment intent: %w", err)
	}
	return intent, nil
}
