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

const deliveryColumns = `id, merchant_id, event_type, idempotency_key, payload, status, last_http_status,
		response_body, attempts, max_attempts, next_attempt_at, delivered_at, created_at, updated_at`

// WebhookDeliveryRepo implements ports.WebhookDeliveryRepository.
type WebhookDeliveryRepo struct {
	pool Pool
}

// NewWebhookDeliveryRepo creates a new WebhookDeliveryRepo.
func NewWebhookDeliveryRepo(pool Pool) *WebhookDeliveryRepo {
	return &WebhookDeliveryRepo{pool: pool}
}

// CreateOrGet inserts a delivery, or returns the existing one when the
// idempotency key is already recorded. The bool reports whether a new row
// was created.
func (r *WebhookDeliveryRepo) CreateOrGet(ctx context.Context, d *domain.WebhookDelivery) (*domain.WebhookDelivery, bool, error) {
	query := `INSERT INTO webhook_deliveries (` + deliveryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (idempotency_key) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query,
		d.ID, d.MerchantID, d.EventType, d.IdempotencyKey, d.Payload, d.Status,
		d.LastHTTPStatus, d.ResponseBody, d.Attempts, d.MaxAttempts,
		d.NextAttemptAt, d.DeliveredAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert webhook delivery: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return d, true, nil
	}

	existing, err := r.getByKey(ctx, d.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByID fetches a delivery by UUID.
func (r *WebhookDeliveryRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = $1`
	return scanDelivery(r.pool.QueryRow(ctx, query, id))
}

func (r *WebhookDeliveryRepo) getByKey(ctx context.Context, key string) (*domain.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE idempotency_key = $1`
	return scanDelivery(r.pool.QueryRow(ctx, query, key))
}

// Update persists attempt bookkeeping and status changes.
func (r *WebhookDeliveryRepo) Update(ctx context.Context, d *domain.WebhookDelivery) error {
	query := `UPDATE webhook_deliveries
		SET status = $1, last_http_status = $2, response_body = $3, attempts = $4,
		    next_attempt_at = $5, delivered_at = $6, updated_at = $7
		WHERE id = $8`

	tag, err := r.pool.Exec(ctx, query,
		d.Status, d.LastHTTPStatus, d.ResponseBody, d.Attempts,
		d.NextAttemptAt, d.DeliveredAt, d.UpdatedAt, d.ID,
	)
	if err != nil {
		return fmt.Errorf("update webhook delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("webhook delivery not found: %s", d.ID)
	}
	return nil
}

// ListDue returns deliveries whose next attempt time has passed.
func (r *WebhookDeliveryRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
		WHERE status IN ('PENDING', 'RETRYING') AND next_attempt_at <= $1
		ORDER BY next_attempt_at ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []domain.WebhookDelivery
	for rows.Next() {
		d := domain.WebhookDelivery{}
		err := rows.Scan(
			&d.ID, &d.MerchantID, &d.EventType, &d.IdempotencyKey, &d.Payload, &d.Status,
			&d.LastHTTPStatus, &d.ResponseBody, &d.Attempts, &d.MaxAttempts,
			&d.NextAttemptAt, &d.DeliveredAt, &d.CreatedAt, &d.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan delivery row: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery rows: %w", err)
	}
	return deliveries, nil
}

func scanDelivery(row pgx.Row) (*domain.WebhookDelivery, error) {
	d := &domain.WebhookDelivery{}
	err := row.Scan(
		&d.ID, &d.MerchantID, &d.EventType, &d.IdempotencyKey, &d.Payload, &d.Status,
		&d.LastHTTPStatus, &d.ResponseBody, &d.Attempts, &d.MaxAttempts,
		&d.NextAttemptAt, &d.DeliveredAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan webhook delivery: %w", err)
	}
	return d, nil
}
