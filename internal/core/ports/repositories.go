package ports

import (
	"context"
	"time"

	"z402-facilitator/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MerchantRepository defines persistence operations for merchants.
type MerchantRepository interface {
	Create(ctx context.Context, merchant *domain.Merchant) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*domain.Merchant, error)
}

// PaymentIntentRepository defines persistence operations for payment intents.
// Methods accepting pgx.Tx run inside the authorization transaction; the
// ForUpdate variant takes a row lock so concurrent authorizations serialize.
// The nonce column carries a unique constraint enforced by the store.
type PaymentIntentRepository interface {
	Create(ctx context.Context, intent *domain.PaymentIntent) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PaymentIntent, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.IntentStatus) error
	// MarkExpired moves CREATED intents past their expiry to EXPIRED and
	// returns how many rows changed.
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
}

// TransactionRepository defines persistence operations for transactions.
// The tx_id column carries a unique constraint: binding an on-chain id to a
// second transaction fails at the store even if the application check races.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// GetActiveByIntentID returns the non-terminal transaction for an intent,
	// or nil if none exists.
	GetActiveByIntentID(ctx context.Context, tx pgx.Tx, intentID uuid.UUID) (*domain.Transaction, error)
	// GetByTxID returns the transaction bound to an on-chain id, or nil.
	GetByTxID(ctx context.Context, txid string) (*domain.Transaction, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus, failureReason *string) error
	// UpdateTxID binds an on-chain id to a transaction that was authorized
	// without one. The unique constraint rejects an id already claimed
	// elsewhere; a transaction whose id is already set is not rebindable.
	UpdateTxID(ctx context.Context, tx pgx.Tx, id uuid.UUID, txid string) error
	// UpdateLedgerState records observed chain data. Confirmations are written
	// as given; monotonicity is the tracker's responsibility.
	UpdateLedgerState(ctx context.Context, tx pgx.Tx, id uuid.UUID, confirmations int, blockHeight *int64) error
	// ListTrackable returns PENDING and VERIFIED transactions with a known
	// on-chain id, oldest first.
	ListTrackable(ctx context.Context, limit int) ([]domain.Transaction, error)
	// ListPendingWithoutTxID returns PENDING transactions that never reported
	// an on-chain id, oldest first.
	ListPendingWithoutTxID(ctx context.Context, limit int) ([]domain.Transaction, error)
	List(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
}

// TransactionListParams holds filter + pagination for listing transactions.
type TransactionListParams struct {
	MerchantID uuid.UUID
	Status     *domain.TransactionStatus
	Resource   *string
	Limit      int
	Offset     int
}

// WebhookDeliveryRepository defines persistence for webhook deliveries.
// The idempotency key is unique; CreateOrGet returns the existing record when
// the same logical event is enqueued twice.
type WebhookDeliveryRepository interface {
	CreateOrGet(ctx context.Context, delivery *domain.WebhookDelivery) (*domain.WebhookDelivery, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookDelivery, error)
	Update(ctx context.Context, delivery *domain.WebhookDelivery) error
	// ListDue returns PENDING and RETRYING deliveries whose next attempt time
	// has passed.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error)
}

// RefundRepository defines persistence operations for refunds.
type RefundRepository interface {
	Create(ctx context.Context, tx pgx.Tx, refund *domain.Refund) error
	GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (*domain.Refund, error)
	Update(ctx context.Context, refund *domain.Refund) error
}

// AuditRepository persists audit log entries.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
