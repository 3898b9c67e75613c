package domain

import (
	"time"

	"github.com/google/uuid"
)

// Webhook event types, named the way receivers see them.
const (
	EventPaymentVerified = "payment.verified"
	EventPaymentSettled  = "payment.settled"
	EventPaymentFailed   = "payment.failed"
	EventPaymentExpired  = "payment.expired"
	EventPaymentRefunded = "payment.refunded"
)

// DeliveryStatus represents the delivery state of a webhook.
type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "PENDING"
	DeliveryStatusRetrying DeliveryStatus = "RETRYING"
	DeliveryStatusSent     DeliveryStatus = "SENT"
	DeliveryStatusFailed   DeliveryStatus = "FAILED"
)

// WebhookDelivery records a signed notification to a merchant endpoint and
// its attempt history. Retries of the same logical event reuse one record,
// keyed by IdempotencyKey.
type WebhookDelivery struct {
	ID             uuid.UUID      `json:"id"`
	MerchantID     uuid.UUID      `json:"merchant_id"`
	EventType      string         `json:"event_type"`
	IdempotencyKey string         `json:"idempotency_key"`
	Payload        []byte         `json:"-"` // raw signed body, exactly what goes on the wire
	Status         DeliveryStatus `json:"status"`
	LastHTTPStatus *int           `json:"last_http_status,omitempty"`
	ResponseBody   *string        `json:"response_body,omitempty"` // truncated
	Attempts       int            `json:"attempts"`
	MaxAttempts    int            `json:"max_attempts"`
	NextAttemptAt  *time.Time     `json:"next_attempt_at,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// IsTerminal returns true once the delivery will never be attempted again.
func (d *WebhookDelivery) IsTerminal() bool {
	return d.Status == DeliveryStatusSent || d.Status == DeliveryStatusFailed
}

// Exhausted reports whether the attempt budget is used up.
func (d *WebhookDelivery) Exhausted() bool {
	return d.Attempts >= d.MaxAttempts
}

// BuildDeliveryKey constructs the idempotency key for a transaction event.
// One logical event per (transaction, event type) pair.
func BuildDeliveryKey(transactionID uuid.UUID, eventType string) string {
	return transactionID.String() + ":" + eventType
}

// WebhookEvent is the JSON envelope sent to merchant endpoints.
type WebhookEvent struct {
	ID        uuid.UUID    `json:"id"`
	Type      string       `json:"type"`
	Data      *Transaction `json:"data"`
	CreatedAt time.Time    `json:"createdAt"`
}
