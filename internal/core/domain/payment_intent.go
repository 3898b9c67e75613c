package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IntentStatus represents the lifecycle state of a payment intent.
type IntentStatus string

const (
	IntentStatusCreated    IntentStatus = "CREATED"
	IntentStatusProcessing IntentStatus = "PROCESSING"
	IntentStatusSettled    IntentStatus = "SETTLED"
	IntentStatusFailed     IntentStatus = "FAILED"
	IntentStatusExpired    IntentStatus = "EXPIRED"
	IntentStatusRefunded   IntentStatus = "REFUNDED"
)

// intentTransitions lists the allowed forward moves. Terminal states have no
// outgoing edges; intents are never deleted, only marked terminal.
var intentTransitions = map[IntentStatus][]IntentStatus{
	IntentStatusCreated:    {IntentStatusProcessing, IntentStatusExpired},
	IntentStatusProcessing: {IntentStatusSettled, IntentStatusFailed, IntentStatusExpired},
	IntentStatusSettled:    {IntentStatusRefunded},
}

// PaymentIntent represents a requested payment before funds move.
type PaymentIntent struct {
	ID         uuid.UUID         `json:"id"`
	MerchantID uuid.UUID         `json:"merchant_id"`
	Amount     decimal.Decimal   `json:"amount"`
	Currency   string            `json:"currency"`
	Address    string            `json:"address"`
	Resource   string            `json:"resource"`
	Nonce      string            `json:"-"` // single-use, globally unique
	Status     IntentStatus      `json:"status"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ExpiresAt  time.Time         `json:"expires_at"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// CanTransitionTo reports whether the intent may move to next.
func (p *PaymentIntent) CanTransitionTo(next IntentStatus) bool {
	for _, allowed := range intentTransitions[p.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the intent is in a final state.
func (p *PaymentIntent) IsTerminal() bool {
	return len(intentTransitions[p.Status]) == 0
}

// ExpiredAt reports whether the intent's validity window has passed at now.
func (p *PaymentIntent) ExpiredAt(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
