package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "PENDING"
	TransactionStatusVerified TransactionStatus = "VERIFIED"
	TransactionStatusSettled  TransactionStatus = "SETTLED"
	TransactionStatusFailed   TransactionStatus = "FAILED"
	TransactionStatusExpired  TransactionStatus = "EXPIRED"
	TransactionStatusRefunded TransactionStatus = "REFUNDED"
)

// transactionTransitions is the authoritative state machine. Forward only:
// a settled transaction never moves back to PENDING no matter what later
// ledger reads claim; such anomalies are logged, not reverted.
var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:  {TransactionStatusVerified, TransactionStatusFailed, TransactionStatusExpired, TransactionStatusRefunded},
	TransactionStatusVerified: {TransactionStatusSettled, TransactionStatusFailed, TransactionStatusExpired, TransactionStatusRefunded},
	TransactionStatusSettled:  {TransactionStatusRefunded},
}

// Transaction represents one attempted or confirmed on-chain settlement of a
// payment intent.
type Transaction struct {
	ID              uuid.UUID         `json:"id"`
	PaymentIntentID *uuid.UUID        `json:"payment_intent_id,omitempty"`
	MerchantID      uuid.UUID         `json:"merchant_id"`
	Amount          decimal.Decimal   `json:"amount"`
	Currency        string            `json:"currency"`
	Status          TransactionStatus `json:"status"`
	TxID            *string           `json:"tx_id,omitempty"` // on-chain id, unique once known
	BlockHeight     *int64            `json:"block_height,omitempty"`
	Confirmations   int               `json:"confirmations"`
	FromAddress     *string           `json:"from_address,omitempty"`
	ToAddress       string            `json:"to_address"`
	Resource        string            `json:"resource"`
	FailureReason   *string           `json:"failure_reason,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	SettledAt       *time.Time        `json:"settled_at,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// CanTransitionTo reports whether the transaction may move to next.
func (t *Transaction) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range transactionTransitions[t.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	return len(transactionTransitions[t.Status]) == 0
}

// IsRefundable returns true if this transaction can be refunded.
func (t *Transaction) IsRefundable() bool {
	return t.Status == TransactionStatusSettled
}

// IntentStatusFor maps a terminal or notable transaction status onto the
// owning intent's status. The intent mirrors its transaction's outcome.
func IntentStatusFor(status TransactionStatus) (IntentStatus, bool) {
	switch status {
	case TransactionStatusSettled:
		return IntentStatusSettled, true
	case TransactionStatusFailed:
		return IntentStatusFailed, true
	case TransactionStatusExpired:
		return IntentStatusExpired, true
	case TransactionStatusRefunded:
		return IntentStatusRefunded, true
	default:
		return "", false
	}
}

// EventTypeFor returns the webhook event type announced for a transition into
// status, or empty if the transition is not notifiable.
func EventTypeFor(status TransactionStatus) string {
	switch status {
	case TransactionStatusVerified:
		return EventPaymentVerified
	case TransactionStatusSettled:
		return EventPaymentSettled
	case TransactionStatusFailed:
		return EventPaymentFailed
	case TransactionStatusExpired:
		return EventPaymentExpired
	case TransactionStatusRefunded:
		return EventPaymentRefunded
	default:
		return ""
	}
}
