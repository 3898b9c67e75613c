package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited protocol event.
type AuditAction string

const (
	AuditActionChallengeIssued  AuditAction = "CHALLENGE_ISSUED"
	AuditActionAuthorized       AuditAction = "PAYMENT_AUTHORIZED"
	AuditActionStateTransition  AuditAction = "STATE_TRANSITION"
	AuditActionDoubleSpend      AuditAction = "DOUBLE_SPEND"
	AuditActionSignatureFailure AuditAction = "SIGNATURE_FAILURE"
	AuditActionRefund           AuditAction = "REFUND"
	AuditActionWebhookExhausted AuditAction = "WEBHOOK_EXHAUSTED"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	MerchantID   *uuid.UUID  `json:"merchant_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
