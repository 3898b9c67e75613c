package domain

import (
	"time"

	"github.com/google/uuid"
)

// MerchantStatus represents the state of a merchant account.
type MerchantStatus string

const (
	MerchantStatusActive      MerchantStatus = "ACTIVE"
	MerchantStatusSuspended   MerchantStatus = "SUSPENDED"
	MerchantStatusDeactivated MerchantStatus = "DEACTIVATED"
)

// Merchant is a resource owner the facilitator collects payments for.
type Merchant struct {
	ID                 uuid.UUID      `json:"id"`
	Name               string         `json:"name"`
	APIKey             string         `json:"api_key"`
	APIKeyHash         string         `json:"-"` // Argon2id, never expose
	WebhookURL         *string        `json:"webhook_url,omitempty"`
	WebhookSecretEnc   string         `json:"-"` // AES-256-GCM encrypted, never expose
	TransparentAddress *string        `json:"transparent_address,omitempty"`
	ShieldedAddress    *string        `json:"shielded_address,omitempty"`
	Status             MerchantStatus `json:"status"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// IsActive returns true if the merchant account is active.
func (m *Merchant) IsActive() bool {
	return m.Status == MerchantStatusActive
}

// ReceivingAddress returns the address challenges should direct payment to.
// Shielded addresses are preferred over transparent ones when configured.
// Returns empty string if the merchant has no address at all.
func (m *Merchant) ReceivingAddress() string {
	if m.ShieldedAddress != nil && *m.ShieldedAddress != "" {
		return *m.ShieldedAddress
	}
	if m.TransparentAddress != nil && *m.TransparentAddress != "" {
		return *m.TransparentAddress
	}
	return ""
}
