package ports

import (
	"context"
	"time"

	"z402-facilitator/internal/core/domain"
	"z402-facilitator/pkg/x402"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChallengeService issues payment challenges for priced resources.
type ChallengeService interface {
	// Issue creates a payment intent and the matching challenge header value.
	Issue(ctx context.Context, merchantID uuid.UUID, amount decimal.Decimal, resource string, metadata map[string]string) (*domain.PaymentIntent, *x402.Challenge, error)
	// Get returns an intent owned by the merchant.
	Get(ctx context.Context, merchantID, intentID uuid.UUID) (*domain.PaymentIntent, error)
	// Cancel expires a CREATED intent before it is paid.
	Cancel(ctx context.Context, merchantID, intentID uuid.UUID) (*domain.PaymentIntent, error)
}

// AuthorizeService validates authorization headers against their intents and
// records the resulting transaction atomically.
type AuthorizeService interface {
	Authorize(ctx context.Context, auth *domain.Authorization) (*domain.Transaction, error)
}

// VerificationResult reports the current confirmation standing of a payment.
type VerificationResult struct {
	Transaction   *domain.Transaction
	Verified      bool
	Settled       bool
	Confirmations int
}

// TrackerService drives transactions through confirmation thresholds.
type TrackerService interface {
	// Track refreshes one transaction from the ledger and applies any status
	// transition it has earned.
	Track(ctx context.Context, transactionID uuid.UUID) (*VerificationResult, error)
	// Sweep refreshes all trackable transactions and expires stale intents.
	// Failures on individual items are logged and do not abort the pass.
	Sweep(ctx context.Context) error
	// Verify reports the standing of the transaction behind an intent without
	// forcing a ledger refresh.
	Verify(ctx context.Context, merchantID, intentID uuid.UUID) (*VerificationResult, error)
}

// WebhookService enqueues and delivers signed webhook events.
type WebhookService interface {
	// Enqueue records a delivery for the transaction's current status. It is
	// idempotent per (transaction, event type).
	Enqueue(ctx context.Context, txn *domain.Transaction) error
	// Attempt performs one delivery attempt and reschedules or finalizes.
	Attempt(ctx context.Context, deliveryID uuid.UUID) error
	// DispatchDue claims and attempts all deliveries whose time has come.
	DispatchDue(ctx context.Context) error
}

// WebhookSigner produces and checks webhook signature headers.
type WebhookSigner interface {
	Sign(secret string, body []byte, at time.Time) string
	Verify(secret string, body []byte, header string, now time.Time) error
}

// RefundService marks settled transactions as refunded.
type RefundService interface {
	Refund(ctx context.Context, merchantID, transactionID uuid.UUID, amount decimal.Decimal, reason *string) (*domain.Refund, error)
}

// MerchantService manages merchant accounts and credentials.
type MerchantService interface {
	Register(ctx context.Context, name, webhookURL, transparentAddr, shieldedAddr string) (*domain.Merchant, string, error)
	Authenticate(ctx context.Context, apiKey string) (*domain.Merchant, error)
	Login(ctx context.Context, merchantID uuid.UUID, apiKey string) (string, error)
	// WebhookSecret decrypts and returns the merchant's webhook secret.
	WebhookSecret(ctx context.Context, merchant *domain.Merchant) (string, error)
}

// SignatureService verifies client payment authorization signatures.
// The key's interpretation depends on the scheme: a shared secret for HMAC,
// a hex-encoded compressed public key for ECDSA.
type SignatureService interface {
	// ValidKey reports whether key is a well-formed verification key for
	// this scheme. The authorizer consults it before touching storage.
	ValidKey(key string) bool
	Verify(key string, payload string, signature string) bool
}

// Signer additionally produces signatures, used for server-issued challenges.
type Signer interface {
	SignatureService
	Sign(key string, payload string) (string, error)
}

// EncryptionService provides symmetric encryption for data at rest.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// HashService provides one-way hashing for credentials.
type HashService interface {
	Hash(value string) (string, error)
	Verify(value string, encodedHash string) (bool, error)
}

// TokenClaims holds the validated contents of a session token.
type TokenClaims struct {
	MerchantID uuid.UUID
	APIKey     string
}

// TokenService issues and validates merchant session tokens.
type TokenService interface {
	Generate(merchantID uuid.UUID, apiKey string) (string, time.Time, error)
	Validate(token string) (*TokenClaims, error)
}

// AuditService records security-relevant events. Implementations log always
// and persist best-effort.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// RateLimiter bounds request rates per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// DeliveryLock prevents concurrent attempts on the same webhook delivery.
type DeliveryLock interface {
	Acquire(ctx context.Context, deliveryID uuid.UUID, ttl time.Duration) (bool, error)
	Release(ctx context.Context, deliveryID uuid.UUID) error
}
