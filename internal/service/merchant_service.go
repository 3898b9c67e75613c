package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"z402-facilitator/internal/core/domain"
	"z402-facilitator/internal/core/ports"
	"z402-facilitator/pkg/apperror"
	"z402-facilitator/pkg/zaddr"

	"github.com/google/uuid"
)

type merchantService struct {
	merchantRepo ports.MerchantRepository
	hashSvc      ports.HashService
	encSvc       ports.EncryptionService
	tokenSvc     ports.TokenService
}

// NewMerchantService creates a new merchant management service.
func NewMerchantService(
	merchantRepo ports.MerchantRepository,
	hashSvc ports.HashService,
	encSvc ports.EncryptionService,
	tokenSvc ports.TokenService,
) ports.MerchantService {
	return &merchantService{
		merchantRepo: merchantRepo,
		hashSvc:      hashSvc,
		encSvc:       encSvc,
		tokenSvc:     tokenSvc,
	}
}

// Register creates a merchant account. The returned string is the full API
// key, shown in plaintext only once; we persist its hash and keep the short
// lookup prefix on the record.
func (s *merchantService) Register(ctx context.Context, name, webhookURL, transparentAddr, shieldedAddr string) (*domain.Merchant, string, error) {
	if transparentAddr == "" && shieldedAddr == "" {
		return nil, "", apperror.ErrNoReceivingAddress()
	}
	if transparentAddr != "" {
		if cls, err := zaddr.Classify(transparentAddr); err != nil || cls != zaddr.ClassTransparent {
			return nil, "", apperror.ErrInvalidAddress(transparentAddr)
		}
	}
	if shieldedAddr != "" {
		if !zaddr.IsShielded(shieldedAddr) {
			return nil, "", apperror.ErrInvalidAddress(shieldedAddr)
		}
	}

	apiKey, err := generateKey("zk_", 32)
	if err != nil {
		return nil, "", apperror.InternalError(fmt.Errorf("generate api key: %w", err))
	}
	webhookSecret, err := generateKey("whs_", 32)
	if err != nil {
		return nil, "", apperror.InternalError(fmt.Errorf("generate webhook secret: %w", err))
	}

	apiKeyHash, err := s.hashSvc.Hash(apiKey)
	if err != nil {
		return nil, "", apperror.InternalError(fmt.Errorf("hash api key: %w", err))
	}
	secretEnc, err := s.encSvc.Encrypt(webhookSecret)
	if err != nil {
		return nil, "", apperror.ErrEncryptionFailure(fmt.Errorf("encrypt webhook secret: %w", err))
	}

	now := time.Now().UTC()
	merchant := &domain.Merchant{
		ID:               uuid.New(),
		Name:             name,
		APIKey:           apiKey[:12], // lookup prefix, not a credential
		APIKeyHash:       apiKeyHash,
		WebhookSecretEnc: secretEnc,
		Status:           domain.MerchantStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if webhookURL != "" {
		merchant.WebhookURL = &webhookURL
	}
	if transparentAddr != "" {
		merchant.TransparentAddress = &transparentAddr
	}
	if shieldedAddr != "" {
		merchant.ShieldedAddress = &shieldedAddr
	}

	if err := s.merchantRepo.Create(ctx, merchant); err != nil {
		return nil, "", apperror.InternalError(fmt.Errorf("create merchant: %w", err))
	}

	return merchant, apiKey, nil
}

// Authenticate resolves an API key to its active merchant.
func (s *merchantService) Authenticate(ctx context.Context, apiKey string) (*domain.Merchant, error) {
	if len(apiKey) < 12 {
		return nil, apperror.ErrInvalidAPIKey()
	}

	merchant, err := s.merchantRepo.GetByAPIKey(ctx, apiKey[:12])
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find merchant: %w", err))
	}
	if merchant == nil {
		return nil, apperror.ErrInvalidAPIKey()
	}

	ok, err := s.hashSvc.Verify(apiKey, merchant.APIKeyHash)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("verify api key: %w", err))
	}
	if !ok || !merchant.IsActive() {
		return nil, apperror.ErrInvalidAPIKey()
	}

	return merchant, nil
}

// Login exchanges an API key for a session JWT.
func (s *merchantService) Login(ctx context.Context, merchantID uuid.UUID, apiKey string) (string, error) {
	merchant, err := s.Authenticate(ctx, apiKey)
	if err != nil {
		return "", err
	}
	if merchant.ID != merchantID {
		return "", apperror.ErrInvalidAPIKey()
	}

	token, _, err := s.tokenSvc.Generate(merchant.ID, merchant.APIKey)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}
	return token, nil
}

// WebhookSecret decrypts the merchant's webhook signing secret.
func (s *merchantService) WebhookSecret(ctx context.Context, merchant *domain.Merchant) (string, error) {
	secret, err := s.encSvc.Decrypt(merchant.WebhookSecretEnc)
	if err != nil {
		return "", apperror.ErrEncryptionFailure(fmt.Errorf("decrypt webhook secret: %w", err))
	}
	return secret, nil
}

// generateKey returns prefix + hex of length random bytes.
func generateKey(prefix string, length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + hex.EncodeToString(b), nil
}
