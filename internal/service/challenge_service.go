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
	"z402-facilitator/pkg/x402"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type challengeService struct {
	intentRepo   ports.PaymentIntentRepository
	merchantRepo ports.MerchantRepository
	signer       ports.Signer
	serverKey    string
	currency     string
	expiry       time.Duration
	transactor   ports.DBTransactor
	auditSvc     ports.AuditService
	log          zerolog.Logger
}

// NewChallengeService creates the service that issues and manages payment
// intents. serverKey signs challenge headers so clients can detect tampering.
func NewChallengeService(
	intentRepo ports.PaymentIntentRepository,
	merchantRepo ports.MerchantRepository,
	transactor ports.DBTransactor,
	signer ports.Signer,
	serverKey string,
	currency string,
	expiry time.Duration,
	auditSvc ports.AuditService,
	log zerolog.Logger,
) ports.ChallengeService {
	return &challengeService{
		intentRepo:   intentRepo,
		merchantRepo: merchantRepo,
		transactor:   transactor,
		signer:       signer,
		serverKey:    serverKey,
		currency:     currency,
		expiry:       expiry,
		auditSvc:     auditSvc,
		log:          log,
	}
}

// Issue creates a payment intent directed at the merchant's receiving
// address and returns the matching challenge.
func (s *challengeService) Issue(ctx context.Context, merchantID uuid.UUID, amount decimal.Decimal, resource string, metadata map[string]string) (*domain.PaymentIntent, *x402.Challenge, error) {
	merchant, err := s.merchantRepo.GetByID(ctx, merchantID)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("get merchant: %w", err))
	}
	if merchant == nil {
		return nil, nil, apperror.ErrOwnerNotFound()
	}
	return s.issue(ctx, merchant.ID, merchant.ReceivingAddress(), amount, resource, metadata)
}

func (s *challengeService) issue(ctx context.Context, merchantID uuid.UUID, address string, amount decimal.Decimal, resource string, metadata map[string]string) (*domain.PaymentIntent, *x402.Challenge, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, nil, apperror.ErrInvalidAmount()
	}
	if address == "" {
		return nil, nil, apperror.ErrNoReceivingAddress()
	}

	nonce, err := generateNonce()
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("generate nonce: %w", err))
	}

	now := time.Now().UTC()
	intent := &domain.PaymentIntent{
		ID:         uuid.New(),
		MerchantID: merchantID,
		Amount:     amount,
		Currency:   s.currency,
		Address:    address,
		Resource:   resource,
		Nonce:      nonce,
		Status:     domain.IntentStatusCreated,
		Metadata:   metadata,
		ExpiresAt:  now.Add(s.expiry),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.intentRepo.Create(ctx, intent); err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("create intent: %w", err))
	}

	msg := domain.ChallengeMessage(intent.ID, intent.Amount, intent.Address, intent.CreatedAt)
	sig, err := s.signer.Sign(s.serverKey, msg)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("sign challenge: %w", err))
	}

	challenge := &x402.Challenge{
		PaymentID: intent.ID.String(),
		Amount:    intent.Amount.String(),
		Currency:  intent.Currency,
		Address:   intent.Address,
		Resource:  intent.Resource,
		Expires:   intent.ExpiresAt.Unix(),
		Nonce:     intent.Nonce,
		Signature: sig,
	}

	s.auditSvc.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		MerchantID:   &merchantID,
		Action:       domain.AuditActionChallengeIssued,
		ResourceType: "payment_intent",
		ResourceID:   intent.ID.String(),
		CreatedAt:    now,
	})

	s.log.Info().
		Str("intent_id", intent.ID.String()).
		Str("merchant_id", merchantID.String()).
		Str("amount", amount.String()).
		Str("resource", resource).
		Msg("challenge issued")

	return intent, challenge, nil
}

// Get returns an intent if it belongs to the merchant.
func (s *challengeService) Get(ctx context.Context, merchantID, intentID uuid.UUID) (*domain.PaymentIntent, error) {
	intent, err := s.intentRepo.GetByID(ctx, intentID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get intent: %w", err))
	}
	if intent == nil || intent.MerchantID != merchantID {
		return nil, apperror.ErrPaymentNotFound()
	}
	return intent, nil
}

// Cancel expires a CREATED intent before any payment is authorized against it.
func (s *challengeService) Cancel(ctx context.Context, merchantID, intentID uuid.UUID) (*domain.PaymentIntent, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	intent, err := s.intentRepo.GetByIDForUpdate(ctx, dbTx, intentID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock intent: %w", err))
	}
	if intent == nil || intent.MerchantID != merchantID {
		return nil, apperror.ErrPaymentNotFound()
	}
	if intent.Status != domain.IntentStatusCreated {
		return nil, apperror.ErrPaymentAlreadyProcessed()
	}

	if err := s.intentRepo.UpdateStatus(ctx, dbTx, intent.ID, domain.IntentStatusExpired); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("expire intent: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	intent.Status = domain.IntentStatusExpired
	s.log.Info().Str("intent_id", intent.ID.String()).Msg("intent cancelled")
	return intent, nil
}

// generateNonce returns 16 random bytes, hex-encoded.
func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
