package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"z402-facilitator/internal/core/domain"
	"z402-facilitator/internal/core/ports"
	"z402-facilitator/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const responseBodyLimit = 1024

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookConfig tunes delivery behavior.
type WebhookConfig struct {
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	ClaimTTL      time.Duration
	DispatchLimit int
}

type webhookService struct {
	deliveryRepo ports.WebhookDeliveryRepository
	merchantRepo ports.MerchantRepository
	encSvc       ports.EncryptionService
	signer       ports.WebhookSigner
	lock         ports.DeliveryLock
	auditSvc     ports.AuditService
	httpClient   HTTPClient
	cfg          WebhookConfig
	log          zerolog.Logger
}

// NewWebhookService creates the webhook delivery service.
func NewWebhookService(
	deliveryRepo ports.WebhookDeliveryRepository,
	merchantRepo ports.MerchantRepository,
	encSvc ports.EncryptionService,
	signer ports.WebhookSigner,
	lock ports.DeliveryLock,
	auditSvc ports.AuditService,
	httpClient HTTPClient,
	cfg WebhookConfig,
	log zerolog.Logger,
) ports.WebhookService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Hour
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 30 * time.Second
	}
	if cfg.DispatchLimit <= 0 {
		cfg.DispatchLimit = 100
	}
	return &webhookService{
		deliveryRepo: deliveryRepo,
		merchantRepo: merchantRepo,
		encSvc:       encSvc,
		signer:       signer,
		lock:         lock,
		auditSvc:     auditSvc,
		httpClient:   httpClient,
		cfg:          cfg,
		log:          log,
	}
}

// Enqueue records a delivery for the transaction's current status. The
// payload is serialized once here; every retry sends these exact bytes so
// the signature stays valid across attempts.
func (s *webhookService) Enqueue(ctx context.Context, txn *domain.Transaction) error {
	eventType := domain.EventTypeFor(txn.Status)
	if eventType == "" {
		return nil
	}

	merchant, err := s.merchantRepo.GetByID(ctx, txn.MerchantID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("get merchant: %w", err))
	}
	if merchant == nil || merchant.WebhookURL == nil || *merchant.WebhookURL == "" {
		s.log.Debug().Str("merchant_id", txn.MerchantID.String()).Msg("no webhook URL configured, skipping")
		return nil
	}

	now := time.Now().UTC()
	event := domain.WebhookEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Data:      txn,
		CreatedAt: now,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("marshal event: %w", err))
	}

	delivery := &domain.WebhookDelivery{
		ID:             uuid.New(),
		MerchantID:     merchant.ID,
		EventType:      eventType,
		IdempotencyKey: domain.BuildDeliveryKey(txn.ID, eventType),
		Payload:        payload,
		Status:         domain.DeliveryStatusPending,
		MaxAttempts:    s.cfg.MaxAttempts,
		NextAttemptAt:  &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	stored, created, err := s.deliveryRepo.CreateOrGet(ctx, delivery)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("create delivery: %w", err))
	}
	if !created {
		s.log.Debug().
			Str("idempotency_key", stored.IdempotencyKey).
			Msg("delivery already recorded for event, not duplicating")
	}
	return nil
}

// Attempt performs one delivery attempt for the given record, guarded by a
// claim lock so concurrent dispatchers never double-send.
func (s *webhookService) Attempt(ctx context.Context, deliveryID uuid.UUID) error {
	acquired, err := s.lock.Acquire(ctx, deliveryID, s.cfg.ClaimTTL)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("acquire claim: %w", err))
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := s.lock.Release(context.Background(), deliveryID); err != nil {
			s.log.Warn().Err(err).Str("delivery_id", deliveryID.String()).Msg("failed to release delivery claim")
		}
	}()

	delivery, err := s.deliveryRepo.GetByID(ctx, deliveryID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("get delivery: %w", err))
	}
	if delivery == nil || delivery.IsTerminal() {
		return nil
	}

	merchant, err := s.merchantRepo.GetByID(ctx, delivery.MerchantID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("get merchant: %w", err))
	}
	if merchant == nil || merchant.WebhookURL == nil || *merchant.WebhookURL == "" {
		return s.finalize(ctx, delivery, domain.DeliveryStatusFailed, nil, "no webhook URL")
	}

	secret, err := s.encSvc.Decrypt(merchant.WebhookSecretEnc)
	if err != nil {
		return apperror.ErrEncryptionFailure(fmt.Errorf("decrypt webhook secret: %w", err))
	}

	now := time.Now().UTC()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *merchant.WebhookURL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return apperror.InternalError(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Z402-Signature", s.signer.Sign(secret, delivery.Payload, now))
	req.Header.Set("Z402-Event-Id", delivery.IdempotencyKey)

	// Record the attempt before sending. If the process dies mid-POST the
	// attempt still counts against MaxAttempts on the next dispatch.
	delivery.Attempts++
	delivery.UpdatedAt = now
	if err := s.deliveryRepo.Update(ctx, delivery); err != nil {
		return apperror.InternalError(fmt.Errorf("record attempt: %w", err))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.log.Warn().Err(err).
			Str("delivery_id", delivery.ID.String()).
			Int("attempt", delivery.Attempts).
			Msg("webhook delivery failed")
		return s.reschedule(ctx, delivery, nil, err.Error())
	}
	defer resp.Body.Close()

	bodySnippet := readSnippet(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.log.Info().
			Str("delivery_id", delivery.ID.String()).
			Str("event_type", delivery.EventType).
			Int("attempt", delivery.Attempts).
			Int("status", resp.StatusCode).
			Msg("webhook delivered")
		return s.finalize(ctx, delivery, domain.DeliveryStatusSent, &resp.StatusCode, bodySnippet)
	}

	s.log.Warn().
		Str("delivery_id", delivery.ID.String()).
		Int("attempt", delivery.Attempts).
		Int("status", resp.StatusCode).
		Msg("webhook rejected by receiver")
	return s.reschedule(ctx, delivery, &resp.StatusCode, bodySnippet)
}

// reschedule records a failed attempt and either schedules a retry with
// exponential backoff or gives up.
func (s *webhookService) reschedule(ctx context.Context, delivery *domain.WebhookDelivery, httpStatus *int, responseBody string) error {
	if delivery.Exhausted() {
		s.auditSvc.Log(ctx, &domain.AuditLog{
			ID:           uuid.New(),
			MerchantID:   &delivery.MerchantID,
			Action:       domain.AuditActionWebhookExhausted,
			ResourceType: "webhook_delivery",
			ResourceID:   delivery.ID.String(),
			CreatedAt:    time.Now().UTC(),
		})
		s.log.Error().
			Str("delivery_id", delivery.ID.String()).
			Int("attempts", delivery.Attempts).
			Msg("webhook attempts exhausted")
		return s.finalize(ctx, delivery, domain.DeliveryStatusFailed, httpStatus, responseBody)
	}

	backoff := s.cfg.BaseBackoff << (delivery.Attempts - 1)
	if backoff > s.cfg.MaxBackoff || backoff <= 0 {
		backoff = s.cfg.MaxBackoff
	}
	next := time.Now().UTC().Add(backoff)

	delivery.Status = domain.DeliveryStatusRetrying
	delivery.LastHTTPStatus = httpStatus
	delivery.ResponseBody = &responseBody
	delivery.NextAttemptAt = &next
	delivery.UpdatedAt = time.Now().UTC()

	if err := s.deliveryRepo.Update(ctx, delivery); err != nil {
		return apperror.InternalError(fmt.Errorf("update delivery: %w", err))
	}
	return nil
}

func (s *webhookService) finalize(ctx context.Context, delivery *domain.WebhookDelivery, status domain.DeliveryStatus, httpStatus *int, responseBody string) error {
	now := time.Now().UTC()
	delivery.Status = status
	delivery.LastHTTPStatus = httpStatus
	delivery.ResponseBody = &responseBody
	delivery.NextAttemptAt = nil
	delivery.UpdatedAt = now
	if status == domain.DeliveryStatusSent {
		delivery.DeliveredAt = &now
	}

	if err := s.deliveryRepo.Update(ctx, delivery); err != nil {
		return apperror.InternalError(fmt.Errorf("update delivery: %w", err))
	}
	return nil
}

// DispatchDue attempts every delivery whose scheduled time has passed.
func (s *webhookService) DispatchDue(ctx context.Context) error {
	due, err := s.deliveryRepo.ListDue(ctx, time.Now().UTC(), s.cfg.DispatchLimit)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("list due: %w", err))
	}

	for _, delivery := range due {
		if err := s.Attempt(ctx, delivery.ID); err != nil {
			s.log.Warn().Err(err).Str("delivery_id", delivery.ID.String()).Msg("dispatch: attempt failed")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, responseBodyLimit))
	return string(b)
}
