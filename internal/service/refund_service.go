package service

import (
	"context"
	"fmt"
	"time"

	"z402-facilitator/internal/core/domain"
	"z402-facilitator/internal/core/ports"
	"z402-facilitator/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type refundService struct {
	txRepo     ports.TransactionRepository
	intentRepo ports.PaymentIntentRepository
	refundRepo ports.RefundRepository
	transactor ports.DBTransactor
	webhookSvc ports.WebhookService
	auditSvc   ports.AuditService
	log        zerolog.Logger
}

// NewRefundService creates the service that marks settled transactions as
// refunded. The actual value transfer back to the payer happens out of band;
// this records and announces the decision.
func NewRefundService(
	txRepo ports.TransactionRepository,
	intentRepo ports.PaymentIntentRepository,
	refundRepo ports.RefundRepository,
	transactor ports.DBTransactor,
	webhookSvc ports.WebhookService,
	auditSvc ports.AuditService,
	log zerolog.Logger,
) ports.RefundService {
	return &refundService{
		txRepo:     txRepo,
		intentRepo: intentRepo,
		refundRepo: refundRepo,
		transactor: transactor,
		webhookSvc: webhookSvc,
		auditSvc:   auditSvc,
		log:        log,
	}
}

// Refund moves a SETTLED transaction to REFUNDED and records the refund.
// A zero amount means full refund.
func (s *refundService) Refund(ctx context.Context, merchantID, transactionID uuid.UUID, amount decimal.Decimal, reason *string) (*domain.Refund, error) {
	txn, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get transaction: %w", err))
	}
	if txn == nil || txn.MerchantID != merchantID {
		return nil, apperror.ErrTransactionNotFound()
	}
	if !txn.IsRefundable() {
		return nil, apperror.ErrInvalidRefund()
	}

	existing, err := s.refundRepo.GetByTransactionID(ctx, txn.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check refund exists: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrInvalidRefund()
	}

	refundAmount := txn.Amount
	if !amount.IsZero() {
		if amount.IsNegative() {
			return nil, apperror.ErrInvalidAmount()
		}
		if amount.GreaterThan(txn.Amount) {
			return nil, apperror.ErrRefundAmountExceedsOriginal()
		}
		refundAmount = amount
	}

	now := time.Now().UTC()
	refund := &domain.Refund{
		ID:            uuid.New(),
		TransactionID: txn.ID,
		MerchantID:    merchantID,
		Amount:        refundAmount,
		Currency:      txn.Currency,
		Reason:        reason,
		Status:        domain.RefundStatusCompleted,
		CreatedAt:     now,
		CompletedAt:   &now,
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.refundRepo.Create(ctx, dbTx, refund); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create refund: %w", err))
	}
	if err := s.txRepo.UpdateStatus(ctx, dbTx, txn.ID, domain.TransactionStatusRefunded, nil); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("mark refunded: %w", err))
	}
	if txn.PaymentIntentID != nil {
		if err := s.intentRepo.UpdateStatus(ctx, dbTx, *txn.PaymentIntentID, domain.IntentStatusRefunded); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("update intent: %w", err))
		}
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	txn.Status = domain.TransactionStatusRefunded
	txn.UpdatedAt = now

	s.auditSvc.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		MerchantID:   &merchantID,
		Action:       domain.AuditActionRefund,
		ResourceType: "transaction",
		ResourceID:   txn.ID.String(),
		Details:      fmt.Sprintf(`{"amount":%q}`, refundAmount.String()),
		CreatedAt:    now,
	})

	s.log.Info().
		Str("refund_id", refund.ID.String()).
		Str("transaction_id", txn.ID.String()).
		Str("amount", refundAmount.String()).
		Msg("refund recorded")

	if err := s.webhookSvc.Enqueue(ctx, txn); err != nil {
		s.log.Error().Err(err).Str("transaction_id", txn.ID.String()).Msg("failed to enqueue webhook")
	}

	return refund, nil
}
