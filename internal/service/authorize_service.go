package service

import (
	"context"
	"fmt"
	"time"

	"z402-facilitator/internal/core/domain"
	"z402-facilitator/internal/core/ports"
	"z402-facilitator/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

type authorizeService struct {
	intentRepo ports.PaymentIntentRepository
	txRepo     ports.TransactionRepository
	transactor ports.DBTransactor
	sigSvc     ports.SignatureService
	auditSvc   ports.AuditService
	maxSkew    time.Duration
	log        zerolog.Logger
}

// NewAuthorizeService creates the service that accepts client payment
// authorizations. maxSkew bounds how far an authorization timestamp may drift
// from server time in either direction.
func NewAuthorizeService(
	intentRepo ports.PaymentIntentRepository,
	txRepo ports.TransactionRepository,
	transactor ports.DBTransactor,
	sigSvc ports.SignatureService,
	auditSvc ports.AuditService,
	maxSkew time.Duration,
	log zerolog.Logger,
) ports.AuthorizeService {
	return &authorizeService{
		intentRepo: intentRepo,
		txRepo:     txRepo,
		transactor: transactor,
		sigSvc:     sigSvc,
		auditSvc:   auditSvc,
		maxSkew:    maxSkew,
		log:        log,
	}
}

// Authorize validates a client's payment authorization against its intent and
// records a PENDING transaction. The whole check-and-record sequence runs in
// one database transaction with the intent row locked, so two clients racing
// on the same intent serialize and the loser gets a conflict.
func (s *authorizeService) Authorize(ctx context.Context, auth *domain.Authorization) (*domain.Transaction, error) {
	now := time.Now().UTC()

	// Timestamp window check happens before any I/O.
	drift := now.Sub(auth.Timestamp)
	if drift < 0 {
		drift = -drift
	}
	if drift > s.maxSkew {
		s.logSignatureFailure(ctx, auth, "timestamp out of range")
		return nil, apperror.ErrSignatureTimestampOutOfRange()
	}

	// The backend owns the key format: a Zcash address for the HMAC scheme,
	// a compressed secp256k1 public key for ECDSA.
	if !s.sigSvc.ValidKey(auth.FromAddress) {
		return nil, apperror.ErrInvalidAddress(auth.FromAddress)
	}

	// Double-spend pre-check outside the lock. The unique constraint on the
	// tx_id column is the real guarantee; this gives a clean error early.
	if auth.TxID != nil && *auth.TxID != "" {
		existing, err := s.txRepo.GetByTxID(ctx, *auth.TxID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("check txid: %w", err))
		}
		if existing != nil && existing.PaymentIntentID != nil && *existing.PaymentIntentID != auth.PaymentID {
			s.logDoubleSpend(ctx, auth, existing.ID)
			return nil, apperror.ErrDoubleSpendDetected()
		}
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	intent, err := s.intentRepo.GetByIDForUpdate(ctx, dbTx, auth.PaymentID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock intent: %w", err))
	}
	if intent == nil {
		return nil, apperror.ErrPaymentNotFound()
	}

	if intent.ExpiredAt(now) {
		if intent.Status == domain.IntentStatusCreated {
			if err := s.intentRepo.UpdateStatus(ctx, dbTx, intent.ID, domain.IntentStatusExpired); err != nil {
				return nil, apperror.InternalError(fmt.Errorf("expire intent: %w", err))
			}
			if err := dbTx.Commit(ctx); err != nil {
				return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
			}
		}
		return nil, apperror.ErrPaymentExpired()
	}
	// A second authorization while one is in flight is rejected, with one
	// exception: the client may re-submit to attach the on-chain id its
	// first authorization lacked.
	active, err := s.txRepo.GetActiveByIntentID(ctx, dbTx, intent.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check active tx: %w", err))
	}
	if active != nil {
		if (active.TxID == nil || *active.TxID == "") && auth.TxID != nil && *auth.TxID != "" {
			return s.bindTxID(ctx, dbTx, intent, active, auth)
		}
		return nil, apperror.ErrPaymentAlreadyProcessed()
	}
	if intent.Status != domain.IntentStatusCreated {
		return nil, apperror.ErrPaymentAlreadyProcessed()
	}

	// The signature binds the client's address key to the exact challenge.
	msg := domain.ChallengeMessage(intent.ID, intent.Amount, intent.Address, intent.CreatedAt)
	if !s.sigSvc.Verify(auth.FromAddress, msg, auth.Signature) {
		s.logSignatureFailure(ctx, auth, "signature mismatch")
		return nil, apperror.ErrInvalidSignature()
	}

	txn := &domain.Transaction{
		ID:              uuid.New(),
		PaymentIntentID: &intent.ID,
		MerchantID:      intent.MerchantID,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		Status:          domain.TransactionStatusPending,
		TxID:            auth.TxID,
		FromAddress:     &auth.FromAddress,
		ToAddress:       intent.Address,
		Resource:        intent.Resource,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		// The storage layer maps the tx_id unique violation for us.
		if apperror.Code(err) == "SEC_003" {
			s.logDoubleSpend(ctx, auth, txn.ID)
			return nil, err
		}
		return nil, apperror.InternalError(fmt.Errorf("create transaction: %w", err))
	}

	if err := s.intentRepo.UpdateStatus(ctx, dbTx, intent.ID, domain.IntentStatusProcessing); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update intent: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.auditSvc.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		MerchantID:   &intent.MerchantID,
		Action:       domain.AuditActionAuthorized,
		ResourceType: "transaction",
		ResourceID:   txn.ID.String(),
		CreatedAt:    now,
	})

	s.log.Info().
		Str("transaction_id", txn.ID.String()).
		Str("intent_id", intent.ID.String()).
		Str("from", auth.FromAddress).
		Msg("payment authorized")

	return txn, nil
}

// bindTxID attaches a late-reported on-chain id to the already recorded
// transaction. The caller holds the intent row lock; the re-submission must
// carry a valid signature, and the double-spend guard re-runs through the
// tx_id unique constraint.
func (s *authorizeService) bindTxID(ctx context.Context, dbTx pgx.Tx, intent *domain.PaymentIntent, active *domain.Transaction, auth *domain.Authorization) (*domain.Transaction, error) {
	msg := domain.ChallengeMessage(intent.ID, intent.Amount, intent.Address, intent.CreatedAt)
	if !s.sigSvc.Verify(auth.FromAddress, msg, auth.Signature) {
		s.logSignatureFailure(ctx, auth, "signature mismatch")
		return nil, apperror.ErrInvalidSignature()
	}

	if err := s.txRepo.UpdateTxID(ctx, dbTx, active.ID, *auth.TxID); err != nil {
		if apperror.Code(err) == "SEC_003" {
			s.logDoubleSpend(ctx, auth, active.ID)
			return nil, err
		}
		if code := apperror.Code(err); code != "" {
			return nil, err
		}
		return nil, apperror.InternalError(fmt.Errorf("bind txid: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	now := time.Now().UTC()
	active.TxID = auth.TxID
	active.UpdatedAt = now

	s.auditSvc.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		MerchantID:   &intent.MerchantID,
		Action:       domain.AuditActionAuthorized,
		ResourceType: "transaction",
		ResourceID:   active.ID.String(),
		Details:      fmt.Sprintf(`{"txid":%q,"bound_late":true}`, *auth.TxID),
		CreatedAt:    now,
	})

	s.log.Info().
		Str("transaction_id", active.ID.String()).
		Str("intent_id", intent.ID.String()).
		Str("txid", *auth.TxID).
		Msg("on-chain id attached to authorization")

	return active, nil
}

func (s *authorizeService) logSignatureFailure(ctx context.Context, auth *domain.Authorization, reason string) {
	s.auditSvc.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		Action:       domain.AuditActionSignatureFailure,
		ResourceType: "payment_intent",
		ResourceID:   auth.PaymentID.String(),
		Details:      fmt.Sprintf(`{"reason":%q,"from":%q}`, reason, auth.FromAddress),
		CreatedAt:    time.Now().UTC(),
	})
}

func (s *authorizeService) logDoubleSpend(ctx context.Context, auth *domain.Authorization, txnID uuid.UUID) {
	s.log.Warn().
		Str("intent_id", auth.PaymentID.String()).
		Str("txid", derefStr(auth.TxID)).
		Msg("double spend attempt rejected")
	s.auditSvc.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		Action:       domain.AuditActionDoubleSpend,
		ResourceType: "transaction",
		ResourceID:   txnID.String(),
		Details:      fmt.Sprintf(`{"txid":%q,"intent_id":%q}`, derefStr(auth.TxID), auth.PaymentID.String()),
		CreatedAt:    time.Now().UTC(),
	})
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
