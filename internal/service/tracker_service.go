package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"z402-facilitator/internal/core/domain"
	"z402-facilitator/internal/core/ports"
	"z402-facilitator/pkg/apperror"
	"z402-facilitator/pkg/zaddr"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// TrackerConfig tunes confirmation thresholds and amount matching.
type TrackerConfig struct {
	VerifyConfirmations int
	SettleConfirmations int
	AmountTolerance     decimal.Decimal // absolute
	SweepBatchSize      int
	SweepConcurrency    int
}

type trackerService struct {
	txRepo     ports.TransactionRepository
	intentRepo ports.PaymentIntentRepository
	transactor ports.DBTransactor
	ledger     ports.LedgerClient
	webhookSvc ports.WebhookService
	auditSvc   ports.AuditService
	cfg        TrackerConfig
	log        zerolog.Logger
}

// NewTrackerService creates the service that drives transactions through
// confirmation thresholds by polling the ledger.
func NewTrackerService(
	txRepo ports.TransactionRepository,
	intentRepo ports.PaymentIntentRepository,
	transactor ports.DBTransactor,
	ledger ports.LedgerClient,
	webhookSvc ports.WebhookService,
	auditSvc ports.AuditService,
	cfg TrackerConfig,
	log zerolog.Logger,
) ports.TrackerService {
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 200
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 8
	}
	return &trackerService{
		txRepo:     txRepo,
		intentRepo: intentRepo,
		transactor: transactor,
		ledger:     ledger,
		webhookSvc: webhookSvc,
		auditSvc:   auditSvc,
		cfg:        cfg,
		log:        log,
	}
}

// Track refreshes one transaction from the ledger and applies whatever
// transition its confirmation count has earned.
func (s *trackerService) Track(ctx context.Context, transactionID uuid.UUID) (*ports.VerificationResult, error) {
	txn, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrTransactionNotFound()
	}
	if txn.IsTerminal() || txn.Status == domain.TransactionStatusSettled {
		return s.result(txn), nil
	}
	if txn.TxID == nil || *txn.TxID == "" {
		// Nothing to look up yet; the client has authorized but the
		// broadcast has not been reported.
		return s.result(txn), nil
	}

	ledgerTx, err := s.ledger.GetTransaction(ctx, *txn.TxID)
	if err != nil {
		if apperror.Code(err) == "LGR_003" {
			// Claimed txid is not on the node yet. Leave the transaction
			// where it is; intent expiry bounds how long we wait.
			s.log.Debug().Str("txid", *txn.TxID).Msg("transaction not known to ledger yet")
			return s.result(txn), nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, apperror.ErrLedgerLookupFailed(err)
	}

	updated, err := s.apply(ctx, txn, ledgerTx)
	if err != nil {
		return nil, err
	}
	return s.result(updated), nil
}

// apply reconciles a ledger observation with the stored transaction inside a
// database transaction, fires any resulting webhook, and returns the updated
// record.
func (s *trackerService) apply(ctx context.Context, txn *domain.Transaction, ledgerTx *ports.LedgerTx) (*domain.Transaction, error) {
	// A payment with the wrong amount or the wrong recipient never settles.
	// The first observation only attaches a warning, because the node's view
	// may still be catching up; once the ledger view is final (settle depth
	// reached) and the mismatch persists, the payment fails.
	if reason := s.observationMismatch(txn, ledgerTx); reason != "" {
		if txn.FailureReason != nil && ledgerTx.Confirmations >= s.cfg.SettleConfirmations {
			return s.fail(ctx, txn, reason)
		}
		return s.flagMismatch(ctx, txn, ledgerTx, reason)
	}

	confirmations := ledgerTx.Confirmations
	if confirmations < txn.Confirmations {
		// Confirmations are monotonic from our side. A lower report usually
		// means a reorg or a lagging node; keep the high-water mark.
		s.log.Warn().
			Str("transaction_id", txn.ID.String()).
			Int("stored", txn.Confirmations).
			Int("observed", confirmations).
			Msg("ledger reported fewer confirmations than recorded, ignoring")
		confirmations = txn.Confirmations
	}

	var next domain.TransactionStatus
	switch {
	case confirmations >= s.cfg.SettleConfirmations:
		if txn.Status == domain.TransactionStatusPending {
			// PENDING cannot jump straight to SETTLED; pass through VERIFIED
			// first so observers see every state.
			if _, err := s.transition(ctx, txn, domain.TransactionStatusVerified, confirmations, ledgerTx.BlockHeight); err != nil {
				return nil, err
			}
		}
		next = domain.TransactionStatusSettled
	case confirmations >= s.cfg.VerifyConfirmations && txn.Status == domain.TransactionStatusPending:
		next = domain.TransactionStatusVerified
	default:
		// Not enough confirmations for any transition; persist progress.
		if confirmations != txn.Confirmations || !equalHeight(txn.BlockHeight, ledgerTx.BlockHeight) {
			if err := s.persistLedgerState(ctx, txn, confirmations, ledgerTx.BlockHeight); err != nil {
				return nil, err
			}
		}
		return txn, nil
	}

	if txn.Status == next {
		return txn, nil
	}
	return s.transition(ctx, txn, next, confirmations, ledgerTx.BlockHeight)
}

// transition moves the transaction (and its intent, for terminal states)
// atomically, then enqueues the webhook for the new state.
func (s *trackerService) transition(ctx context.Context, txn *domain.Transaction, next domain.TransactionStatus, confirmations int, blockHeight *int64) (*domain.Transaction, error) {
	if !txn.CanTransitionTo(next) {
		return nil, apperror.ErrInvalidTransition(string(txn.Status), string(next))
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.txRepo.UpdateLedgerState(ctx, dbTx, txn.ID, confirmations, blockHeight); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update ledger state: %w", err))
	}
	if err := s.txRepo.UpdateStatus(ctx, dbTx, txn.ID, next, nil); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update status: %w", err))
	}
	if intentStatus, ok := domain.IntentStatusFor(next); ok && txn.PaymentIntentID != nil {
		if err := s.intentRepo.UpdateStatus(ctx, dbTx, *txn.PaymentIntentID, intentStatus); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("update intent: %w", err))
		}
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	now := time.Now().UTC()
	prev := txn.Status
	txn.Status = next
	txn.Confirmations = confirmations
	txn.BlockHeight = blockHeight
	txn.UpdatedAt = now
	if next == domain.TransactionStatusSettled {
		txn.SettledAt = &now
	}

	s.auditSvc.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		MerchantID:   &txn.MerchantID,
		Action:       domain.AuditActionStateTransition,
		ResourceType: "transaction",
		ResourceID:   txn.ID.String(),
		Details:      fmt.Sprintf(`{"from":%q,"to":%q,"confirmations":%d}`, prev, next, confirmations),
		CreatedAt:    now,
	})

	s.log.Info().
		Str("transaction_id", txn.ID.String()).
		Str("from", string(prev)).
		Str("to", string(next)).
		Int("confirmations", confirmations).
		Msg("transaction transitioned")

	if err := s.webhookSvc.Enqueue(ctx, txn); err != nil {
		// The transition is committed; a failed enqueue must not undo it.
		s.log.Error().Err(err).Str("transaction_id", txn.ID.String()).Msg("failed to enqueue webhook")
	}

	return txn, nil
}

// fail marks the transaction FAILED with a reason.
func (s *trackerService) fail(ctx context.Context, txn *domain.Transaction, reason string) (*domain.Transaction, error) {
	if !txn.CanTransitionTo(domain.TransactionStatusFailed) {
		return txn, nil
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.txRepo.UpdateStatus(ctx, dbTx, txn.ID, domain.TransactionStatusFailed, &reason); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("fail transaction: %w", err))
	}
	if txn.PaymentIntentID != nil {
		if err := s.intentRepo.UpdateStatus(ctx, dbTx, *txn.PaymentIntentID, domain.IntentStatusFailed); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("fail intent: %w", err))
		}
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	txn.Status = domain.TransactionStatusFailed
	txn.FailureReason = &reason
	txn.UpdatedAt = time.Now().UTC()

	s.log.Warn().
		Str("transaction_id", txn.ID.String()).
		Str("reason", reason).
		Msg("transaction failed")

	if err := s.webhookSvc.Enqueue(ctx, txn); err != nil {
		s.log.Error().Err(err).Str("transaction_id", txn.ID.String()).Msg("failed to enqueue webhook")
	}

	return txn, nil
}

// observationMismatch compares the ledger's view of the payment against the
// challenge. The recipient check only applies to transparent destinations;
// shielded and unified addresses hide the receiver from the node.
func (s *trackerService) observationMismatch(txn *domain.Transaction, ledgerTx *ports.LedgerTx) string {
	if diff := ledgerTx.Amount.Sub(txn.Amount).Abs(); diff.GreaterThan(s.cfg.AmountTolerance) {
		return fmt.Sprintf("amount mismatch: expected %s, observed %s", txn.Amount, ledgerTx.Amount)
	}
	if cls, err := zaddr.Classify(txn.ToAddress); err == nil && cls == zaddr.ClassTransparent {
		if ledgerTx.ToAddress != "" && ledgerTx.ToAddress != txn.ToAddress {
			return fmt.Sprintf("recipient mismatch: expected %s, observed %s", txn.ToAddress, ledgerTx.ToAddress)
		}
	}
	return ""
}

// flagMismatch records a mismatch warning on the transaction while keeping
// its status unchanged.
func (s *trackerService) flagMismatch(ctx context.Context, txn *domain.Transaction, ledgerTx *ports.LedgerTx, reason string) (*domain.Transaction, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.txRepo.UpdateLedgerState(ctx, dbTx, txn.ID, txn.Confirmations, ledgerTx.BlockHeight); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update ledger state: %w", err))
	}
	if err := s.txRepo.UpdateStatus(ctx, dbTx, txn.ID, txn.Status, &reason); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("flag mismatch: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	txn.FailureReason = &reason
	txn.BlockHeight = ledgerTx.BlockHeight
	txn.UpdatedAt = time.Now().UTC()

	s.log.Warn().
		Str("transaction_id", txn.ID.String()).
		Str("expected", txn.Amount.String()).
		Str("observed", ledgerTx.Amount.String()).
		Msg("on-chain amount outside tolerance")

	return txn, nil
}

// persistLedgerState stores confirmation progress without a status change.
func (s *trackerService) persistLedgerState(ctx context.Context, txn *domain.Transaction, confirmations int, blockHeight *int64) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.txRepo.UpdateLedgerState(ctx, dbTx, txn.ID, confirmations, blockHeight); err != nil {
		return apperror.InternalError(fmt.Errorf("update ledger state: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	txn.Confirmations = confirmations
	txn.BlockHeight = blockHeight
	return nil
}

// Sweep refreshes all trackable transactions with a bounded worker pool and
// then expires stale intents. Individual failures are logged, never fatal.
func (s *trackerService) Sweep(ctx context.Context) error {
	txns, err := s.txRepo.ListTrackable(ctx, s.cfg.SweepBatchSize)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("list trackable: %w", err))
	}

	jobs := make(chan domain.Transaction)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.SweepConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for txn := range jobs {
				if _, err := s.Track(ctx, txn.ID); err != nil {
					s.log.Warn().Err(err).Str("transaction_id", txn.ID.String()).Msg("sweep: track failed")
				}
			}
		}()
	}

	for _, txn := range txns {
		select {
		case jobs <- txn:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	s.expireUnbacked(ctx, time.Now().UTC())

	expired, err := s.intentRepo.MarkExpired(ctx, time.Now().UTC())
	if err != nil {
		s.log.Warn().Err(err).Msg("sweep: expiring intents failed")
	} else if expired > 0 {
		s.log.Info().Int64("count", expired).Msg("sweep: expired stale intents")
	}

	return nil
}

// expireUnbacked expires authorizations that never reported a txid once
// their intent's window has closed. Without this, a PROCESSING intent with a
// txid-less PENDING transaction would block its resource forever.
func (s *trackerService) expireUnbacked(ctx context.Context, now time.Time) {
	txns, err := s.txRepo.ListPendingWithoutTxID(ctx, s.cfg.SweepBatchSize)
	if err != nil {
		s.log.Warn().Err(err).Msg("sweep: listing unbacked transactions failed")
		return
	}

	for i := range txns {
		txn := &txns[i]
		if txn.PaymentIntentID == nil {
			continue
		}
		intent, err := s.intentRepo.GetByID(ctx, *txn.PaymentIntentID)
		if err != nil || intent == nil || !intent.ExpiredAt(now) {
			if err != nil {
				s.log.Warn().Err(err).Str("transaction_id", txn.ID.String()).Msg("sweep: intent lookup failed")
			}
			continue
		}

		if err := s.expirePair(ctx, txn); err != nil {
			s.log.Warn().Err(err).Str("transaction_id", txn.ID.String()).Msg("sweep: expiring unbacked transaction failed")
		}
	}
}

// expirePair moves a txid-less transaction and its intent to EXPIRED
// atomically and notifies the merchant.
func (s *trackerService) expirePair(ctx context.Context, txn *domain.Transaction) error {
	if !txn.CanTransitionTo(domain.TransactionStatusExpired) {
		return nil
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	reason := "authorization expired without an on-chain transaction"
	if err := s.txRepo.UpdateStatus(ctx, dbTx, txn.ID, domain.TransactionStatusExpired, &reason); err != nil {
		return apperror.InternalError(fmt.Errorf("expire transaction: %w", err))
	}
	if err := s.intentRepo.UpdateStatus(ctx, dbTx, *txn.PaymentIntentID, domain.IntentStatusExpired); err != nil {
		return apperror.InternalError(fmt.Errorf("expire intent: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	txn.Status = domain.TransactionStatusExpired
	txn.FailureReason = &reason
	txn.UpdatedAt = time.Now().UTC()

	s.log.Info().
		Str("transaction_id", txn.ID.String()).
		Str("intent_id", txn.PaymentIntentID.String()).
		Msg("expired unbacked authorization")

	if err := s.webhookSvc.Enqueue(ctx, txn); err != nil {
		s.log.Error().Err(err).Str("transaction_id", txn.ID.String()).Msg("failed to enqueue webhook")
	}
	return nil
}

// Verify reports the standing of the transaction behind an intent.
func (s *trackerService) Verify(ctx context.Context, merchantID, intentID uuid.UUID) (*ports.VerificationResult, error) {
	intent, err := s.intentRepo.GetByID(ctx, intentID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get intent: %w", err))
	}
	if intent == nil || intent.MerchantID != merchantID {
		return nil, apperror.ErrPaymentNotFound()
	}

	txn, err := s.txRepo.GetActiveByIntentID(ctx, nil, intentID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get transaction: %w", err))
	}
	if txn == nil {
		return &ports.VerificationResult{}, nil
	}
	return s.result(txn), nil
}

func (s *trackerService) result(txn *domain.Transaction) *ports.VerificationResult {
	return &ports.VerificationResult{
		Transaction:   txn,
		Verified:      txn.Status == domain.TransactionStatusVerified || txn.Status == domain.TransactionStatusSettled,
		Settled:       txn.Status == domain.TransactionStatusSettled,
		Confirmations: txn.Confirmations,
	}
}

func equalHeight(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
