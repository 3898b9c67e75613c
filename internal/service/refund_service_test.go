package service

import (
	"context"
	"testing"

	"z402-facilitator/internal/core/domain"
	"z402-facilitator/internal/core/ports/mocks"
	"z402-facilitator/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type refundTestDeps struct {
	svc        *refundService
	txRepo     *mocks.MockTransactionRepository
	intentRepo *mocks.MockPaymentIntentRepository
	refundRepo *mocks.MockRefundRepository
	transactor *mocks.MockDBTransactor
	webhookSvc *mocks.MockWebhookService
	auditSvc   *mocks.MockAuditService
	ctrl       *gomock.Controller
}

func setupRefundService(t *testing.T) *refundTestDeps {
	ctrl := gomock.NewController(t)
	d := &refundTestDeps{
		txRepo:     mocks.NewMockTransactionRepository(ctrl),
		intentRepo: mocks.NewMockPaymentIntentRepository(ctrl),
		refundRepo: mocks.NewMockRefundRepository(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		webhookSvc: mocks.NewMockWebhookService(ctrl),
		auditSvc:   mocks.NewMockAuditService(ctrl),
		ctrl:       ctrl,
	}
	d.svc = NewRefundService(
		d.txRepo, d.intentRepo, d.refundRepo, d.transactor,
		d.webhookSvc, d.auditSvc, zerolog.Nop(),
	).(*refundService)
	return d
}

func settledTxn(merchantID uuid.UUID) *domain.Transaction {
	txn := pendingTxn("txid-refund")
	txn.MerchantID = merchantID
	txn.Status = domain.TransactionStatusSettled
	txn.Confirmations = 6
	return txn
}

func TestRefundService_FullRefund(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()
	txn := settledTxn(merchantID)
	tx := &mockTx{}

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil)
	d.refundRepo.EXPECT().GetByTransactionID(ctx, txn.ID).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.refundRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ interface{}, refund *domain.Refund) error {
			assert.True(t, txn.Amount.Equal(refund.Amount))
			assert.Equal(t, domain.RefundStatusCompleted, refund.Status)
			assert.NotNil(t, refund.CompletedAt)
			return nil
		})
	d.txRepo.EXPECT().UpdateStatus(ctx, tx, txn.ID, domain.TransactionStatusRefunded, nil).Return(nil)
	d.intentRepo.EXPECT().UpdateStatus(ctx, tx, *txn.PaymentIntentID, domain.IntentStatusRefunded).Return(nil)
	d.auditSvc.EXPECT().Log(ctx, gomock.Any())
	d.webhookSvc.EXPECT().Enqueue(ctx, gomock.Any()).Return(nil)

	refund, err := d.svc.Refund(ctx, merchantID, txn.ID, decimal.Zero, nil)
	require.NoError(t, err)
	assert.True(t, txn.Amount.Equal(refund.Amount))
	assert.Equal(t, domain.TransactionStatusRefunded, txn.Status)
}

func TestRefundService_PartialRefund(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()
	txn := settledTxn(merchantID)
	reason := "partial outage"
	tx := &mockTx{}

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil)
	d.refundRepo.EXPECT().GetByTransactionID(ctx, txn.ID).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.refundRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.txRepo.EXPECT().UpdateStatus(ctx, tx, txn.ID, domain.TransactionStatusRefunded, nil).Return(nil)
	d.intentRepo.EXPECT().UpdateStatus(ctx, tx, *txn.PaymentIntentID, domain.IntentStatusRefunded).Return(nil)
	d.auditSvc.EXPECT().Log(ctx, gomock.Any())
	d.webhookSvc.EXPECT().Enqueue(ctx, gomock.Any()).Return(nil)

	refund, err := d.svc.Refund(ctx, merchantID, txn.ID, decimal.RequireFromString("0.2"), &reason)
	require.NoError(t, err)
	assert.Equal(t, "0.2", refund.Amount.String())
	assert.Equal(t, &reason, refund.Reason)
}

func TestRefundService_OnlySettledIsRefundable(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()
	txn := settledTxn(merchantID)
	txn.Status = domain.TransactionStatusVerified

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil)

	_, err := d.svc.Refund(ctx, merchantID, txn.ID, decimal.Zero, nil)
	assert.Equal(t, "PAY_007", apperror.Code(err))
}

func TestRefundService_ExceedingOriginalRejected(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()
	txn := settledTxn(merchantID)

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil)
	d.refundRepo.EXPECT().GetByTransactionID(ctx, txn.ID).Return(nil, nil)

	_, err := d.svc.Refund(ctx, merchantID, txn.ID, txn.Amount.Add(decimal.RequireFromString("0.01")), nil)
	assert.Equal(t, "PAY_008", apperror.Code(err))
}

func TestRefundService_DuplicateRefundRejected(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()
	txn := settledTxn(merchantID)

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil)
	d.refundRepo.EXPECT().GetByTransactionID(ctx, txn.ID).Return(&domain.Refund{ID: uuid.New()}, nil)

	_, err := d.svc.Refund(ctx, merchantID, txn.ID, decimal.Zero, nil)
	assert.Equal(t, "PAY_007", apperror.Code(err))
}

func TestRefundService_OwnershipEnforced(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	txn := settledTxn(uuid.New())

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil)

	_, err := d.svc.Refund(ctx, uuid.New(), txn.ID, decimal.Zero, nil)
	assert.Equal(t, "PAY_009", apperror.Code(err))
}

func TestRefundService_NegativeAmountRejected(t *testing.T) {
	d := setupRefundService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()
	txn := settledTxn(merchantID)

	d.txRepo.EXPECT().GetByID(ctx, txn.ID).Return(txn, nil)
	d.refundRepo.EXPECT().GetByTransactionID(ctx, txn.ID).Return(nil, nil)

	_, err := d.svc.Refund(ctx, merchantID, txn.ID, decimal.RequireFromString("-1"), nil)
	assert.Equal(t, "PAY_005", apperror.Code(err))
}
