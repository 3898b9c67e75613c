package postgres

import (
	"context"
	"testing"
	"time"

	"z402-facilitator/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRefund() *domain.Refund {
	now := time.Now().UTC()
	reason := "customer request"
	return &domain.Refund{
		ID:            uuid.New(),
		TransactionID: uuid.New(),
		MerchantID:    uuid.New(),
		Amount:        decimal.RequireFromString("0.5"),
		Currency:      "ZEC",
		Reason:        &reason,
		Status:        domain.RefundStatusCompleted,
		CreatedAt:     now,
		CompletedAt:   &now,
	}
}

func TestRefundRepo_Create(t *testing.T) {
	mock := newMockPool(t)
	repo := NewRefundRepo(mock)
	refund := sampleRefund()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO refunds").
		WithArgs(
			refund.ID, refund.TransactionID, refund.MerchantID, refund.Amount,
			refund.Currency, refund.Reason, refund.Status, refund.CreatedAt, refund.CompletedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, repo.Create(ctx, tx, refund))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundRepo_GetByTransactionID(t *testing.T) {
	mock := newMockPool(t)
	repo := NewRefundRepo(mock)
	refund := sampleRefund()

	mock.ExpectQuery("SELECT (.+) FROM refunds WHERE transaction_id =").
		WithArgs(refund.TransactionID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "transaction_id", "merchant_id", "amount", "currency",
			"reason", "status", "created_at", "completed_at",
		}).AddRow(
			refund.ID, refund.TransactionID, refund.MerchantID, refund.Amount,
			refund.Currency, refund.Reason, refund.Status, refund.CreatedAt, refund.CompletedAt,
		))

	got, err := repo.GetByTransactionID(context.Background(), refund.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, refund.ID, got.ID)
	assert.True(t, refund.Amount.Equal(got.Amount))
}

func TestRefundRepo_GetByTransactionID_None(t *testing.T) {
	mock := newMockPool(t)
	repo := NewRefundRepo(mock)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM refunds WHERE transaction_id =").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetByTransactionID(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRefundRepo_Update(t *testing.T) {
	mock := newMockPool(t)
	repo := NewRefundRepo(mock)
	refund := sampleRefund()

	mock.ExpectExec("UPDATE refunds").
		WithArgs(refund.Status, refund.CompletedAt, refund.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.Update(context.Background(), refund))
	assert.NoError(t, mock.ExpectationsWereMet())
}
