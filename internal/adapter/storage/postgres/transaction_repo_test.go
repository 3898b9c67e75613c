package postgres

import (
	"context"
	"testing"
	"time"

	"z402-facilitator/internal/core/domain"
	"z402-facilitator/internal/core/ports"
	"z402-facilitator/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func sampleTxn() *domain.Transaction {
	intentID := uuid.New()
	txid := "ab12cd34"
	from := "t1SenderExample"
	now := time.Now().UTC()
	return &domain.Transaction{
		ID:              uuid.New(),
		PaymentIntentID: &intentID,
		MerchantID:      uuid.New(),
		Amount:          decimal.RequireFromString("0.5"),
		Currency:        "ZEC",
		Status:          domain.TransactionStatusPending,
		TxID:            &txid,
		FromAddress:     &from,
		ToAddress:       "t1ReceiverExample",
		Resource:        "/premium/report",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func txnRows(t *domain.Transaction) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "payment_intent_id", "merchant_id", "amount", "currency", "status",
		"tx_id", "block_height", "confirmations", "from_address", "to_address",
		"resource", "failure_reason", "created_at", "settled_at", "updated_at",
	}).AddRow(
		t.ID, t.PaymentIntentID, t.MerchantID, t.Amount, t.Currency, t.Status,
		t.TxID, t.BlockHeight, t.Confirmations, t.FromAddress, t.ToAddress,
		t.Resource, t.FailureReason, t.CreatedAt, t.SettledAt, t.UpdatedAt,
	)
}

func TestTransactionRepo_Create(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTransactionRepo(mock)
	txn := sampleTxn()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(
			txn.ID, txn.PaymentIntentID, txn.MerchantID, txn.Amount, txn.Currency, txn.Status,
			txn.TxID, txn.BlockHeight, txn.Confirmations, txn.FromAddress, txn.ToAddress,
			txn.Resource, txn.FailureReason, txn.CreatedAt, txn.SettledAt, txn.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, repo.Create(ctx, tx, txn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_Create_DuplicateTxID(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTransactionRepo(mock)
	txn := sampleTxn()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(
			txn.ID, txn.PaymentIntentID, txn.MerchantID, txn.Amount, txn.Currency, txn.Status,
			txn.TxID, txn.BlockHeight, txn.Confirmations, txn.FromAddress, txn.ToAddress,
			txn.Resource, txn.FailureReason, txn.CreatedAt, txn.SettledAt, txn.UpdatedAt,
		).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "transactions_tx_id_key"})

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	err = repo.Create(ctx, tx, txn)
	assert.Equal(t, "SEC_003", apperror.Code(err))
}

func TestTransactionRepo_GetByID(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTransactionRepo(mock)
	txn := sampleTxn()

	mock.ExpectQuery("SELECT (.+) FROM transactions WHERE id =").
		WithArgs(txn.ID).
		WillReturnRows(txnRows(txn))

	got, err := repo.GetByID(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, txn.ID, got.ID)
	assert.True(t, txn.Amount.Equal(got.Amount))
	assert.Equal(t, *txn.TxID, *got.TxID)
}

func TestTransactionRepo_GetByID_NotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTransactionRepo(mock)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM transactions WHERE id =").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTransactionRepo_GetByTxID(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTransactionRepo(mock)
	txn := sampleTxn()

	mock.ExpectQuery("SELECT (.+) FROM transactions WHERE tx_id =").
		WithArgs(*txn.TxID).
		WillReturnRows(txnRows(txn))

	got, err := repo.GetByTxID(context.Background(), *txn.TxID)
	require.NoError(t, err)
	assert.Equal(t, txn.ID, got.ID)
}

func TestTransactionRepo_UpdateStatus_NotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTransactionRepo(mock)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transactions").
		WithArgs(domain.TransactionStatusVerified, (*string)(nil), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	err = repo.UpdateStatus(ctx, tx, id, domain.TransactionStatusVerified, nil)
	assert.ErrorContains(t, err, "transaction not found")
}

func TestTransactionRepo_UpdateLedgerState(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTransactionRepo(mock)
	id := uuid.New()
	height := int64(2_500_000)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transactions").
		WithArgs(3, &height, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateLedgerState(ctx, tx, id, 3, &height))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_UpdateTxID(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTransactionRepo(mock)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transactions SET tx_id").
		WithArgs("ab12cd34", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateTxID(ctx, tx, id, "ab12cd34"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_UpdateTxID_DuplicateTxID(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTransactionRepo(mock)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transactions SET tx_id").
		WithArgs("ab12cd34", id).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "transactions_tx_id_key"})

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	err = repo.UpdateTxID(ctx, tx, id, "ab12cd34")
	assert.Equal(t, "SEC_003", apperror.Code(err))
}

func TestTransactionRepo_UpdateTxID_AlreadySet(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTransactionRepo(mock)
	id := uuid.New()

	// The guarded WHERE clause matches nothing when tx_id is already set.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transactions SET tx_id").
		WithArgs("ab12cd34", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	err = repo.UpdateTxID(ctx, tx, id, "ab12cd34")
	assert.Equal(t, "PAY_004", apperror.Code(err))
}

func TestTransactionRepo_ListPendingWithoutTxID(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTransactionRepo(mock)
	txn := sampleTxn()
	txn.TxID = nil

	mock.ExpectQuery("SELECT (.+) FROM transactions").
		WithArgs(200).
		WillReturnRows(txnRows(txn))

	txns, err := repo.ListPendingWithoutTxID(context.Background(), 200)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, txn.ID, txns[0].ID)
	assert.Nil(t, txns[0].TxID)
}

func TestTransactionRepo_List_WithFilters(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTransactionRepo(mock)
	txn := sampleTxn()
	status := domain.TransactionStatusSettled

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM transactions").
		WithArgs(txn.MerchantID, status).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT (.+) FROM transactions").
		WithArgs(txn.MerchantID, status, 20, 0).
		WillReturnRows(txnRows(txn))

	txns, total, err := repo.List(context.Background(), ports.TransactionListParams{
		MerchantID: txn.MerchantID,
		Status:     &status,
		Limit:      20,
		Offset:     0,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, txns, 1)
	assert.Equal(t, txn.ID, txns[0].ID)
}

func TestTransactionRepo_ListTrackable(t *testing.T) {
	mock := newMockPool(t)
	repo := NewTransactionRepo(mock)
	txn := sampleTxn()

	mock.ExpectQuery("SELECT (.+) FROM transactions").
		WithArgs(200).
		WillReturnRows(txnRows(txn))

	txns, err := repo.ListTrackable(context.Background(), 200)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, txn.ID, txns[0].ID)
}
