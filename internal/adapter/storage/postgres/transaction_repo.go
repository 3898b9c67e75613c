package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"z402-facilitator/internal/core/domain"
	"z402-facilitator/internal/core/ports"
	"z402-facilitator/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const txColumns = `id, payment_intent_id, merchant_id, amount, currency, status, tx_id, block_height,
		confirmations, from_address, to_address, resource, failure_reason, created_at, settled_at, updated_at`

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create inserts a new transaction within a database transaction. A unique
// constraint on tx_id makes this the backstop against double spends: the
// second insert claiming the same on-chain id fails no matter how the
// application checks raced.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions (` + txColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := tx.Exec(ctx, query,
		t.ID, t.PaymentIntentID, t.MerchantID, t.Amount, t.Currency, t.Status,
		t.TxID, t.BlockHeight, t.Confirmations, t.FromAddress, t.ToAddress,
		t.Resource, t.FailureReason, t.CreatedAt, t.SettledAt, t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "transactions_tx_id_key") {
			return apperror.ErrDoubleSpendDetected()
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// GetActiveByIntentID returns the non-terminal transaction for an intent.
// Works inside tx when one is given, otherwise against the pool.
func (r *TransactionRepo) GetActiveByIntentID(ctx context.Context, tx pgx.Tx, intentID uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		WHERE payment_intent_id = $1 AND status NOT IN ('FAILED', 'EXPIRED', 'REFUNDED')
		ORDER BY created_at DESC LIMIT 1`

	if tx != nil {
		return scanTransaction(tx.QueryRow(ctx, query, intentID))
	}
	return scanTransaction(r.pool.QueryRow(ctx, query, intentID))
}

// GetByTxID fetches the transaction bound to an on-chain transaction id.
func (r *TransactionRepo) GetByTxID(ctx context.Context, txid string) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE tx_id = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, txid))
}

// UpdateStatus updates a transaction's status within a database transaction.
// SETTLED sets settled_at as a side effect.
func (r *TransactionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus, failureReason *string) error {
	query := `UPDATE transactions
		SET status = $1, failure_reason = COALESCE($2, failure_reason),
		    settled_at = CASE WHEN $1 = 'SETTLED' THEN NOW() ELSE settled_at END,
		    updated_at = NOW()
		WHERE id = $3`

	tag, err := tx.Exec(ctx, query, status, failureReason, id)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not found: %s", id)
	}
	return nil
}

// UpdateTxID binds an on-chain id to a transaction authorized without one.
// The tx_id IS NULL guard makes rebinding impossible; the unique constraint
// rejects an id already claimed by another transaction.
func (r *TransactionRepo) UpdateTxID(ctx context.Context, tx pgx.Tx, id uuid.UUID, txid string) error {
	query := `UPDATE transactions SET tx_id = $1, updated_at = NOW()
		WHERE id = $2 AND tx_id IS NULL`

	tag, err := tx.Exec(ctx, query, txid, id)
	if err != nil {
		if isUniqueViolation(err, "transactions_tx_id_key") {
			return apperror.ErrDoubleSpendDetected()
		}
		return fmt.Errorf("update transaction txid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.ErrPaymentAlreadyProcessed()
	}
	return nil
}

// UpdateLedgerState records observed confirmations and block height.
func (r *TransactionRepo) UpdateLedgerState(ctx context.Context, tx pgx.Tx, id uuid.UUID, confirmations int, blockHeight *int64) error {
	query := `UPDATE transactions
		SET confirmations = $1, block_height = COALESCE($2, block_height), updated_at = NOW()
		WHERE id = $3`

	tag, err := tx.Exec(ctx, query, confirmations, blockHeight, id)
	if err != nil {
		return fmt.Errorf("update ledger state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not found: %s", id)
	}
	return nil
}

// ListTrackable returns non-terminal transactions with a known on-chain id,
// oldest first so the longest-waiting payments get refreshed first.
func (r *TransactionRepo) ListTrackable(ctx context.Context, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		WHERE status IN ('PENDING', 'VERIFIED') AND tx_id IS NOT NULL
		ORDER BY created_at ASC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list trackable: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ListPendingWithoutTxID returns PENDING transactions that never reported an
// on-chain id, oldest first, so the sweep can expire the stale ones.
func (r *TransactionRepo) ListPendingWithoutTxID(ctx context.Context, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		WHERE status = 'PENDING' AND tx_id IS NULL
		ORDER BY created_at ASC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending without txid: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// List fetches transactions with filtering and pagination.
func (r *TransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("merchant_id = $%d", argIdx))
	args = append(args, params.MerchantID)
	argIdx++

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.Resource != nil {
		conditions = append(conditions, fmt.Sprintf("resource = $%d", argIdx))
		args = append(args, *params.Resource)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transactions %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	dataQuery := fmt.Sprintf(`SELECT `+txColumns+` FROM transactions %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txns, err := collectTransactions(rows)
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	var txns []domain.Transaction
	for rows.Next() {
		t := domain.Transaction{}
		err := rows.Scan(
			&t.ID, &t.PaymentIntentID, &t.MerchantID, &t.Amount, &t.Currency, &t.Status,
			&t.TxID, &t.BlockHeight, &t.Confirmations, &t.FromAddress, &t.ToAddress,
			&t.Resource, &t.FailureReason, &t.CreatedAt, &t.SettledAt, &t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, nil
}

// scanTransaction is a helper to scan a single row into a Transaction.
func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	err := row.Scan(
		&t.ID, &t.PaymentIntentID, &t.MerchantID, &t.Amount, &t.Currency, &t.Status,
		&t.TxID, &t.BlockHeight, &t.Confirmations, &t.FromAddress, &t.ToAddress,
		&t.Resource, &t.FailureReason, &t.CreatedAt, &t.SettledAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return t, nil
}
