package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// LedgerTx is a ledger's view of an on-chain transaction, reduced to the
// fields the tracker needs.
type LedgerTx struct {
	TxID          string
	Amount        decimal.Decimal
	Confirmations int
	BlockHeight   *int64
	ToAddress     string
}

// LedgerClient reads transaction state from the underlying chain.
// Implementations return apperror.ErrLedgerTxNotFound when the node does not
// know the transaction.
type LedgerClient interface {
	GetTransaction(ctx context.Context, txid string) (*LedgerTx, error)
}
