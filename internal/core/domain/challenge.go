package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Authorization is a client's signed claim of having paid a challenge.
type Authorization struct {
	PaymentID   uuid.UUID
	FromAddress string
	TxID        *string // may be unknown at authorization time
	Signature   string
	Timestamp   time.Time
}

// ChallengeMessage builds the canonical string both sides sign. The same
// canonicalization is used at issuance and at verification so the two
// signatures bind to identical bytes.
// Format: paymentID|amount|address|createdAtUnix
func ChallengeMessage(paymentID uuid.UUID, amount decimal.Decimal, address string, createdAt time.Time) string {
	return fmt.Sprintf("%s|%s|%s|%d", paymentID, amount.String(), address, createdAt.Unix())
}
