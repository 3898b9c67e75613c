// Package dto holds the request and response shapes of the HTTP API.
package dto

import (
	"time"

	"z402-facilitator/internal/core/domain"
	"z402-facilitator/internal/core/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---- Merchant ----

type RegisterMerchantRequest struct {
	Name               string `json:"name" binding:"required,min=2,max=100"`
	WebhookURL         string `json:"webhook_url" binding:"omitempty,safe_url"`
	TransparentAddress string `json:"transparent_address" binding:"omitempty,max=128"`
	ShieldedAddress    string `json:"shielded_address" binding:"omitempty,max=512"`
}

type RegisterMerchantResponse struct {
	Merchant *domain.Merchant `json:"merchant"`
	// APIKey is shown once at registration; only its hash is stored.
	APIKey string `json:"api_key"`
}

type LoginRequest struct {
	MerchantID string `json:"merchant_id" binding:"required,uuid"`
	APIKey     string `json:"api_key" binding:"required"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// ---- Payment intents ----

type CreateIntentRequest struct {
	Amount   string            `json:"amount" binding:"required"`
	Resource string            `json:"resource" binding:"required,max=512"`
	Metadata map[string]string `json:"metadata" binding:"omitempty,max=16"`
}

type IntentResponse struct {
	ID        uuid.UUID           `json:"id"`
	Amount    decimal.Decimal     `json:"amount"`
	Currency  string              `json:"currency"`
	Address   string              `json:"address"`
	Resource  string              `json:"resource"`
	Status    domain.IntentStatus `json:"status"`
	Metadata  map[string]string   `json:"metadata,omitempty"`
	ExpiresAt time.Time           `json:"expires_at"`
	CreatedAt time.Time           `json:"created_at"`
	// ChallengeHeader is the ready-to-use WWW-Authenticate value, present
	// only on creation.
	ChallengeHeader string `json:"challenge_header,omitempty"`
}

func NewIntentResponse(intent *domain.PaymentIntent, challengeHeader string) IntentResponse {
	return IntentResponse{
		ID:              intent.ID,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		Address:         intent.Address,
		Resource:        intent.Resource,
		Status:          intent.Status,
		Metadata:        intent.Metadata,
		ExpiresAt:       intent.ExpiresAt,
		CreatedAt:       intent.CreatedAt,
		ChallengeHeader: challengeHeader,
	}
}

// ---- Authorization / interop ----

// PayRequest is the JSON alternative to the X402 Authorization header.
type PayRequest struct {
	PaymentID     string `json:"payment_id" binding:"required,uuid"`
	ClientAddress string `json:"client_address" binding:"required,max=512"`
	TxID          string `json:"tx_id" binding:"omitempty,max=128"`
	Signature     string `json:"signature" binding:"required,max=1024"`
	Timestamp     int64  `json:"timestamp" binding:"required"`
}

// PaymentHeaderPayload is the base64-decoded JSON body of the interop
// paymentHeader field used by POST /verify and POST /settle.
type PaymentHeaderPayload struct {
	PaymentID     string `json:"paymentId"`
	ClientAddress string `json:"clientAddress"`
	TxID          string `json:"txid,omitempty"`
	Signature     string `json:"signature"`
	Timestamp     int64  `json:"timestamp"`
}

type InteropRequest struct {
	PaymentHeader string `json:"paymentHeader" binding:"required"`
}

type InteropVerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	PaymentID     string `json:"paymentId,omitempty"`
}

type InteropSettleResponse struct {
	Success       bool   `json:"success"`
	Settled       bool   `json:"settled"`
	Confirmations int    `json:"confirmations"`
	TxID          string `json:"txid,omitempty"`
	ErrorReason   string `json:"errorReason,omitempty"`
}

// ---- Verification ----

type VerifyResponse struct {
	Verified      bool                 `json:"verified"`
	Settled       bool                 `json:"settled"`
	Confirmations int                  `json:"confirmations"`
	Transaction   *TransactionResponse `json:"transaction,omitempty"`
}

func NewVerifyResponse(result *ports.VerificationResult) VerifyResponse {
	resp := VerifyResponse{
		Verified:      result.Verified,
		Settled:       result.Settled,
		Confirmations: result.Confirmations,
	}
	if result.Transaction != nil {
		t := NewTransactionResponse(result.Transaction)
		resp.Transaction = &t
	}
	return resp
}

// ---- Transactions ----

type TransactionResponse struct {
	ID            uuid.UUID                `json:"id"`
	PaymentID     *uuid.UUID               `json:"payment_id,omitempty"`
	Amount        decimal.Decimal          `json:"amount"`
	Currency      string                   `json:"currency"`
	Status        domain.TransactionStatus `json:"status"`
	TxID          *string                  `json:"tx_id,omitempty"`
	BlockHeight   *int64                   `json:"block_height,omitempty"`
	Confirmations int                      `json:"confirmations"`
	Resource      string                   `json:"resource"`
	FailureReason *string                  `json:"failure_reason,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	SettledAt     *time.Time               `json:"settled_at,omitempty"`
}

func NewTransactionResponse(t *domain.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:            t.ID,
		PaymentID:     t.PaymentIntentID,
		Amount:        t.Amount,
		Currency:      t.Currency,
		Status:        t.Status,
		TxID:          t.TxID,
		BlockHeight:   t.BlockHeight,
		Confirmations: t.Confirmations,
		Resource:      t.Resource,
		FailureReason: t.FailureReason,
		CreatedAt:     t.CreatedAt,
		SettledAt:     t.SettledAt,
	}
}

type ListTransactionsQuery struct {
	Status   string `form:"status" binding:"omitempty,oneof=PENDING VERIFIED SETTLED FAILED EXPIRED REFUNDED"`
	Resource string `form:"resource" binding:"omitempty,max=512"`
	Limit    int    `form:"limit,default=20" binding:"omitempty,min=1,max=100"`
	Offset   int    `form:"offset" binding:"omitempty,min=0"`
}

type ListTransactionsResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Total        int64                 `json:"total"`
	HasMore      bool                  `json:"has_more"`
}

// ---- Refunds ----

type RefundRequest struct {
	// Amount of the refund; empty means a full refund.
	Amount string  `json:"amount" binding:"omitempty"`
	Reason *string `json:"reason" binding:"omitempty,max=512"`
}
