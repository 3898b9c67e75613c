package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Code returns the AppError code carried by err, or "" for other errors.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Payment Protocol (PAY) ----

func ErrOwnerNotFound() *AppError {
	return New("PAY_001", "Merchant not found", http.StatusNotFound)
}

func ErrPaymentNotFound() *AppError {
	return New("PAY_002", "Payment intent not found", http.StatusNotFound)
}

func ErrPaymentExpired() *AppError {
	return New("PAY_003", "Payment intent has expired", http.StatusPaymentRequired)
}

func ErrPaymentAlreadyProcessed() *AppError {
	return New("PAY_004", "Payment intent has already been processed", http.StatusConflict)
}

func ErrInvalidAmount() *AppError {
	return New("PAY_005", "Invalid amount", http.StatusBadRequest)
}

func ErrNoReceivingAddress() *AppError {
	return New("PAY_006", "Merchant has no configured receiving address", http.StatusUnprocessableEntity)
}

func ErrInvalidRefund() *AppError {
	return New("PAY_007", "Transaction is not eligible for refund", http.StatusBadRequest)
}

func ErrRefundAmountExceedsOriginal() *AppError {
	return New("PAY_008", "Refund amount exceeds original transaction amount", http.StatusBadRequest)
}

func ErrTransactionNotFound() *AppError {
	return New("PAY_009", "Transaction not found", http.StatusNotFound)
}

func ErrInvalidTransition(from, to string) *AppError {
	return New("PAY_010", fmt.Sprintf("Illegal status transition %s -> %s", from, to), http.StatusConflict)
}

// ---- Security & Signatures (SEC) ----

func ErrInvalidSignature() *AppError {
	return New("SEC_001", "Invalid signature", http.StatusUnauthorized)
}

func ErrSignatureTimestampOutOfRange() *AppError {
	return New("SEC_002", "Signature timestamp outside tolerance window", http.StatusForbidden)
}

func ErrDoubleSpendDetected() *AppError {
	return New("SEC_003", "Double-spend detected", http.StatusConflict)
}

func ErrInvalidAPIKey() *AppError {
	return New("SEC_004", "Invalid API key", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New("SEC_005", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrInvalidAddress(addr string) *AppError {
	return New("SEC_006", fmt.Sprintf("Invalid address: %s", addr), http.StatusBadRequest)
}

// ---- Ledger (LGR) ----

func ErrAmountMismatch() *AppError {
	return New("LGR_001", "On-chain amount does not match expected amount", http.StatusConflict)
}

func ErrLedgerLookupFailed(err error) *AppError {
	return Wrap("LGR_002", "Ledger lookup failed", http.StatusBadGateway, err)
}

func ErrLedgerTxNotFound() *AppError {
	return New("LGR_003", "Transaction not found on ledger", http.StatusNotFound)
}

// ---- Webhooks (WHK) ----

func ErrWebhookDeliveryFailed(err error) *AppError {
	return Wrap("WHK_001", "Webhook delivery failed", http.StatusBadGateway, err)
}

func ErrWebhookMissingSignature() *AppError {
	return New("WHK_002", "Missing webhook signature header", http.StatusBadRequest)
}

func ErrWebhookInvalidSignatureFormat() *AppError {
	return New("WHK_003", "Invalid webhook signature format", http.StatusBadRequest)
}

func ErrWebhookInvalidTimestamp() *AppError {
	return New("WHK_004", "Invalid timestamp in webhook signature", http.StatusBadRequest)
}

func ErrWebhookSignatureTooOld() *AppError {
	return New("WHK_005", "Webhook signature timestamp too old", http.StatusBadRequest)
}

func ErrWebhookInvalidSignature() *AppError {
	return New("WHK_006", "Invalid webhook signature", http.StatusBadRequest)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_002", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a request validation error.
func Validation(message string) *AppError {
	return New("PAY_005", message, http.StatusBadRequest)
}
