package handler

import (
	"time"

	"z402-facilitator/internal/adapter/http/dto"
	"z402-facilitator/internal/core/domain"
	"z402-facilitator/internal/core/ports"
	"z402-facilitator/pkg/apperror"
	"z402-facilitator/pkg/response"
	"z402-facilitator/pkg/x402"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PayHandler serves the client payment submission endpoint and the
// facilitator interop endpoints (/verify, /settle).
type PayHandler struct {
	authorizeSvc ports.AuthorizeService
	trackerSvc   ports.TrackerService
	log          zerolog.Logger
}

func NewPayHandler(authorizeSvc ports.AuthorizeService, trackerSvc ports.TrackerService, log zerolog.Logger) *PayHandler {
	return &PayHandler{authorizeSvc: authorizeSvc, trackerSvc: trackerSvc, log: log}
}

// Pay accepts a signed payment authorization as JSON, records the
// transaction and runs an immediate ledger check when a txid is supplied.
func (h *PayHandler) Pay(c *gin.Context) {
	var req dto.PayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	auth, err := authorizationFromParts(req.PaymentID, req.ClientAddress, req.TxID, req.Signature, req.Timestamp)
	if err != nil {
		response.Error(c, err)
		return
	}

	txn, err := h.authorizeSvc.Authorize(c.Request.Context(), auth)
	if err != nil {
		response.Error(c, err)
		return
	}

	if txn.TxID != nil {
		if result, err := h.trackerSvc.Track(c.Request.Context(), txn.ID); err == nil {
			txn = result.Transaction
		} else {
			h.log.Warn().Err(err).Str("transaction_id", txn.ID.String()).Msg("immediate ledger check failed")
		}
	}

	response.Created(c, dto.NewTransactionResponse(txn))
}

// InteropVerify implements the facilitator verification endpoint: it decodes
// the base64 paymentHeader, authorizes the payment and reports validity
// without settling. Protocol-level rejections come back as isValid=false
// with a reason, not as HTTP errors.
func (h *PayHandler) InteropVerify(c *gin.Context) {
	auth, ok := h.decodeInterop(c)
	if !ok {
		return
	}

	txn, err := h.authorizeSvc.Authorize(c.Request.Context(), auth)
	if err != nil {
		if code := apperror.Code(err); code != "" {
			response.OK(c, dto.InteropVerifyResponse{IsValid: false, InvalidReason: code})
			return
		}
		response.Error(c, err)
		return
	}

	paymentID := ""
	if txn.PaymentIntentID != nil {
		paymentID = txn.PaymentIntentID.String()
	}
	response.OK(c, dto.InteropVerifyResponse{IsValid: true, PaymentID: paymentID})
}

// InteropSettle implements the facilitator settlement endpoint: it accepts
// the same paymentHeader, authorizes the payment if it has not been seen yet
// and then checks the ledger for settlement-depth confirmations.
func (h *PayHandler) InteropSettle(c *gin.Context) {
	auth, ok := h.decodeInterop(c)
	if !ok {
		return
	}

	txn, err := h.authorizeSvc.Authorize(c.Request.Context(), auth)
	if err != nil {
		// A previously authorized payment is fine here; settlement is the
		// second leg of the interop flow.
		if apperror.Code(err) != "PAY_004" {
			if code := apperror.Code(err); code != "" {
				response.OK(c, dto.InteropSettleResponse{Success: false, ErrorReason: code})
				return
			}
			response.Error(c, err)
			return
		}
		txn = nil
	}

	var result *ports.VerificationResult
	if txn != nil {
		result, err = h.trackerSvc.Track(c.Request.Context(), txn.ID)
	} else {
		merchantID, ok := merchantFromContext(c)
		if !ok {
			return
		}
		result, err = h.trackerSvc.Verify(c.Request.Context(), merchantID, auth.PaymentID)
		if err == nil && result.Transaction != nil {
			result, err = h.trackerSvc.Track(c.Request.Context(), result.Transaction.ID)
		}
	}
	if err != nil {
		if code := apperror.Code(err); code != "" {
			response.OK(c, dto.InteropSettleResponse{Success: false, ErrorReason: code})
			return
		}
		response.Error(c, err)
		return
	}

	resp := dto.InteropSettleResponse{
		Success:       true,
		Settled:       result.Settled,
		Confirmations: result.Confirmations,
	}
	if result.Transaction != nil && result.Transaction.TxID != nil {
		resp.TxID = *result.Transaction.TxID
	}
	response.OK(c, resp)
}

// decodeInterop parses the interop request body and its base64 JSON
// paymentHeader into a domain authorization.
func (h *PayHandler) decodeInterop(c *gin.Context) (*domain.Authorization, bool) {
	var req dto.InteropRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return nil, false
	}

	var payload dto.PaymentHeaderPayload
	if err := x402.DecodePaymentHeader(req.PaymentHeader, &payload); err != nil {
		response.Error(c, apperror.Validation("paymentHeader is not valid base64 JSON"))
		return nil, false
	}

	auth, err := authorizationFromParts(payload.PaymentID, payload.ClientAddress, payload.TxID, payload.Signature, payload.Timestamp)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return auth, true
}

func authorizationFromParts(paymentID, clientAddress, txID, signature string, timestamp int64) (*domain.Authorization, error) {
	id, err := uuid.Parse(paymentID)
	if err != nil {
		return nil, apperror.Validation("paymentId is not a valid UUID")
	}
	if clientAddress == "" || signature == "" {
		return nil, apperror.Validation("clientAddress and signature are required")
	}

	var txid *string
	if txID != "" {
		txid = &txID
	}
	return &domain.Authorization{
		PaymentID:   id,
		FromAddress: clientAddress,
		TxID:        txid,
		Signature:   signature,
		Timestamp:   time.Unix(timestamp, 0),
	}, nil
}
