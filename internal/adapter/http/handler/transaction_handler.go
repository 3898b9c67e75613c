package handler

import (
	"z402-facilitator/internal/adapter/http/dto"
	"z402-facilitator/internal/core/domain"
	"z402-facilitator/internal/core/ports"
	"z402-facilitator/pkg/apperror"
	"z402-facilitator/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// TransactionHandler serves the merchant read API and refunds.
type TransactionHandler struct {
	txRepo     ports.TransactionRepository
	refundSvc  ports.RefundService
	trackerSvc ports.TrackerService
	log        zerolog.Logger
}

func NewTransactionHandler(txRepo ports.TransactionRepository, refundSvc ports.RefundService, trackerSvc ports.TrackerService, log zerolog.Logger) *TransactionHandler {
	return &TransactionHandler{txRepo: txRepo, refundSvc: refundSvc, trackerSvc: trackerSvc, log: log}
}

// List returns the merchant's transactions with optional status and
// resource filters.
func (h *TransactionHandler) List(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}

	var query dto.ListTransactionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	params := ports.TransactionListParams{
		MerchantID: merchantID,
		Limit:      query.Limit,
		Offset:     query.Offset,
	}
	if query.Status != "" {
		status := domain.TransactionStatus(query.Status)
		params.Status = &status
	}
	if query.Resource != "" {
		params.Resource = &query.Resource
	}

	txns, total, err := h.txRepo.List(c.Request.Context(), params)
	if err != nil {
		response.Error(c, apperror.ErrDatabaseError(err))
		return
	}

	resp := dto.ListTransactionsResponse{
		Transactions: make([]dto.TransactionResponse, 0, len(txns)),
		Total:        total,
		HasMore:      int64(query.Offset+len(txns)) < total,
	}
	for i := range txns {
		resp.Transactions = append(resp.Transactions, dto.NewTransactionResponse(&txns[i]))
	}
	response.OK(c, resp)
}

// Get returns one of the merchant's transactions.
func (h *TransactionHandler) Get(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}
	txnID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	txn, err := h.txRepo.GetByID(c.Request.Context(), txnID)
	if err != nil {
		response.Error(c, apperror.ErrDatabaseError(err))
		return
	}
	if txn == nil || txn.MerchantID != merchantID {
		response.Error(c, apperror.ErrTransactionNotFound())
		return
	}

	response.OK(c, dto.NewTransactionResponse(txn))
}

// Track forces a ledger refresh of one of the merchant's transactions.
func (h *TransactionHandler) Track(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}
	txnID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	txn, err := h.txRepo.GetByID(c.Request.Context(), txnID)
	if err != nil {
		response.Error(c, apperror.ErrDatabaseError(err))
		return
	}
	if txn == nil || txn.MerchantID != merchantID {
		response.Error(c, apperror.ErrTransactionNotFound())
		return
	}

	result, err := h.trackerSvc.Track(c.Request.Context(), txnID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewVerifyResponse(result))
}

// Refund marks a settled transaction refunded. An empty amount refunds the
// full original amount.
func (h *TransactionHandler) Refund(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}
	txnID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req dto.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	amount := decimal.Zero
	if req.Amount != "" {
		var err error
		amount, err = decimal.NewFromString(req.Amount)
		if err != nil {
			response.Error(c, apperror.Validation("amount is not a valid decimal"))
			return
		}
	}

	refund, err := h.refundSvc.Refund(c.Request.Context(), merchantID, txnID, amount, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.log.Info().Str("transaction_id", txnID.String()).Str("refund_id", refund.ID.String()).Msg("refund recorded")
	response.Created(c, refund)
}
