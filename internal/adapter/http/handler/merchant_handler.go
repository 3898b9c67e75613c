package handler

import (
	"z402-facilitator/internal/adapter/http/dto"
	"z402-facilitator/internal/core/ports"
	"z402-facilitator/pkg/apperror"
	"z402-facilitator/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MerchantHandler serves merchant registration and session endpoints.
type MerchantHandler struct {
	merchantSvc ports.MerchantService
	log         zerolog.Logger
}

func NewMerchantHandler(merchantSvc ports.MerchantService, log zerolog.Logger) *MerchantHandler {
	return &MerchantHandler{merchantSvc: merchantSvc, log: log}
}

// Register creates a merchant account. The plaintext API key is returned
// exactly once in the response.
func (h *MerchantHandler) Register(c *gin.Context) {
	var req dto.RegisterMerchantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	merchant, apiKey, err := h.merchantSvc.Register(c.Request.Context(), req.Name, req.WebhookURL, req.TransparentAddress, req.ShieldedAddress)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.log.Info().Str("merchant_id", merchant.ID.String()).Msg("merchant registered")
	response.Created(c, dto.RegisterMerchantResponse{Merchant: merchant, APIKey: apiKey})
}

// Login exchanges merchant credentials for a session token.
func (h *MerchantHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	merchantID, err := uuid.Parse(req.MerchantID)
	if err != nil {
		response.Error(c, apperror.Validation("merchant_id is not a valid UUID"))
		return
	}

	token, err := h.merchantSvc.Login(c.Request.Context(), merchantID, req.APIKey)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.LoginResponse{Token: token})
}
