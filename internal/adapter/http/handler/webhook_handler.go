package handler

import (
	"io"
	"time"

	"z402-facilitator/internal/adapter/http/middleware"
	"z402-facilitator/internal/core/domain"
	"z402-facilitator/internal/core/ports"
	"z402-facilitator/pkg/apperror"
	"z402-facilitator/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// WebhookHandler lets merchant backends verify received webhook signatures
// server-side instead of reimplementing the signing scheme.
type WebhookHandler struct {
	merchantSvc ports.MerchantService
	signer      ports.WebhookSigner
	log         zerolog.Logger
}

func NewWebhookHandler(merchantSvc ports.MerchantService, signer ports.WebhookSigner, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{merchantSvc: merchantSvc, signer: signer, log: log}
}

// Verify checks a received webhook body against its Z402-Signature header
// using the calling merchant's own secret. The body must be the exact bytes
// the merchant received; any re-serialization breaks the signature.
func (h *WebhookHandler) Verify(c *gin.Context) {
	v, exists := c.Get(middleware.CtxMerchantKey)
	if !exists {
		response.Error(c, apperror.ErrInvalidAPIKey())
		return
	}
	merchant, ok := v.(*domain.Merchant)
	if !ok {
		response.Error(c, apperror.ErrInvalidAPIKey())
		return
	}

	header := c.GetHeader("Z402-Signature")
	if header == "" {
		response.Error(c, apperror.ErrWebhookMissingSignature())
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, apperror.Validation("failed to read request body"))
		return
	}

	secret, err := h.merchantSvc.WebhookSecret(c.Request.Context(), merchant)
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.signer.Verify(secret, body, header, time.Now().UTC()); err != nil {
		h.log.Debug().
			Str("merchant_id", merchant.ID.String()).
			Err(err).
			Msg("webhook signature verification rejected")
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"valid": true})
}
