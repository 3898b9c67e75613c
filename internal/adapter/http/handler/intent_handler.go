package handler

import (
	"z402-facilitator/internal/adapter/http/dto"
	"z402-facilitator/internal/adapter/http/middleware"
	"z402-facilitator/internal/core/ports"
	"z402-facilitator/pkg/apperror"
	"z402-facilitator/pkg/response"
	"z402-facilitator/pkg/x402"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// IntentHandler serves the merchant-facing payment intent API.
type IntentHandler struct {
	challengeSvc ports.ChallengeService
	trackerSvc   ports.TrackerService
	log          zerolog.Logger
}

func NewIntentHandler(challengeSvc ports.ChallengeService, trackerSvc ports.TrackerService, log zerolog.Logger) *IntentHandler {
	return &IntentHandler{challengeSvc: challengeSvc, trackerSvc: trackerSvc, log: log}
}

// Create issues a payment intent and its signed challenge.
func (h *IntentHandler) Create(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}

	var req dto.CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		response.Error(c, apperror.Validation("amount is not a valid decimal"))
		return
	}

	intent, challenge, err := h.challengeSvc.Issue(c.Request.Context(), merchantID, amount, req.Resource, req.Metadata)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.NewIntentResponse(intent, x402.EncodeChallenge(*challenge)))
}

// Get returns one of the merchant's intents.
func (h *IntentHandler) Get(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}
	intentID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	intent, err := h.challengeSvc.Get(c.Request.Context(), merchantID, intentID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewIntentResponse(intent, ""))
}

// Verify reports the confirmation standing of the intent's payment.
func (h *IntentHandler) Verify(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}
	intentID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	result, err := h.trackerSvc.Verify(c.Request.Context(), merchantID, intentID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewVerifyResponse(result))
}

// Cancel expires an unpaid intent.
func (h *IntentHandler) Cancel(c *gin.Context) {
	merchantID, ok := merchantFromContext(c)
	if !ok {
		return
	}
	intentID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	intent, err := h.challengeSvc.Cancel(c.Request.Context(), merchantID, intentID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewIntentResponse(intent, ""))
}

// merchantFromContext pulls the authenticated merchant id set by the auth
// middleware, writing the error response itself on failure.
func merchantFromContext(c *gin.Context) (uuid.UUID, bool) {
	v, exists := c.Get(middleware.CtxMerchantID)
	if !exists {
		response.Error(c, apperror.ErrInvalidAPIKey())
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		response.Error(c, apperror.ErrInvalidAPIKey())
		return uuid.Nil, false
	}
	return id, true
}

// uuidParam parses a UUID path parameter, writing the error response itself
// on failure.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Error(c, apperror.Validation(name+" is not a valid UUID"))
		return uuid.Nil, false
	}
	return id, true
}
