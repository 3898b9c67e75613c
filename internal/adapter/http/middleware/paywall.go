package middleware

import (
	"errors"
	"net/http"
	"time"

	"z402-facilitator/internal/core/domain"
	"z402-facilitator/internal/core/ports"
	"z402-facilitator/pkg/apperror"
	"z402-facilitator/pkg/response"
	"z402-facilitator/pkg/x402"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CtxTransaction is the context key under which the paywall stores the
// authorized transaction for downstream handlers.
const CtxTransaction = "paywall_transaction"

// PricingFunc resolves the price of the requested resource. Returning a zero
// amount lets the request through without payment.
type PricingFunc func(c *gin.Context) (merchantID uuid.UUID, amount decimal.Decimal, resource string)

// Paywall guards a route group behind X402 payment. Requests without an
// Authorization header receive a 402 with a signed challenge; requests
// carrying an X402 Authorization header are verified and, when the payment
// holds up, passed through with the transaction attached to the context.
func Paywall(challengeSvc ports.ChallengeService, authorizeSvc ports.AuthorizeService, pricing PricingFunc, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		merchantID, amount, resource := pricing(c)
		if amount.IsZero() {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			issueChallenge(c, challengeSvc, merchantID, amount, resource, log)
			return
		}

		auth, err := x402.ParseAuthorization(header)
		if err != nil {
			if errors.Is(err, x402.ErrNotX402Header) {
				issueChallenge(c, challengeSvc, merchantID, amount, resource, log)
				return
			}
			response.Error(c, apperror.Validation(err.Error()))
			c.Abort()
			return
		}

		paymentID, err := uuid.Parse(auth.PaymentID)
		if err != nil {
			response.Error(c, apperror.Validation("paymentId is not a valid UUID"))
			c.Abort()
			return
		}

		txn, err := authorizeSvc.Authorize(c.Request.Context(), toDomainAuthorization(paymentID, auth))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(CtxTransaction, txn)
		c.Next()
	}
}

func issueChallenge(c *gin.Context, challengeSvc ports.ChallengeService, merchantID uuid.UUID, amount decimal.Decimal, resource string, log zerolog.Logger) {
	_, challenge, err := challengeSvc.Issue(c.Request.Context(), merchantID, amount, resource, nil)
	if err != nil {
		log.Error().Err(err).Str("resource", resource).Msg("failed to issue challenge")
		response.Error(c, err)
		c.Abort()
		return
	}

	c.Header("WWW-Authenticate", x402.EncodeChallenge(*challenge))
	c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
		"error":     "payment_required",
		"challenge": challenge,
	})
}

func toDomainAuthorization(paymentID uuid.UUID, auth *x402.Authorization) *domain.Authorization {
	var txid *string
	if auth.TxID != "" {
		txid = &auth.TxID
	}
	return &domain.Authorization{
		PaymentID:   paymentID,
		FromAddress: auth.ClientAddress,
		TxID:        txid,
		Signature:   auth.Signature,
		Timestamp:   time.Unix(auth.Timestamp, 0),
	}
}
