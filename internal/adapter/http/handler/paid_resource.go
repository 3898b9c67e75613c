package handler

import (
	"z402-facilitator/internal/adapter/http/dto"
	"z402-facilitator/internal/adapter/http/middleware"
	"z402-facilitator/internal/core/domain"
	"z402-facilitator/pkg/response"

	"github.com/gin-gonic/gin"
)

// PaidResource acknowledges access to a paywalled resource. The paywall
// middleware has already authorized the payment and attached the
// transaction; the handler only confirms the grant.
func PaidResource(c *gin.Context) {
	var txn *dto.TransactionResponse
	if v, ok := c.Get(middleware.CtxTransaction); ok {
		if t, ok := v.(*domain.Transaction); ok {
			resp := dto.NewTransactionResponse(t)
			txn = &resp
		}
	}

	response.OK(c, gin.H{
		"resource":    c.Param("resource"),
		"granted":     true,
		"transaction": txn,
	})
}
