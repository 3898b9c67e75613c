// Package http wires the gin router over the handler, middleware and dto
// packages.
package http

import (
	"z402-facilitator/config"
	"z402-facilitator/internal/adapter/http/dto"
	"z402-facilitator/internal/adapter/http/handler"
	"z402-facilitator/internal/adapter/http/middleware"
	"z402-facilitator/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// maxRequestBody bounds every request body; payment payloads are small.
const maxRequestBody = 64 << 10

// RouterDeps carries everything SetupRouter needs.
type RouterDeps struct {
	Config *config.Config

	MerchantSvc   ports.MerchantService
	TokenSvc      ports.TokenService
	ChallengeSvc  ports.ChallengeService
	AuthorizeSvc  ports.AuthorizeService
	TrackerSvc    ports.TrackerService
	RefundSvc     ports.RefundService
	TxRepo        ports.TransactionRepository
	RateLimiter   ports.RateLimiter
	WebhookSigner ports.WebhookSigner

	HealthCheckers []ports.HealthChecker

	// Pricing, when set, mounts a paywalled resource group under /paid.
	Pricing middleware.PricingFunc

	Log zerolog.Logger
}

// SetupRouter builds the full HTTP surface.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(deps.Config.Server.Mode)
	dto.RegisterValidators()

	r := gin.New()
	r.Use(middleware.Recovery(deps.Log))
	r.Use(middleware.RequestLogger(deps.Log))
	r.Use(middleware.MaxBodySize(maxRequestBody))

	r.GET("/health", handler.HealthCheck(deps.HealthCheckers...))

	merchantHandler := handler.NewMerchantHandler(deps.MerchantSvc, deps.Log)
	intentHandler := handler.NewIntentHandler(deps.ChallengeSvc, deps.TrackerSvc, deps.Log)
	payHandler := handler.NewPayHandler(deps.AuthorizeSvc, deps.TrackerSvc, deps.Log)
	txHandler := handler.NewTransactionHandler(deps.TxRepo, deps.RefundSvc, deps.TrackerSvc, deps.Log)
	webhookHandler := handler.NewWebhookHandler(deps.MerchantSvc, deps.WebhookSigner, deps.Log)

	// rl builds a rate-limit middleware for one scope.
	rl := func(scope string, limit int) gin.HandlerFunc {
		return middleware.RateLimit(deps.RateLimiter, scope, int64(limit), deps.Config.RateLimit.Window, deps.Log)
	}
	apiKeyAuth := middleware.APIKeyAuth(deps.MerchantSvc, deps.Log)
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Log)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/merchants", rl("register", deps.Config.RateLimit.Challenge), merchantHandler.Register)
		v1.POST("/auth/login", rl("login", deps.Config.RateLimit.Authorize), merchantHandler.Login)

		// Client-facing payment submission. Authenticated by the payment
		// signature itself, not an API key.
		v1.POST("/pay", rl("authorize", deps.Config.RateLimit.Authorize), payHandler.Pay)

		// Merchant server-to-server API.
		merchant := v1.Group("", apiKeyAuth)
		{
			intents := merchant.Group("/payment-intents", rl("challenge", deps.Config.RateLimit.Challenge))
			{
				intents.POST("", intentHandler.Create)
				intents.GET("/:id", intentHandler.Get)
				intents.GET("/:id/verify", intentHandler.Verify)
				intents.POST("/:id/cancel", intentHandler.Cancel)
			}

			// x402 facilitator interop surface.
			merchant.POST("/verify", rl("authorize", deps.Config.RateLimit.Authorize), payHandler.InteropVerify)
			merchant.POST("/settle", rl("authorize", deps.Config.RateLimit.Authorize), payHandler.InteropSettle)

			merchant.POST("/webhooks/verify", rl("challenge", deps.Config.RateLimit.Challenge), webhookHandler.Verify)
		}

		// Read API behind either credential.
		read := v1.Group("/transactions", apiKeyOrJWT(apiKeyAuth, jwtAuth))
		{
			read.GET("", txHandler.List)
			read.GET("/:id", txHandler.Get)
			read.POST("/:id/track", txHandler.Track)
			read.POST("/:id/refund", txHandler.Refund)
		}
	}

	if deps.Pricing != nil {
		paid := r.Group("/paid",
			rl("authorize", deps.Config.RateLimit.Authorize),
			middleware.Paywall(deps.ChallengeSvc, deps.AuthorizeSvc, deps.Pricing, deps.Log),
		)
		paid.GET("/*resource", handler.PaidResource)
	}

	return r
}

// apiKeyOrJWT authenticates with the API key header when present and falls
// back to the bearer token.
func apiKeyOrJWT(apiKeyAuth, jwtAuth gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(middleware.HeaderAPIKey) != "" {
			apiKeyAuth(c)
			return
		}
		jwtAuth(c)
	}
}
