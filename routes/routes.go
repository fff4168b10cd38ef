package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/storefront-checkout/common/auth"
	commonmw "github.com/yashrajoria/storefront-checkout/common/middleware"
	"github.com/yashrajoria/storefront-checkout/controllers"
	"github.com/yashrajoria/storefront-checkout/middleware"
	"go.uber.org/zap"
)

// Options carries the per-route middleware dependencies.
type Options struct {
	Tokens         *auth.TokenParser
	RateLimiter    *commonmw.RateLimiter
	Idempotency    middleware.ResponseStore
	IdempotencyTTL time.Duration
	Logger         *zap.Logger
}

func RegisterRoutes(r *gin.Engine, checkout *controllers.CheckoutController, webhooks *controllers.PaymentWebhookController, opts Options) {
	r.GET("/health", checkout.Health)

	// Stripe signs its webhooks; no shopper auth
	r.POST("/stripe/webhook", webhooks.StripeWebhook)

	protected := r.Group("/bff/checkout")
	protected.Use(middleware.AuthMiddleware(opts.Tokens))
	if opts.RateLimiter != nil {
		protected.Use(commonmw.RateLimitMiddleware(opts.RateLimiter))
	}
	{
		protected.GET("", checkout.GetCheckout)
		protected.POST("/restart", checkout.Restart)
		protected.POST("/address", checkout.ConfirmAddress)
		protected.POST("/back", checkout.Back)
		protected.POST("/place-order",
			middleware.Idempotency(opts.Idempotency, opts.IdempotencyTTL, time.Minute, opts.Logger),
			checkout.PlaceOrder)
		protected.POST("/payment/authorized", checkout.PaymentAuthorized)
		protected.POST("/payment/dismissed", checkout.PaymentDismissed)
	}
}
