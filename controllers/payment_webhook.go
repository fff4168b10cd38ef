package controllers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v80"
	"github.com/yashrajoria/storefront-checkout/services"
	"go.uber.org/zap"
)

// WebhookParser verifies and decodes a Stripe webhook request.
type WebhookParser interface {
	ParseWebhook(r *http.Request) (stripe.Event, error)
}

type PaymentWebhookController struct {
	Registry *services.CheckoutRegistry
	Parser   WebhookParser
	Logger   *zap.Logger
}

func NewPaymentWebhookController(registry *services.CheckoutRegistry, parser WebhookParser, logger *zap.Logger) *PaymentWebhookController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentWebhookController{Registry: registry, Parser: parser, Logger: logger}
}

// StripeWebhook routes PaymentIntent events into checkout. Everything past
// signature verification is acknowledged with 200.
func (wc *PaymentWebhookController) StripeWebhook(c *gin.Context) {
	event, err := wc.Parser.ParseWebhook(c.Request)
	if err != nil {
		wc.Logger.Warn("webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook"})
		return
	}

	wc.Logger.Info("stripe webhook received",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)))

	switch event.Type {
	case "payment_intent.amount_capturable_updated", "payment_intent.succeeded":
		if pi, ok := wc.paymentIntent(event); ok {
			wc.handleAuthorized(c.Request.Context(), pi)
		}
	case "payment_intent.canceled":
		if pi, ok := wc.paymentIntent(event); ok {
			if wc.Registry.DeliverDismissal(pi.ID) {
				wc.Logger.Info("payment session closed by cancellation", zap.String("payment_intent_id", pi.ID))
			}
		}
	case "payment_intent.payment_failed":
		// the form stays open so the shopper can try another card
		if pi, ok := wc.paymentIntent(event); ok {
			wc.Logger.Info("payment attempt failed", zap.String("payment_intent_id", pi.ID))
		}
	default:
		wc.Logger.Debug("unhandled webhook event type", zap.String("event_type", string(event.Type)))
	}

	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

func (wc *PaymentWebhookController) paymentIntent(event stripe.Event) (*stripe.PaymentIntent, bool) {
	if event.Data == nil {
		return nil, false
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil || pi.ID == "" {
		wc.Logger.Error("failed to decode payment intent", zap.String("event_id", event.ID), zap.Error(err))
		return nil, false
	}
	return &pi, true
}

func (wc *PaymentWebhookController) handleAuthorized(ctx context.Context, pi *stripe.PaymentIntent) {
	userID := pi.Metadata["user_id"]
	consumed, conf, err := wc.Registry.DeliverAuthorization(context.WithoutCancel(ctx), userID, pi.ID)
	fields := []zap.Field{zap.String("payment_intent_id", pi.ID), zap.String("user_id", userID)}
	switch {
	case consumed:
		wc.Logger.Info("authorization delivered to open session", fields...)
	case err != nil:
		if ce, ok := services.AsCheckoutError(err); ok && ce.Silent() {
			return
		}
		wc.Logger.Info("webhook authorization not completed", append(fields, zap.Error(err))...)
	case conf != nil:
		wc.Logger.Info("order completed from webhook", append(fields, zap.String("order_id", conf.OrderID))...)
	}
}
