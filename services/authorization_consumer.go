package services

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/yashrajoria/storefront-checkout/models"
	aws_pkg "github.com/yashrajoria/storefront-checkout/pkg/aws"
	"go.uber.org/zap"
)

// MessagePoller delivers queue messages to a handler until ctx is cancelled.
type MessagePoller interface {
	StartPolling(ctx context.Context, handler aws_pkg.MessageHandler) error
}

// AuthorizationConsumer reads payment authorizations published by the payment
// service and routes them through the registry. The queue may redeliver; the
// completion guard makes that harmless.
type AuthorizationConsumer struct {
	poller   MessagePoller
	registry *CheckoutRegistry
	metrics  MetricsRecorder
	logger   *zap.Logger
}

func NewAuthorizationConsumer(poller MessagePoller, registry *CheckoutRegistry, metrics MetricsRecorder, logger *zap.Logger) *AuthorizationConsumer {
	return &AuthorizationConsumer{poller: poller, registry: registry, metrics: metrics, logger: logger}
}

// Start blocks until ctx is cancelled.
func (c *AuthorizationConsumer) Start(ctx context.Context) {
	c.logger.Info("starting payment authorization consumer")
	err := c.poller.StartPolling(ctx, c.HandleMessage)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("authorization consumer stopped", zap.Error(err))
	}
}

// HandleMessage processes one queue message. Malformed and unroutable messages
// are acknowledged so they are not redelivered forever.
func (c *AuthorizationConsumer) HandleMessage(ctx context.Context, body string) error {
	var envelope struct {
		Message string `json:"Message"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err == nil && envelope.Message != "" {
		body = envelope.Message
	}

	var msg models.PaymentAuthorizedMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		c.logger.Warn("invalid authorization message", zap.Error(err))
		return nil
	}
	if msg.Type != models.EventPaymentAuthorized || msg.PaymentIntentID == "" {
		c.logger.Debug("ignoring message", zap.String("type", msg.Type))
		return nil
	}

	if c.metrics != nil {
		_ = c.metrics.RecordCount(ctx, aws_pkg.MetricSQSMessages, map[string]string{"Queue": "payment-authorizations"})
	}

	consumed, conf, err := c.registry.DeliverAuthorization(ctx, msg.UserID, msg.PaymentIntentID)
	switch {
	case consumed:
		c.logger.Info("authorization delivered to live session", zap.String("user_id", msg.UserID))
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.logger.Info("redelivered authorization not applied",
			zap.String("user_id", msg.UserID),
			zap.Error(err),
		)
	default:
		c.logger.Info("redelivered authorization completed", zap.String("user_id", msg.UserID), zap.String("order_id", conf.OrderID))
	}
	return nil
}
