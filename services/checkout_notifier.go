package services

import (
	"context"
	"time"

	"github.com/yashrajoria/storefront-checkout/models"
	aws_pkg "github.com/yashrajoria/storefront-checkout/pkg/aws"
	"go.uber.org/zap"
)

// MetricsRecorder counts checkout outcomes.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
}

// CheckoutNotifier is the production CheckoutListener: it logs, counts and
// publishes checkout outcomes. Publishing is best-effort.
type CheckoutNotifier struct {
	publisher EventPublisher
	metrics   MetricsRecorder
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewCheckoutNotifier(publisher EventPublisher, metrics MetricsRecorder, logger *zap.Logger) *CheckoutNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutNotifier{
		publisher: publisher,
		metrics:   metrics,
		timeout:   5 * time.Second,
		logger:    logger,
		now:       time.Now,
	}
}

func (n *CheckoutNotifier) OnAddressConfirmed(userID, destinationID string) {
	n.logger.Debug("address confirmed", zap.String("user_id", userID), zap.String("destination_id", destinationID))
}

func (n *CheckoutNotifier) OnOrderSummaryReady(userID string, summary *models.OrderSummary) {
	n.logger.Debug("order summary ready",
		zap.String("user_id", userID),
		zap.Int("items", len(summary.Items)),
		zap.String("total", summary.Total.String()),
	)
}

func (n *CheckoutNotifier) OnError(userID string, err *CheckoutError) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	dims := map[string]string{"Kind": string(err.Kind)}
	switch err.Category {
	case CategoryPayment:
		if err.Kind == KindCancelled {
			n.logger.Info("checkout payment cancelled", zap.String("user_id", userID))
			n.count(ctx, aws_pkg.MetricCheckoutPaymentCancelled, dims)
			return
		}
		n.logger.Warn("checkout payment failed", zap.String("user_id", userID), zap.String("kind", string(err.Kind)), zap.Error(err))
	case CategoryCompletion:
		n.logger.Warn("checkout completion failed", zap.String("user_id", userID), zap.String("kind", string(err.Kind)), zap.Error(err))
		n.count(ctx, aws_pkg.MetricCheckoutCompletionFailed, dims)
		n.publish(ctx, &models.CheckoutEvent{
			EventType:   models.EventCompletionFailed,
			UserID:      userID,
			FailureKind: string(err.Kind),
			Timestamp:   n.now(),
		})
	case CategoryValidation:
		n.logger.Info("checkout validation rejected", zap.String("user_id", userID), zap.String("kind", string(err.Kind)))
		n.count(ctx, aws_pkg.MetricCheckoutValidationFailed, dims)
	}
}

func (n *CheckoutNotifier) OnOrderConfirmed(userID, destinationID string, confirmation *models.OrderConfirmation) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	n.logger.Info("checkout order confirmed",
		zap.String("user_id", userID),
		zap.String("order_id", confirmation.OrderID),
		zap.String("order_number", confirmation.OrderNumber),
	)
	n.count(ctx, aws_pkg.MetricCheckoutConfirmed, nil)
	n.publish(ctx, &models.CheckoutEvent{
		EventType:     models.EventOrderConfirmed,
		UserID:        userID,
		DestinationID: destinationID,
		OrderID:       confirmation.OrderID,
		OrderNumber:   confirmation.OrderNumber,
		Timestamp:     n.now(),
	})
}

func (n *CheckoutNotifier) count(ctx context.Context, name string, dims map[string]string) {
	if n.metrics == nil {
		return
	}
	if err := n.metrics.RecordCount(ctx, name, dims); err != nil {
		n.logger.Warn("failed to record metric", zap.String("metric", name), zap.Error(err))
	}
}

func (n *CheckoutNotifier) publish(ctx context.Context, event *models.CheckoutEvent) {
	if n.publisher == nil {
		return
	}
	if err := n.publisher.Publish(ctx, event); err != nil {
		n.logger.Warn("failed to publish checkout event", zap.String("event_type", event.EventType), zap.Error(err))
	}
}
