package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/paymentintent"
	"github.com/stripe/stripe-go/v80/webhook"
	"github.com/yashrajoria/storefront-checkout/services"
	"go.uber.org/zap"
)

// IntentAPI is the part of the Stripe PaymentIntent client the widget needs.
// *paymentintent.Client satisfies it.
type IntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type widgetSession struct {
	callbacks  services.WidgetCallbacks
	userID     string
	settled    bool
	authorized bool
	settledAt  time.Time
}

// StripeWidget opens payment sessions as manual-capture PaymentIntents.
// The PaymentIntent ID is the authorization token handed to order completion;
// capture is left to the order service.
type StripeWidget struct {
	intents    IntentAPI
	webhookKey string
	retention  time.Duration
	logger     *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*widgetSession
}

func NewStripeWidget(secretKey, webhookKey string, logger *zap.Logger) *StripeWidget {
	client := &paymentintent.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}
	return NewStripeWidgetWithAPI(client, webhookKey, logger)
}

func NewStripeWidgetWithAPI(intents IntentAPI, webhookKey string, logger *zap.Logger) *StripeWidget {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeWidget{
		intents:    intents,
		webhookKey: webhookKey,
		retention:  24 * time.Hour,
		logger:     logger,
		now:        time.Now,
		sessions:   make(map[string]*widgetSession),
	}
}

// Open creates the PaymentIntent the browser confirms with its client secret.
func (w *StripeWidget) Open(ctx context.Context, req services.WidgetRequest, callbacks services.WidgetCallbacks) (*services.WidgetHandle, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountMinorUnits),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + req.Handle)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := w.intents.New(params)
	if err != nil {
		w.logger.Error("failed to create payment intent", zap.String("handle", req.Handle), zap.Error(err))
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	w.mu.Lock()
	w.sweepLocked()
	w.sessions[pi.ID] = &widgetSession{callbacks: callbacks, userID: req.Metadata["user_id"]}
	w.mu.Unlock()

	w.logger.Info("payment intent created",
		zap.String("handle", req.Handle),
		zap.String("payment_intent_id", pi.ID),
		zap.Int64("amount", req.AmountMinorUnits),
		zap.String("currency", req.Currency),
	)
	return &services.WidgetHandle{
		Handle:       req.Handle,
		ClientSecret: pi.ClientSecret,
		PaymentRef:   pi.ID,
	}, nil
}

// Authorize delivers a success for paymentRef to its session.
func (w *StripeWidget) Authorize(paymentRef string) services.Delivery {
	w.mu.Lock()
	s, ok := w.sessions[paymentRef]
	if !ok {
		w.mu.Unlock()
		return services.DeliveryUnknown
	}
	if s.settled {
		authorized := s.authorized
		w.mu.Unlock()
		if authorized {
			return services.DeliveryRedelivered
		}
		return services.DeliveryDiscarded
	}
	s.settled, s.authorized, s.settledAt = true, true, w.now()
	onSuccess := s.callbacks.OnSuccess
	w.mu.Unlock()

	if onSuccess != nil {
		onSuccess(paymentRef)
	}
	return services.DeliveryConsumed
}

// Dismiss closes the session for paymentRef and voids the PaymentIntent so a
// late confirmation cannot authorize it.
func (w *StripeWidget) Dismiss(paymentRef string) bool {
	w.mu.Lock()
	s, ok := w.sessions[paymentRef]
	if !ok || s.settled {
		w.mu.Unlock()
		return false
	}
	s.settled, s.settledAt = true, w.now()
	onDismiss := s.callbacks.OnDismiss
	w.mu.Unlock()

	if onDismiss != nil {
		onDismiss()
	}
	go w.cancelIntent(paymentRef)
	return true
}

func (w *StripeWidget) Owner(paymentRef string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[paymentRef]
	if !ok || s.userID == "" {
		return "", false
	}
	return s.userID, true
}

func (w *StripeWidget) cancelIntent(paymentRef string) {
	_, err := w.intents.Cancel(paymentRef, &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	})
	if err != nil {
		w.logger.Debug("payment intent cancel failed", zap.String("payment_intent_id", paymentRef), zap.Error(err))
	}
}

func (w *StripeWidget) sweepLocked() {
	cutoff := w.now().Add(-w.retention)
	for id, s := range w.sessions {
		if s.settled && s.settledAt.Before(cutoff) {
			delete(w.sessions, id)
		}
	}
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
func (w *StripeWidget) ParseWebhook(r *http.Request) (stripe.Event, error) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return stripe.Event{}, err
	}
	r.Body = io.NopCloser(bytes.NewBuffer(payload))
	return webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), w.webhookKey, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}
