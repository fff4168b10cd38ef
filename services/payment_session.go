package services

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yashrajoria/storefront-checkout/models"
)

// WidgetRequest describes the charge the payment widget is opened for.
// AmountMinorUnits is in the currency's smallest unit.
type WidgetRequest struct {
	Handle           string
	AmountMinorUnits int64
	Currency         string
	Metadata         map[string]string
}

// WidgetCallbacks are invoked by the widget; either may fire more than once.
type WidgetCallbacks struct {
	OnSuccess func(token string)
	OnDismiss func()
}

// WidgetHandle is what the client needs to render the widget.
type WidgetHandle struct {
	Handle       string `json:"handle"`
	ClientSecret string `json:"client_secret"`
	PaymentRef   string `json:"payment_ref"`
}

// PaymentWidget is the third-party payment authorization surface.
type PaymentWidget interface {
	Open(ctx context.Context, req WidgetRequest, callbacks WidgetCallbacks) (*WidgetHandle, error)
}

// OutcomeKind is how a payment session settled.
type OutcomeKind string

const (
	OutcomeAuthorized  OutcomeKind = "AUTHORIZED"
	OutcomeCancelled   OutcomeKind = "CANCELLED"
	OutcomeLoadFailure OutcomeKind = "LOAD_FAILURE"
)

// AuthorizationOutcome is the single settled result of a PaymentSession.
type AuthorizationOutcome struct {
	Kind  OutcomeKind
	Event models.AuthorizationEvent
	Err   error
}

// PaymentSession wraps one widget invocation and latches its first outcome.
type PaymentSession struct {
	handle  string
	amount  int64
	widget  *WidgetHandle
	once    sync.Once
	done    chan struct{}
	outcome AuthorizationOutcome
	now     func() time.Time
}

// OpenPaymentSession converts amount to minor units and opens the widget.
// A conversion or widget error settles the session as LoadFailure immediately.
func OpenPaymentSession(ctx context.Context, widget PaymentWidget, orderHandle string, amount decimal.Decimal, currency string, metadata map[string]string) *PaymentSession {
	s := &PaymentSession{
		handle: orderHandle,
		done:   make(chan struct{}),
		now:    time.Now,
	}

	minor, err := models.ToMinorUnits(amount, currency)
	if err != nil {
		s.settle(AuthorizationOutcome{Kind: OutcomeLoadFailure, Err: err})
		return s
	}
	s.amount = minor

	h, err := widget.Open(ctx, WidgetRequest{
		Handle:           orderHandle,
		AmountMinorUnits: minor,
		Currency:         currency,
		Metadata:         metadata,
	}, WidgetCallbacks{
		OnSuccess: s.authorize,
		OnDismiss: s.dismiss,
	})
	if err != nil {
		s.settle(AuthorizationOutcome{Kind: OutcomeLoadFailure, Err: err})
		return s
	}
	s.widget = h
	return s
}

func (s *PaymentSession) authorize(token string) {
	s.settle(AuthorizationOutcome{
		Kind:  OutcomeAuthorized,
		Event: models.AuthorizationEvent{Token: token, ReceivedAt: s.now()},
	})
}

func (s *PaymentSession) dismiss() {
	s.settle(AuthorizationOutcome{Kind: OutcomeCancelled})
}

func (s *PaymentSession) settle(o AuthorizationOutcome) {
	s.once.Do(func() {
		s.outcome = o
		close(s.done)
	})
}

// Handle is the order handle the session was opened for.
func (s *PaymentSession) Handle() string { return s.handle }

// AmountMinorUnits is the amount handed to the widget.
func (s *PaymentSession) AmountMinorUnits() int64 { return s.amount }

// Widget returns the client-facing widget handle, or nil if the widget never loaded.
func (s *PaymentSession) Widget() *WidgetHandle { return s.widget }

// Done is closed once the session has settled.
func (s *PaymentSession) Done() <-chan struct{} { return s.done }

// Outcome returns the settled outcome and whether the session has settled.
func (s *PaymentSession) Outcome() (AuthorizationOutcome, bool) {
	select {
	case <-s.done:
		return s.outcome, true
	default:
		return AuthorizationOutcome{}, false
	}
}

// Await blocks until the session settles or ctx is done.
// There is no built-in timeout; the widget is paced by the shopper.
func (s *PaymentSession) Await(ctx context.Context) (AuthorizationOutcome, error) {
	select {
	case <-s.done:
		return s.outcome, nil
	case <-ctx.Done():
		return AuthorizationOutcome{}, ctx.Err()
	}
}
