package services_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yashrajoria/storefront-checkout/models"
	"github.com/yashrajoria/storefront-checkout/services"
	"go.uber.org/zap"
)

// --- pricing ---

type fakePricing struct {
	mu       sync.Mutex
	requests []*models.CheckoutValidationRequest
	respond  func(req *models.CheckoutValidationRequest) (*models.OrderSummary, error)
}

func (f *fakePricing) ValidateCheckout(ctx context.Context, req *models.CheckoutValidationRequest) (*models.OrderSummary, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return summaryOf("1500", "USD"), nil
	}
	return respond(req)
}

func (f *fakePricing) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakePricing) destinations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.DestinationID)
	}
	return out
}

// --- order completion ---

type fakeCompleter struct {
	mu       sync.Mutex
	requests []*models.OrderCompletionRequest
	started  chan string
	release  chan struct{}
	respond  func(req *models.OrderCompletionRequest) (*models.OrderConfirmation, error)
}

func (f *fakeCompleter) CompleteOrder(ctx context.Context, req *models.OrderCompletionRequest) (*models.OrderConfirmation, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	respond := f.respond
	f.mu.Unlock()

	if f.started != nil {
		f.started <- req.AuthorizationToken
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if respond != nil {
		return respond(req)
	}
	return &models.OrderConfirmation{OrderID: fmt.Sprintf("ord-%d", n), OrderNumber: fmt.Sprintf("ORD-%d", 1000+n)}, nil
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeCompleter) tokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.AuthorizationToken)
	}
	return out
}

// --- carts ---

type fakeCarts struct {
	mu    sync.Mutex
	cart  *models.CartSnapshot
	err   error
	calls int
}

func (f *fakeCarts) GetCart(ctx context.Context, userID string) (*models.CartSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.cart, nil
}

func (f *fakeCarts) set(cart *models.CartSnapshot) {
	f.mu.Lock()
	f.cart = cart
	f.mu.Unlock()
}

// --- widget ---

type fakeWidget struct {
	mu        sync.Mutex
	requests  []services.WidgetRequest
	callbacks []services.WidgetCallbacks
	err       error
}

func (f *fakeWidget) Open(ctx context.Context, req services.WidgetRequest, cb services.WidgetCallbacks) (*services.WidgetHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	f.callbacks = append(f.callbacks, cb)
	ref := fmt.Sprintf("pay_%d", len(f.requests))
	return &services.WidgetHandle{Handle: req.Handle, ClientSecret: ref + "_secret", PaymentRef: ref}, nil
}

func (f *fakeWidget) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeWidget) last() services.WidgetCallbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callbacks[len(f.callbacks)-1]
}

func (f *fakeWidget) succeed(token string) { f.last().OnSuccess(token) }
func (f *fakeWidget) dismiss()             { f.last().OnDismiss() }

// --- listener ---

type recordingListener struct {
	mu        sync.Mutex
	addresses []string
	summaries []*models.OrderSummary
	errs      []*services.CheckoutError
	confirmed []*models.OrderConfirmation
}

func (l *recordingListener) OnAddressConfirmed(userID, destinationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addresses = append(l.addresses, destinationID)
}

func (l *recordingListener) OnOrderSummaryReady(userID string, summary *models.OrderSummary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summaries = append(l.summaries, summary)
}

func (l *recordingListener) OnError(userID string, err *services.CheckoutError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *recordingListener) OnOrderConfirmed(userID, destinationID string, c *models.OrderConfirmation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.confirmed = append(l.confirmed, c)
}

func (l *recordingListener) confirmedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.confirmed)
}

func (l *recordingListener) errorKinds() []services.ErrorKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]services.ErrorKind, 0, len(l.errs))
	for _, e := range l.errs {
		out = append(out, e.Kind)
	}
	return out
}

// --- fixtures ---

func summaryOf(total, currency string) *models.OrderSummary {
	t := decimal.RequireFromString(total)
	return &models.OrderSummary{
		CartSnapshot: models.CartSnapshot{
			Items:    []models.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: t, TotalPrice: t}},
			Subtotal: t,
			Total:    t,
			Currency: currency,
		},
		IsValid: true,
	}
}

func cartWithItems(n int) *models.CartSnapshot {
	c := &models.CartSnapshot{Currency: "USD"}
	for i := 0; i < n; i++ {
		c.Items = append(c.Items, models.CartItem{ProductID: fmt.Sprintf("p%d", i+1), Quantity: 1})
	}
	return c
}

type harness struct {
	pricing   *fakePricing
	completer *fakeCompleter
	carts     *fakeCarts
	widget    *fakeWidget
	listener  *recordingListener
	guard     *services.CompletionGuard
	deps      services.CheckoutDependencies
	machine   *services.CheckoutStateMachine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		pricing:   &fakePricing{},
		completer: &fakeCompleter{},
		carts:     &fakeCarts{cart: cartWithItems(1)},
		widget:    &fakeWidget{},
		listener:  &recordingListener{},
	}
	logger := zap.NewNop()
	h.guard = services.NewCompletionGuard(h.completer, nil, time.Second, logger)
	h.deps = services.CheckoutDependencies{
		Validator: services.NewCheckoutValidator(h.pricing, time.Second, logger),
		Guard:     h.guard,
		Widget:    h.widget,
		Carts:     h.carts,
		Listener:  h.listener,
		Logger:    logger,
	}
	h.machine = services.NewCheckoutStateMachine("user-1", h.deps)
	return h
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}
