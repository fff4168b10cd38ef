package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80"
	apperrors "github.com/yashrajoria/storefront-checkout/common/errors"
	"github.com/yashrajoria/storefront-checkout/controllers"
	"github.com/yashrajoria/storefront-checkout/middleware"
	"github.com/yashrajoria/storefront-checkout/models"
	"github.com/yashrajoria/storefront-checkout/providers"
	"github.com/yashrajoria/storefront-checkout/services"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubPricing struct {
	total string
	err   error
}

func (s *stubPricing) ValidateCheckout(ctx context.Context, req *models.CheckoutValidationRequest) (*models.OrderSummary, error) {
	if s.err != nil {
		return nil, s.err
	}
	t := decimal.RequireFromString(s.total)
	return &models.OrderSummary{
		CartSnapshot: models.CartSnapshot{Items: req.Cart.Items, Subtotal: t, Total: t, Currency: "USD"},
		IsValid:      true,
	}, nil
}

type stubCompleter struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (s *stubCompleter) CompleteOrder(ctx context.Context, req *models.OrderCompletionRequest) (*models.OrderConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, req.AuthorizationToken)
	if s.err != nil {
		return nil, s.err
	}
	return &models.OrderConfirmation{OrderID: "ord-" + req.AuthorizationToken, OrderNumber: "ORD-1001"}, nil
}

func (s *stubCompleter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

type stubCarts struct {
	cart *models.CartSnapshot
}

func (s *stubCarts) GetCart(ctx context.Context, userID string) (*models.CartSnapshot, error) {
	return s.cart, nil
}

type stubIntents struct {
	mu  sync.Mutex
	n   int
	err error
}

func (s *stubIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.n++
	id := fmt.Sprintf("pi_%d", s.n)
	return &stripe.PaymentIntent{ID: id, ClientSecret: id + "_secret_x"}, nil
}

func (s *stubIntents) Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	return &stripe.PaymentIntent{ID: id}, nil
}

type testServer struct {
	router    *gin.Engine
	registry  *services.CheckoutRegistry
	pricing   *stubPricing
	completer *stubCompleter
	carts     *stubCarts
	intents   *stubIntents
	widget    *providers.StripeWidget
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		pricing:   &stubPricing{total: "15.00"},
		completer: &stubCompleter{},
		carts: &stubCarts{cart: &models.CartSnapshot{
			Items:    []models.CartItem{{ProductID: "p1", Quantity: 1}},
			Currency: "USD",
		}},
		intents: &stubIntents{},
	}
	ts.widget = providers.NewStripeWidgetWithAPI(ts.intents, "whsec_test", zap.NewNop())

	deps := services.CheckoutDependencies{
		Validator: services.NewCheckoutValidator(ts.pricing, time.Second, nil),
		Guard:     services.NewCompletionGuard(ts.completer, nil, time.Second, nil),
		Widget:    ts.widget,
		Carts:     ts.carts,
	}
	ts.registry = services.NewCheckoutRegistry(deps, ts.widget)

	cc := controllers.NewCheckoutController(ts.registry, 2*time.Second)
	wc := controllers.NewPaymentWebhookController(ts.registry, ts.widget, zap.NewNop())

	r := gin.New()
	r.Use(apperrors.ErrorMiddleware())
	r.POST("/stripe/webhook", wc.StripeWebhook)
	g := r.Group("/bff/checkout")
	g.Use(middleware.AuthMiddleware(nil))
	g.GET("", cc.GetCheckout)
	g.POST("/restart", cc.Restart)
	g.POST("/address", cc.ConfirmAddress)
	g.POST("/back", cc.Back)
	g.POST("/place-order", cc.PlaceOrder)
	g.POST("/payment/authorized", cc.PaymentAuthorized)
	g.POST("/payment/dismissed", cc.PaymentDismissed)
	ts.router = r
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, user string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func (ts *testServer) toReview(t *testing.T, user string) {
	t.Helper()
	w, body := ts.do(t, http.MethodPost, "/bff/checkout/address", user, gin.H{"destination_id": "addr-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "REVIEW", body["step"])
}

func TestCheckout_HappyPath(t *testing.T) {
	ts := newTestServer(t)
	ts.toReview(t, "user-1")

	w, body := ts.do(t, http.MethodPost, "/bff/checkout/place-order", "user-1", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "pi_1_secret_x", body["client_secret"])
	assert.Equal(t, "pi_1", body["payment_intent_id"])
	assert.EqualValues(t, 1500, body["amount_minor_units"])
	assert.Equal(t, "USD", body["currency"])

	w, body = ts.do(t, http.MethodPost, "/bff/checkout/payment/authorized", "user-1", gin.H{"payment_intent_id": "pi_1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ord-pi_1", body["order_id"])
	assert.Equal(t, "CONFIRMATION", body["step"])

	// the browser retries its callback: answered from the guard, no second order
	w, body = ts.do(t, http.MethodPost, "/bff/checkout/payment/authorized", "user-1", gin.H{"payment_intent_id": "pi_1"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ord-pi_1", body["order_id"])
	assert.Equal(t, 1, ts.completer.calls())

	w, body = ts.do(t, http.MethodPost, "/bff/checkout/place-order", "user-1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_CONFIRMED", body["kind"])

	_, body = ts.do(t, http.MethodGet, "/bff/checkout", "user-1", nil)
	assert.Equal(t, "CONFIRMATION", body["step"])
}

func TestCheckout_RequiresUser(t *testing.T) {
	ts := newTestServer(t)
	w, _ := ts.do(t, http.MethodGet, "/bff/checkout", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCheckout_AddressValidation(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(t, http.MethodPost, "/bff/checkout/address", "user-1", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ts.carts.cart = &models.CartSnapshot{Currency: "USD"}
	w, body := ts.do(t, http.MethodPost, "/bff/checkout/address", "user-1", gin.H{"destination_id": "addr-1"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "EMPTY_CART", body["kind"])
	assert.Equal(t, "VIEW_CART", body["action"])
	assert.Equal(t, false, body["retryable"])

	_, body = ts.do(t, http.MethodGet, "/bff/checkout", "user-1", nil)
	assert.Equal(t, "ADDRESS", body["step"])
	lastErr, _ := body["last_error"].(map[string]any)
	assert.Equal(t, "EMPTY_CART", lastErr["kind"])
}

func TestCheckout_PlaceOrderBeforeAddress(t *testing.T) {
	ts := newTestServer(t)
	w, body := ts.do(t, http.MethodPost, "/bff/checkout/place-order", "user-1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_STEP", body["kind"])
	assert.Equal(t, 0, ts.intents.n)
}

func TestCheckout_WidgetLoadFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.toReview(t, "user-1")
	ts.intents.err = errors.New("stripe: api_connection_error")

	w, body := ts.do(t, http.MethodPost, "/bff/checkout/place-order", "user-1", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "LOAD_FAILURE", body["kind"])
	assert.Equal(t, "RETRY_PAYMENT", body["action"])

	_, body = ts.do(t, http.MethodGet, "/bff/checkout", "user-1", nil)
	assert.Equal(t, "REVIEW", body["step"])
	assert.Equal(t, false, body["payment_in_flight"])
}

func TestCheckout_AuthorizationRejectedThenRetry(t *testing.T) {
	ts := newTestServer(t)
	ts.toReview(t, "user-1")
	ts.completer.err = &models.RemoteRejection{StatusCode: http.StatusPaymentRequired, Reason: "AUTHORIZATION_REJECTED"}

	ts.do(t, http.MethodPost, "/bff/checkout/place-order", "user-1", nil)
	w, body := ts.do(t, http.MethodPost, "/bff/checkout/payment/authorized", "user-1", gin.H{"payment_intent_id": "pi_1"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "AUTHORIZATION_REJECTED", body["kind"])
	assert.Equal(t, true, body["retryable"])

	ts.completer.err = nil
	w, body = ts.do(t, http.MethodPost, "/bff/checkout/place-order", "user-1", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "pi_2", body["payment_intent_id"])

	w, body = ts.do(t, http.MethodPost, "/bff/checkout/payment/authorized", "user-1", gin.H{"payment_intent_id": "pi_2"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ord-pi_2", body["order_id"])
}

func TestCheckout_Dismissed(t *testing.T) {
	ts := newTestServer(t)
	ts.toReview(t, "user-1")
	ts.do(t, http.MethodPost, "/bff/checkout/place-order", "user-1", nil)

	w, _ := ts.do(t, http.MethodPost, "/bff/checkout/payment/dismissed", "user-2", gin.H{"payment_intent_id": "pi_1"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body := ts.do(t, http.MethodPost, "/bff/checkout/payment/dismissed", "user-1", gin.H{"payment_intent_id": "pi_1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "REVIEW", body["step"])
	assert.NotNil(t, body["summary"])
	lastErr, _ := body["last_error"].(map[string]any)
	assert.Equal(t, "CANCELLED", lastErr["kind"])

	// a late success for the dismissed intent never completes an order
	w, body = ts.do(t, http.MethodPost, "/bff/checkout/payment/authorized", "user-1", gin.H{"payment_intent_id": "pi_1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CANCELLED", body["kind"])
	assert.Equal(t, 0, ts.completer.calls())
}

func TestCheckout_RestartAfterAbandonedPayment(t *testing.T) {
	ts := newTestServer(t)
	ts.toReview(t, "user-1")
	ts.do(t, http.MethodPost, "/bff/checkout/place-order", "user-1", nil)

	// a reloaded page can still find the open payment
	_, body := ts.do(t, http.MethodGet, "/bff/checkout", "user-1", nil)
	assert.Equal(t, true, body["payment_in_flight"])
	assert.Equal(t, "pi_1", body["payment_ref"])

	w, body := ts.do(t, http.MethodPost, "/bff/checkout/restart", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ADDRESS", body["step"])
	assert.Equal(t, false, body["payment_in_flight"])

	// the abandoned intent can no longer complete an order
	w, body = ts.do(t, http.MethodPost, "/bff/checkout/payment/authorized", "user-1", gin.H{"payment_intent_id": "pi_1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CANCELLED", body["kind"])
	assert.Equal(t, 0, ts.completer.calls())
}

func TestCheckout_UnissuedPaymentRejected(t *testing.T) {
	ts := newTestServer(t)
	ts.toReview(t, "user-1")

	w, body := ts.do(t, http.MethodPost, "/bff/checkout/payment/authorized", "user-1", gin.H{"payment_intent_id": "pi_forged"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_STEP", body["kind"])
	assert.Equal(t, 0, ts.completer.calls())

	_, body = ts.do(t, http.MethodGet, "/bff/checkout", "user-1", nil)
	assert.Equal(t, "REVIEW", body["step"])
}

func TestCheckout_Back(t *testing.T) {
	ts := newTestServer(t)
	ts.toReview(t, "user-1")

	w, body := ts.do(t, http.MethodPost, "/bff/checkout/back", "user-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ADDRESS", body["step"])
}

func TestRespondError_StatusMapping(t *testing.T) {
	tests := []struct {
		err  *services.CheckoutError
		code int
	}{
		{services.ErrStalePricing, http.StatusUnprocessableEntity},
		{services.ErrCancelled, http.StatusConflict},
		{services.ErrLoadFailure, http.StatusBadGateway},
		{services.ErrCartEmptiedConcurrently, http.StatusConflict},
		{services.ErrAuthorizationRejected, http.StatusPaymentRequired},
		{services.ErrTransient, http.StatusServiceUnavailable},
		{services.ErrInProgress, http.StatusAccepted},
		{services.ErrPaymentBusy, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Kind), func(t *testing.T) {
			r := gin.New()
			r.GET("/", func(c *gin.Context) { controllers.RespondError(c, tt.err) })
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, tt.code, w.Code)
		})
	}
}
