package clients_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashrajoria/storefront-checkout/clients"
	"github.com/yashrajoria/storefront-checkout/models"
	"go.uber.org/zap"
)

func newGateway(t *testing.T, h http.HandlerFunc) *clients.GatewayClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return clients.NewGatewayClient(srv.URL, 2*time.Second, nil)
}

func TestPricingClient_ValidateCheckout(t *testing.T) {
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/checkout/validate", r.URL.Path)
		assert.Equal(t, "user-1", r.Header.Get("X-User-ID"))

		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.JSONEq(t, `"addr-1"`, string(body["destination_id"]))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"product_id":"p1","quantity":2,"unit_price":"750","total_price":"1500"}],"total":"1500","currency":"USD","is_valid":true}`))
	})

	summary, err := clients.NewPricingClient(gw).ValidateCheckout(context.Background(), &models.CheckoutValidationRequest{
		UserID:        "user-1",
		DestinationID: "addr-1",
		Cart:          &models.CartSnapshot{Items: []models.CartItem{{ProductID: "p1", Quantity: 2}}},
	})

	require.NoError(t, err)
	assert.True(t, summary.IsValid)
	assert.True(t, summary.Total.Equal(decimal.NewFromInt(1500)))
	assert.Len(t, summary.Items, 1)
}

func TestPricingClient_Rejection(t *testing.T) {
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"reason":"PRICE_OR_STOCK_CHANGED","message":"sku p1 out of stock"}`))
	})

	_, err := clients.NewPricingClient(gw).ValidateCheckout(context.Background(), &models.CheckoutValidationRequest{DestinationID: "addr-1"})

	var rej *models.RemoteRejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, http.StatusUnprocessableEntity, rej.StatusCode)
	assert.Equal(t, "PRICE_OR_STOCK_CHANGED", rej.Reason)
	assert.Equal(t, "sku p1 out of stock", rej.Message)
}

func TestOrderCompletionClient_SendsTokenAsIdempotencyKey(t *testing.T) {
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/complete", r.URL.Path)
		assert.Equal(t, "pay_123", r.Header.Get("Idempotency-Key"))

		var body models.OrderCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "pay_123", body.AuthorizationToken)
		assert.Equal(t, "addr-1", body.DestinationID)

		_, _ = w.Write([]byte(`{"order_id":"ord-1","order_number":"ORD-1001"}`))
	})

	conf, err := clients.NewOrderCompletionClient(gw).CompleteOrder(context.Background(), &models.OrderCompletionRequest{
		UserID: "user-1", DestinationID: "addr-1", AuthorizationToken: "pay_123",
	})

	require.NoError(t, err)
	assert.Equal(t, "ord-1", conf.OrderID)
	assert.Equal(t, "ORD-1001", conf.OrderNumber)
}

func TestCartClient_GetCart(t *testing.T) {
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-User-ID") == "new-user" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"product_id":"p1","quantity":1}],"total":"10.50","currency":"INR"}`))
	})
	cc := clients.NewCartClient(gw)

	cart, err := cc.GetCart(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, cart.IsEmpty())
	assert.False(t, cart.FetchedAt.IsZero())

	empty, err := cc.GetCart(context.Background(), "new-user")
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())
}

func TestGatewayClient_BreakerOpensOnServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"reason":"TRANSIENT"}`))
	}))
	defer srv.Close()

	breaker := clients.NewCircuitBreaker("orders", 2, time.Minute, zap.NewNop())
	oc := clients.NewOrderCompletionClient(clients.NewGatewayClient(srv.URL, time.Second, breaker))
	req := &models.OrderCompletionRequest{AuthorizationToken: "pay_1"}

	for i := 0; i < 2; i++ {
		_, err := oc.CompleteOrder(context.Background(), req)
		var rej *models.RemoteRejection
		require.ErrorAs(t, err, &rej)
		assert.Equal(t, "TRANSIENT", rej.Reason)
	}

	_, err := oc.CompleteOrder(context.Background(), req)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}
