package clients

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/yashrajoria/storefront-checkout/models"
)

// CartClient reads the shopper's cart from the cart service.
type CartClient struct {
	gateway *GatewayClient
	now     func() time.Time
}

func NewCartClient(gateway *GatewayClient) *CartClient {
	return &CartClient{gateway: gateway, now: time.Now}
}

func (c *CartClient) GetCart(ctx context.Context, userID string) (*models.CartSnapshot, error) {
	resp, err := c.gateway.Do(ctx, http.MethodGet, "/cart", userHeaders(userID), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch cart: %w", err)
	}
	// the cart service answers 404 for a shopper who never added anything
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return &models.CartSnapshot{FetchedAt: c.now()}, nil
	}

	var cart models.CartSnapshot
	if err := DecodeJSON(resp, &cart); err != nil {
		return nil, fmt.Errorf("fetch cart: %w", err)
	}
	cart.FetchedAt = c.now()
	return &cart, nil
}
