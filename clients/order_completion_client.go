package clients

import (
	"context"

	"github.com/yashrajoria/storefront-checkout/models"
)

// OrderCompletionClient turns an authorization token into an order.
// The token doubles as the Idempotency-Key so the order service can dedupe across processes.
type OrderCompletionClient struct {
	gateway *GatewayClient
}

func NewOrderCompletionClient(gateway *GatewayClient) *OrderCompletionClient {
	return &OrderCompletionClient{gateway: gateway}
}

func (c *OrderCompletionClient) CompleteOrder(ctx context.Context, req *models.OrderCompletionRequest) (*models.OrderConfirmation, error) {
	headers := userHeaders(req.UserID)
	headers.Set("Idempotency-Key", req.AuthorizationToken)

	var conf models.OrderConfirmation
	if err := c.gateway.PostJSON(ctx, "/orders/complete", headers, req, &conf); err != nil {
		return nil, err
	}
	return &conf, nil
}
