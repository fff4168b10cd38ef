package clients

import (
	"context"

	"github.com/yashrajoria/storefront-checkout/models"
)

// PricingClient asks the pricing service for an authoritative order summary.
type PricingClient struct {
	gateway *GatewayClient
}

func NewPricingClient(gateway *GatewayClient) *PricingClient {
	return &PricingClient{gateway: gateway}
}

func (c *PricingClient) ValidateCheckout(ctx context.Context, req *models.CheckoutValidationRequest) (*models.OrderSummary, error) {
	var summary models.OrderSummary
	if err := c.gateway.PostJSON(ctx, "/checkout/validate", userHeaders(req.UserID), req, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}
