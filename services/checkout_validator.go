package services

import (
	"context"
	"strings"
	"time"

	"github.com/yashrajoria/storefront-checkout/models"
	"go.uber.org/zap"
)

// PricingService prices a cart against a shipping destination.
type PricingService interface {
	ValidateCheckout(ctx context.Context, req *models.CheckoutValidationRequest) (*models.OrderSummary, error)
}

// CheckoutValidator obtains an authoritative OrderSummary for a destination.
// It holds no state; every call goes to the pricing service.
type CheckoutValidator struct {
	pricing PricingService
	timeout time.Duration
	logger  *zap.Logger
}

func NewCheckoutValidator(pricing PricingService, timeout time.Duration, logger *zap.Logger) *CheckoutValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutValidator{pricing: pricing, timeout: timeout, logger: logger}
}

// Validate returns the priced summary for cart shipped to destinationID.
// An empty cart is rejected with EMPTY_CART without calling the pricing service.
func (v *CheckoutValidator) Validate(ctx context.Context, userID, destinationID string, cart *models.CartSnapshot) (*models.OrderSummary, error) {
	if cart.IsEmpty() {
		return nil, newValidationError(KindEmptyCart, "Your cart is empty.", nil)
	}
	if strings.TrimSpace(destinationID) == "" {
		return nil, newValidationError(KindAddressInvalid, "Please choose a shipping address.", nil)
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	summary, err := v.pricing.ValidateCheckout(ctx, &models.CheckoutValidationRequest{
		UserID:        userID,
		DestinationID: destinationID,
		Cart:          cart,
	})
	if err != nil {
		ce := classifyValidationError(err)
		v.logger.Warn("checkout validation failed",
			zap.String("user_id", userID),
			zap.String("destination_id", destinationID),
			zap.String("kind", string(ce.Kind)),
			zap.Error(err),
		)
		return nil, ce
	}
	if summary == nil {
		return nil, newValidationError(KindTransient, "We couldn't price your order right now. Please try again.", nil)
	}
	if !summary.IsValid {
		msg := "Prices or stock changed. Please review your cart."
		if len(summary.Warnings) > 0 {
			msg = strings.Join(summary.Warnings, "; ")
		}
		return nil, newValidationError(KindStalePricing, msg, nil)
	}
	return summary, nil
}
