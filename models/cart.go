package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartItem is one priced line of the shopper's cart.
type CartItem struct {
	ProductID  string          `json:"product_id"`
	SKU        string          `json:"sku"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// CartSnapshot is the cart as last fetched from the cart service.
// Checkout treats it as read-only input; prices are re-validated before review.
type CartSnapshot struct {
	Items          []CartItem      `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	Total          decimal.Decimal `json:"total"`
	Currency       string          `json:"currency"`
	FetchedAt      time.Time       `json:"fetched_at"`
}

// IsEmpty reports whether there is nothing to check out.
func (c *CartSnapshot) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}
