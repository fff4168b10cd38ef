package models

import "time"

const (
	EventOrderConfirmed    = "checkout.order_confirmed"
	EventCompletionFailed  = "checkout.completion_failed"
	EventPaymentAuthorized = "payment_authorized"
)

// CheckoutEvent is published to SNS or Kafka when a checkout reaches an outcome.
type CheckoutEvent struct {
	EventType     string    `json:"event_type"`
	UserID        string    `json:"user_id"`
	DestinationID string    `json:"destination_id,omitempty"`
	OrderID       string    `json:"order_id,omitempty"`
	OrderNumber   string    `json:"order_number,omitempty"`
	FailureKind   string    `json:"failure_kind,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// PaymentAuthorizedMessage is consumed from the authorization queue.
// The payment service publishes one per authorized PaymentIntent and may redeliver.
type PaymentAuthorizedMessage struct {
	Type            string `json:"type"`
	UserID          string `json:"user_id"`
	PaymentIntentID string `json:"payment_intent_id"`
}
