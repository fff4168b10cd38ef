package models

import "time"

// CheckoutStep is the shopper-visible position in the checkout flow.
type CheckoutStep string

const (
	StepAddress      CheckoutStep = "ADDRESS"
	StepReview       CheckoutStep = "REVIEW"
	StepConfirmation CheckoutStep = "CONFIRMATION"
)

// String representation (for logging)
func (s CheckoutStep) String() string {
	return string(s)
}

// OrderSummary is the priced result of validating a cart against a destination.
// The totals are computed server-side and never recomputed here.
type OrderSummary struct {
	CartSnapshot
	IsValid  bool     `json:"is_valid"`
	Warnings []string `json:"warnings"`
}

// AuthorizationEvent is one delivery of a payment authorization.
// Token is the deduplication key; the same token may be delivered more than once.
type AuthorizationEvent struct {
	Token      string    `json:"token"`
	ReceivedAt time.Time `json:"received_at"`
}

// CompletionStatus is the lifecycle state of a CompletionAttempt.
type CompletionStatus string

const (
	CompletionPending   CompletionStatus = "PENDING"
	CompletionSucceeded CompletionStatus = "SUCCEEDED"
	CompletionFailed    CompletionStatus = "FAILED"
)

func (s CompletionStatus) IsTerminal() bool {
	return s == CompletionSucceeded || s == CompletionFailed
}

// CompletionAttempt tracks one authorization token through order completion.
type CompletionAttempt struct {
	Token     string           `json:"token"`
	Status    CompletionStatus `json:"status"`
	StartedAt time.Time        `json:"started_at"`
}

// OrderConfirmation is returned once by the order completion service.
type OrderConfirmation struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

// CheckoutValidationRequest is sent to the pricing service.
type CheckoutValidationRequest struct {
	UserID        string        `json:"-"`
	DestinationID string        `json:"destination_id"`
	Cart          *CartSnapshot `json:"cart"`
}

// OrderCompletionRequest is sent to the order completion service.
type OrderCompletionRequest struct {
	UserID             string `json:"-"`
	DestinationID      string `json:"destination_id"`
	AuthorizationToken string `json:"authorization_token"`
}

// RemoteRejection is a machine-readable refusal returned by an upstream service.
type RemoteRejection struct {
	StatusCode int    `json:"-"`
	Reason     string `json:"reason"`
	Message    string `json:"message,omitempty"`
}

func (r *RemoteRejection) Error() string {
	if r.Message != "" {
		return "upstream rejected request: " + r.Reason + ": " + r.Message
	}
	return "upstream rejected request: " + r.Reason
}
