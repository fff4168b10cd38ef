package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/yashrajoria/storefront-checkout/models"
)

// ErrorCategory groups checkout error kinds by the component that raised them.
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "VALIDATION"
	CategoryPayment    ErrorCategory = "PAYMENT_OUTCOME"
	CategoryCompletion ErrorCategory = "COMPLETION"
	// CategoryCheckout covers requests the state machine refuses on its own.
	CategoryCheckout ErrorCategory = "CHECKOUT"
)

// ErrorKind is the machine-readable reason carried by a CheckoutError.
type ErrorKind string

const (
	KindEmptyCart      ErrorKind = "EMPTY_CART"
	KindAddressInvalid ErrorKind = "ADDRESS_INVALID"
	KindStalePricing   ErrorKind = "STALE_PRICING"
	KindSummaryMissing ErrorKind = "SUMMARY_MISSING"

	KindCancelled   ErrorKind = "CANCELLED"
	KindLoadFailure ErrorKind = "LOAD_FAILURE"

	KindInProgress              ErrorKind = "IN_PROGRESS"
	KindCartEmptiedConcurrently ErrorKind = "CART_EMPTIED_CONCURRENTLY"
	KindAuthorizationRejected   ErrorKind = "AUTHORIZATION_REJECTED"
	KindTransient               ErrorKind = "TRANSIENT"

	KindPaymentBusy      ErrorKind = "PAYMENT_IN_PROGRESS"
	KindAlreadyConfirmed ErrorKind = "ALREADY_CONFIRMED"
	KindInvalidStep      ErrorKind = "INVALID_STEP"
	KindSuperseded       ErrorKind = "SUPERSEDED"
)

// Action tells the surface what to offer the shopper after an error.
type Action string

const (
	ActionRetryPayment  Action = "RETRY_PAYMENT"
	ActionChooseAddress Action = "CHOOSE_ADDRESS"
	ActionViewCart      Action = "VIEW_CART"
	ActionNone          Action = "NONE"
)

// CheckoutError is the only error type the state machine surfaces.
type CheckoutError struct {
	Category ErrorCategory
	Kind     ErrorKind
	Message  string
	Err      error
}

func (e *CheckoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Category, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s/%s: %s", e.Category, e.Kind, e.Message)
}

func (e *CheckoutError) Unwrap() error { return e.Err }

// Is matches on Kind so that errors.Is(err, ErrInProgress) works for any message.
func (e *CheckoutError) Is(target error) bool {
	t, ok := target.(*CheckoutError)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether "Try Again" is offered in place.
func (e *CheckoutError) Retryable() bool {
	switch e.Kind {
	case KindCancelled, KindLoadFailure, KindAuthorizationRejected, KindTransient:
		return true
	}
	return false
}

// Action returns the follow-up the shopper should be offered.
func (e *CheckoutError) Action() Action {
	switch e.Kind {
	case KindEmptyCart, KindCartEmptiedConcurrently:
		return ActionViewCart
	case KindAddressInvalid, KindStalePricing, KindSummaryMissing:
		return ActionChooseAddress
	case KindCancelled, KindLoadFailure, KindAuthorizationRejected:
		return ActionRetryPayment
	case KindTransient:
		if e.Category == CategoryValidation {
			return ActionChooseAddress
		}
		return ActionRetryPayment
	}
	return ActionNone
}

// Silent reports whether the error should be swallowed without surfacing to the shopper.
func (e *CheckoutError) Silent() bool {
	return e.Kind == KindInProgress || e.Kind == KindSuperseded
}

// Sentinels for errors.Is; compare by Kind only.
var (
	ErrEmptyCart               = &CheckoutError{Category: CategoryValidation, Kind: KindEmptyCart}
	ErrAddressInvalid          = &CheckoutError{Category: CategoryValidation, Kind: KindAddressInvalid}
	ErrStalePricing            = &CheckoutError{Category: CategoryValidation, Kind: KindStalePricing}
	ErrSummaryMissing          = &CheckoutError{Category: CategoryValidation, Kind: KindSummaryMissing}
	ErrCancelled               = &CheckoutError{Category: CategoryPayment, Kind: KindCancelled}
	ErrLoadFailure             = &CheckoutError{Category: CategoryPayment, Kind: KindLoadFailure}
	ErrInProgress              = &CheckoutError{Category: CategoryCompletion, Kind: KindInProgress}
	ErrCartEmptiedConcurrently = &CheckoutError{Category: CategoryCompletion, Kind: KindCartEmptiedConcurrently}
	ErrAuthorizationRejected   = &CheckoutError{Category: CategoryCompletion, Kind: KindAuthorizationRejected}
	ErrTransient               = &CheckoutError{Category: CategoryCompletion, Kind: KindTransient}
	ErrPaymentBusy             = &CheckoutError{Category: CategoryCheckout, Kind: KindPaymentBusy}
	ErrAlreadyConfirmed        = &CheckoutError{Category: CategoryCheckout, Kind: KindAlreadyConfirmed}
	ErrInvalidStep             = &CheckoutError{Category: CategoryCheckout, Kind: KindInvalidStep}
	ErrSuperseded              = &CheckoutError{Category: CategoryCheckout, Kind: KindSuperseded}
)

func newValidationError(kind ErrorKind, msg string, err error) *CheckoutError {
	return &CheckoutError{Category: CategoryValidation, Kind: kind, Message: msg, Err: err}
}

func newPaymentError(kind ErrorKind, msg string, err error) *CheckoutError {
	return &CheckoutError{Category: CategoryPayment, Kind: kind, Message: msg, Err: err}
}

func newCompletionError(kind ErrorKind, msg string, err error) *CheckoutError {
	return &CheckoutError{Category: CategoryCompletion, Kind: kind, Message: msg, Err: err}
}

func newCheckoutError(kind ErrorKind, msg string) *CheckoutError {
	return &CheckoutError{Category: CategoryCheckout, Kind: kind, Message: msg}
}

// AsCheckoutError extracts a *CheckoutError from err, if any.
func AsCheckoutError(err error) (*CheckoutError, bool) {
	var ce *CheckoutError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// classifyValidationError maps a pricing-service failure onto a validation kind.
func classifyValidationError(err error) *CheckoutError {
	var rej *models.RemoteRejection
	if errors.As(err, &rej) {
		switch rej.Reason {
		case "EMPTY_CART":
			return newValidationError(KindEmptyCart, "Your cart is empty.", err)
		case "ADDRESS_INVALID":
			return newValidationError(KindAddressInvalid, "We can't ship to this address. Please choose another one.", err)
		case "PRICE_OR_STOCK_CHANGED", string(KindStalePricing):
			return newValidationError(KindStalePricing, "Prices or stock changed. Please review your cart.", err)
		}
		if rej.StatusCode >= 400 && rej.StatusCode < 500 {
			return newValidationError(KindAddressInvalid, "This address could not be validated.", err)
		}
	}
	return newValidationError(KindTransient, "We couldn't price your order right now. Please try again.", err)
}

// classifyCompletionError maps an order-completion failure onto a completion kind.
// Anything that is not an explicit rejection (timeouts, open breaker, 5xx) is TRANSIENT.
func classifyCompletionError(err error) *CheckoutError {
	var rej *models.RemoteRejection
	if errors.As(err, &rej) {
		switch rej.Reason {
		case string(KindCartEmptiedConcurrently):
			return newCompletionError(KindCartEmptiedConcurrently, "Your cart changed while the order was being placed.", err)
		case string(KindAuthorizationRejected):
			return newCompletionError(KindAuthorizationRejected, "Your payment was not accepted. Please try again.", err)
		case string(KindTransient):
			return newCompletionError(KindTransient, "We couldn't place your order. Please try again.", err)
		}
		if rej.StatusCode >= 400 && rej.StatusCode < 500 {
			return newCompletionError(KindAuthorizationRejected, "Your payment was not accepted. Please try again.", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newCompletionError(KindTransient, "Placing your order timed out. Please try again.", err)
	}
	return newCompletionError(KindTransient, "We couldn't place your order. Please try again.", err)
}
