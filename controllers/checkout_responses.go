package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/yashrajoria/storefront-checkout/common/errors"
	"github.com/yashrajoria/storefront-checkout/models"
	"github.com/yashrajoria/storefront-checkout/services"
)

type errorBody struct {
	Error     string                 `json:"error"`
	Category  services.ErrorCategory `json:"category"`
	Kind      services.ErrorKind     `json:"kind"`
	Action    services.Action        `json:"action"`
	Retryable bool                   `json:"retryable"`
}

func newErrorBody(ce *services.CheckoutError) *errorBody {
	return &errorBody{
		Error:     ce.Message,
		Category:  ce.Category,
		Kind:      ce.Kind,
		Action:    ce.Action(),
		Retryable: ce.Retryable(),
	}
}

type checkoutResponse struct {
	services.CheckoutView
	LastError *errorBody `json:"last_error,omitempty"`
}

func newCheckoutResponse(v services.CheckoutView) checkoutResponse {
	resp := checkoutResponse{CheckoutView: v}
	if v.LastError != nil {
		resp.LastError = newErrorBody(v.LastError)
	}
	return resp
}

type confirmationResponse struct {
	Step        models.CheckoutStep `json:"step"`
	OrderID     string              `json:"order_id"`
	OrderNumber string              `json:"order_number"`
}

// statusForCheckoutError maps a checkout error kind to its HTTP status.
func statusForCheckoutError(ce *services.CheckoutError) int {
	switch ce.Kind {
	case services.KindInProgress:
		return http.StatusAccepted
	case services.KindCancelled, services.KindCartEmptiedConcurrently,
		services.KindPaymentBusy, services.KindAlreadyConfirmed,
		services.KindInvalidStep, services.KindSuperseded:
		return http.StatusConflict
	case services.KindLoadFailure:
		return http.StatusBadGateway
	case services.KindAuthorizationRejected:
		return http.StatusPaymentRequired
	case services.KindTransient:
		return http.StatusServiceUnavailable
	}
	if ce.Category == services.CategoryValidation {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// RespondError writes a checkout error. Anything else goes to ErrorMiddleware.
func RespondError(c *gin.Context, err error) {
	ce, ok := services.AsCheckoutError(err)
	if !ok {
		_ = c.Error(apperrors.Internal(err))
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(statusForCheckoutError(ce), newErrorBody(ce))
}
