package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/yashrajoria/storefront-checkout/common/errors"
	"github.com/yashrajoria/storefront-checkout/common/logger"
	"github.com/yashrajoria/storefront-checkout/middleware"
	"github.com/yashrajoria/storefront-checkout/models"
	"github.com/yashrajoria/storefront-checkout/services"
	"go.uber.org/zap"
)

// CheckoutController exposes the shopper's checkout over HTTP.
type CheckoutController struct {
	Registry *services.CheckoutRegistry
	// SettleWait bounds how long a payment callback waits for order completion
	// before answering 202.
	SettleWait time.Duration
}

func NewCheckoutController(registry *services.CheckoutRegistry, settleWait time.Duration) *CheckoutController {
	return &CheckoutController{Registry: registry, SettleWait: settleWait}
}

func (cc *CheckoutController) userID(c *gin.Context) (string, bool) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		_ = c.Error(apperrors.Unauthorized("Unauthorized: Missing User ID"))
		c.Abort()
		return "", false
	}
	return userID, true
}

// GetCheckout returns the current step, summary and last error.
func (cc *CheckoutController) GetCheckout(c *gin.Context) {
	userID, ok := cc.userID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newCheckoutResponse(cc.Registry.ForUser(userID).Snapshot()))
}

// Restart starts a new checkout unless a payment is in flight.
func (cc *CheckoutController) Restart(c *gin.Context) {
	userID, ok := cc.userID(c)
	if !ok {
		return
	}
	m, err := cc.Registry.Restart(userID)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCheckoutResponse(m.Snapshot()))
}

func (cc *CheckoutController) ConfirmAddress(c *gin.Context) {
	userID, ok := cc.userID(c)
	if !ok {
		return
	}
	var req struct {
		DestinationID string `json:"destination_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest("destination_id is required", err))
		c.Abort()
		return
	}

	m := cc.Registry.ForUser(userID)
	if _, err := m.ConfirmAddress(c.Request.Context(), req.DestinationID); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCheckoutResponse(m.Snapshot()))
}

func (cc *CheckoutController) Back(c *gin.Context) {
	userID, ok := cc.userID(c)
	if !ok {
		return
	}
	m := cc.Registry.ForUser(userID)
	if err := m.Back(); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCheckoutResponse(m.Snapshot()))
}

// PlaceOrder opens a payment session and returns what the browser needs to
// show the payment form.
func (cc *CheckoutController) PlaceOrder(c *gin.Context) {
	userID, ok := cc.userID(c)
	if !ok {
		return
	}
	m := cc.Registry.ForUser(userID)
	pending, err := m.PlaceOrder(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}

	session := pending.Session()
	widget := session.Widget()
	if widget == nil {
		// the session settled as a load failure; surface it once the machine has recorded it
		_, err := cc.wait(c.Request.Context(), pending)
		RespondError(c, err)
		return
	}

	logger.Info(c, "payment session ready",
		zap.String("user_id", userID),
		zap.String("handle", pending.Handle()),
		zap.String("payment_intent_id", widget.PaymentRef))

	var currency string
	if s := m.Snapshot().Summary; s != nil {
		currency = s.Currency
	}
	c.JSON(http.StatusAccepted, gin.H{
		"handle":             pending.Handle(),
		"client_secret":      widget.ClientSecret,
		"payment_intent_id":  widget.PaymentRef,
		"amount_minor_units": session.AmountMinorUnits(),
		"currency":           currency,
	})
}

type paymentCallbackRequest struct {
	PaymentIntentID string `json:"payment_intent_id" binding:"required"`
}

// PaymentAuthorized is the browser's success callback. It waits for order
// completion up to SettleWait.
func (cc *CheckoutController) PaymentAuthorized(c *gin.Context) {
	userID, ok := cc.userID(c)
	if !ok {
		return
	}
	var req paymentCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest("payment_intent_id is required", err))
		c.Abort()
		return
	}

	m := cc.Registry.ForUser(userID)
	pending := m.Pending()
	ctx := context.WithoutCancel(c.Request.Context())

	consumed, conf, err := cc.Registry.DeliverAuthorization(ctx, userID, req.PaymentIntentID)
	if consumed {
		if pending == nil {
			c.JSON(http.StatusAccepted, gin.H{"status": "processing"})
			return
		}
		conf, err = cc.wait(c.Request.Context(), pending)
		if err != nil && c.Request.Context().Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			if _, typed := services.AsCheckoutError(err); !typed {
				c.JSON(http.StatusAccepted, gin.H{"status": "processing", "handle": pending.Handle()})
				return
			}
		}
	}

	if err != nil {
		RespondError(c, err)
		return
	}
	if conf == nil {
		c.JSON(http.StatusAccepted, gin.H{"status": "processing"})
		return
	}
	c.JSON(http.StatusOK, confirmationResponse{
		Step:        models.StepConfirmation,
		OrderID:     conf.OrderID,
		OrderNumber: conf.OrderNumber,
	})
}

// PaymentDismissed is the browser's callback when the shopper closes the form.
func (cc *CheckoutController) PaymentDismissed(c *gin.Context) {
	userID, ok := cc.userID(c)
	if !ok {
		return
	}
	var req paymentCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest("payment_intent_id is required", err))
		c.Abort()
		return
	}
	if owner, known := cc.Registry.PaymentOwner(req.PaymentIntentID); !known || owner != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
		return
	}

	m := cc.Registry.ForUser(userID)
	pending := m.Pending()
	if cc.Registry.DeliverDismissal(req.PaymentIntentID) && pending != nil {
		_, _ = cc.wait(c.Request.Context(), pending)
	}
	c.JSON(http.StatusOK, newCheckoutResponse(m.Snapshot()))
}

func (cc *CheckoutController) wait(ctx context.Context, p *services.PendingOrder) (*models.OrderConfirmation, error) {
	waitCtx, cancel := context.WithTimeout(ctx, cc.SettleWait)
	defer cancel()
	return p.Wait(waitCtx)
}

func (cc *CheckoutController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "checkout-service"})
}
