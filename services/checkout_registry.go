package services

import (
	"context"
	"sync"
	"time"

	"github.com/yashrajoria/storefront-checkout/models"
	"go.uber.org/zap"
)

// Delivery is what the widget did with an authorization it was handed.
type Delivery int

const (
	// DeliveryUnknown means no session with this reference is known to the widget.
	DeliveryUnknown Delivery = iota
	// DeliveryConsumed means a still-open session took it.
	DeliveryConsumed
	// DeliveryRedelivered means the session already settled as authorized.
	DeliveryRedelivered
	// DeliveryDiscarded means the session was dismissed before the authorization arrived.
	DeliveryDiscarded
)

// AuthorizationInbox is the widget side of a live payment session.
type AuthorizationInbox interface {
	Authorize(paymentRef string) Delivery
	Dismiss(paymentRef string) bool
	Owner(paymentRef string) (string, bool)
}

// CheckoutRegistry holds one CheckoutStateMachine per shopper. All machines share
// the same dependencies, so a single CompletionGuard covers the whole process.
type CheckoutRegistry struct {
	deps   CheckoutDependencies
	inbox  AuthorizationInbox
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	machines map[string]*registryEntry
}

type registryEntry struct {
	machine  *CheckoutStateMachine
	lastSeen time.Time
}

func NewCheckoutRegistry(deps CheckoutDependencies, inbox AuthorizationInbox) *CheckoutRegistry {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutRegistry{
		deps:     deps,
		inbox:    inbox,
		logger:   logger,
		now:      time.Now,
		machines: make(map[string]*registryEntry),
	}
}

// ForUser returns the shopper's checkout, starting one in ADDRESS if none exists.
func (r *CheckoutRegistry) ForUser(userID string) *CheckoutStateMachine {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.machines[userID]
	if !ok {
		e = &registryEntry{machine: NewCheckoutStateMachine(userID, r.deps)}
		r.machines[userID] = e
	}
	e.lastSeen = r.now()
	return e.machine
}

func (r *CheckoutRegistry) Lookup(userID string) (*CheckoutStateMachine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.machines[userID]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.machine, true
}

// Restart discards the shopper's checkout and starts a new one. An open payment
// form is dismissed first. If the payment was already authorized and its order
// is still completing, the checkout is kept and PAYMENT_IN_PROGRESS is returned.
func (r *CheckoutRegistry) Restart(userID string) (*CheckoutStateMachine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.machines[userID]; ok && !r.releaseLocked(e.machine) {
		return e.machine, newCheckoutError(KindPaymentBusy, "A payment is already in progress.")
	}
	m := NewCheckoutStateMachine(userID, r.deps)
	r.machines[userID] = &registryEntry{machine: m, lastSeen: r.now()}
	return m, nil
}

// releaseLocked dismisses the machine's open payment form, if any, and reports
// whether the machine can be dropped.
func (r *CheckoutRegistry) releaseLocked(m *CheckoutStateMachine) bool {
	v := m.Snapshot()
	if !v.PaymentInFlight {
		return true
	}
	if v.PaymentRef == "" || r.inbox == nil || !r.inbox.Dismiss(v.PaymentRef) {
		return false
	}
	r.logger.Info("abandoned payment form dismissed",
		zap.String("user_id", m.UserID()),
		zap.String("payment_ref", v.PaymentRef),
	)
	return true
}

// Run evicts checkouts idle for longer than idleTTL until ctx is done.
func (r *CheckoutRegistry) Run(ctx context.Context, idleTTL time.Duration) {
	ticker := time.NewTicker(idleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.EvictIdle(now, idleTTL); n > 0 {
				r.logger.Debug("idle checkouts evicted", zap.Int("count", n))
			}
		}
	}
}

// EvictIdle drops checkouts not touched since now-idleTTL and returns how many
// were dropped. Checkouts whose order is still completing are kept.
func (r *CheckoutRegistry) EvictIdle(now time.Time, idleTTL time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for userID, e := range r.machines {
		if now.Sub(e.lastSeen) <= idleTTL || !r.releaseLocked(e.machine) {
			continue
		}
		delete(r.machines, userID)
		evicted++
	}
	return evicted
}

// Size returns the number of live checkouts.
func (r *CheckoutRegistry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.machines)
}

// DeliverAuthorization routes an authorization from any source (browser callback,
// webhook, queue). A live session consumes it first. A token the widget already
// settled as authorized, or one the guard has seen, goes to the owning shopper's
// machine where the guard deduplicates it. Any other token was never issued by a
// payment session and is rejected without a completion call.
func (r *CheckoutRegistry) DeliverAuthorization(ctx context.Context, userID, token string) (bool, *models.OrderConfirmation, error) {
	delivery := DeliveryUnknown
	if r.inbox != nil {
		delivery = r.inbox.Authorize(token)
	}
	switch delivery {
	case DeliveryConsumed:
		return true, nil, nil
	case DeliveryDiscarded:
		r.logger.Info("authorization for dismissed payment discarded", zap.String("user_id", userID))
		return false, nil, newPaymentError(KindCancelled, "This payment was cancelled.", nil)
	case DeliveryUnknown:
		if !r.guardKnows(token) {
			r.logger.Warn("authorization for unissued payment rejected", zap.String("user_id", userID))
			return false, nil, newCheckoutError(KindInvalidStep, "No checkout is awaiting this payment.")
		}
	}

	if r.inbox != nil {
		if owner, ok := r.inbox.Owner(token); ok {
			if userID != "" && owner != userID {
				r.logger.Warn("authorization owner mismatch", zap.String("user_id", userID), zap.String("owner", owner))
				return false, nil, newCheckoutError(KindInvalidStep, "This payment belongs to another checkout.")
			}
			userID = owner
		}
	}

	m, ok := r.Lookup(userID)
	if !ok {
		r.logger.Info("authorization for unknown checkout dropped", zap.String("user_id", userID))
		return false, nil, newCheckoutError(KindInvalidStep, "No checkout is awaiting this payment.")
	}
	conf, err := m.HandleAuthorization(ctx, models.AuthorizationEvent{Token: token, ReceivedAt: time.Now()})
	return false, conf, err
}

func (r *CheckoutRegistry) guardKnows(token string) bool {
	if r.deps.Guard == nil {
		return false
	}
	_, ok := r.deps.Guard.Attempt(token)
	return ok
}

// DeliverDismissal closes the live session for paymentRef, if any.
func (r *CheckoutRegistry) DeliverDismissal(paymentRef string) bool {
	if r.inbox == nil {
		return false
	}
	return r.inbox.Dismiss(paymentRef)
}

// PaymentOwner returns the shopper a payment reference was opened for.
func (r *CheckoutRegistry) PaymentOwner(paymentRef string) (string, bool) {
	if r.inbox == nil {
		return "", false
	}
	return r.inbox.Owner(paymentRef)
}
