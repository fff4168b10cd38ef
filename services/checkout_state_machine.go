package services

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/yashrajoria/storefront-checkout/models"
	"go.uber.org/zap"
)

// CartSource returns the shopper's current cart.
type CartSource interface {
	GetCart(ctx context.Context, userID string) (*models.CartSnapshot, error)
}

// CheckoutListener receives the exit conditions of a checkout.
// Callbacks run on the goroutine that caused the transition, never under the machine's lock.
type CheckoutListener interface {
	OnAddressConfirmed(userID, destinationID string)
	OnOrderSummaryReady(userID string, summary *models.OrderSummary)
	OnError(userID string, err *CheckoutError)
	OnOrderConfirmed(userID, destinationID string, confirmation *models.OrderConfirmation)
}

type nopListener struct{}

func (nopListener) OnAddressConfirmed(string, string)                          {}
func (nopListener) OnOrderSummaryReady(string, *models.OrderSummary)           {}
func (nopListener) OnError(string, *CheckoutError)                             {}
func (nopListener) OnOrderConfirmed(string, string, *models.OrderConfirmation) {}

// CheckoutDependencies are the collaborators shared by every checkout.
type CheckoutDependencies struct {
	Validator *CheckoutValidator
	Guard     *CompletionGuard
	Widget    PaymentWidget
	Carts     CartSource
	Listener  CheckoutListener
	Logger    *zap.Logger
}

// CheckoutView is a point-in-time copy of a checkout's state.
type CheckoutView struct {
	Step            models.CheckoutStep       `json:"step"`
	DestinationID   string                    `json:"destination_id,omitempty"`
	Summary         *models.OrderSummary      `json:"summary,omitempty"`
	Confirmation    *models.OrderConfirmation `json:"confirmation,omitempty"`
	PaymentInFlight bool                      `json:"payment_in_flight"`
	PendingHandle   string                    `json:"pending_handle,omitempty"`
	PaymentRef      string                    `json:"payment_ref,omitempty"`
	LastError       *CheckoutError            `json:"-"`
}

// PendingOrder is a placed order waiting on its payment session and completion.
type PendingOrder struct {
	handle  string
	session *PaymentSession
	done    chan struct{}

	confirmation *models.OrderConfirmation
	err          error
}

func newPendingOrder(handle string) *PendingOrder {
	return &PendingOrder{handle: handle, done: make(chan struct{})}
}

func (p *PendingOrder) Handle() string           { return p.handle }
func (p *PendingOrder) Session() *PaymentSession { return p.session }
func (p *PendingOrder) Done() <-chan struct{}    { return p.done }

// Wait blocks until the order is confirmed or has failed.
func (p *PendingOrder) Wait(ctx context.Context) (*models.OrderConfirmation, error) {
	select {
	case <-p.done:
		return p.confirmation, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *PendingOrder) resolve(conf *models.OrderConfirmation, err error) {
	p.confirmation = conf
	p.err = err
	close(p.done)
}

// CheckoutStateMachine drives one shopper from address selection to confirmation.
//
// The mutex guards state only. It is released before every validation call,
// widget interaction and completion call, and the state is re-checked afterwards.
type CheckoutStateMachine struct {
	userID    string
	validator *CheckoutValidator
	guard     *CompletionGuard
	widget    PaymentWidget
	carts     CartSource
	listener  CheckoutListener
	logger    *zap.Logger
	newHandle func() string

	mu            sync.Mutex
	step          models.CheckoutStep
	destinationID string
	cart          *models.CartSnapshot
	summary       *models.OrderSummary
	confirmation  *models.OrderConfirmation
	lastErr       *CheckoutError
	validationSeq uint64
	pending       *PendingOrder
}

func NewCheckoutStateMachine(userID string, deps CheckoutDependencies) *CheckoutStateMachine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	listener := deps.Listener
	if listener == nil {
		listener = nopListener{}
	}
	return &CheckoutStateMachine{
		userID:    userID,
		validator: deps.Validator,
		guard:     deps.Guard,
		widget:    deps.Widget,
		carts:     deps.Carts,
		listener:  listener,
		logger:    logger.With(zap.String("user_id", userID)),
		newHandle: uuid.NewString,
		step:      models.StepAddress,
	}
}

func (m *CheckoutStateMachine) UserID() string { return m.userID }

// Snapshot returns a copy of the current state.
func (m *CheckoutStateMachine) Snapshot() CheckoutView {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := CheckoutView{
		Step:          m.step,
		DestinationID: m.destinationID,
		Summary:       m.summary,
		Confirmation:  m.confirmation,
		LastError:     m.lastErr,
	}
	if m.pending != nil {
		v.PaymentInFlight = true
		v.PendingHandle = m.pending.handle
		if s := m.pending.session; s != nil && s.Widget() != nil {
			v.PaymentRef = s.Widget().PaymentRef
		}
	}
	return v
}

// Pending returns the order whose payment is in flight, or nil.
func (m *CheckoutStateMachine) Pending() *PendingOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// UpdateCart replaces the held cart snapshot. Ignored once confirmed.
func (m *CheckoutStateMachine) UpdateCart(cart *models.CartSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.step != models.StepConfirmation {
		m.cart = cart
	}
}

// ConfirmAddress validates the cart against destinationID and moves ADDRESS -> REVIEW.
// On failure the machine stays in ADDRESS with the error surfaced. If a newer
// ConfirmAddress or Back happened while this one was validating, the result is
// discarded and SUPERSEDED is returned.
func (m *CheckoutStateMachine) ConfirmAddress(ctx context.Context, destinationID string) (*models.OrderSummary, error) {
	m.mu.Lock()
	switch m.step {
	case models.StepConfirmation:
		m.mu.Unlock()
		return nil, newCheckoutError(KindAlreadyConfirmed, "This order has already been placed.")
	case models.StepReview:
		m.mu.Unlock()
		return nil, newCheckoutError(KindInvalidStep, "Go back to change the shipping address.")
	}
	m.validationSeq++
	seq := m.validationSeq
	cart := m.cart
	m.mu.Unlock()

	var fetchErr error
	if m.carts != nil {
		fresh, err := m.carts.GetCart(ctx, m.userID)
		if err != nil {
			m.logger.Warn("cart fetch failed, using last snapshot", zap.Error(err))
			fetchErr = err
		} else {
			cart = fresh
		}
	}

	var summary *models.OrderSummary
	var err error
	if fetchErr != nil && cart == nil {
		err = newValidationError(KindTransient, "We couldn't load your cart. Please try again.", fetchErr)
	} else {
		summary, err = m.validator.Validate(ctx, m.userID, destinationID, cart)
	}

	m.mu.Lock()
	if seq != m.validationSeq || m.step != models.StepAddress {
		m.mu.Unlock()
		m.logger.Debug("discarding superseded validation result", zap.String("destination_id", destinationID))
		return nil, newCheckoutError(KindSuperseded, "A newer address selection replaced this one.")
	}
	m.cart = cart
	if err != nil {
		ce, ok := AsCheckoutError(err)
		if !ok {
			ce = classifyValidationError(err)
		}
		m.lastErr = ce
		m.mu.Unlock()
		m.listener.OnError(m.userID, ce)
		return nil, ce
	}
	m.summary = summary
	m.destinationID = destinationID
	m.step = models.StepReview
	m.lastErr = nil
	m.mu.Unlock()

	m.logger.Info("checkout moved to review",
		zap.String("destination_id", destinationID),
		zap.String("total", summary.Total.String()),
		zap.String("currency", summary.Currency),
	)
	m.listener.OnAddressConfirmed(m.userID, destinationID)
	m.listener.OnOrderSummaryReady(m.userID, summary)
	return summary, nil
}

// Back returns REVIEW -> ADDRESS and discards the held summary.
func (m *CheckoutStateMachine) Back() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.step {
	case models.StepConfirmation:
		return newCheckoutError(KindAlreadyConfirmed, "This order has already been placed.")
	case models.StepAddress:
		return newCheckoutError(KindInvalidStep, "You are already choosing an address.")
	}
	if m.pending != nil {
		return newCheckoutError(KindPaymentBusy, "Finish or cancel the payment first.")
	}
	m.step = models.StepAddress
	m.summary = nil
	m.lastErr = nil
	m.validationSeq++
	return nil
}

// PlaceOrder opens a payment session for the held summary. The returned
// PendingOrder resolves once the session settles and, if authorized, completion finishes.
//
// In CONFIRMATION this is a no-op that returns ALREADY_CONFIRMED. An empty cart or a
// missing summary is rejected without contacting any collaborator.
func (m *CheckoutStateMachine) PlaceOrder(ctx context.Context) (*PendingOrder, error) {
	m.mu.Lock()
	if m.step == models.StepConfirmation {
		m.mu.Unlock()
		return nil, newCheckoutError(KindAlreadyConfirmed, "This order has already been placed.")
	}
	if m.step != models.StepReview {
		m.mu.Unlock()
		return nil, newCheckoutError(KindInvalidStep, "Choose a shipping address first.")
	}
	if m.pending != nil {
		m.mu.Unlock()
		return nil, newCheckoutError(KindPaymentBusy, "A payment is already in progress.")
	}
	var local *CheckoutError
	switch {
	case m.cart.IsEmpty():
		local = newValidationError(KindEmptyCart, "Your cart is empty.", nil)
	case m.summary == nil:
		local = newValidationError(KindSummaryMissing, "Please confirm your shipping address again.", nil)
	}
	if local != nil {
		m.lastErr = local
		m.mu.Unlock()
		m.listener.OnError(m.userID, local)
		return nil, local
	}

	p := newPendingOrder(m.newHandle())
	m.pending = p
	m.lastErr = nil
	summary := m.summary
	dest := m.destinationID
	m.mu.Unlock()

	session := OpenPaymentSession(ctx, m.widget, p.handle, summary.Total, summary.Currency, map[string]string{
		"user_id":        m.userID,
		"order_handle":   p.handle,
		"destination_id": dest,
	})
	m.mu.Lock()
	p.session = session
	m.mu.Unlock()
	m.logger.Info("payment session opened", zap.String("handle", p.handle))

	go m.awaitPayment(p, dest)
	return p, nil
}

func (m *CheckoutStateMachine) awaitPayment(p *PendingOrder, destinationID string) {
	ctx := context.Background()
	outcome, _ := p.session.Await(ctx)

	switch outcome.Kind {
	case OutcomeCancelled:
		m.logger.Info("payment cancelled by shopper", zap.String("handle", p.handle))
		m.finishPayment(p, nil, newPaymentError(KindCancelled, "Payment was cancelled.", nil))
	case OutcomeLoadFailure:
		m.logger.Warn("payment widget failed to load", zap.String("handle", p.handle), zap.Error(outcome.Err))
		m.finishPayment(p, nil, newPaymentError(KindLoadFailure, "The payment form failed to load. Please try again.", outcome.Err))
	default:
		token := outcome.Event.Token
		m.mu.Lock()
		confirmed := m.step == models.StepConfirmation
		m.mu.Unlock()
		if _, known := m.guard.Attempt(token); confirmed && !known {
			m.logger.Warn("authorization arrived after checkout was confirmed", zap.String("handle", p.handle))
			m.finishPayment(p, nil, newCheckoutError(KindAlreadyConfirmed, "This order has already been placed."))
			return
		}
		conf, err := m.guard.Complete(ctx, m.userID, token, destinationID)
		if errors.Is(err, ErrInProgress) {
			// a redelivery of this token reached the guard first
			conf, err = m.guard.Await(ctx, token)
		}
		m.finishPayment(p, conf, err)
	}
}

func (m *CheckoutStateMachine) finishPayment(p *PendingOrder, conf *models.OrderConfirmation, err error) {
	var notifyErr *CheckoutError
	var notifyConf *models.OrderConfirmation

	m.mu.Lock()
	if m.pending == p {
		m.pending = nil
	}
	dest := m.destinationID
	if err != nil {
		ce, ok := AsCheckoutError(err)
		if !ok {
			ce = classifyCompletionError(err)
		}
		err = ce
		if m.step == models.StepReview && !ce.Silent() {
			m.lastErr = ce
			notifyErr = ce
		}
	} else if m.step == models.StepReview {
		m.step = models.StepConfirmation
		m.confirmation = conf
		m.lastErr = nil
		notifyConf = conf
	} else if m.confirmation != nil {
		conf = m.confirmation
	}
	m.mu.Unlock()

	p.resolve(conf, err)

	if notifyErr != nil {
		m.listener.OnError(m.userID, notifyErr)
	}
	if notifyConf != nil {
		m.logger.Info("checkout confirmed", zap.String("order_id", notifyConf.OrderID))
		m.listener.OnOrderConfirmed(m.userID, dest, notifyConf)
	}
}

// HandleAuthorization feeds an authorization delivered outside the live payment
// session (webhook or queue redelivery) through the completion guard.
// Duplicate tokens are answered from the guard's attempt table.
func (m *CheckoutStateMachine) HandleAuthorization(ctx context.Context, event models.AuthorizationEvent) (*models.OrderConfirmation, error) {
	m.mu.Lock()
	step, dest := m.step, m.destinationID
	m.mu.Unlock()

	if step != models.StepReview {
		if _, known := m.guard.Attempt(event.Token); known {
			return m.guard.Complete(ctx, m.userID, event.Token, dest)
		}
		if step == models.StepConfirmation {
			return nil, newCheckoutError(KindAlreadyConfirmed, "This order has already been placed.")
		}
		return nil, newCheckoutError(KindInvalidStep, "No order is awaiting payment.")
	}

	conf, err := m.guard.Complete(ctx, m.userID, event.Token, dest)
	if err != nil {
		ce, _ := AsCheckoutError(err)
		if ce != nil && ce.Silent() {
			m.logger.Debug("duplicate authorization dropped", zap.String("token", event.Token))
			return nil, ce
		}
		m.mu.Lock()
		surface := m.step == models.StepReview && m.pending == nil && ce != nil
		if surface {
			m.lastErr = ce
		}
		m.mu.Unlock()
		if surface {
			m.listener.OnError(m.userID, ce)
		}
		return nil, err
	}

	m.mu.Lock()
	transitioned := m.step == models.StepReview
	if transitioned {
		m.step = models.StepConfirmation
		m.confirmation = conf
		m.lastErr = nil
		dest = m.destinationID
	}
	m.mu.Unlock()

	if transitioned {
		m.logger.Info("checkout confirmed from redelivered authorization", zap.String("order_id", conf.OrderID))
		m.listener.OnOrderConfirmed(m.userID, dest, conf)
	}
	return conf, nil
}
