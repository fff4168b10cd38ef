package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/yashrajoria/storefront-checkout/models"
	"go.uber.org/zap"
)

// OrderCompleter turns an authorization token into an order.
type OrderCompleter interface {
	CompleteOrder(ctx context.Context, req *models.OrderCompletionRequest) (*models.OrderConfirmation, error)
}

// AttemptRecorder persists terminal completion attempts for audit.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, record *models.CheckoutAttemptRecord) error
}

type completionEntry struct {
	attempt      models.CompletionAttempt
	confirmation *models.OrderConfirmation
	err          *CheckoutError
	done         chan struct{}
}

// CompletionGuard ensures each authorization token produces at most one order
// completion call for the lifetime of the process.
type CompletionGuard struct {
	completer OrderCompleter
	recorder  AttemptRecorder
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	attempts map[string]*completionEntry
}

func NewCompletionGuard(completer OrderCompleter, recorder AttemptRecorder, timeout time.Duration, logger *zap.Logger) *CompletionGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompletionGuard{
		completer: completer,
		recorder:  recorder,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
		attempts:  make(map[string]*completionEntry),
	}
}

// Complete completes the order for token at most once.
//
// A token already SUCCEEDED returns the cached confirmation; a PENDING token returns
// IN_PROGRESS; a FAILED token returns its classified error. None of these call out.
func (g *CompletionGuard) Complete(ctx context.Context, userID, token, destinationID string) (*models.OrderConfirmation, error) {
	if strings.TrimSpace(token) == "" {
		return nil, newCompletionError(KindAuthorizationRejected, "Missing payment authorization.", nil)
	}

	g.mu.Lock()
	if e, ok := g.attempts[token]; ok {
		status, conf, cerr := e.attempt.Status, e.confirmation, e.err
		g.mu.Unlock()
		switch status {
		case models.CompletionSucceeded:
			return conf, nil
		case models.CompletionFailed:
			return nil, cerr
		default:
			return nil, newCompletionError(KindInProgress, "Your order is already being placed.", nil)
		}
	}
	entry := &completionEntry{
		attempt: models.CompletionAttempt{
			Token:     token,
			Status:    models.CompletionPending,
			StartedAt: g.now(),
		},
		done: make(chan struct{}),
	}
	g.attempts[token] = entry
	g.mu.Unlock()

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	conf, err := g.completer.CompleteOrder(callCtx, &models.OrderCompletionRequest{
		UserID:             userID,
		DestinationID:      destinationID,
		AuthorizationToken: token,
	})
	if err == nil && (conf == nil || conf.OrderID == "") {
		err = &models.RemoteRejection{Reason: string(KindTransient), Message: "empty order confirmation"}
	}

	var cerr *CheckoutError
	g.mu.Lock()
	if err != nil {
		cerr = classifyCompletionError(err)
		entry.attempt.Status = models.CompletionFailed
		entry.err = cerr
	} else {
		entry.attempt.Status = models.CompletionSucceeded
		entry.confirmation = conf
	}
	close(entry.done)
	attempt := entry.attempt
	g.mu.Unlock()

	g.record(ctx, userID, destinationID, attempt, conf, cerr)

	if cerr != nil {
		g.logger.Warn("order completion failed",
			zap.String("user_id", userID),
			zap.String("kind", string(cerr.Kind)),
			zap.Error(err),
		)
		return nil, cerr
	}
	g.logger.Info("order completed",
		zap.String("user_id", userID),
		zap.String("order_id", conf.OrderID),
		zap.String("order_number", conf.OrderNumber),
	)
	return conf, nil
}

// Await blocks until the attempt for token is terminal and returns its result
// without issuing a call of its own.
func (g *CompletionGuard) Await(ctx context.Context, token string) (*models.OrderConfirmation, error) {
	g.mu.Lock()
	e, ok := g.attempts[token]
	g.mu.Unlock()
	if !ok {
		return nil, newCompletionError(KindTransient, "No order is being placed for this payment.", nil)
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return nil, newCompletionError(KindTransient, "Waiting for your order timed out.", ctx.Err())
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if e.attempt.Status == models.CompletionSucceeded {
		return e.confirmation, nil
	}
	return nil, e.err
}

// Attempt returns a copy of the attempt recorded for token.
func (g *CompletionGuard) Attempt(token string) (models.CompletionAttempt, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.attempts[token]
	if !ok {
		return models.CompletionAttempt{}, false
	}
	return e.attempt, true
}

// record is best-effort: a failed audit write never changes the checkout result.
func (g *CompletionGuard) record(ctx context.Context, userID, destinationID string, attempt models.CompletionAttempt, conf *models.OrderConfirmation, cerr *CheckoutError) {
	if g.recorder == nil {
		return
	}
	finished := g.now()
	rec := &models.CheckoutAttemptRecord{
		Token:         attempt.Token,
		UserID:        userID,
		DestinationID: destinationID,
		Status:        string(attempt.Status),
		StartedAt:     attempt.StartedAt,
		FinishedAt:    &finished,
	}
	if conf != nil {
		rec.OrderID = conf.OrderID
		rec.OrderNumber = conf.OrderNumber
	}
	if cerr != nil {
		rec.FailureKind = string(cerr.Kind)
	}
	if err := g.recorder.RecordAttempt(context.WithoutCancel(ctx), rec); err != nil {
		g.logger.Warn("failed to record checkout attempt", zap.String("token", attempt.Token), zap.Error(err))
	}
}
