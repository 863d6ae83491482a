// Package polling implements the confirmation-page retry loop that waits
// for an order to become visible after the gateway redirect. The webhook
// materializes the order asynchronously; the poller absorbs that
// eventual-consistency window with bounded exponential backoff.
package polling

import (
	"context"
	"errors"
	"time"

	domain "github.com/oakmarket/api/internal/domain"
)

var (
	// ErrStillProcessing is the soft terminal error emitted when the
	// order has not appeared after all attempts. The payment may still
	// settle; the caller should direct the buyer to check back later.
	ErrStillProcessing = errors.New("polling: order still processing")
	// ErrOrderPending is returned by a Source when the order does not
	// exist yet. Any other error is treated as terminal.
	ErrOrderPending = errors.New("polling: order not available yet")
)

// Source fetches the order for a checkout session. Implementations map
// their "not found yet" condition onto ErrOrderPending so the poller can
// distinguish a retryable miss from a hard failure.
type Source interface {
	FetchOrder(ctx context.Context, checkoutSessionID string) (domain.Order, error)
}

// State is one emission on the polling stream. Exactly one terminal
// state is emitted: either Order or Err is set, never both.
type State struct {
	Loading bool
	Attempt int
	Order   *domain.Order
	Err     error
}

// RetryDelay returns the backoff before the attempt following attempt n.
// The schedule is 1s, 2s, 4s, 8s, 16s.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Second << (attempt - 1)
}

// PollerDeps wires the dependencies required to construct a Poller.
type PollerDeps struct {
	Source      Source
	MaxAttempts int
	// Timer schedules the backoff between attempts; defaults to
	// time.After. Tests inject an immediate timer.
	Timer  func(d time.Duration) <-chan time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// Poller runs bounded backoff polls for materialized orders.
type Poller struct {
	source      Source
	maxAttempts int
	timer       func(d time.Duration) <-chan time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
}

const defaultMaxAttempts = 5

// NewPoller constructs a Poller validating required dependencies.
func NewPoller(deps PollerDeps) (*Poller, error) {
	if deps.Source == nil {
		return nil, errors.New("poller: order source is required")
	}

	maxAttempts := deps.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	timer := deps.Timer
	if timer == nil {
		timer = time.After
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Poller{
		source:      deps.Source,
		maxAttempts: maxAttempts,
		timer:       timer,
		logger:      logger,
	}, nil
}

// Poll queries for the order until it appears, attempts are exhausted,
// a hard error occurs, or ctx is cancelled. The returned channel is
// closed after the terminal state. Cancelling ctx is the way to stop
// listening; no state is emitted after cancellation, and cancelling
// more than once or after completion is harmless.
func (p *Poller) Poll(ctx context.Context, checkoutSessionID string) <-chan State {
	states := make(chan State, 1)

	go func() {
		defer close(states)

		for attempt := 1; attempt <= p.maxAttempts; attempt++ {
			if !p.emit(ctx, states, State{Loading: true, Attempt: attempt}) {
				return
			}

			order, err := p.source.FetchOrder(ctx, checkoutSessionID)
			switch {
			case err == nil:
				p.logger(ctx, "polling.found", map[string]any{
					"checkoutSessionId": checkoutSessionID,
					"attempt":           attempt,
				})
				p.emit(ctx, states, State{Attempt: attempt, Order: &order})
				return
			case errors.Is(err, ErrOrderPending):
				if attempt == p.maxAttempts {
					p.logger(ctx, "polling.exhausted", map[string]any{
						"checkoutSessionId": checkoutSessionID,
						"attempts":          attempt,
					})
					p.emit(ctx, states, State{Attempt: attempt, Err: ErrStillProcessing})
					return
				}
				if !p.wait(ctx, RetryDelay(attempt)) {
					return
				}
			default:
				// Repeated failures of this class will not clear within
				// the polling window; stop instead of burning attempts.
				p.logger(ctx, "polling.failed", map[string]any{
					"checkoutSessionId": checkoutSessionID,
					"attempt":           attempt,
					"error":             err.Error(),
				})
				p.emit(ctx, states, State{Attempt: attempt, Err: err})
				return
			}
		}
	}()

	return states
}

// emit delivers a state unless the caller has gone away.
func (p *Poller) emit(ctx context.Context, states chan<- State, state State) bool {
	select {
	case states <- state:
		return true
	case <-ctx.Done():
		return false
	}
}

// wait blocks for the backoff delay, honouring cancellation.
func (p *Poller) wait(ctx context.Context, delay time.Duration) bool {
	select {
	case <-p.timer(delay):
		return true
	case <-ctx.Done():
		return false
	}
}
