package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"herald/service/notification"
	"herald/service/subscription"
)

const (
	// DefaultMaxAttempts is the total delivery attempts per message,
	// the first one included.
	DefaultMaxAttempts = 3

	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 10 * time.Second
)

// RetrierConfig tunes a Retrier. Zero values pick the defaults.
type RetrierConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Retrier wraps a Dispatcher and re-dispatches transient failures on
// an exponential backoff schedule. When a push service asked for a
// longer pause via Retry-After, that wins over the schedule.
type Retrier struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
	cfg        RetrierConfig
}

func NewRetrier(dispatcher *Dispatcher, logger *slog.Logger, cfg RetrierConfig) *Retrier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = defaultMaxInterval
	}
	return &Retrier{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run dispatches to the whole batch, then keeps re-dispatching to the
// subscriptions that failed transiently until they succeed, fail for
// good, or the attempt budget runs out. Cancelling the context returns
// the result accumulated so far.
func (r *Retrier) Run(ctx context.Context, subs []subscription.Subscription, notif *notification.Notification, opts Options) (*BatchResult, error) {
	batch, err := r.dispatcher.Dispatch(ctx, subs, notif, opts)
	if err != nil {
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.InitialInterval
	bo.MaxInterval = r.cfg.MaxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	for attempt := 1; attempt < r.cfg.MaxAttempts && len(batch.Retryable) > 0; attempt++ {
		wait := bo.NextBackOff()
		for _, retry := range batch.Retryable {
			if retry.After > wait {
				wait = retry.After
			}
		}

		r.logger.Info("Retrying transient push failures",
			"attempt", attempt,
			"remaining", len(batch.Retryable),
			"wait", wait.Round(time.Millisecond).String(),
		)

		select {
		case <-ctx.Done():
			return batch, nil
		case <-time.After(wait):
		}

		subset := retrySubset(subs, batch.Retryable)
		retried, err := r.dispatcher.Dispatch(ctx, subset, notif, opts)
		if err != nil {
			return batch, err
		}
		batch = merge(batch, retried)
	}

	return batch, nil
}

// retrySubset picks the subscriptions named by the retry list,
// preserving batch order.
func retrySubset(subs []subscription.Subscription, retries []Retry) []subscription.Subscription {
	wanted := make(map[string]bool, len(retries))
	for _, retry := range retries {
		wanted[retry.SubscriberID] = true
	}
	subset := make([]subscription.Subscription, 0, len(retries))
	for _, sub := range subs {
		if wanted[sub.SubscriberID] {
			subset = append(subset, sub)
		}
	}
	return subset
}

// merge folds a retry round into the previous batch result, keeping
// the newest outcome per subscriber and the original target order.
func merge(prev, retried *BatchResult) *BatchResult {
	latest := make(map[string]TargetResult, len(retried.Targets))
	for _, target := range retried.Targets {
		latest[target.SubscriberID] = target
	}

	targets := make([]TargetResult, len(prev.Targets))
	for i, target := range prev.Targets {
		if updated, ok := latest[target.SubscriberID]; ok {
			target = updated
		}
		targets[i] = target
	}
	return summarize(targets, prev.Elapsed+retried.Elapsed)
}
