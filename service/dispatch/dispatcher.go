package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"herald/service/delivery"
	"herald/service/encryption"
	"herald/service/notification"
	"herald/service/subscription"
)

// DefaultConcurrency bounds how many deliveries run in parallel when
// the configuration does not say otherwise.
const DefaultConcurrency = 16

// Sender delivers one push message to one endpoint. *delivery.Client
// satisfies it.
type Sender interface {
	Send(ctx context.Context, endpoint string, body []byte, opts delivery.Options) (*delivery.Result, error)
}

// Config tunes a Dispatcher.
type Config struct {
	// Concurrency is the number of parallel deliveries per batch.
	// Zero or negative means DefaultConcurrency.
	Concurrency int
}

// Options adjust a single dispatch without touching the notification
// itself.
type Options struct {
	// TTL overrides the notification's TTL when positive.
	TTL int

	// Urgency overrides the notification's urgency when set.
	Urgency notification.Urgency

	// Topic lets the push service collapse undelivered messages that
	// share it, keeping only the newest.
	Topic string

	// NoPayload sends an empty push message. The client wakes up with
	// no data, which is the only way to reach subscriptions that were
	// stored without encryption keys.
	NoPayload bool
}

// Dispatcher fans one notification out to many subscriptions. It never
// touches storage; subscriptions the push service rejected come back
// on the batch result for the caller to remove.
type Dispatcher struct {
	sender      Sender
	concurrency int
	events      Events
}

func NewDispatcher(sender Sender, logger *slog.Logger, cfg Config) *Dispatcher {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Dispatcher{
		sender:      sender,
		concurrency: concurrency,
		events:      &LogEvents{Logger: logger},
	}
}

// SetEvents replaces the event sink. Call before the first Dispatch;
// the dispatcher does not synchronize the swap.
func (d *Dispatcher) SetEvents(events Events) {
	if events != nil {
		d.events = events
	}
}

// Dispatch serializes the notification once, encrypts it per
// subscription and delivers to every subscription in the batch. Each
// target gets an outcome even when the context expires mid-batch;
// unsent targets come back transient so a retry can pick them up.
//
// The returned error covers problems with the notification itself. Per
// subscription failures never fail the batch.
func (d *Dispatcher) Dispatch(ctx context.Context, subs []subscription.Subscription, notif *notification.Notification, opts Options) (*BatchResult, error) {
	start := time.Now()

	var payload []byte
	if !opts.NoPayload {
		if notif == nil {
			return nil, fmt.Errorf("dispatch needs a notification unless NoPayload is set")
		}
		var err error
		payload, err = notif.Payload(start)
		if err != nil {
			return nil, err
		}
		if len(payload) > encryption.MaxPlaintext {
			return nil, fmt.Errorf("notification payload is %d bytes, limit is %d: %w",
				len(payload), encryption.MaxPlaintext, encryption.ErrPayloadTooLarge)
		}
	}

	deliveryOpts := delivery.Options{
		TTL:     notification.DefaultTTL,
		Urgency: notification.UrgencyNormal,
		Topic:   opts.Topic,
	}
	if notif != nil {
		deliveryOpts.TTL = notif.TTLOrDefault()
		deliveryOpts.Urgency = notif.UrgencyOrDefault()
	}
	if opts.TTL > 0 {
		deliveryOpts.TTL = opts.TTL
	}
	if opts.Urgency != "" {
		deliveryOpts.Urgency = opts.Urgency
	}

	targets := make([]TargetResult, len(subs))
	jobs := make(chan int, len(subs))
	for i := range subs {
		jobs <- i
	}
	close(jobs)

	workers := d.concurrency
	if workers > len(subs) {
		workers = len(subs)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				targets[i] = d.push(ctx, subs[i], payload, deliveryOpts)
			}
		}()
	}
	wg.Wait()

	batch := summarize(targets, time.Since(start))
	d.events.BatchDone(batch)
	return batch, nil
}

// push delivers to a single subscription and reports the outcome. All
// failures land in the result, never in an error.
func (d *Dispatcher) push(ctx context.Context, sub subscription.Subscription, payload []byte, opts delivery.Options) TargetResult {
	target := TargetResult{
		SubscriberID: sub.SubscriberID,
		Endpoint:     sub.Endpoint,
	}
	d.events.Attempted(sub.SubscriberID)

	body, err := d.encryptFor(sub, payload)
	if err != nil {
		target.Status = StatusMissingKeys
		target.Decision = Decide(StatusMissingKeys)
		target.Error = err.Error()
		d.events.Failed(sub.SubscriberID, target.Status)
		return target
	}

	result, err := d.sender.Send(ctx, sub.Endpoint, body, opts)
	if err != nil {
		target.Status = delivery.StatusBadRequest
		target.Decision = Decide(delivery.StatusBadRequest)
		target.Error = err.Error()
		d.events.Failed(sub.SubscriberID, target.Status)
		return target
	}

	target.Status = result.Status
	target.StatusCode = result.StatusCode
	target.RetryAfter = result.RetryAfter
	target.Decision = Decide(result.Status)
	if result.Err != nil {
		target.Error = result.Err.Error()
	}

	if result.Delivered() {
		d.events.Delivered(sub.SubscriberID)
	} else {
		d.events.Failed(sub.SubscriberID, target.Status)
	}
	if target.Decision == DecisionDrop {
		d.events.Invalidated(sub.SubscriberID)
	}
	return target
}

// encryptFor produces the request body for one subscription. An empty
// payload needs no keys and goes out as an empty body; anything else
// requires the subscription's key pair.
func (d *Dispatcher) encryptFor(sub subscription.Subscription, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	if !sub.HasKeys() {
		return nil, fmt.Errorf("subscription has no encryption keys")
	}
	p256dh, auth, err := sub.Keys()
	if err != nil {
		return nil, fmt.Errorf("decoding subscription keys: %w", err)
	}
	body, err := encryption.Encrypt(payload, p256dh, auth)
	if err != nil {
		return nil, fmt.Errorf("encrypting payload: %w", err)
	}
	return body, nil
}
