package dispatch

import (
	"time"

	"herald/service/delivery"
)

// TargetResult is the outcome of pushing one notification to one
// subscription.
type TargetResult struct {
	SubscriberID string          `json:"subscriberId"`
	Endpoint     string          `json:"endpoint"`
	Status       delivery.Status `json:"status"`
	StatusCode   int             `json:"statusCode,omitempty"`
	RetryAfter   time.Duration   `json:"retryAfter,omitempty"`
	Decision     Decision        `json:"decision"`
	Error        string          `json:"error,omitempty"`
}

// Retry names a subscriber whose delivery failed transiently, with the
// minimum delay before trying again.
type Retry struct {
	SubscriberID string        `json:"subscriberId"`
	After        time.Duration `json:"after"`
}

// BatchResult summarizes a dispatch across a set of subscriptions.
type BatchResult struct {
	Total     int            `json:"total"`
	Delivered int            `json:"delivered"`
	Transient int            `json:"transient"`
	Permanent int            `json:"permanent"`
	Targets   []TargetResult `json:"targets"`

	// Invalid lists subscribers whose subscriptions the push service
	// reported gone. The dispatcher never touches storage; removing
	// these is the caller's job.
	Invalid []string `json:"invalid,omitempty"`

	// Retryable lists subscribers worth another attempt, with the
	// delay each one's push service asked for.
	Retryable []Retry `json:"retryable,omitempty"`

	Elapsed time.Duration `json:"elapsed"`
}

func summarize(targets []TargetResult, elapsed time.Duration) *BatchResult {
	batch := &BatchResult{
		Total:   len(targets),
		Targets: targets,
		Elapsed: elapsed,
	}
	for _, target := range targets {
		switch target.Status {
		case delivery.StatusDelivered:
			batch.Delivered++
		case delivery.StatusTransient:
			batch.Transient++
		default:
			batch.Permanent++
		}
		switch target.Decision {
		case DecisionDrop:
			batch.Invalid = append(batch.Invalid, target.SubscriberID)
		case DecisionRetry:
			batch.Retryable = append(batch.Retryable, Retry{
				SubscriberID: target.SubscriberID,
				After:        target.RetryAfter,
			})
		}
	}
	return batch
}
