package dispatch

import "herald/service/delivery"

// Decision is what a delivery outcome means for the subscription it
// targeted.
type Decision string

const (
	// DecisionKeep leaves the subscription in place.
	DecisionKeep Decision = "keep"

	// DecisionDrop marks the subscription for removal; the push
	// service said it no longer exists.
	DecisionDrop Decision = "drop"

	// DecisionRetry keeps the subscription and marks the message
	// worth re-sending.
	DecisionRetry Decision = "retry"
)

// StatusMissingKeys extends the delivery statuses for an outcome that
// never reaches the wire: the subscription has no usable key pair, so
// an encrypted payload cannot be built for it.
const StatusMissingKeys = delivery.Status("missing_keys")

// Decide maps a delivery outcome to a Decision. Only the push service
// reporting the subscription gone justifies dropping it; payload and
// request errors are application bugs that removing the subscription
// would just hide.
func Decide(status delivery.Status) Decision {
	switch status {
	case delivery.StatusGone:
		return DecisionDrop
	case delivery.StatusTransient:
		return DecisionRetry
	default:
		return DecisionKeep
	}
}
