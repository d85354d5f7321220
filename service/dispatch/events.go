package dispatch

import (
	"log/slog"
	"time"

	"herald/service/delivery"
)

// Events receives dispatch lifecycle callbacks. Implementations must
// be safe for concurrent use; Attempted, Delivered, Failed and
// Invalidated fire from worker goroutines.
type Events interface {
	Attempted(subscriberID string)
	Delivered(subscriberID string)
	Failed(subscriberID string, status delivery.Status)
	Invalidated(subscriberID string)
	BatchDone(batch *BatchResult)
}

// LogEvents emits each event as a structured log record. It is the
// default sink when no other Events implementation is installed.
type LogEvents struct {
	Logger *slog.Logger
}

func (l *LogEvents) Attempted(subscriberID string) {
	l.Logger.Debug("Push attempt", "subscriberId", subscriberID)
}

func (l *LogEvents) Delivered(subscriberID string) {
	l.Logger.Debug("Push delivered", "subscriberId", subscriberID)
}

func (l *LogEvents) Failed(subscriberID string, status delivery.Status) {
	l.Logger.Warn("Push failed", "subscriberId", subscriberID, "status", string(status))
}

func (l *LogEvents) Invalidated(subscriberID string) {
	l.Logger.Info("Subscription invalid", "subscriberId", subscriberID)
}

func (l *LogEvents) BatchDone(batch *BatchResult) {
	l.Logger.Info("Dispatch complete",
		"total", batch.Total,
		"delivered", batch.Delivered,
		"transient", batch.Transient,
		"permanent", batch.Permanent,
		"invalid", len(batch.Invalid),
		"elapsed", batch.Elapsed.Round(time.Millisecond).String(),
	)
}
