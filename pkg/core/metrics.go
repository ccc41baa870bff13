package core

import "time"

// Commit outcomes reported to a MetricsRecorder.
const (
	OutcomeCommitted = "committed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeNoop      = "noop"
)

// MetricsRecorder receives commit and notification measurements.
type MetricsRecorder interface {
	// ObserveCommit records the outcome of one commit attempt and how long it
	// spent inside the serialization region.
	ObserveCommit(mode Mode, outcome string, duration time.Duration)

	// ObserveNotification records one callback (CallbackWillUpdate, CallbackWasUpdated,
	// CallbackWasDeleted) delivered to a subscriber.
	ObserveNotification(callback string, panicked bool)
}

type nopMetrics struct{}

func (nopMetrics) ObserveCommit(Mode, string, time.Duration) {}
func (nopMetrics) ObserveNotification(string, bool) {}
