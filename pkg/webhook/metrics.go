package webhook

import "time"

// Metrics defines the interface for tracking webhook engine operations.
type Metrics interface {
	// RecordEvent records a dispatch outcome ("completed", "failed",
	// "dead_letter", "short_circuit") for a provider/event type pair.
	RecordEvent(provider, eventType, outcome string)

	// RecordProcessingDuration records how long a handler ran.
	RecordProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordRetryScheduled records a retry being scheduled with its delay.
	RecordRetryScheduled(provider string, attempt int, delay time.Duration)

	// RecordDeadLetter records an event escalating to the DLQ.
	RecordDeadLetter(provider, eventType string)

	// RecordReclaimed records events reclaimed by the stuck-processing watchdog.
	RecordReclaimed(count int)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordEvent(provider, eventType, outcome string)                        {}
func (n *NoopMetrics) RecordProcessingDuration(provider, eventType string, d time.Duration)   {}
func (n *NoopMetrics) RecordRetryScheduled(provider string, attempt int, delay time.Duration) {}
func (n *NoopMetrics) RecordDeadLetter(provider, eventType string)                            {}
func (n *NoopMetrics) RecordReclaimed(count int)                                              {}
