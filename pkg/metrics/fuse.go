package metrics

import "time"

// FUSEMetrics provides observability for the FUSE adapter.
type FUSEMetrics interface {
	// RecordRequest records a completed kernel request and its errno
	// (0 on success).
	RecordRequest(operation string, duration time.Duration, errno uint32)

	// RecordRequestStart increments the in-flight request gauge.
	RecordRequestStart(operation string)

	// RecordRequestEnd decrements the in-flight request gauge.
	RecordRequestEnd(operation string)

	// RecordThrottled counts a request delayed by the rate limiter.
	RecordThrottled()
}

// NewNoopFUSEMetrics returns a FUSEMetrics that discards everything.
func NewNoopFUSEMetrics() FUSEMetrics {
	return noopFUSEMetrics{}
}

type noopFUSEMetrics struct{}

func (noopFUSEMetrics) RecordRequest(string, time.Duration, uint32) {}
func (noopFUSEMetrics) RecordRequestStart(string)                  {}
func (noopFUSEMetrics) RecordRequestEnd(string)                    {}
func (noopFUSEMetrics) RecordThrottled()                           {}
