package metrics

import "time"

// ContentMetrics provides observability for content store backends.
//
// Backends are instrumented from the outside by content.Instrument, so the
// same metrics cover memory, filesystem, KV and S3 stores.
type ContentMetrics interface {
	// ObserveOperation records a completed content store call.
	//
	// Parameters:
	//   - operation: "create", "read", "write", "truncate" or "destroy"
	//   - duration: Time taken by the backend
	//   - err: Error if the call failed, nil if successful
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records bytes moved by read and write calls.
	RecordBytes(operation string, bytes int)
}

// NewNoopContentMetrics returns a ContentMetrics that discards everything.
func NewNoopContentMetrics() ContentMetrics {
	return noopContentMetrics{}
}

type noopContentMetrics struct{}

func (noopContentMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopContentMetrics) RecordBytes(string, int)                      {}
