// Package metrics provides custom Prometheus metrics for the curation tool.
package metrics

// Recorder defines a minimal interface for recording metrics.
// Components depend on it instead of a concrete collector so tests can
// substitute TestRecorder.
type Recorder interface {
	// RecordOperation records an operation with its status ("success", "error").
	// Database operations use the "operation:table" form, e.g. "db_query:records".
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its type.
	// The errorType parameter categorizes the error (e.g., "busy", "duplicate", "other").
	RecordError(operation, errorType string)
}

// NopRecorder discards everything. It is the default when no metrics are configured.
type NopRecorder struct{}

func (NopRecorder) RecordOperation(string, string) {}
func (NopRecorder) RecordDuration(string, float64) {}
func (NopRecorder) RecordError(string, string) {}
