// Package metrics provides constants used across metric definitions.
package metrics

// Operation type constants used in switch statements across metrics.
const (
	// OpDbQuery represents database query operations.
	OpDbQuery = "db_query"
	// OpDbInsert represents database insert and upsert operations.
	OpDbInsert = "db_insert"
	// OpDbUpdate represents database update operations.
	OpDbUpdate = "db_update"
	// OpTransaction represents write transactions.
	OpTransaction = "transaction"
	// OpSnapshot represents read snapshots.
	OpSnapshot = "snapshot"
	// OpLockWait represents time spent waiting for a cascade scope lock.
	OpLockWait = "lock_wait"
)

// Label values shared by several collectors.
const (
	// LabelSuccess marks a completed operation.
	LabelSuccess = "success"
	// LabelError marks a failed operation.
	LabelError = "error"
	// LabelHit marks a cache hit.
	LabelHit = "hit"
	// LabelMiss marks a cache miss.
	LabelMiss = "miss"
	// LabelCommit is the operation label for transaction commits.
	LabelCommit = "commit"
	// LabelRead is the operation label for read snapshots.
	LabelRead = "read"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~1s range).
	BucketStart1ms = 0.001
	// BucketStart100us is the starting bucket for 0.1ms histograms.
	BucketStart100us = 0.0001
	// BucketStart1 is the starting bucket for count histograms.
	BucketStart1 = 1.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)

// String parsing constants.
const (
	// SplitPartsCount is the expected number of parts when splitting operation strings.
	SplitPartsCount = 2
)
