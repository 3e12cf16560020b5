package models

import "errors"

// Error taxonomy for the matching pipeline. Callers classify with errors.Is;
// user-facing layers map these to short messages and keep provider detail in
// logs only.
var (
	// ErrValidation marks bad or missing input. Not retried.
	ErrValidation = errors.New("invalid input")
	// ErrNoReferenceData marks an empty price-list catalog.
	ErrNoReferenceData = errors.New("no reference price data")
	// ErrProviderUnavailable marks an embedding provider failure after
	// retries were exhausted. Retryable only by resubmission.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
	// ErrCancelled marks client-initiated cancellation. Terminal, but not
	// alert-worthy.
	ErrCancelled = errors.New("cancelled")
	// ErrBusy marks capacity exhaustion, such as a full job queue. The
	// request was well formed and can be retried later.
	ErrBusy = errors.New("busy")
	// ErrPersistence marks a storage write failure.
	ErrPersistence = errors.New("persistence failure")
	// ErrNotFound marks a missing job or batch.
	ErrNotFound = errors.New("not found")
	// ErrJobNotReady marks an export attempt on a job that has not completed.
	ErrJobNotReady = errors.New("job not ready")
)
