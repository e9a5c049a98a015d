package domain

import "errors"

var (
	// ErrCancelled is returned when the caller's context ends mid-operation.
	// Cache writes made before cancellation are kept.
	ErrCancelled = errors.New("operation cancelled")
	// ErrInvalidArgument is returned for malformed requests.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrBackingStore wraps failures of the backing store. Nothing is cached
	// for the batch that failed.
	ErrBackingStore = errors.New("backing store failure")
)
