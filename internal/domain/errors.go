package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound                = errors.New("not found")
	ErrNoConfigurationSelected = errors.New("no indexing configuration selected")
	ErrUnknownConfiguration    = errors.New("unknown indexing configuration")
	ErrInvalidSite             = errors.New("site must not be empty")
	ErrInvalidMaxCount         = errors.New("max count must be between 1 and 100")
	ErrItemNotClaimed          = errors.New("queue item is not leased by this owner")
	ErrQueueFull               = errors.New("work queue is at capacity, try again later")

	// ErrDispatchInterrupted means the caller went away before the item's
	// outcome was known. The item is released, not marked failed.
	ErrDispatchInterrupted = errors.New("dispatch interrupted")
)
