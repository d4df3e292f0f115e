package invalidation

import "errors"

// Sentinel errors for invalidation operations.
var (
	// ErrNilFeed is returned by New without a feed.
	ErrNilFeed = errors.New("invalidation: feed is required")

	// ErrNilInvalidator is returned by New without an invalidator.
	ErrNilInvalidator = errors.New("invalidation: invalidator is required")

	// ErrFeedClosed is reported when a subscription ends without an error.
	ErrFeedClosed = errors.New("invalidation: feed closed")

	// ErrInvalidEvent is returned for notifications without a collection.
	ErrInvalidEvent = errors.New("invalidation: event has no collection")
)
