// Package invalidation keeps the cache in step with remote writes.
//
// A Channel subscribes to a Feed of mutation notifications, one per written
// collection, and turns each notification into Store invalidations through a
// FanOut table. Collections whose data is denormalized into other cached
// views fan out to several namespaces; a collection without an entry
// invalidates only its own namespace.
//
// # Lifecycle
//
//	Disconnected -> Connecting -> Subscribed
//	Subscribed   -> Disconnected (feed error, then reconnect with backoff)
//	any          -> Closed       (Stop; never reconnects)
//
// Reconnects use exponential backoff with a bounded number of attempts.
// When the budget is exhausted the Channel stays Disconnected and cached
// data falls back to TTL-only freshness until Start is called again or an
// invalidation is triggered by hand.
//
// # Feeds
//
// Subpackages provide feeds over PostgreSQL LISTEN/NOTIFY (pgnotify) and a
// websocket change stream (wsfeed).
package invalidation
