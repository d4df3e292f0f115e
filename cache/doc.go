// Package cache provides the persistent, size-bounded read cache.
//
// A Store keeps serialized entries in a Backend (memory or SQLite) and
// enforces TTL expiry, per-identity scoping, pattern invalidation and an
// aggregate size bound with oldest-first eviction. A Registry maps key
// namespaces to policies. A Reader is the read-through path used by view
// code: it serves fresh entries, checks remote watermarks when the policy
// asks for it, and repopulates the store after a remote fetch.
//
// Keys have the form <namespace>[:<sorted params>], for example
//
//	pieces:language="Urdu"&limit=20
//
// and are stored under a configurable prefix.
package cache
