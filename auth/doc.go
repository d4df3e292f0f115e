// Package auth resolves who is reading.
//
// Cached views marked per-identity are scoped to the principal found in the
// request context. Session tokens (JWT) identify readers; API keys identify
// operators of the cache daemon. A request without credentials carries the
// anonymous identity, whose entries are still scoped to "anonymous" and
// never leak into a signed-in reader's view.
package auth
