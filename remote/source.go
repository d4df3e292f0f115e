// Package remote defines the contract the cache uses to probe a hosted
// backend for collection freshness.
//
// The version oracle never inspects remote error text. Implementations
// translate their backend's "column does not exist" signal into
// ErrUnsupportedColumn and return every other failure as-is.
package remote

import (
	"context"
	"errors"
	"time"
)

// Freshness columns probed by the version oracle, in probe order.
const (
	ColumnUpdatedAt = "updated_at"
	ColumnCreatedAt = "created_at"
)

// ErrUnsupportedColumn is returned when the probed collection has no such column.
var ErrUnsupportedColumn = errors.New("remote: column not supported by collection")

// ErrInvalidIdentifier is returned for collection or column names that cannot
// be used as identifiers.
var ErrInvalidIdentifier = errors.New("remote: invalid identifier")

// Source probes the newest value of a column in a remote collection.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: implementations must honor cancellation/deadlines.
// - Results: (value, true, nil) when a value exists; ("", false, nil) when the
//   column exists but the collection is empty; an error wrapping
//   ErrUnsupportedColumn when the column does not exist.
type Source interface {
	Latest(ctx context.Context, collection, column string) (string, bool, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, collection, column string) (string, bool, error)

// Latest calls f.
func (f SourceFunc) Latest(ctx context.Context, collection, column string) (string, bool, error) {
	return f(ctx, collection, column)
}

// ValidIdentifier reports whether name is a plain identifier: ASCII letters,
// digits and underscores, not starting with a digit.
func ValidIdentifier(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

var _ Source = SourceFunc(nil)

// NormalizeTimestamp rewrites an RFC 3339 timestamp in UTC with nanosecond
// precision so that watermarks from different sources share one encoding.
// Values that do not parse are returned unchanged.
func NormalizeTimestamp(v string) string {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return v
	}
	return t.UTC().Format(time.RFC3339Nano)
}
