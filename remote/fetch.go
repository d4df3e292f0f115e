package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Row limits for Fetch.
const (
	DefaultFetchLimit = 100
	MaxFetchLimit     = 1000
)

// Query selects rows from a collection.
type Query struct {
	// Filters match rows whose column equals the value in text form.
	Filters map[string]string

	// Limit caps the rows returned.
	// Default: DefaultFetchLimit
	Limit int
}

// Normalize validates the filter columns and bounds Limit.
func (q Query) Normalize() (Query, error) {
	for column := range q.Filters {
		if !ValidIdentifier(column) {
			return Query{}, fmt.Errorf("%w: filter column %q", ErrInvalidIdentifier, column)
		}
	}
	if q.Limit <= 0 {
		q.Limit = DefaultFetchLimit
	}
	if q.Limit > MaxFetchLimit {
		q.Limit = MaxFetchLimit
	}
	return q, nil
}

// Columns returns the filter columns in sorted order.
func (q Query) Columns() []string {
	columns := make([]string, 0, len(q.Filters))
	for column := range q.Filters {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

// Fetcher reads rows from a remote collection as JSON objects.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: implementations must honor cancellation/deadlines.
// - Errors: an invalid collection or filter column wraps ErrInvalidIdentifier.
type Fetcher interface {
	Fetch(ctx context.Context, collection string, q Query) ([]json.RawMessage, error)
}
