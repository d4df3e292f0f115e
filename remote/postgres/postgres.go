// Package postgres probes collection freshness and reads rows directly in
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonwraymond/readcache/remote"
)

// undefinedColumn is the SQLSTATE for a reference to a missing column.
const undefinedColumn pq.ErrorCode = "42703"

// Source implements remote.Source over a PostgreSQL database.
type Source struct {
	db *sqlx.DB
}

// Open connects to dsn and returns a Source with a small connection pool.
func Open(dsn string) (*Source, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to connect: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Source{db: db}, nil
}

// New wraps an existing connection.
func New(db *sqlx.DB) *Source {
	return &Source{db: db}
}

// Close closes the database connection.
func (s *Source) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Source) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Latest returns the greatest non-null value of column in collection,
// formatted as an RFC 3339 UTC timestamp.
func (s *Source) Latest(ctx context.Context, collection, column string) (string, bool, error) {
	query, err := latestQuery(collection, column)
	if err != nil {
		return "", false, err
	}

	var latest sql.NullTime
	err = s.db.GetContext(ctx, &latest, query)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(collection, column, err)
	}
	if !latest.Valid {
		return "", false, nil
	}
	return remote.NormalizeTimestamp(latest.Time.Format(time.RFC3339Nano)), true, nil
}

// Fetch returns up to q.Limit rows of collection as JSON objects.
func (s *Source) Fetch(ctx context.Context, collection string, q remote.Query) ([]json.RawMessage, error) {
	query, args, err := fetchQuery(collection, q)
	if err != nil {
		return nil, err
	}

	var rows []string
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("postgres: fetch %s: %w", collection, err)
	}

	out := make([]json.RawMessage, len(rows))
	for i, row := range rows {
		out[i] = json.RawMessage(row)
	}
	return out, nil
}

func fetchQuery(collection string, q remote.Query) (string, []any, error) {
	if !remote.ValidIdentifier(collection) {
		return "", nil, fmt.Errorf("%w: %q", remote.ErrInvalidIdentifier, collection)
	}
	q, err := q.Normalize()
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, `SELECT row_to_json(t)::text FROM %s AS t`, pq.QuoteIdentifier(collection))
	args := make([]any, 0, len(q.Filters))
	for i, column := range q.Columns() {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		args = append(args, q.Filters[column])
		fmt.Fprintf(&b, `t.%s::text = $%d`, pq.QuoteIdentifier(column), len(args))
	}
	fmt.Fprintf(&b, ` LIMIT %d`, q.Limit)
	return b.String(), args, nil
}

func latestQuery(collection, column string) (string, error) {
	if !remote.ValidIdentifier(collection) || !remote.ValidIdentifier(column) {
		return "", fmt.Errorf("%w: %q.%q", remote.ErrInvalidIdentifier, collection, column)
	}
	col := pq.QuoteIdentifier(column)
	return fmt.Sprintf(`SELECT %s FROM %s WHERE %s IS NOT NULL ORDER BY %s DESC LIMIT 1`,
		col, pq.QuoteIdentifier(collection), col, col), nil
}

// classify maps the undefined-column SQLSTATE to remote.ErrUnsupportedColumn.
func classify(collection, column string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == undefinedColumn {
		return fmt.Errorf("%w: %s.%s", remote.ErrUnsupportedColumn, collection, column)
	}
	return fmt.Errorf("postgres: probe %s.%s: %w", collection, column, err)
}

var (
	_ remote.Source  = (*Source)(nil)
	_ remote.Fetcher = (*Source)(nil)
)
