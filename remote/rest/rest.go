// Package rest probes collection freshness through a PostgREST-style HTTP API.
//
// A probe for column c of collection t is
//
//	GET {BaseURL}/rest/v1/t?select=c&c=not.is.null&order=c.desc&limit=1
//
// sent with the apikey header. The API reports a missing column with a JSON
// error body whose code is 42703 (PostgreSQL) or PGRST204 (schema cache).
//
// Fetch reads rows with equality filters:
//
//	GET {BaseURL}/rest/v1/t?select=*&k=eq.v&limit=n
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jonwraymond/readcache/remote"
	"github.com/jonwraymond/readcache/resilience"
)

// Error codes that mean "column does not exist".
const (
	codeUndefinedColumn = "42703"
	codeSchemaColumn    = "PGRST204"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// ErrMissingBaseURL is returned by New without a base URL.
var ErrMissingBaseURL = errors.New("rest: base URL is required")

// StatusError is a non-2xx response from the API.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("rest: status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("rest: status %d", e.StatusCode)
}

// Config configures a Source.
type Config struct {
	// BaseURL is the API root, e.g. https://project.example.co.
	BaseURL string

	// APIKey is sent as the apikey header and as a bearer token.
	APIKey string

	// HTTPClient performs requests.
	// Default: a client with an otelhttp transport and a 10 second timeout
	HTTPClient *http.Client

	// Executor guards each probe.
	// Default: DefaultExecutor()
	Executor *resilience.Executor
}

// Source implements remote.Source over HTTP.
type Source struct {
	base     *url.URL
	apiKey   string
	client   *http.Client
	executor *resilience.Executor
}

// New creates a Source.
func New(config Config) (*Source, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, ErrMissingBaseURL
	}
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("rest: invalid base URL: %w", err)
	}

	// Apply defaults
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "remote.probe " + r.URL.Path
				}),
			),
			Timeout: 10 * time.Second,
		}
	}
	if config.Executor == nil {
		config.Executor = DefaultExecutor()
	}

	return &Source{
		base:     base,
		apiKey:   config.APIKey,
		client:   config.HTTPClient,
		executor: config.Executor,
	}, nil
}

// DefaultExecutor returns the executor used when Config.Executor is nil.
// Transient failures are retried up to three times. Unsupported-column
// answers are neither retried nor held against the circuit breaker.
func DefaultExecutor() *resilience.Executor {
	return resilience.NewExecutor(
		resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:        20,
			Burst:       10,
			WaitOnLimit: true,
		})),
		resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.BreakerConfig{
			Threshold: 5,
			Cooldown:  30 * time.Second,
			Counts: func(err error) bool {
				return !errors.Is(err, remote.ErrUnsupportedColumn)
			},
		})),
		resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     time.Second,
			Jitter:       true,
			RetryIf:      transient,
		})),
		resilience.WithTimeout(5*time.Second),
	)
}

// transient reports whether a failed request may succeed when repeated:
// transport failures, timeouts, 429 and 5xx responses.
func transient(err error) bool {
	if errors.Is(err, remote.ErrUnsupportedColumn) || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	return true
}

// Latest returns the newest non-null value of column in collection.
func (s *Source) Latest(ctx context.Context, collection, column string) (string, bool, error) {
	if !remote.ValidIdentifier(collection) || !remote.ValidIdentifier(column) {
		return "", false, fmt.Errorf("%w: %q.%q", remote.ErrInvalidIdentifier, collection, column)
	}

	var (
		value string
		found bool
	)
	err := s.executor.Execute(ctx, func(ctx context.Context) error {
		v, ok, err := s.probe(ctx, collection, column)
		if err != nil {
			return err
		}
		value, found = v, ok
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

func (s *Source) probe(ctx context.Context, collection, column string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.probeURL(collection, column), nil)
	if err != nil {
		return "", false, fmt.Errorf("rest: build request: %w", err)
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("rest: probe %s.%s: %w", collection, column, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", false, statusError(resp, collection, column)
	}

	var rows []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return "", false, fmt.Errorf("rest: decode %s.%s: %w", collection, column, err)
	}
	if len(rows) == 0 {
		return "", false, nil
	}

	raw, present := rows[0][column]
	if !present {
		return "", false, fmt.Errorf("%w: %s.%s missing from response", remote.ErrUnsupportedColumn, collection, column)
	}
	switch v := raw.(type) {
	case nil:
		return "", false, nil
	case string:
		return remote.NormalizeTimestamp(v), true, nil
	default:
		return fmt.Sprint(v), true, nil
	}
}

// Fetch returns up to q.Limit rows of collection as JSON objects.
func (s *Source) Fetch(ctx context.Context, collection string, q remote.Query) ([]json.RawMessage, error) {
	if !remote.ValidIdentifier(collection) {
		return nil, fmt.Errorf("%w: %q", remote.ErrInvalidIdentifier, collection)
	}
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}

	var rows []json.RawMessage
	err = s.executor.Execute(ctx, func(ctx context.Context) error {
		var err error
		rows, err = s.fetch(ctx, collection, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Source) fetch(ctx context.Context, collection string, q remote.Query) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.fetchURL(collection, q), nil)
	if err != nil {
		return nil, fmt.Errorf("rest: build request: %w", err)
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rest: fetch %s: %w", collection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp, collection, "*")
	}

	var rows []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("rest: decode %s: %w", collection, err)
	}
	return rows, nil
}

func (s *Source) fetchURL(collection string, q remote.Query) string {
	u := s.collectionURL(collection)

	v := url.Values{}
	v.Set("select", "*")
	for _, column := range q.Columns() {
		v.Set(column, "eq."+q.Filters[column])
	}
	v.Set("limit", strconv.Itoa(q.Limit))
	u.RawQuery = v.Encode()
	return u.String()
}

func (s *Source) collectionURL(collection string) url.URL {
	u := *s.base
	u.Path = strings.TrimRight(u.Path, "/") + "/rest/v1/" + collection
	return u
}

func (s *Source) authorize(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
}

func (s *Source) probeURL(collection, column string) string {
	u := s.collectionURL(collection)

	q := url.Values{}
	q.Set("select", column)
	q.Set(column, "not.is.null")
	q.Set("order", column+".desc")
	q.Set("limit", "1")
	u.RawQuery = q.Encode()
	return u.String()
}

func statusError(resp *http.Response, collection, column string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var apiErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &apiErr)

	statusErr := &StatusError{
		StatusCode: resp.StatusCode,
		Code:       apiErr.Code,
		Message:    apiErr.Message,
	}
	if apiErr.Code == codeUndefinedColumn || apiErr.Code == codeSchemaColumn {
		return fmt.Errorf("%w: %s.%s: %w", remote.ErrUnsupportedColumn, collection, column, statusErr)
	}
	return statusErr
}

var (
	_ remote.Source  = (*Source)(nil)
	_ remote.Fetcher = (*Source)(nil)
)
