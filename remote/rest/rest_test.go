package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/readcache/remote"
	"github.com/jonwraymond/readcache/resilience"
)

func newTestSource(t *testing.T, handler http.HandlerFunc) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	src, err := New(Config{
		BaseURL:    srv.URL,
		APIKey:     "anon-key",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return src
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrMissingBaseURL)
}

func TestLatest_ReturnsNewestValue(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/pieces", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "updated_at", q.Get("select"))
		assert.Equal(t, "updated_at.desc", q.Get("order"))
		assert.Equal(t, "1", q.Get("limit"))
		assert.Equal(t, "not.is.null", q.Get("updated_at"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"updated_at":"2024-05-01T12:00:00+00:00"}]`))
	})

	v, ok, err := src.Latest(context.Background(), "pieces", remote.ColumnUpdatedAt)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2024-05-01T12:00:00Z", v)
}

func TestLatest_EmptyCollection(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	v, ok, err := src.Latest(context.Background(), "poets", remote.ColumnCreatedAt)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestLatest_UnsupportedColumn(t *testing.T) {
	for _, code := range []string{"42703", "PGRST204"} {
		t.Run(code, func(t *testing.T) {
			src := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"code":"` + code + `","message":"column pieces.updated_at does not exist"}`))
			})

			_, _, err := src.Latest(context.Background(), "pieces", remote.ColumnUpdatedAt)
			require.ErrorIs(t, err, remote.ErrUnsupportedColumn)

			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
		})
	}
}

func TestLatest_OtherErrorsAreNotSchemaSignals(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`column updated_at does not exist`))
	})

	_, _, err := src.Latest(context.Background(), "pieces", remote.ColumnUpdatedAt)
	require.Error(t, err)
	assert.NotErrorIs(t, err, remote.ErrUnsupportedColumn, "error text must not be sniffed")
}

func TestLatest_RejectsInvalidIdentifiers(t *testing.T) {
	var calls atomic.Int32
	src := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	})

	_, _, err := src.Latest(context.Background(), "pieces?select=*", remote.ColumnUpdatedAt)
	assert.ErrorIs(t, err, remote.ErrInvalidIdentifier)
	assert.Zero(t, calls.Load())
}

func TestLatest_CircuitIgnoresUnsupportedColumn(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"42703","message":"missing"}`))
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		Threshold: 1,
		Counts: func(err error) bool {
			return !errors.Is(err, remote.ErrUnsupportedColumn)
		},
	})
	src, err := New(Config{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Executor:   resilience.NewExecutor(resilience.WithCircuitBreaker(cb)),
	})
	require.NoError(t, err)

	for range 3 {
		_, _, err := src.Latest(context.Background(), "poets", remote.ColumnUpdatedAt)
		require.ErrorIs(t, err, remote.ErrUnsupportedColumn)
	}
	assert.Equal(t, resilience.StateClosed, cb.State())
	assert.EqualValues(t, 3, calls.Load())
}

func TestLatest_ServerErrorOpensCircuit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker(resilience.BreakerConfig{Threshold: 2})
	src, err := New(Config{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Executor:   resilience.NewExecutor(resilience.WithCircuitBreaker(cb)),
	})
	require.NoError(t, err)

	for range 2 {
		_, _, err := src.Latest(context.Background(), "pieces", remote.ColumnUpdatedAt)
		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	}

	_, _, err = src.Latest(context.Background(), "pieces", remote.ColumnUpdatedAt)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.EqualValues(t, 2, calls.Load())
}

func TestLatest_DefaultExecutorRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	src := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[{"updated_at":"2024-05-01T12:00:00Z"}]`))
	})

	v, ok, err := src.Latest(context.Background(), "pieces", remote.ColumnUpdatedAt)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2024-05-01T12:00:00Z", v)
	assert.EqualValues(t, 2, calls.Load())
}

func TestLatest_DefaultExecutorDoesNotRetryDefiniteAnswers(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unsupported column", body: `{"code":"42703","message":"missing"}`},
		{name: "bad request", body: `{"code":"PGRST100","message":"parse error"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			src := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(tt.body))
			})

			_, _, err := src.Latest(context.Background(), "pieces", remote.ColumnUpdatedAt)
			require.Error(t, err)
			assert.EqualValues(t, 1, calls.Load())
		})
	}
}

func TestTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "transport", err: errors.New("connection reset"), want: true},
		{name: "server error", err: &StatusError{StatusCode: http.StatusBadGateway}, want: true},
		{name: "throttled", err: &StatusError{StatusCode: http.StatusTooManyRequests}, want: true},
		{name: "client error", err: &StatusError{StatusCode: http.StatusNotFound}, want: false},
		{name: "unsupported column", err: fmt.Errorf("%w: x", remote.ErrUnsupportedColumn), want: false},
		{name: "canceled", err: context.Canceled, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, transient(tt.err))
		})
	}
}

func TestFetch_ReturnsRows(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/pieces", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "*", q.Get("select"))
		assert.Equal(t, "eq.7", q.Get("poet_id"))
		assert.Equal(t, "20", q.Get("limit"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))

		_, _ = w.Write([]byte(`[{"id":1,"poet_id":7},{"id":2,"poet_id":7}]`))
	})

	rows, err := src.Fetch(context.Background(), "pieces", remote.Query{
		Filters: map[string]string{"poet_id": "7"},
		Limit:   20,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.JSONEq(t, `{"id":2,"poet_id":7}`, string(rows[1]))
}

func TestFetch_RejectsUnsafeIdentifiers(t *testing.T) {
	var calls atomic.Int32
	src := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := src.Fetch(context.Background(), "pieces?select=secret", remote.Query{})
	assert.ErrorIs(t, err, remote.ErrInvalidIdentifier)
	_, err = src.Fetch(context.Background(), "pieces", remote.Query{Filters: map[string]string{"a&b": "1"}})
	assert.ErrorIs(t, err, remote.ErrInvalidIdentifier)
	assert.Zero(t, calls.Load())
}

func TestFetch_StatusError(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"42P01","message":"relation does not exist"}`))
	})

	_, err := src.Fetch(context.Background(), "ghosts", remote.Query{})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}
