package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jonwraymond/readcache/auth"
	"github.com/jonwraymond/readcache/cache"
	"github.com/jonwraymond/readcache/health"
	"github.com/jonwraymond/readcache/observe"
	"github.com/jonwraymond/readcache/remote"
)

// handler routes health probes, the /v1 API and, with the prometheus
// exporter, /metrics. Only /v1 is authenticated.
//
// GET /v1/read/{collection} serves rows through the cache; its query
// parameters are equality filters plus limit. POST /v1/prefetch/{collection}
// takes the same parameters and warms the entry in the background.
func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	health.RegisterHandlers(mux, s.health)
	if s.cfg.MetricsExporter == "prometheus" {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	api := http.NewServeMux()
	api.HandleFunc("GET /v1/stats", s.handleStats)
	api.HandleFunc("GET /v1/read/{collection}", s.handleRead)
	api.HandleFunc("POST /v1/prefetch/{collection}", s.handlePrefetch)
	api.Handle("POST /v1/invalidate/{collection}", auth.RequireRole(auth.RoleOperator, http.HandlerFunc(s.handleInvalidate)))
	api.Handle("POST /v1/clear", auth.RequireRole(auth.RoleOperator, http.HandlerFunc(s.handleClear)))
	mux.Handle("/v1/", auth.Middleware(s.authenticator(), s.cfg.AllowAnonymous)(api))

	return otelhttp.NewHandler(mux, "readcached",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func (s *server) authenticator() auth.Authenticator {
	ring := auth.NewKeyRing()
	for i, key := range s.cfg.OperatorKeys {
		ring.Add(key, fmt.Sprintf("operator-%d", i+1), time.Time{}, auth.RoleOperator)
	}
	members := []auth.Authenticator{auth.NewAPIKeyAuthenticator("", ring)}
	if s.cfg.JWTSecret != "" {
		members = append(members, auth.NewJWTAuthenticator(auth.JWTConfig{
			Secret:   []byte(s.cfg.JWTSecret),
			Issuer:   s.cfg.JWTIssuer,
			Audience: s.cfg.JWTAudience,
		}))
	}
	return auth.Chain(members...)
}

type statsResponse struct {
	Entries    int        `json:"entries"`
	TotalBytes int64      `json:"total_bytes"`
	LimitBytes int64      `json:"limit_bytes"`
	Oldest     *time.Time `json:"oldest,omitempty"`
	Newest     *time.Time `json:"newest,omitempty"`
	Feed       string     `json:"feed,omitempty"`
	Principal  string     `json:"principal,omitempty"`
}

func newStatsResponse(stats cache.Stats, store *cache.Store) statsResponse {
	_, limit := store.Usage()
	resp := statsResponse{Entries: stats.Count, TotalBytes: stats.TotalBytes, LimitBytes: limit}
	if !stats.Oldest.IsZero() {
		resp.Oldest = &stats.Oldest
		resp.Newest = &stats.Newest
	}
	return resp
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := newStatsResponse(s.store.Stats(r.Context()), s.store)
	resp.Principal = auth.PrincipalFromContext(r.Context())
	if s.channel != nil {
		resp.Feed = s.channel.State().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

type readResponse struct {
	Key  string            `json:"key"`
	Rows []json.RawMessage `json:"rows"`
}

// readRequest is a parsed /v1/read or /v1/prefetch request. Query
// parameters other than limit are equality filters.
type readRequest struct {
	collection string
	query      remote.Query
	key        string
}

func (s *server) parseRead(r *http.Request) (readRequest, error) {
	req := readRequest{collection: r.PathValue("collection")}
	if !remote.ValidIdentifier(req.collection) {
		return readRequest{}, fmt.Errorf("%w: collection %q", remote.ErrInvalidIdentifier, req.collection)
	}

	values := r.URL.Query()
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return readRequest{}, fmt.Errorf("invalid limit %q", raw)
		}
		req.query.Limit = limit
	}
	req.query.Filters = filters(values)

	q, err := req.query.Normalize()
	if err != nil {
		return readRequest{}, err
	}
	req.query = q

	params := map[string]any{"limit": q.Limit}
	for column, value := range q.Filters {
		params[column] = value
	}
	req.key, err = s.keyer.Key(req.collection, params)
	if err != nil {
		return readRequest{}, err
	}
	return req, nil
}

func filters(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for name, vs := range values {
		if name == "limit" || len(vs) == 0 {
			continue
		}
		out[name] = vs[0]
	}
	return out
}

func (s *server) fetchRows(req readRequest) cache.FetchFunc[[]json.RawMessage] {
	return func(ctx context.Context) ([]json.RawMessage, error) {
		return s.rows.Fetch(ctx, req.collection, req.query)
	}
}

func (s *server) handleRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.rows == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no remote source configured"})
		return
	}
	req, err := s.parseRead(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	rows, err := cache.Read(ctx, s.reader, req.key, []string{req.collection}, s.fetchRows(req))
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, remote.ErrInvalidIdentifier) || errors.Is(err, remote.ErrUnsupportedColumn) {
			status = http.StatusBadRequest
		}
		s.logger.Warn(ctx, "read failed", observe.F("cache.key", req.key), observe.F("error", err))
		writeJSON(w, status, map[string]string{"error": "read failed"})
		return
	}
	if rows == nil {
		rows = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, readResponse{Key: req.key, Rows: rows})
}

func (s *server) handlePrefetch(w http.ResponseWriter, r *http.Request) {
	if s.rows == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no remote source configured"})
		return
	}
	req, err := s.parseRead(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	scheduled := cache.Prefetch(r.Context(), s.reader, req.key, []string{req.collection}, s.fetchRows(req))
	writeJSON(w, http.StatusAccepted, map[string]any{"key": req.key, "scheduled": scheduled})
}

func (s *server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	collection := r.PathValue("collection")
	if !remote.ValidIdentifier(collection) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid collection name"})
		return
	}

	var removed int
	if s.channel != nil {
		removed = s.channel.TriggerInvalidation(ctx, collection)
	} else {
		for _, p := range s.fanOut.Patterns(collection) {
			removed += s.store.Invalidate(ctx, p)
		}
	}

	s.logger.Info(ctx, "manual invalidation",
		observe.F("collection", collection),
		observe.F("removed", removed),
		observe.F("principal", auth.PrincipalFromContext(ctx)))
	writeJSON(w, http.StatusOK, map[string]any{"collection": collection, "removed": removed})
}

func (s *server) handleClear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.reader.ClearAll(ctx); err != nil {
		s.logger.Error(ctx, "clear failed", observe.F("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "clear failed"})
		return
	}
	s.logger.Info(ctx, "cache cleared", observe.F("principal", auth.PrincipalFromContext(ctx)))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
