package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestMux(checkers ...Checker) *http.ServeMux {
	agg := NewAggregator(AggregatorConfig{})
	for _, c := range checkers {
		agg.Register(c)
	}
	mux := http.NewServeMux()
	RegisterHandlers(mux, agg)
	return mux
}

func serve(mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLivenessHandler(t *testing.T) {
	rec := serve(newTestMux(fixed("x", Unhealthy("down", nil))), "/healthz")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("/healthz = %d %q, want 200 ok", rec.Code, rec.Body.String())
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		result     Result
		wantStatus int
		wantBody   string
	}{
		{name: "healthy", result: Healthy(""), wantStatus: http.StatusOK, wantBody: "healthy"},
		{name: "degraded", result: Degraded(""), wantStatus: http.StatusOK, wantBody: "degraded"},
		{name: "unhealthy", result: Unhealthy("", nil), wantStatus: http.StatusServiceUnavailable, wantBody: "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newTestMux(fixed("x", tt.result)), "/readyz")
			if rec.Code != tt.wantStatus || rec.Body.String() != tt.wantBody {
				t.Errorf("/readyz = %d %q, want %d %q", rec.Code, rec.Body.String(), tt.wantStatus, tt.wantBody)
			}
		})
	}
}

func TestDetailedHandler(t *testing.T) {
	mux := newTestMux(
		NewUsageChecker(fixedUsage{used: 90, limit: 100}, UsageCheckerConfig{}),
		NewActivityChecker("invalidation", activeFlag(true)),
	)
	rec := serve(mux, "/health")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp Report
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != StatusDegraded {
		t.Errorf("Status = %v, want degraded", resp.Status)
	}
	if resp.Checks["cache_usage"].Status != StatusDegraded || resp.Checks["invalidation"].Status != StatusHealthy {
		t.Errorf("Checks = %+v", resp.Checks)
	}
	if resp.CheckedAt.IsZero() {
		t.Error("CheckedAt empty")
	}
}

func TestSingleCheckHandler(t *testing.T) {
	mux := newTestMux(fixed("sqlite", Unhealthy("locked", ErrUnhealthy)))

	rec := serve(mux, "/health/sqlite")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	var resp CheckReport
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != ErrUnhealthy.Error() || resp.Message != "locked" {
		t.Errorf("response = %+v", resp)
	}

	if rec := serve(mux, "/health/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d, want 404", rec.Code)
	}
}
