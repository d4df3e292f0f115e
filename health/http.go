package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// Report is the body of GET /health.
type Report struct {
	Status    Status                 `json:"status"`
	CheckedAt time.Time              `json:"checked_at"`
	Checks    map[string]CheckReport `json:"checks,omitempty"`
}

// CheckReport is the body of GET /health/{name} and one entry of Report.
type CheckReport struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Took    string         `json:"took,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func reportOf(r Result) CheckReport {
	out := CheckReport{
		Status:  r.Status,
		Message: r.Message,
		Details: r.Details,
	}
	if r.Took > 0 {
		out.Took = r.Took.String()
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

// httpStatus maps a status to a response code. A degraded cache still
// serves reads, so it stays 200.
func httpStatus(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// RegisterHandlers mounts the health endpoints on mux:
//
//	GET /healthz        process liveness, always "ok"
//	GET /readyz         overall status as plain text
//	GET /health         every check as JSON
//	GET /health/{name}  one check as JSON
func RegisterHandlers(mux *http.ServeMux, agg *Aggregator) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		status := OverallStatus(agg.CheckAll(r.Context()))
		writeText(w, httpStatus(status), status.String())
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		results := agg.CheckAll(r.Context())
		report := Report{
			Status:    OverallStatus(results),
			CheckedAt: time.Now().UTC(),
			Checks:    make(map[string]CheckReport, len(results)),
		}
		for name, result := range results {
			report.Checks[name] = reportOf(result)
		}
		writeJSON(w, httpStatus(report.Status), report)
	})

	mux.HandleFunc("GET /health/{name}", func(w http.ResponseWriter, r *http.Request) {
		result, err := agg.Check(r.Context(), r.PathValue("name"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, httpStatus(result.Status), reportOf(result))
	})
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
