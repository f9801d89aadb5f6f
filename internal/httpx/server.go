package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	kafkax "github.com/omnia-oms/go-order-ingest/internal/kafka"
	"github.com/omnia-oms/go-order-ingest/internal/lagmon"
)

// HealthChecker reports cached transport state; handlers never trigger broker
// round-trips.
type HealthChecker interface {
	HealthCheck() kafkax.Health
}

// NewRouter builds the ops surface: health, prometheus metrics and, when a
// monitor is attached, the lag report endpoints.
func NewRouter(checks map[string]HealthChecker, monitor *lagmon.Monitor) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", healthHandler(checks))
	r.Handle("/metrics", promhttp.Handler())

	if monitor != nil {
		r.Get("/lag/report", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
				"groups":    monitor.Report(),
			})
		})
		r.Get("/lag/alerts", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"alerts": monitor.Alerts()})
		})
		r.Get("/lag/trends", func(w http.ResponseWriter, req *http.Request) {
			window := time.Hour
			if v := req.URL.Query().Get("minutes"); v != "" {
				if n, err := strconv.Atoi(v); err == nil && n > 0 {
					window = time.Duration(n) * time.Minute
				}
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"window":  window.String(),
				"samples": monitor.Trends(window),
			})
		})
	}
	return r
}

func healthHandler(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		status := http.StatusOK
		out := map[string]any{"status": "ok"}
		deps := map[string]kafkax.Health{}
		for name, c := range checks {
			h := c.HealthCheck()
			deps[name] = h
			if h.Status != "healthy" {
				status = http.StatusServiceUnavailable
				out["status"] = "degraded"
			}
		}
		if len(deps) > 0 {
			out["dependencies"] = deps
		}
		writeJSON(w, status, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
