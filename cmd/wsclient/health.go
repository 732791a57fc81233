package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/resilientws/internal/config"
	"github.com/rickgao/resilientws/internal/connection"
	"github.com/rickgao/resilientws/internal/metrics"
	"github.com/rickgao/resilientws/internal/recorder"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// healthDeps are the components /health reports on. db and rec may be nil.
type healthDeps struct {
	client *connection.Client
	db     pinger
	rec    *recorder.Recorder
}

type healthResponse struct {
	Status     string         `json:"status"`
	Components map[string]any `json:"components"`
}

// newMetrics builds a registry with the runtime collectors and the client
// collector attached to client.
func newMetrics(cfg config.MetricsConfig, client *connection.Client) (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg, cfg.Namespace)
	m.Attach(client)
	return reg, m
}

func newHTTPServer(cfg config.MetricsConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

func newRouter(reg *prometheus.Registry, metricsPath string, deps healthDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler(deps))
	if reg != nil {
		r.Handle(metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	return r
}

func healthHandler(deps healthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := healthResponse{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		c := deps.client
		health.Components["client"] = map[string]any{
			"state":              c.State().String(),
			"url":                c.URL(),
			"session_id":         c.SessionID().String(),
			"reconnect_attempts": c.ReconnectAttempts(),
			"reconnect_interval": c.ReconnectInterval().String(),
		}
		if !c.IsConnected() {
			health.Status = "degraded"
		}

		if deps.db != nil {
			if err := deps.db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["database"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["database"] = "connected"
			}
		}

		if deps.rec != nil {
			stats := deps.rec.Stats()
			health.Components["recorder"] = map[string]any{
				"inserts": stats.Inserts,
				"errors":  stats.Errors,
				"dropped": stats.Dropped,
				"pending": stats.Pending,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	}
}
