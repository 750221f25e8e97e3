package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/kucoin-stream/internal/session"
)

// sessionView is the subset of *session.Service the HTTP handlers read.
type sessionView interface {
	Stats() session.Stats
	Subscriptions() []session.SubscriptionInfo
}

// newHTTPHandler serves health, debug and metrics endpoints. pool may be nil
// when the recorder is disabled.
func newHTTPHandler(svc sessionView, pool *pgxpool.Pool, gatherer prometheus.Gatherer, metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		stats := svc.Stats()
		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		health.Components["session"] = map[string]any{
			"state":         stats.State.String(),
			"subscriptions": stats.Subscriptions,
			"pending_acks":  stats.PendingAcks,
			"reconnects":    stats.Reconnects,
		}
		switch stats.State {
		case session.StateConnected:
		case session.StateConnecting, session.StateReconnecting:
			health.Status = "degraded"
		default:
			health.Status = "unhealthy"
		}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["timescaledb"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["timescaledb"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		subs := svc.Subscriptions()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count":         len(subs),
			"subscriptions": subs,
			"stats":         svc.Stats(),
		})
	})

	return mux
}
