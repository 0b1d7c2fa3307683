package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/sentry_relay/internal/metrics"
)

type APIConfig struct {
	HeartbeatInterval time.Duration
	// IdleTimeout bounds every write to a streaming client.
	IdleTimeout time.Duration
}

// NewHTTPMux serves the dashboard API, the probes and, when metricsHandler is
// non-nil, the Prometheus endpoint.
func NewHTTPMux(bus *Bus, cfg APIConfig, probes *HealthReporter, metricsHandler http.Handler, log *zap.Logger, m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /sensors/stream", NewStreamHandler(bus, cfg, log, m))

	// GET /sensors: latest reading of every sensor, in first-seen order
	mux.HandleFunc("GET /sensors", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, bus.Snapshot())
	})

	mux.HandleFunc("GET /sensors/{id}", func(w http.ResponseWriter, r *http.Request) {
		reading, ok := bus.Get(r.PathValue("id"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "sensor not found"})
			return
		}
		writeJSON(w, http.StatusOK, reading)
	})

	if probes != nil {
		mux.Handle("/healthz", probes.Healthz())
		mux.Handle("/readyz", probes.Readyz())
	}
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	return mux
}

// NewStreamHandler upgrades the request to a server-sent event stream and
// runs one Session until the client goes away.
func NewStreamHandler(bus *Bus, cfg APIConfig, log *zap.Logger, m *metrics.Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		out := newSSEWriter(w, cfg.IdleTimeout)
		// push the headers before the first event
		if err := http.NewResponseController(w).Flush(); err != nil {
			log.Debug("flush not supported", zap.Error(err))
		}

		s := NewSession(bus, out, SessionConfig{HeartbeatInterval: cfg.HeartbeatInterval},
			log.With(zap.String("remote", r.RemoteAddr)), m)
		_ = s.Run(r.Context())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
