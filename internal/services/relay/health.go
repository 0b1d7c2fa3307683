package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check reports whether one dependency is usable. A nil error means healthy.
type Check func(ctx context.Context) error

// HealthReporter runs the dependency checks for /healthz, /readyz and the
// grpc.health.v1 service. Critical checks gate readiness; the others only
// degrade /healthz.
type HealthReporter struct {
	log  *zap.Logger
	grpc *health.Server

	mu       sync.RWMutex
	checks   map[string]Check
	critical map[string]bool
}

func NewHealthReporter(log *zap.Logger) *HealthReporter {
	return &HealthReporter{
		log:      log,
		grpc:     health.NewServer(),
		checks:   make(map[string]Check),
		critical: make(map[string]bool),
	}
}

// Register adds a named check. Not safe to call while checks are running.
func (h *HealthReporter) Register(name string, critical bool, c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = c
	h.critical[name] = critical
}

// GRPC returns the health service to register on a grpc.Server.
func (h *HealthReporter) GRPC() healthpb.HealthServer { return h.grpc }

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	ready  bool
}

func (h *HealthReporter) evaluate(ctx context.Context) healthReport {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	rep := healthReport{Status: "ok", Checks: make(map[string]string, len(names)), ready: true}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			rep.Checks[name] = err.Error()
			rep.Status = "degraded"
			if h.critical[name] {
				rep.ready = false
			}
			continue
		}
		rep.Checks[name] = "ok"
	}
	if !rep.ready {
		rep.Status = "down"
	}
	return rep
}

// Run refreshes the gRPC serving status every interval until ctx is done.
func (h *HealthReporter) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	h.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			h.grpc.Shutdown()
			return
		case <-t.C:
			h.refresh(ctx)
		}
	}
}

func (h *HealthReporter) refresh(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status := healthpb.HealthCheckResponse_SERVING
	if rep := h.evaluate(cctx); !rep.ready {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		h.log.Warn("relay not ready", zap.Any("checks", rep.Checks))
	}
	h.grpc.SetServingStatus("", status)
	h.grpc.SetServingStatus(ServiceName, status)
}

// ServiceName is the gRPC health service name of the relay.
const ServiceName = "sentry.relay"

// Healthz always answers 200 and lists every check.
func (h *HealthReporter) Healthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rep := h.evaluate(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rep)
	})
}

// Readyz answers 503 while a critical check fails.
func (h *HealthReporter) Readyz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rep := h.evaluate(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !rep.ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		type resp struct {
			Ready bool `json:"ready"`
		}
		_ = json.NewEncoder(w).Encode(resp{Ready: rep.ready})
	})
}
