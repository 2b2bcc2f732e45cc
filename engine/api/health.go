package api

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/99souls/synopticon/engine"
	telemetryhealth "github.com/99souls/synopticon/engine/telemetry/health"
	telemetrymetrics "github.com/99souls/synopticon/engine/telemetry/metrics"
)

// HealthHandlerOptions configures the health/readiness handlers.
type HealthHandlerOptions struct {
	Engine        *engine.Engine
	IncludeProbes bool
	Clock         func() time.Time
}

type healthResponse struct {
	Overall   telemetryhealth.Status        `json:"overall"`
	Probes    []telemetryhealth.ProbeResult `json:"probes,omitempty"`
	Generated time.Time                     `json:"generated"`
	TTL       time.Duration                 `json:"ttl"`
	Ready     *bool                         `json:"ready,omitempty"`
	Previous  string                        `json:"previous,omitempty"`
	ChangedAt *time.Time                    `json:"changed_at,omitempty"`
}

// readinessTracker remembers the last reported status so a transition can
// be surfaced in the next response, without a lock on the hot path.
type readinessTracker struct {
	lastStatus atomic.Value
	changedAt  atomic.Value
}

func (rt *readinessTracker) update(cur string, now time.Time) (prev string, changedAt *time.Time) {
	if raw := rt.lastStatus.Load(); raw != nil {
		prev = raw.(string)
	}
	if prev != cur {
		rt.lastStatus.Store(cur)
		nowCopy := now
		rt.changedAt.Store(nowCopy)
		return prev, &nowCopy
	}
	if raw := rt.changedAt.Load(); raw != nil {
		cc := raw.(time.Time)
		changedAt = &cc
	}
	return prev, changedAt
}

var defaultTracker readinessTracker

// NewHealthHandler returns the liveness endpoint: always 200 while the
// engine responds at all, reporting whatever the evaluator last computed.
func NewHealthHandler(opts HealthHandlerOptions) http.Handler {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if opts.Engine == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "engine nil"})
			return
		}
		snap := opts.Engine.HealthSnapshot(r.Context())
		prev, changedAt := defaultTracker.update(string(snap.Overall), opts.Clock())
		resp := healthResponse{Overall: snap.Overall, Generated: snap.Generated, TTL: snap.TTL}
		if opts.IncludeProbes {
			resp.Probes = snap.Probes
		}
		if prev != "" && prev != string(snap.Overall) {
			resp.Previous = prev
		}
		if changedAt != nil {
			resp.ChangedAt = changedAt
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	})
}

// NewReadinessHandler returns the load-balancer readiness endpoint: 503
// whenever overall status is unhealthy or unknown.
func NewReadinessHandler(opts HealthHandlerOptions) http.Handler {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if opts.Engine == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "engine nil"})
			return
		}
		snap := opts.Engine.HealthSnapshot(r.Context())
		prev, changedAt := defaultTracker.update(string(snap.Overall), opts.Clock())
		ready := snap.Overall == telemetryhealth.StatusHealthy || snap.Overall == telemetryhealth.StatusDegraded
		resp := healthResponse{Overall: snap.Overall, Generated: snap.Generated, TTL: snap.TTL, Ready: &ready}
		if opts.IncludeProbes {
			resp.Probes = snap.Probes
		}
		if prev != "" && prev != string(snap.Overall) {
			resp.Previous = prev
		}
		if changedAt != nil {
			resp.ChangedAt = changedAt
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready || snap.Overall == telemetryhealth.StatusUnknown {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
}

// NewMetricsHandler exposes p's scrape endpoint, or a 501 if p doesn't
// provide one (e.g. the noop backend).
func NewMetricsHandler(p telemetrymetrics.Provider) http.Handler {
	if p == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	}
	if hp, ok := p.(interface{ MetricsHandler() http.Handler }); ok {
		return hp.MetricsHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "metrics handler unavailable", http.StatusNotImplemented)
	})
}
