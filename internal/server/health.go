// health.go - liveness and readiness endpoints.

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Cyxzhar/quickdrop/internal/storage"
)

// HealthStatus represents the overall health of the system
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the health of an individual component
type ComponentStatus string

const (
	ComponentStatusUp       ComponentStatus = "up"
	ComponentStatusDown     ComponentStatus = "down"
	ComponentStatusDegraded ComponentStatus = "degraded"
)

// storageSlow marks the store degraded without failing readiness.
const storageSlow = 2 * time.Second

type Health struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
}

type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LatencyMs float64         `json:"latency_ms,omitempty"`
	Details   any             `json:"details,omitempty"`
}

// HandleHealth reports every component; 503 only when one is down.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.checkHealth(r.Context())

	statusCode := http.StatusOK
	if health.Status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, health)
}

// HandleReady answers 200 once the bucket is reachable.
func (s *Server) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "not_ready",
			"message": "object store unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

// HandleLive always answers while the process runs.
func (s *Server) HandleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) checkHealth(ctx context.Context) Health {
	health := Health{
		Timestamp:  s.now().UTC(),
		Version:    s.cfg.Version,
		Components: map[string]ComponentHealth{"storage": s.checkStorageHealth(ctx)},
	}
	if s.cfg.Breaker != nil {
		health.Components["breaker"] = breakerHealth(s.cfg.Breaker.Stats())
	}
	health.Status = determineOverallHealth(health.Components)
	return health
}

func (s *Server) checkStorageHealth(ctx context.Context) ComponentHealth {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		return ComponentHealth{
			Status:  ComponentStatusDown,
			Message: "object store unreachable: " + err.Error(),
		}
	}

	latency := time.Since(start)
	status, message := ComponentStatusUp, "object store healthy"
	if latency > storageSlow {
		status, message = ComponentStatusDegraded, "object store latency high"
	}
	return ComponentHealth{
		Status:    status,
		Message:   message,
		LatencyMs: float64(latency.Milliseconds()),
	}
}

// breakerHealth: an open breaker means reads are being shed, not that the
// process is broken, so it degrades rather than fails.
func breakerHealth(st storage.BreakerStats) ComponentHealth {
	status := ComponentStatusUp
	if st.State != storage.StateClosed.String() {
		status = ComponentStatusDegraded
	}
	return ComponentHealth{Status: status, Message: "circuit " + st.State, Details: st}
}

func determineOverallHealth(components map[string]ComponentHealth) HealthStatus {
	var down, degraded int
	for _, c := range components {
		switch c.Status {
		case ComponentStatusDown:
			down++
		case ComponentStatusDegraded:
			degraded++
		}
	}
	switch {
	case down > 0:
		return HealthStatusUnhealthy
	case degraded > 0:
		return HealthStatusDegraded
	default:
		return HealthStatusHealthy
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
