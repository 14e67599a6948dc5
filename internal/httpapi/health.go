package httpapi

import (
	"context"
	"net/http"
	"time"
)

// Health endpoints are unauthenticated. /health answers without touching
// dependencies; /health/detailed probes them and degrades to 503 only when
// the store is down, because the bus falling back to single-node mode keeps
// the service usable.

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "switchboard-api",
		"time":    time.Now().UTC(),
	})
}

func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	storeStatus := "ok"
	if err := s.Store.Ping(ctx); err != nil {
		storeStatus = "down"
	}

	busStatus := "ok"
	if s.Bus.Degraded() {
		busStatus = "degraded"
	} else if err := s.Bus.Ping(ctx); err != nil {
		busStatus = "down"
	}

	code := http.StatusOK
	status := "ok"
	if storeStatus != "ok" {
		code = http.StatusServiceUnavailable
		status = "unavailable"
	} else if busStatus != "ok" {
		status = "degraded"
	}

	writeData(w, code, map[string]any{
		"status": status,
		"checks": map[string]string{
			"store": storeStatus,
			"bus":   busStatus,
		},
		"degraded": s.Bus.Degraded(),
		"time":     time.Now().UTC(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeData(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	writeData(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{"status": "alive"})
}
