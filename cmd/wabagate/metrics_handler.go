package main

import (
	"encoding/json"
	"net/http"

	"wabagate/internal/metrics"
	"wabagate/internal/tracing"
	"wabagate/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
)

type metricsResponse struct {
	metrics.Snapshot
	Circuit *circuitStats `json:"provider_circuit,omitempty"`
}

type circuitStats struct {
	circuitbreaker.Stats
	State string `json:"state"`
}

// handleMetrics returns current application metrics
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := tracing.GetRequestID(r.Context())

		resp := metricsResponse{Snapshot: metrics.GetSnapshot()}
		if s.deps.Breaker != nil {
			stats := s.deps.Breaker.GetStats()
			resp.Circuit = &circuitStats{Stats: stats, State: stats.State.String()}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(resp); err != nil {
			s.logger.WithFields(logrus.Fields{
				"request_id": requestID,
				"error":      err,
			}).Error("Failed to encode metrics response")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}
