package kernel

import (
	"errors"
	"net/http"

	"github.com/manthysbr/agentcore/internal/core/domain"
)

// handleListTraces returns recent traces, newest first. Live traces come
// from the collector; the persisted history fills the rest of the page.
// GET /v1/traces?limit=50
func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 50, 500)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	traces := s.tracer.ListTraces(limit)
	if len(traces) < limit && s.history != nil {
		seen := make(map[domain.TraceID]struct{}, len(traces))
		for _, t := range traces {
			seen[t.ID] = struct{}{}
		}
		stored, err := s.history.ListTraces(r.Context(), limit)
		if err != nil {
			s.logger.Warn("failed to list stored traces", "error", err)
		}
		for _, t := range stored {
			if len(traces) >= limit {
				break
			}
			if _, dup := seen[t.ID]; !dup {
				traces = append(traces, t)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"traces": traces,
		"count":  len(traces),
	})
}

// handleGetTrace returns a single trace with all spans.
// GET /v1/traces/{id}
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	var id domain.TraceID
	if err := pathID(r, &id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	trace, err := s.tracer.GetTrace(id)
	if errors.Is(err, domain.ErrTraceNotFound) && s.history != nil {
		trace, err = s.history.GetTrace(r.Context(), id)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

// handleMetrics returns the orchestrator counters.
// GET /v1/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tracer.Metrics())
}
