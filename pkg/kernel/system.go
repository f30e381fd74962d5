package kernel

import (
	"net/http"

	"github.com/manthysbr/agentcore/internal/config"
)

// GET /v1/tools
func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	specs := s.tools.Specs()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools": specs,
		"count": len(specs),
	})
}

// GET /v1/config
func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	if s.cfg == nil {
		http.Error(w, "configuration unavailable", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, config.Masked(s.cfg))
}

// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"tools":  s.tools.Len(),
	})
}
