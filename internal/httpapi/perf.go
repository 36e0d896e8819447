package httpapi

import (
	"net/http"

	"github.com/antoniostano/salut/internal/observability"
)

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil || s.metrics.Latency == nil {
		respondJSON(w, http.StatusOK, observability.PerfReport{
			Stages:   map[observability.Stage]observability.StageReport{},
			Counters: map[observability.Counter]int64{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.Latency.Report())
}
