package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/shotlink/internal/adapters/link"
	"github.com/okian/shotlink/internal/domain/model"
	"github.com/okian/shotlink/pkg/metrics"
)

type healthResponse struct {
	Status       string `json:"status"`
	Links        int    `json:"links"`
	LinksUp      int    `json:"links_up"`
	ClockQuality string `json:"clock_quality,omitempty"`
}

// HandleHealth handles GET /healthz. It answers 200 while the process is
// serving; a lost link or critical clock only marks it degraded.
func (s *Server) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.deps.Links != nil {
		for _, h := range s.deps.Links.Sessions() {
			resp.Links++
			switch h.State {
			case link.StateConnected:
				resp.LinksUp++
			case link.StateLost:
				resp.Status = "degraded"
			}
		}
	}
	if s.deps.Clock != nil {
		q := s.deps.Clock.State().Quality
		resp.ClockQuality = q.String()
		if q == model.QualityCritical {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// MetricsHandler serves the service registry in Prometheus exposition format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})
}
