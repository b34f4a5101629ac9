package api

import (
	"net/http"

	"github.com/okian/shotlink/internal/adapters/link"
	"github.com/okian/shotlink/internal/domain/types"
)

// HandleLinks handles GET /status/links.
func (s *Server) HandleLinks(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Links == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", ErrUnavailable)
		return
	}
	sessions := s.deps.Links.Sessions()
	out := make([]types.LinkStatus, 0, len(sessions))
	for _, h := range sessions {
		out = append(out, LinkStatus(h))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleClock handles GET /status/clock.
func (s *Server) HandleClock(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Clock == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", ErrUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, types.NewClockStatus(s.deps.Clock.State()))
}

// HandleModels handles GET /status/models.
func (s *Server) HandleModels(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Correlation == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", ErrUnavailable)
		return
	}
	snap := s.deps.Correlation.Snapshot()
	out := types.CorrelationStatus{
		Models:         make([]types.ModelStatus, 0, len(snap.Models)),
		PendingShots:   snap.PendingShots,
		PendingImpacts: snap.PendingImpacts,
		Matches:        snap.Matches,
		Expired:        snap.Expired,
	}
	for _, m := range snap.Models {
		out.Models = append(out.Models, types.NewModelStatus(m))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleStream handles GET /stream by upgrading to a websocket owned by the hub.
func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stream == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", ErrUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		return
	}
	s.deps.Stream.Attach(conn)
}

// LinkStatus converts a session health report to its JSON form.
func LinkStatus(h link.Health) types.LinkStatus {
	out := types.LinkStatus{
		PeripheralID: h.PeripheralID,
		Name:         h.Name,
		Kind:         string(h.Kind),
		State:        h.State.String(),
		Stale:        h.Stale,
		Attempts:     h.ReconnectCount,
	}
	if h.HasSignal {
		rssi := h.SignalStrength
		out.RSSI = &rssi
	}
	if !h.LastFrameAt.IsZero() {
		at := h.LastFrameAt
		out.LastFrameAt = &at
	}
	if h.LastError != nil {
		out.LastError = h.LastError.Error()
	}
	return out
}
