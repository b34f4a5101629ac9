// Package api serves the read-only status surface: link health, clock
// state, learned correlation models, Prometheus metrics and a websocket
// stream of outcomes and status transitions.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/okian/shotlink/internal/adapters/http/swagger"
	"github.com/okian/shotlink/internal/adapters/link"
	"github.com/okian/shotlink/internal/domain/correlate"
	"github.com/okian/shotlink/internal/domain/model"
	"github.com/okian/shotlink/pkg/logger"
)

// LinkSource reports the health of every peripheral session.
type LinkSource interface {
	Sessions() []link.Health
}

// ClockSource reports the synchronizer's current state.
type ClockSource interface {
	State() model.ClockState
}

// CorrelationSource reports the correlator's last published view.
type CorrelationSource interface {
	Snapshot() correlate.Snapshot
}

// StreamHub serves an upgraded websocket until it disconnects.
type StreamHub interface {
	Attach(conn *websocket.Conn)
}

// Dependencies required by HTTP handlers. A nil source makes its route
// answer 503.
type Dependencies struct {
	Links       LinkSource
	Clock       ClockSource
	Correlation CorrelationSource
	Stream      StreamHub
}

// Server wires HTTP routes for the status API.
type Server struct {
	deps     Dependencies
	log      logger.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a new API server.
func NewServer(deps Dependencies, l logger.Logger) *Server {
	if l == nil {
		l = logger.Nop()
	}
	return &Server{
		deps: deps,
		log:  l,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Register attaches all routes to r.
func (s *Server) Register(r *mux.Router) {
	r.Use(MetricsMiddleware)

	r.HandleFunc("/healthz", s.HandleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", MetricsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/status/links", s.HandleLinks).Methods(http.MethodGet)
	r.HandleFunc("/status/clock", s.HandleClock).Methods(http.MethodGet)
	r.HandleFunc("/status/models", s.HandleModels).Methods(http.MethodGet)
	r.HandleFunc("/stream", s.HandleStream).Methods(http.MethodGet)
}

// Handler returns the routed API and its OpenAPI docs wrapped in panic
// recovery and access logging.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.Register(r)
	swagger.Register(r)

	recovered := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.log}),
		handlers.PrintRecoveryStack(false),
	)(r)
	return handlers.CustomLoggingHandler(io.Discard, recovered, s.accessLog)
}

func (s *Server) accessLog(_ io.Writer, p handlers.LogFormatterParams) {
	s.log.Debug(p.Request.Context(), "http request",
		logger.String("method", p.Request.Method),
		logger.String("path", p.URL.Path),
		logger.Int("status", p.StatusCode),
		logger.Int("size", p.Size),
	)
}

type recoveryLogger struct{ log logger.Logger }

func (r recoveryLogger) Println(v ...any) {
	r.log.Error(context.Background(), "http handler panic", logger.Any("panic", v))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
