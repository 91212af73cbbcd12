// Package adminhttp implements the admin API spec.md §4.5 mentions
// ("created by a HostGame root message or by admin API") but never
// specifies further, plus the operational /healthz and /metrics
// endpoints SPEC_FULL.md's domain stack calls for. It is grounded on
// the teacher's HTTP gateway stack, gorilla/mux for routing and
// gorilla/handlers for the request-logging middleware every one of the
// teacher's exposed HTTP surfaces wraps with.
package adminhttp

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/harborlight/roomkeeper/internal/wire"
	"github.com/harborlight/roomkeeper/internal/worker"
)

// RoomController is the subset of *worker.Worker this package needs,
// expressed as an interface so tests can exercise routing against a
// fake without spinning up a real transport.
type RoomController interface {
	AdminCreateRoom(settings wire.GameSettings) (string, error)
	AdminDestroyRoom(code string) bool
	AdminRoomStatus(code string) (worker.RoomStatus, bool)
	AdminListRooms() []worker.RoomStatus
}

var _ RoomController = (*worker.Worker)(nil)

// Server wraps the admin http.Handler along with the metrics registry
// it exposes at /metrics.
type Server struct {
	logger *zap.Logger
	rooms  RoomController
	router *mux.Router
}

// New builds a Server. metricsHandler may be nil to omit the /metrics
// endpoint, which is only appropriate for tests.
func New(logger *zap.Logger, rooms RoomController, metricsHandler http.Handler) *Server {
	s := &Server{logger: logger, rooms: rooms, router: mux.NewRouter()}

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/rooms", s.handleCreateRoom).Methods(http.MethodPost)
	s.router.HandleFunc("/rooms", s.handleListRooms).Methods(http.MethodGet)
	s.router.HandleFunc("/rooms/{code}", s.handleRoomStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/rooms/{code}", s.handleDestroyRoom).Methods(http.MethodDelete)
	if metricsHandler != nil {
		s.router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	return s
}

// Handler returns the wrapped http.Handler, logging every request the
// way the teacher's HTTP gateways do via gorilla/handlers.LoggingHandler.
func (s *Server) Handler() http.Handler {
	return handlers.CombinedLoggingHandler(zapInfoWriter{s.logger}, s.router)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type createRoomRequest struct {
	Settings wire.GameSettings `json:"settings"`
}

type createRoomResponse struct {
	Code string `json:"code"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	req.Settings = wire.DefaultGameSettings()
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	code, err := s.rooms.AdminCreateRoom(req.Settings)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, createRoomResponse{Code: code})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rooms.AdminListRooms())
}

func (s *Server) handleRoomStatus(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	status, ok := s.rooms.AdminRoomStatus(code)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleDestroyRoom(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	if !s.rooms.AdminDestroyRoom(code) {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// zapInfoWriter adapts gorilla/handlers' io.Writer-based access logging
// onto the structured logger every other component uses, rather than
// letting HTTP access logs bypass zap entirely.
type zapInfoWriter struct{ logger *zap.Logger }

func (z zapInfoWriter) Write(p []byte) (int, error) {
	z.logger.Info("admin http request", zap.ByteString("log", p))
	return len(p), nil
}
