package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"tapboard/internal/auth"
	"tapboard/internal/session"
	"tapboard/internal/state"
	"tapboard/pkg/interfaces"
	"tapboard/pkg/types"
)

// AuthNotifier fans authorization changes out to a session's live
// connections. The hub implements it; a local interface avoids coupling the
// HTTP layer to the hub and lets tests substitute a recorder.
type AuthNotifier interface {
	AuthChanged(sessionID string, authorized bool)
}

// StatsSource reports connection counts for the health endpoint.
type StatsSource interface {
	Stats() map[string]int
}

// Server is the stateless HTTP surface: the mutation API (mirroring the
// realtime mutation semantics), login/logout and health. API write paths sit
// behind a deployment-level enable flag, a coarser trust boundary than the
// per-session authorization gate.
type Server struct {
	board     *state.Board
	gate      *auth.Gate
	sessions  *session.Manager
	notifier  AuthNotifier
	store     interfaces.Store
	stats     StatsSource
	enableAPI bool
	router    *mux.Router
}

func NewServer(board *state.Board, gate *auth.Gate, sessions *session.Manager, notifier AuthNotifier, store interfaces.Store, stats StatsSource, enableAPI bool) *Server {
	s := &Server{
		board:     board,
		gate:      gate,
		sessions:  sessions,
		notifier:  notifier,
		store:     store,
		stats:     stats,
		enableAPI: enableAPI,
		router:    mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/stock_levels", s.getLevels).Methods(http.MethodGet)
	s.router.HandleFunc("/api/stock_levels", s.postLevels).Methods(http.MethodPost)
	s.router.HandleFunc("/api/stock_levels/{number:[0-9]+}", s.getLevel).Methods(http.MethodGet)
	s.router.HandleFunc("/api/stock_levels/{number:[0-9]+}/{level}", s.postLevel).Methods(http.MethodPost)
	s.router.HandleFunc("/users", s.login).Methods(http.MethodPost)
	s.router.HandleFunc("/logout", s.logout).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// actor resolves the display name behind a request, falling back to the API
// label for anonymous callers.
func (s *Server) actor(r *http.Request) string {
	if name := s.sessions.Name(r); name != "" {
		return name
	}
	return types.APIActor
}

// mutationStatus maps board errors onto HTTP codes: validation failures are
// the client's fault, anything else is a store problem.
func mutationStatus(err error) int {
	switch {
	case errors.Is(err, state.ErrOutOfRange),
		errors.Is(err, state.ErrInvalidLevel),
		errors.Is(err, state.ErrLowDisabled),
		errors.Is(err, state.ErrTableSize):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// GET /api/stock_levels
func (s *Server) getLevels(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, s.board.Snapshot())
}

// GET /api/stock_levels/{number}
func (s *Server) getLevel(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(mux.Vars(r)["number"])
	if err != nil {
		s.sendError(w, "Invalid tap number", http.StatusBadRequest)
		return
	}

	level, ok := s.board.Level(number)
	if !ok {
		s.sendError(w, "Tap number out of range", http.StatusBadRequest)
		return
	}
	s.sendJSON(w, level)
}

// POST /api/stock_levels routes by payload size: exactly capacity-sized maps
// take the bulk-replace path, smaller maps update tap by tap. The single-tap
// invariants (idempotent no-op, log-on-change) hold on both.
func (s *Server) postLevels(w http.ResponseWriter, r *http.Request) {
	if !s.enableAPI {
		log.Println("API use is not enabled")
		s.sendError(w, "API use is not enabled", http.StatusForbidden)
		return
	}

	var table types.StockTable
	if err := json.NewDecoder(r.Body).Decode(&table); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	capacity := s.board.Capacity()
	switch {
	case len(table) > capacity:
		s.sendError(w, "Too many items in JSON", http.StatusBadRequest)
		return
	case len(table) == capacity:
		if err := s.board.ApplyBulk(r.Context(), s.actor(r), table); err != nil {
			s.sendError(w, err.Error(), mutationStatus(err))
			return
		}
	default:
		if err := s.board.ApplyPartial(r.Context(), s.actor(r), table); err != nil {
			s.sendError(w, err.Error(), mutationStatus(err))
			return
		}
	}

	s.sendJSON(w, s.board.Snapshot())
}

// POST /api/stock_levels/{number}/{level}
func (s *Server) postLevel(w http.ResponseWriter, r *http.Request) {
	if !s.enableAPI {
		log.Println("API use is not enabled")
		s.sendError(w, "API use is not enabled", http.StatusForbidden)
		return
	}

	vars := mux.Vars(r)
	number, err := strconv.Atoi(vars["number"])
	if err != nil {
		s.sendError(w, "Invalid tap number", http.StatusBadRequest)
		return
	}

	if _, err := s.board.ApplyOne(r.Context(), s.actor(r), number, types.Level(vars["level"])); err != nil {
		s.sendError(w, err.Error(), mutationStatus(err))
		return
	}

	s.sendJSON(w, s.board.Snapshot())
}

// POST /users attempts authorization with the submitted shared code. Success
// grants the session, records the display name and notifies every open tab;
// failure flashes an error and bounces back to the login page.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.sendError(w, "Invalid form", http.StatusBadRequest)
		return
	}
	name := r.PostFormValue("name")
	code := r.PostFormValue("code")

	sessionID, err := s.sessions.SessionID(w, r)
	if err != nil {
		s.sendError(w, "Session error", http.StatusInternalServerError)
		return
	}

	ok, err := s.gate.Authorize(r.Context(), sessionID, code)
	if err != nil {
		log.Printf("Authorization failed for session %s: %v", sessionID, err)
		s.sendError(w, "Authorization failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		if err := s.sessions.AddFlash(w, r, "Wrong code, please try again"); err != nil {
			log.Printf("Failed to flash rejection: %v", err)
		}
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	if err := s.sessions.SetName(w, r, name); err != nil {
		log.Printf("Failed to record name for session %s: %v", sessionID, err)
	}
	s.notifier.AuthChanged(sessionID, true)
	http.Redirect(w, r, "/", http.StatusFound)
}

// GET /logout revokes the session's grant and tells all of its tabs.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	sessionID, err := s.sessions.SessionID(w, r)
	if err != nil {
		s.sendError(w, "Session error", http.StatusInternalServerError)
		return
	}

	if err := s.gate.Revoke(r.Context(), sessionID); err != nil {
		log.Printf("Failed to revoke session %s: %v", sessionID, err)
	}
	s.notifier.AuthChanged(sessionID, false)
	http.Redirect(w, r, "/", http.StatusFound)
}

type healthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Store       string         `json:"store"`
	Connections map[string]int `json:"connections"`
}

// GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	storeStatus := "healthy"
	if err := s.store.Ping(ctx); err != nil {
		status = "unhealthy"
		storeStatus = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Store:       storeStatus,
		Connections: s.stats.Stats(),
	})
}
