package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dropline/pkg/interfaces"
	"dropline/pkg/types"
)

// ConnectionStats reports live gateway connections
type ConnectionStats interface {
	GetStats() map[string]int
}

// HistoryReader is the read side of the transfer history store
type HistoryReader interface {
	ListTransfers(ctx context.Context, limit int) ([]*types.TransferRecord, error)
	HealthCheck(ctx context.Context) error
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// No business logic, only HTTP handling and JSON serialization
type Server struct {
	rooms       interfaces.RoomRegistry
	history     HistoryReader
	connections ConnectionStats
	logger      logrus.FieldLogger
	router      *http.ServeMux
	started     time.Time
}

// NewServer creates the API. history may be nil when transfer history is disabled.
func NewServer(rooms interfaces.RoomRegistry, history HistoryReader, connections ConnectionStats, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		rooms:       rooms,
		history:     history,
		connections: connections,
		logger:      logger.WithField("component", "api"),
		router:      http.NewServeMux(),
		started:     time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/rooms/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRoomByID))))
	s.router.Handle("/api/transfers", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleTransfers))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

// Handle mounts an extra handler on the API mux, used for the websocket endpoint
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.router.Handle(pattern, handler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RoomResponse lets a share page check a link before opening a socket
type RoomResponse struct {
	RoomID     string             `json:"room_id"`
	Metadata   types.FileMetadata `json:"metadata"`
	Mode       types.DataPath     `json:"mode"`
	Recipients int                `json:"recipients"`
	CreatedAt  time.Time          `json:"created_at"`
}

type TransfersResponse struct {
	Transfers []*types.TransferRecord `json:"transfers"`
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Rooms       types.RegistryStats    `json:"rooms"`
	Connections map[string]int         `json:"connections"`
	System      map[string]interface{} `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /api/rooms/{id}
func (s *Server) handleRoomByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/rooms/"), "/")[0]
	if !types.IsValidRoomID(roomID) {
		s.sendError(w, "Invalid room ID", http.StatusBadRequest)
		return
	}

	room, exists := s.rooms.Get(roomID)
	if !exists {
		s.sendError(w, types.ErrRoomNotFound.Reason, http.StatusNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, RoomResponse{
		RoomID:     room.ID,
		Metadata:   room.Metadata,
		Mode:       room.Mode,
		Recipients: len(room.Recipients),
		CreatedAt:  room.CreatedAt,
	})
}

// GET /api/transfers?limit=N
func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		s.sendError(w, "Transfer history is disabled", http.StatusNotFound)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.history.ListTransfers(r.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list transfers")
		s.sendError(w, "Failed to list transfers", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, TransfersResponse{Transfers: records})
}

// FUNCTIONAL DISCOVERY: GET /health - 503 when the history database is unreachable
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "disabled"
	if s.history != nil {
		dbStatus = "healthy"
		if err := s.history.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = fmt.Sprintf("error: %v", err)
		}
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Rooms:       s.rooms.Stats(),
		Connections: s.connections.GetStats(),
		System: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.started).Round(time.Second).String(),
		},
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		s.logger.WithError(err).Debug("Failed to write response")
	}
}

// Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables share pages on other origins
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
