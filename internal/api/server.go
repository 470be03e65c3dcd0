package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// HealthChecker reports persistence health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Presence is the read side of the session registry.
type Presence interface {
	IsOnline(userID int64) bool
	Count() int
	Stats() map[string]int
}

// StatsSource is any component that exposes counters, such as the TCP
// listener or the websocket surface.
type StatsSource interface {
	Stats() map[string]int64
}

// Server is the operator-facing HTTP surface. Chat traffic never passes
// through it; it only reads presence and counters.
// ARCHITECTURAL DISCOVERY: Read-only by construction. Every dependency is a
// narrow read interface, so the admin port cannot mutate sessions
type Server struct {
	health   HealthChecker
	presence Presence
	sources  map[string]StatsSource
	logger   *zap.Logger
	started  time.Time
	router   *http.ServeMux
}

// NewServer wires the admin routes over the store health check and the
// session registry.
func NewServer(health HealthChecker, presence Presence, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		health:   health,
		presence: presence,
		sources:  make(map[string]StatsSource),
		logger:   logger.Named("api"),
		started:  time.Now(),
		router:   http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

// FUNCTIONAL DISCOVERY: Method-qualified patterns let the mux answer 405
// itself, so handlers never switch on r.Method
func (s *Server) setupRoutes() {
	s.route("/health", s.healthCheck)
	s.route("/api/stats", s.stats)
	s.route("/api/presence/{userId}", s.presenceOf)
}

// route registers GET for path plus the OPTIONS preflight, which the CORS
// middleware answers without reaching h.
func (s *Server) route(path string, h http.HandlerFunc) {
	wrapped := s.corsMiddleware(s.jsonMiddleware(h))
	s.router.Handle("GET "+path, wrapped)
	s.router.Handle("OPTIONS "+path, wrapped)
}

// AddStats publishes a component's counters under name in /api/stats.
func (s *Server) AddStats(name string, source StatsSource) {
	s.sources[name] = source
}

// Mount attaches an extra handler, such as the websocket upgrade endpoint.
// The handler is mounted without the JSON middleware.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.router.Handle(pattern, h)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	OnlineUsers int                    `json:"onlineUsers"`
	System      map[string]interface{} `json:"system"`
}

type StatsResponse struct {
	Sessions   map[string]int              `json:"sessions"`
	Components map[string]map[string]int64 `json:"components"`
}

type PresenceResponse struct {
	UserID int64 `json:"userId"`
	Online bool  `json:"online"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /health reports store reachability and how many users are online.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if err := s.health.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
		s.logger.Warn("health check failed", zap.Error(err))
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		OnlineUsers: s.presence.Count(),
		System: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.started).Round(time.Second).String(),
		},
	}

	// Load balancers key off the status code, not the body.
	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	s.encode(w, response)
}

// GET /api/stats
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	response := StatsResponse{
		Sessions:   s.presence.Stats(),
		Components: make(map[string]map[string]int64, len(s.sources)),
	}
	for name, source := range s.sources {
		response.Components[name] = source.Stats()
	}
	s.encode(w, response)
}

// GET /api/presence/{userId}
func (s *Server) presenceOf(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("userId"), 10, 64)
	if err != nil || userID <= 0 {
		s.sendError(w, "Invalid user ID", http.StatusBadRequest)
		return
	}
	s.encode(w, PresenceResponse{UserID: userID, Online: s.presence.IsOnline(userID)})
}

func (s *Server) encode(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("response write failed", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	s.encode(w, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware lets browser dashboards on other origins poll the API.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
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
