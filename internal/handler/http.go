package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/domain"
	"github.com/arcade-scores/internal/leaderboard"
	"github.com/arcade-scores/internal/service"
	"github.com/arcade-scores/internal/websocket"
)

const maxBodyBytes = 1 << 20

// ReadinessCheck reports whether a backing dependency is reachable
type ReadinessCheck func(ctx context.Context) error

// Handler provides HTTP handlers for the score API
type Handler struct {
	submissions *service.SubmissionService
	boards      *leaderboard.Service
	hub         *websocket.Hub
	games       map[string]config.GameConfig
	checks      map[string]ReadinessCheck
	adminToken  string
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	submissions *service.SubmissionService,
	boards *leaderboard.Service,
	hub *websocket.Hub,
	games map[string]config.GameConfig,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		submissions: submissions,
		boards:      boards,
		hub:         hub,
		games:       games,
		checks:      make(map[string]ReadinessCheck),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger,
	}
}

// AddReadinessCheck registers a dependency checked by /ready
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// SetAdminToken enables the operator endpoints behind a bearer token. Without one
// they are not routed.
func (h *Handler) SetAdminToken(token string) {
	h.adminToken = token
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// GameInfo is the public view of a configured game
type GameInfo struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	SessionTTL      int64   `json:"session_ttl_ms"`
	PointsPerSecond float64 `json:"points_per_second"`
	PointsPerInput  float64 `json:"points_per_input,omitempty"`
	TournamentOnly  bool    `json:"tournament_only,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions", h.CreateSession)
		r.Post("/scores", h.SubmitScore)
		r.Get("/games", h.ListGames)

		r.Route("/leaderboards", func(r chi.Router) {
			if h.adminToken != "" {
				r.With(h.requireAdmin).Post("/periods/{period}/reset", h.ResetPeriod)
			}

			r.Route("/{scope}/{period}", func(r chi.Router) {
				r.Get("/top", h.GetTop)
				r.Get("/count", h.GetCount)
				r.Get("/around/{playerID}", h.GetAroundPlayer)
				r.Get("/player/{playerID}", h.GetPlayerRank)
			})
		})

		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAdmin checks the operator bearer token
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			h.logger.Warn("unauthorized admin request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			h.writeJSON(w, http.StatusUnauthorized, APIResponse{
				Success: false,
				Error:   "unauthorized",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError maps err onto a status code and writes it. Unclassified errors are logged
// and hidden behind ErrInternalError.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "op", op, "error", err)
		err = domain.ErrInternalError
	} else if status == http.StatusServiceUnavailable {
		h.logger.Warn("store unavailable", "op", op, "error", err)
	}
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case domain.IsRejection(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case domain.IsNotFoundError(err):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// decode reads a strict JSON body and runs the struct tags
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

func boardParam(r *http.Request) (domain.BoardKey, error) {
	period, err := domain.ParsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		return domain.BoardKey{}, err
	}
	scope := chi.URLParam(r, "scope")
	if scope == "" {
		return domain.BoardKey{}, fmt.Errorf("%w: scope is required", domain.ErrInvalidArgument)
	}
	return domain.BoardKey{Scope: scope, Period: period}, nil
}

func intQuery(r *http.Request, name string) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.hub.Stats())
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck runs every registered readiness check
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := make(map[string]string, len(h.checks))
	ready := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", "dependency", name, "error", err)
			status[name] = "unavailable"
			ready = false
			continue
		}
		status[name] = "ok"
	}

	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Data:    status,
			Error:   domain.ErrStoreUnavailable.Error(),
		})
		return
	}
	status["status"] = "ready"
	h.writeSuccess(w, status)
}

// ListGames returns the configured games
func (h *Handler) ListGames(w http.ResponseWriter, r *http.Request) {
	games := make([]GameInfo, 0, len(h.games))
	for id, g := range h.games {
		games = append(games, GameInfo{
			ID:              id,
			Name:            g.Name,
			SessionTTL:      g.SessionTTL.Milliseconds(),
			PointsPerSecond: g.PointsPerSecond,
			PointsPerInput:  g.PointsPerInput,
			TournamentOnly:  g.TournamentOnly,
		})
	}
	sort.Slice(games, func(i, j int) bool { return games[i].ID < games[j].ID })
	h.writeSuccess(w, games)
}

// CreateSession opens a play session for a player
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSessionRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, "create session", err)
		return
	}

	resp, err := h.submissions.CreateSession(r.Context(), req)
	if err != nil {
		h.writeError(w, "create session", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    resp,
	})
}

// SubmitScore verifies and ranks a finished run. Rejections answer 422 with the
// validation result so the client can show the reason.
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitScoreRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, "submit score", err)
		return
	}
	sub, err := req.Submission()
	if err != nil {
		h.writeError(w, "submit score", err)
		return
	}

	result, err := h.submissions.SubmitScore(r.Context(), sub)
	if err != nil {
		h.writeError(w, "submit score", err)
		return
	}

	if !result.Success {
		msg := "submission rejected"
		if result.Err != nil {
			msg = result.Err.Error()
		}
		h.writeJSON(w, http.StatusUnprocessableEntity, APIResponse{
			Success: false,
			Data:    result,
			Error:   msg,
		})
		return
	}

	h.writeSuccess(w, result)
}

// ResetPeriod clears every board of a daily or weekly window
func (h *Handler) ResetPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := domain.ParsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		h.writeError(w, "reset period", err)
		return
	}

	if err := h.boards.ResetPeriod(r.Context(), period); err != nil {
		h.writeError(w, "reset period", err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "reset", "period": string(period)})
}

// GetTop returns the top entries of a board
func (h *Handler) GetTop(w http.ResponseWriter, r *http.Request) {
	board, err := boardParam(r)
	if err != nil {
		h.writeError(w, "get top", err)
		return
	}

	entries, err := h.boards.Top(r.Context(), board, intQuery(r, "limit"))
	if err != nil {
		h.writeError(w, "get top", err)
		return
	}

	h.writeSuccess(w, entries)
}

// GetCount returns the number of players and the top score of a board
func (h *Handler) GetCount(w http.ResponseWriter, r *http.Request) {
	board, err := boardParam(r)
	if err != nil {
		h.writeError(w, "get count", err)
		return
	}

	stats, err := h.boards.Stats(r.Context(), board)
	if err != nil {
		h.writeError(w, "get count", err)
		return
	}

	h.writeSuccess(w, stats)
}

// GetAroundPlayer returns players around a specific player's rank
func (h *Handler) GetAroundPlayer(w http.ResponseWriter, r *http.Request) {
	board, err := boardParam(r)
	if err != nil {
		h.writeError(w, "get around player", err)
		return
	}

	entries, err := h.boards.Around(r.Context(), board, chi.URLParam(r, "playerID"), intQuery(r, "range"))
	if err != nil {
		h.writeError(w, "get around player", err)
		return
	}

	h.writeSuccess(w, entries)
}

// GetPlayerRank returns a player's rank and score
func (h *Handler) GetPlayerRank(w http.ResponseWriter, r *http.Request) {
	board, err := boardParam(r)
	if err != nil {
		h.writeError(w, "get player rank", err)
		return
	}

	entry, err := h.boards.PlayerRank(r.Context(), board, chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeError(w, "get player rank", err)
		return
	}

	h.writeSuccess(w, entry)
}
