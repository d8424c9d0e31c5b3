package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/metrics"
)

const (
	requestTimeout      = 10 * time.Second
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// Checkpoints is the read side of the checkpoint store.
type Checkpoints interface {
	LastCursor(ctx context.Context, unitID string) (string, bool, error)
	Count(ctx context.Context, unitID string) (int, error)
}

// Claims is the read side of the claim coordinator.
type Claims interface {
	IsComplete(ctx context.Context, unitID string) (bool, error)
	Inspect(ctx context.Context, unitID string) (harvest.LockState, error)
}

// History lists ledger rows of a unit, newest first.
type History interface {
	History(ctx context.Context, unitID string, limit int) ([]harvest.OutcomeEvent, error)
}

// UnitStatus is the JSON body of GET /v1/units/{unit_id}.
type UnitStatus struct {
	UnitID         string  `json:"unit_id"`
	Completed      bool    `json:"completed"`
	Locked         bool    `json:"locked"`
	LockAgeSeconds float64 `json:"lock_age_seconds,omitempty"`
	LockOwner      string  `json:"lock_owner,omitempty"`
	LastCursor     string  `json:"last_cursor,omitempty"`
	Records        int     `json:"records"`
}

// Server wires HTTP handlers to the shared worker state.
type Server struct {
	router      chi.Router
	checkpoints Checkpoints
	claims      Claims
	history     History
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes. history may be nil.
func NewServer(checkpoints Checkpoints, claims Claims, history History, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		checkpoints: checkpoints,
		claims:      claims,
		history:     history,
		logger:      logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/units/{unit_id}", func(r chi.Router) {
		r.Get("/", s.getUnit)
		r.Get("/history", s.getHistory)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getUnit(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "unit_id")
	if err := harvest.ValidateUnit(unitID); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := InspectUnit(r.Context(), s.checkpoints, s.claims, unitID)
	if err != nil {
		s.logger.Error("unit status failed", zap.String("unit_id", unitID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read unit state")
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// InspectUnit gathers the completion, lock and checkpoint state of a unit.
func InspectUnit(ctx context.Context, checkpoints Checkpoints, claims Claims, unitID string) (UnitStatus, error) {
	status := UnitStatus{UnitID: unitID}
	done, err := claims.IsComplete(ctx, unitID)
	if err != nil {
		return status, err
	}
	status.Completed = done

	lock, err := claims.Inspect(ctx, unitID)
	if err != nil {
		return status, err
	}
	if lock.Held {
		status.Locked = true
		status.LockAgeSeconds = lock.Age.Seconds()
		status.LockOwner = lock.Owner
	}

	cursor, found, err := checkpoints.LastCursor(ctx, unitID)
	if err != nil {
		return status, err
	}
	if found {
		status.LastCursor = cursor
	}
	status.Records, err = checkpoints.Count(ctx, unitID)
	return status, err
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "outcome ledger not configured")
		return
	}
	unitID := chi.URLParam(r, "unit_id")
	if err := harvest.ValidateUnit(unitID); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := s.history.History(r.Context(), unitID, limit)
	if err != nil {
		s.logger.Error("unit history failed", zap.String("unit_id", unitID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read unit history")
		return
	}
	if events == nil {
		events = []harvest.OutcomeEvent{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"unit_id": unitID, "outcomes": events})
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
