package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"prediction-game-service/internal/app"
	"prediction-game-service/internal/domain"
)

type Handler struct {
	service  *app.GradingService
	queue    app.RecalcQueue
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewHandler wires the grading use cases to HTTP. queue may be nil, in which
// case asynchronous recalculation is unavailable.
func NewHandler(service *app.GradingService, queue app.RecalcQueue, gatherer prometheus.Gatherer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, queue: queue, gatherer: gatherer, logger: logger}
}

// Routes returns the service router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Post("/submissions/{submissionID}/grade", h.gradeSubmission)
	r.Route("/games/{gameID}", func(r chi.Router) {
		r.Post("/groups/{groupID}/grade", h.gradeGroup)
		r.Post("/recalculate", h.recalculate)
		r.Get("/leaderboard", h.leaderboard)
		r.Get("/stats", h.stats)
	})
	r.Put("/groups/{groupID}/questions/{questionID}/key", h.setAnswerKey)
	return r
}

type batchResponse struct {
	Graded    int         `json:"graded"`
	Failed    int         `json:"failed"`
	FailedIDs []uuid.UUID `json:"failedIds"`
}

type answerKeyRequest struct {
	CorrectAnswer  string `json:"correctAnswer"`
	IsVoid         bool   `json:"isVoid"`
	PointsOverride *int   `json:"pointsOverride"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) gradeSubmission(w http.ResponseWriter, r *http.Request) {
	submissionID, ok := pathID(w, r, "submissionID")
	if !ok {
		return
	}
	scored, err := h.service.GradeSubmission(r.Context(), submissionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scored)
}

func (h *Handler) gradeGroup(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathID(w, r, "gameID")
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	res, err := h.service.GradeAllForGroup(r.Context(), gameID, groupID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatch(res))
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathID(w, r, "gameID")
	if !ok {
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if h.queue == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "background queue not configured"})
			return
		}
		if _, err := h.service.Game(r.Context(), gameID); err != nil {
			h.writeError(w, err)
			return
		}
		if err := h.queue.EnqueueRecalculation(r.Context(), gameID); err != nil {
			h.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	res, err := h.service.RecalculateGame(r.Context(), gameID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatch(res))
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathID(w, r, "gameID")
	if !ok {
		return
	}
	groupID, ok := queryGroup(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	rows, err := h.service.GetLeaderboard(r.Context(), gameID, groupID, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if rows == nil {
		rows = []domain.LeaderboardRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathID(w, r, "gameID")
	if !ok {
		return
	}
	groupID, ok := queryGroup(w, r)
	if !ok {
		return
	}
	stats, err := h.service.ScopeStats(r.Context(), domain.Scope{GameID: gameID, GroupID: groupID})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) setAnswerKey(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathID(w, r, "groupID")
	if !ok {
		return
	}
	questionID, ok := pathID(w, r, "questionID")
	if !ok {
		return
	}
	var req answerKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	res, err := h.service.SetAnswerKey(r.Context(), groupID, questionID, req.CorrectAnswer, req.IsVoid, req.PointsOverride)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatch(res))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidAnswerKey):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDataIntegrity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrConcurrencyConflict),
		errors.Is(err, domain.ErrSubmissionIncomplete),
		errors.Is(err, domain.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// queryGroup reads the optional group query parameter; absent means the global scope.
func queryGroup(w http.ResponseWriter, r *http.Request) (*uuid.UUID, bool) {
	raw := r.URL.Query().Get("group")
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid group"})
		return nil, false
	}
	return &id, true
}

func toBatch(res domain.BatchResult) batchResponse {
	failed := res.Failed
	if failed == nil {
		failed = []uuid.UUID{}
	}
	return batchResponse{Graded: res.Graded, Failed: len(failed), FailedIDs: failed}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
