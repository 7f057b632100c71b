// Package api serves the read-only run and dashboard status API, plus
// insight acknowledgement.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/store"
)

const (
	defaultRunLimit      = 20
	defaultSnapshotLimit = 8
	maxLimit             = 500
)

// Store is the store surface the API reads and writes.
type Store interface {
	Ping(ctx context.Context) error
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListStageRuns(ctx context.Context, runID string) ([]model.StageRun, error)
	ListWeeklySnapshots(ctx context.Context, f store.SnapshotFilter) ([]model.WeeklySnapshot, error)
	ListInsights(ctx context.Context, f store.InsightFilter) ([]model.Insight, error)
	AcknowledgeInsight(ctx context.Context, id int64) error
}

// Server holds the API handlers.
type Server struct {
	store Store
	loc   *time.Location
	log   *zap.Logger
}

// New creates a Server. Dates in query strings are read in loc.
func New(st Store, loc *time.Location) *Server {
	if loc == nil {
		loc = time.UTC
	}
	return &Server{store: st, loc: loc, log: zap.L().With(zap.String("component", "api"))}
}

// Router builds the HTTP handler.
func (s *Server) Router(allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.healthz)
	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", s.listRuns)
		r.Get("/runs/{id}", s.getRun)
		r.Get("/snapshots", s.listSnapshots)
		r.Get("/insights", s.listInsights)
		r.Post("/insights/{id}/ack", s.ackInsight)
	})
	return r
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Warn("store ping failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.internal(w, "list runs", err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

type runDetail struct {
	model.Run
	StageRuns []model.StageRun `json:"stage_runs"`
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.internal(w, "get run", err)
		return
	}
	stages, err := s.store.ListStageRuns(r.Context(), id)
	if err != nil {
		s.internal(w, "list stage runs", err)
		return
	}
	if stages == nil {
		stages = []model.StageRun{}
	}
	writeJSON(w, http.StatusOK, runDetail{Run: *run, StageRuns: stages})
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	ch := model.Channel(r.URL.Query().Get("channel"))
	if ch != "" && !ch.Valid() {
		writeError(w, http.StatusBadRequest, "unknown channel "+strconv.Quote(string(ch)))
		return
	}
	limit, err := intParam(r, "limit", defaultSnapshotLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snaps, err := s.store.ListWeeklySnapshots(r.Context(), store.SnapshotFilter{Channel: ch})
	if err != nil {
		s.internal(w, "list snapshots", err)
		return
	}
	writeJSON(w, http.StatusOK, lastWeeks(snaps, limit))
}

// lastWeeks keeps the snapshots of the newest limit weeks. snaps are
// ordered by week.
func lastWeeks(snaps []model.WeeklySnapshot, limit int) []model.WeeklySnapshot {
	out := []model.WeeklySnapshot{}
	weeks := 0
	for i := len(snaps) - 1; i >= 0; i-- {
		if i == len(snaps)-1 || snaps[i].WeekNum != snaps[i+1].WeekNum {
			weeks++
		}
		if weeks > limit {
			break
		}
		out = append(out, snaps[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (s *Server) listInsights(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.InsightFilter{Limit: maxLimit}
	if d := q.Get("date"); d != "" {
		t, err := time.ParseInLocation(time.DateOnly, d, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		f.Date = &t
	}
	if o := q.Get("open"); o != "" {
		open, err := strconv.ParseBool(o)
		if err != nil {
			writeError(w, http.StatusBadRequest, "open must be a boolean")
			return
		}
		f.OpenOnly = open
	}
	insights, err := s.store.ListInsights(r.Context(), f)
	if err != nil {
		s.internal(w, "list insights", err)
		return
	}
	if insights == nil {
		insights = []model.Insight{}
	}
	writeJSON(w, http.StatusOK, insights)
}

func (s *Server) ackInsight(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid insight id")
		return
	}
	err = s.store.AcknowledgeInsight(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "insight not found")
		return
	}
	if err != nil {
		s.internal(w, "acknowledge insight", err)
		return
	}
	s.log.Info("insight acknowledged", zap.Int64("insight_id", id))
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "acknowledged": true})
}

func (s *Server) internal(w http.ResponseWriter, op string, err error) {
	s.log.Error("api: "+op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New(name + " must be a positive integer")
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
