package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/siteqa/internal/answer"
	"github.com/knowledge-engine/siteqa/internal/engine"
	"github.com/knowledge-engine/siteqa/internal/observability"
	"github.com/knowledge-engine/siteqa/internal/politeness"
)

const RequestIDHeader = "X-Request-ID"

type Server struct {
	Engine  *engine.Engine
	Logger  *logrus.Entry
	Router  *http.ServeMux
	Metrics *observability.Metrics

	httpServer *http.Server
}

func NewServer(eng *engine.Engine, metrics *observability.Metrics, logger *logrus.Entry) *Server {
	s := &Server{
		Engine:  eng,
		Logger:  logger,
		Router:  http.NewServeMux(),
		Metrics: metrics,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.HandleFunc("/api/v1/ask", s.handleAsk)
	s.Router.HandleFunc("/api/v1/status", s.handleStatus)
	if s.Metrics != nil {
		s.Router.Handle("/metrics", s.Metrics.Handler())
	}
}

// Handler returns the router wrapped with request id tagging and access logs.
func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.Router)
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.Logger.Infof("Starting API Server on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Responses
type ErrorResponse struct {
	Error string `json:"error"`
}

type AskResponse struct {
	Query   string          `json:"query"`
	Answer  string          `json:"answer"`
	Sources []answer.Source `json:"sources"`
}

type StatusResponse struct {
	Running       bool                   `json:"running"`
	Queries       int64                  `json:"queries"`
	CacheHits     int64                  `json:"cache_hits"`
	Failures      int64                  `json:"failures"`
	LastError     string                 `json:"last_error,omitempty"`
	CachedAnswers int                    `json:"cached_answers"`
	Uptime        string                 `json:"uptime"`
	Gate          *politeness.Statistics `json:"gate,omitempty"`
}

// Handlers

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		jsonResponse(w, http.StatusBadRequest, ErrorResponse{Error: "Query 'q' is required"})
		return
	}

	resp := s.Engine.ProcessQuery(r.Context(), query)
	jsonResponse(w, http.StatusOK, AskResponse{
		Query:   query,
		Answer:  resp.Answer,
		Sources: resp.Sources,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.Engine.GetStats()

	resp := StatusResponse{
		Running:       s.Engine.IsRunning(),
		Queries:       stats.Queries,
		CacheHits:     stats.CacheHits,
		Failures:      stats.Failures,
		LastError:     stats.LastError,
		CachedAnswers: s.Engine.Cache.Len(),
		Uptime:        time.Since(stats.StartTime).Round(time.Second).String(),
	}
	if s.Engine.Politeness != nil {
		gate := s.Engine.Politeness.GetStatistics()
		resp.Gate = &gate
	}

	jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		start := time.Now()
		next.ServeHTTP(w, r)

		s.Logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"duration":   time.Since(start),
		}).Debug("Handled request")
	})
}

func jsonResponse(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
