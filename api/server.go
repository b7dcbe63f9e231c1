// Package api exposes the conversation pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fabfab/ragchat/ingestion"
	"github.com/fabfab/ragchat/metrics"
	"github.com/fabfab/ragchat/rag"
	"github.com/fabfab/ragchat/results"
)

// PipelineFactory builds a fresh pipeline for a new session.
type PipelineFactory func() (*rag.Pipeline, error)

// Ingestor runs directory ingests for the ingest endpoint.
type Ingestor interface {
	IngestDirectory(ctx context.Context, dir string) (ingestion.Stats, error)
}

// Resetter clears the vector store behind the clear endpoint.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Options wires the server's collaborators. Factory is required; the
// rest degrade gracefully when absent.
type Options struct {
	Factory     PipelineFactory
	Ingestor    Ingestor
	Store       Resetter
	Metrics     *metrics.Metrics
	Results     *results.Writer
	Logger      *zap.Logger
	DataDir     string
	MaxSessions int
}

// Server exposes HTTP handlers for the ragchat workflows. Conversations
// are keyed by session ID; each session owns one pipeline and its
// history.
type Server struct {
	opts     Options
	logger   *zap.Logger
	metrics  *metrics.Metrics
	sessions *sessionPool
	handler  http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

type chatResponse struct {
	SessionID string       `json:"session_id"`
	Answer    string       `json:"answer"`
	Sources   []chatSource `json:"sources"`
}

type chatSource struct {
	DocumentID string  `json:"document_id"`
	Source     string  `json:"source"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

type ingestRequest struct {
	Dir string `json:"dir"`
}

type ingestResponse struct {
	Files  int `json:"files"`
	Chunks int `json:"chunks"`
}

type clearRequest struct {
	Confirm bool `json:"confirm"`
}

func New(opts Options) (*Server, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("pipeline factory is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 100
	}

	s := &Server{
		opts:     opts,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		sessions: newSessionPool(opts.MaxSessions, opts.Factory),
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Post("/v1/chat", s.handleChat)
	r.Post("/v1/ingest", s.handleIngest)
	r.Post("/v1/clear", s.handleClear)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return
	}

	sess, err := s.sessions.acquire(req.SessionID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("create session: %w", err))
		return
	}

	answer, err := sess.pipeline.Ask(r.Context(), req.Question)
	if err != nil {
		s.metrics.TurnsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		s.writeError(w, statusForError(err), fmt.Errorf("chat failed: %w", err))
		return
	}

	s.metrics.TurnsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	if len(answer.Sources) == 0 {
		s.metrics.EmptyRetrievals.Inc()
	}

	if s.opts.Results != nil {
		if err := s.opts.Results.Record(sess.id, req.Question, answer.Text, rag.SourceLabels(answer.Sources)); err != nil {
			s.logger.Warn("record transcript failed", zap.Error(err))
		}
	}

	s.writeJSON(w, http.StatusOK, chatResponse{
		SessionID: sess.id,
		Answer:    answer.Text,
		Sources:   toChatSources(answer.Sources),
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ingestor == nil {
		s.writeError(w, http.StatusNotImplemented, fmt.Errorf("ingestion is not configured"))
		return
	}

	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	dir := strings.TrimSpace(req.Dir)
	if dir == "" {
		dir = s.opts.DataDir
	}
	if dir == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("dir is required"))
		return
	}

	stats, err := s.opts.Ingestor.IngestDirectory(r.Context(), dir)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("ingestion failed: %w", err))
		return
	}

	s.metrics.DocumentsIngested.Add(float64(stats.Files))
	s.metrics.ChunksIngested.Add(float64(stats.Chunks))

	s.writeJSON(w, http.StatusOK, ingestResponse{Files: stats.Files, Chunks: stats.Chunks})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		s.writeError(w, http.StatusNotImplemented, fmt.Errorf("store does not support clearing"))
		return
	}

	var req clearRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	if !req.Confirm {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("confirm must be true to clear data"))
		return
	}

	if err := s.opts.Store.Reset(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("clear knowledge base: %w", err))
		return
	}

	// Existing conversations are grounded in the wiped index, so their
	// sessions go too.
	s.sessions.reset()
	s.logger.Info("knowledge base cleared")

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "knowledge base cleared"})
}

// statusForError maps pipeline failures to response codes: bad requests
// stay 4xx, upstream provider and store failures surface as 502.
func statusForError(err error) int {
	switch {
	case errors.Is(err, rag.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, rag.ErrRetrieval), errors.Is(err, rag.ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func toChatSources(sources []rag.Retrieval) []chatSource {
	out := make([]chatSource, len(sources))
	for i, src := range sources {
		out[i] = chatSource{
			DocumentID: src.DocumentID,
			Source:     src.Source,
			Snippet:    snippet(src.Text),
			Score:      src.Score,
		}
	}
	return out
}

func snippet(text string) string {
	const max = 200
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Warn("request failed", zap.Int("status", status), zap.Error(err))
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON body")
	}
	return nil
}
