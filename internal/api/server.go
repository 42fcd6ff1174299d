// Package api exposes the consumer-facing query interface over HTTP for the
// external UI layer: message log queries, outbound sends, deletion, the
// roster, and credential management.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"tglite/internal/domain"
	"tglite/internal/engine"
	"tglite/internal/metrics"
)

// SyncEngine is the slice of the engine the API consumes.
type SyncEngine interface {
	Messages(ctx context.Context) ([]domain.MessageRecord, error)
	Roster(ctx context.Context) ([]domain.RosterEntry, error)
	Send(ctx context.Context, targetID int64, text string) (*engine.SyncResult, error)
	Delete(ctx context.Context, id int64) (*engine.SyncResult, error)
	BotToken(ctx context.Context) (string, error)
}

// TokenStore is the credential store behind the token endpoints.
type TokenStore interface {
	Token() (string, error)
	SetToken(string) error
	Clear() error
}

type Server struct {
	engine SyncEngine
	tokens TokenStore
	logger *slog.Logger
	server *http.Server
}

type Config struct {
	Host   string
	Port   int
	Engine SyncEngine
	Tokens TokenStore
	Logger *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		engine: cfg.Engine,
		tokens: cfg.Tokens,
		logger: cfg.Logger,
	}

	r := mux.NewRouter()
	r.Use(s.requestLog)
	r.HandleFunc("/api/messages", s.handleGetMessages).Methods(http.MethodGet)
	r.HandleFunc("/api/messages", s.handleSendMessage).Methods(http.MethodPost)
	r.HandleFunc("/api/messages/{id:[0-9]+}", s.handleDeleteMessage).Methods(http.MethodDelete)
	r.HandleFunc("/api/roster", s.handleGetRoster).Methods(http.MethodGet)
	r.HandleFunc("/api/token", s.handleGetToken).Methods(http.MethodGet)
	r.HandleFunc("/api/token", s.handlePutToken).Methods(http.MethodPut)
	r.HandleFunc("/api/token", s.handleDeleteToken).Methods(http.MethodDelete)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Collector.Handler()).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start runs the listener in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("api server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server stopped", "error", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.NewString()
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r)
		s.logger.Debug("request handled",
			"id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.engine.Messages(r.Context())
	if err != nil {
		if msgs == nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		// Stale cache is better than nothing for the UI; the next poll
		// cycle will converge.
		s.logger.Warn("serving cached message log", "error", err)
	}
	if msgs == nil {
		msgs = []domain.MessageRecord{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendRequest struct {
	ConversationID int64  `json:"conversationId"`
	Text           string `json:"text"`
}

type mutationResponse struct {
	Messages        []domain.MessageRecord `json:"messages"`
	Roster          []domain.RosterEntry   `json:"roster,omitempty"`
	LogPersisted    bool                   `json:"logPersisted"`
	RosterPersisted bool                   `json:"rosterPersisted"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.ConversationID == domain.SystemConversationID {
		writeError(w, http.StatusBadRequest, fmt.Errorf("cannot send to the system conversation"))
		return
	}

	res, err := s.engine.Send(r.Context(), req.ConversationID, req.Text)
	if err != nil {
		var rej *domain.RejectedError
		if errors.As(err, &rej) {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationFrom(res))
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid message id"))
		return
	}

	res, err := s.engine.Delete(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationFrom(res))
}

func (s *Server) handleGetRoster(w http.ResponseWriter, r *http.Request) {
	roster, err := s.engine.Roster(r.Context())
	if err != nil {
		if roster == nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		s.logger.Warn("serving cached roster", "error", err)
	}
	if roster == nil {
		roster = []domain.RosterEntry{}
	}
	writeJSON(w, http.StatusOK, roster)
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	tok, err := s.tokens.Token()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if tok == "" {
		// Legacy deployments stored the token as a control record in
		// the log.
		tok, err = s.engine.BotToken(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, err)
			return
		}
	}
	if tok == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("bot token not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

func (s *Server) handlePutToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("token is required"))
		return
	}
	if err := s.tokens.SetToken(req.Token); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	if err := s.tokens.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func mutationFrom(res *engine.SyncResult) mutationResponse {
	return mutationResponse{
		Messages:        res.Messages,
		Roster:          res.Roster,
		LogPersisted:    res.LogPersist.Persisted || !res.LogPersist.Attempted,
		RosterPersisted: res.RosterPersist.Persisted || !res.RosterPersist.Attempted,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
