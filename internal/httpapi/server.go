package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/antoniostano/salut/internal/config"
	"github.com/antoniostano/salut/internal/observability"
	"github.com/antoniostano/salut/internal/session"
	"github.com/antoniostano/salut/internal/store"
	"github.com/antoniostano/salut/internal/transcript"
)

// Tutor is the session surface the HTTP layer drives.
type Tutor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SendText(ctx context.Context, text string) error
	Snapshot() session.Snapshot
	Transcript() []transcript.Item
	Subscribe() (<-chan session.Event, func())
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type Server struct {
	cfg      config.Config
	tutor    Tutor
	store    store.Store
	metrics  *observability.Metrics
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, tutor Tutor, st store.Store, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		tutor:   tutor,
		store:   st,
		metrics: metrics,
		logger:  logger.With().Str("component", "httpapi").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive the microphone session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/v1/tutor", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Post("/session/start", s.handleStart)
		r.Post("/session/stop", s.handleStop)
		r.Post("/session/text", s.handleText)
		r.Get("/transcript", s.handleTranscript)
		r.Get("/history", s.handleHistory)
		r.Get("/progress", s.handleProgress)
		r.Post("/progress/reset", s.handleResetProgress)
		r.Get("/perf", s.handlePerfLatency)
		r.Get("/ws", s.handleWS)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.storeMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"state":      s.tutor.Snapshot().State,
		"store_mode": s.storeMode(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.tutor.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.tutor.Start(r.Context()); err != nil {
		respondError(w, statusFor(err), "start_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, s.tutor.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.tutor.Stop(r.Context()); err != nil {
		respondError(w, statusFor(err), "stop_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.tutor.Snapshot())
}

type textRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.tutor.SendText(r.Context(), req.Text); err != nil {
		respondError(w, statusFor(err), "send_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

func (s *Server) handleTranscript(w http.ResponseWriter, _ *http.Request) {
	items := s.tutor.Transcript()
	if items == nil {
		items = []transcript.Item{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	records, err := s.store.RecentTranscript(r.Context(), s.cfg.ProgressKey, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	if records == nil {
		records = []store.TranscriptRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": records})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, err := store.LoadOrNew(r.Context(), s.store, s.cfg.ProgressKey)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "progress_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleResetProgress(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ResetProgress(r.Context(), s.cfg.ProgressKey); err != nil {
		respondError(w, http.StatusInternalServerError, "reset_failed", err.Error())
		return
	}
	s.logger.Info().Str("key", s.cfg.ProgressKey).Msg("progress reset")
	s.handleProgress(w, r)
}

func (s *Server) storeMode() string {
	if s.store == nil {
		return "disabled"
	}
	return s.store.Mode()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrEmptyText):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, session.ErrControllerStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
