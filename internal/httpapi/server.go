package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/voxhook/voxhook/internal/config"
	"github.com/voxhook/voxhook/internal/logger"
	"github.com/voxhook/voxhook/internal/observability"
	"github.com/voxhook/voxhook/internal/protocol"
	"github.com/voxhook/voxhook/internal/turnlog"
	"github.com/voxhook/voxhook/internal/webhook"
)

const maxBodyBytes = 1 << 20

type Server struct {
	cfg        config.Config
	dispatcher *webhook.Dispatcher
	turns      turnlog.Store
	metrics    *observability.Metrics
}

func New(cfg config.Config, dispatcher *webhook.Dispatcher, turns turnlog.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		turns:      turns,
		metrics:    metrics,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(logger.RequestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/webhook", s.handleWebhook)
	r.Get("/v1/turns", s.handleListTurns)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"turn_log_mode": s.turnLogMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"turn_log_mode": s.turnLogMode(),
	})
}

// handleWebhook runs one full turn: decode, dispatch, respond, record.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		logger.Log.Error("cannot read request body", zap.Error(err))
		s.countTurn("unknown", observability.OutcomeParseError)
		writeParseError(w, "cannot read request body")
		return
	}
	defer r.Body.Close()

	req, err := protocol.ParseRequest(body, r.Header.Get)
	if err != nil {
		logger.Log.Error("cannot decode webhook request", zap.Error(err))
		s.countTurn("unknown", observability.OutcomeParseError)
		writeParseError(w, err.Error())
		return
	}
	s.metrics.ObserveStage("decode", time.Since(start))

	conv := webhook.NewConversation(req, w)
	intent := conv.Intent()
	if intent != "" {
		s.metrics.Dispatches.WithLabelValues(intent).Inc()
	}

	dispatchStart := time.Now()
	dispatchErr := s.dispatcher.Dispatch(r.Context(), conv)
	s.metrics.ObserveStage("dispatch", time.Since(dispatchStart))

	outcome := classifyOutcome(dispatchErr, conv)
	s.countTurn(string(req.Schema), outcome)
	s.metrics.ObserveTurnLatency(time.Since(start))

	s.recordTurn(r, req, conv, time.Since(start))
}

func classifyOutcome(err error, conv *webhook.Conversation) string {
	switch {
	case err == nil:
		return observability.OutcomeOK
	case isDispatchError(err):
		return observability.OutcomeDispatchError
	case conv.Final() && conv.ResponseText() == "":
		return observability.OutcomeValidationError
	default:
		return observability.OutcomeHandlerError
	}
}

func isDispatchError(err error) bool {
	return errors.Is(err, webhook.ErrNoMatch) || errors.Is(err, webhook.ErrNoIntent)
}

func (s *Server) countTurn(protocolLabel, outcome string) {
	s.metrics.Turns.WithLabelValues(protocolLabel, outcome).Inc()
	switch outcome {
	case observability.OutcomeOK:
		return
	case observability.OutcomeParseError:
		s.metrics.ValidationErrors.WithLabelValues("request_body").Inc()
	case observability.OutcomeValidationError:
		s.metrics.ValidationErrors.WithLabelValues("response_builder").Inc()
	}
	s.metrics.ObserveOutcomeIndicator(outcome)
}

// recordTurn persists the turn outcome; store failures never fail the turn.
func (s *Server) recordTurn(r *http.Request, req *protocol.Request, conv *webhook.Conversation, latency time.Duration) {
	if s.turns == nil || !conv.Responded() {
		return
	}
	rec := turnlog.Record{
		ConversationID: conv.ConversationID(),
		Protocol:       string(req.Schema),
		Intent:         conv.Intent(),
		RawInput:       conv.RawInput(),
		ResponseText:   conv.ResponseText(),
		Final:          conv.Final(),
		LatencyMS:      latency.Milliseconds(),
	}
	if err := s.turns.SaveTurn(r.Context(), rec); err != nil {
		logger.Log.Error("cannot save turn record", zap.Error(err))
		s.metrics.TurnLogFailures.Inc()
	}
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(r.URL.Query().Get("conversation_id"))
	if conversationID == "" {
		respondError(w, http.StatusBadRequest, "missing_conversation_id", "query parameter conversation_id is required")
		return
	}

	limit := s.cfg.TurnLogLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		if n < limit {
			limit = n
		}
	}

	turns, err := s.turns.RecentTurns(r.Context(), conversationID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "turnlog_error", err.Error())
		return
	}
	if turns == nil {
		turns = []turnlog.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"turns":           turns,
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotStages())
}

func (s *Server) turnLogMode() string {
	switch s.turns.(type) {
	case nil:
		return "disabled"
	case *turnlog.InMemoryStore:
		return "in-memory"
	default:
		return "postgres"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeParseError(w http.ResponseWriter, msg string) {
	w.Header().Set(protocol.HeaderContentType, "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write([]byte(webhook.ErrorPrefix + msg))
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(protocol.HeaderContentType, protocol.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
