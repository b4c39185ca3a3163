// Package server exposes the orchestration core over a JSON/NDJSON HTTP
// API for the browser front-end.
//
// Endpoints:
//   - GET    /health                            - health check
//   - GET    /api/models                        - models across all backends
//   - GET    /api/conversations                 - list conversations
//   - GET    /api/conversations/{id}/messages   - persisted messages
//   - GET    /api/conversations/{id}/search?q=  - full-text search
//   - POST   /api/conversations/{id}/open       - switch the active conversation
//   - DELETE /api/conversations/{id}            - delete a conversation
//   - POST   /api/prompt                        - fan a prompt out, NDJSON stream back
//   - POST   /api/regenerate                    - regenerate one model, NDJSON stream back
//   - GET    /api/turn                          - merged view of the conversation
//   - POST   /api/evaluate                      - evaluate the whole turn
//   - POST   /api/evaluate/{model}              - manual single-model evaluation
//   - GET    /api/evaluations                   - evaluation results/errors/in-flight
//   - POST   /api/highlights/{model}            - highlight analysis for one model
//   - GET    /api/stats                         - storage statistics
//   - POST   /api/vacuum                        - compact the database file
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/amlervishal/ollamalens/core"
	"github.com/amlervishal/ollamalens/db"
	"github.com/amlervishal/ollamalens/eval"
	"github.com/amlervishal/ollamalens/llm"
	"github.com/amlervishal/ollamalens/utils"
)

// Version is the API version reported by /health
const Version = "0.1.0"

// Server wires the orchestrator, reconciler, and store into HTTP handlers
type Server struct {
	orch      *core.Orchestrator
	recon     *eval.Reconciler
	registry  *llm.Registry
	database  *db.DB
	logger    *utils.Logger
	cfg       utils.ServerConfig
	startTime time.Time
}

// New creates a server around the given collaborators
func New(orch *core.Orchestrator, recon *eval.Reconciler, registry *llm.Registry, database *db.DB, logger *utils.Logger, cfg utils.ServerConfig) *Server {
	return &Server{
		orch:      orch,
		recon:     recon,
		registry:  registry,
		database:  database,
		logger:    logger,
		cfg:       cfg,
		startTime: time.Now(),
	}
}

// Routes builds the handler chain
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/models", s.handleModels)
	mux.HandleFunc("/api/conversations", s.handleConversations)
	mux.HandleFunc("/api/conversations/", s.handleConversationByID)
	mux.HandleFunc("/api/prompt", s.handlePrompt)
	mux.HandleFunc("/api/regenerate", s.handleRegenerate)
	mux.HandleFunc("/api/turn", s.handleTurn)
	mux.HandleFunc("/api/evaluate", s.handleEvaluateAll)
	mux.HandleFunc("/api/evaluate/", s.handleEvaluateOne)
	mux.HandleFunc("/api/evaluations", s.handleEvaluations)
	mux.HandleFunc("/api/highlights/", s.handleHighlights)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/vacuum", s.handleVacuum)

	maxBody := s.cfg.MaxBodyBytes
	if maxBody == 0 {
		maxBody = 8 * 1024 * 1024
	}

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(maxBody, handler)
	handler = corsMiddleware(s.cfg.AllowedOrigins, handler)
	handler = recoveryMiddleware(s.logger, handler)
	handler = loggingMiddleware(s.logger, handler)
	handler = requestIDMiddleware(handler)
	return handler
}

// ListenAndServe runs the server until the listener fails
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP API listening on %s", s.cfg.Addr)
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// --- Request/response shapes ---

type apiAttachment struct {
	Type     string `json:"type"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename"`
	Data     string `json:"data"` // base64
}

type promptRequest struct {
	Prompt      string          `json:"prompt"`
	Models      []string        `json:"models"`
	Attachments []apiAttachment `json:"attachments,omitempty"`
}

type regenerateRequest struct {
	Model string `json:"model"`
}

type streamEvent struct {
	Event    string              `json:"event"` // "update" or "all_done"
	Response *core.ModelResponse `json:"response,omitempty"`
	Result   *core.TurnResult    `json:"result,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": Version,
		"uptime":  time.Since(s.startTime).String(),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	models := s.registry.ListAllModels(r.Context())
	if models == nil {
		models = []llm.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, models)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	conversations, err := s.database.ListConversations(limit, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if conversations == nil {
		conversations = []*db.Conversation{}
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.SplitN(rest, "/", 2)

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid conversation id %q", parts[0]))
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodDelete:
		if s.orch.ConversationID() == id {
			s.orch.Reset()
		}
		if err := s.database.DeleteConversation(id); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case action == "messages" && r.Method == http.MethodGet:
		messages, err := s.database.ListMessages(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if messages == nil {
			messages = []*db.Message{}
		}
		writeJSON(w, http.StatusOK, messages)

	case action == "search" && r.Method == http.MethodGet:
		query := r.URL.Query().Get("q")
		if query == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("missing query parameter q"))
			return
		}
		messages, err := s.database.SearchMessages(id, query, 50)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if messages == nil {
			messages = []*db.Message{}
		}
		writeJSON(w, http.StatusOK, messages)

	case action == "open" && r.Method == http.MethodPost:
		if err := s.orch.OpenConversation(id); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"conversation_id": id})

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	attachments, err := decodeAttachments(req.Attachments)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	stream := newNDJSONStream(w)

	result, err := s.orch.SendPrompt(r.Context(), core.SendRequest{
		Prompt:      req.Prompt,
		Attachments: attachments,
		Models:      req.Models,
	}, stream.observe)

	if err != nil {
		if !stream.started {
			writeError(w, statusForOrchestratorError(err), err)
			return
		}
		stream.send(streamEvent{Event: "all_done", Error: err.Error()})
		return
	}

	stream.send(streamEvent{Event: "all_done", Result: result})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req regenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing model"))
		return
	}

	stream := newNDJSONStream(w)

	result, err := s.orch.Regenerate(r.Context(), req.Model, stream.observe)
	if err != nil {
		if !stream.started {
			writeError(w, statusForOrchestratorError(err), err)
			return
		}
		stream.send(streamEvent{Event: "all_done", Error: err.Error()})
		return
	}

	stream.send(streamEvent{Event: "all_done", Result: result})
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	convID := s.orch.ConversationID()
	if convID == 0 {
		writeJSON(w, http.StatusOK, []core.Turn{})
		return
	}

	messages, err := s.database.ListMessages(convID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	turns := core.MergeTurns(messages, s.orch.Selected(), s.orch.Tracker().Snapshot())
	writeJSON(w, http.StatusOK, turns)
}

func (s *Server) handleEvaluateAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	selected := s.orch.Selected()
	if len(selected) == 0 {
		writeError(w, http.StatusConflict, fmt.Errorf("no active turn to evaluate"))
		return
	}

	s.recon.EvaluateAll(r.Context(), s.orch.Prompt(), s.orch.Tracker().Snapshot(), selected)
	writeJSON(w, http.StatusAccepted, s.recon.Status())
}

func (s *Server) handleEvaluateOne(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	model := strings.TrimPrefix(r.URL.Path, "/api/evaluate/")
	if model == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing model"))
		return
	}

	result, err := s.recon.EvaluateOne(r.Context(), s.orch.Prompt(), model, s.orch.Tracker().Snapshot())
	if err != nil {
		writeError(w, statusForEvalError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEvaluations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.recon.Status())
}

func (s *Server) handleHighlights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	model := strings.TrimPrefix(r.URL.Path, "/api/highlights/")
	if model == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing model"))
		return
	}

	highlights, err := s.recon.AnalyzeHighlights(r.Context(), s.orch.Prompt(), model, s.orch.Tracker().Snapshot())
	if err != nil {
		writeError(w, statusForEvalError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, highlights)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.database.GetStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleVacuum(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.database.Vacuum(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	stats, err := s.database.GetStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- Streaming helper ---

// ndjsonStream writes newline-delimited JSON events, flushing after each
// so the browser sees tokens as they arrive
type ndjsonStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	enc     *json.Encoder
	started bool
}

func newNDJSONStream(w http.ResponseWriter) *ndjsonStream {
	flusher, _ := w.(http.Flusher)
	return &ndjsonStream{w: w, flusher: flusher, enc: json.NewEncoder(w)}
}

func (s *ndjsonStream) start() {
	if s.started {
		return
	}
	s.started = true
	s.w.Header().Set("Content-Type", "application/x-ndjson")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.WriteHeader(http.StatusOK)
}

func (s *ndjsonStream) observe(resp core.ModelResponse) {
	s.send(streamEvent{Event: "update", Response: &resp})
}

func (s *ndjsonStream) send(ev streamEvent) {
	s.start()
	if err := s.enc.Encode(ev); err != nil {
		return
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// --- Helpers ---

func decodeAttachments(in []apiAttachment) ([]llm.Attachment, error) {
	if len(in) == 0 {
		return nil, nil
	}

	attachments := make([]llm.Attachment, 0, len(in))
	for _, a := range in {
		data, err := utils.DecodeAttachmentData(a.Data)
		if err != nil {
			return nil, fmt.Errorf("attachment %q: %w", a.Filename, err)
		}

		attType := a.Type
		if attType == "" {
			if utils.IsImageMime(a.MimeType) {
				attType = "image"
			} else if utils.IsTextMime(a.MimeType) {
				attType = "file"
			} else {
				return nil, fmt.Errorf("attachment %q: unsupported mime type %q", a.Filename, a.MimeType)
			}
		}

		attachments = append(attachments, llm.Attachment{
			Type:     attType,
			MimeType: a.MimeType,
			Data:     data,
			Filename: a.Filename,
		})
	}
	return attachments, nil
}

func statusForOrchestratorError(err error) int {
	switch {
	case errors.Is(err, core.ErrEmptyPrompt), errors.Is(err, core.ErrNoModels):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUnknownModel), errors.Is(err, core.ErrNoActiveTurn):
		return http.StatusNotFound
	case errors.Is(err, core.ErrRegenerateInFlight), errors.Is(err, core.ErrPromptInFlight):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func statusForEvalError(err error) int {
	if errors.Is(err, eval.ErrNotEvaluable) {
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}
