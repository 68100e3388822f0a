package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Billy-Davies-2/ladder-bot/internal/auth"
	"github.com/Billy-Davies-2/ladder-bot/internal/clickhouse"
	"github.com/Billy-Davies-2/ladder-bot/internal/command"
	apperrors "github.com/Billy-Davies-2/ladder-bot/internal/errors"
	"github.com/Billy-Davies-2/ladder-bot/internal/logger"
	"github.com/Billy-Davies-2/ladder-bot/internal/models"
	"github.com/Billy-Davies-2/ladder-bot/internal/pubsub"
)

// APIHandlers contains all API handler methods
type APIHandlers struct {
	dispatcher *command.Dispatcher
	events     pubsub.Broker
	stats      clickhouse.Analytics
	keepalive  time.Duration
}

// NewAPIHandlers creates a new API handlers instance. stats may be nil
func NewAPIHandlers(d *command.Dispatcher, events pubsub.Broker, stats clickhouse.Analytics) *APIHandlers {
	return &APIHandlers{
		dispatcher: d,
		events:     events,
		stats:      stats,
		keepalive:  30 * time.Second,
	}
}

// Routes registers the API on mux. protect wraps every route that needs a caller
func (h *APIHandlers) Routes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.Handle("POST /api/command", protect(http.HandlerFunc(h.Command)))
	mux.Handle("GET /api/standings", protect(http.HandlerFunc(h.Standings)))
	mux.Handle("GET /api/challenges", protect(http.HandlerFunc(h.ActiveChallenges)))
	mux.Handle("GET /api/history", protect(http.HandlerFunc(h.History)))
	mux.Handle("GET /api/printraw", protect(http.HandlerFunc(h.PrintRaw)))
	mux.Handle("GET /api/stats", protect(http.HandlerFunc(h.PlayerStats)))
	mux.Handle("GET /api/events", protect(http.HandlerFunc(h.EventsSSE)))
	mux.HandleFunc("GET /api/help", h.Help)
}

type errorBody struct {
	Error    string            `json:"error"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := apperrors.KindOf(err)
	body := errorBody{Error: string(kind), Message: apperrors.Message(err)}
	var e *apperrors.Error
	if errors.As(err, &e) {
		body.Metadata = e.Metadata
	}
	status := kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		logger.Error("Command failed", "kind", kind, "error", err)
	}
	writeJSON(w, status, body)
}

type commandRequest struct {
	Channel string            `json:"channel"`
	Mode    string            `json:"mode"`
	Command string            `json:"command"`
	Params  map[string]string `json:"params"`
}

func (h *APIHandlers) run(w http.ResponseWriter, r *http.Request, req commandRequest) {
	caller := auth.CallerFrom(r.Context())
	if caller == nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "UNAUTHENTICATED", Message: "login required"})
		return
	}
	if strings.TrimSpace(req.Channel) == "" && req.Command != "help" {
		writeError(w, apperrors.New(apperrors.KindInvalidValue, "channel is required").With("param", "channel"))
		return
	}
	mode, ok := models.ParseMode(req.Mode)
	if !ok {
		writeError(w, apperrors.New(apperrors.KindInvalidValue, "unknown tournament mode %q", req.Mode).With("param", "mode"))
		return
	}

	cmd, err := command.Parse(req.Command, req.Params)
	if err != nil {
		writeError(w, err)
		return
	}

	logger.Debug("Running command", "command", cmd.Name(), "channel", req.Channel, "caller", caller.ID)
	resp, err := h.dispatcher.Dispatch(r.Context(), command.Request{
		Channel: req.Channel,
		Mode:    mode,
		Caller:  caller.ID,
		Admin:   caller.Admin,
		Command: cmd,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Command runs any command from a JSON body
func (h *APIHandlers) Command(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		logger.Warn("Failed to decode command request", "error", err)
		writeError(w, apperrors.Wrap(apperrors.KindInvalidValue, err, "request body is not valid JSON"))
		return
	}
	h.run(w, r, req)
}

// query builds a read command from the query string
func query(r *http.Request, name string, params ...string) commandRequest {
	q := r.URL.Query()
	req := commandRequest{
		Channel: q.Get("channel"),
		Mode:    q.Get("mode"),
		Command: name,
		Params:  map[string]string{},
	}
	for _, p := range params {
		if v := q.Get(p); v != "" {
			req.Params[p] = v
		}
	}
	return req
}

// Standings returns the current standings
func (h *APIHandlers) Standings(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, query(r, "standings"))
}

// ActiveChallenges returns the open challenges
func (h *APIHandlers) ActiveChallenges(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, query(r, "active_challenges"))
}

// History returns recent matches, newest first
func (h *APIHandlers) History(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, query(r, "history", "length"))
}

// PrintRaw returns the raw tournament snapshot
func (h *APIHandlers) PrintRaw(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, query(r, "printraw"))
}

func (h *APIHandlers) Help(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, command.Response{Text: command.HelpText()})
}

// PlayerStats returns a player's match totals from the analytics mirror
func (h *APIHandlers) PlayerStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "NOT_CONFIGURED", Message: "analytics are not configured"})
		return
	}

	q := r.URL.Query()
	channel, player := q.Get("channel"), q.Get("player")
	if channel == "" || player == "" {
		writeError(w, apperrors.New(apperrors.KindInvalidValue, "channel and player are required"))
		return
	}
	mode, ok := models.ParseMode(q.Get("mode"))
	if !ok {
		writeError(w, apperrors.New(apperrors.KindInvalidValue, "unknown tournament mode %q", q.Get("mode")))
		return
	}

	stats, err := h.stats.PlayerStats(r.Context(), models.Key{Channel: channel, Mode: mode}, player)
	if err != nil {
		logger.Error("Failed to query player stats", "player", player, "error", err)
		writeError(w, apperrors.Unavailable(err, "stats"))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// EventsSSE streams committed tournament events. ?channel= narrows the
// stream to one channel
func (h *APIHandlers) EventsSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	channel := r.URL.Query().Get("channel")
	events := h.events.Subscribe()
	defer h.events.Unsubscribe(events)

	fmt.Fprintf(w, "data: {\"type\":\"connected\"}\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if channel != "" && !strings.HasPrefix(event.Tournament, channel+"/") {
				continue
			}
			data, err := json.Marshal(event)
			if err != nil {
				logger.Warn("Failed to encode event", "type", event.Type, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		case <-r.Context().Done():
			logger.Debug("SSE client disconnected")
			return
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
