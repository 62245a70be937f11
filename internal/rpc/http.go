package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/agentcore-ai/agentcore/internal/stream"
	"github.com/agentcore-ai/agentcore/pkg/apperr"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// Server binds a Router to chi's HTTP mux, grounded on the teacher's
// internal/server package: a hand-rolled SSE writer over
// http.ResponseController, a {error:{code,message}} JSON envelope, and the
// same middleware stack (request ID, logging, recoverer, CORS).
type Server struct {
	router *Router
	mux    *chi.Mux
}

// NewServer wires an HTTP binding for router.
func NewServer(router *Router) *Server {
	s := &Server{router: router, mux: chi.NewRouter()}
	s.mux.Use(middleware.RequestID)
	s.mux.Use(middleware.Logger)
	s.mux.Use(middleware.Recoverer)
	s.mux.Use(middleware.RealIP)
	s.mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	s.routes()
	return s
}

// Mux returns the chi router for tests and for embedding in a larger server.
func (s *Server) Mux() *chi.Mux { return s.mux }

func (s *Server) routes() {
	s.mux.Route("/rpc", func(r chi.Router) {
		// Queries and mutations (spec §6 request/response envelope).
		r.Post("/session.getRecent", s.sessionGetRecent)
		r.Post("/session.getByID", s.sessionGetByID)
		r.Post("/session.create", s.sessionCreate)
		r.Post("/session.updateTitle", s.callVoid2(Moderate, s.router.Session.UpdateTitle))
		r.Post("/session.updateModel", s.callVoid2(Moderate, s.router.Session.UpdateModel))
		r.Post("/session.updateProvider", s.callVoid2(Moderate, s.router.Session.UpdateProvider))
		r.Post("/session.updateRules", s.updateRules)
		r.Post("/session.delete", s.callVoidOne(Strict, s.router.Session.Delete))
		r.Post("/session.compact", s.sessionCompact)

		r.Post("/message.triggerStream", s.messageTriggerStream)

		r.Post("/todo.update", s.todoUpdate)

		r.Post("/config.load", s.configLoad)
		r.Post("/config.save", s.configSave)
		r.Post("/config.getProviders", s.configGetProviders)
		r.Post("/config.getProviderSchema", s.configGetProviderSchema)
		r.Post("/config.updateRules", s.configUpdateRules)
		r.Post("/config.countFileTokens", s.configCountFileTokens)

		// Subscriptions (spec §6 "GET ... SSE framing").
		r.Get("/message.subscribe", s.subscribeMessage)
		r.Get("/events.subscribe", s.subscribeEvents)
	})
}

// --- envelope plumbing ---

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeResult(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"result": v})
}

func writeErr(w http.ResponseWriter, err error) {
	status, code := classify(err)
	var env errorEnvelope
	env.Error.Code = code
	env.Error.Message = err.Error()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

func classify(err error) (int, string) {
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case apperr.InvariantViolated, apperr.ToolValidation:
		return http.StatusBadRequest, "INVALID_REQUEST"
	case apperr.SessionBusy:
		return http.StatusConflict, "SESSION_BUSY"
	case apperr.ProviderAuth:
		return http.StatusUnauthorized, "PROVIDER_AUTH"
	case apperr.ProviderNetwork, apperr.ProviderProtocol:
		return http.StatusBadGateway, "PROVIDER_ERROR"
	case apperr.Cancelled:
		return http.StatusRequestTimeout, "CANCELLED"
	case apperr.StorageFailed, apperr.ToolExecution:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// identity extracts the caller identity security levels are keyed on.
// Grounded on the teacher's instanceContext middleware: no auth layer is in
// scope here (spec Non-goals), so the X-Client-ID header, or the remote
// address when that header is absent, stands in for a per-caller identity.
func identity(r *http.Request) string {
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return id
	}
	return r.RemoteAddr
}

func (s *Server) rateLimit(w http.ResponseWriter, r *http.Request, level Level) bool {
	if s.router.limiter == nil {
		return true
	}
	if s.router.limiter.Allow(identity(r), level) {
		return true
	}
	var env errorEnvelope
	env.Error.Code = "RATE_LIMITED"
	env.Error.Message = "rate limit exceeded"
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(env)
	return false
}

func (s *Server) sessionGetRecent(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimit(w, r, Public) {
		return
	}
	in, err := decode[GetRecentInput](r)
	if err != nil {
		writeErr(w, err)
		return
	}
	out, err := s.router.Session.GetRecent(r.Context(), in)
	respond(w, out, err)
}

func (s *Server) sessionGetByID(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimit(w, r, Public) {
		return
	}
	id, err := decodeID(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	out, err := s.router.Session.GetByID(r.Context(), id)
	respond(w, out, err)
}

func (s *Server) sessionCreate(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimit(w, r, Moderate) {
		return
	}
	in, err := decode[CreateInput](r)
	if err != nil {
		writeErr(w, err)
		return
	}
	out, err := s.router.Session.Create(r.Context(), in)
	respond(w, out, err)
}

func (s *Server) sessionCompact(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimit(w, r, Strict) {
		return
	}
	id, err := decodeID(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	out, err := s.router.Session.Compact(r.Context(), id)
	respond(w, out, err)
}

func (s *Server) messageTriggerStream(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimit(w, r, Strict) {
		return
	}
	in, err := decodeTriggerRequest(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	out, err := s.router.Message.TriggerStream(r.Context(), in)
	respond(w, out, err)
}

// decodeTriggerRequest decodes message.triggerStream's body by hand: Content
// is a []types.Part tagged union, which encoding/json cannot populate
// through the Part interface on its own, so each element is decoded via
// types.UnmarshalPart once its raw JSON is available.
func decodeTriggerRequest(r *http.Request) (stream.TriggerRequest, error) {
	var wire struct {
		SessionID string            `json:"sessionID"`
		Provider  string            `json:"provider"`
		Model     string            `json:"model"`
		AgentID   string            `json:"agentID"`
		Content   []json.RawMessage `json:"content"`
	}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&wire); err != nil && err.Error() != "EOF" {
			return stream.TriggerRequest{}, apperr.Wrap(apperr.InvariantViolated, "decode request body", err)
		}
	}
	req := stream.TriggerRequest{SessionID: wire.SessionID, Provider: wire.Provider, Model: wire.Model, AgentID: wire.AgentID}
	for _, raw := range wire.Content {
		part, err := types.UnmarshalPart(raw)
		if err != nil {
			return stream.TriggerRequest{}, apperr.Wrap(apperr.InvariantViolated, "decode content part", err)
		}
		req.Content = append(req.Content, part)
	}
	return req, nil
}

func respond(w http.ResponseWriter, out any, err error) {
	if err != nil {
		writeErr(w, err)
		return
	}
	writeResult(w, out)
}

func decode[T any](r *http.Request) (T, error) {
	var v T
	if r.Body == nil {
		return v, nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&v); err != nil && err.Error() != "EOF" {
		return v, apperr.Wrap(apperr.InvariantViolated, "decode request body", err)
	}
	return v, nil
}

// callVoidOne handles a procedure taking a single string argument and
// returning only an error.
func (s *Server) callVoidOne(level Level, fn func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimit(w, r, level) {
			return
		}
		id, err := decodeID(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		if err := fn(r.Context(), id); err != nil {
			writeErr(w, err)
			return
		}
		writeResult(w, map[string]bool{"ok": true})
	}
}

// callVoid2 handles a procedure taking two string arguments (sessionID plus
// one field) and returning only an error.
func (s *Server) callVoid2(level Level, fn func(context.Context, string, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimit(w, r, level) {
			return
		}
		var in struct {
			SessionID string
			Value     string
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeErr(w, apperr.Wrap(apperr.InvariantViolated, "decode request body", err))
			return
		}
		if err := fn(r.Context(), in.SessionID, in.Value); err != nil {
			writeErr(w, err)
			return
		}
		writeResult(w, map[string]bool{"ok": true})
	}
}

func decodeID(r *http.Request) (string, error) {
	var in struct {
		SessionID string `json:"sessionID"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&in)
	}
	if in.SessionID == "" {
		return "", apperr.New(apperr.InvariantViolated, "sessionID required")
	}
	return in.SessionID, nil
}

func (s *Server) updateRules(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimit(w, r, Moderate) {
		return
	}
	var in struct {
		SessionID      string   `json:"sessionID"`
		EnabledRuleIDs []string `json:"enabledRuleIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, apperr.Wrap(apperr.InvariantViolated, "decode request body", err))
		return
	}
	if err := s.router.Session.UpdateRules(r.Context(), in.SessionID, in.EnabledRuleIDs); err != nil {
		writeErr(w, err)
		return
	}
	writeResult(w, map[string]bool{"ok": true})
}

func (s *Server) todoUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimit(w, r, Moderate) {
		return
	}
	var in UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, apperr.Wrap(apperr.InvariantViolated, "decode request body", err))
		return
	}
	if err := s.router.Todo.Update(r.Context(), in); err != nil {
		writeErr(w, err)
		return
	}
	writeResult(w, map[string]bool{"ok": true})
}

func (s *Server) configLoad(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimit(w, r, Public) {
		return
	}
	out, err := s.router.Config.Load(r.Context())
	respond(w, out, err)
}

func (s *Server) configSave(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimit(w, r, Moderate) {
		return
	}
	var cfg types.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeErr(w, apperr.Wrap(apperr.InvariantViolated, "decode request body", err))
		return
	}
	if err := s.router.Config.Save(r.Context(), &cfg); err != nil {
		writeErr(w, err)
		return
	}
	writeResult(w, map[string]bool{"ok": true})
}

func (s *Server) configGetProviders(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimit(w, r, Public) {
		return
	}
	writeResult(w, s.router.Config.GetProviders(r.Context()))
}

func (s *Server) configGetProviderSchema(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimit(w, r, Public) {
		return
	}
	var in struct {
		ProviderID string `json:"providerID"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, apperr.Wrap(apperr.InvariantViolated, "decode request body", err))
		return
	}
	out, err := s.router.Config.GetProviderSchema(r.Context(), in.ProviderID)
	respond(w, out, err)
}

func (s *Server) configUpdateRules(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimit(w, r, Moderate) {
		return
	}
	var in UpdateRulesInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, apperr.Wrap(apperr.InvariantViolated, "decode request body", err))
		return
	}
	out, err := s.router.Config.UpdateRules(r.Context(), in)
	respond(w, out, err)
}

func (s *Server) configCountFileTokens(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimit(w, r, Public) {
		return
	}
	var in CountFileTokensInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, apperr.Wrap(apperr.InvariantViolated, "decode request body", err))
		return
	}
	out, err := s.router.Config.CountFileTokens(r.Context(), in)
	respond(w, out, err)
}

// --- subscriptions ---

const sseHeartbeatInterval = 30 * time.Second

// sseWriter mirrors the teacher's hand-rolled SSE writer (internal/server's
// sse.go): a ResponseController-based flush with a Flusher fallback.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &sseWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

func (s *sseWriter) writeEvent(ev types.Event) error {
	if _, err := fmt.Fprintf(s.w, "id: %s\ndata: %s\n\n", ev.ID, ev.Payload); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *sseWriter) writeHeartbeat() {
	fmt.Fprint(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// cursorFromQuery parses a reconnecting client's "?ts=...&seq=..." resume
// position (spec §6: "reconnection via a (timestamp,sequence) query
// parameter resuming through the Event Log").
func cursorFromQuery(r *http.Request) *types.Cursor {
	ts := r.URL.Query().Get("ts")
	seq := r.URL.Query().Get("seq")
	if ts == "" || seq == "" {
		return nil
	}
	t, err1 := strconv.ParseInt(ts, 10, 64)
	sq, err2 := strconv.ParseInt(seq, 10, 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	return &types.Cursor{Timestamp: t, Sequence: sq}
}

func (s *Server) subscribeMessage(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimit(w, r, Public) {
		return
	}
	sessionID := r.URL.Query().Get("sessionID")
	if sessionID == "" {
		writeErr(w, apperr.New(apperr.InvariantViolated, "sessionID required"))
		return
	}
	replayLast := 0
	if v := r.URL.Query().Get("replayLast"); v != "" {
		replayLast, _ = strconv.Atoi(v)
	}
	sub, replay, err := s.router.Message.Subscribe(r.Context(), MessageSubscribeInput{SessionID: sessionID, ReplayLast: replayLast})
	if err != nil {
		writeErr(w, err)
		return
	}
	defer sub.Close()
	s.streamSSE(w, r, sub.Events, replay)
}

func (s *Server) subscribeEvents(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimit(w, r, Public) {
		return
	}
	pattern := r.URL.Query().Get("pattern")
	sub, replay, err := s.router.Events.Subscribe(r.Context(), PatternSubscribeInput{Pattern: pattern, FromCursor: cursorFromQuery(r)})
	if err != nil {
		writeErr(w, err)
		return
	}
	defer sub.Close()
	s.streamSSE(w, r, sub.Events, replay)
}

// streamSSE drives an SSE response from a replay slice followed by a live
// event channel, with a heartbeat ticker keeping idle connections (and any
// intermediate proxy) alive. Grounded on the teacher's allEvents/
// sessionEvents handlers.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, live <-chan types.Event, replay []types.Event) {
	sseHeaders(w)
	sse, err := newSSEWriter(w)
	if err != nil {
		writeErr(w, apperr.Wrap(apperr.InvariantViolated, "streaming not supported", err))
		return
	}
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	for _, ev := range replay {
		if err := sse.writeEvent(ev); err != nil {
			return
		}
	}

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if err := sse.writeEvent(ev); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}
