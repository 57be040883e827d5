package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/roach88/wardsync/internal/remote"
)

// Server serves a MemoryBackend over HTTP.
type Server struct {
	backend  *remote.MemoryBackend
	token    string
	router   chi.Router
	upgrader websocket.Upgrader
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithToken requires "Authorization: Bearer <token>" on every /v1 route.
func WithToken(token string) ServerOption {
	return func(s *Server) { s.token = token }
}

// NewServer creates a server for backend.
func NewServer(backend *remote.MemoryBackend, opts ...ServerOption) *Server {
	s := &Server{
		backend: backend,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/health", s.handleHealth)
		r.Post("/mutations", s.handleMutation)
		r.Get("/subscribe", s.handleSubscribe)
		r.Get("/docs/{collection}", s.handleDocs)
		r.Put("/admin/offline", s.handleOffline)
	})
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeJSON(w, http.StatusUnauthorized, errorBody{
				Kind:  remote.KindPermanent,
				Code:  remote.CodePermissionDenied,
				Error: "missing or invalid bearer token",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Probe(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMutation(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var m remote.Mutation
	if err := dec.Decode(&m); err != nil {
		writeError(w, remote.Permanent(remote.CodeInvalid, fmt.Errorf("decode mutation: %w", err)))
		return
	}
	if key := r.Header.Get(IdempotencyHeader); key != "" {
		if m.IdempotencyKey != "" && m.IdempotencyKey != key {
			writeError(w, remote.Permanent(remote.CodeInvalid, errors.New("idempotency key header does not match body")))
			return
		}
		m.IdempotencyKey = key
	}

	if err := s.backend.ApplyMutation(r.Context(), m); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	docs := s.backend.Docs(chi.URLParam(r, "collection"))
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleOffline(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Offline bool `json:"offline"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, remote.Permanent(remote.CodeInvalid, fmt.Errorf("decode body: %w", err)))
		return
	}
	s.backend.SetOffline(body.Offline)
	slog.Info("remote availability changed", "event", "remote_offline", "offline", body.Offline)
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the response.
		slog.Debug("websocket upgrade failed", "event", "ws_upgrade_error", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := newOutbox()
	sub, err := s.backend.Subscribe(ctx, q, out)
	if err != nil {
		out.OnError(err)
		out.close()
	} else {
		defer sub.Close()
	}

	// The client never sends frames; reading detects the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		msg, ok := out.next(ctx)
		if !ok {
			return
		}
		data, err := json.Marshal(msg)
		if err != nil {
			slog.Error("encode stream message", "event", "ws_encode_error", "error", err)
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func parseQuery(r *http.Request) (remote.Query, error) {
	v := r.URL.Query()
	q := remote.Query{
		Collection: v.Get("collection"),
		Field:      v.Get("field"),
	}
	if q.Collection == "" {
		return q, remote.Permanent(remote.CodeInvalid, errors.New("collection is required"))
	}
	if raw := v.Get("value"); raw != "" {
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&q.Value); err != nil {
			return q, remote.Permanent(remote.CodeInvalid, fmt.Errorf("decode value: %w", err))
		}
	}
	if raw := v.Get("deleted"); raw != "" {
		deleted, err := strconv.ParseBool(raw)
		if err != nil {
			return q, remote.Permanent(remote.CodeInvalid, fmt.Errorf("parse deleted: %w", err))
		}
		q.Deleted = deleted
	}
	return q, nil
}

// outbox is the sink behind one websocket: the backend enqueues, the
// handler goroutine drains in order.
type outbox struct {
	mu     sync.Mutex
	msgs   []streamMessage
	closed bool
	signal chan struct{}
}

func newOutbox() *outbox {
	return &outbox{signal: make(chan struct{}, 1)}
}

func (o *outbox) push(m streamMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.msgs = append(o.msgs, m)
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *outbox) OnBatch(b remote.Batch) {
	o.push(streamMessage{Type: "batch", Batch: &b})
}

func (o *outbox) OnError(err error) {
	c := remote.Classify(err)
	o.push(streamMessage{Type: "error", Code: c.Code, Error: err.Error()})
}

// close stops accepting messages; queued ones are still drained.
func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.signal)
	}
}

// next blocks for the next message. It returns false once ctx is done or
// the outbox is closed and empty.
func (o *outbox) next(ctx context.Context) (streamMessage, bool) {
	for {
		o.mu.Lock()
		if len(o.msgs) > 0 {
			m := o.msgs[0]
			o.msgs[0] = streamMessage{}
			o.msgs = o.msgs[1:]
			o.mu.Unlock()
			return m, true
		}
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return streamMessage{}, false
		}

		select {
		case <-ctx.Done():
			return streamMessage{}, false
		case <-o.signal:
		}
	}
}

func writeError(w http.ResponseWriter, err error) {
	c := remote.Classify(err)
	writeJSON(w, statusFor(c.Code), errorBody{Kind: c.Kind, Code: c.Code, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "event", "http_write_error", "error", err)
	}
}
