package mcp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// HTTPHandler serves a Server over HTTP. Each POST carries one JSON-RPC message; the reply
// is written as application/json, or as a single SSE "message" event when the request's
// Accept header lists text/event-stream. Notifications are acknowledged with 202 and an
// empty body.
//
// Sessions are tracked with the Mcp-Session-Id header. A POST without the header runs in a
// fresh session; if that request started a handshake the session is kept and its id
// returned in the header, otherwise it is discarded. Sessions idle for longer than the
// session TTL expire and are closed, and a DELETE closes one explicitly.
//
// HTTPHandler must be created with NewHTTPHandler and released with Shutdown.
type HTTPHandler struct {
	server   *Server
	sessions *cache.Cache
	logger   *slog.Logger

	sessionTTL  time.Duration
	maxBodySize int64
}

// HTTPHandlerOption represents the options for the HTTPHandler.
type HTTPHandlerOption func(*HTTPHandler)

const (
	defaultSessionTTL  = 30 * time.Minute
	defaultMaxBodySize = 4 << 20
)

// WithSessionTTL sets how long an idle session is kept. Every request on a session
// restarts its TTL.
func WithSessionTTL(ttl time.Duration) HTTPHandlerOption {
	return func(h *HTTPHandler) {
		h.sessionTTL = ttl
	}
}

// WithMaxBodySize limits the size of a request body. Larger bodies are rejected with 413.
func WithMaxBodySize(size int64) HTTPHandlerOption {
	return func(h *HTTPHandler) {
		h.maxBodySize = size
	}
}

// WithHTTPHandlerLogger sets the logger for the handler.
func WithHTTPHandlerLogger(logger *slog.Logger) HTTPHandlerOption {
	return func(h *HTTPHandler) {
		h.logger = logger
	}
}

// NewHTTPHandler creates a handler dispatching to server.
func NewHTTPHandler(server *Server, options ...HTTPHandlerOption) *HTTPHandler {
	h := &HTTPHandler{
		server:      server,
		logger:      slog.Default(),
		sessionTTL:  defaultSessionTTL,
		maxBodySize: defaultMaxBodySize,
	}
	for _, opt := range options {
		opt(h)
	}

	cleanup := h.sessionTTL / 2
	if cleanup < time.Second {
		cleanup = time.Second
	}
	h.sessions = cache.New(h.sessionTTL, cleanup)
	h.sessions.OnEvicted(func(id string, v any) {
		sess, ok := v.(*Session)
		if !ok {
			return
		}
		sess.Close()
		h.logger.Debug("session removed", slog.String("session", id))
	})

	return h
}

// ServeHTTP implements http.Handler.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.Header().Set("Allow", strings.Join([]string{http.MethodPost, http.MethodDelete}, ", "))
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// SessionCount returns the number of live sessions.
func (h *HTTPHandler) SessionCount() int {
	return h.sessions.ItemCount()
}

// Shutdown closes every live session. Requests arriving afterwards with a session id are
// answered with 404.
func (h *HTTPHandler) Shutdown() {
	for id := range h.sessions.Items() {
		h.sessions.Delete(id)
	}
}

func (h *HTTPHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	sess, known := h.lookupSession(r)
	if sess == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		nErr := fmt.Errorf("failed to read body: %w", err)
		h.logger.Warn("failed to read body", slog.String("err", nErr.Error()))
		http.Error(w, nErr.Error(), http.StatusBadRequest)
		return
	}

	reply := h.server.Dispatch(r.Context(), sess, body)

	switch state := sess.State(); {
	case known && state != SessionClosed:
		// Restart the idle timer.
		h.sessions.Set(sess.ID(), sess, cache.DefaultExpiration)
		w.Header().Set(headerSessionID, sess.ID())
	case !known && state != SessionUnstarted && state != SessionClosed:
		h.sessions.Set(sess.ID(), sess, cache.DefaultExpiration)
		w.Header().Set(headerSessionID, sess.ID())
		h.logger.Debug("session created", slog.String("session", sess.ID()))
	}

	if reply == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if acceptsEventStream(r) {
		if err := writeSSEReply(w, r, reply); err != nil {
			h.logger.Error("failed to write SSE reply", slog.String("err", err.Error()))
		}
		return
	}

	w.Header().Set("Content-Type", mediaTypeJSON)
	if _, err := w.Write(reply); err != nil {
		h.logger.Error("failed to write reply", slog.String("err", err.Error()))
	}
}

func (h *HTTPHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(headerSessionID)
	if id == "" {
		http.Error(w, "missing "+headerSessionID+" header", http.StatusBadRequest)
		return
	}
	if _, ok := h.sessions.Get(id); !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	h.sessions.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}

// lookupSession resolves the session of r. It returns a new ephemeral session when r has no
// session header, and nil when the header names a session that does not exist.
func (h *HTTPHandler) lookupSession(r *http.Request) (*Session, bool) {
	id := r.Header.Get(headerSessionID)
	if id == "" {
		return NewSession(uuid.New().String()), false
	}

	v, ok := h.sessions.Get(id)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*Session)
	if !ok {
		return nil, false
	}
	return sess, true
}

func acceptsEventStream(r *http.Request) bool {
	for _, accept := range r.Header.Values("Accept") {
		if strings.Contains(accept, mediaTypeSSE) {
			return true
		}
	}
	return false
}
